// Package alerts turns flagged detection states into alerts and delivers
// them to sinks. A per-category cooldown and a global rate limit keep a
// sustained threat from flooding the sinks.
package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/threatwatch/internal/logger"
	"github.com/tphakala/threatwatch/internal/prototype"
)

var (
	log     logger.Logger
	logOnce sync.Once
)

// GetLogger returns the alerts package logger.
func GetLogger() logger.Logger {
	logOnce.Do(func() {
		log = logger.Global().Module("alerts")
	})
	return log
}

// Alert is one raised threat
type Alert struct {
	ID        string             `json:"id"`
	Category  prototype.Category `json:"category"`
	Label     string             `json:"label"`
	Score     float64            `json:"score"`
	Verified  bool               `json:"verified"`
	Vetoed    bool               `json:"vetoed,omitempty"`
	Volume    float64            `json:"volume"`
	Distance  float64            `json:"distance"`
	Direction float64            `json:"direction"`
	SessionID string             `json:"session_id"`
	Cycle     uint64             `json:"cycle"`
	Time      time.Time          `json:"time"`
}

// Title is a short human-readable headline.
func (a Alert) Title() string {
	return fmt.Sprintf("Threat detected: %s", a.Label)
}

// Message is the notification body.
func (a Alert) Message() string {
	return fmt.Sprintf("%s at %s, score %.2f, distance %.2f, direction %+.2f",
		a.Label, a.Time.Format(time.RFC3339), a.Score, a.Distance, a.Direction)
}

// Sink delivers alerts somewhere
type Sink interface {
	Name() string
	Send(ctx context.Context, a Alert) error
}

// Recorder persists delivered alerts, see the history package.
type Recorder interface {
	Record(ctx context.Context, a Alert) error
}

// LogSink writes alerts to the structured logger
type LogSink struct {
	log logger.Logger
}

// NewLogSink returns a sink logging through lg, or the package logger when nil.
func NewLogSink(lg logger.Logger) *LogSink {
	if lg == nil {
		lg = GetLogger()
	}
	return &LogSink{log: lg}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, a Alert) error {
	s.log.Warn("threat alert",
		logger.String("alert_id", a.ID),
		logger.String("category", string(a.Category)),
		logger.String("label", a.Label),
		logger.Float64("score", a.Score),
		logger.Bool("verified", a.Verified),
		logger.Float64("distance", a.Distance),
		logger.Float64("direction", a.Direction),
		logger.String("session_id", a.SessionID))
	return nil
}
