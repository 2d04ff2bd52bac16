// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("Validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateModelSettings,
		validateCaptureSettings,
		validateDetectionSettings,
		validateAlertSettings,
		validateHistorySettings,
		validateMetricsSettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateModelSettings(s *Settings) []string {
	var errs []string
	m := &s.Model
	if m.Path == "" && m.URL == "" {
		errs = append(errs, "model: either path or url must be set")
	}
	if m.URL != "" {
		if u, err := url.Parse(m.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			errs = append(errs, fmt.Sprintf("model: url must be http or https, got %q", m.URL))
		}
	}
	if m.Threads < 0 {
		errs = append(errs, "model: threads cannot be negative")
	}
	if m.EmbeddingSize <= 0 {
		errs = append(errs, "model: embeddingsize must be positive")
	}
	if m.FetchTimeout < 0 {
		errs = append(errs, "model: fetchtimeout cannot be negative")
	}
	return errs
}

func validateCaptureSettings(s *Settings) []string {
	var errs []string
	c := &s.Capture
	if c.SampleRate < 8000 || c.SampleRate > 384000 {
		errs = append(errs, fmt.Sprintf("capture: samplerate %d out of range 8000-384000", c.SampleRate))
	}
	if c.Channels < 1 || c.Channels > 2 {
		errs = append(errs, fmt.Sprintf("capture: channels must be 1 or 2, got %d", c.Channels))
	}
	if c.BufferMs <= 0 {
		errs = append(errs, "capture: bufferms must be positive")
	}
	if c.ChunkFrames <= 0 {
		errs = append(errs, "capture: chunkframes must be positive")
	}
	return errs
}

func validateDetectionSettings(s *Settings) []string {
	var errs []string
	d := &s.Detection

	if d.TargetRate <= 0 {
		errs = append(errs, "detection: targetrate must be positive")
	}
	if d.WindowSize <= 0 {
		errs = append(errs, "detection: windowsize must be positive")
	}
	if d.TriggerSamples <= 0 || d.TriggerSamples > d.WindowSize {
		errs = append(errs, fmt.Sprintf("detection: triggersamples must be in 1..windowsize, got %d", d.TriggerSamples))
	}
	if d.QueueSize < 1 {
		errs = append(errs, "detection: queuesize must be at least 1")
	}
	if d.DistanceRange <= 0 {
		errs = append(errs, "detection: distancerange must be positive")
	}
	if d.TopK < 1 {
		errs = append(errs, "detection: topk must be at least 1")
	}

	unit := map[string]float64{
		"strongvetofloor": d.StrongVetoFloor,
		"weakvetofloor":   d.WeakVetoFloor,
		"weakvetopenalty": d.WeakVetoPenalty,
		"alertthreshold":  d.AlertThreshold,
	}
	for name, v := range unit {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("detection: %s must be between 0 and 1, got %g", name, v))
		}
	}
	// cosine similarity range
	if d.VerifyThreshold < -1 || d.VerifyThreshold > 1 {
		errs = append(errs, fmt.Sprintf("detection: verifythreshold must be between -1 and 1, got %g", d.VerifyThreshold))
	}

	if len(d.Gunshot.Labels) == 0 {
		errs = append(errs, "detection: gunshot.labels cannot be empty")
	}
	if len(d.Chainsaw.Labels) == 0 {
		errs = append(errs, "detection: chainsaw.labels cannot be empty")
	}
	if strings.TrimSpace(d.Gunshot.Display) == "" || strings.TrimSpace(d.Chainsaw.Display) == "" {
		errs = append(errs, "detection: category display names cannot be empty")
	}
	return errs
}

func validateAlertSettings(s *Settings) []string {
	var errs []string
	a := &s.Alerts
	if a.Cooldown < 0 {
		errs = append(errs, "alerts: cooldown cannot be negative")
	}
	if a.RateInterval <= 0 {
		errs = append(errs, "alerts: rateinterval must be positive")
	}
	if a.Burst < 1 {
		errs = append(errs, "alerts: burst must be at least 1")
	}
	if a.MQTT.Enabled {
		if a.MQTT.Broker == "" {
			errs = append(errs, "alerts: mqtt.broker is required when mqtt is enabled")
		}
		if a.MQTT.Topic == "" {
			errs = append(errs, "alerts: mqtt.topic is required when mqtt is enabled")
		}
		if a.MQTT.QoS < 0 || a.MQTT.QoS > 2 {
			errs = append(errs, fmt.Sprintf("alerts: mqtt.qos must be 0, 1 or 2, got %d", a.MQTT.QoS))
		}
	}
	if a.Push.Enabled && len(a.Push.URLs) == 0 {
		errs = append(errs, "alerts: push.urls is required when push is enabled")
	}
	return errs
}

func validateHistorySettings(s *Settings) []string {
	h := &s.History
	if !h.Enabled {
		return nil
	}
	if h.SlowQuery < 0 {
		return []string{"history: slowquery must not be negative"}
	}
	switch h.Type {
	case HistoryTypeSQLite:
		if h.SQLite.Path == "" {
			return []string{"history: sqlite.path is required"}
		}
	case HistoryTypeMySQL:
		if h.MySQL.Host == "" || h.MySQL.Database == "" {
			return []string{"history: mysql.host and mysql.database are required"}
		}
	default:
		return []string{fmt.Sprintf("history: type must be sqlite or mysql, got %q", h.Type)}
	}
	return nil
}

func validateMetricsSettings(s *Settings) []string {
	m := &s.Metrics
	if !m.Enabled {
		return nil
	}
	var errs []string
	if m.Path == "" {
		errs = append(errs, "metrics: path is required when metrics are enabled")
	}
	if m.Interval < time.Second {
		errs = append(errs, "metrics: interval must be at least 1s")
	}
	return errs
}
