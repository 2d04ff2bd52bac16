package history

import (
	"time"

	"github.com/tphakala/threatwatch/internal/alerts"
	"github.com/tphakala/threatwatch/internal/prototype"
)

// Incident is one persisted alert
type Incident struct {
	ID         uint   `gorm:"primaryKey"`
	AlertID    string `gorm:"size:36;uniqueIndex;not null"`
	Category   string `gorm:"size:32;index;not null"`
	Label      string `gorm:"size:128"`
	Score      float64
	Verified   bool
	Vetoed     bool
	Volume     float64
	Distance   float64
	Direction  float64
	SessionID  string `gorm:"size:36;index"`
	Cycle      uint64
	DetectedAt time.Time `gorm:"index"`
	CreatedAt  time.Time
}

func incidentFromAlert(a alerts.Alert) Incident {
	return Incident{
		AlertID:    a.ID,
		Category:   string(a.Category),
		Label:      a.Label,
		Score:      a.Score,
		Verified:   a.Verified,
		Vetoed:     a.Vetoed,
		Volume:     a.Volume,
		Distance:   a.Distance,
		Direction:  a.Direction,
		SessionID:  a.SessionID,
		Cycle:      a.Cycle,
		DetectedAt: a.Time,
	}
}

// Alert converts the row back into an alert.
func (i Incident) Alert() alerts.Alert {
	return alerts.Alert{
		ID:        i.AlertID,
		Category:  prototype.Category(i.Category),
		Label:     i.Label,
		Score:     i.Score,
		Verified:  i.Verified,
		Vetoed:    i.Vetoed,
		Volume:    i.Volume,
		Distance:  i.Distance,
		Direction: i.Direction,
		SessionID: i.SessionID,
		Cycle:     i.Cycle,
		Time:      i.DetectedAt,
	}
}
