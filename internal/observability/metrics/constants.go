// Package metrics defines the Prometheus collectors for the detection
// pipeline and the alert dispatcher.
package metrics

// Status label values
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusDropped = "dropped"
)

// Suppression reasons for alerts
const (
	ReasonCooldown  = "cooldown"
	ReasonRateLimit = "rate_limit"
	ReasonQueueFull = "queue_full"
)

// State label values, mirroring the controller states
var pipelineStates = []string{"idle", "loading", "recording", "error"}
