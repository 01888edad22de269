package models

// Defaults shared between config and the sync pipeline.
const (
	DefaultWorkerCount    = 5
	DefaultMaxAttempts    = 5
	DefaultRateLimitRPS   = 10
	DefaultRateLimitBurst = 5

	// DefaultTokenMargin is the minimum remaining validity, in seconds,
	// required of an access token before a call is made with it.
	DefaultTokenMargin = 300

	// Retention windows in hours. Completed jobs are pruned quickly; failed
	// jobs stay around for operator inspection.
	DefaultCompletedRetention = 24
	DefaultFailedRetention    = 14 * 24
)
