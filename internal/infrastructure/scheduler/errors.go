package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when a trigger configuration is invalid
	ErrInvalidConfig = errors.New("invalid scheduler configuration")

	// ErrTriggerRunning is returned when starting a trigger twice
	ErrTriggerRunning = errors.New("trigger is already running")
)
