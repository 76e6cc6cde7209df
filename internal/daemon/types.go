package daemon

import "time"

// StartOptions configures the watch daemon.
type StartOptions struct {
	Home       string
	Port       int
	Interval   time.Duration // cycle interval, 0 = config default
	PprofAddr  string
	EnableOtel bool
}

// StatusInfo is the result of Status (running or not, PID, listen addr).
type StatusInfo struct {
	Running bool
	PID     int
	Addr    string
}
