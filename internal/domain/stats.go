package domain

import "time"

// ProcessStats holds statistics about one schedule processing tick.
type ProcessStats struct {
	Scanned    int
	Fired      int
	Duplicates int
	Completed  int
	Errors     int
	Duration   time.Duration
}

// ExecuteStats holds statistics about one queue execution tick.
type ExecuteStats struct {
	Selected  int
	Completed int
	Failed    int
	Cancelled int
	Skipped   int
	Duration  time.Duration
}
