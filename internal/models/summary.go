package models

import "time"

// RunSummary aggregates the outcome of one pipeline run. A run always
// completes with a summary, even when every item failed.
type RunSummary struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	Discovered int `json:"discovered"`
	Skipped    int `json:"skipped"` // already terminal from an earlier run
	Kept       int `json:"kept"`
	Rejected   int `json:"rejected"`
	Failed     int `json:"failed"`

	SuccessRate     float64       `json:"success_rate"`
	AvgFetchLatency time.Duration `json:"avg_fetch_latency"`
	DuplicateGroups int           `json:"duplicate_groups"`

	// ErrorBreakdown counts failed items by failure class,
	// RejectionBreakdown counts rejected items by rejection reason.
	ErrorBreakdown     map[string]int `json:"error_breakdown,omitempty"`
	RejectionBreakdown map[string]int `json:"rejection_breakdown,omitempty"`
}

// Processed returns the number of items that reached a terminal state this run.
func (s *RunSummary) Processed() int {
	return s.Kept + s.Rejected + s.Failed
}
