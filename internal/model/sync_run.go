package model

import "time"

// SyncRun is the audit record of a single synchronization.
type SyncRun struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	DateFrom   time.Time `json:"date_from"`
	DateTo     time.Time `json:"date_to"`
	Error      string    `json:"error,omitempty"`
	ID         int64     `json:"id"`
	Scraped    int       `json:"scraped"`
	Saved      int       `json:"saved"`
	Deleted    int64     `json:"deleted"`
	Complete   bool      `json:"complete"`
}

// Succeeded reports whether the run finished without error.
func (r *SyncRun) Succeeded() bool {
	return r.Error == ""
}
