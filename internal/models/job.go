package models

import "time"

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobStatusIdle      JobStatus = "idle"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal reports whether the job has finished, successfully or not.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// RefreshState is an immutable snapshot of the bulk refresh job. Handlers
// receive copies; only the job runner mutates the live record, under lock.
type RefreshState struct {
	Status     JobStatus  `json:"status"`
	JobID      string     `json:"jobId,omitempty"`
	Current    int        `json:"current"`
	Total      int        `json:"total"`
	Success    int        `json:"success"`
	Failed     int        `json:"failed"`
	StartTime  *time.Time `json:"startTime,omitempty"`
	LastUpdate *time.Time `json:"lastUpdate,omitempty"`
	Error      string     `json:"error,omitempty"`
}

// Progress returns completion as a percentage, 0 when the total is unknown.
func (s RefreshState) Progress() float64 {
	if s.Total <= 0 {
		return 0
	}
	return float64(s.Current) / float64(s.Total) * 100
}

// ExtractState is a snapshot of one domain extraction job.
type ExtractState struct {
	JobID     string     `json:"jobId"`
	Domain    string     `json:"domain"`
	Status    JobStatus  `json:"status"`
	Progress  float64    `json:"progress"`
	Step      string     `json:"step"`
	Current   int        `json:"current"`
	Total     int        `json:"total"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
	Error     string     `json:"error,omitempty"`
}
