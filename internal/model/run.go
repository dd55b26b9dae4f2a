package model

import "time"

// RunStatus represents the lifecycle state of a crawl run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunStopped   RunStatus = "stopped"
)

// String returns the string representation of the status.
func (s RunStatus) String() string {
	return string(s)
}

// IsValid checks whether the status is a known value.
func (s RunStatus) IsValid() bool {
	switch s {
	case RunRunning, RunCompleted, RunFailed, RunStopped:
		return true
	}
	return false
}

// Terminal reports whether the status permits no further graph mutation.
func (s RunStatus) Terminal() bool {
	return s != RunRunning
}

// Run is one crawl session over a target origin.
type Run struct {
	ID           string     `json:"id"`
	TargetOrigin string     `json:"target_origin"`
	StartURL     string     `json:"start_url"`
	Status       RunStatus  `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}
