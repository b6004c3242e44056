package model

import "time"

// Run status constants.
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Network status constants.
const (
	NetworkActive  = "active"
	NetworkRemoved = "removed"
)

// Network is the persisted record of one network registration.
type Network struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Fragments int        `json:"fragments"`
	Status    string     `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	RemovedAt *time.Time `json:"removed_at,omitempty"`
}

// Run is the persisted record of one execution request. RunID is the
// numeric identifier allocated by the host manager; it is recorded when the
// completion callback fires. Outputs holds the JSON-encoded result bindings.
type Run struct {
	ID         string     `json:"id"`
	RunID      *uint64    `json:"run_id,omitempty"`
	Network    string     `json:"network"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Outputs    []byte     `json:"outputs,omitempty"`
	DurationMS *int64     `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}
