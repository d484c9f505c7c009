package models

import "time"

type OperationKind string

const (
	OperationMark   OperationKind = "MARK"
	OperationUnmark OperationKind = "UNMARK"
)

// Opposite returns the kind that cancels k
func (k OperationKind) Opposite() OperationKind {
	if k == OperationMark {
		return OperationUnmark
	}
	return OperationMark
}

type OperationStatus string

const (
	StatusPending    OperationStatus = "PENDING"
	StatusInProgress OperationStatus = "IN_PROGRESS"
	StatusCompleted  OperationStatus = "COMPLETED"
	StatusFailed     OperationStatus = "FAILED"
)

// PendingOperation is a completion mutation not yet confirmed by the remote store
type PendingOperation struct {
	ID         string          `json:"id"`
	Kind       OperationKind   `json:"kind"`
	HabitID    string          `json:"habit_id"`
	Day        string          `json:"day"` // YYYY-MM-DD format
	Status     OperationStatus `json:"status"`
	RetryCount int             `json:"retry_count"`
	LastError  string          `json:"last_error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// Eligible reports whether the processor should attempt op on its next pass
func (op PendingOperation) Eligible(maxRetries int) bool {
	switch op.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return op.RetryCount < maxRetries
	}
	return false
}

// Abandoned reports whether op has exhausted its retry budget
func (op PendingOperation) Abandoned(maxRetries int) bool {
	return op.Status == StatusFailed && op.RetryCount >= maxRetries
}

// SameTarget reports whether op and other touch the same habit day
func (op PendingOperation) SameTarget(other PendingOperation) bool {
	return op.HabitID == other.HabitID && op.Day == other.Day
}
