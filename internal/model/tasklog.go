package model

import "time"

// LogStatus is the lifecycle state of one mission occurrence.
type LogStatus string

const (
	// StatusInProgress: progress task with a partial running value.
	StatusInProgress LogStatus = "IN_PROGRESS"
	// StatusPending: child marked the mission done, awaiting review.
	StatusPending LogStatus = "PENDING"
	// StatusVerified: terminal, reward paid.
	StatusVerified LogStatus = "VERIFIED"
	// StatusRejected: terminal, reason recorded; the child may retry.
	StatusRejected LogStatus = "REJECTED"
	// StatusFailed: terminal, written only by the scheduler; no reward.
	StatusFailed LogStatus = "FAILED"
	// StatusPendingExcuse: child asked to skip the occurrence.
	StatusPendingExcuse LogStatus = "PENDING_EXCUSE"
	// StatusExcused: terminal, skip approved; streak-preserving.
	StatusExcused LogStatus = "EXCUSED"
)

// Valid reports whether s is a known log status.
func (s LogStatus) Valid() bool {
	switch s {
	case StatusInProgress, StatusPending, StatusVerified, StatusRejected,
		StatusFailed, StatusPendingExcuse, StatusExcused:
		return true
	}
	return false
}

// Terminal reports whether the occurrence needs no further action.
func (s LogStatus) Terminal() bool {
	switch s {
	case StatusVerified, StatusRejected, StatusFailed, StatusExcused:
		return true
	}
	return false
}

// TaskLog records one occurrence attempt for a (child, task) pair.
// CompletedAt carries the occurrence's local-calendar timestamp and is the
// key used to bucket logs into a specific day.
type TaskLog struct {
	ID              string    `json:"id"`
	ChildID         int64     `json:"child_id"`
	TaskID          int64     `json:"task_id"`
	Status          LogStatus `json:"status"`
	RejectionReason string    `json:"rejection_reason,omitempty"`
	Notes           string    `json:"notes,omitempty"`
	CurrentValue    int       `json:"current_value,omitempty"`
	CompletedAt     time.Time `json:"completed_at"`
}

// VerificationRequest is a pending log joined with display context.
type VerificationRequest struct {
	TaskLog
	TaskName    string `json:"task_name"`
	RewardValue int    `json:"reward_value"`
	ChildName   string `json:"child_name"`
}
