package model

import "time"

// Task is a mission template. Tasks are never physically deleted; archiving
// sets Active to false so historical logs keep a valid reference.
type Task struct {
	ID             int64   `json:"id"`
	Name           string  `json:"name"`
	RewardValue    int     `json:"reward_value"`
	RecurrenceRule string  `json:"recurrence_rule"`
	Active         bool    `json:"is_active"`
	AssignedTo     []int64 `json:"assigned_to"`

	// NextDueDate is a local date key (YYYY-MM-DD). Used to schedule "Once"
	// tasks and carried forward when an occurrence is excused.
	NextDueDate string `json:"next_due_date,omitempty"`

	// ExpiryTime is an optional local "HH:MM" cutoff after which an
	// uncompleted occurrence counts as missed the same day.
	ExpiryTime string `json:"expiry_time,omitempty"`

	CurrentStreak int `json:"current_streak"`
	BestStreak    int `json:"best_streak"`

	// MaxCompletionsPerDay > 1 makes the task repeatable within one day.
	MaxCompletionsPerDay int `json:"max_completions_per_day"`

	// TotalTargetValue > 0 turns the task into a cumulative-progress
	// mission (e.g. "read 30 pages") instead of a single done action.
	TotalTargetValue int    `json:"total_target_value,omitempty"`
	TargetUnit       string `json:"target_unit,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsProgress reports whether the task accumulates progress toward a target.
func (t Task) IsProgress() bool {
	return t.TotalTargetValue > 0
}
