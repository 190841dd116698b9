package mission

import (
	"time"

	"github.com/kulinotech/starhabit/internal/dates"
	"github.com/kulinotech/starhabit/internal/model"
	"github.com/kulinotech/starhabit/internal/recurrence"
)

type Status string

const (
	StatusDue       Status = "due"
	StatusDone      Status = "done"
	StatusAwaiting  Status = "awaiting_verification"
	StatusExpired   Status = "expired"
	StatusNotDue    Status = "not_due"
	StatusExhausted Status = "exhausted"
)

// TaskWithStatus is a task decorated with its state for one child on one day.
type TaskWithStatus struct {
	model.Task
	Status    Status          `json:"status"`
	ChildID   int64           `json:"child_id"`
	TodayLogs []model.TaskLog `json:"today_logs,omitempty"`
}

// DueOn reports whether the task has a scheduled occurrence for the given
// child on the given local day. One-shot tasks are scheduled purely by their
// stored due date; recurring tasks by their rule anchored at creation.
func DueOn(task model.Task, day time.Time) bool {
	rule := recurrence.Parse(task.RecurrenceRule)
	if rule.IsOnce() {
		return task.NextDueDate != "" && task.NextDueDate == dates.Key(day)
	}
	anchor := dates.StartOfDay(task.CreatedAt.In(day.Location()))
	if dates.DaysBetween(anchor, day) < 0 {
		return false
	}
	return recurrence.IsValidOn(dates.StartOfDay(day), rule, anchor)
}

// ComputeStatus determines how a task should appear for one child right now,
// given that child's logs for the current local day.
func ComputeStatus(task model.Task, todayLogs []model.TaskLog, now time.Time) Status {
	if !DueOn(task, now) {
		return StatusNotDue
	}

	var countable, succeeded, failed int
	awaiting := false
	for _, l := range todayLogs {
		switch l.Status {
		case model.StatusRejected:
			// rejected attempts free the slot for a retry
			continue
		case model.StatusInProgress, model.StatusPending, model.StatusPendingExcuse:
			awaiting = true
		case model.StatusVerified, model.StatusExcused:
			succeeded++
		case model.StatusFailed:
			failed++
		}
		countable++
	}

	maxPerDay := task.MaxCompletionsPerDay
	if maxPerDay < 1 {
		maxPerDay = 1
	}

	if countable >= maxPerDay {
		switch {
		case awaiting:
			return StatusAwaiting
		case succeeded == 0 && failed > 0:
			return StatusExpired
		case maxPerDay > 1:
			return StatusExhausted
		}
		return StatusDone
	}
	if awaiting {
		return StatusAwaiting
	}

	if task.ExpiryTime != "" {
		if cutoff, err := dates.ParseClock(task.ExpiryTime); err == nil {
			if dates.MinutesOfDay(now) > cutoff {
				return StatusExpired
			}
		}
	}

	return StatusDue
}
