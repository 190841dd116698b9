package mission

import (
	"testing"
	"time"

	"github.com/kulinotech/starhabit/internal/dates"
	"github.com/kulinotech/starhabit/internal/model"
)

func logWith(status model.LogStatus) model.TaskLog {
	return model.TaskLog{ID: "x", ChildID: 10, TaskID: 1, Status: status, CompletedAt: testNow}
}

func TestComputeStatus(t *testing.T) {
	base := dailyTask(1, 10)

	tests := []struct {
		name string
		task func() model.Task
		logs []model.TaskLog
		now  time.Time
		want Status
	}{
		{
			name: "due with no logs",
			task: func() model.Task { return base },
			now:  testNow,
			want: StatusDue,
		},
		{
			name: "not due on off day",
			task: func() model.Task {
				t := base
				t.RecurrenceRule = "FREQ=WEEKLY;BYDAY=MO"
				return t
			},
			now:  testNow, // a Saturday
			want: StatusNotDue,
		},
		{
			name: "not due before creation",
			task: func() model.Task {
				t := base
				t.CreatedAt = testNow.AddDate(0, 0, 2)
				return t
			},
			now:  testNow,
			want: StatusNotDue,
		},
		{
			name: "pending log awaits verification",
			task: func() model.Task { return base },
			logs: []model.TaskLog{logWith(model.StatusPending)},
			now:  testNow,
			want: StatusAwaiting,
		},
		{
			name: "excuse request awaits decision",
			task: func() model.Task { return base },
			logs: []model.TaskLog{logWith(model.StatusPendingExcuse)},
			now:  testNow,
			want: StatusAwaiting,
		},
		{
			name: "verified at cap is done",
			task: func() model.Task { return base },
			logs: []model.TaskLog{logWith(model.StatusVerified)},
			now:  testNow,
			want: StatusDone,
		},
		{
			name: "excused counts as done",
			task: func() model.Task { return base },
			logs: []model.TaskLog{logWith(model.StatusExcused)},
			now:  testNow,
			want: StatusDone,
		},
		{
			name: "failed only day is expired",
			task: func() model.Task { return base },
			logs: []model.TaskLog{logWith(model.StatusFailed)},
			now:  testNow,
			want: StatusExpired,
		},
		{
			name: "rejected attempt frees the slot",
			task: func() model.Task { return base },
			logs: []model.TaskLog{logWith(model.StatusRejected)},
			now:  testNow,
			want: StatusDue,
		},
		{
			name: "past expiry cutoff with no attempt",
			task: func() model.Task {
				t := base
				t.ExpiryTime = "11:00"
				return t
			},
			now:  testNow, // noon
			want: StatusExpired,
		},
		{
			name: "before expiry cutoff still due",
			task: func() model.Task {
				t := base
				t.ExpiryTime = "20:00"
				return t
			},
			now:  testNow,
			want: StatusDue,
		},
		{
			name: "repeatable below cap stays due",
			task: func() model.Task {
				t := base
				t.MaxCompletionsPerDay = 3
				return t
			},
			logs: []model.TaskLog{logWith(model.StatusVerified)},
			now:  testNow,
			want: StatusDue,
		},
		{
			name: "repeatable at cap is exhausted",
			task: func() model.Task {
				t := base
				t.MaxCompletionsPerDay = 3
				return t
			},
			logs: []model.TaskLog{
				logWith(model.StatusVerified),
				logWith(model.StatusVerified),
				logWith(model.StatusVerified),
			},
			now:  testNow,
			want: StatusExhausted,
		},
		{
			name: "repeatable at cap with pending is awaiting",
			task: func() model.Task {
				t := base
				t.MaxCompletionsPerDay = 2
				return t
			},
			logs: []model.TaskLog{
				logWith(model.StatusVerified),
				logWith(model.StatusPending),
			},
			now:  testNow,
			want: StatusAwaiting,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ComputeStatus(tt.task(), tt.logs, tt.now); got != tt.want {
				t.Errorf("ComputeStatus() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDueOnOnce(t *testing.T) {
	task := dailyTask(1, 10)
	task.RecurrenceRule = "Once"

	task.NextDueDate = dates.Key(testNow)
	if !DueOn(task, testNow) {
		t.Error("one-shot task should be due on its due date")
	}
	if DueOn(task, testNow.AddDate(0, 0, 1)) {
		t.Error("one-shot task should not be due on other days")
	}

	task.NextDueDate = ""
	if DueOn(task, testNow) {
		t.Error("one-shot task without a due date is retired")
	}
}

func TestDueOnBiweekly(t *testing.T) {
	task := dailyTask(1, 10)
	task.RecurrenceRule = "FREQ=WEEKLY;INTERVAL=2;BYDAY=SA"
	task.CreatedAt = testNow.AddDate(0, 0, -14) // also a Saturday

	if !DueOn(task, testNow) {
		t.Error("anchor week parity should make today due")
	}
	if DueOn(task, testNow.AddDate(0, 0, -7)) {
		t.Error("the off week should not be due")
	}
}
