package mission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kulinotech/starhabit/internal/dates"
	"github.com/kulinotech/starhabit/internal/model"
	"github.com/kulinotech/starhabit/internal/recurrence"
	"github.com/kulinotech/starhabit/internal/store"
)

// defaultBackfillDays bounds how far back a catch-up scan reaches when the
// app has not run for a long time. Older misses are forgiven rather than
// dumped on the family as a wall of failures.
const defaultBackfillDays = 7

// CheckInput is everything a missed-occurrence scan needs. It is assembled
// by Scheduler.Run but can be built by hand in tests.
type CheckInput struct {
	// Children scopes the scan: assignments pointing at ids not in this
	// list are ignored, so a deleted child never accrues failures.
	Children []model.Child

	Tasks []model.Task

	// Logs must cover at least the scan window; they are used to skip
	// occurrences that already have an outcome.
	Logs []model.TaskLog

	// LastChecked is the date key of the last fully scanned day, empty on
	// first run.
	LastChecked string

	Now time.Time
}

// CheckResult is the outcome of a scan. Nothing has been written yet.
type CheckResult struct {
	Failed       []store.FailedItem
	ResetTaskIDs []int64

	// Watermark is the date key the next scan should resume after.
	Watermark string
}

type occurrenceKey struct {
	childID int64
	taskID  int64
	day     string
}

// CheckMissed finds every scheduled occurrence between the watermark and
// yesterday that never got a log, plus today's occurrences whose expiry
// cutoff has already passed. Pure: same input, same result, no clock reads.
func CheckMissed(in CheckInput) CheckResult {
	today := dates.StartOfDay(in.Now)

	start := today.AddDate(0, 0, -defaultBackfillDays)
	if in.LastChecked != "" {
		if t, err := dates.ParseKey(in.LastChecked); err == nil {
			if next := t.AddDate(0, 0, 1); next.After(start) {
				start = next
			}
		}
	}

	seen := make(map[occurrenceKey]struct{}, len(in.Logs))
	for _, l := range in.Logs {
		k := occurrenceKey{l.ChildID, l.TaskID, dates.Key(l.CompletedAt.In(in.Now.Location()))}
		seen[k] = struct{}{}
	}

	children := make(map[int64]struct{}, len(in.Children))
	for _, c := range in.Children {
		children[c.ID] = struct{}{}
	}

	var res CheckResult
	resetSet := make(map[int64]struct{})

	fail := func(task model.Task, childID int64, day time.Time) {
		if _, exists := children[childID]; !exists {
			return
		}
		k := occurrenceKey{childID, task.ID, dates.Key(day)}
		if _, done := seen[k]; done {
			return
		}
		seen[k] = struct{}{}
		res.Failed = append(res.Failed, store.FailedItem{ChildID: childID, TaskID: task.ID, Day: day})
		if _, ok := resetSet[task.ID]; !ok {
			resetSet[task.ID] = struct{}{}
			res.ResetTaskIDs = append(res.ResetTaskIDs, task.ID)
		}
	}

	for day := start; day.Before(today); day = day.AddDate(0, 0, 1) {
		for _, task := range in.Tasks {
			// A task with no rule has no schedule to miss; the parse
			// fallback to Daily is for malformed rules, not absent ones.
			if !task.Active || task.RecurrenceRule == "" || !DueOn(task, day) {
				continue
			}
			for _, childID := range task.AssignedTo {
				fail(task, childID, day)
			}
		}
	}

	// Today's occurrences fail early when their cutoff has passed, so a
	// "before 20:00" mission shows up as missed at 20:05 instead of at the
	// next midnight scan.
	for _, task := range in.Tasks {
		if !task.Active || task.RecurrenceRule == "" || task.ExpiryTime == "" {
			continue
		}
		cutoff, err := dates.ParseClock(task.ExpiryTime)
		if err != nil || dates.MinutesOfDay(in.Now) <= cutoff {
			continue
		}
		if !DueOn(task, today) {
			continue
		}
		for _, childID := range task.AssignedTo {
			fail(task, childID, today)
		}
	}

	res.Watermark = dates.Key(today.AddDate(0, 0, -1))
	if in.LastChecked > res.Watermark {
		res.Watermark = in.LastChecked
	}
	return res
}

// Scheduler runs missed-occurrence scans against the stores and maintains
// streaks and due dates as verifications come in.
type Scheduler struct {
	logs     *store.LogStore
	tasks    *store.TaskStore
	children *store.ChildStore
	settings *store.SettingsStore
	logger   *slog.Logger
	now      func() time.Time

	// OnFailed, when set, is called with the logs a run created. The server
	// hooks it to the websocket hub so open dashboards refresh.
	OnFailed func([]model.TaskLog)
}

func NewScheduler(logs *store.LogStore, tasks *store.TaskStore, children *store.ChildStore, settings *store.SettingsStore, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logs:     logs,
		tasks:    tasks,
		children: children,
		settings: settings,
		logger:   logger.With("component", "scheduler"),
		now:      time.Now,
	}
}

// Run executes one scan: load state, compute misses, persist failure logs,
// reset broken streaks and advance the watermark. Returns how many failure
// logs were written. Safe to call repeatedly; completed days are skipped via
// the watermark and per-day de-duplication.
func (s *Scheduler) Run(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	now := s.now()

	lastChecked, err := s.settings.LastMissedCheck()
	if err != nil {
		return 0, fmt.Errorf("load watermark: %w", err)
	}
	tasks, err := s.tasks.ListActive()
	if err != nil {
		return 0, fmt.Errorf("load tasks: %w", err)
	}
	children, err := s.children.List()
	if err != nil {
		return 0, fmt.Errorf("load children: %w", err)
	}
	windowStart := dates.StartOfDay(now).AddDate(0, 0, -defaultBackfillDays)
	logs, err := s.logs.ListSince(windowStart)
	if err != nil {
		return 0, fmt.Errorf("load logs: %w", err)
	}

	res := CheckMissed(CheckInput{
		Children:    children,
		Tasks:       tasks,
		Logs:        logs,
		LastChecked: lastChecked,
		Now:         now,
	})

	created, err := s.logs.CreateFailedBatch(res.Failed)
	if err != nil {
		return 0, fmt.Errorf("write failure logs: %w", err)
	}
	if err := s.tasks.ResetStreaks(res.ResetTaskIDs); err != nil {
		return 0, fmt.Errorf("reset streaks: %w", err)
	}
	if err := s.settings.SetLastMissedCheck(res.Watermark); err != nil {
		return 0, fmt.Errorf("advance watermark: %w", err)
	}

	s.logger.Info("missed-occurrence scan complete",
		"failed", len(created),
		"streaks_reset", len(res.ResetTaskIDs),
		"watermark", res.Watermark)

	if len(created) > 0 && s.OnFailed != nil {
		s.OnFailed(created)
	}
	return len(created), nil
}

// RecordVerified updates scheduling state after a log turns VERIFIED or
// EXCUSED: the streak advances (at most once per local day) and the task's
// next due date moves past today. One-shot tasks get their due date cleared,
// which retires them from scheduling.
func (s *Scheduler) RecordVerified(taskID int64, logID string) error {
	task, err := s.tasks.GetByID(taskID)
	if err != nil {
		return err
	}
	if task == nil {
		return nil
	}

	if err := s.incrementStreak(task, logID); err != nil {
		return err
	}

	next := recurrence.NextDueDateAt(task.RecurrenceRule, dates.Key(s.now()), s.now())
	if next != task.NextDueDate {
		if err := s.tasks.SetNextDueDate(taskID, next); err != nil {
			return fmt.Errorf("advance due date: %w", err)
		}
	}
	return nil
}

// incrementStreak bumps the streak unless another success already counted
// toward it today. Re-verifying or multiple completions of a repeatable
// task must not inflate the streak.
func (s *Scheduler) incrementStreak(task *model.Task, logID string) error {
	prior, err := s.logs.SuccessesOnDay(task.ID, s.now(), logID)
	if err != nil {
		return err
	}
	if prior > 0 {
		return nil
	}

	current := task.CurrentStreak + 1
	best := task.BestStreak
	if current > best {
		best = current
	}
	return s.tasks.SetStreak(task.ID, current, best)
}
