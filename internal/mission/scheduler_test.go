package mission

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/kulinotech/starhabit/internal/database"
	"github.com/kulinotech/starhabit/internal/dates"
	"github.com/kulinotech/starhabit/internal/model"
	"github.com/kulinotech/starhabit/internal/store"
)

// noon on a Saturday
var testNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.Local)

var testChildren = []model.Child{{ID: 10, Name: "Ada"}}

func dailyTask(id int64, childIDs ...int64) model.Task {
	return model.Task{
		ID:                   id,
		Name:                 "Daily mission",
		RecurrenceRule:       "FREQ=DAILY",
		Active:               true,
		AssignedTo:           childIDs,
		MaxCompletionsPerDay: 1,
		CreatedAt:            testNow.AddDate(0, 0, -30),
	}
}

func TestCheckMissedBackfillsSinceWatermark(t *testing.T) {
	task := dailyTask(1, 10)
	res := CheckMissed(CheckInput{
		Children:    testChildren,
		Tasks:       []model.Task{task},
		LastChecked: "2024-06-12",
		Now:         testNow,
	})

	// 06-13 and 06-14 were never scanned; today is not scanned.
	if len(res.Failed) != 2 {
		t.Fatalf("expected 2 failures, got %d: %+v", len(res.Failed), res.Failed)
	}
	days := map[string]bool{}
	for _, f := range res.Failed {
		if f.ChildID != 10 || f.TaskID != 1 {
			t.Errorf("failure = %+v", f)
		}
		days[dates.Key(f.Day)] = true
	}
	if !days["2024-06-13"] || !days["2024-06-14"] {
		t.Errorf("failed days = %v", days)
	}
	if res.Watermark != "2024-06-14" {
		t.Errorf("watermark = %q, want 2024-06-14", res.Watermark)
	}
	if len(res.ResetTaskIDs) != 1 || res.ResetTaskIDs[0] != 1 {
		t.Errorf("reset ids = %v", res.ResetTaskIDs)
	}
}

func TestCheckMissedSkipsLoggedDays(t *testing.T) {
	task := dailyTask(1, 10)
	logged := time.Date(2024, time.June, 14, 18, 30, 0, 0, time.Local)
	res := CheckMissed(CheckInput{
		Children:    testChildren,
		Tasks:       []model.Task{task},
		Logs:        []model.TaskLog{{ID: "x", ChildID: 10, TaskID: 1, Status: model.StatusVerified, CompletedAt: logged}},
		LastChecked: "2024-06-12",
		Now:         testNow,
	})

	if len(res.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(res.Failed))
	}
	if got := dates.Key(res.Failed[0].Day); got != "2024-06-13" {
		t.Errorf("failed day = %s, want 2024-06-13", got)
	}
}

func TestCheckMissedAnyOutcomeBlocksBackfill(t *testing.T) {
	// Even a FAILED log marks the day as handled; repeated scans must not
	// pile up duplicates.
	task := dailyTask(1, 10)
	logged := time.Date(2024, time.June, 13, 0, 0, 0, 0, time.Local)
	res := CheckMissed(CheckInput{
		Children:    testChildren,
		Tasks:       []model.Task{task},
		Logs:        []model.TaskLog{{ID: "x", ChildID: 10, TaskID: 1, Status: model.StatusFailed, CompletedAt: logged}},
		LastChecked: "2024-06-12",
		Now:         testNow,
	})
	for _, f := range res.Failed {
		if dates.Key(f.Day) == "2024-06-13" {
			t.Error("already-failed day was failed again")
		}
	}
}

func TestCheckMissedDefaultWindow(t *testing.T) {
	task := dailyTask(1, 10)
	res := CheckMissed(CheckInput{
		Children: testChildren,
		Tasks:    []model.Task{task},
		Now:      testNow,
	})

	// No watermark: scan the last seven days, not the whole task history.
	if len(res.Failed) != defaultBackfillDays {
		t.Errorf("expected %d failures, got %d", defaultBackfillDays, len(res.Failed))
	}
}

func TestCheckMissedHonorsCreationDate(t *testing.T) {
	task := dailyTask(1, 10)
	task.CreatedAt = testNow.AddDate(0, 0, -1)
	res := CheckMissed(CheckInput{
		Children: testChildren,
		Tasks:    []model.Task{task},
		Now:      testNow,
	})

	if len(res.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(res.Failed))
	}
	if got := dates.Key(res.Failed[0].Day); got != "2024-06-14" {
		t.Errorf("failed day = %s", got)
	}
}

func TestCheckMissedWeeklyOnlyOnScheduledDays(t *testing.T) {
	task := dailyTask(1, 10)
	task.RecurrenceRule = "FREQ=WEEKLY;BYDAY=MO"
	res := CheckMissed(CheckInput{
		Children: testChildren,
		Tasks:    []model.Task{task},
		Now:      testNow,
	})

	// The only Monday in the 06-08..06-14 window is 06-10.
	if len(res.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %d: %+v", len(res.Failed), res.Failed)
	}
	if got := dates.Key(res.Failed[0].Day); got != "2024-06-10" {
		t.Errorf("failed day = %s, want 2024-06-10", got)
	}
}

func TestCheckMissedOnceByDueDate(t *testing.T) {
	task := dailyTask(1, 10)
	task.RecurrenceRule = "Once"
	task.NextDueDate = "2024-06-13"
	res := CheckMissed(CheckInput{
		Children:    testChildren,
		Tasks:       []model.Task{task},
		LastChecked: "2024-06-11",
		Now:         testNow,
	})

	if len(res.Failed) != 1 {
		t.Fatalf("expected 1 failure, got %d", len(res.Failed))
	}
	if got := dates.Key(res.Failed[0].Day); got != "2024-06-13" {
		t.Errorf("failed day = %s, want 2024-06-13", got)
	}
}

func TestCheckMissedExpiryCutoff(t *testing.T) {
	task := dailyTask(1, 10)
	task.ExpiryTime = "20:00"

	// Before the cutoff today's occurrence is still open.
	early := time.Date(2024, time.June, 15, 19, 59, 0, 0, time.Local)
	res := CheckMissed(CheckInput{
		Children:    testChildren,
		Tasks:       []model.Task{task},
		LastChecked: "2024-06-14",
		Now:         early,
	})
	if len(res.Failed) != 0 {
		t.Fatalf("before cutoff: expected no failures, got %+v", res.Failed)
	}

	// Five minutes past the cutoff it counts as missed.
	late := time.Date(2024, time.June, 15, 20, 5, 0, 0, time.Local)
	res = CheckMissed(CheckInput{
		Children:    testChildren,
		Tasks:       []model.Task{task},
		LastChecked: "2024-06-14",
		Now:         late,
	})
	if len(res.Failed) != 1 {
		t.Fatalf("after cutoff: expected 1 failure, got %d", len(res.Failed))
	}
	if got := dates.Key(res.Failed[0].Day); got != "2024-06-15" {
		t.Errorf("failed day = %s, want today", got)
	}

	// A second scan the same evening sees the failure log and stays quiet.
	res = CheckMissed(CheckInput{
		Children:    testChildren,
		Tasks:       []model.Task{task},
		Logs:        []model.TaskLog{{ID: "x", ChildID: 10, TaskID: 1, Status: model.StatusFailed, CompletedAt: late}},
		LastChecked: "2024-06-14",
		Now:         late.Add(10 * time.Minute),
	})
	if len(res.Failed) != 0 {
		t.Errorf("repeat scan: expected no failures, got %+v", res.Failed)
	}
}

func TestCheckMissedIgnoresInactiveTasks(t *testing.T) {
	task := dailyTask(1, 10)
	task.Active = false
	res := CheckMissed(CheckInput{
		Children:    testChildren,
		Tasks:       []model.Task{task},
		LastChecked: "2024-06-12",
		Now:         testNow,
	})
	if len(res.Failed) != 0 {
		t.Errorf("inactive task produced failures: %+v", res.Failed)
	}
}

func TestCheckMissedOnlyExistingChildren(t *testing.T) {
	// The assignment list can point at a child that no longer exists;
	// failures must only accrue to children in the scan input.
	task := dailyTask(1, 10, 11)
	res := CheckMissed(CheckInput{
		Children:    testChildren,
		Tasks:       []model.Task{task},
		LastChecked: "2024-06-12",
		Now:         testNow,
	})

	if len(res.Failed) != 2 {
		t.Fatalf("expected 2 failures, got %d: %+v", len(res.Failed), res.Failed)
	}
	for _, f := range res.Failed {
		if f.ChildID != 10 {
			t.Errorf("failure for unknown child: %+v", f)
		}
	}
}

func TestCheckMissedSkipsRulelessTasks(t *testing.T) {
	// An empty rule means no schedule at all. The codec's fallback to
	// Daily covers malformed rules; it must not put ruleless tasks on a
	// daily cadence.
	task := dailyTask(1, 10)
	task.RecurrenceRule = ""
	task.ExpiryTime = "09:00"
	res := CheckMissed(CheckInput{
		Children:    testChildren,
		Tasks:       []model.Task{task},
		LastChecked: "2024-06-12",
		Now:         testNow,
	})
	if len(res.Failed) != 0 {
		t.Errorf("ruleless task was backfilled: %+v", res.Failed)
	}
}

func TestCheckMissedWatermarkNeverMovesBack(t *testing.T) {
	res := CheckMissed(CheckInput{
		LastChecked: "2024-06-20",
		Now:         testNow,
	})
	if res.Watermark != "2024-06-20" {
		t.Errorf("watermark = %q, want 2024-06-20", res.Watermark)
	}
}

type schedulerTestEnv struct {
	sched    *Scheduler
	logs     *store.LogStore
	tasks    *store.TaskStore
	settings *store.SettingsStore
	children *store.ChildStore
	child    *model.Child
	task     *model.Task
}

func setupSchedulerTest(t *testing.T) *schedulerTestEnv {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	env := &schedulerTestEnv{
		logs:     store.NewLogStore(db),
		tasks:    store.NewTaskStore(db),
		settings: store.NewSettingsStore(db),
		children: store.NewChildStore(db),
	}

	env.child, err = env.children.Create("Ada", "", "")
	if err != nil {
		t.Fatalf("create child: %v", err)
	}
	env.task, err = env.tasks.Create(model.Task{
		Name: "Feed the cat", RewardValue: 5, RecurrenceRule: "FREQ=DAILY",
		Active: true, AssignedTo: []int64{env.child.ID}, MaxCompletionsPerDay: 1,
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	// Backdate the task so past days are in scope.
	created := time.Now().AddDate(0, 0, -30).UTC()
	if _, err := db.Exec(`UPDATE tasks SET created_at = ? WHERE id = ?`, created, env.task.ID); err != nil {
		t.Fatalf("backdate task: %v", err)
	}

	env.sched = NewScheduler(env.logs, env.tasks, env.children, env.settings, slog.Default())
	return env
}

func TestSchedulerRunPersistsFailures(t *testing.T) {
	env := setupSchedulerTest(t)

	env.tasks.SetStreak(env.task.ID, 6, 6)
	threeDaysAgo := dates.Key(dates.StartOfDay(time.Now()).AddDate(0, 0, -3))
	env.settings.SetLastMissedCheck(threeDaysAgo)

	var notified []model.TaskLog
	env.sched.OnFailed = func(logs []model.TaskLog) { notified = logs }

	failed, err := env.sched.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if failed != 2 {
		t.Fatalf("failed = %d, want 2", failed)
	}
	if len(notified) != 2 {
		t.Errorf("notified = %d logs, want 2", len(notified))
	}

	logs, _ := env.logs.ListRecent(10)
	if len(logs) != 2 {
		t.Fatalf("persisted logs = %d, want 2", len(logs))
	}
	for _, l := range logs {
		if l.Status != model.StatusFailed || l.RejectionReason != store.MissedReason {
			t.Errorf("log = %+v", l)
		}
	}

	task, _ := env.tasks.GetByID(env.task.ID)
	if task.CurrentStreak != 0 {
		t.Errorf("streak = %d, want 0 after misses", task.CurrentStreak)
	}
	if task.BestStreak != 6 {
		t.Errorf("best streak = %d, want 6", task.BestStreak)
	}

	watermark, _ := env.settings.LastMissedCheck()
	yesterday := dates.Key(dates.StartOfDay(time.Now()).AddDate(0, 0, -1))
	if watermark != yesterday {
		t.Errorf("watermark = %q, want %q", watermark, yesterday)
	}

	// A second run finds nothing new.
	failed, err = env.sched.Run(context.Background())
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if failed != 0 {
		t.Errorf("second run failed = %d, want 0", failed)
	}
}

func TestSchedulerRunSkipsDeletedChild(t *testing.T) {
	env := setupSchedulerTest(t)

	threeDaysAgo := dates.Key(dates.StartOfDay(time.Now()).AddDate(0, 0, -3))
	env.settings.SetLastMissedCheck(threeDaysAgo)

	if err := env.children.Delete(env.child.ID); err != nil {
		t.Fatalf("delete child: %v", err)
	}

	failed, err := env.sched.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if failed != 0 {
		t.Errorf("failed = %d, deleted child must not accrue failures", failed)
	}
	logs, _ := env.logs.ListRecent(10)
	if len(logs) != 0 {
		t.Errorf("persisted logs for a deleted child: %+v", logs)
	}
}

func TestSchedulerRunCancelled(t *testing.T) {
	env := setupSchedulerTest(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := env.sched.Run(ctx); err == nil {
		t.Error("expected context error")
	}
}

func TestRecordVerifiedAdvancesStreakOncePerDay(t *testing.T) {
	env := setupSchedulerTest(t)

	// Allow multiple completions so a second success can exist today.
	env.tasks.Update(env.task.ID, model.Task{
		Name: "Feed the cat", RewardValue: 5, RecurrenceRule: "FREQ=DAILY",
		Active: true, AssignedTo: []int64{env.child.ID}, MaxCompletionsPerDay: 3,
	})

	first, _ := env.logs.CompleteTask(env.child.ID, env.task.ID)
	env.logs.VerifyLog(first.ID, env.child.ID, 5)
	if err := env.sched.RecordVerified(env.task.ID, first.ID); err != nil {
		t.Fatalf("record first: %v", err)
	}

	task, _ := env.tasks.GetByID(env.task.ID)
	if task.CurrentStreak != 1 || task.BestStreak != 1 {
		t.Fatalf("streaks = %d/%d, want 1/1", task.CurrentStreak, task.BestStreak)
	}

	tomorrow := dates.Key(dates.StartOfDay(time.Now()).AddDate(0, 0, 1))
	if task.NextDueDate != tomorrow {
		t.Errorf("next due = %q, want %q", task.NextDueDate, tomorrow)
	}

	second, _ := env.logs.CompleteTask(env.child.ID, env.task.ID)
	env.logs.VerifyLog(second.ID, env.child.ID, 5)
	if err := env.sched.RecordVerified(env.task.ID, second.ID); err != nil {
		t.Fatalf("record second: %v", err)
	}

	task, _ = env.tasks.GetByID(env.task.ID)
	if task.CurrentStreak != 1 {
		t.Errorf("streak = %d, a second same-day success must not double count", task.CurrentStreak)
	}
}

func TestRecordVerifiedClearsOnceDueDate(t *testing.T) {
	env := setupSchedulerTest(t)

	once, _ := env.tasks.Create(model.Task{
		Name: "Clean the garage", RewardValue: 20, RecurrenceRule: "Once",
		Active: true, AssignedTo: []int64{env.child.ID},
		NextDueDate: dates.Key(time.Now()), MaxCompletionsPerDay: 1,
	})

	log, _ := env.logs.CompleteTask(env.child.ID, once.ID)
	env.logs.VerifyLog(log.ID, env.child.ID, 20)
	if err := env.sched.RecordVerified(once.ID, log.ID); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, _ := env.tasks.GetByID(once.ID)
	if got.NextDueDate != "" {
		t.Errorf("one-shot next due = %q, want cleared", got.NextDueDate)
	}
}

func TestRecordVerifiedMissingTask(t *testing.T) {
	env := setupSchedulerTest(t)

	if err := env.sched.RecordVerified(9999, "no-log"); err != nil {
		t.Errorf("missing task should be a quiet no-op, got %v", err)
	}
}
