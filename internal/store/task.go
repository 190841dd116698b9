package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/kulinotech/starhabit/internal/model"
)

type TaskStore struct {
	db *sql.DB
}

func NewTaskStore(db *sql.DB) *TaskStore {
	return &TaskStore{db: db}
}

func scanTask(scanner interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	var active int
	err := scanner.Scan(
		&t.ID, &t.Name, &t.RewardValue, &t.RecurrenceRule, &active,
		&t.NextDueDate, &t.ExpiryTime, &t.CurrentStreak, &t.BestStreak,
		&t.MaxCompletionsPerDay, &t.TotalTargetValue, &t.TargetUnit,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Active = active != 0
	return &t, nil
}

const taskCols = `id, name, reward_value, recurrence_rule, is_active, next_due_date, expiry_time,
	current_streak, best_streak, max_completions_per_day, total_target_value, target_unit,
	created_at, updated_at`

// Create inserts a task template and its child assignments.
func (s *TaskStore) Create(t model.Task) (*model.Task, error) {
	if t.MaxCompletionsPerDay < 1 {
		t.MaxCompletionsPerDay = 1
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`INSERT INTO tasks (name, reward_value, recurrence_rule, is_active, next_due_date,
			expiry_time, max_completions_per_day, total_target_value, target_unit)
		 VALUES (?, ?, ?, 1, ?, ?, ?, ?, ?)`,
		t.Name, t.RewardValue, t.RecurrenceRule, t.NextDueDate,
		t.ExpiryTime, t.MaxCompletionsPerDay, t.TotalTargetValue, t.TargetUnit,
	)
	if err != nil {
		return nil, fmt.Errorf("insert task: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if err := replaceAssignments(tx, id, t.AssignedTo); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

func (s *TaskStore) GetByID(id int64) (*model.Task, error) {
	row := s.db.QueryRow(`SELECT `+taskCols+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	if t.AssignedTo, err = s.assignments(t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TaskStore) List() ([]model.Task, error) {
	return s.list(`SELECT ` + taskCols + ` FROM tasks ORDER BY created_at ASC, name ASC`)
}

// ListActive returns non-archived tasks, the scheduler's working set.
func (s *TaskStore) ListActive() ([]model.Task, error) {
	return s.list(`SELECT ` + taskCols + ` FROM tasks WHERE is_active = 1 ORDER BY created_at ASC, name ASC`)
}

func (s *TaskStore) list(query string) ([]model.Task, error) {
	rows, err := s.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range tasks {
		if tasks[i].AssignedTo, err = s.assignments(tasks[i].ID); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// Update rewrites the editable template fields and assignments. Streak
// fields are not touched here; they belong to the scheduler.
func (s *TaskStore) Update(id int64, t model.Task) (*model.Task, error) {
	if t.MaxCompletionsPerDay < 1 {
		t.MaxCompletionsPerDay = 1
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`UPDATE tasks SET name = ?, reward_value = ?, recurrence_rule = ?, next_due_date = ?,
			expiry_time = ?, max_completions_per_day = ?, total_target_value = ?, target_unit = ?,
			updated_at = ?
		 WHERE id = ?`,
		t.Name, t.RewardValue, t.RecurrenceRule, t.NextDueDate,
		t.ExpiryTime, t.MaxCompletionsPerDay, t.TotalTargetValue, t.TargetUnit,
		time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}

	if err := replaceAssignments(tx, id, t.AssignedTo); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.GetByID(id)
}

// Archive soft-deletes a task. Logs stay valid and the scheduler stops
// considering it.
func (s *TaskStore) Archive(id int64) error {
	_, err := s.db.Exec(`UPDATE tasks SET is_active = 0, updated_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("archive task: %w", err)
	}
	return nil
}

func (s *TaskStore) SetStreak(id int64, current, best int) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET current_streak = ?, best_streak = ?, updated_at = ? WHERE id = ?`,
		current, best, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set streak: %w", err)
	}
	return nil
}

// ResetStreaks zeroes current_streak for every given task in one batch.
func (s *TaskStore) ResetStreaks(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.Exec(
			`UPDATE tasks SET current_streak = 0, updated_at = ? WHERE id = ?`,
			time.Now().UTC(), id,
		); err != nil {
			return fmt.Errorf("reset streak: %w", err)
		}
	}
	return tx.Commit()
}

func (s *TaskStore) SetNextDueDate(id int64, dateKey string) error {
	_, err := s.db.Exec(
		`UPDATE tasks SET next_due_date = ?, updated_at = ? WHERE id = ?`,
		dateKey, time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set next due date: %w", err)
	}
	return nil
}

func (s *TaskStore) assignments(taskID int64) ([]int64, error) {
	rows, err := s.db.Query(`SELECT child_id FROM task_assignments WHERE task_id = ? ORDER BY child_id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan assignment: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func replaceAssignments(tx *sql.Tx, taskID int64, childIDs []int64) error {
	if _, err := tx.Exec(`DELETE FROM task_assignments WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("clear assignments: %w", err)
	}
	for _, childID := range childIDs {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO task_assignments (task_id, child_id) VALUES (?, ?)`,
			taskID, childID,
		); err != nil {
			return fmt.Errorf("insert assignment: %w", err)
		}
	}
	return nil
}
