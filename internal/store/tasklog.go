package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kulinotech/starhabit/internal/dates"
	"github.com/kulinotech/starhabit/internal/model"
	"github.com/kulinotech/starhabit/internal/recurrence"
)

// MissedReason is the fixed rejection reason on scheduler-created failures.
const MissedReason = "Missed daily deadline"

const exemptionRejectedReason = "Exemption request rejected"

type LogStore struct {
	db *sql.DB
}

func NewLogStore(db *sql.DB) *LogStore {
	return &LogStore{db: db}
}

func scanLog(scanner interface{ Scan(...any) error }) (*model.TaskLog, error) {
	var l model.TaskLog
	var status string
	err := scanner.Scan(
		&l.ID, &l.ChildID, &l.TaskID, &status,
		&l.RejectionReason, &l.Notes, &l.CurrentValue, &l.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Status = model.LogStatus(status)
	return &l, nil
}

const logCols = `id, child_id, task_id, status, rejection_reason, notes, current_value, completed_at`

// dayRange returns the UTC bounds of t's local calendar day, for bucketing
// stored timestamps into local days inside SQL.
func dayRange(t time.Time) (time.Time, time.Time) {
	start := dates.StartOfDay(t)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// CompleteTask records that the child marked the task done today. Returns
// (nil, nil) when the task or child no longer exists, the task is archived,
// or today's completion cap is already reached: expected refusals the
// caller branches on, not errors. Progress tasks start in IN_PROGRESS;
// everything else goes straight to PENDING review.
func (s *LogStore) CompleteTask(childID, taskID int64) (*model.TaskLog, error) {
	return s.completeTaskAt(childID, taskID, time.Now())
}

func (s *LogStore) completeTaskAt(childID, taskID int64, now time.Time) (*model.TaskLog, error) {
	task, err := NewTaskStore(s.db).GetByID(taskID)
	if err != nil {
		return nil, err
	}
	if task == nil || !task.Active {
		return nil, nil
	}

	child, err := NewChildStore(s.db).GetByID(childID)
	if err != nil {
		return nil, err
	}
	if child == nil {
		return nil, nil
	}

	count, err := s.countableLogsOnDay(childID, taskID, now)
	if err != nil {
		return nil, err
	}
	if count >= task.MaxCompletionsPerDay {
		return nil, nil
	}

	status := model.StatusPending
	if task.IsProgress() {
		status = model.StatusInProgress
	}

	log := model.TaskLog{
		ID:          uuid.NewString(),
		ChildID:     childID,
		TaskID:      taskID,
		Status:      status,
		CompletedAt: now.UTC(),
	}
	if err := s.insert(s.db, log); err != nil {
		return nil, err
	}
	return &log, nil
}

// countableLogsOnDay counts the logs that occupy a completion slot for the
// local day. Rejected logs do not count: the child may retry after a
// rejection.
func (s *LogStore) countableLogsOnDay(childID, taskID int64, day time.Time) (int, error) {
	start, end := dayRange(day)
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM task_logs
		 WHERE child_id = ? AND task_id = ? AND status != ? AND completed_at >= ? AND completed_at < ?`,
		childID, taskID, string(model.StatusRejected), start, end,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count day logs: %w", err)
	}
	return n, nil
}

// UpdateProgress sets the running value on an IN_PROGRESS log and promotes
// it to PENDING once the target is reached. Returns (nil, nil) when the log
// is missing or no longer in progress.
func (s *LogStore) UpdateProgress(logID string, newValue, target int) (*model.TaskLog, error) {
	log, err := s.GetByID(logID)
	if err != nil {
		return nil, err
	}
	if log == nil || log.Status != model.StatusInProgress {
		return nil, nil
	}

	status := model.StatusInProgress
	if newValue >= target {
		status = model.StatusPending
	}

	_, err = s.db.Exec(
		`UPDATE task_logs SET current_value = ?, status = ? WHERE id = ?`,
		newValue, string(status), logID,
	)
	if err != nil {
		return nil, fmt.Errorf("update progress: %w", err)
	}

	log.CurrentValue = newValue
	log.Status = status
	return log, nil
}

// VerifyLog approves a pending completion: the log becomes VERIFIED and the
// reward is paid in the same transaction. Calling it on an already-VERIFIED
// log is a successful no-op so a double-tap cannot pay twice.
func (s *LogStore) VerifyLog(logID string, childID int64, rewardValue int) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var status string
	err = tx.QueryRow(`SELECT status FROM task_logs WHERE id = ?`, logID).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get log status: %w", err)
	}
	if model.LogStatus(status) == model.StatusVerified {
		return true, nil
	}

	if _, err := tx.Exec(
		`UPDATE task_logs SET status = ? WHERE id = ?`,
		string(model.StatusVerified), logID,
	); err != nil {
		return false, fmt.Errorf("verify log: %w", err)
	}

	if err := appendTransaction(tx, model.StarTransaction{
		ID:          uuid.NewString(),
		ChildID:     childID,
		Amount:      rewardValue,
		Type:        model.TxTaskVerified,
		ReferenceID: logID,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// RejectLog marks a pending completion as rejected with a reason. No
// balance effect.
func (s *LogStore) RejectLog(logID, reason string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE task_logs SET status = ?, rejection_reason = ? WHERE id = ?`,
		string(model.StatusRejected), reason, logID,
	)
	if err != nil {
		return false, fmt.Errorf("reject log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// SubmitExemption records a child's request to skip today's occurrence.
func (s *LogStore) SubmitExemption(childID, taskID int64, reason string) (*model.TaskLog, error) {
	log := model.TaskLog{
		ID:          uuid.NewString(),
		ChildID:     childID,
		TaskID:      taskID,
		Status:      model.StatusPendingExcuse,
		Notes:       reason,
		CompletedAt: time.Now().UTC(),
	}
	if err := s.insert(s.db, log); err != nil {
		return nil, err
	}
	return &log, nil
}

// ApproveExemption resolves an excuse in the child's favor and reschedules
// the task: the next due date is recomputed as if today's occurrence had
// been handled.
func (s *LogStore) ApproveExemption(logID string) (bool, error) {
	log, err := s.GetByID(logID)
	if err != nil {
		return false, err
	}
	if log == nil {
		return false, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`UPDATE task_logs SET status = ? WHERE id = ?`,
		string(model.StatusExcused), logID,
	); err != nil {
		return false, fmt.Errorf("approve exemption: %w", err)
	}

	var rule string
	err = tx.QueryRow(`SELECT recurrence_rule FROM tasks WHERE id = ?`, log.TaskID).Scan(&rule)
	if err != nil && err != sql.ErrNoRows {
		return false, fmt.Errorf("get task rule: %w", err)
	}
	if err == nil {
		next := recurrence.NextDueDate(rule, dates.Key(time.Now()))
		if _, err := tx.Exec(
			`UPDATE tasks SET next_due_date = ?, updated_at = ? WHERE id = ?`,
			next, time.Now().UTC(), log.TaskID,
		); err != nil {
			return false, fmt.Errorf("set next due date: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// RejectExemption denies an excuse request.
func (s *LogStore) RejectExemption(logID string) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE task_logs SET status = ?, rejection_reason = ? WHERE id = ? AND status = ?`,
		string(model.StatusRejected), exemptionRejectedReason, logID, string(model.StatusPendingExcuse),
	)
	if err != nil {
		return false, fmt.Errorf("reject exemption: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// MarkVerifiedAsFailed reverses an admin's earlier approval: the granted
// stars come back off the balance through a compensating negative
// transaction and the log flips to FAILED. The original transaction stays
// in the ledger.
func (s *LogStore) MarkVerifiedAsFailed(logID string, taskID int64) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var status string
	var childID int64
	err = tx.QueryRow(`SELECT status, child_id FROM task_logs WHERE id = ? AND task_id = ?`, logID, taskID).
		Scan(&status, &childID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get log: %w", err)
	}
	if model.LogStatus(status) != model.StatusVerified {
		return false, nil
	}

	var granted int
	err = tx.QueryRow(
		`SELECT COALESCE(SUM(amount), 0) FROM star_transactions WHERE reference_id = ? AND type = ?`,
		logID, string(model.TxTaskVerified),
	).Scan(&granted)
	if err != nil {
		return false, fmt.Errorf("sum granted: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE task_logs SET status = ?, rejection_reason = ? WHERE id = ?`,
		string(model.StatusFailed), "Verification reversed", logID,
	); err != nil {
		return false, fmt.Errorf("mark failed: %w", err)
	}

	if granted != 0 {
		if err := appendTransaction(tx, model.StarTransaction{
			ID:          uuid.NewString(),
			ChildID:     childID,
			Amount:      -granted,
			Type:        model.TxTaskVerified,
			ReferenceID: logID,
			Description: "Verification reversed",
			CreatedAt:   time.Now().UTC(),
		}); err != nil {
			return false, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// FailedItem is one backfill failure queued by the scheduler.
type FailedItem struct {
	ChildID int64
	TaskID  int64
	Day     time.Time // local start of the missed day
}

// CreateFailedBatch persists the scheduler's queued failures in one write.
func (s *LogStore) CreateFailedBatch(items []FailedItem) ([]model.TaskLog, error) {
	if len(items) == 0 {
		return nil, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	logs := make([]model.TaskLog, 0, len(items))
	for _, item := range items {
		log := model.TaskLog{
			ID:              uuid.NewString(),
			ChildID:         item.ChildID,
			TaskID:          item.TaskID,
			Status:          model.StatusFailed,
			RejectionReason: MissedReason,
			CompletedAt:     item.Day.UTC(),
		}
		if err := s.insert(tx, log); err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return logs, nil
}

// DeleteLog removes a log record. A VERIFIED log's ledger effect is
// reversed first: every transaction referencing the log is backed out of
// the balance and deleted, so the balance invariant survives the removal.
func (s *LogStore) DeleteLog(logID string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var childID int64
	err = tx.QueryRow(`SELECT child_id FROM task_logs WHERE id = ?`, logID).Scan(&childID)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get log: %w", err)
	}

	var linked int
	err = tx.QueryRow(
		`SELECT COALESCE(SUM(amount), 0) FROM star_transactions WHERE reference_id = ?`,
		logID,
	).Scan(&linked)
	if err != nil {
		return false, fmt.Errorf("sum linked transactions: %w", err)
	}

	if linked != 0 {
		if _, err := tx.Exec(
			`UPDATE children SET current_balance = current_balance - ? WHERE id = ?`,
			linked, childID,
		); err != nil {
			return false, fmt.Errorf("reverse balance: %w", err)
		}
	}
	if _, err := tx.Exec(`DELETE FROM star_transactions WHERE reference_id = ?`, logID); err != nil {
		return false, fmt.Errorf("delete linked transactions: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM task_logs WHERE id = ?`, logID); err != nil {
		return false, fmt.Errorf("delete log: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (s *LogStore) GetByID(logID string) (*model.TaskLog, error) {
	row := s.db.QueryRow(`SELECT `+logCols+` FROM task_logs WHERE id = ?`, logID)
	l, err := scanLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get log: %w", err)
	}
	return l, nil
}

// ListRecent returns the newest logs first, capped.
func (s *LogStore) ListRecent(limit int) ([]model.TaskLog, error) {
	return s.queryLogs(
		`SELECT `+logCols+` FROM task_logs ORDER BY completed_at DESC LIMIT ?`, limit)
}

// ListForChildOnDay returns the child's logs for one local calendar day,
// oldest first.
func (s *LogStore) ListForChildOnDay(childID int64, day time.Time) ([]model.TaskLog, error) {
	start, end := dayRange(day)
	return s.queryLogs(
		`SELECT `+logCols+` FROM task_logs
		 WHERE child_id = ? AND completed_at >= ? AND completed_at < ?
		 ORDER BY completed_at ASC`,
		childID, start, end)
}

func (s *LogStore) ListForChild(childID int64, limit int) ([]model.TaskLog, error) {
	return s.queryLogs(
		`SELECT `+logCols+` FROM task_logs WHERE child_id = ? ORDER BY completed_at DESC LIMIT ?`,
		childID, limit)
}

// SuccessesOnDay counts VERIFIED and EXCUSED logs for the task on the given
// local day, excluding one log id. The streak logic uses it to decide
// whether today already counted.
func (s *LogStore) SuccessesOnDay(taskID int64, day time.Time, excludeLogID string) (int, error) {
	start, end := dayRange(day)
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM task_logs
		 WHERE task_id = ? AND id != ? AND status IN (?, ?)
		   AND completed_at >= ? AND completed_at < ?`,
		taskID, excludeLogID,
		string(model.StatusVerified), string(model.StatusExcused),
		start, end,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count successes: %w", err)
	}
	return n, nil
}

// ListSince returns all logs whose occurrence timestamp is at or after t,
// oldest first. The scheduler reads its scan window through this.
func (s *LogStore) ListSince(t time.Time) ([]model.TaskLog, error) {
	return s.queryLogs(
		`SELECT `+logCols+` FROM task_logs WHERE completed_at >= ? ORDER BY completed_at ASC`,
		t.UTC())
}

func (s *LogStore) queryLogs(query string, args ...any) ([]model.TaskLog, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query logs: %w", err)
	}
	defer rows.Close()

	var logs []model.TaskLog
	for rows.Next() {
		l, err := scanLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

// PendingVerifications lists PENDING logs joined with the display context
// the review screen needs.
func (s *LogStore) PendingVerifications() ([]model.VerificationRequest, error) {
	return s.queryRequests(string(model.StatusPending))
}

// PendingExcuses lists unresolved exemption requests.
func (s *LogStore) PendingExcuses() ([]model.VerificationRequest, error) {
	return s.queryRequests(string(model.StatusPendingExcuse))
}

func (s *LogStore) queryRequests(status string) ([]model.VerificationRequest, error) {
	rows, err := s.db.Query(
		`SELECT l.id, l.child_id, l.task_id, l.status, l.rejection_reason, l.notes,
			l.current_value, l.completed_at,
			COALESCE(t.name, 'Unknown task'), COALESCE(t.reward_value, 0),
			COALESCE(c.name, 'Unknown child')
		 FROM task_logs l
		 LEFT JOIN tasks t ON t.id = l.task_id
		 LEFT JOIN children c ON c.id = l.child_id
		 WHERE l.status = ?
		 ORDER BY l.completed_at ASC`,
		status,
	)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	var reqs []model.VerificationRequest
	for rows.Next() {
		var r model.VerificationRequest
		var status string
		err := rows.Scan(
			&r.ID, &r.ChildID, &r.TaskID, &status, &r.RejectionReason, &r.Notes,
			&r.CurrentValue, &r.CompletedAt,
			&r.TaskName, &r.RewardValue, &r.ChildName,
		)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		r.Status = model.LogStatus(status)
		reqs = append(reqs, r)
	}
	return reqs, rows.Err()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func (s *LogStore) insert(db execer, l model.TaskLog) error {
	_, err := db.Exec(
		`INSERT INTO task_logs (id, child_id, task_id, status, rejection_reason, notes, current_value, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.ChildID, l.TaskID, string(l.Status), l.RejectionReason, l.Notes, l.CurrentValue, l.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert log: %w", err)
	}
	return nil
}

// appendTransaction writes a ledger entry and applies its amount to the
// child's cached balance in the same transaction. Every balance change in
// the system funnels through here.
func appendTransaction(tx *sql.Tx, t model.StarTransaction) error {
	if _, err := tx.Exec(
		`INSERT INTO star_transactions (id, child_id, amount, type, reference_id, description, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ChildID, t.Amount, string(t.Type), t.ReferenceID, t.Description, t.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE children SET current_balance = current_balance + ? WHERE id = ?`,
		t.Amount, t.ChildID,
	); err != nil {
		return fmt.Errorf("apply balance: %w", err)
	}
	return nil
}
