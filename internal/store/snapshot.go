package store

import (
	"database/sql"
	"fmt"

	"github.com/kulinotech/starhabit/internal/model"
)

// ValidationError reports why an imported snapshot was refused. Code is
// machine-readable so clients can localize the message.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid snapshot (%s): %s", e.Code, e.Message)
}

// SnapshotStore exports and imports the whole dataset. The import replaces
// everything in one transaction; a validation failure leaves the database
// untouched.
type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func (s *SnapshotStore) Export() (*model.Snapshot, error) {
	snap := &model.Snapshot{}

	var err error
	if snap.Children, err = NewChildStore(s.db).List(); err != nil {
		return nil, err
	}
	if snap.Tasks, err = NewTaskStore(s.db).List(); err != nil {
		return nil, err
	}
	if snap.Rewards, err = NewRewardStore(s.db).List(); err != nil {
		return nil, err
	}
	if snap.Logs, err = NewLogStore(s.db).queryLogs(
		`SELECT ` + logCols + ` FROM task_logs ORDER BY completed_at ASC`); err != nil {
		return nil, err
	}
	if snap.Transactions, err = NewLedgerStore(s.db).query(
		`SELECT ` + txCols + ` FROM star_transactions ORDER BY created_at ASC`); err != nil {
		return nil, err
	}
	return snap, nil
}

// Validate checks an incoming snapshot before it replaces the dataset.
// Returns a *ValidationError describing the first problem found.
func Validate(snap *model.Snapshot) error {
	if snap == nil {
		return &ValidationError{Code: "empty_snapshot", Message: "no data"}
	}
	if snap.Children == nil && snap.Tasks == nil {
		return &ValidationError{Code: "empty_snapshot", Message: "snapshot has neither children nor tasks"}
	}

	childIDs := make(map[int64]struct{}, len(snap.Children))
	for _, c := range snap.Children {
		if _, dup := childIDs[c.ID]; dup {
			return &ValidationError{Code: "duplicate_id", Field: "children",
				Message: fmt.Sprintf("child id %d appears twice", c.ID)}
		}
		childIDs[c.ID] = struct{}{}
	}

	taskIDs := make(map[int64]struct{}, len(snap.Tasks))
	for _, t := range snap.Tasks {
		if _, dup := taskIDs[t.ID]; dup {
			return &ValidationError{Code: "duplicate_id", Field: "tasks",
				Message: fmt.Sprintf("task id %d appears twice", t.ID)}
		}
		taskIDs[t.ID] = struct{}{}
		if t.RewardValue < 0 {
			return &ValidationError{Code: "negative_reward_value", Field: "tasks",
				Message: fmt.Sprintf("task %d has negative reward value", t.ID)}
		}
	}

	for _, r := range snap.Rewards {
		if r.CostValue < 0 {
			return &ValidationError{Code: "negative_reward_cost", Field: "rewards",
				Message: fmt.Sprintf("reward %d has negative cost", r.ID)}
		}
	}

	logIDs := make(map[string]struct{}, len(snap.Logs))
	for _, l := range snap.Logs {
		if !l.Status.Valid() {
			return &ValidationError{Code: "invalid_log_status", Field: "logs",
				Message: fmt.Sprintf("log %s has unknown status %q", l.ID, l.Status)}
		}
		if _, dup := logIDs[l.ID]; dup {
			return &ValidationError{Code: "duplicate_id", Field: "logs",
				Message: fmt.Sprintf("log id %s appears twice", l.ID)}
		}
		logIDs[l.ID] = struct{}{}
	}

	for _, t := range snap.Transactions {
		if !t.Type.Valid() {
			return &ValidationError{Code: "invalid_transaction_type", Field: "transactions",
				Message: fmt.Sprintf("transaction %s has unknown type %q", t.ID, t.Type)}
		}
	}

	return nil
}

// Import validates and then replaces the whole dataset. Cached child
// balances are recomputed from the imported ledger rather than trusted:
// the transaction history is the system of record, and an imported balance
// that disagrees with it would violate the conservation invariant forever
// after.
func (s *SnapshotStore) Import(snap *model.Snapshot) error {
	if err := Validate(snap); err != nil {
		return err
	}

	sums := make(map[int64]int)
	for _, t := range snap.Transactions {
		sums[t.ChildID] += t.Amount
	}

	childIDs := make(map[int64]struct{}, len(snap.Children))
	for _, c := range snap.Children {
		childIDs[c.ID] = struct{}{}
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"task_assignments", "task_logs", "star_transactions", "rewards", "tasks", "children"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, c := range snap.Children {
		if _, err := tx.Exec(
			`INSERT INTO children (id, name, birth_date, avatar_url, current_balance, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, c.Name, c.BirthDate, c.AvatarURL, sums[c.ID], c.CreatedAt,
		); err != nil {
			return fmt.Errorf("import child: %w", err)
		}
	}

	for _, t := range snap.Tasks {
		active := 0
		if t.Active {
			active = 1
		}
		maxPerDay := t.MaxCompletionsPerDay
		if maxPerDay < 1 {
			maxPerDay = 1
		}
		if _, err := tx.Exec(
			`INSERT INTO tasks (id, name, reward_value, recurrence_rule, is_active, next_due_date,
				expiry_time, current_streak, best_streak, max_completions_per_day,
				total_target_value, target_unit, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.Name, t.RewardValue, t.RecurrenceRule, active, t.NextDueDate,
			t.ExpiryTime, t.CurrentStreak, t.BestStreak, maxPerDay,
			t.TotalTargetValue, t.TargetUnit, t.CreatedAt, t.UpdatedAt,
		); err != nil {
			return fmt.Errorf("import task: %w", err)
		}
		for _, childID := range t.AssignedTo {
			// assignments to children the snapshot does not carry are
			// dropped, matching the scheduler's posture on stale refs
			if _, known := childIDs[childID]; !known {
				continue
			}
			if _, err := tx.Exec(
				`INSERT OR IGNORE INTO task_assignments (task_id, child_id) VALUES (?, ?)`,
				t.ID, childID,
			); err != nil {
				return fmt.Errorf("import assignment: %w", err)
			}
		}
	}

	for _, r := range snap.Rewards {
		active := 0
		if r.Active {
			active = 1
		}
		if _, err := tx.Exec(
			`INSERT INTO rewards (id, name, cost_value, category, active, created_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			r.ID, r.Name, r.CostValue, r.Category, active, r.CreatedAt,
		); err != nil {
			return fmt.Errorf("import reward: %w", err)
		}
	}

	for _, l := range snap.Logs {
		if _, err := tx.Exec(
			`INSERT INTO task_logs (id, child_id, task_id, status, rejection_reason, notes, current_value, completed_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, l.ChildID, l.TaskID, string(l.Status), l.RejectionReason, l.Notes, l.CurrentValue, l.CompletedAt,
		); err != nil {
			return fmt.Errorf("import log: %w", err)
		}
	}

	for _, t := range snap.Transactions {
		if _, err := tx.Exec(
			`INSERT INTO star_transactions (id, child_id, amount, type, reference_id, description, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.ChildID, t.Amount, string(t.Type), t.ReferenceID, t.Description, t.CreatedAt,
		); err != nil {
			return fmt.Errorf("import transaction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
