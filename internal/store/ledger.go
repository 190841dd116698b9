package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kulinotech/starhabit/internal/model"
)

// LedgerStore owns the star transaction history and the balance mutations
// that are not tied to a task log: redemptions, manual adjustments and
// transaction deletion.
type LedgerStore struct {
	db *sql.DB
}

func NewLedgerStore(db *sql.DB) *LedgerStore {
	return &LedgerStore{db: db}
}

func scanTransaction(scanner interface{ Scan(...any) error }) (*model.StarTransaction, error) {
	var t model.StarTransaction
	var typ string
	err := scanner.Scan(&t.ID, &t.ChildID, &t.Amount, &typ, &t.ReferenceID, &t.Description, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	t.Type = model.TransactionType(typ)
	return &t, nil
}

const txCols = `id, child_id, amount, type, reference_id, description, created_at`

// Redeem spends stars on a reward. Returns (false, nil) without any
// mutation when the child is missing or the balance cannot cover the cost;
// a negative balance is never reachable through redemption.
func (s *LedgerStore) Redeem(childID int64, cost int, rewardID string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var balance int
	err = tx.QueryRow(`SELECT current_balance FROM children WHERE id = ?`, childID).Scan(&balance)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get balance: %w", err)
	}
	if balance < cost {
		return false, nil
	}

	typ := model.TxManualAdj
	if rewardID != "" {
		typ = model.TxRewardRedeemed
	}

	if err := appendTransaction(tx, model.StarTransaction{
		ID:          uuid.NewString(),
		ChildID:     childID,
		Amount:      -cost,
		Type:        typ,
		ReferenceID: rewardID,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// ManualAdjustment applies an ad-hoc bonus or penalty. Unlike Redeem it
// does not gate on the current balance; a penalty may push it negative.
func (s *LedgerStore) ManualAdjustment(childID int64, amount int, reason string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRow(`SELECT 1 FROM children WHERE id = ?`, childID).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get child: %w", err)
	}

	if err := appendTransaction(tx, model.StarTransaction{
		ID:          uuid.NewString(),
		ChildID:     childID,
		Amount:      amount,
		Type:        model.TxManualAdj,
		Description: reason,
		CreatedAt:   time.Now().UTC(),
	}); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// DeleteTransaction removes a ledger entry, reversing its balance effect
// first so the balance invariant holds after the row is gone.
func (s *LedgerStore) DeleteTransaction(id string) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var childID int64
	var amount int
	err = tx.QueryRow(`SELECT child_id, amount FROM star_transactions WHERE id = ?`, id).Scan(&childID, &amount)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get transaction: %w", err)
	}

	if _, err := tx.Exec(
		`UPDATE children SET current_balance = current_balance - ? WHERE id = ?`,
		amount, childID,
	); err != nil {
		return false, fmt.Errorf("reverse balance: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM star_transactions WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("delete transaction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

func (s *LedgerStore) GetByID(id string) (*model.StarTransaction, error) {
	row := s.db.QueryRow(`SELECT `+txCols+` FROM star_transactions WHERE id = ?`, id)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return t, nil
}

func (s *LedgerStore) ListRecent(limit int) ([]model.StarTransaction, error) {
	return s.query(
		`SELECT `+txCols+` FROM star_transactions ORDER BY created_at DESC LIMIT ?`, limit)
}

func (s *LedgerStore) ListForChild(childID int64, limit int) ([]model.StarTransaction, error) {
	return s.query(
		`SELECT `+txCols+` FROM star_transactions WHERE child_id = ? ORDER BY created_at DESC LIMIT ?`,
		childID, limit)
}

func (s *LedgerStore) query(query string, args ...any) ([]model.StarTransaction, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var txs []model.StarTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, *t)
	}
	return txs, rows.Err()
}

// Redemptions summarizes REWARD_REDEEMED history for reward-gating logic.
func (s *LedgerStore) Redemptions() ([]model.Redemption, error) {
	rows, err := s.db.Query(
		`SELECT child_id, reference_id, -amount, created_at
		 FROM star_transactions
		 WHERE type = ? AND reference_id != ''
		 ORDER BY created_at DESC`,
		string(model.TxRewardRedeemed),
	)
	if err != nil {
		return nil, fmt.Errorf("list redemptions: %w", err)
	}
	defer rows.Close()

	var reds []model.Redemption
	for rows.Next() {
		var r model.Redemption
		if err := rows.Scan(&r.ChildID, &r.RewardID, &r.StarsSpent, &r.RedeemedAt); err != nil {
			return nil, fmt.Errorf("scan redemption: %w", err)
		}
		reds = append(reds, r)
	}
	return reds, rows.Err()
}

// BalanceFromTransactions recomputes a child's balance from the ledger.
// Audit helper: the result must always match children.current_balance.
func (s *LedgerStore) BalanceFromTransactions(childID int64) (int, error) {
	var sum int
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(amount), 0) FROM star_transactions WHERE child_id = ?`,
		childID,
	).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum transactions: %w", err)
	}
	return sum, nil
}
