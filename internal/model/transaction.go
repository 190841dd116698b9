package model

import "time"

// TransactionType classifies a star ledger entry.
type TransactionType string

const (
	TxTaskVerified   TransactionType = "TASK_VERIFIED"
	TxRewardRedeemed TransactionType = "REWARD_REDEEMED"
	TxManualAdj      TransactionType = "MANUAL_ADJ"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TxTaskVerified, TxRewardRedeemed, TxManualAdj:
		return true
	}
	return false
}

// StarTransaction is an append-only ledger entry. A child's cached balance
// must equal the sum of their transaction amounts at all times; the balance
// is only ever written in the same mutation that appends a transaction.
type StarTransaction struct {
	ID          string          `json:"id"`
	ChildID     int64           `json:"child_id"`
	Amount      int             `json:"amount"` // positive = earn, negative = spend
	Type        TransactionType `json:"type"`
	ReferenceID string          `json:"reference_id,omitempty"` // originating log or reward
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}
