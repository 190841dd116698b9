package model

import "time"

type Reward struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CostValue int       `json:"cost_value"`
	Category  string    `json:"category,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Redemption is a summary row derived from REWARD_REDEEMED transactions.
type Redemption struct {
	ChildID    int64     `json:"child_id"`
	RewardID   string    `json:"reward_id"`
	StarsSpent int       `json:"stars_spent"`
	RedeemedAt time.Time `json:"redeemed_at"`
}
