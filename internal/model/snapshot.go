package model

// Snapshot is the full dataset as exported to, or imported from, a backup.
type Snapshot struct {
	Children     []Child           `json:"children"`
	Tasks        []Task            `json:"tasks"`
	Rewards      []Reward          `json:"rewards"`
	Logs         []TaskLog         `json:"logs"`
	Transactions []StarTransaction `json:"transactions"`
}
