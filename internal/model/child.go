package model

import "time"

type Child struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	BirthDate      string    `json:"birth_date,omitempty"`
	AvatarURL      string    `json:"avatar_url"`
	CurrentBalance int       `json:"current_balance"`
	CreatedAt      time.Time `json:"created_at"`
}
