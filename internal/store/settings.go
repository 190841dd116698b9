package store

import (
	"database/sql"
	"fmt"
	"time"
)

// lastMissedCheckKey holds the scheduler's backfill watermark: the local
// date key of the last day a full missed-occurrence scan ran.
const lastMissedCheckKey = "last_missed_check_date"

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

// Get returns the value for key, or "" when the key has never been set.
func (s *SettingsStore) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM app_settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (s *SettingsStore) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO app_settings (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// LastMissedCheck returns the persisted scheduler watermark ("" = never).
func (s *SettingsStore) LastMissedCheck() (string, error) {
	return s.Get(lastMissedCheckKey)
}

func (s *SettingsStore) SetLastMissedCheck(dateKey string) error {
	return s.Set(lastMissedCheckKey, dateKey)
}
