package store

import (
	"database/sql"
	"fmt"

	"github.com/kulinotech/starhabit/internal/model"
)

type ChildStore struct {
	db *sql.DB
}

func NewChildStore(db *sql.DB) *ChildStore {
	return &ChildStore{db: db}
}

func scanChild(scanner interface{ Scan(...any) error }) (*model.Child, error) {
	var c model.Child
	err := scanner.Scan(&c.ID, &c.Name, &c.BirthDate, &c.AvatarURL, &c.CurrentBalance, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

const childCols = `id, name, birth_date, avatar_url, current_balance, created_at`

func (s *ChildStore) Create(name, birthDate, avatarURL string) (*model.Child, error) {
	result, err := s.db.Exec(
		`INSERT INTO children (name, birth_date, avatar_url) VALUES (?, ?, ?)`,
		name, birthDate, avatarURL,
	)
	if err != nil {
		return nil, fmt.Errorf("insert child: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *ChildStore) GetByID(id int64) (*model.Child, error) {
	row := s.db.QueryRow(`SELECT `+childCols+` FROM children WHERE id = ?`, id)
	c, err := scanChild(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get child: %w", err)
	}
	return c, nil
}

func (s *ChildStore) List() ([]model.Child, error) {
	rows, err := s.db.Query(`SELECT ` + childCols + ` FROM children ORDER BY created_at ASC, name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	defer rows.Close()

	var children []model.Child
	for rows.Next() {
		c, err := scanChild(rows)
		if err != nil {
			return nil, fmt.Errorf("scan child: %w", err)
		}
		children = append(children, *c)
	}
	return children, rows.Err()
}

func (s *ChildStore) UpdateName(id int64, name string) (*model.Child, error) {
	_, err := s.db.Exec(`UPDATE children SET name = ? WHERE id = ?`, name, id)
	if err != nil {
		return nil, fmt.Errorf("update child name: %w", err)
	}
	return s.GetByID(id)
}

func (s *ChildStore) UpdateAvatar(id int64, avatarURL string) (bool, error) {
	result, err := s.db.Exec(`UPDATE children SET avatar_url = ? WHERE id = ?`, avatarURL, id)
	if err != nil {
		return false, fmt.Errorf("update child avatar: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete removes a child and their task assignments. Logs and transactions
// referencing the child are kept as history; the scheduler skips assignments
// to missing children. Assignments are deleted explicitly rather than left
// to the FK cascade so a connection with foreign keys off cannot strand
// orphan rows.
func (s *ChildStore) Delete(id int64) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM task_assignments WHERE child_id = ?`, id); err != nil {
		return fmt.Errorf("delete assignments: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM children WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete child: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
