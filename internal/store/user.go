package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dukerupert/stayvia/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	err := scanner.Scan(&u.ID, &u.Name, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

const userCols = `id, name, email, created_at, updated_at`

// Upsert creates the user or updates its profile fields.
func (s *UserStore) Upsert(ctx context.Context, id, name, email string) (*model.User, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email) VALUES (?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email`,
		id, name, email,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// DisplayName returns the user's name, or fallback when the user is
// unknown or has no name.
func (s *UserStore) DisplayName(ctx context.Context, id, fallback string) string {
	u, err := s.GetByID(ctx, id)
	if err != nil || u == nil || u.Name == "" {
		return fallback
	}
	return u.Name
}
