package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/lox/planti/internal/models"
)

// FindOrCreateUser returns the user with the given email, creating it on
// first sight. Emails are compared case-insensitively.
func (s *Store) FindOrCreateUser(ctx context.Context, email string) (models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	now := s.now()
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (email, created_at, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(email) DO NOTHING
	`, email, now, now); err != nil {
		return models.User{}, writeErr("create user", err)
	}

	var u models.User
	err := s.db.QueryRowContext(ctx, `SELECT id, email, created_at, updated_at FROM users WHERE email = ?`, email).
		Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	return u, err
}

func (s *Store) GetUser(ctx context.Context, id int64) (models.User, error) {
	var u models.User
	err := s.db.QueryRowContext(ctx, `SELECT id, email, created_at, updated_at FROM users WHERE id = ?`, id).
		Scan(&u.ID, &u.Email, &u.CreatedAt, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	return u, err
}

func (s *Store) CreateAuthToken(ctx context.Context, userID int64, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO auth_tokens (user_id, token, expires_at, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, token, expiresAt.UTC(), s.now())
	return writeErr("create auth token", err)
}

// ConsumeAuthToken marks an unused, unexpired token as used and returns its
// user id. Unknown, used and expired tokens all yield ErrNotFound.
func (s *Store) ConsumeAuthToken(ctx context.Context, token string) (int64, error) {
	var t models.AuthToken
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, expires_at, used_at FROM auth_tokens WHERE token = ?
	`, token).Scan(&t.ID, &t.UserID, &t.ExpiresAt, &t.UsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	now := s.now()
	if t.UsedAt.Valid || !now.Before(t.ExpiresAt) {
		return 0, ErrNotFound
	}

	res, err := s.db.ExecContext(ctx, `UPDATE auth_tokens SET used_at = ? WHERE id = ? AND used_at IS NULL`, now, t.ID)
	if err != nil {
		return 0, writeErr("consume auth token", err)
	}
	if err := expectOneRow(res, "consume auth token"); err != nil {
		return 0, err
	}
	return t.UserID, nil
}
