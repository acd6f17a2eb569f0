package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session is one conversation owned by a user.
type Session struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	ModelID   string    `json:"model_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateSession creates a conversation for a user.
func (s *Store) CreateSession(ctx context.Context, userID int64, title, modelID string) (Session, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, title, model_id) VALUES (?, ?, ?)`,
		userID, title, modelID,
	)
	if err != nil {
		return Session{}, fmt.Errorf("failed to create session: %w", err)
	}
	id, _ := res.LastInsertId()
	return s.SessionByID(ctx, id)
}

// SessionByID looks up one session.
func (s *Store) SessionByID(ctx context.Context, id int64) (Session, error) {
	return scanSession(s.db.QueryRowContext(ctx, `
		SELECT id, user_id, title, model_id, created_at, updated_at
		FROM sessions WHERE id = ?`, id))
}

// SessionsByUser lists a user's sessions, most recently updated first.
func (s *Store) SessionsByUser(ctx context.Context, userID int64) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, title, model_id, created_at, updated_at
		FROM sessions WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.ModelID,
			&sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// UpdateSession updates the title and/or default model of a session.
// Empty values leave the corresponding field unchanged.
func (s *Store) UpdateSession(ctx context.Context, id int64, title, modelID string) (Session, error) {
	if title != "" {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET title = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, title, id); err != nil {
			return Session{}, fmt.Errorf("failed to update session title: %w", err)
		}
	}
	if modelID != "" {
		if _, err := s.db.ExecContext(ctx,
			`UPDATE sessions SET model_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, modelID, id); err != nil {
			return Session{}, fmt.Errorf("failed to update session model: %w", err)
		}
	}
	return s.SessionByID(ctx, id)
}

// DeleteSession removes a session and, via cascade, its messages.
func (s *Store) DeleteSession(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSession(row *sql.Row) (Session, error) {
	var sess Session
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.ModelID, &sess.CreatedAt, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("failed to scan session: %w", err)
	}
	return sess, nil
}
