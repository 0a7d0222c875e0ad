package chat

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"supportchat/internal/models"
)

// ListPending returns unresolved escalations, newest first, each annotated
// with the owning user's username.
func (s *Service) ListPending(ctx context.Context) ([]models.PendingRequest, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT m.id, u.username, m.text, m.created_at
		 FROM messages m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.request_human = 1 AND m.handled = 0
		 ORDER BY m.created_at DESC, m.id DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending requests: %w", err)
	}
	defer rows.Close()

	var pending []models.PendingRequest
	for rows.Next() {
		var p models.PendingRequest
		if err := rows.Scan(&p.ID, &p.Username, &p.Text, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pending request: %w", err)
		}
		pending = append(pending, p)
	}
	return pending, rows.Err()
}

// Resolve marks a message as handled. Unknown ids return sql.ErrNoRows and
// mutate nothing; re-resolving an already-handled message succeeds.
func (s *Service) Resolve(ctx context.Context, messageID int64) error {
	if messageID <= 0 {
		return sql.ErrNoRows
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM messages WHERE id = ?)`, messageID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("verify message: %w", err)
	}
	if !exists {
		return sql.ErrNoRows
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE messages SET handled = 1 WHERE id = ?`, messageID); err != nil {
		return fmt.Errorf("resolve message: %w", err)
	}
	return nil
}

// IsNotFound reports whether err is the storage-level not-found signal.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
