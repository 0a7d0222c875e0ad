package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"supportchat/internal/models"
)

// PostMessage validates the text, asks the replier for the bot reply, and
// persists the user turn and the bot turn inside one transaction. Both rows
// commit or neither does. The bot row never carries the escalation flag.
func (s *Service) PostMessage(ctx context.Context, userID int64, text string) (string, error) {
	if userID <= 0 {
		return "", errors.New("invalid user id")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", ErrEmptyMessage
	}

	reply, escalate := s.replier.Reply(ctx, text)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	now := time.Now().UTC()
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO messages (user_id, sender, text, request_human, handled, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, models.SenderUser, text, escalate, false, now,
	); err != nil {
		return "", fmt.Errorf("insert user message: %w", err)
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO messages (user_id, sender, text, request_human, handled, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		userID, models.SenderBot, reply, false, false, now,
	); err != nil {
		return "", fmt.Errorf("insert bot message: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return "", fmt.Errorf("commit chat turn: %w", err)
	}
	return reply, nil
}

// History returns every message owned by the user in ascending creation
// order. The id tiebreak keeps the user turn ahead of the bot turn when both
// share a timestamp.
func (s *Service) History(ctx context.Context, userID int64) ([]models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, sender, text, request_human, handled, created_at
		 FROM messages WHERE user_id = ? ORDER BY created_at ASC, id ASC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.UserID, &m.Sender, &m.Text, &m.RequestHuman, &m.Handled, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
