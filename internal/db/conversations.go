package db

import (
	"context"
	"fmt"
	"time"
)

// ConversationEntry is one logged turn of a user's conversation
type ConversationEntry struct {
	ID          int64     `json:"id"`
	UserID      string    `json:"user_id"`
	MessageType string    `json:"message_type"` // user | assistant
	Content     string    `json:"content"`
	CreatedAt   time.Time `json:"created_at"`
}

// AppendConversation logs one turn
func (s *Store) AppendConversation(ctx context.Context, userID, messageType, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (user_id, message_type, content) VALUES (?, ?, ?)`,
		userID, messageType, content)
	if err != nil {
		return fmt.Errorf("failed to append conversation: %w", err)
	}
	return nil
}

// RecentConversations returns the last n entries in chronological order
func (s *Store) RecentConversations(ctx context.Context, userID string, n int) ([]*ConversationEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, message_type, content, created_at FROM conversations
		 WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, n)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversations: %w", err)
	}
	defer rows.Close()

	var entries []*ConversationEntry
	for rows.Next() {
		var e ConversationEntry
		if err := rows.Scan(&e.ID, &e.UserID, &e.MessageType, &e.Content, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// reverse into chronological order
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, nil
}
