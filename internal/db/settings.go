package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// User is a known chat user the scheduler scans
type User struct {
	UserID    string    `json:"user_id"`
	ChatID    int64     `json:"chat_id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// UpsertUser records a user the bot has talked to
func (s *Store) UpsertUser(ctx context.Context, userID string, chatID int64, username string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (user_id, chat_id, username) VALUES (?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET chat_id = excluded.chat_id, username = excluded.username`,
		userID, chatID, username)
	if err != nil {
		return fmt.Errorf("failed to upsert user: %w", err)
	}
	return nil
}

// ListUsers returns every known user
func (s *Store) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, chat_id, username, created_at FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		var u User
		if err := rows.Scan(&u.UserID, &u.ChatID, &u.Username, &u.CreatedAt); err != nil {
			return nil, err
		}
		users = append(users, &u)
	}
	return users, rows.Err()
}

// UserSetting returns the value for a per-user setting, or "" when unset
func (s *Store) UserSetting(ctx context.Context, userID, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE user_id = ? AND key = ?`, userID, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read setting: %w", err)
	}
	return value, nil
}

// SetUserSetting stores a per-user setting
func (s *Store) SetUserSetting(ctx context.Context, userID, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (user_id, key, value) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, key) DO UPDATE SET value = excluded.value`,
		userID, key, value)
	if err != nil {
		return fmt.Errorf("failed to set setting: %w", err)
	}
	return nil
}

// UserSettings returns all settings for a user
func (s *Store) UserSettings(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM settings WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list settings: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// GlobalConfig returns a global config value, or the fallback when unset.
// Read fresh on every scheduler tick so admin edits take effect live.
func (s *Store) GlobalConfig(ctx context.Context, key, fallback string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return fallback, nil
	}
	if err != nil {
		return fallback, fmt.Errorf("failed to read config: %w", err)
	}
	return value, nil
}

// SetGlobalConfig stores a global config value
func (s *Store) SetGlobalConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO config (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("failed to set config: %w", err)
	}
	return nil
}

// AllGlobalConfig returns every global config entry
func (s *Store) AllGlobalConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config`)
	if err != nil {
		return nil, fmt.Errorf("failed to list config: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// ListContacts returns the user's contact book as name -> email
func (s *Store) ListContacts(ctx context.Context, userID string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, email FROM contacts WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, email string
		if err := rows.Scan(&name, &email); err != nil {
			return nil, err
		}
		out[name] = email
	}
	return out, rows.Err()
}

// ParseCheckinHours parses a stored check-in hours value ("9,14,18").
// "off" yields an empty slice; malformed entries are skipped.
func ParseCheckinHours(value string) []int {
	if strings.TrimSpace(strings.ToLower(value)) == "off" {
		return []int{}
	}
	var hours []int
	for _, part := range strings.Split(value, ",") {
		h, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || h < 0 || h > 23 {
			continue
		}
		hours = append(hours, h)
	}
	sort.Ints(hours)
	return hours
}
