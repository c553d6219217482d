package db

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Memory is a stored personal fact about a user
type Memory struct {
	ID        int64     `json:"id"`
	UserID    string    `json:"user_id"`
	Category  string    `json:"category"` // preference | fact | relationship | knowledge
	Key       string    `json:"key"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoreMemory inserts or replaces a memory keyed by (user_id, key)
func (s *Store) StoreMemory(ctx context.Context, userID, category, key, value string) error {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (user_id, category, key, value, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id, key) DO UPDATE SET category = excluded.category,
		 value = excluded.value, updated_at = excluded.updated_at`,
		userID, category, key, value, now, now)
	if err != nil {
		return fmt.Errorf("failed to store memory: %w", err)
	}
	return nil
}

// UpdateMemory replaces the value for an existing key
func (s *Store) UpdateMemory(ctx context.Context, userID, key, newValue string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE memories SET value = ?, updated_at = ? WHERE user_id = ? AND key = ?`,
		newValue, time.Now(), userID, key)
	if err != nil {
		return fmt.Errorf("failed to update memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory not found: %s", key)
	}
	return nil
}

// DeleteMemory removes a memory by key
func (s *Store) DeleteMemory(ctx context.Context, userID, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE user_id = ? AND key = ?`, userID, key)
	if err != nil {
		return fmt.Errorf("failed to delete memory: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("memory not found: %s", key)
	}
	return nil
}

// SearchMemories returns the user's memories most relevant to the query,
// scored by keyword overlap against key and value. Semantic embedding search
// is a separate concern and not handled here.
func (s *Store) SearchMemories(ctx context.Context, userID, query string, limit int) ([]*Memory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, category, key, value, created_at, updated_at
		 FROM memories WHERE user_id = ?`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load memories: %w", err)
	}
	defer rows.Close()

	var all []*Memory
	for rows.Next() {
		var m Memory
		if err := rows.Scan(&m.ID, &m.UserID, &m.Category, &m.Key, &m.Value, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		all = append(all, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	words := strings.Fields(strings.ToLower(query))
	type scored struct {
		score int
		mem   *Memory
	}
	var ranked []scored
	for _, m := range all {
		text := strings.ToLower(m.Key + " " + m.Value)
		score := 0
		for _, w := range words {
			if len(w) < 3 {
				continue
			}
			if strings.Contains(text, w) {
				score++
			}
		}
		ranked = append(ranked, scored{score, m})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].mem.UpdatedAt.After(ranked[j].mem.UpdatedAt)
	})

	if limit > len(ranked) {
		limit = len(ranked)
	}
	out := make([]*Memory, 0, limit)
	for _, r := range ranked[:limit] {
		out = append(out, r.mem)
	}
	return out, nil
}
