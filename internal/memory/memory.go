// Package memory implements the personal-facts domain service
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/mindloop/aria/internal/db"
	"github.com/mindloop/aria/internal/types"
)

// Service stores and retrieves user memories
type Service struct {
	store *db.Store
}

// New creates a memory service backed by the store
func New(store *db.Store) *Service {
	return &Service{store: store}
}

// Store saves a fact. An empty key gets a timestamp-derived one so repeated
// untitled facts don't clobber each other.
func (s *Service) Store(ctx context.Context, userID, category, key, value string) error {
	if category == "" {
		category = "knowledge"
	}
	if key == "" {
		key = fmt.Sprintf("fact_%d", time.Now().UnixNano())
	}
	return s.store.StoreMemory(ctx, userID, category, key, value)
}

// Update replaces the value for an existing key
func (s *Service) Update(ctx context.Context, userID, key, newValue string) error {
	return s.store.UpdateMemory(ctx, userID, key, newValue)
}

// Delete removes a memory by key
func (s *Service) Delete(ctx context.Context, userID, key string) error {
	return s.store.DeleteMemory(ctx, userID, key)
}

// Relevant returns memories matching the query, trimmed for prompt use
func (s *Service) Relevant(ctx context.Context, userID, query string, limit int) ([]types.MemoryView, error) {
	mems, err := s.store.SearchMemories(ctx, userID, query, limit)
	if err != nil {
		return nil, err
	}
	views := make([]types.MemoryView, 0, len(mems))
	for _, m := range mems {
		key := m.Key
		if len(key) > 50 {
			key = key[:50]
		}
		value := m.Value
		if len(value) > 200 {
			value = value[:200]
		}
		views = append(views, types.MemoryView{Key: key, Value: value, Category: m.Category})
	}
	return views, nil
}
