package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mindloop/aria/internal/db"
)

func testService(t *testing.T) (*Service, *db.Store) {
	t.Helper()
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return New(store), store
}

func TestStoreDefaults(t *testing.T) {
	svc, store := testService(t)
	ctx := context.Background()

	// Empty category and key fall back to knowledge / generated key
	if err := svc.Store(ctx, "u1", "", "", "likes espresso"); err != nil {
		t.Fatalf("store: %v", err)
	}
	mems, err := store.SearchMemories(ctx, "u1", "espresso", 5)
	if err != nil || len(mems) != 1 {
		t.Fatalf("mems = %v, err = %v", mems, err)
	}
	if mems[0].Category != "knowledge" || !strings.HasPrefix(mems[0].Key, "fact_") {
		t.Fatalf("stored = %+v", mems[0])
	}
}

func TestRelevantTrimsForPrompt(t *testing.T) {
	svc, _ := testService(t)
	ctx := context.Background()

	longKey := strings.Repeat("k", 80)
	longValue := strings.Repeat("v", 300)
	if err := svc.Store(ctx, "u1", "fact", longKey, longValue); err != nil {
		t.Fatalf("store: %v", err)
	}

	views, err := svc.Relevant(ctx, "u1", longKey[:20], 5)
	if err != nil || len(views) != 1 {
		t.Fatalf("views = %v, err = %v", views, err)
	}
	if len(views[0].Key) != 50 || len(views[0].Value) != 200 {
		t.Fatalf("trimmed to key %d value %d", len(views[0].Key), len(views[0].Value))
	}
}
