package db

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestUserSettings(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.UpsertUser(ctx, "u1", 42, "sam"); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Upsert again with a new chat id
	if err := store.UpsertUser(ctx, "u1", 43, "sam"); err != nil {
		t.Fatalf("re-upsert: %v", err)
	}
	users, err := store.ListUsers(ctx)
	if err != nil || len(users) != 1 {
		t.Fatalf("users = %v, err = %v", users, err)
	}
	if users[0].ChatID != 43 {
		t.Fatalf("chat id = %d, want updated 43", users[0].ChatID)
	}

	if v, _ := store.UserSetting(ctx, "u1", "checkin_hours"); v != "" {
		t.Fatalf("unset setting = %q, want empty", v)
	}
	if err := store.SetUserSetting(ctx, "u1", "checkin_hours", "9,14"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := store.SetUserSetting(ctx, "u1", "checkin_hours", "10"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if v, _ := store.UserSetting(ctx, "u1", "checkin_hours"); v != "10" {
		t.Fatalf("setting = %q, want 10", v)
	}
}

func TestGlobalConfig(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if v, _ := store.GlobalConfig(ctx, "daily_summary_hour", "8"); v != "8" {
		t.Fatalf("fallback = %q, want 8", v)
	}
	if err := store.SetGlobalConfig(ctx, "daily_summary_hour", "7"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if v, _ := store.GlobalConfig(ctx, "daily_summary_hour", "8"); v != "7" {
		t.Fatalf("config = %q, want 7", v)
	}
}

func TestTaskLifecycle(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	deadline := time.Date(2026, 3, 10, 17, 0, 0, 0, time.UTC)

	task := &Task{
		TaskID:   "t1",
		UserID:   "u1",
		Title:    "Write report",
		Priority: "high",
		Status:   "pending",
		Deadline: &deadline,
	}
	if err := store.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.GetTask(ctx, "u1", "t1")
	if err != nil || got == nil {
		t.Fatalf("get: %v %v", got, err)
	}
	if got.Title != "Write report" || got.Deadline == nil || !got.Deadline.Equal(deadline) {
		t.Fatalf("got %+v", got)
	}

	// Wrong user sees nothing
	if got, _ := store.GetTask(ctx, "u2", "t1"); got != nil {
		t.Fatalf("cross-user read: %+v", got)
	}

	if err := store.UpdateTaskFields(ctx, "u1", "t1", map[string]any{"progress_percent": 40}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.GetTask(ctx, "u1", "t1")
	if got.ProgressPercent != 40 {
		t.Fatalf("progress = %d", got.ProgressPercent)
	}

	if err := store.UpdateTaskFields(ctx, "u1", "missing", map[string]any{"notes": "x"}); err == nil {
		t.Fatal("update of missing task must fail")
	}
}

func TestArchiveAndSearch(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	task := &Task{TaskID: "t1", UserID: "u1", Title: "Quarterly numbers", Priority: "medium", Status: "complete"}
	if err := store.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.ArchiveTask(ctx, "u1", "t1", "completed > 7 days"); err != nil {
		t.Fatalf("archive: %v", err)
	}

	// Archived tasks disappear from the active list
	active, err := store.TasksByUser(ctx, "u1", "all")
	if err != nil || len(active) != 0 {
		t.Fatalf("active = %v, err = %v", active, err)
	}

	found, err := store.SearchArchivedTasks(ctx, "u1", "quarterly", 10)
	if err != nil || len(found) != 1 || found[0].Title != "Quarterly numbers" {
		t.Fatalf("found = %v, err = %v", found, err)
	}
}

func TestSuccessorExists(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()
	deadline := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	exists, err := store.SuccessorExists(ctx, "parent", deadline)
	if err != nil || exists {
		t.Fatalf("exists = %v, err = %v", exists, err)
	}
	succ := &Task{TaskID: "t2", UserID: "u1", Title: "Standup notes", Priority: "low",
		Status: "pending", Deadline: &deadline, ParentTaskID: "parent"}
	if err := store.InsertTask(ctx, succ); err != nil {
		t.Fatalf("insert: %v", err)
	}
	exists, err = store.SuccessorExists(ctx, "parent", deadline)
	if err != nil || !exists {
		t.Fatalf("exists = %v, err = %v", exists, err)
	}
}

func TestConversationLog(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	for _, entry := range []struct{ typ, content string }{
		{"user", "add a task"},
		{"assistant", "Added it."},
		{"user", "thanks"},
	} {
		if err := store.AppendConversation(ctx, "u1", entry.typ, entry.content); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	got, err := store.RecentConversations(ctx, "u1", 2)
	if err != nil || len(got) != 2 {
		t.Fatalf("got %v, err %v", got, err)
	}
	// Oldest first within the window
	if got[0].Content != "Added it." || got[1].Content != "thanks" {
		t.Fatalf("order wrong: %q, %q", got[0].Content, got[1].Content)
	}
}

func TestMemories(t *testing.T) {
	store := testStore(t)
	ctx := context.Background()

	if err := store.StoreMemory(ctx, "u1", "preference", "favorite_color", "blue"); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := store.StoreMemory(ctx, "u1", "fact", "employer", "Acme Corp"); err != nil {
		t.Fatalf("store: %v", err)
	}

	found, err := store.SearchMemories(ctx, "u1", "what's my favorite color?", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(found) == 0 {
		t.Fatal("no memories matched")
	}

	if err := store.UpdateMemory(ctx, "u1", "favorite_color", "green"); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := store.DeleteMemory(ctx, "u1", "favorite_color"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteMemory(ctx, "u1", "favorite_color"); err == nil {
		t.Fatal("deleting a missing memory must fail")
	}
}

func TestParseCheckinHours(t *testing.T) {
	tests := []struct {
		in   string
		want []int
	}{
		{"9,14,18", []int{9, 14, 18}},
		{"18, 9", []int{9, 18}},
		{"off", []int{}},
		{"9,borked,25", []int{9}},
	}
	for _, tt := range tests {
		got := ParseCheckinHours(tt.in)
		if len(got) != len(tt.want) {
			t.Errorf("ParseCheckinHours(%q) = %v, want %v", tt.in, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ParseCheckinHours(%q) = %v, want %v", tt.in, got, tt.want)
			}
		}
	}
}
