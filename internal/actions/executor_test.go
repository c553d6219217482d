package actions

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/mindloop/aria/internal/db"
	"github.com/mindloop/aria/internal/memory"
	"github.com/mindloop/aria/internal/services/calendar"
	"github.com/mindloop/aria/internal/services/email"
	"github.com/mindloop/aria/internal/services/notes"
	"github.com/mindloop/aria/internal/tasks"
	"github.com/mindloop/aria/internal/types"
)

func testExecutor(t *testing.T) (*Executor, *db.Store) {
	t.Helper()
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return &Executor{
		Tasks:  tasks.New(store),
		Memory: memory.New(store),
	}, store
}

func action(domain types.Domain, name string, params map[string]any) types.PlannedAction {
	return types.PlannedAction{Domain: domain, Name: name, Params: params}
}

func TestExecuteTaskCreate(t *testing.T) {
	e, store := testExecutor(t)
	ctx := context.Background()

	out := e.Execute(ctx, "u1", action(types.DomainTask, "create", map[string]any{
		"title":    "Buy milk",
		"priority": "low",
		"deadline": "2026-03-10T17:00:00",
	}))
	if !out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Result["title"] != "Buy milk" {
		t.Fatalf("result = %v", out.Result)
	}

	stored, err := store.TasksByUser(ctx, "u1", "pending")
	if err != nil || len(stored) != 1 {
		t.Fatalf("stored = %v, err = %v", stored, err)
	}
	if stored[0].Deadline == nil || stored[0].Deadline.Day() != 10 {
		t.Fatalf("deadline = %v", stored[0].Deadline)
	}
}

func TestExecuteTaskCreateRecurring(t *testing.T) {
	e, store := testExecutor(t)
	ctx := context.Background()

	out := e.Execute(ctx, "u1", action(types.DomainTask, "create", map[string]any{
		"title":              "Water plants",
		"recurrence_pattern": "daily_0900",
	}))
	if !out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	stored, _ := store.TasksByUser(ctx, "u1", "pending")
	if len(stored) != 1 || !stored[0].IsRecurring || stored[0].Deadline == nil {
		t.Fatalf("stored = %+v", stored[0])
	}
}

func TestExecuteTaskCompleteByFindBy(t *testing.T) {
	e, _ := testExecutor(t)
	ctx := context.Background()

	e.Execute(ctx, "u1", action(types.DomainTask, "create", map[string]any{"title": "Quarterly report"}))
	out := e.Execute(ctx, "u1", action(types.DomainTask, "complete", map[string]any{"find_by": "quarterly"}))
	if !out.Success || out.Result["title"] != "Quarterly report" {
		t.Fatalf("outcome = %+v", out)
	}

	out = e.Execute(ctx, "u1", action(types.DomainTask, "complete", map[string]any{"find_by": "nonexistent"}))
	if out.Success || out.Error == "" {
		t.Fatalf("outcome = %+v, want clean failure", out)
	}
}

func TestExecuteTaskUpdateProgress(t *testing.T) {
	e, store := testExecutor(t)
	ctx := context.Background()

	e.Execute(ctx, "u1", action(types.DomainTask, "create", map[string]any{"title": "Report"}))
	out := e.Execute(ctx, "u1", action(types.DomainTask, "update", map[string]any{
		"find_by": "report",
		"changes": map[string]any{"progress": float64(60)},
	}))
	if !out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	stored, _ := store.TasksByUser(ctx, "u1", "pending")
	if stored[0].ProgressPercent != 60 {
		t.Fatalf("progress = %d", stored[0].ProgressPercent)
	}
}

func TestExecuteMemoryRoundTrip(t *testing.T) {
	e, _ := testExecutor(t)
	ctx := context.Background()

	out := e.Execute(ctx, "u1", action(types.DomainMemory, "store", map[string]any{
		"category": "preference", "key": "favorite_color", "value": "blue",
	}))
	if !out.Success {
		t.Fatalf("store = %+v", out)
	}
	out = e.Execute(ctx, "u1", action(types.DomainMemory, "update", map[string]any{
		"key": "favorite_color", "new_value": "green",
	}))
	if !out.Success {
		t.Fatalf("update = %+v", out)
	}
	out = e.Execute(ctx, "u1", action(types.DomainMemory, "delete", map[string]any{"key": "favorite_color"}))
	if !out.Success {
		t.Fatalf("delete = %+v", out)
	}
	out = e.Execute(ctx, "u1", action(types.DomainMemory, "delete", map[string]any{"key": "favorite_color"}))
	if out.Success {
		t.Fatalf("deleting twice = %+v, want failure", out)
	}
}

func TestExecuteUnconfiguredService(t *testing.T) {
	e, _ := testExecutor(t)
	ctx := context.Background()

	out := e.Execute(ctx, "u1", action(types.DomainCalendar, "list_events", nil))
	if out.Success || out.Error != "calendar service not configured" {
		t.Fatalf("outcome = %+v", out)
	}
	out = e.Execute(ctx, "u1", action(types.DomainEmail, "create_draft", nil))
	if out.Success {
		t.Fatalf("outcome = %+v", out)
	}
}

func TestExecuteUnknownAction(t *testing.T) {
	e, _ := testExecutor(t)
	out := e.Execute(context.Background(), "u1", action(types.DomainTask, "explode", nil))
	if out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	out = e.Execute(context.Background(), "u1", action("weather", "forecast", nil))
	if out.Success {
		t.Fatalf("outcome = %+v", out)
	}
}

type panickyNotes struct{}

func (panickyNotes) Create(context.Context, string, string) (*notes.Note, error) {
	panic("boom")
}
func (panickyNotes) FindByTitle(context.Context, string) (*notes.Note, error) { return nil, nil }
func (panickyNotes) Delete(context.Context, string) error                     { return nil }

func TestExecuteRecoversPanic(t *testing.T) {
	e, _ := testExecutor(t)
	e.Notes = panickyNotes{}

	out := e.Execute(context.Background(), "u1", action(types.DomainNotes, "create_note", map[string]any{"title": "x"}))
	if out.Success {
		t.Fatalf("outcome = %+v", out)
	}
	if out.Error != fmt.Sprintf("internal error: %v", "boom") {
		t.Fatalf("error = %q", out.Error)
	}
}

func TestExecuteAllOrder(t *testing.T) {
	e, _ := testExecutor(t)
	ctx := context.Background()

	outcomes := e.ExecuteAll(ctx, "u1", []types.PlannedAction{
		action(types.DomainTask, "create", map[string]any{"title": "A"}),
		action(types.DomainMemory, "store", map[string]any{"key": "k", "value": "v"}),
	})
	if len(outcomes) != 2 || outcomes[0].Name != "create" || outcomes[1].Name != "store" {
		t.Fatalf("outcomes = %+v", outcomes)
	}
}

type fakeCalendar struct {
	events  []calendar.Event
	deleted []string
}

func (f *fakeCalendar) Upcoming(_ context.Context, _, _ int) ([]calendar.Event, error) {
	return f.events, nil
}
func (f *fakeCalendar) Create(_ context.Context, p calendar.CreateParams) (*calendar.Event, error) {
	ev := calendar.Event{ID: "ev1", Summary: p.Summary, Start: p.Start.Format("2006-01-02T15:04:05Z07:00")}
	f.events = append(f.events, ev)
	return &ev, nil
}
func (f *fakeCalendar) Update(_ context.Context, eventID string, p calendar.UpdateParams) (*calendar.Event, error) {
	return &calendar.Event{ID: eventID, Summary: p.Summary}, nil
}
func (f *fakeCalendar) Delete(_ context.Context, eventID string) error {
	f.deleted = append(f.deleted, eventID)
	return nil
}
func (f *fakeCalendar) FindBySummary(_ context.Context, term string) (*calendar.Event, error) {
	for _, ev := range f.events {
		if ev.Summary == term {
			e := ev
			return &e, nil
		}
	}
	return nil, nil
}

func TestExecuteCalendarCreateAndDelete(t *testing.T) {
	e, _ := testExecutor(t)
	cal := &fakeCalendar{}
	e.Calendar = cal
	ctx := context.Background()

	out := e.Execute(ctx, "u1", action(types.DomainCalendar, "create_event", map[string]any{
		"summary": "Dentist", "start_time": "2026-03-10T14:00:00",
	}))
	if !out.Success || out.Result["summary"] != "Dentist" {
		t.Fatalf("create = %+v", out)
	}

	// Missing start time fails cleanly
	out = e.Execute(ctx, "u1", action(types.DomainCalendar, "create_event", map[string]any{"summary": "x"}))
	if out.Success || out.Error != "start time required" {
		t.Fatalf("create without start = %+v", out)
	}

	// Delete by search term
	out = e.Execute(ctx, "u1", action(types.DomainCalendar, "delete_event", map[string]any{"find_by": "Dentist"}))
	if !out.Success {
		t.Fatalf("delete = %+v", out)
	}
	if len(cal.deleted) != 1 || cal.deleted[0] != "ev1" {
		t.Fatalf("deleted = %v", cal.deleted)
	}

	// Explicit event_id skips the lookup
	out = e.Execute(ctx, "u1", action(types.DomainCalendar, "delete_event", map[string]any{"event_id": "ev9"}))
	if !out.Success || cal.deleted[len(cal.deleted)-1] != "ev9" {
		t.Fatalf("delete by id = %+v, deleted = %v", out, cal.deleted)
	}

	out = e.Execute(ctx, "u1", action(types.DomainCalendar, "delete_event", map[string]any{"find_by": "Nothing"}))
	if out.Success {
		t.Fatalf("delete missing = %+v", out)
	}
}

type fakeEmail struct {
	inbound *email.Inbound
	sent    []string
	drafts  []string
}

func (f *fakeEmail) CreateDraft(_ context.Context, _, to, subject, _ string) (string, error) {
	f.drafts = append(f.drafts, to+": "+subject)
	return "d1", nil
}
func (f *fakeEmail) Send(_ context.Context, _, to, subject, _ string) (string, error) {
	f.sent = append(f.sent, to+": "+subject)
	return "m1", nil
}
func (f *fakeEmail) FindFromSender(_ context.Context, sender string) (*email.Inbound, error) {
	if f.inbound != nil && f.inbound.FromName == sender {
		return f.inbound, nil
	}
	return nil, nil
}
func (f *fakeEmail) CreateReplyDraft(_ context.Context, original *email.Inbound, _ string) (string, error) {
	f.drafts = append(f.drafts, "reply to "+original.FromEmail)
	return "d2", nil
}

func TestExecuteEmailReply(t *testing.T) {
	e, _ := testExecutor(t)
	mail := &fakeEmail{inbound: &email.Inbound{FromName: "Alice", FromEmail: "alice@example.com"}}
	e.Email = mail
	ctx := context.Background()

	out := e.Execute(ctx, "u1", action(types.DomainEmail, "reply_to_email", map[string]any{
		"sender_name": "Alice", "body": "Sounds good!",
	}))
	if !out.Success || out.Result["to"] != "alice@example.com" {
		t.Fatalf("reply = %+v", out)
	}
	if len(mail.drafts) != 1 || mail.drafts[0] != "reply to alice@example.com" {
		t.Fatalf("drafts = %v", mail.drafts)
	}

	out = e.Execute(ctx, "u1", action(types.DomainEmail, "reply_to_email", map[string]any{
		"sender_name": "Bob", "body": "hi",
	}))
	if out.Success || out.Error != `no recent email from "Bob" found` {
		t.Fatalf("reply to unknown sender = %+v", out)
	}
}
