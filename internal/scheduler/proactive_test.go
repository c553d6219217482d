package scheduler

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mindloop/aria/internal/db"
	"github.com/mindloop/aria/internal/pipeline"
	"github.com/mindloop/aria/internal/tasks"
)

type fakeNotifier struct {
	mu   sync.Mutex
	sent []string
}

func (f *fakeNotifier) Notify(_ context.Context, _ string, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func testScheduler(t *testing.T) (*Scheduler, *db.Store, *tasks.Service, *fakeNotifier) {
	t.Helper()
	store, err := db.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	taskSvc := tasks.New(store)
	notifier := &fakeNotifier{}
	s := &Scheduler{
		Store:    store,
		Tasks:    taskSvc,
		Sessions: pipeline.NewSessionManager(0),
		Locks:    pipeline.NewUserLocks(),
		Notify:   notifier,
		Location: time.UTC,
	}
	return s, store, taskSvc, notifier
}

func TestDailySummaryOncePerDay(t *testing.T) {
	s, store, taskSvc, notifier := testScheduler(t)
	ctx := context.Background()

	store.UpsertUser(ctx, "u1", 1, "sam")
	deadline := time.Date(2026, 3, 2, 17, 0, 0, 0, time.UTC)
	taskSvc.Create(ctx, "u1", tasks.CreateParams{Title: "Write report", Priority: "high", Deadline: &deadline})

	// 08:05, within the summary hour and outside check-in hours
	now := time.Date(2026, 3, 2, 8, 5, 0, 0, time.UTC)
	s.Tick(ctx, now)
	if notifier.count() != 1 {
		t.Fatalf("sent = %d, want one summary", notifier.count())
	}
	if !strings.Contains(notifier.sent[0], "GOOD MORNING") || !strings.Contains(notifier.sent[0], "Write report") {
		t.Fatalf("summary = %q", notifier.sent[0])
	}

	// Another tick in the same hour does not repeat
	s.Tick(ctx, now.Add(time.Minute))
	if notifier.count() != 1 {
		t.Fatalf("sent = %d, summary repeated within the day", notifier.count())
	}

	// Next day fires again
	s.Tick(ctx, now.AddDate(0, 0, 1))
	if notifier.count() != 2 {
		t.Fatalf("sent = %d, want a second summary next day", notifier.count())
	}
}

func TestBuildSummaryEmpty(t *testing.T) {
	s, store, _, _ := testScheduler(t)
	ctx := context.Background()
	store.UpsertUser(ctx, "u1", 1, "sam")

	text, empty := s.BuildSummary(ctx, "u1", time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	if !empty || text != "" {
		t.Fatalf("got (%q, %v), want empty", text, empty)
	}
}

func TestBuildSummaryOverdueWarning(t *testing.T) {
	s, store, taskSvc, _ := testScheduler(t)
	ctx := context.Background()
	store.UpsertUser(ctx, "u1", 1, "sam")

	past := time.Date(2026, 2, 25, 9, 0, 0, 0, time.UTC)
	taskSvc.Create(ctx, "u1", tasks.CreateParams{Title: "Expense report", Priority: "medium", Deadline: &past})

	text, empty := s.BuildSummary(ctx, "u1", time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC))
	if empty {
		t.Fatal("summary empty with an overdue task")
	}
	if !strings.Contains(text, "WARNING: 1 overdue task(s)") || !strings.Contains(text, "/deadlines") {
		t.Fatalf("summary = %q", text)
	}
	if !strings.Contains(text, "Expense report (overdue!)") {
		t.Fatalf("overdue task not in focus: %q", text)
	}
}

func TestCheckinOpensSession(t *testing.T) {
	s, store, taskSvc, notifier := testScheduler(t)
	ctx := context.Background()
	store.UpsertUser(ctx, "u1", 1, "sam")
	created, _ := taskSvc.Create(ctx, "u1", tasks.CreateParams{Title: "Tax filing", Priority: "high"})

	// 14:10 is a default check-in hour
	now := time.Date(2026, 3, 2, 14, 10, 0, 0, time.UTC)
	s.Tick(ctx, now)
	if notifier.count() != 1 {
		t.Fatalf("sent = %d, want one check-in", notifier.count())
	}
	if !strings.Contains(notifier.sent[0], "Tax filing") || !strings.Contains(notifier.sent[0], `"blocked"`) {
		t.Fatalf("check-in = %q", notifier.sent[0])
	}

	session := s.Sessions.Get("u1")
	if session == nil || session.TaskID != created.TaskID {
		t.Fatalf("session = %+v, want opened for the task", session)
	}

	// Same hour never double-fires
	s.Tick(ctx, now.Add(time.Minute))
	if notifier.count() != 1 {
		t.Fatalf("sent = %d, check-in repeated in the same hour", notifier.count())
	}
}

func TestCheckinRespectsUserOff(t *testing.T) {
	s, store, taskSvc, notifier := testScheduler(t)
	ctx := context.Background()
	store.UpsertUser(ctx, "u1", 1, "sam")
	taskSvc.Create(ctx, "u1", tasks.CreateParams{Title: "Tax filing", Priority: "high"})
	store.SetUserSetting(ctx, "u1", "checkin_hours", "off")

	s.Tick(ctx, time.Date(2026, 3, 2, 14, 10, 0, 0, time.UTC))
	if notifier.count() != 0 {
		t.Fatalf("sent = %d, want none with check-ins off", notifier.count())
	}
}

func TestDeadlineReminderOnce(t *testing.T) {
	s, store, taskSvc, notifier := testScheduler(t)
	ctx := context.Background()
	store.UpsertUser(ctx, "u1", 1, "sam")

	now := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	soon := now.Add(30 * time.Minute)
	taskSvc.Create(ctx, "u1", tasks.CreateParams{Title: "Submit form", Priority: "medium", Deadline: &soon})

	s.sendDeadlineReminders(ctx, &db.User{UserID: "u1", ChatID: 1}, s.loadConfig(ctx), now)
	if notifier.count() != 1 || !strings.Contains(notifier.sent[0], "Submit form") {
		t.Fatalf("sent = %v", notifier.sent)
	}

	// The reminded_at marker suppresses a second reminder
	s.sendDeadlineReminders(ctx, &db.User{UserID: "u1", ChatID: 1}, s.loadConfig(ctx), now.Add(time.Minute))
	if notifier.count() != 1 {
		t.Fatalf("sent = %d, reminder re-fired", notifier.count())
	}
}

func TestReminderSkipsFarDeadlines(t *testing.T) {
	s, store, taskSvc, notifier := testScheduler(t)
	ctx := context.Background()
	store.UpsertUser(ctx, "u1", 1, "sam")

	now := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	far := now.Add(5 * time.Hour)
	passed := now.Add(-time.Hour)
	taskSvc.Create(ctx, "u1", tasks.CreateParams{Title: "Far away", Deadline: &far})
	taskSvc.Create(ctx, "u1", tasks.CreateParams{Title: "Already late", Deadline: &passed})

	s.sendDeadlineReminders(ctx, &db.User{UserID: "u1", ChatID: 1}, s.loadConfig(ctx), now)
	if notifier.count() != 0 {
		t.Fatalf("sent = %v, want none", notifier.sent)
	}
}

func TestRecurringRegenerationNotifies(t *testing.T) {
	s, store, taskSvc, notifier := testScheduler(t)
	ctx := context.Background()
	store.UpsertUser(ctx, "u1", 1, "sam")

	created, _ := taskSvc.Create(ctx, "u1", tasks.CreateParams{
		Title: "Water plants", IsRecurring: true, RecurrencePattern: "daily_0900",
	})
	taskSvc.Complete(ctx, "u1", created.TaskID)

	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	s.regenerateRecurring(ctx, &db.User{UserID: "u1", ChatID: 1}, now)
	if notifier.count() != 1 || !strings.Contains(notifier.sent[0], "Water plants") {
		t.Fatalf("sent = %v", notifier.sent)
	}

	// Idempotent: the successor already exists
	s.regenerateRecurring(ctx, &db.User{UserID: "u1", ChatID: 1}, now)
	if notifier.count() != 1 {
		t.Fatalf("sent = %d, successor duplicated", notifier.count())
	}
}

func TestLoadConfigLiveValues(t *testing.T) {
	s, store, _, _ := testScheduler(t)
	ctx := context.Background()

	cfg := s.loadConfig(ctx)
	if cfg.summaryHour != 8 || cfg.archiveDays != 7 || cfg.reminderLead != time.Hour {
		t.Fatalf("defaults = %+v", cfg)
	}

	store.SetGlobalConfig(ctx, "daily_summary_hour", "7")
	store.SetGlobalConfig(ctx, "checkin_hours", "10,15")
	store.SetGlobalConfig(ctx, "reminder_lead_mins", "30")

	cfg = s.loadConfig(ctx)
	if cfg.summaryHour != 7 || len(cfg.checkinHours) != 2 || cfg.reminderLead != 30*time.Minute {
		t.Fatalf("live config = %+v", cfg)
	}
}
