package pipeline

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mindloop/aria/internal/logging"
	"github.com/mindloop/aria/internal/types"
)

// Fetch sources. Each one covers a single context slice; a nil source simply
// contributes nothing.
type (
	// HistorySource returns recent conversation turns, oldest first
	HistorySource interface {
		RecentTurns(ctx context.Context, userID string, n int) ([]types.Turn, error)
	}
	// MemorySource returns memories relevant to the message
	MemorySource interface {
		Relevant(ctx context.Context, userID, query string, limit int) ([]types.MemoryView, error)
	}
	// TaskSource returns pending tasks in priority order
	TaskSource interface {
		PendingTasks(ctx context.Context, userID string, limit int) ([]types.TaskView, error)
	}
	// EventSource returns calendar events for the window the message implies
	EventSource interface {
		UpcomingEvents(ctx context.Context, maxResults, daysAhead int) ([]types.CalendarEvent, error)
		EventsForDate(ctx context.Context, date time.Time) ([]types.CalendarEvent, error)
	}
	// ContactSource returns the user's contact book
	ContactSource interface {
		Contacts(ctx context.Context, userID string) (map[string]string, error)
	}
)

// Speculative fetch triggers. These run before routing finishes, so they key
// off the raw message text.
var (
	fetchCalendarKeywords = []string{"calendar", "schedule", "meeting", "busy", "free", "available",
		"today", "tomorrow", "monday", "tuesday", "wednesday", "thursday",
		"friday", "saturday", "sunday", "week", "appointment", "event"}
	fetchTaskKeywords = []string{"task", "remind", "reminder", "todo", "to-do", "to do", "deadline",
		"priority", "overwhelm", "focus", "busy", "work", "complete", "done",
		"finish", "pending"}
	fetchEmailKeywords = []string{"email", "mail", "send", "draft", "reply", "message", "write to",
		"contact"}
)

// Limits applied to each fetch. Task discussion sessions widen these.
type FetchLimits struct {
	History  int
	Tasks    int
	Memories int
}

// DefaultLimits are used outside discussion sessions
var DefaultLimits = FetchLimits{History: 10, Tasks: 10, Memories: 5}

// SessionLimits widen context during a task discussion session
var SessionLimits = FetchLimits{History: 15, Tasks: 15, Memories: 15}

// Fetcher is the second pipeline stage: parallel, speculative context
// retrieval with graceful degradation. No LLM calls here.
type Fetcher struct {
	History  HistorySource
	Memories MemorySource
	Tasks    TaskSource
	Events   EventSource
	Contacts ContactSource
}

// Fetch gathers context for a message. Sub-fetch failures never fail the
// whole fetch; they are logged, recorded in FetchErrors, and leave that
// slice of context empty.
func (f *Fetcher) Fetch(ctx context.Context, userID, text string, limits FetchLimits) *types.FetchedContext {
	lower := strings.ToLower(text)
	fc := &types.FetchedContext{
		Contacts: map[string]string{},
		Now:      time.Now(),
	}

	var mu sync.Mutex
	degrade := func(what string, err error) {
		logging.Errorf("[Fetcher] %s fetch failed: %v", what, err)
		mu.Lock()
		fc.FetchErrors = append(fc.FetchErrors, what)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	if f.History != nil {
		g.Go(func() error {
			turns, err := f.History.RecentTurns(gctx, userID, limits.History)
			if err != nil {
				degrade("history", err)
				return nil
			}
			fc.History = turns
			return nil
		})
	}

	// Memories always fetch, for personalization
	if f.Memories != nil {
		g.Go(func() error {
			mems, err := f.Memories.Relevant(gctx, userID, text, limits.Memories)
			if err != nil {
				degrade("memories", err)
				return nil
			}
			fc.Memories = mems
			return nil
		})
	}

	if f.Tasks != nil && containsAny(lower, fetchTaskKeywords) {
		g.Go(func() error {
			tv, err := f.Tasks.PendingTasks(gctx, userID, limits.Tasks)
			if err != nil {
				degrade("tasks", err)
				return nil
			}
			fc.Tasks = tv
			return nil
		})
	}

	if f.Events != nil && containsAny(lower, fetchCalendarKeywords) {
		g.Go(func() error {
			events, err := f.fetchEvents(gctx, lower, fc.Now)
			if err != nil {
				degrade("calendar", err)
				return nil
			}
			fc.Events = events
			return nil
		})
	}

	if f.Contacts != nil && containsAny(lower, fetchEmailKeywords) {
		g.Go(func() error {
			contacts, err := f.Contacts.Contacts(gctx, userID)
			if err != nil {
				degrade("contacts", err)
				return nil
			}
			fc.Contacts = contacts
			return nil
		})
	}

	g.Wait()
	return fc
}

// fetchEvents narrows the calendar window when the message names a day
func (f *Fetcher) fetchEvents(ctx context.Context, lower string, now time.Time) ([]types.CalendarEvent, error) {
	switch {
	case strings.Contains(lower, "tomorrow"):
		return f.Events.EventsForDate(ctx, now.AddDate(0, 0, 1))
	case strings.Contains(lower, "today"):
		return f.Events.EventsForDate(ctx, now)
	default:
		return f.Events.UpcomingEvents(ctx, 10, 7)
	}
}

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
