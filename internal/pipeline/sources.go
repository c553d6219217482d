package pipeline

import (
	"context"
	"time"

	"github.com/mindloop/aria/internal/db"
	"github.com/mindloop/aria/internal/services/calendar"
	"github.com/mindloop/aria/internal/tasks"
	"github.com/mindloop/aria/internal/types"
)

// Adapters from the storage and domain services to the fetch sources. The
// memory service implements MemorySource directly.

// StoreHistory reads conversation turns from the store
type StoreHistory struct {
	Store *db.Store
}

func (s *StoreHistory) RecentTurns(ctx context.Context, userID string, n int) ([]types.Turn, error) {
	entries, err := s.Store.RecentConversations(ctx, userID, n)
	if err != nil {
		return nil, err
	}
	turns := make([]types.Turn, 0, len(entries))
	for _, e := range entries {
		role := "user"
		if e.MessageType == "assistant" {
			role = "assistant"
		}
		turns = append(turns, types.Turn{Role: role, Content: e.Content})
	}
	return turns, nil
}

// StoreContacts reads the contact book from the store
type StoreContacts struct {
	Store *db.Store
}

func (s *StoreContacts) Contacts(ctx context.Context, userID string) (map[string]string, error) {
	return s.Store.ListContacts(ctx, userID)
}

// TaskContext serves pending tasks as prompt views
type TaskContext struct {
	Tasks *tasks.Service
}

func (t *TaskContext) PendingTasks(ctx context.Context, userID string, limit int) ([]types.TaskView, error) {
	pending, err := t.Tasks.Prioritized(ctx, userID, limit, "pending")
	if err != nil {
		return nil, err
	}
	views := make([]types.TaskView, 0, len(pending))
	for _, task := range pending {
		v := types.TaskView{
			ID:       task.TaskID,
			Title:    truncate(task.Title, 100),
			Priority: task.Priority,
			Status:   task.Status,
			Progress: task.ProgressPercent,
		}
		if task.Deadline != nil {
			v.Deadline = task.Deadline.Format("2006-01-02 15:04")
		}
		views = append(views, v)
	}
	return views, nil
}

// CalendarContext serves calendar events as prompt views
type CalendarContext struct {
	Calendar *calendar.Service
}

func (c *CalendarContext) UpcomingEvents(ctx context.Context, maxResults, daysAhead int) ([]types.CalendarEvent, error) {
	events, err := c.Calendar.Upcoming(ctx, maxResults, daysAhead)
	if err != nil {
		return nil, err
	}
	return eventViews(events), nil
}

func (c *CalendarContext) EventsForDate(ctx context.Context, date time.Time) ([]types.CalendarEvent, error) {
	events, err := c.Calendar.EventsForDate(ctx, date)
	if err != nil {
		return nil, err
	}
	return eventViews(events), nil
}

func eventViews(events []calendar.Event) []types.CalendarEvent {
	views := make([]types.CalendarEvent, 0, len(events))
	for _, e := range events {
		views = append(views, e.View())
	}
	return views
}
