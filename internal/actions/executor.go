// Package actions executes planned actions against the domain services.
// Execution never returns an error to the pipeline; every action yields an
// outcome, failed or not, so the response stage can report honestly.
package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/mindloop/aria/internal/db"
	"github.com/mindloop/aria/internal/logging"
	"github.com/mindloop/aria/internal/memory"
	"github.com/mindloop/aria/internal/services/calendar"
	"github.com/mindloop/aria/internal/services/email"
	"github.com/mindloop/aria/internal/services/notes"
	"github.com/mindloop/aria/internal/tasks"
	"github.com/mindloop/aria/internal/types"
)

// CalendarAPI is the slice of the calendar service the executor needs
type CalendarAPI interface {
	Upcoming(ctx context.Context, maxResults, daysAhead int) ([]calendar.Event, error)
	Create(ctx context.Context, p calendar.CreateParams) (*calendar.Event, error)
	Update(ctx context.Context, eventID string, p calendar.UpdateParams) (*calendar.Event, error)
	Delete(ctx context.Context, eventID string) error
	FindBySummary(ctx context.Context, term string) (*calendar.Event, error)
}

// EmailAPI is the slice of the email service the executor needs
type EmailAPI interface {
	CreateDraft(ctx context.Context, userID, to, subject, body string) (string, error)
	Send(ctx context.Context, userID, to, subject, body string) (string, error)
	FindFromSender(ctx context.Context, sender string) (*email.Inbound, error)
	CreateReplyDraft(ctx context.Context, original *email.Inbound, body string) (string, error)
}

// NotesAPI is the slice of the notes service the executor needs
type NotesAPI interface {
	Create(ctx context.Context, title, text string) (*notes.Note, error)
	FindByTitle(ctx context.Context, term string) (*notes.Note, error)
	Delete(ctx context.Context, name string) error
}

// Executor dispatches planned actions to domain services. Unconfigured
// services (nil fields) fail their actions cleanly instead of panicking.
type Executor struct {
	Tasks    *tasks.Service
	Memory   *memory.Service
	Calendar CalendarAPI
	Email    EmailAPI
	Notes    NotesAPI

	// Timeout bounds each individual action call. Zero means 15s.
	Timeout time.Duration
}

// ExecuteAll runs every action in order and returns one outcome per action
func (e *Executor) ExecuteAll(ctx context.Context, userID string, plan []types.PlannedAction) []types.ActionOutcome {
	outcomes := make([]types.ActionOutcome, 0, len(plan))
	for _, a := range plan {
		outcomes = append(outcomes, e.Execute(ctx, userID, a))
	}
	return outcomes
}

// Execute runs a single action and always returns an outcome
func (e *Executor) Execute(ctx context.Context, userID string, a types.PlannedAction) (out types.ActionOutcome) {
	timeout := e.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logging.Errorf("[Actions] Panic in %s.%s: %v", a.Domain, a.Name, r)
			out = e.fail(a, fmt.Sprintf("internal error: %v", r))
		}
	}()

	var result map[string]any
	var err error
	switch a.Domain {
	case types.DomainTask:
		result, err = e.taskAction(ctx, userID, a)
	case types.DomainCalendar:
		result, err = e.calendarAction(ctx, a)
	case types.DomainEmail:
		result, err = e.emailAction(ctx, userID, a)
	case types.DomainMemory:
		result, err = e.memoryAction(ctx, userID, a)
	case types.DomainNotes:
		result, err = e.notesAction(ctx, a)
	default:
		err = fmt.Errorf("unknown domain: %s", a.Domain)
	}

	if err != nil {
		logging.Errorf("[Actions] %s.%s failed: %v", a.Domain, a.Name, err)
		return e.fail(a, err.Error())
	}
	return types.ActionOutcome{Domain: a.Domain, Name: a.Name, Success: true, Result: result}
}

func (e *Executor) fail(a types.PlannedAction, msg string) types.ActionOutcome {
	return types.ActionOutcome{Domain: a.Domain, Name: a.Name, Success: false, Error: msg}
}

func (e *Executor) taskAction(ctx context.Context, userID string, a types.PlannedAction) (map[string]any, error) {
	if e.Tasks == nil {
		return nil, fmt.Errorf("task service not configured")
	}
	switch a.Name {
	case "create":
		p := tasks.CreateParams{
			Title:       a.StringParam("title", "New Task"),
			Description: a.StringParam("description", ""),
			Priority:    a.StringParam("priority", "medium"),
		}
		if d := a.StringParam("deadline", ""); d != "" {
			p.Deadline = tasks.ParseDeadline(d, time.Now())
		}
		if pat := a.StringParam("recurrence_pattern", ""); pat != "" {
			p.IsRecurring = true
			p.RecurrencePattern = pat
		}
		t, err := e.Tasks.Create(ctx, userID, p)
		if err != nil {
			return nil, err
		}
		return map[string]any{"task_id": t.TaskID, "title": t.Title}, nil

	case "complete":
		t, err := e.findTask(ctx, userID, a)
		if err != nil {
			return nil, err
		}
		if _, err := e.Tasks.Complete(ctx, userID, t.TaskID); err != nil {
			return nil, err
		}
		return map[string]any{"title": t.Title}, nil

	case "update":
		t, err := e.findTask(ctx, userID, a)
		if err != nil {
			return nil, err
		}
		changes, _ := a.Params["changes"].(map[string]any)
		if len(changes) == 0 {
			return nil, fmt.Errorf("no changes given")
		}
		for field, value := range changes {
			if field == "deadline" {
				if s, ok := value.(string); ok {
					if parsed := tasks.ParseDeadline(s, time.Now()); parsed != nil {
						value = *parsed
					}
				}
			}
			if field == "progress" {
				if pct, ok := value.(float64); ok {
					if err := e.Tasks.UpdateProgress(ctx, userID, t.TaskID, int(pct), ""); err != nil {
						return nil, err
					}
					continue
				}
			}
			if err := e.Tasks.UpdateField(ctx, userID, t.TaskID, field, value); err != nil {
				return nil, err
			}
		}
		return map[string]any{"title": t.Title}, nil

	case "delete":
		t, err := e.findTask(ctx, userID, a)
		if err != nil {
			return nil, err
		}
		if err := e.Tasks.Delete(ctx, userID, t.TaskID); err != nil {
			return nil, err
		}
		return map[string]any{"title": t.Title}, nil
	}
	return nil, fmt.Errorf("unknown task action: %s", a.Name)
}

func (e *Executor) findTask(ctx context.Context, userID string, a types.PlannedAction) (*db.Task, error) {
	term := a.StringParam("find_by", a.StringParam("title", ""))
	found, err := e.Tasks.FindByTitle(ctx, userID, term)
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("task not found: %q", term)
	}
	return found, nil
}

func (e *Executor) calendarAction(ctx context.Context, a types.PlannedAction) (map[string]any, error) {
	if e.Calendar == nil {
		return nil, fmt.Errorf("calendar service not configured")
	}
	switch a.Name {
	case "list_events":
		days := 7
		if d, ok := a.Params["days_ahead"].(float64); ok && d > 0 {
			days = int(d)
		}
		events, err := e.Calendar.Upcoming(ctx, 10, days)
		if err != nil {
			return nil, err
		}
		return map[string]any{"events": events, "formatted": calendar.FormatEvents(events)}, nil

	case "create_event":
		startStr := a.StringParam("start_time", "")
		start := tasks.ParseDeadline(startStr, time.Now())
		if start == nil {
			return nil, fmt.Errorf("start time required")
		}
		p := calendar.CreateParams{
			Summary:     a.StringParam("summary", "New Event"),
			Start:       *start,
			Description: a.StringParam("description", ""),
			Location:    a.StringParam("location", ""),
		}
		if endStr := a.StringParam("end_time", ""); endStr != "" {
			p.End = tasks.ParseDeadline(endStr, time.Now())
		}
		ev, err := e.Calendar.Create(ctx, p)
		if err != nil {
			return nil, err
		}
		return map[string]any{"summary": ev.Summary, "start": ev.Start}, nil

	case "update_event":
		ev, err := e.findEvent(ctx, a)
		if err != nil {
			return nil, err
		}
		p := calendar.UpdateParams{
			Summary:     a.StringParam("summary", ""),
			Description: a.StringParam("description", ""),
			Location:    a.StringParam("location", ""),
		}
		if s := a.StringParam("start_time", ""); s != "" {
			p.Start = tasks.ParseDeadline(s, time.Now())
		}
		if s := a.StringParam("end_time", ""); s != "" {
			p.End = tasks.ParseDeadline(s, time.Now())
		}
		updated, err := e.Calendar.Update(ctx, ev.ID, p)
		if err != nil {
			return nil, err
		}
		return map[string]any{"summary": updated.Summary}, nil

	case "delete_event":
		ev, err := e.findEvent(ctx, a)
		if err != nil {
			return nil, err
		}
		if err := e.Calendar.Delete(ctx, ev.ID); err != nil {
			return nil, err
		}
		return map[string]any{"summary": ev.Summary}, nil
	}
	return nil, fmt.Errorf("unknown calendar action: %s", a.Name)
}

func (e *Executor) findEvent(ctx context.Context, a types.PlannedAction) (*calendar.Event, error) {
	if id := a.StringParam("event_id", ""); id != "" {
		return &calendar.Event{ID: id, Summary: a.StringParam("find_by", "")}, nil
	}
	term := a.StringParam("find_by", a.StringParam("summary", ""))
	if term == "" {
		return nil, fmt.Errorf("event id or search term required")
	}
	ev, err := e.Calendar.FindBySummary(ctx, term)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, fmt.Errorf("event not found: %q", term)
	}
	return ev, nil
}

func (e *Executor) emailAction(ctx context.Context, userID string, a types.PlannedAction) (map[string]any, error) {
	if e.Email == nil {
		return nil, fmt.Errorf("email service not configured")
	}
	switch a.Name {
	case "create_draft":
		id, err := e.Email.CreateDraft(ctx, userID,
			a.StringParam("to", ""), a.StringParam("subject", ""), a.StringParam("body", ""))
		if err != nil {
			return nil, err
		}
		return map[string]any{"draft_id": id, "to": a.StringParam("to", ""), "subject": a.StringParam("subject", "")}, nil

	case "send_email":
		id, err := e.Email.Send(ctx, userID,
			a.StringParam("to", ""), a.StringParam("subject", ""), a.StringParam("body", ""))
		if err != nil {
			return nil, err
		}
		return map[string]any{"message_id": id, "to": a.StringParam("to", "")}, nil

	case "reply_to_email":
		sender := a.StringParam("sender_name", "")
		original, err := e.Email.FindFromSender(ctx, sender)
		if err != nil {
			return nil, err
		}
		if original == nil {
			return nil, fmt.Errorf("no recent email from %q found", sender)
		}
		id, err := e.Email.CreateReplyDraft(ctx, original, a.StringParam("body", ""))
		if err != nil {
			return nil, err
		}
		return map[string]any{"draft_id": id, "to": original.FromEmail}, nil
	}
	return nil, fmt.Errorf("unknown email action: %s", a.Name)
}

func (e *Executor) memoryAction(ctx context.Context, userID string, a types.PlannedAction) (map[string]any, error) {
	if e.Memory == nil {
		return nil, fmt.Errorf("memory service not configured")
	}
	switch a.Name {
	case "store":
		err := e.Memory.Store(ctx, userID,
			a.StringParam("category", ""), a.StringParam("key", ""), a.StringParam("value", ""))
		if err != nil {
			return nil, err
		}
		return map[string]any{"key": a.StringParam("key", "")}, nil

	case "update":
		key := a.StringParam("key", "")
		if err := e.Memory.Update(ctx, userID, key, a.StringParam("new_value", "")); err != nil {
			return nil, err
		}
		return map[string]any{"key": key}, nil

	case "delete":
		key := a.StringParam("key", "")
		if err := e.Memory.Delete(ctx, userID, key); err != nil {
			return nil, err
		}
		return map[string]any{"key": key}, nil
	}
	return nil, fmt.Errorf("unknown memory action: %s", a.Name)
}

func (e *Executor) notesAction(ctx context.Context, a types.PlannedAction) (map[string]any, error) {
	if e.Notes == nil {
		return nil, fmt.Errorf("notes service not configured")
	}
	switch a.Name {
	case "create_note":
		n, err := e.Notes.Create(ctx, a.StringParam("title", "New Note"), a.StringParam("content", ""))
		if err != nil {
			return nil, err
		}
		return map[string]any{"title": n.Title}, nil

	case "delete_note":
		term := a.StringParam("find_by", a.StringParam("title", ""))
		n, err := e.Notes.FindByTitle(ctx, term)
		if err != nil {
			return nil, err
		}
		if n == nil {
			return nil, fmt.Errorf("note not found: %q", term)
		}
		if err := e.Notes.Delete(ctx, n.Name); err != nil {
			return nil, err
		}
		return map[string]any{"title": n.Title}, nil
	}
	return nil, fmt.Errorf("unknown notes action: %s", a.Name)
}
