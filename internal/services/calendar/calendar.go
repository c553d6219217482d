// Package calendar wraps the Google Calendar API for the assistant's
// calendar domain.
package calendar

import (
	"context"
	"fmt"
	"strings"
	"time"

	gcal "google.golang.org/api/calendar/v3"
	"google.golang.org/api/option"

	"github.com/mindloop/aria/internal/logging"
	"github.com/mindloop/aria/internal/types"
)

// Event is a full calendar entry as returned by the API
type Event struct {
	ID          string
	Summary     string
	Start       string // RFC 3339, or date-only for all-day events
	End         string
	Location    string
	Description string
	Link        string
}

// View trims the event for prompt inclusion
func (e Event) View() types.CalendarEvent {
	display := e.Start
	if t, err := time.Parse(time.RFC3339, e.Start); err == nil {
		display = t.Format("Mon Jan 2 at 3:04PM")
	}
	return types.CalendarEvent{
		ID:       e.ID,
		Title:    e.Summary,
		Time:     display,
		Location: e.Location,
		Start:    e.Start,
	}
}

// Service talks to one Google calendar via a service account
type Service struct {
	svc        *gcal.Service
	calendarID string
	location   *time.Location
}

// New creates a calendar service from a service account credentials file.
// The calendar must be shared with the service account email.
func New(ctx context.Context, credentialsFile, calendarID string, loc *time.Location) (*Service, error) {
	svc, err := gcal.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(gcal.CalendarScope, gcal.CalendarEventsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("calendar client init failed: %w", err)
	}
	if calendarID == "" {
		calendarID = "primary"
	}
	if loc == nil {
		loc = time.Local
	}
	logging.Infof("[Calendar] Connected to calendar %s", calendarID)
	return &Service{svc: svc, calendarID: calendarID, location: loc}, nil
}

func toEvent(e *gcal.Event) Event {
	start := e.Start.DateTime
	if start == "" {
		start = e.Start.Date
	}
	end := e.End.DateTime
	if end == "" {
		end = e.End.Date
	}
	return Event{
		ID:          e.Id,
		Summary:     e.Summary,
		Start:       start,
		End:         end,
		Location:    e.Location,
		Description: e.Description,
		Link:        e.HtmlLink,
	}
}

func (s *Service) list(ctx context.Context, timeMin, timeMax time.Time, maxResults int) ([]Event, error) {
	call := s.svc.Events.List(s.calendarID).
		TimeMin(timeMin.Format(time.RFC3339)).
		TimeMax(timeMax.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		Context(ctx)
	if maxResults > 0 {
		call = call.MaxResults(int64(maxResults))
	}
	res, err := call.Do()
	if err != nil {
		return nil, fmt.Errorf("event list failed: %w", err)
	}
	events := make([]Event, 0, len(res.Items))
	for _, e := range res.Items {
		events = append(events, toEvent(e))
	}
	return events, nil
}

// Upcoming returns up to maxResults events in the next daysAhead days
func (s *Service) Upcoming(ctx context.Context, maxResults, daysAhead int) ([]Event, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	if daysAhead <= 0 {
		daysAhead = 7
	}
	now := time.Now().In(s.location)
	return s.list(ctx, now, now.AddDate(0, 0, daysAhead), maxResults)
}

// EventsForDate returns all events on the given date
func (s *Service) EventsForDate(ctx context.Context, date time.Time) ([]Event, error) {
	date = date.In(s.location)
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, s.location)
	return s.list(ctx, dayStart, dayStart.AddDate(0, 0, 1), 0)
}

// CreateParams describes a new calendar event. End defaults to one hour
// after Start.
type CreateParams struct {
	Summary         string
	Start           time.Time
	End             *time.Time
	Description     string
	Location        string
	ReminderMinutes int
}

// Create inserts a new event
func (s *Service) Create(ctx context.Context, p CreateParams) (*Event, error) {
	start := p.Start.In(s.location)
	end := start.Add(time.Hour)
	if p.End != nil {
		end = p.End.In(s.location)
	}
	reminder := p.ReminderMinutes
	if reminder <= 0 {
		reminder = 60
	}

	ev := &gcal.Event{
		Summary:     p.Summary,
		Description: p.Description,
		Location:    p.Location,
		Start:       &gcal.EventDateTime{DateTime: start.Format(time.RFC3339), TimeZone: s.location.String()},
		End:         &gcal.EventDateTime{DateTime: end.Format(time.RFC3339), TimeZone: s.location.String()},
		Reminders: &gcal.EventReminders{
			UseDefault:      false,
			ForceSendFields: []string{"UseDefault"},
			Overrides:       []*gcal.EventReminder{{Method: "popup", Minutes: int64(reminder)}},
		},
	}
	created, err := s.svc.Events.Insert(s.calendarID, ev).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("event insert failed: %w", err)
	}
	out := toEvent(created)
	return &out, nil
}

// UpdateParams carries the fields to change on an existing event. Zero
// fields are left alone.
type UpdateParams struct {
	Summary     string
	Description string
	Location    string
	Start       *time.Time
	End         *time.Time
}

// Update patches an existing event
func (s *Service) Update(ctx context.Context, eventID string, p UpdateParams) (*Event, error) {
	ev, err := s.svc.Events.Get(s.calendarID, eventID).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("event fetch failed: %w", err)
	}
	if p.Summary != "" {
		ev.Summary = p.Summary
	}
	if p.Description != "" {
		ev.Description = p.Description
	}
	if p.Location != "" {
		ev.Location = p.Location
	}
	if p.Start != nil {
		ev.Start = &gcal.EventDateTime{DateTime: p.Start.In(s.location).Format(time.RFC3339), TimeZone: s.location.String()}
	}
	if p.End != nil {
		ev.End = &gcal.EventDateTime{DateTime: p.End.In(s.location).Format(time.RFC3339), TimeZone: s.location.String()}
	}
	updated, err := s.svc.Events.Update(s.calendarID, eventID, ev).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("event update failed: %w", err)
	}
	out := toEvent(updated)
	return &out, nil
}

// Delete removes an event by id
func (s *Service) Delete(ctx context.Context, eventID string) error {
	if err := s.svc.Events.Delete(s.calendarID, eventID).Context(ctx).Do(); err != nil {
		return fmt.Errorf("event delete failed: %w", err)
	}
	return nil
}

// FindBySummary returns the first upcoming event whose summary contains term
func (s *Service) FindBySummary(ctx context.Context, term string) (*Event, error) {
	events, err := s.Upcoming(ctx, 50, 30)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(term)
	for _, e := range events {
		if strings.Contains(strings.ToLower(e.Summary), needle) {
			ev := e
			return &ev, nil
		}
	}
	return nil, nil
}

// FormatEvents renders events as a bullet list for chat display
func FormatEvents(events []Event) string {
	if len(events) == 0 {
		return "No upcoming events found."
	}
	var sb strings.Builder
	for i, e := range events {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "• %s - %s", e.Summary, e.View().Time)
		if e.Location != "" {
			fmt.Fprintf(&sb, " @ %s", e.Location)
		}
	}
	return sb.String()
}
