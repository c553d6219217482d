// Package commands parses slash commands before the pipeline runs. Command
// replies are deterministic and bypass the LLM entirely.
package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mindloop/aria/internal/db"
	"github.com/mindloop/aria/internal/pipeline"
	"github.com/mindloop/aria/internal/tasks"
)

const helpText = `Here's what I can do:

/summary - today's tasks and calendar
/deadlines - upcoming and overdue deadlines
/archive - archive tasks completed over a week ago
/check archives <term> - search archived tasks
/new session - end the current task discussion
/settings checkin <hours|off|default> - set check-in hours, e.g. 9,14,18
/help - this message

Or just talk to me: create tasks, check your calendar, draft emails,
and I'll remember the personal details you share.`

// SummaryFunc builds the daily summary text. The empty flag means there is
// nothing to report.
type SummaryFunc func(ctx context.Context, userID string, now time.Time) (string, bool)

// Handler resolves slash commands
type Handler struct {
	Store    *db.Store
	Tasks    *tasks.Service
	Sessions *pipeline.SessionManager
	Summary  SummaryFunc

	// Locks, when set, serializes commands against pipeline runs and
	// scheduler checks for the same user.
	Locks *pipeline.UserLocks
}

// Handle processes text as a command. The second return is false when the
// text is not a command and should flow into the pipeline.
func (h *Handler) Handle(ctx context.Context, userID, text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", false
	}
	if h.Locks != nil {
		h.Locks.Lock(userID)
		defer h.Locks.Unlock(userID)
	}
	fields := strings.Fields(trimmed)
	cmd := strings.ToLower(fields[0])
	args := fields[1:]

	switch cmd {
	case "/start":
		return "Hi! I'm your assistant. Tell me about your tasks, your schedule, or anything you want me to remember.\n\nType /help to see what I can do.", true

	case "/help":
		return helpText, true

	case "/summary":
		if h.Summary == nil {
			return "Summaries aren't available right now.", true
		}
		text, empty := h.Summary(ctx, userID, time.Now())
		if empty {
			return "Nothing on the books today. Enjoy the quiet!", true
		}
		return text, true

	case "/deadlines":
		return h.deadlines(ctx, userID), true

	case "/archive":
		n, err := h.Tasks.ArchiveOld(ctx, userID, 7*24*time.Hour, time.Now())
		if err != nil {
			return "Couldn't archive right now, sorry.", true
		}
		if n == 0 {
			return "No completed tasks old enough to archive.", true
		}
		return fmt.Sprintf("Archived %d completed task(s).", n), true

	case "/check":
		if len(args) >= 2 && strings.ToLower(args[0]) == "archives" {
			return h.searchArchives(ctx, userID, strings.Join(args[1:], " ")), true
		}
		return "Usage: /check archives <search term>", true

	case "/new":
		if len(args) >= 1 && strings.ToLower(args[0]) == "session" {
			h.Sessions.End(userID)
			return "Fresh start! What would you like to work on?", true
		}
		return "Usage: /new session", true

	case "/settings":
		if len(args) >= 2 && strings.ToLower(args[0]) == "checkin" {
			return h.setCheckins(ctx, userID, args[1]), true
		}
		return "Usage: /settings checkin <hours|off|default>, e.g. /settings checkin 9,14,18", true
	}

	return "Unknown command. Type /help for the list.", true
}

func (h *Handler) deadlines(ctx context.Context, userID string) string {
	pending, err := h.Tasks.Prioritized(ctx, userID, 0, "pending")
	if err != nil {
		return "Couldn't read your tasks right now, sorry."
	}

	now := time.Now()
	var overdue, upcoming []string
	for _, t := range pending {
		if t.Deadline == nil {
			continue
		}
		line := fmt.Sprintf("- %s: %s [%s]", t.Deadline.Format("Mon Jan 2 3:04PM"), t.Title, t.Priority)
		if t.Deadline.Before(now) {
			overdue = append(overdue, line)
		} else {
			upcoming = append(upcoming, line)
		}
	}
	if len(overdue) == 0 && len(upcoming) == 0 {
		return "No tasks with deadlines. Nice and clear!"
	}

	var sb strings.Builder
	if len(overdue) > 0 {
		sb.WriteString("OVERDUE:\n")
		sb.WriteString(strings.Join(overdue, "\n"))
		sb.WriteString("\n\n")
	}
	if len(upcoming) > 0 {
		sb.WriteString("UPCOMING:\n")
		sb.WriteString(strings.Join(upcoming, "\n"))
	}
	return strings.TrimSpace(sb.String())
}

func (h *Handler) searchArchives(ctx context.Context, userID, term string) string {
	found, err := h.Tasks.SearchArchived(ctx, userID, term, 10)
	if err != nil {
		return "Couldn't search the archives right now, sorry."
	}
	if len(found) == 0 {
		return fmt.Sprintf("No archived tasks matching '%s'.", term)
	}
	lines := make([]string, 0, len(found)+1)
	lines = append(lines, fmt.Sprintf("Archived tasks matching '%s':", term))
	for _, t := range found {
		when := ""
		if t.CompletedAt != nil {
			when = t.CompletedAt.Format(" (completed Jan 2)")
		}
		lines = append(lines, fmt.Sprintf("- %s%s", t.Title, when))
	}
	return strings.Join(lines, "\n")
}

func (h *Handler) setCheckins(ctx context.Context, userID, value string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	switch value {
	case "off":
		if err := h.Store.SetUserSetting(ctx, userID, "checkin_hours", "off"); err != nil {
			return "Couldn't save that, sorry."
		}
		return "Check-ins turned off. /settings checkin default to re-enable."
	case "default":
		if err := h.Store.SetUserSetting(ctx, userID, "checkin_hours", ""); err != nil {
			return "Couldn't save that, sorry."
		}
		return "Check-ins back to the default schedule."
	}

	hours := db.ParseCheckinHours(value)
	if len(hours) == 0 {
		return "Couldn't parse those hours. Try something like: /settings checkin 9,14,18"
	}
	if err := h.Store.SetUserSetting(ctx, userID, "checkin_hours", value); err != nil {
		return "Couldn't save that, sorry."
	}
	return fmt.Sprintf("Check-ins set for %s.", formatHours(hours))
}

func formatHours(hours []int) string {
	parts := make([]string, 0, len(hours))
	for _, h := range hours {
		suffix := "am"
		display := h
		switch {
		case h == 0:
			display = 12
		case h == 12:
			suffix = "pm"
		case h > 12:
			display = h - 12
			suffix = "pm"
		}
		parts = append(parts, fmt.Sprintf("%d%s", display, suffix))
	}
	return strings.Join(parts, ", ")
}
