package pipeline

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mindloop/aria/internal/types"
)

// extractJSON pulls the first JSON object out of model output. Models
// sometimes wrap JSON in prose or code fences.
func extractJSON(text string) string {
	text = strings.TrimSpace(text)
	if gjson.Valid(text) && strings.HasPrefix(text, "{") {
		return text
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return ""
	}
	candidate := text[start : end+1]
	if gjson.Valid(candidate) {
		return candidate
	}
	return ""
}

func lastTurns(history []types.Turn, n int) []types.Turn {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func formatTurns(turns []types.Turn, maxLen int) string {
	if len(turns) == 0 {
		return "(No recent messages)"
	}
	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		role := "User"
		if t.Role == "assistant" {
			role = "Assistant"
		}
		lines = append(lines, fmt.Sprintf("%s: %s", role, truncate(t.Content, maxLen)))
	}
	return strings.Join(lines, "\n")
}

func formatTasks(tasks []types.TaskView, limit int) string {
	if len(tasks) == 0 {
		return "(No pending tasks)"
	}
	if len(tasks) > limit {
		tasks = tasks[:limit]
	}
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		due := ""
		if t.Deadline != "" {
			due = fmt.Sprintf(" (due: %s)", t.Deadline)
		}
		lines = append(lines, fmt.Sprintf("- %s [%s]%s", t.Title, t.Priority, due))
	}
	return strings.Join(lines, "\n")
}

func formatEvents(events []types.CalendarEvent, limit int) string {
	if len(events) == 0 {
		return "(No calendar events)"
	}
	if len(events) > limit {
		events = events[:limit]
	}
	lines := make([]string, 0, len(events))
	for _, e := range events {
		loc := ""
		if e.Location != "" {
			loc = fmt.Sprintf(" @ %s", e.Location)
		}
		lines = append(lines, fmt.Sprintf("- %s at %s%s", e.Title, e.Time, loc))
	}
	return strings.Join(lines, "\n")
}

func formatContacts(contacts map[string]string, limit int) string {
	if len(contacts) == 0 {
		return "(No contacts)"
	}
	lines := make([]string, 0, len(contacts))
	for name, addr := range contacts {
		if len(lines) >= limit {
			break
		}
		lines = append(lines, fmt.Sprintf("- %s: %s", name, addr))
	}
	return strings.Join(lines, "\n")
}

func formatMemories(mems []types.MemoryView, limit int) string {
	if len(mems) == 0 {
		return "(No relevant memories)"
	}
	if len(mems) > limit {
		mems = mems[:limit]
	}
	lines := make([]string, 0, len(mems))
	for _, m := range mems {
		lines = append(lines, fmt.Sprintf("- %s: %s", m.Key, m.Value))
	}
	return strings.Join(lines, "\n")
}
