package tasks

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var timeOfDayRe = regexp.MustCompile(`(?i)(\d{1,2}):?(\d{2})?\s*(am|pm)?`)

// ParseDeadline parses a deadline string. ISO formats are tried first, then
// a small set of natural-language patterns ("tomorrow at 5pm"). Returns nil
// when nothing parses.
func ParseDeadline(text string, now time.Time) *time.Time {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04", "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, text, now.Location()); err == nil {
			return &t
		}
	}

	lower := strings.ToLower(text)
	var base *time.Time
	switch {
	case strings.Contains(lower, "tomorrow"):
		d := now.AddDate(0, 0, 1)
		base = &d
	case strings.Contains(lower, "today"):
		base = &now
	case strings.Contains(lower, "next week"):
		d := now.AddDate(0, 0, 7)
		base = &d
	case strings.Contains(lower, "next month"):
		d := now.AddDate(0, 1, 0)
		base = &d
	}
	if base == nil {
		return nil
	}

	hour, minute := 9, 0
	if m := timeOfDayRe.FindStringSubmatch(lower); m != nil {
		if h, err := strconv.Atoi(m[1]); err == nil {
			hour = h
		}
		if m[2] != "" {
			if mm, err := strconv.Atoi(m[2]); err == nil {
				minute = mm
			}
		}
		switch m[3] {
		case "pm":
			if hour != 12 {
				hour += 12
			}
		case "am":
			if hour == 12 {
				hour = 0
			}
		}
	}
	t := time.Date(base.Year(), base.Month(), base.Day(), hour, minute, 0, 0, now.Location())
	return &t
}
