package tasks

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mindloop/aria/internal/db"
	"github.com/mindloop/aria/internal/logging"
)

// Recurrence patterns:
//
//	daily_HHMM            e.g. daily_0900
//	weekly_<day>_HHMM     e.g. weekly_thursday_1630
//	monthly_<dom>_HHMM    e.g. monthly_15_0900

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "monday": time.Monday, "tuesday": time.Tuesday,
	"wednesday": time.Wednesday, "thursday": time.Thursday,
	"friday": time.Friday, "saturday": time.Saturday,
}

func parseHHMM(s string) (hour, minute int) {
	hour, minute = 9, 0
	if len(s) >= 2 {
		if h, err := strconv.Atoi(s[:2]); err == nil {
			hour = h
		}
	}
	if len(s) >= 4 {
		if m, err := strconv.Atoi(s[2:4]); err == nil {
			minute = m
		}
	}
	return hour, minute
}

// NextOccurrence computes the occurrence of a recurrence pattern strictly
// after from. Returns nil for unrecognized patterns.
func NextOccurrence(pattern string, from time.Time) *time.Time {
	parts := strings.Split(pattern, "_")
	switch {
	case strings.HasPrefix(pattern, "daily_"):
		timeStr := "0900"
		if len(parts) >= 2 {
			timeStr = parts[1]
		}
		hour, minute := parseHHMM(timeStr)
		next := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, from.Location())
		if !next.After(from) {
			next = next.AddDate(0, 0, 1)
		}
		return &next

	case strings.HasPrefix(pattern, "weekly_") && len(parts) >= 3:
		target, ok := weekdays[strings.ToLower(parts[1])]
		if !ok {
			return nil
		}
		hour, minute := parseHHMM(parts[2])
		daysAhead := int(target-from.Weekday()+7) % 7
		if daysAhead == 0 {
			daysAhead = 7
		}
		next := time.Date(from.Year(), from.Month(), from.Day(), hour, minute, 0, 0, from.Location()).
			AddDate(0, 0, daysAhead)
		return &next

	case strings.HasPrefix(pattern, "monthly_") && len(parts) >= 2:
		dom, err := strconv.Atoi(parts[1])
		if err != nil || dom < 1 || dom > 31 {
			return nil
		}
		timeStr := "0900"
		if len(parts) >= 3 {
			timeStr = parts[2]
		}
		hour, minute := parseHHMM(timeStr)
		next := time.Date(from.Year(), from.Month(), dom, hour, minute, 0, 0, from.Location())
		if !next.After(from) {
			next = time.Date(from.Year(), from.Month()+1, dom, hour, minute, 0, 0, from.Location())
		}
		return &next
	}
	return nil
}

// RegenerateRecurring scans completed recurring tasks and creates the next
// occurrence for each. Idempotent across scans: the successor deadline is
// anchored on the completed occurrence itself (its deadline, or failing
// that its completion time), never on the scan time, so every scan computes
// the same successor and the existence check holds for good. Returns the
// successors created.
func (s *Service) RegenerateRecurring(ctx context.Context, userID string, now time.Time) ([]*db.Task, error) {
	completed, err := s.store.TasksByUser(ctx, userID, "complete")
	if err != nil {
		return nil, err
	}

	var created []*db.Task
	for _, t := range completed {
		if !t.IsRecurring || t.RecurrencePattern == "" {
			continue
		}
		if t.RecurrenceEndDate != nil && now.After(*t.RecurrenceEndDate) {
			continue
		}
		anchor := now
		if t.Deadline != nil {
			anchor = *t.Deadline
		} else if t.CompletedAt != nil {
			anchor = *t.CompletedAt
		}
		next := NextOccurrence(t.RecurrencePattern, anchor)
		if next == nil {
			continue
		}
		if t.RecurrenceEndDate != nil && next.After(*t.RecurrenceEndDate) {
			logging.Infof("[Tasks] Recurrence past end date, stopping: %s", t.Title)
			continue
		}

		exists, err := s.store.SuccessorExists(ctx, t.TaskID, *next)
		if err != nil {
			return created, fmt.Errorf("successor check failed: %w", err)
		}
		if exists {
			continue
		}

		succ, err := s.Create(ctx, userID, CreateParams{
			Title:             t.Title,
			Description:       t.Description,
			Priority:          t.Priority,
			Deadline:          next,
			IsRecurring:       true,
			RecurrencePattern: t.RecurrencePattern,
			RecurrenceEnd:     t.RecurrenceEndDate,
			ParentTaskID:      t.TaskID,
		})
		if err != nil {
			return created, err
		}
		created = append(created, succ)
	}
	return created, nil
}
