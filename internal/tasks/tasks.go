// Package tasks implements the task domain service: CRUD against the store,
// recurrence handling, and the scoring used to pick check-in candidates.
package tasks

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mindloop/aria/internal/db"
	"github.com/mindloop/aria/internal/logging"
)

// Service exposes task operations to the action executor and the scheduler
type Service struct {
	store *db.Store
}

// New creates a task service backed by the store
func New(store *db.Store) *Service {
	return &Service{store: store}
}

// CreateParams describes a task creation request
type CreateParams struct {
	Title             string
	Description       string
	Priority          string // high | medium | low
	Deadline          *time.Time
	IsRecurring       bool
	RecurrencePattern string
	RecurrenceEnd     *time.Time
	ParentTaskID      string
}

// Create stores a new task and returns it
func (s *Service) Create(ctx context.Context, userID string, p CreateParams) (*db.Task, error) {
	if p.Title == "" {
		p.Title = "New Task"
	}
	if p.Priority == "" {
		p.Priority = "medium"
	}

	// Recurring tasks without an explicit deadline start at the pattern's
	// next occurrence.
	deadline := p.Deadline
	if p.IsRecurring && p.RecurrencePattern != "" && deadline == nil {
		if next := NextOccurrence(p.RecurrencePattern, time.Now()); next != nil {
			deadline = next
		}
	}

	t := &db.Task{
		TaskID:            fmt.Sprintf("task_%s_%s", userID, uuid.NewString()[:8]),
		UserID:            userID,
		Title:             p.Title,
		Description:       p.Description,
		Priority:          p.Priority,
		Status:            "pending",
		Deadline:          deadline,
		IsRecurring:       p.IsRecurring,
		RecurrencePattern: p.RecurrencePattern,
		RecurrenceEndDate: p.RecurrenceEnd,
		ParentTaskID:      p.ParentTaskID,
	}
	if err := s.store.InsertTask(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Complete marks a task done. Archival happens later via ArchiveOld.
func (s *Service) Complete(ctx context.Context, userID, taskID string) (*db.Task, error) {
	t, err := s.store.GetTask(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("task not found: %s", taskID)
	}
	now := time.Now()
	err = s.store.UpdateTaskFields(ctx, userID, taskID, map[string]any{
		"status":           "complete",
		"progress_percent": 100,
		"completed_at":     now,
	})
	if err != nil {
		return nil, err
	}
	t.Status = "complete"
	t.ProgressPercent = 100
	t.CompletedAt = &now
	return t, nil
}

// UpdateProgress sets the progress percentage, appending a timestamped note
// when one is given. Reaching 100 completes the task.
func (s *Service) UpdateProgress(ctx context.Context, userID, taskID string, progress int, note string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	if progress >= 100 {
		_, err := s.Complete(ctx, userID, taskID)
		return err
	}

	now := time.Now()
	fields := map[string]any{
		"progress_percent": progress,
		"last_discussed":   now,
	}
	if note != "" {
		t, err := s.store.GetTask(ctx, userID, taskID)
		if err != nil {
			return err
		}
		if t == nil {
			return fmt.Errorf("task not found: %s", taskID)
		}
		stamped := fmt.Sprintf("[%s] %s", now.Format("01/02 15:04"), note)
		if t.Notes != "" {
			stamped = t.Notes + "\n" + stamped
		}
		fields["notes"] = stamped
	}
	return s.store.UpdateTaskFields(ctx, userID, taskID, fields)
}

// UpdateField updates a single task column. Deadline-like fields must already
// be parsed by the caller.
func (s *Service) UpdateField(ctx context.Context, userID, taskID, field string, value any) error {
	switch field {
	case "title", "description", "priority", "status", "deadline",
		"recurrence_pattern", "recurrence_end_date", "notes":
		return s.store.UpdateTaskFields(ctx, userID, taskID, map[string]any{field: value})
	default:
		return fmt.Errorf("field not updatable: %s", field)
	}
}

// Delete archives the task with a deletion reason. Tasks are never hard
// deleted.
func (s *Service) Delete(ctx context.Context, userID, taskID string) error {
	return s.store.ArchiveTask(ctx, userID, taskID, "deleted by user")
}

// FindByTitle resolves a task by title substring, exact match first
func (s *Service) FindByTitle(ctx context.Context, userID, term string) (*db.Task, error) {
	if term == "" {
		return nil, nil
	}
	all, err := s.store.TasksByUser(ctx, userID, "all")
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(term)
	for _, t := range all {
		if strings.ToLower(t.Title) == needle {
			return t, nil
		}
	}
	for _, t := range all {
		if strings.Contains(strings.ToLower(t.Title), needle) {
			return t, nil
		}
	}
	return nil, nil
}

// Prioritized returns tasks ordered by priority then deadline
func (s *Service) Prioritized(ctx context.Context, userID string, limit int, status string) ([]*db.Task, error) {
	all, err := s.store.TasksByUser(ctx, userID, status)
	if err != nil {
		return nil, err
	}
	order := map[string]int{"high": 0, "medium": 1, "low": 2}
	sort.SliceStable(all, func(i, j int) bool {
		pi, pj := order[all[i].Priority], order[all[j].Priority]
		if pi != pj {
			return pi < pj
		}
		di, dj := all[i].Deadline, all[j].Deadline
		switch {
		case di == nil && dj == nil:
			return false
		case di == nil:
			return false
		case dj == nil:
			return true
		default:
			return di.Before(*dj)
		}
	})
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Overdue returns pending tasks past their deadline
func (s *Service) Overdue(ctx context.Context, userID string, now time.Time) ([]*db.Task, error) {
	pending, err := s.store.TasksByUser(ctx, userID, "pending")
	if err != nil {
		return nil, err
	}
	var overdue []*db.Task
	for _, t := range pending {
		if t.Deadline != nil && t.Deadline.Before(now) {
			overdue = append(overdue, t)
		}
	}
	return overdue, nil
}

// ArchiveOld archives tasks completed more than threshold days ago. Returns
// the number archived.
func (s *Service) ArchiveOld(ctx context.Context, userID string, threshold time.Duration, now time.Time) (int, error) {
	all, err := s.store.TasksByUser(ctx, userID, "complete")
	if err != nil {
		return 0, err
	}
	archived := 0
	for _, t := range all {
		if t.CompletedAt == nil || now.Sub(*t.CompletedAt) < threshold {
			continue
		}
		if err := s.store.ArchiveTask(ctx, userID, t.TaskID, "auto-archived after completion"); err != nil {
			logging.Errorf("[Tasks] Failed to archive %s: %v", t.TaskID, err)
			continue
		}
		archived++
	}
	return archived, nil
}

// SearchArchived searches archived task snapshots
func (s *Service) SearchArchived(ctx context.Context, userID, term string, limit int) ([]*db.Task, error) {
	return s.store.SearchArchivedTasks(ctx, userID, term, limit)
}

// CheckinCandidates scores pending tasks and returns the top candidates for
// a proactive check-in. Scoring weighs priority, deadline proximity, low
// progress, and time since last discussion, with a little jitter so the same
// task isn't picked every time.
func (s *Service) CheckinCandidates(ctx context.Context, userID string, limit int, now time.Time) ([]*db.Task, error) {
	pending, err := s.store.TasksByUser(ctx, userID, "pending")
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	type scored struct {
		score int
		task  *db.Task
	}
	ranked := make([]scored, 0, len(pending))
	for _, t := range pending {
		score := 0
		switch t.Priority {
		case "high":
			score += 30
		case "medium":
			score += 20
		default:
			score += 10
		}
		if t.Deadline != nil {
			days := int(t.Deadline.Sub(now).Hours() / 24)
			switch {
			case days < 0:
				score += 50
			case days <= 1:
				score += 40
			case days <= 3:
				score += 25
			case days <= 7:
				score += 15
			}
		}
		switch {
		case t.ProgressPercent == 0:
			score += 20
		case t.ProgressPercent < 50:
			score += 15
		case t.ProgressPercent < 80:
			score += 10
		}
		if t.LastDiscussed == nil {
			score += 20
		} else {
			daysSince := int(now.Sub(*t.LastDiscussed).Hours() / 24)
			if daysSince >= 3 {
				score += 25
			} else if daysSince >= 1 {
				score += 15
			}
		}
		score += rand.Intn(11)
		ranked = append(ranked, scored{score, t})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if limit > len(ranked) {
		limit = len(ranked)
	}
	out := make([]*db.Task, 0, limit)
	for _, r := range ranked[:limit] {
		out = append(out, r.task)
	}
	return out, nil
}
