package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Task is a stored task record. Deadline and the other timestamps are nil
// when unset.
type Task struct {
	TaskID            string     `json:"task_id"`
	UserID            string     `json:"user_id"`
	Title             string     `json:"title"`
	Description       string     `json:"description"`
	Priority          string     `json:"priority"`
	Status            string     `json:"status"`
	Deadline          *time.Time `json:"deadline,omitempty"`
	ProgressPercent   int        `json:"progress_percent"`
	Notes             string     `json:"notes"`
	IsRecurring       bool       `json:"is_recurring"`
	RecurrencePattern string     `json:"recurrence_pattern"`
	RecurrenceEndDate *time.Time `json:"recurrence_end_date,omitempty"`
	ParentTaskID      string     `json:"parent_task_id"`
	Archived          bool       `json:"archived"`
	RemindedAt        *time.Time `json:"reminded_at,omitempty"`
	LastDiscussed     *time.Time `json:"last_discussed,omitempty"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

const taskColumns = `task_id, user_id, title, description, priority, status, deadline,
	progress_percent, notes, is_recurring, recurrence_pattern, recurrence_end_date,
	parent_task_id, archived, reminded_at, last_discussed, completed_at, created_at, updated_at`

func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var t Task
	var deadline, recurrenceEnd, remindedAt, lastDiscussed, completedAt sql.NullTime
	err := row.Scan(
		&t.TaskID, &t.UserID, &t.Title, &t.Description, &t.Priority, &t.Status,
		&deadline, &t.ProgressPercent, &t.Notes, &t.IsRecurring,
		&t.RecurrencePattern, &recurrenceEnd, &t.ParentTaskID, &t.Archived,
		&remindedAt, &lastDiscussed, &completedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if deadline.Valid {
		t.Deadline = &deadline.Time
	}
	if recurrenceEnd.Valid {
		t.RecurrenceEndDate = &recurrenceEnd.Time
	}
	if remindedAt.Valid {
		t.RemindedAt = &remindedAt.Time
	}
	if lastDiscussed.Valid {
		t.LastDiscussed = &lastDiscussed.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return &t, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// InsertTask stores a new task
func (s *Store) InsertTask(ctx context.Context, t *Task) error {
	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	_, err := s.db.ExecContext(ctx, `INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.UserID, t.Title, t.Description, t.Priority, t.Status,
		nullTime(t.Deadline), t.ProgressPercent, t.Notes, t.IsRecurring,
		t.RecurrencePattern, nullTime(t.RecurrenceEndDate), t.ParentTaskID,
		t.Archived, nullTime(t.RemindedAt), nullTime(t.LastDiscussed),
		nullTime(t.CompletedAt), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// GetTask returns a single task by id, or nil when it doesn't exist
func (s *Store) GetTask(ctx context.Context, userID, taskID string) (*Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE user_id = ? AND task_id = ?`,
		userID, taskID)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return t, nil
}

// TasksByUser returns unarchived tasks for a user, optionally filtered by
// status ("all" disables the filter).
func (s *Store) TasksByUser(ctx context.Context, userID, status string) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ? AND archived = 0`
	args := []any{userID}
	if status != "" && status != "all" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at`
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskFields updates the named columns on a task and bumps updated_at.
// Values for time columns may be time.Time or nil.
func (s *Store) UpdateTaskFields(ctx context.Context, userID, taskID string, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	query := `UPDATE tasks SET updated_at = ?`
	args := []any{time.Now()}
	for col, val := range fields {
		query += `, ` + col + ` = ?`
		args = append(args, val)
	}
	query += ` WHERE user_id = ? AND task_id = ?`
	args = append(args, userID, taskID)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("task not found: %s", taskID)
	}
	return nil
}

// ArchiveTask snapshots a task into the archive table and marks it archived
func (s *Store) ArchiveTask(ctx context.Context, userID, taskID, reason string) error {
	t, err := s.GetTask(ctx, userID, taskID)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("task not found: %s", taskID)
	}
	snapshot, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal task snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO archive (user_id, source, content, reason) VALUES (?, 'tasks', ?, ?)`,
		userID, string(snapshot), reason)
	if err != nil {
		return fmt.Errorf("failed to archive task: %w", err)
	}
	return s.UpdateTaskFields(ctx, userID, taskID, map[string]any{"archived": true})
}

// SuccessorExists reports whether a task already exists with the given
// parent and deadline. Guards recurring regeneration against duplicates.
func (s *Store) SuccessorExists(ctx context.Context, parentTaskID string, deadline time.Time) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM tasks WHERE parent_task_id = ? AND deadline = ?`,
		parentTaskID, deadline).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check successor: %w", err)
	}
	return n > 0, nil
}

// SearchArchivedTasks matches the term against archived task snapshots
func (s *Store) SearchArchivedTasks(ctx context.Context, userID, term string, limit int) ([]*Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT content FROM archive WHERE user_id = ? AND source = 'tasks'
		 AND content LIKE '%' || ? || '%' ORDER BY archived_at DESC LIMIT ?`,
		userID, term, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to search archive: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		var content string
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		var t Task
		if err := json.Unmarshal([]byte(content), &t); err != nil {
			continue // tolerate malformed snapshots
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}
