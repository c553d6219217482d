package pipeline

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultSessionTTL is how long a task discussion session stays open
const DefaultSessionTTL = 5 * time.Minute

// Session is an open task discussion. While live it widens context limits
// and biases routing toward the task domain.
type Session struct {
	UserID    string
	TaskID    string
	TaskTitle string
	StartedAt time.Time
	expiresAt time.Time
}

// SessionManager tracks one discussion session per user. Expiry is lazy and
// wall-clock: the deadline is fixed at Open and activity does not extend it.
// Only a new check-in (which opens a replacement session) restarts the
// window.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewSessionManager creates a manager with the given TTL. Zero means the
// 5 minute default.
func NewSessionManager(ttl time.Duration) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &SessionManager{
		sessions: map[string]*Session{},
		ttl:      ttl,
		now:      time.Now,
	}
}

// Open starts a session around a task, replacing any existing one
func (m *SessionManager) Open(userID, taskID, taskTitle string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	s := &Session{
		UserID:    userID,
		TaskID:    taskID,
		TaskTitle: taskTitle,
		StartedAt: now,
		expiresAt: now.Add(m.ttl),
	}
	m.sessions[userID] = s
	return s
}

// Get returns the user's live session, or nil. Expired sessions are cleared
// on access.
func (m *SessionManager) Get(userID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[userID]
	if !ok {
		return nil
	}
	if m.now().After(s.expiresAt) {
		delete(m.sessions, userID)
		return nil
	}
	return s
}

// End closes the user's session
func (m *SessionManager) End(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, userID)
}

var percentRe = regexp.MustCompile(`(\d{1,3})\s*%`)

// ProgressUpdate is a quick reply parsed inside a discussion session
type ProgressUpdate struct {
	Done    bool
	Percent int // -1 when no percentage given
	Blocked bool
	Note    string
}

// ParseProgressReply interprets short session replies like "done", "50%",
// or "blocked on the vendor". Returns nil when the reply isn't a quick
// progress update and should go through the full pipeline.
func ParseProgressReply(text string) *ProgressUpdate {
	lower := strings.ToLower(strings.TrimSpace(text))
	if lower == "" {
		return nil
	}

	if lower == "done" || lower == "finished" || lower == "complete" || lower == "completed" {
		return &ProgressUpdate{Done: true, Percent: 100}
	}

	if m := percentRe.FindStringSubmatch(lower); m != nil {
		pct, err := strconv.Atoi(m[1])
		if err == nil && pct >= 0 && pct <= 100 {
			note := strings.TrimSpace(strings.Replace(text, m[0], "", 1))
			return &ProgressUpdate{Percent: pct, Done: pct >= 100, Note: note}
		}
	}

	if strings.HasPrefix(lower, "blocked") || strings.HasPrefix(lower, "stuck") {
		return &ProgressUpdate{Percent: -1, Blocked: true, Note: strings.TrimSpace(text)}
	}

	return nil
}
