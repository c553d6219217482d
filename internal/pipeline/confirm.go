package pipeline

import (
	"strings"
	"sync"
	"time"

	"github.com/mindloop/aria/internal/types"
)

// DefaultConfirmationTTL is how long a pending confirmation stays live
const DefaultConfirmationTTL = 5 * time.Minute

type pendingConfirmation struct {
	plan      *types.ActionPlan
	createdAt time.Time
	expiresAt time.Time
}

// ConfirmationManager holds at most one pending high-stakes plan per user.
// A new pending plan replaces the old one. Expiry is lazy: nothing fires at
// the deadline, the entry just stops being returned.
type ConfirmationManager struct {
	mu      sync.Mutex
	pending map[string]*pendingConfirmation
	ttl     time.Duration
	now     func() time.Time
}

// NewConfirmationManager creates a manager with the given TTL. Zero means
// the 5 minute default.
func NewConfirmationManager(ttl time.Duration) *ConfirmationManager {
	if ttl <= 0 {
		ttl = DefaultConfirmationTTL
	}
	return &ConfirmationManager{
		pending: map[string]*pendingConfirmation{},
		ttl:     ttl,
		now:     time.Now,
	}
}

// Store parks a plan awaiting confirmation, replacing any previous one
func (m *ConfirmationManager) Store(userID string, plan *types.ActionPlan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.pending[userID] = &pendingConfirmation{
		plan:      plan,
		createdAt: now,
		expiresAt: now.Add(m.ttl),
	}
}

// Get returns the user's pending plan, or nil if none or expired. Expired
// entries are cleared on access.
func (m *ConfirmationManager) Get(userID string) *types.ActionPlan {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pending[userID]
	if !ok {
		return nil
	}
	if m.now().After(p.expiresAt) {
		delete(m.pending, userID)
		return nil
	}
	return p.plan
}

// Clear drops the user's pending plan
func (m *ConfirmationManager) Clear(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, userID)
}

var affirmatives = []string{
	"yes", "yeah", "yep", "yup", "sure", "ok", "okay",
	"do it", "send it", "send", "go ahead", "confirm", "approved",
	"absolutely", "definitely", "please do", "proceed",
}

var negatives = []string{
	"no", "nope", "nah", "cancel", "don't", "dont",
	"stop", "wait", "hold on", "never mind", "nevermind",
	"skip", "forget it", "abort",
}

// IsAffirmative reports whether a message reads as a yes
func IsAffirmative(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, a := range affirmatives {
		if strings.Contains(lower, a) {
			return true
		}
	}
	return false
}

// IsNegative reports whether a message reads as a no. Checked before
// IsAffirmative by the pipeline since "no, don't send it" contains "send it".
func IsNegative(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	for _, n := range negatives {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}
