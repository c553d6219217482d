// Package types holds the data shapes shared between the pipeline stages,
// the action executor, and the proactive scheduler.
package types

import "time"

// Domain identifies which service an action or fetch targets.
type Domain string

const (
	DomainTask     Domain = "task"
	DomainCalendar Domain = "calendar"
	DomainEmail    Domain = "email"
	DomainMemory   Domain = "memory"
	DomainNotes    Domain = "notes"
)

// RouteType is the coarse classification of an inbound message.
type RouteType string

const (
	RouteChat     RouteType = "chat"
	RouteAction   RouteType = "action"
	RouteFollowup RouteType = "followup"
)

// Message is a single inbound conversational message. Ephemeral; the
// conversation log persists the derived entries, not the message itself.
type Message struct {
	UserID     string
	ChatID     int64
	ID         string // channel-scoped identifier used for deduplication
	Text       string
	ReceivedAt time.Time
	IsVoice    bool
}

// RouteResult is produced once per message by the router and consumed
// immediately.
type RouteResult struct {
	Type       RouteType
	Domains    []Domain
	IsFollowup bool
}

// HasDomain reports whether the router selected the given domain.
func (r RouteResult) HasDomain(d Domain) bool {
	for _, rd := range r.Domains {
		if rd == d {
			return true
		}
	}
	return false
}

// Turn is one entry of conversation history as seen by the LLM stages.
type Turn struct {
	Role    string // "user" or "assistant"
	Content string
}

// MemoryView is a memory trimmed for prompt inclusion.
type MemoryView struct {
	Key      string
	Value    string
	Category string
}

// TaskView is a task trimmed for prompt inclusion.
type TaskView struct {
	ID       string
	Title    string
	Priority string
	Deadline string
	Status   string
	Progress int
}

// CalendarEvent is a calendar entry trimmed for prompt inclusion.
type CalendarEvent struct {
	ID       string
	Title    string
	Time     string // human-readable display time
	Location string
	Start    string // raw start, RFC 3339 or date-only
}

// FetchedContext is built once per message by the context fetcher and is
// immutable after construction.
type FetchedContext struct {
	History     []Turn
	Memories    []MemoryView
	Tasks       []TaskView
	Events      []CalendarEvent
	Contacts    map[string]string
	FetchErrors []string // degraded sub-fetches, noted for observability only
	Now         time.Time
}

// PlannedAction is a single action the planner wants executed.
type PlannedAction struct {
	Domain     Domain
	Name       string
	Params     map[string]any
	HighStakes bool
	Reasoning  string
}

// StringParam returns a string parameter, or the fallback when absent.
func (a PlannedAction) StringParam(key, fallback string) string {
	if v, ok := a.Params[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// ActionPlan is the planner's full output for one message. If any action is
// high-stakes the whole plan waits on confirmation; partial execution is not
// supported.
type ActionPlan struct {
	Actions               []PlannedAction
	RequiresConfirmation  bool
	ConfirmationMessage   string
	NeedsClarification    bool
	ClarificationQuestion string
}

// ActionOutcome records the result of exactly one planned action. Every
// planned action yields exactly one outcome, success or failure.
type ActionOutcome struct {
	Domain  Domain
	Name    string
	Success bool
	Result  map[string]any
	Error   string
}

// AllSucceeded reports whether every outcome in the set succeeded.
func AllSucceeded(outcomes []ActionOutcome) bool {
	for _, o := range outcomes {
		if !o.Success {
			return false
		}
	}
	return true
}
