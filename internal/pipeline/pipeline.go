// Package pipeline implements the four-stage message pipeline: routing,
// context fetching, action planning, and response generation, with a
// confirmation gate for high-stakes actions.
package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mindloop/aria/internal/logging"
	"github.com/mindloop/aria/internal/types"
)

// State tracks a message's progress through the pipeline. Transitions only
// happen inside Process; the enum exists so each step is an explicit switch
// arm instead of nested conditionals.
type State int

const (
	StateReceived State = iota
	StateDeduplicated
	StateRouted
	StateEarlyExit
	StateContexted
	StatePlanned
	StateConfirmGate
	StateExecuted
	StateResponded
	StateLogged
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "RECEIVED"
	case StateDeduplicated:
		return "DEDUPLICATED"
	case StateRouted:
		return "ROUTED"
	case StateEarlyExit:
		return "EARLY_EXIT"
	case StateContexted:
		return "CONTEXTED"
	case StatePlanned:
		return "PLANNED"
	case StateConfirmGate:
		return "CONFIRM_GATE"
	case StateExecuted:
		return "EXECUTED"
	case StateResponded:
		return "RESPONDED"
	case StateLogged:
		return "LOGGED"
	}
	return "UNKNOWN"
}

// Executor runs planned actions. Execution never errors; every action
// yields exactly one outcome.
type Executor interface {
	Execute(ctx context.Context, userID string, a types.PlannedAction) types.ActionOutcome
}

// ConversationLog persists the turns after a reply is produced
type ConversationLog interface {
	AppendConversation(ctx context.Context, userID, messageType, content string) error
}

// Result is what the pipeline hands back to the channel adapter
type Result struct {
	Reply                string
	AwaitingConfirmation bool
	Outcomes             []types.ActionOutcome
	Route                types.RouteResult
	Duplicate            bool
	FinalState           State
}

// Pipeline orchestrates one message through the stages. Per-user ordering
// is enforced with keyed locks shared with the proactive scheduler.
type Pipeline struct {
	Router    *Router
	Fetcher   *Fetcher
	Planner   *Planner
	Responder *Responder

	Confirmations *ConfirmationManager
	Sessions      *SessionManager
	Locks         *UserLocks
	Dedup         *Deduper
	Exec          Executor
	Log           ConversationLog

	// OnProgress reports task progress updates parsed inside discussion
	// sessions. Optional.
	OnProgress func(ctx context.Context, userID, taskID string, update *ProgressUpdate) error
}

// Process runs a message through the pipeline and returns the reply. It
// never returns an error; every failure mode degrades to some reply (or a
// silent discard for duplicates).
func (p *Pipeline) Process(ctx context.Context, msg *types.Message) *Result {
	p.Locks.Lock(msg.UserID)
	defer p.Locks.Unlock(msg.UserID)

	state := StateReceived
	start := time.Now()

	// Step 1: duplicates are discarded with no side effects
	if p.Dedup.Seen(msg.ID) {
		logging.Infof("[Pipeline] Duplicate message %s dropped", msg.ID)
		return &Result{Duplicate: true, FinalState: state}
	}
	state = StateDeduplicated

	res := p.process(ctx, msg, state)

	// Step 8: log the user message, then the reply, in that order
	if !res.Duplicate && res.Reply != "" && p.Log != nil {
		if err := p.Log.AppendConversation(ctx, msg.UserID, "user", msg.Text); err != nil {
			logging.Errorf("[Pipeline] Conversation log failed: %v", err)
		} else if err := p.Log.AppendConversation(ctx, msg.UserID, "assistant", res.Reply); err != nil {
			logging.Errorf("[Pipeline] Conversation log failed: %v", err)
		} else {
			res.FinalState = StateLogged
		}
	}

	logging.Infof("[Pipeline] %s -> %s in %s", msg.ID, res.FinalState, time.Since(start).Round(time.Millisecond))
	return res
}

func (p *Pipeline) process(ctx context.Context, msg *types.Message, state State) *Result {
	// A pending confirmation consumes the next message before anything else
	if pending := p.Confirmations.Get(msg.UserID); pending != nil {
		return p.handleConfirmationReply(ctx, msg, pending)
	}

	// A live discussion session widens context and bypasses the router
	if session := p.Sessions.Get(msg.UserID); session != nil {
		return p.processInSession(ctx, msg, session)
	}

	// Steps 3-4: speculative fetch in parallel with routing
	fetchCtx, cancelFetch := context.WithCancel(ctx)
	defer cancelFetch()

	fetchDone := make(chan *types.FetchedContext, 1)
	go func() {
		fetchDone <- p.Fetcher.Fetch(fetchCtx, msg.UserID, msg.Text, DefaultLimits)
	}()

	history, _ := p.historyForRouting(ctx, msg.UserID)
	route := p.Router.Route(ctx, msg.Text, history, "")
	state = StateRouted
	logging.Infof("[Pipeline] Route: type=%s domains=%v followup=%v", route.Type, route.Domains, route.IsFollowup)

	// Early exit: pure chat skips context and actions entirely
	if route.Type == types.RouteChat && len(route.Domains) == 0 {
		cancelFetch()
		state = StateEarlyExit
		logging.Debugf("[Pipeline] %s at %s", msg.ID, state)
		reply := p.Responder.ChatResponse(ctx, msg.Text, &types.FetchedContext{History: history})
		return &Result{Reply: reply, Route: route, FinalState: StateResponded}
	}

	fc := <-fetchDone
	state = StateContexted
	logging.Infof("[Pipeline] Context: %d memories, %d tasks, %d events",
		len(fc.Memories), len(fc.Tasks), len(fc.Events))

	if len(route.Domains) == 0 {
		// Routed as followup or action without a domain; respond with context
		reply := p.Responder.ChatResponse(ctx, msg.Text, fc)
		return &Result{Reply: reply, Route: route, FinalState: StateResponded}
	}

	plan := p.Planner.Plan(ctx, msg.Text, fc, route.Domains)
	state = StatePlanned

	// Step 5: clarification short-circuits without creating pending state
	if plan.NeedsClarification {
		reply := p.Responder.ClarificationResponse(plan.ClarificationQuestion)
		return &Result{Reply: reply, Route: route, FinalState: StateResponded}
	}

	// Step 6: high-stakes plans wait for confirmation, nothing executes
	if plan.RequiresConfirmation {
		p.Confirmations.Store(msg.UserID, plan)
		state = StateConfirmGate
		logging.Debugf("[Pipeline] %s at %s", msg.ID, state)
		reply := p.Responder.ConfirmationPrompt(plan)
		return &Result{Reply: reply, AwaitingConfirmation: true, Route: route, FinalState: StateResponded}
	}

	// Step 7: execute and respond honestly
	outcomes := p.executePlan(ctx, msg.UserID, plan.Actions)
	state = StateExecuted
	reply := p.Responder.ActionResponse(ctx, msg.Text, outcomes, fc)
	return &Result{Reply: reply, Outcomes: outcomes, Route: route, FinalState: StateResponded}
}

// executePlan runs actions grouped by domain: domains proceed in parallel,
// actions within a domain keep their order. Outcome order matches plan
// order regardless.
func (p *Pipeline) executePlan(ctx context.Context, userID string, actions []types.PlannedAction) []types.ActionOutcome {
	if len(actions) == 0 {
		return nil
	}
	if len(actions) == 1 {
		return []types.ActionOutcome{p.Exec.Execute(ctx, userID, actions[0])}
	}

	outcomes := make([]types.ActionOutcome, len(actions))
	byDomain := map[types.Domain][]int{}
	for i, a := range actions {
		byDomain[a.Domain] = append(byDomain[a.Domain], i)
	}

	var wg sync.WaitGroup
	for _, indices := range byDomain {
		wg.Add(1)
		go func(idx []int) {
			defer wg.Done()
			for _, i := range idx {
				outcomes[i] = p.Exec.Execute(ctx, userID, actions[i])
			}
		}(indices)
	}
	wg.Wait()
	return outcomes
}

// handleConfirmationReply resolves a message arriving while a confirmation
// is pending. Negatives are checked first: "no, don't send it" must cancel.
func (p *Pipeline) handleConfirmationReply(ctx context.Context, msg *types.Message, plan *types.ActionPlan) *Result {
	route := types.RouteResult{Type: types.RouteFollowup, IsFollowup: true}

	switch {
	case IsNegative(msg.Text):
		p.Confirmations.Clear(msg.UserID)
		return &Result{Reply: "Got it, I won't do that.", Route: route, FinalState: StateResponded}

	case IsAffirmative(msg.Text):
		p.Confirmations.Clear(msg.UserID)
		outcomes := p.executePlan(ctx, msg.UserID, plan.Actions)
		reply := p.Responder.ActionResponse(ctx, msg.Text, outcomes, &types.FetchedContext{Now: time.Now()})
		return &Result{Reply: reply, Outcomes: outcomes, Route: route, FinalState: StateResponded}

	default:
		// Ambiguous: re-ask instead of guessing, confirmation stays pending
		question := plan.ConfirmationMessage
		if question == "" {
			question = "Should I proceed?"
		}
		return &Result{
			Reply:                "I wasn't sure if that was a yes or no. " + question,
			AwaitingConfirmation: true,
			Route:                route,
			FinalState:           StateResponded,
		}
	}
}

// processInSession handles a message inside a task discussion session:
// quick progress replies short-circuit, everything else skips the router
// and goes straight to the planner with widened limits and the task domain.
// Session expiry is wall-clock; nothing here extends it.
func (p *Pipeline) processInSession(ctx context.Context, msg *types.Message, session *Session) *Result {
	route := types.RouteResult{Type: types.RouteAction, Domains: []types.Domain{types.DomainTask}}

	if update := ParseProgressReply(msg.Text); update != nil && p.OnProgress != nil {
		if err := p.OnProgress(ctx, msg.UserID, session.TaskID, update); err != nil {
			logging.Errorf("[Pipeline] Session progress update failed: %v", err)
			return &Result{Reply: fallbackFailure, Route: route, FinalState: StateResponded}
		}
		reply := "Nice, noted."
		switch {
		case update.Done:
			p.Sessions.End(msg.UserID)
			reply = "Marked '" + session.TaskTitle + "' as done. Well done!"
		case update.Blocked:
			reply = "Noted that you're blocked on '" + session.TaskTitle + "'. Want me to do anything about it?"
		case update.Percent >= 0:
			reply = fmt.Sprintf("Got it, '%s' is at %d%%.", session.TaskTitle, update.Percent)
		}
		return &Result{Reply: reply, Route: route, FinalState: StateResponded}
	}

	fc := p.Fetcher.Fetch(ctx, msg.UserID, msg.Text, SessionLimits)
	plan := p.Planner.Plan(ctx, msg.Text, fc, route.Domains)
	if plan.NeedsClarification {
		reply := p.Responder.ClarificationResponse(plan.ClarificationQuestion)
		return &Result{Reply: reply, Route: route, FinalState: StateResponded}
	}
	if plan.RequiresConfirmation {
		p.Confirmations.Store(msg.UserID, plan)
		reply := p.Responder.ConfirmationPrompt(plan)
		return &Result{Reply: reply, AwaitingConfirmation: true, Route: route, FinalState: StateResponded}
	}
	if len(plan.Actions) == 0 {
		// Session talk that isn't actionable gets a plain reply
		reply := p.Responder.ChatResponse(ctx, msg.Text, fc)
		return &Result{Reply: reply, Route: route, FinalState: StateResponded}
	}

	outcomes := p.executePlan(ctx, msg.UserID, plan.Actions)
	reply := p.Responder.ActionResponse(ctx, msg.Text, outcomes, fc)
	return &Result{Reply: reply, Outcomes: outcomes, Route: route, FinalState: StateResponded}
}

func (p *Pipeline) historyForRouting(ctx context.Context, userID string) ([]types.Turn, error) {
	if p.Fetcher.History == nil {
		return nil, nil
	}
	turns, err := p.Fetcher.History.RecentTurns(ctx, userID, 3)
	if err != nil {
		logging.Errorf("[Pipeline] History fetch for routing failed: %v", err)
		return nil, err
	}
	return turns, nil
}
