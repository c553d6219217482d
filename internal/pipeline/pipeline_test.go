package pipeline

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/mindloop/aria/internal/ai"
	"github.com/mindloop/aria/internal/types"
)

// scriptedProvider answers each pipeline stage by recognizing its prompt
type scriptedProvider struct {
	route string
	plan  string
	reply string

	mu      sync.Mutex
	prompts []string
}

func (s *scriptedProvider) ID() string { return "scripted" }

func (s *scriptedProvider) Complete(_ context.Context, req *ai.Request) (string, error) {
	s.mu.Lock()
	s.prompts = append(s.prompts, req.Prompt)
	s.mu.Unlock()
	switch {
	case strings.HasPrefix(req.Prompt, "You route"):
		return s.route, nil
	case strings.HasPrefix(req.Prompt, "You plan"):
		return s.plan, nil
	default:
		return s.reply, nil
	}
}

func (s *scriptedProvider) promptsSeen() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

type recordingExec struct {
	mu       sync.Mutex
	executed []types.PlannedAction
	fail     map[string]bool // action name -> force failure
}

func (e *recordingExec) Execute(_ context.Context, _ string, a types.PlannedAction) types.ActionOutcome {
	e.mu.Lock()
	e.executed = append(e.executed, a)
	e.mu.Unlock()
	if e.fail[a.Name] {
		return types.ActionOutcome{Domain: a.Domain, Name: a.Name, Error: "forced failure"}
	}
	return types.ActionOutcome{Domain: a.Domain, Name: a.Name, Success: true, Result: map[string]any{}}
}

func (e *recordingExec) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.executed)
}

type recordingLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *recordingLog) AppendConversation(_ context.Context, _, messageType, content string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, messageType+": "+content)
	return nil
}

func newTestPipeline(provider ai.Provider, exec Executor, log ConversationLog) *Pipeline {
	return &Pipeline{
		Router:        NewRouter(provider),
		Fetcher:       &Fetcher{},
		Planner:       NewPlanner(provider),
		Responder:     NewResponder(provider),
		Confirmations: NewConfirmationManager(0),
		Sessions:      NewSessionManager(0),
		Locks:         NewUserLocks(),
		Dedup:         NewDeduper(0),
		Exec:          exec,
		Log:           log,
	}
}

func msg(id, text string) *types.Message {
	return &types.Message{UserID: "u1", ChatID: 1, ID: id, Text: text}
}

func TestPipelineDuplicateDiscard(t *testing.T) {
	provider := &scriptedProvider{route: `{"type": "chat", "domains": []}`, reply: "Hi!"}
	pipe := newTestPipeline(provider, &recordingExec{}, &recordingLog{})

	first := pipe.Process(context.Background(), msg("m1", "hello"))
	if first.Duplicate || first.Reply == "" {
		t.Fatalf("first = %+v", first)
	}
	second := pipe.Process(context.Background(), msg("m1", "hello"))
	if !second.Duplicate || second.Reply != "" {
		t.Fatalf("second = %+v, want silent duplicate discard", second)
	}
}

func TestPipelineEarlyExitChat(t *testing.T) {
	provider := &scriptedProvider{route: `{"type": "chat", "domains": []}`, reply: "Hey, how's it going?"}
	exec := &recordingExec{}
	log := &recordingLog{}
	pipe := newTestPipeline(provider, exec, log)

	res := pipe.Process(context.Background(), msg("m1", "good morning"))
	if res.Reply != "Hey, how's it going?" {
		t.Fatalf("reply = %q", res.Reply)
	}
	if exec.count() != 0 {
		t.Fatal("chat must not execute actions")
	}
	if res.FinalState != StateLogged {
		t.Fatalf("final state = %s, want LOGGED", res.FinalState)
	}
	// User message logged before the reply
	if len(log.entries) != 2 || !strings.HasPrefix(log.entries[0], "user:") || !strings.HasPrefix(log.entries[1], "assistant:") {
		t.Fatalf("log = %v", log.entries)
	}
}

func TestPipelineExecutesPlan(t *testing.T) {
	provider := &scriptedProvider{
		route: `{"type": "action", "domains": ["task"]}`,
		plan:  `{"actions": [{"domain": "task", "action": "create", "params": {"title": "Buy milk"}}]}`,
		reply: "Added 'Buy milk' to your tasks.",
	}
	exec := &recordingExec{}
	pipe := newTestPipeline(provider, exec, &recordingLog{})

	res := pipe.Process(context.Background(), msg("m1", "add buy milk"))
	if exec.count() != 1 || exec.executed[0].Name != "create" {
		t.Fatalf("executed = %+v", exec.executed)
	}
	if len(res.Outcomes) != 1 || !res.Outcomes[0].Success {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}
	if res.Reply != "Added 'Buy milk' to your tasks." {
		t.Fatalf("reply = %q", res.Reply)
	}
}

func TestPipelineConfirmationGate(t *testing.T) {
	provider := &scriptedProvider{
		route: `{"type": "action", "domains": ["email"]}`,
		plan: `{"actions": [{"domain": "email", "action": "send_email", "params": {"to": "sam@x.com", "subject": "Lunch"}}],
			"requires_confirmation": true, "confirmation_message": "Send the lunch email to Sam?"}`,
		reply: "Sent!",
	}
	exec := &recordingExec{}
	pipe := newTestPipeline(provider, exec, &recordingLog{})

	res := pipe.Process(context.Background(), msg("m1", "email sam about lunch"))
	if !res.AwaitingConfirmation {
		t.Fatalf("res = %+v, want confirmation gate", res)
	}
	if res.Reply != "Send the lunch email to Sam?" {
		t.Fatalf("reply = %q", res.Reply)
	}
	if exec.count() != 0 {
		t.Fatal("nothing may execute before confirmation")
	}

	// Affirmative executes the parked plan
	res = pipe.Process(context.Background(), msg("m2", "yes, send it"))
	if exec.count() != 1 || exec.executed[0].Name != "send_email" {
		t.Fatalf("executed = %+v", exec.executed)
	}
	if res.AwaitingConfirmation {
		t.Fatal("confirmation should be resolved")
	}

	// Nothing pending anymore: another yes routes normally
	provider.route = `{"type": "chat", "domains": []}`
	provider.reply = "All set."
	pipe.Process(context.Background(), msg("m3", "yes"))
	if exec.count() != 1 {
		t.Fatal("stale confirmation re-executed")
	}
}

func TestPipelineConfirmationNegative(t *testing.T) {
	provider := &scriptedProvider{
		route: `{"type": "action", "domains": ["task"]}`,
		plan:  `{"actions": [{"domain": "task", "action": "delete", "params": {"find_by": "report"}}]}`,
	}
	exec := &recordingExec{}
	pipe := newTestPipeline(provider, exec, &recordingLog{})

	pipe.Process(context.Background(), msg("m1", "delete the report task"))
	res := pipe.Process(context.Background(), msg("m2", "no, don't do that"))
	if exec.count() != 0 {
		t.Fatal("negative must cancel execution")
	}
	if res.Reply != "Got it, I won't do that." {
		t.Fatalf("reply = %q", res.Reply)
	}
	if pipe.Confirmations.Get("u1") != nil {
		t.Fatal("pending plan survived cancellation")
	}
}

func TestPipelineConfirmationAmbiguous(t *testing.T) {
	provider := &scriptedProvider{
		route: `{"type": "action", "domains": ["task"]}`,
		plan: `{"actions": [{"domain": "task", "action": "delete", "params": {"find_by": "report"}}],
			"requires_confirmation": true, "confirmation_message": "Delete 'report'?"}`,
	}
	exec := &recordingExec{}
	pipe := newTestPipeline(provider, exec, &recordingLog{})

	pipe.Process(context.Background(), msg("m1", "delete the report task"))
	res := pipe.Process(context.Background(), msg("m2", "hmm what about the other one"))
	if exec.count() != 0 {
		t.Fatal("ambiguous reply must not execute")
	}
	if !res.AwaitingConfirmation {
		t.Fatal("confirmation must stay pending after an ambiguous reply")
	}
	if !strings.Contains(res.Reply, "Delete 'report'?") {
		t.Fatalf("reply = %q, want the question re-asked", res.Reply)
	}
}

func TestPipelineClarificationShortCircuit(t *testing.T) {
	provider := &scriptedProvider{
		route: `{"type": "action", "domains": ["task"]}`,
		plan:  `{"actions": [], "needs_clarification": true, "clarification_question": "Which task?"}`,
	}
	exec := &recordingExec{}
	pipe := newTestPipeline(provider, exec, &recordingLog{})

	res := pipe.Process(context.Background(), msg("m1", "delete it"))
	if res.Reply != "Which task?" || exec.count() != 0 {
		t.Fatalf("res = %+v executed = %d", res, exec.count())
	}
	if pipe.Confirmations.Get("u1") != nil {
		t.Fatal("clarification must not create pending state")
	}
}

func TestPipelineOutcomeOrdering(t *testing.T) {
	provider := &scriptedProvider{
		route: `{"type": "action", "domains": ["task", "memory"]}`,
		plan: `{"actions": [
			{"domain": "task", "action": "create", "params": {"title": "A"}},
			{"domain": "memory", "action": "store", "params": {"key": "k", "value": "v"}},
			{"domain": "task", "action": "complete", "params": {"find_by": "B"}}
		]}`,
		reply: "Done all three.",
	}
	exec := &recordingExec{fail: map[string]bool{"store": true}}
	pipe := newTestPipeline(provider, exec, &recordingLog{})

	res := pipe.Process(context.Background(), msg("m1", "do several things"))
	if len(res.Outcomes) != 3 {
		t.Fatalf("outcomes = %d, want 3", len(res.Outcomes))
	}
	// Outcome order matches plan order even with parallel domains
	wantNames := []string{"create", "store", "complete"}
	for i, name := range wantNames {
		if res.Outcomes[i].Name != name {
			t.Fatalf("outcome[%d] = %s, want %s", i, res.Outcomes[i].Name, name)
		}
	}
	if res.Outcomes[1].Success || !res.Outcomes[0].Success || !res.Outcomes[2].Success {
		t.Fatalf("outcomes = %+v", res.Outcomes)
	}
}

func TestPipelineSessionBypassesRouter(t *testing.T) {
	provider := &scriptedProvider{
		// A route script that would derail the message if it were consulted
		route: `{"type": "chat", "domains": []}`,
		plan:  `{"actions": [{"domain": "task", "action": "update", "params": {"find_by": "quarterly report", "changes": {"progress": 80}}}]}`,
		reply: "Bumped it to 80.",
	}
	exec := &recordingExec{}
	pipe := newTestPipeline(provider, exec, &recordingLog{})
	pipe.Sessions.Open("u1", "task-7", "Quarterly report")

	res := pipe.Process(context.Background(), msg("m1", "bump the progress on that to eighty"))
	if exec.count() != 1 || exec.executed[0].Domain != types.DomainTask || exec.executed[0].Name != "update" {
		t.Fatalf("executed = %+v, want the planned task update", exec.executed)
	}
	if res.Reply != "Bumped it to 80." {
		t.Fatalf("reply = %q", res.Reply)
	}
	for _, prompt := range provider.promptsSeen() {
		if strings.HasPrefix(prompt, "You route") {
			t.Fatal("router consulted inside a discussion session")
		}
	}
}

func TestPipelineSessionChatWithoutActions(t *testing.T) {
	provider := &scriptedProvider{
		plan:  `{"actions": []}`,
		reply: "It's the one due Friday.",
	}
	exec := &recordingExec{}
	pipe := newTestPipeline(provider, exec, &recordingLog{})
	pipe.Sessions.Open("u1", "task-7", "Quarterly report")

	res := pipe.Process(context.Background(), msg("m1", "which report was that again?"))
	if exec.count() != 0 {
		t.Fatal("empty plan must not execute anything")
	}
	if res.Reply != "It's the one due Friday." {
		t.Fatalf("reply = %q", res.Reply)
	}
}

func TestPipelineSessionProgressReply(t *testing.T) {
	provider := &scriptedProvider{route: `{"type": "chat", "domains": []}`, reply: "ok"}
	pipe := newTestPipeline(provider, &recordingExec{}, &recordingLog{})

	var gotTaskID string
	var gotUpdate *ProgressUpdate
	pipe.OnProgress = func(_ context.Context, _, taskID string, update *ProgressUpdate) error {
		gotTaskID = taskID
		gotUpdate = update
		return nil
	}
	pipe.Sessions.Open("u1", "task-7", "Quarterly report")

	res := pipe.Process(context.Background(), msg("m1", "50%"))
	if gotTaskID != "task-7" || gotUpdate == nil || gotUpdate.Percent != 50 {
		t.Fatalf("progress = %q %+v", gotTaskID, gotUpdate)
	}
	if !strings.Contains(res.Reply, "50%") || !strings.Contains(res.Reply, "Quarterly report") {
		t.Fatalf("reply = %q", res.Reply)
	}
	if pipe.Sessions.Get("u1") == nil {
		t.Fatal("session should stay open after a progress update")
	}

	res = pipe.Process(context.Background(), msg("m2", "done"))
	if !strings.Contains(res.Reply, "Well done") {
		t.Fatalf("reply = %q", res.Reply)
	}
	if pipe.Sessions.Get("u1") != nil {
		t.Fatal("session should close when the task completes")
	}
}
