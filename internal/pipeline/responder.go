package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/mindloop/aria/internal/ai"
	"github.com/mindloop/aria/internal/logging"
	"github.com/mindloop/aria/internal/types"
)

// Canned fallbacks when response generation itself fails. The success one is
// only used when every outcome succeeded; claiming success after a failure
// is never acceptable.
const (
	fallbackSuccess = "Done."
	fallbackFailure = "Sorry, something went wrong. Please try again."
	fallbackChat    = "Hey! How can I help you today?"
)

const actionResponsePrompt = `You are responding to the user. Be warm, concise, and HONEST.

USER MESSAGE: "%s"

CONVERSATION CONTEXT:
%s

WHAT YOU KNOW ABOUT THEM:
%s

ACTION RESULTS:
%s

RULES:
1. If actions SUCCEEDED, acknowledge briefly and naturally
2. If actions FAILED, apologize and explain what went wrong
3. Match their energy (casual = casual, urgent = focused)
4. Keep to 1-3 sentences unless they asked for detail

NEVER:
- Say "Done!" if an action failed
- Hallucinate success when action results show failure
- Start every response with "I"
- Add unnecessary follow-up questions
- Use emojis

Generate your response (plain text, no JSON):`

const chatResponsePrompt = `You are a helpful personal assistant having a conversation.

USER MESSAGE: "%s"

RECENT CONVERSATION:
%s

WHAT YOU KNOW ABOUT THEM:
%s

Be warm, concise, and helpful. Keep responses to 1-3 sentences for casual chat.
Match their energy. Don't be overly formal or robotic.
Don't add unnecessary follow-up questions.
Don't use emojis.

Respond naturally:`

// Responder is the fourth pipeline stage: natural language output grounded
// in what actually happened.
type Responder struct {
	provider ai.Provider
}

// NewResponder creates a responder on the given provider
func NewResponder(p ai.Provider) *Responder {
	return &Responder{provider: p}
}

// ActionResponse renders a reply after action execution
func (r *Responder) ActionResponse(ctx context.Context, text string, outcomes []types.ActionOutcome, fc *types.FetchedContext) string {
	prompt := fmt.Sprintf(actionResponsePrompt,
		text,
		formatTurns(lastTurns(fc.History, 5), 200),
		formatMemories(fc.Memories, 3),
		formatOutcomes(outcomes),
	)
	out, err := r.provider.Complete(ctx, &ai.Request{
		Prompt:      prompt,
		MaxTokens:   300,
		Temperature: 0.7,
	})
	if err != nil {
		logging.Errorf("[Responder] Completion failed: %v", err)
		if types.AllSucceeded(outcomes) {
			return fallbackSuccess
		}
		return fallbackFailure
	}
	return strings.TrimSpace(out)
}

// ChatResponse renders a reply for pure chat, no actions
func (r *Responder) ChatResponse(ctx context.Context, text string, fc *types.FetchedContext) string {
	history := []types.Turn{}
	memories := []types.MemoryView{}
	if fc != nil {
		history = fc.History
		memories = fc.Memories
	}
	prompt := fmt.Sprintf(chatResponsePrompt,
		text,
		formatTurns(lastTurns(history, 5), 200),
		formatMemories(memories, 3),
	)
	out, err := r.provider.Complete(ctx, &ai.Request{
		Prompt:      prompt,
		MaxTokens:   200,
		Temperature: 0.8,
	})
	if err != nil {
		logging.Errorf("[Responder] Chat completion failed: %v", err)
		return fallbackChat
	}
	return strings.TrimSpace(out)
}

// ConfirmationPrompt builds the question shown before executing a
// high-stakes plan. The planner's own message wins when present.
func (r *Responder) ConfirmationPrompt(plan *types.ActionPlan) string {
	if plan.ConfirmationMessage != "" {
		return plan.ConfirmationMessage
	}
	if len(plan.Actions) == 0 {
		return "I'm not sure what you'd like me to do. Could you clarify?"
	}

	a := plan.Actions[0]
	switch a.Domain {
	case types.DomainEmail:
		switch a.Name {
		case "send_email":
			return fmt.Sprintf("Should I send this email to %s about '%s'?",
				a.StringParam("to", "someone"), a.StringParam("subject", "your message"))
		case "reply_to_email":
			return fmt.Sprintf("Should I send this reply to %s?", a.StringParam("sender_name", "them"))
		}
	case types.DomainCalendar:
		switch a.Name {
		case "delete_event":
			return fmt.Sprintf("Should I delete '%s' from your calendar?", a.StringParam("find_by", "this event"))
		case "update_event":
			return fmt.Sprintf("Should I update '%s'?", a.StringParam("find_by", "this event"))
		}
	case types.DomainTask:
		if a.Name == "delete" {
			return fmt.Sprintf("Should I delete the task '%s'?", a.StringParam("find_by", "this task"))
		}
	case types.DomainMemory:
		if a.Name == "delete" {
			return fmt.Sprintf("Should I forget '%s'?", a.StringParam("key", "that"))
		}
	case types.DomainNotes:
		if a.Name == "delete_note" {
			return fmt.Sprintf("Should I delete the note '%s'?", a.StringParam("find_by", "this note"))
		}
	}
	return fmt.Sprintf("Should I proceed with this %s action?", a.Domain)
}

// ClarificationResponse echoes the planner's question, with a fallback
func (r *Responder) ClarificationResponse(question string) string {
	if question != "" {
		return question
	}
	return "I'm not sure I understand. Could you give me more details?"
}

// formatOutcomes renders outcomes for the honesty-checked response prompt
func formatOutcomes(outcomes []types.ActionOutcome) string {
	if len(outcomes) == 0 {
		return "(No actions taken)"
	}
	lines := make([]string, 0, len(outcomes)+1)
	if types.AllSucceeded(outcomes) {
		lines = append(lines, "All actions succeeded.")
	} else {
		lines = append(lines, "Some actions failed.")
	}
	for _, o := range outcomes {
		if o.Success {
			lines = append(lines, fmt.Sprintf("SUCCESS: %s.%s %s", o.Domain, o.Name, resultDetail(o)))
		} else {
			msg := o.Error
			if msg == "" {
				msg = "Unknown error"
			}
			lines = append(lines, fmt.Sprintf("FAILED: %s.%s - %s", o.Domain, o.Name, msg))
		}
	}
	return strings.Join(lines, "\n")
}

func resultDetail(o types.ActionOutcome) string {
	for _, key := range []string{"title", "summary", "to", "key"} {
		if v, ok := o.Result[key].(string); ok && v != "" {
			return fmt.Sprintf("(%s)", v)
		}
	}
	return "completed"
}
