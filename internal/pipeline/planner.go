package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/mindloop/aria/internal/ai"
	"github.com/mindloop/aria/internal/logging"
	"github.com/mindloop/aria/internal/types"
)

// highStakes marks the actions that must be confirmed before execution.
// One high-stakes action holds the whole plan; partial execution of a mixed
// plan would make honest reporting impossible.
var highStakes = map[types.Domain]map[string]bool{
	types.DomainEmail: {
		"send_email":     true,
		"reply_to_email": true,
		"create_draft":   false,
	},
	types.DomainCalendar: {
		"delete_event": true,
		"update_event": true,
		"create_event": false,
	},
	types.DomainTask: {
		"delete":   true,
		"create":   false,
		"complete": false,
		"update":   false,
	},
	types.DomainMemory: {
		"delete": true,
		"store":  false,
		"update": false,
	},
	types.DomainNotes: {
		"delete_note": true,
		"create_note": false,
	},
}

// IsHighStakes reports whether a domain action needs confirmation
func IsHighStakes(domain types.Domain, action string) bool {
	return highStakes[domain][action]
}

const plannerPrompt = `You plan actions based on the user's request. Output JSON only.

CONVERSATION HISTORY (resolve pronouns from this):
%s

CURRENT MESSAGE: "%s"

AVAILABLE CONTEXT:
- Tasks: %s
- Calendar: %s
- Contacts: %s
- Memories: %s

TODAY: %s
CURRENT TIME: %s

DOMAINS TO HANDLE: %s

For each domain, plan the necessary action:

TASK ACTIONS:
- create: {title, description, priority (high/medium/low), deadline, recurrence_pattern (daily_HHMM/weekly_<day>_HHMM/monthly_<dom>_HHMM, only for recurring)}
- update: {find_by (title substring), changes}
- complete: {find_by (title substring)}
- delete: {find_by (title substring)} [REQUIRES CONFIRMATION]

CALENDAR ACTIONS:
- create_event: {summary, start_time (ISO format), end_time, location}
- list_events: {days_ahead}
- delete_event: {event_id or find_by} [REQUIRES CONFIRMATION]
- update_event: {event_id or find_by, changes} [REQUIRES CONFIRMATION]

EMAIL ACTIONS:
- create_draft: {to (name or email), subject, body}
- send_email: {to, subject, body} [REQUIRES CONFIRMATION]
- reply_to_email: {sender_name, body} [REQUIRES CONFIRMATION]

MEMORY ACTIONS:
- store: {category (preference/fact/relationship), key, value}
- update: {key, new_value}
- delete: {key} [REQUIRES CONFIRMATION]

NOTES ACTIONS:
- create_note: {title, content}
- delete_note: {find_by} [REQUIRES CONFIRMATION]

DATE PARSING (use these exact formats):
- "tomorrow" = %s
- "next Monday" = calculate from today
- "at 5pm" = today at T17:00:00
- "in 2 hours" = %s
- Always use ISO format: YYYY-MM-DDTHH:MM:SS

IMPORTANT:
1. Resolve ALL pronouns ("it", "that meeting", "him") using conversation history
2. If action is marked [REQUIRES CONFIRMATION], set requires_confirmation: true
3. If you can't determine a required field, set needs_clarification: true
4. For email body, write a brief but complete message with a greeting, short paragraphs, and a sign-off

Output ONLY this JSON:
{
  "actions": [
    {
      "domain": "task|calendar|email|memory|notes",
      "action": "action_name",
      "params": { },
      "reasoning": "Why this action"
    }
  ],
  "requires_confirmation": false,
  "confirmation_message": null,
  "needs_clarification": false,
  "clarification_question": null
}`

const clarifyFallback = "I had trouble understanding. Could you rephrase that?"

// Planner is the third pipeline stage: entity extraction and action planning
// with full conversation history. Failures degrade to a clarification
// request rather than an error.
type Planner struct {
	provider ai.Provider
}

// NewPlanner creates a planner on the given provider
func NewPlanner(p ai.Provider) *Planner {
	return &Planner{provider: p}
}

// Plan produces an action plan for the message within the routed domains
func (p *Planner) Plan(ctx context.Context, text string, fc *types.FetchedContext, domains []types.Domain) *types.ActionPlan {
	if len(domains) == 0 {
		return &types.ActionPlan{}
	}

	domainNames := make([]string, 0, len(domains))
	for _, d := range domains {
		domainNames = append(domainNames, string(d))
	}

	prompt := fmt.Sprintf(plannerPrompt,
		formatTurns(lastTurns(fc.History, 10), 300),
		text,
		formatTasks(fc.Tasks, 5),
		formatEvents(fc.Events, 5),
		formatContacts(fc.Contacts, 10),
		formatMemories(fc.Memories, 5),
		fc.Now.Format("Monday, January 2, 2006"),
		fc.Now.Format("3:04PM"),
		strings.Join(domainNames, ", "),
		fc.Now.AddDate(0, 0, 1).Format("2006-01-02T15:04:05"),
		fc.Now.Add(2*time.Hour).Format("2006-01-02T15:04:05"),
	)

	out, err := p.provider.Complete(ctx, &ai.Request{
		Prompt:      prompt,
		MaxTokens:   800,
		Temperature: 0.2,
	})
	if err != nil {
		logging.Errorf("[Planner] Completion failed: %v", err)
		return clarificationPlan(clarifyFallback)
	}
	return p.parse(out, domains)
}

func clarificationPlan(question string) *types.ActionPlan {
	return &types.ActionPlan{NeedsClarification: true, ClarificationQuestion: question}
}

// parse validates the model output. Actions for domains the router never
// selected are dropped; the high-stakes table overrides whatever the model
// claimed about confirmation.
func (p *Planner) parse(out string, domains []types.Domain) *types.ActionPlan {
	body := extractJSON(out)
	if body == "" {
		logging.Warnf("[Planner] No JSON in output: %s", truncate(out, 200))
		return clarificationPlan(clarifyFallback)
	}

	allowed := map[types.Domain]bool{}
	for _, d := range domains {
		allowed[d] = true
	}

	plan := &types.ActionPlan{}
	for _, raw := range gjson.Get(body, "actions").Array() {
		domain := types.Domain(raw.Get("domain").String())
		if _, known := validDomains[string(domain)]; !known {
			continue
		}
		if !allowed[domain] {
			logging.Warnf("[Planner] Dropping action for unrequested domain %s", domain)
			continue
		}
		action := types.PlannedAction{
			Domain:    domain,
			Name:      raw.Get("action").String(),
			Params:    map[string]any{},
			Reasoning: raw.Get("reasoning").String(),
		}
		if params, ok := raw.Get("params").Value().(map[string]any); ok {
			action.Params = params
		}
		action.HighStakes = IsHighStakes(domain, action.Name)
		if action.HighStakes {
			plan.RequiresConfirmation = true
		}
		plan.Actions = append(plan.Actions, action)
	}

	if gjson.Get(body, "requires_confirmation").Bool() {
		plan.RequiresConfirmation = true
	}
	if plan.RequiresConfirmation {
		plan.ConfirmationMessage = gjson.Get(body, "confirmation_message").String()
	}
	plan.NeedsClarification = gjson.Get(body, "needs_clarification").Bool()
	if plan.NeedsClarification {
		plan.ClarificationQuestion = gjson.Get(body, "clarification_question").String()
		if plan.ClarificationQuestion == "" {
			plan.ClarificationQuestion = clarifyFallback
		}
	}
	return plan
}
