package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/mindloop/aria/internal/ai"
	"github.com/mindloop/aria/internal/logging"
	"github.com/mindloop/aria/internal/types"
)

const routerPrompt = `You route user messages to handlers. Output JSON only.

RECENT CONVERSATION:
%s

USER: "%s"

DETERMINE:
1. Is this simple chat (greeting, thanks, small talk, questions about capabilities)?
2. Or does it need tools? Which ones?
3. Is this a short response continuing the previous topic?

TOOLS:
- task: Creating, updating, completing tasks/reminders
- calendar: Viewing or creating calendar events
- email: Drafting or sending emails
- memory: User sharing personal facts to remember
- notes: Creating or deleting notes

RULES:
- Short responses ("yes", "ok", "that one", "the first", numbers, single words) after a bot question = followup
- "Thanks!" alone = chat. "Thanks, and remind me..." = action
- Questions about schedule/availability = calendar
- "Remember that..." or sharing personal info = memory
- If unsure, default to chat

Output ONLY this JSON:
{
  "type": "chat|action|followup",
  "domains": [],
  "is_followup": false
}`

var validDomains = map[string]types.Domain{
	"task":     types.DomainTask,
	"calendar": types.DomainCalendar,
	"email":    types.DomainEmail,
	"memory":   types.DomainMemory,
	"notes":    types.DomainNotes,
}

// Router is the first pipeline stage: a fast, low-token classification of the
// message. It fails open to chat so a model outage never blocks replies.
type Router struct {
	provider ai.Provider
}

// NewRouter creates a router on the given provider
func NewRouter(p ai.Provider) *Router {
	return &Router{provider: p}
}

// Route classifies a message. A biasDomain, when set, is appended to action
// routes that missed it (used during task discussion sessions).
func (r *Router) Route(ctx context.Context, text string, history []types.Turn, biasDomain types.Domain) types.RouteResult {
	prompt := fmt.Sprintf(routerPrompt, formatTurns(lastTurns(history, 3), 200), text)

	out, err := r.provider.Complete(ctx, &ai.Request{
		Prompt:      prompt,
		MaxTokens:   100,
		Temperature: 0.1,
	})
	var result types.RouteResult
	if err != nil {
		logging.Errorf("[Router] Completion failed: %v", err)
		result = heuristicRoute(text, history)
	} else {
		parsed, ok := parseRoute(out)
		if !ok {
			logging.Warnf("[Router] Unparseable route output, using heuristics")
			parsed = heuristicRoute(text, history)
		}
		result = parsed
	}

	if biasDomain != "" && result.Type == types.RouteAction && !result.HasDomain(biasDomain) {
		result.Domains = append(result.Domains, biasDomain)
	}
	return result
}

func parseRoute(out string) (types.RouteResult, bool) {
	body := extractJSON(out)
	if body == "" {
		return types.RouteResult{}, false
	}
	typ := gjson.Get(body, "type").String()
	switch typ {
	case "chat", "action", "followup":
	default:
		return types.RouteResult{}, false
	}

	result := types.RouteResult{
		Type:       types.RouteType(typ),
		IsFollowup: gjson.Get(body, "is_followup").Bool(),
	}
	for _, d := range gjson.Get(body, "domains").Array() {
		if dom, ok := validDomains[d.String()]; ok && !result.HasDomain(dom) {
			result.Domains = append(result.Domains, dom)
		}
	}
	return result, true
}

var (
	followupWords = []string{"yes", "no", "ok", "okay", "sure", "yep", "nope",
		"that", "this", "first", "second", "done", "skip"}

	taskKeywords = []string{"remind", "task", "todo", "to-do", "to do", "deadline",
		"complete", "finish", "done with"}
	calendarKeywords = []string{"calendar", "schedule", "meeting", "appointment", "event",
		"busy", "free", "available", "tomorrow", "today", "next week"}
	emailKeywords  = []string{"email", "mail", "send", "draft", "reply to"}
	memoryKeywords = []string{"remember", "my favorite", "i like", "i love", "i hate",
		"i prefer", "i am", "i'm a", "my name is"}
	notesKeywords = []string{"note", "shopping list"}
)

// heuristicRoute is the keyword fallback when the model call fails or
// returns garbage.
func heuristicRoute(text string, history []types.Turn) types.RouteResult {
	lower := strings.ToLower(strings.TrimSpace(text))
	words := strings.Fields(lower)

	if len(words) <= 3 {
		short := isDigits(lower)
		for _, w := range words {
			for _, f := range followupWords {
				if w == f {
					short = true
				}
			}
		}
		if short && lastAssistantAskedQuestion(history) {
			return types.RouteResult{Type: types.RouteFollowup, IsFollowup: true}
		}
	}

	var domains []types.Domain
	appendIf := func(keywords []string, d types.Domain) {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				domains = append(domains, d)
				return
			}
		}
	}
	appendIf(taskKeywords, types.DomainTask)
	appendIf(calendarKeywords, types.DomainCalendar)
	appendIf(emailKeywords, types.DomainEmail)
	appendIf(memoryKeywords, types.DomainMemory)
	appendIf(notesKeywords, types.DomainNotes)

	if len(domains) > 0 {
		return types.RouteResult{Type: types.RouteAction, Domains: domains}
	}
	return types.RouteResult{Type: types.RouteChat}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func lastAssistantAskedQuestion(history []types.Turn) bool {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == "assistant" {
			return strings.Contains(history[i].Content, "?")
		}
	}
	return false
}
