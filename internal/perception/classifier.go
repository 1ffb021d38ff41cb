package perception

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"projectos/internal/types"
)

// =============================================================================
// INTENT CLASSIFIER
// =============================================================================

const intentSystemPrompt = `You are a JSON-only intent classifier for a project assistant.

Classify the user's latest message into exactly one intent:
- "recall": asking what the assistant already knows or was told
- "status": asking where the project stands
- "plan": asking for a plan or next steps
- "execute": asking to do or produce something now
- "lookup": asking for external/world knowledge
- "misc": anything else (greetings, chit-chat, feelings)

Output ONLY a JSON object, no prose, no markdown fences:
{"intent": "...", "entities": ["..."], "scope": "current_project"}`

const continuitySystemPrompt = `You are a JSON-only continuity classifier for a project assistant.

Given the recent conversation tail and the latest user message, decide:
- "same_topic": the message continues the current thread
- "new_topic": the message starts something unrelated
- "unclear": cannot tell

"followup_only" is true when the message only makes sense with the prior
context (pronouns, "what about", bare answers).

Output ONLY a JSON object, no prose, no markdown fences:
{"continuity": "...", "followup_only": true, "topic": "..."}`

var (
	fileRefRe  = regexp.MustCompile(`(?i)\b(?:the |that |my )?(?:file|pdf|image|photo|picture|spreadsheet|workbook|upload|document|drawing|plan sheet)\b|\.\w{2,4}\b`)
	greetingRe = regexp.MustCompile(`(?i)^(?:hi|hey|hello|yo|good (?:morning|afternoon|evening)|howdy|sup)[.!,]?$`)

	recallHintRe = regexp.MustCompile(`(?i)\b(?:what(?:'s| is) my|what did i (?:say|tell)|do you (?:remember|know my)|remind me what)\b`)
	statusHintRe = regexp.MustCompile(`(?i)\b(?:where (?:are we|did we leave off)|status|what's left|progress)\b`)
	planHintRe   = regexp.MustCompile(`(?i)\b(?:plan|next steps|roadmap|how should (?:i|we) approach)\b`)
	lookupHintRe = regexp.MustCompile(`(?i)\b(?:is it true|look up|search for|what do (?:people|reviews) say|according to)\b`)
)

// IntentClassifier runs a single strict-JSON model call and applies
// deterministic post-corrections. It never fails the turn: any model or
// parse error falls back to heuristics.
type IntentClassifier struct {
	model  ModelCaller
	logger *zap.Logger
}

// NewIntentClassifier creates an intent classifier.
func NewIntentClassifier(model ModelCaller, logger *zap.Logger) *IntentClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IntentClassifier{model: model, logger: logger}
}

// Classify returns the intent for the latest user message.
func (c *IntentClassifier) Classify(ctx context.Context, userMsg string) types.Intent {
	intent, err := c.classify(ctx, userMsg)
	if err != nil {
		c.logger.Debug("intent classification fell back to heuristics", zap.Error(err))
		intent = FallbackIntent(userMsg)
	}
	return CorrectIntent(intent, userMsg)
}

func (c *IntentClassifier) classify(ctx context.Context, userMsg string) (types.Intent, error) {
	if c.model == nil {
		return types.Intent{}, fmt.Errorf("no model configured")
	}
	raw, err := c.model.Chat(ctx, []types.Message{
		{Role: types.RoleSystem, Content: intentSystemPrompt},
		{Role: types.RoleUser, Content: userMsg},
	})
	if err != nil {
		return types.Intent{}, err
	}
	var intent types.Intent
	if err := types.UnmarshalStrict(raw, &intent); err != nil {
		return types.Intent{}, err
	}
	if !validIntentKind(intent.Intent) {
		return types.Intent{}, fmt.Errorf("unknown intent kind: %q", intent.Intent)
	}
	return intent, nil
}

// CorrectIntent applies the deterministic post-corrections that run after
// every classification, model-backed or heuristic.
func CorrectIntent(intent types.Intent, userMsg string) types.Intent {
	intent.Scope = "current_project"
	trimmed := strings.TrimSpace(userMsg)
	if intent.Intent == types.IntentRecall && fileRefRe.MatchString(trimmed) {
		intent.Intent = types.IntentMisc
	}
	if greetingRe.MatchString(trimmed) {
		intent.Intent = types.IntentMisc
		intent.Entities = nil
	}
	return intent
}

// FallbackIntent classifies from surface cues when the model is unavailable.
func FallbackIntent(userMsg string) types.Intent {
	trimmed := strings.TrimSpace(userMsg)
	intent := types.Intent{Intent: types.IntentMisc, Scope: "current_project"}
	switch {
	case recallHintRe.MatchString(trimmed):
		intent.Intent = types.IntentRecall
	case statusHintRe.MatchString(trimmed):
		intent.Intent = types.IntentStatus
	case planHintRe.MatchString(trimmed):
		intent.Intent = types.IntentPlan
	case lookupHintRe.MatchString(trimmed):
		intent.Intent = types.IntentLookup
	}
	return intent
}

func validIntentKind(k types.IntentKind) bool {
	switch k {
	case types.IntentRecall, types.IntentStatus, types.IntentPlan,
		types.IntentExecute, types.IntentLookup, types.IntentMisc:
		return true
	}
	return false
}

// =============================================================================
// CONTINUITY CLASSIFIER
// =============================================================================

var dependentRe = regexp.MustCompile(`(?i)^(?:yes|no|ok|okay|sure|continue|more|tell me more|what about\b|and\b|also\b|it\b|that\b|they\b)`)

// ContinuityClassifier decides whether the latest message continues the
// current thread. Failures default to same_topic with followup_only=true,
// which keeps context rather than dropping it.
type ContinuityClassifier struct {
	model  ModelCaller
	logger *zap.Logger
}

// NewContinuityClassifier creates a continuity classifier.
func NewContinuityClassifier(model ModelCaller, logger *zap.Logger) *ContinuityClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContinuityClassifier{model: model, logger: logger}
}

// Classify returns the continuity decision for the latest user message given
// the recent conversation tail.
func (c *ContinuityClassifier) Classify(ctx context.Context, tail []types.Message, userMsg string) types.Continuity {
	cont, err := c.classify(ctx, tail, userMsg)
	if err != nil {
		c.logger.Debug("continuity classification fell back to default", zap.Error(err))
		return DefaultContinuity(userMsg)
	}
	return cont
}

func (c *ContinuityClassifier) classify(ctx context.Context, tail []types.Message, userMsg string) (types.Continuity, error) {
	if c.model == nil {
		return types.Continuity{}, fmt.Errorf("no model configured")
	}
	var prompt strings.Builder
	prompt.WriteString("Recent conversation:\n")
	for _, m := range tail {
		fmt.Fprintf(&prompt, "%s: %s\n", m.Role, m.Content)
	}
	prompt.WriteString("\nLatest user message:\n")
	prompt.WriteString(userMsg)

	raw, err := c.model.Chat(ctx, []types.Message{
		{Role: types.RoleSystem, Content: continuitySystemPrompt},
		{Role: types.RoleUser, Content: prompt.String()},
	})
	if err != nil {
		return types.Continuity{}, err
	}
	var cont types.Continuity
	if err := types.UnmarshalStrict(raw, &cont); err != nil {
		return types.Continuity{}, err
	}
	switch cont.Continuity {
	case types.SameTopic, types.NewTopic, types.Unclear:
	default:
		return types.Continuity{}, fmt.Errorf("unknown continuity kind: %q", cont.Continuity)
	}
	return cont, nil
}

// DefaultContinuity is the deterministic fallback: messages that read as
// dependent on prior context keep the thread.
func DefaultContinuity(userMsg string) types.Continuity {
	trimmed := strings.TrimSpace(userMsg)
	if dependentRe.MatchString(trimmed) || len(trimmed) < 12 {
		return types.Continuity{Continuity: types.SameTopic, FollowupOnly: true}
	}
	return types.Continuity{Continuity: types.SameTopic, FollowupOnly: false}
}
