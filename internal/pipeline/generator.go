package pipeline

import (
	"context"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"projectos/internal/perception"
	"projectos/internal/types"
)

// =============================================================================
// GROUNDED GENERATOR
// =============================================================================

const groundedPrompt = `You are a project assistant with durable memory. Answer ONLY from the
canonical snippets and conversation below. If the snippets do not contain the
answer, say "Not recorded / ambiguous." rather than guessing. Never invent
project facts, decisions, or uploads.`

const hybridGroundedPrompt = `You are a project assistant with durable memory. Prefer the canonical
snippets below for anything project-specific; you may add general knowledge
when it is clearly marked as general. Never contradict a snippet and never
invent project facts.`

const conversationalExpertPrompt = `You are a project assistant with durable memory, currently operating under
an expert frame. Stay in that frame's voice and priorities. Use the canonical
snippets for project facts; be direct and concrete.`

const defaultExpertPrompt = `You are a direct, practical project assistant with durable memory. Use the
canonical snippets for project facts. No flattery, no filler. Lead with the
answer.`

const lookupPrompt = `You are a project assistant answering an external-knowledge question with
retrieved evidence. Ground every claim in the evidence provided. When
evidence exists, never claim you lack access to information.`

const onrampNote = `ONRAMP: If the project has no goal yet, help the user land on one concrete
goal before going deep. One question at a time.`

const continuityNote = `CONTINUITY: The user is continuing the current thread. Do not re-ask for
context already established. If exactly one detail is missing, ask for that
one detail (a single What-Is-Needed question) after your best-effort answer.`

var continueRe = regexp.MustCompile(`(?i)^(?:continue|go on|tell me more|more|keep going)[.!?]?$`)

// GenInput is everything the message builder consumes, already computed.
type GenInput struct {
	Intent       types.Intent
	ProjectMode  types.ProjectMode
	ActiveExpert string
	LookupMode   bool

	CKCLNote     string
	TimeBlock    string
	AnchorsLine  string
	BringupsNote string
	ExpertNote   string
	NeedsOnramp  bool

	Tail          []types.Message
	LastAssistant string
	Continuity    types.Continuity
	YesNoNote     string
	CCGNote       string
	LookupNote    string
	Snippets      string
	UserMsg       string
}

// selectSystemPrompt picks the mode prompt.
func selectSystemPrompt(in GenInput) string {
	if in.LookupMode {
		return lookupPrompt
	}
	grounded := in.Intent.Intent == types.IntentRecall || in.Intent.Intent == types.IntentStatus
	switch {
	case grounded && in.ProjectMode == types.ModeHybrid:
		return hybridGroundedPrompt
	case grounded:
		return groundedPrompt
	case in.ActiveExpert != "" && in.ActiveExpert != "default":
		return conversationalExpertPrompt
	default:
		return defaultExpertPrompt
	}
}

// BuildMessages assembles the message list in its strict order. Order is the
// contract: reordering sections changes model behavior.
func BuildMessages(in GenInput) []types.Message {
	var msgs []types.Message
	system := func(content string) {
		if content != "" {
			msgs = append(msgs, types.Message{Role: types.RoleSystem, Content: content})
		}
	}

	system(selectSystemPrompt(in))
	system(in.CKCLNote)
	if in.NeedsOnramp {
		system(onrampNote)
	}
	if in.TimeBlock != "" {
		block := in.TimeBlock
		if in.AnchorsLine != "" {
			block += "\n" + in.AnchorsLine
		}
		system(block)
	}
	system(in.BringupsNote)
	system(in.ExpertNote)

	msgs = append(msgs, in.Tail...)

	if in.LastAssistant != "" && in.Continuity.Continuity == types.SameTopic && continueRe.MatchString(strings.TrimSpace(in.UserMsg)) {
		system("PREVIOUS_ANSWER (continue from here):\n" + in.LastAssistant)
	}
	if in.Continuity.Continuity == types.SameTopic && in.Continuity.FollowupOnly {
		system(continuityNote)
	}
	system(in.YesNoNote)
	system(in.CCGNote)
	system(in.LookupNote)
	system(in.Snippets)

	msgs = append(msgs, types.Message{Role: types.RoleUser, Content: in.UserMsg})
	return msgs
}

// Generator wraps the model call for grounded generation.
type Generator struct {
	model  perception.ModelCaller
	logger *zap.Logger
}

// NewGenerator creates a grounded generator.
func NewGenerator(model perception.ModelCaller, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{model: model, logger: logger}
}

// Generate runs one model call over the assembled messages.
func (g *Generator) Generate(ctx context.Context, in GenInput, extraNotes ...string) (string, error) {
	msgs := BuildMessages(in)
	if len(extraNotes) > 0 {
		// Enforcement notes slot in just before the user message.
		user := msgs[len(msgs)-1]
		msgs = msgs[:len(msgs)-1]
		for _, note := range extraNotes {
			if note != "" {
				msgs = append(msgs, types.Message{Role: types.RoleSystem, Content: note})
			}
		}
		msgs = append(msgs, user)
	}
	return g.model.Chat(ctx, msgs)
}
