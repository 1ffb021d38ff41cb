// Package interpret maintains the per-project interpretive memory: a
// strict-JSON model extraction over a bounded conversation window, validated
// against the window text and merged into understanding.json.
package interpret

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"projectos/internal/perception"
	"projectos/internal/store"
	"projectos/internal/types"
)

// Window and merge bounds.
const (
	WindowTurns  = 8
	maxListItems = 12
)

const extractorSystemPrompt = `You are a JSON-only observer of a project conversation.

Extract interpretive observations from the window below. Every observation
MUST carry an "evidence" field that is an EXACT verbatim substring of the
window text. Do not paraphrase evidence.

Output ONLY a JSON object, no prose, no markdown fences:
{
  "entities": [{"text": "...", "uncertainty": "low|medium|high", "evidence": "...", "turn_index": 0}],
  "relationship_dynamics": [...],
  "themes": [...],
  "values_goals": [...],
  "open_ambiguities": [...]
}`

// Extractor runs the windowed extraction and owns understanding.json merges.
type Extractor struct {
	model  perception.ModelCaller
	disk   *store.Store
	logger *zap.Logger
}

// NewExtractor creates an interpretive memory extractor.
func NewExtractor(model perception.ModelCaller, disk *store.Store, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{model: model, disk: disk, logger: logger}
}

// ComposeWindow flattens the last WindowTurns messages plus the assistant
// reply into the extraction blob.
func ComposeWindow(tail []types.Message, assistantReply string) string {
	start := len(tail) - WindowTurns
	if start < 0 {
		start = 0
	}
	var sb strings.Builder
	for _, m := range tail[start:] {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	fmt.Fprintf(&sb, "assistant: %s\n", assistantReply)
	return sb.String()
}

// Observe extracts from the window and merges into understanding.json. Even
// when the model call or validation fails, a sentinel merge still bumps
// last_updated_turn so the write path is provably alive.
func (e *Extractor) Observe(ctx context.Context, user, project string, tail []types.Message, assistantReply string, turnIndex int) error {
	window := ComposeWindow(tail, assistantReply)

	extracted, err := e.extract(ctx, window)
	if err != nil {
		e.logger.Debug("interpretive extraction failed, merging sentinel", zap.Error(err))
		extracted = sentinel(turnIndex)
	} else {
		Validate(extracted, window)
	}

	current := e.disk.LoadUnderstanding(user, project)
	Merge(current, extracted, turnIndex)
	return e.disk.SaveUnderstanding(user, project, current)
}

func (e *Extractor) extract(ctx context.Context, window string) (*types.InterpretiveMemory, error) {
	if e.model == nil {
		return nil, fmt.Errorf("no model configured")
	}
	raw, err := e.model.Chat(ctx, []types.Message{
		{Role: types.RoleSystem, Content: extractorSystemPrompt},
		{Role: types.RoleUser, Content: window},
	})
	if err != nil {
		return nil, err
	}
	out := &types.InterpretiveMemory{}
	if err := types.UnmarshalStrict(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate drops every observation whose evidence is not a verbatim
// substring of the window.
func Validate(m *types.InterpretiveMemory, window string) {
	m.Entities = filterVerbatim(m.Entities, window)
	m.RelationshipDynamics = filterVerbatim(m.RelationshipDynamics, window)
	m.Themes = filterVerbatim(m.Themes, window)
	m.ValuesGoals = filterVerbatim(m.ValuesGoals, window)
	m.OpenAmbiguities = filterVerbatim(m.OpenAmbiguities, window)
}

func filterVerbatim(items []types.InterpretiveItem, window string) []types.InterpretiveItem {
	var out []types.InterpretiveItem
	for _, it := range items {
		if it.Evidence != "" && strings.Contains(window, it.Evidence) {
			out = append(out, it)
		}
	}
	return out
}

// Merge appends new observations into the stored record, deduping on text
// and capping each list.
func Merge(dst, src *types.InterpretiveMemory, turnIndex int) {
	dst.Entities = mergeList(dst.Entities, src.Entities)
	dst.RelationshipDynamics = mergeList(dst.RelationshipDynamics, src.RelationshipDynamics)
	dst.Themes = mergeList(dst.Themes, src.Themes)
	dst.ValuesGoals = mergeList(dst.ValuesGoals, src.ValuesGoals)
	dst.OpenAmbiguities = mergeList(dst.OpenAmbiguities, src.OpenAmbiguities)
	dst.LastUpdatedTurn = turnIndex
}

func mergeList(dst, src []types.InterpretiveItem) []types.InterpretiveItem {
	seen := make(map[string]bool, len(dst))
	for _, it := range dst {
		seen[strings.ToLower(it.Text)] = true
	}
	for _, it := range src {
		if it.Text == "" || seen[strings.ToLower(it.Text)] {
			continue
		}
		seen[strings.ToLower(it.Text)] = true
		dst = append(dst, it)
	}
	if len(dst) > maxListItems {
		dst = dst[len(dst)-maxListItems:]
	}
	return dst
}

// sentinel is the liveness marker merged when extraction yields nothing.
func sentinel(turnIndex int) *types.InterpretiveMemory {
	return &types.InterpretiveMemory{LastUpdatedTurn: turnIndex}
}
