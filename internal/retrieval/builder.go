// Package retrieval assembles the bounded, ordered canonical snippets that
// ground each generation turn. Assembly is fully deterministic: same disk
// state and inputs, same snippets.
package retrieval

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"projectos/internal/config"
	"projectos/internal/facts"
	"projectos/internal/policy"
	"projectos/internal/store"
	"projectos/internal/types"
)

// Snippet is one labeled canonical block.
type Snippet struct {
	Label   string
	Content string
}

// Input carries everything the builder needs for one turn.
type Input struct {
	User        string
	Project     string
	State       *types.ProjectState
	Intent      types.Intent
	UserMsg     string
	Focus       *types.ActiveObject
	Search      *types.SearchEvidence
	Assumptions []string
}

// Builder produces the ordered snippet list.
type Builder struct {
	disk   *store.Store
	policy *policy.Engine
	cfg    config.MemoryConfig
	logger *zap.Logger
}

// NewBuilder creates a retrieval builder.
func NewBuilder(disk *store.Store, pol *policy.Engine, cfg config.MemoryConfig, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{disk: disk, policy: pol, cfg: cfg, logger: logger}
}

var comparisonRe = regexp.MustCompile(`(?i)\b(?:compare|versus|vs\.?|side by side|difference between|which (?:quote|bid|one) is)\b`)

// Evidence bridge preference order for non-image focus files.
var bridgeOrder = []string{
	store.ArtifactPlanOCR,
	store.ArtifactOCRText,
	store.ArtifactPDFText,
	store.ArtifactImageCaption,
	store.ArtifactFileOverview,
}

// Build assembles the canonical snippets in their fixed order.
func (b *Builder) Build(in Input) []Snippet {
	var out []Snippet

	if s := b.stateExcerpt(in.State, in.Project); s != "" {
		out = append(out, Snippet{Label: "PROJECT_STATE_JSON", Content: s})
	}
	if s := b.factsCompact(in.User, in.Project); s != "" {
		out = append(out, Snippet{Label: "FACTS_MAP_COMPACT", Content: s})
	}
	if in.Intent.Intent == types.IntentRecall || in.Intent.Intent == types.IntentStatus {
		if s := b.globalMemory(in.User); s != "" {
			out = append(out, Snippet{Label: "GLOBAL_MEMORY", Content: s})
		}
	}
	if s := b.fileBridge(in.User, in.Project, in.Focus); s != "" {
		out = append(out, Snippet{Label: "FILE_EVIDENCE", Content: s})
	}
	if comparisonRe.MatchString(in.UserMsg) {
		if s := b.excelBridge(in.User, in.Project); s != "" {
			out = append(out, Snippet{Label: "WORKBOOK_EVIDENCE", Content: s})
		}
	}
	if s := renderSearch(in.Search); s != "" {
		out = append(out, Snippet{Label: "SEARCH_EVIDENCE", Content: s})
	}
	if len(in.Assumptions) > 0 {
		out = append(out, Snippet{Label: "ASSUMPTIONS", Content: renderAssumptions(in.Assumptions)})
	}
	return out
}

// Render flattens the snippets into the CANONICAL_SNIPPETS blob.
func Render(snippets []Snippet) string {
	if len(snippets) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("CANONICAL_SNIPPETS:\n")
	for _, s := range snippets {
		fmt.Fprintf(&sb, "\n[%s]\n%s\n", s.Label, strings.TrimRight(s.Content, "\n"))
	}
	return sb.String()
}

// =============================================================================
// SECTIONS
// =============================================================================

// stateExcerpt is the compact project-state slice: goal, mode, bootstrap,
// expert frame, focus, next actions, key files. Never the full state.
func (b *Builder) stateExcerpt(state *types.ProjectState, project string) string {
	if state == nil {
		return ""
	}
	excerpt := map[string]interface{}{
		"project":   project,
		"goal":      state.Goal,
		"mode":      state.ProjectMode,
		"bootstrap": state.BootstrapStatus,
	}
	if state.ExpertFrame.Status != "" || state.ExpertFrame.Label != "" {
		excerpt["expert_frame"] = state.ExpertFrame
	}
	if state.CurrentFocus != "" {
		excerpt["current_focus"] = state.CurrentFocus
	}
	if len(state.NextActions) > 0 {
		excerpt["next_actions"] = state.NextActions
	}
	if len(state.KeyFiles) > 0 {
		excerpt["key_files"] = state.KeyFiles
	}
	data, err := json.Marshal(excerpt)
	if err != nil {
		return ""
	}
	return string(data)
}

// factsCompact renders the bounded facts-map view with the read-time policy
// gate applied.
func (b *Builder) factsCompact(user, project string) string {
	md := store.ReadText(b.disk.ProjectFile(user, project, store.FileFactsMap))
	if md == "" {
		return ""
	}
	parsed := facts.ParseFactsMap(md)
	if len(parsed) == 0 {
		return ""
	}
	allow := func(f types.Tier2Fact) bool {
		if b.policy == nil {
			return true
		}
		return b.policy.AllowResurface(user, f.Statement, f.EntityKey)
	}
	return facts.CompactView(parsed, allow, facts.CompactOptions{
		MaxItems: b.cfg.FactsCompactMax,
		MaxChars: b.cfg.FactsCompactChars,
	})
}

// globalMemory renders the Tier-2G profile excerpt plus the Tier-2M global
// facts snippet. Recall/status turns only.
func (b *Builder) globalMemory(user string) string {
	var sb strings.Builder

	profile, err := b.disk.LoadProfile(user)
	if err == nil && profile != nil {
		var parts []string
		if profile.PreferredName != "" {
			parts = append(parts, "preferred_name="+profile.PreferredName)
		}
		if profile.Birthdate != "" {
			parts = append(parts, "birthdate="+profile.Birthdate)
		}
		if profile.Timezone != "" {
			parts = append(parts, "timezone="+profile.Timezone)
		}
		if profile.Location != "" {
			parts = append(parts, "location="+profile.Location)
		}
		parts = append(parts, relationshipPairs(profile.Relationships)...)
		if len(parts) > 0 {
			sb.WriteString("USER_PROFILE: " + strings.Join(parts, "; "))
		}
	}

	global, err := b.disk.LoadGlobalFacts(user)
	if err == nil && global != nil && len(global.Facts) > 0 {
		allow := func(f types.Tier2Fact) bool {
			if b.policy == nil {
				return true
			}
			return b.policy.AllowResurface(user, f.Statement, f.EntityKey)
		}
		view := facts.CompactView(global.Facts, allow, facts.CompactOptions{
			MaxItems: b.cfg.FactsCompactMax,
			MaxChars: b.cfg.FactsCompactChars,
		})
		if view != "" {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString(strings.Replace(view, "FACTS_MAP_COMPACT:", "GLOBAL_FACTS:", 1))
		}
	}
	return sb.String()
}

// fileBridge injects evidence text for the focused file. Images prefer the
// semantic description over OCR; everything else walks the bridge order.
func (b *Builder) fileBridge(user, project string, focus *types.ActiveObject) string {
	if focus == nil {
		return ""
	}
	if strings.HasPrefix(focus.MIME, "image/") {
		text, err := b.disk.FindLatestArtifactTextForFile(user, project, focus.RelPath, store.ArtifactImageSemantics)
		if err == nil && text != "" {
			return b.excerpt("image_semantics "+focus.OrigName, text)
		}
	}
	for _, kind := range bridgeOrder {
		text, err := b.disk.FindLatestArtifactTextForFile(user, project, focus.RelPath, kind)
		if err != nil {
			b.logger.Debug("bridge read failed", zap.String("kind", kind), zap.Error(err))
			continue
		}
		if text != "" {
			return b.excerpt(kind+" "+focus.OrigName, text)
		}
	}
	return ""
}

// excelBridge injects up to the 3 most recent workbooks' blueprint plus
// overview on comparison turns.
func (b *Builder) excelBridge(user, project string) string {
	blueprints := b.disk.LatestArtifactsByType(user, project, store.ArtifactExcelBlueprint, 3)
	if len(blueprints) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, entry := range blueprints {
		text, err := b.disk.ReadArtifactText(user, project, &entry)
		if err != nil || text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(b.excerpt("excel_blueprint "+entry.OrigName, text))
		if overview, err := b.disk.FindLatestArtifactTextForFile(user, project, entry.SourceRel, store.ArtifactFileOverview); err == nil && overview != "" {
			sb.WriteString("\n")
			sb.WriteString(b.excerpt("file_overview "+entry.OrigName, overview))
		}
	}
	return sb.String()
}

// excerpt labels and truncates a single evidence text to the tail cap.
func (b *Builder) excerpt(label, text string) string {
	max := b.cfg.ExcerptTailChars
	if max <= 0 {
		max = 9000
	}
	text = strings.TrimSpace(text)
	if len(text) > max {
		text = text[:max]
	}
	return fmt.Sprintf("--- %s ---\n%s", label, text)
}

func renderSearch(ev *types.SearchEvidence) string {
	if ev == nil || len(ev.Results) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Ephemeral search evidence (authority: ")
	if ev.Authority.Level != "" {
		sb.WriteString(ev.Authority.Level)
	} else {
		sb.WriteString("unverified")
	}
	sb.WriteString("):\n")
	for _, r := range ev.Results {
		fmt.Fprintf(&sb, "%d. %s - %s (%s)\n", r.Rank, r.Title, r.Text(), r.URL)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func renderAssumptions(assumptions []string) string {
	var sb strings.Builder
	sb.WriteString("User-declared assumptions, binding for this turn:\n")
	for _, a := range assumptions {
		sb.WriteString("- " + a + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func relationshipPairs(rels map[string]string) []string {
	if len(rels) == 0 {
		return nil
	}
	keys := make([]string, 0, len(rels))
	for k := range rels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+rels[k])
	}
	return out
}
