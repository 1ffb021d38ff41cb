// Package pipeline orchestrates one chat turn end to end: short-circuits,
// fact capture, distillation, classification, retrieval, gated generation,
// and audit.
package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"projectos/internal/audit"
	"projectos/internal/commands"
	"projectos/internal/config"
	"projectos/internal/constraint"
	"projectos/internal/couples"
	"projectos/internal/facts"
	"projectos/internal/focus"
	"projectos/internal/gates"
	"projectos/internal/interpret"
	"projectos/internal/perception"
	"projectos/internal/policy"
	"projectos/internal/retrieval"
	"projectos/internal/store"
	"projectos/internal/timectx"
	"projectos/internal/types"
)

// minimalFailureReply is what the user sees when every model path failed.
const minimalFailureReply = "I hit a problem generating that answer. Say it again and I'll retry."

// Turn is one request into the pipeline.
type Turn struct {
	User    string
	Project string
	Message string
	History []types.Message // bounded user/assistant tail, oldest first
	Search  *types.SearchEvidence
}

// Orchestrator wires every stage of a turn.
type Orchestrator struct {
	cfg        config.Config
	disk       *store.Store
	factsStore *facts.Store
	distiller  *facts.Distiller
	policy     *policy.Engine
	focus      *focus.Tracker
	retrieval  *retrieval.Builder
	commands   *commands.Router
	couples    *couples.Queue
	intents    *perception.IntentClassifier
	continuity *perception.ContinuityClassifier
	generator  *Generator
	interpret  *interpret.Extractor
	auditor    *audit.Writer
	compiler   *constraint.Compiler
	clock      timectx.TimeSource
	logger     *zap.Logger
}

// New assembles the full pipeline from a config and a model caller.
func New(cfg config.Config, disk *store.Store, model perception.ModelCaller, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	pol := policy.NewEngine(disk, logger.Named("policy"))
	fs := facts.NewStore(disk, pol, logger.Named("facts"))
	dist := facts.NewDistiller(fs, disk, cfg.Memory.DistillEveryNTurns, logger.Named("distill"))
	cq := couples.NewQueue(disk, logger.Named("couples"))
	return &Orchestrator{
		cfg:        cfg,
		disk:       disk,
		factsStore: fs,
		distiller:  dist,
		policy:     pol,
		focus:      focus.NewTracker(disk, logger.Named("focus")),
		retrieval:  retrieval.NewBuilder(disk, pol, cfg.Memory, logger.Named("retrieval")),
		commands:   commands.NewRouter(disk, pol, cq, dist, logger.Named("commands")),
		couples:    cq,
		intents:    perception.NewIntentClassifier(model, logger.Named("intent")),
		continuity: perception.NewContinuityClassifier(model, logger.Named("continuity")),
		generator:  NewGenerator(model, logger.Named("generate")),
		interpret:  interpret.NewExtractor(model, disk, logger.Named("interpret")),
		auditor:    audit.NewWriter(disk, logger.Named("audit")),
		compiler:   constraint.NewCompiler(cfg.Memory.ForbiddenSubstrMax),
		clock:      timectx.SystemClock{},
		logger:     logger,
	}
}

// WatchUploads blocks watching the project's uploads directory, dropping the
// active focus when new files land. Callers run it in its own goroutine for
// the lifetime of a session.
func (o *Orchestrator) WatchUploads(ctx context.Context, user, project string) {
	watcher, err := focus.NewUploadWatcher(o.focus, o.logger.Named("uploads"))
	if err != nil {
		o.logger.Warn("upload watcher unavailable", zap.Error(err))
		return
	}
	if err := watcher.WatchProject(user, project); err != nil {
		o.logger.Warn("upload watch failed", zap.Error(err))
		watcher.Close()
		return
	}
	watcher.Run(ctx, user, project)
}

// HandleTurn runs one full turn and returns the reply text.
func (o *Orchestrator) HandleTurn(ctx context.Context, turn Turn) string {
	ctx = audit.WithDecisions(audit.WithTrace(ctx))
	started := o.clock.Now()

	reply, ev := o.run(ctx, turn)

	ev.CleanUserMsg = strings.TrimSpace(turn.Message)
	ev.AnswerLen = len(reply)
	ev.ElapsedMS = o.clock.Now().Sub(started).Milliseconds()
	o.auditor.Write(ctx, turn.User, turn.Project, ev)

	return reply
}

func (o *Orchestrator) run(ctx context.Context, turn Turn) (string, audit.Event) {
	user, project, msg := turn.User, turn.Project, turn.Message
	ev := audit.Event{
		DoSearch:  turn.Search != nil,
		SearchLen: searchLen(turn.Search),
	}
	lastAssistant := lastAssistantMessage(turn.History)

	// ---- Deterministic short-circuits, no model call. ----
	if res := o.commands.Handle(user, project, msg, lastAssistant); res.Handled {
		audit.Record(ctx, "short_circuit", true)
		ev.IntentObj = types.Intent{Intent: res.Intent, Scope: "current_project"}
		if res.Directive == commands.DirectiveInboxOpen {
			return o.inboxSummary(user), ev
		}
		return res.Reply, ev
	}

	// ---- Couples bring-up lifecycle. ----
	if couples.IsCouplesUser(user) {
		if reply, handled := o.couplesTurn(ctx, user, project, msg); handled {
			ev.IntentObj = types.Intent{Intent: types.IntentMisc, Scope: "current_project"}
			return reply, ev
		}
	}

	// ---- Decision ledger: settle a pending candidate on a bare yes/no. ----
	if reply, handled := o.resolveDecision(ctx, user, project, msg); handled {
		ev.IntentObj = types.Intent{Intent: types.IntentMisc, Scope: "current_project"}
		return reply, ev
	}
	decisionAsk := o.captureDecision(ctx, user, project, msg)

	// ---- State advance: bootstrap, counters, anchors, Tier-1 capture. ----
	turnState, wroteTier1, mirroredTier1 := o.advanceState(ctx, user, project, msg)

	// ---- Classification. ----
	intent := o.intents.Classify(ctx, msg)
	cont := o.continuity.Classify(ctx, boundTail(turn.History, 6), msg)
	ev.IntentObj = intent
	ev.ActiveExpert = turnState.ExpertFrame.Label

	// ---- Distillation cadence. ----
	recallShaped := intent.Intent == types.IntentRecall
	if o.distiller.ShouldDistill(turnState, wroteTier1, recallShaped) {
		if _, err := o.distiller.DistillProject(user, project); err != nil {
			o.logger.Warn("project distill failed", zap.Error(err))
		}
		// The global tiers rebuild only when this turn mirrored into Tier-1G.
		if mirroredTier1 {
			if err := o.distiller.DistillGlobal(user); err != nil {
				o.logger.Warn("global distill failed", zap.Error(err))
			}
		}
		o.resetDirty(user, project)
	}

	// ---- Status is never model-authored. ----
	if intent.Intent == types.IntentStatus {
		audit.Record(ctx, "status_deterministic", true)
		return o.disk.BuildTruthBoundPulse(user, project), ev
	}

	// ---- Focus and retrieval. ----
	_, activeFocus := o.focus.Decide(user, project, msg)
	if activeFocus != nil && strings.HasPrefix(activeFocus.MIME, "image/") && focus.ImageReferential(msg) {
		cached, err := o.focus.EnsureImageSemantics(user, project, activeFocus, "image-referential turn: "+msg)
		switch {
		case err != nil:
			o.logger.Warn("image semantics request failed", zap.Error(err))
		case !cached:
			audit.Record(ctx, "image_semantics_requested", activeFocus.OrigName)
		}
	}
	snippets := o.retrieval.Build(retrieval.Input{
		User: user, Project: project, State: turnState,
		Intent: intent, UserMsg: msg,
		Focus: activeFocus, Search: turn.Search,
	})
	snippetBlob := retrieval.Render(snippets)

	// ---- Gates. ----
	commitment := gates.ExtractCommitment(turn.History, msg)
	lookupMode := intent.Intent == types.IntentLookup || turn.Search != nil
	ev.LookupMode = lookupMode

	in := o.buildGenInput(user, project, turnState, intent, cont, commitment,
		lookupMode, turn, snippetBlob, lastAssistant)

	cons := o.compiler.Compile(turnState, msg, turnState.ExpertFrame.Label)

	// ---- Generation with bounded retries. ----
	answer, err := o.generator.Generate(ctx, in)
	if err != nil {
		o.logger.Warn("generation failed", zap.Error(err))
		return minimalFailureReply, ev
	}
	answer = o.enforcementPass(ctx, in, commitment, msg, answer, turn.Search)
	answer = o.safetyPass(ctx, intent, answer, snippets, activeFocus, in.BringupsNote != "")
	answer = o.constraintPass(ctx, in, cons, answer)

	if in.CKCLNote != "" {
		answer = gates.StripRefusalPreamble(answer)
	}
	if decisionAsk != "" {
		answer = answer + "\n\n" + decisionAsk
	}

	// ---- Post-turn observation and chat log, best-effort. ----
	window := o.cfg.Memory.InterpretiveWindow
	if window <= 0 {
		window = interpret.WindowTurns
	}
	if err := o.interpret.Observe(ctx, user, project, boundTail(turn.History, window), answer, turnState.FactsTurnCounter); err != nil {
		o.logger.Debug("interpretive observe failed", zap.Error(err))
	}
	o.disk.AppendChat(user, project, "user", msg, turnState.FactsTurnCounter)
	o.disk.AppendChat(user, project, "assistant", answer, turnState.FactsTurnCounter)

	return answer, ev
}

// =============================================================================
// STAGES
// =============================================================================

// advanceState performs the per-turn state mutation in one read-modify-write:
// bootstrap, turn counter, dirty flag, time anchors. Tier-1 capture happens
// after the state write so the extractor sees the final turn index. Returns
// the state plus whether the turn stored and mirrored any Tier-1 fact.
func (o *Orchestrator) advanceState(ctx context.Context, user, project, msg string) (*types.ProjectState, bool, bool) {
	profile, _ := o.disk.LoadProfile(user)
	loc := timectx.ResolveZone(profile, o.cfg.Time.DefaultTimezone)
	now := o.clock.Now()

	maxAnchors := o.cfg.Memory.MaxTimeAnchors
	if maxAnchors <= 0 {
		maxAnchors = timectx.MaxAnchors
	}
	dedupe := config.ParseDuration(o.cfg.Memory.AnchorDedupeWindow, timectx.DedupeWindow)

	var adopted bool
	state, err := o.disk.UpdateState(user, project, func(s *types.ProjectState) error {
		adopted = advanceBootstrap(s, msg)
		s.FactsTurnCounter++
		if anchor, ok := timectx.DetectAnchor(msg, now, loc); ok {
			timectx.AddAnchorBounded(s, anchor, maxAnchors, dedupe)
		}
		return nil
	})
	if err != nil {
		o.logger.Warn("state advance failed", zap.Error(err))
		state = &types.ProjectState{}
	}
	if adopted {
		audit.Record(ctx, "goal_adopted", state.Goal)
	}

	wrote, mirrored := false, false
	for _, candidate := range facts.ExtractCandidates(msg, state.FactsTurnCounter) {
		res, err := o.factsStore.AppendRawCandidate(user, project, candidate, msg)
		if err != nil {
			o.logger.Debug("tier1 append rejected", zap.Error(err))
			continue
		}
		wrote = wrote || res.Stored
		mirrored = mirrored || res.Mirrored
	}
	if wrote {
		state, _ = o.disk.UpdateState(user, project, func(s *types.ProjectState) error {
			s.FactsDirty = true
			return nil
		})
	}
	return state, wrote, mirrored
}

func (o *Orchestrator) resetDirty(user, project string) {
	_, err := o.disk.UpdateState(user, project, func(s *types.ProjectState) error {
		s.FactsDirty = false
		return nil
	})
	if err != nil {
		o.logger.Warn("dirty reset failed", zap.Error(err))
	}
}

func (o *Orchestrator) couplesTurn(ctx context.Context, user, project, msg string) (string, bool) {
	state, err := o.disk.LoadState(user, project)
	if err == nil && state.PendingBringUp != nil && state.PendingBringUp.Pending {
		trimmed := strings.ToLower(strings.TrimSpace(msg))
		switch {
		case trimmed == "yes" || trimmed == "y" || trimmed == "yeah":
			reply, err := o.couples.ConfirmDraft(user, project, true)
			if err == nil {
				audit.Record(ctx, "bringup_confirmed", true)
				return reply, true
			}
		case trimmed == "no" || trimmed == "n" || trimmed == "nope":
			reply, err := o.couples.ConfirmDraft(user, project, false)
			if err == nil {
				audit.Record(ctx, "bringup_confirmed", false)
				return reply, true
			}
		}
	}
	if topic := couples.DetectRequest(msg); topic != "" {
		question, err := o.couples.ProposeDraft(user, project, topic)
		if err == nil {
			audit.Record(ctx, "bringup_proposed", topic)
			return question, true
		}
	}
	return "", false
}

func (o *Orchestrator) buildGenInput(user, project string, state *types.ProjectState,
	intent types.Intent, cont types.Continuity, commitment gates.Commitment,
	lookupMode bool, turn Turn, snippetBlob, lastAssistant string) GenInput {

	profile, _ := o.disk.LoadProfile(user)
	loc := timectx.ResolveZone(profile, o.cfg.Time.DefaultTimezone)
	now := o.clock.Now()

	decisions := o.disk.LoadDecisions(user, project)
	yes, no := bareAnswer(turn.Message)
	var expertNote string
	state2, err := o.disk.UpdateState(user, project, func(s *types.ProjectState) error {
		expertNote = advanceFrame(s, decisions, turn.Message, yes, no)
		return nil
	})
	if err == nil {
		state = state2
	}

	in := GenInput{
		Intent:        intent,
		ProjectMode:   state.ProjectMode,
		ActiveExpert:  state.ExpertFrame.Label,
		LookupMode:    lookupMode,
		TimeBlock:     timectx.Build(now, loc, profile),
		AnchorsLine:   timectx.RenderAnchors(state.TimeAnchors, now),
		ExpertNote:    expertNote,
		NeedsOnramp:   state.Goal == "",
		Tail:          boundTail(turn.History, o.cfg.Memory.MaxHistoryPairs*2),
		LastAssistant: lastAssistant,
		Continuity:    cont,
		CCGNote:       gates.CCGNote(commitment),
		CKCLNote:      gates.CKCLNote(commitment, turn.Message),
		Snippets:      snippetBlob,
		UserMsg:       turn.Message,
	}
	if couples.IsCouplesUser(user) {
		in.BringupsNote = o.couples.SessionThemes(user)
	}
	if lookupMode {
		in.LookupNote = gates.LookupDirective(turn.Search)
	}
	if note := commands.BindYesNo(turn.Message, lastAssistant); note != "" {
		in.YesNoNote = note
	}
	return in
}

// enforcementPass runs at most one regeneration for a CKSG stall or a
// lookup dodge against affirmative evidence.
func (o *Orchestrator) enforcementPass(ctx context.Context, in GenInput, commitment gates.Commitment, msg, answer string, search *types.SearchEvidence) string {
	var note string
	switch {
	case gates.Stalled(commitment, msg, answer):
		note = gates.CKSGEnforcementNote
		audit.Record(ctx, "cksg_retry", true)
	case in.LookupMode && gates.EvidenceAffirmative(search) && gates.DodgeOpening(answer):
		note = "REWRITE: The evidence supports an affirmative answer. Rewrite your reply to lead with it."
		audit.Record(ctx, "lookup_rewrite", true)
	default:
		return answer
	}
	regen, err := o.generator.Generate(ctx, in, note)
	if err != nil {
		o.logger.Warn("enforcement regeneration failed", zap.Error(err))
		return answer
	}
	return regen
}

// safetyPass rejects or rewrites per the post-generation safety gate. Status
// turns short-circuit before generation, so a pulse snippet is never present
// here.
func (o *Orchestrator) safetyPass(ctx context.Context, intent types.Intent, answer string, snippets []retrieval.Snippet, activeFocus *types.ActiveObject, partnerContext bool) string {
	sin := gates.SafetyInput{
		Intent:           intent.Intent,
		HasFactGrounding: hasSnippet(snippets, "FACTS_MAP_COMPACT") || hasSnippet(snippets, "GLOBAL_MEMORY"),
		PartnerContext:   partnerContext,
		Focus:            activeFocus,
		EvidenceExcerpt:  snippetContent(snippets, "FILE_EVIDENCE"),
	}
	reasons := gates.Check(answer, sin)
	if len(reasons) == 0 {
		return answer
	}
	audit.Record(ctx, "safety_reasons", reasons)

	// Attribution alone gets the softer neutral rewrite.
	if len(reasons) == 1 && reasons[0] == gates.ReasonPartnerAttribution {
		return gates.NeutralRewrite(answer)
	}
	return gates.Fallback(sin)
}

// constraintPass validates and retries once with the retry note.
func (o *Orchestrator) constraintPass(ctx context.Context, in GenInput, cons types.Constraints, answer string) string {
	violations := constraint.Validate(answer, cons)
	if len(violations) == 0 {
		return answer
	}
	audit.Record(ctx, "constraint_violations", violations)

	retry, err := o.generator.Generate(ctx, in, constraint.RetryNote(cons, violations))
	if err != nil {
		o.logger.Warn("constraint retry failed", zap.Error(err))
		return answer
	}
	return retry
}

func (o *Orchestrator) inboxSummary(user string) string {
	pending := o.disk.PendingBringUps(user, o.cfg.Memory.BringupInjectionMax)
	if len(pending) == 0 {
		return "Nothing pending."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "You have %d pending item(s):\n", len(pending))
	for _, b := range pending {
		sb.WriteString("- " + b.Topic + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// =============================================================================
// HELPERS
// =============================================================================

var (
	bareYesRe = regexp.MustCompile(`(?i)^(?:yes|y|yeah|yep|sure)[.!]?$`)
	bareNoRe  = regexp.MustCompile(`(?i)^(?:no|n|nope|nah)[.!]?$`)
)

// bareAnswer classifies a standalone yes/no message.
func bareAnswer(msg string) (yes, no bool) {
	trimmed := strings.TrimSpace(msg)
	return bareYesRe.MatchString(trimmed), bareNoRe.MatchString(trimmed)
}

func lastAssistantMessage(history []types.Message) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == types.RoleAssistant {
			return history[i].Content
		}
	}
	return ""
}

func boundTail(history []types.Message, max int) []types.Message {
	if max <= 0 || len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}

func hasSnippet(snippets []retrieval.Snippet, label string) bool {
	for _, s := range snippets {
		if s.Label == label {
			return true
		}
	}
	return false
}

func snippetContent(snippets []retrieval.Snippet, label string) string {
	for _, s := range snippets {
		if s.Label == label {
			return s.Content
		}
	}
	return ""
}

func searchLen(ev *types.SearchEvidence) int {
	if ev == nil {
		return 0
	}
	return len(ev.Results)
}
