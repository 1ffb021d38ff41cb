// Package commands implements the deterministic short-circuits that run
// before any model call: bang commands, pulse/status/resume short forms,
// constraint declarations, NL policy commands, and yes/no follow-up binding.
package commands

import (
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"projectos/internal/couples"
	"projectos/internal/facts"
	"projectos/internal/policy"
	"projectos/internal/store"
	"projectos/internal/types"
)

// DirectiveInboxOpen tells the pipeline to summarize open items instead of
// generating.
const DirectiveInboxOpen = "summarize_inbox_open"

// Result is the short-circuit outcome for one message.
type Result struct {
	Handled    bool
	Reply      string
	Directive  string
	SystemNote string // yes/no binding note; not a short-circuit
	Intent     types.IntentKind
}

// Router evaluates every deterministic command path in order.
type Router struct {
	disk      *store.Store
	policy    *policy.Engine
	couples   *couples.Queue
	distiller *facts.Distiller
	logger    *zap.Logger
}

// NewRouter creates the command router.
func NewRouter(disk *store.Store, pol *policy.Engine, cq *couples.Queue, dist *facts.Distiller, logger *zap.Logger) *Router {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Router{disk: disk, policy: pol, couples: cq, distiller: dist, logger: logger}
}

var (
	bangRe     = regexp.MustCompile(`^!(\w+)(?:\s+(.*))?$`)
	slashCmdRe = regexp.MustCompile(`^/cmd\s+(\S+)(?:\s+(.*))?$`)

	pulseExactRe = regexp.MustCompile(`(?i)^(?:pulse|status|resume|project pulse|where are we\??|where did we leave off\??)$`)
	pulseVerbRe  = regexp.MustCompile(`(?i)^(?:show|give me|what's|whats|print)?\s*(?:the )?(?:project )?(?:pulse|status)\s*\??$|^resume (?:the )?project$`)

	inboxRe = regexp.MustCompile(`(?i)^(?:inbox|pending|what's pending\??|anything pending\??)$`)

	constraintDecls = map[string]string{
		"no questions":           "no_questions",
		"don't ask me questions": "no_questions",
		"no emoji":               "no_emoji",
		"no emojis":              "no_emoji",
		"be decisive":            "be_decisive",
		"be brief":               "be_brief",
		"one question at a time": "one_question",
	}

	yesRe       = regexp.MustCompile(`(?i)^(?:yes|y|yeah|yep|sure|ok(?:ay)?)[.!]?$`)
	noRe        = regexp.MustCompile(`(?i)^(?:no|n|nope|nah)[.!]?$`)
	yesNoMarkRe = regexp.MustCompile(`(?i)\(yes/no\)|\b(?:do you want me to|want me to|should i|shall i)\b.*\?`)
)

// Handle runs the short-circuit chain. Unhandled messages return a zero
// Result and fall through to the pipeline.
func (r *Router) Handle(user, project, msg, lastAssistant string) Result {
	trimmed := strings.TrimSpace(msg)

	if m := bangRe.FindStringSubmatch(trimmed); m != nil {
		return r.bang(user, project, strings.ToLower(m[1]), strings.TrimSpace(m[2]))
	}
	if m := slashCmdRe.FindStringSubmatch(trimmed); m != nil {
		return r.bang(user, project, strings.ToLower(m[1]), strings.TrimSpace(m[2]))
	}

	lower := strings.ToLower(trimmed)
	if len(trimmed) <= 60 && (pulseExactRe.MatchString(trimmed) || pulseVerbRe.MatchString(trimmed)) {
		return Result{Handled: true, Reply: r.disk.BuildTruthBoundPulse(user, project), Intent: types.IntentStatus}
	}
	if inboxRe.MatchString(trimmed) {
		return Result{Handled: true, Directive: DirectiveInboxOpen, Intent: types.IntentStatus}
	}

	if key, ok := matchConstraintDecl(lower); ok {
		_, err := r.disk.UpdateState(user, project, func(s *types.ProjectState) error {
			for _, existing := range s.UserRules {
				if existing == key {
					return nil
				}
			}
			s.UserRules = append(s.UserRules, key)
			return nil
		})
		if err != nil {
			r.logger.Warn("failed to persist user rule", zap.Error(err))
		}
		return Result{Handled: true, Reply: "Understood."}
	}

	if rule, ok := policy.ParseCommand(trimmed); ok {
		if err := r.policy.Upsert(user, rule); err != nil {
			r.logger.Warn("policy upsert failed", zap.Error(err))
		}
		return Result{Handled: true, Reply: "Understood."}
	}

	if note := BindYesNo(trimmed, lastAssistant); note != "" {
		return Result{SystemNote: note}
	}
	return Result{}
}

// matchConstraintDecl matches whole-message constraint declarations only, so
// "no questions about cost please" does not silently become a rule.
func matchConstraintDecl(lower string) (string, bool) {
	cleaned := strings.Trim(lower, " .!")
	key, ok := constraintDecls[cleaned]
	return key, ok
}

// BindYesNo produces the binding note when a bare yes/no answers the
// assistant's most recent yes/no question.
func BindYesNo(msg, lastAssistant string) string {
	if lastAssistant == "" || !yesNoMarkRe.MatchString(lastAssistant) {
		return ""
	}
	var answer string
	switch {
	case yesRe.MatchString(msg):
		answer = "yes"
	case noRe.MatchString(msg):
		answer = "no"
	default:
		return ""
	}
	question := lastAssistant
	if len(question) > 200 {
		question = question[len(question)-200:]
	}
	return fmt.Sprintf("The user's reply %q answers your previous question (%q). Treat it as that answer, not as a new topic.", answer, question)
}

// =============================================================================
// BANG COMMANDS
// =============================================================================

func (r *Router) bang(user, project, cmd, args string) Result {
	switch cmd {
	case "list":
		return Result{Handled: true, Reply: r.listProjects(user)}
	case "plan":
		return Result{Handled: true, Reply: r.plan(user, project)}
	case "memory":
		return Result{Handled: true, Reply: r.memory(user, project)}
	case "pulse":
		return Result{Handled: true, Reply: r.disk.BuildTruthBoundPulse(user, project), Intent: types.IntentStatus}
	case "facts":
		return r.factsCmd(user, project, args)
	case "couple":
		return r.coupleCmd(args)
	case "bringup":
		return r.bringupCmd(user, project, args)
	case "ledger":
		return Result{Handled: true, Reply: r.ledger(user, project)}
	default:
		return Result{Handled: true, Reply: fmt.Sprintf("Unknown command !%s. Try !list, !plan, !memory, !pulse, !facts, !couple, !bringup, !ledger.", cmd)}
	}
}

func (r *Router) listProjects(user string) string {
	projects := r.disk.ListProjects(user)
	if len(projects) == 0 {
		return "No projects yet."
	}
	var sb strings.Builder
	sb.WriteString("Projects:\n")
	for _, p := range projects {
		sb.WriteString("- " + p + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (r *Router) plan(user, project string) string {
	state, err := r.disk.LoadState(user, project)
	if err != nil || len(state.NextActions) == 0 {
		return "No next actions recorded yet."
	}
	var sb strings.Builder
	sb.WriteString("Next actions:\n")
	for i, a := range state.NextActions {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, a)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (r *Router) memory(user, project string) string {
	md := store.ReadText(r.disk.ProjectFile(user, project, store.FileFactsMap))
	raw := store.CountLines(r.disk.ProjectFile(user, project, store.FileFactsRaw))
	if md == "" {
		return fmt.Sprintf("No distilled facts yet (%d raw candidates).", raw)
	}
	return fmt.Sprintf("%s\n(%d raw candidates on file)", strings.TrimRight(md, "\n"), raw)
}

func (r *Router) factsCmd(user, project, args string) Result {
	fields := strings.Fields(strings.ToLower(args))
	if len(fields) == 0 || fields[0] != "distill" {
		return Result{Handled: true, Reply: "Usage: !facts distill [profile]"}
	}
	if len(fields) > 1 && fields[1] == "profile" {
		if err := r.distiller.DistillGlobal(user); err != nil {
			return Result{Handled: true, Reply: "Profile distill failed: " + err.Error()}
		}
		return Result{Handled: true, Reply: "Profile distilled."}
	}
	out, err := r.distiller.DistillProject(user, project)
	if err != nil {
		return Result{Handled: true, Reply: "Distill failed: " + err.Error()}
	}
	return Result{Handled: true, Reply: fmt.Sprintf("Distilled %d facts.", len(out))}
}

func (r *Router) coupleCmd(args string) Result {
	fields := strings.SplitN(args, " ", 2)
	if len(fields) < 2 || strings.ToLower(fields[0]) != "link" {
		return Result{Handled: true, Reply: "Usage: !couple link A | B"}
	}
	parts := strings.SplitN(fields[1], "|", 2)
	if len(parts) != 2 {
		return Result{Handled: true, Reply: "Usage: !couple link A | B"}
	}
	a, b := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if a == "" || b == "" {
		return Result{Handled: true, Reply: "Usage: !couple link A | B"}
	}
	if err := r.disk.LinkCouple(a, b); err != nil {
		return Result{Handled: true, Reply: "Link failed: " + err.Error()}
	}
	return Result{Handled: true, Reply: fmt.Sprintf("Linked %s and %s.", a, b)}
}

func (r *Router) bringupCmd(user, project, args string) Result {
	fields := strings.SplitN(args, " ", 2)
	if len(fields) < 2 || strings.ToLower(fields[0]) != "add" {
		return Result{Handled: true, Reply: "Usage: !bringup add <topic>"}
	}
	question, err := r.couples.ProposeDraft(user, project, strings.TrimSpace(fields[1]))
	if err != nil {
		return Result{Handled: true, Reply: "Could not queue that: " + err.Error()}
	}
	return Result{Handled: true, Reply: question}
}

func (r *Router) ledger(user, project string) string {
	decisions := r.disk.LoadDecisions(user, project)
	if len(decisions) == 0 {
		return "No confirmed decisions yet."
	}
	var sb strings.Builder
	sb.WriteString("Decision ledger:\n")
	for _, d := range decisions {
		fmt.Fprintf(&sb, "- %s (%s)\n", d.Text, d.Timestamp)
	}
	return strings.TrimRight(sb.String(), "\n")
}
