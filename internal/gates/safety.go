package gates

import (
	"fmt"
	"regexp"
	"strings"

	"projectos/internal/types"
)

// Safety rejection reasons.
const (
	ReasonModelAuthoredStatus = "model_authored_status"
	ReasonUngroundedRecall    = "ungrounded_recall"
	ReasonInventedPulse       = "invented_pulse"
	ReasonPartnerAttribution  = "partner_attribution"
)

// FallbackNotRecorded is the deterministic reply when recall cannot be
// grounded.
const FallbackNotRecorded = "Not recorded / ambiguous."

// SafetyInput describes what the generation turn had available.
type SafetyInput struct {
	Intent           types.IntentKind
	HasFactGrounding bool // facts-map or global-memory snippet was injected
	HasPulseSnippet  bool // PROJECT_PULSE_TRUTH_BOUND snippet was injected
	PartnerContext   bool // couples partner context was injected
	Focus            *types.ActiveObject
	EvidenceExcerpt  string
}

var (
	pulseTokenRe  = regexp.MustCompile(`(?i)\bproject pulse\b|\btruth[- ]bound\b`)
	attributionRe = regexp.MustCompile(`(?i)\b(?:she said|he said|they said|your (?:partner|wife|husband) (?:said|told me|mentioned|wrote)|from your partner'?s notes|according to your partner)\b`)
	recallClaimRe = regexp.MustCompile(`(?i)\b(?:you (?:said|told me|mentioned)|your \w+ is|i remember)\b`)
)

// Check inspects the model output after generation and returns every safety
// reason that fires. Empty means the answer passes.
func Check(answer string, in SafetyInput) []string {
	var reasons []string
	if in.Intent == types.IntentStatus {
		reasons = append(reasons, ReasonModelAuthoredStatus)
	}
	if in.Intent == types.IntentRecall && !in.HasFactGrounding && recallClaimRe.MatchString(answer) {
		reasons = append(reasons, ReasonUngroundedRecall)
	}
	if !in.HasPulseSnippet && pulseTokenRe.MatchString(answer) {
		reasons = append(reasons, ReasonInventedPulse)
	}
	if in.PartnerContext && attributionRe.MatchString(answer) {
		reasons = append(reasons, ReasonPartnerAttribution)
	}
	return reasons
}

// NeutralRewrite replaces partner-attribution phrasing with neutral wording.
// Used as the softer pass before falling back entirely.
func NeutralRewrite(answer string) string {
	out := attributionRe.ReplaceAllStringFunc(answer, func(string) string {
		return "it has come up"
	})
	return out
}

// Fallback produces the deterministic reply when safety rejected the model
// output. With an active focus and evidence, the fallback stays useful by
// citing the excerpt and asking one narrow question.
func Fallback(in SafetyInput) string {
	if in.Focus != nil && in.EvidenceExcerpt != "" {
		excerpt := in.EvidenceExcerpt
		if len(excerpt) > 400 {
			excerpt = excerpt[:400]
		}
		return fmt.Sprintf("Here is what I have on %s:\n%s\n\nWhat, specifically, do you want to know about it?",
			in.Focus.OrigName, strings.TrimSpace(excerpt))
	}
	return FallbackNotRecorded
}

// =============================================================================
// LOOKUP EVIDENCE ENFORCEMENT
// =============================================================================

var (
	affirmativeRe = regexp.MustCompile(`(?i)\b(?:yes|confirmed|rated|certified|supports?|includes?|compatible|available)\b`)
	dodgeOpenRe   = regexp.MustCompile(`(?i)^(?:i (?:can'?t|cannot|couldn'?t) (?:find|verify|confirm)|there'?s no (?:way|information)|i (?:don'?t|do not) have (?:access|enough information)|unfortunately)`)
)

// EvidenceAffirmative reports whether the search evidence carries affirmative
// markers or primary authority.
func EvidenceAffirmative(ev *types.SearchEvidence) bool {
	if ev == nil {
		return false
	}
	if ev.PrimaryConfirmed() {
		return true
	}
	for _, r := range ev.Results {
		if affirmativeRe.MatchString(r.Title) || affirmativeRe.MatchString(r.Text()) {
			return true
		}
	}
	return false
}

// DodgeOpening reports whether the answer opens with a refusal/dodge.
func DodgeOpening(answer string) bool {
	return dodgeOpenRe.MatchString(strings.TrimSpace(answer))
}

// LookupDirective is the system note injected on lookup turns, shaped by the
// strength of the evidence.
func LookupDirective(ev *types.SearchEvidence) string {
	if ev == nil || len(ev.Results) == 0 {
		return "LOOKUP: No supporting evidence was retrieved. Say there is not enough evidence yet and ask one refinement question. Never fabricate citations."
	}
	if EvidenceAffirmative(ev) {
		return "LOOKUP: The evidence above supports an affirmative answer. Lead with the confirmed answer and cite the evidence. Do not open with a refusal or a dodge."
	}
	return "LOOKUP: The evidence above is partial. Enumerate what IS confirmed by the evidence first; only then note what remains uncertain."
}
