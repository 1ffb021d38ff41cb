// Package gates holds the deterministic generation gates: context
// commitment (CCG), crowd-knowledge lock (CKCL), crowd-knowledge stall
// detection (CKSG), and the post-generation safety gate.
package gates

import (
	"regexp"
	"strings"

	"projectos/internal/types"
)

// Commitment is the extracted {domain, target, goal} of the conversation.
// A turn is "committed" when the goal is optimization and either a domain or
// a target has been named.
type Commitment struct {
	Domain string
	Target string
	Goal   string
}

// Committed reports whether scope-resetting questions are off the table.
func (c Commitment) Committed() bool {
	return c.Goal == "optimization" && (c.Domain != "" || c.Target != "")
}

var (
	optimizeRe = regexp.MustCompile(`(?i)\b(?:optimi[sz]e|best|optimal|ideal|strongest|most efficient|max(?:imi[sz]e)?)\b`)
	domainRe   = regexp.MustCompile(`(?i)\b(?:for|in|on) (?:my |the |our )?([a-z][a-z0-9 _-]{2,40}?)(?:\.|,|\?|$)`)
	targetRe   = regexp.MustCompile(`(?i)\b(?:my|the|our) ([a-z][a-z0-9 _-]{2,40}?) (?:build|setup|loadout|config|configuration|deck|rig|routine)\b`)
)

// ExtractCommitment scans the recent tail plus the current message, newest
// first, so later refinements win.
func ExtractCommitment(tail []types.Message, userMsg string) Commitment {
	var c Commitment
	texts := []string{userMsg}
	for i := len(tail) - 1; i >= 0; i-- {
		if tail[i].Role == types.RoleUser {
			texts = append(texts, tail[i].Content)
		}
	}
	for _, text := range texts {
		if c.Goal == "" && optimizeRe.MatchString(text) {
			c.Goal = "optimization"
		}
		if c.Target == "" {
			if m := targetRe.FindStringSubmatch(text); m != nil {
				c.Target = strings.TrimSpace(strings.ToLower(m[1]))
			}
		}
		if c.Domain == "" {
			if m := domainRe.FindStringSubmatch(text); m != nil {
				c.Domain = strings.TrimSpace(strings.ToLower(m[1]))
			}
		}
	}
	return c
}

// CCGNote is the system note injected on committed turns.
func CCGNote(c Commitment) string {
	if !c.Committed() {
		return ""
	}
	scope := c.Target
	if scope == "" {
		scope = c.Domain
	}
	return "CONTEXT_COMMITMENT: The user has committed to optimizing \"" + scope + "\". " +
		"Do not ask scope-resetting questions. Give your best-effort answer first; " +
		"you may end with at most one refinement question."
}

// =============================================================================
// CROWD-KNOWLEDGE LOCK (CKCL)
// =============================================================================

// Crowd-knowledge token weights. A score >= 2 marks the query as asking for
// community-consensus knowledge.
var crowdTokens = map[string]int{
	"best": 2, "optimal": 2, "meta": 2, "tier": 1,
	"build": 1, "loadout": 1, "config": 1, "settings": 1,
}

// CrowdKnowledgeScore sums token weights over the message.
func CrowdKnowledgeScore(msg string) int {
	score := 0
	for _, w := range strings.Fields(strings.ToLower(msg)) {
		w = strings.Trim(w, ".,!?:;\"'")
		score += crowdTokens[w]
	}
	return score
}

// CrowdKnowledgeQuery reports whether the message is crowd-knowledge shaped.
func CrowdKnowledgeQuery(msg string) bool {
	return CrowdKnowledgeScore(msg) >= 2
}

// CKCLNote returns the hard lock note, "" when the gate does not apply.
func CKCLNote(c Commitment, userMsg string) string {
	if !c.Committed() || !CrowdKnowledgeQuery(userMsg) {
		return ""
	}
	return "HARD RULE: The user asked for community-consensus knowledge. " +
		"Do NOT open with a refusal or disclaimer about lacking real-time data. " +
		"State the widely-accepted answer directly, then note any caveats at the end."
}

var refusalOpeningRe = regexp.MustCompile(`(?i)^(?:i (?:can'?t|cannot|don'?t have|do not have|lack)|as an ai|unfortunately,? i|i'?m (?:unable|not able)|without (?:access|real-?time))`)

// StripRefusalPreamble removes a leading refusal-shaped paragraph when the
// lock applied and the model leaked one anyway.
func StripRefusalPreamble(text string) string {
	trimmed := strings.TrimSpace(text)
	paragraphs := strings.SplitN(trimmed, "\n\n", 2)
	if len(paragraphs) == 2 && refusalOpeningRe.MatchString(paragraphs[0]) {
		return strings.TrimSpace(paragraphs[1])
	}
	return trimmed
}

// =============================================================================
// CROWD-KNOWLEDGE STALL (CKSG)
// =============================================================================

var stallMarkers = []string{
	"can't verify", "cannot verify", "without telemetry",
	"i don't have access to current", "no way to confirm",
	"would need real-time data", "depends on your specific",
}

// Stalled reports whether a committed crowd-knowledge answer dodged with
// stall markers instead of answering.
func Stalled(c Commitment, userMsg, answer string) bool {
	if !c.Committed() || !CrowdKnowledgeQuery(userMsg) {
		return false
	}
	lower := strings.ToLower(answer)
	for _, marker := range stallMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// CKSGEnforcementNote is the system note for the single bounded regeneration
// after a stall.
const CKSGEnforcementNote = "ENFORCEMENT: Your previous draft stalled instead of answering. " +
	"Answer with the community-consensus recommendation now. " +
	"State it as the accepted answer, not as something you cannot verify."
