package facts

import (
	"regexp"
	"strings"

	"projectos/internal/types"
)

// =============================================================================
// DETERMINISTIC TIER-1 EXTRACTOR
// =============================================================================
//
// The conservative fallback extractor. It only captures first-person
// declarations with unambiguous shapes; feelings, worries, and hypotheticals
// pass through untouched. The model-backed extractor falls back here on
// failure, so both paths must honor the verbatim-evidence contract.

type extractRule struct {
	re     *regexp.Regexp
	slot   types.FactSlot
	entity string
	// claim builds the normalized claim from the match groups.
	claim func(m []string) string
}

var extractRules = []extractRule{
	{
		re:     regexp.MustCompile(`(?i)\bmy preferred name is ([A-Z][a-zA-Z'-]+)`),
		slot:   types.SlotIdentity,
		entity: "preferred_name",
		claim:  func(m []string) string { return "Preferred name is " + m[1] },
	},
	{
		re:     regexp.MustCompile(`(?i)\bcall me ([A-Z][a-zA-Z'-]+)\b`),
		slot:   types.SlotIdentity,
		entity: "preferred_name",
		claim:  func(m []string) string { return "Preferred name is " + m[1] },
	},
	{
		re:     regexp.MustCompile(`(?i)\bmy name is ([A-Z][a-zA-Z'-]+)`),
		slot:   types.SlotIdentity,
		entity: "preferred_name",
		claim:  func(m []string) string { return "Name is " + m[1] },
	},
	{
		re:     regexp.MustCompile(`(?i)\bi live in ([A-Z][a-zA-Z ,'-]+?)(?:[.!?]|$)`),
		slot:   types.SlotIdentity,
		entity: "location",
		claim:  func(m []string) string { return "Lives in " + strings.TrimSpace(m[1]) },
	},
	{
		re:     regexp.MustCompile(`(?i)\bmy birthday is ([A-Za-z0-9 ,/-]+?)(?:[.!?]|$)`),
		slot:   types.SlotIdentity,
		entity: "birthdate",
		claim:  func(m []string) string { return "My birthday is " + strings.TrimSpace(m[1]) },
	},
	{
		re:     regexp.MustCompile(`(?i)\bi was born on ([A-Za-z0-9 ,/-]+?)(?:[.!?]|$)`),
		slot:   types.SlotIdentity,
		entity: "birthdate",
		claim:  func(m []string) string { return "I was born on " + strings.TrimSpace(m[1]) },
	},
	{
		re:     regexp.MustCompile(`(?i)\bmy (wife|husband|partner|son|daughter|mom|mother|dad|father|sister|brother)(?:'s name)? is ([A-Z][a-zA-Z'-]+)`),
		slot:   types.SlotRelationship,
		entity: "", // derived from relation
		claim:  func(m []string) string { return capitalize(strings.ToLower(m[1])) + " is " + m[2] },
	},
	{
		re:     regexp.MustCompile(`(?i)\bi (?:really )?(like|love|prefer) ([a-zA-Z][a-zA-Z0-9 '-]{2,40}?)(?:[.!?]|$)`),
		slot:   types.SlotPreference,
		entity: "",
		claim:  func(m []string) string { return "Prefers " + strings.TrimSpace(m[2]) },
	},
	{
		re:     regexp.MustCompile(`(?i)\bi (?:own|have) a ([a-zA-Z][a-zA-Z0-9 '-]{2,40}?)(?:[.!?]|$)`),
		slot:   types.SlotPossession,
		entity: "",
		claim:  func(m []string) string { return "Has a " + strings.TrimSpace(m[1]) },
	},
	{
		re:     regexp.MustCompile(`(?i)\bmy timezone is ([A-Za-z_/]+)`),
		slot:   types.SlotIdentity,
		entity: "timezone",
		claim:  func(m []string) string { return "Timezone is " + m[1] },
	},
}

// skipRe blocks emotional or hypothetical sentences from extraction.
var skipRe = regexp.MustCompile(`(?i)\b(i'?m (worried|afraid|scared|anxious|sad)|what if|i wish|i hope|i wonder)\b`)

// ExtractCandidates runs the deterministic extractor over one user message.
// The message itself is the extraction window; every returned candidate's
// evidence is the exact matched sentence fragment.
func ExtractCandidates(msg string, turnIndex int) []types.Tier1Fact {
	var out []types.Tier1Fact
	for _, sentence := range splitSentences(msg) {
		if skipRe.MatchString(sentence) {
			continue
		}
		for _, rule := range extractRules {
			m := rule.re.FindStringSubmatch(sentence)
			if m == nil {
				continue
			}
			entity := rule.entity
			if entity == "" {
				entity = deriveEntityKey(rule.slot, m)
			}
			out = append(out, types.Tier1Fact{
				Claim:         rule.claim(m),
				Slot:          rule.slot,
				Subject:       types.SubjectUser,
				Source:        "deterministic_extractor",
				EvidenceQuote: m[0],
				TurnIndex:     turnIndex,
				EntityKey:     entity,
			})
		}
	}
	return out
}

func deriveEntityKey(slot types.FactSlot, m []string) string {
	switch slot {
	case types.SlotRelationship:
		return "relationship:" + strings.ToLower(m[1])
	case types.SlotPreference, types.SlotPossession:
		last := m[len(m)-1]
		words := strings.Fields(strings.ToLower(last))
		if len(words) > 3 {
			words = words[:3]
		}
		return strings.Join(words, "_")
	}
	return "other"
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var sentenceSplitRe = regexp.MustCompile(`[.!?]\s+|\n+`)

func splitSentences(msg string) []string {
	parts := sentenceSplitRe.Split(msg, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
