// Package constraint compiles per-turn output constraints from project rules
// and validates candidate replies against them.
package constraint

import (
	"regexp"
	"strings"

	"projectos/internal/types"
)

// DefaultMaxForbidden caps the compiled forbidden-substring list.
const DefaultMaxForbidden = 24

// antiSycophancyDefaults seed the forbidden list for the default expert.
var antiSycophancyDefaults = []string{
	"great question",
	"you're absolutely right",
	"i'd be happy to",
	"what a wonderful",
	"amazing idea",
}

var (
	neverSayRe  = regexp.MustCompile(`(?i)(?:never say|do not say|don'?t say)\s+["'‘’“”]?([^"'‘’“”\n.]+)["'‘’“”]?`)
	quotedSayRe = regexp.MustCompile(`(?i)don'?t say\s+['"]([^'"]+)['"]`)
)

// Compiler builds Constraints for a turn.
type Compiler struct {
	maxForbidden int
}

// NewCompiler returns a compiler with the given forbidden-substring cap.
// A non-positive cap uses DefaultMaxForbidden.
func NewCompiler(maxForbidden int) *Compiler {
	if maxForbidden <= 0 {
		maxForbidden = DefaultMaxForbidden
	}
	return &Compiler{maxForbidden: maxForbidden}
}

// Compile derives the turn's output constraints from the project state, the
// current user message, and the active expert label. Defaults are permissive.
func (c *Compiler) Compile(state *types.ProjectState, userMsg, activeExpert string) types.Constraints {
	out := types.Constraints{
		MaxQuestions: 3,
		MaxLines:     60,
	}

	// Default expert gets the anti-sycophancy posture.
	if activeExpert == "" || activeExpert == "default" {
		out.ForbidEmoji = true
		out.ForbidHedging = true
		out.ForbiddenSubstrings = append(out.ForbiddenSubstrings, antiSycophancyDefaults...)
	}

	lines := make([]string, 0, len(state.UserRules)+1)
	lines = append(lines, state.UserRules...)
	lines = append(lines, userMsg)

	for _, line := range lines {
		// User rules persist as canonical keys ("no_questions"); declarations
		// arrive as phrases ("no questions"). Fold them together.
		lower := strings.ReplaceAll(strings.ToLower(line), "_", " ")
		switch {
		case strings.Contains(lower, "no questions"), strings.Contains(lower, "don't ask"),
			strings.Contains(lower, "dont ask"), strings.Contains(lower, "do not ask"):
			out.MaxQuestions = 0
		case strings.Contains(lower, "one question"):
			out.MaxQuestions = 1
		}
		if strings.Contains(lower, "no emoji") {
			out.ForbidEmoji = true
		}
		if strings.Contains(lower, "be decisive") {
			out.ForbidHedging = true
		}
		if strings.Contains(lower, "one word") {
			out.MaxLines = 1
			out.MaxQuestions = 0
		}
		if strings.Contains(lower, "be brief") || strings.Contains(lower, "keep it short") {
			out.MaxLines = 8
		}

		for _, m := range quotedSayRe.FindAllStringSubmatch(line, -1) {
			out.ForbiddenSubstrings = append(out.ForbiddenSubstrings, strings.TrimSpace(m[1]))
		}
		for _, m := range neverSayRe.FindAllStringSubmatch(line, -1) {
			out.ForbiddenSubstrings = append(out.ForbiddenSubstrings, strings.TrimSpace(m[1]))
		}
	}

	out.ForbiddenSubstrings = dedupeFold(out.ForbiddenSubstrings, c.maxForbidden)
	return out
}

// dedupeFold removes case-insensitive duplicates and empties, preserving
// first-seen order, capped at max entries.
func dedupeFold(in []string, max int) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
		if len(out) >= max {
			break
		}
	}
	return out
}
