package constraint

import (
	"fmt"
	"regexp"
	"strings"

	"projectos/internal/types"
)

// DefaultMaxReported caps the violations a validator reports.
const DefaultMaxReported = 8

// Violation labels.
const (
	ViolationEmpty     = "empty"
	ViolationLineCount = "line_count"
	ViolationQuestions = "question_count"
	ViolationEmoji     = "emoji"
	ViolationHedging   = "hedging"
	ViolationForbidden = "forbidden_substring"
)

var (
	emojiRe   = regexp.MustCompile(`[\x{1F300}-\x{1FAFF}]`)
	hedgingRe = regexp.MustCompile(`(?i)\b(i think|maybe|probably|might be|not sure|i guess)\b`)
)

// Validate checks a candidate reply against the compiled constraints and
// returns violation labels. Pure; it never mutates its inputs.
func Validate(text string, cons types.Constraints) []string {
	return validate(text, cons, DefaultMaxReported)
}

func validate(text string, cons types.Constraints, maxReported int) []string {
	var violations []string
	add := func(v string) {
		if len(violations) < maxReported {
			violations = append(violations, v)
		}
	}

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []string{ViolationEmpty}
	}

	if cons.MaxLines > 0 {
		if n := len(strings.Split(trimmed, "\n")); n > cons.MaxLines {
			add(ViolationLineCount)
		}
	}
	if strings.Count(trimmed, "?") > cons.MaxQuestions {
		add(ViolationQuestions)
	}
	if cons.ForbidEmoji && emojiRe.MatchString(trimmed) {
		add(ViolationEmoji)
	}
	if cons.ForbidHedging && hedgingRe.MatchString(trimmed) {
		add(ViolationHedging)
	}

	lower := strings.ToLower(trimmed)
	for _, sub := range cons.ForbiddenSubstrings {
		if len(violations) >= maxReported {
			break
		}
		if sub != "" && strings.Contains(lower, strings.ToLower(sub)) {
			add(ViolationForbidden + ":" + sub)
		}
	}

	return violations
}

// RetryNote builds the system-only retry directive enumerating the active
// constraints and the violations found. It must never reach user output.
func RetryNote(cons types.Constraints, violations []string) string {
	var b strings.Builder
	b.WriteString("CONSTRAINT_RETRY: your previous draft violated output constraints. Rewrite it.\n")
	b.WriteString(fmt.Sprintf("Constraints: max_lines=%d max_questions=%d forbid_emoji=%v forbid_hedging=%v\n",
		cons.MaxLines, cons.MaxQuestions, cons.ForbidEmoji, cons.ForbidHedging))
	if len(cons.ForbiddenSubstrings) > 0 {
		b.WriteString("Forbidden phrases: " + strings.Join(cons.ForbiddenSubstrings, "; ") + "\n")
	}
	b.WriteString("Violations: " + strings.Join(violations, ", "))
	return b.String()
}
