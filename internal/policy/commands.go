package policy

import (
	"regexp"
	"strings"

	"projectos/internal/types"
)

// =============================================================================
// NL POLICY COMMANDS
// =============================================================================
//
// Policy commands are parsed deterministically from the user message before
// any model call. A successful parse short-circuits the turn with a single
// "Understood." reply.

var (
	doNotStoreRe     = regexp.MustCompile(`(?i)^(?:please\s+)?(?:don'?t|do not|never)\s+(?:store|remember|save)\s+(.+?)\.?$`)
	projectOnlyRe    = regexp.MustCompile(`(?i)^(?:please\s+)?keep\s+(.+?)\s+only\s+in\s+this\s+project\.?$`)
	doNotResurfaceRe = regexp.MustCompile(`(?i)^(?:please\s+)?don'?t\s+bring\s+up\s+(.+?)\s+unless\s+i\s+ask\.?$`)
	allowGlobalRe    = regexp.MustCompile(`(?i)^(?:please\s+)?remember\s+(.+?)\s+globally\.?$`)
)

// ParseCommand recognizes the deterministic policy command forms. It returns
// the rule and true on a match.
func ParseCommand(msg string) (types.PolicyRule, bool) {
	msg = strings.TrimSpace(msg)

	if m := projectOnlyRe.FindStringSubmatch(msg); m != nil {
		return substringRule(types.PolicyProjectOnly, m[1]), true
	}
	if m := doNotResurfaceRe.FindStringSubmatch(msg); m != nil {
		return substringRule(types.PolicyDoNotResurface, m[1]), true
	}
	if m := allowGlobalRe.FindStringSubmatch(msg); m != nil {
		return substringRule(types.PolicyAllowGlobal, m[1]), true
	}
	if m := doNotStoreRe.FindStringSubmatch(msg); m != nil {
		return substringRule(types.PolicyDoNotStore, m[1]), true
	}
	return types.PolicyRule{}, false
}

func substringRule(action types.PolicyAction, value string) types.PolicyRule {
	value = strings.Trim(strings.TrimSpace(value), `"'`)
	return types.PolicyRule{
		Action:     action,
		MatchType:  types.MatchSubstring,
		MatchValue: value,
		Note:       "user command",
	}
}
