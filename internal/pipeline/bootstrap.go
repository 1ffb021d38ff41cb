package pipeline

import (
	"regexp"
	"strings"

	"projectos/internal/types"
)

// =============================================================================
// BOOTSTRAP
// =============================================================================
//
// needs_goal -> goal_proposed -> active. The first substantive message of a
// fresh project is auto-adopted as the goal when it is plausibly one.

const (
	goalMinChars = 10
	goalMaxChars = 420
)

var greetingOnlyRe = regexp.MustCompile(`(?i)^(?:hi|hey|hello|yo|howdy|good (?:morning|afternoon|evening))[\s.!,]*$`)

// goalCandidate reports whether a message can be auto-adopted as the project
// goal. Commands, greetings, and questions never qualify.
func goalCandidate(msg string) bool {
	trimmed := strings.TrimSpace(msg)
	if len(trimmed) < goalMinChars || len(trimmed) > goalMaxChars {
		return false
	}
	if strings.HasPrefix(trimmed, "!") || strings.HasPrefix(trimmed, "/") {
		return false
	}
	if greetingOnlyRe.MatchString(trimmed) {
		return false
	}
	if strings.HasSuffix(trimmed, "?") {
		return false
	}
	return true
}

// advanceBootstrap applies one turn of the bootstrap state machine, mutating
// the state in place. Returns true when the goal was adopted this turn.
func advanceBootstrap(state *types.ProjectState, userMsg string) bool {
	if state.BootstrapStatus != types.BootstrapNeedsGoal || state.Goal != "" {
		return false
	}
	if !goalCandidate(userMsg) {
		return false
	}
	state.Goal = strings.TrimSpace(userMsg)
	state.BootstrapStatus = types.BootstrapActive
	return true
}
