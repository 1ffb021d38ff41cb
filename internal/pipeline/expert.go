package pipeline

import (
	"regexp"
	"strings"
	"time"

	"projectos/internal/types"
)

// =============================================================================
// EXPERT FRAME LOCK
// =============================================================================
//
// Frame status moves "" -> proposed -> active. Inference is a deterministic
// keyword library, never a model call. Once real work has begun the label is
// suppressed mid-stream but the directive keeps applying.

type frameRule struct {
	re        *regexp.Regexp
	label     string
	directive string
}

var frameRules = []frameRule{
	{regexp.MustCompile(`(?i)\b(?:remodel|renovation|contractor|cabinet|drywall|permit|load[- ]bearing)\b`),
		"renovation-advisor",
		"Answer as a pragmatic residential renovation advisor. Think in trades, sequencing, and permits."},
	{regexp.MustCompile(`(?i)\b(?:smoker|brisket|sourdough|ferment|braise|sous vide)\b`),
		"cooking-coach",
		"Answer as a patient cooking coach. Give temperatures, times, and doneness cues."},
	{regexp.MustCompile(`(?i)\b(?:budget|invoice|quote|estimate|cash flow|down payment)\b`),
		"budget-analyst",
		"Answer as a careful budget analyst. Quantify, compare, and flag hidden costs."},
	{regexp.MustCompile(`(?i)\b(?:workout|marathon|training plan|deadlift|vo2)\b`),
		"training-coach",
		"Answer as a measured training coach. Progressions over heroics."},
	{regexp.MustCompile(`(?i)\b(?:my partner and i|our relationship|we keep arguing|couples)\b`),
		"couples-facilitator",
		"Answer as a neutral couples facilitator. Never take sides, never attribute."},
}

var explicitFrameRe = regexp.MustCompile(`(?i)^expert frame:\s*(.+?)\s*$`)

// InferFrame maps message keywords to a candidate frame, nil when nothing
// matches.
func InferFrame(blob string) *types.ExpertFrame {
	for _, r := range frameRules {
		if r.re.MatchString(blob) {
			return &types.ExpertFrame{
				Status:    "proposed",
				Label:     r.label,
				Directive: r.directive,
				SetReason: "keyword_inference",
			}
		}
	}
	return nil
}

// ExplicitFrame parses "expert frame: X" declarations.
func ExplicitFrame(msg string) (*types.ExpertFrame, bool) {
	m := explicitFrameRe.FindStringSubmatch(strings.TrimSpace(msg))
	if m == nil {
		return nil, false
	}
	label := strings.ToLower(strings.TrimSpace(m[1]))
	return &types.ExpertFrame{
		Status:    "active",
		Label:     label,
		Directive: "Answer in the voice and priorities of: " + label + ".",
		SetReason: "user_explicit",
	}, true
}

// realWorkBegun reports whether the project is past the proposal stage, so
// the frame label stops being announced.
func realWorkBegun(state *types.ProjectState, decisions []types.Decision) bool {
	return len(decisions) > 0 || len(state.KeyFiles) > 0 || state.CurrentFocus != ""
}

// advanceFrame applies one turn of the frame state machine to the state and
// returns the system note to inject ("" when nothing applies this turn).
func advanceFrame(state *types.ProjectState, decisions []types.Decision, userMsg string, yes, no bool) string {
	now := time.Now().UTC().Format(time.RFC3339)

	if frame, ok := ExplicitFrame(userMsg); ok {
		frame.UpdatedAt = now
		state.ExpertFrame = *frame
		return "EXPERT_FRAME: " + frame.Directive
	}

	switch state.ExpertFrame.Status {
	case "proposed":
		if yes {
			state.ExpertFrame.Status = "active"
			state.ExpertFrame.UpdatedAt = now
			return "EXPERT_FRAME: " + state.ExpertFrame.Directive
		}
		if no {
			state.ExpertFrame = types.ExpertFrame{}
			return ""
		}
		return ""
	case "active":
		note := "EXPERT_FRAME: " + state.ExpertFrame.Directive
		if realWorkBegun(state, decisions) {
			note += " Do not announce or restate this frame; just apply it."
		}
		return note
	}

	if inferred := InferFrame(userMsg); inferred != nil {
		inferred.UpdatedAt = now
		state.ExpertFrame = *inferred
		return ""
	}
	return ""
}
