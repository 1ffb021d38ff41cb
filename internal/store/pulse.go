package store

import (
	"fmt"
	"strings"

	"projectos/internal/types"
)

// BuildTruthBoundPulse renders the deterministic project status snapshot.
// Status turns must return this byte-for-byte; model output is never
// substituted for it.
func (s *Store) BuildTruthBoundPulse(user, project string) string {
	state, err := s.LoadState(user, project)
	if err != nil {
		state = &types.ProjectState{BootstrapStatus: types.BootstrapNeedsGoal}
	}

	var b strings.Builder
	b.WriteString("Project Pulse\n")
	b.WriteString(fmt.Sprintf("Project: %s\n", project))

	goal := state.Goal
	if goal == "" {
		goal = "(no goal set)"
	}
	b.WriteString(fmt.Sprintf("Goal: %s\n", goal))
	b.WriteString(fmt.Sprintf("Mode: %s | Bootstrap: %s\n", state.ProjectMode, state.BootstrapStatus))

	if state.ExpertFrame.Status == "active" && state.ExpertFrame.Label != "" {
		b.WriteString(fmt.Sprintf("Expert frame: %s\n", state.ExpertFrame.Label))
	}
	if state.CurrentFocus != "" {
		b.WriteString(fmt.Sprintf("Focus: %s\n", state.CurrentFocus))
	}

	decisions := s.LoadDecisions(user, project)
	if len(decisions) > 0 {
		b.WriteString("Recent decisions:\n")
		start := 0
		if len(decisions) > 3 {
			start = len(decisions) - 3
		}
		for _, d := range decisions[start:] {
			b.WriteString("  - " + d.Text + "\n")
		}
	}

	uploads := s.LatestArtifactsByType(user, project, "raw", 3)
	if len(uploads) > 0 {
		b.WriteString("Recent uploads:\n")
		for _, u := range uploads {
			b.WriteString("  - " + u.OrigName + "\n")
		}
	}

	if len(state.NextActions) > 0 {
		b.WriteString("Next actions:\n")
		for _, a := range state.NextActions {
			b.WriteString("  - " + a + "\n")
		}
	}

	var gaps []string
	if err := ReadJSON(s.ProjectFile(user, project, FileCapabilityGaps), &gaps); err == nil && len(gaps) > 0 {
		b.WriteString("Capability gaps:\n")
		for _, g := range gaps {
			b.WriteString("  - " + g + "\n")
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
