package pipeline

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"projectos/internal/audit"
	"projectos/internal/types"
)

// =============================================================================
// DECISION LEDGER
// =============================================================================
//
// Decision-shaped messages become pending candidates; a bare yes on the next
// turn promotes the newest candidate to the confirmed ledger. Venting and
// hypotheticals never match.

var decisionRe = regexp.MustCompile(`(?i)^(?:let'?s go with|we(?:'ve)? decided(?: on)?|i(?:'ll| will) go with|going with)\s+(.{3,160}?)[.!]?$`)

// detectDecisionCandidate returns the decision text of a decision-shaped
// message, "" otherwise.
func detectDecisionCandidate(msg string) string {
	m := decisionRe.FindStringSubmatch(strings.TrimSpace(msg))
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

// captureDecision records a pending candidate for a decision-shaped message.
// Returns the confirmation question to append, "" when none applies.
func (o *Orchestrator) captureDecision(ctx context.Context, user, project, msg string) string {
	text := detectDecisionCandidate(msg)
	if text == "" {
		return ""
	}
	cands := o.disk.LoadDecisionCandidates(user, project)
	for _, c := range cands {
		if c.Status == "pending" && strings.EqualFold(c.Text, text) {
			return ""
		}
	}
	cands = append(cands, types.DecisionCandidate{
		Text:      text,
		Status:    "pending",
		Timestamp: o.clock.Now().UTC().Format(time.RFC3339),
	})
	if err := o.disk.SaveDecisionCandidates(user, project, cands); err != nil {
		o.logger.Warn("decision candidate save failed", zap.Error(err))
		return ""
	}
	audit.Record(ctx, "decision_candidate", text)
	return fmt.Sprintf("Lock in %q as a project decision? (yes/no)", text)
}

// resolveDecision settles the newest pending candidate on a bare yes/no.
// Returns the deterministic reply and true when the turn is consumed.
func (o *Orchestrator) resolveDecision(ctx context.Context, user, project, msg string) (string, bool) {
	yes, no := bareAnswer(msg)
	if !yes && !no {
		return "", false
	}
	cands := o.disk.LoadDecisionCandidates(user, project)
	idx := -1
	for i := len(cands) - 1; i >= 0; i-- {
		if cands[i].Status == "pending" {
			idx = i
			break
		}
	}
	if idx < 0 {
		return "", false
	}

	if no {
		cands[idx].Status = "dropped"
		if err := o.disk.SaveDecisionCandidates(user, project, cands); err != nil {
			o.logger.Warn("decision candidate save failed", zap.Error(err))
		}
		audit.Record(ctx, "decision_dropped", cands[idx].Text)
		return "Okay, not locking that in.", true
	}

	cands[idx].Status = "confirmed"
	if err := o.disk.SaveDecisionCandidates(user, project, cands); err != nil {
		o.logger.Warn("decision candidate save failed", zap.Error(err))
	}
	decisions := o.disk.LoadDecisions(user, project)
	decisions = append(decisions, types.Decision{
		Text:      cands[idx].Text,
		Timestamp: o.clock.Now().UTC().Format(time.RFC3339),
	})
	if err := o.disk.SaveDecisions(user, project, decisions); err != nil {
		o.logger.Warn("decision ledger save failed", zap.Error(err))
	}
	audit.Record(ctx, "decision_confirmed", cands[idx].Text)
	return fmt.Sprintf("Locked in: %s", cands[idx].Text), true
}
