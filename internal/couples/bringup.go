// Package couples implements the bring-up queue for linked partners: a
// conservative request detector, the yes/no draft lifecycle, pronoun
// neutralization, and session-start theme injection.
package couples

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"projectos/internal/store"
	"projectos/internal/types"
)

// CouplesUserPrefix marks couple-scoped user segments.
const CouplesUserPrefix = "couple_"

// MaxSessionThemes bounds session-start bringup injection.
const MaxSessionThemes = 5

// IsCouplesUser reports whether a user segment is couple-scoped.
func IsCouplesUser(user string) bool {
	return strings.HasPrefix(user, CouplesUserPrefix)
}

/// The detector is conservative on purpose: only explicit ask-the-assistant
// phrasings create a draft. Venting never does.
var bringUpRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:can|could|would) you (?:bring up|mention|raise) (.{3,120}?) (?:with|to) (?:him|her|them|my (?:partner|wife|husband))\b`),
	regexp.MustCompile(`(?i)\bplease (?:bring up|mention|raise) (.{3,120}?) (?:with|to) (?:him|her|them|my (?:partner|wife|husband))\b`),
	regexp.MustCompile(`(?i)\bnext time (?:you talk to|they'?re here),? (?:bring up|mention) (.{3,120}?)(?:\.|$)`),
}

// DetectRequest returns the topic of a bring-up request, or "" when the
// message is not one.
func DetectRequest(msg string) string {
	for _, re := range bringUpRes {
		if m := re.FindStringSubmatch(msg); m != nil {
			return strings.TrimSpace(strings.TrimSuffix(m[1], "."))
		}
	}
	return ""
}

// Queue manages drafts and the partner's append-only bringup queue.
type Queue struct {
	disk   *store.Store
	logger *zap.Logger
}

// NewQueue creates a bring-up queue over the local store.
func NewQueue(disk *store.Store, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{disk: disk, logger: logger}
}

// ProposeDraft persists a pending draft on the project state and returns the
// yes/no confirmation question to ask.
func (q *Queue) ProposeDraft(user, project, topic string) (string, error) {
	draft := &types.BringUpDraft{
		Pending:   true,
		Synopsis:  "Wants to bring up: " + topic,
		Topic:     topic,
		Tone:      "gentle",
		Urgency:   "normal",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}
	_, err := q.disk.UpdateState(user, project, func(s *types.ProjectState) error {
		s.PendingBringUp = draft
		return nil
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Do you want me to gently bring up %q with your partner next time? (yes/no)", topic), nil
}

// ConfirmDraft resolves the pending draft with a yes/no answer. YES queues a
// neutralized bringup for the partner; NO discards and asks for a theme.
func (q *Queue) ConfirmDraft(user, project string, yes bool) (string, error) {
	var draft *types.BringUpDraft
	_, err := q.disk.UpdateState(user, project, func(s *types.ProjectState) error {
		draft = s.PendingBringUp
		s.PendingBringUp = nil
		return nil
	})
	if err != nil {
		return "", err
	}
	if draft == nil || !draft.Pending {
		return "", fmt.Errorf("no pending bring-up draft")
	}
	if !yes {
		return "Okay, I won't bring that up. If you'd like, give me a one-sentence theme to raise instead.", nil
	}

	partner := q.disk.PartnerOf(user)
	if partner == "" {
		return "You aren't linked with a partner yet, so I have nowhere to queue that.", nil
	}
	b := types.BringUp{
		FromUser:       user,
		ToUser:         partner,
		Topic:          Neutralize(draft.Topic),
		Tone:           draft.Tone,
		Boundaries:     draft.Boundaries,
		Urgency:        draft.Urgency,
		ContextSummary: Neutralize(draft.Synopsis),
		Status:         "queued",
		CreatedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if err := q.disk.AppendBringUp(b); err != nil {
		return "", err
	}
	q.logger.Info("bringup queued", zap.String("from", user), zap.String("to", partner))
	return "Got it. I'll raise that gently next time.", nil
}

// SessionThemes renders up to 5 pending bringups as unattributed themes for
// the start of a session, "" when none are queued.
func (q *Queue) SessionThemes(user string) string {
	pending := q.disk.PendingBringUps(user, MaxSessionThemes)
	if len(pending) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("BRINGUP_THEMES: Themes to weave in naturally this session, without attribution:\n")
	for _, b := range pending {
		sb.WriteString("- " + b.Topic + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// =============================================================================
// PRONOUN NEUTRALIZATION
// =============================================================================

// Bounded first/second-person substitutions. Order matters: longer phrases
// rewrite before their shorter prefixes.
var neutralSubs = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`(?i)\bmy partner'?s\b`), "their partner's"},
	{regexp.MustCompile(`(?i)\bmy partner\b`), "their partner"},
	{regexp.MustCompile(`(?i)\bmy (wife|husband)'?s\b`), "their partner's"},
	{regexp.MustCompile(`(?i)\bmy (wife|husband)\b`), "their partner"},
	{regexp.MustCompile(`(?i)\bi am\b|\bi'm\b`), "one partner is"},
	{regexp.MustCompile(`(?i)\bi feel\b`), "one partner feels"},
	{regexp.MustCompile(`(?i)\bi want\b`), "one partner wants"},
	{regexp.MustCompile(`(?i)\bi\b`), "one partner"},
	{regexp.MustCompile(`(?i)\bme\b`), "them"},
	{regexp.MustCompile(`(?i)\bmy\b`), "their"},
	{regexp.MustCompile(`(?i)\byour\b`), "their"},
	{regexp.MustCompile(`(?i)\byou\b`), "one partner"},
}

// Neutralize rewrites first/second-person phrasing so the queued topic never
// identifies who asked.
func Neutralize(text string) string {
	out := text
	for _, sub := range neutralSubs {
		out = sub.re.ReplaceAllString(out, sub.repl)
	}
	return out
}
