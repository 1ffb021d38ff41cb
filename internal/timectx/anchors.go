package timectx

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"projectos/internal/types"
)

// Anchor bounds.
const (
	MaxAnchors        = 8
	DedupeWindow      = 120 * time.Second
	renderedAnchors   = 3
	maxAnchorLabelLen = 60
)

// Start-event patterns are deliberately conservative: only first-person,
// just-happened declarations produce anchors.
var startEventRes = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bi just put (?:the |a |an )?(.{2,60}?) (?:in|into|on) the (?:oven|grill|smoker|kiln|dryer|washer)\b`),
	regexp.MustCompile(`(?i)\bi just (?:started|fired up|turned on) (?:the |a |an )?(.{2,60}?)(?:\.|,|$)`),
	regexp.MustCompile(`(?i)\b(?:the |my )?(.{2,60}?) just went (?:in|into) the (?:oven|grill|smoker)\b`),
	regexp.MustCompile(`(?i)\bjust set (?:a |the )?timer for (.{2,60}?)(?:\.|,|$)`),
}

var timeParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// DetectAnchor scans the message for a concrete start-event. When the message
// also carries an explicit time phrase ("20 minutes ago", "at 3pm"), the
// anchor timestamp uses it; otherwise the anchor is stamped now.
func DetectAnchor(msg string, now time.Time, loc *time.Location) (types.TimeAnchor, bool) {
	for _, re := range startEventRes {
		m := re.FindStringSubmatch(msg)
		if m == nil {
			continue
		}
		label := strings.TrimSpace(m[1])
		if label == "" || len(label) > maxAnchorLabelLen {
			continue
		}
		ts := now
		if r, err := timeParser.Parse(msg, now); err == nil && r != nil {
			ts = r.Time
		}
		return types.TimeAnchor{Label: strings.ToLower(label), TS: ts.In(loc), TZ: loc.String()}, true
	}
	return types.TimeAnchor{}, false
}

// AddAnchor appends an anchor to the state, deduping same-label anchors
// within the dedupe window and keeping at most MaxAnchors (oldest evicted).
// Returns false when the anchor was a duplicate.
func AddAnchor(state *types.ProjectState, anchor types.TimeAnchor) bool {
	return AddAnchorBounded(state, anchor, MaxAnchors, DedupeWindow)
}

// AddAnchorBounded is AddAnchor with caller-supplied bounds.
func AddAnchorBounded(state *types.ProjectState, anchor types.TimeAnchor, max int, window time.Duration) bool {
	if max <= 0 {
		max = MaxAnchors
	}
	if window <= 0 {
		window = DedupeWindow
	}
	for _, existing := range state.TimeAnchors {
		if existing.Label == anchor.Label && absDuration(anchor.TS.Sub(existing.TS)) <= window {
			return false
		}
	}
	state.TimeAnchors = append(state.TimeAnchors, anchor)
	if len(state.TimeAnchors) > max {
		state.TimeAnchors = state.TimeAnchors[len(state.TimeAnchors)-max:]
	}
	return true
}

// RenderAnchors formats the last 3 anchors as a single system line, "" when
// no anchors exist.
func RenderAnchors(anchors []types.TimeAnchor, now time.Time) string {
	if len(anchors) == 0 {
		return ""
	}
	start := len(anchors) - renderedAnchors
	if start < 0 {
		start = 0
	}
	parts := make([]string, 0, renderedAnchors)
	for _, a := range anchors[start:] {
		mins := int(now.Sub(a.TS).Minutes())
		if mins < 0 {
			mins = 0
		}
		parts = append(parts, fmt.Sprintf("%s (%dm ago)", a.Label, mins))
	}
	return "TIME_ANCHORS: " + strings.Join(parts, "; ")
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
