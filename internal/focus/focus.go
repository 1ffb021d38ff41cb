// Package focus tracks which uploaded artifact is in scope for the current
// turn. Focus is ephemeral: a topic break, a newly named file, or a fresh
// upload drops it.
package focus

import (
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"projectos/internal/store"
	"projectos/internal/types"
)

var (
	topicBreakRe = regexp.MustCompile(`(?i)\b(?:new topic|different topic|change (?:of )?subject|forget (?:that|the file)|moving on|unrelated(?:,| question)|something else)\b`)
	fileNameRe   = regexp.MustCompile(`(?i)\b([\w][\w.-]{0,80}\.(?:pdf|png|jpe?g|gif|webp|heic|xlsx?|csv|docx?|txt|md|dwg))\b`)
	newImageRe   = regexp.MustCompile(`(?i)\b(?:(?:make|generate|create|draw|render)(?: me)? (?:a|an|another|a new) (?:image|picture|photo|render|mockup|logo))\b`)
	trivialAckRe = regexp.MustCompile(`(?i)^(?:ok(?:ay)?|sure|yes|yep|yeah|no|nope|thanks?|thank you|got it|continue|go on|more|tell me more|next|and\??)[.!?]?$`)
	imageRefRe   = regexp.MustCompile(`(?i)\b(?:the |that |this )(?:image|photo|picture|drawing|plan|diagram|screenshot)\b|\bin the (?:image|photo|picture)\b`)
)

// Decision explains the focus outcome for one turn.
type Decision struct {
	InScope    bool
	Dropped    bool
	DropReason string
	NamedFile  string
}

// Tracker decides focus scope per turn and reacts to new uploads.
type Tracker struct {
	disk   *store.Store
	logger *zap.Logger
}

// NewTracker creates a focus tracker over the local store.
func NewTracker(disk *store.Store, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tracker{disk: disk, logger: logger}
}

// Decide evaluates the current message against the stored focus and persists
// any drop. Returns the decision plus the (possibly nil) surviving focus.
func (t *Tracker) Decide(user, project, userMsg string) (Decision, *types.ActiveObject) {
	ao := t.disk.LoadActiveObject(user, project)
	dec := Evaluate(userMsg, ao)

	if dec.Dropped && ao != nil {
		t.disk.ClearActiveObject(user, project)
		t.logger.Debug("focus dropped",
			zap.String("project", project),
			zap.String("reason", dec.DropReason))
		ao = nil
	}

	// Explicitly naming an uploaded file retargets focus to it.
	if dec.NamedFile != "" {
		if entry := t.findBySourceName(user, project, dec.NamedFile); entry != nil {
			ao = &types.ActiveObject{
				RelPath:   entry.RelPath,
				OrigName:  entry.OrigName,
				SHA256:    entry.SHA256,
				MIME:      entry.MIME,
				SetReason: "user_named_file",
			}
			if err := t.disk.SaveActiveObject(user, project, ao); err != nil {
				t.logger.Warn("failed to persist focus", zap.Error(err))
			}
			dec.InScope = true
		}
	}

	if ao == nil {
		dec.InScope = false
	}
	return dec, ao
}

// Evaluate is the pure decision: given the message and current focus, decide
// whether focus stays in scope.
func Evaluate(userMsg string, current *types.ActiveObject) Decision {
	trimmed := strings.TrimSpace(userMsg)
	dec := Decision{InScope: current != nil}

	if m := fileNameRe.FindStringSubmatch(trimmed); m != nil {
		named := m[1]
		dec.NamedFile = named
		if current != nil && !strings.EqualFold(named, current.OrigName) {
			dec.Dropped = true
			dec.DropReason = "named_other_file"
			dec.InScope = false
		}
		return dec
	}

	if topicBreakRe.MatchString(trimmed) {
		dec.Dropped = current != nil
		dec.DropReason = "topic_break"
		dec.InScope = false
		return dec
	}

	if newImageRe.MatchString(trimmed) {
		dec.Dropped = current != nil
		dec.DropReason = "new_generic_image"
		dec.InScope = false
		return dec
	}

	// Trivial acks and short noun-phrase continuations keep focus.
	if trivialAckRe.MatchString(trimmed) || len(trimmed) < 24 {
		return dec
	}
	return dec
}

// ImageReferential reports whether the message talks about the focused image.
func ImageReferential(userMsg string) bool {
	return imageRefRe.MatchString(userMsg)
}

// maxGapReasonChars bounds the recorded request reason.
const maxGapReasonChars = 160

// EnsureImageSemantics reports whether a cached image_semantics artifact
// exists for the focused image. When it is missing, a bounded request is
// recorded for the ingest pipeline, at most one open request per file.
func (t *Tracker) EnsureImageSemantics(user, project string, ao *types.ActiveObject, reason string) (bool, error) {
	if ao == nil || !strings.HasPrefix(ao.MIME, "image/") {
		return false, nil
	}
	text, err := t.disk.FindLatestArtifactTextForFile(user, project, ao.RelPath, store.ArtifactImageSemantics)
	if err == nil && text != "" {
		return true, nil
	}

	gaps := t.disk.LoadCapabilityGaps(user, project)
	for _, g := range gaps {
		if g.Kind == store.ArtifactImageSemantics && g.SourceRel == ao.RelPath && g.Status == "open" {
			return false, nil
		}
	}
	if len(reason) > maxGapReasonChars {
		reason = reason[:maxGapReasonChars]
	}
	gaps = append(gaps, types.CapabilityGap{
		Kind:      store.ArtifactImageSemantics,
		SourceRel: ao.RelPath,
		SHA256:    ao.SHA256,
		Reason:    reason,
		Status:    "open",
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	})
	t.logger.Debug("image semantics requested",
		zap.String("project", project), zap.String("file", ao.OrigName))
	return false, t.disk.SaveCapabilityGaps(user, project, gaps)
}

// SetFromUpload points focus at a freshly ingested raw file.
func (t *Tracker) SetFromUpload(user, project string, entry *store.ManifestEntry) error {
	ao := &types.ActiveObject{
		RelPath:   entry.RelPath,
		OrigName:  entry.OrigName,
		SHA256:    entry.SHA256,
		MIME:      entry.MIME,
		SetReason: "new_upload",
	}
	return t.disk.SaveActiveObject(user, project, ao)
}

func (t *Tracker) findBySourceName(user, project, name string) *store.ManifestEntry {
	entries, err := t.disk.LoadManifest(user, project)
	if err != nil {
		return nil
	}
	lower := strings.ToLower(name)
	for i := len(entries) - 1; i >= 0; i-- {
		if strings.ToLower(entries[i].OrigName) == lower ||
			strings.HasSuffix(strings.ToLower(entries[i].SourceRel), lower) {
			return &entries[i]
		}
	}
	return nil
}
