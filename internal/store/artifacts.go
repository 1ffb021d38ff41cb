package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"projectos/internal/types"
)

func unmarshalLine(line []byte, v interface{}) error {
	return json.Unmarshal(line, v)
}

// =============================================================================
// MANIFEST & ARTIFACTS
// =============================================================================
//
// The upload/ingest pipeline is an external collaborator: it writes the
// manifest and artifact files. The core only reads them.

// ManifestEntry describes one raw upload or produced artifact.
type ManifestEntry struct {
	RelPath   string `json:"rel_path"`
	OrigName  string `json:"orig_name"`
	Kind      string `json:"kind"` // "raw" or artifact type (pdf_text, ocr_text, ...)
	SourceRel string `json:"source_rel,omitempty"`
	SHA256    string `json:"sha256,omitempty"`
	MIME      string `json:"mime,omitempty"`
	CreatedAt string `json:"created_at"`
}

// Artifact kinds produced by the ingest pipeline.
const (
	ArtifactPDFText        = "pdf_text"
	ArtifactOCRText        = "ocr_text"
	ArtifactPlanOCR        = "plan_ocr"
	ArtifactImageCaption   = "image_caption"
	ArtifactImageClass     = "image_classification"
	ArtifactImageSemantics = "image_semantics"
	ArtifactExcelBlueprint = "excel_blueprint"
	ArtifactFileOverview   = "file_overview"
	ArtifactCodeIndex      = "code_index"
	ArtifactCodeChunk      = "code_chunk"
)

// EvidenceReader is the narrow artifact-reading contract the retrieval
// builder depends on.
type EvidenceReader interface {
	GetLatestArtifactByType(user, project, kind string) (*ManifestEntry, error)
	ReadArtifactText(user, project string, entry *ManifestEntry) (string, error)
	FindLatestArtifactTextForFile(user, project, sourceRel, kind string) (string, error)
	LatestArtifactsByType(user, project, kind string, max int) []ManifestEntry
}

// LoadManifest reads the project manifest, empty when missing.
func (s *Store) LoadManifest(user, project string) ([]ManifestEntry, error) {
	var entries []ManifestEntry
	path := filepath.Join(filepath.Dir(s.ProjectStateDir(user, project)), "manifest.json")
	err := ReadJSON(path, &entries)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// GetLatestArtifactByType returns the newest artifact of a kind, nil when none.
func (s *Store) GetLatestArtifactByType(user, project, kind string) (*ManifestEntry, error) {
	entries, err := s.LoadManifest(user, project)
	if err != nil {
		return nil, err
	}
	var latest *ManifestEntry
	for i := range entries {
		if entries[i].Kind != kind {
			continue
		}
		if latest == nil || entries[i].CreatedAt > latest.CreatedAt {
			latest = &entries[i]
		}
	}
	return latest, nil
}

// LatestArtifactsByType returns up to max newest artifacts of a kind,
// newest first.
func (s *Store) LatestArtifactsByType(user, project, kind string, max int) []ManifestEntry {
	entries, _ := s.LoadManifest(user, project)
	var out []ManifestEntry
	for _, e := range entries {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt > out[j].CreatedAt })
	if max > 0 && len(out) > max {
		out = out[:max]
	}
	return out
}

// ReadArtifactText reads an artifact's text content.
func (s *Store) ReadArtifactText(user, project string, entry *ManifestEntry) (string, error) {
	if entry == nil {
		return "", fmt.Errorf("nil manifest entry")
	}
	root := filepath.Dir(s.ProjectStateDir(user, project))
	rel := filepath.Clean(entry.RelPath)
	if strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("artifact path escapes project: %s", entry.RelPath)
	}
	data, err := os.ReadFile(filepath.Join(root, rel))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FindLatestArtifactTextForFile returns the newest artifact text of a kind
// derived from the given raw upload, "" when none.
func (s *Store) FindLatestArtifactTextForFile(user, project, sourceRel, kind string) (string, error) {
	entries, err := s.LoadManifest(user, project)
	if err != nil {
		return "", err
	}
	var latest *ManifestEntry
	for i := range entries {
		if entries[i].Kind != kind || entries[i].SourceRel != sourceRel {
			continue
		}
		if latest == nil || entries[i].CreatedAt > latest.CreatedAt {
			latest = &entries[i]
		}
	}
	if latest == nil {
		return "", nil
	}
	return s.ReadArtifactText(user, project, latest)
}

// =============================================================================
// CAPABILITY GAPS
// =============================================================================

// LoadCapabilityGaps reads the project's recorded artifact requests, empty
// when missing.
func (s *Store) LoadCapabilityGaps(user, project string) []types.CapabilityGap {
	var out []types.CapabilityGap
	_ = ReadJSON(s.ProjectFile(user, project, FileCapabilityGaps), &out)
	return out
}

// SaveCapabilityGaps persists the project's artifact requests.
func (s *Store) SaveCapabilityGaps(user, project string, gaps []types.CapabilityGap) error {
	return WriteJSON(s.ProjectFile(user, project, FileCapabilityGaps), gaps)
}

// =============================================================================
// ACTIVE OBJECT
// =============================================================================

// LoadActiveObject reads the AOF record, nil when unset.
func (s *Store) LoadActiveObject(user, project string) *types.ActiveObject {
	var ao types.ActiveObject
	if err := ReadJSON(s.ProjectFile(user, project, FileActiveObject), &ao); err != nil {
		return nil
	}
	if ao.RelPath == "" {
		return nil
	}
	return &ao
}

// SaveActiveObject persists the AOF record.
func (s *Store) SaveActiveObject(user, project string, ao *types.ActiveObject) error {
	return WriteJSON(s.ProjectFile(user, project, FileActiveObject), ao)
}

// ClearActiveObject drops focus.
func (s *Store) ClearActiveObject(user, project string) {
	_ = os.Remove(s.ProjectFile(user, project, FileActiveObject))
}

// =============================================================================
// DECISIONS
// =============================================================================

// LoadDecisions reads confirmed decisions.
func (s *Store) LoadDecisions(user, project string) []types.Decision {
	var out []types.Decision
	_ = ReadJSON(s.ProjectFile(user, project, FileDecisions), &out)
	return out
}

// SaveDecisions persists confirmed decisions.
func (s *Store) SaveDecisions(user, project string, decs []types.Decision) error {
	return WriteJSON(s.ProjectFile(user, project, FileDecisions), decs)
}

// LoadDecisionCandidates reads pending decision candidates.
func (s *Store) LoadDecisionCandidates(user, project string) []types.DecisionCandidate {
	var out []types.DecisionCandidate
	_ = ReadJSON(s.ProjectFile(user, project, FileDecisionCands), &out)
	return out
}

// SaveDecisionCandidates persists decision candidates.
func (s *Store) SaveDecisionCandidates(user, project string, cands []types.DecisionCandidate) error {
	return WriteJSON(s.ProjectFile(user, project, FileDecisionCands), cands)
}

// =============================================================================
// INTERPRETIVE MEMORY
// =============================================================================

// LoadUnderstanding reads understanding.json, empty when missing.
func (s *Store) LoadUnderstanding(user, project string) *types.InterpretiveMemory {
	m := &types.InterpretiveMemory{}
	_ = ReadJSON(s.ProjectFile(user, project, FileUnderstanding), m)
	return m
}

// SaveUnderstanding persists understanding.json.
func (s *Store) SaveUnderstanding(user, project string, m *types.InterpretiveMemory) error {
	return WriteJSON(s.ProjectFile(user, project, FileUnderstanding), m)
}
