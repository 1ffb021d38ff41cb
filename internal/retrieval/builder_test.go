package retrieval

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectos/internal/config"
	"projectos/internal/facts"
	"projectos/internal/policy"
	"projectos/internal/store"
	"projectos/internal/types"
)

func newBuilder(t *testing.T) (*Builder, *store.Store) {
	t.Helper()
	disk := store.New(t.TempDir(), nil)
	pol := policy.NewEngine(disk, nil)
	return NewBuilder(disk, pol, config.DefaultConfig().Memory, nil), disk
}

func baseInput(state *types.ProjectState) Input {
	return Input{
		User:    "alice",
		Project: "kitchen",
		State:   state,
		Intent:  types.Intent{Intent: types.IntentMisc, Scope: "current_project"},
		UserMsg: "let's keep going",
	}
}

func writeFactsMap(t *testing.T, disk *store.Store, f []types.Tier2Fact) {
	t.Helper()
	path := disk.ProjectFile("alice", "kitchen", store.FileFactsMap)
	require.NoError(t, store.WriteText(path, facts.RenderFactsMap(f)))
}

func TestBuildStateExcerptFirst(t *testing.T) {
	b, _ := newBuilder(t)
	state := &types.ProjectState{
		Goal:            "remodel the kitchen",
		ProjectMode:     types.ModeOpenWorld,
		BootstrapStatus: types.BootstrapActive,
		NextActions:     []string{"order cabinets"},
	}
	snips := b.Build(baseInput(state))
	require.NotEmpty(t, snips)
	assert.Equal(t, "PROJECT_STATE_JSON", snips[0].Label)
	assert.Contains(t, snips[0].Content, "remodel the kitchen")
	assert.Contains(t, snips[0].Content, "order cabinets")
}

func TestBuildStateExcerptExpertFrame(t *testing.T) {
	b, _ := newBuilder(t)

	// Zero frame is omitted from the excerpt entirely.
	snips := b.Build(baseInput(&types.ProjectState{Goal: "g"}))
	require.NotEmpty(t, snips)
	assert.NotContains(t, snips[0].Content, "expert_frame")

	state := &types.ProjectState{
		Goal: "g",
		ExpertFrame: types.ExpertFrame{
			Status: "active", Label: "general contractor", Directive: "Be direct.",
		},
	}
	snips = b.Build(baseInput(state))
	require.NotEmpty(t, snips)
	assert.Contains(t, snips[0].Content, "expert_frame")
	assert.Contains(t, snips[0].Content, "general contractor")
}

func TestBuildFactsCompactRespectsReadGate(t *testing.T) {
	b, disk := newBuilder(t)
	writeFactsMap(t, disk, []types.Tier2Fact{
		{Statement: "Preferred name is Frank", Slot: types.SlotIdentity, Subject: types.SubjectUser, EntityKey: "preferred_name", Confidence: 0.9},
		{Statement: "Diagnosis is private", Slot: types.SlotContext, Subject: types.SubjectUser, EntityKey: "diagnosis", Confidence: 0.6},
	})
	require.NoError(t, policy.NewEngine(disk, nil).Upsert("alice", types.PolicyRule{
		Action: types.PolicyDoNotResurface, MatchType: types.MatchSubstring, MatchValue: "diagnosis",
	}))

	snips := b.Build(baseInput(&types.ProjectState{Goal: "g"}))
	blob := Render(snips)
	assert.Contains(t, blob, "FACTS_MAP_COMPACT")
	assert.Contains(t, blob, "Preferred name is Frank")
	assert.NotContains(t, blob, "Diagnosis")
}

func TestBuildGlobalMemoryOnlyForRecallStatus(t *testing.T) {
	b, disk := newBuilder(t)
	require.NoError(t, disk.SaveProfile("alice", &types.UserProfile{
		Schema: "user_profile_v1", PreferredName: "Frank", Timezone: "America/Chicago",
		Relationships: map[string]string{"wife": "Dana"},
	}))

	in := baseInput(&types.ProjectState{Goal: "g"})
	in.Intent.Intent = types.IntentRecall
	blob := Render(b.Build(in))
	assert.Contains(t, blob, "GLOBAL_MEMORY")
	assert.Contains(t, blob, "preferred_name=Frank")
	assert.Contains(t, blob, "wife=Dana")

	in.Intent.Intent = types.IntentPlan
	assert.NotContains(t, Render(b.Build(in)), "GLOBAL_MEMORY")
}

func writeArtifact(t *testing.T, disk *store.Store, entry store.ManifestEntry, text string, existing []store.ManifestEntry) []store.ManifestEntry {
	t.Helper()
	projDir := filepath.Dir(disk.ProjectStateDir("alice", "kitchen"))
	full := filepath.Join(projDir, entry.RelPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(text), 0o644))
	entries := append(existing, entry)
	require.NoError(t, store.WriteJSON(filepath.Join(projDir, "manifest.json"), entries))
	return entries
}

func TestFileBridgePrefersImageSemantics(t *testing.T) {
	b, disk := newBuilder(t)
	entries := writeArtifact(t, disk, store.ManifestEntry{
		RelPath: "artifacts/deck_ocr.txt", OrigName: "deck.jpg", Kind: store.ArtifactOCRText,
		SourceRel: "uploads/deck.jpg", CreatedAt: "2026-01-01T00:00:00Z",
	}, "OCR NOISE", nil)
	writeArtifact(t, disk, store.ManifestEntry{
		RelPath: "artifacts/deck_sem.txt", OrigName: "deck.jpg", Kind: store.ArtifactImageSemantics,
		SourceRel: "uploads/deck.jpg", CreatedAt: "2026-01-02T00:00:00Z",
	}, "A cedar deck with two missing balusters.", entries)

	in := baseInput(&types.ProjectState{Goal: "g"})
	in.Focus = &types.ActiveObject{
		RelPath: "uploads/deck.jpg", OrigName: "deck.jpg", MIME: "image/jpeg",
	}
	blob := Render(b.Build(in))
	assert.Contains(t, blob, "image_semantics deck.jpg")
	assert.Contains(t, blob, "cedar deck")
	assert.NotContains(t, blob, "OCR NOISE")
}

func TestFileBridgeFallbackOrder(t *testing.T) {
	b, disk := newBuilder(t)
	entries := writeArtifact(t, disk, store.ManifestEntry{
		RelPath: "artifacts/plan_pdf.txt", OrigName: "plan.pdf", Kind: store.ArtifactPDFText,
		SourceRel: "uploads/plan.pdf", CreatedAt: "2026-01-01T00:00:00Z",
	}, "PDF TEXT", nil)
	writeArtifact(t, disk, store.ManifestEntry{
		RelPath: "artifacts/plan_ocr.txt", OrigName: "plan.pdf", Kind: store.ArtifactPlanOCR,
		SourceRel: "uploads/plan.pdf", CreatedAt: "2026-01-01T01:00:00Z",
	}, "PLAN OCR TEXT", entries)

	in := baseInput(&types.ProjectState{Goal: "g"})
	in.Focus = &types.ActiveObject{
		RelPath: "uploads/plan.pdf", OrigName: "plan.pdf", MIME: "application/pdf",
	}
	blob := Render(b.Build(in))
	// plan_ocr outranks pdf_text.
	assert.Contains(t, blob, "PLAN OCR TEXT")
	assert.NotContains(t, blob, "PDF TEXT")
}

func TestExcelBridgeOnComparisonIntent(t *testing.T) {
	b, disk := newBuilder(t)
	writeArtifact(t, disk, store.ManifestEntry{
		RelPath: "artifacts/quote_bp.txt", OrigName: "quote.xlsx", Kind: store.ArtifactExcelBlueprint,
		SourceRel: "uploads/quote.xlsx", CreatedAt: "2026-01-01T00:00:00Z",
	}, "Sheet1: totals", nil)

	in := baseInput(&types.ProjectState{Goal: "g"})
	in.UserMsg = "compare the two quotes side by side"
	blob := Render(b.Build(in))
	assert.Contains(t, blob, "WORKBOOK_EVIDENCE")
	assert.Contains(t, blob, "excel_blueprint quote.xlsx")

	in.UserMsg = "what's in the quote?"
	assert.NotContains(t, Render(b.Build(in)), "WORKBOOK_EVIDENCE")
}

func TestSearchAndAssumptions(t *testing.T) {
	b, _ := newBuilder(t)
	in := baseInput(&types.ProjectState{Goal: "g"})
	in.Search = &types.SearchEvidence{
		Schema:    "search_evidence_v1",
		Authority: types.Authority{Level: "primary_confirmed"},
		Results: []types.SearchResult{
			{Rank: 1, Title: "Spec sheet", Snippet: "Rated for 40A", URL: "https://example.com"},
		},
	}
	in.Assumptions = []string{"budget is 20k"}

	blob := Render(b.Build(in))
	assert.Contains(t, blob, "SEARCH_EVIDENCE")
	assert.Contains(t, blob, "primary_confirmed")
	assert.Contains(t, blob, "Rated for 40A")
	assert.Contains(t, blob, "ASSUMPTIONS")
	assert.Contains(t, blob, "budget is 20k")
}

func TestExcerptTailCap(t *testing.T) {
	b, disk := newBuilder(t)
	long := strings.Repeat("x", 20000)
	writeArtifact(t, disk, store.ManifestEntry{
		RelPath: "artifacts/big.txt", OrigName: "big.pdf", Kind: store.ArtifactPDFText,
		SourceRel: "uploads/big.pdf", CreatedAt: "2026-01-01T00:00:00Z",
	}, long, nil)

	in := baseInput(&types.ProjectState{Goal: "g"})
	in.Focus = &types.ActiveObject{RelPath: "uploads/big.pdf", OrigName: "big.pdf", MIME: "application/pdf"}
	snips := b.Build(in)
	for _, s := range snips {
		if s.Label == "FILE_EVIDENCE" {
			assert.LessOrEqual(t, len(s.Content), 9000+100)
			return
		}
	}
	t.Fatal("no FILE_EVIDENCE snippet")
}
