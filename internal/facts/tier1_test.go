package facts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectos/internal/policy"
	"projectos/internal/store"
	"projectos/internal/types"
)

func newTestFacts(t *testing.T) (*Store, *store.Store, *policy.Engine) {
	t.Helper()
	disk := store.New(t.TempDir(), nil)
	pol := policy.NewEngine(disk, nil)
	return NewStore(disk, pol, nil), disk, pol
}

func identityFact(claim, evidence string) types.Tier1Fact {
	return types.Tier1Fact{
		Claim:         claim,
		Slot:          types.SlotIdentity,
		Subject:       types.SubjectUser,
		Source:        "test",
		EvidenceQuote: evidence,
		TurnIndex:     1,
		EntityKey:     "preferred_name",
	}
}

func TestAppendRequiresVerbatimEvidence(t *testing.T) {
	fs, _, _ := newTestFacts(t)
	fact := identityFact("Preferred name is Frank", "my preferred name is Frank")

	_, err := fs.AppendRawCandidate("alice", "kitchen", fact, "something unrelated")
	assert.ErrorIs(t, err, ErrEvidenceNotVerbatim)

	res, err := fs.AppendRawCandidate("alice", "kitchen", fact, "well, my preferred name is Frank actually")
	require.NoError(t, err)
	assert.True(t, res.Stored)
	assert.Len(t, fs.ReadRaw("alice", "kitchen"), 1)
}

func TestAppendPolicyDeniedIsSilent(t *testing.T) {
	fs, _, pol := newTestFacts(t)
	require.NoError(t, pol.Upsert("alice", types.PolicyRule{
		Action: types.PolicyDoNotStore, MatchType: types.MatchSubstring, MatchValue: "salary",
	}))

	fact := types.Tier1Fact{
		Claim: "Salary is 90k", Slot: types.SlotContext, Subject: types.SubjectUser,
		EvidenceQuote: "my salary is 90k", TurnIndex: 1,
	}
	res, err := fs.AppendRawCandidate("alice", "kitchen", fact, "my salary is 90k")
	require.NoError(t, err)
	assert.False(t, res.Stored)
	assert.Empty(t, fs.ReadRaw("alice", "kitchen"))
}

func TestAppendMirrorsStoredFacts(t *testing.T) {
	fs, _, _ := newTestFacts(t)
	fact := identityFact("Preferred name is Frank", "my preferred name is Frank")

	res, err := fs.AppendRawCandidate("alice", "kitchen", fact, "my preferred name is Frank")
	require.NoError(t, err)
	assert.True(t, res.Mirrored)

	// Non-identity facts mirror too: the cross-project global map recalls
	// preferences, not just the identity kernel.
	window := "I really love hiking in the mountains."
	cands := ExtractCandidates(window, 1)
	require.NotEmpty(t, cands)
	res, err = fs.AppendRawCandidate("alice", "kitchen", cands[0], window)
	require.NoError(t, err)
	assert.True(t, res.Mirrored)
	assert.Len(t, fs.ReadUserRaw("alice"), 2)
}

func TestAppendProjectOnlyBlocksMirror(t *testing.T) {
	fs, _, pol := newTestFacts(t)
	require.NoError(t, pol.Upsert("alice", types.PolicyRule{
		Action: types.PolicyProjectOnly, MatchType: types.MatchEntityKey, MatchValue: "preferred_name",
	}))

	fact := identityFact("Preferred name is Frank", "my preferred name is Frank")
	res, err := fs.AppendRawCandidate("alice", "kitchen", fact, "my preferred name is Frank")
	require.NoError(t, err)
	assert.True(t, res.Stored)
	assert.False(t, res.Mirrored)
	assert.Empty(t, fs.ReadUserRaw("alice"))
}

func TestNormalizeIdempotent(t *testing.T) {
	fs, _, _ := newTestFacts(t)
	window := "my preferred name is Frank"
	fact := identityFact("Preferred  name   is Frank", window)
	_, err := fs.AppendRawCandidate("alice", "kitchen", fact, window)
	require.NoError(t, err)
	_, err = fs.AppendRawCandidate("alice", "kitchen", fact, window)
	require.NoError(t, err)

	res1, err := fs.Normalize("alice", "kitchen")
	require.NoError(t, err)
	assert.Equal(t, 1, res1.Kept)
	assert.Equal(t, 1, res1.Dropped)

	kept := fs.ReadRaw("alice", "kitchen")
	require.Len(t, kept, 1)
	assert.Equal(t, "Preferred name is Frank", kept[0].Claim)

	res2, err := fs.Normalize("alice", "kitchen")
	require.NoError(t, err)
	assert.Equal(t, 1, res2.Kept)
	assert.Equal(t, 0, res2.Dropped)
	assert.Equal(t, kept, fs.ReadRaw("alice", "kitchen"))
}
