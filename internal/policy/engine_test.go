package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectos/internal/types"
)

type memStore struct {
	rules map[string][]types.PolicyRule
}

func newMemStore() *memStore {
	return &memStore{rules: make(map[string][]types.PolicyRule)}
}

func (m *memStore) LoadPolicies(user string) ([]types.PolicyRule, error) {
	return m.rules[user], nil
}

func (m *memStore) SavePolicies(user string, rules []types.PolicyRule) error {
	m.rules[user] = rules
	return nil
}

func TestDecidePermissiveDefault(t *testing.T) {
	e := NewEngine(newMemStore(), nil)
	dec := e.Decide("alice", "likes jazz", "music")
	assert.True(t, dec.Store)
	assert.True(t, dec.MirrorGlobal)
	assert.True(t, dec.AllowResurface)
}

func TestDecideDoNotStore(t *testing.T) {
	st := newMemStore()
	st.rules["alice"] = []types.PolicyRule{
		{Action: types.PolicyDoNotStore, MatchType: types.MatchSubstring, MatchValue: "salary"},
	}
	e := NewEngine(st, nil)

	dec := e.Decide("alice", "my salary is 90k", "")
	assert.False(t, dec.Store)
	assert.False(t, dec.MirrorGlobal)

	dec = e.Decide("alice", "likes jazz", "")
	assert.True(t, dec.Store)
}

func TestDecideProjectOnlyAndResurface(t *testing.T) {
	st := newMemStore()
	st.rules["alice"] = []types.PolicyRule{
		{Action: types.PolicyProjectOnly, MatchType: types.MatchEntityKey, MatchValue: "ex_partner"},
		{Action: types.PolicyDoNotResurface, MatchType: types.MatchSubstring, MatchValue: "diagnosis"},
	}
	e := NewEngine(st, nil)

	dec := e.Decide("alice", "notes about them", "ex_partner")
	assert.True(t, dec.Store)
	assert.False(t, dec.MirrorGlobal)

	assert.False(t, e.AllowResurface("alice", "her diagnosis was", ""))
	assert.True(t, e.AllowResurface("alice", "likes jazz", ""))
}

func TestUpsertIdempotent(t *testing.T) {
	st := newMemStore()
	e := NewEngine(st, nil)
	rule := types.PolicyRule{Action: types.PolicyDoNotStore, MatchType: types.MatchSubstring, MatchValue: "salary"}

	require.NoError(t, e.Upsert("alice", rule))
	require.NoError(t, e.Upsert("alice", rule))
	rule.MatchValue = "SALARY" // case-insensitive duplicate
	require.NoError(t, e.Upsert("alice", rule))

	assert.Len(t, st.rules["alice"], 1)
}

func TestParseCommand(t *testing.T) {
	tests := []struct {
		msg    string
		action types.PolicyAction
		value  string
	}{
		{"don't store my salary", types.PolicyDoNotStore, "my salary"},
		{"Do not remember my address.", types.PolicyDoNotStore, "my address"},
		{"keep the lawsuit only in this project", types.PolicyProjectOnly, "the lawsuit"},
		{"don't bring up my ex unless I ask", types.PolicyDoNotResurface, "my ex"},
		{"remember my birthday globally", types.PolicyAllowGlobal, "my birthday"},
	}
	for _, tt := range tests {
		rule, ok := ParseCommand(tt.msg)
		require.True(t, ok, tt.msg)
		assert.Equal(t, tt.action, rule.Action)
		assert.Equal(t, tt.value, rule.MatchValue)
	}

	_, ok := ParseCommand("what's my preferred name?")
	assert.False(t, ok)
	_, ok = ParseCommand("I never store things in the attic")
	assert.False(t, ok)
}
