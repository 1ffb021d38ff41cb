package interpret

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"projectos/internal/store"
	"projectos/internal/types"
)

type scriptedCaller struct {
	response string
	err      error
}

func (s *scriptedCaller) Chat(context.Context, []types.Message) (string, error) {
	return s.response, s.err
}

func TestComposeWindowBounded(t *testing.T) {
	var tail []types.Message
	for i := 0; i < 20; i++ {
		tail = append(tail, types.Message{Role: types.RoleUser, Content: fmt.Sprintf("turn %d", i)})
	}
	window := ComposeWindow(tail, "reply")
	assert.NotContains(t, window, "turn 11")
	assert.Contains(t, window, "turn 12")
	assert.Contains(t, window, "turn 19")
	assert.Contains(t, window, "assistant: reply")
}

func TestValidateDropsNonVerbatimEvidence(t *testing.T) {
	window := "user: the tile guy quoted 8k and I trust him\n"
	m := &types.InterpretiveMemory{
		Themes: []types.InterpretiveItem{
			{Text: "trusts the tile contractor", Evidence: "I trust him"},
			{Text: "paraphrased", Evidence: "the user trusts their contractor"},
			{Text: "empty evidence"},
		},
	}
	Validate(m, window)
	require.Len(t, m.Themes, 1)
	assert.Equal(t, "trusts the tile contractor", m.Themes[0].Text)
}

func TestMergeDedupesAndCaps(t *testing.T) {
	dst := &types.InterpretiveMemory{
		Themes: []types.InterpretiveItem{{Text: "Budget anxiety"}},
	}
	src := &types.InterpretiveMemory{
		Themes: []types.InterpretiveItem{
			{Text: "budget anxiety"}, // dup, case-insensitive
			{Text: "timeline pressure"},
		},
	}
	Merge(dst, src, 7)
	assert.Len(t, dst.Themes, 2)
	assert.Equal(t, 7, dst.LastUpdatedTurn)

	big := &types.InterpretiveMemory{}
	for i := 0; i < 20; i++ {
		big.Themes = append(big.Themes, types.InterpretiveItem{Text: fmt.Sprintf("theme %d", i)})
	}
	Merge(dst, big, 8)
	assert.LessOrEqual(t, len(dst.Themes), 12)
}

func TestObserveMergesExtraction(t *testing.T) {
	disk := store.New(t.TempDir(), nil)
	model := &scriptedCaller{response: `{
		"entities": [{"text": "tile guy", "uncertainty": "low", "evidence": "the tile guy quoted 8k", "turn_index": 1}],
		"themes": [{"text": "cost focus", "uncertainty": "medium", "evidence": "quoted 8k", "turn_index": 1}]
	}`}
	e := NewExtractor(model, disk, nil)

	tail := []types.Message{{Role: types.RoleUser, Content: "the tile guy quoted 8k"}}
	require.NoError(t, e.Observe(context.Background(), "alice", "kitchen", tail, "Noted.", 3))

	m := disk.LoadUnderstanding("alice", "kitchen")
	assert.Equal(t, 3, m.LastUpdatedTurn)
	require.Len(t, m.Entities, 1)
	assert.Equal(t, "tile guy", m.Entities[0].Text)
	require.Len(t, m.Themes, 1)
}

func TestObserveSentinelOnFailure(t *testing.T) {
	disk := store.New(t.TempDir(), nil)
	model := &scriptedCaller{err: fmt.Errorf("provider down")}
	e := NewExtractor(model, disk, nil)

	require.NoError(t, e.Observe(context.Background(), "alice", "kitchen", nil, "reply", 5))

	// Liveness: the turn marker advances even when extraction failed.
	m := disk.LoadUnderstanding("alice", "kitchen")
	assert.Equal(t, 5, m.LastUpdatedTurn)
	assert.Empty(t, m.Entities)
}
