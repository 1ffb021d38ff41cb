package constraint

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"projectos/internal/types"
)

func TestValidateEmpty(t *testing.T) {
	assert.Equal(t, []string{ViolationEmpty}, Validate("   ", types.Constraints{}))
}

func TestValidateLineCount(t *testing.T) {
	cons := types.Constraints{MaxLines: 2, MaxQuestions: 5}
	assert.Empty(t, Validate("one\ntwo", cons))
	assert.Contains(t, Validate("one\ntwo\nthree", cons), ViolationLineCount)
}

func TestValidateQuestions(t *testing.T) {
	cons := types.Constraints{MaxLines: 10, MaxQuestions: 0}
	assert.Contains(t, Validate("really?", cons), ViolationQuestions)
	assert.Empty(t, Validate("fine.", cons))
}

func TestValidateEmoji(t *testing.T) {
	cons := types.Constraints{MaxLines: 10, MaxQuestions: 5, ForbidEmoji: true}
	assert.Contains(t, Validate("done \U0001F389", cons), ViolationEmoji)
	assert.Empty(t, Validate("done.", cons))
}

func TestValidateHedging(t *testing.T) {
	cons := types.Constraints{MaxLines: 10, MaxQuestions: 5, ForbidHedging: true}
	assert.Contains(t, Validate("I think this could work", cons), ViolationHedging)
	assert.Contains(t, Validate("it's probably fine", cons), ViolationHedging)
	assert.Empty(t, Validate("This works.", cons))
}

func TestValidateForbiddenSubstrings(t *testing.T) {
	cons := types.Constraints{MaxLines: 10, MaxQuestions: 5, ForbiddenSubstrings: []string{"Great Question"}}
	got := Validate("great question! here's the answer", cons)
	assert.Len(t, got, 1)
	assert.True(t, strings.HasPrefix(got[0], ViolationForbidden+":"))
}

func TestValidateReportCap(t *testing.T) {
	subs := make([]string, 0, 12)
	text := "the quick brown fox jumps over the lazy dog again and again"
	for _, w := range strings.Fields(text)[:12] {
		subs = append(subs, w)
	}
	cons := types.Constraints{MaxLines: 10, MaxQuestions: 5, ForbiddenSubstrings: subs}
	got := Validate(text, cons)
	assert.LessOrEqual(t, len(got), DefaultMaxReported)
}

func TestRetryNoteEnumerates(t *testing.T) {
	cons := types.Constraints{MaxLines: 1, MaxQuestions: 0, ForbiddenSubstrings: []string{"moist"}}
	note := RetryNote(cons, []string{ViolationLineCount})
	assert.Contains(t, note, "CONSTRAINT_RETRY")
	assert.Contains(t, note, "max_lines=1")
	assert.Contains(t, note, "moist")
	assert.Contains(t, note, ViolationLineCount)
}
