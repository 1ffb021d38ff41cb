package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeSegment(t *testing.T) {
	assert.Equal(t, "alice", SanitizeSegment("alice"))
	assert.Equal(t, "my_project", SanitizeSegment("my project"))
	assert.Equal(t, "caf", SanitizeSegment("café"))
	assert.Equal(t, DefaultSegment, SanitizeSegment(""))
	assert.Equal(t, DefaultSegment, SanitizeSegment("///"))
	assert.Equal(t, "a-b_c", SanitizeSegment("a-b_c"))
}

func TestSanitizeProjectPath(t *testing.T) {
	assert.Equal(t, "alice/kitchen_remodel", SanitizeProjectPath("alice/kitchen remodel"))
	assert.Equal(t, "alice", SanitizeProjectPath("alice//"))
	assert.Equal(t, DefaultSegment, SanitizeProjectPath(""))
	assert.Equal(t, "couple_ab/shared", SanitizeProjectPath("couple_ab/../shared"))
}

func TestStableFilename(t *testing.T) {
	assert.Equal(t, "budget_v2.xlsx", StableFilename("budget v2.xlsx"))
	assert.Equal(t, "plan.pdf", StableFilename("/tmp/uploads/plan.pdf"))
	assert.Equal(t, "notes", StableFilename("notes"))
}
