package categorize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeDedupesCaseInsensitively(t *testing.T) {
	out := sanitize([]string{"Health", "health", "Work"})
	assert.Equal(t, []string{"Health", "Work"}, out)
}

func TestSanitizeCapsAtThree(t *testing.T) {
	out := sanitize([]string{"A", "B", "C", "D", "E"})
	assert.Len(t, out, 3)
}

func TestSanitizeDropsBlank(t *testing.T) {
	out := sanitize([]string{"  ", "Work"})
	assert.Equal(t, []string{"Work"}, out)
}

func TestSanitizeDropsOverlongLabel(t *testing.T) {
	tooLong := strings.Repeat("a", 51)
	out := sanitize([]string{tooLong, "Work"})
	assert.Equal(t, []string{"Work"}, out)
}

func TestSanitizeKeepsLabelAtExactLimit(t *testing.T) {
	atLimit := strings.Repeat("a", 50)
	out := sanitize([]string{atLimit})
	assert.Equal(t, []string{atLimit}, out)
}
