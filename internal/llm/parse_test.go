package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type testEntity struct {
	Name string `json:"name"`
}

func TestParseJSONArrayLenientPlain(t *testing.T) {
	out := ParseJSONArrayLenient[testEntity](`[{"name":"Ada"},{"name":"Grace"}]`)
	assert.Len(t, out, 2)
	assert.Equal(t, "Ada", out[0].Name)
}

func TestParseJSONArrayLenientFenced(t *testing.T) {
	raw := "```json\n[{\"name\":\"Ada\"}]\n```"
	out := ParseJSONArrayLenient[testEntity](raw)
	assert.Len(t, out, 1)
	assert.Equal(t, "Ada", out[0].Name)
}

func TestParseJSONArrayLenientDegradesOnProse(t *testing.T) {
	out := ParseJSONArrayLenient[testEntity]("I could not find any entities.")
	assert.Nil(t, out)
}

func TestParseJSONObjectLenientFenced(t *testing.T) {
	raw := "```\n{\"name\":\"Ada\"}\n```"
	out, ok := ParseJSONObjectLenient[testEntity](raw)
	assert.True(t, ok)
	assert.Equal(t, "Ada", out.Name)
}

func TestParseJSONObjectLenientFailsGracefully(t *testing.T) {
	_, ok := ParseJSONObjectLenient[testEntity]("not json at all")
	assert.False(t, ok)
}
