package community

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergiySeletsky/mem0-sub000/internal/graphstore"
)

// fakeCommunityStore scripts the three reads the rebuild pipeline issues
// (live count, Louvain stream, member memories) and records every write.
type fakeCommunityStore struct {
	liveCount int
	clusters  []graphstore.Record
	members   []graphstore.Record
	writes    []string
}

func (f *fakeCommunityStore) RunRead(ctx context.Context, query string, params map[string]any) ([]graphstore.Record, error) {
	switch {
	case strings.Contains(query, "count(m)"):
		return []graphstore.Record{{"count": int64(f.liveCount)}}, nil
	case strings.Contains(query, "gds.louvain.stream"):
		return f.clusters, nil
	case strings.Contains(query, "MENTIONS"):
		return f.members, nil
	default:
		return nil, nil
	}
}

func (f *fakeCommunityStore) RunWrite(ctx context.Context, query string, params map[string]any) ([]graphstore.Record, error) {
	f.writes = append(f.writes, query)
	return nil, nil
}

func (f *fakeCommunityStore) wrote(substr string) bool {
	for _, w := range f.writes {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

type stubLLM struct {
	response string
	err      error
}

func (s *stubLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func (s *stubLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func TestRebuildSkipsBelowMinimumLiveMemories(t *testing.T) {
	store := &fakeCommunityStore{liveCount: 4}
	b := New(store, &stubLLM{})

	require.NoError(t, b.Rebuild(context.Background(), "u1"))
	assert.Empty(t, store.writes, "too few memories means no detection and no writes at all")
}

func TestRebuildEmptyDetectionPreservesExistingCommunities(t *testing.T) {
	store := &fakeCommunityStore{liveCount: 10}
	b := New(store, &stubLLM{})

	require.NoError(t, b.Rebuild(context.Background(), "u1"))
	assert.False(t, store.wrote("DETACH DELETE"), "a no-signal detection run must not wipe prior communities")
}

func TestRebuildReplacesCommunitiesAndSkipsSingletons(t *testing.T) {
	store := &fakeCommunityStore{
		liveCount: 10,
		clusters: []graphstore.Record{
			{"communityId": int64(1), "memberIds": []any{"e1", "e2"}, "names": []any{"Ada", "Babbage"}},
			{"communityId": int64(2), "memberIds": []any{"e3"}, "names": []any{"Loner"}},
		},
		members: []graphstore.Record{
			{"id": "m1", "content": "Ada worked with Babbage"},
			{"id": "m2", "content": "Babbage designed the engine"},
		},
	}
	b := New(store, &stubLLM{response: `{"summary":"An analytical engine circle.","findings":["collaboration"]}`})

	require.NoError(t, b.Rebuild(context.Background(), "u1"))
	assert.True(t, store.wrote("DETACH DELETE"), "a non-empty detection replaces prior communities wholesale")

	created := 0
	for _, w := range store.writes {
		if strings.Contains(w, "CREATE (u)-[:HAS_COMMUNITY]") {
			created++
		}
	}
	assert.Equal(t, 1, created, "the singleton cluster is skipped")
}

func TestSummarizeFallsBackOnLLMError(t *testing.T) {
	b := New(&fakeCommunityStore{}, &stubLLM{err: errors.New("provider down")})
	summary, rank, findings := b.summarize(context.Background(), []string{"a memory"})
	assert.Equal(t, defaultSummary, summary)
	assert.Equal(t, defaultRank, rank)
	assert.Nil(t, findings)
}

func TestSummarizeFallsBackOnNonJSON(t *testing.T) {
	b := New(&fakeCommunityStore{}, &stubLLM{response: "sure, here's a summary in prose"})
	summary, _, _ := b.summarize(context.Background(), []string{"a memory"})
	assert.Equal(t, defaultSummary, summary)
}

func TestSummarizeDefaultsOutOfRangeRank(t *testing.T) {
	b := New(&fakeCommunityStore{}, &stubLLM{response: `{"summary":"s","rank":42}`})
	_, rank, _ := b.summarize(context.Background(), []string{"a memory"})
	assert.Equal(t, defaultRank, rank)
}

func TestCommunityNameSingleEntity(t *testing.T) {
	assert.Equal(t, "Ada Lovelace", communityName([]string{"Ada Lovelace"}))
}

func TestCommunityNameMultipleEntities(t *testing.T) {
	assert.Equal(t, "Ada Lovelace and related entities", communityName([]string{"Ada Lovelace", "Charles Babbage"}))
}

func TestCommunityNameEmpty(t *testing.T) {
	assert.Equal(t, "Unnamed community", communityName(nil))
}

func TestJoinLines(t *testing.T) {
	assert.Equal(t, "- A\n- B\n- C", joinLines([]string{"A", "B", "C"}))
	assert.Equal(t, "", joinLines(nil))
}

func TestStringSliceHandlesNonSliceInput(t *testing.T) {
	assert.Nil(t, stringSlice("not a slice"))
	assert.Equal(t, []string{"a", "b"}, stringSlice([]any{"a", "b"}))
}
