package retrieval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergiySeletsky/mem0-sub000/internal/graphstore"
)

// fakeSearchStore scripts both arms and records ACCESSED audit writes.
type fakeSearchStore struct {
	mu       sync.Mutex
	vector   []graphstore.MemoryHit
	text     []graphstore.MemoryHit
	accessed []string
}

func (f *fakeSearchStore) VectorSearchMemories(ctx context.Context, userID string, vector []float32, topK int, minScore float64) ([]graphstore.MemoryHit, error) {
	return f.vector, nil
}

func (f *fakeSearchStore) TextSearchMemories(ctx context.Context, userID, queryText string, topK int) ([]graphstore.MemoryHit, error) {
	return f.text, nil
}

func (f *fakeSearchStore) RecordAccess(ctx context.Context, appName, memoryID, queryUsed string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accessed = append(f.accessed, memoryID)
	return nil
}

type stubLLM struct{}

func (stubLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{0.1, 0.2}}, nil
}

func (stubLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", nil
}

func TestSearchTextHitAtTopIsConfident(t *testing.T) {
	store := &fakeSearchStore{
		vector: []graphstore.MemoryHit{{ID: "m1", Content: "Prisma connection pool tuning", Rank: 1, Similarity: 0.8}},
		text:   []graphstore.MemoryHit{{ID: "m1", Content: "Prisma connection pool tuning", Rank: 1}},
	}
	s := New(store, stubLLM{})

	result, err := s.Search(context.Background(), "u1", "app", "connection pool exhaustion 503 error", 10, ModeHybrid, Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Hits)
	assert.Equal(t, "m1", result.Hits[0].ID)
	require.NotNil(t, result.Hits[0].TextRank)
	assert.Equal(t, 1, *result.Hits[0].TextRank)
	assert.True(t, result.Confident)
}

func TestSearchVectorOnlyLowScoresNotConfident(t *testing.T) {
	store := &fakeSearchStore{
		vector: []graphstore.MemoryHit{
			{ID: "m1", Content: "unrelated", Rank: 1, Similarity: 0.3},
			{ID: "m2", Content: "also unrelated", Rank: 2, Similarity: 0.2},
		},
	}
	s := New(store, stubLLM{})

	result, err := s.Search(context.Background(), "u1", "app", "quantum blockchain NFT", 10, ModeHybrid, Filter{})
	require.NoError(t, err)
	require.NotEmpty(t, result.Hits)
	for _, h := range result.Hits {
		assert.Nil(t, h.TextRank)
	}
	assert.False(t, result.Confident, "single-arm scores all below the RRF cutoff mean low confidence")
	assert.NotEmpty(t, result.Message)
}

func TestSearchTextModeSkipsVectorArm(t *testing.T) {
	store := &fakeSearchStore{
		vector: []graphstore.MemoryHit{{ID: "vec", Rank: 1}},
		text:   []graphstore.MemoryHit{{ID: "txt", Rank: 1}},
	}
	s := New(store, stubLLM{})

	result, err := s.Search(context.Background(), "u1", "app", "query", 10, ModeText, Filter{})
	require.NoError(t, err)
	require.Len(t, result.Hits, 1)
	assert.Equal(t, "txt", result.Hits[0].ID)
}

func TestFuseRanksBothArmAgreementHighest(t *testing.T) {
	vectorArm := []graphstore.MemoryHit{
		{ID: "a", Content: "a", Rank: 1},
		{ID: "b", Content: "b", Rank: 2},
	}
	textArm := []graphstore.MemoryHit{
		{ID: "a", Content: "a", Rank: 3},
		{ID: "c", Content: "c", Rank: 1},
	}
	hits := Fuse(vectorArm, textArm)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].ID, "memory present in both arms should rank first")
	require.NotNil(t, hits[0].VectorRank)
	require.NotNil(t, hits[0].TextRank)
	assert.Equal(t, 1, *hits[0].VectorRank)
	assert.Equal(t, 3, *hits[0].TextRank)
}

func TestFuseLeavesAbsentArmRankNil(t *testing.T) {
	hits := Fuse([]graphstore.MemoryHit{{ID: "a", Rank: 1}}, nil)
	require.Len(t, hits, 1)
	assert.NotNil(t, hits[0].VectorRank)
	assert.Nil(t, hits[0].TextRank)
}

func TestFuseRelevanceScoreUsesFixedDivisor(t *testing.T) {
	hits := Fuse([]graphstore.MemoryHit{{ID: "a", Rank: 1}}, nil)
	require.Len(t, hits, 1)
	expected := (1.0 / 61.0) / relevanceDivisor
	assert.InDelta(t, expected, hits[0].RelevanceScore, 1e-6)
}

func TestFuseRelevanceScoreClampsToOne(t *testing.T) {
	hits := Fuse(
		[]graphstore.MemoryHit{{ID: "a", Rank: 1}},
		[]graphstore.MemoryHit{{ID: "a", Rank: 1}},
	)
	require.Len(t, hits, 1)
	assert.Equal(t, 1.0, hits[0].RelevanceScore)
}

func TestApplyFilterByCategoryCaseInsensitive(t *testing.T) {
	hits := []Hit{
		{ID: "a", Categories: []string{"Work"}},
		{ID: "b", Categories: []string{"Health"}},
	}
	out := applyFilter(hits, Filter{Categories: []string{"health"}})
	assert.Len(t, out, 1)
	assert.Equal(t, "b", out[0].ID)
}

func TestApplyFilterByDateWindow(t *testing.T) {
	now := time.Now()
	hits := []Hit{
		{ID: "old", CreatedAt: now.Add(-48 * time.Hour)},
		{ID: "new", CreatedAt: now},
	}
	since := now.Add(-24 * time.Hour)
	out := applyFilter(hits, Filter{Since: &since})
	assert.Len(t, out, 1)
	assert.Equal(t, "new", out[0].ID)
}

func TestConfidentTrueWithNoResults(t *testing.T) {
	assert.True(t, confident(nil))
}

func TestConfidentTrueWhenAnyHitHasTextRank(t *testing.T) {
	rank := 5
	hits := []Hit{{ID: "a", RawScore: 0.001, TextRank: &rank}}
	assert.True(t, confident(hits))
}

func TestConfidentFalseBelowThresholdWithNoTextRank(t *testing.T) {
	hits := []Hit{{ID: "a", RawScore: 0.01}}
	assert.False(t, confident(hits))
}

func TestConfidentTrueAboveThresholdWithNoTextRank(t *testing.T) {
	hits := []Hit{{ID: "a", RawScore: 0.05}}
	assert.True(t, confident(hits))
}
