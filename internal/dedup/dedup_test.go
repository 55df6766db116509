package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergiySeletsky/mem0-sub000/internal/graphstore"
	"github.com/SergiySeletsky/mem0-sub000/internal/model"
	"github.com/SergiySeletsky/mem0-sub000/internal/paircache"
)

type fakeStore struct {
	candidates []graphstore.MemoryHit
	err        error
}

func (f *fakeStore) VectorSearchMemories(ctx context.Context, userID string, vector []float32, topK int, minScore float64) ([]graphstore.MemoryHit, error) {
	return f.candidates, f.err
}

// scriptedLLM returns one response per Complete call, in order, and records
// the user prompts it was asked about.
type scriptedLLM struct {
	responses []string
	err       error
	calls     int
	prompts   []string
}

func (s *scriptedLLM) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}

func (s *scriptedLLM) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	s.prompts = append(s.prompts, userPrompt)
	if s.err != nil {
		return "", s.err
	}
	i := s.calls
	s.calls++
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	return s.responses[i], nil
}

func newEngine(t *testing.T, store *fakeStore, llm *scriptedLLM, cfg Config) *Engine {
	t.Helper()
	cache, err := paircache.New(16)
	require.NoError(t, err)
	return New(store, llm, cache, nil, cfg)
}

func TestRunDisabledReturnsInsert(t *testing.T) {
	e := newEngine(t, &fakeStore{}, &scriptedLLM{}, Config{Enabled: false})
	res, err := e.Run(context.Background(), "u1", "text", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DedupActionInsert, res.Action)
}

func TestRunNoCandidatesReturnsInsert(t *testing.T) {
	e := newEngine(t, &fakeStore{}, &scriptedLLM{}, Config{Enabled: true})
	res, err := e.Run(context.Background(), "u1", "text", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DedupActionInsert, res.Action)
}

func TestRunDuplicateSkipsWithMatchedID(t *testing.T) {
	store := &fakeStore{candidates: []graphstore.MemoryHit{{ID: "m1", Content: "I like coffee", Similarity: 0.9}}}
	llm := &scriptedLLM{responses: []string{"DUPLICATE"}}
	e := newEngine(t, store, llm, Config{Enabled: true})

	res, err := e.Run(context.Background(), "u1", "I enjoy coffee", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DedupActionSkip, res.Action)
	assert.Equal(t, "m1", res.MatchedID)
}

func TestRunSupersedesReturnsSupersedeWithID(t *testing.T) {
	store := &fakeStore{candidates: []graphstore.MemoryHit{{ID: "m1", Content: "I live in NYC", Similarity: 0.9}}}
	llm := &scriptedLLM{responses: []string{"SUPERSEDES"}}
	e := newEngine(t, store, llm, Config{Enabled: true})

	res, err := e.Run(context.Background(), "u1", "I live in London", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DedupActionSupersede, res.Action)
	assert.Equal(t, "m1", res.SupersedeID)
}

func TestRunFailsOpenOnVerifierError(t *testing.T) {
	store := &fakeStore{candidates: []graphstore.MemoryHit{{ID: "m1", Content: "something", Similarity: 0.9}}}
	llm := &scriptedLLM{err: errors.New("provider 503")}
	e := newEngine(t, store, llm, Config{Enabled: true})

	res, err := e.Run(context.Background(), "u1", "something else", nil, nil)
	require.NoError(t, err, "classifier failure must not surface as a write error")
	assert.Equal(t, model.DedupActionInsert, res.Action)
}

func TestRunNegationGateDowngradesDuplicate(t *testing.T) {
	store := &fakeStore{candidates: []graphstore.MemoryHit{{ID: "m1", Content: "I like coffee", Similarity: 0.99}}}
	llm := &scriptedLLM{responses: []string{"DUPLICATE"}}
	e := newEngine(t, store, llm, Config{Enabled: true})

	res, err := e.Run(context.Background(), "u1", "I don't like coffee", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DedupActionInsert, res.Action, "exactly one text negating must downgrade DUPLICATE to insert")
}

func TestRunNegationGateExemptsSupersedes(t *testing.T) {
	store := &fakeStore{candidates: []graphstore.MemoryHit{{ID: "m1", Content: "I live in NYC", Similarity: 0.99}}}
	llm := &scriptedLLM{responses: []string{"SUPERSEDES"}}
	e := newEngine(t, store, llm, Config{Enabled: true})

	res, err := e.Run(context.Background(), "u1", "I moved to London, no longer in NYC", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DedupActionSupersede, res.Action, "a temporal update legitimately introduces negation")
	assert.Equal(t, "m1", res.SupersedeID)
}

func TestRunNegationGateLeavesBothNegatingAlone(t *testing.T) {
	store := &fakeStore{candidates: []graphstore.MemoryHit{{ID: "m1", Content: "I don't eat meat", Similarity: 0.99}}}
	llm := &scriptedLLM{responses: []string{"DUPLICATE"}}
	e := newEngine(t, store, llm, Config{Enabled: true})

	res, err := e.Run(context.Background(), "u1", "I never eat meat", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, model.DedupActionSkip, res.Action)
}

func TestRunRunnerUpOverridesWithinGap(t *testing.T) {
	store := &fakeStore{candidates: []graphstore.MemoryHit{
		{ID: "top", Content: "budget for supplements", Similarity: 0.95},
		{ID: "runner", Content: "takes vitamin D daily", Similarity: 0.92},
	}}
	llm := &scriptedLLM{responses: []string{"DIFFERENT", "DUPLICATE"}}
	e := newEngine(t, store, llm, Config{Enabled: true, RunnerUpGap: 0.05})

	res, err := e.Run(context.Background(), "u1", "takes vitamin D and magnesium daily", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, llm.calls)
	assert.Equal(t, model.DedupActionSkip, res.Action)
	assert.Equal(t, "runner", res.MatchedID, "the runner-up's verdict carries the runner-up's id")
}

func TestRunRunnerUpSkippedOutsideGap(t *testing.T) {
	store := &fakeStore{candidates: []graphstore.MemoryHit{
		{ID: "top", Content: "a", Similarity: 0.95},
		{ID: "runner", Content: "b", Similarity: 0.85},
	}}
	llm := &scriptedLLM{responses: []string{"DIFFERENT", "DUPLICATE"}}
	e := newEngine(t, store, llm, Config{Enabled: true, RunnerUpGap: 0.05})

	res, err := e.Run(context.Background(), "u1", "c", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, llm.calls, "a 0.10 gap means only the top candidate is verified")
	assert.Equal(t, model.DedupActionInsert, res.Action)
}

func TestRunRunnerUpNotConsultedWhenTopIsDuplicate(t *testing.T) {
	store := &fakeStore{candidates: []graphstore.MemoryHit{
		{ID: "top", Content: "a", Similarity: 0.95},
		{ID: "runner", Content: "b", Similarity: 0.94},
	}}
	llm := &scriptedLLM{responses: []string{"DUPLICATE"}}
	e := newEngine(t, store, llm, Config{Enabled: true, RunnerUpGap: 0.05})

	res, err := e.Run(context.Background(), "u1", "c", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, llm.calls)
	assert.Equal(t, "top", res.MatchedID)
}

func TestRunTagBoostVerifiesTaggedCandidateFirst(t *testing.T) {
	store := &fakeStore{candidates: []graphstore.MemoryHit{
		{ID: "finance-budget", Content: "Budget for supplements", Similarity: 0.95, Categories: []string{"finance"}},
		{ID: "vitamin-d", Content: "Takes vitamin D", Similarity: 0.90, Categories: []string{"health"}},
	}}
	llm := &scriptedLLM{responses: []string{"SUPERSEDES"}}
	e := newEngine(t, store, llm, Config{Enabled: true})

	res, err := e.Run(context.Background(), "u1", "Takes vitamin D and magnesium daily", nil, []string{"health"})
	require.NoError(t, err)
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "Takes vitamin D", "the tag-sharing candidate is verified first despite the lower score")
	assert.Equal(t, model.DedupActionSupersede, res.Action)
	assert.Equal(t, "vitamin-d", res.SupersedeID)
}

func TestRunWithoutTagsVerifiesTopScoreFirst(t *testing.T) {
	store := &fakeStore{candidates: []graphstore.MemoryHit{
		{ID: "a", Content: "candidate a", Similarity: 0.95, Categories: []string{"finance"}},
		{ID: "b", Content: "candidate b", Similarity: 0.90, Categories: []string{"health"}},
	}}
	llm := &scriptedLLM{responses: []string{"DUPLICATE"}}
	e := newEngine(t, store, llm, Config{Enabled: true})

	res, err := e.Run(context.Background(), "u1", "new text", nil, nil)
	require.NoError(t, err)
	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "candidate a")
	assert.Equal(t, "a", res.MatchedID)
}

func TestParseVerdict(t *testing.T) {
	assert.Equal(t, model.PairVerdictDuplicate, parseVerdict("DUPLICATE"))
	assert.Equal(t, model.PairVerdictSupersedes, parseVerdict("this SUPERSEDES the prior one"))
	assert.Equal(t, model.PairVerdictDifferent, parseVerdict("unrelated facts"))
}

func TestNegationMismatch(t *testing.T) {
	assert.True(t, negationMismatch("I like coffee", "I don't like coffee"))
	assert.False(t, negationMismatch("I like coffee", "I like tea"))
	assert.False(t, negationMismatch("I never eat meat", "I don't eat meat"))
}

func TestHasNegationMatchesWholeWordsOnly(t *testing.T) {
	assert.True(t, hasNegation("I cannot swim"))
	assert.True(t, hasNegation("No, thanks."))
	assert.False(t, hasNegation("the knot is tight"), "substring 'not' inside a word must not count")
}

func TestReorderPartitionsByTagPreservingOrder(t *testing.T) {
	candidates := []graphstore.MemoryHit{
		{ID: "a", Similarity: 0.95, Categories: []string{"finance"}},
		{ID: "b", Similarity: 0.92, Categories: []string{"health"}},
		{ID: "c", Similarity: 0.90, Categories: []string{"Health"}},
	}
	out := reorder(candidates, []string{"health"})
	assert.Equal(t, []string{"b", "c", "a"}, []string{out[0].ID, out[1].ID, out[2].ID},
		"tag sharers come first, cosine order preserved inside each partition, matching case-insensitively")
}

func TestVerifyUsesCacheOnSecondCall(t *testing.T) {
	cache, err := paircache.New(10)
	require.NoError(t, err)
	fake := &scriptedLLM{responses: []string{"DUPLICATE"}}
	e := New(nil, fake, cache, nil, Config{Enabled: true})

	v1, err := e.verify(context.Background(), "a", "b")
	require.NoError(t, err)
	assert.Equal(t, model.PairVerdictDuplicate, v1)
	assert.Equal(t, 1, fake.calls)

	v2, err := e.verify(context.Background(), "b", "a")
	require.NoError(t, err)
	assert.Equal(t, model.PairVerdictDuplicate, v2)
	assert.Equal(t, 1, fake.calls, "the pair key is order-independent, so the swapped pair hits the cache")
}
