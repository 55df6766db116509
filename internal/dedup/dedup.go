// Package dedup implements the pre-write duplicate/supersession check:
// candidate recall over the user's existing memories, tag-aware reordering,
// LLM pair verification with cache and runner-up check, and a negation
// safety gate before a DUPLICATE verdict is trusted.
package dedup

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/SergiySeletsky/mem0-sub000/internal/graphstore"
	"github.com/SergiySeletsky/mem0-sub000/internal/llm"
	"github.com/SergiySeletsky/mem0-sub000/internal/model"
	"github.com/SergiySeletsky/mem0-sub000/internal/paircache"
)

// Store is the slice of the graph adapter the dedup engine recalls
// candidates through: consumers depend on the operations they use, not the
// concrete store.
type Store interface {
	VectorSearchMemories(ctx context.Context, userID string, vector []float32, topK int, minScore float64) ([]graphstore.MemoryHit, error)
}

// Config is the subset of internal/config.Config the dedup engine needs,
// with the provider-specific threshold already resolved by the caller via
// config.Config.DedupThresholdFor.
type Config struct {
	Enabled     bool
	Threshold   float64
	CandidateK  int
	RunnerUpGap float64
}

// Result is the outcome of running dedup against one candidate memory.
type Result struct {
	Action      model.DedupAction
	SupersedeID string // set only when Action == DedupActionSupersede
	MatchedID   string // the existing memory compared against, for logging
}

// Engine runs the dedup check described above.
type Engine struct {
	store Store
	llm   llm.Client
	cache *paircache.Cache
	log   *logrus.Entry
	cfg   Config
}

func New(store Store, llmClient llm.Client, cache *paircache.Cache, log *logrus.Entry, cfg Config) *Engine {
	return &Engine{store: store, llm: llmClient, cache: cache, log: log, cfg: cfg}
}

// negationTokens is the fixed lexical set the negation safety gate checks
// for: a DUPLICATE verdict is distrusted when exactly one of the two texts
// carries a negation the other lacks, since that's the textbook failure
// mode of embedding similarity ("I like coffee" vs "I don't like coffee"
// score nearly identically).
var negationTokens = map[string]bool{
	"not": true, "no": true, "never": true, "nobody": true, "nothing": true,
	"neither": true, "nor": true, "don't": true, "doesn't": true, "didn't": true,
	"isn't": true, "aren't": true, "wasn't": true, "weren't": true, "won't": true,
	"wouldn't": true, "can't": true, "cannot": true, "shouldn't": true,
	"couldn't": true, "haven't": true, "hasn't": true, "hadn't": true,
}

// hasNegation reports whether any word in text, tokenized on whitespace and
// stripped of surrounding punctuation, is a member of negationTokens. Word-
// set membership (not substring matching) so that e.g. "cannot" doesn't get
// counted as containing "not".
func hasNegation(text string) bool {
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if negationTokens[word] {
			return true
		}
	}
	return false
}

// Run checks candidateText/candidateEmbedding against the user's existing
// live memories and returns the action the write pipeline should take.
func (e *Engine) Run(ctx context.Context, userID, candidateText string, candidateEmbedding []float32, candidateTags []string) (Result, error) {
	if !e.cfg.Enabled {
		return Result{Action: model.DedupActionInsert}, nil
	}

	k := e.cfg.CandidateK
	if k <= 0 {
		k = 5
	}
	candidates, err := e.store.VectorSearchMemories(ctx, userID, candidateEmbedding, k, e.cfg.Threshold)
	if err != nil {
		return Result{}, fmt.Errorf("dedup: candidate recall: %w", err)
	}
	if len(candidates) == 0 {
		return Result{Action: model.DedupActionInsert}, nil
	}

	if len(candidateTags) > 0 && len(candidates) > 1 {
		candidates = reorder(candidates, candidateTags)
	}

	gap := e.cfg.RunnerUpGap
	if gap <= 0 {
		gap = 0.05
	}

	// Top-1 verify, failing open: an LLM outage must never block a write,
	// so a classifier error degrades to an insert rather than surfacing.
	matched := candidates[0]
	verdict, err := e.verify(ctx, candidateText, matched.Content)
	if err != nil {
		if e.log != nil {
			e.log.WithError(err).Warn("pair verification failed, inserting without dedup")
		}
		return Result{Action: model.DedupActionInsert}, nil
	}

	// Runner-up check: a DIFFERENT on the top candidate isn't trusted when
	// the runner-up scored within gap of it — the ordering between two
	// near-tied candidates is noise, so the runner-up gets its own verify
	// and a DUPLICATE/SUPERSEDES there becomes the outcome.
	if verdict == model.PairVerdictDifferent && len(candidates) > 1 && candidates[0].Similarity-candidates[1].Similarity < gap {
		runnerVerdict, err := e.verify(ctx, candidateText, candidates[1].Content)
		if err != nil {
			if e.log != nil {
				e.log.WithError(err).Warn("runner-up verification failed, keeping DIFFERENT verdict")
			}
		} else if runnerVerdict == model.PairVerdictDuplicate || runnerVerdict == model.PairVerdictSupersedes {
			verdict = runnerVerdict
			matched = candidates[1]
		}
	}

	// The negation gate fires only on DUPLICATE: a SUPERSEDES verdict
	// legitimately introduces negation ("I moved to London, no longer in
	// NYC" still supersedes "I live in NYC").
	if verdict == model.PairVerdictDuplicate && negationMismatch(candidateText, matched.Content) {
		verdict = model.PairVerdictDifferent
	}

	switch verdict {
	case model.PairVerdictDuplicate:
		return Result{Action: model.DedupActionSkip, MatchedID: matched.ID}, nil
	case model.PairVerdictSupersedes:
		return Result{Action: model.DedupActionSupersede, SupersedeID: matched.ID, MatchedID: matched.ID}, nil
	default:
		return Result{Action: model.DedupActionInsert, MatchedID: matched.ID}, nil
	}
}

// negationMismatch implements the "exactly one text negates" rule: it only
// fires when precisely one of the two texts contains a negation token, so
// two texts that both negate (or both don't) are left alone.
func negationMismatch(a, b string) bool {
	return hasNegation(a) != hasNegation(b)
}

func (e *Engine) verify(ctx context.Context, a, b string) (model.PairVerdict, error) {
	if cached, ok := e.cache.Get(a, b); ok {
		return model.PairVerdict(cached), nil
	}

	system := "You compare two memory statements about the same person and classify their relationship. " +
		"Respond with exactly one word: DUPLICATE if they state the same fact, SUPERSEDES if the second statement " +
		"is an updated version of the first that replaces it, or DIFFERENT if they describe unrelated facts."
	user := fmt.Sprintf("Statement A: %s\nStatement B: %s", a, b)

	raw, err := e.llm.Complete(ctx, system, user)
	if err != nil {
		return "", fmt.Errorf("llm pair verify: %w", err)
	}

	verdict := parseVerdict(raw)
	e.cache.Put(a, b, paircache.Verdict(verdict))
	return verdict, nil
}

func parseVerdict(raw string) model.PairVerdict {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	switch {
	case strings.Contains(upper, "SUPERSEDE"):
		return model.PairVerdictSupersedes
	case strings.Contains(upper, "DUPLICATE"):
		return model.PairVerdictDuplicate
	default:
		return model.PairVerdictDifferent
	}
}

// reorder stably partitions candidates sharing at least one tag with
// candidateTags (case-insensitive) ahead of candidates sharing none. The
// cosine ordering within each partition is preserved untouched, so tag
// overlap decides which candidate is verified first without rescoring
// anything.
func reorder(candidates []graphstore.MemoryHit, candidateTags []string) []graphstore.MemoryHit {
	tagSet := make(map[string]bool, len(candidateTags))
	for _, t := range candidateTags {
		tagSet[strings.ToLower(t)] = true
	}
	hasOverlap := func(h graphstore.MemoryHit) bool {
		for _, c := range h.Categories {
			if tagSet[strings.ToLower(c)] {
				return true
			}
		}
		return false
	}

	tagged := make([]graphstore.MemoryHit, 0, len(candidates))
	rest := make([]graphstore.MemoryHit, 0, len(candidates))
	for _, c := range candidates {
		if hasOverlap(c) {
			tagged = append(tagged, c)
		} else {
			rest = append(rest, c)
		}
	}
	return append(tagged, rest...)
}
