// Package retrieval implements hybrid search: a vector arm and a BM25
// text arm over a user's live memories, fused with
// Reciprocal Rank Fusion, plus a confidence signal and category/date
// post-filters.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/SergiySeletsky/mem0-sub000/internal/graphstore"
	"github.com/SergiySeletsky/mem0-sub000/internal/llm"
)

// Store is the slice of the graph adapter hybrid search depends on.
type Store interface {
	VectorSearchMemories(ctx context.Context, userID string, vector []float32, topK int, minScore float64) ([]graphstore.MemoryHit, error)
	TextSearchMemories(ctx context.Context, userID, queryText string, topK int) ([]graphstore.MemoryHit, error)
	RecordAccess(ctx context.Context, appName, memoryID, queryUsed string) error
}

// rrfK is the RRF damping constant: rank-60 in either arm contributes about
// half the weight of rank-1. Standard value from the RRF literature, not
// tuned per deployment.
const rrfK = 60

// relevanceDivisor and confidenceThreshold are fixed constants for
// normalizing a raw RRF score and for the confidence signal: a single-arm
// RRF maximum is 1/(60+1) ≈ 0.0164, so only a result with contribution from
// both arms can clear the 0.02 threshold; a single-arm top hit cannot.
const (
	relevanceDivisor    = 0.032786
	confidenceThreshold = 0.02
)

// Mode selects which arm(s) hybridSearch runs.
type Mode string

const (
	ModeHybrid Mode = "hybrid"
	ModeVector Mode = "vector"
	ModeText   Mode = "text"
)

// Hit is one fused search result. TextRank/VectorRank are nil when the
// memory wasn't returned by that arm.
type Hit struct {
	ID             string     `json:"id"`
	Content        string     `json:"memory"`
	CreatedAt      time.Time  `json:"created_at"`
	Categories     []string   `json:"categories"`
	RawScore       float64    `json:"raw_score"`
	RelevanceScore float64    `json:"relevance_score"`
	TextRank       *int       `json:"text_rank"`
	VectorRank     *int       `json:"vector_rank"`
}

// Result is the full hybridSearch response envelope.
type Result struct {
	Hits      []Hit  `json:"results"`
	Confident bool   `json:"confident"`
	Message   string `json:"message,omitempty"`
}

// Filter narrows results by category and creation-date window, applied
// after fusion.
type Filter struct {
	Categories []string
	Since      *time.Time
	Until      *time.Time
}

// Searcher runs hybrid retrieval.
type Searcher struct {
	store Store
	llm   llm.Client
}

func New(store Store, llmClient llm.Client) *Searcher {
	return &Searcher{store: store, llm: llmClient}
}

// Search runs the arm(s) selected by mode, fuses them with RRF, applies
// filter, and computes the confidence signal over the returned set. Every
// memory returned is recorded with a fire-and-forget ACCESSED audit edge.
func (s *Searcher) Search(ctx context.Context, userID, appName, queryText string, topK int, mode Mode, filter Filter) (Result, error) {
	if mode == "" {
		mode = ModeHybrid
	}

	var vectorArm, textArm []graphstore.MemoryHit
	if mode != ModeText {
		embeddings, err := s.llm.Embed(ctx, []string{queryText})
		if err != nil || len(embeddings) == 0 {
			return Result{}, fmt.Errorf("retrieval: embed query: %w", err)
		}
		vectorArm, err = s.store.VectorSearchMemories(ctx, userID, embeddings[0], topK*2, 0.0)
		if err != nil {
			return Result{}, fmt.Errorf("retrieval: vector arm: %w", err)
		}
	}
	if mode != ModeVector {
		var err error
		textArm, err = s.store.TextSearchMemories(ctx, userID, queryText, topK*2)
		if err != nil {
			return Result{}, fmt.Errorf("retrieval: text arm: %w", err)
		}
	}

	fused := Fuse(vectorArm, textArm)
	filtered := applyFilter(fused, filter)
	if len(filtered) > topK {
		filtered = filtered[:topK]
	}

	result := Result{Hits: filtered, Confident: confident(filtered)}
	if !result.Confident {
		result.Message = "low confidence: results may not closely match the query"
	}

	s.recordAccessAsync(appName, filtered, queryText)
	return result, nil
}

// Fuse combines the two ranked arms with Reciprocal Rank Fusion: a memory's
// raw score is the sum of 1/(rrfK+rank) across every arm it appears in, so
// a memory ranked highly in both arms outranks one that's only a strong
// match in a single arm. Each hit keeps the 1-based rank from
// whichever arm(s) returned it (nil if absent from that arm) and a
// relevance score normalized by the fixed divisor, not a per-query
// dynamic maximum.
func Fuse(vectorArm, textArm []graphstore.MemoryHit) []Hit {
	type accum struct {
		hit        Hit
		score      float64
		textRank   *int
		vectorRank *int
	}
	byID := make(map[string]*accum)

	ensure := func(h graphstore.MemoryHit) *accum {
		a, ok := byID[h.ID]
		if !ok {
			a = &accum{hit: Hit{ID: h.ID, Content: h.Content, CreatedAt: h.CreatedAt, Categories: h.Categories}}
			byID[h.ID] = a
		}
		return a
	}

	for _, h := range vectorArm {
		a := ensure(h)
		a.score += 1.0 / float64(rrfK+h.Rank)
		rank := h.Rank
		a.vectorRank = &rank
	}
	for _, h := range textArm {
		a := ensure(h)
		a.score += 1.0 / float64(rrfK+h.Rank)
		rank := h.Rank
		a.textRank = &rank
	}

	accums := make([]*accum, 0, len(byID))
	for _, a := range byID {
		accums = append(accums, a)
	}
	sort.Slice(accums, func(i, j int) bool { return accums[i].score > accums[j].score })

	out := make([]Hit, 0, len(accums))
	for _, a := range accums {
		hit := a.hit
		hit.RawScore = a.score
		hit.RelevanceScore = a.score / relevanceDivisor
		if hit.RelevanceScore > 1 {
			hit.RelevanceScore = 1
		}
		hit.TextRank = a.textRank
		hit.VectorRank = a.vectorRank
		out = append(out, hit)
	}
	return out
}

// confident is the retrieval confidence formula: true with no results
// (nothing to misjudge), true if any result has a non-null text rank, else
// true only if the best raw RRF score clears confidenceThreshold.
func confident(hits []Hit) bool {
	if len(hits) == 0 {
		return true
	}
	maxRaw := 0.0
	for _, h := range hits {
		if h.TextRank != nil {
			return true
		}
		if h.RawScore > maxRaw {
			maxRaw = h.RawScore
		}
	}
	return maxRaw > confidenceThreshold
}

func applyFilter(hits []Hit, filter Filter) []Hit {
	if len(filter.Categories) == 0 && filter.Since == nil && filter.Until == nil {
		return hits
	}

	// Category matching is case-insensitive.
	wanted := make(map[string]bool, len(filter.Categories))
	for _, c := range filter.Categories {
		wanted[strings.ToLower(c)] = true
	}

	out := hits[:0]
	for _, h := range hits {
		if len(wanted) > 0 && !anyCategoryMatches(h.Categories, wanted) {
			continue
		}
		if filter.Since != nil && h.CreatedAt.Before(*filter.Since) {
			continue
		}
		if filter.Until != nil && h.CreatedAt.After(*filter.Until) {
			continue
		}
		out = append(out, h)
	}
	return out
}

func anyCategoryMatches(categories []string, wanted map[string]bool) bool {
	for _, c := range categories {
		if wanted[strings.ToLower(c)] {
			return true
		}
	}
	return false
}

// recordAccessAsync writes an ACCESSED audit edge from appName to every
// returned memory, fire-and-forget.
func (s *Searcher) recordAccessAsync(appName string, hits []Hit, queryUsed string) {
	if len(hits) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, h := range hits {
			_ = s.store.RecordAccess(ctx, appName, h.ID, queryUsed)
		}
	}()
}
