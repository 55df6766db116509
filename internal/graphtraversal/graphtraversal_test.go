package graphtraversal

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SergiySeletsky/mem0-sub000/internal/graphstore"
)

// graphFixture answers the two read queries expand issues: the MENTIONS
// collection per frontier and the undirected RELATED_TO fan-out. Edges are
// stored once and mirrored in both directions.
type graphFixture struct {
	// mentions maps entity id -> memory ids.
	mentions map[string][]string
	// edges maps entity id -> neighbor edges.
	edges map[string][]edgeRow
	ranks map[string]float64
}

func (g *graphFixture) addEdge(a, b string, weight float64) {
	if g.edges == nil {
		g.edges = map[string][]edgeRow{}
	}
	g.edges[a] = append(g.edges[a], edgeRow{sourceID: a, targetID: b, weight: weight})
	g.edges[b] = append(g.edges[b], edgeRow{sourceID: b, targetID: a, weight: weight})
}

func (g *graphFixture) RunRead(ctx context.Context, query string, params map[string]any) ([]graphstore.Record, error) {
	switch {
	case strings.Contains(query, "MENTIONS"):
		ids, _ := params["entityIds"].([]string)
		var rows []graphstore.Record
		for _, eid := range ids {
			for _, mid := range g.mentions[eid] {
				rows = append(rows, graphstore.Record{"entityId": eid, "memoryId": mid, "content": "memory " + mid})
			}
		}
		return rows, nil
	case strings.Contains(query, "RELATED_TO"):
		ids, _ := params["ids"].([]string)
		var rows []graphstore.Record
		for _, eid := range ids {
			for _, e := range g.edges[eid] {
				rows = append(rows, graphstore.Record{
					"sourceId": e.sourceID,
					"targetId": e.targetID,
					"weight":   e.weight,
					"rank":     g.ranks[e.targetID],
				})
			}
		}
		return rows, nil
	default:
		return nil, nil
	}
}

func (g *graphFixture) VectorSearchMemories(ctx context.Context, userID string, vector []float32, topK int, minScore float64) ([]graphstore.MemoryHit, error) {
	return nil, nil
}

func (g *graphFixture) RecordAccess(ctx context.Context, appName, memoryID, queryUsed string) error {
	return nil
}

// The two-hop chain from the retrieval design: A—B (0.9), B—C (0.6); A is
// mentioned by M_A, C by M_C.
func chainFixture() *graphFixture {
	g := &graphFixture{
		mentions: map[string][]string{"A": {"M_A"}, "C": {"M_C"}},
		ranks:    map[string]float64{},
	}
	g.addEdge("A", "B", 0.9)
	g.addEdge("B", "C", 0.6)
	return g
}

func TestExpandTwoHopChainCarriesHopAndAverageWeight(t *testing.T) {
	tr := New(chainFixture(), nil)
	results, err := tr.expand(context.Background(), "u1", []string{"A"}, Options{MaxHops: 2}.withDefaults())
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "M_A", results[0].ID)
	assert.Equal(t, 0, results[0].HopDistance)
	assert.InDelta(t, 1.0, results[0].AvgWeight, 1e-9, "seed memories carry full weight")

	assert.Equal(t, "M_C", results[1].ID)
	assert.Equal(t, 2, results[1].HopDistance)
	assert.InDelta(t, 0.75, results[1].AvgWeight, 1e-9, "average of the 0.9 and 0.6 edges along the path")
}

func TestExpandMaxDepthOneStopsBeforeSecondHop(t *testing.T) {
	tr := New(chainFixture(), nil)
	results, err := tr.expand(context.Background(), "u1", []string{"A"}, Options{MaxHops: 1}.withDefaults())
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "M_A", results[0].ID)
}

func TestExpandTakesMinimumHopAcrossSeeds(t *testing.T) {
	// X is both a direct seed and reachable from A in two hops; the memory
	// it mentions must carry the smaller distance.
	g := &graphFixture{
		mentions: map[string][]string{"X": {"M_X"}},
		ranks:    map[string]float64{},
	}
	g.addEdge("A", "B", 0.5)
	g.addEdge("B", "X", 0.5)

	tr := New(g, nil)
	results, err := tr.expand(context.Background(), "u1", []string{"A", "X"}, Options{MaxHops: 2}.withDefaults())
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, "M_X", results[0].ID)
	assert.Equal(t, 0, results[0].HopDistance, "seed membership wins over the longer path")
}

func TestExpandTieBreaksTowardHigherWeight(t *testing.T) {
	// T is reachable at hop 1 from two seeds over edges of different
	// weight; the memory keeps the stronger path's weight.
	g := &graphFixture{
		mentions: map[string][]string{"T": {"M_T"}},
		ranks:    map[string]float64{},
	}
	g.addEdge("S1", "T", 0.9)
	g.addEdge("S2", "T", 0.2)

	tr := New(g, nil)
	results, err := tr.expand(context.Background(), "u1", []string{"S1", "S2"}, Options{MaxHops: 1}.withDefaults())
	require.NoError(t, err)

	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].HopDistance)
	assert.InDelta(t, 0.9, results[0].AvgWeight, 1e-9)
}

func TestExpandLimitCapsResults(t *testing.T) {
	g := &graphFixture{
		mentions: map[string][]string{"A": {"M_1", "M_2", "M_3"}},
		ranks:    map[string]float64{},
	}
	tr := New(g, nil)
	results, err := tr.expand(context.Background(), "u1", []string{"A"}, Options{MaxHops: 1, Limit: 2}.withDefaults())
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestExpandEmptySeedsReturnsNothing(t *testing.T) {
	tr := New(&graphFixture{}, nil)
	results, err := tr.expand(context.Background(), "u1", nil, Options{}.withDefaults())
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRelatedEdgesFanOutPrefersHigherRankNeighbors(t *testing.T) {
	g := &graphFixture{ranks: map[string]float64{"hub": 10, "leaf": 1}}
	g.addEdge("A", "leaf", 0.9)
	g.addEdge("A", "hub", 0.1)

	tr := New(g, nil)
	edges, err := tr.relatedEdges(context.Background(), []string{"A"}, 1)
	require.NoError(t, err)

	require.Len(t, edges, 1)
	assert.Equal(t, "hub", edges[0].targetID, "the most-connected neighbor survives the fan-out cap")
}

func TestRegexFallbackTermsKeepsContentTokens(t *testing.T) {
	terms := regexFallbackTerms("connection pool exhaustion 503 error")
	assert.Equal(t, []string{"connection", "pool", "exhaustion", "503", "error"}, terms)
}

func TestRegexFallbackTermsLowercasesAndStripsPunctuation(t *testing.T) {
	terms := regexFallbackTerms("What does Sarah know about Acme?")
	assert.Contains(t, terms, "sarah")
	assert.Contains(t, terms, "acme")
	assert.NotContains(t, terms, "Acme?")
}

func TestRegexFallbackTermsDropsShortTokensAndDedupes(t *testing.T) {
	terms := regexFallbackTerms("to be or not to be, Acme Acme Acme")
	assert.Equal(t, []string{"not", "acme"}, terms)
}

func TestOptionsWithDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.Equal(t, defaultMaxHops, opts.MaxHops)
	assert.Equal(t, defaultFanOutPerHop, opts.FanOutPerHop)
	assert.Equal(t, defaultSeedCount, opts.SeedCount)

	custom := Options{MaxHops: 4}.withDefaults()
	assert.Equal(t, 4, custom.MaxHops)
	assert.Equal(t, defaultFanOutPerHop, custom.FanOutPerHop)

	clamped := Options{MaxHops: 9}.withDefaults()
	assert.Equal(t, 5, clamped.MaxHops, "hop depth is clamped to the traversal ceiling")
}
