// Package graphtraversal implements graph-based retrieval: seed a set of
// entities either from vector similarity (primed by
// community membership) or from terms extracted out of the query text, then
// expand outward a bounded number of hops along RELATED_TO edges ordered by
// neighbor rank, collecting the memories that mention each reached entity
// together with the hop distance and average path weight at which they
// were reached.
package graphtraversal

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/SergiySeletsky/mem0-sub000/internal/graphstore"
	"github.com/SergiySeletsky/mem0-sub000/internal/llm"
)

const (
	defaultMaxHops      = 2
	defaultFanOutPerHop = 5
	defaultSeedCount    = 5

	// defaultEdgeWeight is substituted for a RELATED_TO edge with no stored
	// weight when computing a path's average.
	defaultEdgeWeight = 0.5
)

// MemoryResult is a memory reached during traversal, tagged with the
// shortest hop distance at which any seeding entity reached it and the
// average RELATED_TO edge weight along that path.
type MemoryResult struct {
	ID          string
	Content     string
	HopDistance int
	AvgWeight   float64
}

// Store is the slice of the graph adapter traversal depends on.
type Store interface {
	RunRead(ctx context.Context, query string, params map[string]any) ([]graphstore.Record, error)
	VectorSearchMemories(ctx context.Context, userID string, vector []float32, topK int, minScore float64) ([]graphstore.MemoryHit, error)
	RecordAccess(ctx context.Context, appName, memoryID, queryUsed string) error
}

// Traverser runs graph-based retrieval.
type Traverser struct {
	store Store
	llm   llm.Client
}

func New(store Store, llmClient llm.Client) *Traverser {
	return &Traverser{store: store, llm: llmClient}
}

// Options bounds the traversal.
type Options struct {
	MaxHops      int
	FanOutPerHop int
	SeedCount    int
	// Limit caps the number of memories returned; 0 means unbounded.
	Limit int
}

func (o Options) withDefaults() Options {
	if o.MaxHops <= 0 {
		o.MaxHops = defaultMaxHops
	}
	if o.MaxHops > 5 {
		o.MaxHops = 5
	}
	if o.FanOutPerHop <= 0 {
		o.FanOutPerHop = defaultFanOutPerHop
	}
	if o.SeedCount <= 0 {
		o.SeedCount = defaultSeedCount
	}
	return o
}

// SearchByVector seeds traversal off the top-N Memories by vector
// similarity to queryText, collecting the Entities those memories MENTION
// as direct seeds, then runs a community-priming pass: the co-community
// memories of those same top memories contribute their own mentioned
// entities as additional seeds. The LLM is never called on this path.
func (t *Traverser) SearchByVector(ctx context.Context, userID, appName, queryText string, opts Options) ([]MemoryResult, error) {
	opts = opts.withDefaults()

	embeddings, err := t.llm.Embed(ctx, []string{queryText})
	if err != nil || len(embeddings) == 0 {
		return nil, fmt.Errorf("graphtraversal: embed query: %w", err)
	}

	seedMemories, err := t.store.VectorSearchMemories(ctx, userID, embeddings[0], opts.SeedCount, 0.0)
	if err != nil {
		return nil, fmt.Errorf("graphtraversal: seed memory search: %w", err)
	}
	seedMemoryIDs := make([]string, 0, len(seedMemories))
	for _, m := range seedMemories {
		seedMemoryIDs = append(seedMemoryIDs, m.ID)
	}

	directSeeds, err := t.entitiesMentionedByMemories(ctx, userID, seedMemoryIDs)
	if err != nil {
		return nil, fmt.Errorf("graphtraversal: direct seed entities: %w", err)
	}

	exclude := make(map[string]bool, len(directSeeds))
	for _, id := range directSeeds {
		exclude[id] = true
	}
	primed, err := t.communityPrimedEntities(ctx, userID, seedMemoryIDs, exclude)
	if err != nil {
		return nil, fmt.Errorf("graphtraversal: community priming: %w", err)
	}

	seedIDs := append(directSeeds, primed...)
	results, err := t.expand(ctx, userID, seedIDs, opts)
	if err != nil {
		return nil, err
	}
	t.recordAccessAsync(appName, results, queryText)
	return results, nil
}

// termTokenPattern splits a query into word tokens for the regex fallback,
// used only when the LLM term-extraction call fails.
var termTokenPattern = regexp.MustCompile(`[a-z0-9]+(?:'[a-z]+)?`)

// SearchByTerms seeds traversal from entities matched by terms extracted
// from queryText: an entity-property arm, a relationship-property arm (both
// endpoints seed), and a community-priming pass over Community
// name/summary, unioned and deduped.
func (t *Traverser) SearchByTerms(ctx context.Context, userID, appName, queryText string, opts Options) ([]MemoryResult, error) {
	opts = opts.withDefaults()

	terms := t.extractTerms(ctx, queryText)
	if len(terms) == 0 {
		return nil, nil
	}

	entityArm, err := t.entitiesByTerm(ctx, userID, terms, opts.SeedCount)
	if err != nil {
		return nil, fmt.Errorf("graphtraversal: entity term match: %w", err)
	}
	relationshipArm, err := t.entitiesByRelationshipTerm(ctx, userID, terms, opts.SeedCount)
	if err != nil {
		return nil, fmt.Errorf("graphtraversal: relationship term match: %w", err)
	}
	communityArm, err := t.entitiesByCommunityTerm(ctx, userID, terms, opts.SeedCount)
	if err != nil {
		return nil, fmt.Errorf("graphtraversal: community term match: %w", err)
	}

	seen := make(map[string]bool)
	var seedIDs []string
	for _, group := range [][]string{entityArm, relationshipArm, communityArm} {
		for _, id := range group {
			if !seen[id] {
				seen[id] = true
				seedIDs = append(seedIDs, id)
			}
		}
	}

	results, err := t.expand(ctx, userID, seedIDs, opts)
	if err != nil {
		return nil, err
	}
	t.recordAccessAsync(appName, results, queryText)
	return results, nil
}

func (t *Traverser) extractTerms(ctx context.Context, queryText string) []string {
	system := "Extract the key named entities or topics (people, places, organizations, concepts) mentioned in " +
		`a search query. Respond with a JSON array of lowercase strings, e.g. ["acme corp","san francisco"].`
	raw, err := t.llm.Complete(ctx, system, queryText)
	if err == nil {
		if terms := llm.ParseJSONArrayLenient[string](raw); len(terms) > 0 {
			return terms
		}
	}
	return regexFallbackTerms(queryText)
}

// regexFallbackTerms lowercases the query, strips punctuation, and keeps
// every deduplicated token of at least 3 characters.
func regexFallbackTerms(queryText string) []string {
	matches := termTokenPattern.FindAllString(strings.ToLower(queryText), -1)
	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if len(m) < 3 || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

func (t *Traverser) entitiesMentionedByMemories(ctx context.Context, userID string, memoryIDs []string) ([]string, error) {
	if len(memoryIDs) == 0 {
		return nil, nil
	}
	const query = `
		MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory)-[:MENTIONS]->(e:Entity)
		WHERE m.id IN $memoryIds
		RETURN DISTINCT e.id AS id
	`
	rows, err := t.store.RunRead(ctx, query, map[string]any{"userId": userID, "memoryIds": memoryIDs})
	if err != nil {
		return nil, err
	}
	return idColumn(rows, "id"), nil
}

// communityPrimedEntities follows IN_COMMUNITY from seedMemoryIDs to their
// communities, gathers co-community memories, and returns the entities
// those peers mention that aren't already in exclude.
func (t *Traverser) communityPrimedEntities(ctx context.Context, userID string, seedMemoryIDs []string, exclude map[string]bool) ([]string, error) {
	if len(seedMemoryIDs) == 0 {
		return nil, nil
	}
	const query = `
		MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory)-[:IN_COMMUNITY]->(c:Community)<-[:IN_COMMUNITY]-(peer:Memory)-[:MENTIONS]->(e:Entity)
		WHERE m.id IN $memoryIds
		RETURN DISTINCT e.id AS id
	`
	rows, err := t.store.RunRead(ctx, query, map[string]any{"userId": userID, "memoryIds": seedMemoryIDs})
	if err != nil {
		return nil, err
	}
	return filterExcluded(idColumn(rows, "id"), exclude), nil
}

// entitiesByTerm is path B arm (a): entities whose name, description, or
// metadata substring-contains any extracted term.
func (t *Traverser) entitiesByTerm(ctx context.Context, userID string, terms []string, limit int) ([]string, error) {
	const query = `
		MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity)
		WHERE ANY(term IN $terms WHERE
			toLower(e.name) CONTAINS term OR
			toLower(coalesce(e.description, '')) CONTAINS term OR
			toLower(coalesce(e.metadata, '')) CONTAINS term)
		RETURN DISTINCT e.id AS id
		LIMIT toInteger($limit)
	`
	rows, err := t.store.RunRead(ctx, query, map[string]any{"userId": userID, "terms": lowercased(terms), "limit": limit})
	if err != nil {
		return nil, err
	}
	return idColumn(rows, "id"), nil
}

// entitiesByRelationshipTerm is path B arm (b): entities on either end of a
// RELATED_TO edge whose type, description, or metadata substring-contains
// any extracted term.
func (t *Traverser) entitiesByRelationshipTerm(ctx context.Context, userID string, terms []string, limit int) ([]string, error) {
	const query = `
		MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(src:Entity)-[r:RELATED_TO]->(tgt:Entity)
		WHERE ANY(term IN $terms WHERE
			toLower(coalesce(r.type, '')) CONTAINS term OR
			toLower(coalesce(r.description, '')) CONTAINS term OR
			toLower(coalesce(r.metadata, '')) CONTAINS term)
		RETURN DISTINCT src.id AS sourceId, tgt.id AS targetId
		LIMIT toInteger($limit)
	`
	rows, err := t.store.RunRead(ctx, query, map[string]any{"userId": userID, "terms": lowercased(terms), "limit": limit})
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, r := range rows {
		for _, key := range []string{"sourceId", "targetId"} {
			if id, ok := r[key].(string); ok && id != "" && !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	return out, nil
}

// entitiesByCommunityTerm is the term-seeding analogue of community
// priming: communities whose name/summary substring-contains any term
// contribute their member memories' mentioned entities as seeds.
func (t *Traverser) entitiesByCommunityTerm(ctx context.Context, userID string, terms []string, limit int) ([]string, error) {
	const query = `
		MATCH (u:User {userId: $userId})-[:HAS_COMMUNITY]->(c:Community)
		WHERE ANY(term IN $terms WHERE
			toLower(c.name) CONTAINS term OR
			toLower(coalesce(c.summary, '')) CONTAINS term)
		MATCH (c)<-[:IN_COMMUNITY]-(peer:Memory)-[:MENTIONS]->(e:Entity)
		RETURN DISTINCT e.id AS id
		LIMIT toInteger($limit)
	`
	rows, err := t.store.RunRead(ctx, query, map[string]any{"userId": userID, "terms": lowercased(terms), "limit": limit})
	if err != nil {
		return nil, err
	}
	return idColumn(rows, "id"), nil
}

func lowercased(terms []string) []string {
	out := make([]string, len(terms))
	for i, t := range terms {
		out[i] = strings.ToLower(t)
	}
	return out
}

func idColumn(rows []graphstore.Record, key string) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if id, ok := r[key].(string); ok && id != "" {
			out = append(out, id)
		}
	}
	return out
}

func filterExcluded(ids []string, exclude map[string]bool) []string {
	if len(exclude) == 0 {
		return ids
	}
	out := ids[:0]
	for _, id := range ids {
		if !exclude[id] {
			out = append(out, id)
		}
	}
	return out
}

// entityState tracks, per reached entity, the minimum hop distance at
// which it was reached and the running sum/count of RELATED_TO edge
// weights along that path, used to derive the average path weight. Seed
// entities (hop 0) have no traversed edge, so their average
// weight is defined as 1.0 — full confidence, nothing diluted it.
type entityState struct {
	hop       int
	weightSum float64
	weightCnt int
}

func (s entityState) avgWeight() float64 {
	if s.weightCnt == 0 {
		return 1.0
	}
	return s.weightSum / float64(s.weightCnt)
}

type edgeRow struct {
	sourceID string
	targetID string
	weight   float64
	rank     float64
}

// expand runs a bounded BFS from seedIDs: at each hop it fans out to at
// most FanOutPerHop neighbors per frontier entity (ordered by neighbor
// rank, highest first), and every reached memory keeps the smallest hop
// distance at which any path reached it, tie-broken toward the higher
// average path weight.
func (t *Traverser) expand(ctx context.Context, userID string, seedIDs []string, opts Options) ([]MemoryResult, error) {
	if len(seedIDs) == 0 {
		return nil, nil
	}

	states := make(map[string]entityState, len(seedIDs))
	for _, id := range seedIDs {
		if _, ok := states[id]; !ok {
			states[id] = entityState{hop: 0}
		}
	}

	memoryHop := make(map[string]int)
	memoryWeight := make(map[string]float64)
	memoryContent := make(map[string]string)

	for hop := 0; hop <= opts.MaxHops; hop++ {
		var frontier []string
		for id, s := range states {
			if s.hop == hop {
				frontier = append(frontier, id)
			}
		}
		if len(frontier) == 0 {
			break
		}

		mentions, err := t.mentionsForEntities(ctx, userID, frontier)
		if err != nil {
			return nil, fmt.Errorf("graphtraversal: collect memories at hop %d: %w", hop, err)
		}
		for _, m := range mentions {
			w := states[m.entityID].avgWeight()
			existingHop, seen := memoryHop[m.memoryID]
			if !seen || hop < existingHop || (hop == existingHop && w > memoryWeight[m.memoryID]) {
				memoryHop[m.memoryID] = hop
				memoryWeight[m.memoryID] = w
				memoryContent[m.memoryID] = m.content
			}
		}

		if hop == opts.MaxHops {
			break
		}

		edges, err := t.relatedEdges(ctx, frontier, opts.FanOutPerHop)
		if err != nil {
			return nil, fmt.Errorf("graphtraversal: expand hop %d: %w", hop, err)
		}
		candidates := make(map[string]entityState)
		for _, e := range edges {
			if _, already := states[e.targetID]; already {
				continue
			}
			src := states[e.sourceID]
			cand := entityState{hop: hop + 1, weightSum: src.weightSum + e.weight, weightCnt: src.weightCnt + 1}
			if existing, ok := candidates[e.targetID]; !ok || cand.avgWeight() > existing.avgWeight() {
				candidates[e.targetID] = cand
			}
		}
		for id, s := range candidates {
			states[id] = s
		}
	}

	out := make([]MemoryResult, 0, len(memoryHop))
	for id, hop := range memoryHop {
		out = append(out, MemoryResult{ID: id, Content: memoryContent[id], HopDistance: hop, AvgWeight: memoryWeight[id]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].HopDistance != out[j].HopDistance {
			return out[i].HopDistance < out[j].HopDistance
		}
		if out[i].AvgWeight != out[j].AvgWeight {
			return out[i].AvgWeight > out[j].AvgWeight
		}
		return out[i].ID < out[j].ID
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

type mentionRow struct {
	entityID string
	memoryID string
	content  string
}

func (t *Traverser) mentionsForEntities(ctx context.Context, userID string, entityIDs []string) ([]mentionRow, error) {
	const query = `
		MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory)-[:MENTIONS]->(e:Entity)
		WHERE e.id IN $entityIds AND m.state <> 'deleted' AND m.invalidAt IS NULL
		RETURN e.id AS entityId, m.id AS memoryId, m.content AS content
	`
	rows, err := t.store.RunRead(ctx, query, map[string]any{"userId": userID, "entityIds": entityIDs})
	if err != nil {
		return nil, err
	}
	out := make([]mentionRow, 0, len(rows))
	for _, r := range rows {
		entityID, _ := r["entityId"].(string)
		memoryID, _ := r["memoryId"].(string)
		content, _ := r["content"].(string)
		if entityID == "" || memoryID == "" {
			continue
		}
		out = append(out, mentionRow{entityID: entityID, memoryID: memoryID, content: content})
	}
	return out, nil
}

// relatedEdges fans out from each entity in frontier to its RELATED_TO
// neighbors in either direction (the entity graph is expanded undirected),
// capped at fanOut per source entity and ordered by the neighbor's rank
// descending, falling back to edge weight as a tiebreak.
func (t *Traverser) relatedEdges(ctx context.Context, frontier []string, fanOut int) ([]edgeRow, error) {
	const query = `
		MATCH (s:Entity)-[r:RELATED_TO]-(target:Entity)
		WHERE s.id IN $ids AND r.invalidAt IS NULL
		RETURN s.id AS sourceId, target.id AS targetId, r.weight AS weight, coalesce(target.rank, 0.0) AS rank
	`
	rows, err := t.store.RunRead(ctx, query, map[string]any{"ids": frontier})
	if err != nil {
		return nil, err
	}

	bySource := make(map[string][]edgeRow)
	for _, r := range rows {
		sourceID, _ := r["sourceId"].(string)
		targetID, _ := r["targetId"].(string)
		if sourceID == "" || targetID == "" {
			continue
		}
		weight, ok := r["weight"].(float64)
		if !ok {
			weight = defaultEdgeWeight
		}
		rank, _ := r["rank"].(float64)
		bySource[sourceID] = append(bySource[sourceID], edgeRow{sourceID: sourceID, targetID: targetID, weight: weight, rank: rank})
	}

	var out []edgeRow
	for _, edges := range bySource {
		sort.Slice(edges, func(i, j int) bool {
			if edges[i].rank != edges[j].rank {
				return edges[i].rank > edges[j].rank
			}
			return edges[i].weight > edges[j].weight
		})
		if len(edges) > fanOut {
			edges = edges[:fanOut]
		}
		out = append(out, edges...)
	}
	return out, nil
}

// recordAccessAsync writes an ACCESSED audit edge from the calling App to
// every memory this traversal surfaced, fire-and-forget.
func (t *Traverser) recordAccessAsync(appName string, results []MemoryResult, queryUsed string) {
	if len(results) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		for _, r := range results {
			_ = t.store.RecordAccess(ctx, appName, r.ID, queryUsed)
		}
	}()
}
