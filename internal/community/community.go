// Package community implements community detection and summarization:
// run Louvain-style clustering over a user's entity graph,
// rebuild the Community nodes wholesale, summarize each non-singleton
// cluster with the LLM, and skip rebuilding entirely when the user doesn't
// yet have enough live memories for clustering to be meaningful.
package community

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/SergiySeletsky/mem0-sub000/internal/graphstore"
	"github.com/SergiySeletsky/mem0-sub000/internal/llm"
)

// minLiveMemoriesForDetection gates community rebuild: below this count,
// clustering the entity graph would just produce noise.
const minLiveMemoriesForDetection = 5

// defaultSummary is used when LLM summarization fails, bounding a
// community to a usable (if generic) state rather than leaving it
// unsummarized.
const defaultSummary = "Summary unavailable."

// maxSummarySamples caps how many member memory texts are sent to the LLM
// for summarization.
const maxSummarySamples = 20

type detectedCluster struct {
	id        int64
	memberIDs []string
	names     []string
}

// Store is the slice of the graph adapter the builder uses.
type Store interface {
	RunRead(ctx context.Context, query string, params map[string]any) ([]graphstore.Record, error)
	RunWrite(ctx context.Context, query string, params map[string]any) ([]graphstore.Record, error)
}

// Builder rebuilds communities for a user.
type Builder struct {
	store Store
	llm   llm.Client
}

func New(store Store, llmClient llm.Client) *Builder {
	return &Builder{store: store, llm: llmClient}
}

// Rebuild runs the full community pipeline for userID: gate, detect,
// wholesale replace, summarize.
func (b *Builder) Rebuild(ctx context.Context, userID string) error {
	count, err := b.liveMemoryCount(ctx, userID)
	if err != nil {
		return fmt.Errorf("community: count live memories: %w", err)
	}
	if count < minLiveMemoriesForDetection {
		return nil
	}

	clusters, err := b.detect(ctx, userID)
	if err != nil {
		return fmt.Errorf("community: detect: %w", err)
	}

	// Wholesale rebuild: existing Community nodes are deleted and replaced
	// from scratch every run. An empty detection result is NOT treated as
	// "clear all communities" — if the procedure returns nothing this run
	// (e.g. a transient GDS hiccup), the prior communities are left in
	// place rather than wiped.
	if len(clusters) == 0 {
		return nil
	}

	if err := b.deleteExistingCommunities(ctx, userID); err != nil {
		return fmt.Errorf("community: delete existing: %w", err)
	}

	for _, cluster := range clusters {
		if len(cluster.memberIDs) < 2 {
			continue // singleton skip
		}
		if err := b.createCommunity(ctx, userID, cluster); err != nil {
			return fmt.Errorf("community: create cluster %d: %w", cluster.id, err)
		}
	}
	return nil
}

func (b *Builder) liveMemoryCount(ctx context.Context, userID string) (int, error) {
	const query = `
		MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory)
		WHERE m.state <> 'deleted' AND m.invalidAt IS NULL
		RETURN count(m) AS count
	`
	rows, err := b.store.RunRead(ctx, query, map[string]any{"userId": userID})
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	n, _ := graphstore.ToInt(rows[0]["count"])
	return n, nil
}

// detect projects the user's entity graph and runs Louvain community
// detection via the Graph Data Science library, grounded in the same
// CALL-procedure shape graphstore uses for vector/fulltext search.
func (b *Builder) detect(ctx context.Context, userID string) ([]detectedCluster, error) {
	const query = `
		CALL gds.louvain.stream({
			nodeQuery: 'MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(e:Entity) RETURN id(e) AS id',
			relationshipQuery: 'MATCH (s:Entity)-[r:RELATED_TO]->(t:Entity) RETURN id(s) AS source, id(t) AS target, r.weight AS weight'
		})
		YIELD nodeId, communityId
		MATCH (e:Entity) WHERE id(e) = nodeId
		RETURN communityId, collect(e.id) AS memberIds, collect(e.name) AS names
	`
	rows, err := b.store.RunRead(ctx, query, map[string]any{"userId": userID})
	if err != nil {
		return nil, err
	}

	clusters := make([]detectedCluster, 0, len(rows))
	for _, r := range rows {
		cid, _ := graphstore.ToInt(r["communityId"])
		memberIDs := stringSlice(r["memberIds"])
		names := stringSlice(r["names"])
		clusters = append(clusters, detectedCluster{id: int64(cid), memberIDs: memberIDs, names: names})
	}
	return clusters, nil
}

func stringSlice(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, e := range raw {
		if s, ok := e.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func (b *Builder) deleteExistingCommunities(ctx context.Context, userID string) error {
	const query = `
		MATCH (u:User {userId: $userId})-[:HAS_COMMUNITY]->(c:Community)
		DETACH DELETE c
	`
	_, err := b.store.RunWrite(ctx, query, map[string]any{"userId": userID})
	return err
}

// memberMemories returns the distinct live memories that mention any
// entity in the cluster, which is both the set wired to the Community via
// IN_COMMUNITY and the sample pool summarize draws from.
func (b *Builder) memberMemories(ctx context.Context, userID string, entityIDs []string) ([]string, []string, error) {
	const query = `
		MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory)-[:MENTIONS]->(e:Entity)
		WHERE e.id IN $entityIds AND m.state <> 'deleted' AND m.invalidAt IS NULL
		RETURN DISTINCT m.id AS id, m.content AS content
	`
	rows, err := b.store.RunRead(ctx, query, map[string]any{"userId": userID, "entityIds": entityIDs})
	if err != nil {
		return nil, nil, err
	}
	ids := make([]string, 0, len(rows))
	texts := make([]string, 0, len(rows))
	for _, r := range rows {
		if id, ok := r["id"].(string); ok {
			ids = append(ids, id)
		}
		if content, ok := r["content"].(string); ok {
			texts = append(texts, content)
		}
	}
	return ids, texts, nil
}

func (b *Builder) createCommunity(ctx context.Context, userID string, cluster detectedCluster) error {
	memoryIDs, memoryTexts, err := b.memberMemories(ctx, userID, cluster.memberIDs)
	if err != nil {
		return fmt.Errorf("community: member memories: %w", err)
	}
	if len(memoryIDs) == 0 {
		return nil
	}

	samples := memoryTexts
	if len(samples) > maxSummarySamples {
		samples = samples[:maxSummarySamples]
	}
	summary, rank, findings := b.summarize(ctx, samples)

	id := uuid.NewString()
	const query = `
		MATCH (u:User {userId: $userId})
		CREATE (u)-[:HAS_COMMUNITY]->(c:Community {
			id: $id, name: $name, summary: $summary, findings: $findings,
			memberCount: $memberCount, rank: $rank, createdAt: datetime(), updatedAt: datetime()
		})
		WITH c
		UNWIND $memoryIds AS memoryId
		MATCH (m:Memory {id: memoryId})
		MERGE (m)-[:IN_COMMUNITY]->(c)
	`
	_, err = b.store.RunWrite(ctx, query, map[string]any{
		"userId":      userID,
		"id":          id,
		"name":        communityName(cluster.names),
		"summary":     summary,
		"rank":        rank,
		"findings":    findings,
		"memberCount": len(memoryIDs),
		"memoryIds":   memoryIDs,
	})
	return err
}

func communityName(names []string) string {
	if len(names) == 0 {
		return "Unnamed community"
	}
	if len(names) == 1 {
		return names[0]
	}
	return names[0] + " and related entities"
}

type communitySummary struct {
	Summary  string   `json:"summary"`
	Rank     int      `json:"rank"`
	Findings []string `json:"findings"`
}

// defaultRank is used when the LLM omits the rank or returns one outside
// [1, 10].
const defaultRank = 5

// summarize asks the LLM to describe a cluster from a sample of its member
// memories' texts. On any failure it returns the bounded defaults rather
// than propagating the error: community summaries are a retrieval
// enrichment, not load-bearing for correctness.
func (b *Builder) summarize(ctx context.Context, memoryTexts []string) (string, int, []string) {
	if len(memoryTexts) == 0 {
		return defaultSummary, defaultRank, nil
	}

	system := "You summarize a cluster of related personal memories. Respond with a JSON " +
		`object: {"summary": "...", "rank": 5, "findings": ["...", "..."]}. ` +
		"rank is 1-10, how significant this cluster is to understanding the person. " +
		"Keep the summary to one or two sentences."
	user := "Memories:\n" + joinLines(memoryTexts)

	raw, err := b.llm.Complete(ctx, system, user)
	if err != nil {
		return defaultSummary, defaultRank, nil
	}

	parsed, ok := llm.ParseJSONObjectLenient[communitySummary](raw)
	if !ok || parsed.Summary == "" {
		return defaultSummary, defaultRank, nil
	}
	rank := parsed.Rank
	if rank < 1 || rank > 10 {
		rank = defaultRank
	}
	return parsed.Summary, rank, parsed.Findings
}

func joinLines(lines []string) string {
	out := ""
	for i, l := range lines {
		if i > 0 {
			out += "\n"
		}
		out += "- " + l
	}
	return out
}
