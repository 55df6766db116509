package graphstore

import (
	"context"
	"fmt"
	"time"
)

// MemoryHit is a candidate Memory returned from either search arm, anchored
// through the requesting User and filtered to live memories.
type MemoryHit struct {
	ID         string
	Content    string
	CreatedAt  time.Time
	Similarity float64 // cosine score on the vector arm, full-text score on the text arm
	Rank       int     // 1-based rank within its arm
	Categories []string
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

// VectorSearchMemories runs the vector arm of hybrid retrieval / dedup
// candidate recall: db.index.vector.queryNodes against memory_vectors,
// anchored back to the requesting User, filtered to live Memories.
//
// Every query here is anchored through (u:User {userId: $userId}) —
// memories are never matched without traversing from their owning user.
func (s *Store) VectorSearchMemories(ctx context.Context, userID string, vector []float32, topK int, minScore float64) ([]MemoryHit, error) {
	const query = `
		CALL db.index.vector.queryNodes($indexName, $k, $vector)
		YIELD node, score
		MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(node)
		WHERE score >= $minScore AND node.state <> 'deleted' AND node.invalidAt IS NULL
		RETURN node.id AS id, node.content AS content, node.createdAt AS createdAt, score AS score, node.categories AS categories
		ORDER BY score DESC
		LIMIT toInteger($limit)
	`
	params := map[string]any{
		"indexName": memoryVectorIndex,
		"k":         topK,
		"vector":    vector,
		"userId":    userID,
		"minScore":  minScore,
		"limit":     topK,
	}
	rows, err := s.RunRead(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("graphstore: vector search memories: %w", err)
	}

	hits := make([]MemoryHit, 0, len(rows))
	for i, r := range rows {
		hit := MemoryHit{Rank: i + 1}
		if id, ok := r["id"].(string); ok {
			hit.ID = id
		}
		if c, ok := r["content"].(string); ok {
			hit.Content = c
		}
		if score, ok := r["score"].(float64); ok {
			hit.Similarity = score
		}
		hit.Categories = stringSlice(r["categories"])
		hits = append(hits, hit)
	}
	return hits, nil
}

// TextSearchMemories runs the BM25 text arm: the store's built-in
// full-text search over all indexed fields. The Cypher procedure literal is
// kept in this one place so a deployment can repoint it to a differently
// named full-text procedure.
func (s *Store) TextSearchMemories(ctx context.Context, userID, queryText string, topK int) ([]MemoryHit, error) {
	const query = `
		CALL db.index.fulltext.queryNodes($indexName, $queryText)
		YIELD node, score
		MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(node)
		WHERE node.state <> 'deleted' AND node.invalidAt IS NULL
		RETURN node.id AS id, node.content AS content, node.createdAt AS createdAt, score AS score
		ORDER BY score DESC
		LIMIT toInteger($limit)
	`
	params := map[string]any{
		"indexName": memoryTextIndex,
		"queryText": queryText,
		"userId":    userID,
		"limit":     topK,
	}
	rows, err := s.RunRead(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("graphstore: text search memories: %w", err)
	}

	hits := make([]MemoryHit, 0, len(rows))
	for i, r := range rows {
		hit := MemoryHit{Rank: i + 1}
		if id, ok := r["id"].(string); ok {
			hit.ID = id
		}
		if c, ok := r["content"].(string); ok {
			hit.Content = c
		}
		if score, ok := r["score"].(float64); ok {
			hit.Similarity = score
		}
		hits = append(hits, hit)
	}
	return hits, nil
}

// RecordAccess writes an ACCESSED audit edge from an App node to a Memory
//.
// Callers on the retrieval paths invoke this fire-and-forget from
// their own goroutine; this call itself is a single synchronous write.
func (s *Store) RecordAccess(ctx context.Context, appName, memoryID, queryUsed string) error {
	const query = `
		MATCH (m:Memory {id: $id})
		MERGE (a:App {name: $appName})
		CREATE (a)-[:ACCESSED {accessedAt: datetime(), queryUsed: $queryUsed}]->(m)
	`
	_, err := s.RunWrite(ctx, query, map[string]any{"appName": appName, "id": memoryID, "queryUsed": queryUsed})
	if err != nil {
		return fmt.Errorf("graphstore: record access: %w", err)
	}
	return nil
}

// EntityHit is a candidate Entity returned from the entity_vectors search
// used by semantic entity resolution.
type EntityHit struct {
	ID         string
	Name       string
	Similarity float64
}

// VectorSearchEntities runs a similarity search against entity_vectors,
// anchored through the requesting User.
func (s *Store) VectorSearchEntities(ctx context.Context, userID string, vector []float32, topK int, minScore float64) ([]EntityHit, error) {
	const query = `
		CALL db.index.vector.queryNodes($indexName, $k, $vector)
		YIELD node, score
		MATCH (u:User {userId: $userId})-[:HAS_ENTITY]->(node)
		WHERE score >= $minScore
		RETURN node.id AS id, node.name AS name, score AS score
		ORDER BY score DESC
		LIMIT toInteger($limit)
	`
	params := map[string]any{
		"indexName": entityVectorIndex,
		"k":         topK,
		"vector":    vector,
		"userId":    userID,
		"minScore":  minScore,
		"limit":     topK,
	}
	rows, err := s.RunRead(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("graphstore: vector search entities: %w", err)
	}

	hits := make([]EntityHit, 0, len(rows))
	for _, r := range rows {
		hit := EntityHit{}
		if id, ok := r["id"].(string); ok {
			hit.ID = id
		}
		if name, ok := r["name"].(string); ok {
			hit.Name = name
		}
		if score, ok := r["score"].(float64); ok {
			hit.Similarity = score
		}
		hits = append(hits, hit)
	}
	return hits, nil
}
