// Package extraction implements the background entity/relationship
// extraction worker: given a newly written memory and a short window of
// its most recent sibling memories for context, ask the LLM
// for the entities and relationships the text mentions, resolve each entity
// through internal/entity, and write MENTIONS/RELATED_TO edges.
//
// Extraction runs fire-and-forget per memory: the write pipeline waits on
// it only through the bounded drain (between batch items, after a batch's
// last item, and after an explicit supersede), never before the memory
// write itself commits.
package extraction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/SergiySeletsky/mem0-sub000/internal/entity"
	"github.com/SergiySeletsky/mem0-sub000/internal/graphstore"
	"github.com/SergiySeletsky/mem0-sub000/internal/llm"
	"github.com/SergiySeletsky/mem0-sub000/internal/model"
)

const maxContextMemories = 3

// extractedEntity and extractedRelationship mirror the JSON shape the LLM
// is asked to produce.
type extractedEntity struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

type extractedRelationship struct {
	Source      string         `json:"source"`
	Target      string         `json:"target"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Metadata    map[string]any `json:"metadata"`
	Weight      float64        `json:"weight"`
}

type extractionPayload struct {
	Entities      []extractedEntity       `json:"entities"`
	Relationships []extractedRelationship `json:"relationships"`
}

// Store is the slice of the graph adapter the worker uses.
type Store interface {
	RunRead(ctx context.Context, query string, params map[string]any) ([]graphstore.Record, error)
	RunWrite(ctx context.Context, query string, params map[string]any) ([]graphstore.Record, error)
}

// Worker runs extraction for a single memory write.
type Worker struct {
	store    Store
	llm      llm.Client
	resolver *entity.Resolver
}

func New(store Store, llmClient llm.Client, resolver *entity.Resolver) *Worker {
	return &Worker{store: store, llm: llmClient, resolver: resolver}
}

// Handle is an awaitable completion token for a single Run call: the batch
// orchestrator selects on Done() with a timeout at the drain barrier
// between sequential writes, rather than blocking unconditionally.
type Handle struct {
	done chan struct{}
	err  error
}

func (h *Handle) Done() <-chan struct{} { return h.done }
func (h *Handle) Err() error            { return h.err }

// Start launches extraction for memory in the background and returns a
// Handle the caller can await with a deadline.
func (w *Worker) Start(ctx context.Context, userID string, memory *model.Memory) *Handle {
	h := &Handle{done: make(chan struct{})}
	go func() {
		defer close(h.done)
		h.err = w.run(ctx, userID, memory)
	}()
	return h
}

func (w *Worker) run(ctx context.Context, userID string, memory *model.Memory) error {
	siblings, err := w.recentSiblings(ctx, userID, memory.ID, maxContextMemories)
	if err != nil {
		return fmt.Errorf("extraction: load context memories: %w", err)
	}

	system := "You extract named entities and the relationships between them from a personal memory statement. " +
		"Use the provided recent context only to disambiguate pronouns and references, not as a source of new facts. " +
		`Respond with a single JSON object: {"entities":[{"name":...,"type":...,"description":...}],"relationships":[{"source":...,"target":...,"type":...,"description":...,"metadata":{...},"weight":...}]}. ` +
		"type must be one of PERSON, ORGANIZATION, LOCATION, PRODUCT, CONCEPT, OTHER, or a more specific domain label."
	user := buildUserPrompt(memory.Content, siblings)

	raw, err := w.llm.Complete(ctx, system, user)
	if err != nil {
		return fmt.Errorf("extraction: llm call: %w", err)
	}

	payload, ok := llm.ParseJSONObjectLenient[extractionPayload](raw)
	if !ok {
		// Lenient parse: a non-JSON response degrades to "no entities found"
		// rather than failing the already-committed memory write.
		return nil
	}

	resolvedIDs := make(map[string]string, len(payload.Entities))
	for _, e := range payload.Entities {
		if e.Name == "" {
			continue
		}
		resolved, err := w.resolver.Resolve(ctx, userID, e.Name, model.EntityType(e.Type), e.Description)
		if err != nil {
			continue // one bad entity shouldn't sink the rest of the extraction
		}
		resolvedIDs[e.Name] = resolved.ID

		if err := w.writeMentions(ctx, memory.ID, resolved.ID); err != nil {
			continue
		}
	}

	for _, rel := range payload.Relationships {
		sourceID, ok1 := resolvedIDs[rel.Source]
		targetID, ok2 := resolvedIDs[rel.Target]
		if !ok1 || !ok2 {
			continue
		}
		if err := w.writeRelationship(ctx, sourceID, targetID, rel); err != nil {
			continue
		}
	}
	return nil
}

func buildUserPrompt(content string, siblings []string) string {
	prompt := "Memory: " + content
	if len(siblings) > 0 {
		prompt += "\n\nRecent context (most recent first):"
		for _, s := range siblings {
			prompt += "\n- " + s
		}
	}
	return prompt
}

func (w *Worker) recentSiblings(ctx context.Context, userID, excludeMemoryID string, limit int) ([]string, error) {
	const query = `
		MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory)
		WHERE m.id <> $excludeId AND m.state <> 'deleted' AND m.invalidAt IS NULL
		RETURN m.content AS content
		ORDER BY m.createdAt DESC
		LIMIT toInteger($limit)
	`
	rows, err := w.store.RunRead(ctx, query, map[string]any{"userId": userID, "excludeId": excludeMemoryID, "limit": limit})
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		if c, ok := r["content"].(string); ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (w *Worker) writeMentions(ctx context.Context, memoryID, entityID string) error {
	const query = `
		MATCH (m:Memory {id: $memoryId}), (e:Entity {id: $entityId})
		MERGE (m)-[:MENTIONS]->(e)
	`
	_, err := w.store.RunWrite(ctx, query, map[string]any{"memoryId": memoryID, "entityId": entityID})
	return err
}

func (w *Worker) writeRelationship(ctx context.Context, sourceID, targetID string, rel extractedRelationship) error {
	relType := rel.Type
	if relType == "" {
		relType = "RELATED_TO"
	}
	// Metadata is stored as a JSON string property; the graph store has no
	// map-valued properties.
	metadata := ""
	if len(rel.Metadata) > 0 {
		if encoded, err := json.Marshal(rel.Metadata); err == nil {
			metadata = string(encoded)
		}
	}
	const query = `
		MATCH (s:Entity {id: $sourceId}), (t:Entity {id: $targetId})
		MERGE (s)-[r:RELATED_TO {type: $type}]->(t)
		ON CREATE SET r.description = $description, r.metadata = $metadata, r.weight = $weight, r.createdAt = datetime()
		ON MATCH SET r.description = $description, r.metadata = $metadata, r.weight = $weight
	`
	_, err := w.store.RunWrite(ctx, query, map[string]any{
		"sourceId":    sourceID,
		"targetId":    targetID,
		"type":        relType,
		"description": rel.Description,
		"metadata":    metadata,
		"weight":      rel.Weight,
	})
	return err
}
