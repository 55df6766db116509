// Package memory implements the write and read pipeline for Memory
// nodes: add/supersede/delete primitives, a sequential batch
// orchestrator with a bounded extraction-drain barrier between items, and
// reads including bi-temporal asOf queries.
package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/SergiySeletsky/mem0-sub000/internal/categorize"
	"github.com/SergiySeletsky/mem0-sub000/internal/dedup"
	"github.com/SergiySeletsky/mem0-sub000/internal/errs"
	"github.com/SergiySeletsky/mem0-sub000/internal/extraction"
	"github.com/SergiySeletsky/mem0-sub000/internal/graphstore"
	"github.com/SergiySeletsky/mem0-sub000/internal/llm"
	"github.com/SergiySeletsky/mem0-sub000/internal/model"
)

// Store is the slice of the graph adapter the write pipeline uses.
type Store interface {
	RunRead(ctx context.Context, query string, params map[string]any) ([]graphstore.Record, error)
	RunWrite(ctx context.Context, query string, params map[string]any) ([]graphstore.Record, error)
}

// Pipeline wires together the dedup engine, extraction worker, and
// categorizer into the write/read operations the tool surface exposes.
type Pipeline struct {
	store       Store
	llm         llm.Client
	dedup       *dedup.Engine
	extraction  *extraction.Worker
	categorizer *categorize.Categorizer
	log         *logrus.Entry

	drainTimeout time.Duration
}

type Config struct {
	DrainTimeout time.Duration
}

func New(store Store, llmClient llm.Client, dedupEngine *dedup.Engine, extractionWorker *extraction.Worker, categorizer *categorize.Categorizer, log *logrus.Entry, cfg Config) *Pipeline {
	timeout := cfg.DrainTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Pipeline{
		store:        store,
		llm:          llmClient,
		dedup:        dedupEngine,
		extraction:   extractionWorker,
		categorizer:  categorizer,
		log:          log,
		drainTimeout: timeout,
	}
}

// WriteOutcome is the per-item result of AddBatch, reported back to the
// caller as one WriteEvent per input text.
type WriteOutcome struct {
	Event    model.WriteEvent
	MemoryID string
	Err      error
}

// AddBatch writes each text strictly sequentially, draining the previous
// item's background extraction (bounded by drainTimeout) before starting
// the next item's dedup/embedding work, and isolating per-item failures so
// one bad item doesn't abort the whole batch.
func (p *Pipeline) AddBatch(ctx context.Context, userID, appName string, texts []string) []WriteOutcome {
	outcomes := make([]WriteOutcome, len(texts))
	var prevHandle *extraction.Handle

	for i, text := range texts {
		if prevHandle != nil {
			p.drain(prevHandle)
		}

		memory, handle, err := p.addOne(ctx, userID, appName, text)
		if err != nil {
			outcomes[i] = WriteOutcome{Event: model.WriteEventError, Err: &errs.ItemError{Index: i, Err: err}}
			prevHandle = nil
			continue
		}
		outcomes[i] = WriteOutcome{Event: memory.event, MemoryID: memory.id}
		prevHandle = handle
	}

	if prevHandle != nil {
		p.drain(prevHandle)
	}
	return outcomes
}

func (p *Pipeline) drain(h *extraction.Handle) {
	select {
	case <-h.Done():
		if err := h.Err(); err != nil && p.log != nil {
			p.log.WithError(err).Warn("extraction failed for prior batch item")
		}
	case <-time.After(p.drainTimeout):
		if p.log != nil {
			p.log.Warn("extraction drain timed out, proceeding without waiting further")
		}
	}
}

type addResult struct {
	id    string
	event model.WriteEvent
}

func (p *Pipeline) addOne(ctx context.Context, userID, appName, text string) (*addResult, *extraction.Handle, error) {
	embeddings, err := p.llm.Embed(ctx, []string{text})
	if err != nil || len(embeddings) == 0 {
		return nil, nil, fmt.Errorf("memory: embed candidate text: %w", errs.ErrEmbeddingFailure)
	}
	embedding := embeddings[0]

	categories := p.categorizer.Categorize(ctx, text)

	result, err := p.dedup.Run(ctx, userID, text, embedding, categories)
	if err != nil {
		return nil, nil, fmt.Errorf("memory: dedup check: %w", err)
	}

	switch result.Action {
	case model.DedupActionSkip:
		return &addResult{id: result.MatchedID, event: model.WriteEventSkipDuplicate}, nil, nil

	case model.DedupActionSupersede:
		memory, err := p.insert(ctx, userID, appName, text, embedding, categories)
		if err != nil {
			return nil, nil, err
		}
		if err := p.supersede(ctx, result.SupersedeID, memory.ID); err != nil {
			return nil, nil, fmt.Errorf("memory: supersede prior memory: %w", err)
		}
		handle := p.extraction.Start(context.WithoutCancel(ctx), userID, memory)
		return &addResult{id: memory.ID, event: model.WriteEventSupersede}, handle, nil

	default: // insert
		memory, err := p.insert(ctx, userID, appName, text, embedding, categories)
		if err != nil {
			return nil, nil, err
		}
		handle := p.extraction.Start(context.WithoutCancel(ctx), userID, memory)
		return &addResult{id: memory.ID, event: model.WriteEventAdd}, handle, nil
	}
}

func (p *Pipeline) insert(ctx context.Context, userID, appName, text string, embedding []float32, categories []string) (*model.Memory, error) {
	id := uuid.NewString()
	// invalidAt is deliberately absent from the property map: the store
	// rejects null literals, and a missing property is the live signal.
	const query = `
		MERGE (u:User {userId: $userId})
		MERGE (a:App {name: $appName})
		CREATE (u)-[:HAS_MEMORY]->(m:Memory {
			id: $id, content: $content, state: 'active', appName: $appName,
			embedding: $embedding, categories: $categories,
			createdAt: datetime(), updatedAt: datetime(), validAt: datetime()
		})
		CREATE (m)-[:CREATED_BY]->(a)
		RETURN m.id AS id, m.createdAt AS createdAt
	`
	rows, err := p.store.RunWrite(ctx, query, map[string]any{
		"userId":     userID,
		"id":         id,
		"content":    text,
		"appName":    appName,
		"embedding":  embedding,
		"categories": categories,
	})
	if err != nil {
		return nil, fmt.Errorf("memory: insert: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("memory: insert returned no row")
	}

	// Category nodes are persisted fire-and-forget: the labels are already on
	// the Memory row, and a failed MERGE is only logged.
	go func(ctx context.Context) {
		if err := p.categorizer.Persist(ctx, id, categories); err != nil && p.log != nil {
			p.log.WithError(err).WithField("memoryId", id).Warn("failed to persist category nodes")
		}
	}(context.WithoutCancel(ctx))

	return &model.Memory{
		ID:         id,
		UserID:     userID,
		Content:    text,
		State:      model.MemoryStateActive,
		AppName:    appName,
		Embedding:  embedding,
		Categories: categories,
	}, nil
}

// supersede marks the prior memory invalid as of now and links the
// supersession edge, preserving its row for bi-temporal asOf reads.
func (p *Pipeline) supersede(ctx context.Context, oldID, newID string) error {
	const query = `
		MATCH (old:Memory {id: $oldId}), (new:Memory {id: $newId})
		SET old.state = 'superseded', old.invalidAt = datetime()
		MERGE (new)-[:SUPERSEDES]->(old)
	`
	_, err := p.store.RunWrite(ctx, query, map[string]any{"oldId": oldID, "newId": newID})
	return err
}

// SupersedeResult reports an explicit update: the old memory marked
// invalid, the replacement that now carries the fact.
type SupersedeResult struct {
	OldID      string `json:"old_id"`
	NewID      string `json:"new_id"`
	OldContent string `json:"old_content"`
	NewContent string `json:"new_content"`
}

// SupersedeMemory is the explicit update primitive: it inserts
// newText as a fresh memory, stamps oldID with invalidAt, links SUPERSEDES,
// and fires the same background extraction an add does. Unlike AddBatch's
// dedup-driven supersede, the caller names the memory being replaced.
func (p *Pipeline) SupersedeMemory(ctx context.Context, userID, appName, oldID, newText string) (*SupersedeResult, error) {
	old, err := p.GetMemory(ctx, userID, oldID, nil, true)
	if err != nil {
		return nil, err
	}

	embeddings, err := p.llm.Embed(ctx, []string{newText})
	if err != nil || len(embeddings) == 0 {
		return nil, fmt.Errorf("memory: embed replacement text: %w", errs.ErrEmbeddingFailure)
	}
	categories := p.categorizer.Categorize(ctx, newText)

	replacement, err := p.insert(ctx, userID, appName, newText, embeddings[0], categories)
	if err != nil {
		return nil, err
	}
	if err := p.supersede(ctx, oldID, replacement.ID); err != nil {
		return nil, fmt.Errorf("memory: supersede prior memory: %w", err)
	}

	handle := p.extraction.Start(context.WithoutCancel(ctx), userID, replacement)
	p.drain(handle)

	return &SupersedeResult{
		OldID:      oldID,
		NewID:      replacement.ID,
		OldContent: old.Content,
		NewContent: newText,
	}, nil
}

// DeleteMemory soft-deletes a memory: it remains readable via asOf but is
// excluded from default reads and both search arms.
func (p *Pipeline) DeleteMemory(ctx context.Context, userID, memoryID string) error {
	const query = `
		MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory {id: $id})
		SET m.state = 'deleted', m.invalidAt = datetime()
	`
	_, err := p.store.RunWrite(ctx, query, map[string]any{"userId": userID, "id": memoryID})
	if err != nil {
		return fmt.Errorf("memory: delete: %w", err)
	}
	return nil
}

// GetMemory reads a single memory, optionally as of a past instant and
// optionally including superseded revisions a default read would hide.
func (p *Pipeline) GetMemory(ctx context.Context, userID, memoryID string, asOf *time.Time, includeSuperseded bool) (*model.Memory, error) {
	query, params := getMemoryQuery(userID, memoryID, asOf, includeSuperseded)
	rows, err := p.store.RunRead(ctx, query, params)
	if err != nil {
		return nil, fmt.Errorf("memory: get: %w", err)
	}
	if len(rows) == 0 {
		return nil, errs.ErrNotFound
	}
	return rowToMemory(rows[0], userID), nil
}

func getMemoryQuery(userID, memoryID string, asOf *time.Time, includeSuperseded bool) (string, map[string]any) {
	params := map[string]any{"userId": userID, "id": memoryID}
	if asOf != nil {
		params["asOf"] = asOf.Format(time.RFC3339)
		return `
			MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory {id: $id})
			WHERE m.validAt <= datetime($asOf) AND (m.invalidAt IS NULL OR m.invalidAt > datetime($asOf))
			RETURN m.id AS id, m.content AS content, m.state AS state, m.createdAt AS createdAt,
			       m.updatedAt AS updatedAt, m.validAt AS validAt, m.invalidAt AS invalidAt,
			       m.appName AS appName, m.categories AS categories
		`, params
	}
	if includeSuperseded {
		return `
			MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory {id: $id})
			WHERE m.state <> 'deleted'
			RETURN m.id AS id, m.content AS content, m.state AS state, m.createdAt AS createdAt,
			       m.updatedAt AS updatedAt, m.validAt AS validAt, m.invalidAt AS invalidAt,
			       m.appName AS appName, m.categories AS categories
		`, params
	}
	return `
		MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory {id: $id})
		WHERE m.state <> 'deleted' AND m.invalidAt IS NULL
		RETURN m.id AS id, m.content AS content, m.state AS state, m.createdAt AS createdAt,
		       m.updatedAt AS updatedAt, m.validAt AS validAt, m.invalidAt AS invalidAt,
		       m.appName AS appName, m.categories AS categories
	`, params
}

// ListOptions bounds and scopes a ListMemories call.
type ListOptions struct {
	Limit             int
	Offset            int
	IncludeSuperseded bool
	// AsOf evaluates the bi-temporal validity window at a past instant
	// instead of now; IncludeSuperseded is ignored when set.
	AsOf *time.Time
}

// ListMemories returns a page of a user's memories (most recent first) and
// the total count matching the same filter. The default view is live
// memories; IncludeSuperseded widens it to every non-deleted revision, and
// AsOf time-travels the validity window instead.
func (p *Pipeline) ListMemories(ctx context.Context, userID string, opts ListOptions) ([]*model.Memory, int, error) {
	if opts.Limit <= 0 {
		opts.Limit = 50
	}

	filter := "m.state <> 'deleted' AND m.invalidAt IS NULL"
	params := map[string]any{"userId": userID, "limit": opts.Limit, "offset": opts.Offset}
	switch {
	case opts.AsOf != nil:
		// Bi-temporal: a later soft delete sets invalidAt, so the window
		// check alone decides visibility at the chosen instant.
		filter = "m.validAt <= datetime($asOf) AND (m.invalidAt IS NULL OR m.invalidAt > datetime($asOf))"
		params["asOf"] = opts.AsOf.Format(time.RFC3339)
	case opts.IncludeSuperseded:
		filter = "m.state <> 'deleted'"
	}

	countQuery := fmt.Sprintf(`
		MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory)
		WHERE %s
		RETURN count(m) AS total
	`, filter)
	countRows, err := p.store.RunRead(ctx, countQuery, params)
	if err != nil {
		return nil, 0, fmt.Errorf("memory: count: %w", err)
	}
	total := 0
	if len(countRows) > 0 {
		total, _ = graphstore.ToInt(countRows[0]["total"])
	}

	query := fmt.Sprintf(`
		MATCH (u:User {userId: $userId})-[:HAS_MEMORY]->(m:Memory)
		WHERE %s
		RETURN m.id AS id, m.content AS content, m.state AS state, m.createdAt AS createdAt,
		       m.updatedAt AS updatedAt, m.validAt AS validAt, m.invalidAt AS invalidAt,
		       m.appName AS appName, m.categories AS categories
		ORDER BY m.createdAt DESC
		SKIP toInteger($offset)
		LIMIT toInteger($limit)
	`, filter)

	rows, err := p.store.RunRead(ctx, query, params)
	if err != nil {
		return nil, 0, fmt.Errorf("memory: list: %w", err)
	}
	out := make([]*model.Memory, 0, len(rows))
	for _, r := range rows {
		out = append(out, rowToMemory(r, userID))
	}
	return out, total, nil
}

func rowToMemory(row graphstore.Record, userID string) *model.Memory {
	m := &model.Memory{UserID: userID}
	if v, ok := row["id"].(string); ok {
		m.ID = v
	}
	if v, ok := row["content"].(string); ok {
		m.Content = v
	}
	if v, ok := row["state"].(string); ok {
		m.State = model.MemoryState(v)
	}
	if v, ok := row["appName"].(string); ok {
		m.AppName = v
	}
	if v, ok := row["createdAt"].(time.Time); ok {
		m.CreatedAt = v
	}
	if v, ok := row["updatedAt"].(time.Time); ok {
		m.UpdatedAt = v
	}
	if v, ok := row["validAt"].(time.Time); ok {
		m.ValidAt = v
	}
	if v, ok := row["invalidAt"].(time.Time); ok {
		m.InvalidAt = &v
	}
	if v, ok := row["categories"].([]any); ok {
		for _, e := range v {
			if s, ok := e.(string); ok {
				m.Categories = append(m.Categories, s)
			}
		}
	}
	return m
}
