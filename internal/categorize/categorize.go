// Package categorize implements the memory categorization subcomponent of
// the write pipeline: an LLM call that returns 1-3 category labels
// for a memory's text, sanitized and capped before being written.
package categorize

import (
	"context"
	"fmt"
	"strings"

	"github.com/SergiySeletsky/mem0-sub000/internal/graphstore"
	"github.com/SergiySeletsky/mem0-sub000/internal/llm"
)

const (
	maxCategories  = 3
	maxLabelLength = 50
)

// Store is the single write operation categorization persists through.
type Store interface {
	RunWrite(ctx context.Context, query string, params map[string]any) ([]graphstore.Record, error)
}

// Categorizer assigns category labels to memory text.
type Categorizer struct {
	store Store
	llm   llm.Client
}

func New(store Store, llmClient llm.Client) *Categorizer {
	return &Categorizer{store: store, llm: llmClient}
}

// Categorize returns 1-3 sanitized, deduplicated category labels for text.
// On a parse or LLM failure it returns an empty slice, not an error: a
// memory write must never fail solely because categorization couldn't run.
func (c *Categorizer) Categorize(ctx context.Context, text string) []string {
	system := "You assign 1 to 3 short topical category labels (single words or short phrases, title case) " +
		`to a personal memory statement. Respond with a JSON array of strings, e.g. ["Health","Work"].`
	raw, err := c.llm.Complete(ctx, system, text)
	if err != nil {
		return nil
	}

	labels := llm.ParseJSONArrayLenient[string](raw)
	return sanitize(labels)
}

func sanitize(labels []string) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, maxCategories)
	for _, l := range labels {
		trimmed := strings.TrimSpace(l)
		if trimmed == "" || len(trimmed) > maxLabelLength {
			continue
		}
		key := strings.ToLower(trimmed)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, trimmed)
		if len(out) == maxCategories {
			break
		}
	}
	return out
}

// Persist writes the category labels onto a memory and MERGEs the shared
// Category nodes. Categories are global, not per-user.
func (c *Categorizer) Persist(ctx context.Context, memoryID string, categories []string) error {
	if len(categories) == 0 {
		return nil
	}
	const query = `
		MATCH (m:Memory {id: $memoryId})
		SET m.categories = $categories
		WITH m
		UNWIND $categories AS categoryName
		MERGE (cat:Category {name: categoryName})
		MERGE (m)-[:HAS_CATEGORY]->(cat)
	`
	_, err := c.store.RunWrite(ctx, query, map[string]any{"memoryId": memoryID, "categories": categories})
	if err != nil {
		return fmt.Errorf("categorize: persist: %w", err)
	}
	return nil
}
