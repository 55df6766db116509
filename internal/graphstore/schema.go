package graphstore

import (
	"context"
	"fmt"
	"strings"
)

// EmbeddingDimension configures the vector indexes created by Bootstrap;
// it is fixed per embedding provider.
type SchemaOptions struct {
	EmbeddingDimension int
}

const (
	memoryVectorIndex = "memory_vectors"
	entityVectorIndex = "entity_vectors"
	memoryTextIndex   = "memory_text"
)

var bootstrapStatements = []string{
	`CREATE CONSTRAINT user_id_unique IF NOT EXISTS FOR (u:User) REQUIRE u.userId IS UNIQUE`,
	`CREATE CONSTRAINT entity_norm_name_unique IF NOT EXISTS FOR (e:Entity) REQUIRE (e.userId, e.normalizedName) IS UNIQUE`,
	`CREATE CONSTRAINT category_name_unique IF NOT EXISTS FOR (c:Category) REQUIRE c.name IS UNIQUE`,
	`CREATE FULLTEXT INDEX memory_text IF NOT EXISTS FOR (m:Memory) ON EACH [m.content]`,
}

// Bootstrap ensures the uniqueness constraints and indexes exist. It is idempotent: driver errors whose message contains
// "already exists", "violates", or "experimental" are suppressed; any other
// error is fatal to startup.
func (s *Store) Bootstrap(ctx context.Context, opts SchemaOptions) error {
	for _, stmt := range bootstrapStatements {
		if _, err := s.RunWrite(ctx, stmt, nil); err != nil && !isBenignBootstrapError(err) {
			return fmt.Errorf("graphstore: bootstrap statement failed (%q): %w", stmt, err)
		}
	}

	vectorStmts := []string{
		fmt.Sprintf(
			`CREATE VECTOR INDEX %s IF NOT EXISTS FOR (m:Memory) ON (m.embedding)
			 OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`,
			memoryVectorIndex, opts.EmbeddingDimension,
		),
		fmt.Sprintf(
			`CREATE VECTOR INDEX %s IF NOT EXISTS FOR (e:Entity) ON (e.descriptionEmbedding)
			 OPTIONS {indexConfig: {`+"`vector.dimensions`"+`: %d, `+"`vector.similarity_function`"+`: 'cosine'}}`,
			entityVectorIndex, opts.EmbeddingDimension,
		),
	}
	for _, stmt := range vectorStmts {
		if _, err := s.RunWrite(ctx, stmt, nil); err != nil && !isBenignBootstrapError(err) {
			return fmt.Errorf("graphstore: vector index bootstrap failed: %w", err)
		}
	}

	return nil
}

func isBenignBootstrapError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "violates") ||
		strings.Contains(msg, "experimental")
}

// EnsureVectorIndexes is a repair pass run after Bootstrap: it queries the
// existing indexes and recreates any of memory_vectors/entity_vectors that
// are missing. The pass runs once per process: the first call's outcome,
// success or error, is cached and returned by every later call, so a failed
// pass is not retried.
func (s *Store) EnsureVectorIndexes(ctx context.Context, opts SchemaOptions) error {
	s.vectorIndexesOnce.Do(func() {
		s.vectorIndexesErr = s.ensureVectorIndexes(ctx, opts)
	})
	return s.vectorIndexesErr
}

func (s *Store) ensureVectorIndexes(ctx context.Context, opts SchemaOptions) error {
	rows, err := s.RunRead(ctx, `SHOW VECTOR INDEXES YIELD name RETURN name`, nil)
	if err != nil {
		return fmt.Errorf("graphstore: list vector indexes: %w", err)
	}

	present := make(map[string]bool, len(rows))
	for _, r := range rows {
		if name, ok := r["name"].(string); ok {
			present[name] = true
		}
	}

	if !present[memoryVectorIndex] || !present[entityVectorIndex] {
		return s.Bootstrap(ctx, opts)
	}
	return nil
}
