// Package graphstore is the adapter onto the Cypher-speaking graph
// database: session pooling, parameterized read/write execution, integer
// normalization, and schema/vector-index bootstrap. Every other component
// reaches the graph exclusively through Store.RunRead/RunWrite — none of
// them hydrate the graph into in-memory adjacency structures; traversal is
// always pushed down into the store.
package graphstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/sirupsen/logrus"
)

// Record is the normalized row shape returned by RunRead/RunWrite: plain Go
// values only (string, int64, float64, bool, time.Time, []any, map,
// nil) — no driver-specific wrapper types leak past this package.
type Record map[string]any

// Store wraps a process-wide Neo4j driver singleton. Sessions are acquired
// per call and released on all paths.
type Store struct {
	driver neo4j.DriverWithContext
	log    *logrus.Entry

	vectorIndexesOnce sync.Once
	vectorIndexesErr  error
}

// Config is the subset of internal/config.Config the store needs.
type Config struct {
	URI      string
	User     string
	Password string
}

// New creates a Store and verifies connectivity.
func New(ctx context.Context, cfg Config, log *logrus.Entry) (*Store, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("graphstore: create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, fmt.Errorf("graphstore: verify connectivity: %w", err)
	}
	return &Store{driver: driver, log: log}, nil
}

// Close releases the driver's connection pool.
func (s *Store) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

const (
	maxWriteAttempts = 3
	writeBaseBackoff = 50 * time.Millisecond
)

// RunRead executes a read-only query in its own session and returns
// normalized rows.
func (s *Store) RunRead(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeRead})
	defer session.Close(ctx)

	rows, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collect(ctx, tx, query, params)
	})
	if err != nil {
		return nil, fmt.Errorf("graphstore: read query failed: %w", err)
	}
	return rows.([]Record), nil
}

// RunWrite executes a write query in its own session, retrying transient
// text-index writer conflicts with exponential backoff.
func (s *Store) RunWrite(ctx context.Context, query string, params map[string]any) ([]Record, error) {
	var lastErr error
	for attempt := 0; attempt < maxWriteAttempts; attempt++ {
		session := s.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: neo4j.AccessModeWrite})
		rows, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			return collect(ctx, tx, query, params)
		})
		session.Close(ctx)

		if err == nil {
			return rows.([]Record), nil
		}
		lastErr = err

		if !isTransientIndexConflict(err) {
			return nil, fmt.Errorf("graphstore: write query failed: %w", err)
		}

		backoff := writeBaseBackoff * time.Duration(1<<attempt)
		s.log.WithError(err).WithField("attempt", attempt+1).Warn("retrying write after transient index conflict")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return nil, fmt.Errorf("graphstore: write query failed after %d attempts: %w", maxWriteAttempts, lastErr)
}

func collect(ctx context.Context, tx neo4j.ManagedTransaction, query string, params map[string]any) ([]Record, error) {
	result, err := tx.Run(ctx, query, params)
	if err != nil {
		return nil, err
	}

	var rows []Record
	for result.Next(ctx) {
		rows = append(rows, normalizeRecord(result.Record()))
	}
	return rows, result.Err()
}

// normalizeRecord converts a driver record into plain Go values, coercing
// any driver-internal big-integer representation to machine int64 before it
// crosses the package boundary.
func normalizeRecord(rec *neo4j.Record) Record {
	out := make(Record, len(rec.Keys))
	for _, key := range rec.Keys {
		v, _ := rec.Get(key)
		out[key] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case int64:
		return t
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalizeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalizeValue(e)
		}
		return out
	case neo4j.Node:
		return normalizeValue(t.Props)
	case neo4j.Relationship:
		return normalizeValue(t.Props)
	default:
		return v
	}
}

// isTransientIndexConflict classifies an error as retryable text-index
// writer contention.
func isTransientIndexConflict(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "lock") && strings.Contains(msg, "index") ||
		strings.Contains(msg, "deadlock") ||
		strings.Contains(msg, "transient")
}

// ToInt normalizes a record value of unknown numeric representation into
// an int, for SKIP/LIMIT-style parameters the caller builds from rows.
func ToInt(v any) (int, bool) {
	switch t := v.(type) {
	case int64:
		return int(t), true
	case int:
		return t, true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}
