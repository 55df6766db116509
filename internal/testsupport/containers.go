// Package testsupport provides testcontainers-based setup for integration
// tests that need a live graph database or cache, following the usual
// GenericContainer + wait-strategy + cleanup-func shape.
//
// Tests using this package should check testing.Short() and skip when a
// Docker daemon isn't available, so the default `go test ./...` run needs
// no container runtime.
package testsupport

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Cleanup terminates a container started by one of this package's Setup
// functions. Safe to call even after a failed setup (no-op).
type Cleanup func()

func cleanupFunc(ctx context.Context, container testcontainers.Container, name string) Cleanup {
	return func() {
		if container == nil {
			return
		}
		if err := container.Terminate(ctx); err != nil {
			fmt.Printf("testsupport: failed to terminate %s container: %v\n", name, err)
		}
	}
}

// Neo4jConfig configures the Neo4j testcontainer.
type Neo4jConfig struct {
	Image          string
	Password       string
	StartupTimeout time.Duration
}

// DefaultNeo4jConfig pins the image tag and allows a generous startup
// timeout for JVM warm-up.
func DefaultNeo4jConfig() Neo4jConfig {
	return Neo4jConfig{
		Image:          "neo4j:5.24-community",
		Password:       "test-password",
		StartupTimeout: 120 * time.Second,
	}
}

// SetupNeo4j starts a Neo4j container exposing the Bolt port and returns
// its bolt:// URI, the configured password, and a cleanup function.
func SetupNeo4j(ctx context.Context, t *testing.T, cfg *Neo4jConfig) (uri, password string, cleanup Cleanup, err error) {
	if cfg == nil {
		c := DefaultNeo4jConfig()
		cfg = &c
	}

	req := testcontainers.ContainerRequest{
		Image:        cfg.Image,
		ExposedPorts: []string{"7687/tcp", "7474/tcp"},
		Env: map[string]string{
			"NEO4J_AUTH":                           fmt.Sprintf("neo4j/%s", cfg.Password),
			"NEO4J_PLUGINS":                        `["graph-data-science"]`,
			"NEO4J_dbms_security_procedures_unrestricted": "gds.*",
		},
		WaitingFor: wait.ForListeningPort("7687/tcp").WithStartupTimeout(cfg.StartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", "", func() {}, fmt.Errorf("testsupport: start neo4j container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return "", "", func() {}, fmt.Errorf("testsupport: neo4j host: %w", err)
	}
	port, err := container.MappedPort(ctx, "7687")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", "", func() {}, fmt.Errorf("testsupport: neo4j port: %w", err)
	}

	return fmt.Sprintf("bolt://%s:%s", host, port.Port()), cfg.Password, cleanupFunc(ctx, container, "neo4j"), nil
}

// RedisConfig configures the Redis-protocol testcontainer used by the
// embedding memoization cache's integration tests.
type RedisConfig struct {
	Image          string
	StartupTimeout time.Duration
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Image:          "redis:7-alpine",
		StartupTimeout: 30 * time.Second,
	}
}

// SetupRedis starts a Redis container and returns its "host:port" address.
func SetupRedis(ctx context.Context, t *testing.T, cfg *RedisConfig) (addr string, cleanup Cleanup, err error) {
	if cfg == nil {
		c := DefaultRedisConfig()
		cfg = &c
	}

	req := testcontainers.ContainerRequest{
		Image:        cfg.Image,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(cfg.StartupTimeout),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return "", func() {}, fmt.Errorf("testsupport: start redis container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		return "", func() {}, fmt.Errorf("testsupport: redis host: %w", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		_ = container.Terminate(ctx)
		return "", func() {}, fmt.Errorf("testsupport: redis port: %w", err)
	}

	return fmt.Sprintf("%s:%s", host, port.Port()), cleanupFunc(ctx, container, "redis"), nil
}
