// Command memoryd runs the memory service's HTTP tool surface, wiring the
// graph store, LLM client, dedup/entity/extraction/categorization engines,
// retrieval, graph traversal, and community builder into a single process.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/SergiySeletsky/mem0-sub000/internal/categorize"
	"github.com/SergiySeletsky/mem0-sub000/internal/community"
	appconfig "github.com/SergiySeletsky/mem0-sub000/internal/config"
	"github.com/SergiySeletsky/mem0-sub000/internal/dedup"
	"github.com/SergiySeletsky/mem0-sub000/internal/entity"
	"github.com/SergiySeletsky/mem0-sub000/internal/extraction"
	"github.com/SergiySeletsky/mem0-sub000/internal/graphstore"
	"github.com/SergiySeletsky/mem0-sub000/internal/graphtraversal"
	"github.com/SergiySeletsky/mem0-sub000/internal/llm"
	"github.com/SergiySeletsky/mem0-sub000/internal/logging"
	"github.com/SergiySeletsky/mem0-sub000/internal/memory"
	"github.com/SergiySeletsky/mem0-sub000/internal/paircache"
	"github.com/SergiySeletsky/mem0-sub000/internal/retrieval"
	"github.com/SergiySeletsky/mem0-sub000/internal/toolserver"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "memoryd",
	Short: "an agent-native long-term memory service backed by a graph database",
	Long: `memoryd

An HTTP service providing durable, per-user long-term memory for AI agents:
bi-temporal memory storage with LLM-assisted deduplication, open-ontology
entity resolution, hybrid vector+text retrieval, graph traversal, and
community summarization, all persisted in a single graph database.

Configuration can be provided via command-line flags, environment variables,
or a YAML configuration file with automatic precedence handling.`,
	RunE: runServer,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.memoryd.yaml)")
	rootCmd.PersistentFlags().String("port", "", "HTTP server port")
	rootCmd.PersistentFlags().String("neo4j-uri", "", "graph database bolt URI")
	rootCmd.PersistentFlags().String("embedding-provider", "", "embedding provider (intelli, azure, nomic)")

	_ = viper.BindPFlag("port", rootCmd.PersistentFlags().Lookup("port"))
	_ = viper.BindPFlag("neo4j_uri", rootCmd.PersistentFlags().Lookup("neo4j-uri"))
	_ = viper.BindPFlag("embedding_provider", rootCmd.PersistentFlags().Lookup("embedding-provider"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)
		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".memoryd")
	}

	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg := appconfig.FromEnv()
	if override := viper.GetString("port"); override != "" {
		fmt.Sscanf(override, "%d", &cfg.HTTPPort)
	}
	if override := viper.GetString("neo4j_uri"); override != "" {
		cfg.Neo4jURI = override
	}
	if override := viper.GetString("embedding_provider"); override != "" {
		cfg.EmbeddingProvider = appconfig.DetectEmbeddingProvider(override)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("memoryd: invalid configuration: %w", err)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, Service: cfg.ServiceName})
	entry := logging.Entry(log, cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := graphstore.New(ctx, graphstore.Config{URI: cfg.Neo4jURI, User: cfg.Neo4jUser, Password: cfg.Neo4jPassword}, entry)
	if err != nil {
		return fmt.Errorf("memoryd: connect graph store: %w", err)
	}
	defer store.Close(context.Background())

	schemaOpts := graphstore.SchemaOptions{EmbeddingDimension: cfg.EmbeddingDimension}
	if err := store.Bootstrap(ctx, schemaOpts); err != nil {
		return fmt.Errorf("memoryd: bootstrap schema: %w", err)
	}
	if err := store.EnsureVectorIndexes(ctx, schemaOpts); err != nil {
		return fmt.Errorf("memoryd: ensure vector indexes: %w", err)
	}

	llmClient, err := llm.New(llm.Config{
		Provider:          string(cfg.EmbeddingProvider),
		Dimension:         cfg.EmbeddingDimension,
		OpenAIAPIKey:      cfg.OpenAIAPIKey,
		OpenAIBaseURL:     cfg.OpenAIBaseURL,
		AzureEmbeddingURL: cfg.AzureEmbeddingURL,
		AzureTenantID:     cfg.AzureTenantID,
		AzureClientID:     cfg.AzureClientID,
		AzureClientSecret: cfg.AzureClientSecret,
		Timeout:           cfg.LLMTimeout,
		MaxRetries:        cfg.LLMMaxRetries,
	})
	if err != nil {
		return fmt.Errorf("memoryd: construct llm client: %w", err)
	}
	llmClient, err = llm.NewCachedClient(llmClient, cfg.RedisURL, cfg.EmbeddingCacheTTL)
	if err != nil {
		return fmt.Errorf("memoryd: construct embedding cache: %w", err)
	}

	cache, err := paircache.New(cfg.PairCacheMaxEntries)
	if err != nil {
		return fmt.Errorf("memoryd: construct pair cache: %w", err)
	}

	dedupEngine := dedup.New(store, llmClient, cache, entry, dedup.Config{
		Enabled:     cfg.DedupEnabled,
		Threshold:   cfg.DedupThresholdFor(cfg.EmbeddingProvider),
		CandidateK:  cfg.DedupCandidateK,
		RunnerUpGap: cfg.DedupRunnerUpGap,
	})
	resolver := entity.New(store, llmClient, entry)
	extractionWorker := extraction.New(store, llmClient, resolver)
	categorizer := categorize.New(store, llmClient)

	memPipeline := memory.New(store, llmClient, dedupEngine, extractionWorker, categorizer, entry, memory.Config{DrainTimeout: cfg.ExtractionDrainTimeout})
	searcher := retrieval.New(store, llmClient)
	traverser := graphtraversal.New(store, llmClient)
	communities := community.New(store, llmClient)

	if cfg.CommunityRebuildInterval > 0 {
		go rebuildCommunitiesLoop(ctx, store, communities, entry, cfg.CommunityRebuildInterval)
	}

	server := toolserver.New(toolserver.Config{Port: cfg.HTTPPort, ShutdownTimeout: 10 * time.Second, RateLimit: cfg.RateLimit}, entry, memPipeline, searcher, traverser, resolver, communities)

	entry.WithField("port", cfg.HTTPPort).Info("starting memoryd")
	return server.Start(ctx)
}

// rebuildCommunitiesLoop periodically rebuilds every user's communities
// until ctx is cancelled. Rebuild failures are logged per user and the loop
// keeps going; community summaries are enrichment, never load-bearing.
func rebuildCommunitiesLoop(ctx context.Context, store *graphstore.Store, communities *community.Builder, log *logrus.Entry, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		rows, err := store.RunRead(ctx, `MATCH (u:User) RETURN u.userId AS userId`, nil)
		if err != nil {
			log.WithError(err).Warn("community rebuild: listing users failed")
			continue
		}
		for _, row := range rows {
			userID, ok := row["userId"].(string)
			if !ok || userID == "" {
				continue
			}
			if err := communities.Rebuild(ctx, userID); err != nil {
				log.WithError(err).WithField("userId", userID).Warn("community rebuild failed")
			}
		}
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
