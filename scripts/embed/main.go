// embed verses
//
// This script computes and persists per-verse embeddings for the selected
// translations. It is idempotent: rerunning with the same configuration and
// unchanged verse text writes nothing.
//
// Environment variables:
//   POSTGRES_URI           - PostgreSQL connection string
//   OPENAI_API_KEY         - provider credential; absence switches to dry-run
//   EMBEDDING_SLEEP        - pause between provider calls in seconds
//   EMBEDDING_MAX_RETRIES  - retry budget per provider call
//   EMBEDDING_TIMEOUT      - per-call timeout in seconds
//
// Usage:
//   go run scripts/embed/main.go -versions PT_NAA,EN_KJV
//   go run scripts/embed/main.go -versions PT_NAA -only-missing
//   go run scripts/embed/main.go -versions PT_NAA -overwrite -small-only

package main

import (
	"context"
	"flag"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/bible-rag-api/internal/config"
	"github.com/bible-rag-api/internal/ingest"
	"github.com/bible-rag-api/internal/repository/postgres"
	"github.com/bible-rag-api/pkg/db"
	"github.com/bible-rag-api/pkg/embedding"
)

func main() {
	versions := flag.String("versions", "", "CSV of translation codes to process (required)")
	batchSize := flag.Int("batch-size", 0, "Verses per provider call and per transaction (default from env, 128)")
	limit := flag.Int("limit", 0, "Maximum verses to process, 0 = all")
	sleep := flag.Float64("sleep", -1, "Seconds to sleep between provider calls (default from env)")
	maxRetries := flag.Int("max-retries", -1, "Retry budget per provider call (default from env)")
	timeout := flag.Int("timeout", 0, "Per-call timeout in seconds (default from env, 60)")
	modelSmall := flag.String("model-small", "", "Recall embedding model (default from env)")
	modelLarge := flag.String("model-large", "", "Rerank embedding model (default from env)")
	smallOnly := flag.Bool("small-only", false, "Process only the small track")
	largeOnly := flag.Bool("large-only", false, "Process only the large track")
	onlyMissing := flag.Bool("only-missing", false, "Skip verses that already have the small embedding")
	overwrite := flag.Bool("overwrite", false, "Re-embed every verse in scope")
	provider := flag.String("provider", "openai", "Provider identifier stored with each row")
	dryRun := flag.Bool("dry-run", false, "Estimate tokens and cost without calling the provider")
	flag.Parse()

	godotenv.Load()
	cfg := config.Load()

	if *versions == "" {
		log.Fatal("-versions is required")
	}
	if *batchSize <= 0 {
		*batchSize = cfg.Ingest.BatchSize
	}
	if *sleep < 0 {
		*sleep = cfg.Ingest.Sleep.Seconds()
	}
	if *maxRetries < 0 {
		*maxRetries = cfg.Ingest.MaxRetries
	}
	callTimeout := cfg.Ingest.Timeout
	if *timeout > 0 {
		callTimeout = time.Duration(*timeout) * time.Second
	}
	if *modelSmall == "" {
		*modelSmall = cfg.Retrieval.ModelSmall
	}
	if *modelLarge == "" {
		*modelLarge = cfg.Retrieval.ModelLarge
	}

	opts := ingest.Options{
		Versions:    splitCSV(*versions),
		BatchSize:   *batchSize,
		Limit:       *limit,
		ModelSmall:  *modelSmall,
		ModelLarge:  *modelLarge,
		SmallOnly:   *smallOnly,
		LargeOnly:   *largeOnly,
		OnlyMissing: *onlyMissing,
		Overwrite:   *overwrite,
		Provider:    *provider,
		DryRun:      *dryRun,
	}
	if cfg.OpenAIAPIKey == "" && *provider == "openai" {
		log.Println("OPENAI_API_KEY not set; running in dry-run mode")
		opts.DryRun = true
	}

	ctx := context.Background()
	pgDB, err := db.Connect(ctx, cfg.PostgresURI, 0)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pgDB.Close()

	usage := embedding.NewUsage()
	embedder := embedding.NewOpenAIEmbedder(cfg.OpenAIAPIKey,
		embedding.WithTimeout(callTimeout),
		embedding.WithMaxRetries(*maxRetries),
		embedding.WithSleep(time.Duration(*sleep*float64(time.Second))),
		embedding.WithUsage(usage),
	)

	orchestrator, err := ingest.New(postgres.NewEmbeddingStore(pgDB), embedder, usage, opts)
	if err != nil {
		log.Fatalf("Invalid options: %v", err)
	}

	start := time.Now()
	summary, err := orchestrator.Run(ctx)
	if err != nil {
		log.Fatalf("Ingestion failed: %v", err)
	}

	log.Printf("Done in %s: %d verses, %d batches (%d failed), %d small / %d large embedded, %d skipped",
		time.Since(start).Round(time.Second), summary.Verses, summary.Batches,
		summary.FailedBatches, summary.EmbeddedSmall, summary.EmbeddedLarge, summary.Skipped)

	if opts.DryRun {
		log.Printf("Dry-run estimate: ~%d tokens, ~$%.4f", summary.EstimatedTokens, summary.EstimatedDollars)
		return
	}
	for model, u := range summary.Usage {
		log.Printf("  %s: ~%d tokens, ~$%.4f", model, u.Tokens, u.Dollars)
	}
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
