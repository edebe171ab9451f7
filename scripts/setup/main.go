// setup schema
//
// This script creates the verse_embeddings table and its supporting indexes.
// It requires the pgvector extension and assumes the verses and books tables
// already exist (content loading is handled elsewhere).
//
// Environment variables:
//   POSTGRES_URI - PostgreSQL connection string
//
// Usage:
//   go run scripts/setup/main.go
//   go run scripts/setup/main.go -dim-small 1536 -dim-large 3072

package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/bible-rag-api/internal/config"
	"github.com/bible-rag-api/pkg/db"
)

func main() {
	dimSmall := flag.Int("dim-small", 1536, "Dimensionality of the recall vector column")
	dimLarge := flag.Int("dim-large", 3072, "Dimensionality of the rerank vector column")
	flag.Parse()

	godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	pgDB, err := db.Connect(ctx, cfg.PostgresURI, 0)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pgDB.Close()

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS verse_embeddings (
			id               BIGSERIAL PRIMARY KEY,
			verse_id         BIGINT NOT NULL UNIQUE REFERENCES verses(id),
			version_code     TEXT NOT NULL,
			text_hash        TEXT NOT NULL,
			provider         TEXT NOT NULL DEFAULT '',
			model_name_small TEXT NOT NULL DEFAULT '',
			dim_small        INT NOT NULL DEFAULT 0,
			embedding_small  vector(%d),
			model_name_large TEXT NOT NULL DEFAULT '',
			dim_large        INT NOT NULL DEFAULT 0,
			embedding_large  vector(%d),
			created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, *dimSmall, *dimLarge),
		`CREATE INDEX IF NOT EXISTS idx_verse_embeddings_version_code ON verse_embeddings (version_code)`,
	}

	for _, stmt := range statements {
		if _, err := pgDB.ExecContext(ctx, stmt); err != nil {
			log.Fatalf("Schema statement failed: %v\n%s", err, stmt)
		}
	}

	log.Println("Schema ready")
	log.Println("Next step: build the ANN index once embeddings are loaded:")
	log.Println("  go run scripts/index/main.go -create -table verse_embeddings -column embedding_small")
}
