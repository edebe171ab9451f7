// manage ANN indexes
//
// This script creates or drops the IVF-flat index on a vector column.
// Index builds run with CREATE INDEX CONCURRENTLY so online queries keep
// working during the build.
//
// Usage:
//   go run scripts/index/main.go -create -table verse_embeddings -column embedding_small -lists 64
//   go run scripts/index/main.go -create -table verse_embeddings -column embedding_small -dim 1536 -mem 2GB
//   go run scripts/index/main.go -drop -name idx_verse_embeddings_embedding_small_ivfflat

package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"github.com/bible-rag-api/internal/config"
	"github.com/bible-rag-api/internal/repository/postgres"
	"github.com/bible-rag-api/pkg/db"
)

func main() {
	create := flag.Bool("create", false, "Create an IVF-flat index")
	drop := flag.Bool("drop", false, "Drop an index")
	table := flag.String("table", "verse_embeddings", "Table name")
	column := flag.String("column", "embedding_small", "Vector column name")
	opclass := flag.String("opclass", "vector_cosine_ops", "Index operator class")
	lists := flag.Int("lists", 64, "IVF-flat lists parameter")
	dim := flag.Int("dim", 0, "Alter the column to vector(dim) before indexing, 0 = leave as is")
	mem := flag.String("mem", "", "maintenance_work_mem for the build session, e.g. 2GB")
	name := flag.String("name", "", "Index name for -drop (defaults to the conventional name)")
	flag.Parse()

	godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	pgDB, err := db.Connect(ctx, cfg.PostgresURI, 0)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pgDB.Close()

	manager := postgres.NewIndexManager(pgDB)

	switch {
	case *create:
		opts := postgres.IVFFlatOptions{
			Table:              *table,
			Column:             *column,
			OpClass:            *opclass,
			Lists:              *lists,
			Dim:                *dim,
			MaintenanceWorkMem: *mem,
		}
		log.Printf("Creating IVF-flat index on %s(%s) with lists=%d...", *table, *column, *lists)
		if err := manager.CreateIVFFlat(ctx, opts); err != nil {
			log.Fatalf("Index creation failed: %v", err)
		}
		log.Printf("Index %s ready", postgres.IndexName(*table, *column))
	case *drop:
		indexName := *name
		if indexName == "" {
			indexName = postgres.IndexName(*table, *column)
		}
		log.Printf("Dropping index %s...", indexName)
		if err := manager.DropIndex(ctx, indexName); err != nil {
			log.Fatalf("Index drop failed: %v", err)
		}
		log.Println("Index dropped")
	default:
		flag.Usage()
	}
}
