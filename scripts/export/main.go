// export embeddings
//
// This script exports verse recall embeddings from PostgreSQL to a JSONL
// file, one JSON object per line:
//
//   {"id": 1234, "ref": "Ps 23:1", "version": "PT_NAA", "embedding": [0.1, ...]}
//
// Useful for offline analysis or for loading the vectors into an external
// ANN service.
//
// Usage:
//   go run scripts/export/main.go -output embeddings.jsonl
//   go run scripts/export/main.go -versions PT_NAA,EN_KJV

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/lib/pq"

	"github.com/bible-rag-api/internal/config"
	"github.com/bible-rag-api/pkg/db"
)

// DataPoint is one exported embedding record.
type DataPoint struct {
	ID        int64     `json:"id"`
	Ref       string    `json:"ref"`
	Version   string    `json:"version"`
	Embedding []float32 `json:"embedding"`
}

func main() {
	outputFile := flag.String("output", "embeddings.jsonl", "Output JSONL file path")
	versions := flag.String("versions", "", "CSV of translation codes to export (default: all)")
	flag.Parse()

	godotenv.Load()
	cfg := config.Load()

	ctx := context.Background()
	pgDB, err := db.Connect(ctx, cfg.PostgresURI, 0)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer pgDB.Close()

	f, err := os.Create(*outputFile)
	if err != nil {
		log.Fatalf("Failed to create output file: %v", err)
	}
	defer f.Close()

	log.Printf("Exporting embeddings to %s...", *outputFile)

	query := `
		SELECT ve.verse_id, b.osis_code, v.chapter, v.number, v.version_code,
		       ve.embedding_small::text AS embedding_text
		FROM verse_embeddings ve
		JOIN verses v ON v.id = ve.verse_id
		JOIN books b ON b.id = v.book_id
		WHERE ve.embedding_small IS NOT NULL`
	var args []interface{}
	if *versions != "" {
		query += " AND v.version_code = ANY($1)"
		args = append(args, pq.Array(splitCSV(*versions)))
	}
	query += " ORDER BY b.canonical_order, v.chapter, v.number"

	rows, err := pgDB.QueryxContext(ctx, query, args...)
	if err != nil {
		log.Fatalf("Failed to query embeddings: %v", err)
	}
	defer rows.Close()

	encoder := json.NewEncoder(f)
	count := 0
	for rows.Next() {
		var verseID int64
		var osis, versionCode, embeddingText string
		var chapter, number int
		if err := rows.Scan(&verseID, &osis, &chapter, &number, &versionCode, &embeddingText); err != nil {
			log.Fatalf("Failed to scan row: %v", err)
		}

		embedding, err := parseEmbedding(embeddingText)
		if err != nil {
			log.Printf("Warning: failed to parse embedding for verse %d: %v", verseID, err)
			continue
		}

		dp := DataPoint{
			ID:        verseID,
			Ref:       fmt.Sprintf("%s %d:%d", osis, chapter, number),
			Version:   versionCode,
			Embedding: embedding,
		}
		if err := encoder.Encode(dp); err != nil {
			log.Fatalf("Failed to encode data point: %v", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("Error iterating rows: %v", err)
	}

	log.Printf("Successfully exported %d embeddings to %s", count, *outputFile)
}

// parseEmbedding parses a pgvector text representation like "[0.1,0.2,0.3]"
func parseEmbedding(text string) ([]float32, error) {
	text = strings.TrimPrefix(text, "[")
	text = strings.TrimSuffix(text, "]")
	if text == "" {
		return nil, fmt.Errorf("empty embedding")
	}

	parts := strings.Split(text, ",")
	result := make([]float32, len(parts))
	for i, p := range parts {
		var val float32
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%f", &val); err != nil {
			return nil, fmt.Errorf("parse float at position %d: %w", i, err)
		}
		result[i] = val
	}
	return result, nil
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
