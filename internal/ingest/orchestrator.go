package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log"
	"strings"

	"github.com/bible-rag-api/internal/models"
	"github.com/bible-rag-api/internal/repository"
	"github.com/bible-rag-api/pkg/embedding"
)

// Options configures one ingestion run.
type Options struct {
	// Versions is the required list of translation codes to process.
	Versions []string

	BatchSize int // verses per provider call and per transaction, default 128
	Limit     int // 0 = all verses in scope

	ModelSmall string
	ModelLarge string

	// SmallOnly / LargeOnly restrict the run to one embedding track.
	SmallOnly bool
	LargeOnly bool

	// OnlyMissing skips verses that already have the small embedding;
	// Overwrite re-embeds every verse in scope. Mutually exclusive.
	OnlyMissing bool
	Overwrite   bool

	// Provider identifier stored with each row.
	Provider string

	// DryRun estimates tokens and cost without calling the provider or
	// writing rows. Enabled automatically when no credential is present.
	DryRun bool
}

// Validate rejects contradictory option combinations before any work starts.
func (o Options) Validate() error {
	if len(o.Versions) == 0 {
		return fmt.Errorf("at least one version is required")
	}
	if o.OnlyMissing && o.Overwrite {
		return fmt.Errorf("only-missing and overwrite are mutually exclusive")
	}
	if o.SmallOnly && o.LargeOnly {
		return fmt.Errorf("small-only and large-only are mutually exclusive")
	}
	if !o.LargeOnly && o.ModelSmall == "" {
		return fmt.Errorf("small model is required")
	}
	if !o.SmallOnly && o.ModelLarge == "" {
		return fmt.Errorf("large model is required")
	}
	return nil
}

// Summary reports the outcome of a run. Token and dollar figures reflect only
// successful provider calls; dry runs report estimates instead.
type Summary struct {
	Verses        int
	Batches       int
	FailedBatches int
	EmbeddedSmall int
	EmbeddedLarge int
	Skipped       int

	Usage map[string]embedding.ModelUsage

	EstimatedTokens  int64
	EstimatedDollars float64
}

// Orchestrator brings the verse_embeddings table into a state consistent with
// the target models and the current verse text. Each batch is one provider
// call per track and one database transaction; a failed batch is logged and
// the run continues, so rerunning with only-missing resumes safely.
type Orchestrator struct {
	store    repository.IngestStore
	embedder embedding.Embedder
	usage    *embedding.Usage
	opts     Options
}

// New creates an orchestrator after validating the options.
func New(store repository.IngestStore, embedder embedding.Embedder, usage *embedding.Usage, opts Options) (*Orchestrator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 128
	}
	if usage == nil {
		usage = embedding.NewUsage()
	}
	return &Orchestrator{store: store, embedder: embedder, usage: usage, opts: opts}, nil
}

// NormalizeText collapses whitespace without case folding; embeddings and
// text hashes are always computed over this form.
func NormalizeText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// HashText returns the hex SHA-256 of the normalized text.
func HashText(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Run processes all verses in scope batch by batch.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	verses, err := o.store.Verses(ctx, o.opts.Versions, o.opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("list verses: %w", err)
	}

	sum := &Summary{Verses: len(verses)}
	totalBatches := (len(verses) + o.opts.BatchSize - 1) / o.opts.BatchSize

	for start := 0; start < len(verses); start += o.opts.BatchSize {
		end := start + o.opts.BatchSize
		if end > len(verses) {
			end = len(verses)
		}
		sum.Batches++

		if err := o.processBatch(ctx, verses[start:end], sum); err != nil {
			sum.FailedBatches++
			log.Printf("batch %d/%d failed: %v", sum.Batches, totalBatches, err)
			continue
		}
		log.Printf("batch %d/%d ok (%d verses, %d small, %d large embedded so far)",
			sum.Batches, totalBatches, end-start, sum.EmbeddedSmall, sum.EmbeddedLarge)
	}

	sum.Usage = o.usage.Snapshot()
	return sum, nil
}

// work is the per-verse state of one batch.
type work struct {
	verse models.Verse
	hash  string
	norm  string

	orig *models.VerseEmbedding // nil when no row exists yet
	row  models.VerseEmbedding

	needSmall bool
	needLarge bool
	columns   []string
}

func (w *work) mark(col string) {
	for _, c := range w.columns {
		if c == col {
			return
		}
	}
	w.columns = append(w.columns, col)
}

func (o *Orchestrator) processBatch(ctx context.Context, batch []models.Verse, sum *Summary) error {
	ids := make([]int64, len(batch))
	for i, v := range batch {
		ids[i] = v.VerseID
	}
	existing, err := o.store.Embeddings(ctx, ids)
	if err != nil {
		return fmt.Errorf("load existing embeddings: %w", err)
	}

	var items []*work
	for _, v := range batch {
		orig := existing[v.VerseID]
		if o.opts.OnlyMissing && orig != nil && orig.EmbeddingSmall != nil {
			sum.Skipped++
			continue
		}

		w := &work{verse: v, norm: NormalizeText(v.Text)}
		w.hash = HashText(w.norm)
		w.orig = orig
		if orig != nil {
			w.row = *orig
		} else {
			w.row = models.VerseEmbedding{
				VerseID:        v.VerseID,
				VersionCode:    v.VersionCode,
				TextHash:       w.hash,
				Provider:       o.opts.Provider,
				ModelNameSmall: o.opts.ModelSmall,
				ModelNameLarge: o.opts.ModelLarge,
			}
		}

		w.needSmall = !o.opts.LargeOnly && o.needsTrack(orig, w.hash, trackSmall)
		w.needLarge = !o.opts.SmallOnly && o.needsTrack(orig, w.hash, trackLarge)
		if !w.needSmall && !w.needLarge {
			sum.Skipped++
			continue
		}
		items = append(items, w)
	}
	if len(items) == 0 {
		return nil
	}

	if o.opts.DryRun {
		o.estimate(items, sum)
		return nil
	}

	if err := o.embedTrack(ctx, items, trackSmall, sum); err != nil {
		return err
	}
	if err := o.embedTrack(ctx, items, trackLarge, sum); err != nil {
		return err
	}

	changes := make([]models.EmbeddingChange, 0, len(items))
	for _, w := range items {
		if len(w.columns) == 0 {
			continue
		}
		row := w.row
		changes = append(changes, models.EmbeddingChange{Row: &row, Columns: w.columns})
	}
	if err := o.store.SaveEmbeddings(ctx, changes); err != nil {
		return fmt.Errorf("persist batch: %w", err)
	}
	return nil
}

type track int

const (
	trackSmall track = iota
	trackLarge
)

// needsTrack decides whether a verse requires (re)embedding on a track:
// overwrite includes everything; otherwise a verse is included when the
// vector is absent, the stored model differs from the target, or the text
// hash no longer matches.
func (o *Orchestrator) needsTrack(orig *models.VerseEmbedding, hash string, t track) bool {
	if o.opts.Overwrite || orig == nil {
		return true
	}
	switch t {
	case trackSmall:
		return orig.EmbeddingSmall == nil || orig.ModelNameSmall != o.opts.ModelSmall || orig.TextHash != hash
	default:
		return orig.EmbeddingLarge == nil || orig.ModelNameLarge != o.opts.ModelLarge || orig.TextHash != hash
	}
}

func (o *Orchestrator) embedTrack(ctx context.Context, items []*work, t track, sum *Summary) error {
	var pending []*work
	var texts []string
	for _, w := range items {
		if (t == trackSmall && w.needSmall) || (t == trackLarge && w.needLarge) {
			pending = append(pending, w)
			texts = append(texts, w.norm)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	model := o.opts.ModelSmall
	if t == trackLarge {
		model = o.opts.ModelLarge
	}
	vectors, dim, err := o.embedder.Embed(ctx, texts, model)
	if err != nil {
		return fmt.Errorf("embed %d texts with %s: %w", len(texts), model, err)
	}

	for i, w := range pending {
		if t == trackSmall {
			w.row.EmbeddingSmall = vectors[i]
			w.row.DimSmall = dim
			w.row.ModelNameSmall = model
			w.mark(models.ColEmbeddingSmall)
			w.mark(models.ColDimSmall)
			w.mark(models.ColModelNameSmall)
			sum.EmbeddedSmall++
		} else {
			w.row.EmbeddingLarge = vectors[i]
			w.row.DimLarge = dim
			w.row.ModelNameLarge = model
			w.mark(models.ColEmbeddingLarge)
			w.mark(models.ColDimLarge)
			w.mark(models.ColModelNameLarge)
			sum.EmbeddedLarge++
		}
		// The hash always reflects the text behind the latest successful
		// embedding of either vector.
		w.row.TextHash = w.hash
		w.row.Provider = o.opts.Provider
		if w.orig == nil || w.orig.TextHash != w.hash {
			w.mark(models.ColTextHash)
		}
		if w.orig == nil || w.orig.Provider != o.opts.Provider {
			w.mark(models.ColProvider)
		}
	}
	return nil
}

func (o *Orchestrator) estimate(items []*work, sum *Summary) {
	var smallTexts, largeTexts []string
	for _, w := range items {
		if w.needSmall {
			smallTexts = append(smallTexts, w.norm)
		}
		if w.needLarge {
			largeTexts = append(largeTexts, w.norm)
		}
	}
	if len(smallTexts) > 0 {
		tokens := embedding.ApproxTokens(smallTexts)
		sum.EstimatedTokens += tokens
		sum.EstimatedDollars += embedding.EstimateCost(o.opts.ModelSmall, tokens)
	}
	if len(largeTexts) > 0 {
		tokens := embedding.ApproxTokens(largeTexts)
		sum.EstimatedTokens += tokens
		sum.EstimatedDollars += embedding.EstimateCost(o.opts.ModelLarge, tokens)
	}
}
