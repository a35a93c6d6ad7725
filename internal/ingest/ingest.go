// Package ingest implements the ingestion orchestrator (C6): turn PDF
// bytes into vectors in the index, driving C1 (structural analysis), C2
// (chunking), C3/C4 (dense/sparse encoding), and C5 (the vector store),
// while keeping C10's registry record in lockstep.
//
// Batches within a single ingest are embedded and upserted one at a
// time, strictly in increasing chunk-index order.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/kpekel-labs/scholarag/internal/chunking"
	"github.com/kpekel-labs/scholarag/internal/ragerr"
	"github.com/kpekel-labs/scholarag/internal/registry"
	"github.com/kpekel-labs/scholarag/internal/sparse"
	"github.com/kpekel-labs/scholarag/internal/structural"
	"github.com/kpekel-labs/scholarag/internal/vectorstore"
	"github.com/kpekel-labs/scholarag/pkg/embedding"
	"github.com/kpekel-labs/scholarag/pkg/externalregistry"
	"github.com/kpekel-labs/scholarag/pkg/ragdoc"
)

// Config configures the orchestrator's filesystem and batching behavior.
type Config struct {
	InputDir  string `yaml:"input_dir"`
	BatchSize int    `yaml:"batch_size"`
}

func (c *Config) SetDefaults() {
	if c.InputDir == "" {
		c.InputDir = "input_dir"
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
}

// Orchestrator is the C6 capability.
type Orchestrator struct {
	cfg       Config
	chunkCfg  chunking.Config
	embedder  embedding.Provider
	sparseEnc *sparse.Encoder
	store     vectorstore.Store
	registry  *registry.Registry
	extClient *externalregistry.Client
	logger    *slog.Logger
}

func New(
	cfg Config,
	chunkCfg chunking.Config,
	embedder embedding.Provider,
	sparseEnc *sparse.Encoder,
	store vectorstore.Store,
	reg *registry.Registry,
	extClient *externalregistry.Client,
	logger *slog.Logger,
) *Orchestrator {
	cfg.SetDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		cfg:       cfg,
		chunkCfg:  chunkCfg,
		embedder:  embedder,
		sparseEnc: sparseEnc,
		store:     store,
		registry:  reg,
		extClient: extClient,
		logger:    logger,
	}
}

// Request is a single ingestion call's input.
type Request struct {
	FileBytes []byte
	Filename  string
	PaperID   string // optional override; defaults to the filename stem
}

// Result is the outcome of a completed (or short-circuited) ingestion.
type Result struct {
	PaperID        string
	Status         registry.Status
	ChunksCount    int
	VectorStoreIDs []string
}

// Ingest runs the six-step ingestion algorithm. force bypasses the
// re-ingestion short-circuit (an already-completed paper_id is normally
// returned as-is without re-reading the PDF).
func (o *Orchestrator) Ingest(ctx context.Context, req Request, force bool) (Result, error) {
	if len(req.FileBytes) == 0 {
		return Result{}, ragerr.NewInputInvalidError("file_bytes", "must not be empty")
	}
	if req.Filename == "" {
		return Result{}, ragerr.NewInputInvalidError("filename", "must not be empty")
	}

	paperID := req.PaperID
	if paperID == "" {
		paperID = strings.TrimSuffix(strings.TrimSuffix(req.Filename, ".pdf"), ".PDF")
	}

	if rec, ok := o.registry.Get(paperID); ok && rec.Status == registry.StatusCompleted {
		if !force {
			return Result{
				PaperID:        rec.PaperID,
				Status:         rec.Status,
				ChunksCount:    rec.ChunkCount,
				VectorStoreIDs: rec.VectorIDs,
			}, nil
		}
		// completed is terminal, so a forced re-ingest starts a new record.
		o.registry.Remove(paperID)
	}

	if err := os.MkdirAll(o.cfg.InputDir, 0o755); err != nil {
		return Result{}, fmt.Errorf("ingest: create input dir: %w", err)
	}
	destPath := filepath.Join(o.cfg.InputDir, req.Filename)
	if err := os.WriteFile(destPath, req.FileBytes, 0o644); err != nil {
		return Result{}, fmt.Errorf("ingest: persist file: %w", err)
	}

	o.registry.Register(paperID, vectorstore.SourcePath(o.cfg.InputDir, req.Filename))
	if err := o.registry.MarkProcessing(paperID); err != nil {
		return Result{}, err
	}

	pages, err := loadPages(ctx, destPath)
	if err != nil {
		_ = o.registry.MarkFailed(paperID, err)
		return Result{}, ragerr.NewIngestFailedError(paperID, err)
	}

	result, err := o.runPipeline(ctx, paperID, req.Filename, pages)
	if err != nil {
		_ = o.registry.MarkFailed(paperID, err)
		return Result{}, ragerr.NewIngestFailedError(paperID, err)
	}

	if err := o.registry.MarkCompleted(paperID, result.ChunksCount, result.VectorStoreIDs); err != nil {
		return Result{}, err
	}
	result.Status = registry.StatusCompleted
	return result, nil
}

func (o *Orchestrator) runPipeline(ctx context.Context, paperID, filename string, pages []chunking.Page) (Result, error) {
	fullText := concatenatePageTexts(pages)
	extracted := structural.ExtractPaperMetadata(fullText, filename)
	arxivID, hasArxiv := structural.ExtractArxivID(fullText)

	paper := ragdoc.PaperMetadata{
		PaperID:    paperID,
		Title:      extracted.Title,
		Authors:    extracted.Authors,
		Year:       extracted.Year,
		HasYear:    extracted.HasYear,
		Venue:      extracted.Venue,
		ArxivID:    arxivID,
		HasArxivID: hasArxiv,
		Abstract:   structural.ExtractAbstract(fullText),
		Categories: structural.ExtractCategories(fullText),
	}

	chunks := chunking.Chunk(pages, filename, paper, o.chunkCfg)
	if len(chunks) == 0 {
		return Result{}, fmt.Errorf("ingest: %s produced no chunks", filename)
	}

	// metadata.source is normalized to the same "input_dir/<filename>"
	// form session-scoped filters query against (vectorstore.SourcePath
	// is the single place this convention is expressed); chunk IDs stay
	// keyed off the bare filename since chunking.Chunk has no notion of
	// input_dir.
	sourcePath := vectorstore.SourcePath(o.cfg.InputDir, filename)
	for i := range chunks {
		chunks[i].Source = sourcePath
	}

	if hasArxiv && o.extClient != nil {
		_, err := o.extClient.CreateArxivPaper(ctx, externalregistry.ArxivPaper{
			PaperID: paperID,
			ArxivID: arxivID,
			Title:   paper.Title,
		})
		if err != nil {
			o.logger.Warn("forwarding arXiv metadata failed, continuing ingestion", "paper_id", paperID, "error", err)
		}
	}

	if o.sparseEnc != nil {
		corpusTexts := make([]string, len(chunks))
		for i, c := range chunks {
			corpusTexts[i] = c.Text
		}
		if err := o.sparseEnc.EnsureFitted(func() ([]string, error) { return corpusTexts, nil }); err != nil {
			o.logger.Warn("bm25 fit failed, proceeding dense-only", "error", err)
		}
	}

	vectorIDs, err := o.upsertBatches(ctx, chunks)
	if err != nil {
		return Result{}, err
	}

	return Result{
		PaperID:        paperID,
		ChunksCount:    len(chunks),
		VectorStoreIDs: vectorIDs,
	}, nil
}

// upsertBatches embeds and upserts chunks in batches of at most
// cfg.BatchSize, strictly in increasing global chunk index order.
func (o *Orchestrator) upsertBatches(ctx context.Context, chunks []ragdoc.Chunk) ([]string, error) {
	var allIDs []string

	for start := 0; start < len(chunks); start += o.cfg.BatchSize {
		end := start + o.cfg.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[start:end]

		texts := make([]string, len(batch))
		for i, c := range batch {
			texts[i] = c.Text
		}

		dense, err := o.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("ingest: embed batch %d-%d: %w", start, end, err)
		}

		var sparseVecs []sparse.Vector
		if o.sparseEnc != nil && o.sparseEnc.Fitted() {
			sparseVecs, err = o.sparseEnc.EncodeDocuments(texts)
			if err != nil {
				o.logger.Warn("sparse encoding failed, upserting dense-only", "error", err)
				sparseVecs = nil
			}
		}

		records := make([]vectorstore.Record, len(batch))
		for i, c := range batch {
			rec := vectorstore.Record{
				ID:       c.ID,
				Values:   dense[i],
				Metadata: vectorstore.SanitizeMetadata(c.Metadata()),
			}
			if sparseVecs != nil {
				v := sparseVecs[i]
				rec.SparseValues = &v
			}
			records[i] = rec
			allIDs = append(allIDs, c.ID)
		}

		if err := o.store.Upsert(ctx, records); err != nil {
			return nil, fmt.Errorf("ingest: upsert batch %d-%d: %w", start, end, err)
		}
	}

	return allIDs, nil
}

// RemoveDocumentOpts tunes how remove_document matches vectors against
// the requested basename. metadata.source is always stored as
// vectorstore.SourcePath(input_dir, basename); AllowSubstringMatch
// follows the Python original's "metadata.source contains basename"
// check instead of requiring equality against the normalized path,
// which also tolerates documents ingested under a different input_dir.
type RemoveDocumentOpts struct {
	AllowSubstringMatch bool
}

// RemoveDocument queries the index with a dummy vector at a top_k equal
// to the index's total vector count, deletes every match whose
// metadata.source matches basename, and removes the registry record.
func (o *Orchestrator) RemoveDocument(ctx context.Context, basename string, opts RemoveDocumentOpts) (int, error) {
	stats, err := o.store.Describe(ctx)
	if err != nil {
		return 0, fmt.Errorf("ingest: describe index: %w", err)
	}
	if stats.TotalCount == 0 {
		return 0, nil
	}

	dummy := make([]float32, o.embedder.Dimension())
	results, err := o.store.Query(ctx, dummy, nil, stats.TotalCount, nil, true)
	if err != nil {
		return 0, fmt.Errorf("ingest: query for removal: %w", err)
	}

	normalizedSource := vectorstore.SourcePath(o.cfg.InputDir, basename)
	var toDelete []string
	for _, r := range results {
		source, _ := r.Metadata["source"].(string)
		matched := false
		if opts.AllowSubstringMatch {
			matched = strings.Contains(source, basename)
		} else {
			matched = source == normalizedSource
		}
		if matched {
			toDelete = append(toDelete, r.ID)
		}
	}
	if len(toDelete) == 0 {
		return 0, nil
	}

	if err := o.store.DeleteByIDs(ctx, toDelete); err != nil {
		return 0, fmt.Errorf("ingest: delete matched vectors: %w", err)
	}

	paperID := strings.TrimSuffix(strings.TrimSuffix(basename, ".pdf"), ".PDF")
	o.registry.Remove(paperID)

	return len(toDelete), nil
}

func concatenatePageTexts(pages []chunking.Page) string {
	var sb strings.Builder
	for i, p := range pages {
		if i > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}
