package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/kpekel-labs/scholarag/internal/sparse"
)

// Config configures the Pinecone-backed store.
type Config struct {
	APIKey    string `yaml:"api_key"`
	Host      string `yaml:"host"`
	IndexName string `yaml:"index_name"`
	Dimension int    `yaml:"embedding_dim"`
	Metric    string `yaml:"metric"` // expected "dotproduct"
	BatchSize int    `yaml:"batch_size"`
}

// SetDefaults fills unset fields with spec.md §6's configuration
// defaults.
func (c *Config) SetDefaults() {
	if c.Metric == "" {
		c.Metric = "dotproduct"
	}
	if c.Dimension == 0 {
		c.Dimension = 1024
	}
	if c.BatchSize == 0 {
		c.BatchSize = 100
	}
}

// PineconeStore implements Store against a Pinecone index. Upsert/Query/
// Delete logic is grounded directly on the teacher's pinecone database
// provider; hybrid support is probed once per process and cached.
type PineconeStore struct {
	client    *pinecone.Client
	cfg       Config
	logger    *slog.Logger

	mu             sync.RWMutex
	hybridProbed   bool
	hybridSupported bool

	upsertCount atomic.Int64
}

// NewPineconeStore constructs a store against the configured Pinecone
// index. The index must already exist: EnsureIndex only checks that it
// does and returns an error otherwise; nothing in this package creates
// an index.
func NewPineconeStore(cfg Config, logger *slog.Logger) (*PineconeStore, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("vectorstore: pinecone requires an API key")
	}
	cfg.SetDefaults()

	client, err := pinecone.NewClient(pinecone.NewClientParams{
		ApiKey: cfg.APIKey,
		Host:   cfg.Host,
	})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: create pinecone client: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &PineconeStore{client: client, cfg: cfg, logger: logger}, nil
}

func (s *PineconeStore) getIndexConnection(ctx context.Context) (*pinecone.IndexConnection, error) {
	idx, err := s.client.DescribeIndex(ctx, s.cfg.IndexName)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: describe index %s: %w", s.cfg.IndexName, err)
	}
	conn, err := s.client.Index(pinecone.NewIndexConnParams{Host: idx.Host})
	if err != nil {
		return nil, fmt.Errorf("vectorstore: open index connection: %w", err)
	}
	return conn, nil
}

// EnsureIndex verifies the configured index exists, matching the
// teacher's CreateCollection behavior of checking rather than creating
// (Pinecone serverless indexes are provisioned out of band).
func (s *PineconeStore) EnsureIndex(ctx context.Context) error {
	indexes, err := s.client.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("vectorstore: list indexes: %w", err)
	}
	for _, idx := range indexes {
		if idx.Name == s.cfg.IndexName {
			return nil
		}
	}
	return fmt.Errorf("vectorstore: index %s does not exist; create it with dimension %d and metric %s before use", s.cfg.IndexName, s.cfg.Dimension, s.cfg.Metric)
}

// Upsert writes records in batches of at most cfg.BatchSize. If a batch
// carrying sparse values fails at the transport, it retries once without
// sparse_values using the same ids; if that also fails, the error
// propagates.
func (s *PineconeStore) Upsert(ctx context.Context, records []Record) error {
	conn, err := s.getIndexConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	for i := 0; i < len(records); i += s.cfg.BatchSize {
		end := i + s.cfg.BatchSize
		if end > len(records) {
			end = len(records)
		}
		batch := records[i:end]

		if err := s.upsertBatch(ctx, conn, batch, true); err != nil {
			hasSparse := false
			for _, r := range batch {
				if r.SparseValues != nil {
					hasSparse = true
					break
				}
			}
			if !hasSparse {
				return err
			}
			s.logger.Warn("hybrid upsert failed, retrying dense-only", "error", err, "batch_start", i)
			if err := s.upsertBatch(ctx, conn, batch, false); err != nil {
				return fmt.Errorf("vectorstore: upsert failed after dense-only retry: %w", err)
			}
		}
		s.upsertCount.Add(int64(len(batch)))
	}
	return nil
}

func (s *PineconeStore) upsertBatch(ctx context.Context, conn *pinecone.IndexConnection, batch []Record, withSparse bool) error {
	vectors := make([]*pinecone.Vector, 0, len(batch))
	for _, r := range batch {
		var meta *pinecone.Metadata
		if len(r.Metadata) > 0 {
			var err error
			meta, err = structpb.NewStruct(SanitizeMetadata(r.Metadata))
			if err != nil {
				return fmt.Errorf("vectorstore: convert metadata for %s: %w", r.ID, err)
			}
		}

		vec := &pinecone.Vector{Id: r.ID, Values: r.Values, Metadata: meta}
		if withSparse && r.SparseValues != nil && len(r.SparseValues.Indices) > 0 {
			vec.SparseValues = &pinecone.SparseValues{
				Indices: r.SparseValues.Indices,
				Values:  r.SparseValues.Values,
			}
		}
		vectors = append(vectors, vec)
	}

	_, err := conn.UpsertVectors(ctx, vectors)
	if err != nil {
		return fmt.Errorf("vectorstore: upsert vectors: %w", err)
	}
	return nil
}

// Query runs a nearest-neighbor query, sending the sparse vector for
// hybrid dense+sparse scoring when sparseVec is non-empty and the index
// has been probed to support it; otherwise the query is dense-only.
func (s *PineconeStore) Query(ctx context.Context, dense []float32, sparseVec *sparse.Vector, topK int, filter Filter, includeMetadata bool) ([]QueryResult, error) {
	conn, err := s.getIndexConnection(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	var metadataFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		metadataFilter, err = structpb.NewStruct(filter)
		if err != nil {
			return nil, fmt.Errorf("vectorstore: convert filter: %w", err)
		}
	}

	req := &pinecone.QueryByVectorValuesRequest{
		Vector:          dense,
		TopK:            uint32(topK),
		MetadataFilter:  metadataFilter,
		IncludeMetadata: includeMetadata,
	}
	if sparseVec != nil && s.SupportsHybrid() && len(sparseVec.Indices) > 0 {
		req.SparseValues = &pinecone.SparseValues{Indices: sparseVec.Indices, Values: sparseVec.Values}
	}

	resp, err := conn.QueryByVectorValues(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vectorstore: query: %w", err)
	}

	return convertMatches(resp.Matches), nil
}

func convertMatches(matches []*pinecone.ScoredVector) []QueryResult {
	results := make([]QueryResult, 0, len(matches))
	for _, m := range matches {
		if m.Vector == nil {
			continue
		}
		metadata := map[string]any{}
		if m.Vector.Metadata != nil {
			metadata = m.Vector.Metadata.AsMap()
		}
		results = append(results, QueryResult{ID: m.Vector.Id, Score: m.Score, Metadata: metadata})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results
}

// DeleteByIDs deletes the given vector ids.
func (s *PineconeStore) DeleteByIDs(ctx context.Context, ids []string) error {
	conn, err := s.getIndexConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	const batchSize = 1000
	for i := 0; i < len(ids); i += batchSize {
		end := i + batchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := conn.DeleteVectorsById(ctx, ids[i:end]); err != nil {
			return fmt.Errorf("vectorstore: delete by ids: %w", err)
		}
	}
	return nil
}

// DeleteByFilter deletes every vector matching filter.
func (s *PineconeStore) DeleteByFilter(ctx context.Context, filter Filter) error {
	conn, err := s.getIndexConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	var metadataFilter *pinecone.MetadataFilter
	if len(filter) > 0 {
		metadataFilter, err = structpb.NewStruct(filter)
		if err != nil {
			return fmt.Errorf("vectorstore: convert filter: %w", err)
		}
	}
	if err := conn.DeleteVectorsByFilter(ctx, metadataFilter); err != nil {
		return fmt.Errorf("vectorstore: delete by filter: %w", err)
	}
	return nil
}

// DeleteAll deletes the entire namespace's contents and invalidates
// process-level caches the way an index recreation would (§4.4).
func (s *PineconeStore) DeleteAll(ctx context.Context) error {
	conn, err := s.getIndexConnection(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := conn.DeleteAllVectorsInNamespace(ctx); err != nil {
		return fmt.Errorf("vectorstore: delete all: %w", err)
	}
	s.Reset()
	return nil
}

// Describe returns index-level statistics.
func (s *PineconeStore) Describe(ctx context.Context) (Stats, error) {
	conn, err := s.getIndexConnection(ctx)
	if err != nil {
		return Stats{}, err
	}
	defer conn.Close()

	resp, err := conn.DescribeIndexStats(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("vectorstore: describe index stats: %w", err)
	}

	namespaces := make([]string, 0, len(resp.Namespaces))
	var total uint32
	for name, ns := range resp.Namespaces {
		namespaces = append(namespaces, name)
		total += ns.VectorCount
	}

	return Stats{
		TotalCount: int(total),
		Dimension:  int(resp.Dimension),
		Fullness:   float64(resp.IndexFullness),
		Namespaces: namespaces,
	}, nil
}

// ProbeHybridSupport issues a synthetic no-result query carrying a
// minimal sparse vector; if the server rejects it, hybrid retrieval is
// disabled for the life of the process (§4.4's capability probe). A
// rejection because the backend simply doesn't support hybrid queries
// is an expected downgrade, not an error; ProbeHybridSupport only
// returns an error when it couldn't even reach the index to ask.
func (s *PineconeStore) ProbeHybridSupport(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hybridProbed {
		return nil
	}
	s.hybridProbed = true

	conn, err := s.getIndexConnection(ctx)
	if err != nil {
		s.hybridSupported = false
		return fmt.Errorf("vectorstore: probe hybrid support: %w", err)
	}
	defer conn.Close()

	_, err = conn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector:       make([]float32, s.cfg.Dimension),
		SparseValues: &pinecone.SparseValues{Indices: []uint32{0}, Values: []float32{0.0}},
		TopK:         1,
	})
	s.hybridSupported = err == nil
	if err != nil {
		s.logger.Info("vector store does not support hybrid queries; downgrading to dense-only", "error", err)
	}
	return nil
}

// SupportsHybrid reports the cached probe result. Defaults to false
// (dense-only) until ProbeHybridSupport has run.
func (s *PineconeStore) SupportsHybrid() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hybridProbed && s.hybridSupported
}

// Reset invalidates process-level caches derived from the index
// connection (e.g. the hybrid-support probe), to be called whenever the
// index is recreated.
func (s *PineconeStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hybridProbed = false
	s.hybridSupported = false
}

func (s *PineconeStore) Close() error { return nil }

// KeywordOverlapScore approximates keyword relevance as the fraction of
// query terms that literally appear in content, grounded on the
// teacher's RRF-fallback fusion technique. The answering engine blends
// this into dense-only results (internal/answer) when the store's
// SupportsHybrid() is false, so sparse term matches aren't silently
// dropped entirely just because the backend can't fuse them natively.
func KeywordOverlapScore(content, query string) float32 {
	queryLower := strings.ToLower(query)
	keywords := strings.Fields(queryLower)
	if len(keywords) == 0 {
		return 0
	}
	contentLower := strings.ToLower(content)
	matches := 0
	for _, k := range keywords {
		if strings.Contains(contentLower, k) {
			matches++
		}
	}
	return float32(matches) / float32(len(keywords))
}
