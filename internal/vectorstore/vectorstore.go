// Package vectorstore implements the vector index adapter (C5): upsert,
// hybrid dense+sparse query, delete, and describe against a Pinecone
// index, plus the single metadata-sanitization normalizer required at
// the index write boundary.
package vectorstore

import (
	"context"

	"github.com/kpekel-labs/scholarag/internal/sparse"
)

// Record is one (id, dense vector, optional sparse vector, metadata)
// tuple destined for upsert.
type Record struct {
	ID           string
	Values       []float32
	SparseValues *sparse.Vector
	Metadata     map[string]any
}

// QueryResult is one scored match returned by Query, ordered by
// descending score.
type QueryResult struct {
	ID       string
	Score    float32
	Metadata map[string]any
}

// Filter is a boolean predicate over metadata keys. The core relies only
// on equality ($eq) and disjunction ($or), built via BuildOrEqFilter.
type Filter map[string]any

// Stats mirrors Pinecone's describe_index_stats response shape.
type Stats struct {
	TotalCount int
	Dimension  int
	Fullness   float64
	Namespaces []string
}

// Store is the C5 capability: upsert/query/delete/describe against a
// dot-product vector index with optional hybrid dense+sparse scoring.
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, dense []float32, sparseVec *sparse.Vector, topK int, filter Filter, includeMetadata bool) ([]QueryResult, error)
	DeleteByIDs(ctx context.Context, ids []string) error
	DeleteByFilter(ctx context.Context, filter Filter) error
	DeleteAll(ctx context.Context) error
	Describe(ctx context.Context) (Stats, error)
	SupportsHybrid() bool
	Close() error
}

// HybridProber is implemented by Store backends that need an explicit,
// one-time startup step before hybrid retrieval can be trusted: confirm
// the configured index exists, then probe whether it accepts a
// dense+sparse query at all (§4.4's capability probe must run "before
// enabling hybrid retrieval"). It is kept separate from Store itself
// since in-memory test doubles have no index-existence or capability
// distinction to make; callers type-assert for it where the distinction
// matters (pkg/ragroot.Root.PrepareStore).
type HybridProber interface {
	EnsureIndex(ctx context.Context) error
	ProbeHybridSupport(ctx context.Context) error
}

// BuildOrEqFilter builds the "{$or: [{source: {$eq: v}} ...]}" filter
// shape spec.md §4.8 requires for session-scoped retrieval.
func BuildOrEqFilter(key string, values []string) Filter {
	if len(values) == 0 {
		return nil
	}
	clauses := make([]map[string]any, 0, len(values))
	for _, v := range values {
		clauses = append(clauses, map[string]any{key: map[string]any{"$eq": v}})
	}
	return Filter{"$or": clauses}
}

// SourcePath normalizes the "input_dir/<filename>" convention used for
// both writing metadata.source and building session-scoped filters, so
// the convention is expressed in exactly one place (§9 open question).
func SourcePath(inputDir, filename string) string {
	if inputDir == "" {
		return filename
	}
	if inputDir[len(inputDir)-1] == '/' {
		return inputDir + filename
	}
	return inputDir + "/" + filename
}
