package answer

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpekel-labs/scholarag/internal/sparse"
	"github.com/kpekel-labs/scholarag/internal/vectorstore"
	"github.com/kpekel-labs/scholarag/pkg/llmprovider"
	"github.com/kpekel-labs/scholarag/pkg/rerank"
)

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, nil
}
func (f *fakeEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return make([]float32, f.dim), nil
}
func (f *fakeEmbedder) Dimension() int    { return f.dim }
func (f *fakeEmbedder) ModelName() string { return "fake-embed" }
func (f *fakeEmbedder) Close() error      { return nil }

type fakeStore struct {
	results        []vectorstore.QueryResult
	queryErr       error
	lastSparse     *sparse.Vector
	lastDense      []float32
	lastFilter     vectorstore.Filter
	supportsHybrid bool
}

func (f *fakeStore) Upsert(ctx context.Context, records []vectorstore.Record) error { return nil }
func (f *fakeStore) Query(ctx context.Context, dense []float32, sparseVec *sparse.Vector, topK int, filter vectorstore.Filter, includeMetadata bool) ([]vectorstore.QueryResult, error) {
	f.lastDense = dense
	f.lastSparse = sparseVec
	f.lastFilter = filter
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.results, nil
}
func (f *fakeStore) DeleteByIDs(ctx context.Context, ids []string) error                { return nil }
func (f *fakeStore) DeleteByFilter(ctx context.Context, filter vectorstore.Filter) error { return nil }
func (f *fakeStore) DeleteAll(ctx context.Context) error                                { return nil }
func (f *fakeStore) Describe(ctx context.Context) (vectorstore.Stats, error)             { return vectorstore.Stats{}, nil }
func (f *fakeStore) SupportsHybrid() bool { return f.supportsHybrid }
func (f *fakeStore) Close() error         { return nil }

type fakeLLM struct {
	response string
	err      error
}

func (f *fakeLLM) ModelName() string    { return "fake-llm" }
func (f *fakeLLM) Temperature() float32 { return 0.1 }
func (f *fakeLLM) MaxTokens() int       { return 1000 }
func (f *fakeLLM) Invoke(ctx context.Context, messages []llmprovider.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func sampleResults() []vectorstore.QueryResult {
	return []vectorstore.QueryResult{
		{ID: "p1_page_1_chunk_0", Score: 0.9, Metadata: map[string]any{
			"text": "transformers replace recurrence with attention", "source": "input_dir/p1.pdf",
			"section": "Introduction", "paper_id": "p1", "title": "Attention Is All You Need",
			"chunk_type": "section_content", "page": float64(1), "citations": []any{"(Vaswani et al., 2017)"},
		}},
		{ID: "p1_page_2_chunk_1", Score: 0.8, Metadata: map[string]any{
			"text": "the model achieves state of the art bleu scores", "source": "input_dir/p1.pdf",
			"section": "Results", "paper_id": "p1", "title": "Attention Is All You Need",
			"chunk_type": "section_content", "page": float64(2),
		}},
	}
}

func TestAsk_HappyPath(t *testing.T) {
	store := &fakeStore{results: sampleResults()}
	llm := &fakeLLM{response: "Transformers use self-attention."}
	engine := New(Config{}, &fakeEmbedder{dim: 4}, nil, store, rerank.NoOpReranker{}, llm, nil)

	ans, err := engine.Ask(context.Background(), "What is a transformer?", 0)
	require.NoError(t, err)
	assert.Equal(t, "Transformers use self-attention.", ans.Answer)
	assert.Len(t, ans.Sources, 2)
	assert.Equal(t, 1, ans.Sources[0].Rank)
	assert.True(t, ans.Metadata.ResearchPaperAware)
	assert.Equal(t, "fake-llm", ans.Metadata.ModelUsed)
	assert.Contains(t, ans.Metadata.SectionsReferenced, "Introduction")
	assert.Contains(t, ans.Metadata.PapersReferenced, "p1")
	assert.Contains(t, ans.Metadata.CitationsFound, "(Vaswani et al., 2017)")
}

func TestAsk_RerankErrorFallsBackToOriginalOrder(t *testing.T) {
	store := &fakeStore{results: sampleResults()}
	llm := &fakeLLM{response: "answer"}
	failingReranker := failingRerankerStub{}
	engine := New(Config{}, &fakeEmbedder{dim: 4}, nil, store, failingReranker, llm, nil)

	ans, err := engine.Ask(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.False(t, ans.Metadata.Reranked)
	assert.Len(t, ans.Sources, 2)
}

type failingRerankerStub struct{}

func (failingRerankerStub) Rerank(ctx context.Context, query string, documents []rerank.Document, topK int) ([]rerank.Document, error) {
	return nil, errors.New("rerank provider down")
}

func TestAsk_GenerateErrorPropagates(t *testing.T) {
	store := &fakeStore{results: sampleResults()}
	llm := &fakeLLM{err: errors.New("llm down")}
	engine := New(Config{}, &fakeEmbedder{dim: 4}, nil, store, rerank.NoOpReranker{}, llm, nil)

	_, err := engine.Ask(context.Background(), "q", 0)
	assert.Error(t, err)
}

func TestAsk_UsesHybridWhenSparseFitted(t *testing.T) {
	enc := sparse.NewEncoder(sparse.DefaultParameters())
	require.NoError(t, enc.Fit([]string{"transformers use attention", "recurrent models are slow"}))

	store := &fakeStore{results: sampleResults(), supportsHybrid: true}
	llm := &fakeLLM{response: "answer"}
	engine := New(Config{Alpha: 0.5}, &fakeEmbedder{dim: 4}, enc, store, rerank.NoOpReranker{}, llm, nil)

	_, err := engine.Ask(context.Background(), "attention", 0)
	require.NoError(t, err)
	assert.NotNil(t, store.lastSparse)
}

// TestAsk_BlendsKeywordOverlapWhenStoreCannotFuseSparseNatively covers
// the dense-only fallback: a BM25-fitted query still gets a
// keyword-overlap boost even though the store dropped sparseVec because
// SupportsHybrid() is false.
func TestAsk_BlendsKeywordOverlapWhenStoreCannotFuseSparseNatively(t *testing.T) {
	enc := sparse.NewEncoder(sparse.DefaultParameters())
	require.NoError(t, enc.Fit([]string{"transformers use attention", "recurrent models are slow"}))

	results := []vectorstore.QueryResult{
		{ID: "low", Score: 0.5, Metadata: map[string]any{"text": "unrelated content about gardening"}},
		{ID: "high", Score: 0.4, Metadata: map[string]any{"text": "attention attention attention mechanism"}},
	}
	store := &fakeStore{results: results, supportsHybrid: false}
	llm := &fakeLLM{response: "answer"}
	engine := New(Config{Alpha: 0.5}, &fakeEmbedder{dim: 4}, enc, store, rerank.NoOpReranker{}, llm, nil)

	docs, err := engine.Retrieve(context.Background(), "attention mechanism", 0, nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "attention attention attention mechanism", docs[0].PageContent, "keyword overlap should promote the more relevant dense-only match")
}

func TestAsk_SkipsSparseWhenEncoderNotFitted(t *testing.T) {
	enc := sparse.NewEncoder(sparse.DefaultParameters())
	store := &fakeStore{results: sampleResults()}
	llm := &fakeLLM{response: "answer"}
	engine := New(Config{}, &fakeEmbedder{dim: 4}, enc, store, rerank.NoOpReranker{}, llm, nil)

	_, err := engine.Ask(context.Background(), "q", 0)
	require.NoError(t, err)
	assert.Nil(t, store.lastSparse)
}

func TestAsk_RetrieveErrorPropagates(t *testing.T) {
	store := &fakeStore{queryErr: errors.New("index unreachable")}
	llm := &fakeLLM{response: "answer"}
	engine := New(Config{}, &fakeEmbedder{dim: 4}, nil, store, rerank.NoOpReranker{}, llm, nil)

	_, err := engine.Ask(context.Background(), "q", 0)
	assert.Error(t, err)
}

func TestRetrieve_EmptyResultsReturnsEmptySlice(t *testing.T) {
	store := &fakeStore{results: nil}
	engine := New(Config{}, &fakeEmbedder{dim: 4}, nil, store, rerank.NoOpReranker{}, &fakeLLM{}, nil)

	docs, err := engine.Retrieve(context.Background(), "q", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestAskWithFilter_PassesFilterThrough(t *testing.T) {
	store := &fakeStore{results: sampleResults()}
	llm := &fakeLLM{response: "answer"}
	engine := New(Config{}, &fakeEmbedder{dim: 4}, nil, store, rerank.NoOpReranker{}, llm, nil)

	filter := vectorstore.BuildOrEqFilter("source", []string{"input_dir/p1.pdf"})
	_, err := engine.AskWithFilter(context.Background(), "q", 0, filter)
	require.NoError(t, err)
	assert.Equal(t, filter, store.lastFilter)
}
