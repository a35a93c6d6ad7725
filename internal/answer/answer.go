// Package answer implements the answering engine (C8): retrieve, rerank,
// compose a fixed-template prompt, and generate a cited answer.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/kpekel-labs/scholarag/internal/promptsafety"
	"github.com/kpekel-labs/scholarag/internal/sparse"
	"github.com/kpekel-labs/scholarag/internal/vectorstore"
	"github.com/kpekel-labs/scholarag/pkg/embedding"
	"github.com/kpekel-labs/scholarag/pkg/llmprovider"
	"github.com/kpekel-labs/scholarag/pkg/rerank"
)

// Config tunes the retrieval/generation parameters spec.md §4.7 fixes as
// defaults but allows overriding.
type Config struct {
	DefaultTopK    int     `yaml:"default_top_k"`
	Alpha          float64 `yaml:"hybrid_alpha"`
	TopSources     int     `yaml:"top_sources"`
	SourceMaxChars int     `yaml:"source_max_chars"`
}

func (c *Config) SetDefaults() {
	if c.DefaultTopK <= 0 {
		c.DefaultTopK = 20
	}
	if c.Alpha == 0 {
		c.Alpha = 0.5
	}
	if c.TopSources <= 0 {
		c.TopSources = 5
	}
	if c.SourceMaxChars <= 0 {
		c.SourceMaxChars = 500
	}
}

// Engine is the C8 capability.
type Engine struct {
	cfg       Config
	embedder  embedding.Provider
	sparseEnc *sparse.Encoder
	store     vectorstore.Store
	reranker  rerank.Reranker
	llm       llmprovider.Provider
	logger    *slog.Logger
}

func New(cfg Config, embedder embedding.Provider, sparseEnc *sparse.Encoder, store vectorstore.Store, reranker rerank.Reranker, llm llmprovider.Provider, logger *slog.Logger) *Engine {
	cfg.SetDefaults()
	if reranker == nil {
		reranker = rerank.NoOpReranker{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{cfg: cfg, embedder: embedder, sparseEnc: sparseEnc, store: store, reranker: reranker, llm: llm, logger: logger}
}

// Source is one post-rerank document surfaced in the answer response.
type Source struct {
	Rank           int
	Content        string
	Section        string
	Subsection     string
	Citations      []string
	PaperID        string
	Title          string
	ChunkType      string
	RelevanceScore float32
}

// Metadata is the deduplicated-union response metadata spec.md §4.7
// requires.
type Metadata struct {
	TotalSources       int
	ModelUsed          string
	Reranked           bool
	SectionsReferenced []string
	CitationsFound     []string
	PapersReferenced   []string
	ResearchPaperAware bool

	// Session-scoped fields, set by the session RAG coordinator when a
	// query was restricted to a session's attached papers.
	SessionID            string
	SessionScoped        bool
	SessionFilesSearched []string
	FellBackToUnscoped   bool
}

// Answer is the ask(question, top_k) result.
type Answer struct {
	Question string
	Answer   string
	Sources  []Source
	Metadata Metadata
}

// Ask runs the retrieve -> rerank -> generate pipeline. topK <= 0 uses
// cfg.DefaultTopK (20).
func (e *Engine) Ask(ctx context.Context, question string, topK int) (Answer, error) {
	return e.AskWithFilter(ctx, question, topK, nil)
}

// AskWithFilter runs the same pipeline as Ask, constraining retrieval to
// a metadata filter — used by the session RAG coordinator to scope
// retrieval to a session's completed papers.
func (e *Engine) AskWithFilter(ctx context.Context, question string, topK int, filter vectorstore.Filter) (Answer, error) {
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}

	docs, err := e.Retrieve(ctx, question, topK, filter)
	if err != nil {
		return Answer{}, fmt.Errorf("answer: retrieve: %w", err)
	}

	return e.Compose(ctx, question, docs, topK)
}

// Retrieve runs hybrid retrieval and returns the non-empty documents
// ready for reranking, without generating an answer. Exposed so the
// session RAG coordinator can short-circuit on an empty result set
// before ever calling the reranker or LLM.
func (e *Engine) Retrieve(ctx context.Context, question string, topK int, filter vectorstore.Filter) ([]rerank.Document, error) {
	if topK <= 0 {
		topK = e.cfg.DefaultTopK
	}
	results, err := e.query(ctx, question, topK, filter)
	if err != nil {
		return nil, err
	}
	return rerank.FilterEmpty(toDocuments(results)), nil
}

// Compose runs rerank (falling back to original order on error) then
// generation over an already-retrieved document set, building the final
// Answer. Exposed alongside Retrieve so callers needing a custom
// retrieval or fallback strategy (e.g. the session coordinator's
// filter-then-unfiltered retry) can still reuse the rerank/generate
// stage.
func (e *Engine) Compose(ctx context.Context, question string, docs []rerank.Document, topK int) (Answer, error) {
	reranked := true
	finalDocs, err := e.reranker.Rerank(ctx, question, docs, topK)
	if err != nil {
		e.logger.Warn("rerank failed, retaining original order", "error", err)
		finalDocs = docs
		reranked = false
	}

	generated, err := e.generate(ctx, question, finalDocs)
	if err != nil {
		return Answer{}, fmt.Errorf("answer: generate: %w", err)
	}

	return Answer{
		Question: question,
		Answer:   generated,
		Sources:  buildSources(finalDocs, e.cfg.TopSources, e.cfg.SourceMaxChars),
		Metadata: buildMetadata(docs, e.llmModelName(), reranked),
	}, nil
}

func (e *Engine) query(ctx context.Context, question string, topK int, filter vectorstore.Filter) ([]vectorstore.QueryResult, error) {
	dense, err := e.embedder.EmbedQuery(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var sparseVec *sparse.Vector
	if e.sparseEnc != nil && e.sparseEnc.Fitted() {
		v, err := e.sparseEnc.EncodeQuery(question)
		if err == nil && len(v.Indices) > 0 {
			scaled := scaleHybrid(dense, v, e.cfg.Alpha)
			dense = scaled.dense
			sparseVec = &scaled.sparse
		}
	}

	results, err := e.store.Query(ctx, dense, sparseVec, topK, filter, true)
	if err != nil {
		return nil, err
	}

	// The store drops sparseVec silently when it can't fuse it natively
	// (SupportsHybrid() == false); blend in a keyword-overlap signal so a
	// BM25-fitted query isn't purely dense once that happens.
	if sparseVec != nil && !e.store.SupportsHybrid() {
		blendKeywordOverlap(question, results)
	}

	return results, nil
}

// blendKeywordOverlap re-sorts dense-only results by adding a
// keyword-overlap score against each match's stored text, approximating
// the sparse contribution a native hybrid query would have fused in.
func blendKeywordOverlap(query string, results []vectorstore.QueryResult) {
	for i := range results {
		text, _ := results[i].Metadata["text"].(string)
		results[i].Score += vectorstore.KeywordOverlapScore(text, query)
	}
	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
}

type hybridVectors struct {
	dense  []float32
	sparse sparse.Vector
}

// scaleHybrid applies Pinecone's convention for combining dense and
// sparse scores under a single alpha mix parameter: dense values scale
// by (1-alpha), sparse values scale by alpha. alpha=0 is pure dense,
// alpha=1 is pure sparse.
func scaleHybrid(dense []float32, sparseVec sparse.Vector, alpha float64) hybridVectors {
	scaledDense := make([]float32, len(dense))
	for i, v := range dense {
		scaledDense[i] = v * float32(1-alpha)
	}
	scaledSparse := sparse.Vector{
		Indices: sparseVec.Indices,
		Values:  make([]float32, len(sparseVec.Values)),
	}
	for i, v := range sparseVec.Values {
		scaledSparse.Values[i] = v * float32(alpha)
	}
	return hybridVectors{dense: scaledDense, sparse: scaledSparse}
}

func (e *Engine) generate(ctx context.Context, question string, docs []rerank.Document) (string, error) {
	prompt := buildUserPrompt(question, docs)
	return e.llm.Invoke(ctx, []llmprovider.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	})
}

func (e *Engine) llmModelName() string {
	if e.llm == nil {
		return ""
	}
	return e.llm.ModelName()
}

func toDocuments(results []vectorstore.QueryResult) []rerank.Document {
	docs := make([]rerank.Document, 0, len(results))
	for _, r := range results {
		text, _ := r.Metadata["text"].(string)
		source, _ := r.Metadata["source"].(string)
		section, _ := r.Metadata["section"].(string)
		subsection, _ := r.Metadata["subsection"].(string)
		paperID, _ := r.Metadata["paper_id"].(string)
		title, _ := r.Metadata["title"].(string)
		chunkType, _ := r.Metadata["chunk_type"].(string)
		page := 0
		if p, ok := r.Metadata["page"].(float64); ok {
			page = int(p)
		} else if p, ok := r.Metadata["page"].(int); ok {
			page = p
		}
		citations := stringListFromMetadata(r.Metadata["citations"])

		docs = append(docs, rerank.Document{
			PageContent:    text,
			RelevanceScore: r.Score,
			Metadata: rerank.DocumentMetadata{
				Text:       text,
				Source:     source,
				Page:       page,
				Section:    section,
				Subsection: subsection,
				Citations:  citations,
				PaperID:    paperID,
				Title:      title,
				ChunkType:  chunkType,
			},
		})
	}
	return docs
}

func stringListFromMetadata(v any) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func buildSources(docs []rerank.Document, topSources, maxChars int) []Source {
	n := topSources
	if n > len(docs) {
		n = len(docs)
	}
	out := make([]Source, 0, n)
	for i := 0; i < n; i++ {
		d := docs[i]
		out = append(out, Source{
			Rank:           i + 1,
			Content:        promptsafety.Truncate(d.PageContent, maxChars),
			Section:        d.Metadata.Section,
			Subsection:     d.Metadata.Subsection,
			Citations:      d.Metadata.Citations,
			PaperID:        d.Metadata.PaperID,
			Title:          d.Metadata.Title,
			ChunkType:      d.Metadata.ChunkType,
			RelevanceScore: d.RelevanceScore,
		})
	}
	return out
}

func buildMetadata(docs []rerank.Document, modelUsed string, reranked bool) Metadata {
	sections := newDedup()
	citations := newDedup()
	papers := newDedup()

	for _, d := range docs {
		if d.Metadata.Section != "" {
			sections.add(d.Metadata.Section)
		}
		for _, c := range d.Metadata.Citations {
			citations.add(c)
		}
		if d.Metadata.PaperID != "" {
			papers.add(d.Metadata.PaperID)
		}
	}

	return Metadata{
		TotalSources:       len(docs),
		ModelUsed:          modelUsed,
		Reranked:           reranked,
		SectionsReferenced: sections.values,
		CitationsFound:     citations.values,
		PapersReferenced:   papers.values,
		ResearchPaperAware: true,
	}
}

type dedup struct {
	seen   map[string]bool
	values []string
}

func newDedup() *dedup { return &dedup{seen: make(map[string]bool)} }

func (d *dedup) add(v string) {
	if d.seen[v] {
		return
	}
	d.seen[v] = true
	d.values = append(d.values, v)
}
