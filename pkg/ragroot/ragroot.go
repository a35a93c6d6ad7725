// Package ragroot is the composition root: it owns every process-wide
// singleton (embedding client, vector-store handle, BM25 encoder,
// answering engine, session coordinator) behind lazy, sync.Once-guarded
// initializers, mirroring the teacher's package-level "do not build
// twice" caches but scoped to an explicit struct instead of global
// state, so tests can construct independent roots.
package ragroot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kpekel-labs/scholarag/internal/answer"
	"github.com/kpekel-labs/scholarag/internal/config"
	"github.com/kpekel-labs/scholarag/internal/ingest"
	"github.com/kpekel-labs/scholarag/internal/registry"
	"github.com/kpekel-labs/scholarag/internal/sessionrag"
	"github.com/kpekel-labs/scholarag/internal/sparse"
	"github.com/kpekel-labs/scholarag/internal/vectorstore"
	"github.com/kpekel-labs/scholarag/pkg/embedding"
	"github.com/kpekel-labs/scholarag/pkg/externalregistry"
	"github.com/kpekel-labs/scholarag/pkg/llmprovider"
	"github.com/kpekel-labs/scholarag/pkg/rerank"
)

// Root lazily constructs and caches every shared dependency. Each field
// is guarded by its own sync.Once so that concurrent first-access from
// multiple request goroutines builds the dependency exactly once.
type Root struct {
	cfg    config.Config
	logger *slog.Logger

	embedderOnce sync.Once
	embedder     embedding.Provider
	embedderErr  error

	storeOnce sync.Once
	store     vectorstore.Store
	storeErr  error

	sparseEnc *sparse.Encoder

	llmOnce sync.Once
	llm     llmprovider.Provider
	llmErr  error

	rerankerOnce sync.Once
	reranker     rerank.Reranker
	rerankerErr  error

	registry *registry.Registry

	extClientOnce sync.Once
	extClient     *externalregistry.Client

	engineOnce sync.Once
	engine     *answer.Engine
	engineErr  error

	orchestratorOnce sync.Once
	orchestrator     *ingest.Orchestrator
	orchestratorErr  error

	coordinatorOnce sync.Once
	coordinator     *sessionrag.Coordinator
	coordinatorErr  error

	mu sync.Mutex
}

// New constructs a Root over an already-loaded, validated configuration.
// Nothing downstream is built until first use.
func New(cfg config.Config, logger *slog.Logger) *Root {
	if logger == nil {
		logger = slog.Default()
	}
	return &Root{cfg: cfg, logger: logger, sparseEnc: sparse.NewEncoder(cfg.Sparse.Parameters()), registry: registry.New()}
}

// Embedder returns the process-wide embedding provider, constructing it
// on first call.
func (r *Root) Embedder() (embedding.Provider, error) {
	r.embedderOnce.Do(func() {
		r.embedder, r.embedderErr = embedding.New(r.cfg.Embedding)
	})
	return r.embedder, r.embedderErr
}

// SparseEncoder returns the process-wide BM25 encoder. Unlike the other
// singletons it is never an error to obtain — it starts unfitted and is
// fit lazily by the first ingestion.
func (r *Root) SparseEncoder() *sparse.Encoder {
	return r.sparseEnc
}

// Store returns the process-wide vector-store handle.
func (r *Root) Store() (vectorstore.Store, error) {
	r.storeOnce.Do(func() {
		store, err := vectorstore.NewPineconeStore(r.cfg.VectorStore, r.logger)
		r.store, r.storeErr = store, err
	})
	return r.store, r.storeErr
}

// PrepareStore runs the one-time startup sequence a Store backend may
// require before hybrid retrieval can be trusted: confirming the
// configured index exists, then probing whether it accepts a
// dense+sparse query at all (§4.4's capability probe must run "before
// enabling hybrid retrieval"). Store implementations with nothing to
// prepare (e.g. test doubles) are left untouched. Callers should invoke
// this once during process startup, before serving traffic.
func (r *Root) PrepareStore(ctx context.Context) error {
	store, err := r.Store()
	if err != nil {
		return err
	}
	prober, ok := store.(vectorstore.HybridProber)
	if !ok {
		return nil
	}
	if err := prober.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ragroot: ensure index: %w", err)
	}
	if err := prober.ProbeHybridSupport(ctx); err != nil {
		return fmt.Errorf("ragroot: probe hybrid support: %w", err)
	}
	return nil
}

// LLM returns the process-wide generation provider.
func (r *Root) LLM() (llmprovider.Provider, error) {
	r.llmOnce.Do(func() {
		r.llm, r.llmErr = llmprovider.NewGroqProvider(r.cfg.LLM)
	})
	return r.llm, r.llmErr
}

// Reranker returns the process-wide reranker, selected by
// cfg.Rerank.Provider.
func (r *Root) Reranker() (rerank.Reranker, error) {
	r.rerankerOnce.Do(func() {
		switch r.cfg.Rerank.Provider {
		case "noop":
			r.reranker = rerank.NoOpReranker{}
		case "cohere":
			r.reranker = rerank.NewCohereReranker(r.cfg.Rerank.CohereAPIKey, r.cfg.Rerank.CohereBaseURL, r.cfg.Rerank.CohereModel)
		default:
			llm, err := r.LLM()
			if err != nil {
				r.rerankerErr = fmt.Errorf("ragroot: reranker llm: %w", err)
				return
			}
			r.reranker = rerank.NewLLMReranker(rerank.NewLLMProviderAdapter(llm))
		}
	})
	return r.reranker, r.rerankerErr
}

// Registry returns the process-wide ingestion-state tracker.
func (r *Root) Registry() *registry.Registry {
	return r.registry
}

// ExternalRegistryClient returns the process-wide external-registry HTTP
// client.
func (r *Root) ExternalRegistryClient() *externalregistry.Client {
	r.extClientOnce.Do(func() {
		r.extClient = externalregistry.New(r.cfg.ExternalRegistry)
	})
	return r.extClient
}

// AnsweringEngine returns the process-wide answering engine (C8).
func (r *Root) AnsweringEngine() (*answer.Engine, error) {
	r.engineOnce.Do(func() {
		embedder, err := r.Embedder()
		if err != nil {
			r.engineErr = fmt.Errorf("ragroot: answering engine embedder: %w", err)
			return
		}
		store, err := r.Store()
		if err != nil {
			r.engineErr = fmt.Errorf("ragroot: answering engine store: %w", err)
			return
		}
		llm, err := r.LLM()
		if err != nil {
			r.engineErr = fmt.Errorf("ragroot: answering engine llm: %w", err)
			return
		}
		reranker, err := r.Reranker()
		if err != nil {
			r.engineErr = fmt.Errorf("ragroot: answering engine reranker: %w", err)
			return
		}
		r.engine = answer.New(r.cfg.Answer, embedder, r.sparseEnc, store, reranker, llm, r.logger)
	})
	return r.engine, r.engineErr
}

// IngestionOrchestrator returns the process-wide ingestion orchestrator
// (C6).
func (r *Root) IngestionOrchestrator() (*ingest.Orchestrator, error) {
	r.orchestratorOnce.Do(func() {
		embedder, err := r.Embedder()
		if err != nil {
			r.orchestratorErr = fmt.Errorf("ragroot: orchestrator embedder: %w", err)
			return
		}
		store, err := r.Store()
		if err != nil {
			r.orchestratorErr = fmt.Errorf("ragroot: orchestrator store: %w", err)
			return
		}
		r.orchestrator = ingest.New(
			r.cfg.Ingest,
			r.cfg.Chunking,
			embedder,
			r.sparseEnc,
			store,
			r.registry,
			r.ExternalRegistryClient(),
			r.logger,
		)
	})
	return r.orchestrator, r.orchestratorErr
}

// SessionCoordinator returns the process-wide session RAG coordinator
// (C9).
func (r *Root) SessionCoordinator() (*sessionrag.Coordinator, error) {
	r.coordinatorOnce.Do(func() {
		orchestrator, err := r.IngestionOrchestrator()
		if err != nil {
			r.coordinatorErr = fmt.Errorf("ragroot: session coordinator orchestrator: %w", err)
			return
		}
		engine, err := r.AnsweringEngine()
		if err != nil {
			r.coordinatorErr = fmt.Errorf("ragroot: session coordinator engine: %w", err)
			return
		}
		r.coordinator = sessionrag.New(r.cfg.SessionRAG, r.ExternalRegistryClient(), orchestrator, r.registry, engine, r.logger)
	})
	return r.coordinator, r.coordinatorErr
}

// RecreateIndex drops every cached handle that depends on the vector
// index, forcing the next access to rebuild it — e.g. after the index
// itself was recreated out of band. Per design note §9, the BM25
// encoder is reset only when resetSparse is true, since a restored
// snapshot (internal/sparse.Encoder.Restore) may still be valid against
// the new index.
func (r *Root) RecreateIndex(resetSparse bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.storeOnce = sync.Once{}
	r.store, r.storeErr = nil, nil

	r.engineOnce = sync.Once{}
	r.engine, r.engineErr = nil, nil

	r.orchestratorOnce = sync.Once{}
	r.orchestrator, r.orchestratorErr = nil, nil

	r.coordinatorOnce = sync.Once{}
	r.coordinator, r.coordinatorErr = nil, nil

	if resetSparse {
		r.sparseEnc.Reset()
	}
}

// Close releases every resource-holding singleton that was constructed.
func (r *Root) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	if r.store != nil {
		if err := r.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.embedder != nil {
		if err := r.embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
