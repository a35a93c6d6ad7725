// Package httpapi exposes the ingestion, answering, and session
// coordinator operations as JSON endpoints on a go-chi/chi/v5 router,
// grounded on the teacher's pkg/server/http.go route layout (health,
// discovery-style listing, per-resource sub-routes) and
// pkg/transport/http_metrics_middleware.go (chi route-pattern-aware
// instrumentation), adapted from Hector's per-agent JSON-RPC surface to
// this system's ingest/ask/session operations.
package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kpekel-labs/scholarag/internal/answer"
	"github.com/kpekel-labs/scholarag/internal/ingest"
	"github.com/kpekel-labs/scholarag/internal/metrics"
	"github.com/kpekel-labs/scholarag/internal/ragerr"
	"github.com/kpekel-labs/scholarag/internal/registry"
	"github.com/kpekel-labs/scholarag/internal/sessionrag"
	"github.com/kpekel-labs/scholarag/pkg/externalregistry"
)

// Deps are the server's process-wide collaborators. A nil Logger
// defaults to slog.Default() and a nil Metrics records nothing; the
// other fields are required, and Server panics on first request if a
// nil one is exercised, the same trust-the-caller contract the rest of
// this codebase uses for constructor-injected dependencies.
type Deps struct {
	Orchestrator *ingest.Orchestrator
	Engine       *answer.Engine
	Registry     *registry.Registry
	Coordinator  *sessionrag.Coordinator
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// NewRouter builds the chi mux. metricsPath selects where Prometheus is
// served (default "/metrics" is applied by the caller's config
// defaults, not here).
func NewRouter(deps Deps, metricsPath string) *chi.Mux {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	s := &server{deps: deps}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Handle(metricsPath, deps.Metrics.Handler())

	r.Route("/papers", func(r chi.Router) {
		r.Post("/", s.handleIngest)
		r.Get("/", s.handleListPapers)
		r.Get("/{paperID}", s.handleGetPaper)
	})

	r.Post("/query", s.handleQuery)

	r.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Post("/rag/enable", s.handleSessionEnable)
		r.Post("/rag/disable", s.handleSessionDisable)
		r.Get("/rag/status", s.handleSessionStatus)
		r.Post("/ingest", s.handleSessionIngest)
		r.Post("/ask", s.handleSessionAsk)
		r.Post("/chat", s.handleSessionChat)
		r.Get("/status", s.handleSessionReport)
	})

	return r
}

type server struct {
	deps Deps
}

// metricsMiddleware records HTTP request counts/latency keyed by the
// matched chi route pattern, the same "ask the router, don't regex the
// path" technique the teacher's metricsMiddleware uses.
func (s *server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.deps.Metrics.RecordHTTPRequest(r.Method, route, ww.Status(), time.Since(start))
	})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- papers / ingestion --------------------------------------------------

// handleIngest accepts a multipart upload: a "file" part (the PDF
// bytes) and an optional "paper_id" form field. multipart parsing is
// stdlib-only by design — net/http/mime/multipart already does the one
// thing this boundary needs, and no library in the domain stack
// targets file-upload parsing specifically.
func (s *server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, errors.New("missing multipart field \"file\""))
		return
	}
	defer file.Close()

	buf, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	force := r.FormValue("force") == "true"
	req := ingest.Request{
		FileBytes: buf,
		Filename:  header.Filename,
		PaperID:   r.FormValue("paper_id"),
	}

	start := time.Now()
	result, err := s.deps.Orchestrator.Ingest(r.Context(), req, force)
	if err != nil {
		s.deps.Metrics.RecordIngestFailure(kindOf(err))
		writeRagErr(w, err)
		return
	}
	s.deps.Metrics.RecordIngest(string(result.Status), time.Since(start), result.ChunksCount)
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleListPapers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Registry.List())
}

func (s *server) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")
	record, ok := s.deps.Registry.Get(paperID)
	if !ok {
		writeError(w, http.StatusNotFound, ragerr.NewNotFoundError("paper", paperID))
		return
	}
	writeJSON(w, http.StatusOK, record)
}

// --- global query ---------------------------------------------------------

type queryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

func (s *server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	start := time.Now()
	ans, err := s.deps.Engine.Ask(r.Context(), req.Question, req.TopK)
	if err != nil {
		writeRagErr(w, err)
		return
	}
	s.deps.Metrics.RecordQuery(false, time.Since(start), len(ans.Sources))
	writeJSON(w, http.StatusOK, ans)
}

// --- session RAG ------------------------------------------------------------

type enableRequest struct {
	ActorID string `json:"actor_id"`
}

func (s *server) handleSessionEnable(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req enableRequest
	_ = json.NewDecoder(r.Body).Decode(&req)

	status, err := s.deps.Coordinator.Enable(r.Context(), sessionID, req.ActorID)
	if err != nil {
		writeRagErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) handleSessionDisable(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	status, err := s.deps.Coordinator.Disable(r.Context(), sessionID)
	if err != nil {
		writeRagErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	status, err := s.deps.Coordinator.Status(r.Context(), sessionID)
	if err != nil {
		writeRagErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type sessionIngestRequest struct {
	PaperID string   `json:"paper_id"`
	PDFURL  string   `json:"pdf_url"`
	Title   string   `json:"title"`
	Authors []string `json:"authors"`
}

func (s *server) handleSessionIngest(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req sessionIngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	start := time.Now()
	result, err := s.deps.Coordinator.AutoIngest(r.Context(), sessionrag.AutoIngestRequest{
		SessionID: sessionID,
		PaperID:   req.PaperID,
		PDFURL:    req.PDFURL,
		Title:     req.Title,
		Authors:   req.Authors,
	})
	if err != nil {
		s.deps.Metrics.RecordIngestFailure(kindOf(err))
		writeRagErr(w, err)
		return
	}
	s.deps.Metrics.RecordIngest(string(result.Status), time.Since(start), result.ChunksCount)
	writeJSON(w, http.StatusOK, result)
}

type sessionAskRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"top_k"`
}

func (s *server) handleSessionAsk(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var req sessionAskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	start := time.Now()
	ans, err := s.deps.Coordinator.AskScoped(r.Context(), sessionID, req.Question, req.TopK)
	if err != nil {
		writeRagErr(w, err)
		return
	}
	s.deps.Metrics.RecordQuery(true, time.Since(start), len(ans.Sources))
	writeJSON(w, http.StatusOK, ans)
}

func (s *server) handleSessionChat(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	var meta externalregistry.ChatMetadata
	if err := json.NewDecoder(r.Body).Decode(&meta); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	meta.SessionID = sessionID

	if err := s.deps.Coordinator.RecordChat(r.Context(), meta); err != nil {
		writeRagErr(w, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func (s *server) handleSessionReport(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	report, err := s.deps.Coordinator.SessionStatus(r.Context(), sessionID)
	if err != nil {
		writeRagErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// --- response helpers -------------------------------------------------------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// writeRagErr maps a ragerr.Error's Kind to an HTTP status, falling
// back to 500 for anything unmapped (including errors that don't
// implement ragerr.Error at all).
func writeRagErr(w http.ResponseWriter, err error) {
	var rerr ragerr.Error
	if !errors.As(err, &rerr) {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, statusForKind(rerr.Kind()), map[string]string{
		"error": err.Error(),
		"kind":  rerr.Kind(),
	})
}

func statusForKind(kind string) int {
	switch kind {
	case ragerr.KindInputInvalid:
		return http.StatusBadRequest
	case ragerr.KindConfigMissing:
		return http.StatusInternalServerError
	case ragerr.KindProviderTransient:
		return http.StatusBadGateway
	case ragerr.KindProviderIncapable:
		return http.StatusUnprocessableEntity
	case ragerr.KindIngestFailed:
		return http.StatusUnprocessableEntity
	case ragerr.KindScopeEmpty:
		return http.StatusUnprocessableEntity
	case ragerr.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func kindOf(err error) string {
	var rerr ragerr.Error
	if errors.As(err, &rerr) {
		return rerr.Kind()
	}
	return "unknown"
}
