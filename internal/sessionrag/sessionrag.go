// Package sessionrag implements the session RAG coordinator (C9):
// per-session enable/disable, auto-ingestion of a session's papers, and
// retrieval scoped to the papers attached to a session.
package sessionrag

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kpekel-labs/scholarag/internal/answer"
	"github.com/kpekel-labs/scholarag/internal/ingest"
	"github.com/kpekel-labs/scholarag/internal/ragerr"
	"github.com/kpekel-labs/scholarag/internal/registry"
	"github.com/kpekel-labs/scholarag/internal/vectorstore"
	"github.com/kpekel-labs/scholarag/pkg/externalregistry"
)

// Config configures the coordinator's PDF-download behavior.
type Config struct {
	InputDir         string `yaml:"input_dir"`
	DownloadTimeoutS int    `yaml:"download_timeout_seconds"`
}

func (c *Config) SetDefaults() {
	if c.InputDir == "" {
		c.InputDir = "input_dir"
	}
	if c.DownloadTimeoutS <= 0 {
		c.DownloadTimeoutS = 30
	}
}

// Coordinator is the C9 capability.
type Coordinator struct {
	cfg          Config
	ext          *externalregistry.Client
	orchestrator *ingest.Orchestrator
	registry     *registry.Registry
	engine       *answer.Engine
	httpClient   *http.Client
	logger       *slog.Logger
}

func New(cfg Config, ext *externalregistry.Client, orchestrator *ingest.Orchestrator, reg *registry.Registry, engine *answer.Engine, logger *slog.Logger) *Coordinator {
	cfg.SetDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		cfg:          cfg,
		ext:          ext,
		orchestrator: orchestrator,
		registry:     reg,
		engine:       engine,
		httpClient:   &http.Client{Timeout: time.Duration(cfg.DownloadTimeoutS) * time.Second},
		logger:       logger,
	}
}

// Enable turns session RAG on for sessionID, attributing the action to
// actorID.
func (c *Coordinator) Enable(ctx context.Context, sessionID, actorID string) (externalregistry.SessionRAGStatus, error) {
	return c.ext.SetSessionRAGEnabled(ctx, sessionID, true, actorID)
}

// Disable turns session RAG off for sessionID.
func (c *Coordinator) Disable(ctx context.Context, sessionID string) (externalregistry.SessionRAGStatus, error) {
	return c.ext.SetSessionRAGEnabled(ctx, sessionID, false, "")
}

// Status returns the session's current RAG enablement state.
func (c *Coordinator) Status(ctx context.Context, sessionID string) (externalregistry.SessionRAGStatus, error) {
	return c.ext.GetSessionRAGStatus(ctx, sessionID)
}

// AutoIngestRequest is the input to AutoIngest.
type AutoIngestRequest struct {
	SessionID string
	PaperID   string
	PDFURL    string
	Title     string
	Authors   []string
}

// AutoIngest downloads a paper's PDF bytes and hands them to the
// ingestion orchestrator. If the server's content-type is not
// "application/pdf" and pdfURL is an arXiv "/abs/" landing-page form, it
// retries once against the "/pdf/" form.
func (c *Coordinator) AutoIngest(ctx context.Context, req AutoIngestRequest) (ingest.Result, error) {
	body, err := c.downloadPDF(ctx, req.PDFURL)
	if err != nil {
		if _, regErr := c.ext.UpdateRAGDocumentStatus(ctx, req.PaperID, string(registry.StatusFailed), err.Error()); regErr != nil {
			c.logger.Warn("failed to record download failure in external registry", "paper_id", req.PaperID, "error", regErr)
		}
		return ingest.Result{}, fmt.Errorf("sessionrag: download pdf: %w", err)
	}

	filename := safeFilename(req.PaperID, req.Title)

	result, err := c.orchestrator.Ingest(ctx, ingest.Request{
		FileBytes: body,
		Filename:  filename,
		PaperID:   req.PaperID,
	}, false)

	status := string(registry.StatusCompleted)
	errMsg := ""
	if err != nil {
		status = string(registry.StatusFailed)
		errMsg = err.Error()
	}
	if _, regErr := c.ext.UpdateRAGDocumentStatus(ctx, req.PaperID, status, errMsg); regErr != nil {
		c.logger.Warn("failed to update external registry after ingest", "paper_id", req.PaperID, "error", regErr)
	}

	return result, err
}

func (c *Coordinator) downloadPDF(ctx context.Context, url string) ([]byte, error) {
	body, contentType, err := c.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	if strings.Contains(contentType, "application/pdf") {
		return body, nil
	}
	if strings.Contains(url, "/abs/") {
		retryURL := strings.Replace(url, "/abs/", "/pdf/", 1)
		body, _, err = c.fetch(ctx, retryURL)
		if err != nil {
			return nil, err
		}
		return body, nil
	}
	return body, nil
}

func (c *Coordinator) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// safeFilename derives "paper_<paper_id>_<sanitized_title>[:50].pdf".
func safeFilename(paperID, title string) string {
	sanitized := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '_'
		default:
			return -1
		}
	}, title)
	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}
	if sanitized == "" {
		return fmt.Sprintf("paper_%s.pdf", paperID)
	}
	return fmt.Sprintf("paper_%s_%s.pdf", paperID, sanitized)
}

// noRelevantInfoMessage is the fixed answer returned when a session-scoped
// query retrieves no matches.
const noRelevantInfoMessage = "I couldn't find any relevant information in the papers attached to this session."

// ragNotEnabledMessage is the fixed message returned when a session has
// not enabled RAG.
const ragNotEnabledMessage = "RAG is not enabled for this session. Call enable to turn it on."

// noCompletedPapersMessage is the fixed message returned when a session
// has no successfully ingested papers.
const noCompletedPapersMessage = "This session has no successfully processed papers yet."

// AskScoped answers question restricted to sessionID's completed papers.
func (c *Coordinator) AskScoped(ctx context.Context, sessionID, question string, topK int) (answer.Answer, error) {
	status, err := c.ext.GetSessionRAGStatus(ctx, sessionID)
	if err != nil {
		return answer.Answer{}, fmt.Errorf("sessionrag: get session status: %w", err)
	}
	if !status.IsRAGEnabled {
		return answer.Answer{}, ragerr.NewScopeEmptyError(ragNotEnabledMessage)
	}

	papers, err := c.ext.ListSessionPapers(ctx, sessionID)
	if err != nil {
		return answer.Answer{}, fmt.Errorf("sessionrag: list session papers: %w", err)
	}

	var completedFiles []string
	for _, p := range papers {
		if p.ProcessingStatus == string(registry.StatusCompleted) {
			completedFiles = append(completedFiles, p.FileName)
		}
	}
	if len(completedFiles) == 0 {
		return answer.Answer{}, ragerr.NewScopeEmptyError(noCompletedPapersMessage)
	}

	sourcePaths := make([]string, len(completedFiles))
	for i, f := range completedFiles {
		sourcePaths[i] = vectorstore.SourcePath(c.cfg.InputDir, f)
	}
	filter := vectorstore.BuildOrEqFilter("source", sourcePaths)

	docs, err := c.engine.Retrieve(ctx, question, topK, filter)
	fallenBack := false
	if err != nil {
		c.logger.Warn("scoped retrieval failed, retrying without filter", "session_id", sessionID, "error", err)
		docs, err = c.engine.Retrieve(ctx, question, topK, nil)
		if err != nil {
			return answer.Answer{}, fmt.Errorf("sessionrag: retrieve: %w", err)
		}
		fallenBack = true
	}

	if len(docs) == 0 {
		return answer.Answer{
			Question: question,
			Answer:   noRelevantInfoMessage,
			Metadata: answer.Metadata{ResearchPaperAware: true},
		}, nil
	}

	ans, err := c.engine.Compose(ctx, question, docs, topK)
	if err != nil {
		return answer.Answer{}, err
	}

	ans.Metadata.SessionID = sessionID
	ans.Metadata.SessionScoped = true
	ans.Metadata.SessionFilesSearched = completedFiles
	ans.Metadata.FellBackToUnscoped = fallenBack
	return ans, nil
}

// RecordChat appends one chat-accounting record via the external
// registry. A caller that doesn't yet have a correlation id for the
// message (e.g. the HTTP transport, which has no upstream message
// store of its own) gets one generated here.
func (c *Coordinator) RecordChat(ctx context.Context, meta externalregistry.ChatMetadata) error {
	if meta.MessageID == "" {
		meta.MessageID = uuid.NewString()
	}
	return c.ext.CreateChatMetadata(ctx, meta)
}

// PapersSummary counts a session's papers by processing status.
type PapersSummary map[string]int

// ChatStatistics mirrors the external registry's chat-usage counts.
type ChatStatistics struct {
	TotalMessages   int
	RAGUsedMessages int
}

// SessionStatusReport aggregates enablement, paper processing counts,
// and chat usage for an operations dashboard — supplemented from the
// original implementation's richer status endpoint.
type SessionStatusReport struct {
	SessionID      string
	IsRAGEnabled   bool
	PapersSummary  PapersSummary
	ChatStatistics ChatStatistics
}

// SessionStatus aggregates session RAG state, paper processing counts,
// and chat usage into a single report.
func (c *Coordinator) SessionStatus(ctx context.Context, sessionID string) (SessionStatusReport, error) {
	status, err := c.ext.GetSessionRAGStatus(ctx, sessionID)
	if err != nil {
		return SessionStatusReport{}, fmt.Errorf("sessionrag: get session status: %w", err)
	}

	papers, err := c.ext.ListSessionPapers(ctx, sessionID)
	if err != nil {
		return SessionStatusReport{}, fmt.Errorf("sessionrag: list session papers: %w", err)
	}
	summary := make(PapersSummary)
	for _, p := range papers {
		summary[p.ProcessingStatus]++
	}

	stats, err := c.ext.GetChatStats(ctx, sessionID)
	if err != nil {
		c.logger.Warn("chat stats unavailable, zeroing", "session_id", sessionID, "error", err)
		stats = externalregistry.ChatStats{}
	}

	return SessionStatusReport{
		SessionID:     sessionID,
		IsRAGEnabled:  status.IsRAGEnabled,
		PapersSummary: summary,
		ChatStatistics: ChatStatistics{
			TotalMessages:   stats.TotalMessages,
			RAGUsedMessages: stats.RAGUsedMessages,
		},
	}, nil
}
