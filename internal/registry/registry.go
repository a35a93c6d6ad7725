// Package registry tracks per-paper ingestion state in process memory:
// {paper_id -> {status, chunk_count, vector_ids, error, timestamps}}.
// It enforces the ingestion state machine (pending -> processing ->
// {completed, failed}, failed -> processing on retry) so C6 and C9
// never observe an inconsistent transition.
package registry

import (
	"fmt"
	"sync"
	"time"

	"github.com/kpekel-labs/scholarag/internal/ragerr"
)

// Status is an ingestion lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Record is one paper's ingestion bookkeeping entry.
type Record struct {
	PaperID     string
	SourcePath  string
	Status      Status
	ChunkCount  int
	VectorIDs   []string
	Error       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// allowedTransitions enumerates the legal status edges. completed is
// terminal except via an explicit Remove.
var allowedTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusFailed:     {StatusProcessing},
	StatusCompleted:  {},
}

// Registry is a process-wide, concurrency-safe ingestion tracker.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func New() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Register creates a pending record for paperID, or returns the
// existing one unchanged if already present.
func (r *Registry) Register(paperID, sourcePath string) *Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.records[paperID]; ok {
		return existing
	}
	now := time.Now()
	rec := &Record{
		PaperID:    paperID,
		SourcePath: sourcePath,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	r.records[paperID] = rec
	return rec
}

// Get returns the record for paperID.
func (r *Registry) Get(paperID string) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[paperID]
	return rec, ok
}

// Transition moves paperID to newStatus, rejecting any edge not in
// allowedTransitions. On failure it leaves the record untouched.
func (r *Registry) Transition(paperID string, newStatus Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[paperID]
	if !ok {
		return ragerr.NewNotFoundError("registry record", paperID)
	}

	allowed := allowedTransitions[rec.Status]
	ok = false
	for _, s := range allowed {
		if s == newStatus {
			ok = true
			break
		}
	}
	if !ok {
		return ragerr.NewInputInvalidError("status", fmt.Sprintf("invalid ingestion transition %s -> %s for %s", rec.Status, newStatus, paperID))
	}

	rec.Status = newStatus
	rec.UpdatedAt = time.Now()
	return nil
}

// MarkProcessing transitions paperID to processing, allowing both the
// pending->processing and failed->processing (retry) edges.
func (r *Registry) MarkProcessing(paperID string) error {
	return r.Transition(paperID, StatusProcessing)
}

// MarkCompleted records a successful ingest.
func (r *Registry) MarkCompleted(paperID string, chunkCount int, vectorIDs []string) error {
	if err := r.Transition(paperID, StatusCompleted); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[paperID]
	rec.ChunkCount = chunkCount
	rec.VectorIDs = vectorIDs
	rec.Error = ""
	return nil
}

// MarkFailed records a failed ingest with the triggering error message.
func (r *Registry) MarkFailed(paperID string, cause error) error {
	if err := r.Transition(paperID, StatusFailed); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rec := r.records[paperID]
	if cause != nil {
		rec.Error = cause.Error()
	}
	return nil
}

// Remove deletes paperID's record entirely, bypassing the state
// machine — used when a document is removed from the corpus.
func (r *Registry) Remove(paperID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, paperID)
}

// List returns a snapshot of all records, sorted by no particular
// order (callers that need determinism should sort the result).
func (r *Registry) List() []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		copied := *rec
		out = append(out, &copied)
	}
	return out
}

// ListByStatus returns a snapshot of records matching status.
func (r *Registry) ListByStatus(status Status) []*Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []*Record
	for _, rec := range r.records {
		if rec.Status == status {
			copied := *rec
			out = append(out, &copied)
		}
	}
	return out
}
