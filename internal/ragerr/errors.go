// Package ragerr defines the error taxonomy shared across the ingestion,
// retrieval, and session-coordination packages. Each kind carries enough
// structure for a caller to classify without importing the concrete type.
package ragerr

import "fmt"

// Error is the common interface implemented by every error kind below.
type Error interface {
	error
	Kind() string
	Unwrap() error
}

// Kind constants, one per spec error taxonomy entry.
const (
	KindInputInvalid       = "input-invalid"
	KindConfigMissing      = "config-missing"
	KindProviderTransient  = "provider-transient"
	KindProviderIncapable  = "provider-incapable"
	KindIngestFailed       = "ingest-failed"
	KindScopeEmpty         = "scope-empty"
	KindNotFound           = "not-found"
)

// InputInvalidError reports a malformed caller request: non-PDF upload,
// missing question, absent paper_id.
type InputInvalidError struct {
	Field   string
	Message string
}

func NewInputInvalidError(field, message string) *InputInvalidError {
	return &InputInvalidError{Field: field, Message: message}
}

func (e *InputInvalidError) Error() string {
	return fmt.Sprintf("input invalid: %s: %s", e.Field, e.Message)
}

func (e *InputInvalidError) Kind() string  { return KindInputInvalid }
func (e *InputInvalidError) Unwrap() error { return nil }

// ConfigMissingError reports an unset required credential or URL.
type ConfigMissingError struct {
	Setting string
}

func NewConfigMissingError(setting string) *ConfigMissingError {
	return &ConfigMissingError{Setting: setting}
}

func (e *ConfigMissingError) Error() string {
	return fmt.Sprintf("config missing: %s", e.Setting)
}

func (e *ConfigMissingError) Kind() string  { return KindConfigMissing }
func (e *ConfigMissingError) Unwrap() error { return nil }

// ProviderTransientError wraps an underlying embedding/LLM/rerank/vector-store
// RPC failure. Attempts records how many times the call was retried.
type ProviderTransientError struct {
	Provider string
	Attempts int
	Err      error
}

func NewProviderTransientError(provider string, attempts int, err error) *ProviderTransientError {
	return &ProviderTransientError{Provider: provider, Attempts: attempts, Err: err}
}

func (e *ProviderTransientError) Error() string {
	return fmt.Sprintf("%s: transient failure after %d attempt(s): %v", e.Provider, e.Attempts, e.Err)
}

func (e *ProviderTransientError) Kind() string  { return KindProviderTransient }
func (e *ProviderTransientError) Unwrap() error { return e.Err }

// ProviderIncapableError records that a provider lacks a requested
// capability (e.g. the vector store rejects hybrid queries). Callers
// downgrade silently; this type exists for logging/metrics, not for
// surfacing to the end user.
type ProviderIncapableError struct {
	Provider   string
	Capability string
}

func NewProviderIncapableError(provider, capability string) *ProviderIncapableError {
	return &ProviderIncapableError{Provider: provider, Capability: capability}
}

func (e *ProviderIncapableError) Error() string {
	return fmt.Sprintf("%s: does not support %s", e.Provider, e.Capability)
}

func (e *ProviderIncapableError) Kind() string  { return KindProviderIncapable }
func (e *ProviderIncapableError) Unwrap() error { return nil }

// IngestFailedError records an unrecoverable failure during ingestion.
// The registry transitions the paper's record to failed with this error's
// message.
type IngestFailedError struct {
	PaperID string
	Err     error
}

func NewIngestFailedError(paperID string, err error) *IngestFailedError {
	return &IngestFailedError{PaperID: paperID, Err: err}
}

func (e *IngestFailedError) Error() string {
	return fmt.Sprintf("ingest failed for %s: %v", e.PaperID, e.Err)
}

func (e *IngestFailedError) Kind() string  { return KindIngestFailed }
func (e *IngestFailedError) Unwrap() error { return e.Err }

// ScopeEmptyError is returned when a session has RAG disabled or has no
// completed papers. It is not an error condition from the caller's
// perspective; it carries the fixed user-visible message to surface as-is.
type ScopeEmptyError struct {
	Message string
}

func NewScopeEmptyError(message string) *ScopeEmptyError {
	return &ScopeEmptyError{Message: message}
}

func (e *ScopeEmptyError) Error() string   { return e.Message }
func (e *ScopeEmptyError) Kind() string    { return KindScopeEmpty }
func (e *ScopeEmptyError) Unwrap() error   { return nil }

// NotFoundError reports a paper or session unknown to the external registry.
type NotFoundError struct {
	Resource string
	ID       string
}

func NewNotFoundError(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

func (e *NotFoundError) Kind() string  { return KindNotFound }
func (e *NotFoundError) Unwrap() error { return nil }
