package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kpekel-labs/scholarag/internal/answer"
	"github.com/kpekel-labs/scholarag/internal/chunking"
	"github.com/kpekel-labs/scholarag/internal/ingest"
	"github.com/kpekel-labs/scholarag/internal/metrics"
	"github.com/kpekel-labs/scholarag/internal/registry"
	"github.com/kpekel-labs/scholarag/internal/sparse"
	"github.com/kpekel-labs/scholarag/internal/vectorstore"
	"github.com/kpekel-labs/scholarag/pkg/embedding"
	"github.com/kpekel-labs/scholarag/pkg/externalregistry"
	"github.com/kpekel-labs/scholarag/pkg/rerank"
)

func newTestServer(t *testing.T) (*httptest.Server, *registry.Registry) {
	t.Helper()

	reg := registry.New()
	mux := http.NewServeMux()
	extSrv := httptest.NewServer(mux)
	t.Cleanup(extSrv.Close)

	extClient := externalregistry.New(externalregistry.Config{BaseURL: extSrv.URL, ServiceHeader: "ragserver"})

	embedder, err := embedding.New(embedding.Config{Type: "cohere", APIKey: "test-key"})
	require.NoError(t, err)

	store := &fakeStore{}
	sparseEnc := sparse.NewEncoder(sparse.DefaultParameters())

	orchestrator := ingest.New(ingest.Config{InputDir: t.TempDir()}, chunking.Config{}, embedder, sparseEnc, store, reg, extClient, nil)
	engine := answer.New(answer.Config{}, embedder, sparseEnc, store, rerank.NoOpReranker{}, nil, nil)

	r := NewRouter(Deps{
		Orchestrator: orchestrator,
		Engine:       engine,
		Registry:     reg,
		Metrics:      metrics.New(),
	}, "/metrics")

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, reg
}

type fakeStore struct{}

func (f *fakeStore) Upsert(ctx context.Context, records []vectorstore.Record) error { return nil }
func (f *fakeStore) Query(ctx context.Context, dense []float32, sparseVec *sparse.Vector, topK int, filter vectorstore.Filter, includeMetadata bool) ([]vectorstore.QueryResult, error) {
	return nil, nil
}
func (f *fakeStore) DeleteByIDs(ctx context.Context, ids []string) error { return nil }
func (f *fakeStore) DeleteByFilter(ctx context.Context, filter vectorstore.Filter) error {
	return nil
}
func (f *fakeStore) DeleteAll(ctx context.Context) error { return nil }
func (f *fakeStore) Describe(ctx context.Context) (vectorstore.Stats, error) {
	return vectorstore.Stats{}, nil
}
func (f *fakeStore) SupportsHybrid() bool { return false }
func (f *fakeStore) Close() error         { return nil }

func TestHealth_ReturnsOK(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetrics_IsServedOnConfiguredPath(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestGetPaper_ReturnsNotFoundForUnknownID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/papers/missing-paper")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListPapers_ReturnsRegisteredRecords(t *testing.T) {
	srv, reg := newTestServer(t)
	reg.Register("paper-1", "input_dir/paper-1.pdf")

	resp, err := http.Get(srv.URL + "/papers/")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var records []registry.Record
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "paper-1", records[0].PaperID)
}

func TestIngest_RejectsMissingFileField(t *testing.T) {
	srv, _ := newTestServer(t)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	require.NoError(t, writer.WriteField("paper_id", "p1"))
	require.NoError(t, writer.Close())

	resp, err := http.Post(srv.URL+"/papers/", writer.FormDataContentType(), &body)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestQuery_RejectsMalformedJSON(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/query", "application/json", bytes.NewBufferString("{not-json"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
