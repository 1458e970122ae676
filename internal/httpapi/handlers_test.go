package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"memoryd/internal/core/consolidate"
	"memoryd/internal/core/episode"
	"memoryd/internal/core/orchestrator"
	"memoryd/internal/core/review"
	"memoryd/internal/core/segment"
	"memoryd/internal/core/retrieve"
	"memoryd/internal/jobqueue"
	"memoryd/internal/store"
)

type nopEmbedder struct{}

func (nopEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) { return nil, nil }
func (nopEmbedder) Dimension() int                                                 { return 0 }

type nopPlanner struct{}

func (nopPlanner) GenerateObject(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any, result any) error {
	return nil
}
func (nopPlanner) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	mem := store.NewMemory()
	bus := jobqueue.NewMemory()
	emb := nopEmbedder{}
	planner := nopPlanner{}

	orch := orchestrator.New(
		bus,
		mem,
		mem,
		segment.New(planner),
		episode.New(mem, emb),
		review.New(mem, planner),
		consolidate.New(mem, mem, emb, planner),
		retrieve.New(mem, mem, emb, mem),
	)
	require.NoError(t, orch.Subscribe(context.Background()))
	return NewServer(orch)
}

func TestAddMessageEndpointAcceptsMessage(t *testing.T) {
	srv := newTestServer(t)

	body, err := json.Marshal(addMessageRequest{Role: "user", Content: "hello there"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/memory/c1/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAddMessageEndpointRejectsEmptyContent(t *testing.T) {
	srv := newTestServer(t)

	body, err := json.Marshal(addMessageRequest{Role: "user", Content: ""})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/memory/c1/messages", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRetrieveMemoryRawEndpointReturnsEmptyResultForUnknownConversation(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/memory/unknown/retrieve/raw?q=tea", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var payload struct {
		Semantic []any `json:"semantic"`
		Episodic []any `json:"episodic"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	require.Empty(t, payload.Semantic)
	require.Empty(t, payload.Episodic)
}

func TestRecentMemoryEndpointRendersMarkdown(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/memory/c1/recent", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "No relevant memories found.", rec.Body.String())
}

func TestHealthzEndpoint(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()

	srv.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}
