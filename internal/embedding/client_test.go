package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"memoryd/internal/config"
)

func writeVectors(t *testing.T, w http.ResponseWriter, vecs [][]float32) {
	t.Helper()
	data := make([]map[string]any, len(vecs))
	for i, v := range vecs {
		data[i] = map[string]any{"embedding": v}
	}
	b, err := json.Marshal(map[string]any{"data": data})
	require.NoError(t, err)
	_, _ = w.Write(b)
}

func TestEmbedSetsAuthorizationHeader(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		writeVectors(t, w, [][]float32{{0.1, 0.2}})
	}))
	defer ts.Close()

	c := New(config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m", APIHeader: "Authorization", APIKey: "secret", Timeout: 5e9, Dimension: 2})
	out, err := c.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestEmbedTruncatesOversizedVector(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeVectors(t, w, [][]float32{{1, 2, 3, 4}})
	}))
	defer ts.Close()

	c := New(config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m", Timeout: 5e9, Dimension: 2})
	out, err := c.Embed(context.Background(), []string{"x"})
	require.NoError(t, err)
	require.Len(t, out[0], 2)
}

func TestEmbedRejectsUndersizedVector(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeVectors(t, w, [][]float32{{1}})
	}))
	defer ts.Close()

	c := New(config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m", Timeout: 5e9, Dimension: 4})
	_, err := c.Embed(context.Background(), []string{"x"})
	require.Error(t, err)
}

func TestEmbedMismatchedCountIsError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeVectors(t, w, [][]float32{{1, 2}})
	}))
	defer ts.Close()

	c := New(config.EmbeddingConfig{BaseURL: ts.URL, Path: "/", Model: "m", Timeout: 5e9, Dimension: 2})
	_, err := c.Embed(context.Background(), []string{"x", "y"})
	require.Error(t, err)
}
