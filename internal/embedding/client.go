// Package embedding adapts internal/core/ports.Embedder to an HTTP
// embeddings endpoint (OpenAI-compatible request/response shape), following
// the teacher's EmbedText client with request/response structs and
// Authorization-header handling.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"memoryd/internal/config"
	"memoryd/internal/core/errs"
	"memoryd/internal/core/vecmath"
)

type embedReq struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResp struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Client is a ports.Embedder backed by an HTTP embeddings endpoint. Vectors
// that come back a different size than cfg.Dimension are truncated and
// renormalized (longer) or rejected (shorter) via vecmath.Fit, matching the
// spec's embedding-dimension contract.
type Client struct {
	cfg        config.EmbeddingConfig
	httpClient *http.Client
}

func New(cfg config.EmbeddingConfig) *Client {
	return &Client{cfg: cfg, httpClient: http.DefaultClient}
}

// WithHTTPClient overrides the client used to reach the embeddings
// endpoint, e.g. with observability.NewHTTPClient's otel-instrumented
// transport.
func (c *Client) WithHTTPClient(hc *http.Client) *Client {
	c.httpClient = hc
	return c
}

func (c *Client) Dimension() int { return c.cfg.Dimension }

func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, errs.New(errs.BadInput, "no inputs to embed")
	}
	reqBody, err := json.Marshal(embedReq{Model: c.cfg.Model, Input: texts})
	if err != nil {
		return nil, err
	}
	cctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.cfg.BaseURL+c.cfg.Path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	if c.cfg.APIHeader == "Authorization" && c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	} else if c.cfg.APIHeader != "" && c.cfg.APIKey != "" {
		req.Header.Set(c.cfg.APIHeader, c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "embeddings request", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.Wrap(errs.Transient, "read embeddings response", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, errs.New(errs.UpstreamLLM, fmt.Sprintf("embeddings error: %s: %s", resp.Status, string(body)))
	}

	var er embedResp
	if err := json.Unmarshal(body, &er); err != nil {
		return nil, errs.Wrap(errs.UpstreamLLM, "decode embeddings response", err)
	}
	if len(er.Data) != len(texts) {
		return nil, errs.New(errs.UpstreamLLM, fmt.Sprintf("unexpected embedding count: got %d, want %d", len(er.Data), len(texts)))
	}

	out := make([][]float32, len(er.Data))
	for i := range er.Data {
		fitted, ok := vecmath.Fit(er.Data[i].Embedding, c.cfg.Dimension)
		if !ok {
			return nil, errs.New(errs.UpstreamLLM, fmt.Sprintf("embedding %d is shorter than the required dimension %d", i, c.cfg.Dimension))
		}
		out[i] = fitted
	}
	return out, nil
}

// CheckReachability verifies the embedding endpoint is reachable and
// returning well-formed vectors, for use in a readiness probe.
func CheckReachability(ctx context.Context, c *Client) error {
	_, err := c.Embed(ctx, []string{"ping"})
	if err != nil {
		return errs.Wrap(errs.Transient, "embedding endpoint reachability check failed", err)
	}
	return nil
}
