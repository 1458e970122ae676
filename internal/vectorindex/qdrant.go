// Package vectorindex provides an optional Qdrant-backed vector search leg,
// selected by config as an alternative to pgvector's <#> operator. It is
// adapted from the teacher's internal/persistence/databases/qdrant_vector.go
// qdrantVector, trimmed to memoryd's needs: points are keyed directly by the
// episode/fact UUID (no payload-ID indirection, since memoryd's IDs are
// already UUIDs) and carry no payload, since the Postgres row remains the
// source of truth for everything but the vector itself.
package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// ScoredID is one hit from a similarity search: the entity's UUID and its
// similarity score (higher is more similar).
type ScoredID struct {
	ID    uuid.UUID
	Score float64
}

// Index is the vector search contract a Qdrant collection or any future
// alternate backend must satisfy.
type Index interface {
	Upsert(ctx context.Context, id uuid.UUID, vector []float32) error
	Delete(ctx context.Context, id uuid.UUID) error
	Search(ctx context.Context, vector []float32, limit int) ([]ScoredID, error)
	Close() error
}

type Qdrant struct {
	client     *qdrant.Client
	collection string
	dimension  int
}

// NewQdrant opens a gRPC connection (default port 6334) and ensures the
// named collection exists with cosine distance at the given dimension. One
// instance should be created per logical collection (e.g. "episodes",
// "facts").
func NewQdrant(dsn, collection string, dimension int) (*Qdrant, error) {
	if collection == "" {
		return nil, fmt.Errorf("vectorindex: collection name is required")
	}
	if dimension <= 0 {
		return nil, fmt.Errorf("vectorindex: dimension must be > 0")
	}
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	port := parsed.Port()
	if port == "" {
		port = "6334"
	}
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: invalid qdrant port: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: portNum}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("vectorindex: create qdrant client: %w", err)
	}
	q := &Qdrant{client: client, collection: collection, dimension: dimension}
	if err := q.ensureCollection(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("vectorindex: ensure collection %s: %w", collection, err)
	}
	return q, nil
}

func (q *Qdrant) ensureCollection(ctx context.Context) error {
	exists, err := q.client.CollectionExists(ctx, q.collection)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return q.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: q.collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(q.dimension),
			Distance: qdrant.Distance_Cosine,
		}),
	})
}

func (q *Qdrant) Upsert(ctx context.Context, id uuid.UUID, vector []float32) error {
	vec := make([]float32, len(vector))
	copy(vec, vector)
	points := []*qdrant.PointStruct{{
		Id:      qdrant.NewIDUUID(id.String()),
		Vectors: qdrant.NewVectorsDense(vec),
	}}
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collection,
		Points:         points,
	})
	return err
}

func (q *Qdrant) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.collection,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(id.String())),
	})
	return err
}

func (q *Qdrant) Search(ctx context.Context, vector []float32, limit int) ([]ScoredID, error) {
	if limit <= 0 {
		limit = 10
	}
	vec := make([]float32, len(vector))
	copy(vec, vector)
	lim := uint64(limit)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &lim,
	})
	if err != nil {
		return nil, err
	}
	out := make([]ScoredID, 0, len(hits))
	for _, hit := range hits {
		id, err := uuid.Parse(hit.Id.GetUuid())
		if err != nil {
			continue
		}
		out = append(out, ScoredID{ID: id, Score: float64(hit.Score)})
	}
	return out, nil
}

func (q *Qdrant) Close() error {
	return q.client.Close()
}

var _ Index = (*Qdrant)(nil)
