package store

import (
	"context"

	"github.com/google/uuid"

	"memoryd/internal/core/ports"
	"memoryd/internal/core/types"
	"memoryd/internal/vectorindex"
)

// QdrantStore layers an optional Qdrant vector leg on top of Postgres: rows
// and their embeddings still land in Postgres (the source of truth for
// everything else an episode/fact carries), but the similarity search half
// of the hybrid retrieval engine queries Qdrant's HNSW index instead of
// pgvector's <#> operator, then re-hydrates full rows from Postgres by ID.
// Selected by config.Qdrant.Enabled; cmd/memoryd falls back to plain
// *Postgres otherwise.
type QdrantStore struct {
	*Postgres
	episodes vectorindex.Index
	facts    vectorindex.Index
}

// NewQdrantStore wraps pg, dual-writing embeddings to episodes/facts and
// routing vector search through them.
func NewQdrantStore(pg *Postgres, episodes, facts vectorindex.Index) *QdrantStore {
	return &QdrantStore{Postgres: pg, episodes: episodes, facts: facts}
}

func (s *QdrantStore) InsertEpisode(ctx context.Context, ep types.Episode) error {
	if err := s.Postgres.InsertEpisode(ctx, ep); err != nil {
		return err
	}
	return s.episodes.Upsert(ctx, uuid.UUID(ep.ID), ep.Embedding)
}

func (s *QdrantStore) InsertFact(ctx context.Context, f types.Fact) error {
	if err := s.Postgres.InsertFact(ctx, f); err != nil {
		return err
	}
	return s.facts.Upsert(ctx, uuid.UUID(f.ID), f.Embedding)
}

func (s *QdrantStore) SearchEpisodes(ctx context.Context, conversationID string, queryVec []float32, topK int) ([]ports.ScoredEpisode, error) {
	hits, err := s.episodes.Search(ctx, queryVec, topK)
	if err != nil {
		return nil, err
	}
	out := make([]ports.ScoredEpisode, 0, len(hits))
	for _, hit := range hits {
		ep, err := s.Postgres.GetEpisode(ctx, types.EpisodeID(hit.ID))
		if err != nil {
			return nil, err
		}
		if ep.ConversationID != conversationID {
			continue
		}
		out = append(out, ports.ScoredEpisode{Episode: ep, Score: hit.Score})
	}
	return out, nil
}

func (s *QdrantStore) SearchFacts(ctx context.Context, conversationID string, queryVec []float32, topK int) ([]ports.ScoredFact, error) {
	hits, err := s.facts.Search(ctx, queryVec, topK)
	if err != nil {
		return nil, err
	}
	out := make([]ports.ScoredFact, 0, len(hits))
	for _, hit := range hits {
		f, err := s.Postgres.GetFact(ctx, types.FactID(hit.ID))
		if err != nil {
			return nil, err
		}
		if f.ConversationID != conversationID {
			continue
		}
		out = append(out, ports.ScoredFact{Fact: f, Score: hit.Score})
	}
	return out, nil
}
