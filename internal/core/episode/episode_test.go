package episode

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memoryd/internal/core/ports"
	"memoryd/internal/core/segment"
	"memoryd/internal/core/types"
)

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}
func (f *fakeEmbedder) Dimension() int { return f.dim }

type fakeEpisodeStore struct {
	inserted []types.Episode
}

func (s *fakeEpisodeStore) InsertEpisode(ctx context.Context, ep types.Episode) error {
	s.inserted = append(s.inserted, ep)
	return nil
}
func (s *fakeEpisodeStore) GetEpisode(ctx context.Context, id types.EpisodeID) (types.Episode, error) {
	for _, e := range s.inserted {
		if e.ID == id {
			return e, nil
		}
	}
	return types.Episode{}, nil
}
func (s *fakeEpisodeStore) UpdateReview(ctx context.Context, id types.EpisodeID, st types.Episode) error {
	return nil
}
func (s *fakeEpisodeStore) UnconsolidatedEpisodes(ctx context.Context, conversationID string, limit int) ([]types.Episode, error) {
	return s.inserted, nil
}
func (s *fakeEpisodeStore) MarkConsolidated(ctx context.Context, ids []types.EpisodeID, at time.Time) error {
	return nil
}
func (s *fakeEpisodeStore) RecentEpisodes(ctx context.Context, conversationID string, since time.Time, limit int) ([]types.Episode, error) {
	return nil, nil
}
func (s *fakeEpisodeStore) SearchEpisodes(ctx context.Context, conversationID string, queryVec []float32, topK int) ([]ports.ScoredEpisode, error) {
	return nil, nil
}
func (s *fakeEpisodeStore) LexicalSearchEpisodes(ctx context.Context, conversationID string, query string, topK int) ([]ports.ScoredEpisode, error) {
	return nil, nil
}

func TestBuildEmbedsAndPersists(t *testing.T) {
	store := &fakeEpisodeStore{}
	b := New(store, &fakeEmbedder{dim: 4})
	seg := segment.Segment{
		Messages: []types.Message{{Content: "hi", Timestamp: time.Now()}},
		Title:    "t",
		Summary:  "a summary",
		Surprise: 0.8,
	}
	ep, err := b.Build(context.Background(), "c1", seg)
	require.NoError(t, err)
	require.NotNil(t, ep)
	require.Len(t, ep.Embedding, 4)
	require.Equal(t, ep.CreatedAt, ep.LastReviewedAt)
	require.Nil(t, ep.ConsolidatedAt)
	require.Len(t, store.inserted, 1)
	require.Equal(t, seg.Messages, ep.Messages, "the episode must own a snapshot of its source messages")
}

func TestBuildSkipsEmptySummary(t *testing.T) {
	store := &fakeEpisodeStore{}
	b := New(store, &fakeEmbedder{dim: 4})
	ep, err := b.Build(context.Background(), "c1", segment.Segment{Summary: ""})
	require.NoError(t, err)
	require.Nil(t, ep)
	require.Empty(t, store.inserted)
}
