package review

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memoryd/internal/core/ports"
	"memoryd/internal/core/types"
)

type fakeEpisodeStore struct {
	ep     types.Episode
	update types.Episode
	calls  int
}

func (s *fakeEpisodeStore) InsertEpisode(ctx context.Context, ep types.Episode) error { return nil }
func (s *fakeEpisodeStore) GetEpisode(ctx context.Context, id types.EpisodeID) (types.Episode, error) {
	return s.ep, nil
}
func (s *fakeEpisodeStore) UpdateReview(ctx context.Context, id types.EpisodeID, st types.Episode) error {
	s.update = st
	s.calls++
	return nil
}
func (s *fakeEpisodeStore) UnconsolidatedEpisodes(ctx context.Context, conversationID string, limit int) ([]types.Episode, error) {
	return nil, nil
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

type fakePlanner struct{ rating string }

func (f *fakePlanner) GenerateObject(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any, result any) error {
	return json.Unmarshal([]byte(`{"rating":"`+f.rating+`"}`), result)
}
func (f *fakePlanner) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", nil
}

func TestReviewStepsFSRSState(t *testing.T) {
	store := &fakeEpisodeStore{ep: types.Episode{
		LastReviewedAt: time.Now().Add(-48 * time.Hour),
		Stability:      5,
		Difficulty:     5,
	}}
	w := New(store, &fakePlanner{rating: "good"})
	err := w.Review(context.Background(), types.EpisodeID{}, "context")
	require.NoError(t, err)
	require.Equal(t, 1, store.calls)
	require.True(t, store.update.Stability > 0)
}

func TestReviewSkipsSameDayDebounce(t *testing.T) {
	store := &fakeEpisodeStore{ep: types.Episode{LastReviewedAt: time.Now()}}
	w := New(store, &fakePlanner{rating: "good"})
	err := w.Review(context.Background(), types.EpisodeID{}, "context")
	require.NoError(t, err)
	require.Equal(t, 0, store.calls, "an episode already reviewed today must not be re-reviewed")
}

func TestReviewDebouncesAcrossMidnight(t *testing.T) {
	// Two reviews 30 minutes apart but straddling midnight must still
	// debounce: this is a duration check, not a calendar-date comparison.
	store := &fakeEpisodeStore{ep: types.Episode{LastReviewedAt: time.Now().Add(-30 * time.Minute)}}
	w := New(store, &fakePlanner{rating: "good"})
	err := w.Review(context.Background(), types.EpisodeID{}, "context")
	require.NoError(t, err)
	require.Equal(t, 0, store.calls)
}

func TestReviewSkipsOutOfOrderReviewedAt(t *testing.T) {
	// LastReviewedAt in the future of "now" (an out-of-order/stale review)
	// must be skipped, never fed to fsrs.Next as a negative elapsed duration.
	store := &fakeEpisodeStore{ep: types.Episode{LastReviewedAt: time.Now().Add(48 * time.Hour)}}
	w := New(store, &fakePlanner{rating: "good"})
	err := w.Review(context.Background(), types.EpisodeID{}, "context")
	require.NoError(t, err)
	require.Equal(t, 0, store.calls, "an out-of-order reviewed_at must be skipped as stale")
}
