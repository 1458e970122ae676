package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memoryd/internal/core/consolidate"
	"memoryd/internal/core/episode"
	"memoryd/internal/core/ports"
	"memoryd/internal/core/queue"
	"memoryd/internal/core/retrieve"
	"memoryd/internal/core/review"
	"memoryd/internal/core/segment"
	"memoryd/internal/core/types"
)

// memStore is a single in-memory fake satisfying ports.Store, enough to
// drive the orchestrator end-to-end in tests.
type memStore struct {
	queues   map[string]*types.QueueState
	episodes map[types.EpisodeID]types.Episode
	facts    map[types.FactID]types.Fact
}

func newMemStore() *memStore {
	return &memStore{
		queues:   map[string]*types.QueueState{},
		episodes: map[types.EpisodeID]types.Episode{},
		facts:    map[types.FactID]types.Fact{},
	}
}

func (m *memStore) GetOrCreateQueue(ctx context.Context, conversationID string) (types.QueueState, error) {
	q, ok := m.queues[conversationID]
	if !ok {
		q = &types.QueueState{ConversationID: conversationID}
		m.queues[conversationID] = q
	}
	return *q, nil
}
func (m *memStore) AppendMessages(ctx context.Context, conversationID string, msgs []types.Message) (int, error) {
	q, _ := m.GetOrCreateQueue(ctx, conversationID)
	q.Messages = append(q.Messages, msgs...)
	m.queues[conversationID] = &q
	return len(q.Messages), nil
}
func (m *memStore) TryAcquireFence(ctx context.Context, conversationID string, triggerCount int32, staleAfter time.Duration) (bool, error) {
	q := m.queues[conversationID]
	if q.InProgressFence != nil && time.Since(q.FenceSetAt) < staleAfter {
		return false, nil
	}
	q.InProgressFence = &triggerCount
	q.FenceSetAt = time.Now()
	return true, nil
}
func (m *memStore) ClearFenceAndMaybeDouble(ctx context.Context, conversationID string, doubled bool) error {
	q := m.queues[conversationID]
	q.InProgressFence = nil
	if doubled {
		q.WindowDoubled = true
	}
	return nil
}
func (m *memStore) DrainPrefix(ctx context.Context, conversationID string, n int, summary string) error {
	q := m.queues[conversationID]
	if n > len(q.Messages) {
		n = len(q.Messages)
	}
	q.Messages = q.Messages[n:]
	q.PrevSummary = summary
	return nil
}
func (m *memStore) AddPendingReviews(ctx context.Context, conversationID string, ids []types.EpisodeID) error {
	q := m.queues[conversationID]
	q.PendingReviews = append(q.PendingReviews, ids...)
	return nil
}
func (m *memStore) TakePendingReviews(ctx context.Context, conversationID string) ([]types.EpisodeID, error) {
	q := m.queues[conversationID]
	out := q.PendingReviews
	q.PendingReviews = nil
	return out, nil
}
func (m *memStore) InsertEpisode(ctx context.Context, ep types.Episode) error {
	m.episodes[ep.ID] = ep
	return nil
}
func (m *memStore) GetEpisode(ctx context.Context, id types.EpisodeID) (types.Episode, error) {
	return m.episodes[id], nil
}
func (m *memStore) UpdateReview(ctx context.Context, id types.EpisodeID, st types.Episode) error {
	m.episodes[id] = st
	return nil
}
func (m *memStore) UnconsolidatedEpisodes(ctx context.Context, conversationID string, limit int) ([]types.Episode, error) {
	var out []types.Episode
	for _, ep := range m.episodes {
		if ep.ConversationID == conversationID && ep.ConsolidatedAt == nil {
			out = append(out, ep)
		}
	}
	return out, nil
}
func (m *memStore) MarkConsolidated(ctx context.Context, ids []types.EpisodeID, at time.Time) error {
	for _, id := range ids {
		ep := m.episodes[id]
		ep.ConsolidatedAt = &at
		m.episodes[id] = ep
	}
	return nil
}
func (m *memStore) RecentEpisodes(ctx context.Context, conversationID string, since time.Time, limit int) ([]types.Episode, error) {
	var out []types.Episode
	for _, ep := range m.episodes {
		if ep.ConversationID == conversationID && (since.IsZero() || !ep.EndAt.Before(since)) {
			out = append(out, ep)
		}
	}
	return out, nil
}
func (m *memStore) SearchEpisodes(ctx context.Context, conversationID string, queryVec []float32, topK int) ([]ports.ScoredEpisode, error) {
	return nil, nil
}
func (m *memStore) LexicalSearchEpisodes(ctx context.Context, conversationID string, query string, topK int) ([]ports.ScoredEpisode, error) {
	return nil, nil
}
func (m *memStore) InsertFact(ctx context.Context, f types.Fact) error {
	m.facts[f.ID] = f
	return nil
}
func (m *memStore) GetFact(ctx context.Context, id types.FactID) (types.Fact, error) {
	return m.facts[id], nil
}
func (m *memStore) ReinforceFact(ctx context.Context, id types.FactID, newSourceEpisodes []types.EpisodeID) error {
	return nil
}
func (m *memStore) UpdateFact(ctx context.Context, id types.FactID, f types.Fact) error { return nil }
func (m *memStore) InvalidateFact(ctx context.Context, id types.FactID, at time.Time) error {
	return nil
}
func (m *memStore) RelatedFacts(ctx context.Context, conversationID string, queryVec []float32, threshold float64, limit int) ([]ports.ScoredFact, error) {
	return nil, nil
}
func (m *memStore) SearchFacts(ctx context.Context, conversationID string, queryVec []float32, topK int) ([]ports.ScoredFact, error) {
	return nil, nil
}
func (m *memStore) LexicalSearchFacts(ctx context.Context, conversationID string, query string, topK int) ([]ports.ScoredFact, error) {
	return nil, nil
}

// syncBus dispatches Publish synchronously to whatever handler is currently
// registered for that job type, good enough for deterministic tests.
type syncBus struct {
	handlers map[ports.JobType]func(ctx context.Context, payload []byte) error
}

func newSyncBus() *syncBus {
	return &syncBus{handlers: map[ports.JobType]func(ctx context.Context, payload []byte) error{}}
}
func (b *syncBus) Publish(ctx context.Context, jobType ports.JobType, key string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if h, ok := b.handlers[jobType]; ok {
		return h(ctx, raw)
	}
	return nil
}
func (b *syncBus) Subscribe(ctx context.Context, jobType ports.JobType, handler func(ctx context.Context, payload []byte) error) error {
	b.handlers[jobType] = handler
	return nil
}
func (b *syncBus) Close() error { return nil }

type fakeEmbedder struct{ dim int }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}
func (f *fakeEmbedder) Dimension() int { return f.dim }

type fakePlanner struct{ segmentJSON, consolidateJSON, ratingJSON string }

func (f *fakePlanner) GenerateObject(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any, result any) error {
	raw := f.segmentJSON
	if _, ok := schema["properties"].(map[string]any)["facts"]; ok {
		raw = f.consolidateJSON
	} else if _, ok := schema["properties"].(map[string]any)["rating"]; ok {
		raw = f.ratingJSON
	}
	return json.Unmarshal([]byte(raw), result)
}
func (f *fakePlanner) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", nil
}

func buildOrchestrator(store *memStore, bus *syncBus, planner *fakePlanner) *Orchestrator {
	emb := &fakeEmbedder{dim: 4}
	return New(
		bus,
		store,
		store,
		segment.New(planner),
		episode.New(store, emb),
		review.New(store, planner),
		consolidate.New(store, store, emb, planner),
		retrieve.New(store, store, emb, store),
	)
}

func TestPushMessageTriggersSegmentationAndConsolidation(t *testing.T) {
	store := newMemStore()
	bus := newSyncBus()
	planner := &fakePlanner{
		segmentJSON:     `{"segments":[{"num_messages":20,"title":"t","summary":"a long conversation summary","keywords":["k"],"surprise":0.2}]}`,
		consolidateJSON: `{"facts":[]}`,
	}
	o := buildOrchestrator(store, bus, planner)
	require.NoError(t, o.Subscribe(context.Background()))

	now := time.Now()
	msgs := make([]types.Message, queue.WindowBase)
	for i := range msgs {
		msgs[i] = types.Message{ConversationID: "c1", Role: "user", Content: "hi", Timestamp: now}
	}

	err := o.PushMessage(context.Background(), "c1", msgs)
	require.NoError(t, err)

	require.Len(t, store.episodes, 1, "segmentation should have produced exactly one episode")
	q := store.queues["c1"]
	require.Empty(t, q.Messages, "the fenced prefix should have been drained")
	require.Nil(t, q.InProgressFence)
}

func TestPushMessageBelowThresholdDoesNotPublish(t *testing.T) {
	store := newMemStore()
	bus := newSyncBus()
	o := buildOrchestrator(store, bus, &fakePlanner{})
	require.NoError(t, o.Subscribe(context.Background()))

	err := o.PushMessage(context.Background(), "c1", []types.Message{{ConversationID: "c1", Role: "user", Content: "hi", Timestamp: time.Now()}})
	require.NoError(t, err)
	require.Empty(t, store.episodes)
}
