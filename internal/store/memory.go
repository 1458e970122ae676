package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"memoryd/internal/core/errs"
	"memoryd/internal/core/ports"
	"memoryd/internal/core/types"
	"memoryd/internal/core/vecmath"
)

// Memory is an in-process Store backed by plain maps, for tests and local
// development without a Postgres instance. Vector search is brute-force
// cosine similarity, the same scan-and-sort approach as the teacher's
// in-memory vector store; fine at the sizes a single conversation's memory
// reaches, not meant for production scale.
type Memory struct {
	mu       sync.Mutex
	queues   map[string]*types.QueueState
	episodes map[types.EpisodeID]types.Episode
	facts    map[types.FactID]types.Fact
}

func NewMemory() *Memory {
	return &Memory{
		queues:   map[string]*types.QueueState{},
		episodes: map[types.EpisodeID]types.Episode{},
		facts:    map[types.FactID]types.Fact{},
	}
}

func (m *Memory) GetOrCreateQueue(ctx context.Context, conversationID string) (types.QueueState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.queues[conversationID]
	if !ok {
		q = &types.QueueState{ConversationID: conversationID}
		m.queues[conversationID] = q
	}
	return cloneQueue(*q), nil
}

func cloneQueue(q types.QueueState) types.QueueState {
	out := q
	out.Messages = append([]types.Message(nil), q.Messages...)
	out.PendingReviews = append([]types.EpisodeID(nil), q.PendingReviews...)
	return out
}

func (m *Memory) AppendMessages(ctx context.Context, conversationID string, msgs []types.Message) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.mustQueue(conversationID)
	q.Messages = append(q.Messages, msgs...)
	return len(q.Messages), nil
}

func (m *Memory) mustQueue(conversationID string) *types.QueueState {
	q, ok := m.queues[conversationID]
	if !ok {
		q = &types.QueueState{ConversationID: conversationID}
		m.queues[conversationID] = q
	}
	return q
}

func (m *Memory) TryAcquireFence(ctx context.Context, conversationID string, triggerCount int32, staleAfter time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.mustQueue(conversationID)
	if q.InProgressFence != nil && time.Since(q.FenceSetAt) < staleAfter {
		return false, nil
	}
	q.InProgressFence = &triggerCount
	q.FenceSetAt = time.Now()
	return true, nil
}

func (m *Memory) ClearFenceAndMaybeDouble(ctx context.Context, conversationID string, doubled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.mustQueue(conversationID)
	q.InProgressFence = nil
	if doubled {
		q.WindowDoubled = true
	}
	return nil
}

func (m *Memory) DrainPrefix(ctx context.Context, conversationID string, n int, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.mustQueue(conversationID)
	if n > len(q.Messages) {
		n = len(q.Messages)
	}
	q.Messages = append([]types.Message(nil), q.Messages[n:]...)
	q.PrevSummary = summary
	return nil
}

func (m *Memory) AddPendingReviews(ctx context.Context, conversationID string, ids []types.EpisodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.mustQueue(conversationID)
	q.PendingReviews = append(q.PendingReviews, ids...)
	return nil
}

func (m *Memory) TakePendingReviews(ctx context.Context, conversationID string) ([]types.EpisodeID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.mustQueue(conversationID)
	out := q.PendingReviews
	q.PendingReviews = nil
	return out, nil
}

func (m *Memory) InsertEpisode(ctx context.Context, ep types.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.episodes[ep.ID] = ep
	return nil
}

func (m *Memory) GetEpisode(ctx context.Context, id types.EpisodeID) (types.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.episodes[id]
	if !ok {
		return types.Episode{}, errs.New(errs.NotFound, "episode not found")
	}
	return ep, nil
}

func (m *Memory) UpdateReview(ctx context.Context, id types.EpisodeID, st types.Episode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	ep, ok := m.episodes[id]
	if !ok {
		return errs.New(errs.NotFound, "episode not found")
	}
	ep.Stability = st.Stability
	ep.Difficulty = st.Difficulty
	ep.LastReviewedAt = st.LastReviewedAt
	m.episodes[id] = ep
	return nil
}

func (m *Memory) UnconsolidatedEpisodes(ctx context.Context, conversationID string, limit int) ([]types.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Episode
	for _, ep := range m.episodes {
		if ep.ConversationID == conversationID && ep.ConsolidatedAt == nil {
			out = append(out, ep)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) MarkConsolidated(ctx context.Context, ids []types.EpisodeID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stamp := at
	for _, id := range ids {
		ep, ok := m.episodes[id]
		if !ok {
			continue
		}
		ep.ConsolidatedAt = &stamp
		m.episodes[id] = ep
	}
	return nil
}

func (m *Memory) RecentEpisodes(ctx context.Context, conversationID string, since time.Time, limit int) ([]types.Episode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.Episode
	for _, ep := range m.episodes {
		if ep.ConversationID != conversationID {
			continue
		}
		if !since.IsZero() && ep.EndAt.Before(since) {
			continue
		}
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EndAt.After(out[j].EndAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SearchEpisodes(ctx context.Context, conversationID string, queryVec []float32, topK int) ([]ports.ScoredEpisode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ports.ScoredEpisode
	for _, ep := range m.episodes {
		if ep.ConversationID != conversationID {
			continue
		}
		out = append(out, ports.ScoredEpisode{Episode: ep, Score: vecmath.CosineSimilarity(queryVec, ep.Embedding)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *Memory) LexicalSearchEpisodes(ctx context.Context, conversationID string, query string, topK int) ([]ports.ScoredEpisode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ports.ScoredEpisode
	for _, ep := range m.episodes {
		if ep.ConversationID != conversationID {
			continue
		}
		if score, ok := lexicalScore(query, ep.Summary+" "+ep.Title); ok {
			out = append(out, ports.ScoredEpisode{Episode: ep, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *Memory) InsertFact(ctx context.Context, f types.Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.facts[f.ID] = f
	return nil
}

func (m *Memory) GetFact(ctx context.Context, id types.FactID) (types.Fact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facts[id]
	if !ok {
		return types.Fact{}, errs.New(errs.NotFound, "fact not found")
	}
	return f, nil
}

func (m *Memory) ReinforceFact(ctx context.Context, id types.FactID, newSourceEpisodes []types.EpisodeID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facts[id]
	if !ok {
		return errs.New(errs.NotFound, "fact not found")
	}
	present := map[types.EpisodeID]bool{}
	for _, e := range f.SourceEpisodicIDs {
		present[e] = true
	}
	for _, e := range newSourceEpisodes {
		if !present[e] {
			f.SourceEpisodicIDs = append(f.SourceEpisodicIDs, e)
			present[e] = true
		}
	}
	m.facts[id] = f
	return nil
}

func (m *Memory) UpdateFact(ctx context.Context, id types.FactID, f types.Fact) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.facts[id]
	if !ok {
		return errs.New(errs.NotFound, "fact not found")
	}
	existing.Subject, existing.Predicate, existing.Object = f.Subject, f.Predicate, f.Object
	existing.Fact, existing.Category, existing.Embedding = f.Fact, f.Category, f.Embedding
	m.facts[id] = existing
	return nil
}

func (m *Memory) InvalidateFact(ctx context.Context, id types.FactID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.facts[id]
	if !ok {
		return errs.New(errs.NotFound, "fact not found")
	}
	stamp := at
	f.InvalidAt = &stamp
	m.facts[id] = f
	return nil
}

func (m *Memory) RelatedFacts(ctx context.Context, conversationID string, queryVec []float32, threshold float64, limit int) ([]ports.ScoredFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ports.ScoredFact
	for _, f := range m.facts {
		if f.ConversationID != conversationID || !f.IsActive() {
			continue
		}
		score := float64(vecmath.CosineSimilarity(queryVec, f.Embedding))
		if score > threshold {
			out = append(out, ports.ScoredFact{Fact: f, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) SearchFacts(ctx context.Context, conversationID string, queryVec []float32, topK int) ([]ports.ScoredFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ports.ScoredFact
	for _, f := range m.facts {
		if f.ConversationID != conversationID || !f.IsActive() {
			continue
		}
		out = append(out, ports.ScoredFact{Fact: f, Score: float64(vecmath.CosineSimilarity(queryVec, f.Embedding))})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *Memory) LexicalSearchFacts(ctx context.Context, conversationID string, query string, topK int) ([]ports.ScoredFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ports.ScoredFact
	for _, f := range m.facts {
		if f.ConversationID != conversationID || !f.IsActive() {
			continue
		}
		if score, ok := lexicalScore(query, f.Fact); ok {
			out = append(out, ports.ScoredFact{Fact: f, Score: score})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

// lexicalScore is a crude substring-count match standing in for Postgres's
// ts_rank_cd in the in-memory backend; good enough for tests that assert on
// relative ranking, not a real BM25 implementation.
func lexicalScore(query, text string) (float64, bool) {
	if query == "" {
		return 0, false
	}
	count := 0
	ql := len(query)
	for i := 0; i+ql <= len(text); i++ {
		if equalFold(text[i:i+ql], query) {
			count++
		}
	}
	if count == 0 {
		return 0, false
	}
	return float64(count), true
}

func equalFold(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		ca, cb := a[i], b[i]
		if 'A' <= ca && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if 'A' <= cb && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

var _ ports.Store = (*Memory)(nil)
