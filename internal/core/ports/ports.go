// Package ports declares the external contracts internal/core depends on:
// Store, Embedder, Planner, and JobBus. The core packages are generic over
// these interfaces — concrete adapters (Postgres, an HTTP embedder, an
// Anthropic/OpenAI planner, a Kafka job bus) live outside internal/core and
// are wired together by cmd/memoryd. This mirrors the teacher's dynamic
// dispatch over interface-shaped SDK clients rather than a concrete type
// per backend.
package ports

import (
	"context"
	"time"

	"memoryd/internal/core/types"
)

// Store is the persistence contract for queues, episodes, and facts. It is
// split into three narrow sub-interfaces so an adapter can compose them
// (e.g. one Postgres pool backing all three, or a single in-memory struct).
type Store interface {
	QueueStore
	EpisodeStore
	FactStore
}

// QueueStore manages the per-conversation MessageQueue row.
type QueueStore interface {
	// GetOrCreateQueue returns the queue row for conversationID, creating an
	// empty one if it does not exist.
	GetOrCreateQueue(ctx context.Context, conversationID string) (types.QueueState, error)
	// AppendMessages appends msgs to the queue and returns the resulting
	// message count, atomically (used as the TOCTOU-safe trigger count).
	AppendMessages(ctx context.Context, conversationID string, msgs []types.Message) (count int, err error)
	// TryAcquireFence sets InProgressFence to triggerCount if and only if no
	// fence is currently held (or the held fence is stale); it reports
	// whether the fence was acquired.
	TryAcquireFence(ctx context.Context, conversationID string, triggerCount int32, staleAfter time.Duration) (bool, error)
	// ClearFenceAndMaybeDouble clears the fence and, if doubled is true,
	// marks the queue's window as doubled (WINDOW_MAX applies going
	// forward for this conversation).
	ClearFenceAndMaybeDouble(ctx context.Context, conversationID string, doubled bool) error
	// DrainPrefix removes the first n messages from the queue (the prefix
	// consumed by a completed segmentation) and stores summary as the new
	// PrevSummary for the next segmentation call's context.
	DrainPrefix(ctx context.Context, conversationID string, n int, summary string) error
	// AddPendingReviews appends episode IDs awaiting a forgetting-curve
	// review for this conversation.
	AddPendingReviews(ctx context.Context, conversationID string, ids []types.EpisodeID) error
	// TakePendingReviews atomically reads and clears the pending-review
	// list for conversationID.
	TakePendingReviews(ctx context.Context, conversationID string) ([]types.EpisodeID, error)
}

// EpisodeStore persists and queries Episode records.
type EpisodeStore interface {
	InsertEpisode(ctx context.Context, ep types.Episode) error
	GetEpisode(ctx context.Context, id types.EpisodeID) (types.Episode, error)
	UpdateReview(ctx context.Context, id types.EpisodeID, st types.Episode) error
	// UnconsolidatedEpisodes returns episodes for conversationID with
	// ConsolidatedAt == nil, oldest first.
	UnconsolidatedEpisodes(ctx context.Context, conversationID string, limit int) ([]types.Episode, error)
	MarkConsolidated(ctx context.Context, ids []types.EpisodeID, at time.Time) error
	// RecentEpisodes returns conversationID's episodes newest-first by
	// EndAt, optionally filtered to those ending after since (the zero
	// value means no lower bound), capped at limit.
	RecentEpisodes(ctx context.Context, conversationID string, since time.Time, limit int) ([]types.Episode, error)
	// SearchEpisodes returns the topK episodes for conversationID ranked by
	// vector similarity to queryVec.
	SearchEpisodes(ctx context.Context, conversationID string, queryVec []float32, topK int) ([]ScoredEpisode, error)
	// LexicalSearchEpisodes returns the topK episodes ranked by full-text
	// match against query.
	LexicalSearchEpisodes(ctx context.Context, conversationID string, query string, topK int) ([]ScoredEpisode, error)
}

// FactStore persists and queries Fact records.
type FactStore interface {
	InsertFact(ctx context.Context, f types.Fact) error
	GetFact(ctx context.Context, id types.FactID) (types.Fact, error)
	ReinforceFact(ctx context.Context, id types.FactID, newSourceEpisodes []types.EpisodeID) error
	UpdateFact(ctx context.Context, id types.FactID, f types.Fact) error
	InvalidateFact(ctx context.Context, id types.FactID, at time.Time) error
	// RelatedFacts returns active facts for conversationID whose embedding
	// similarity to queryVec exceeds threshold, most similar first, capped
	// at limit.
	RelatedFacts(ctx context.Context, conversationID string, queryVec []float32, threshold float64, limit int) ([]ScoredFact, error)
	// SearchFacts returns the topK active facts ranked by vector similarity
	// to queryVec.
	SearchFacts(ctx context.Context, conversationID string, queryVec []float32, topK int) ([]ScoredFact, error)
	LexicalSearchFacts(ctx context.Context, conversationID string, query string, topK int) ([]ScoredFact, error)
}

// ScoredEpisode pairs an episode with a retrieval-leg similarity score.
type ScoredEpisode struct {
	Episode types.Episode
	Score   float64
}

// ScoredFact pairs a fact with a retrieval-leg similarity score.
type ScoredFact struct {
	Fact  types.Fact
	Score float64
}

// Embedder turns text into fixed-dimension embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Planner is the structured-output LLM contract the segmenter, review
// worker, and consolidator each call through. schema is a
// JSON Schema describing the expected shape of the decoded result; result
// must be a pointer for json.Unmarshal.
type Planner interface {
	GenerateObject(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any, result any) error
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// JobType names the job queue topics the Orchestrator wires together.
type JobType string

const (
	JobSegmentation  JobType = "segmentation"
	JobReview        JobType = "review"
	JobConsolidation JobType = "consolidation"
)

// SegmentationJob triggers the Batch Segmenter for one conversation.
type SegmentationJob struct {
	ConversationID string `json:"conversation_id"`
	FenceCount     int32  `json:"fence_count"`
}

// ReviewJob triggers the Review Worker for one episode.
type ReviewJob struct {
	EpisodeID types.EpisodeID `json:"episode_id"`
}

// ConsolidationJob triggers the Consolidator for one conversation.
type ConsolidationJob struct {
	ConversationID string `json:"conversation_id"`
	Force          bool   `json:"force"`
}

// JobBus is the at-least-once job queue abstraction; Publish enqueues, and
// Subscribe registers a handler pumped by the adapter's own worker pool.
type JobBus interface {
	Publish(ctx context.Context, jobType JobType, key string, payload any) error
	Subscribe(ctx context.Context, jobType JobType, handler func(ctx context.Context, payload []byte) error) error
	Close() error
}

// Guard is an optional fast-path dedupe lock consulted before redundant
// work a SQL source of truth already protects (a same-day review, a
// thundering herd of replicas racing to consolidate the same
// conversation): Acquire reports true only the first caller to claim key
// within ttl. See internal/dedupe for the Redis and in-memory backends.
type Guard interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}
