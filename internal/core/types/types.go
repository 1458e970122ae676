// Package types holds the plain data structures shared across the memory
// core: messages, episodes, facts, and the message-queue/fence state.
package types

import (
	"time"

	"github.com/google/uuid"
)

// EpisodeID identifies an episodic memory record. Generated with uuid v7 so
// natural sort order on the ID matches creation order.
type EpisodeID uuid.UUID

func (id EpisodeID) String() string { return uuid.UUID(id).String() }

// FactID identifies a semantic memory record.
type FactID uuid.UUID

func (id FactID) String() string { return uuid.UUID(id).String() }

// NewEpisodeID mints a time-ordered episode identifier.
func NewEpisodeID() (EpisodeID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return EpisodeID{}, err
	}
	return EpisodeID(id), nil
}

// NewFactID mints a time-ordered fact identifier.
func NewFactID() (FactID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return FactID{}, err
	}
	return FactID(id), nil
}

// Message is a single turn in a conversation, as pushed by the caller.
type Message struct {
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Timestamp      time.Time `json:"timestamp"`
}

// QueueState is the persisted MessageQueue row for one conversation: the
// buffered messages awaiting segmentation plus the fence bookkeeping that
// prevents two segmentation jobs from racing on the same prefix.
type QueueState struct {
	ConversationID  string    `json:"conversation_id"`
	Messages        []Message `json:"messages"`
	WindowDoubled   bool      `json:"window_doubled"`
	InProgressFence *int32      `json:"in_progress_fence,omitempty"`
	FenceSetAt      time.Time   `json:"fence_set_at"`
	PendingReviews  []EpisodeID `json:"pending_reviews"`
	PrevSummary     string      `json:"prev_episode_summary"`
}

// Episode is one segment of a conversation, built by the Episode Builder
// from a contiguous run of messages identified by the Batch Segmenter.
type Episode struct {
	ID                EpisodeID `json:"id"`
	ConversationID    string    `json:"conversation_id"`
	Title             string    `json:"title"`
	Summary           string    `json:"summary"`
	Keywords          []string  `json:"keywords"`
	// Messages is a snapshot of the episode's source messages, decoupled
	// from the MessageQueue they were drained from: the queue's own buffer
	// is free to move on while this copy remains the episode's transcript.
	Messages          []Message `json:"messages"`
	Embedding         []float32 `json:"embedding"`
	Surprise          float32   `json:"surprise"`
	Stability         float32   `json:"stability"`
	Difficulty        float32   `json:"difficulty"`
	StartAt           time.Time `json:"start_at"`
	EndAt             time.Time `json:"end_at"`
	CreatedAt         time.Time `json:"created_at"`
	LastReviewedAt    time.Time `json:"last_reviewed_at"`
	ConsolidatedAt    *time.Time `json:"consolidated_at,omitempty"`
}

// Fact is a consolidated piece of semantic memory: a subject-predicate-object
// statement distilled from one or more episodes.
type Fact struct {
	ID                FactID     `json:"id"`
	ConversationID    string     `json:"conversation_id"`
	Subject           string     `json:"subject"`
	Predicate         string     `json:"predicate"`
	Object            string     `json:"object"`
	Fact              string     `json:"fact"`
	Category          string     `json:"category"`
	Embedding         []float32  `json:"embedding"`
	SourceEpisodicIDs []EpisodeID `json:"source_episodic_ids"`
	CreatedAt         time.Time  `json:"created_at"`
	ValidAt           time.Time  `json:"valid_at"`
	InvalidAt         *time.Time `json:"invalid_at,omitempty"`
}

// IsActive reports whether the fact has not been invalidated.
func (f Fact) IsActive() bool { return f.InvalidAt == nil }
