// Package episode implements the Episode Builder: turns one Segment into a
// persisted Episode record, embedding its summary and seeding its FSRS
// scheduling state. Grounded on the embed-then-assemble-then-persist shape
// of the teacher's EvolvingMemory.EvolveEnhanced, with the FSRS
// surprise-boost step carried from the original implementation's
// memory/episodic/creation.rs.
package episode

import (
	"context"
	"time"

	"memoryd/internal/core/errs"
	"memoryd/internal/core/fsrs"
	"memoryd/internal/core/ports"
	"memoryd/internal/core/segment"
	"memoryd/internal/core/types"
)

// Builder assembles and persists episodes from segmenter output.
type Builder struct {
	store    ports.EpisodeStore
	embedder ports.Embedder
	now      func() time.Time
}

func New(store ports.EpisodeStore, embedder ports.Embedder) *Builder {
	return &Builder{store: store, embedder: embedder, now: time.Now}
}

// Build embeds seg.Summary, seeds the FSRS state from seg.Surprise, and
// persists the resulting Episode. An empty summary produces no episode
// (nil, nil) rather than an error, matching the "skip empty segments"
// behavior of the original segment-to-episode step.
func (b *Builder) Build(ctx context.Context, conversationID string, seg segment.Segment) (*types.Episode, error) {
	if seg.Summary == "" {
		return nil, nil
	}
	if b.embedder == nil {
		return nil, errs.ErrNoEmbedder
	}

	vecs, err := b.embedder.Embed(ctx, []string{seg.Summary})
	if err != nil {
		return nil, errs.Wrap(errs.UpstreamLLM, "embed episode summary", err)
	}
	if len(vecs) != 1 {
		return nil, errs.New(errs.Internal, "embedder returned unexpected vector count")
	}

	id, err := types.NewEpisodeID()
	if err != nil {
		return nil, errs.Wrap(errs.Internal, "generate episode id", err)
	}

	state := fsrs.BoostedInitialState(seg.Surprise)

	now := b.now()
	startAt, endAt := now, now
	if len(seg.Messages) > 0 {
		startAt = seg.Messages[0].Timestamp
		endAt = seg.Messages[len(seg.Messages)-1].Timestamp
	}

	ep := types.Episode{
		ID:             id,
		ConversationID: conversationID,
		Title:          seg.Title,
		Summary:        seg.Summary,
		Keywords:       seg.Keywords,
		Messages:       seg.Messages,
		Embedding:      vecs[0],
		Surprise:       seg.Surprise,
		Stability:      state.Stability,
		Difficulty:     state.Difficulty,
		StartAt:        startAt,
		EndAt:          endAt,
		CreatedAt:      now,
		LastReviewedAt: now,
		ConsolidatedAt: nil,
	}

	if err := b.store.InsertEpisode(ctx, ep); err != nil {
		return nil, errs.Wrap(errs.Internal, "persist episode", err)
	}
	return &ep, nil
}

// BuildAll builds and persists one episode per segment, skipping segments
// that produce no episode, and returns all persisted episodes in order.
func (b *Builder) BuildAll(ctx context.Context, conversationID string, segments []segment.Segment) ([]types.Episode, error) {
	out := make([]types.Episode, 0, len(segments))
	for _, seg := range segments {
		ep, err := b.Build(ctx, conversationID, seg)
		if err != nil {
			return out, err
		}
		if ep != nil {
			out = append(out, *ep)
		}
	}
	return out, nil
}
