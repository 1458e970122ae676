// Package queue implements the MessageQueue: the per-conversation buffer of
// pending messages and the fence protocol that lets exactly one
// segmentation job run against a given prefix at a time. The fence-check
// algorithm is ported directly from the original Rust implementation's
// message_queue/check.rs, not reinvented.
package queue

import (
	"context"
	"time"

	"memoryd/internal/core/ports"
	"memoryd/internal/core/types"
)

// Tunable trigger constants. These are vars, not consts, so cmd/memoryd can
// override them from config.TuningConfig at startup; the values here are the
// spec's documented defaults.
var (
	// MinMessages is the floor below which a batch is never segmented,
	// regardless of how long it has been sitting in the queue.
	MinMessages = 5
	// WindowBase is the trigger count for a conversation's first
	// segmentation; after one run the window doubles to WindowMax so short
	// follow-up turns don't retrigger immediately.
	WindowBase = 20
	WindowMax  = 40
	// SoftTimeTrigger forces segmentation of a sub-WindowBase batch once its
	// oldest message has waited this long.
	SoftTimeTrigger = 2 * time.Hour
	// FenceTTL bounds how long a fence can be held before it's considered
	// abandoned (a crashed worker) and safe to reclaim.
	FenceTTL = 120 * time.Minute
)

// Check is the result of a successful fence acquisition: the caller may now
// publish a SegmentationJob for fenceCount messages.
type Check struct {
	FenceCount int32
}

// Queue wraps a QueueStore with the push/fence-check protocol.
type Queue struct {
	store ports.QueueStore
}

func New(store ports.QueueStore) *Queue {
	return &Queue{store: store}
}

// Push appends msgs to conversationID's queue and, if the resulting batch
// now warrants segmentation, atomically acquires the fence and returns a
// Check describing it. A nil Check with a nil error means: appended, no
// segmentation needed yet (or one is already in flight).
func (q *Queue) Push(ctx context.Context, conversationID string, msgs []types.Message) (*Check, error) {
	state, err := q.store.GetOrCreateQueue(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	if state.InProgressFence != nil {
		if time.Since(state.FenceSetAt) < FenceTTL {
			// A fence is held and it isn't stale; still append the new
			// messages, but don't trigger another segmentation run.
			if _, err := q.store.AppendMessages(ctx, conversationID, msgs); err != nil {
				return nil, err
			}
			return nil, nil
		}
		// The held fence is stale (its owner presumably crashed); clear it
		// so the trigger evaluation below can acquire a fresh one for the
		// current count instead of re-setting it to the old, now-stale
		// count with a refreshed timestamp.
		if err := q.store.ClearFenceAndMaybeDouble(ctx, conversationID, false); err != nil {
			return nil, err
		}
	}

	triggerCount, err := q.store.AppendMessages(ctx, conversationID, msgs)
	if err != nil {
		return nil, err
	}

	if triggerCount < MinMessages {
		return nil, nil
	}

	currentWindow := WindowBase
	if state.WindowDoubled {
		currentWindow = WindowMax
	}
	countTrigger := triggerCount >= currentWindow

	// The oldest message in the combined (pre-push + just-appended) queue
	// decides the soft time trigger, matching the original check() reading
	// model.messages after the append had already landed.
	oldest := time.Time{}
	if len(state.Messages) > 0 {
		oldest = state.Messages[0].Timestamp
	} else if len(msgs) > 0 {
		oldest = msgs[0].Timestamp
	}
	timeTrigger := !oldest.IsZero() && time.Since(oldest) > SoftTimeTrigger

	if !countTrigger && !timeTrigger {
		return nil, nil
	}

	acquired, err := q.store.TryAcquireFence(ctx, conversationID, int32(triggerCount), FenceTTL)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return nil, nil
	}

	return &Check{FenceCount: int32(triggerCount)}, nil
}

// Finalize clears the fence after a segmentation job completes, draining
// the consumed prefix and recording the new running summary for the next
// call. If doubleWindow is set, the conversation's window is permanently
// doubled per the soft-scaling rule.
func (q *Queue) Finalize(ctx context.Context, conversationID string, consumed int, summary string, doubleWindow bool) error {
	if err := q.store.DrainPrefix(ctx, conversationID, consumed, summary); err != nil {
		return err
	}
	return q.store.ClearFenceAndMaybeDouble(ctx, conversationID, doubleWindow)
}
