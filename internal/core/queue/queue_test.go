package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memoryd/internal/core/types"
)

type fakeQueueStore struct {
	state types.QueueState
}

func newFakeStore() *fakeQueueStore {
	return &fakeQueueStore{state: types.QueueState{ConversationID: "c1"}}
}

func (f *fakeQueueStore) GetOrCreateQueue(ctx context.Context, conversationID string) (types.QueueState, error) {
	return f.state, nil
}

func (f *fakeQueueStore) AppendMessages(ctx context.Context, conversationID string, msgs []types.Message) (int, error) {
	f.state.Messages = append(f.state.Messages, msgs...)
	return len(f.state.Messages), nil
}

func (f *fakeQueueStore) TryAcquireFence(ctx context.Context, conversationID string, triggerCount int32, staleAfter time.Duration) (bool, error) {
	if f.state.InProgressFence != nil {
		if time.Since(f.state.FenceSetAt) < staleAfter {
			return false, nil
		}
	}
	f.state.InProgressFence = &triggerCount
	f.state.FenceSetAt = time.Now()
	return true, nil
}

func (f *fakeQueueStore) ClearFenceAndMaybeDouble(ctx context.Context, conversationID string, doubled bool) error {
	f.state.InProgressFence = nil
	if doubled {
		f.state.WindowDoubled = true
	}
	return nil
}

func (f *fakeQueueStore) DrainPrefix(ctx context.Context, conversationID string, n int, summary string) error {
	if n > len(f.state.Messages) {
		n = len(f.state.Messages)
	}
	f.state.Messages = f.state.Messages[n:]
	f.state.PrevSummary = summary
	return nil
}

func (f *fakeQueueStore) AddPendingReviews(ctx context.Context, conversationID string, ids []types.EpisodeID) error {
	f.state.PendingReviews = append(f.state.PendingReviews, ids...)
	return nil
}

func (f *fakeQueueStore) TakePendingReviews(ctx context.Context, conversationID string) ([]types.EpisodeID, error) {
	out := f.state.PendingReviews
	f.state.PendingReviews = nil
	return out, nil
}

func msgs(n int, ts time.Time) []types.Message {
	out := make([]types.Message, n)
	for i := range out {
		out[i] = types.Message{ConversationID: "c1", Role: "user", Content: "hi", Timestamp: ts}
	}
	return out
}

func TestPushBelowMinMessagesNoTrigger(t *testing.T) {
	store := newFakeStore()
	q := New(store)
	check, err := q.Push(context.Background(), "c1", msgs(3, time.Now()))
	require.NoError(t, err)
	require.Nil(t, check)
}

func TestPushCountTriggerAcquiresFence(t *testing.T) {
	store := newFakeStore()
	q := New(store)
	check, err := q.Push(context.Background(), "c1", msgs(WindowBase, time.Now()))
	require.NoError(t, err)
	require.NotNil(t, check)
	require.Equal(t, int32(WindowBase), check.FenceCount)
	require.NotNil(t, store.state.InProgressFence)
}

func TestPushSoftTimeTriggerBelowWindow(t *testing.T) {
	store := newFakeStore()
	q := New(store)
	old := time.Now().Add(-3 * time.Hour)
	check, err := q.Push(context.Background(), "c1", msgs(MinMessages, old))
	require.NoError(t, err)
	require.NotNil(t, check, "a stale-enough batch above MinMessages should trigger even under WindowBase")
}

func TestPushSecondCallWhileFenceHeldDoesNotRetrigger(t *testing.T) {
	store := newFakeStore()
	q := New(store)
	_, err := q.Push(context.Background(), "c1", msgs(WindowBase, time.Now()))
	require.NoError(t, err)

	check, err := q.Push(context.Background(), "c1", msgs(1, time.Now()))
	require.NoError(t, err)
	require.Nil(t, check, "a fresh fence must block a second trigger")
}

func TestPushReclaimsStaleFence(t *testing.T) {
	store := newFakeStore()
	q := New(store)
	_, err := q.Push(context.Background(), "c1", msgs(WindowBase, time.Now()))
	require.NoError(t, err)
	store.state.FenceSetAt = time.Now().Add(-(FenceTTL + time.Minute))

	check, err := q.Push(context.Background(), "c1", msgs(1, time.Now()))
	require.NoError(t, err)
	require.NotNil(t, check, "a stale fence should be reclaimed and a new trigger evaluated")
}

func TestFinalizeDrainsAndClearsFence(t *testing.T) {
	store := newFakeStore()
	q := New(store)
	_, err := q.Push(context.Background(), "c1", msgs(WindowBase, time.Now()))
	require.NoError(t, err)

	err = q.Finalize(context.Background(), "c1", WindowBase, "summary", true)
	require.NoError(t, err)
	require.Nil(t, store.state.InProgressFence)
	require.True(t, store.state.WindowDoubled)
	require.Empty(t, store.state.Messages)
	require.Equal(t, "summary", store.state.PrevSummary)
}
