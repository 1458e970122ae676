package jobqueue

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memoryd/internal/core/ports"
)

func TestMemoryPublishSubscribeRoundTrips(t *testing.T) {
	bus := NewMemory()
	defer bus.Close()

	var mu sync.Mutex
	var got []ports.ReviewJob

	done := make(chan struct{}, 1)
	err := bus.Subscribe(context.Background(), ports.JobReview, func(ctx context.Context, payload []byte) error {
		var job ports.ReviewJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return err
		}
		mu.Lock()
		got = append(got, job)
		mu.Unlock()
		done <- struct{}{}
		return nil
	})
	require.NoError(t, err)

	epID := ports.ReviewJob{}
	require.NoError(t, bus.Publish(context.Background(), ports.JobReview, "k1", epID))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
}

func TestMemoryPublishAfterCloseErrors(t *testing.T) {
	bus := NewMemory()
	require.NoError(t, bus.Close())
	err := bus.Publish(context.Background(), ports.JobSegmentation, "k1", ports.SegmentationJob{ConversationID: "c1"})
	require.Error(t, err)
}

func TestMemoryPublishRespectsContextCancellation(t *testing.T) {
	bus := NewMemory()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Fill the channel so the next publish would block, then confirm the
	// cancelled context is honored rather than blocking forever.
	for i := 0; i < 256; i++ {
		_ = bus.Publish(context.Background(), ports.JobConsolidation, "k", ports.ConsolidationJob{})
	}
	err := bus.Publish(ctx, ports.JobConsolidation, "k", ports.ConsolidationJob{})
	require.Error(t, err)
}
