package segment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"memoryd/internal/core/types"
)

type fakePlanner struct {
	objectJSON string
	err        error
}

func (f *fakePlanner) GenerateObject(ctx context.Context, systemPrompt, userPrompt string, schema map[string]any, result any) error {
	if f.err != nil {
		return f.err
	}
	return json.Unmarshal([]byte(f.objectJSON), result)
}

func (f *fakePlanner) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return "", nil
}

func batch(n int) []types.Message {
	out := make([]types.Message, n)
	now := time.Now()
	for i := range out {
		out[i] = types.Message{ConversationID: "c1", Role: "user", Content: "hello world", Timestamp: now}
	}
	return out
}

func TestSplitReslicesByNumMessages(t *testing.T) {
	planner := &fakePlanner{objectJSON: `{"segments":[
		{"num_messages":2,"title":"a","summary":"s1","keywords":["x"],"surprise":0.1},
		{"num_messages":3,"title":"b","summary":"s2","keywords":["y"],"surprise":0.9}
	]}`}
	s := New(planner)
	segs, err := s.Split(context.Background(), "", batch(5))
	require.NoError(t, err)
	require.Len(t, segs, 2)
	require.Len(t, segs[0].Messages, 2)
	require.Len(t, segs[1].Messages, 3)
	require.Equal(t, float32(0.9), segs[1].Surprise)
}

func TestSplitZeroSegmentsFallsBackToOne(t *testing.T) {
	planner := &fakePlanner{objectJSON: `{"segments":[]}`}
	s := New(planner)
	segs, err := s.Split(context.Background(), "", batch(4))
	require.NoError(t, err)
	require.Len(t, segs, 1)
	require.Len(t, segs[0].Messages, 4)
}

func TestSplitUndercountTailMerges(t *testing.T) {
	planner := &fakePlanner{objectJSON: `{"segments":[{"num_messages":2,"title":"a","summary":"s","keywords":[],"surprise":0}]}`}
	s := New(planner)
	segs, err := s.Split(context.Background(), "", batch(5))
	require.NoError(t, err)
	require.Len(t, segs, 1, "the only planner segment is the tail and must absorb the whole batch")
	require.Len(t, segs[0].Messages, 5)
}

func TestSplitClampsSurprise(t *testing.T) {
	planner := &fakePlanner{objectJSON: `{"segments":[{"num_messages":1,"title":"a","summary":"s","keywords":[],"surprise":5}]}`}
	s := New(planner)
	segs, err := s.Split(context.Background(), "", batch(1))
	require.NoError(t, err)
	require.Equal(t, float32(1), segs[0].Surprise)
}

func TestSplitEmptyBatch(t *testing.T) {
	s := New(&fakePlanner{})
	segs, err := s.Split(context.Background(), "", nil)
	require.NoError(t, err)
	require.Nil(t, segs)
}
