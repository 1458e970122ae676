package jobqueue

import (
	"context"
	"encoding/json"
	"sync"

	"memoryd/internal/core/errs"
	"memoryd/internal/core/ports"
)

// Memory is a ports.JobBus backed by per-jobType in-process channels, for use
// in tests and single-process deployments where Kafka is overkill.
type Memory struct {
	mu       sync.Mutex
	channels map[ports.JobType]chan kv
	closed   bool
}

type kv struct {
	key     string
	payload []byte
}

func NewMemory() *Memory {
	return &Memory{channels: map[ports.JobType]chan kv{}}
}

func (m *Memory) channelFor(jobType ports.JobType) chan kv {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[jobType]
	if !ok {
		ch = make(chan kv, 256)
		m.channels[jobType] = ch
	}
	return ch
}

func (m *Memory) Publish(ctx context.Context, jobType ports.JobType, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errs.Wrap(errs.BadInput, "marshal job payload", err)
	}
	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return errs.New(errs.Internal, "jobqueue: bus is closed")
	}
	select {
	case m.channelFor(jobType) <- kv{key: key, payload: body}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Subscribe drains jobType's channel on a single goroutine, calling handler
// for each message. Handler errors are swallowed (there is no retry or DLQ
// path in-process); callers that need that behavior should use Kafka.
func (m *Memory) Subscribe(ctx context.Context, jobType ports.JobType, handler func(ctx context.Context, payload []byte) error) error {
	ch := m.channelFor(jobType)
	go func() {
		for {
			select {
			case item, ok := <-ch:
				if !ok {
					return
				}
				_ = handler(ctx, item.payload)
			case <-ctx.Done():
				return
			}
		}
	}()
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, ch := range m.channels {
		close(ch)
	}
	return nil
}

var _ ports.JobBus = (*Memory)(nil)
