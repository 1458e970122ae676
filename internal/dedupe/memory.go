package dedupe

import (
	"context"
	"sync"
	"time"
)

// Memory is a Guard backed by an in-process map, for tests and
// single-process deployments where Redis is overkill.
type Memory struct {
	mu      sync.Mutex
	claimed map[string]time.Time
}

func NewMemory() *Memory {
	return &Memory{claimed: map[string]time.Time{}}
}

func (m *Memory) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if expiry, ok := m.claimed[key]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	m.claimed[key] = time.Now().Add(ttl)
	return true, nil
}

func (m *Memory) Close() error { return nil }

var _ Guard = (*Memory)(nil)
