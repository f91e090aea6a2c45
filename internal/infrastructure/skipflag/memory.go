// Package skipflag holds the short-lived flags that keep a tenant from being
// reconciled twice in the same window.
package skipflag

import (
	"context"
	"sync"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
)

// MemoryStore keeps flags in process. Suitable for a single API instance.
type MemoryStore struct {
	mu    sync.Mutex
	flags map[string]time.Time
	now   func() time.Time
}

var _ ports.SkipFlagStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{flags: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStore) SetIfAbsent(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if exp, ok := s.flags[key]; ok && now.Before(exp) {
		return false, nil
	}
	for k, exp := range s.flags {
		if !now.Before(exp) {
			delete(s.flags, k)
		}
	}
	s.flags[key] = now.Add(ttl)
	return true, nil
}
