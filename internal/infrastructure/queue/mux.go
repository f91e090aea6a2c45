package queue

import (
	"context"
	"fmt"
	"sync"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
)

// Mux dispatches jobs to processors by job type.
type Mux struct {
	mu       sync.RWMutex
	handlers map[string]ports.Processor
}

func NewMux() *Mux {
	return &Mux{handlers: make(map[string]ports.Processor)}
}

var _ ports.HandlerRegistry = (*Mux)(nil)

// Handle registers p for jobType. Registering a type twice panics.
func (m *Mux) Handle(jobType string, p ports.Processor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.handlers[jobType]; exists {
		panic("queue: duplicate handler for " + jobType)
	}
	m.handlers[jobType] = p
}

func (m *Mux) Process(ctx context.Context, job *domain.Job) error {
	m.mu.RLock()
	p := m.handlers[job.Type]
	m.mu.RUnlock()
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJobType, job.Type)
	}
	return p(ctx, job)
}
