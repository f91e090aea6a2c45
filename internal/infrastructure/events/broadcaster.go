// Package events fans job and log events out to live subscribers. Delivery
// is best-effort and at most once; nothing is stored or replayed.
package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dflow-sh/dflow-sub003/internal/core/ports"
	"github.com/dflow-sh/dflow-sub003/internal/domain"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/logger"
	"github.com/dflow-sh/dflow-sub003/internal/infrastructure/metrics"
)

const defaultBuffer = 64

// Broadcaster routes events to the subscribers of their target key.
type Broadcaster struct {
	log         *logger.Logger
	buffer      int
	mu          sync.RWMutex
	subscribers map[string]map[uint64]*Subscription
	nextID      uint64
}

type Option func(*Broadcaster)

func WithLogger(l *logger.Logger) Option {
	return func(b *Broadcaster) {
		if l != nil {
			b.log = l
		}
	}
}

// WithBuffer sets the default channel size of new subscriptions.
func WithBuffer(size int) Option {
	return func(b *Broadcaster) {
		if size > 0 {
			b.buffer = size
		}
	}
}

func NewBroadcaster(opts ...Option) *Broadcaster {
	b := &Broadcaster{
		log:         logger.NewNop(),
		buffer:      defaultBuffer,
		subscribers: make(map[string]map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

var _ ports.EventPublisher = (*Broadcaster)(nil)

// Publish delivers ev to every current subscriber of key. It never blocks on
// a slow subscriber.
func (b *Broadcaster) Publish(ctx context.Context, key string, ev domain.Event) {
	if key == "" {
		return
	}
	ev.TargetKey = key
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	metrics.RecordEventPublished(string(ev.Kind))

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subscribers[key] {
		sub.deliver(ctx, ev, b.log)
	}
}

// Subscribers returns how many subscriptions key currently has.
func (b *Broadcaster) Subscribers(key string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[key])
}

type SubscriptionOption func(*subscriptionConfig)

type subscriptionConfig struct {
	buffer int
	name   string
	ctx    context.Context
}

func WithSubscriptionBuffer(size int) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		if size > 0 {
			cfg.buffer = size
		}
	}
}

func WithSubscriptionName(name string) SubscriptionOption {
	return func(cfg *subscriptionConfig) { cfg.name = name }
}

// WithContext closes the subscription when ctx ends.
func WithContext(ctx context.Context) SubscriptionOption {
	return func(cfg *subscriptionConfig) {
		if ctx != nil {
			cfg.ctx = ctx
		}
	}
}

// Subscribe registers a subscriber for key. It receives only events
// published after this call returns.
func (b *Broadcaster) Subscribe(key string, opts ...SubscriptionOption) *Subscription {
	cfg := subscriptionConfig{buffer: b.buffer}
	for _, opt := range opts {
		opt(&cfg)
	}

	sub := &Subscription{
		key:  key,
		id:   atomic.AddUint64(&b.nextID, 1),
		name: cfg.name,
		ch:   make(chan domain.Event, cfg.buffer),
		done: make(chan struct{}),
		b:    b,
	}

	b.mu.Lock()
	if _, ok := b.subscribers[key]; !ok {
		b.subscribers[key] = make(map[uint64]*Subscription)
	}
	b.subscribers[key][sub.id] = sub
	b.mu.Unlock()

	if cfg.ctx != nil {
		go func() {
			select {
			case <-cfg.ctx.Done():
				sub.Close()
			case <-sub.done:
			}
		}()
	}
	return sub
}

// Shutdown closes every subscription.
func (b *Broadcaster) Shutdown() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, subs := range b.subscribers {
		for id, sub := range subs {
			sub.closeLocked()
			delete(subs, id)
		}
		delete(b.subscribers, key)
	}
}

type Subscription struct {
	key     string
	id      uint64
	name    string
	ch      chan domain.Event
	done    chan struct{}
	b       *Broadcaster
	closed  atomic.Bool
	dropped atomic.Uint64
}

func (s *Subscription) C() <-chan domain.Event { return s.ch }

// Done is closed when the subscription is closed.
func (s *Subscription) Done() <-chan struct{} { return s.done }

func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

func (s *Subscription) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)

	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if subs, ok := s.b.subscribers[s.key]; ok {
		delete(subs, s.id)
		if len(subs) == 0 {
			delete(s.b.subscribers, s.key)
		}
	}
	close(s.ch)
}

func (s *Subscription) closeLocked() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	close(s.done)
	close(s.ch)
}

// deliver runs under the broadcaster read lock, so the channel cannot be
// closed underneath it.
func (s *Subscription) deliver(ctx context.Context, ev domain.Event, log *logger.Logger) {
	if s.closed.Load() {
		return
	}
	select {
	case <-ctx.Done():
		return
	default:
	}

	select {
	case s.ch <- ev:
		return
	default:
	}

	// full: drop the oldest queued event to make room
	select {
	case <-s.ch:
		s.recordDrop(log, "drop-oldest")
	default:
	}
	select {
	case s.ch <- ev:
	default:
		s.recordDrop(log, "drop-current")
	}
}

func (s *Subscription) recordDrop(log *logger.Logger, reason string) {
	count := s.dropped.Add(1)
	metrics.RecordEventDropped()
	name := s.name
	if name == "" {
		name = "subscription"
	}
	log.Debugw("event_dropped", "key", s.key, "subscriber", name, "reason", reason, "count", count)
}
