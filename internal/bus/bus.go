package bus

import (
	"log/slog"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"cqbridge/internal/domain"
)

const (
	publishTimeout = 10 * time.Second
	dedupCacheSize = 2048
	dedupTTL       = 10 * time.Minute
)

// InMemoryBus is a Go-channel based event bus between the gateway event
// sources and the dispatcher. Events redelivered by the gateway (same kind
// and message id within dedupTTL) are dropped.
type InMemoryBus struct {
	inbound chan domain.InboundEvent
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger

	dedupMu sync.Mutex
	dedup   *lru.Cache[string, time.Time]
	now     func() time.Time
	wait    time.Duration
}

var _ domain.EventBus = (*InMemoryBus)(nil)

// New creates a new InMemoryBus with the given buffer size.
func New(bufferSize int, logger *slog.Logger) *InMemoryBus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	// lru.New only errors on a non-positive size.
	cache, _ := lru.New[string, time.Time](dedupCacheSize)
	return &InMemoryBus{
		inbound: make(chan domain.InboundEvent, bufferSize),
		logger:  logger,
		dedup:   cache,
		now:     time.Now,
		wait:    publishTimeout,
	}
}

// Publish enqueues ev and reports whether it was accepted. Blocks up to 10
// seconds if the bus is full instead of dropping.
func (b *InMemoryBus) Publish(ev domain.InboundEvent) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		b.logger.Warn("attempted to publish to closed bus")
		return false
	}

	key := ev.DedupKey()
	if b.isDuplicate(key) {
		b.logger.Debug("duplicate event dropped", "key", key, "trace", ev.Trace)
		return false
	}

	select {
	case b.inbound <- ev:
		return true
	default:
	}

	b.logger.Warn("inbound bus full, waiting...", "kind", ev.Kind, "sender", ev.Sender.UserID)
	timer := time.NewTimer(b.wait)
	defer timer.Stop()
	select {
	case b.inbound <- ev:
		b.logger.Info("event delivered after wait", "trace", ev.Trace)
		return true
	case <-timer.C:
		b.logger.Error("event dropped: bus full",
			"kind", ev.Kind,
			"sender", ev.Sender.UserID,
			"wait", b.wait,
		)
		b.forget(key)
		return false
	}
}

func (b *InMemoryBus) isDuplicate(key string) bool {
	if key == "" {
		return false
	}
	b.dedupMu.Lock()
	defer b.dedupMu.Unlock()

	now := b.now()
	if ts, ok := b.dedup.Get(key); ok {
		if now.Sub(ts) <= dedupTTL {
			return true
		}
		b.dedup.Remove(key)
	}
	b.dedup.Add(key, now)
	return false
}

// forget lets a dropped event be accepted if the gateway sends it again.
func (b *InMemoryBus) forget(key string) {
	if key == "" {
		return
	}
	b.dedupMu.Lock()
	b.dedup.Remove(key)
	b.dedupMu.Unlock()
}

func (b *InMemoryBus) Subscribe() <-chan domain.InboundEvent {
	return b.inbound
}

func (b *InMemoryBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.closed {
		b.closed = true
		close(b.inbound)
	}
}
