package agent

import (
	"context"
	"log/slog"
	"sync"

	"cqbridge/internal/domain"
	"cqbridge/internal/metrics"
)

const defaultConcurrency = 5

// EventHandler handles one inbound event.
type EventHandler interface {
	Handle(ctx context.Context, ev domain.InboundEvent)
}

// Loop consumes inbound events from the bus, one goroutine per event.
type Loop struct {
	bus         domain.EventBus
	handler     EventHandler
	concurrency int
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// LoopConfig holds all dependencies and tuning parameters for the loop.
type LoopConfig struct {
	Bus         domain.EventBus
	Handler     EventHandler
	Concurrency int // max events in flight
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Loop{
		bus:         cfg.Bus,
		handler:     cfg.Handler,
		concurrency: cfg.Concurrency,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
	}
}

// Run processes events with bounded concurrency until ctx is done or the bus
// is closed, then waits for in-flight events.
func (l *Loop) Run(ctx context.Context) error {
	l.logger.Info("event loop started", "concurrency", l.concurrency)

	sem := make(chan struct{}, l.concurrency)
	inbound := l.bus.Subscribe()
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("event loop stopping")
			return nil
		case ev, ok := <-inbound:
			if !ok {
				l.logger.Info("inbound channel closed, event loop stopping")
				return nil
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return nil
			}
			wg.Add(1)
			go func(ev domain.InboundEvent) {
				defer wg.Done()
				defer func() { <-sem }()
				done := l.metrics.TrackInflight()
				defer done()
				l.handler.Handle(ctx, ev)
			}(ev)
		}
	}
}
