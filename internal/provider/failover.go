package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cqbridge/internal/domain"
	"cqbridge/internal/metrics"
)

// FailoverModel tries multiple chat models in order, falling back to the next
// one when the current fails.
type FailoverModel struct {
	models []domain.ChatModel
	logger *slog.Logger
}

var _ domain.ChatModel = (*FailoverModel)(nil)

// NewFailoverModel creates a failover chain. At least one model is required.
func NewFailoverModel(models []domain.ChatModel, logger *slog.Logger) *FailoverModel {
	if logger == nil {
		logger = slog.Default()
	}
	return &FailoverModel{models: models, logger: logger}
}

func (fm *FailoverModel) Name() string {
	names := make([]string, len(fm.models))
	for i, m := range fm.models {
		names[i] = m.Name()
	}
	return "failover(" + strings.Join(names, "→") + ")"
}

func (fm *FailoverModel) Healthy(ctx context.Context) error {
	for _, m := range fm.models {
		if err := m.Healthy(ctx); err == nil {
			return nil
		}
	}
	return fmt.Errorf("no healthy model in failover chain")
}

// Chat tries each model in order and returns the first successful reply.
// A cancelled context stops the chain.
func (fm *FailoverModel) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	if len(fm.models) == 0 {
		return "", errors.New("failover chain is empty")
	}
	var lastErr error
	for i, m := range fm.models {
		reply, err := m.Chat(ctx, messages)
		if err == nil {
			if i > 0 {
				fm.logger.Info("failover: used fallback model", "model", m.Name(), "attempt", i+1)
			}
			return reply, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", err
		}
		fm.logger.Warn("failover: model failed, trying next", "model", m.Name(), "attempt", i+1, "error", err)
	}
	return "", fmt.Errorf("all models in failover chain failed: %w", lastErr)
}

// instrumentedModel records latency and outcome of every call.
type instrumentedModel struct {
	domain.ChatModel
	metrics *metrics.Metrics
}

func (im instrumentedModel) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	start := time.Now()
	reply, err := im.ChatModel.Chat(ctx, messages)
	im.metrics.ObserveModel(im.Name(), time.Since(start), err)
	return reply, err
}
