package provider

import (
	"context"

	"golang.org/x/time/rate"

	"cqbridge/internal/domain"
)

// NewRateLimiter returns a token bucket holding maxBurst tokens, refilled at
// ratePerMinute. Non-positive values fall back to 5 and 30/min.
func NewRateLimiter(maxBurst int, ratePerMinute float64) *rate.Limiter {
	if maxBurst <= 0 {
		maxBurst = 5
	}
	if ratePerMinute <= 0 {
		ratePerMinute = 30
	}
	return rate.NewLimiter(rate.Limit(ratePerMinute/60), maxBurst)
}

// RateLimitedModel waits on a shared limiter before every chat call.
type RateLimitedModel struct {
	domain.ChatModel
	limiter *rate.Limiter
}

func NewRateLimitedModel(model domain.ChatModel, limiter *rate.Limiter) *RateLimitedModel {
	return &RateLimitedModel{ChatModel: model, limiter: limiter}
}

func (r *RateLimitedModel) Chat(ctx context.Context, messages []domain.Message) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.ChatModel.Chat(ctx, messages)
}
