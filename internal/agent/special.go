package agent

import (
	"context"
	"log/slog"
	"strings"

	"cqbridge/internal/cqcode"
	"cqbridge/internal/intent"
)

// recognitionPrefix introduces the description of a recognized image.
const recognitionPrefix = "识别结果："

// SpecialResolver tries the special-request intents in a fixed order.
type SpecialResolver struct {
	image       *intent.Image
	voice       *intent.Voice
	music       *intent.Music
	recognition *intent.Recognition
	logger      *slog.Logger
}

type SpecialConfig struct {
	Image       *intent.Image
	Voice       *intent.Voice
	Music       *intent.Music
	Recognition *intent.Recognition
	Logger      *slog.Logger
}

func NewSpecialResolver(cfg SpecialConfig) *SpecialResolver {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &SpecialResolver{
		image:       cfg.Image,
		voice:       cfg.Voice,
		music:       cfg.Music,
		recognition: cfg.Recognition,
		logger:      cfg.Logger,
	}
}

// Resolve returns the reply for the first intent that produces a result, and
// the name of that intent. A failing intent is logged and treated as a miss.
func (s *SpecialResolver) Resolve(ctx context.Context, text string) (reply, kind string) {
	steps := []struct {
		r    intent.Resolver
		wrap func(string) string
	}{
		{s.image, cqcode.Image},
		{s.voice, cqcode.Record},
		{s.music, musicReply},
		{s.recognition, func(r string) string { return recognitionPrefix + r }},
	}
	for _, step := range steps {
		if isNil(step.r) {
			continue
		}
		result, err := step.r.Resolve(ctx, text)
		if err != nil {
			s.logger.Error("special request failed", "intent", step.r.Name(), "error", err)
			continue
		}
		if result != "" {
			return step.wrap(result), step.r.Name()
		}
	}
	return "", ""
}

// musicReply plays URLs and relays anything else as a status message.
func musicReply(result string) string {
	if strings.HasPrefix(result, "http") {
		return cqcode.Record(result)
	}
	return result
}

// isNil catches typed nil pointers stored in the interface.
func isNil(r intent.Resolver) bool {
	switch v := r.(type) {
	case nil:
		return true
	case *intent.Image:
		return v == nil
	case *intent.Voice:
		return v == nil
	case *intent.Music:
		return v == nil
	case *intent.Recognition:
		return v == nil
	}
	return false
}
