package agent

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"cqbridge/internal/cqcode"
	"cqbridge/internal/domain"
	"cqbridge/internal/intent"
	"cqbridge/internal/metrics"
)

const (
	noticeVoiceFailed  = "语音合成失败。"
	noticeVoiceTimeout = "语音合成超时，请稍后再试。"
	noticeDrawEmpty    = "抱歉，我无法生成这个图片。可能是提示词不够清晰或具体。"
	noticeDrawError    = "图片生成过程中出现错误，请稍后再试。"
)

// PostProcessor acts on the directive embedded in a model response, or relays
// the response to the addressee.
type PostProcessor struct {
	deliver       domain.Deliverer
	store         domain.HistoryStore
	voice         domain.VoiceSynthesizer
	image         *intent.Image
	recognition   *intent.Recognition
	useNormalized bool
	voiceTimeout  time.Duration
	metrics       *metrics.Metrics
	logger        *slog.Logger
}

type PostProcessorConfig struct {
	Deliver     domain.Deliverer
	Store       domain.HistoryStore
	Voice       domain.VoiceSynthesizer
	Image       *intent.Image
	Recognition *intent.Recognition
	// UseNormalizedPrompt sends the normalized #draw prompt to the image
	// service instead of the whole response.
	UseNormalizedPrompt bool
	VoiceTimeout        time.Duration
	Metrics             *metrics.Metrics
	Logger              *slog.Logger
}

func NewPostProcessor(cfg PostProcessorConfig) *PostProcessor {
	if cfg.VoiceTimeout <= 0 {
		cfg.VoiceTimeout = 10 * time.Second
	}
	if cfg.Image == nil {
		cfg.Image = intent.NewImage(nil, nil)
	}
	if cfg.Recognition == nil {
		cfg.Recognition = intent.NewRecognition(nil)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &PostProcessor{
		deliver:       cfg.Deliver,
		store:         cfg.Store,
		voice:         cfg.Voice,
		image:         cfg.Image,
		recognition:   cfg.Recognition,
		useNormalized: cfg.UseNormalizedPrompt,
		voiceTimeout:  cfg.VoiceTimeout,
		metrics:       cfg.Metrics,
		logger:        cfg.Logger,
	}
}

// Process handles response for turn. Turns that start with a history prefix
// are relayed without directive scanning.
func (p *PostProcessor) Process(ctx context.Context, turn Turn, response string) {
	logger := p.logger.With("trace", turn.Event.Trace)

	if !isHistoryTurn(turn.Text) {
		if d, ok := ParseDirective(response); ok {
			logger.Info("directive detected", "directive", string(d.Kind))
			p.metrics.Directive(string(d.Kind))
			switch d.Kind {
			case domain.DirectiveVoice:
				p.speak(ctx, logger, turn, d.Argument)
			case domain.DirectiveRecognize:
				p.recognize(ctx, logger, turn, d.Argument)
			case domain.DirectiveDraw:
				p.draw(ctx, logger, turn, d.Argument, response)
			}
			return
		}
	}

	if turn.IsAdmin {
		p.reply(ctx, turn, response)
		return
	}
	p.reply(ctx, turn, turn.Event.Sender.Nickname+"，"+response)
}

func (p *PostProcessor) speak(ctx context.Context, logger *slog.Logger, turn Turn, text string) {
	logger.Info("voice text", "text", text)
	if p.voice == nil {
		p.reply(ctx, turn, noticeVoiceFailed)
		return
	}

	vctx, cancel := context.WithTimeout(ctx, p.voiceTimeout)
	url, err := p.voice.Synthesize(vctx, text)
	cancel()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("voice synthesis timed out")
		p.reply(ctx, turn, noticeVoiceTimeout)
	case err != nil:
		logger.Error("voice synthesis failed", "error", err)
		p.reply(ctx, turn, noticeVoiceFailed)
	case url == "":
		p.reply(ctx, turn, noticeVoiceFailed)
	default:
		p.replyAndPersist(ctx, turn, cqcode.Record(url))
	}
}

func (p *PostProcessor) recognize(ctx context.Context, logger *slog.Logger, turn Turn, arg string) {
	result, err := p.recognition.ResolveArgument(ctx, arg)
	if err != nil {
		logger.Error("image recognition failed", "error", err)
		return
	}
	if result == "" {
		logger.Debug("nothing to recognize")
		return
	}
	p.replyAndPersist(ctx, turn, recognitionPrefix+result)
}

func (p *PostProcessor) draw(ctx context.Context, logger *slog.Logger, turn Turn, arg, response string) {
	prompt := NormalizeDrawPrompt(arg)
	logger.Info("draw prompt", "prompt", prompt)

	var (
		url string
		err error
	)
	if p.useNormalized {
		url, err = p.image.Generate(ctx, prompt)
	} else {
		url, err = p.image.Resolve(ctx, response)
	}
	switch {
	case err != nil:
		logger.Error("image generation failed", "error", err)
		p.reply(ctx, turn, noticeDrawError)
	case url == "":
		p.reply(ctx, turn, noticeDrawEmpty)
	default:
		p.replyAndPersist(ctx, turn, cqcode.Image(url))
	}
}

func (p *PostProcessor) reply(ctx context.Context, turn Turn, text string) {
	p.deliver.Deliver(ctx, domain.ReplyTo(turn.Context, text))
}

func (p *PostProcessor) replyAndPersist(ctx context.Context, turn Turn, text string) {
	p.reply(ctx, turn, text)
	persist(ctx, p.store, p.logger, turn, turn.Tagged, text)
}

// persist logs one exchange. Storage failures never reach the user.
func persist(ctx context.Context, store domain.HistoryStore, logger *slog.Logger, turn Turn, userText, reply string) {
	err := store.InsertChatMessage(ctx, domain.ChatMessage{
		UserID:        turn.Event.Sender.UserID,
		UserText:      userText,
		AssistantText: reply,
		ContextType:   turn.Context.Type,
		ContextID:     turn.Context.ID,
		Trace:         turn.Event.Trace,
	})
	if err != nil {
		logger.Error("failed to persist chat message", "trace", turn.Event.Trace, "error", err)
	}
}
