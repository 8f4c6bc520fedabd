package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"cqbridge/internal/domain"
	"cqbridge/internal/metrics"
)

// noticeFailure is sent whenever a turn fails after it was accepted.
const noticeFailure = "阿巴阿巴，出错了。"

// Turn is one accepted inbound message on its way through the pipeline.
type Turn struct {
	Event   domain.InboundEvent
	Context domain.ConversationContext
	Text    string // effective text after classification
	Tagged  string // text as sent to the model
	IsAdmin bool
}

// Handler runs the reply pipeline for inbound events.
type Handler struct {
	classifier *Classifier
	commands   *Commands
	special    *SpecialResolver
	assembler  *Assembler
	post       *PostProcessor
	deliver    domain.Deliverer
	store      domain.HistoryStore
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

type HandlerConfig struct {
	Classifier *Classifier
	Commands   *Commands
	Special    *SpecialResolver
	Assembler  *Assembler
	Post       *PostProcessor
	Deliver    domain.Deliverer
	Store      domain.HistoryStore
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Handler{
		classifier: cfg.Classifier,
		commands:   cfg.Commands,
		special:    cfg.Special,
		assembler:  cfg.Assembler,
		post:       cfg.Post,
		deliver:    cfg.Deliver,
		store:      cfg.Store,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
}

// Handle dispatches ev by message kind.
func (h *Handler) Handle(ctx context.Context, ev domain.InboundEvent) {
	if ev.Kind == domain.KindGroup {
		h.HandleGroup(ctx, ev)
		return
	}
	h.HandlePrivate(ctx, ev)
}

func (h *Handler) HandlePrivate(ctx context.Context, ev domain.InboundEvent) {
	h.logger.Info("received private message", "trace", ev.Trace, "user_id", ev.Sender.UserID, "text", ev.RawText)
	h.pipeline(ctx, ev)
}

func (h *Handler) HandleGroup(ctx context.Context, ev domain.InboundEvent) {
	h.logger.Info("received group message", "trace", ev.Trace, "group_id", ev.GroupID, "user_id", ev.Sender.UserID, "text", ev.RawText)
	h.pipeline(ctx, ev)
}

// pipeline is shared by both message kinds. Exactly one of command, special
// request or model call answers an accepted turn.
func (h *Handler) pipeline(ctx context.Context, ev domain.InboundEvent) {
	kind := string(ev.Kind)
	cc := ev.Context()
	logger := h.logger.With("trace", ev.Trace, "kind", kind)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("panic while handling message", "panic", r)
			h.metrics.Event(kind, "panic")
			h.deliver.Deliver(ctx, domain.ReplyTo(cc, noticeFailure))
		}
	}()

	h.upsertUser(ctx, logger, ev)

	text, ok := h.classifier.Classify(ev)
	if !ok {
		h.metrics.Event(kind, "no_reply")
		return
	}
	turn := Turn{Event: ev, Context: cc, Text: text, IsAdmin: h.assembler.IsAdmin(ev.Sender.UserID)}

	if cmd := ParseCommand(text); cmd != nil && h.commands != nil {
		if res := h.commands.Handle(ctx, cmd, cc); res.Handled {
			logger.Info("command handled", "command", cmd.Name)
			h.metrics.Event(kind, "command")
			msg := domain.ReplyTo(cc, res.Response)
			msg.UseVoice = res.UseVoice
			h.deliver.Deliver(ctx, msg)
			return
		}
	}

	if reply, intent := h.special.Resolve(ctx, text); reply != "" {
		logger.Info("special request resolved", "intent", intent)
		h.metrics.Event(kind, "special")
		h.deliver.Deliver(ctx, domain.ReplyTo(cc, reply))
		persist(ctx, h.store, logger, turn, text, reply)
		return
	}

	req := h.assembler.Build(ctx, cc, text, ev.Sender)
	turn.Tagged = req.Tagged
	if req.Canned != "" {
		logger.Info("canned dialogue matched")
		h.metrics.Event(kind, "canned")
	}

	response, err := h.assembler.Complete(ctx, req)
	if err == nil && response == "" {
		err = fmt.Errorf("chat model: empty reply")
	}
	if err != nil {
		logger.Error("model call failed", "error", err)
		h.metrics.Event(kind, "model_error")
		h.deliver.Deliver(ctx, domain.ReplyTo(cc, noticeFailure))
		return
	}
	if req.Canned == "" {
		h.metrics.Event(kind, "model")
	}

	persist(ctx, h.store, logger, turn, turn.Tagged, response)
	h.post.Process(ctx, turn, response)
}

func (h *Handler) upsertUser(ctx context.Context, logger *slog.Logger, ev domain.InboundEvent) {
	err := h.store.UpsertUser(ctx, domain.UserInfo{
		UserID:    ev.Sender.UserID,
		Nickname:  ev.Sender.Nickname,
		UpdatedAt: time.Now(),
	})
	if err != nil {
		logger.Warn("failed to upsert user", "user_id", ev.Sender.UserID, "error", err)
	}
}
