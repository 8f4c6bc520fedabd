package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cqbridge/internal/cqcode"
	"cqbridge/internal/domain"
	"cqbridge/internal/metrics"
)

const (
	noticeVoiceTimeout = "语音合成超时，请稍后再试。"
	noticeSendFailed   = "发送消息失败: %s"
	noticeNotFound     = "资源未找到 (404 错误)。"
	noticeHTTPError    = "HTTP 错误: %v"
	noticeTimeout      = "请求超时，请稍后再试。"
)

// SenderConfig wires a Sender.
type SenderConfig struct {
	Client       *Client
	Voice        domain.VoiceSynthesizer // optional; UseVoice is ignored without it
	VoiceTimeout time.Duration
	Metrics      *metrics.Metrics
	Logger       *slog.Logger
}

// Sender delivers outbound messages through the gateway and reports failed
// deliveries back to the same conversation as a notice.
type Sender struct {
	client       *Client
	voice        domain.VoiceSynthesizer
	voiceTimeout time.Duration
	metrics      *metrics.Metrics
	logger       *slog.Logger
}

var _ domain.Deliverer = (*Sender)(nil)

func NewSender(cfg SenderConfig) *Sender {
	if cfg.VoiceTimeout <= 0 {
		cfg.VoiceTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Sender{
		client:       cfg.Client,
		voice:        cfg.Voice,
		voiceTimeout: cfg.VoiceTimeout,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
	}
}

// Deliver sends msg. It never fails: errors are logged and, unless msg is
// itself a notice, reported to the target with a single notice.
func (s *Sender) Deliver(ctx context.Context, msg domain.OutboundMessage) {
	text := msg.Text
	if msg.UseVoice && s.voice != nil {
		text = s.voiceText(ctx, text)
	}

	action, params := sendRequest(msg.TargetType, msg.TargetID, text)
	target := string(msg.TargetType)
	logger := s.logger.With("target", target, "target_id", msg.TargetID, "notice", msg.IsErrorNotice)

	_, err := s.client.Call(ctx, action, params)
	if err == nil {
		logger.Info("message delivered", "len", len(text))
		s.metrics.Delivery(target, "ok")
		return
	}

	var (
		notice   string
		outcome  string
		rejected *RejectedError
		status   *StatusError
	)
	switch {
	case errors.As(err, &rejected):
		logger.Error("gateway rejected message", "reason", rejected.Reason)
		notice, outcome = fmt.Sprintf(noticeSendFailed, rejected.Reason), "rejected"
	case errors.As(err, &status) && status.Code == http.StatusNotFound:
		logger.Error("gateway endpoint not found", "action", action)
		notice, outcome = noticeNotFound, "not_found"
	case errors.Is(err, ErrTimeout):
		logger.Error("message delivery timed out", "action", action)
		notice, outcome = noticeTimeout, "timeout"
	case ctx.Err() != nil:
		logger.Warn("message delivery cancelled", "error", err)
		s.metrics.Delivery(target, "cancelled")
		return
	default:
		logger.Error("message delivery failed", "error", err)
		notice, outcome = fmt.Sprintf(noticeHTTPError, err), "http_error"
	}
	s.metrics.Delivery(target, outcome)

	if msg.IsErrorNotice {
		logger.Warn("error notice not delivered, giving up")
		return
	}
	s.Deliver(ctx, domain.OutboundMessage{
		TargetType:    msg.TargetType,
		TargetID:      msg.TargetID,
		Text:          notice,
		IsErrorNotice: true,
	})
}

func (s *Sender) voiceText(ctx context.Context, text string) string {
	ctx, cancel := context.WithTimeout(ctx, s.voiceTimeout)
	defer cancel()

	url, err := s.voice.Synthesize(ctx, text)
	switch {
	case err == nil && url != "":
		return cqcode.Record(url)
	case errors.Is(err, context.DeadlineExceeded):
		s.logger.Warn("voice synthesis timed out")
		return noticeVoiceTimeout
	case err != nil:
		s.logger.Error("voice synthesis failed, sending text", "error", err)
	}
	return text
}

func sendRequest(kind domain.MessageKind, id int64, text string) (string, map[string]any) {
	if kind == domain.KindGroup {
		return "send_group_msg", map[string]any{"message": text, "group_id": id}
	}
	return "send_private_msg", map[string]any{"message": text, "user_id": id}
}

// SendText is a convenience for one-off sends outside the event pipeline.
func (s *Sender) SendText(ctx context.Context, kind domain.MessageKind, id int64, text string) error {
	action, params := sendRequest(kind, id, text)
	_, err := s.client.Call(ctx, action, params)
	return err
}
