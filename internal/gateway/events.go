package gateway

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"cqbridge/internal/domain"
)

var (
	// ErrIgnored marks well-formed events that carry no message for the bot:
	// meta, notice and request events, and the bot's own messages.
	ErrIgnored = errors.New("event ignored")

	nowFunc = time.Now
)

// ParseEvent decodes a OneBot v11 event. Ids may be JSON numbers or strings.
func ParseEvent(data []byte) (domain.InboundEvent, error) {
	if !gjson.ValidBytes(data) {
		return domain.InboundEvent{}, fmt.Errorf("invalid event json")
	}
	root := gjson.ParseBytes(data)

	if pt := root.Get("post_type").String(); pt != "message" {
		return domain.InboundEvent{}, fmt.Errorf("post_type %q: %w", pt, ErrIgnored)
	}

	var kind domain.MessageKind
	switch mt := root.Get("message_type").String(); mt {
	case "private":
		kind = domain.KindPrivate
	case "group":
		kind = domain.KindGroup
	default:
		return domain.InboundEvent{}, fmt.Errorf("unsupported message_type %q", mt)
	}

	sender := root.Get("sender")
	userID := sender.Get("user_id").Int()
	if userID == 0 {
		userID = root.Get("user_id").Int()
	}
	if userID == 0 {
		return domain.InboundEvent{}, fmt.Errorf("missing user_id")
	}
	selfID := root.Get("self_id").Int()
	if selfID != 0 && userID == selfID {
		return domain.InboundEvent{}, fmt.Errorf("own message: %w", ErrIgnored)
	}

	ev := domain.InboundEvent{
		Kind:      kind,
		MessageID: root.Get("message_id").Int(),
		Sender: domain.Sender{
			UserID:   userID,
			Nickname: sender.Get("nickname").String(),
			Card:     sender.Get("card").String(),
		},
		SelfID:     selfID,
		RawText:    root.Get("raw_message").String(),
		ReceivedAt: nowFunc(),
		Trace:      uuid.NewString(),
	}
	if ev.RawText == "" {
		if msg := root.Get("message"); msg.Type == gjson.String {
			ev.RawText = msg.String()
		}
	}
	if kind == domain.KindGroup {
		ev.GroupID = root.Get("group_id").Int()
		if ev.GroupID == 0 {
			return domain.InboundEvent{}, fmt.Errorf("group message without group_id")
		}
	}
	return ev, nil
}

func isEcho(data []byte) bool {
	return gjson.GetBytes(data, "echo").Exists()
}
