package domain

import (
	"strconv"
	"time"
)

// MessageKind distinguishes private chats from group chats.
type MessageKind string

const (
	KindPrivate MessageKind = "private"
	KindGroup   MessageKind = "group"
)

// Sender identifies who wrote an inbound message.
type Sender struct {
	UserID   int64
	Nickname string
	Card     string // group card, empty in private chats
}

// InboundEvent is a message event received from the OneBot gateway.
type InboundEvent struct {
	Kind       MessageKind
	MessageID  int64
	Sender     Sender
	GroupID    int64 // zero for private messages
	SelfID     int64
	RawText    string
	ReceivedAt time.Time
	Trace      string // correlation id for logs
}

// DedupKey returns the key used to drop events delivered twice by the gateway.
// Events without a message id return "".
func (e InboundEvent) DedupKey() string {
	if e.MessageID == 0 {
		return ""
	}
	return string(e.Kind) + ":" + strconv.FormatInt(e.MessageID, 10)
}

// Context returns the conversation scope this event belongs to.
func (e InboundEvent) Context() ConversationContext {
	if e.Kind == KindGroup {
		return ConversationContext{Type: KindGroup, ID: e.GroupID, UserID: e.Sender.UserID}
	}
	return ConversationContext{Type: KindPrivate, ID: e.Sender.UserID, UserID: e.Sender.UserID}
}

// ConversationContext is the key under which history is stored and replies are routed.
type ConversationContext struct {
	Type   MessageKind
	ID     int64 // user id for private chats, group id for group chats
	UserID int64
}

// OutboundMessage is a reply addressed to a user or group.
type OutboundMessage struct {
	TargetType    MessageKind
	TargetID      int64
	Text          string
	UseVoice      bool
	IsErrorNotice bool // notices about failed deliveries never spawn further notices
}

// ReplyTo builds an outbound message for the given conversation.
func ReplyTo(cc ConversationContext, text string) OutboundMessage {
	return OutboundMessage{TargetType: cc.Type, TargetID: cc.ID, Text: text}
}

// DirectiveKind names an action token embedded in model output.
type DirectiveKind string

const (
	DirectiveVoice     DirectiveKind = "#voice"
	DirectiveRecognize DirectiveKind = "#recognize"
	DirectiveDraw      DirectiveKind = "#draw"
)

// Directive is a detected action token and the text that follows it.
type Directive struct {
	Kind     DirectiveKind
	Argument string
}
