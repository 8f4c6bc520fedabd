package domain

import (
	"context"
	"time"
)

// HistoryStore persists users and the chat log used to build model context.
type HistoryStore interface {
	UpsertUser(ctx context.Context, user UserInfo) error
	InsertChatMessage(ctx context.Context, msg ChatMessage) error
	// RecentMessages returns at most limit entries for the context, oldest first.
	RecentMessages(ctx context.Context, cc ConversationContext, limit int) ([]ChatMessage, error)
	ClearHistory(ctx context.Context, cc ConversationContext) (int64, error)
	CountMessages(ctx context.Context) (int64, error)
	Close() error
}

// UserInfo is the last known identity of a sender.
type UserInfo struct {
	UserID    int64     `json:"user_id"`
	Nickname  string    `json:"nickname"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ChatMessage is one persisted exchange.
type ChatMessage struct {
	ID            int64       `json:"id"`
	UserID        int64       `json:"user_id"`
	UserText      string      `json:"user_text"`
	AssistantText string      `json:"assistant_text"`
	ContextType   MessageKind `json:"context_type"`
	ContextID     int64       `json:"context_id"`
	Trace         string      `json:"trace,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}
