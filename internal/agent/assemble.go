package agent

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"

	"cqbridge/internal/config"
	"cqbridge/internal/domain"
)

const defaultHistoryLimit = 10

// Assembler turns a turn into a model request: system prompt, recent
// history and the tagged user message.
type Assembler struct {
	store        domain.HistoryStore
	model        domain.ChatModel
	systemPrompt string
	adminID      int64
	adminTitles  []string
	dialogues    map[string]string
	historyLimit int
	pick         func(n int) int
	logger       *slog.Logger
}

type AssemblerConfig struct {
	Store        domain.HistoryStore
	Model        domain.ChatModel
	Sections     []config.PromptSection
	AdminID      int64
	AdminTitles  []string
	Dialogues    []config.Dialogue
	HistoryLimit int
	Pick         func(n int) int // index in [0,n); defaults to math/rand
	Logger       *slog.Logger
}

func NewAssembler(cfg AssemblerConfig) *Assembler {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.Pick == nil {
		cfg.Pick = rand.IntN
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	parts := make([]string, 0, len(cfg.Sections))
	for _, s := range cfg.Sections {
		parts = append(parts, s.Content)
	}
	// First entry wins when the table repeats a user line.
	dialogues := make(map[string]string, len(cfg.Dialogues))
	for _, d := range cfg.Dialogues {
		if _, ok := dialogues[d.User]; !ok {
			dialogues[d.User] = d.Assistant
		}
	}
	return &Assembler{
		store:        cfg.Store,
		model:        cfg.Model,
		systemPrompt: strings.Join(parts, "\n"),
		adminID:      cfg.AdminID,
		adminTitles:  cfg.AdminTitles,
		dialogues:    dialogues,
		historyLimit: cfg.HistoryLimit,
		pick:         cfg.Pick,
		logger:       cfg.Logger,
	}
}

// Request is an assembled model request. Canned is set when the admin hit the
// dialogue table and the model must not be called.
type Request struct {
	Tagged   string
	Messages []domain.Message
	Canned   string
}

// IsAdmin reports whether userID is the configured admin.
func (a *Assembler) IsAdmin(userID int64) bool {
	return a.adminID != 0 && userID == a.adminID
}

// Tag prefixes text with a random admin title or the sender's nickname.
func (a *Assembler) Tag(sender domain.Sender, text string) string {
	if a.IsAdmin(sender.UserID) && len(a.adminTitles) > 0 {
		return a.adminTitles[a.pick(len(a.adminTitles))] + ": " + text
	}
	return sender.Nickname + ": " + text
}

// Build assembles the request for text sent by sender in cc. History that
// cannot be loaded is skipped.
func (a *Assembler) Build(ctx context.Context, cc domain.ConversationContext, text string, sender domain.Sender) Request {
	tagged := a.Tag(sender, text)
	if a.IsAdmin(sender.UserID) {
		if reply, ok := a.dialogues[tagged]; ok {
			return Request{Tagged: tagged, Canned: reply}
		}
	}

	history, err := a.store.RecentMessages(ctx, cc, a.historyLimit)
	if err != nil {
		a.logger.Warn("failed to load history, continuing without it", "error", err)
		history = nil
	}

	messages := make([]domain.Message, 0, 2+2*len(history))
	messages = append(messages, domain.Message{Role: "system", Content: a.systemPrompt})
	for _, h := range history {
		messages = append(messages,
			domain.Message{Role: "user", Content: h.UserText},
			domain.Message{Role: "assistant", Content: h.AssistantText},
		)
	}
	messages = append(messages, domain.Message{Role: "user", Content: tagged})
	return Request{Tagged: tagged, Messages: messages}
}

// Complete answers req, calling the model unless the reply is canned.
func (a *Assembler) Complete(ctx context.Context, req Request) (string, error) {
	if req.Canned != "" {
		return req.Canned, nil
	}
	reply, err := a.model.Chat(ctx, req.Messages)
	if err != nil {
		return "", fmt.Errorf("chat model: %w", err)
	}
	return reply, nil
}
