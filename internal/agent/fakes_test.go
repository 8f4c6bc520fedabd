package agent

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"

	"cqbridge/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// memStore is an in-memory domain.HistoryStore.
type memStore struct {
	mu       sync.Mutex
	users    []domain.UserInfo
	messages []domain.ChatMessage
	loadErr  error
}

func (s *memStore) UpsertUser(_ context.Context, u domain.UserInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users = append(s.users, u)
	return nil
}

func (s *memStore) InsertChatMessage(_ context.Context, m domain.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m.ID = int64(len(s.messages) + 1)
	s.messages = append(s.messages, m)
	return nil
}

func (s *memStore) RecentMessages(_ context.Context, cc domain.ConversationContext, limit int) ([]domain.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	var out []domain.ChatMessage
	for _, m := range s.messages {
		if m.ContextType == cc.Type && m.ContextID == cc.ID {
			out = append(out, m)
		}
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) ClearHistory(_ context.Context, cc domain.ConversationContext) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []domain.ChatMessage
	for _, m := range s.messages {
		if m.ContextType != cc.Type || m.ContextID != cc.ID {
			kept = append(kept, m)
		}
	}
	n := int64(len(s.messages) - len(kept))
	s.messages = kept
	return n, nil
}

func (s *memStore) CountMessages(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.messages)), nil
}

func (s *memStore) Close() error { return nil }

func (s *memStore) saved() []domain.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ChatMessage(nil), s.messages...)
}

// outbox records delivered messages.
type outbox struct {
	mu  sync.Mutex
	out []domain.OutboundMessage
}

func (o *outbox) Deliver(_ context.Context, msg domain.OutboundMessage) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.out = append(o.out, msg)
}

func (o *outbox) texts() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	texts := make([]string, len(o.out))
	for i, m := range o.out {
		texts[i] = m.Text
	}
	return texts
}

func (o *outbox) messages() []domain.OutboundMessage {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]domain.OutboundMessage(nil), o.out...)
}

type fakeModel struct {
	mu       sync.Mutex
	reply    string
	err      error
	panicMsg string
	requests [][]domain.Message
}

func (m *fakeModel) Name() string                  { return "fake" }
func (m *fakeModel) Healthy(context.Context) error { return nil }

func (m *fakeModel) Chat(_ context.Context, messages []domain.Message) (string, error) {
	m.mu.Lock()
	m.requests = append(m.requests, messages)
	m.mu.Unlock()
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	return m.reply, m.err
}

func (m *fakeModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

type fakeImage struct {
	mu      sync.Mutex
	url     string
	err     error
	prompts []string
}

func (f *fakeImage) GenerateImage(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	return f.url, f.err
}

// fakeVoice blocks until ctx is done when hang is set.
type fakeVoice struct {
	url   string
	err   error
	hang  bool
	texts []string
}

func (f *fakeVoice) Synthesize(ctx context.Context, text string) (string, error) {
	f.texts = append(f.texts, text)
	if f.hang {
		<-ctx.Done()
		return "", ctx.Err()
	}
	return f.url, f.err
}

type fakeRecognizer struct {
	result string
	urls   []string
}

func (f *fakeRecognizer) RecognizeImage(_ context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)
	if f.result == "" {
		return "", errors.New("cannot see")
	}
	return f.result, nil
}
