package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"cqbridge/internal/domain"
	"cqbridge/internal/metrics"
)

type chanBus struct{ ch chan domain.InboundEvent }

func newChanBus() *chanBus { return &chanBus{ch: make(chan domain.InboundEvent, 10)} }

func (b *chanBus) Publish(ev domain.InboundEvent) bool {
	select {
	case b.ch <- ev:
		return true
	default:
		return false
	}
}
func (b *chanBus) Subscribe() <-chan domain.InboundEvent { return b.ch }
func (b *chanBus) Close()                                 {}

const privateEvent = `{"post_type":"message","message_type":"private","message_id":1,"user_id":42,"raw_message":"hi","sender":{"user_id":42,"nickname":"n"}}`

func sign(body, secret string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(body))
	return "sha1=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	if !verifySignature([]byte("body"), "s", sign("body", "s")) {
		t.Error("valid signature should verify")
	}
	if verifySignature([]byte("body"), "s", "sha1=invalid") {
		t.Error("invalid signature should not verify")
	}
	if verifySignature([]byte("body"), "s", "") {
		t.Error("empty signature should not verify")
	}
}

func TestServer_EventRoute(t *testing.T) {
	bus := newChanBus()
	srv := NewServer(ServerConfig{Bus: bus, Logger: testLogger()})
	h := srv.Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/onebot/event", strings.NewReader(privateEvent)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	select {
	case ev := <-bus.ch:
		if ev.Sender.UserID != 42 || ev.RawText != "hi" {
			t.Fatalf("unexpected event %+v", ev)
		}
	default:
		t.Fatal("event not published")
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/onebot/event", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/onebot/event", strings.NewReader(`{oops`)))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/onebot/event", strings.NewReader(`{"post_type":"meta_event"}`)))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("ignored events should be acknowledged, got %d", rec.Code)
	}
	if len(bus.ch) != 0 {
		t.Fatal("meta events must not reach the bus")
	}
}

func TestServer_Signature(t *testing.T) {
	bus := newChanBus()
	h := NewServer(ServerConfig{Bus: bus, Secret: "shh", Logger: testLogger()}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/onebot/event", strings.NewReader(privateEvent)))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/onebot/event", strings.NewReader(privateEvent))
	req.Header.Set("X-Signature", sign(privateEvent, "wrong"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad signature, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/onebot/event", strings.NewReader(privateEvent))
	req.Header.Set("X-Signature", sign(privateEvent, "shh"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || len(bus.ch) != 1 {
		t.Fatalf("signed event should be accepted, got %d", rec.Code)
	}
}

func TestServer_VoiceFilesAndMetrics(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.mp3"), []byte("ID3"), 0o644); err != nil {
		t.Fatal(err)
	}
	m := metrics.MustNewMetrics(prometheus.NewRegistry())
	m.DeliveryAttempt()
	h := NewServer(ServerConfig{
		Bus:         newChanBus(),
		VoiceDir:    dir,
		Metrics:     m,
		MetricsPath: "/metrics",
		Logger:      testLogger(),
	}).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/data/voice/a.mp3", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ID3" {
		t.Fatalf("voice file not served: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "cqbridge_delivery_attempts_total 1") {
		t.Fatalf("metrics not served:\n%s", rec.Body.String())
	}
}

func TestWSSource_PublishesEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}
	authCh := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authCh <- r.Header.Get("Authorization")
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"ok","retcode":0,"echo":"x"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(privateEvent))
		// Hold the connection until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	bus := newChanBus()
	ws := NewWSSource(WSConfig{
		URL:         "ws" + strings.TrimPrefix(srv.URL, "http"),
		AccessToken: "tok",
		Bus:         bus,
		Logger:      testLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Run(ctx) }()

	select {
	case ev := <-bus.ch:
		if ev.Sender.UserID != 42 {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no event received over websocket")
	}
	if got := <-authCh; got != "Bearer tok" {
		t.Fatalf("unexpected auth header %q", got)
	}
	if len(bus.ch) != 0 {
		t.Fatal("echo replies must not be published")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run should return nil on cancel, got %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
