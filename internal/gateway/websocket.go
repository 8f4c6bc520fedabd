package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"cqbridge/internal/domain"
	"cqbridge/internal/metrics"
)

// WSConfig configures the forward WebSocket event source.
type WSConfig struct {
	URL         string
	AccessToken string
	Reconnect   time.Duration // wait between connection attempts (min 1s)
	Bus         domain.EventBus
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// WSSource connects to the gateway's forward WebSocket and publishes every
// message event it reads. Lost connections are re-established until the
// context ends.
type WSSource struct {
	url       string
	token     string
	reconnect time.Duration
	sink      sink
	logger    *slog.Logger
}

func NewWSSource(cfg WSConfig) *WSSource {
	if cfg.Reconnect < time.Second {
		cfg.Reconnect = time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WSSource{
		url:       cfg.URL,
		token:     cfg.AccessToken,
		reconnect: cfg.Reconnect,
		sink:      sink{bus: cfg.Bus, metrics: cfg.Metrics, logger: cfg.Logger},
		logger:    cfg.Logger,
	}
}

// Run blocks until ctx is cancelled. Connection failures are logged, not returned.
func (w *WSSource) Run(ctx context.Context) error {
	for {
		if err := w.session(ctx); err != nil && ctx.Err() == nil {
			w.logger.Error("websocket session ended", "url", w.url, "error", err)
		}
		select {
		case <-ctx.Done():
			w.logger.Info("websocket source stopped")
			return nil
		case <-time.After(w.reconnect):
			w.logger.Info("reconnecting websocket", "url", w.url)
		}
	}
}

func (w *WSSource) session(ctx context.Context) error {
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	header := http.Header{}
	if w.token != "" {
		header.Set("Authorization", "Bearer "+w.token)
	}

	conn, _, err := dialer.DialContext(ctx, w.url, header)
	if err != nil {
		return err
	}
	w.logger.Info("websocket connected", "url", w.url)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	defer conn.Close()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		// API responses carry an echo and are not events.
		if len(data) > 0 && isEcho(data) {
			continue
		}
		w.sink.ingest("ws", data)
	}
}
