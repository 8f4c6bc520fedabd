package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"cqbridge/internal/domain"
	"cqbridge/internal/metrics"
)

// ServerConfig configures the HTTP side of the bridge: the OneBot event
// receiver, the voice file route, and optionally /metrics.
type ServerConfig struct {
	Host      string
	Port      int
	EventPath string // default: /onebot/event
	Secret    string // HMAC-SHA1 secret shared with the gateway
	VoiceDir  string
	VoicePath string // default: /data/voice/
	// MetricsPath is served only when Metrics is set.
	MetricsPath string
	Bus         domain.EventBus
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// Server receives OneBot HTTP POST events and serves synthesized voice files
// so the gateway can fetch [CQ:record] attachments.
type Server struct {
	addr   string
	cfg    ServerConfig
	sink   sink
	logger *slog.Logger
	server *http.Server
}

func NewServer(cfg ServerConfig) *Server {
	if cfg.EventPath == "" {
		cfg.EventPath = "/onebot/event"
	}
	if cfg.VoicePath == "" {
		cfg.VoicePath = "/data/voice/"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Server{
		addr:   net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		cfg:    cfg,
		sink:   sink{bus: cfg.Bus, metrics: cfg.Metrics, logger: cfg.Logger},
		logger: cfg.Logger,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.EventPath, s.handleEvent)
	if s.cfg.VoiceDir != "" {
		mux.Handle(s.cfg.VoicePath, http.StripPrefix(s.cfg.VoicePath, http.FileServer(http.Dir(s.cfg.VoiceDir))))
	}
	if s.cfg.Metrics != nil && s.cfg.MetricsPath != "" {
		mux.Handle(s.cfg.MetricsPath, s.cfg.Metrics.Handler())
	}
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, _ *http.Request) {
		rw.WriteHeader(http.StatusOK)
		io.WriteString(rw, "ok")
	})
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("http server starting", "addr", s.addr, "event_path", s.cfg.EventPath, "voice_path", s.cfg.VoicePath)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}
}

func (s *Server) handleEvent(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	if s.cfg.Secret != "" {
		sig := r.Header.Get("X-Signature")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifySignature(body, s.cfg.Secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	if err := s.sink.ingest("http", body); err != nil {
		http.Error(rw, "Invalid event", http.StatusBadRequest)
		return
	}
	// No quick operation: OneBot treats 204 as "handled, nothing to do".
	rw.WriteHeader(http.StatusNoContent)
}

// verifySignature checks the OneBot v11 X-Signature header (sha1=<hex hmac>).
func verifySignature(body []byte, secret, signature string) bool {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write(body)
	expected := "sha1=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
