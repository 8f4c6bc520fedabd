package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cqbridge/internal/agent"
	"cqbridge/internal/bus"
	"cqbridge/internal/config"
	"cqbridge/internal/domain"
	"cqbridge/internal/gateway"
	"cqbridge/internal/intent"
	"cqbridge/internal/memory"
	"cqbridge/internal/metrics"
	"cqbridge/internal/provider"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Receive gateway events and answer them",
		Long:  "Starts the HTTP event receiver, the optional forward WebSocket source and the event loop. Press Ctrl+C to stop.",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logCloser, err := loadConfig()
	if err != nil {
		return err
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.chat.Healthy(ctx); err != nil {
		logger.Warn("chat model unhealthy at startup", "model", a.chat.Name(), "err", err)
	} else {
		logger.Info("chat model healthy", "model", a.chat.Name())
	}

	logger.Info("cqbridge started. Press Ctrl+C to stop.", "version", version)
	err = a.run(ctx)
	logger.Info("shutdown complete")
	return err
}

// app holds the collaborators of a running bridge.
type app struct {
	bus    *bus.InMemoryBus
	store  *memory.SQLiteStore
	chat   domain.ChatModel
	server *gateway.Server
	ws     *gateway.WSSource
	loop   *agent.Loop
	logger *slog.Logger
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	if err := os.MkdirAll(cfg.Voice.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("voice directory: %w", err)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.MustNewMetrics(reg)
	}

	store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("memory store: %w", err)
	}

	factory := provider.NewFactory(cfg, m, logger)
	chat, err := factory.Chat()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("chat model: %w", err)
	}
	voice := factory.Voice()

	eventBus := bus.New(100, logger)

	client := gateway.NewClient(gateway.ClientConfig{
		APIBase:     cfg.Gateway.APIBase,
		AccessToken: cfg.Gateway.AccessToken,
		Timeout:     seconds(cfg.Gateway.TimeoutSeconds),
		MaxAttempts: cfg.Gateway.MaxAttempts,
		Backoff:     seconds(cfg.Gateway.BackoffSeconds),
		Metrics:     m,
		Logger:      logger,
	})
	sender := gateway.NewSender(gateway.SenderConfig{
		Client:       client,
		Voice:        voice,
		VoiceTimeout: seconds(cfg.Voice.TimeoutSeconds),
		Metrics:      m,
		Logger:       logger,
	})

	image := intent.NewImage(factory.Image(), cfg.Intents.Draw)
	character, _ := cfg.Bot.Section("character")
	recognition := intent.NewRecognition(factory.Vision())

	handler := agent.NewHandler(agent.HandlerConfig{
		Classifier: agent.NewClassifier(agent.ClassifierConfig{
			SelfID:           cfg.Bot.SelfID,
			Nicknames:        cfg.Bot.Nicknames,
			BlockIDs:         cfg.Bot.BlockIDs,
			ReplyProbability: cfg.Bot.ReplyProbability,
			Logger:           logger,
		}),
		Commands: agent.NewCommands(agent.CommandsConfig{
			Store:     store,
			Character: character,
			ModelName: chat.Name(),
			Logger:    logger,
		}),
		Special: agent.NewSpecialResolver(agent.SpecialConfig{
			Image:       image,
			Voice:       intent.NewVoice(voice, cfg.Intents.Voice),
			Music:       intent.NewMusic(factory.Music(), cfg.Intents.Music),
			Recognition: recognition,
			Logger:      logger,
		}),
		Assembler: agent.NewAssembler(agent.AssemblerConfig{
			Store:        store,
			Model:        chat,
			Sections:     cfg.Bot.SystemMessage,
			AdminID:      cfg.Bot.AdminID,
			AdminTitles:  cfg.Bot.AdminTitles,
			Dialogues:    cfg.Bot.Dialogues,
			HistoryLimit: cfg.Bot.HistoryLimit,
			Logger:       logger,
		}),
		Post: agent.NewPostProcessor(agent.PostProcessorConfig{
			Deliver:             sender,
			Store:               store,
			Voice:               voice,
			Image:               image,
			Recognition:         recognition,
			UseNormalizedPrompt: cfg.Draw.UseNormalizedPrompt,
			VoiceTimeout:        seconds(cfg.Voice.TimeoutSeconds),
			Metrics:             m,
			Logger:              logger,
		}),
		Deliver: sender,
		Store:   store,
		Metrics: m,
		Logger:  logger,
	})

	a := &app{
		bus:   eventBus,
		store: store,
		chat:  chat,
		server: gateway.NewServer(gateway.ServerConfig{
			Host:        cfg.Gateway.ListenHost,
			Port:        cfg.Gateway.ListenPort,
			EventPath:   cfg.Gateway.EventPath,
			Secret:      cfg.Gateway.Secret,
			VoiceDir:    cfg.Voice.OutputDir,
			VoicePath:   cfg.Voice.ServePath,
			MetricsPath: cfg.Metrics.Path,
			Bus:         eventBus,
			Metrics:     m,
			Logger:      logger,
		}),
		loop: agent.NewLoop(agent.LoopConfig{
			Bus:         eventBus,
			Handler:     handler,
			Concurrency: cfg.General.MaxConcurrentEvents,
			Metrics:     m,
			Logger:      logger,
		}),
		logger: logger,
	}
	if cfg.Gateway.WSURL != "" {
		a.ws = gateway.NewWSSource(gateway.WSConfig{
			URL:         cfg.Gateway.WSURL,
			AccessToken: cfg.Gateway.AccessToken,
			Reconnect:   seconds(cfg.Gateway.ReconnectSeconds),
			Bus:         eventBus,
			Metrics:     m,
			Logger:      logger,
		})
	}
	return a, nil
}

// run supervises the event sources and the loop. The first failure cancels
// the others.
func (a *app) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(ctx) })
	if a.ws != nil {
		g.Go(func() error { return a.ws.Run(ctx) })
	}
	g.Go(func() error { return a.loop.Run(ctx) })
	return g.Wait()
}

func (a *app) close() {
	a.bus.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close store", "err", err)
	}
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
