package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"cqbridge/internal/config"
	"cqbridge/internal/gateway"
	"cqbridge/internal/memory"
	"cqbridge/internal/provider"

	"github.com/spf13/cobra"
)

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Run diagnostic checks against the config, database, gateway and model",
		Long: `Verifies that the configuration loads, the history database is writable,
the gateway API answers get_status and the chat model is reachable.
Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			fmt.Printf("cqbridge status v%s\n", version)
			fmt.Printf("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━\n\n")

			var r report

			if _, err := os.Stat(cfgPath); err != nil {
				r.fail("Config file", fmt.Sprintf("not found at %s", cfgPath))
				fmt.Printf("\nRun 'cqbridge init' to create a default configuration.\n")
				return nil
			}
			r.pass("Config file", cfgPath)

			cfg, err := config.Load(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				r.summary()
				return nil
			}
			r.pass("Config validation", "valid")

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if n, err := checkDatabase(ctx, cfg.Memory.DBPath); err != nil {
				r.fail("Database", err.Error())
			} else {
				r.pass("Database", fmt.Sprintf("%s (%d messages)", cfg.Memory.DBPath, n))
			}

			client := gateway.NewClient(gateway.ClientConfig{
				APIBase:     cfg.Gateway.APIBase,
				AccessToken: cfg.Gateway.AccessToken,
				Timeout:     seconds(cfg.Gateway.TimeoutSeconds),
				MaxAttempts: 1,
				Logger:      logger,
			})
			if res, err := client.Call(ctx, "get_status", nil); err != nil {
				r.fail("Gateway API", err.Error())
			} else if !res.Get("data.online").Bool() {
				r.warn("Gateway API", cfg.Gateway.APIBase+" reachable, account offline")
			} else {
				r.pass("Gateway API", cfg.Gateway.APIBase)
			}

			if cfg.Gateway.WSURL == "" {
				if err := checkPort(cfg.Gateway.ListenHost, cfg.Gateway.ListenPort); err != nil {
					r.warn("Listen port", fmt.Sprintf("%d in use (serve may already be running)", cfg.Gateway.ListenPort))
				} else {
					r.pass("Listen port", fmt.Sprintf("%s:%d available", cfg.Gateway.ListenHost, cfg.Gateway.ListenPort))
				}
			} else {
				r.pass("Event source", "websocket "+cfg.Gateway.WSURL)
			}

			chat, err := provider.NewFactory(cfg, nil, logger).Chat()
			if err != nil {
				r.fail("Chat model", err.Error())
			} else if err := chat.Healthy(ctx); err != nil {
				r.fail("Chat model", fmt.Sprintf("%s: %v", chat.Name(), err))
			} else {
				r.pass("Chat model", chat.Name())
			}

			for _, opt := range []struct {
				name string
				pc   config.ProviderConfig
			}{
				{"Image provider", cfg.Providers.Image},
				{"Vision provider", cfg.Providers.Vision},
				{"TTS provider", cfg.Providers.TTS},
			} {
				if opt.pc.Enabled {
					r.pass(opt.name, opt.pc.Model)
				} else {
					r.warn(opt.name, "disabled")
				}
			}

			r.summary()
			return nil
		},
	}
}

func checkDatabase(ctx context.Context, dbPath string) (int64, error) {
	store, err := memory.NewSQLiteStore(dbPath, logger)
	if err != nil {
		return 0, err
	}
	defer store.Close()
	return store.CountMessages(ctx)
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, fmt.Sprint(port)))
	if err != nil {
		return err
	}
	ln.Close()
	return nil
}

type report struct {
	passed, failed, warned int
}

func (r *report) pass(check, detail string) {
	r.passed++
	fmt.Printf("  [PASS] %-20s %s\n", check, detail)
}

func (r *report) fail(check, detail string) {
	r.failed++
	fmt.Printf("  [FAIL] %-20s %s\n", check, detail)
}

func (r *report) warn(check, detail string) {
	r.warned++
	fmt.Printf("  [WARN] %-20s %s\n", check, detail)
}

func (r *report) summary() {
	fmt.Printf("\n%d passed, %d failed, %d warnings\n", r.passed, r.failed, r.warned)
	if r.failed == 0 {
		fmt.Printf("\nAll checks passed! cqbridge is ready to serve.\n")
	}
}
