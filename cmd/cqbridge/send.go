package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cqbridge/internal/domain"
	"cqbridge/internal/gateway"
	"cqbridge/internal/memory"

	"github.com/spf13/cobra"
)

// target resolves the --group/--user flag pair into a conversation.
func target(groupID, userID int64) (domain.ConversationContext, error) {
	switch {
	case groupID != 0 && userID != 0:
		return domain.ConversationContext{}, fmt.Errorf("--group and --user are mutually exclusive")
	case groupID != 0:
		return domain.ConversationContext{Type: domain.KindGroup, ID: groupID}, nil
	case userID != 0:
		return domain.ConversationContext{Type: domain.KindPrivate, ID: userID, UserID: userID}, nil
	default:
		return domain.ConversationContext{}, fmt.Errorf("one of --group or --user is required")
	}
}

func sendCmd() *cobra.Command {
	var groupID, userID int64
	cmd := &cobra.Command{
		Use:   "send [text...]",
		Short: "Send a message through the gateway",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := target(groupID, userID)
			if err != nil {
				return err
			}
			cfg, logCloser, err := loadConfig()
			if err != nil {
				return err
			}
			defer logCloser.Close()

			client := gateway.NewClient(gateway.ClientConfig{
				APIBase:     cfg.Gateway.APIBase,
				AccessToken: cfg.Gateway.AccessToken,
				Timeout:     seconds(cfg.Gateway.TimeoutSeconds),
				MaxAttempts: cfg.Gateway.MaxAttempts,
				Backoff:     seconds(cfg.Gateway.BackoffSeconds),
				Logger:      logger,
			})
			sender := gateway.NewSender(gateway.SenderConfig{Client: client, Logger: logger})

			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()
			if err := sender.SendText(ctx, cc.Type, cc.ID, strings.Join(args, " ")); err != nil {
				return err
			}
			logger.Info("message sent", "target", cc.Type, "id", cc.ID)
			return nil
		},
	}
	cmd.Flags().Int64Var(&groupID, "group", 0, "target group id")
	cmd.Flags().Int64Var(&userID, "user", 0, "target user id (private chat)")
	return cmd
}

func historyCmd() *cobra.Command {
	var groupID, userID int64
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print stored conversation history",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := target(groupID, userID)
			if err != nil {
				return err
			}
			cfg, logCloser, err := loadConfig()
			if err != nil {
				return err
			}
			defer logCloser.Close()

			store, err := memory.NewSQLiteStore(cfg.Memory.DBPath, logger)
			if err != nil {
				return fmt.Errorf("memory store: %w", err)
			}
			defer store.Close()

			msgs, err := store.RecentMessages(cmd.Context(), cc, limit)
			if err != nil {
				return err
			}
			if len(msgs) == 0 {
				fmt.Println("no history")
				return nil
			}
			for _, m := range msgs {
				fmt.Print(formatTurn(m))
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&groupID, "group", 0, "group id")
	cmd.Flags().Int64Var(&userID, "user", 0, "user id (private chat)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of turns to show")
	return cmd
}

func formatTurn(m domain.ChatMessage) string {
	ts := m.CreatedAt.Local().Format("2006-01-02 15:04:05")
	return fmt.Sprintf("[%s] user %d\n  > %s\n  < %s\n", ts, m.UserID, m.UserText, m.AssistantText)
}
