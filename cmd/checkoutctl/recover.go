package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wearwise/checkout/internal/di"
	"github.com/wearwise/checkout/internal/platform/config"
	"github.com/wearwise/checkout/internal/platform/observability"
)

func recoverCmd() *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "recover <correlation-id>",
		Short: "Re-run provider confirmation for a pending transaction",
		Long: `Loads the service configuration, polls the provider that owns the transaction and
finalizes the order when the payment succeeded. Safe to repeat: a transaction that already
produced an order reports already_processed.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(userID) == "" {
				return fmt.Errorf("--user is required")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger, err := observability.NewLogger()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			container, err := loadContainer(ctx, logger)
			if err != nil {
				return err
			}
			defer func() { _ = container.Close(context.Background()) }()

			result, err := container.Services.Reconciler.Recover(ctx, userID, args[0])
			if err != nil {
				return fmt.Errorf("recover %s: %w", args[0], err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "Shopper uid that owns the transaction")
	return cmd
}

func loadContainer(ctx context.Context, logger *zap.Logger) (*di.Container, error) {
	env, err := config.EnvironmentValues()
	if err != nil {
		return nil, err
	}
	resolver, err := newSecretResolver(ctx, logger, env)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resolver.Close() }()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return di.NewContainer(ctx, cfg, logger.Named("checkoutctl"))
}
