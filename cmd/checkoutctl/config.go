package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wearwise/checkout/internal/platform/config"
	"github.com/wearwise/checkout/internal/platform/secrets"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration helpers",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Load and validate configuration without starting the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			env, err := config.EnvironmentValues()
			if err != nil {
				return err
			}
			resolver, err := newSecretResolver(ctx, zap.NewNop(), env)
			if err != nil {
				return err
			}
			defer func() { _ = resolver.Close() }()

			cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
			if err != nil {
				var invalid *config.ValidationError
				if errors.As(err, &invalid) {
					for _, field := range invalid.Fields() {
						fmt.Fprintf(cmd.ErrOrStderr(), "invalid: %s\n", field)
					}
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: environment=%s session=%s orders=%s auth=%s\n",
				cfg.Environment, cfg.Session.Backend, cfg.Orders.Mode, cfg.Auth.Mode)
			return nil
		},
	})
	return cmd
}

func newSecretResolver(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Resolver, error) {
	opts := append(secrets.EnvOptions(env), secrets.WithLogger(logger))
	return secrets.NewResolver(ctx, opts...)
}
