package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"restaurant-pos/internal/app"
	"restaurant-pos/internal/common/logger"
	"restaurant-pos/internal/config"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "restaurant-pos",
		Short:         "Restaurant order, table and bill coordinator",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (env vars override it)")

	load := func() (*config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.Setup(cfg.Log.Level, os.Stdout)
		return cfg, nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, WebSocket feed and metrics endpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(ctx)
		},
	})

	var menuPath string
	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply schema migrations, sync taxes and optionally seed the menu",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return app.Migrate(cmd.Context(), cfg, menuPath)
		},
	}
	migrate.Flags().StringVar(&menuPath, "menu", "", "YAML menu file to upsert")
	cmd.AddCommand(migrate)

	cmd.AddCommand(&cobra.Command{
		Use:   "notification-subscriber",
		Short: "Tail realtime events from RabbitMQ and log them",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			if !cfg.RabbitMQ.Enabled {
				return fmt.Errorf("rabbitmq is disabled, set RABBITMQ_ENABLED=true")
			}
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()
			lg := logger.New("notification-subscriber")
			lg.Info("service_started", map[string]any{"host": cfg.RabbitMQ.Host})
			err = app.Subscribe(ctx, cfg)
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("restaurant-pos %s (build: %s)\n", Version, BuildTime)
		},
	})
	return cmd
}
