package cli

import (
	"context"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	eventbus "github.com/hanpama/braid/internal/eventbus"
	"github.com/hanpama/braid/internal/logging"
	"github.com/hanpama/braid/internal/otel"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the composed schema over HTTP",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	cmd.Flags().Bool("debug", false, "development logging")

	cmd.RunE = func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, rootOpts, cmd)
	}
	return cmd
}

func runServe(ctx context.Context, rootOpts *RootOptions, cmd *cobra.Command) error {
	cfg, g, err := rootOpts.gateway(func(v *viper.Viper) error {
		if cmd.Flags().Changed("addr") {
			if err := v.BindPFlag("server.addr", cmd.Flags().Lookup("addr")); err != nil {
				return err
			}
		}
		return v.BindPFlag("debug", cmd.Flags().Lookup("debug"))
	})
	if err != nil {
		return err
	}
	defer g.Close()

	logger, err := logging.New(cfg.Debug)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	eventbus.Use(eventbus.New())
	defer eventbus.Use(nil)
	defer logging.Subscribe(logger)()

	shutdown, err := otel.Setup(ctx, cfg.Tracing.Endpoint, cfg.Tracing.ServiceName)
	if err != nil {
		return err
	}
	defer func() { _ = shutdown(context.Background()) }()

	logger.Info("serving",
		zap.String("addr", cfg.Server.Addr),
		zap.Int("backends", len(cfg.Backends)),
		zap.Int("routes", len(g.Routes())),
	)
	if err := g.Serve(ctx); err != nil {
		logger.Error("server stopped", zap.Error(err))
		return err
	}
	logger.Info("server stopped")
	return nil
}

func configDir(path string) string { return filepath.Dir(path) }
