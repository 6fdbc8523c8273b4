package cli

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/d70-t/how-to-eurec4a/internal/logger"
	"github.com/d70-t/how-to-eurec4a/pkg/api"
)

const shutdownTimeout = 30 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:           "serve",
		Short:         "Serve the HTTP API",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(rootOpts, listen, cmd)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from configuration)")

	return cmd
}

func runServe(opts *RootOptions, listen string, cmd *cobra.Command) error {
	svc, log, err := opts.service()
	if err != nil {
		return err
	}
	defer svc.Close()

	cfg := opts.Config
	if listen == "" {
		listen = cfg.Server.ListenAddr
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(listen, svc, cfg.Server.Timeout, log.WithComponent("api"))

	errc := make(chan error, 1)
	go func() {
		log.WithFields(logger.Fields{
			"listen":   listen,
			"catalog":  cfg.Catalog.Location,
			"segments": cfg.Segments.Location,
		}).Info("API server listening")
		errc <- server.Start()
	}()

	select {
	case err := <-errc:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return WrapExitError(ExitFailure, "serving", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutdown signal received, stopping server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("Server shutdown error")
		return WrapExitError(ExitFailure, "stopping server", err)
	}
	log.Info("Server stopped successfully")
	return nil
}
