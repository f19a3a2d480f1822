package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/roach88/tillsync/internal/api"
	"github.com/roach88/tillsync/internal/catalog"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the local API, the sync dispatcher and scheduled catalog pulls",
		Long: `Run the till service.

Commands left IN_FLIGHT by a previous run are returned to PENDING, then the
dispatcher drains the outbox whenever the API records something new, when a
backoff expires, or on the poll interval. The local API listens on
api.listen and exposes /metrics.

Example:
  tillsync serve --config /etc/tillsync.yaml
  tillsync serve --listen 127.0.0.1:9000 -v`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts, listen)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "override api.listen")
	return cmd
}

func runServe(cmd *cobra.Command, opts *RootOptions, listen string) error {
	a, err := openApp(opts, true)
	if err != nil {
		return err
	}
	defer a.Close()
	if listen == "" {
		listen = a.cfg.API.Listen
	}

	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	d := a.dispatcher()

	if a.cfg.Catalog.Interval > 0 {
		mode, err := catalog.ParseMode(a.cfg.Catalog.Mode)
		if err != nil {
			return WrapExitError(ExitCommandError, ErrCodeConfig, "catalog mode", err)
		}
		sched, err := catalog.NewScheduler(a.puller(), a.cfg.Catalog.Interval.Std(), mode, a.logger.Named("catalog"))
		if err != nil {
			return WrapExitError(ExitCommandError, ErrCodeConfig, "catalog schedule", err)
		}
		sched.Start()
		defer sched.Stop()
	}

	if !opts.Verbose {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := &http.Server{
		Addr:              listen,
		Handler:           api.NewRouter(a.store, d, a.metrics, a.logger.Named("api")),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 2)
	go func() {
		if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errc <- fmt.Errorf("dispatcher: %w", err)
		}
	}()
	go func() {
		a.logger.Info("api listening", zap.String("addr", listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("api: %w", err)
		}
	}()
	fmt.Fprintf(cmd.OutOrStdout(), "tillsync serving on %s. Press Ctrl-C to stop.\n", listen)

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutting down")
	case runErr = <-errc:
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("api shutdown", zap.Error(err))
	}
	if runErr != nil {
		return WrapExitError(ExitFailure, ErrCodeInternal, "serve", runErr)
	}
	return nil
}
