package cli

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/roach88/tillsync/internal/catalog"
	"github.com/roach88/tillsync/internal/config"
	"github.com/roach88/tillsync/internal/dispatch"
	"github.com/roach88/tillsync/internal/ledger"
	"github.com/roach88/tillsync/internal/logging"
	"github.com/roach88/tillsync/internal/metrics"
	"github.com/roach88/tillsync/internal/outbox"
	"github.com/roach88/tillsync/internal/pos"
	"github.com/roach88/tillsync/internal/store"
)

// app is the wired set of components a command works with.
type app struct {
	cfg     config.Config
	logger  *zap.Logger
	store   *store.Store
	ledger  *ledger.Client // nil when no ledger is configured
	metrics *metrics.Metrics
}

// errNoLedger is returned by submit paths when ledger.base_url is unset.
var errNoLedger = errors.New("ledger.base_url is not configured")

func loadConfig(opts *RootOptions) (config.Config, error) {
	var envFiles []string
	if opts.EnvFile != "" {
		envFiles = []string{opts.EnvFile}
	}
	cfg, err := config.Load(config.Options{Path: opts.ConfigPath, EnvFiles: envFiles})
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, ErrCodeConfig, "load config", err)
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// openApp loads configuration and opens the store. needLedger makes a
// missing ledger configuration an error.
func openApp(opts *RootOptions, needLedger bool) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, ErrCodeConfig, "configure logging", err)
	}

	a := &app{cfg: cfg, logger: logger}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.New(true)
	}

	if cfg.Ledger.BaseURL != "" {
		a.ledger, err = ledger.New(cfg.LedgerClient(), logger.Named("ledger"))
		if err != nil {
			return nil, WrapExitError(ExitCommandError, ErrCodeConfig, "configure ledger", err)
		}
	} else if needLedger {
		return nil, WrapExitError(ExitCommandError, ErrCodeConfig, "ledger required", errNoLedger)
	}

	a.store, err = store.Open(cfg.Database.Path, store.WithRequireOpenShift(cfg.Database.RequireOpenShift))
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, ErrCodeDatabase, "open database", err)
	}
	logger.Debug("database ready", zap.String("path", cfg.Database.Path))
	return a, nil
}

// Close releases everything openApp acquired.
func (a *app) Close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("close database", zap.Error(err))
		}
	}
	if a.ledger != nil {
		a.ledger.Close()
	}
	_ = a.logger.Sync()
}

func (a *app) dispatcher() *dispatch.Dispatcher {
	var sub dispatch.Submitter = offlineSubmitter{}
	if a.ledger != nil {
		sub = a.ledger
	}
	return dispatch.New(a.store, sub,
		dispatch.WithLogger(a.logger.Named("dispatch")),
		dispatch.WithPolicy(a.cfg.Policy()),
		dispatch.WithMetrics(a.metrics),
		dispatch.WithPollInterval(a.cfg.Dispatch.PollInterval.Std()),
	)
}

func (a *app) puller() *catalog.Puller {
	return catalog.NewPuller(a.ledger, a.store, a.cfg.WorkspaceID, a.cfg.Catalog.PageSize, a.logger.Named("catalog"), a.metrics)
}

// offlineSubmitter stands in for the ledger when none is configured. Only
// the manual outbox operations run against it, and they never submit.
type offlineSubmitter struct{}

func (offlineSubmitter) Submit(context.Context, pos.Command) (outbox.Outcome, error) {
	return outbox.NewRetryable("LEDGER_NOT_CONFIGURED", errNoLedger.Error()), nil
}
