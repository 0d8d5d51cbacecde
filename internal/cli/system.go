package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haulmark/haulmark/internal/anchor"
	"github.com/haulmark/haulmark/internal/backup"
	"github.com/haulmark/haulmark/internal/config"
	"github.com/haulmark/haulmark/internal/ledger"
	"github.com/haulmark/haulmark/internal/ledger/devledger"
	"github.com/haulmark/haulmark/internal/reconcile"
	"github.com/haulmark/haulmark/internal/schema"
	"github.com/haulmark/haulmark/internal/store"
)

// system holds everything a command needs, wired from config: the
// compiled schemas, the local store, the retry-wrapped ledger client,
// the write-path orchestrator, and the reconciliation engine.
type system struct {
	cfg       config.Config
	registry  *schema.Registry
	store     *store.Store
	ledger    ledger.Client
	orch      *anchor.Orchestrator
	reconcile *reconcile.Engine

	closers []func() error
}

// openSystem wires the full system from the --config file (or
// defaults). Callers must Close.
func openSystem(opts *RootOptions) (*system, error) {
	cfg := config.Default()
	if opts.Config != "" {
		var err error
		cfg, err = config.Load(opts.Config)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "load config", err)
		}
	}

	logLevel := slog.LevelWarn
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	registry, err := schema.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load entity schemas", err)
	}

	sys := &system{cfg: cfg, registry: registry}

	st, err := store.Open(cfg.DBPath, registry)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "open store", err)
	}
	sys.store = st
	sys.closers = append(sys.closers, st.Close)

	dev, err := devledger.Open(cfg.Ledger.Path)
	if err != nil {
		sys.Close()
		return nil, WrapExitError(ExitCommandError, "open ledger", err)
	}
	sys.closers = append(sys.closers, dev.Close)

	sys.ledger = ledger.WithRetry(dev, ledger.RetryPolicy{
		CallTimeout:    cfg.Ledger.CallTimeout.Std(),
		MaxElapsed:     cfg.Ledger.MaxElapsed.Std(),
		InitialBackoff: cfg.Ledger.InitialBackoff.Std(),
	})

	orchOpts := []anchor.Option{anchor.WithLogger(log)}
	if cfg.Backup.Enabled {
		cas, err := backup.NewLocalCAS(cfg.Backup.Dir)
		if err != nil {
			sys.Close()
			return nil, WrapExitError(ExitCommandError, "open backup directory", err)
		}
		orchOpts = append(orchOpts, anchor.WithBackup(cas))
	}
	sys.orch = anchor.New(registry, sys.ledger, st, orchOpts...)

	sys.reconcile = reconcile.New(registry, sys.ledger,
		reconcile.WithMaxInFlight(cfg.Reconcile.MaxInFlight),
		reconcile.WithLogger(log),
	)

	return sys, nil
}

// Close waits for in-flight backups and releases store and ledger.
func (s *system) Close() {
	if s.orch != nil {
		s.orch.Wait()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		_ = s.closers[i]()
	}
	s.closers = nil
}

// formatter builds the OutputFormatter for a command.
func formatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
