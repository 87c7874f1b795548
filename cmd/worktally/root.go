package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"worktally/internal/config"
	"worktally/internal/core"
	"worktally/internal/infra/persistence"
	"worktally/internal/session"
)

// app is the state shared by every subcommand of one invocation.
type app struct {
	cfgPath   string
	traceJSON string
	login     string
	password  string

	cfg      config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	trace    io.WriteCloser
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "worktally",
		Short:         "Administer a worktally time-tracking store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.trace != nil {
				return a.trace.Close()
			}
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringVarP(&a.cfgPath, "config", "c", os.Getenv(config.EnvPrefix+"CONFIG"), "YAML configuration file")
	pf.StringVar(&a.traceJSON, "trace-json", "", "append one JSON line per store operation to this file")
	pf.StringVar(&a.login, "login", "", "authenticate as this account instead of a maintenance class")
	pf.StringVar(&a.password, "password", os.Getenv(config.EnvPrefix+"PASSWORD"), "password for --login")

	root.AddCommand(
		a.initCmd(),
		a.validateCmd(),
		a.statsCmd(),
		a.exportCmd(),
		a.importCmd(),
		a.backupCmd(),
		a.backupsCmd(),
		a.restoreCmd(),
	)
	return root
}

func (a *app) setup(stderr io.Writer) error {
	cfg, err := config.Load(a.cfgPath)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = cfg.Logger(stderr)
	a.registry = prometheus.NewRegistry()
	if a.traceJSON != "" {
		f, err := os.OpenFile(a.traceJSON, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open trace file: %w", err)
		}
		a.trace = f
	}
	return nil
}

func (a *app) openStore(ctx context.Context) (*core.Store, error) {
	components, err := persistence.NewComponents()
	if err != nil {
		return nil, err
	}
	opts := []core.Option{
		core.WithLockTimeout(a.cfg.Storage.LockTimeout),
		core.WithQueueCapacity(a.cfg.Notify.QueueCapacity),
		core.WithOrphanCheck(a.cfg.Storage.OrphanCheck),
		core.WithRegisterer(a.registry),
	}
	if a.trace != nil {
		opts = append(opts, core.WithTracer(core.NewJSONTracer(a.trace)))
	}
	return core.OpenPersistentStore(ctx, components, core.StorageDriver(a.cfg.Storage.Driver), a.cfg.Backend(a.logger), opts...)
}

// credentials prefers --login; otherwise the command's maintenance class.
func (a *app) credentials(fallback session.Credentials) session.Credentials {
	if a.login != "" {
		return session.NewCredentials(a.login, a.password)
	}
	return fallback
}

// withSession opens the store and a session, runs fn, and closes both.
// The store is flushed only when fn succeeds.
func (a *app) withSession(ctx context.Context, fallback session.Credentials, fn func(context.Context, *core.Store, *session.Session) error) (err error) {
	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, store.Close(ctx)) }()
	s, err := session.Open(ctx, store, a.credentials(fallback), nil, session.WithLogger(a.logger))
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, s.Close(ctx)) }()
	if err := fn(ctx, store, s); err != nil {
		return err
	}
	return store.Flush(ctx)
}
