package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/five82/backdrop/internal/app"
	"github.com/five82/backdrop/internal/config"
)

// newLogger returns a JSON logger appending to path. The terminal belongs to
// the UI and to command output, so logs never go to stdout.
func newLogger(path string, verbose bool) (*logrus.Logger, func(), error) {
	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.InfoLevel)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	}
	if path == "" {
		log.SetOutput(io.Discard)
		return log, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	log.SetOutput(file)
	return log, func() { _ = file.Close() }, nil
}

// env is what every command needs: config and a logger.
type env struct {
	cfg   config.Config
	log   *logrus.Logger
	close func()
}

func loadEnv(opts *RootOptions) (*env, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitUsage, "load config", err)
	}
	log, closeLog, err := newLogger(cfg.LogPath, opts.Verbose)
	if err != nil {
		return nil, WrapExitError(ExitFailure, "set up logging", err)
	}
	return &env{cfg: cfg, log: log, close: closeLog}, nil
}

type sessionNeeds struct {
	catalog bool
	start   bool
	// adjust edits the loaded config for this run only.
	adjust func(*config.Config)
}

// openSession loads config and builds a session. The returned cleanup
// closes the session and the log file.
func openSession(ctx context.Context, opts *RootOptions, needs sessionNeeds) (*app.Session, func(), error) {
	e, err := loadEnv(opts)
	if err != nil {
		return nil, nil, err
	}
	if needs.adjust != nil {
		needs.adjust(&e.cfg)
	}
	session, err := app.Open(ctx, app.Options{
		Config:    e.cfg,
		Logger:    e.log,
		Docs:      opts.Docs,
		Source:    opts.Source,
		NoCatalog: !needs.catalog,
	})
	if err != nil {
		e.close()
		return nil, nil, WrapExitError(ExitFailure, "open session", err)
	}
	cleanup := func() {
		if err := session.Close(); err != nil {
			e.log.WithError(err).Warn("close session failed")
		}
		e.close()
	}
	if needs.start {
		if err := session.Start(ctx); err != nil {
			cleanup()
			return nil, nil, WrapExitError(ExitFailure, "start session", err)
		}
	}
	return session, cleanup, nil
}

func requireUser(session *app.Session) error {
	if session.UserID == "" {
		return NewExitError(ExitAuth, fmt.Sprintf("no user configured: set user_id in the config or %s", config.EnvUserID))
	}
	return nil
}
