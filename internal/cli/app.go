package cli

import (
	"io"
	"log/slog"

	"github.com/roach88/livechat/internal/chat"
	"github.com/roach88/livechat/internal/config"
	"github.com/roach88/livechat/internal/engine"
	"github.com/roach88/livechat/internal/observability/logging"
	"github.com/roach88/livechat/internal/store"
)

// serviceName labels logs and metrics.
const serviceName = "livechat"

// app is the wired backend shared by serve, exec and commits.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *store.Store
	engine *engine.Engine
}

// loadConfig reads --config and applies the --db override.
func loadConfig(opts *RootOptions, db string) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if db != "" {
		cfg.Store.Path = db
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the process logger. Commands that print results keep
// logs on stderr.
func newLogger(cfg config.Config, out io.Writer) *slog.Logger {
	return logging.NewLogger(logging.Config{
		ServiceName: serviceName,
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Output:      out,
	})
}

// openApp opens the store, builds the engine and registers the chat
// operations. Callers must call close.
func openApp(cfg config.Config, logger *slog.Logger) (*app, error) {
	st, err := store.Open(cfg.Store.Path, chat.Schema(), store.WithReaders(cfg.Store.Readers))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	eng, err := engine.New(st,
		engine.WithWorkers(cfg.Engine.Workers),
		engine.WithHistorySize(cfg.Engine.HistorySize),
		engine.WithMaxObservers(cfg.Engine.MaxObservers),
	)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	if err := chat.Register(eng, cfg.Chat.Policy()); err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to register operations", err)
	}

	logger.Debug("store opened",
		"path", cfg.Store.Path,
		"readers", cfg.Store.Readers,
		"queries", len(eng.Queries()),
		"mutations", len(eng.Mutations()),
	)
	return &app{cfg: cfg, logger: logger, store: st, engine: eng}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("failed to close store", "error", err)
	}
}

// formatter returns the output formatter for a command.
func formatter(opts *RootOptions, out, errOut io.Writer) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    out,
		ErrWriter: errOut,
		Verbose:   opts.Verbose,
	}
}
