package clientbuilder

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/park285/chesslink/internal/adapter/chesspresenter"
	"github.com/park285/chesslink/internal/adapter/prompt"
	"github.com/park285/chesslink/internal/checkpoint"
	"github.com/park285/chesslink/internal/config"
	"github.com/park285/chesslink/internal/gateway"
	"github.com/park285/chesslink/internal/journal"
	"github.com/park285/chesslink/internal/msgcat"
	"github.com/park285/chesslink/internal/session"
	"github.com/park285/chesslink/internal/supervisor"
	"github.com/park285/chesslink/internal/transport"
)

// IO is the terminal the client talks to.
type IO struct {
	In  io.Reader
	Out io.Writer
}

type Deps struct {
	Config      *config.AppConfig
	Catalog     *msgcat.Catalog
	Presenter   *chesspresenter.Presenter
	Client      *gateway.Client
	Boot        *gateway.Bootstrapper
	Dialer      *transport.WebSocketDialer
	Checkpoints checkpoint.Store
	Journal     journal.Journal
	Input       session.MoveInput
	Supervisor  *supervisor.Supervisor

	closers []func() error
}

// New wires config into Deps. extra notifiers see every event after the
// presenter and recorders.
func New(ctx context.Context, cfg *config.AppConfig, term IO, logger *zap.Logger, extra ...session.Notifier) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Deps{Config: cfg}

	catalog, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("init messages: %w", err)
	}
	d.Catalog = catalog

	var snapshot *chesspresenter.SnapshotWriter
	if strings.TrimSpace(cfg.SnapshotPath) != "" {
		snapshot = &chesspresenter.SnapshotWriter{Path: cfg.SnapshotPath}
	}
	d.Presenter = chesspresenter.NewPresenter(term.Out, chesspresenter.NewFormatter(catalog), snapshot, logger.Named("presenter"))

	d.Client = gateway.NewClient(cfg.BaseURL,
		gateway.WithTimeout(cfg.HTTPTimeout),
		gateway.WithLogger(logger.Named("gateway")),
	)
	d.Boot = gateway.NewBootstrapper(d.Client, cfg.PlayerID, cfg.Password, logger.Named("bootstrap"))
	d.Dialer = &transport.WebSocketDialer{
		DialTimeout:  cfg.DialTimeout,
		PingInterval: cfg.PingInterval,
		Logger:       logger.Named("transport"),
	}

	// Checkpoints (Redis optional)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		store, err := checkpoint.Dial(ctx, cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init checkpoint store: %w", err)
		}
		d.Checkpoints = store
		d.closers = append(d.closers, store.Close)
	} else {
		d.Checkpoints = checkpoint.NewMemoryStore()
	}

	// Journal (Postgres optional)
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		j, err := journal.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("init journal: %w", err)
		}
		d.Journal = j
		d.closers = append(d.closers, j.Close)
	} else {
		d.Journal = journal.NewMemoryJournal()
	}

	d.Input = prompt.NewTerminal(term.In, term.Out, catalog)

	notifier := session.Notifiers{
		d.Presenter,
		checkpoint.NewRecorder(d.Checkpoints, logger.Named("checkpoint")),
		journal.NewRecorder(d.Journal, logger.Named("journal")),
	}
	notifier = append(notifier, extra...)
	d.Supervisor = supervisor.New(SupervisorConfig(cfg), d.Boot, d.Dialer, d.Input, notifier, logger.Named("supervisor"))
	return d, nil
}

// CheckpointsDurable reports whether checkpoints outlive the process.
func (d *Deps) CheckpointsDurable() bool {
	_, mem := d.Checkpoints.(*checkpoint.MemoryStore)
	return !mem
}

// JournalDurable reports whether journaled moves outlive the process.
func (d *Deps) JournalDurable() bool {
	_, mem := d.Journal.(*journal.MemoryJournal)
	return !mem
}

// SupervisorConfig maps the reconnect settings.
func SupervisorConfig(cfg *config.AppConfig) supervisor.Config {
	return supervisor.Config{
		WSURL:       cfg.WSURL,
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff: supervisor.BackoffConfig{
			InitialDelay: cfg.ReconnectDelay,
			Multiplier:   cfg.ReconnectMultiplier,
			MaxDelay:     cfg.ReconnectMaxDelay,
			Jitter:       cfg.ReconnectJitter,
		},
		MaxConsecutiveFaults: cfg.MaxProtocolFaults,
	}
}

// Close releases the stores in reverse order.
func (d *Deps) Close() error {
	if d == nil {
		return nil
	}
	var first error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	d.closers = nil
	return first
}
