package orchestrator

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/feed"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/rpc"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/store"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/supervisor"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/errors"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/logger"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/protocol"
	"github.com/spf13/afero"
)

// Options replace the production collaborators, mainly for tests.
type Options struct {
	FS       afero.Fs
	KV       store.KV            // Default: SQLite at cfg.Store.Path
	Daemon   rpc.Daemon          // Default: JSON-RPC client from cfg.RPC
	Launcher supervisor.Launcher // Default: os/exec
	Log      logger.Logger
}

// Engine wires the store, RPC client, supervisor and signal feed together and
// runs them until a stop signal or the daemon going away.
type Engine struct {
	cfg    *protocol.Config
	log    logger.Logger
	prefs  *store.Preferences
	sup    *supervisor.Supervisor
	feed   *feed.Server
	closer []func() error
}

func NewEngine(cfg *protocol.Config, opts Options) (*Engine, error) {
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.Log == nil {
		opts.Log = logger.Log
	}
	e := &Engine{cfg: cfg, log: opts.Log.With("component", "engine")}

	if opts.KV == nil {
		if err := opts.FS.MkdirAll(filepath.Dir(cfg.Store.Path), 0o700); err != nil {
			return nil, errors.New(errors.ErrCodeStoreFailed, "NewEngine", "cannot create data dir", err)
		}
		db, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		opts.KV = db
		e.closer = append(e.closer, db.Close)
	}
	if opts.Daemon == nil {
		client := rpc.New(cfg.RPC, opts.FS)
		opts.Daemon = client
		e.closer = append(e.closer, client.Close)
	}

	e.prefs = store.NewPreferences(opts.KV)
	e.sup = supervisor.New(cfg, supervisor.Deps{
		FS:       opts.FS,
		Launcher: opts.Launcher,
		Daemon:   opts.Daemon,
		Prefs:    e.prefs,
		Log:      opts.Log,
	})

	if cfg.Feed.Enabled {
		router := &feed.Router{
			Signals:      e.sup.Signals(),
			Prefs:        e.prefs,
			Scheduler:    e.sup.Scheduler,
			BatterySaver: e.sup.BatterySaver,
			Log:          opts.Log,
		}
		e.feed = feed.NewServer(cfg.Feed.SocketPath, router, opts.Log)
	}
	return e, nil
}

func (e *Engine) Supervisor() *supervisor.Supervisor { return e.sup }
func (e *Engine) Preferences() *store.Preferences { return e.prefs }

// Run starts the daemon and blocks. SIGHUP forces a sync burst; SIGINT and
// SIGTERM (or ctx) shut the daemon down but keep it flagged for restart.
// When the daemon stops by itself Run returns the surfaced error.
func (e *Engine) Run(ctx context.Context) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	return e.run(ctx, sigCh)
}

func (e *Engine) run(ctx context.Context, sigCh <-chan os.Signal) error {
	defer e.close()

	// The supervisor lock decides which instance owns the data dir, and with
	// it the feed socket.
	if err := e.sup.Start(ctx); err != nil {
		return err
	}
	if e.feed != nil {
		if err := e.feed.Start(ctx); err != nil {
			e.shutdown()
			return errors.New(errors.ErrCodeConfigInvalid, "Run", "cannot open signal feed", err)
		}
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	states := e.sup.State().Subscribe(watchCtx)

	for {
		select {
		case <-ctx.Done():
			e.log.Info("Context done, shutting down")
			return e.shutdown()
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				e.log.Info("Signal: SIGHUP received, triggering burst")
				if s := e.sup.Scheduler(); s != nil {
					s.TriggerBurst()
				}
				continue
			}
			e.log.Info("Signal: stop received, shutting down", "signal", sig)
			return e.shutdown()
		case st := <-states:
			if st == consts.StateStopped || st == consts.StateError {
				err := e.sup.LastError().Get()
				e.log.Error("Daemon is gone", "state", st, "err", err)
				return err
			}
		}
	}
}

func (e *Engine) shutdown() error {
	return e.sup.Shutdown(context.Background())
}

func (e *Engine) close() {
	if e.feed != nil {
		e.feed.Close()
	}
	for i := len(e.closer) - 1; i >= 0; i-- {
		if err := e.closer[i](); err != nil {
			e.log.Warn("Close failed", "err", err)
		}
	}
}

// Personal.AI order the ending
