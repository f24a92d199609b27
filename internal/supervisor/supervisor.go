// Package supervisor runs the node daemon: it attaches to one left over from a
// previous run or spawns a fresh one, starts power scheduling once the daemon
// answers RPC, and shuts it down with escalation to a forced kill.
package supervisor

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/monitor"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/power"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/rpc"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/store"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/errors"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/fsm"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/logger"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/observe"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/protocol"
	"github.com/spf13/afero"
)

// Lifecycle events.
const (
	evStart   fsm.Event = "start"
	evAttach  fsm.Event = "attach"
	evSpawned fsm.Event = "spawned"
	evFail    fsm.Event = "fail"
	evStop    fsm.Event = "stop"
	evStopped fsm.Event = "stopped"
	evExited  fsm.Event = "exited"
	evLost    fsm.Event = "lost"
)

// Deps are the collaborators a Supervisor is built from.
type Deps struct {
	FS       afero.Fs
	Launcher Launcher
	Daemon   rpc.Daemon
	Prefs    *store.Preferences
	Signals  *power.Signals
	Log      logger.Logger
}

// Supervisor owns one daemon process and the power components bound to it.
type Supervisor struct {
	cfg      *protocol.Config
	fs       afero.Fs
	launcher Launcher
	daemon   rpc.Daemon
	prefs    *store.Preferences
	signals  *power.Signals
	log      logger.Logger

	// Overridable in tests.
	pidAlive func(pid int) bool
	killPid  func(pid int) error

	fsm     *fsm.StateMachine
	state   *observe.Value[consts.ProcessState]
	lastErr *observe.Value[error]

	mu        sync.Mutex
	lock      *flock.Flock
	proc      Process
	runCancel context.CancelFunc
	gate      *power.NetworkGate
	sched     *power.Scheduler
	saver     *power.BatterySaver
}

func New(cfg *protocol.Config, d Deps) *Supervisor {
	if d.FS == nil {
		d.FS = afero.NewOsFs()
	}
	if d.Log == nil {
		d.Log = logger.Log
	}
	if d.Signals == nil {
		d.Signals = power.NewSignals()
	}
	s := &Supervisor{
		cfg:      cfg,
		fs:       d.FS,
		launcher: d.Launcher,
		daemon:   d.Daemon,
		prefs:    d.Prefs,
		signals:  d.Signals,
		log:      d.Log.With("component", "supervisor"),
		pidAlive: pidAlive,
		killPid:  killPid,
		fsm:      fsm.New(fsm.State(consts.StateNotStarted)),
		state:    observe.NewValue(consts.StateNotStarted),
		lastErr:  observe.NewValue[error](nil),
		lock:     flock.New(filepath.Join(cfg.Node.DataDir, consts.SupervisorLockFile)),
	}
	if s.launcher == nil {
		s.launcher = NewExecLauncher(d.Log)
	}
	s.setupFSM()
	monitor.ObserveProcess(consts.StateNotStarted)
	return s
}

func (s *Supervisor) setupFSM() {
	st := func(p consts.ProcessState) fsm.State { return fsm.State(p) }

	for _, from := range []consts.ProcessState{consts.StateNotStarted, consts.StateStopped, consts.StateError} {
		s.fsm.AddTransition(st(from), st(consts.StateStarting), evStart, nil)
		s.fsm.AddTransition(st(from), st(consts.StateAttached), evAttach, nil)
	}
	s.fsm.AddTransition(st(consts.StateStarting), st(consts.StateRunning), evSpawned, nil)
	s.fsm.AddTransition(st(consts.StateStarting), st(consts.StateError), evFail, nil)

	s.fsm.AddTransition(st(consts.StateRunning), st(consts.StateStopping), evStop, nil)
	s.fsm.AddTransition(st(consts.StateAttached), st(consts.StateStopping), evStop, nil)
	s.fsm.AddTransition(st(consts.StateStopping), st(consts.StateStopped), evStopped, nil)

	s.fsm.AddTransition(st(consts.StateRunning), st(consts.StateStopped), evExited, nil)
	s.fsm.AddTransition(st(consts.StateAttached), st(consts.StateStopped), evLost, nil)

	s.fsm.OnTransition(func(from, to fsm.State, event fsm.Event) {
		s.log.Info("Lifecycle transition", "from", from, "to", to, "event", event)
		s.state.Set(consts.ProcessState(to))
		monitor.ObserveProcess(consts.ProcessState(to))
	})
}

// State is the observable lifecycle state.
func (s *Supervisor) State() *observe.Value[consts.ProcessState] { return s.state }

// LastError is the most recent failure surfaced to observers: a spawn failure
// or a lost daemon.
func (s *Supervisor) LastError() *observe.Value[error] { return s.lastErr }

// Signals are the platform inputs shared with the power components.
func (s *Supervisor) Signals() *power.Signals { return s.signals }

// Scheduler returns the active power scheduler, or nil while the daemon is
// not ready.
func (s *Supervisor) Scheduler() *power.Scheduler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sched
}

// BatterySaver returns the active battery saver, or nil while the daemon is
// not ready.
func (s *Supervisor) BatterySaver() *power.BatterySaver {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saver
}

// Start attaches to a live daemon left from a previous run or launches a new
// one. A spawn failure leaves the supervisor in ERROR and is not retried.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.fsm.Can(evStart) {
		return errors.New(errors.ErrCodeInvalidState, "start", fmt.Sprintf("cannot start from %s", s.fsm.Current()), nil)
	}
	locked, err := s.lock.TryLock()
	if err != nil {
		return errors.New(errors.ErrCodeLockHeld, "start", "cannot take supervisor lock", err)
	}
	if !locked {
		return errors.New(errors.ErrCodeLockHeld, "start", "another supervisor owns "+s.cfg.Node.DataDir, nil)
	}

	if daemonLockPresent(s.fs, s.cfg.Node.DataDir) {
		err := s.probe(ctx)
		if err == nil {
			return s.attachLocked(ctx)
		}
		s.log.Info("Daemon lock is stale, launching fresh", "err", err)
	}
	return s.launchLocked(ctx)
}

func (s *Supervisor) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Supervisor.ProbeTimeout)
	defer cancel()
	_, err := s.daemon.GetBlockchainInfo(ctx)
	return err
}

func (s *Supervisor) attachLocked(ctx context.Context) error {
	if err := s.fsm.Fire(evAttach); err != nil {
		s.unlockFile()
		return err
	}
	s.lastErr.Set(nil)
	s.markRunning(ctx)

	runCtx := s.newRunLocked()
	s.startPowerLocked(runCtx)
	go s.poll(runCtx)
	return nil
}

func (s *Supervisor) launchLocked(ctx context.Context) error {
	if err := s.fsm.Fire(evStart); err != nil {
		s.unlockFile()
		return err
	}

	proc, err := s.launcher.Launch(ctx, s.launchSpec())
	if err != nil {
		spawnErr := errors.New(errors.ErrCodeSpawnFailed, "start", "cannot launch daemon", err)
		s.lastErr.Set(spawnErr)
		s.log.Error("Daemon launch failed", "err", err)
		_ = s.fsm.Fire(evFail)
		s.unlockFile()
		return spawnErr
	}

	s.proc = proc
	s.lastErr.Set(nil)
	_ = s.fsm.Fire(evSpawned)
	s.markRunning(ctx)
	s.log.Info("Daemon launched", "pid", proc.Pid())

	runCtx := s.newRunLocked()
	go s.watchExit(runCtx, proc)
	go s.awaitReady(runCtx)
	go s.poll(runCtx)
	return nil
}

func (s *Supervisor) launchSpec() LaunchSpec {
	n := s.cfg.Node
	args := []string{"-datadir=" + n.DataDir}
	if n.ConfPath != "" {
		args = append(args, "-conf="+n.ConfPath)
	}
	args = append(args, n.ExtraArgs...)

	env := append([]string(nil), n.Env...)
	if n.LibraryPath != "" {
		env = append(env, n.LibraryPathEnv+"="+n.LibraryPath)
	}
	return LaunchSpec{Binary: n.BinaryPath, Args: args, Env: env}
}

func (s *Supervisor) markRunning(ctx context.Context) {
	if err := s.prefs.SetNodeWasRunning(ctx, true); err != nil {
		s.log.Warn("Cannot persist run flag", "err", err)
	}
}

func (s *Supervisor) newRunLocked() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	s.runCancel = cancel
	return ctx
}

// awaitReady starts power scheduling once the spawned daemon answers RPC.
func (s *Supervisor) awaitReady(ctx context.Context) {
	t := time.NewTicker(s.cfg.Supervisor.ReadinessInterval)
	defer t.Stop()
	for {
		if _, err := s.daemon.GetBlockchainInfo(ctx); err == nil {
			break
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || !s.fsm.Is(fsm.State(consts.StateRunning)) {
		return
	}
	s.log.Info("Daemon RPC ready")
	s.startPowerLocked(ctx)
}

func (s *Supervisor) startPowerLocked(ctx context.Context) {
	cfg := s.cfg
	s.gate = power.NewNetworkGate(s.daemon, s.log)
	auto := power.NewAutoDetector(s.signals, cfg.Scheduler.LowBatteryPercent)
	s.sched = power.NewScheduler(cfg.Scheduler, s.daemon, s.gate, s.prefs, auto, s.log)
	s.saver = power.NewBatterySaver(s.gate, s.signals, s.prefs, cfg.BatterySaver.ThresholdPercent, s.log)
	s.sched.Start(ctx)
	s.saver.Start(ctx)
}

// releasePowerLocked drops the power components without sending any RPC.
func (s *Supervisor) releasePowerLocked() {
	if s.sched != nil {
		s.sched.Close()
		s.sched = nil
	}
	if s.saver != nil {
		s.saver.Close()
		s.saver = nil
	}
	s.gate = nil
}

// watchExit turns an exit nobody asked for into STOPPED plus LastError.
func (s *Supervisor) watchExit(ctx context.Context, proc Process) {
	select {
	case <-ctx.Done():
		return
	case <-proc.Done():
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if ctx.Err() != nil || !s.fsm.Can(evExited) {
		return
	}
	s.log.Error("Daemon exited", "err", proc.Err())
	s.lostLocked(evExited, errors.New(errors.ErrCodeLivenessLost, "supervise", "daemon exited unexpectedly", proc.Err()))
}

// poll re-asserts the gate and, for an attached daemon, checks it is still alive.
func (s *Supervisor) poll(ctx context.Context) {
	t := time.NewTicker(s.cfg.Supervisor.LivenessInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}

		if s.fsm.Is(fsm.State(consts.StateAttached)) {
			if err := s.probe(ctx); err != nil {
				s.mu.Lock()
				if ctx.Err() == nil && s.fsm.Can(evLost) {
					s.log.Error("Attached daemon stopped answering", "err", err)
					s.lostLocked(evLost, errors.New(errors.ErrCodeLivenessLost, "supervise", "attached daemon lost", err))
				}
				s.mu.Unlock()
				return
			}
		}

		s.mu.Lock()
		gate := s.gate
		s.mu.Unlock()
		if gate != nil {
			gate.Reconcile(ctx)
		}
	}
}

// lostLocked records why the daemon went away on its own, moves to STOPPED and
// releases the run. LastError is set first so observers of STOPPED see it.
func (s *Supervisor) lostLocked(ev fsm.Event, cause error) {
	s.lastErr.Set(cause)
	if s.fsm.Fire(ev) != nil {
		return
	}
	s.runCancel()
	s.releasePowerLocked()
	s.proc = nil
	s.unlockFile()
}

// Stop shuts the daemon down for good and clears the restart flag.
func (s *Supervisor) Stop(ctx context.Context) error {
	if err := s.prefs.SetNodeWasRunning(ctx, false); err != nil {
		s.log.Warn("Cannot persist run flag", "err", err)
	}
	return s.shutdown(ctx)
}

// Shutdown stops the daemon but keeps the restart flag, so the next boot
// can bring it back.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	return s.shutdown(ctx)
}

func (s *Supervisor) shutdown(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.fsm.Fire(evStop) != nil {
		return nil
	}
	if s.runCancel != nil {
		s.runCancel()
	}
	s.releasePowerLocked()

	if err := s.daemon.Stop(ctx); err != nil {
		s.log.Warn("RPC stop failed, waiting before forcing", "err", err)
	}
	if !s.waitGone(ctx) {
		s.log.Warn("Daemon ignored stop, killing", "timeout", s.cfg.Supervisor.ShutdownTimeout)
		s.forceKill()
	}

	s.proc = nil
	_ = s.fsm.Fire(evStopped)
	s.unlockFile()
	return nil
}

// waitGone polls until the daemon is gone or the shutdown timeout passes.
func (s *Supervisor) waitGone(ctx context.Context) bool {
	deadline := time.NewTimer(s.cfg.Supervisor.ShutdownTimeout)
	defer deadline.Stop()
	t := time.NewTicker(s.cfg.Supervisor.StopPollInterval)
	defer t.Stop()
	for {
		if !s.aliveLocked(ctx) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-t.C:
		}
	}
}

func (s *Supervisor) aliveLocked(ctx context.Context) bool {
	if s.proc != nil {
		return !exited(s.proc)
	}
	if pid := readPid(s.fs, s.cfg.Node.DataDir); pid > 0 {
		return s.pidAlive(pid)
	}
	return s.probe(ctx) == nil
}

func (s *Supervisor) forceKill() {
	if s.proc != nil {
		if err := s.proc.Kill(); err != nil {
			s.log.Error("Kill failed", "pid", s.proc.Pid(), "err", err)
		}
		return
	}
	pid := readPid(s.fs, s.cfg.Node.DataDir)
	if pid == 0 {
		s.log.Error("Cannot kill attached daemon, no pid file")
		return
	}
	if err := s.killPid(pid); err != nil {
		s.log.Error("Kill failed", "pid", pid, "err", err)
	}
}

func (s *Supervisor) unlockFile() {
	if err := s.lock.Unlock(); err != nil {
		s.log.Warn("Cannot release supervisor lock", "err", err)
	}
}

// Personal.AI order the ending
