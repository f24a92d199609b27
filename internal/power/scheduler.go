package power

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/monitor"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/rpc"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/store"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/errors"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/logger"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/observe"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/protocol"
)

// job is the single background task a Scheduler owns.
type job struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Scheduler owns the power mode and the one active job that carries it out.
//
// Every transition runs under mu and follows the same order: cancel the
// current job, wait for it to exit, publish IDLE, start the next job. Jobs
// never take mu, so waiting under it is safe.
type Scheduler struct {
	cfg   protocol.SchedulerConfig
	chain rpc.Chain
	gate  *NetworkGate
	prefs *store.Preferences
	auto  *AutoDetector
	log   logger.Logger

	root    context.Context
	cancel  context.CancelFunc
	running atomic.Int32
	peak    atomic.Int32

	mu           sync.Mutex
	closed       bool
	job          *job
	sessions     map[string]struct{}
	holding      bool
	indicatorGen uint64
	autoGen      uint64
	autoStop     context.CancelFunc

	mode   *observe.Value[consts.PowerMode]
	burst  *observe.Value[BurstStatus]
	wallet *observe.Value[bool]
	autoOn *observe.Value[bool]
}

// NewScheduler builds a Scheduler. auto may be nil when the platform cannot
// report connectivity, in which case auto mode only persists the flag.
func NewScheduler(cfg protocol.SchedulerConfig, chain rpc.Chain, gate *NetworkGate, prefs *store.Preferences, auto *AutoDetector, log logger.Logger) *Scheduler {
	root, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		chain:    chain,
		gate:     gate,
		prefs:    prefs,
		auto:     auto,
		log:      log.With("component", "scheduler"),
		root:     root,
		cancel:   cancel,
		sessions: make(map[string]struct{}),
		mode:     observe.NewValue(consts.ModeMax),
		burst:    observe.NewValue(BurstStatus{State: consts.BurstIdle}),
		wallet:   observe.NewValue(false),
		autoOn:   observe.NewValue(false),
	}
}

func (s *Scheduler) Mode() *observe.Value[consts.PowerMode] { return s.mode }
func (s *Scheduler) Burst() *observe.Value[BurstStatus] { return s.burst }
func (s *Scheduler) WalletConnected() *observe.Value[bool] { return s.wallet }
func (s *Scheduler) AutoEnabled() *observe.Value[bool] { return s.autoOn }

// Start applies the persisted mode and resumes auto detection if it was on.
func (s *Scheduler) Start(ctx context.Context) {
	mode := s.prefs.Mode(ctx)
	autoOn := s.prefs.AutoEnabled(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.log.Info("Scheduler starting", "mode", mode, "auto", autoOn)
	s.publishMode(mode)
	s.autoOn.Set(autoOn)
	s.applyLocked()
	if autoOn {
		s.followAutoLocked()
	}
}

// SetMode switches the power mode. Manual changes are remembered so that
// disabling auto mode can restore them.
func (s *Scheduler) SetMode(ctx context.Context, mode consts.PowerMode, isAuto bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setModeLocked(ctx, mode, isAuto)
}

func (s *Scheduler) setModeLocked(ctx context.Context, mode consts.PowerMode, isAuto bool) error {
	if s.closed {
		return errors.New(errors.ErrCodeInvalidState, "set_mode", "scheduler is closed", nil)
	}
	if err := s.prefs.SetMode(ctx, mode); err != nil {
		s.log.Error("Cannot persist power mode", "mode", mode, "err", err)
	}
	if !isAuto {
		if err := s.prefs.SetLastManualMode(ctx, mode); err != nil {
			s.log.Error("Cannot persist manual mode", "mode", mode, "err", err)
		}
	}
	s.log.Info("Power mode set", "mode", mode, "auto", isAuto)
	s.publishMode(mode)

	s.holding = len(s.sessions) > 0 && mode != consts.ModeMax
	switch {
	case s.holding:
		s.indicatorGen++
		s.wallet.Set(true)
	case mode == consts.ModeMax:
		s.indicatorGen++
		s.wallet.Set(false)
	}
	s.applyLocked()
	return nil
}

// SetAutoEnabled turns automatic mode selection on or off. Turning it off
// restores the last manually chosen mode.
func (s *Scheduler) SetAutoEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New(errors.ErrCodeInvalidState, "set_auto", "scheduler is closed", nil)
	}
	if err := s.prefs.SetAutoEnabled(ctx, enabled); err != nil {
		s.log.Error("Cannot persist auto mode flag", "enabled", enabled, "err", err)
	}
	s.autoOn.Set(enabled)
	if enabled {
		if s.autoStop == nil {
			s.followAutoLocked()
		}
		return nil
	}
	s.stopAutoLocked()
	return s.setModeLocked(ctx, s.prefs.LastManualMode(ctx), false)
}

// TriggerBurst starts a burst now instead of waiting for the next one. It
// reports false when ignored: in MAX, while a wallet holds networking, or
// while a burst is already syncing.
func (s *Scheduler) TriggerBurst() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.holding || s.mode.Get() == consts.ModeMax || s.burst.Get().State == consts.BurstSyncing {
		return false
	}
	s.log.Info("Burst triggered")
	s.applyLocked()
	return true
}

// Close stops the active job and auto detection. Networking is left as is.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.stopAutoLocked()
	s.cancelJobLocked()
	s.indicatorGen++
	s.cancel()
	s.publishBurst(BurstStatus{State: consts.BurstIdle})
}

func (s *Scheduler) applyLocked() {
	s.cancelJobLocked()
	s.publishBurst(BurstStatus{State: consts.BurstIdle})

	mode := s.mode.Get()
	holding := s.holding
	switch {
	case mode == consts.ModeMax:
		s.startJobLocked(func(ctx context.Context) error {
			s.gate.Resume(ctx)
			return nil
		})
	case holding:
		s.startJobLocked(func(ctx context.Context) error {
			s.gate.Hold(ctx, true)
			return nil
		})
	default:
		b := &burstJob{
			chain:    s.chain,
			gate:     s.gate,
			status:   s.burst,
			log:      s.log.With("mode", mode),
			interval: s.interval(mode),
			timeout:  s.cfg.BurstTimeout,
			poll:     s.cfg.SyncPollInterval,
		}
		s.startJobLocked(b.run)
	}
}

func (s *Scheduler) interval(mode consts.PowerMode) time.Duration {
	if mode == consts.ModeAway {
		return s.cfg.AwayInterval
	}
	return s.cfg.LowInterval
}

func (s *Scheduler) startJobLocked(fn func(context.Context) error) {
	ctx, cancel := context.WithCancel(s.root)
	j := &job{cancel: cancel, done: make(chan struct{})}
	s.job = j

	n := s.running.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}

	go func() {
		defer close(j.done)
		defer s.running.Add(-1)
		if err := fn(ctx); err != nil && !stderrors.Is(err, context.Canceled) {
			s.log.Warn("Job ended", "err", err)
		}
	}()
}

// cancelJobLocked returns once the previous job has fully exited, so its
// last RPC always lands before the next job's first one.
func (s *Scheduler) cancelJobLocked() {
	if s.job == nil {
		return
	}
	s.job.cancel()
	<-s.job.done
	s.job = nil
}

func (s *Scheduler) followAutoLocked() {
	if s.auto == nil {
		return
	}
	s.autoGen++
	gen := s.autoGen
	ctx, cancel := context.WithCancel(s.root)
	s.autoStop = cancel
	suggestions := s.auto.Watch(ctx)

	go func() {
		for m := range suggestions {
			s.mu.Lock()
			if gen == s.autoGen && m != s.mode.Get() {
				s.log.Info("Auto mode suggestion", "mode", m)
				_ = s.setModeLocked(s.root, m, true)
			}
			s.mu.Unlock()
		}
	}()
}

func (s *Scheduler) stopAutoLocked() {
	s.autoGen++
	if s.autoStop != nil {
		s.autoStop()
		s.autoStop = nil
	}
}

func (s *Scheduler) publishMode(m consts.PowerMode) {
	s.mode.Set(m)
	monitor.ObserveMode(m)
}

func (s *Scheduler) publishBurst(b BurstStatus) {
	s.burst.Set(b)
	var next int64
	if !b.NextBurstAt.IsZero() {
		next = b.NextBurstAt.Unix()
	}
	monitor.ObserveBurst(b.State, next)
}

// activeJobs and peakJobs expose the job counters to tests.
func (s *Scheduler) activeJobs() int32 { return s.running.Load() }
func (s *Scheduler) peakJobs() int32 { return s.peak.Load() }

// Personal.AI order the ending
