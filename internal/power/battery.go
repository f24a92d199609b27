package power

import (
	"context"
	"sync"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/monitor"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/store"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/logger"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/observe"
)

// BatterySaver pauses networking while the battery is at or below a
// threshold and unplugged. It only ever writes the gate's pause claim.
type BatterySaver struct {
	gate      *NetworkGate
	signals   *Signals
	prefs     *store.Preferences
	threshold int
	log       logger.Logger

	mu      sync.Mutex
	paused  bool
	last    BatteryStatus
	enabled *observe.Value[bool]
	active  *observe.Value[bool]
	stop    context.CancelFunc
	done    chan struct{}
}

func NewBatterySaver(gate *NetworkGate, signals *Signals, prefs *store.Preferences, threshold int, log logger.Logger) *BatterySaver {
	return &BatterySaver{
		gate:      gate,
		signals:   signals,
		prefs:     prefs,
		threshold: threshold,
		last:      signals.Battery.Get(),
		log:       log.With("component", "battery_saver"),
		enabled:   observe.NewValue(false),
		active:    observe.NewValue(false),
	}
}

// Enabled is the persisted user flag.
func (b *BatterySaver) Enabled() *observe.Value[bool] { return b.enabled }

// Active reports whether the saver is currently holding networking off.
func (b *BatterySaver) Active() *observe.Value[bool] { return b.active }

// Start loads the enabled flag and follows battery updates until Close.
func (b *BatterySaver) Start(ctx context.Context) {
	b.enabled.Set(b.prefs.BatterySaverEnabled(ctx))

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stop != nil {
		return
	}
	watchCtx, cancel := context.WithCancel(context.Background())
	b.stop = cancel
	b.done = make(chan struct{})
	updates := b.signals.Battery.Subscribe(watchCtx)

	go func() {
		defer close(b.done)
		for status := range updates {
			b.mu.Lock()
			b.last = status
			b.evaluateLocked(watchCtx)
			b.mu.Unlock()
		}
	}()
}

// SetEnabled persists the flag. Disabling while paused resumes networking.
func (b *BatterySaver) SetEnabled(ctx context.Context, on bool) error {
	if err := b.prefs.SetBatterySaverEnabled(ctx, on); err != nil {
		b.log.Error("Cannot persist battery saver flag", "enabled", on, "err", err)
	}
	b.enabled.Set(on)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.evaluateLocked(ctx)
	return nil
}

// Close stops following the battery. Networking is left as is: the
// supervisor closes the saver while the daemon is stopping or already gone,
// and whoever builds the next gate re-asserts networking from scratch.
func (b *BatterySaver) Close() {
	b.mu.Lock()
	stop, done := b.stop, b.done
	b.stop = nil
	b.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done

	b.mu.Lock()
	defer b.mu.Unlock()
	b.paused = false
	b.active.Set(false)
	monitor.BatterySaverActive.Set(0)
}

func (b *BatterySaver) evaluateLocked(ctx context.Context) {
	low := b.enabled.Get() && b.last.Level <= b.threshold && !b.last.Charging
	switch {
	case low && !b.paused:
		b.log.Info("Battery low, pausing networking", "level", b.last.Level, "threshold", b.threshold)
		b.setPausedLocked(ctx, true)
	case !low && b.paused:
		b.log.Info("Battery saver released", "level", b.last.Level, "charging", b.last.Charging)
		b.setPausedLocked(ctx, false)
	}
}

// setPausedLocked keeps the paused flag in step with the claim the gate holds,
// whatever the RPC outcome; Reconcile retries failed sends.
func (b *BatterySaver) setPausedLocked(ctx context.Context, on bool) {
	if ctx.Err() != nil {
		return
	}
	b.gate.Pause(ctx, on)
	b.paused = on
	b.active.Set(on)
	monitor.BatterySaverActive.Set(monitor.Bool(on))
}

// Personal.AI order the ending
