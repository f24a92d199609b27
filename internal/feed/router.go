package feed

import (
	"context"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/power"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/store"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/logger"
)

// Router is the Sink that drives the power components. Readings always land
// in Signals. Wallet and trigger events are dropped while no scheduler runs;
// preference changes are then only persisted and apply on the next start.
type Router struct {
	Signals      *power.Signals
	Prefs        *store.Preferences
	Scheduler    func() *power.Scheduler
	BatterySaver func() *power.BatterySaver
	Log          logger.Logger
}

func (r *Router) Battery(level int, charging bool) {
	r.Signals.Battery.Set(power.BatteryStatus{Level: level, Charging: charging})
}

func (r *Router) Network(n consts.NetworkType) {
	r.Signals.Network.Set(n)
}

func (r *Router) WalletSession(id string, connected bool) {
	s := r.Scheduler()
	if s == nil {
		return
	}
	if connected {
		s.SessionStarted(id)
	} else {
		s.SessionEnded(id)
	}
}

func (r *Router) Trigger() {
	if s := r.Scheduler(); s != nil {
		s.TriggerBurst()
	}
}

func (r *Router) SetMode(m consts.PowerMode) {
	ctx := context.Background()
	if s := r.Scheduler(); s != nil {
		r.report(s.SetMode(ctx, m, false))
		return
	}
	r.report(r.Prefs.SetMode(ctx, m))
	r.report(r.Prefs.SetLastManualMode(ctx, m))
}

func (r *Router) SetAutoEnabled(on bool) {
	ctx := context.Background()
	if s := r.Scheduler(); s != nil {
		r.report(s.SetAutoEnabled(ctx, on))
		return
	}
	r.report(r.Prefs.SetAutoEnabled(ctx, on))
}

func (r *Router) SetBatterySaverEnabled(on bool) {
	ctx := context.Background()
	if b := r.BatterySaver(); b != nil {
		r.report(b.SetEnabled(ctx, on))
		return
	}
	r.report(r.Prefs.SetBatterySaverEnabled(ctx, on))
}

func (r *Router) report(err error) {
	if err != nil && r.Log != nil {
		r.Log.Warn("Feed command failed", "err", err)
	}
}

// Personal.AI order the ending
