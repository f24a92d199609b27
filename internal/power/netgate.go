package power

import (
	"context"
	"sync"
	"time"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/monitor"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/rpc"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/logger"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/observe"
	"golang.org/x/time/rate"
)

// NetworkGate is the single writer of the daemon's setnetworkactive flag.
//
// Three independent claims feed it and the effective state follows a fixed
// priority: a wallet hold forces networking on, otherwise a battery-saver
// pause forces it off, otherwise the scheduler's base decision applies.
// Every call re-asserts the effective state; the RPC is idempotent.
type NetworkGate struct {
	net rpc.Network
	log logger.Logger

	mu      sync.Mutex
	base    bool
	hold    bool
	pause   bool
	pending bool // last send failed, Reconcile will retry
	warn    rate.Sometimes

	active *observe.Value[bool]
}

// NewNetworkGate builds a gate over net. The daemon starts with networking on.
func NewNetworkGate(net rpc.Network, log logger.Logger) *NetworkGate {
	return &NetworkGate{
		net:    net,
		log:    log.With("component", "netgate"),
		base:   true,
		warn:   rate.Sometimes{First: 3, Interval: time.Minute},
		active: observe.NewValue(true),
	}
}

// Effective is the priority rule: hold > pause > base.
func Effective(base, hold, pause bool) bool {
	if hold {
		return true
	}
	if pause {
		return false
	}
	return base
}

// Active is the last networking state the daemon accepted.
func (g *NetworkGate) Active() *observe.Value[bool] { return g.active }

// SetBase records the scheduler's wish and applies the effective state.
func (g *NetworkGate) SetBase(ctx context.Context, on bool) bool {
	return g.apply(ctx, "base", func() { g.base = on })
}

// Hold records whether a wallet session forces networking on.
func (g *NetworkGate) Hold(ctx context.Context, on bool) bool {
	return g.apply(ctx, "hold", func() { g.hold = on })
}

// Pause records whether the battery saver forces networking off.
func (g *NetworkGate) Pause(ctx context.Context, on bool) bool {
	return g.apply(ctx, "pause", func() { g.pause = on })
}

// Resume turns the scheduler's base on and drops the wallet hold in one send,
// so leaving a hold never flickers networking off.
func (g *NetworkGate) Resume(ctx context.Context) bool {
	return g.apply(ctx, "resume", func() {
		g.base = true
		g.hold = false
	})
}

// Held reports the current wallet hold claim.
func (g *NetworkGate) Held() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.hold
}

// Reconcile re-sends the effective state if the previous send failed.
func (g *NetworkGate) Reconcile(ctx context.Context) bool {
	g.mu.Lock()
	pending := g.pending
	g.mu.Unlock()
	if !pending {
		return true
	}
	return g.apply(ctx, "reconcile", func() {})
}

// apply returns whether the daemon accepted the new effective state.
// A ctx already cancelled on entry leaves the claims untouched and issues
// nothing. Once the RPC is under way the claim is recorded: a cancel landing
// mid-send only marks it pending for Reconcile. Callers that cancel a job and
// wait for it rely on the send having finished before they return.
func (g *NetworkGate) apply(ctx context.Context, claim string, mutate func()) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if ctx.Err() != nil {
		return false
	}
	mutate()
	want := Effective(g.base, g.hold, g.pause)

	if err := g.net.SetNetworkActive(ctx, want); err != nil {
		g.pending = true
		if ctx.Err() != nil {
			return false
		}
		monitor.NetworkRPCFailures.Inc()
		g.warn.Do(func() {
			g.log.Warn("setnetworkactive failed", "claim", claim, "active", want, "err", err)
		})
		return false
	}
	g.pending = false
	g.active.Set(want)
	monitor.NetworkActive.Set(monitor.Bool(want))
	g.log.Debug("Networking applied", "claim", claim, "active", want)
	return true
}

// Personal.AI order the ending
