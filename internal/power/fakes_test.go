package power

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/rpc"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/store"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/logger"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/protocol"
)

var errOffline = stderrors.New("connection refused")

// fakeDaemon records every accepted setnetworkactive call.
type fakeDaemon struct {
	mu      sync.Mutex
	calls   []bool
	failNet bool
	info    rpc.BlockchainInfo
	infoErr error
}

func (f *fakeDaemon) SetNetworkActive(ctx context.Context, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNet {
		return errOffline
	}
	f.calls = append(f.calls, on)
	return nil
}

func (f *fakeDaemon) GetBlockchainInfo(ctx context.Context) (*rpc.BlockchainInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.infoErr != nil {
		return nil, f.infoErr
	}
	info := f.info
	return &info, nil
}

func (f *fakeDaemon) setSynced(synced bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if synced {
		f.info = rpc.BlockchainInfo{Blocks: 100, Headers: 100, VerificationProgress: 1}
	} else {
		f.info = rpc.BlockchainInfo{Blocks: 10, Headers: 100, VerificationProgress: 0.5}
	}
}

func (f *fakeDaemon) setFail(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failNet = fail
}

func (f *fakeDaemon) snapshot() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.calls...)
}

func (f *fakeDaemon) last() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return false, false
	}
	return f.calls[len(f.calls)-1], true
}

func testSchedulerConfig() protocol.SchedulerConfig {
	return protocol.SchedulerConfig{
		LowInterval:        time.Minute,
		AwayInterval:       2 * time.Minute,
		BurstTimeout:       200 * time.Millisecond,
		SyncPollInterval:   10 * time.Millisecond,
		WalletIndicatorTTL: 50 * time.Millisecond,
		LowBatteryPercent:  20,
	}
}

type harness struct {
	daemon  *fakeDaemon
	gate    *NetworkGate
	prefs   *store.Preferences
	signals *Signals
	sched   *Scheduler
}

func newHarness(t *testing.T, cfg protocol.SchedulerConfig) *harness {
	t.Helper()
	d := &fakeDaemon{}
	d.setSynced(true)
	gate := NewNetworkGate(d, logger.Discard())
	prefs := store.NewPreferences(store.NewMemory())
	signals := NewSignals()
	s := NewScheduler(cfg, d, gate, prefs, NewAutoDetector(signals, cfg.LowBatteryPercent), logger.Discard())
	t.Cleanup(s.Close)
	return &harness{daemon: d, gate: gate, prefs: prefs, signals: signals, sched: s}
}
