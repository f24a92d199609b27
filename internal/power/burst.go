package power

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/monitor"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/rpc"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/errors"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/logger"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/observe"
)

var errNetworkRefused = stderrors.New("daemon refused to enable networking")

// burstJob runs connect, sync-or-timeout, disconnect, sleep, forever.
type burstJob struct {
	chain    rpc.Chain
	gate     *NetworkGate
	status   *observe.Value[BurstStatus]
	log      logger.Logger
	interval time.Duration
	timeout  time.Duration
	poll     time.Duration
}

// run only ever returns the context error. Burst failures are logged and the
// next scheduled burst retries.
func (j *burstJob) run(ctx context.Context) error {
	for {
		if err := j.burst(ctx); err != nil && ctx.Err() == nil {
			j.log.Warn("Burst failed, retrying on next schedule", "err", err, "interval", j.interval)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		next := time.Now().Add(j.interval)
		j.status.Set(BurstStatus{State: consts.BurstWaiting, NextBurstAt: next})
		monitor.ObserveBurst(consts.BurstWaiting, next.Unix())
		if err := sleep(ctx, j.interval); err != nil {
			return err
		}
	}
}

// burst performs one connect/sync/disconnect pass. When ctx is cancelled it
// returns without touching networking: whoever cancelled owns that decision.
func (j *burstJob) burst(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log := j.log.With("burst_id", uuid.NewString())
	started := time.Now()
	j.status.Set(BurstStatus{State: consts.BurstSyncing})
	monitor.ObserveBurst(consts.BurstSyncing, 0)
	log.Info("Burst starting")

	// No hold can be set while a burst job runs, so connecting also drops
	// the one a finished wallet session left behind.
	if !j.gate.Resume(ctx) {
		if err := ctx.Err(); err != nil {
			return err
		}
		j.gate.SetBase(ctx, false)
		monitor.BurstsTotal.WithLabelValues("failed").Inc()
		return errNetworkRefused
	}

	synced, err := j.waitSynced(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	j.gate.SetBase(ctx, false)

	switch {
	case err != nil:
		monitor.BurstsTotal.WithLabelValues("failed").Inc()
		return err
	case synced:
		monitor.BurstsTotal.WithLabelValues("synced").Inc()
		log.Info("Burst synced to tip", "took", time.Since(started))
	default:
		monitor.BurstsTotal.WithLabelValues("timeout").Inc()
		log.Info("Burst timed out before tip", "timeout", j.timeout)
	}
	return nil
}

// waitSynced polls chain progress until synced, timeout (not an error), an
// RPC failure, or cancellation.
func (j *burstJob) waitSynced(ctx context.Context) (bool, error) {
	deadline := time.NewTimer(j.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(j.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-deadline.C:
			return false, nil
		case <-ticker.C:
			info, err := j.chain.GetBlockchainInfo(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return false, ctx.Err()
				}
				return false, errors.New(errors.ErrCodeRPCFailed, "burst", "cannot read chain progress", err)
			}
			if info.Synced() {
				return true, nil
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Personal.AI order the ending
