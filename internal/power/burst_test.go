package power

import (
	"context"
	"testing"
	"time"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/logger"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/observe"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBurstJob(d *fakeDaemon, interval time.Duration) *burstJob {
	return &burstJob{
		chain:    d,
		gate:     NewNetworkGate(d, logger.Discard()),
		status:   observe.NewValue(BurstStatus{State: consts.BurstIdle}),
		log:      logger.Discard(),
		interval: interval,
		timeout:  100 * time.Millisecond,
		poll:     10 * time.Millisecond,
	}
}

func TestBurst_CancelMidSyncReturnsCanceled(t *testing.T) {
	d := &fakeDaemon{}
	d.setSynced(false)
	j := newBurstJob(d, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- j.run(ctx) }()

	require.Eventually(t, func() bool { return j.status.Get().State == consts.BurstSyncing && len(d.snapshot()) == 1 }, waitFor, tick)
	cancel()

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("burst did not stop")
	}
	assert.Equal(t, []bool{true}, d.snapshot())
}

func TestBurst_CancelledBeforeStartTouchesNothing(t *testing.T) {
	d := &fakeDaemon{}
	j := newBurstJob(d, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, j.burst(ctx), context.Canceled)
	assert.Empty(t, d.snapshot())
	assert.Equal(t, consts.BurstIdle, j.status.Get().State)
}

func TestBurst_PollFailureDisconnectsAndRetries(t *testing.T) {
	d := &fakeDaemon{infoErr: errOffline}
	j := newBurstJob(d, 30*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.run(ctx)

	require.Eventually(t, func() bool { return len(d.snapshot()) >= 4 }, waitFor, tick)
	assert.Equal(t, []bool{true, false, true, false}, d.snapshot()[:4])
}

func TestBurst_RefusedNetworkKeepsCycling(t *testing.T) {
	d := &fakeDaemon{}
	d.setFail(true)
	j := newBurstJob(d, 20*time.Millisecond)

	err := j.burst(context.Background())
	assert.ErrorIs(t, err, errNetworkRefused)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go j.run(ctx)
	require.Eventually(t, func() bool { return j.status.Get().State == consts.BurstWaiting }, waitFor, tick)

	d.setFail(false)
	require.Eventually(t, func() bool { return len(d.snapshot()) >= 2 }, waitFor, tick)
}
