package orchestrator

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/feed"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/rpc"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/store"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/supervisor"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/errors"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/logger"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/protocol"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type daemon struct {
	mu    sync.Mutex
	calls []bool
	proc  *process
}

func (d *daemon) GetBlockchainInfo(ctx context.Context) (*rpc.BlockchainInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &rpc.BlockchainInfo{Blocks: 5, Headers: 5, VerificationProgress: 1}, nil
}

func (d *daemon) SetNetworkActive(ctx context.Context, on bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, on)
	return nil
}

func (d *daemon) Stop(ctx context.Context) error {
	d.mu.Lock()
	p := d.proc
	d.mu.Unlock()
	if p != nil {
		p.exit(nil)
	}
	return nil
}

func (d *daemon) networkCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

type process struct {
	done chan struct{}
	once sync.Once
}

func (p *process) Pid() int { return 7 }
func (p *process) Done() <-chan struct{} { return p.done }
func (p *process) Err() error { return nil }
func (p *process) Kill() error { p.exit(nil); return nil }
func (p *process) exit(error) { p.once.Do(func() { close(p.done) }) }

type launcher struct{ d *daemon }

func (l launcher) Launch(ctx context.Context, spec supervisor.LaunchSpec) (supervisor.Process, error) {
	p := &process{done: make(chan struct{})}
	l.d.mu.Lock()
	l.d.proc = p
	l.d.mu.Unlock()
	return p, nil
}

func testConfig(t *testing.T) *protocol.Config {
	t.Helper()
	dir, err := os.MkdirTemp("", "eng")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := &protocol.Config{
		Node: protocol.NodeConfig{BinaryPath: "/opt/node/bitcoind", DataDir: dir},
		Feed: protocol.FeedConfig{Enabled: true, SocketPath: filepath.Join(dir, "f.sock")},
	}
	cfg.ApplyDefaults()
	cfg.Supervisor.ReadinessInterval = 10 * time.Millisecond
	cfg.Supervisor.ShutdownTimeout = 200 * time.Millisecond
	cfg.Supervisor.StopPollInterval = 10 * time.Millisecond
	cfg.Scheduler.SyncPollInterval = 10 * time.Millisecond
	return cfg
}

func newEngine(t *testing.T) (*Engine, *daemon) {
	t.Helper()
	return buildEngine(t, testConfig(t))
}

func buildEngine(t *testing.T, cfg *protocol.Config) (*Engine, *daemon) {
	t.Helper()
	d := &daemon{}
	e, err := NewEngine(cfg, Options{
		FS:       afero.NewMemMapFs(),
		KV:       store.NewMemory(),
		Daemon:   d,
		Launcher: launcher{d: d},
		Log:      logger.Discard(),
	})
	require.NoError(t, err)
	return e, d
}

// sendMode retries until the engine's feed is up.
func sendMode(t *testing.T, e *Engine, mode string) {
	t.Helper()
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		return feed.Send(ctx, e.cfg.Feed.SocketPath, feed.Event{Type: feed.TypeMode, Mode: mode}) == nil
	}, 2*time.Second, 5*time.Millisecond)
}

func TestNewEngine(t *testing.T) {
	e, _ := newEngine(t)
	assert.Equal(t, consts.StateNotStarted, e.Supervisor().State().Get())
	assert.NotNil(t, e.feed)
}

func TestNewEngine_OpensSQLiteStore(t *testing.T) {
	dir := t.TempDir()
	cfg := &protocol.Config{Node: protocol.NodeConfig{BinaryPath: "bitcoind", DataDir: filepath.Join(dir, "node")}}
	cfg.ApplyDefaults()

	e, err := NewEngine(cfg, Options{Daemon: &daemon{}, Log: logger.Discard()})
	require.NoError(t, err)
	require.NoError(t, e.Preferences().SetMode(context.Background(), consts.ModeAway))
	e.close()
	assert.FileExists(t, cfg.Store.Path)
}

func TestRun_SignalsAndFeed(t *testing.T) {
	e, d := newEngine(t)
	sigCh := make(chan os.Signal, 1)
	errc := make(chan error, 1)
	go func() { errc <- e.run(context.Background(), sigCh) }()

	require.Eventually(t, func() bool { return e.Supervisor().Scheduler() != nil }, 2*time.Second, 5*time.Millisecond)

	sendMode(t, e, "low")
	require.Eventually(t, func() bool {
		return e.Supervisor().Scheduler().Mode().Get() == consts.ModeLow
	}, 2*time.Second, 5*time.Millisecond)

	// A burst in LOW mode toggles networking on and off again.
	require.Eventually(t, func() bool {
		return e.Supervisor().Scheduler().Burst().Get().State == consts.BurstWaiting
	}, 2*time.Second, 5*time.Millisecond)
	before := d.networkCalls()
	sigCh <- syscall.SIGHUP
	require.Eventually(t, func() bool { return d.networkCalls() >= before+2 }, 2*time.Second, 5*time.Millisecond)

	sigCh <- syscall.SIGTERM
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, consts.StateStopped, e.Supervisor().State().Get())
	assert.True(t, e.Preferences().NodeWasRunning(context.Background()))
	assert.Equal(t, consts.ModeLow, e.Preferences().Mode(context.Background()))
}

func TestRun_DaemonExitEndsRun(t *testing.T) {
	e, d := newEngine(t)
	errc := make(chan error, 1)
	go func() { errc <- e.run(context.Background(), make(chan os.Signal)) }()

	require.Eventually(t, func() bool { return e.Supervisor().State().Get() == consts.StateRunning }, 2*time.Second, 5*time.Millisecond)
	d.mu.Lock()
	d.proc.exit(stderrors.New("segfault"))
	d.mu.Unlock()

	select {
	case err := <-errc:
		assert.Equal(t, errors.ErrCodeLivenessLost, errors.CodeOf(err))
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not notice the exit")
	}
}

func TestRun_ContextCancelShutsDown(t *testing.T) {
	e, _ := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- e.run(ctx, make(chan os.Signal)) }()

	require.Eventually(t, func() bool { return e.Supervisor().State().Get() == consts.StateRunning }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
	assert.Equal(t, consts.StateStopped, e.Supervisor().State().Get())
}

func TestRun_SecondInstanceLeavesFeedAlone(t *testing.T) {
	cfg := testConfig(t)
	first, _ := buildEngine(t, cfg)
	sigCh := make(chan os.Signal, 1)
	errc := make(chan error, 1)
	go func() { errc <- first.run(context.Background(), sigCh) }()
	require.Eventually(t, func() bool { return first.Supervisor().Scheduler() != nil }, 2*time.Second, 5*time.Millisecond)
	sendMode(t, first, "low")

	second, _ := buildEngine(t, cfg)
	err := second.run(context.Background(), make(chan os.Signal))
	assert.Equal(t, errors.ErrCodeLockHeld, errors.CodeOf(err))

	// The running instance still owns a reachable feed.
	assert.FileExists(t, cfg.Feed.SocketPath)
	sendMode(t, first, "away")
	require.Eventually(t, func() bool {
		return first.Supervisor().Scheduler().Mode().Get() == consts.ModeAway
	}, 2*time.Second, 5*time.Millisecond)

	sigCh <- syscall.SIGTERM
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("engine did not stop")
	}
}
