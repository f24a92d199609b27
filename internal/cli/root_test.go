package cli

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/feed"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/power"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/store"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig returns a config path whose daemon RPC endpoint is unreachable.
func writeConfig(t *testing.T) (string, string) {
	t.Helper()
	dir, err := os.MkdirTemp("", "pncli")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })

	cfg := fmt.Sprintf(`node:
  binary_path: /opt/node/bitcoind
  data_dir: %s
rpc:
  url: http://127.0.0.1:1/
  user: u
  password: p
  timeout: 200ms
supervisor:
  probe_timeout: 200ms
feed:
  enabled: true
`, dir)
	path := filepath.Join(dir, "pocketnode.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path, dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func readPrefs(t *testing.T, dir string) *store.Preferences {
	t.Helper()
	db, err := store.Open(filepath.Join(dir, consts.DefaultStoreFileName))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return store.NewPreferences(db)
}

func TestCommands(t *testing.T) {
	root := NewRootCmd()
	assert.Equal(t, "pocketnode", root.Name())

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"start", "mode", "auto", "saver", "status"})
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestMode_PersistsWithoutDaemon(t *testing.T) {
	cfgPath, dir := writeConfig(t)

	out, err := execute(t, "-c", cfgPath, "mode", "away")
	require.NoError(t, err)
	assert.Contains(t, out, "saved")

	prefs := readPrefs(t, dir)
	ctx := context.Background()
	assert.Equal(t, consts.ModeAway, prefs.Mode(ctx))
	assert.Equal(t, consts.ModeAway, prefs.LastManualMode(ctx))
}

func TestMode_RejectsUnknown(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := execute(t, "-c", cfgPath, "mode", "turbo")
	assert.Error(t, err)

	_, err = execute(t, "-c", cfgPath, "mode")
	assert.Error(t, err)
}

func TestToggles_PersistWithoutDaemon(t *testing.T) {
	cfgPath, dir := writeConfig(t)

	_, err := execute(t, "-c", cfgPath, "auto", "on")
	require.NoError(t, err)
	_, err = execute(t, "-c", cfgPath, "saver", "on")
	require.NoError(t, err)
	_, err = execute(t, "-c", cfgPath, "saver", "maybe")
	assert.Error(t, err)

	prefs := readPrefs(t, dir)
	ctx := context.Background()
	assert.True(t, prefs.AutoEnabled(ctx))
	assert.True(t, prefs.BatterySaverEnabled(ctx))
}

func TestMode_DeliveredToRunningFeed(t *testing.T) {
	cfgPath, dir := writeConfig(t)

	prefs := store.NewPreferences(store.NewMemory())
	router := &feed.Router{
		Signals:      power.NewSignals(),
		Prefs:        prefs,
		Scheduler:    func() *power.Scheduler { return nil },
		BatterySaver: func() *power.BatterySaver { return nil },
		Log:          logger.Discard(),
	}
	srv := feed.NewServer(filepath.Join(dir, consts.DefaultFeedSocketName), router, logger.Discard())
	require.NoError(t, srv.Start(context.Background()))
	defer srv.Close()

	out, err := execute(t, "-c", cfgPath, "mode", "low")
	require.NoError(t, err)
	assert.Contains(t, out, "running node")
	require.Eventually(t, func() bool {
		return prefs.Mode(context.Background()) == consts.ModeLow
	}, 2*time.Second, 5*time.Millisecond)
}

func TestStatus_ReportsPrefsAndUnreachableDaemon(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := execute(t, "-c", cfgPath, "mode", "low")
	require.NoError(t, err)

	out, err := execute(t, "-c", cfgPath, "status")
	require.NoError(t, err)
	assert.Contains(t, out, "mode:          low")
	assert.Contains(t, out, "battery saver: off")
	assert.Contains(t, out, "unreachable")
}

func TestStart_IfWasRunningStaysDown(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := execute(t, "-c", cfgPath, "start", "--if-was-running")
	assert.NoError(t, err)
}

func TestMissingConfig(t *testing.T) {
	_, err := execute(t, "-c", filepath.Join(t.TempDir(), "nope.yaml"), "status")
	assert.Error(t, err)
}

func TestParseOnOff(t *testing.T) {
	on, err := parseOnOff("on")
	require.NoError(t, err)
	assert.True(t, on)
	on, err = parseOnOff("0")
	require.NoError(t, err)
	assert.False(t, on)
	_, err = parseOnOff("yes")
	assert.Error(t, err)
}
