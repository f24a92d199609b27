package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/feed"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/monitor"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/orchestrator"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/rpc"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/store"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/logger"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/protocol"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

const sendTimeout = 2 * time.Second

// NewRootCmd builds the pocketnode command tree.
func NewRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:           "pocketnode",
		Short:         "pocketnode: node supervisor with power-aware sync scheduling",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "pocketnode.yaml", "config file path")

	load := func() (*protocol.Config, error) { return protocol.Load(cfgFile) }

	root.AddCommand(
		newStartCmd(load),
		newModeCmd(load),
		newToggleCmd(load, "auto", "Turn automatic power mode selection on or off", feed.TypeAuto),
		newToggleCmd(load, "saver", "Turn the low battery saver on or off", feed.TypeSaver),
		newStatusCmd(load),
	)
	return root
}

type loader func() (*protocol.Config, error)

func newStartCmd(load loader) *cobra.Command {
	var ifWasRunning bool
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Run the node daemon under supervision until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			logger.InitLogger(cfg.Observability.LogLevel)
			if cfg.Observability.MetricsAddr != "" {
				addr, err := monitor.InitMetrics(cfg.Observability.MetricsAddr)
				if err != nil {
					return err
				}
				logger.Log.Info("Metrics listening", "addr", addr)
			}

			if ifWasRunning {
				prefs, closeStore, err := openPrefs(cfg)
				if err != nil {
					return err
				}
				was := prefs.NodeWasRunning(cmd.Context())
				closeStore()
				if !was {
					logger.Log.Info("Node was not running before, staying down")
					return nil
				}
			}

			engine, err := orchestrator.NewEngine(cfg, orchestrator.Options{})
			if err != nil {
				return err
			}
			logger.Log.Info("Booting pocketnode", "datadir", cfg.Node.DataDir)
			return engine.Run(cmd.Context())
		},
	}
	cmd.Flags().BoolVar(&ifWasRunning, "if-was-running", false, "only start when the node was running at last shutdown")
	return cmd
}

func newModeCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:       "mode <max|low|away>",
		Short:     "Set the power mode",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{string(consts.ModeMax), string(consts.ModeLow), string(consts.ModeAway)},
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := consts.ParsePowerMode(args[0])
			if err != nil {
				return err
			}
			return deliver(cmd, load, feed.Event{Type: feed.TypeMode, Mode: string(m)}, func(ctx context.Context, p *store.Preferences) error {
				if err := p.SetMode(ctx, m); err != nil {
					return err
				}
				return p.SetLastManualMode(ctx, m)
			})
		},
	}
}

func newToggleCmd(load loader, name, short, eventType string) *cobra.Command {
	return &cobra.Command{
		Use:       name + " <on|off>",
		Short:     short,
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"on", "off"},
		RunE: func(cmd *cobra.Command, args []string) error {
			on, err := parseOnOff(args[0])
			if err != nil {
				return err
			}
			return deliver(cmd, load, feed.Event{Type: eventType, Enabled: feed.Toggle(on)}, func(ctx context.Context, p *store.Preferences) error {
				if eventType == feed.TypeAuto {
					return p.SetAutoEnabled(ctx, on)
				}
				return p.SetBatterySaverEnabled(ctx, on)
			})
		},
	}
}

// deliver hands the change to a running daemon through its feed, or persists
// it for the next start when none is listening.
func deliver(cmd *cobra.Command, load loader, ev feed.Event, persist func(context.Context, *store.Preferences) error) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), sendTimeout)
	defer cancel()

	if cfg.Feed.Enabled {
		if err := feed.Send(ctx, cfg.Feed.SocketPath, ev); err == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "applied to running node")
			return nil
		}
	}

	prefs, closeStore, err := openPrefs(cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := persist(ctx, prefs); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "saved, applies on next start")
	return nil
}

func newStatusCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show saved preferences and live chain progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			prefs, closeStore, err := openPrefs(cfg)
			if err != nil {
				return err
			}
			defer closeStore()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mode:          %s\n", prefs.Mode(ctx))
			fmt.Fprintf(out, "auto mode:     %s\n", onOff(prefs.AutoEnabled(ctx)))
			fmt.Fprintf(out, "manual mode:   %s\n", prefs.LastManualMode(ctx))
			fmt.Fprintf(out, "battery saver: %s\n", onOff(prefs.BatterySaverEnabled(ctx)))
			fmt.Fprintf(out, "was running:   %v\n", prefs.NodeWasRunning(ctx))

			client := rpc.New(cfg.RPC, afero.NewOsFs())
			defer client.Close()
			rctx, cancel := context.WithTimeout(ctx, cfg.Supervisor.ProbeTimeout)
			defer cancel()
			info, err := client.GetBlockchainInfo(rctx)
			if err != nil {
				fmt.Fprintf(out, "daemon:        unreachable (%v)\n", err)
				return nil
			}
			fmt.Fprintf(out, "chain:         %s\n", info.Chain)
			fmt.Fprintf(out, "blocks:        %d/%d (%.2f%%)\n", info.Blocks, info.Headers, info.VerificationProgress*100)
			fmt.Fprintf(out, "synced:        %v\n", info.Synced())
			return nil
		},
	}
}

func openPrefs(cfg *protocol.Config) (*store.Preferences, func(), error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o700); err != nil {
		return nil, nil, err
	}
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return nil, nil, err
	}
	return store.NewPreferences(db), func() { db.Close() }, nil
}

func parseOnOff(s string) (bool, error) {
	switch s {
	case "on", "true", "1":
		return true, nil
	case "off", "false", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got %q", s)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Personal.AI order the ending
