package monitor

import (
	"errors"
	"net"
	"net/http"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// PowerMode is 1 for the active mode label and 0 for the others.
	PowerMode = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pocketnode_power_mode",
		Help: "Currently applied power mode",
	}, []string{"mode"})
	// BurstState is 1 for the current burst state label.
	BurstState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pocketnode_burst_state",
		Help: "Current burst scheduler state",
	}, []string{"state"})
	// NextBurstTimestamp is the unix time of the next scheduled burst, 0 when none.
	NextBurstTimestamp = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pocketnode_next_burst_timestamp_seconds",
		Help: "Unix time of the next scheduled burst",
	})
	// BurstsTotal counts finished bursts, partitioned by outcome.
	BurstsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pocketnode_bursts_total",
		Help: "Total number of sync bursts by outcome",
	}, []string{"outcome"})
	// NetworkRPCFailures counts failed setnetworkactive calls.
	NetworkRPCFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "pocketnode_network_rpc_failures_total",
		Help: "Total number of failed setnetworkactive calls",
	})
	// NetworkActive is 1 when the last applied networking state is on.
	NetworkActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pocketnode_network_active",
		Help: "Last successfully applied networking state",
	})
	// ProcessState is 1 for the current lifecycle state label.
	ProcessState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pocketnode_process_state",
		Help: "Lifecycle state of the supervised daemon",
	}, []string{"state"})
	// BatterySaverActive is 1 while the battery saver holds networking off.
	BatterySaverActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pocketnode_battery_saver_active",
		Help: "Whether the battery saver is pausing networking",
	})
	// WalletConnected mirrors the wallet-connected indicator.
	WalletConnected = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pocketnode_wallet_connected",
		Help: "Whether an external wallet is holding networking on",
	})
)

var collectors = []prometheus.Collector{
	PowerMode, BurstState, NextBurstTimestamp, BurstsTotal, NetworkRPCFailures,
	NetworkActive, ProcessState, BatterySaverActive, WalletConnected,
}

// Register adds every pocketnode collector to reg. Already registered
// collectors are tolerated so the call is idempotent.
func Register(reg prometheus.Registerer) error {
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// InitMetrics registers the collectors on the default registry and serves
// them on addr. It returns the bound address.
func InitMetrics(addr string) (string, error) {
	if err := Register(prometheus.DefaultRegisterer); err != nil {
		return "", err
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	go func() {
		logger.Log.Info("Metrics server starting", "addr", ln.Addr().String())
		if err := http.Serve(ln, mux); err != nil {
			logger.Log.Error("Metrics server failed", "err", err)
		}
	}()
	return ln.Addr().String(), nil
}

// SetLabel sets the gauge for active to 1 and every other label to 0.
func SetLabel(g *prometheus.GaugeVec, active string, all ...string) {
	for _, l := range all {
		v := 0.0
		if l == active {
			v = 1
		}
		g.WithLabelValues(l).Set(v)
	}
}

// ObserveMode records the applied power mode.
func ObserveMode(m consts.PowerMode) {
	SetLabel(PowerMode, string(m), string(consts.ModeMax), string(consts.ModeLow), string(consts.ModeAway))
}

// ObserveBurst records the burst state and next burst time (unix seconds, 0 for none).
func ObserveBurst(s consts.BurstState, nextUnix int64) {
	SetLabel(BurstState, string(s), string(consts.BurstIdle), string(consts.BurstSyncing), string(consts.BurstWaiting))
	NextBurstTimestamp.Set(float64(nextUnix))
}

// ObserveProcess records the daemon lifecycle state.
func ObserveProcess(s consts.ProcessState) {
	SetLabel(ProcessState, string(s),
		string(consts.StateNotStarted), string(consts.StateStarting), string(consts.StateRunning),
		string(consts.StateAttached), string(consts.StateStopping), string(consts.StateStopped),
		string(consts.StateError))
}

// Bool converts b to a gauge value.
func Bool(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Personal.AI order the ending
