package consts

import (
	"fmt"
	"strings"
	"time"
)

// PowerMode defines how aggressively the node keeps its peer networking alive.
type PowerMode string

const (
	ModeMax  PowerMode = "max"  // Continuous networking, no burst cycling
	ModeLow  PowerMode = "low"  // Burst every LowInterval
	ModeAway PowerMode = "away" // Burst every AwayInterval
)

// ParsePowerMode converts a persisted or user supplied string into a PowerMode.
func ParsePowerMode(s string) (PowerMode, error) {
	switch PowerMode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeMax:
		return ModeMax, nil
	case ModeLow:
		return ModeLow, nil
	case ModeAway:
		return ModeAway, nil
	}
	return "", fmt.Errorf("unknown power mode %q", s)
}

// BurstState is the transient state of the active burst job.
type BurstState string

const (
	BurstIdle    BurstState = "IDLE"
	BurstSyncing BurstState = "SYNCING" // Networking forced on
	BurstWaiting BurstState = "WAITING" // Sleeping until NextBurstAt
)

// NetworkType is the kind of connectivity the host currently has.
type NetworkType string

const (
	NetworkWifi     NetworkType = "wifi"
	NetworkCellular NetworkType = "cellular"
	NetworkOffline  NetworkType = "offline"
)

// ParseNetworkType maps unknown values to NetworkOffline.
func ParseNetworkType(s string) NetworkType {
	switch NetworkType(strings.ToLower(strings.TrimSpace(s))) {
	case NetworkWifi:
		return NetworkWifi
	case NetworkCellular:
		return NetworkCellular
	}
	return NetworkOffline
}

// ProcessState defines the lifecycle state of the supervised daemon.
type ProcessState string

const (
	StateNotStarted ProcessState = "NOT_STARTED"
	StateStarting   ProcessState = "STARTING"
	StateRunning    ProcessState = "RUNNING"
	StateAttached   ProcessState = "ATTACHED" // Orphan from a previous run, not spawned by us
	StateStopping   ProcessState = "STOPPING"
	StateStopped    ProcessState = "STOPPED"
	StateError      ProcessState = "ERROR"
)

// Persisted preference keys.
const (
	KeyPowerMode           = "power_mode"
	KeyAutoModeEnabled     = "auto_mode_enabled"
	KeyLastManualMode      = "last_manual_mode"
	KeyBatterySaverEnabled = "battery_saver_enabled"
	KeyNodeWasRunning      = "node_was_running"
)

// Daemon artifacts inside the data directory.
const (
	DaemonLockFile     = ".lock"
	DaemonPidFile      = "bitcoind.pid"
	DaemonCookieFile   = ".cookie"
	SupervisorLockFile = "pocketnode.lock"
)

const (
	DefaultLowInterval        = 15 * time.Minute
	DefaultAwayInterval       = 60 * time.Minute
	DefaultBurstTimeout       = 120 * time.Second
	DefaultSyncPollInterval   = 5 * time.Second
	DefaultLivenessInterval   = 10 * time.Second
	DefaultProbeTimeout       = 5 * time.Second
	DefaultReadinessInterval  = time.Second
	DefaultShutdownTimeout    = 15 * time.Second
	DefaultStopPollInterval   = 500 * time.Millisecond
	DefaultWalletIndicatorTTL = 10 * time.Second
	DefaultRPCTimeout         = 30 * time.Second

	DefaultLowBatteryPercent = 20 // Auto detection: below this and not charging is "low"
	DefaultSaverThreshold    = 20 // Battery saver pauses at or below this
	SyncedProgressThreshold  = 0.9999
	DefaultRPCPort           = 8332
	DefaultRPCUser           = "pocketnode"
	DefaultLibraryPathEnv    = "LD_LIBRARY_PATH"
	DefaultFeedSocketName    = "pocketnode.sock"
	DefaultStoreFileName     = "pocketnode.db"
	DefaultMetricsAddr       = "127.0.0.1:9332"
)

// Personal.AI order the ending
