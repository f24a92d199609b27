// Package power decides when the supervised daemon's peer networking is on.
//
// A Scheduler owns the user's power mode and at most one background job at a
// time: either the always-on assertion for MAX, a wallet hold, or the
// burst cycle for LOW and AWAY. A BatterySaver independently pauses
// networking on low battery. Both write through one NetworkGate.
package power

import (
	"time"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/observe"
)

// BurstStatus is the observable state of the burst cycle.
type BurstStatus struct {
	State       consts.BurstState
	NextBurstAt time.Time // Set only while WAITING
}

// BatteryStatus is a battery reading from the platform.
type BatteryStatus struct {
	Level    int // 0-100
	Charging bool
}

// Signals carries the platform inputs. Until the platform reports, the host
// is assumed to be on wifi and plugged in.
type Signals struct {
	Network *observe.Value[consts.NetworkType]
	Battery *observe.Value[BatteryStatus]
}

func NewSignals() *Signals {
	return &Signals{
		Network: observe.NewValue(consts.NetworkWifi),
		Battery: observe.NewValue(BatteryStatus{Level: 100, Charging: true}),
	}
}

// Personal.AI order the ending
