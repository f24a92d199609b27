package power

import (
	"context"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
)

// Suggest maps connectivity and battery to a power mode. A low battery
// (below the default threshold and not charging) wins over network type.
func Suggest(network consts.NetworkType, level int, charging bool) consts.PowerMode {
	return suggest(network, level, charging, consts.DefaultLowBatteryPercent)
}

func suggest(network consts.NetworkType, level int, charging bool, lowPercent int) consts.PowerMode {
	if level < lowPercent && !charging {
		return consts.ModeAway
	}
	switch network {
	case consts.NetworkWifi:
		if charging {
			return consts.ModeMax
		}
		return consts.ModeLow
	case consts.NetworkCellular:
		if charging {
			return consts.ModeLow
		}
		return consts.ModeAway
	default:
		return consts.ModeAway
	}
}

// AutoDetector combines the network and battery streams into mode suggestions.
type AutoDetector struct {
	signals    *Signals
	lowPercent int
}

func NewAutoDetector(signals *Signals, lowPercent int) *AutoDetector {
	if lowPercent <= 0 {
		lowPercent = consts.DefaultLowBatteryPercent
	}
	return &AutoDetector{signals: signals, lowPercent: lowPercent}
}

// Current evaluates the table against the latest inputs.
func (d *AutoDetector) Current() consts.PowerMode {
	b := d.signals.Battery.Get()
	return suggest(d.signals.Network.Get(), b.Level, b.Charging, d.lowPercent)
}

// Watch emits a suggestion immediately and then whenever either input changes
// the outcome. The channel closes when ctx is done.
func (d *AutoDetector) Watch(ctx context.Context) <-chan consts.PowerMode {
	out := make(chan consts.PowerMode)
	netCh := d.signals.Network.Subscribe(ctx)
	batCh := d.signals.Battery.Subscribe(ctx)

	go func() {
		defer close(out)
		network := <-netCh
		battery := <-batCh
		var last consts.PowerMode
		for {
			m := suggest(network, battery.Level, battery.Charging, d.lowPercent)
			if m != last {
				select {
				case out <- m:
					last = m
				case <-ctx.Done():
					return
				}
			}
			select {
			case n, ok := <-netCh:
				if !ok {
					return
				}
				network = n
			case b, ok := <-batCh:
				if !ok {
					return
				}
				battery = b
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Personal.AI order the ending
