package power

import (
	"time"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/internal/monitor"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
)

// SessionStarted records a connected wallet client. The first session outside
// MAX cancels the burst cycle and holds networking on until the last one ends.
func (s *Scheduler) SessionStarted(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; ok || s.closed {
		return
	}
	s.sessions[id] = struct{}{}
	monitor.WalletConnected.Set(float64(len(s.sessions)))

	if s.holding || s.mode.Get() == consts.ModeMax {
		return
	}
	s.log.Info("Wallet connected, holding networking on", "session", id)
	s.holding = true
	s.indicatorGen++
	s.wallet.Set(true)
	s.applyLocked()
}

// SessionEnded drops a wallet client. When the last one leaves the mode cycle
// resumes at once; the visible indicator lingers for WalletIndicatorTTL.
func (s *Scheduler) SessionEnded(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return
	}
	delete(s.sessions, id)
	monitor.WalletConnected.Set(float64(len(s.sessions)))

	if !s.holding || len(s.sessions) > 0 || s.closed {
		return
	}
	s.log.Info("Last wallet disconnected, resuming mode", "mode", s.mode.Get())
	s.holding = false
	s.applyLocked()

	s.indicatorGen++
	gen := s.indicatorGen
	time.AfterFunc(s.cfg.WalletIndicatorTTL, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen == s.indicatorGen {
			s.wallet.Set(false)
		}
	})
}

// Sessions is the number of connected wallet clients.
func (s *Scheduler) Sessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Personal.AI order the ending
