// Package feed accepts platform signals over a unix socket: battery and
// connectivity readings, wallet client sessions, app-open triggers and user
// preference changes. Each line on a connection is one JSON event.
package feed

import (
	"bufio"
	"context"
	"encoding/json"
	stderrors "errors"
	"net"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/logger"
)

// Event types.
const (
	TypeBattery = "battery"
	TypeNetwork = "network"
	TypeWallet  = "wallet"
	TypeTrigger = "trigger"
	TypeMode    = "mode"
	TypeAuto    = "auto"
	TypeSaver   = "saver"
)

const maxLine = 64 * 1024

// Event is one line on the feed.
type Event struct {
	Type      string `json:"type"`
	Level     *int   `json:"level,omitempty"`
	Charging  bool   `json:"charging,omitempty"`
	Network   string `json:"network,omitempty"`
	Session   string `json:"session,omitempty"`
	Connected bool   `json:"connected,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

// Sink receives decoded events.
type Sink interface {
	Battery(level int, charging bool)
	Network(n consts.NetworkType)
	WalletSession(id string, connected bool)
	Trigger()
	SetMode(m consts.PowerMode)
	SetAutoEnabled(on bool)
	SetBatterySaverEnabled(on bool)
}

// Server listens on a unix socket and forwards events to a Sink.
type Server struct {
	path string
	sink Sink
	log  logger.Logger

	mu     sync.Mutex
	ln     net.Listener
	cancel context.CancelFunc
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
}

func NewServer(path string, sink Sink, log logger.Logger) *Server {
	return &Server{
		path:  path,
		sink:  sink,
		log:   log.With("component", "feed"),
		conns: make(map[net.Conn]struct{}),
	}
}

// Path is the socket path.
func (s *Server) Path() string { return s.path }

// ErrInUse is returned by Start when another server still answers on the path.
var ErrInUse = stderrors.New("feed socket is in use")

// Start binds the socket, replacing a stale one, and accepts connections
// until ctx is done or Close is called. A socket that still accepts
// connections is left alone.
func (s *Server) Start(ctx context.Context) error {
	if _, err := os.Stat(s.path); err == nil {
		if conn, err := net.DialTimeout("unix", s.path, time.Second); err == nil {
			conn.Close()
			return ErrInUse
		}
		os.Remove(s.path)
	}
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return err
	}
	if err := os.Chmod(s.path, 0o600); err != nil {
		ln.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.ln = ln
	s.cancel = cancel
	s.mu.Unlock()
	s.log.Info("Signal feed listening", "socket", s.path)

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		<-ctx.Done()
		s.shutdown()
	}()
	go func() {
		defer s.wg.Done()
		s.acceptLoop(ctx)
	}()
	return nil
}

// Close stops accepting, drops open connections and waits for handlers.
func (s *Server) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Server) shutdown() {
	s.mu.Lock()
	ln := s.ln
	s.ln = nil
	for c := range s.conns {
		c.Close()
	}
	s.mu.Unlock()
	if ln != nil {
		ln.Close()
		os.Remove(s.path)
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()
	if ln == nil {
		return
	}
	for {
		conn, err := ln.Accept()
		if err != nil {
			if !stderrors.Is(err, net.ErrClosed) && ctx.Err() == nil {
				s.log.Warn("Accept failed", "err", err)
			}
			return
		}
		s.mu.Lock()
		if s.ln == nil {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(conn)
		}()
	}
}

// handle reads events until EOF. Wallet sessions opened on this connection
// without an explicit id, or left open when it drops, end with it.
func (s *Server) handle(conn net.Conn) {
	connID := uuid.NewString()
	log := s.log.With("conn", connID)
	open := make(map[string]struct{})

	defer func() {
		for id := range open {
			s.sink.WalletSession(id, false)
		}
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 4096), maxLine)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			log.Warn("Dropping malformed event", "err", err)
			continue
		}
		s.dispatch(log, connID, open, ev)
	}
}

func (s *Server) dispatch(log logger.Logger, connID string, open map[string]struct{}, ev Event) {
	switch ev.Type {
	case TypeBattery:
		if ev.Level == nil {
			log.Warn("Battery event without level")
			return
		}
		s.sink.Battery(clamp(*ev.Level, 0, 100), ev.Charging)
	case TypeNetwork:
		s.sink.Network(consts.ParseNetworkType(ev.Network))
	case TypeWallet:
		id := ev.Session
		if id == "" {
			id = connID
		}
		if ev.Connected {
			open[id] = struct{}{}
		} else {
			delete(open, id)
		}
		s.sink.WalletSession(id, ev.Connected)
	case TypeTrigger:
		s.sink.Trigger()
	case TypeMode:
		m, err := consts.ParsePowerMode(ev.Mode)
		if err != nil {
			log.Warn("Dropping mode event", "err", err)
			return
		}
		s.sink.SetMode(m)
	case TypeAuto, TypeSaver:
		if ev.Enabled == nil {
			log.Warn("Toggle event without enabled", "type", ev.Type)
			return
		}
		if ev.Type == TypeAuto {
			s.sink.SetAutoEnabled(*ev.Enabled)
		} else {
			s.sink.SetBatterySaverEnabled(*ev.Enabled)
		}
	default:
		log.Warn("Unknown event type", "type", ev.Type)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Personal.AI order the ending
