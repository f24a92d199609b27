// Package store persists pocketnode preferences in a flat key-value table.
package store

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/errors"
	_ "modernc.org/sqlite"
)

// KV is the flat key-value store the scheduler and supervisor persist into.
type KV interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// SQLite is a KV backed by a single-table SQLite database.
// Writes are serialized through a single connection.
type SQLite struct {
	db *sql.DB
}

// Open opens (creating if needed) the preferences database at path.
func Open(path string) (*SQLite, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.New(errors.ErrCodeStoreFailed, "Open", "cannot open preferences database", err)
	}
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS prefs (
		key        TEXT PRIMARY KEY,
		value      TEXT NOT NULL,
		updated_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, errors.New(errors.ErrCodeStoreFailed, "Open", "cannot create prefs table", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM prefs WHERE key = ?`, key).Scan(&value)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.New(errors.ErrCodeStoreFailed, "Get", key, err)
	}
	return value, true, nil
}

func (s *SQLite) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO prefs (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
	`, key, value, time.Now().Unix())
	if err != nil {
		return errors.New(errors.ErrCodeStoreFailed, "Set", key, err)
	}
	return nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// Preferences is the typed view over the persisted keys.
type Preferences struct {
	kv KV
}

func NewPreferences(kv KV) *Preferences {
	return &Preferences{kv: kv}
}

// Mode returns the persisted power mode, MAX when unset or unreadable.
func (p *Preferences) Mode(ctx context.Context) consts.PowerMode {
	return p.mode(ctx, consts.KeyPowerMode)
}

func (p *Preferences) SetMode(ctx context.Context, m consts.PowerMode) error {
	return p.kv.Set(ctx, consts.KeyPowerMode, string(m))
}

// LastManualMode returns the mode restored when auto detection is turned off.
func (p *Preferences) LastManualMode(ctx context.Context) consts.PowerMode {
	return p.mode(ctx, consts.KeyLastManualMode)
}

func (p *Preferences) SetLastManualMode(ctx context.Context, m consts.PowerMode) error {
	return p.kv.Set(ctx, consts.KeyLastManualMode, string(m))
}

func (p *Preferences) AutoEnabled(ctx context.Context) bool {
	return p.flag(ctx, consts.KeyAutoModeEnabled)
}

func (p *Preferences) SetAutoEnabled(ctx context.Context, on bool) error {
	return p.kv.Set(ctx, consts.KeyAutoModeEnabled, strconv.FormatBool(on))
}

func (p *Preferences) BatterySaverEnabled(ctx context.Context) bool {
	return p.flag(ctx, consts.KeyBatterySaverEnabled)
}

func (p *Preferences) SetBatterySaverEnabled(ctx context.Context, on bool) error {
	return p.kv.Set(ctx, consts.KeyBatterySaverEnabled, strconv.FormatBool(on))
}

func (p *Preferences) NodeWasRunning(ctx context.Context) bool {
	return p.flag(ctx, consts.KeyNodeWasRunning)
}

func (p *Preferences) SetNodeWasRunning(ctx context.Context, on bool) error {
	return p.kv.Set(ctx, consts.KeyNodeWasRunning, strconv.FormatBool(on))
}

func (p *Preferences) mode(ctx context.Context, key string) consts.PowerMode {
	v, ok, err := p.kv.Get(ctx, key)
	if err != nil || !ok {
		return consts.ModeMax
	}
	m, err := consts.ParsePowerMode(v)
	if err != nil {
		return consts.ModeMax
	}
	return m
}

func (p *Preferences) flag(ctx context.Context, key string) bool {
	v, ok, err := p.kv.Get(ctx, key)
	if err != nil || !ok {
		return false
	}
	b, _ := strconv.ParseBool(v)
	return b
}

// Memory is an in-process KV, used when no database path is configured and in tests.
type Memory struct {
	mu   sync.Mutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

var (
	_ KV = (*SQLite)(nil)
	_ KV = (*Memory)(nil)
)

// Personal.AI order the ending
