// Package rpc is the narrow JSON-RPC surface pocketnode needs from the
// supervised daemon: networking toggle, chain progress, and shutdown.
package rpc

import (
	"context"
	stderrors "errors"
	"net/http"
	"strings"
	"sync"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/errors"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/protocol"
	"github.com/spf13/afero"
)

// BlockchainInfo carries the getblockchaininfo fields pocketnode consumes.
type BlockchainInfo struct {
	Chain                string  `json:"chain"`
	Blocks               int64   `json:"blocks"`
	Headers              int64   `json:"headers"`
	VerificationProgress float64 `json:"verificationprogress"`
	InitialBlockDownload bool    `json:"initialblockdownload"`
}

// Synced reports whether the node has caught up with every announced header.
func (b *BlockchainInfo) Synced() bool {
	return b.VerificationProgress > consts.SyncedProgressThreshold &&
		b.Headers > 0 &&
		b.Blocks >= b.Headers
}

// Chain reads sync progress.
type Chain interface {
	GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error)
}

// Network toggles the daemon's peer networking.
type Network interface {
	SetNetworkActive(ctx context.Context, on bool) error
}

// Daemon is everything the supervisor and scheduler call on the node.
type Daemon interface {
	Chain
	Network
	Stop(ctx context.Context) error
}

// Client talks to the daemon over JSON-RPC on HTTP.
type Client struct {
	cfg  protocol.RPCConfig
	doer *authDoer

	mu  sync.Mutex
	cli *jrpc2.Client
}

// New builds a Client. fs is used to read the cookie file when no password is configured.
func New(cfg protocol.RPCConfig, fs afero.Fs) *Client {
	return &Client{
		cfg: cfg,
		doer: &authDoer{
			http:       &http.Client{Timeout: cfg.Timeout},
			fs:         fs,
			user:       cfg.User,
			password:   cfg.Password,
			cookiePath: cfg.CookiePath,
		},
	}
}

func (c *Client) SetNetworkActive(ctx context.Context, on bool) error {
	var active bool
	return c.call(ctx, "setnetworkactive", []any{on}, &active)
}

func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	var info BlockchainInfo
	if err := c.call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Stop(ctx context.Context) error {
	var msg string
	return c.call(ctx, "stop", nil, &msg)
}

// Close releases the underlying client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli == nil {
		return nil
	}
	err := c.cli.Close()
	c.cli = nil
	return err
}

func (c *Client) client() *jrpc2.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli == nil {
		ch := jhttp.NewChannel(c.cfg.URL, &jhttp.ChannelOptions{Client: c.doer})
		c.cli = jrpc2.NewClient(ch, nil)
	}
	return c.cli
}

// reset drops a client whose transport failed so the next call dials afresh.
func (c *Client) reset(cli *jrpc2.Client) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cli == cli {
		c.cli.Close()
		c.cli = nil
	}
}

func (c *Client) call(ctx context.Context, method string, params, result any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cli := c.client()
	err := cli.CallResult(ctx, method, params, result)
	if err == nil {
		return nil
	}
	// Cancellation is not a failure; callers test for it with errors.Is.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	var rpcErr *jrpc2.Error
	if !stderrors.As(err, &rpcErr) {
		c.reset(cli)
	}
	return errors.New(errors.ErrCodeRPCFailed, method, "rpc call failed", err)
}

// authDoer adds basic auth to every request, re-reading the cookie file each
// time since the daemon rotates it on restart.
type authDoer struct {
	http       *http.Client
	fs         afero.Fs
	user       string
	password   string
	cookiePath string
}

func (d *authDoer) Do(req *http.Request) (*http.Response, error) {
	if user, pass, ok := d.credentials(); ok {
		req.SetBasicAuth(user, pass)
	}
	return d.http.Do(req)
}

func (d *authDoer) credentials() (string, string, bool) {
	if d.password != "" {
		return d.user, d.password, true
	}
	if d.cookiePath == "" || d.fs == nil {
		return "", "", false
	}
	data, err := afero.ReadFile(d.fs, d.cookiePath)
	if err != nil {
		return "", "", false
	}
	user, pass, ok := strings.Cut(strings.TrimSpace(string(data)), ":")
	return user, pass, ok
}

var _ Daemon = (*Client)(nil)

// Personal.AI order the ending
