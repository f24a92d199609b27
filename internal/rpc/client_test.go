package rpc

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/consts"
	pkgerrors "github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/errors"
	"github.com/heyjoe127/bitcoin-pocket-node-sub000/pkg/protocol"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNode struct {
	mu       sync.Mutex
	active   []bool
	info     BlockchainInfo
	stopped  bool
	failInfo bool
}

func (f *fakeNode) serve(t *testing.T, user, pass string) *httptest.Server {
	t.Helper()
	bridge := jhttp.NewBridge(handler.Map{
		"setnetworkactive": handler.New(func(_ context.Context, p []bool) (bool, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.active = append(f.active, p[0])
			return p[0], nil
		}),
		"getblockchaininfo": handler.New(func(_ context.Context) (*BlockchainInfo, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.failInfo {
				return nil, errors.New("Loading block index")
			}
			info := f.info
			return &info, nil
		}),
		"stop": handler.New(func(_ context.Context) (string, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.stopped = true
			return "Bitcoin Core stopping", nil
		}),
	}, nil)
	t.Cleanup(func() { bridge.Close() })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		if !ok || u != user || p != pass {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		bridge.ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Calls(t *testing.T) {
	node := &fakeNode{info: BlockchainInfo{Chain: "main", Blocks: 850000, Headers: 850000, VerificationProgress: 0.99999}}
	srv := node.serve(t, "pocketnode", "secret")

	c := New(protocol.RPCConfig{URL: srv.URL, User: "pocketnode", Password: "secret", Timeout: 5 * time.Second}, afero.NewMemMapFs())
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.SetNetworkActive(ctx, false))
	require.NoError(t, c.SetNetworkActive(ctx, true))
	assert.Equal(t, []bool{false, true}, node.active)

	info, err := c.GetBlockchainInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(850000), info.Blocks)
	assert.True(t, info.Synced())

	require.NoError(t, c.Stop(ctx))
	assert.True(t, node.stopped)
}

func TestClient_CookieAuth(t *testing.T) {
	node := &fakeNode{}
	srv := node.serve(t, "__cookie__", "abc123")

	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/data/.cookie", []byte("__cookie__:abc123\n"), 0o600))

	c := New(protocol.RPCConfig{URL: srv.URL, CookiePath: "/data/.cookie", Timeout: 5 * time.Second}, fs)
	defer c.Close()
	require.NoError(t, c.SetNetworkActive(context.Background(), true))
}

func TestClient_ServerErrorIsCoded(t *testing.T) {
	node := &fakeNode{failInfo: true}
	srv := node.serve(t, "u", "p")

	c := New(protocol.RPCConfig{URL: srv.URL, User: "u", Password: "p", Timeout: 5 * time.Second}, nil)
	defer c.Close()

	_, err := c.GetBlockchainInfo(context.Background())
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrCodeRPCFailed))
}

func TestClient_UnreachableIsCoded(t *testing.T) {
	c := New(protocol.RPCConfig{URL: "http://127.0.0.1:1/", User: "u", Password: "p", Timeout: time.Second}, nil)
	defer c.Close()

	err := c.SetNetworkActive(context.Background(), true)
	require.Error(t, err)
	assert.True(t, pkgerrors.Is(err, pkgerrors.ErrCodeRPCFailed))

	// The client recovers once a transport failure has been seen.
	_, err = c.GetBlockchainInfo(context.Background())
	assert.Error(t, err)
}

func TestClient_CancelledContextIsNotAFailure(t *testing.T) {
	c := New(protocol.RPCConfig{URL: "http://127.0.0.1:1/", Timeout: time.Second}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.SetNetworkActive(ctx, false)
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, pkgerrors.Is(err, pkgerrors.ErrCodeRPCFailed))
}

func TestBlockchainInfo_Synced(t *testing.T) {
	cases := []struct {
		name string
		info BlockchainInfo
		want bool
	}{
		{"caught up", BlockchainInfo{VerificationProgress: 0.99995, Headers: 10, Blocks: 10}, true},
		{"progress at threshold", BlockchainInfo{VerificationProgress: consts.SyncedProgressThreshold, Headers: 10, Blocks: 10}, false},
		{"no headers yet", BlockchainInfo{VerificationProgress: 1, Headers: 0, Blocks: 0}, false},
		{"blocks behind", BlockchainInfo{VerificationProgress: 1, Headers: 11, Blocks: 10}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.info.Synced())
		})
	}
}
