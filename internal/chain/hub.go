package chain

import (
	"context"
	"sync"

	"github.com/ggonzalez94/lazytrader/internal/chain/signer"
	clierr "github.com/ggonzalez94/lazytrader/internal/errors"
	"github.com/ggonzalez94/lazytrader/internal/registry"
)

// DialFunc opens a client for one network. Tests swap it for a fake.
type DialFunc func(ctx context.Context, rpcURL string, chainID int64, s signer.Signer, opts Options) (*Client, error)

// Hub owns the per-network clients for one application instance. Create it
// once at startup and Close it on shutdown.
type Hub struct {
	mu      sync.Mutex
	rpc     map[string]string
	signer  signer.Signer
	opts    Options
	dial    DialFunc
	clients map[string]*Client
	closed  bool
}

type HubOption func(*Hub)

func WithDialer(dial DialFunc) HubOption {
	return func(h *Hub) { h.dial = dial }
}

func WithOptions(opts Options) HubOption {
	return func(h *Hub) { h.opts = opts }
}

// NewHub keeps rpcOverrides keyed by network name. The signer may be nil, in
// which case every client is read-only.
func NewHub(rpcOverrides map[string]string, s signer.Signer, opts ...HubOption) *Hub {
	h := &Hub{
		rpc:     map[string]string{},
		signer:  s,
		opts:    DefaultOptions(),
		dial:    Dial,
		clients: map[string]*Client{},
	}
	for k, v := range rpcOverrides {
		h.rpc[k] = v
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *Hub) Signer() signer.Signer { return h.signer }

// Client returns the client for network, dialing it on first use.
func (h *Hub) Client(ctx context.Context, network registry.Network) (*Client, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, clierr.New(clierr.CodeInternal, "chain hub is closed")
	}
	if c, ok := h.clients[network.Name]; ok {
		return c, nil
	}
	rpcURL, err := registry.ResolveRPCURL(h.rpc[network.Name], network.ChainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	c, err := h.dial(ctx, rpcURL, network.ChainID, h.signer, h.opts)
	if err != nil {
		return nil, err
	}
	h.clients[network.Name] = c
	return c, nil
}

// Close tears down every dialed client. Further Client calls fail.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for name, c := range h.clients {
		c.Close()
		delete(h.clients, name)
	}
	h.closed = true
}
