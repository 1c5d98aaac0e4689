package neorpc

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"EddyMixer/internal/ledger"
	"EddyMixer/internal/neotx"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Config wires a Client to a node set.
type Config struct {
	Endpoints         []string
	NetworkMagic      uint32
	FailThreshold     int
	RequestTimeout    time.Duration
	RequestsPerSecond int
	Burst             int
	// TxLifetimeBlocks bounds how long a prepared transaction stays valid.
	TxLifetimeBlocks uint32
	// SponsorKey, when set, pays fees as the first transaction signer so
	// payouts move the full deposited amount.
	SponsorKey *ecdsa.PrivateKey
}

// Client is a Neo N3 JSON-RPC client over multiple endpoints. Endpoints
// rotate on transport failures; JSON-RPC level errors are answers, not
// failures, and do not rotate. It implements ledger.Reader and
// ledger.Writer.
type Client struct {
	clients       []*rpcClient
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex

	limiter      *rate.Limiter
	networkMagic uint32
	txLifetime   uint32
	sponsor      *ecdsa.PrivateKey

	decimalsMu sync.Mutex
	decimals   map[string]int

	log zerolog.Logger
}

var (
	_ ledger.Reader = (*Client)(nil)
	_ ledger.Writer = (*Client)(nil)
)

func New(cfg Config, log zerolog.Logger) (*Client, error) {
	list := sanitizeEndpoints(cfg.Endpoints)
	if len(list) == 0 {
		return nil, errors.New("rpc endpoints is empty")
	}
	if cfg.FailThreshold <= 0 {
		cfg.FailThreshold = 3
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 10
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 2 * cfg.RequestsPerSecond
	}
	if cfg.TxLifetimeBlocks == 0 {
		cfg.TxLifetimeBlocks = 240
	}
	clients := make([]*rpcClient, 0, len(list))
	for _, ep := range list {
		clients = append(clients, newRPCClient(ep, cfg.RequestTimeout))
	}
	return &Client{
		clients:       clients,
		failThreshold: cfg.FailThreshold,
		limiter:       rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		networkMagic:  cfg.NetworkMagic,
		txLifetime:    cfg.TxLifetimeBlocks,
		sponsor:       cfg.SponsorKey,
		decimals:      make(map[string]int),
		log:           log.With().Str("component", "neorpc").Logger(),
	}, nil
}

// BaseURL reports the endpoint currently in use.
func (c *Client) BaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clients[c.index].baseURL
}

// withFailover runs fn against the current endpoint and walks the endpoint
// ring on transport failures. When every endpoint fails the error is
// classified ledger.ErrUnavailable.
func (c *Client) withFailover(ctx context.Context, fn func(*rpcClient) error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var lastErr error
	for attempts := 0; attempts < len(c.clients); attempts++ {
		client, idx := c.currentClient()
		err := fn(client)
		if err == nil {
			c.resetFailures(idx)
			return nil
		}
		var nodeErr *rpcError
		if errors.As(err, &nodeErr) {
			c.resetFailures(idx)
			return err
		}
		lastErr = err
		c.noteFailure(idx)
		if c.shouldRotate() || len(c.clients) > 1 {
			c.rotate()
		}
	}
	return fmt.Errorf("%w: %v", ledger.ErrUnavailable, lastErr)
}

func (c *Client) currentClient() (*rpcClient, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clients[c.index], c.index
}

func (c *Client) resetFailures(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == idx {
		c.failCount = 0
	}
}

func (c *Client) noteFailure(idx int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.index == idx {
		c.failCount++
	}
}

func (c *Client) shouldRotate() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.failCount >= c.failThreshold
}

func (c *Client) rotate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.clients[c.index].baseURL
	c.index = (c.index + 1) % len(c.clients)
	c.failCount = 0
	if len(c.clients) > 1 {
		c.log.Warn().Str("from", prev).Str("to", c.clients[c.index].baseURL).Msg("rotating rpc endpoint")
	}
}

// TokenBalance reads the NEP-17 balance of address. Accounts the contract
// has never seen answer zero.
func (c *Client) TokenBalance(ctx context.Context, token, address string) (*big.Int, error) {
	tokenHash, err := neotx.ParseHash160(token)
	if err != nil {
		return nil, err
	}
	account, err := neotx.ParseAddress(address)
	if err != nil {
		return nil, err
	}

	var res *InvokeResult
	err = c.withFailover(ctx, func(rc *rpcClient) error {
		var callErr error
		res, callErr = rc.invokeFunction(ctx, tokenHash.Hex(), "balanceOf", []any{hash160Param(account)})
		return callErr
	})
	if err != nil {
		return nil, classify(err)
	}
	if res.State != "HALT" {
		return nil, fmt.Errorf("%w: balanceOf faulted: %s", ledger.ErrUnavailable, res.Exception)
	}
	return stackInt(res.Stack)
}

// TokenDecimals reads and caches the token's decimals.
func (c *Client) TokenDecimals(ctx context.Context, token string) (int, error) {
	tokenHash, err := neotx.ParseHash160(token)
	if err != nil {
		return 0, err
	}
	key := tokenHash.Hex()

	c.decimalsMu.Lock()
	if d, ok := c.decimals[key]; ok {
		c.decimalsMu.Unlock()
		return d, nil
	}
	c.decimalsMu.Unlock()

	var res *InvokeResult
	err = c.withFailover(ctx, func(rc *rpcClient) error {
		var callErr error
		res, callErr = rc.invokeFunction(ctx, key, "decimals", nil)
		return callErr
	})
	if err != nil {
		return 0, classify(err)
	}
	if res.State != "HALT" {
		return 0, fmt.Errorf("%w: decimals faulted: %s", ledger.ErrUnavailable, res.Exception)
	}
	v, err := stackInt(res.Stack)
	if err != nil {
		return 0, err
	}
	d := int(v.Int64())

	c.decimalsMu.Lock()
	c.decimals[key] = d
	c.decimalsMu.Unlock()
	return d, nil
}

// FindIncomingTransfer resolves the most recent transfer of token into
// address. Attribution is best effort: nodes without the TokensTracker
// plugin answer "", not an error.
func (c *Client) FindIncomingTransfer(ctx context.Context, token, address string) (string, error) {
	tokenHash, err := neotx.ParseHash160(token)
	if err != nil {
		return "", err
	}

	var transfers *Nep17Transfers
	err = c.withFailover(ctx, func(rc *rpcClient) error {
		var callErr error
		transfers, callErr = rc.getNep17Transfers(ctx, address)
		return callErr
	})
	if err != nil {
		return "", nil
	}

	var txid string
	var best int64 = -1
	for _, tr := range transfers.Received {
		got, err := neotx.ParseHash160(tr.AssetHash)
		if err != nil || got != tokenHash {
			continue
		}
		if tr.BlockIndex > best {
			best = tr.BlockIndex
			txid = tr.TxHash
		}
	}
	return txid, nil
}

// BlockHeight returns the node's block count.
func (c *Client) BlockHeight(ctx context.Context) (uint32, error) {
	var count uint32
	err := c.withFailover(ctx, func(rc *rpcClient) error {
		var callErr error
		count, callErr = rc.getBlockCount(ctx)
		return callErr
	})
	if err != nil {
		return 0, classify(err)
	}
	return count, nil
}

func hash160Param(u neotx.Uint160) map[string]any {
	return map[string]any{"type": "Hash160", "value": u.Hex()}
}

// stackInt pulls the single Integer result off an invoke stack.
func stackInt(stack []StackItem) (*big.Int, error) {
	if len(stack) == 0 {
		return nil, errors.New("empty result stack")
	}
	item := stack[len(stack)-1]
	if item.Type != "Integer" {
		return nil, fmt.Errorf("unexpected stack item type %q", item.Type)
	}
	var raw string
	if err := json.Unmarshal(item.Value, &raw); err != nil {
		return nil, fmt.Errorf("unmarshal stack integer: %w", err)
	}
	v, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, fmt.Errorf("bad stack integer %q", raw)
	}
	return v, nil
}

// classify folds node answers into the ledger error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var nodeErr *rpcError
	if errors.As(err, &nodeErr) {
		msg := strings.ToLower(nodeErr.Message)
		switch {
		case strings.Contains(msg, "unknown transaction"), strings.Contains(msg, "unknowntransaction"):
			return ledger.ErrTxUnknown
		case strings.Contains(msg, "already exists"), strings.Contains(msg, "alreadyexists"):
			return ledger.ErrAlreadyExists
		}
	}
	return err
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimSpace(ep)
		if ep == "" {
			continue
		}
		ep = strings.TrimRight(ep, "/")
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
