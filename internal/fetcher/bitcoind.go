package fetcher

import (
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/zerolog"

	"nodesentinel/internal/faults"
)

// ChainInfo is the subset of getblockchaininfo the status report shows.
type ChainInfo struct {
	Chain                string  `json:"chain"`
	Blocks               int64   `json:"blocks"`
	Headers              int64   `json:"headers"`
	VerificationProgress float64 `json:"verificationprogress"`
	InitialBlockDownload bool    `json:"initialblockdownload"`
	SizeOnDisk           int64   `json:"size_on_disk"`
	Pruned               bool    `json:"pruned"`
}

// Synced reports whether the node has caught up with its best header.
func (c ChainInfo) Synced() bool {
	return !c.InitialBlockDownload && c.Blocks >= c.Headers
}

// NetworkInfo is the subset of getnetworkinfo the status report shows.
type NetworkInfo struct {
	Version     int64  `json:"version"`
	Subversion  string `json:"subversion"`
	Connections int64  `json:"connections"`
}

// NodeSource queries the local full node.
type NodeSource interface {
	BlockCount(ctx context.Context) (int64, error)
	ChainInfo(ctx context.Context) (ChainInfo, error)
	NetworkInfo(ctx context.Context) (NetworkInfo, error)
}

// BitcoindOptions parameterise the bitcoind JSON-RPC client.
type BitcoindOptions struct {
	RPCURL   string
	User     string
	Password string
	Timeout  time.Duration
}

// Bitcoind talks to bitcoind over JSON-RPC.
type Bitcoind struct {
	opts      BitcoindOptions
	logger    zerolog.Logger
	client    *rpc.Client
	clientMux sync.Mutex
}

// NewBitcoind builds a bitcoind client. The connection is dialled lazily.
func NewBitcoind(opts BitcoindOptions, logger zerolog.Logger) *Bitcoind {
	return &Bitcoind{opts: opts, logger: logger.With().Str("component", "bitcoind").Logger()}
}

// BlockCount returns the height of the best block.
func (b *Bitcoind) BlockCount(ctx context.Context) (int64, error) {
	var height int64
	if err := b.call(ctx, &height, "getblockcount"); err != nil {
		return 0, err
	}
	return height, nil
}

// ChainInfo returns sync status of the node.
func (b *Bitcoind) ChainInfo(ctx context.Context) (ChainInfo, error) {
	var info ChainInfo
	if err := b.call(ctx, &info, "getblockchaininfo"); err != nil {
		return ChainInfo{}, err
	}
	return info, nil
}

// NetworkInfo returns version and peer count of the node.
func (b *Bitcoind) NetworkInfo(ctx context.Context) (NetworkInfo, error) {
	var info NetworkInfo
	if err := b.call(ctx, &info, "getnetworkinfo"); err != nil {
		return NetworkInfo{}, err
	}
	return info, nil
}

// Close drops the cached connection.
func (b *Bitcoind) Close() {
	b.clientMux.Lock()
	defer b.clientMux.Unlock()
	if b.client != nil {
		b.client.Close()
		b.client = nil
	}
}

func (b *Bitcoind) call(ctx context.Context, result any, method string) error {
	if b.opts.RPCURL == "" {
		return faults.Sampling("bitcoind", errors.New("bitcoind rpc url not configured"))
	}

	timeout := b.opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := b.getClient(ctx)
	if err != nil {
		return faults.Sampling("bitcoind", err)
	}
	if err := client.CallContext(ctx, result, method); err != nil {
		b.logger.Debug().Err(err).Str("method", method).Msg("rpc call failed")
		return faults.Sampling("bitcoind", err)
	}
	return nil
}

func (b *Bitcoind) getClient(ctx context.Context) (*rpc.Client, error) {
	b.clientMux.Lock()
	defer b.clientMux.Unlock()

	if b.client != nil {
		return b.client, nil
	}

	var opts []rpc.ClientOption
	if b.opts.User != "" {
		token := base64.StdEncoding.EncodeToString([]byte(b.opts.User + ":" + b.opts.Password))
		opts = append(opts, rpc.WithHeader("Authorization", "Basic "+token))
	}

	client, err := rpc.DialOptions(ctx, b.opts.RPCURL, opts...)
	if err != nil {
		return nil, err
	}
	b.client = client
	return client, nil
}

var _ NodeSource = (*Bitcoind)(nil)
