package lightning

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"nodesentinel/internal/faults"
)

// LNDOptions parameterise the REST client.
type LNDOptions struct {
	RESTURL      string
	TLSCertPath  string
	MacaroonPath string
	Timeout      time.Duration
	InvoiceLimit int
}

// LND talks to lnd's REST gateway.
type LND struct {
	baseURL  string
	macaroon string
	limit    int
	client   *http.Client
	logger   zerolog.Logger
}

// NewLND reads the macaroon and TLS certificate from disk.
func NewLND(opts LNDOptions, logger zerolog.Logger) (*LND, error) {
	raw, err := os.ReadFile(opts.MacaroonPath)
	if err != nil {
		return nil, fmt.Errorf("read macaroon: %w", err)
	}

	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if opts.TLSCertPath != "" {
		pem, err := os.ReadFile(opts.TLSCertPath)
		if err != nil {
			return nil, fmt.Errorf("read tls cert: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, errors.New("tls cert contains no certificates")
		}
		tlsConfig.RootCAs = pool
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	return newLND(opts, hex.EncodeToString(raw), &http.Client{Timeout: timeout, Transport: transport}, logger), nil
}

func newLND(opts LNDOptions, macaroonHex string, client *http.Client, logger zerolog.Logger) *LND {
	limit := opts.InvoiceLimit
	if limit <= 0 {
		limit = 100
	}
	return &LND{
		baseURL:  strings.TrimRight(opts.RESTURL, "/"),
		macaroon: macaroonHex,
		limit:    limit,
		client:   client,
		logger:   logger.With().Str("component", "lnd").Logger(),
	}
}

// Peers lists connected peers.
func (l *LND) Peers(ctx context.Context) ([]Peer, error) {
	var resp struct {
		Peers []struct {
			PubKey  string `json:"pub_key"`
			Address string `json:"address"`
		} `json:"peers"`
	}
	if err := l.get(ctx, "/v1/peers", &resp); err != nil {
		return nil, err
	}
	peers := make([]Peer, 0, len(resp.Peers))
	for i, p := range resp.Peers {
		if p.PubKey == "" {
			return nil, faults.Parse("lnd", &ErrMissingField{Entity: "peer", Field: "pub_key", Index: i})
		}
		peers = append(peers, Peer{PubKey: p.PubKey, Address: p.Address})
	}
	return peers, nil
}

// Channels lists open channels.
func (l *LND) Channels(ctx context.Context) ([]Channel, error) {
	var resp struct {
		Channels []struct {
			ChannelPoint string `json:"channel_point"`
			RemotePubKey string `json:"remote_pubkey"`
			Capacity     string `json:"capacity"`
			LocalBalance string `json:"local_balance"`
			Active       bool   `json:"active"`
		} `json:"channels"`
	}
	if err := l.get(ctx, "/v1/channels", &resp); err != nil {
		return nil, err
	}
	channels := make([]Channel, 0, len(resp.Channels))
	for i, c := range resp.Channels {
		if c.ChannelPoint == "" {
			return nil, faults.Parse("lnd", &ErrMissingField{Entity: "channel", Field: "channel_point", Index: i})
		}
		channels = append(channels, Channel{
			ChannelPoint: c.ChannelPoint,
			RemotePubKey: c.RemotePubKey,
			Capacity:     parseInt(c.Capacity),
			LocalBalance: parseInt(c.LocalBalance),
			Active:       c.Active,
		})
	}
	return channels, nil
}

// Invoices lists the most recent invoices, newest last.
func (l *LND) Invoices(ctx context.Context) ([]Invoice, error) {
	q := url.Values{}
	q.Set("num_max_invoices", strconv.Itoa(l.limit))
	q.Set("reversed", "true")

	var resp struct {
		Invoices []struct {
			RHash   string `json:"r_hash"`
			Value   string `json:"value"`
			Settled bool   `json:"settled"`
			State   string `json:"state"`
			Memo    string `json:"memo"`
		} `json:"invoices"`
	}
	if err := l.get(ctx, "/v1/invoices?"+q.Encode(), &resp); err != nil {
		return nil, err
	}
	invoices := make([]Invoice, 0, len(resp.Invoices))
	for i, inv := range resp.Invoices {
		if inv.RHash == "" {
			return nil, faults.Parse("lnd", &ErrMissingField{Entity: "invoice", Field: "r_hash", Index: i})
		}
		hash := inv.RHash
		if raw, err := base64.StdEncoding.DecodeString(inv.RHash); err == nil {
			hash = hex.EncodeToString(raw)
		}
		invoices = append(invoices, Invoice{
			Hash:     hash,
			ValueSat: parseInt(inv.Value),
			Settled:  inv.Settled || inv.State == "SETTLED",
			Memo:     inv.Memo,
		})
	}
	return invoices, nil
}

// NodeAlias looks a node up in the channel graph. Unknown nodes return "".
func (l *LND) NodeAlias(ctx context.Context, pubKey string) (string, error) {
	var resp struct {
		Node struct {
			Alias string `json:"alias"`
		} `json:"node"`
	}
	err := l.get(ctx, "/v1/graph/node/"+url.PathEscape(pubKey), &resp)
	var statusErr *statusError
	if errors.As(err, &statusErr) && statusErr.status == http.StatusNotFound {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return resp.Node.Alias, nil
}

// Info returns node identity and sync state.
func (l *LND) Info(ctx context.Context) (Info, error) {
	var resp struct {
		Alias             string `json:"alias"`
		IdentityPubKey    string `json:"identity_pubkey"`
		Version           string `json:"version"`
		BlockHeight       int64  `json:"block_height"`
		NumPeers          int64  `json:"num_peers"`
		NumActiveChannels int64  `json:"num_active_channels"`
		SyncedToChain     bool   `json:"synced_to_chain"`
	}
	if err := l.get(ctx, "/v1/getinfo", &resp); err != nil {
		return Info{}, err
	}
	if resp.IdentityPubKey == "" {
		return Info{}, faults.Parse("lnd", &ErrMissingField{Entity: "info", Field: "identity_pubkey"})
	}
	return Info{
		Alias:          resp.Alias,
		PubKey:         resp.IdentityPubKey,
		Version:        resp.Version,
		BlockHeight:    resp.BlockHeight,
		NumPeers:       resp.NumPeers,
		ActiveChannels: resp.NumActiveChannels,
		SyncedToChain:  resp.SyncedToChain,
	}, nil
}

// WalletBalance returns the on-chain balance.
func (l *LND) WalletBalance(ctx context.Context) (Balance, error) {
	var resp struct {
		Total       string `json:"total_balance"`
		Confirmed   string `json:"confirmed_balance"`
		Unconfirmed string `json:"unconfirmed_balance"`
	}
	if err := l.get(ctx, "/v1/balance/blockchain", &resp); err != nil {
		return Balance{}, err
	}
	return Balance{
		Total:       parseInt(resp.Total),
		Confirmed:   parseInt(resp.Confirmed),
		Unconfirmed: parseInt(resp.Unconfirmed),
	}, nil
}

type statusError struct {
	status int
	body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("lnd returned status %d: %s", e.status, e.body)
}

func (l *LND) get(ctx context.Context, path string, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create lnd request: %w", err)
	}
	req.Header.Set("Grpc-Metadata-macaroon", l.macaroon)

	resp, err := l.client.Do(req)
	if err != nil {
		return faults.Sampling("lnd", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return faults.Sampling("lnd", err)
	}
	if resp.StatusCode != http.StatusOK {
		return faults.Sampling("lnd", &statusError{status: resp.StatusCode, body: strings.TrimSpace(string(body))})
	}
	if err := json.Unmarshal(body, into); err != nil {
		return faults.Parse("lnd", fmt.Errorf("decode %s: %w", path, err))
	}
	return nil
}

// lnd encodes 64-bit integers as JSON strings
func parseInt(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

var _ Client = (*LND)(nil)
