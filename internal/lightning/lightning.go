package lightning

import (
	"context"
	"fmt"
)

// Peer is a connected Lightning peer.
type Peer struct {
	PubKey  string
	Address string
}

// Channel is an open channel.
type Channel struct {
	ChannelPoint string
	RemotePubKey string
	Capacity     int64
	LocalBalance int64
	Active       bool
}

// Invoice is an invoice issued by the node. Hash is the hex payment hash.
type Invoice struct {
	Hash     string
	ValueSat int64
	Settled  bool
	Memo     string
}

// Info is the node identity and sync state.
type Info struct {
	Alias          string
	PubKey         string
	Version        string
	BlockHeight    int64
	NumPeers       int64
	ActiveChannels int64
	SyncedToChain  bool
}

// Balance is the on-chain wallet balance in sats.
type Balance struct {
	Total       int64
	Confirmed   int64
	Unconfirmed int64
}

// Client is what the monitor needs from a Lightning node. Implementations
// must return ErrMissingField rather than entities without identifiers.
type Client interface {
	Peers(ctx context.Context) ([]Peer, error)
	Channels(ctx context.Context) ([]Channel, error)
	Invoices(ctx context.Context) ([]Invoice, error)
	NodeAlias(ctx context.Context, pubKey string) (string, error)
	Info(ctx context.Context) (Info, error)
	WalletBalance(ctx context.Context) (Balance, error)
}

// ErrMissingField reports an entity lacking a required field.
type ErrMissingField struct {
	Entity string
	Field  string
	Index  int
}

func (e *ErrMissingField) Error() string {
	return fmt.Sprintf("%s #%d: missing required field %q", e.Entity, e.Index, e.Field)
}

// ShortKey abbreviates a pubkey for display.
func ShortKey(pubKey string) string {
	if len(pubKey) <= 10 {
		return pubKey
	}
	return pubKey[:10] + "..."
}
