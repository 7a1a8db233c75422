package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	"github.com/rs/zerolog"

	"nodesentinel/internal/lightning"
)

const (
	pkAlice = "02aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	pkBob   = "03bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
	pkCarol = "02cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc"
)

func newLightningHarness() (*fakeclock.FakeClock, *captureRouter, *stubLightning, *LightningMonitor) {
	clk := fakeclock.NewFakeClock(t0)
	router := &captureRouter{}
	client := &stubLightning{aliases: map[string]string{pkAlice: "alice_node", pkBob: "bob"}}
	mon := NewLightningMonitor(testConfig(), client, nil, router, nil, clk, zerolog.Nop())
	return clk, router, client, mon
}

func lnTick(t *testing.T, clk *fakeclock.FakeClock, mon *LightningMonitor) {
	t.Helper()
	clk.Increment(10 * time.Second)
	if err := mon.Tick(context.Background(), clk.Now()); err != nil {
		t.Fatalf("tick: %v", err)
	}
}

func TestLightningFirstSnapshotIsSilent(t *testing.T) {
	clk, router, client, mon := newLightningHarness()
	client.peers = []lightning.Peer{{PubKey: pkAlice}, {PubKey: pkBob}}
	client.channels = []lightning.Channel{{ChannelPoint: "tx:0", RemotePubKey: pkAlice}}
	client.invoices = []lightning.Invoice{{Hash: "h1", ValueSat: 1000, Settled: true}}

	lnTick(t, clk, mon)
	if n := len(router.all()); n != 0 {
		t.Fatalf("baseline must not alert, got %d", n)
	}
	lnTick(t, clk, mon)
	if n := len(router.all()); n != 0 {
		t.Fatalf("unchanged snapshot must not alert, got %d", n)
	}
}

func TestLightningPeerDiff(t *testing.T) {
	clk, router, client, mon := newLightningHarness()
	client.peers = []lightning.Peer{{PubKey: pkAlice}}
	lnTick(t, clk, mon)

	client.peers = []lightning.Peer{{PubKey: pkBob}, {PubKey: pkCarol}}
	lnTick(t, clk, mon)

	connected := router.withKey("ln.peer.connected:" + pkCarol)
	if len(connected) != 1 || !strings.Contains(connected[0].Message, lightning.ShortKey(pkCarol)) {
		t.Fatalf("carol has no alias and must show the short key, got %+v", connected)
	}
	if n := len(router.withKey("ln.peer.connected:" + pkBob)); n != 1 {
		t.Fatalf("want bob connected once, got %d", n)
	}
	gone := router.withKey("ln.peer.disconnected:" + pkAlice)
	if len(gone) != 1 || !strings.Contains(gone[0].Message, `alice\_node`) {
		t.Fatalf("want escaped alias in disconnect alert, got %+v", gone)
	}
}

func TestLightningFailedListingKeepsSnapshot(t *testing.T) {
	clk, router, client, mon := newLightningHarness()
	client.peers = []lightning.Peer{{PubKey: pkAlice}}
	lnTick(t, clk, mon)

	client.peersErr = errors.New("lnd unreachable")
	lnTick(t, clk, mon)
	if n := len(router.all()); n != 0 {
		t.Fatalf("failure must not alert, got %d", n)
	}

	client.peersErr = nil
	client.peers = []lightning.Peer{{PubKey: pkAlice}, {PubKey: pkBob}}
	lnTick(t, clk, mon)
	events := router.all()
	if len(events) != 1 || events[0].Key != "ln.peer.connected:"+pkBob {
		t.Fatalf("want only bob reported, got %+v", events)
	}
}

func TestLightningChannelsAndInvoices(t *testing.T) {
	clk, router, client, mon := newLightningHarness()
	client.channels = []lightning.Channel{{ChannelPoint: "tx:0", RemotePubKey: pkAlice}}
	client.invoices = []lightning.Invoice{
		{Hash: "h1", ValueSat: 1000, Settled: true},
		{Hash: "h2", ValueSat: 21000, Settled: false},
	}
	lnTick(t, clk, mon)

	client.channels = []lightning.Channel{{ChannelPoint: "tx:1", RemotePubKey: pkBob}}
	client.invoices[1].Settled = true
	lnTick(t, clk, mon)

	opened := router.withKey("ln.channel.opened:tx:1")
	if len(opened) != 1 || !strings.Contains(opened[0].Message, "Channel opened with *bob*") {
		t.Fatalf("got %+v", opened)
	}
	closed := router.withKey("ln.channel.closed:tx:0")
	if len(closed) != 1 || !strings.Contains(closed[0].Message, "tx:0") || !strings.Contains(closed[0].Message, `alice\_node`) {
		t.Fatalf("closed channel must name the former peer, got %+v", closed)
	}
	settled := router.withKey("ln.invoice:h2")
	if len(settled) != 1 || !strings.Contains(settled[0].Message, "21,000 sats") {
		t.Fatalf("got %+v", settled)
	}
	if n := len(router.withKey("ln.invoice:h1")); n != 0 {
		t.Fatal("invoice settled before the baseline must stay quiet")
	}
}

func TestLightningAliasCached(t *testing.T) {
	clk, _, client, mon := newLightningHarness()
	lnTick(t, clk, mon)
	for i := 0; i < 3; i++ {
		client.peers = []lightning.Peer{{PubKey: pkBob}}
		lnTick(t, clk, mon)
		client.peers = nil
		lnTick(t, clk, mon)
	}
	if client.aliasLookup != 1 {
		t.Fatalf("alias must be looked up once, got %d", client.aliasLookup)
	}
}
