package tunnelpool

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/netdb"
	"github.com/go-i2p/go-i2p-router/transport"
	"github.com/go-i2p/go-i2p-router/tunnel"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

type fakeBuilder struct {
	fail bool
}

func (b *fakeBuilder) BuildTunnel(ctx context.Context, dir tunnel.Direction, hops []*netdb.RouterInfo) (*tunnel.Tunnel, error) {
	if b.fail {
		return nil, context.DeadlineExceeded
	}
	return &tunnel.Tunnel{
		Direction: dir,
		State:     tunnel.StateEstablished,
		CreatedAt: time.Now(),
	}, nil
}

type fakeTester struct {
	err error
}

func (t *fakeTester) TestPair(ctx context.Context, out, in *tunnel.Tunnel) error {
	return t.err
}

type fakeRegistrar struct {
	inbound  []*tunnel.Tunnel
	outbound []*tunnel.Tunnel
}

func (r *fakeRegistrar) AddInbound(t *tunnel.Tunnel)  { r.inbound = append(r.inbound, t) }
func (r *fakeRegistrar) AddOutbound(t *tunnel.Tunnel) { r.outbound = append(r.outbound, t) }

func randomRouterInfo(t *testing.T, highBW bool) *netdb.RouterInfo {
	t.Helper()
	rnd := transport.CryptoRand{}
	kp := make([]byte, identity.EncPubKeyLen)
	if err := rnd.Bytes(kp); err != nil {
		t.Fatalf("rand: %v", err)
	}
	id := &identity.Identity{}
	copy(id.EncryptionKey[:], kp)
	caps := netdb.Capability(0)
	if highBW {
		caps = netdb.CapHighBW
	}
	return &netdb.RouterInfo{
		Identity:     id,
		Published:    time.Now(),
		Addresses:    []netdb.Address{{Transport: "NTCP2"}},
		Capabilities: caps,
		LastSeen:     time.Now(),
	}
}

func TestCreateTunnelsFillsTargetCounts(t *testing.T) {
	db, err := netdb.New(testLog(), nil)
	if err != nil {
		t.Fatalf("netdb.New: %v", err)
	}
	for i := 0; i < 5; i++ {
		info := randomRouterInfo(t, true)
		if err := db.AddPeer(info, true); err != nil {
			t.Fatalf("AddPeer: %v", err)
		}
	}

	cfg := Config{InboundHops: 2, OutboundHops: 2, InboundCount: 2, OutboundCount: 2}
	reg := &fakeRegistrar{}
	p := New(cfg, db, &fakeBuilder{}, &fakeTester{}, reg, transport.CryptoRand{}, testLog(), nil)

	p.CreateTunnels(context.Background())

	if len(p.Inbound()) != 2 {
		t.Fatalf("expected 2 inbound tunnels, got %d", len(p.Inbound()))
	}
	if len(p.Outbound()) != 2 {
		t.Fatalf("expected 2 outbound tunnels, got %d", len(p.Outbound()))
	}
	if len(reg.inbound) != 2 || len(reg.outbound) != 2 {
		t.Fatalf("expected every spawned tunnel registered with the manager, got %d inbound %d outbound",
			len(reg.inbound), len(reg.outbound))
	}
}

func TestSelectExplicitPathCyclesInOrder(t *testing.T) {
	db, err := netdb.New(testLog(), nil)
	if err != nil {
		t.Fatalf("netdb.New: %v", err)
	}
	info := randomRouterInfo(t, true)
	hash := info.Identity.Hash()
	if err := db.AddPeer(info, true); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	cfg := Config{InboundHops: 2, OutboundHops: 1, ExplicitPeerList: []identity.Hash{hash}}
	p := New(cfg, db, &fakeBuilder{}, &fakeTester{}, &fakeRegistrar{}, transport.CryptoRand{}, testLog(), nil)

	path, err := p.selectPath(2)
	if err != nil {
		t.Fatalf("selectPath: %v", err)
	}
	if len(path) != 2 {
		t.Fatalf("expected 2 hops, got %d", len(path))
	}
	if path[0].Identity.Hash() != hash || path[1].Identity.Hash() != hash {
		t.Fatalf("expected both hops to cycle through the single explicit peer")
	}
}

func TestSelectRandomPathRejectsIncompatibleTransports(t *testing.T) {
	db, err := netdb.New(testLog(), nil)
	if err != nil {
		t.Fatalf("netdb.New: %v", err)
	}
	a := randomRouterInfo(t, true)
	a.Addresses = []netdb.Address{{Transport: "NTCP2"}}
	b := randomRouterInfo(t, true)
	b.Addresses = []netdb.Address{{Transport: "SSU"}}
	if err := db.AddPeer(a, true); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if err := db.AddPeer(b, true); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	cfg := Config{}
	p := New(cfg, db, &fakeBuilder{}, &fakeTester{}, &fakeRegistrar{}, transport.CryptoRand{}, testLog(), nil)
	if _, err := p.selectRandomPath(2); err == nil {
		t.Fatalf("expected failure selecting a 2-hop path from two transport-incompatible peers")
	}
}

func TestTestTunnelsMarksPairFailedOnError(t *testing.T) {
	db, err := netdb.New(testLog(), nil)
	if err != nil {
		t.Fatalf("netdb.New: %v", err)
	}
	cfg := Config{}
	p := New(cfg, db, &fakeBuilder{}, &fakeTester{err: context.DeadlineExceeded}, &fakeRegistrar{}, transport.CryptoRand{}, testLog(), nil)

	out := &tunnel.Tunnel{State: tunnel.StateEstablished}
	in := &tunnel.Tunnel{State: tunnel.StateEstablished}
	p.outbound = []*tunnel.Tunnel{out}
	p.inbound = []*tunnel.Tunnel{in}

	p.TestTunnels(context.Background())

	if out.State != tunnel.StateBuildFailed || in.State != tunnel.StateBuildFailed {
		t.Fatalf("expected both tunnels marked BuildFailed after a failed test")
	}
}
