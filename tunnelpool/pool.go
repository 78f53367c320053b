// Package tunnelpool maintains a per-destination set of inbound and
// outbound tunnels at configured hop counts and quantities, periodically
// testing them and recreating them before they expire.
package tunnelpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/netdb"
	"github.com/go-i2p/go-i2p-router/routererr"
	"github.com/go-i2p/go-i2p-router/transport"
	"github.com/go-i2p/go-i2p-router/tunnel"
)

// TestInterval is how often the pool pairs an outbound with an inbound
// tunnel and round-trips a DeliveryStatus clove through them.
const TestInterval = 15 * time.Second

// TestTimeout is how long a test round trip may take before the pair is
// marked failed.
const TestTimeout = 5 * time.Second

// RecreateMargin is how far ahead of a tunnel's expiration the pool spawns
// its replacement.
const RecreateMargin = 90 * time.Second

// Config is one destination's tunnel pool parameters.
type Config struct {
	InboundHops      int
	OutboundHops     int
	InboundCount     int
	OutboundCount    int
	ExplicitPeerList []identity.Hash // optional; cycled in order when set
}

// Builder constructs and dispatches tunnel builds; the tunnel manager (C8)
// implements this so the pool never touches transport or the build
// protocol directly.
type Builder interface {
	// BuildTunnel dispatches a build for the given role/hop path and
	// returns the resulting tunnel once the build settles (Established or
	// BuildFailed), or an error on timeout.
	BuildTunnel(ctx context.Context, dir tunnel.Direction, hops []*netdb.RouterInfo) (*tunnel.Tunnel, error)
}

// Tester sends a DeliveryStatus clove out through one tunnel and back in
// through another, used to confirm a pool's tunnels are still live.
type Tester interface {
	TestPair(ctx context.Context, out, in *tunnel.Tunnel) error
}

// Registrar hands a newly built tunnel to the tunnel manager so its
// dispatch loop can find it by ID; the tunnel manager (C8) implements
// this. Without it a pool's tunnels exist only in its own bookkeeping and
// can never be looked up when a message addressed to them arrives.
type Registrar interface {
	AddInbound(t *tunnel.Tunnel)
	AddOutbound(t *tunnel.Tunnel)
}

// Pool maintains Config's target counts of Established tunnels for one
// destination (or the router's own local destination when used for
// exploratory/client tunnels).
type Pool struct {
	mu        sync.Mutex
	cfg       Config
	db        *netdb.NetDB
	build     Builder
	test      Tester
	registrar Registrar
	rnd       transport.Rand
	log       *logrus.Entry
	clock     func() time.Time
	detach    bool

	inbound  []*tunnel.Tunnel
	outbound []*tunnel.Tunnel

	explicitCursor int
}

// New constructs a Pool. clock defaults to time.Now when nil.
func New(cfg Config, db *netdb.NetDB, build Builder, test Tester, registrar Registrar, rnd transport.Rand, log *logrus.Entry, clock func() time.Time) *Pool {
	if clock == nil {
		clock = time.Now
	}
	return &Pool{
		cfg:       cfg,
		db:        db,
		build:     build,
		test:      test,
		registrar: registrar,
		rnd:       rnd,
		log:       log.WithField("component", "tunnelpool"),
		clock:     clock,
	}
}

// Inbound and Outbound return the pool's current tunnel sets.
func (p *Pool) Inbound() []*tunnel.Tunnel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*tunnel.Tunnel(nil), p.inbound...)
}

func (p *Pool) Outbound() []*tunnel.Tunnel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*tunnel.Tunnel(nil), p.outbound...)
}

// CreateTunnels builds replacements for any missing or near-expiry tunnel
// so both sets hold Config's target counts, per the tunnel manager's
// periodic maintenance tick.
func (p *Pool) CreateTunnels(ctx context.Context) {
	p.mu.Lock()
	if p.detach {
		p.mu.Unlock()
		return
	}
	now := p.clock()
	p.inbound = pruneDead(p.inbound, now)
	p.outbound = pruneDead(p.outbound, now)
	needInbound := p.cfg.InboundCount - countLive(p.inbound, now)
	needOutbound := p.cfg.OutboundCount - countLive(p.outbound, now)
	p.mu.Unlock()

	for i := 0; i < needInbound; i++ {
		p.spawn(ctx, tunnel.DirectionInbound, p.cfg.InboundHops)
	}
	for i := 0; i < needOutbound; i++ {
		p.spawn(ctx, tunnel.DirectionOutbound, p.cfg.OutboundHops)
	}
}

func pruneDead(ts []*tunnel.Tunnel, now time.Time) []*tunnel.Tunnel {
	out := ts[:0]
	for _, t := range ts {
		t.AdvanceLifecycle(now)
		if t.State != tunnel.StateExpired && t.State != tunnel.StateBuildFailed {
			out = append(out, t)
		}
	}
	return out
}

func countLive(ts []*tunnel.Tunnel, now time.Time) int {
	n := 0
	for _, t := range ts {
		if t.State == tunnel.StateEstablished && !t.NearExpiry(now) {
			n++
		}
	}
	return n
}

func (p *Pool) spawn(ctx context.Context, dir tunnel.Direction, hops int) {
	path, err := p.selectPath(hops)
	if err != nil {
		p.log.WithError(err).Warn("peer selection failed, skipping this round")
		return
	}
	t, err := p.build.BuildTunnel(ctx, dir, path)
	if err != nil {
		p.log.WithError(err).Warn("tunnel build failed")
		return
	}
	p.mu.Lock()
	if dir == tunnel.DirectionInbound {
		p.inbound = append(p.inbound, t)
	} else {
		p.outbound = append(p.outbound, t)
	}
	p.mu.Unlock()

	if dir == tunnel.DirectionInbound {
		p.registrar.AddInbound(t)
	} else {
		p.registrar.AddOutbound(t)
	}
}

// selectPath picks hops peers: from ExplicitPeerList in cycled order when
// set, else a random high-bandwidth, transport-compatible chain from
// NetDB, per the pool's peer selection rule.
func (p *Pool) selectPath(hops int) ([]*netdb.RouterInfo, error) {
	if len(p.cfg.ExplicitPeerList) > 0 {
		return p.selectExplicitPath(hops)
	}
	return p.selectRandomPath(hops)
}

func (p *Pool) selectExplicitPath(hops int) ([]*netdb.RouterInfo, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	path := make([]*netdb.RouterInfo, 0, hops)
	for i := 0; i < hops; i++ {
		hash := p.cfg.ExplicitPeerList[p.explicitCursor%len(p.cfg.ExplicitPeerList)]
		p.explicitCursor++
		info, ok := p.db.FindPeer(hash)
		if !ok {
			return nil, routererr.New(routererr.Unreachable, "tunnelpool.selectExplicitPath",
				fmt.Errorf("explicit peer %s not in netdb", hash))
		}
		path = append(path, info)
	}
	return path, nil
}

func (p *Pool) selectRandomPath(hops int) ([]*netdb.RouterInfo, error) {
	path := make([]*netdb.RouterInfo, 0, hops)
	var prev *netdb.RouterInfo
	used := make(map[identity.Hash]struct{})
	for i := 0; i < hops; i++ {
		filter := func(info *netdb.RouterInfo) bool {
			hash := info.Identity.Hash()
			if _, seen := used[hash]; seen {
				return false
			}
			if info.Capabilities&(netdb.CapHighBW|netdb.CapUnlimitedBW) == 0 {
				return false
			}
			if prev != nil && !prev.CompatibleTransports(info) {
				return false
			}
			return true
		}
		info, ok := p.db.RandomPeer(p.rnd, filter)
		if !ok {
			return nil, routererr.New(routererr.Unreachable, "tunnelpool.selectRandomPath",
				fmt.Errorf("no compatible high-bandwidth peer available for hop %d", i))
		}
		used[info.Identity.Hash()] = struct{}{}
		path = append(path, info)
		prev = info
	}
	return path, nil
}

// TestTunnels pairs each outbound tunnel with each inbound tunnel and
// round-trips a DeliveryStatus clove through them, marking both as failed
// on timeout.
func (p *Pool) TestTunnels(ctx context.Context) {
	p.mu.Lock()
	outs := append([]*tunnel.Tunnel(nil), p.outbound...)
	ins := append([]*tunnel.Tunnel(nil), p.inbound...)
	p.mu.Unlock()

	for _, out := range outs {
		for _, in := range ins {
			testCtx, cancel := context.WithTimeout(ctx, TestTimeout)
			err := p.test.TestPair(testCtx, out, in)
			cancel()
			if err != nil {
				out.State = tunnel.StateBuildFailed
				in.State = tunnel.StateBuildFailed
				p.log.WithError(err).Debug("tunnel pair test failed")
			}
		}
	}
}

// Detach marks the pool destroyed: its tunnels finish their current
// lifetime pool-less and are then discarded by the tunnel manager, which
// never replaces a detached pool's tunnels.
func (p *Pool) Detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.detach = true
}

// Detached reports whether Detach was called.
func (p *Pool) Detached() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.detach
}
