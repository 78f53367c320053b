package router

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/go-i2p/go-i2p-router/garlic"
	"github.com/go-i2p/go-i2p-router/i2np"
	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/netdb"
	"github.com/go-i2p/go-i2p-router/routererr"
)

// CreateDestination returns the identity remote peers address leases and
// datagrams to: this core's single local destination is the router's own
// garlic identity, the same one garlic.Destination bootstraps sessions
// under. A client-tunnel-backed destination distinct from the router
// itself is out of scope (see SPEC_FULL.md's Non-goals on the streaming
// protocol and the application layer above it).
func (r *Router) CreateDestination() *identity.Identity {
	return r.ownIdentity
}

// RequestLeaseSet resolves target's current lease-set, answering out of the
// local NetDB when possible and falling back to a recursive floodfill
// lookup otherwise.
func (r *Router) RequestLeaseSet(ctx context.Context, target identity.Hash) (*netdb.LeaseSet, error) {
	if ls, ok := r.db.FindLeaseSet(target); ok {
		return ls, nil
	}
	return r.db.Request(ctx, r.lookup, target)
}

// SendDatagram wraps payload as a Data I2NP message inside a garlic clove
// addressed to target, delivered through the freshest lease in target's
// lease-set: WrapForPeer handles session bootstrap or reuse, and the wrapped
// garlic message is forwarded to the lease's tunnel gateway the same way any
// other Tunnel-delivery clove would be.
func (r *Router) SendDatagram(ctx context.Context, target identity.Hash, payload []byte) error {
	ls, err := r.RequestLeaseSet(ctx, target)
	if err != nil {
		return err
	}
	lease, ok := freshestLease(ls, r.clock())
	if !ok {
		return routererr.New(routererr.Unreachable, "router.Router.SendDatagram", errNoUsableLease)
	}

	dataMsg, err := i2np.Build(r.rnd, i2np.TypeData, payload, nil)
	if err != nil {
		return fmt.Errorf("router.Router.SendDatagram: %w", err)
	}
	dataWire, err := dataMsg.Serialize()
	if err != nil {
		return err
	}

	msgID, err := randomMessageID(r.rnd)
	if err != nil {
		return err
	}
	destPubKey := new(big.Int).SetBytes(ls.EncryptionKey[:])
	wire, err := r.dest.WrapForPeer(r.rnd, r.clock(), lease.TunnelGateway, destPubKey, msgID, garlic.CloveLocal, nil, dataWire, nil)
	if err != nil {
		return err
	}

	garlicMsg, err := i2np.Build(r.rnd, i2np.TypeGarlic, wire, nil)
	if err != nil {
		return fmt.Errorf("router.Router.SendDatagram: %w", err)
	}
	return r.gateway.SendToGateway(ctx, lease.TunnelGateway, lease.TunnelID, garlicMsg)
}

// freshestLease picks the lease with the latest expiration among those not
// yet expired at now, the same freshness preference a real client picks a
// lease by when more than one is still live.
func freshestLease(ls *netdb.LeaseSet, now time.Time) (netdb.Lease, bool) {
	var best netdb.Lease
	found := false
	for _, l := range ls.Leases {
		if !l.Expiration.After(now) {
			continue
		}
		if !found || l.Expiration.After(best.Expiration) {
			best = l
			found = true
		}
	}
	return best, found
}

var errNoUsableLease = simpleErr("lease-set has no unexpired lease")

// SetReachable toggles this router's self-reported reachability, the
// SW/NR split an admin surface uses to mark the router firewalled or
// unreachable without restarting it. This core does not publish its own
// RouterInfo into NetDB, so the flag is observational only for now.
func (r *Router) SetReachable(reachable bool) {
	r.adminMu.Lock()
	defer r.adminMu.Unlock()
	r.reachable = reachable
}

// Reachable reports the value last set by SetReachable (true by default).
func (r *Router) Reachable() bool {
	r.adminMu.Lock()
	defer r.adminMu.Unlock()
	return r.reachable
}

// SetFloodfill toggles whether this router accepts transit tunnel build
// requests, the tunnel-manager-level admission control that backs the
// admin API's floodfill/accepting-traffic toggle.
func (r *Router) SetFloodfill(accept bool) {
	r.manager.SetAcceptsTunnels(accept)
}

// SetBandwidth records the bandwidth tier in the router's Config. No peer
// selection or transit admission code in this module reads that field.
func (r *Router) SetBandwidth(tier netdb.BandwidthTier) {
	r.adminMu.Lock()
	defer r.adminMu.Unlock()
	r.cfg.Bandwidth = tier
}
