package netdb

import (
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/routererr"
	"github.com/go-i2p/go-i2p-router/transport"
)

const (
	// StartupGracePeriod suppresses Sweep's unrefreshed-peer eviction and
	// unreachable-flagging for this long after the store is created. The
	// LRU cache's capacity eviction is not suspended during this window.
	StartupGracePeriod = 10 * time.Minute
	// UnrefreshedTTL is how long a peer descriptor may go without a
	// refreshing DatabaseStore before it becomes eviction-eligible.
	UnrefreshedTTL = time.Hour
	// DefaultPeerCapacity bounds the peer index; over capacity the oldest
	// entries by access recency are evicted via the LRU cache.
	DefaultPeerCapacity = 4000
)

type peerEntry struct {
	info    *RouterInfo
	profile Profile
}

// NetDB is the local store of peer descriptors and lease-sets. It exposes
// a single mutex guarding both indices — contention is low because every
// operation is a micro-operation.
type NetDB struct {
	mu         sync.RWMutex
	peers      *lru.Cache[identity.Hash, *peerEntry]
	leasesets  map[identity.Hash]*LeaseSet
	floodfills map[identity.Hash]struct{}

	startedAt time.Time
	clock     func() time.Time
	log       *logrus.Entry

	lookups *lookupManager
}

// New constructs an empty NetDB. clock defaults to time.Now when nil.
func New(log *logrus.Entry, clock func() time.Time) (*NetDB, error) {
	if clock == nil {
		clock = time.Now
	}
	peers, err := lru.New[identity.Hash, *peerEntry](DefaultPeerCapacity)
	if err != nil {
		return nil, fmt.Errorf("netdb: allocate peer cache: %w", err)
	}
	n := &NetDB{
		peers:      peers,
		leasesets:  make(map[identity.Hash]*LeaseSet),
		floodfills: make(map[identity.Hash]struct{}),
		startedAt:  clock(),
		clock:      clock,
		log:        log.WithField("component", "netdb"),
	}
	n.lookups = newLookupManager(n)
	return n, nil
}

// inGracePeriod reports whether the startup grace window is still active.
func (n *NetDB) inGracePeriod() bool {
	return n.clock().Sub(n.startedAt) < StartupGracePeriod
}

// AddPeer parses, verifies, and stores a RouterInfo. A peer whose signature
// does not verify is discarded without being stored or blacklisted — the
// source's existing behaviour, preserved per the open design question on
// bad-signature caching.
func (n *NetDB) AddPeer(info *RouterInfo, sigOK bool) error {
	if !sigOK {
		n.log.WithField("hash", info.Identity.Hash()).Debug("discarding peer with bad signature")
		return routererr.New(routererr.BadSignature, "netdb.AddPeer", fmt.Errorf("signature does not verify"))
	}

	hash := info.Identity.Hash()
	info.LastSeen = n.clock()

	n.mu.Lock()
	defer n.mu.Unlock()

	if existing, ok := n.peers.Peek(hash); ok {
		if !info.Published.After(existing.info.Published) {
			return nil // not newer, ignore
		}
		existing.info = info
	} else {
		n.peers.Add(hash, &peerEntry{info: info})
	}

	if info.Capabilities&CapFloodfill != 0 {
		n.floodfills[hash] = struct{}{}
	} else {
		delete(n.floodfills, hash)
	}
	return nil
}

// FindPeer returns the stored descriptor for hash, if any.
func (n *NetDB) FindPeer(hash identity.Hash) (*RouterInfo, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.peers.Get(hash)
	if !ok {
		return nil, false
	}
	return e.info, true
}

// Profile returns a copy of the per-peer profile for hash.
func (n *NetDB) Profile(hash identity.Hash) (Profile, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	e, ok := n.peers.Peek(hash)
	if !ok {
		return Profile{}, false
	}
	return e.profile, true
}

// UpdateProfile applies fn to the named peer's profile in place.
func (n *NetDB) UpdateProfile(hash identity.Hash, fn func(*Profile)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if e, ok := n.peers.Peek(hash); ok {
		fn(&e.profile)
	}
}

// AddLeaseSet stores a LeaseSet, verified by the caller, keyed by the
// destination's identity hash.
func (n *NetDB) AddLeaseSet(ls *LeaseSet) {
	ls.LastSeen = n.clock()
	hash := ls.Destination.Hash()
	n.mu.Lock()
	defer n.mu.Unlock()
	n.leasesets[hash] = ls
}

// FindLeaseSet returns the stored lease-set for hash, if any. Expiry is
// not checked here; Sweep removes expired lease-sets.
func (n *NetDB) FindLeaseSet(hash identity.Hash) (*LeaseSet, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	ls, ok := n.leasesets[hash]
	if !ok {
		return nil, false
	}
	return ls, true
}

// RandomPeer returns a uniformly random peer among those filter accepts,
// using rnd to pick the index.
func (n *NetDB) RandomPeer(rnd transport.Rand, filter func(*RouterInfo) bool) (*RouterInfo, bool) {
	n.mu.RLock()
	all := lo.FilterMap(n.peers.Keys(), func(hash identity.Hash, _ int) (*RouterInfo, bool) {
		e, ok := n.peers.Peek(hash)
		if !ok {
			return nil, false
		}
		return e.info, true
	})
	n.mu.RUnlock()

	candidates := all
	if filter != nil {
		candidates = lo.Filter(all, func(info *RouterInfo, _ int) bool { return filter(info) })
	}
	if len(candidates) == 0 {
		return nil, false
	}
	i, err := rnd.IntRange(0, len(candidates))
	if err != nil {
		return nil, false
	}
	return candidates[i], true
}

// RoutingKey computes the "daily reshuffled" routing key for hash:
// SHA-256(hash ‖ yyyymmdd-UTC).
func RoutingKey(hash identity.Hash, day time.Time) identity.Hash {
	buf := make([]byte, 0, identity.HashLen+8)
	buf = append(buf, hash[:]...)
	buf = append(buf, []byte(day.UTC().Format("20060102"))...)
	return sha256.Sum256(buf)
}

func xorDistance(a, b identity.Hash) identity.Hash {
	var d identity.Hash
	for i := range a {
		d[i] = a[i] ^ b[i]
	}
	return d
}

func lessHash(a, b identity.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// ClosestFloodfill returns the floodfill whose routing-key XOR-distance to
// key is smallest, excluding anything in excluded.
func (n *NetDB) ClosestFloodfill(key identity.Hash, excluded map[identity.Hash]struct{}, now time.Time) (identity.Hash, bool) {
	best, ok := n.closestN(key, excluded, now, 1)
	if !ok || len(best) == 0 {
		return identity.Hash{}, false
	}
	return best[0], true
}

// ClosestFloodfills returns up to n floodfills ordered by increasing
// XOR-distance of their routing key to key.
func (n *NetDB) ClosestFloodfills(key identity.Hash, count int, excluded map[identity.Hash]struct{}, now time.Time) []identity.Hash {
	out, _ := n.closestN(key, excluded, now, count)
	return out
}

func (n *NetDB) closestN(key identity.Hash, excluded map[identity.Hash]struct{}, now time.Time, count int) ([]identity.Hash, bool) {
	n.mu.RLock()
	type cand struct {
		hash identity.Hash
		dist identity.Hash
	}
	cands := make([]cand, 0, len(n.floodfills))
	for hash := range n.floodfills {
		if _, skip := excluded[hash]; skip {
			continue
		}
		rk := RoutingKey(hash, now)
		cands = append(cands, cand{hash: hash, dist: xorDistance(rk, key)})
	}
	n.mu.RUnlock()

	if len(cands) == 0 {
		return nil, false
	}
	sorted := append([]cand(nil), cands...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && lessHash(sorted[j].dist, sorted[j-1].dist); j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	if count > len(sorted) {
		count = len(sorted)
	}
	out := lo.Map(sorted[:count], func(c cand, _ int) identity.Hash { return c.hash })
	return out, true
}

// PeerCount returns the number of router descriptors currently held.
func (n *NetDB) PeerCount() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.peers.Len()
}

// Sweep performs periodic maintenance: expire lease-sets, evict stale peer
// descriptors outside the startup grace period, and flag peers with a
// high unreachable fraction.
func (n *NetDB) Sweep(now time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()

	for hash, ls := range n.leasesets {
		if ls.IsExpired(now) {
			delete(n.leasesets, hash)
		}
	}

	if n.inGracePeriod() {
		return
	}
	for _, hash := range n.peers.Keys() {
		e, ok := n.peers.Peek(hash)
		if !ok {
			continue
		}
		if now.Sub(e.info.LastSeen) > UnrefreshedTTL {
			n.peers.Remove(hash)
			delete(n.floodfills, hash)
			continue
		}
		if e.profile.UnreachableFraction() >= 0.75 && e.profile.UnreachableSince == nil {
			t := now
			e.profile.UnreachableSince = &t
		}
	}
}
