package netdb

import (
	"crypto/rand"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/transport"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func randomRouterInfo(t *testing.T, floodfill bool) *RouterInfo {
	t.Helper()
	id := &identity.Identity{}
	if _, err := rand.Read(id.EncryptionKey[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	if _, err := rand.Read(id.SigningKeyField[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	id.Cert = identity.Certificate{Type: identity.CertNull}

	caps := CapReachable
	if floodfill {
		caps |= CapFloodfill
	}
	return &RouterInfo{
		Identity:     id,
		Published:    time.Now(),
		Capabilities: caps,
		Options:      map[string]string{},
	}
}

func TestAddPeerRejectsBadSignature(t *testing.T) {
	db, err := New(testLog(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	info := randomRouterInfo(t, false)
	if err := db.AddPeer(info, false); err == nil {
		t.Fatalf("expected bad-signature error")
	}
	if _, ok := db.FindPeer(info.Identity.Hash()); ok {
		t.Fatalf("peer with bad signature should not be stored")
	}
}

func TestAddPeerAcceptsNewerOnly(t *testing.T) {
	db, err := New(testLog(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	info := randomRouterInfo(t, false)
	if err := db.AddPeer(info, true); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	stale := *info
	stale.Published = info.Published.Add(-time.Hour)
	stale.Options = map[string]string{"marker": "stale"}
	if err := db.AddPeer(&stale, true); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	got, ok := db.FindPeer(info.Identity.Hash())
	if !ok {
		t.Fatalf("peer missing")
	}
	if _, hasMarker := got.Options["marker"]; hasMarker {
		t.Fatalf("stale descriptor should not have replaced the newer one")
	}
}

func TestClosestFloodfillMonotonicity(t *testing.T) {
	db, err := New(testLog(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var hashes []identity.Hash
	for i := 0; i < 8; i++ {
		info := randomRouterInfo(t, true)
		if err := db.AddPeer(info, true); err != nil {
			t.Fatalf("AddPeer: %v", err)
		}
		hashes = append(hashes, info.Identity.Hash())
	}

	var key identity.Hash
	if _, err := rand.Read(key[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}

	now := time.Now()
	excluded := make(map[identity.Hash]struct{})
	var prevDist identity.Hash
	first := true
	for range hashes {
		ff, ok := db.ClosestFloodfill(key, excluded, now)
		if !ok {
			break
		}
		rk := RoutingKey(ff, now)
		dist := xorDistance(rk, key)
		if !first && !lessHash(prevDist, dist) {
			t.Fatalf("closest-floodfill distance did not strictly increase as excluded grew")
		}
		first = false
		prevDist = dist
		excluded[ff] = struct{}{}
	}
}

func TestSweepExpiresLeaseSetsAndStalePeers(t *testing.T) {
	now := time.Now()
	db, err := New(testLog(), func() time.Time { return now })
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	info := randomRouterInfo(t, false)
	if err := db.AddPeer(info, true); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	ls := &LeaseSet{Destination: randomRouterInfo(t, false).Identity}
	ls.Leases = []Lease{{Expiration: now.Add(-time.Minute)}}
	db.AddLeaseSet(ls)

	// Move well past both the grace period and the unrefreshed TTL.
	later := now.Add(2 * time.Hour)
	db.clock = func() time.Time { return later }
	db.Sweep(later)

	if _, ok := db.FindLeaseSet(ls.Destination.Hash()); ok {
		t.Fatalf("expired lease-set should have been swept")
	}
	if _, ok := db.FindPeer(info.Identity.Hash()); ok {
		t.Fatalf("stale peer should have been evicted after the grace period")
	}
}

func TestRandomPeerRespectsFilter(t *testing.T) {
	db, err := New(testLog(), nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	hi := randomRouterInfo(t, false)
	hi.Capabilities |= CapHighBW
	lo := randomRouterInfo(t, false)

	if err := db.AddPeer(hi, true); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}
	if err := db.AddPeer(lo, true); err != nil {
		t.Fatalf("AddPeer: %v", err)
	}

	rnd := transport.CryptoRand{}
	for i := 0; i < 20; i++ {
		got, ok := db.RandomPeer(rnd, func(r *RouterInfo) bool { return r.Capabilities&CapHighBW != 0 })
		if !ok {
			t.Fatalf("expected a high-bandwidth peer")
		}
		if got.Identity.Hash() != hi.Identity.Hash() {
			t.Fatalf("filter leaked a non-matching peer")
		}
	}
}
