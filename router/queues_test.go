package router

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-router/i2np"
	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/netdb"
	"github.com/go-i2p/go-i2p-router/transport"
	"github.com/go-i2p/go-i2p-router/tunnel"
	"github.com/go-i2p/go-i2p-router/tunnelmanager"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

// signedRouterInfo builds a minimal RouterInfo signed under a fresh
// Ed25519 identity, mirroring the pattern netdb's own wire tests use.
func signedRouterInfo(t *testing.T) (*netdb.RouterInfo, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}
	id := &identity.Identity{SigType: identity.SigEdDSA25519, CryptoType: identity.CryptoElGamal}
	if _, err := rand.Read(id.EncryptionKey[:]); err != nil {
		t.Fatalf("rand encryption key: %v", err)
	}
	copy(id.SigningKeyField[:], pub)
	id.Cert = identity.Certificate{
		Type:    identity.CertKey,
		Payload: []byte{0, byte(identity.SigEdDSA25519), 0, byte(identity.CryptoElGamal)},
	}
	sigLen, err := identity.SigLen(id.SigType)
	if err != nil {
		t.Fatalf("identity.SigLen: %v", err)
	}
	info := &netdb.RouterInfo{
		Identity:  id,
		Published: time.Unix(1700000000, 0),
		Signature: make([]byte, sigLen),
	}
	wire, err := netdb.EncodeRouterInfo(info)
	if err != nil {
		t.Fatalf("EncodeRouterInfo (placeholder sig): %v", err)
	}
	_, signed, err := netdb.DecodeRouterInfo(wire)
	if err != nil {
		t.Fatalf("DecodeRouterInfo: %v", err)
	}
	info.Signature = ed25519.Sign(priv, signed)
	return info, priv
}

type capturingTransportSender struct {
	sent []struct {
		to  [32]byte
		msg []byte
	}
}

func (s *capturingTransportSender) DeliverToRouter(ctx context.Context, router identity.Hash, payload []byte) error {
	s.sent = append(s.sent, struct {
		to  [32]byte
		msg []byte
	}{to: [32]byte(router), msg: payload})
	return nil
}

func newTestNetdbQueue(t *testing.T) (*netdbQueue, *netdb.NetDB, *capturingTransportSender) {
	t.Helper()
	db, err := netdb.New(testLog(), nil)
	if err != nil {
		t.Fatalf("netdb.New: %v", err)
	}
	sender := &capturingTransportSender{}
	var ownHash identity.Hash
	lookup := newLookupCoordinator(nil, transport.CryptoRand{}, ownHash, testLog())
	q := newNetdbQueue(db, lookup, sender, transport.CryptoRand{}, ownHash, testLog())
	return q, db, sender
}

func TestNetdbQueueStoresRouterInfo(t *testing.T) {
	q, db, _ := newTestNetdbQueue(t)
	info, _ := signedRouterInfo(t)

	body, err := netdb.EncodeDatabaseStore(&netdb.DatabaseStoreMessage{Key: info.Identity.Hash(), RouterInfo: info})
	if err != nil {
		t.Fatalf("EncodeDatabaseStore: %v", err)
	}
	msg, err := i2np.Build(transport.CryptoRand{}, i2np.TypeDatabaseStore, body, nil)
	if err != nil {
		t.Fatalf("i2np.Build: %v", err)
	}

	if err := q.Enqueue(msg); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, ok := db.FindPeer(info.Identity.Hash()); !ok {
		t.Fatalf("expected peer to be stored")
	}
}

func TestNetdbQueueLookupMissRepliesWithSearchReply(t *testing.T) {
	q, _, sender := newTestNetdbQueue(t)

	var target, replyTo identity.Hash
	copy(target[:], []byte("target-hash-not-in-db-12345678"))
	copy(replyTo[:], []byte("reply-to-router-hash-1234567890"))

	body, err := netdb.EncodeDatabaseLookup(&netdb.DatabaseLookupMessage{Key: target, ReplyTo: replyTo})
	if err != nil {
		t.Fatalf("EncodeDatabaseLookup: %v", err)
	}
	msg, err := i2np.Build(transport.CryptoRand{}, i2np.TypeDatabaseLookup, body, nil)
	if err != nil {
		t.Fatalf("i2np.Build: %v", err)
	}

	if err := q.Enqueue(msg); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected one reply sent, got %d", len(sender.sent))
	}
	if sender.sent[0].to != [32]byte(replyTo) {
		t.Fatalf("reply sent to wrong hash")
	}
	reply, err := i2np.Parse(sender.sent[0].msg)
	if err != nil {
		t.Fatalf("i2np.Parse reply: %v", err)
	}
	if reply.Type != i2np.TypeDatabaseSearchReply {
		t.Fatalf("expected DatabaseSearchReply, got type %d", reply.Type)
	}
}

func TestTunnelQueueHandleDataDeliversToManager(t *testing.T) {
	rnd := transport.CryptoRand{}
	sender := &fakeTunnelSender{}
	m := tunnelmanager.New(sender, rnd, testLog(), nil)

	var hopKey, ivKey [32]byte
	rnd.Bytes(hopKey[:])
	rnd.Bytes(ivKey[:])
	var nextHop identity.Hash
	part := tunnel.NewParticipant(42, tunnel.RoleParticipant, hopKey, ivKey, nextHop, 99, time.Now())
	if !m.AddTransit(part) {
		t.Fatalf("AddTransit rejected")
	}

	q := newTunnelQueue(m, nil, rnd)

	var iv [16]byte
	rnd.Bytes(iv[:])
	var body [tunnel.BodyLen]byte
	rnd.Bytes(body[:])
	dm := &tunnel.DataMessage{TunnelID: 42, IV: iv, Body: body}

	msg, err := i2np.Build(rnd, i2np.TypeTunnelData, dm.Encode(), nil)
	if err != nil {
		t.Fatalf("i2np.Build: %v", err)
	}
	if err := q.Enqueue(msg); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
}

type fakeTunnelSender struct{}

func (s *fakeTunnelSender) SendTunnelData(ctx context.Context, peer identity.Hash, msg *tunnel.DataMessage) error {
	return nil
}
func (s *fakeTunnelSender) DeliverLocal(ctx context.Context, payload []byte) error { return nil }
func (s *fakeTunnelSender) ForwardToTunnel(ctx context.Context, gateway identity.Hash, tunnelID uint32, payload []byte) error {
	return nil
}
func (s *fakeTunnelSender) DeliverToRouter(ctx context.Context, router identity.Hash, payload []byte) error {
	return nil
}
