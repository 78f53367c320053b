package tunnelmanager

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/transport"
	"github.com/go-i2p/go-i2p-router/tunnel"
	"github.com/go-i2p/go-i2p-router/tunnelcrypto"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

type fakeSender struct {
	sent      []*tunnel.DataMessage
	peer      identity.Hash
	local     [][]byte
	forwarded [][]byte
	toRouter  [][]byte
	sendErr   error
}

func (s *fakeSender) SendTunnelData(ctx context.Context, peer identity.Hash, msg *tunnel.DataMessage) error {
	s.sent = append(s.sent, msg)
	s.peer = peer
	return s.sendErr
}

func (s *fakeSender) DeliverLocal(ctx context.Context, payload []byte) error {
	s.local = append(s.local, payload)
	return nil
}

func (s *fakeSender) ForwardToTunnel(ctx context.Context, gateway identity.Hash, tunnelID uint32, payload []byte) error {
	s.forwarded = append(s.forwarded, payload)
	return nil
}

func (s *fakeSender) DeliverToRouter(ctx context.Context, router identity.Hash, payload []byte) error {
	s.toRouter = append(s.toRouter, payload)
	return nil
}

func TestAddTransitRespectsAdmissionControl(t *testing.T) {
	m := New(&fakeSender{}, transport.CryptoRand{}, testLog(), nil)
	m.SetAcceptsTunnels(false)
	ok := m.AddTransit(&tunnel.Tunnel{ID: 1})
	if ok {
		t.Fatalf("expected AddTransit to refuse while not accepting tunnels")
	}
	m.SetAcceptsTunnels(true)
	if !m.AddTransit(&tunnel.Tunnel{ID: 1}) {
		t.Fatalf("expected AddTransit to succeed once accepting")
	}
	if m.TransitCount() != 1 {
		t.Fatalf("expected transit count 1, got %d", m.TransitCount())
	}
}

func TestHandleDataForwardsParticipant(t *testing.T) {
	rnd := transport.CryptoRand{}
	var layerKey, ivKey [32]byte
	if err := rnd.Bytes(layerKey[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	if err := rnd.Bytes(ivKey[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	var nextHop identity.Hash
	if err := rnd.Bytes(nextHop[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}

	tun := tunnel.NewParticipant(7, tunnel.RoleParticipant, layerKey, ivKey, nextHop, 9, time.Now())

	sender := &fakeSender{}
	m := New(sender, rnd, testLog(), nil)
	m.AddTransit(tun)

	var iv [16]byte
	var body [tunnel.BodyLen]byte
	if err := rnd.Bytes(iv[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	if err := rnd.Bytes(body[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}

	m.dispatchOne(context.Background(), inboundMessage{tunnelID: 7, iv: iv, body: body})

	if len(sender.sent) != 1 {
		t.Fatalf("expected one forwarded message, got %d", len(sender.sent))
	}
	if sender.sent[0].TunnelID != 9 {
		t.Fatalf("expected forwarded message to carry next tunnelID 9, got %d", sender.sent[0].TunnelID)
	}
	if sender.peer != nextHop {
		t.Fatalf("expected forward to next hop")
	}

	wantIV, wantBody, err := tunnelcrypto.LayerEncrypt(layerKey[:], ivKey[:], iv[:], body[:])
	if err != nil {
		t.Fatalf("LayerEncrypt: %v", err)
	}
	if sender.sent[0].IV != [16]byte(wantIV) {
		t.Fatalf("forwarded IV does not match expected layer-encrypted IV")
	}
	if sender.sent[0].Body != [tunnel.BodyLen]byte(wantBody) {
		t.Fatalf("forwarded body does not match expected layer-encrypted body")
	}
}

func TestSendOutboundLayersEveryHopForTheFirstHop(t *testing.T) {
	rnd := transport.CryptoRand{}
	hop1 := tunnel.HopKey{}
	hop2 := tunnel.HopKey{}
	for _, hk := range []*tunnel.HopKey{&hop1, &hop2} {
		if err := rnd.Bytes(hk.PeerHash[:]); err != nil {
			t.Fatalf("rand: %v", err)
		}
		if err := rnd.Bytes(hk.LayerKey[:]); err != nil {
			t.Fatalf("rand: %v", err)
		}
		if err := rnd.Bytes(hk.IVKey[:]); err != nil {
			t.Fatalf("rand: %v", err)
		}
	}
	firstHopTunnel := uint32(42)

	tun := &tunnel.Tunnel{
		ID:           5,
		Direction:    tunnel.DirectionOutbound,
		Role:         tunnel.RoleOutboundGateway,
		State:        tunnel.StateEstablished,
		CreatedAt:    time.Now(),
		HopKeys:      []tunnel.HopKey{hop1, hop2},
		NextHop:      hop1.PeerHash,
		NextTunnelID: firstHopTunnel,
	}

	sender := &fakeSender{}
	m := New(sender, rnd, testLog(), nil)
	m.AddOutbound(tun)

	var iv [16]byte
	var body [tunnel.BodyLen]byte
	if err := rnd.Bytes(iv[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	if err := rnd.Bytes(body[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}

	if err := m.SendOutbound(context.Background(), tun.ID, iv, body); err != nil {
		t.Fatalf("SendOutbound: %v", err)
	}

	if len(sender.sent) != 1 {
		t.Fatalf("expected one message sent to the first hop, got %d", len(sender.sent))
	}
	if sender.peer != hop1.PeerHash {
		t.Fatalf("expected the message addressed to the first hop")
	}
	if sender.sent[0].TunnelID != firstHopTunnel {
		t.Fatalf("expected the message addressed to the first hop's receive tunnel")
	}

	// Each hop along the path applies its own forward layer in turn, the
	// same transform a transit participant applies; after both hops the
	// result should be exactly the plaintext the gateway started from.
	gotIV, gotBody := sender.sent[0].IV, sender.sent[0].Body
	for _, hk := range []tunnel.HopKey{hop1, hop2} {
		newIV, newBody, err := tunnelcrypto.LayerEncrypt(hk.LayerKey[:], hk.IVKey[:], gotIV[:], gotBody[:])
		if err != nil {
			t.Fatalf("LayerEncrypt: %v", err)
		}
		copy(gotIV[:], newIV)
		copy(gotBody[:], newBody)
	}
	if gotIV != iv {
		t.Fatalf("expected the hop chain to unwind back to the original IV")
	}
	if gotBody != body {
		t.Fatalf("expected the hop chain to unwind back to the original plaintext body")
	}
}

func TestSendOutboundRejectsUnknownTunnel(t *testing.T) {
	m := New(&fakeSender{}, transport.CryptoRand{}, testLog(), nil)
	var iv [16]byte
	var body [tunnel.BodyLen]byte
	if err := m.SendOutbound(context.Background(), 99, iv, body); err == nil {
		t.Fatalf("expected an error sending through an unregistered outbound tunnel")
	}
}

func TestStopJoinsPumpBeforeReturning(t *testing.T) {
	m := New(&fakeSender{}, transport.CryptoRand{}, testLog(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	m.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("expected Run to have exited after Stop returned")
	}
}
