package router

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-i2p/go-i2p-router/i2np"
	"github.com/go-i2p/go-i2p-router/netdb"
	"github.com/go-i2p/go-i2p-router/routerconfig"
	"github.com/go-i2p/go-i2p-router/transport"
)

type recordingSender struct {
	mu   sync.Mutex
	sent [][]byte
}

func (s *recordingSender) Send(ctx context.Context, peerHash [32]byte, messages [][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, messages...)
	return nil
}

func testConfig() *routerconfig.Config {
	return &routerconfig.Config{
		InboundTunnelLength:     2,
		OutboundTunnelLength:    2,
		InboundTunnelsQuantity:  2,
		OutboundTunnelsQuantity: 2,
		Bandwidth:               netdb.TierL,
		LogLevel:                "error",
	}
}

func TestNewAssignsAllDispatcherQueues(t *testing.T) {
	r, err := New(testConfig(), &recordingSender{}, transport.CryptoRand{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.dispatcher.NetDB == nil || r.dispatcher.Tunnel == nil || r.dispatcher.Garlic == nil || r.dispatcher.Status == nil {
		t.Fatalf("expected every dispatcher leg to be wired, got %+v", r.dispatcher)
	}
	if r.Identity() != r.ownHash {
		t.Fatalf("Identity() should return the router's own hash")
	}
}

func TestNewFallsBackOnEmptyLogLevel(t *testing.T) {
	// A missing LogLevel falls back to InfoLevel rather than failing
	// construction.
	cfg := testConfig()
	cfg.LogLevel = ""
	if _, err := New(cfg, &recordingSender{}, transport.CryptoRand{}, nil); err != nil {
		t.Fatalf("New with empty LogLevel: %v", err)
	}
}

func TestOnRecvRoutesDatabaseLookupThroughNetDBQueue(t *testing.T) {
	sender := &recordingSender{}
	r, err := New(testConfig(), sender, transport.CryptoRand{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var target, replyTo [32]byte
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
	wire, err := msg.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	r.OnRecv(wire, nil)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.sent) != 1 {
		t.Fatalf("expected the lookup miss to produce one reply, got %d", len(sender.sent))
	}
}

func TestOnRecvDropsMalformedMessage(t *testing.T) {
	r, err := New(testConfig(), &recordingSender{}, transport.CryptoRand{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// Must not panic on garbage input.
	r.OnRecv([]byte{0xff, 0x00, 0x01}, nil)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	r, err := New(testConfig(), &recordingSender{}, transport.CryptoRand{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after context cancellation")
	}
	r.Stop()
}

func TestRecentErrorsStartsEmpty(t *testing.T) {
	r, err := New(testConfig(), &recordingSender{}, transport.CryptoRand{}, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if r.RecentErrors() != "" {
		t.Fatalf("expected no recent errors on a freshly constructed router, got %q", r.RecentErrors())
	}
}
