package router

import (
	"context"
	"testing"
	"time"

	"github.com/go-i2p/go-i2p-router/i2np"
	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/netdb"
	"github.com/go-i2p/go-i2p-router/transport"
)

type loopbackTransport struct {
	coordinator *lookupCoordinator
	fromFF      identity.Hash
	closer      []identity.Hash
}

// Send simulates a floodfill immediately answering a DatabaseLookup with a
// DatabaseSearchReply, routed straight back into the coordinator under test.
func (l *loopbackTransport) Send(ctx context.Context, peerHash [32]byte, messages [][]byte) error {
	for _, raw := range messages {
		req, err := i2np.Parse(raw)
		if err != nil {
			return err
		}
		if req.Type != i2np.TypeDatabaseLookup {
			continue
		}
		reply, err := netdb.EncodeDatabaseSearchReply(&netdb.DatabaseSearchReply{
			FromFloodfill: l.fromFF,
			NextHashes:    l.closer,
		})
		if err != nil {
			return err
		}
		replyMsg, err := i2np.Build(transport.CryptoRand{}, i2np.TypeDatabaseSearchReply, reply, &req.MessageID)
		if err != nil {
			return err
		}
		if err := l.coordinator.HandleSearchReply(replyMsg); err != nil {
			return err
		}
	}
	return nil
}

func TestLookupCoordinatorRoundTrip(t *testing.T) {
	var ownHash, ffHash, targetHash, closerHash identity.Hash
	copy(ffHash[:], []byte("floodfill-router-hash-0123456789"))
	copy(targetHash[:], []byte("lookup-target-hash-0123456789abc"))
	copy(closerHash[:], []byte("closer-candidate-hash-0123456789"))

	lc := newLookupCoordinator(nil, transport.CryptoRand{}, ownHash, testLog())
	lt := &loopbackTransport{coordinator: lc, fromFF: ffHash, closer: []identity.Hash{closerHash}}
	lc.transport = lt

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	reply, err := lc.SendDatabaseLookup(ctx, ffHash, targetHash)
	if err != nil {
		t.Fatalf("SendDatabaseLookup: %v", err)
	}
	if reply.FromFloodfill != ffHash {
		t.Fatalf("FromFloodfill mismatch: got %x", reply.FromFloodfill)
	}
	if len(reply.NextHashes) != 1 || reply.NextHashes[0] != closerHash {
		t.Fatalf("NextHashes mismatch: %+v", reply.NextHashes)
	}
}

func TestLookupCoordinatorTimesOutWithNoReply(t *testing.T) {
	var ownHash, ffHash, targetHash identity.Hash
	lc := newLookupCoordinator(&silentTransport{}, transport.CryptoRand{}, ownHash, testLog())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if _, err := lc.SendDatabaseLookup(ctx, ffHash, targetHash); err == nil {
		t.Fatalf("expected timeout error")
	}
}

type silentTransport struct{}

func (silentTransport) Send(ctx context.Context, peerHash [32]byte, messages [][]byte) error {
	return nil
}
