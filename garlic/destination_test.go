package garlic

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-router/i2np"
	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/transport"
	"github.com/go-i2p/go-i2p-router/tunnelcrypto"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

type recordingLocal struct {
	delivered []*i2np.Message
}

func (r *recordingLocal) HandleLocal(ctx context.Context, msg *i2np.Message, dest *identity.Hash) error {
	r.delivered = append(r.delivered, msg)
	return nil
}

type noopGateway struct{}

func (noopGateway) SendToGateway(ctx context.Context, gateway identity.Hash, tunnelID uint32, msg *i2np.Message) error {
	return nil
}

// TestDestinationBootstrapsSessionViaElGamalAndDispatchesLocal exercises
// the wrap/demux mechanics end to end by addressing d's own ElGamal
// public key, so the same Destination can both wrap and unwrap the
// message; a real session spans two distinct routers with distinct keys.
func TestDestinationBootstrapsSessionViaElGamalAndDispatchesLocal(t *testing.T) {
	rnd := transport.CryptoRand{}
	kp, err := tunnelcrypto.GenerateKeyPair(rnd)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	local := &recordingLocal{}
	d := NewDestination(kp.Private, 10, local, noopGateway{}, testLog(), nil)

	var peer identity.Hash
	if err := rnd.Bytes(peer[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}

	rawMsg, err := i2np.Build(rnd, i2np.TypeData, []byte("payload one"), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	payload, err := rawMsg.Serialize()
	if err != nil {
		t.Fatalf("Serialize: %v", err)
	}

	wire, err := d.WrapForPeer(rnd, time.Now(), peer, kp.Public, 1, CloveLocal, nil, payload, nil)
	if err != nil {
		t.Fatalf("WrapForPeer: %v", err)
	}

	if _, err := d.Demux(context.Background(), wire); err != nil {
		t.Fatalf("Demux: %v", err)
	}
	if len(local.delivered) != 1 {
		t.Fatalf("expected one locally delivered message, got %d", len(local.delivered))
	}
	if !bytes.Equal(local.delivered[0].Payload, []byte("payload one")) {
		t.Fatalf("delivered payload mismatch")
	}
}
