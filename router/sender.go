package router

import (
	"context"
	"fmt"

	"github.com/go-i2p/go-i2p-router/i2np"
	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/routererr"
	"github.com/go-i2p/go-i2p-router/transport"
	"github.com/go-i2p/go-i2p-router/tunnel"
)

// transportSender adapts the upstream transport.Sender collaborator to
// every outbound surface tunnelmanager and garlic need: raw tunnel data to
// a peer, a reassembled payload delivered locally (re-entering the I2NP
// dispatch plane), forwarded to another tunnel's gateway, or handed
// directly to another router.
type transportSender struct {
	transport  transport.Sender
	rnd        transport.Rand
	dispatcher *i2np.Dispatcher
}

func newTransportSender(t transport.Sender, rnd transport.Rand, d *i2np.Dispatcher) *transportSender {
	return &transportSender{transport: t, rnd: rnd, dispatcher: d}
}

// SendTunnelData hands a layer-encrypted tunnel data message's wire bytes
// to peer's transport, unwrapped by any I2NP framing: tunnel data messages
// are fixed-size and self-delimiting on the wire.
func (s *transportSender) SendTunnelData(ctx context.Context, peer identity.Hash, msg *tunnel.DataMessage) error {
	return s.transport.Send(ctx, [32]byte(peer), [][]byte{msg.Encode()})
}

// DeliverLocal parses a reassembled tunnel payload as an I2NP message and
// routes it back through the dispatcher, the same plane inbound transport
// traffic enters through.
func (s *transportSender) DeliverLocal(ctx context.Context, payload []byte) error {
	msg, err := i2np.Parse(payload)
	if err != nil {
		return routererr.New(routererr.Malformed, "router.transportSender.DeliverLocal", err)
	}
	return s.dispatcher.Route(msg)
}

// ForwardToTunnel wraps payload in a TunnelGateway message and hands it to
// gateway's transport, addressed to tunnelID.
func (s *transportSender) ForwardToTunnel(ctx context.Context, gateway identity.Hash, tunnelID uint32, payload []byte) error {
	gw := &i2np.TunnelGatewayPayload{TunnelID: tunnelID, Data: payload}
	body, err := gw.Encode()
	if err != nil {
		return err
	}
	msg, err := i2np.Build(s.rnd, i2np.TypeTunnelGateway, body, nil)
	if err != nil {
		return fmt.Errorf("router.transportSender.ForwardToTunnel: %w", err)
	}
	wire, err := msg.Serialize()
	if err != nil {
		return err
	}
	return s.transport.Send(ctx, [32]byte(gateway), [][]byte{wire})
}

// DeliverToRouter hands an already-serialized I2NP message directly to
// router's transport, the Data/Garlic clove delivery path's endpoint.
func (s *transportSender) DeliverToRouter(ctx context.Context, router identity.Hash, payload []byte) error {
	return s.transport.Send(ctx, [32]byte(router), [][]byte{payload})
}

// SendToGateway implements garlic.GatewaySender by wrapping msg's
// serialized bytes the same way ForwardToTunnel does.
func (s *transportSender) SendToGateway(ctx context.Context, gateway identity.Hash, tunnelID uint32, msg *i2np.Message) error {
	wire, err := msg.Serialize()
	if err != nil {
		return err
	}
	return s.ForwardToTunnel(ctx, gateway, tunnelID, wire)
}
