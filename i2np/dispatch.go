package i2np

import (
	"fmt"

	"github.com/go-i2p/go-i2p-router/routererr"
)

// Queue receives a Message for asynchronous processing by a subsystem.
// tunnelmanager, netdb, and garlic each implement one to serve as a
// dispatch target.
type Queue interface {
	Enqueue(m *Message) error
}

// Dispatcher routes parsed messages to the subsystem responsible for their
// Type, switching on the type tag rather than inspecting payloads
// generically.
type Dispatcher struct {
	Tunnel Queue // TunnelData, TunnelGateway, TunnelBuild, VariableTunnelBuild, TunnelBuildReply, VariableTunnelBuildReply
	NetDB  Queue // DatabaseStore, DatabaseLookup, DatabaseSearchReply
	Garlic Queue // Garlic, Data
	Status Queue // DeliveryStatus
}

// Route enqueues m onto the subsystem queue responsible for its Type. It
// returns an error if no queue is registered for that type.
func (d *Dispatcher) Route(m *Message) error {
	switch m.Type {
	case TypeTunnelData, TypeTunnelGateway, TypeTunnelBuild, TypeVariableTunnelBuild,
		TypeTunnelBuildReply, TypeVariableTunnelBuildReply:
		return d.enqueue(d.Tunnel, m)
	case TypeDatabaseStore, TypeDatabaseLookup, TypeDatabaseSearchReply:
		return d.enqueue(d.NetDB, m)
	case TypeGarlic, TypeData:
		return d.enqueue(d.Garlic, m)
	case TypeDeliveryStatus:
		return d.enqueue(d.Status, m)
	default:
		return unknownTypeError(m.Type)
	}
}

func (d *Dispatcher) enqueue(q Queue, m *Message) error {
	if q == nil {
		return routererr.New(routererr.UnexpectedState, "i2np.Route",
			fmt.Errorf("no queue registered for type %d", m.Type))
	}
	return q.Enqueue(m)
}

func unknownTypeError(t Type) error {
	return routererr.New(routererr.Malformed, "i2np.Route", fmt.Errorf("unknown message type %d", t))
}
