package router

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-router/garlic"
	"github.com/go-i2p/go-i2p-router/i2np"
	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/routererr"
)

// garlicQueue implements i2np.Queue for Garlic and Data traffic. Garlic
// messages are wrapped and go through Destination.Demux; Data messages
// arrive unwrapped and go straight to the same local handler a garlic
// clove's CloveLocal delivery would reach.
type garlicQueue struct {
	dest  *garlic.Destination
	local garlic.LocalHandler
}

func newGarlicQueue(dest *garlic.Destination, local garlic.LocalHandler) *garlicQueue {
	return &garlicQueue{dest: dest, local: local}
}

func (q *garlicQueue) Enqueue(m *i2np.Message) error {
	switch m.Type {
	case i2np.TypeGarlic:
		_, err := q.dest.Demux(context.Background(), m.Payload)
		return err
	case i2np.TypeData:
		return q.local.HandleLocal(context.Background(), m, nil)
	default:
		return routererr.New(routererr.Malformed, "router.garlicQueue.Enqueue", errUnexpectedGarlicType)
	}
}

var errUnexpectedGarlicType = simpleErr("unexpected message type for garlic queue")

// localDestination implements garlic.LocalHandler by feeding an unwrapped
// clove's I2NP message straight back through the dispatcher, the same plane
// a plain inbound transport message enters through. Messages addressed to a
// specific local destination hash are logged and dropped: this core has no
// client-tunnel application layer to hand them to.
type localDestination struct {
	dispatcher *i2np.Dispatcher
	log        *logrus.Entry
}

func newLocalDestination(d *i2np.Dispatcher, log *logrus.Entry) *localDestination {
	return &localDestination{dispatcher: d, log: log}
}

func (l *localDestination) HandleLocal(ctx context.Context, msg *i2np.Message, dest *identity.Hash) error {
	if dest != nil {
		l.log.WithField("destination", *dest).Debug("dropping clove addressed to unsupported local destination")
		return nil
	}
	return l.dispatcher.Route(msg)
}
