package router

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-router/i2np"
	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/netdb"
	"github.com/go-i2p/go-i2p-router/routererr"
	"github.com/go-i2p/go-i2p-router/transport"
)

// pendingLookup is one in-flight DatabaseLookup this router sent, waiting
// for the floodfill's DatabaseSearchReply to come back.
type pendingLookup struct {
	result chan *netdb.DatabaseSearchReply
}

// lookupCoordinator implements netdb.Lookup by sending a DatabaseLookup over
// transport and correlating the reply by the I2NP message ID it was sent
// under, the same pattern buildCoordinator uses for build replies.
type lookupCoordinator struct {
	transport transport.Sender
	rnd       transport.Rand
	ownHash   identity.Hash
	log       *logrus.Entry

	mu      sync.Mutex
	pending map[uint32]*pendingLookup
}

func newLookupCoordinator(t transport.Sender, rnd transport.Rand, ownHash identity.Hash, log *logrus.Entry) *lookupCoordinator {
	return &lookupCoordinator{
		transport: t,
		rnd:       rnd,
		ownHash:   ownHash,
		log:       log,
		pending:   make(map[uint32]*pendingLookup),
	}
}

// SendDatabaseLookup implements netdb.Lookup.
func (c *lookupCoordinator) SendDatabaseLookup(ctx context.Context, to identity.Hash, target identity.Hash) (*netdb.DatabaseSearchReply, error) {
	body, err := netdb.EncodeDatabaseLookup(&netdb.DatabaseLookupMessage{Key: target, ReplyTo: c.ownHash})
	if err != nil {
		return nil, err
	}
	msgID, err := randomMessageID(c.rnd)
	if err != nil {
		return nil, err
	}
	msg, err := i2np.Build(c.rnd, i2np.TypeDatabaseLookup, body, &msgID)
	if err != nil {
		return nil, fmt.Errorf("router.lookupCoordinator.SendDatabaseLookup: %w", err)
	}
	wire, err := msg.Serialize()
	if err != nil {
		return nil, err
	}

	p := &pendingLookup{result: make(chan *netdb.DatabaseSearchReply, 1)}
	c.mu.Lock()
	c.pending[msgID] = p
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, msgID)
		c.mu.Unlock()
	}()

	if err := c.transport.Send(ctx, [32]byte(to), [][]byte{wire}); err != nil {
		return nil, err
	}

	select {
	case reply := <-p.result:
		return reply, nil
	case <-ctx.Done():
		return nil, routererr.New(routererr.Timeout, "router.lookupCoordinator.SendDatabaseLookup", ctx.Err())
	}
}

// HandleSearchReply feeds an arrived DatabaseSearchReply to whichever
// pending SendDatabaseLookup call is waiting on its message ID; replies to
// a lookup nobody is waiting on are dropped.
func (c *lookupCoordinator) HandleSearchReply(m *i2np.Message) error {
	reply, err := netdb.DecodeDatabaseSearchReply(m.Payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	p, ok := c.pending[m.MessageID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case p.result <- reply:
	default:
	}
	return nil
}
