package router

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-router/i2np"
	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/netdb"
	"github.com/go-i2p/go-i2p-router/routererr"
	"github.com/go-i2p/go-i2p-router/transport"
	"github.com/go-i2p/go-i2p-router/tunnel"
	"github.com/go-i2p/go-i2p-router/tunnelmanager"
)

// netdbQueue implements i2np.Queue for the three database-plane message
// types. It answers lookups directly out of the local NetDB and hands
// DatabaseSearchReply traffic off to lookup, the pending-request
// correlator, rather than processing it itself.
type netdbQueue struct {
	db        *netdb.NetDB
	lookup    *lookupCoordinator
	transport transportReplySender
	rnd       transport.Rand
	ownHash   identity.Hash
	log       *logrus.Entry
}

// transportReplySender is the narrow surface netdbQueue needs to answer a
// lookup: wire an already-serialized I2NP message to a router hash.
type transportReplySender interface {
	DeliverToRouter(ctx context.Context, router identity.Hash, payload []byte) error
}

func newNetdbQueue(db *netdb.NetDB, lookup *lookupCoordinator, sender transportReplySender, rnd transport.Rand, ownHash identity.Hash, log *logrus.Entry) *netdbQueue {
	return &netdbQueue{db: db, lookup: lookup, transport: sender, rnd: rnd, ownHash: ownHash, log: log}
}

func (q *netdbQueue) Enqueue(m *i2np.Message) error {
	switch m.Type {
	case i2np.TypeDatabaseStore:
		return q.handleStore(m)
	case i2np.TypeDatabaseLookup:
		return q.handleLookup(m)
	case i2np.TypeDatabaseSearchReply:
		return q.lookup.HandleSearchReply(m)
	default:
		return routererr.New(routererr.Malformed, "router.netdbQueue.Enqueue",
			fmt.Errorf("unexpected message type %d", m.Type))
	}
}

func (q *netdbQueue) handleStore(m *i2np.Message) error {
	store, signed, err := netdb.DecodeDatabaseStore(m.Payload)
	if err != nil {
		return err
	}
	switch {
	case store.RouterInfo != nil:
		sigErr := netdb.VerifyRouterInfo(store.RouterInfo, signed)
		return q.db.AddPeer(store.RouterInfo, sigErr == nil)
	case store.LeaseSet != nil:
		if err := netdb.VerifyLeaseSet(store.LeaseSet, signed); err != nil {
			return routererr.New(routererr.BadSignature, "router.netdbQueue.handleStore", err)
		}
		q.db.AddLeaseSet(store.LeaseSet)
	}
	return nil
}

func (q *netdbQueue) handleLookup(m *i2np.Message) error {
	lookup, err := netdb.DecodeDatabaseLookup(m.Payload)
	if err != nil {
		return err
	}
	excluded := make(map[identity.Hash]struct{}, len(lookup.Excluded)+1)
	for _, h := range lookup.Excluded {
		excluded[h] = struct{}{}
	}
	excluded[q.ownHash] = struct{}{}

	if ls, ok := q.db.FindLeaseSet(lookup.Key); ok {
		body, err := netdb.EncodeDatabaseStore(&netdb.DatabaseStoreMessage{Key: lookup.Key, LeaseSet: ls})
		if err != nil {
			return err
		}
		return q.reply(lookup.ReplyTo, i2np.TypeDatabaseStore, body)
	}
	if peer, ok := q.db.FindPeer(lookup.Key); ok {
		body, err := netdb.EncodeDatabaseStore(&netdb.DatabaseStoreMessage{Key: lookup.Key, RouterInfo: peer})
		if err != nil {
			return err
		}
		return q.reply(lookup.ReplyTo, i2np.TypeDatabaseStore, body)
	}

	closer := q.db.ClosestFloodfills(lookup.Key, tunnelbuildReplyFanout, excluded, time.Now())
	q.log.WithField("key", lookup.Key).WithField("candidates", len(closer)).Debug("lookup miss, replying with closer floodfills")
	body, err := netdb.EncodeDatabaseSearchReply(&netdb.DatabaseSearchReply{FromFloodfill: q.ownHash, NextHashes: closer})
	if err != nil {
		return err
	}
	return q.reply(lookup.ReplyTo, i2np.TypeDatabaseSearchReply, body)
}

// tunnelbuildReplyFanout bounds how many closer hashes a DatabaseSearchReply
// offers a requester that misses.
const tunnelbuildReplyFanout = 3

func (q *netdbQueue) reply(to identity.Hash, typ i2np.Type, body []byte) error {
	msg, err := i2np.Build(q.rnd, typ, body, nil)
	if err != nil {
		return fmt.Errorf("router.netdbQueue.reply: %w", err)
	}
	wire, err := msg.Serialize()
	if err != nil {
		return err
	}
	return q.transport.DeliverToRouter(context.Background(), to, wire)
}

// tunnelQueue implements i2np.Queue for every message type that flows
// through the tunnel data plane or the build protocol. Build traffic is
// delegated to a buildCoordinator; data and gateway traffic feed the
// tunnelmanager directly.
type tunnelQueue struct {
	manager *tunnelmanager.Manager
	build   *buildCoordinator
	rnd     transport.Rand
}

func newTunnelQueue(m *tunnelmanager.Manager, b *buildCoordinator, rnd transport.Rand) *tunnelQueue {
	return &tunnelQueue{manager: m, build: b, rnd: rnd}
}

func (q *tunnelQueue) Enqueue(m *i2np.Message) error {
	switch m.Type {
	case i2np.TypeTunnelData:
		return q.handleData(m)
	case i2np.TypeTunnelGateway:
		return q.handleGateway(m)
	case i2np.TypeTunnelBuild, i2np.TypeVariableTunnelBuild,
		i2np.TypeTunnelBuildReply, i2np.TypeVariableTunnelBuildReply:
		return q.build.HandleBuildMessage(context.Background(), m)
	default:
		return routererr.New(routererr.Malformed, "router.tunnelQueue.Enqueue",
			fmt.Errorf("unexpected message type %d", m.Type))
	}
}

func (q *tunnelQueue) handleData(m *i2np.Message) error {
	data, err := tunnel.DecodeDataMessage(m.Payload)
	if err != nil {
		return err
	}
	q.manager.Enqueue(data.TunnelID, data.IV, data.Body)
	return nil
}

// handleGateway implements a local outbound tunnel's gateway leg: it takes
// an already-framed I2NP payload addressed to one of our own tunnels,
// fragments it the way a local sender would, and sends each fragment out
// through the named tunnel's own send path rather than the inbound
// dispatch pump, which can never resolve an outbound tunnel's ID.
func (q *tunnelQueue) handleGateway(m *i2np.Message) error {
	gw, err := i2np.DecodeTunnelGatewayPayload(m.Payload)
	if err != nil {
		return err
	}
	mb := &tunnel.MessageBlock{
		Delivery: tunnel.Instruction{Type: tunnel.DeliveryLocal},
		Payload:  gw.Data,
	}
	messages, err := tunnel.NewGatewayMessages(q.rnd, gw.TunnelID, mb)
	if err != nil {
		return err
	}
	for _, dm := range messages {
		if err := q.manager.SendOutbound(context.Background(), dm.TunnelID, dm.IV, dm.Body); err != nil {
			return err
		}
	}
	return nil
}
