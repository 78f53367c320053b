package router

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-router/i2np"
	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/netdb"
	"github.com/go-i2p/go-i2p-router/routererr"
	"github.com/go-i2p/go-i2p-router/transport"
	"github.com/go-i2p/go-i2p-router/tunnel"
	"github.com/go-i2p/go-i2p-router/tunnelbuild"
	"github.com/go-i2p/go-i2p-router/tunnelcrypto"
	"github.com/go-i2p/go-i2p-router/tunnelmanager"
)

// pendingBuild is one in-flight build this router originated, waiting for
// its reply records to come back from the terminal hop.
type pendingBuild struct {
	req    *tunnelbuild.Request
	result chan [][]byte
}

// pendingTest is one in-flight tunnel pair test, waiting for its
// DeliveryStatus echo.
type pendingTest struct {
	result chan struct{}
}

// buildCoordinator dispatches tunnel builds and pair tests over the wire,
// and accepts transit build requests addressed to this router. It
// implements tunnelpool.Builder, tunnelpool.Tester, and (via Enqueue)
// the Status leg of the I2NP dispatcher.
type buildCoordinator struct {
	transport transport.Sender
	rnd       transport.Rand
	manager   *tunnelmanager.Manager
	ownHash   identity.Hash
	ownPriv   *big.Int
	clock     func() time.Time
	log       *logrus.Entry

	mu      sync.Mutex
	builds  map[uint32]*pendingBuild
	tests   map[uint32]*pendingTest
}

func newBuildCoordinator(t transport.Sender, rnd transport.Rand, m *tunnelmanager.Manager,
	ownHash identity.Hash, ownPriv *big.Int, clock func() time.Time, log *logrus.Entry) *buildCoordinator {
	return &buildCoordinator{
		transport: t,
		rnd:       rnd,
		manager:   m,
		ownHash:   ownHash,
		ownPriv:   ownPriv,
		clock:     clock,
		log:       log.WithField("component", "buildcoordinator"),
		builds:    make(map[uint32]*pendingBuild),
		tests:     make(map[uint32]*pendingTest),
	}
}

// BuildTunnel implements tunnelpool.Builder.
func (c *buildCoordinator) BuildTunnel(ctx context.Context, dir tunnel.Direction, hops []*netdb.RouterInfo) (*tunnel.Tunnel, error) {
	localID, err := c.randomID()
	if err != nil {
		return nil, err
	}
	now := c.clock()

	if len(hops) == 0 {
		return c.zeroHopTunnel(dir, localID, now), nil
	}

	role := tunnelbuild.RoleOutbound
	if dir == tunnel.DirectionInbound {
		role = tunnelbuild.RoleInbound
	}

	specs, err := c.buildHopSpecs(role, hops, localID)
	if err != nil {
		return nil, err
	}

	req, records, err := tunnelbuild.NewRequest(c.rnd, role, specs, now)
	if err != nil {
		return nil, err
	}

	resultCh := make(chan [][]byte, 1)
	c.mu.Lock()
	c.builds[req.SendMessageID] = &pendingBuild{req: req, result: resultCh}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.builds, req.SendMessageID)
		c.mu.Unlock()
	}()

	body, err := tunnelbuild.EncodeBuild(records)
	if err != nil {
		return nil, err
	}
	msgID := req.SendMessageID
	msg, err := i2np.Build(c.rnd, i2np.TypeTunnelBuild, body, &msgID)
	if err != nil {
		return nil, fmt.Errorf("router.buildCoordinator.BuildTunnel: %w", err)
	}
	wire, err := msg.Serialize()
	if err != nil {
		return nil, err
	}
	firstHash := hops[0].Identity.Hash()
	if err := c.transport.Send(ctx, [32]byte(firstHash), [][]byte{wire}); err != nil {
		return nil, err
	}

	deadline := now.Add(tunnelbuild.Timeout)
	select {
	case replyRecords := <-resultCh:
		result, err := req.Interpret(replyRecords)
		if err != nil {
			return nil, err
		}
		return c.finishBuild(dir, localID, firstHash, specs, result, now), nil
	case <-ctx.Done():
		return nil, routererr.New(routererr.Timeout, "router.buildCoordinator.BuildTunnel", ctx.Err())
	case <-time.After(time.Until(deadline)):
		return nil, routererr.New(routererr.Timeout, "router.buildCoordinator.BuildTunnel", errBuildTimedOut)
	}
}

func (c *buildCoordinator) buildHopSpecs(role tunnelbuild.Role, hops []*netdb.RouterInfo, localID uint32) ([]tunnelbuild.HopSpec, error) {
	specs := make([]tunnelbuild.HopSpec, len(hops))
	for i, h := range hops {
		id, err := c.randomID()
		if err != nil {
			return nil, err
		}
		specs[i] = tunnelbuild.HopSpec{
			PeerHash:      h.Identity.Hash(),
			PublicKey:     new(big.Int).SetBytes(h.Identity.EncryptionKey[:]),
			ReceiveTunnel: id,
		}
	}
	for i := 0; i < len(specs)-1; i++ {
		specs[i].NextTunnel = specs[i+1].ReceiveTunnel
	}
	last := len(specs) - 1
	if role == tunnelbuild.RoleInbound {
		specs[last].NextTunnel = localID
	} else {
		specs[last].NextTunnel = 0
	}
	return specs, nil
}

func (c *buildCoordinator) finishBuild(dir tunnel.Direction, localID uint32, firstHop identity.Hash,
	specs []tunnelbuild.HopSpec, result *tunnelbuild.BuildResult, now time.Time) *tunnel.Tunnel {
	hopKeys := make([]tunnel.HopKey, len(result.Hops))
	for i, hk := range result.Hops {
		hopKeys[i] = tunnel.HopKey{PeerHash: hk.PeerHash, LayerKey: hk.LayerKey, IVKey: hk.IVKey}
	}
	state := tunnel.StateBuildFailed
	if allAccepted(result) {
		state = tunnel.StateEstablished
	}
	if dir == tunnel.DirectionOutbound {
		return &tunnel.Tunnel{
			ID:           localID,
			Direction:    dir,
			Role:         tunnel.RoleOutboundGateway,
			State:        state,
			CreatedAt:    now,
			HopKeys:      hopKeys,
			NextHop:      specs[0].PeerHash,
			NextTunnelID: specs[0].ReceiveTunnel,
			FirstHop:     firstHop,
		}
	}
	return &tunnel.Tunnel{
		ID:        localID,
		Direction: dir,
		Role:      tunnel.RoleInboundEndpoint,
		State:     state,
		CreatedAt: now,
		HopKeys:   hopKeys,
		FirstHop:  firstHop,
	}
}

func allAccepted(result *tunnelbuild.BuildResult) bool {
	for _, s := range result.Statuses {
		if !s.Accepted() {
			return false
		}
	}
	return true
}

func (c *buildCoordinator) zeroHopTunnel(dir tunnel.Direction, localID uint32, now time.Time) *tunnel.Tunnel {
	role := tunnel.RoleInboundEndpoint
	if dir == tunnel.DirectionOutbound {
		role = tunnel.RoleOutboundGateway
	}
	return &tunnel.Tunnel{
		ID:           localID,
		Direction:    dir,
		Role:         role,
		State:        tunnel.StateEstablished,
		CreatedAt:    now,
		NextHop:      c.ownHash,
		NextTunnelID: localID,
		FirstHop:     c.ownHash,
	}
}

func (c *buildCoordinator) randomID() (uint32, error) {
	return randomMessageID(c.rnd)
}

// randomMessageID draws a 4-byte I2NP message ID from rnd.
func randomMessageID(rnd transport.Rand) (uint32, error) {
	var buf [4]byte
	if err := rnd.Bytes(buf[:]); err != nil {
		return 0, routererr.New(routererr.CryptoFailure, "router.randomMessageID", err)
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

var errBuildTimedOut = simpleErr("tunnel build timed out waiting for reply")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

// HandleBuildMessage processes an inbound TunnelBuild/VariableTunnelBuild/
// TunnelBuildReply/VariableTunnelBuildReply message: either it completes a
// build this router originated, or it is a transit build request this
// router must accept or reject, mutate, and forward.
func (c *buildCoordinator) HandleBuildMessage(ctx context.Context, m *i2np.Message) error {
	records, err := decodeAnyBuildForm(m)
	if err != nil {
		return err
	}

	c.mu.Lock()
	pending, ok := c.builds[m.MessageID]
	c.mu.Unlock()
	if ok {
		select {
		case pending.result <- records:
		default:
		}
		return nil
	}

	return c.acceptTransit(ctx, records)
}

func decodeAnyBuildForm(m *i2np.Message) ([][]byte, error) {
	switch m.Type {
	case i2np.TypeTunnelBuild, i2np.TypeTunnelBuildReply:
		return tunnelbuild.DecodeBuild(m.Payload)
	case i2np.TypeVariableTunnelBuild, i2np.TypeVariableTunnelBuildReply:
		return tunnelbuild.DecodeVariableBuild(m.Payload)
	default:
		return nil, routererr.New(routererr.Malformed, "router.decodeAnyBuildForm",
			fmt.Errorf("unexpected message type %d", m.Type))
	}
}

// acceptTransit locates this router's own record among records, decides
// whether to admit the transit tunnel, replaces its own slot with a reply
// record, forward-encrypts every other slot, and either forwards the
// mutated set onward or, at the terminal hop, replies directly to the
// build's originator.
func (c *buildCoordinator) acceptTransit(ctx context.Context, records [][]byte) error {
	ownHash16 := c.ownHash[:16]
	pos := -1
	for i, rec := range records {
		if len(rec) != tunnelbuild.RecordLen {
			continue
		}
		if string(rec[:16]) == string(ownHash16) {
			pos = i
			break
		}
	}
	if pos < 0 {
		return nil // not addressed to us; drop silently
	}

	plaintext, err := tunnelcrypto.Decrypt(c.ownPriv, records[pos][16:])
	if err != nil {
		return routererr.New(routererr.CryptoFailure, "router.buildCoordinator.acceptTransit", err)
	}
	inner, err := tunnelbuild.DecodeInnerPlaintext(plaintext)
	if err != nil {
		return err
	}

	status := tunnelbuild.StatusAccepted
	role := tunnel.RoleParticipant
	const flagOutboundEndpoint = 1 << 7
	if inner.Flags&flagOutboundEndpoint != 0 {
		role = tunnel.RoleEndpoint
	}

	tun := tunnel.NewParticipant(inner.ReceiveTunnel, role, inner.LayerKey, inner.IVKey, inner.NextIdent, inner.NextTunnel, c.clock())
	if !c.manager.AddTransit(tun) {
		status = tunnelbuild.StatusRejectBandwidth
	}

	replyRecord := make([]byte, tunnelbuild.RecordLen)
	if err := c.rnd.Bytes(replyRecord); err != nil {
		return routererr.New(routererr.CryptoFailure, "router.buildCoordinator.acceptTransit", err)
	}
	replyRecord[len(replyRecord)-1] = byte(status)
	records[pos] = replyRecord

	var replyKey, replyIV [16]byte
	copy(replyKey[:], inner.ReplyKey[:16])
	replyIV = inner.ReplyIV
	if err := tunnelcrypto.ForwardEncryptOtherRecords(records, tunnelbuild.RecordLen, pos, replyKey, replyIV); err != nil {
		return err
	}

	body, err := tunnelbuild.EncodeBuild(records)
	if err != nil {
		return err
	}
	msgID := inner.SendMessageID
	typ := i2np.TypeTunnelBuild
	if inner.NextTunnel == 0 {
		typ = i2np.TypeTunnelBuildReply
	}
	msg, err := i2np.Build(c.rnd, typ, body, &msgID)
	if err != nil {
		return fmt.Errorf("router.buildCoordinator.acceptTransit: %w", err)
	}
	wire, err := msg.Serialize()
	if err != nil {
		return err
	}
	return c.transport.Send(ctx, [32]byte(inner.NextIdent), [][]byte{wire})
}

// TestPair implements tunnelpool.Tester: it sends a DeliveryStatus clove
// out through out and expects it delivered back to this router's local
// destination via in's gateway.
func (c *buildCoordinator) TestPair(ctx context.Context, out, in *tunnel.Tunnel) error {
	id, err := c.randomID()
	if err != nil {
		return err
	}
	payload := (&i2np.DeliveryStatusPayload{MessageID: id, Timestamp: c.clock()}).Encode()
	statusMsg, err := i2np.Build(c.rnd, i2np.TypeDeliveryStatus, payload, nil)
	if err != nil {
		return fmt.Errorf("router.buildCoordinator.TestPair: %w", err)
	}
	wire, err := statusMsg.Serialize()
	if err != nil {
		return err
	}

	inID := in.ID
	mb := &tunnel.MessageBlock{
		Delivery: tunnel.Instruction{Type: tunnel.DeliveryTunnel, PeerHash: &in.FirstHop, TunnelID: &inID},
		Payload:  wire,
	}
	messages, err := tunnel.NewGatewayMessages(c.rnd, out.NextTunnelID, mb)
	if err != nil {
		return err
	}

	resultCh := make(chan struct{}, 1)
	c.mu.Lock()
	c.tests[id] = &pendingTest{result: resultCh}
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.tests, id)
		c.mu.Unlock()
	}()

	for _, m := range messages {
		if err := c.transport.Send(ctx, [32]byte(out.NextHop), [][]byte{m.Encode()}); err != nil {
			return err
		}
	}

	select {
	case <-resultCh:
		return nil
	case <-ctx.Done():
		return routererr.New(routererr.Timeout, "router.buildCoordinator.TestPair", ctx.Err())
	case <-time.After(tunnelbuild.Timeout):
		return routererr.New(routererr.Timeout, "router.buildCoordinator.TestPair", errTestTimedOut)
	}
}

var errTestTimedOut = simpleErr("tunnel pair test timed out waiting for delivery status echo")

// Enqueue implements i2np.Queue for the Status leg of the dispatcher,
// completing any pending TestPair awaiting this DeliveryStatus's ID.
func (c *buildCoordinator) Enqueue(m *i2np.Message) error {
	status, err := i2np.DecodeDeliveryStatusPayload(m.Payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	pending, ok := c.tests[status.MessageID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case pending.result <- struct{}{}:
	default:
	}
	return nil
}
