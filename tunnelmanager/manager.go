// Package tunnelmanager owns every tunnel object the router knows about —
// local inbound/outbound and transit — runs the single inbound-message
// dispatch loop, and drives periodic tunnel lifecycle maintenance.
package tunnelmanager

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/routererr"
	"github.com/go-i2p/go-i2p-router/transport"
	"github.com/go-i2p/go-i2p-router/tunnel"
	"github.com/go-i2p/go-i2p-router/tunnelcrypto"
)

// PumpWait bounds how long the dispatch loop waits for the next inbound
// message before re-checking for shutdown.
const PumpWait = time.Second

// MaintenanceInterval is how often manageTunnels runs purge/expire and
// drives the registered pools.
const MaintenanceInterval = 15 * time.Second

// CreationTimeout is how long a Pending tunnel may sit before it is purged.
const CreationTimeout = 30 * time.Second

// MaxTransitTunnels caps admission of new transit build records.
const MaxTransitTunnels = 2500

// MinInboundFloor and MinOutboundFloor are minimum tunnel counts:
// router.New raises its pool's configured inbound/outbound quantities to
// at least these. The manager itself builds no tunnels to meet them.
const (
	MinInboundFloor  = 5
	MinOutboundFloor = 5
)

// inboundMessage is one item on the dispatch queue.
type inboundMessage struct {
	tunnelID uint32
	iv       [16]byte
	body     [tunnel.BodyLen]byte
}

// Pool is the subset of tunnelpool.Pool the manager drives each tick.
type Pool interface {
	CreateTunnels(ctx context.Context)
	TestTunnels(ctx context.Context)
}

// Sender hands a fully layer-encrypted tunnel data message to a peer's
// transport, or delivers a reassembled I2NP payload locally, onward to
// another tunnel's gateway, or directly to another router.
type Sender interface {
	SendTunnelData(ctx context.Context, peer identity.Hash, msg *tunnel.DataMessage) error
	DeliverLocal(ctx context.Context, payload []byte) error
	ForwardToTunnel(ctx context.Context, gateway identity.Hash, tunnelID uint32, payload []byte) error
	DeliverToRouter(ctx context.Context, router identity.Hash, payload []byte) error
}

// Manager owns all tunnel state and the single message pump.
type Manager struct {
	mu sync.RWMutex

	inbound  map[uint32]*tunnel.Tunnel
	transit  map[uint32]*tunnel.Tunnel
	outbound map[uint32]*tunnel.Tunnel

	pools  []Pool
	sender Sender
	rnd    transport.Rand
	log    *logrus.Entry
	clock  func() time.Time

	acceptsTunnels bool

	queue  chan inboundMessage
	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// New constructs a Manager. clock defaults to time.Now when nil.
func New(sender Sender, rnd transport.Rand, log *logrus.Entry, clock func() time.Time) *Manager {
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		inbound:        make(map[uint32]*tunnel.Tunnel),
		transit:        make(map[uint32]*tunnel.Tunnel),
		outbound:       make(map[uint32]*tunnel.Tunnel),
		sender:         sender,
		rnd:            rnd,
		log:            log.WithField("component", "tunnelmanager"),
		clock:          clock,
		acceptsTunnels: true,
		queue:          make(chan inboundMessage, 256),
		stopCh:         make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
}

// RegisterPool adds a tunnel pool the manager's maintenance tick drives.
func (m *Manager) RegisterPool(p Pool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools = append(m.pools, p)
}

// SetAcceptsTunnels toggles transit build admission, per the admin API.
func (m *Manager) SetAcceptsTunnels(accept bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acceptsTunnels = accept
}

// AddInbound, AddTransit, AddOutbound register a newly established tunnel
// under its receiving tunnelID.
func (m *Manager) AddInbound(t *tunnel.Tunnel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inbound[t.ID] = t
}

func (m *Manager) AddOutbound(t *tunnel.Tunnel) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outbound[t.ID] = t
}

// AddTransit registers a newly accepted transit tunnel, subject to
// admission control. Returns false if the transit table is full or the
// router is not currently accepting tunnels.
func (m *Manager) AddTransit(t *tunnel.Tunnel) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.acceptsTunnels || len(m.transit) >= MaxTransitTunnels {
		return false
	}
	m.transit[t.ID] = t
	return true
}

// TransitCount reports the current transit tunnel table size.
func (m *Manager) TransitCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.transit)
}

// Enqueue posts an inbound TunnelData message for the pump to process. It
// never blocks the caller beyond the queue's buffer; a full queue drops
// the message (best-effort, matching the transport's own send semantics).
func (m *Manager) Enqueue(tunnelID uint32, iv [16]byte, body [tunnel.BodyLen]byte) {
	select {
	case m.queue <- inboundMessage{tunnelID: tunnelID, iv: iv, body: body}:
	default:
		m.log.Warn("dispatch queue full, dropping inbound tunnel data message")
	}
}

// Run drives the single dispatch loop until ctx is cancelled or Stop is
// called. It must run in its own goroutine; Stop blocks until it exits.
func (m *Manager) Run(ctx context.Context) {
	defer close(m.doneCh)
	ticker := time.NewTicker(MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.manageTunnels(ctx)
		case first := <-m.queue:
			batch := []inboundMessage{first}
		drain:
			for {
				select {
				case next := <-m.queue:
					if next.tunnelID == first.tunnelID {
						batch = append(batch, next)
					} else {
						m.dispatchOne(ctx, next)
					}
				default:
					break drain
				}
			}
			for _, msg := range batch {
				m.dispatchOne(ctx, msg)
			}
		}
	}
}

// Stop signals the pump to exit and blocks until it has, so callers never
// observe a half-torn-down manager: the pump must exit before any caller
// proceeds to clear the tunnel maps.
func (m *Manager) Stop() {
	m.once.Do(func() { close(m.stopCh) })
	<-m.doneCh
}

func (m *Manager) dispatchOne(ctx context.Context, msg inboundMessage) {
	m.mu.RLock()
	t, ok := m.inbound[msg.tunnelID]
	if !ok {
		t, ok = m.transit[msg.tunnelID]
	}
	m.mu.RUnlock()
	if !ok {
		return
	}
	if err := m.handleData(ctx, t, msg); err != nil {
		m.log.WithError(err).Debug("dropping undeliverable tunnel data message")
	}
}

// handleData applies a tunnel's role-specific per-hop transformation to
// one data message and forwards or delivers the result.
func (m *Manager) handleData(ctx context.Context, t *tunnel.Tunnel, msg inboundMessage) error {
	switch t.Role {
	case tunnel.RoleParticipant:
		newIV, newBody, err := t.ProcessParticipant(msg.iv, msg.body)
		if err != nil {
			return err
		}
		out := &tunnel.DataMessage{TunnelID: t.NextTunnelID, IV: newIV, Body: newBody}
		return m.sender.SendTunnelData(ctx, t.NextHop, out)
	case tunnel.RoleEndpoint, tunnel.RoleInboundEndpoint:
		return m.handleEndpoint(ctx, t, msg)
	default:
		return routererr.New(routererr.UnexpectedState, "tunnelmanager.handleData",
			errGatewayCannotReceive)
	}
}

// SendOutbound originates one tunnel data message on a local outbound
// tunnel this router created: it applies every hop's layer in the
// gateway's pre-encryption order (outermost, i.e. the last hop, first —
// the mirror image of handleEndpoint's unwind order, grounded the same way
// a local inbound tunnel's endpoint unwinds what its participants built up
// hop by hop) and hands the result straight to the first hop's transport,
// bypassing the receive dispatch pump entirely: a gateway tunnel is never
// looked up by dispatchOne.
func (m *Manager) SendOutbound(ctx context.Context, tunnelID uint32, iv [16]byte, body [tunnel.BodyLen]byte) error {
	m.mu.RLock()
	t, ok := m.outbound[tunnelID]
	m.mu.RUnlock()
	if !ok {
		return routererr.New(routererr.UnexpectedState, "tunnelmanager.SendOutbound", errOutboundTunnelUnknown)
	}

	for i := len(t.HopKeys) - 1; i >= 0; i-- {
		hk := t.HopKeys[i]
		newIV, newBody, err := tunnelcrypto.LayerDecrypt(hk.LayerKey[:], hk.IVKey[:], iv[:], body[:])
		if err != nil {
			return err
		}
		copy(iv[:], newIV)
		copy(body[:], newBody)
	}

	out := &tunnel.DataMessage{TunnelID: t.NextTunnelID, IV: iv, Body: body}
	return m.sender.SendTunnelData(ctx, t.NextHop, out)
}

var errOutboundTunnelUnknown = simpleErr("no local outbound tunnel registered under this tunnelID")
var errGatewayCannotReceive = simpleErr("a gateway tunnel never receives TunnelData on its own tunnelID")
var errLocalDeliveryAtTransitEndpoint = simpleErr("transit endpoint must never deliver Local, dropping as malformed")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

// handleEndpoint peels every layer this tunnel's creator installed, then
// parses and dispatches the resulting plaintext body. A transit Endpoint
// (the last hop of someone else's outbound tunnel) holds exactly one hop
// key and peels it alone; a local inbound tunnel's endpoint holds every
// hop's key and peels them all, outermost first.
func (m *Manager) handleEndpoint(ctx context.Context, t *tunnel.Tunnel, msg inboundMessage) error {
	iv := msg.iv
	body := msg.body
	for i := len(t.HopKeys) - 1; i >= 0; i-- {
		hk := t.HopKeys[i]
		newIV, newBody, err := tunnelcrypto.LayerDecrypt(hk.LayerKey[:], hk.IVKey[:], iv[:], body[:])
		if err != nil {
			return err
		}
		copy(iv[:], newIV)
		copy(body[:], newBody)
	}

	pb, err := tunnel.ParsePlaintextBody(body[:])
	if err != nil {
		return err
	}
	return m.dispatchReassembled(ctx, t, pb.Payload)
}

// dispatchReassembled parses the leading fragment out of a decrypted
// tunnel data payload — a follow-on continuation if its flag byte marks
// it as one, otherwise a first-fragment Instruction — feeds it through
// this tunnel's reassembler, and delivers the message once complete.
func (m *Manager) dispatchReassembled(ctx context.Context, t *tunnel.Tunnel, payload []byte) error {
	if tunnel.IsFollowOnFragment(payload) {
		hdr, err := tunnel.DecodeFollowOnHeader(payload)
		if err != nil {
			return err
		}
		const followOnHeaderLen = 7
		if len(payload) < followOnHeaderLen+int(hdr.Size) {
			return routererr.New(routererr.Malformed, "tunnelmanager.dispatchReassembled", errShortFragment)
		}
		fragPayload := payload[followOnHeaderLen : followOnHeaderLen+int(hdr.Size)]
		complete, delivery, done := t.ReassembleFollowOn(hdr, fragPayload, m.clock())
		if !done {
			return nil
		}
		return m.deliver(ctx, &delivery, complete)
	}

	in, off, err := tunnel.DecodeInstruction(payload)
	if err != nil {
		return err
	}
	rest := payload[off:]
	if len(rest) < 2 {
		return routererr.New(routererr.Malformed, "tunnelmanager.dispatchReassembled", errShortFragment)
	}
	size := int(rest[0])<<8 | int(rest[1])
	if len(rest) < 2+size {
		return routererr.New(routererr.Malformed, "tunnelmanager.dispatchReassembled", errShortFragment)
	}
	fragPayload := rest[2 : 2+size]

	if in.Type == tunnel.DeliveryLocal && t.Role == tunnel.RoleEndpoint {
		return routererr.New(routererr.Malformed, "tunnelmanager.dispatchReassembled", errLocalDeliveryAtTransitEndpoint)
	}

	complete, done := t.ReassembleFirst(in, fragPayload, m.clock())
	if !done {
		return nil
	}
	return m.deliver(ctx, in, complete)
}

func (m *Manager) deliver(ctx context.Context, in *tunnel.Instruction, payload []byte) error {
	switch in.Type {
	case tunnel.DeliveryLocal:
		return m.sender.DeliverLocal(ctx, payload)
	case tunnel.DeliveryTunnel:
		if in.PeerHash == nil || in.TunnelID == nil {
			return routererr.New(routererr.Malformed, "tunnelmanager.deliver", errMissingTunnelTarget)
		}
		return m.sender.ForwardToTunnel(ctx, *in.PeerHash, *in.TunnelID, payload)
	case tunnel.DeliveryRouter:
		if in.PeerHash == nil {
			return routererr.New(routererr.Malformed, "tunnelmanager.deliver", errMissingRouterTarget)
		}
		return m.sender.DeliverToRouter(ctx, *in.PeerHash, payload)
	default:
		return routererr.New(routererr.Malformed, "tunnelmanager.deliver", errUnknownDeliveryType)
	}
}

var errShortFragment = simpleErr("fragment shorter than its declared size")
var errMissingTunnelTarget = simpleErr("tunnel delivery instruction missing peer hash or tunnelID")
var errMissingRouterTarget = simpleErr("router delivery instruction missing peer hash")
var errUnknownDeliveryType = simpleErr("unknown delivery type")

// manageTunnels runs the periodic tick: purge timed-out pending tunnels,
// mark near-expiry established tunnels Expiring, drop expired ones, and
// drive each registered pool. It creates no zero-hop or one-hop tunnels
// of its own.
func (m *Manager) manageTunnels(ctx context.Context) {
	now := m.clock()
	m.mu.Lock()
	purgeMap(m.inbound, now)
	purgeMap(m.transit, now)
	purgeMap(m.outbound, now)
	pools := append([]Pool(nil), m.pools...)
	m.mu.Unlock()

	for _, p := range pools {
		p.CreateTunnels(ctx)
		p.TestTunnels(ctx)
	}
}

func purgeMap(tunnels map[uint32]*tunnel.Tunnel, now time.Time) {
	for id, t := range tunnels {
		if t.State == tunnel.StatePending && now.Sub(t.CreatedAt) > CreationTimeout {
			t.State = tunnel.StateBuildFailed
		}
		t.AdvanceLifecycle(now)
		if t.State == tunnel.StateExpired || t.State == tunnel.StateBuildFailed {
			delete(tunnels, id)
		}
	}
}
