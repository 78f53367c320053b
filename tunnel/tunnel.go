package tunnel

import (
	"time"

	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/routererr"
	"github.com/go-i2p/go-i2p-router/tunnelcrypto"
)

// State is a tunnel's lifecycle stage.
type State int

const (
	StatePending State = iota
	StateBuildReplyReceived
	StateEstablished
	StateExpiring
	StateExpired
	StateBuildFailed
)

// Role is the part this router plays in a tunnel.
type Role int

const (
	RoleParticipant Role = iota
	RoleGateway
	RoleEndpoint
	RoleOutboundGateway // local outbound tunnel's creator-side gateway
	RoleInboundEndpoint // local inbound tunnel's creator-side endpoint
)

// Direction distinguishes inbound from outbound for pool bookkeeping.
type Direction int

const (
	DirectionInbound Direction = iota
	DirectionOutbound
)

// HopKey is one hop's installed symmetric material, in participant order.
type HopKey struct {
	PeerHash identity.Hash
	LayerKey [32]byte
	IVKey    [32]byte
}

// Lifetime is the fixed tunnel duration from creation to expiration.
const Lifetime = 10 * time.Minute

// Tunnel is a single 0..8-hop layered-encryption circuit. The tunnel
// manager (C8) exclusively owns Tunnel objects; pools hold only their IDs.
type Tunnel struct {
	ID        uint32
	Direction Direction
	Role      Role
	State     State
	CreatedAt time.Time

	// HopKeys holds this router's own layer/IV keys when acting as a
	// participant or as an endpoint/gateway of a local tunnel, in the
	// order they must be applied (outbound: creator's own hop is
	// typically first; inbound: endpoint applies all in reverse).
	HopKeys []HopKey

	// NextHop and NextTunnelID are populated for Participant/Gateway
	// roles: where to forward after this hop's transformation.
	NextHop      identity.Hash
	NextTunnelID uint32

	// FirstHop is the identity of the first hop on an outbound tunnel,
	// or the gateway that delivers to an inbound tunnel.
	FirstHop identity.Hash

	reassembler *Reassembler
}

// NewParticipant constructs a Tunnel for a transit role (participant,
// gateway, or endpoint of someone else's tunnel).
func NewParticipant(id uint32, role Role, layerKey, ivKey [32]byte, nextHop identity.Hash, nextTunnelID uint32, now time.Time) *Tunnel {
	return &Tunnel{
		ID:           id,
		Role:         role,
		State:        StateEstablished,
		CreatedAt:    now,
		HopKeys:      []HopKey{{LayerKey: layerKey, IVKey: ivKey}},
		NextHop:      nextHop,
		NextTunnelID: nextTunnelID,
		reassembler:  NewReassembler(),
	}
}

// Expiration is when this tunnel's fixed lifetime ends.
func (t *Tunnel) Expiration() time.Time {
	return t.CreatedAt.Add(Lifetime)
}

// AdvanceLifecycle mutates State based on now: an Established tunnel
// within 30s of expiring becomes Expiring; past expiration it becomes
// Expired. Only the tunnel manager's maintenance tick calls this.
func (t *Tunnel) AdvanceLifecycle(now time.Time) {
	switch t.State {
	case StateEstablished:
		if now.After(t.Expiration().Add(-30 * time.Second)) {
			t.State = StateExpiring
		}
	case StateExpiring:
		if now.After(t.Expiration()) {
			t.State = StateExpired
		}
	}
	if now.After(t.Expiration()) {
		t.State = StateExpired
	}
}

// NearExpiry reports whether a pool should spawn a replacement now: the
// last 90 seconds of a tunnel's lifetime.
func (t *Tunnel) NearExpiry(now time.Time) bool {
	return now.After(t.Expiration().Add(-90 * time.Second))
}

// ProcessParticipant applies this router's single forward layer
// transformation to an incoming data message body, as a transit
// participant.
func (t *Tunnel) ProcessParticipant(iv [16]byte, body [BodyLen]byte) (newIV [16]byte, newBody [BodyLen]byte, err error) {
	if len(t.HopKeys) != 1 {
		return newIV, newBody, routererr.New(routererr.UnexpectedState, "tunnel.ProcessParticipant",
			errNotAParticipant)
	}
	hk := t.HopKeys[0]
	outIV, outBody, err := tunnelcrypto.LayerEncrypt(hk.LayerKey[:], hk.IVKey[:], iv[:], body[:])
	if err != nil {
		return newIV, newBody, err
	}
	copy(newIV[:], outIV)
	copy(newBody[:], outBody)
	return newIV, newBody, nil
}

var errNotAParticipant = simpleErr("tunnel has no participant hop key installed")

// ReassembleFirst feeds a decoded first-fragment Instruction and its
// payload into this tunnel's endpoint reassembler.
func (t *Tunnel) ReassembleFirst(in *Instruction, payload []byte, now time.Time) ([]byte, bool) {
	if t.reassembler == nil {
		t.reassembler = NewReassembler()
	}
	return t.reassembler.AcceptFirst(in, payload, now)
}

// ReassembleFollowOn feeds a decoded follow-on fragment into this tunnel's
// endpoint reassembler, returning the completed payload and its original
// delivery instruction once the last fragment arrives in order.
func (t *Tunnel) ReassembleFollowOn(hdr *FollowOnHeader, payload []byte, now time.Time) ([]byte, Instruction, bool) {
	if t.reassembler == nil {
		t.reassembler = NewReassembler()
	}
	return t.reassembler.AcceptFollowOn(hdr, payload, now)
}
