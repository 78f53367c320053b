package garlic

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-router/i2np"
	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/routererr"
	"github.com/go-i2p/go-i2p-router/transport"
)

// newSessionKeyHandle derives a stand-in map key for a session key whose
// true owner is unknown at this layer.
func newSessionKeyHandle(sessionKey [32]byte) [32]byte {
	return sha256.Sum256(sessionKey[:])
}

// GCInterval is how often Destination sweeps every session for expired
// tags and unconfirmed bundles, dropping sessions left with neither.
const GCInterval = 5 * time.Minute

// LocalHandler dispatches a fully unwrapped I2NP message addressed to this
// router, either Local (no specific destination) or addressed to a named
// destination hash.
type LocalHandler interface {
	HandleLocal(ctx context.Context, msg *i2np.Message, dest *identity.Hash) error
}

// GatewaySender forwards an I2NP message to a remote tunnel gateway, used
// for the Tunnel clove delivery type.
type GatewaySender interface {
	SendToGateway(ctx context.Context, gateway identity.Hash, tunnelID uint32, msg *i2np.Message) error
}

// Destination is the local endpoint for one garlic identity: it holds the
// ElGamal private key that lets it bootstrap sessions, the live outbound
// sessions keyed by peer, and the tag index that lets inbound traffic be
// demultiplexed to the right session without a linear scan.
type Destination struct {
	mu       sync.Mutex
	priv     *big.Int
	sessions map[identity.Hash]*Session
	tagIndex map[[32]byte]identity.Hash

	numTagsPerSession int
	local             LocalHandler
	gateway           GatewaySender
	log               *logrus.Entry
	clock             func() time.Time
}

// NewDestination constructs a Destination. clock defaults to time.Now when nil.
func NewDestination(priv *big.Int, numTagsPerSession int, local LocalHandler, gateway GatewaySender, log *logrus.Entry, clock func() time.Time) *Destination {
	if clock == nil {
		clock = time.Now
	}
	return &Destination{
		priv:              priv,
		sessions:          make(map[identity.Hash]*Session),
		tagIndex:          make(map[[32]byte]identity.Hash),
		numTagsPerSession: numTagsPerSession,
		local:             local,
		gateway:           gateway,
		log:               log.WithField("component", "garlic"),
		clock:             clock,
	}
}

// sessionFor returns the outbound session for peer, creating one with a
// fresh random session key (to be delivered via ElGamal on its first use)
// if none exists yet.
func (d *Destination) sessionFor(peer identity.Hash, rnd transport.Rand) (*Session, error) {
	if s, ok := d.sessions[peer]; ok {
		return s, nil
	}
	var key [32]byte
	if err := rnd.Bytes(key[:]); err != nil {
		return nil, routererr.New(routererr.CryptoFailure, "garlic.Destination.sessionFor", err)
	}
	s := NewSession(key, d.numTagsPerSession)
	d.sessions[peer] = s
	return s, nil
}

// WrapForPeer wraps one outbound message to peer, creating or reusing that
// peer's session, and indexes any freshly minted tags for later inbound
// demultiplexing.
func (d *Destination) WrapForPeer(rnd transport.Rand, now time.Time, peer identity.Hash, destPubKey *big.Int, messageID uint32, delivery CloveDeliveryType, destHash *identity.Hash, payload []byte, leaseSetMessage []byte) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	s, err := d.sessionFor(peer, rnd)
	if err != nil {
		return nil, err
	}
	wire, minted, err := WrapMessage(s, WrapInput{
		Rnd:             rnd,
		Now:             now,
		MessageID:       messageID,
		CloveDelivery:   delivery,
		Destination:     destHash,
		Payload:         payload,
		DestPubKey:      destPubKey,
		LeaseSetMessage: leaseSetMessage,
	})
	if err != nil {
		return nil, err
	}
	for _, t := range minted {
		d.tagIndex[t] = peer
	}
	return wire, nil
}

// Demux decrypts one inbound garlic message body, trying the tag index
// first and falling back to this destination's ElGamal private key when no
// tag matches (a session bootstrap or a session this router never minted
// tags for). On success it dispatches every clove and returns the parsed
// message for diagnostic purposes.
func (d *Destination) Demux(ctx context.Context, buf []byte) (*ParsedGarlic, error) {
	d.mu.Lock()
	var tag [32]byte
	haveTagGuess := len(buf) >= 32
	if haveTagGuess {
		copy(tag[:], buf[:32])
	}
	peer, tagKnown := d.tagIndex[tag]
	var sess *Session
	if tagKnown {
		sess = d.sessions[peer]
		delete(d.tagIndex, tag) // single use
	}
	d.mu.Unlock()

	var parsed *ParsedGarlic
	var err error

	if tagKnown && sess != nil {
		parsed, err = DecodeTagKeyed(buf, sess.SessionKey)
		if err != nil {
			return nil, err
		}
	} else {
		var newSessionKey [32]byte
		parsed, newSessionKey, err = DecodeElGamalKeyed(buf, d.priv)
		if err != nil {
			return nil, err
		}
		// The garlic wire format carries no sender identity, so a fresh
		// session bootstrapped this way is tracked under a synthetic
		// handle derived from the session key itself rather than a real
		// peer hash. WrapForPeer never reuses this session for outbound
		// traffic; it exists only so tags the peer just handed us are
		// recognized on their next reply.
		syntheticPeer := identity.Hash(newSessionKeyHandle(newSessionKey))
		sess = NewSession(newSessionKey, d.numTagsPerSession)
		d.mu.Lock()
		d.sessions[syntheticPeer] = sess
		d.mu.Unlock()
	}

	if len(parsed.NewTags) > 0 {
		d.mu.Lock()
		for peerForSession, s := range d.sessions {
			if s == sess {
				for _, t := range parsed.NewTags {
					d.tagIndex[t] = peerForSession
				}
				s.addTags(parsed.NewTags, d.clock())
				break
			}
		}
		d.mu.Unlock()
	}

	for _, c := range parsed.Cloves {
		if err := d.dispatchClove(ctx, c); err != nil {
			d.log.WithError(err).Debug("dropping undeliverable clove")
		}
	}
	return parsed, nil
}

func (d *Destination) dispatchClove(ctx context.Context, c *Clove) error {
	switch c.DeliveryType {
	case CloveLocal, CloveDestination:
		msg, err := i2np.Parse(c.Message)
		if err != nil {
			return err
		}
		if msg.Type == i2np.TypeDeliveryStatus {
			return d.handleDeliveryStatus(msg)
		}
		return d.local.HandleLocal(ctx, msg, c.Destination)
	case CloveTunnel:
		if c.Destination == nil || c.TunnelID == nil {
			return routererr.New(routererr.Malformed, "garlic.dispatchClove", errTunnelCloveMissingTarget)
		}
		msg, err := i2np.Parse(c.Message)
		if err != nil {
			return err
		}
		return d.gateway.SendToGateway(ctx, *c.Destination, *c.TunnelID, msg)
	case CloveRouter:
		// Router-addressed cloves are not supported by this core: skip
		// this clove and let the caller continue with the rest.
		d.log.Debug("dropping unsupported router-delivery clove")
		return nil
	default:
		return routererr.New(routererr.Malformed, "garlic.dispatchClove", errUnknownCloveDeliveryType)
	}
}

// handleDeliveryStatus matches a bounced DeliveryStatus message against
// every session's unconfirmed tag bundles, since the message id alone
// (without a destination hint) does not say which peer's session it
// belongs to.
func (d *Destination) handleDeliveryStatus(msg *i2np.Message) error {
	if len(msg.Payload) < 4 {
		return routererr.New(routererr.Malformed, "garlic.handleDeliveryStatus", errShortDeliveryStatus)
	}
	messageID := binary.BigEndian.Uint32(msg.Payload[:4])

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sessions {
		if s.ConfirmTagBundle(messageID) {
			return nil
		}
	}
	return nil
}

// Run drives the periodic session GC sweep until ctx is cancelled.
func (d *Destination) Run(ctx context.Context) {
	ticker := time.NewTicker(GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.GC(d.clock())
		}
	}
}

// GC sweeps every session, dropping ones left with no live tags and no
// pending confirmations, and removes their entries from the tag index.
func (d *Destination) GC(now time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for peer, s := range d.sessions {
		if s.GC(now) {
			delete(d.sessions, peer)
		}
	}
	for tag, peer := range d.tagIndex {
		if _, ok := d.sessions[peer]; !ok {
			delete(d.tagIndex, tag)
		}
	}
}

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

var errTunnelCloveMissingTarget = simpleErr("tunnel delivery clove missing destination or tunnelID")
var errUnknownCloveDeliveryType = simpleErr("unknown clove delivery type")
var errShortDeliveryStatus = simpleErr("delivery status payload too short")
