// Package router wires the I2NP dispatch plane, the tunnel and garlic
// subsystems, and NetDB into one running router core, and supplies the
// collaborators (build coordination, lookup coordination, local delivery)
// none of those packages implement themselves.
package router

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-i2p/go-i2p-router/garlic"
	"github.com/go-i2p/go-i2p-router/i2np"
	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/netclock"
	"github.com/go-i2p/go-i2p-router/netdb"
	"github.com/go-i2p/go-i2p-router/routerconfig"
	"github.com/go-i2p/go-i2p-router/routererr"
	"github.com/go-i2p/go-i2p-router/routermetrics"
	"github.com/go-i2p/go-i2p-router/transport"
	"github.com/go-i2p/go-i2p-router/tunnelcrypto"
	"github.com/go-i2p/go-i2p-router/tunnelmanager"
	"github.com/go-i2p/go-i2p-router/tunnelpool"
)

// SweepInterval is how often NetDB's expired-entry sweep runs.
const SweepInterval = 10 * time.Minute

// NumTagsPerSession is how many session tags garlic.Destination mints per
// replenishment, the same figure real I2P routers use.
const NumTagsPerSession = 40

// DefaultNTPServer and SkewThreshold drive the clock-skew warning; a
// router with no better source of network time checks against this public
// pool server.
const (
	DefaultNTPServer  = "pool.ntp.org"
	SkewThreshold     = 5 * time.Second
	SkewCheckInterval = time.Hour
)

// Router is one running I2P router core: every subsystem the rest of this
// module exposes, wired together behind the I2NP dispatcher.
type Router struct {
	cfg *routerconfig.Config
	log *logrus.Entry

	ownIdentity *identity.Identity
	ownHash     identity.Hash
	elgamal     *tunnelcrypto.KeyPair

	db         *netdb.NetDB
	manager    *tunnelmanager.Manager
	dest       *garlic.Destination
	dispatcher *i2np.Dispatcher
	build      *buildCoordinator
	lookup     *lookupCoordinator
	pool       *tunnelpool.Pool
	metrics    *routermetrics.Metrics
	errHook    *recentErrorsHook
	skew       *netclock.SkewChecker
	gateway    datagramGatewaySender

	rnd   transport.Rand
	clock func() time.Time

	adminMu   sync.Mutex
	reachable bool
}

// datagramGatewaySender is the narrow surface SendDatagram needs: deliver an
// already-wrapped garlic message to a remote lease's tunnel gateway. The
// same transportSender instance wired into garlic.Destination as its
// GatewaySender backs this.
type datagramGatewaySender interface {
	SendToGateway(ctx context.Context, gateway identity.Hash, tunnelID uint32, msg *i2np.Message) error
}

// New constructs a Router from its resolved configuration and the upstream
// transport collaborators. clock defaults to time.Now when nil.
func New(cfg *routerconfig.Config, sender transport.Sender, rnd transport.Rand, clock func() time.Time) (*Router, error) {
	if clock == nil {
		clock = time.Now
	}

	errHook, err := newRecentErrorsHook()
	if err != nil {
		return nil, fmt.Errorf("router.New: %w", err)
	}
	log := logrus.New()
	level, lerr := logrus.ParseLevel(cfg.LogLevel)
	if lerr != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	log.AddHook(errHook)
	entry := log.WithField("component", "router")

	ownIdentity, ownPriv, elgamal, err := generateOwnIdentity(rnd)
	if err != nil {
		return nil, fmt.Errorf("router.New: generate identity: %w", err)
	}
	ownHash := ownIdentity.Hash()

	db, err := netdb.New(entry, clock)
	if err != nil {
		return nil, fmt.Errorf("router.New: %w", err)
	}

	dispatcher := &i2np.Dispatcher{}
	tsender := newTransportSender(sender, rnd, dispatcher)

	manager := tunnelmanager.New(tsender, rnd, entry, clock)

	build := newBuildCoordinator(sender, rnd, manager, ownHash, ownPriv, clock, entry)

	lookup := newLookupCoordinator(sender, rnd, ownHash, entry)

	local := newLocalDestination(dispatcher, entry)
	dest := garlic.NewDestination(elgamal.Private, NumTagsPerSession, local, tsender, entry, clock)

	dispatcher.NetDB = newNetdbQueue(db, lookup, tsender, rnd, ownHash, entry)
	dispatcher.Tunnel = newTunnelQueue(manager, build, rnd)
	dispatcher.Garlic = newGarlicQueue(dest, local)
	dispatcher.Status = build

	poolCfg := tunnelpool.Config{
		InboundHops:   cfg.InboundTunnelLength,
		OutboundHops:  cfg.OutboundTunnelLength,
		InboundCount:  maxInt(cfg.InboundTunnelsQuantity, tunnelmanager.MinInboundFloor),
		OutboundCount: maxInt(cfg.OutboundTunnelsQuantity, tunnelmanager.MinOutboundFloor),
	}
	if len(cfg.ExplicitPeers) > 0 {
		poolCfg.ExplicitPeerList = cfg.ExplicitPeers
	}
	pool := tunnelpool.New(poolCfg, db, build, build, manager, rnd, entry, clock)
	manager.RegisterPool(pool)

	metrics, err := routermetrics.New(
		func(ctx context.Context) int64 { return int64(manager.TransitCount()) },
		func(ctx context.Context) int64 { return int64(db.PeerCount()) },
	)
	if err != nil {
		return nil, fmt.Errorf("router.New: %w", err)
	}

	skew := netclock.NewSkewChecker(DefaultNTPServer, SkewThreshold)

	r := &Router{
		cfg:         cfg,
		log:         entry,
		ownIdentity: ownIdentity,
		ownHash:     ownHash,
		elgamal:     elgamal,
		db:          db,
		manager:     manager,
		dest:        dest,
		dispatcher:  dispatcher,
		build:       build,
		lookup:      lookup,
		pool:        pool,
		metrics:     metrics,
		errHook:     errHook,
		skew:        skew,
		gateway:     tsender,
		rnd:         rnd,
		clock:       clock,
		reachable:   true,
	}
	return r, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// generateOwnIdentity mints a fresh EdDSA-Ed25519/ElGamal router identity:
// an Ed25519 signing pair wrapped in a KeyCert identity, plus the separate
// ElGamal pair used for both tunnel-build decryption and garlic session
// bootstrap.
func generateOwnIdentity(rnd transport.Rand) (*identity.Identity, *big.Int, *tunnelcrypto.KeyPair, error) {
	var seed [ed25519.SeedSize]byte
	if err := rnd.Bytes(seed[:]); err != nil {
		return nil, nil, nil, routererr.New(routererr.CryptoFailure, "router.generateOwnIdentity", err)
	}
	signPriv := ed25519.NewKeyFromSeed(seed[:])
	signPub := signPriv.Public().(ed25519.PublicKey)

	elgamal, err := tunnelcrypto.GenerateKeyPair(rnd)
	if err != nil {
		return nil, nil, nil, err
	}

	id := &identity.Identity{SigType: identity.SigEdDSA25519, CryptoType: identity.CryptoElGamal}
	pubBytes := elgamal.Public.Bytes()
	copy(id.EncryptionKey[256-len(pubBytes):], pubBytes)
	copy(id.SigningKeyField[:], signPub)
	id.Cert = identity.Certificate{
		Type:    identity.CertKey,
		Payload: []byte{0, byte(identity.SigEdDSA25519), 0, byte(identity.CryptoElGamal)},
	}
	return id, elgamal.Private, elgamal, nil
}

// Run starts every background loop (the tunnel manager pump, garlic
// session GC, and periodic NetDB sweep) and blocks until ctx is cancelled.
func (r *Router) Run(ctx context.Context) {
	go r.manager.Run(ctx)
	go r.dest.Run(ctx)
	go r.sweepLoop(ctx)
	if r.skew != nil {
		stop := make(chan struct{})
		go func() {
			<-ctx.Done()
			close(stop)
		}()
		go r.skew.Run(SkewCheckInterval, stop)
	}
	<-ctx.Done()
}

func (r *Router) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.db.Sweep(r.clock())
		}
	}
}

// Stop joins the tunnel manager's pump goroutine.
func (r *Router) Stop() {
	r.manager.Stop()
}

// Identity returns the router's own long-term identity hash.
func (r *Router) Identity() identity.Hash {
	return r.ownHash
}

// OnRecv implements transport.Receiver: a complete I2NP message arrived
// off the wire and is routed to the subsystem responsible for its type.
func (r *Router) OnRecv(raw []byte, inboundTunnelHint *uint32) {
	msg, err := i2np.Parse(raw)
	if err != nil {
		r.log.WithError(err).Debug("dropping malformed inbound message")
		return
	}
	if err := r.dispatcher.Route(msg); err != nil {
		r.log.WithError(err).WithField("type", msg.Type).Debug("dropping undeliverable inbound message")
	}
}

// RecentErrors returns the tail of recent Warn-or-worse log lines, for an
// admin surface to poll.
func (r *Router) RecentErrors() string {
	return r.errHook.RecentErrors()
}
