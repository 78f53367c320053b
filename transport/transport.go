// Package transport defines the collaborator interfaces the router core
// consumes but never implements: concrete NTCP/SSU wire transports,
// reseed, and filesystem layout all live outside this module. The core
// only needs a narrow send/receive surface and a CSPRNG/persistence
// boundary.
package transport

import "context"

// Sender is the subset of the external transport layer the router core
// calls into to hand off an outbound I2NP message to a peer. Best-effort:
// implementations may fail silently.
type Sender interface {
	// Send asynchronously hands messages to peerHash's transport. The
	// core does not block waiting for wire delivery.
	Send(ctx context.Context, peerHash [32]byte, messages [][]byte) error
}

// Receiver is implemented by the router core and driven by the transport:
// OnRecv delivers one complete I2NP message, with an optional hint of the
// inbound tunnel it arrived on (used by the dispatcher for reply routing).
type Receiver interface {
	OnRecv(raw []byte, inboundTunnelHint *uint32)
}

// Rand is the CSPRNG collaborator. A production Router wires crypto/rand;
// tests wire a deterministic source.
type Rand interface {
	// Bytes fills buf with uniform random bytes.
	Bytes(buf []byte) error
	// IntRange returns a uniform integer in [lo, hi).
	IntRange(lo, hi int) (int, error)
}

// Persistence is the upstream filesystem collaborator: the core never
// touches a filesystem directly, it calls Save/Load by name for router
// identity, NetDB snapshots, and peer profiles.
type Persistence interface {
	Save(name string, data []byte) error
	Load(name string) ([]byte, error)
}
