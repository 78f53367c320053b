// Package netdb implements the local network database: the in-memory index
// of peer descriptors and lease-sets that tunnel building depends on.
package netdb

import (
	"time"

	"github.com/go-i2p/go-i2p-router/identity"
)

// Capability is a single bit in a RouterInfo's extracted capability
// bitfield, parsed out of its free-form ASCII capabilities option.
type Capability uint16

const (
	CapFloodfill Capability = 1 << iota
	CapUnlimitedBW
	CapHighBW
	CapReachable
	CapUnreachable
	CapSSUTesting
	CapSSUIntroducer
	CapHidden
)

// capabilityChars maps the single ASCII letters the wire format uses onto
// the corresponding Capability bit.
var capabilityChars = map[byte]Capability{
	'f': CapFloodfill,
	'O': CapUnlimitedBW,
	'P': CapHighBW,
	'R': CapReachable,
	'U': CapUnreachable,
	'B': CapSSUTesting,
	'C': CapSSUIntroducer,
	'H': CapHidden,
}

// ParseCapabilities extracts a Capability bitfield from the free-form
// "caps" option string.
func ParseCapabilities(s string) Capability {
	var c Capability
	for i := 0; i < len(s); i++ {
		if bit, ok := capabilityChars[s[i]]; ok {
			c |= bit
		}
	}
	return c
}

// Introducer describes one UDP-transport NAT introducer entry.
type Introducer struct {
	Host      string
	Port      uint16
	Tag       uint32
	ExpiresAt time.Time
}

// Address is one entry in a RouterInfo's address list.
type Address struct {
	Transport   string // e.g. "NTCP2", "SSU"
	Host        string
	Port        uint16
	Cost        uint8
	MTU         *uint16
	Introducers []Introducer
	IntroKey    *[32]byte
}

// RouterInfo is a peer descriptor: identity plus published timestamp,
// address list, free-form options, and a signature over everything that
// precedes it.
type RouterInfo struct {
	Identity     *identity.Identity
	Published    time.Time
	Addresses    []Address
	Options      map[string]string
	Signature    []byte
	Capabilities Capability

	// LastSeen is local bookkeeping, not part of the signed wire form: the
	// time this store was last accepted, used for timestamp-based eviction.
	LastSeen time.Time
}

// CompatibleTransports reports whether this peer and other share at least
// one transport tag, the condition tunnel path selection requires between
// adjacent hops.
func (r *RouterInfo) CompatibleTransports(other *RouterInfo) bool {
	for _, a := range r.Addresses {
		for _, b := range other.Addresses {
			if a.Transport == b.Transport {
				return true
			}
		}
	}
	return false
}

// Lease is one inbound tunnel endpoint a LeaseSet advertises.
type Lease struct {
	TunnelGateway identity.Hash
	TunnelID      uint32
	Expiration    time.Time
}

// LeaseSet advertises a destination's current inbound tunnel endpoints.
type LeaseSet struct {
	Destination   *identity.Identity
	EncryptionKey [identity.EncPubKeyLen]byte
	Leases        []Lease
	Signature     []byte

	LastSeen time.Time
}

// EarliestExpiration returns the soonest a LeaseSet's leases expire, or the
// zero time if it has none.
func (ls *LeaseSet) EarliestExpiration() time.Time {
	var earliest time.Time
	for _, l := range ls.Leases {
		if earliest.IsZero() || l.Expiration.Before(earliest) {
			earliest = l.Expiration
		}
	}
	return earliest
}

// IsExpired reports whether every lease in the set has expired as of now.
func (ls *LeaseSet) IsExpired(now time.Time) bool {
	for _, l := range ls.Leases {
		if now.Before(l.Expiration) {
			return false
		}
	}
	return true
}
