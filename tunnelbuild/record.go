// Package tunnelbuild constructs and interprets the 8-record tunnel build
// message: per-hop ephemeral key generation, onion-wrapped ElGamal build
// records, and reply-status interpretation.
package tunnelbuild

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/routererr"
)

const (
	// RecordLen is the on-wire size of one TunnelBuildRecord: 16-byte
	// truncated target hash plus a 512-byte ElGamal block.
	RecordLen = 528
	// InnerPlaintextLen is the cleartext record before ElGamal encryption.
	InnerPlaintextLen = 222
	// NumRecords is the fixed record count of the non-variable build form.
	NumRecords = 8

	flagOutboundEndpoint = 1 << 7
	flagInboundGateway   = 1 << 6
)

// HopRequest is the per-hop parameters the build algorithm needs to fill
// one record: the hop's own identity and ElGamal public key, the tunnel
// IDs either side of it, and the freshly generated symmetric material it
// will install.
type HopRequest struct {
	PeerHash      identity.Hash
	PublicKey     *big.Int // the hop's ElGamal public key, from its NetDB RouterInfo
	ReceiveTunnel uint32
	NextTunnel    uint32
	NextIdent     identity.Hash
	LayerKey      [32]byte
	IVKey         [32]byte
	ReplyKey      [16]byte
	ReplyIV       [16]byte
	IsOutboundEnd bool
	IsInboundGate bool
}

// InnerPlaintext is the 222-byte cleartext content of one tunnel build
// record before ElGamal encryption.
type InnerPlaintext struct {
	ReceiveTunnel uint32
	LocalIdent    identity.Hash
	NextTunnel    uint32
	NextIdent     identity.Hash
	LayerKey      [32]byte
	IVKey         [32]byte
	ReplyKey      [32]byte
	ReplyIV       [16]byte
	Flags         byte
	RequestTime   uint32 // hours since epoch
	SendMessageID uint32
}

// Encode serializes an InnerPlaintext to its 222-byte form, padding the
// remainder with zero bytes (the ElGamal layer supplies the random padding
// on top of this).
func (p *InnerPlaintext) Encode() []byte {
	buf := make([]byte, InnerPlaintextLen)
	off := 0
	binary.BigEndian.PutUint32(buf[off:], p.ReceiveTunnel)
	off += 4
	copy(buf[off:off+32], p.LocalIdent[:])
	off += 32
	binary.BigEndian.PutUint32(buf[off:], p.NextTunnel)
	off += 4
	copy(buf[off:off+32], p.NextIdent[:])
	off += 32
	copy(buf[off:off+32], p.LayerKey[:])
	off += 32
	copy(buf[off:off+32], p.IVKey[:])
	off += 32
	copy(buf[off:off+32], p.ReplyKey[:])
	off += 32
	copy(buf[off:off+16], p.ReplyIV[:])
	off += 16
	buf[off] = p.Flags
	off++
	binary.BigEndian.PutUint32(buf[off:], p.RequestTime)
	off += 4
	binary.BigEndian.PutUint32(buf[off:], p.SendMessageID)
	off += 4
	// Remaining bytes are zero padding up to InnerPlaintextLen.
	return buf
}

// DecodeInnerPlaintext parses the 222-byte cleartext record a hop recovers
// after its own ElGamal decryption.
func DecodeInnerPlaintext(buf []byte) (*InnerPlaintext, error) {
	if len(buf) < InnerPlaintextLen {
		return nil, routererr.New(routererr.Malformed, "tunnelbuild.DecodeInnerPlaintext",
			fmt.Errorf("buffer too short: %d < %d", len(buf), InnerPlaintextLen))
	}
	p := &InnerPlaintext{}
	off := 0
	p.ReceiveTunnel = binary.BigEndian.Uint32(buf[off:])
	off += 4
	copy(p.LocalIdent[:], buf[off:off+32])
	off += 32
	p.NextTunnel = binary.BigEndian.Uint32(buf[off:])
	off += 4
	copy(p.NextIdent[:], buf[off:off+32])
	off += 32
	copy(p.LayerKey[:], buf[off:off+32])
	off += 32
	copy(p.IVKey[:], buf[off:off+32])
	off += 32
	copy(p.ReplyKey[:], buf[off:off+32])
	off += 32
	copy(p.ReplyIV[:], buf[off:off+16])
	off += 16
	p.Flags = buf[off]
	off++
	p.RequestTime = binary.BigEndian.Uint32(buf[off:])
	off += 4
	p.SendMessageID = binary.BigEndian.Uint32(buf[off:])
	return p, nil
}

// RequestTimeHours converts a wall-clock time into the hours-since-epoch
// form the build record carries.
func RequestTimeHours(t time.Time) uint32 {
	return uint32(t.Unix() / 3600)
}

// Status is the 1-byte acceptance/rejection code a hop writes into its
// reply record. Any non-zero value is treated as "rejected" for policy.
type Status byte

const (
	StatusAccepted         Status = 0
	StatusRejectBandwidth  Status = 10
	StatusRejectCongestion Status = 20
	StatusRejectCrit       Status = 30
	StatusRejectUnknown    Status = 50
)

func (s Status) Accepted() bool { return s == StatusAccepted }
