// Package tunnel implements the tunnel data plane: 1028-byte tunnel data
// messages, fragmentation and reassembly of I2NP payloads across them, and
// per-tunnel lifecycle state.
package tunnel

import (
	"encoding/binary"
	"fmt"

	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/routererr"
)

// DeliveryType is the {local | tunnel | router | unused} field of a
// delivery instruction.
type DeliveryType byte

const (
	DeliveryLocal  DeliveryType = 0
	DeliveryTunnel DeliveryType = 1
	DeliveryRouter DeliveryType = 2
	// DeliveryUnused (3) never appears on the wire in this core.
	DeliveryUnused DeliveryType = 3
)

const (
	flagDeliveryTypeShift = 5
	flagDeliveryTypeMask  = 0x03 << flagDeliveryTypeShift
	flagFragmented        = 1 << 3
	flagExtendedOptions   = 1 << 2
	flagFollowOn          = 1 << 7
	flagLastFragment      = 1
)

// Instruction is a decoded first-fragment delivery instruction. Follow-on
// fragments use the lighter FollowOnHeader below instead.
type Instruction struct {
	Type       DeliveryType
	PeerHash   *identity.Hash // present for DeliveryTunnel and DeliveryRouter(to non-self)
	TunnelID   *uint32        // present for DeliveryTunnel
	Fragmented bool
	MessageID  uint32 // present when Fragmented
}

// Encode serializes the instruction to its byte form (1 flag byte, up to
// 4-byte tunnelID, up to 32-byte hash, 4-byte messageID when fragmented).
func (in *Instruction) Encode() []byte {
	flag := byte(in.Type) << flagDeliveryTypeShift
	if in.Fragmented {
		flag |= flagFragmented
	}
	buf := []byte{flag}
	if in.Type == DeliveryTunnel {
		var tid [4]byte
		if in.TunnelID != nil {
			binary.BigEndian.PutUint32(tid[:], *in.TunnelID)
		}
		buf = append(buf, tid[:]...)
	}
	if in.Type == DeliveryTunnel || in.Type == DeliveryRouter {
		if in.PeerHash != nil {
			buf = append(buf, in.PeerHash[:]...)
		} else {
			buf = append(buf, make([]byte, identity.HashLen)...)
		}
	}
	if in.Fragmented {
		var mid [4]byte
		binary.BigEndian.PutUint32(mid[:], in.MessageID)
		buf = append(buf, mid[:]...)
	}
	return buf
}

// DecodeInstruction parses a first-fragment delivery instruction from the
// head of buf, returning the instruction and the number of bytes consumed.
func DecodeInstruction(buf []byte) (*Instruction, int, error) {
	if len(buf) < 1 {
		return nil, 0, routererr.New(routererr.Malformed, "tunnel.DecodeInstruction", fmt.Errorf("empty buffer"))
	}
	flag := buf[0]
	in := &Instruction{
		Type:       DeliveryType((flag & flagDeliveryTypeMask) >> flagDeliveryTypeShift),
		Fragmented: flag&flagFragmented != 0,
	}
	off := 1

	if in.Type == DeliveryTunnel {
		if len(buf) < off+4 {
			return nil, 0, routererr.New(routererr.Malformed, "tunnel.DecodeInstruction", fmt.Errorf("truncated tunnelID"))
		}
		tid := binary.BigEndian.Uint32(buf[off:])
		in.TunnelID = &tid
		off += 4
	}
	if in.Type == DeliveryTunnel || in.Type == DeliveryRouter {
		if len(buf) < off+identity.HashLen {
			return nil, 0, routererr.New(routererr.Malformed, "tunnel.DecodeInstruction", fmt.Errorf("truncated peer hash"))
		}
		var h identity.Hash
		copy(h[:], buf[off:off+identity.HashLen])
		in.PeerHash = &h
		off += identity.HashLen
	}
	if in.Fragmented {
		if len(buf) < off+4 {
			return nil, 0, routererr.New(routererr.Malformed, "tunnel.DecodeInstruction", fmt.Errorf("truncated messageID"))
		}
		in.MessageID = binary.BigEndian.Uint32(buf[off:])
		off += 4
	}
	return in, off, nil
}

// FollowOnHeader is the lightweight 7-byte header every non-first fragment
// carries: a flag byte (bit7 always set — the marker that distinguishes a
// follow-on from a first-fragment Instruction, whose encoding never sets
// it — bits6..1 = fragment number, bit0 = last-fragment), 4-byte
// messageID, 2-byte size.
type FollowOnHeader struct {
	FragmentNum  byte // 6 bits
	LastFragment bool
	MessageID    uint32
	Size         uint16
}

// HasMore reports whether another follow-on fragment is expected after
// this one — the logical complement of LastFragment.
func (h *FollowOnHeader) HasMore() bool { return !h.LastFragment }

func (h *FollowOnHeader) Encode() []byte {
	flag := flagFollowOn | (h.FragmentNum&0x7F)<<1
	if h.LastFragment {
		flag |= flagLastFragment
	}
	buf := make([]byte, 7)
	buf[0] = flag
	binary.BigEndian.PutUint32(buf[1:5], h.MessageID)
	binary.BigEndian.PutUint16(buf[5:7], h.Size)
	return buf
}

// IsFollowOnFragment reports whether the leading flag byte of buf marks a
// follow-on fragment rather than a first-fragment Instruction.
func IsFollowOnFragment(buf []byte) bool {
	return len(buf) > 0 && buf[0]&flagFollowOn != 0
}

func DecodeFollowOnHeader(buf []byte) (*FollowOnHeader, error) {
	if len(buf) < 7 {
		return nil, routererr.New(routererr.Malformed, "tunnel.DecodeFollowOnHeader", fmt.Errorf("buffer too short"))
	}
	flag := buf[0]
	if flag&flagFollowOn == 0 {
		return nil, routererr.New(routererr.Malformed, "tunnel.DecodeFollowOnHeader", fmt.Errorf("flag byte is not a follow-on fragment"))
	}
	return &FollowOnHeader{
		FragmentNum:  (flag >> 1) & 0x3F,
		LastFragment: flag&flagLastFragment != 0,
		MessageID:    binary.BigEndian.Uint32(buf[1:5]),
		Size:         binary.BigEndian.Uint16(buf[5:7]),
	}, nil
}
