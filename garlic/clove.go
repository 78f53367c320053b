package garlic

import (
	"encoding/binary"
	"fmt"

	"github.com/go-i2p/go-i2p-router/i2np"
	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/routererr"
)

// CloveDeliveryType mirrors tunnel.DeliveryType's values for the
// destination-addressed space a garlic clove can carry.
type CloveDeliveryType byte

const (
	CloveLocal       CloveDeliveryType = 0
	CloveTunnel      CloveDeliveryType = 1
	CloveDestination CloveDeliveryType = 2
	CloveRouter      CloveDeliveryType = 3
)

const (
	cloveFlagDeliveryShift = 5
	cloveFlagDeliveryMask  = 0x03 << cloveFlagDeliveryShift
	cloveFlagEncrypted     = 1 << 7
)

// Clove is one embedded I2NP message inside a garlic payload, addressed
// independently of the outer message's own recipient.
type Clove struct {
	DeliveryType CloveDeliveryType
	Destination  *identity.Hash // present for Tunnel/Destination/Router
	TunnelID     *uint32        // present for Tunnel
	Message      []byte         // a full serialized I2NP message
	CloveID      uint32
	Expiration   uint64 // seconds since epoch
}

// Encode serializes one clove: flag byte, optional 4-byte tunnelID,
// optional 32-byte destination, the embedded message, 4-byte cloveID,
// 8-byte expiration, 3 zero bytes.
func (c *Clove) Encode() []byte {
	flag := byte(c.DeliveryType) << cloveFlagDeliveryShift
	buf := []byte{flag}
	if c.DeliveryType == CloveTunnel {
		var tidBuf [4]byte
		if c.TunnelID != nil {
			binary.BigEndian.PutUint32(tidBuf[:], *c.TunnelID)
		}
		buf = append(buf, tidBuf[:]...)
	}
	if c.DeliveryType == CloveTunnel || c.DeliveryType == CloveDestination || c.DeliveryType == CloveRouter {
		if c.Destination != nil {
			buf = append(buf, c.Destination[:]...)
		} else {
			buf = append(buf, make([]byte, identity.HashLen)...)
		}
	}
	buf = append(buf, c.Message...)
	var idBuf [4]byte
	binary.BigEndian.PutUint32(idBuf[:], c.CloveID)
	buf = append(buf, idBuf[:]...)
	var expBuf [8]byte
	binary.BigEndian.PutUint64(expBuf[:], c.Expiration)
	buf = append(buf, expBuf[:]...)
	buf = append(buf, 0, 0, 0)
	return buf
}

// DecodeClove parses one clove from the head of buf. The embedded message
// is self-delimiting via its own I2NP long-header size field, so cloves
// need no outer length prefix.
func DecodeClove(buf []byte) (*Clove, int, error) {
	if len(buf) < 1 {
		return nil, 0, routererr.New(routererr.Malformed, "garlic.DecodeClove", fmt.Errorf("empty buffer"))
	}
	flag := buf[0]
	c := &Clove{DeliveryType: CloveDeliveryType((flag & cloveFlagDeliveryMask) >> cloveFlagDeliveryShift)}
	off := 1

	if c.DeliveryType == CloveTunnel {
		if len(buf) < off+4 {
			return nil, 0, routererr.New(routererr.Malformed, "garlic.DecodeClove", fmt.Errorf("truncated tunnelID"))
		}
		tid := binary.BigEndian.Uint32(buf[off:])
		c.TunnelID = &tid
		off += 4
	}

	if c.DeliveryType == CloveTunnel || c.DeliveryType == CloveDestination || c.DeliveryType == CloveRouter {
		if len(buf) < off+identity.HashLen {
			return nil, 0, routererr.New(routererr.Malformed, "garlic.DecodeClove", fmt.Errorf("truncated destination"))
		}
		var h identity.Hash
		copy(h[:], buf[off:off+identity.HashLen])
		c.Destination = &h
		off += identity.HashLen
	}

	messageLen, err := i2np.Length(buf[off:])
	if err != nil {
		return nil, 0, routererr.New(routererr.Malformed, "garlic.DecodeClove", err)
	}
	if len(buf) < off+messageLen+4+8+3 {
		return nil, 0, routererr.New(routererr.Malformed, "garlic.DecodeClove", fmt.Errorf("truncated clove body"))
	}
	c.Message = append([]byte(nil), buf[off:off+messageLen]...)
	off += messageLen
	c.CloveID = binary.BigEndian.Uint32(buf[off:])
	off += 4
	c.Expiration = binary.BigEndian.Uint64(buf[off:])
	off += 8
	off += 3 // reserved zero bytes
	return c, off, nil
}
