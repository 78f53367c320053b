package tunnel

import (
	"encoding/binary"
	"fmt"

	"github.com/go-i2p/go-i2p-router/routererr"
)

const (
	// DataMessageLen is the fixed total size of a tunnel data message.
	DataMessageLen = 1028
	// BodyLen is the encrypted body length (excludes tunnelID and IV).
	BodyLen = 1008
	// PayloadWindow is the usable space inside the decrypted body after
	// the checksum, zero byte, and delimiter are accounted for.
	PayloadWindow = 1002
)

// DataMessage is the parsed wire form of a tunnel data message:
// TunnelID ‖ IV ‖ encrypted body.
type DataMessage struct {
	TunnelID uint32
	IV       [16]byte
	Body     [BodyLen]byte
}

// Encode serializes the message to its fixed 1028-byte wire form.
func (m *DataMessage) Encode() []byte {
	buf := make([]byte, DataMessageLen)
	binary.BigEndian.PutUint32(buf[0:4], m.TunnelID)
	copy(buf[4:20], m.IV[:])
	copy(buf[20:], m.Body[:])
	return buf
}

// DecodeDataMessage parses a fixed 1028-byte tunnel data message. Anything
// other than exactly this length is dropped.
func DecodeDataMessage(buf []byte) (*DataMessage, error) {
	if len(buf) != DataMessageLen {
		return nil, routererr.New(routererr.Malformed, "tunnel.DecodeDataMessage",
			fmt.Errorf("tunnel data message must be %d bytes, got %d", DataMessageLen, len(buf)))
	}
	m := &DataMessage{}
	m.TunnelID = binary.BigEndian.Uint32(buf[0:4])
	copy(m.IV[:], buf[4:20])
	copy(m.Body[:], buf[20:])
	return m, nil
}

// PlaintextBody is the decrypted structure of a tunnel data message body:
// checksum ‖ zero ‖ padding(non-zero) ‖ 0x00 delimiter ‖ payload.
type PlaintextBody struct {
	Checksum [4]byte
	Payload  []byte // delivery-instructions + fragments
}

// ParsePlaintextBody locates the 0x00 delimiter after the 4-byte checksum
// and 1 zero byte, scanning forward through the non-zero padding.
func ParsePlaintextBody(body []byte) (*PlaintextBody, error) {
	if len(body) != BodyLen {
		return nil, routererr.New(routererr.Malformed, "tunnel.ParsePlaintextBody",
			fmt.Errorf("body must be %d bytes, got %d", BodyLen, len(body)))
	}
	pb := &PlaintextBody{}
	copy(pb.Checksum[:], body[0:4])

	i := 5 // skip checksum(4) + the mandatory zero byte(1)
	for i < len(body) && body[i] != 0x00 {
		i++
	}
	if i >= len(body) {
		return nil, routererr.New(routererr.Malformed, "tunnel.ParsePlaintextBody", fmt.Errorf("delimiter not found"))
	}
	pb.Payload = append([]byte(nil), body[i+1:]...)
	return pb, nil
}

// BuildPlaintextBody assembles a body from payload, a checksum computed
// over payload ‖ iv, and random padding supplied by the caller (rnd is
// applied by the gateway before calling this).
func BuildPlaintextBody(checksum [4]byte, padding []byte, payload []byte) ([]byte, error) {
	total := 4 + 1 + len(padding) + 1 + len(payload)
	if total != BodyLen {
		return nil, routererr.New(routererr.Overflow, "tunnel.BuildPlaintextBody",
			fmt.Errorf("body would be %d bytes, want exactly %d", total, BodyLen))
	}
	body := make([]byte, 0, BodyLen)
	body = append(body, checksum[:]...)
	body = append(body, 0x00)
	body = append(body, padding...)
	body = append(body, 0x00)
	body = append(body, payload...)
	return body, nil
}
