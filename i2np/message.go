// Package i2np implements the I2NP message plane: typed, length-prefixed,
// checksummed, expiring binary messages, built, parsed, and dispatched.
package i2np

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-i2p/go-i2p-router/routererr"
	"github.com/go-i2p/go-i2p-router/transport"
)

// Type identifies an I2NP message.
type Type uint8

const (
	TypeDatabaseStore            Type = 1
	TypeDatabaseLookup           Type = 2
	TypeDatabaseSearchReply      Type = 3
	TypeDeliveryStatus           Type = 10
	TypeGarlic                   Type = 11
	TypeTunnelData               Type = 18
	TypeTunnelGateway            Type = 19
	TypeData                     Type = 20
	TypeTunnelBuild              Type = 21
	TypeTunnelBuildReply         Type = 22
	TypeVariableTunnelBuild      Type = 23
	TypeVariableTunnelBuildReply Type = 24
)

const (
	// MaxSize is the maximum long-header message size.
	MaxSize = 32 * 1024
	// MaxShortSize is the maximum short-header (transport) message size.
	MaxShortSize = 4 * 1024
	// DefaultExpiration is how far in the future FillHeader sets expiration.
	DefaultExpiration = time.Minute

	longHeaderLen = 1 + 4 + 8 + 2 + 1 // type, messageID, expiration, size, checksum
)

// Message is a shared I2NP message. Once Build or Parse returns a Message,
// no handler holding it may mutate its buffer — message buffers are
// immutable after publication.
type Message struct {
	Type       Type
	MessageID  uint32
	Expiration time.Time
	Payload    []byte
	// Origin is the inbound tunnel this message arrived on, if any — used
	// by the dispatcher for reply routing.
	Origin *uint32
}

// Build constructs a Message with a fresh or caller-supplied messageID.
// When replyID is non-nil the message carries that ID (used so a reply
// message bears the same ID the original requester is waiting on);
// otherwise FillHeader assigns a random one via rnd.
func Build(rnd transport.Rand, typ Type, payload []byte, replyID *uint32) (*Message, error) {
	m := &Message{
		Type:    typ,
		Payload: payload,
	}
	if err := FillHeader(rnd, m, replyID); err != nil {
		return nil, fmt.Errorf("i2np: build: %w", err)
	}
	return m, nil
}

// FillHeader sets messageID (unless replyID is given), a 1-minute
// expiration from now, and is a no-op for size/checksum, which are
// computed at Serialize time from the current Payload.
func FillHeader(rnd transport.Rand, m *Message, replyID *uint32) error {
	if replyID != nil {
		m.MessageID = *replyID
	} else {
		var buf [4]byte
		if err := rnd.Bytes(buf[:]); err != nil {
			return fmt.Errorf("i2np: random messageID: %w", err)
		}
		m.MessageID = binary.BigEndian.Uint32(buf[:])
	}
	m.Expiration = time.Now().Add(DefaultExpiration)
	return nil
}

func checksum(payload []byte) byte {
	h := sha256.Sum256(payload)
	return h[0]
}

// Serialize writes the long-header wire form: typeID(1) || messageID(4) ||
// expiration-ms(8) || size(2) || checksum(1) || payload.
func (m *Message) Serialize() ([]byte, error) {
	if len(m.Payload) > MaxSize-longHeaderLen {
		return nil, routererr.New(routererr.Overflow, "i2np.Serialize",
			fmt.Errorf("payload %d bytes exceeds max %d", len(m.Payload), MaxSize-longHeaderLen))
	}
	buf := make([]byte, longHeaderLen+len(m.Payload))
	buf[0] = byte(m.Type)
	binary.BigEndian.PutUint32(buf[1:5], m.MessageID)
	binary.BigEndian.PutUint64(buf[5:13], uint64(m.Expiration.UnixMilli()))
	binary.BigEndian.PutUint16(buf[13:15], uint16(len(m.Payload)))
	buf[15] = checksum(m.Payload)
	copy(buf[longHeaderLen:], m.Payload)
	return buf, nil
}

// Parse decodes a long-header I2NP message. It fails with a *routererr.Error
// of Kind Malformed when the declared size exceeds the buffer or the
// payload checksum does not match.
func Parse(buf []byte) (*Message, error) {
	if len(buf) < longHeaderLen {
		return nil, routererr.New(routererr.Malformed, "i2np.Parse",
			fmt.Errorf("buffer too short for header: %d < %d", len(buf), longHeaderLen))
	}
	typ := Type(buf[0])
	messageID := binary.BigEndian.Uint32(buf[1:5])
	expMillis := binary.BigEndian.Uint64(buf[5:13])
	size := binary.BigEndian.Uint16(buf[13:15])
	wantChecksum := buf[15]

	if longHeaderLen+int(size) > len(buf) {
		return nil, routererr.New(routererr.Malformed, "i2np.Parse",
			fmt.Errorf("declared size %d exceeds buffer (%d remaining)", size, len(buf)-longHeaderLen))
	}
	payload := buf[longHeaderLen : longHeaderLen+int(size)]
	if checksum(payload) != wantChecksum {
		return nil, routererr.New(routererr.Malformed, "i2np.Parse",
			fmt.Errorf("bad checksum"))
	}

	return &Message{
		Type:       typ,
		MessageID:  messageID,
		Expiration: time.UnixMilli(int64(expMillis)),
		Payload:    append([]byte(nil), payload...),
	}, nil
}

// Length reports how many bytes of buf a single long-header message
// occupies, without fully parsing it — used to split a buffer containing
// multiple back-to-back messages.
func Length(buf []byte) (int, error) {
	if len(buf) < longHeaderLen {
		return 0, routererr.New(routererr.Malformed, "i2np.Length",
			fmt.Errorf("buffer too short for header: %d < %d", len(buf), longHeaderLen))
	}
	size := binary.BigEndian.Uint16(buf[13:15])
	total := longHeaderLen + int(size)
	if total > len(buf) {
		return 0, routererr.New(routererr.Malformed, "i2np.Length",
			fmt.Errorf("declared size %d exceeds buffer", size))
	}
	return total, nil
}

// IsExpired reports whether the message's expiration has passed as of now.
func (m *Message) IsExpired(now time.Time) bool {
	return now.After(m.Expiration)
}
