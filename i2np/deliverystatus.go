package i2np

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-i2p/go-i2p-router/routererr"
)

// DeliveryStatusPayload carries the message ID a tunnel test round-trips
// and the time the probe was sent.
type DeliveryStatusPayload struct {
	MessageID uint32
	Timestamp time.Time
}

func (p *DeliveryStatusPayload) Encode() []byte {
	buf := make([]byte, 12)
	binary.BigEndian.PutUint32(buf[0:4], p.MessageID)
	binary.BigEndian.PutUint64(buf[4:12], uint64(p.Timestamp.UnixMilli()))
	return buf
}

func DecodeDeliveryStatusPayload(buf []byte) (*DeliveryStatusPayload, error) {
	if len(buf) < 12 {
		return nil, routererr.New(routererr.Malformed, "i2np.DecodeDeliveryStatusPayload",
			fmt.Errorf("buffer too short: %d < 12", len(buf)))
	}
	return &DeliveryStatusPayload{
		MessageID: binary.BigEndian.Uint32(buf[0:4]),
		Timestamp: time.UnixMilli(int64(binary.BigEndian.Uint64(buf[4:12]))),
	}, nil
}
