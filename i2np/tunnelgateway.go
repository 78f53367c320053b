package i2np

import (
	"encoding/binary"
	"fmt"

	"github.com/go-i2p/go-i2p-router/routererr"
)

// TunnelGatewayPayload is the parsed content of a TunnelGateway message:
// hand data to tunnelID at the receiving router, which must be that
// tunnel's gateway.
type TunnelGatewayPayload struct {
	TunnelID uint32
	Data     []byte
}

// Encode serializes a TunnelGateway payload: tunnelID(4), length(2), data.
func (p *TunnelGatewayPayload) Encode() ([]byte, error) {
	if len(p.Data) > 0xFFFF {
		return nil, routererr.New(routererr.Overflow, "i2np.TunnelGatewayPayload.Encode",
			fmt.Errorf("data length %d exceeds 16-bit field", len(p.Data)))
	}
	buf := make([]byte, 6+len(p.Data))
	binary.BigEndian.PutUint32(buf[0:4], p.TunnelID)
	binary.BigEndian.PutUint16(buf[4:6], uint16(len(p.Data)))
	copy(buf[6:], p.Data)
	return buf, nil
}

// DecodeTunnelGatewayPayload parses a TunnelGateway payload.
func DecodeTunnelGatewayPayload(buf []byte) (*TunnelGatewayPayload, error) {
	if len(buf) < 6 {
		return nil, routererr.New(routererr.Malformed, "i2np.DecodeTunnelGatewayPayload",
			fmt.Errorf("buffer too short for header: %d < 6", len(buf)))
	}
	tunnelID := binary.BigEndian.Uint32(buf[0:4])
	size := binary.BigEndian.Uint16(buf[4:6])
	if len(buf) < 6+int(size) {
		return nil, routererr.New(routererr.Malformed, "i2np.DecodeTunnelGatewayPayload",
			fmt.Errorf("declared size %d exceeds buffer (%d remaining)", size, len(buf)-6))
	}
	return &TunnelGatewayPayload{
		TunnelID: tunnelID,
		Data:     append([]byte(nil), buf[6:6+size]...),
	}, nil
}
