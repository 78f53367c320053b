package tunnel

import (
	"crypto/sha256"

	"github.com/go-i2p/go-i2p-router/routererr"
	"github.com/go-i2p/go-i2p-router/transport"
)

// NewGatewayMessages turns one gateway-originated MessageBlock into the
// sequence of plaintext tunnel data messages a local outbound tunnel's
// gateway fragments before sending, one per fragment FragmentForGateway
// produces. The caller still owes each message its full per-hop layering
// pass (tunnelmanager.Manager.SendOutbound) before it reaches the wire —
// this function only builds the plaintext framing.
func NewGatewayMessages(rnd transport.Rand, tunnelID uint32, mb *MessageBlock) ([]*DataMessage, error) {
	fragments, err := FragmentForGateway(rnd, mb)
	if err != nil {
		return nil, err
	}
	out := make([]*DataMessage, 0, len(fragments))
	for _, payload := range fragments {
		var iv [16]byte
		if err := rnd.Bytes(iv[:]); err != nil {
			return nil, routererr.New(routererr.CryptoFailure, "tunnel.NewGatewayMessages", err)
		}
		padLen := BodyLen - 4 - 1 - 1 - len(payload)
		if padLen < 0 {
			return nil, routererr.New(routererr.Overflow, "tunnel.NewGatewayMessages", errFragmentTooLarge)
		}
		padding := make([]byte, padLen)
		if err := rnd.Bytes(padding); err != nil {
			return nil, routererr.New(routererr.CryptoFailure, "tunnel.NewGatewayMessages", err)
		}
		for i := range padding {
			if padding[i] == 0 {
				padding[i] = 1
			}
		}
		body, err := BuildPlaintextBody(gatewayChecksum(payload, iv[:]), padding, payload)
		if err != nil {
			return nil, err
		}
		var bodyArr [BodyLen]byte
		copy(bodyArr[:], body)
		out = append(out, &DataMessage{TunnelID: tunnelID, IV: iv, Body: bodyArr})
	}
	return out, nil
}

func gatewayChecksum(payload, iv []byte) [4]byte {
	h := sha256.New()
	h.Write(payload)
	h.Write(iv)
	sum := h.Sum(nil)
	var out [4]byte
	copy(out[:], sum)
	return out
}

var errFragmentTooLarge = simpleErr("fragment leaves no room for padding in one tunnel-data body")
