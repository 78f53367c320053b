package i2np

import "testing"

func TestTunnelGatewayPayloadRoundTrip(t *testing.T) {
	p := &TunnelGatewayPayload{TunnelID: 0xdeadbeef, Data: []byte("hello gateway")}
	wire, err := p.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := DecodeTunnelGatewayPayload(wire)
	if err != nil {
		t.Fatalf("DecodeTunnelGatewayPayload: %v", err)
	}
	if decoded.TunnelID != p.TunnelID || string(decoded.Data) != string(p.Data) {
		t.Fatalf("round trip mismatch: %+v", decoded)
	}
}

func TestDecodeTunnelGatewayPayloadRejectsTruncated(t *testing.T) {
	if _, err := DecodeTunnelGatewayPayload([]byte{0, 0}); err == nil {
		t.Fatalf("expected error for truncated buffer")
	}
}
