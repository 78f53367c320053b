package routerconfig

import (
	"testing"

	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/netdb"
)

func TestResolveDefaults(t *testing.T) {
	l, err := NewLoader()
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	c, err := l.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if c.InboundTunnelLength != 2 || c.OutboundTunnelLength != 2 {
		t.Fatalf("expected default tunnel length 2/2, got %d/%d", c.InboundTunnelLength, c.OutboundTunnelLength)
	}
	if c.InboundTunnelsQuantity != 5 || c.OutboundTunnelsQuantity != 5 {
		t.Fatalf("expected default quantity 5/5, got %d/%d", c.InboundTunnelsQuantity, c.OutboundTunnelsQuantity)
	}
	if c.Bandwidth != netdb.TierL {
		t.Fatalf("expected default bandwidth tier L, got %c", c.Bandwidth)
	}
	if !c.EnableNTCP || !c.EnableSSU {
		t.Fatalf("expected both transports enabled by default")
	}
	if len(c.ExplicitPeers) != 0 {
		t.Fatalf("expected no explicit peers by default")
	}
}

func TestCheckRangeRejectsOutOfBounds(t *testing.T) {
	if err := checkRange("inbound_length", 8, 0, 7); err == nil {
		t.Fatalf("expected an error for a length outside 0..7")
	}
	if err := checkRange("inbound_quantity", 0, 1, 16); err == nil {
		t.Fatalf("expected an error for a quantity outside 1..16")
	}
	if err := checkRange("inbound_length", 2, 0, 7); err != nil {
		t.Fatalf("unexpected error for an in-range value: %v", err)
	}
}

func TestParseBandwidthTier(t *testing.T) {
	cases := []struct {
		in      string
		want    netdb.BandwidthTier
		wantErr bool
	}{
		{"L", netdb.TierL, false},
		{"x", netdb.TierX, false},
		{" N ", netdb.TierN, false},
		{"Q", 0, true},
		{"", 0, true},
	}
	for _, tc := range cases {
		got, err := parseBandwidthTier(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseBandwidthTier(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Fatalf("parseBandwidthTier(%q): %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("parseBandwidthTier(%q) = %c, want %c", tc.in, got, tc.want)
		}
	}
}

func TestParseExplicitPeersRoundTrip(t *testing.T) {
	var h identity.Hash
	for i := range h {
		h[i] = byte(i)
	}
	peers, err := parseExplicitPeers([]string{h.Base64(), " ", ""})
	if err != nil {
		t.Fatalf("parseExplicitPeers: %v", err)
	}
	if len(peers) != 1 || peers[0] != h {
		t.Fatalf("expected the single decoded peer hash to round-trip")
	}
}

func TestParseExplicitPeersRejectsGarbage(t *testing.T) {
	if _, err := parseExplicitPeers([]string{"not-valid-base64!!"}); err == nil {
		t.Fatalf("expected an error for malformed base64")
	}
}
