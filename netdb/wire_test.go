package netdb

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/go-i2p/go-i2p-router/identity"
)

// eddsaIdentity builds a KeyCert identity whose effective signing algorithm
// is EdDSA-Ed25519, and returns it alongside the matching private key.
func eddsaIdentity(t *testing.T) (*identity.Identity, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("ed25519.GenerateKey: %v", err)
	}
	id := &identity.Identity{SigType: identity.SigEdDSA25519, CryptoType: identity.CryptoElGamal}
	if _, err := rand.Read(id.EncryptionKey[:]); err != nil {
		t.Fatalf("rand encryption key: %v", err)
	}
	copy(id.SigningKeyField[:], pub)
	id.Cert = identity.Certificate{
		Type:    identity.CertKey,
		Payload: []byte{0, byte(identity.SigEdDSA25519), 0, byte(identity.CryptoElGamal)},
	}
	return id, priv
}

func TestRouterInfoEncodeDecodeRoundTrip(t *testing.T) {
	id, priv := eddsaIdentity(t)
	mtu := uint16(1400)
	info := &RouterInfo{
		Identity:  id,
		Published: time.Unix(1700000000, 0),
		Addresses: []Address{
			{
				Transport: "NTCP2",
				Host:      "203.0.113.5",
				Port:      12345,
				Cost:      10,
				MTU:       &mtu,
				Introducers: []Introducer{
					{Host: "203.0.113.9", Port: 9999, Tag: 42, ExpiresAt: time.Unix(1700003600, 0)},
				},
			},
		},
		Options:      map[string]string{"netId": "2"},
		Capabilities: CapFloodfill | CapHighBW,
	}

	signed, err := encodeRouterInfoSignedPortion(info)
	if err != nil {
		t.Fatalf("encodeRouterInfoSignedPortion: %v", err)
	}
	info.Signature = ed25519.Sign(priv, signed)

	wire, err := EncodeRouterInfo(info)
	if err != nil {
		t.Fatalf("EncodeRouterInfo: %v", err)
	}

	decoded, signedOut, err := DecodeRouterInfo(wire)
	if err != nil {
		t.Fatalf("DecodeRouterInfo: %v", err)
	}
	if !bytes.Equal(signedOut, signed) {
		t.Fatalf("signed portion mismatch")
	}
	if decoded.Identity.Hash() != id.Hash() {
		t.Fatalf("identity mismatch after round trip")
	}
	if len(decoded.Addresses) != 1 || decoded.Addresses[0].Host != "203.0.113.5" {
		t.Fatalf("address mismatch: %+v", decoded.Addresses)
	}
	if decoded.Addresses[0].MTU == nil || *decoded.Addresses[0].MTU != 1400 {
		t.Fatalf("mtu mismatch")
	}
	if len(decoded.Addresses[0].Introducers) != 1 || decoded.Addresses[0].Introducers[0].Tag != 42 {
		t.Fatalf("introducer mismatch: %+v", decoded.Addresses[0].Introducers)
	}
	if decoded.Options["netId"] != "2" {
		t.Fatalf("options mismatch: %+v", decoded.Options)
	}
	if decoded.Capabilities&CapFloodfill == 0 || decoded.Capabilities&CapHighBW == 0 {
		t.Fatalf("capabilities mismatch: %v", decoded.Capabilities)
	}

	if err := VerifyRouterInfo(decoded, signedOut); err != nil {
		t.Fatalf("VerifyRouterInfo: %v", err)
	}
}

func TestRouterInfoVerifyRejectsTamperedSignature(t *testing.T) {
	id, priv := eddsaIdentity(t)
	info := &RouterInfo{Identity: id, Published: time.Unix(1700000000, 0)}
	signed, err := encodeRouterInfoSignedPortion(info)
	if err != nil {
		t.Fatalf("encodeRouterInfoSignedPortion: %v", err)
	}
	info.Signature = ed25519.Sign(priv, signed)
	info.Signature[0] ^= 0xff

	if err := VerifyRouterInfo(info, signed); err == nil {
		t.Fatalf("expected verification failure for a tampered signature")
	}
}

func TestLeaseSetEncodeDecodeRoundTrip(t *testing.T) {
	id, priv := eddsaIdentity(t)
	ls := &LeaseSet{
		Destination: id,
		Leases: []Lease{
			{TunnelID: 7, Expiration: time.Unix(1700003600, 0)},
			{TunnelID: 8, Expiration: time.Unix(1700007200, 0)},
		},
	}
	for i := range ls.EncryptionKey {
		ls.EncryptionKey[i] = byte(i)
	}
	for i := range ls.Leases[0].TunnelGateway {
		ls.Leases[0].TunnelGateway[i] = byte(i)
	}

	signed, err := encodeLeaseSetSignedPortion(ls)
	if err != nil {
		t.Fatalf("encodeLeaseSetSignedPortion: %v", err)
	}
	ls.Signature = ed25519.Sign(priv, signed)

	wire, err := EncodeLeaseSet(ls)
	if err != nil {
		t.Fatalf("EncodeLeaseSet: %v", err)
	}

	decoded, signedOut, err := DecodeLeaseSet(wire)
	if err != nil {
		t.Fatalf("DecodeLeaseSet: %v", err)
	}
	if !bytes.Equal(signedOut, signed) {
		t.Fatalf("signed portion mismatch")
	}
	if len(decoded.Leases) != 2 || decoded.Leases[0].TunnelID != 7 || decoded.Leases[1].TunnelID != 8 {
		t.Fatalf("lease mismatch: %+v", decoded.Leases)
	}
	if decoded.EncryptionKey != ls.EncryptionKey {
		t.Fatalf("encryption key mismatch")
	}
	if err := VerifyLeaseSet(decoded, signedOut); err != nil {
		t.Fatalf("VerifyLeaseSet: %v", err)
	}
}
