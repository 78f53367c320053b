package identity

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha512"
	"testing"

	"filippo.io/edwards25519"
)

func TestECDSAVerifierAcceptsValidSignature(t *testing.T) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	data := []byte("tunnel build record")
	digest := hashWith(crypto.SHA256, data)
	r, s, err := ecdsa.Sign(rand.Reader, priv, digest)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	byteLen := 32
	pub := make([]byte, 2*byteLen)
	rBytes := r.FillBytes(make([]byte, byteLen))
	sBytes := s.FillBytes(make([]byte, byteLen))
	copy(pub[:byteLen], priv.X.FillBytes(make([]byte, byteLen)))
	copy(pub[byteLen:], priv.Y.FillBytes(make([]byte, byteLen)))
	sig := append(append([]byte{}, rBytes...), sBytes...)

	v, err := VerifierFor(SigECDSAP256)
	if err != nil {
		t.Fatalf("VerifierFor: %v", err)
	}
	if err := v.Verify(pub, data, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	// Tampering must fail.
	data[0] ^= 0xFF
	if err := v.Verify(pub, data, sig); err == nil {
		t.Fatalf("expected verification failure on tampered data")
	}
}

func TestEdDSAVerifierAcceptsValidSignature(t *testing.T) {
	// Build a minimal Ed25519 signature by hand using edwards25519, the
	// same primitive the verifier itself uses, so this test exercises the
	// identity package's own math rather than crypto/ed25519's.
	var seed [32]byte
	if _, err := rand.Read(seed[:]); err != nil {
		t.Fatalf("rand: %v", err)
	}
	h := sha512.Sum512(seed[:])
	s, err := new(edwards25519.Scalar).SetBytesWithClamping(h[:32])
	if err != nil {
		t.Fatalf("clamp scalar: %v", err)
	}
	A := new(edwards25519.Point).ScalarBaseMult(s)
	pub := A.Bytes()

	data := []byte("router info")

	rh := sha512.New()
	rh.Write(h[32:64])
	rh.Write(data)
	rScalar, err := new(edwards25519.Scalar).SetUniformBytes(rh.Sum(nil))
	if err != nil {
		t.Fatalf("derive r: %v", err)
	}
	R := new(edwards25519.Point).ScalarBaseMult(rScalar)

	kh := sha512.New()
	kh.Write(R.Bytes())
	kh.Write(pub)
	kh.Write(data)
	k, err := new(edwards25519.Scalar).SetUniformBytes(kh.Sum(nil))
	if err != nil {
		t.Fatalf("derive k: %v", err)
	}
	sOut := new(edwards25519.Scalar).MultiplyAdd(k, s, rScalar)

	sig := append(append([]byte{}, R.Bytes()...), sOut.Bytes()...)

	v, err := VerifierFor(SigEdDSA25519)
	if err != nil {
		t.Fatalf("VerifierFor: %v", err)
	}
	if err := v.Verify(pub, data, sig); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}
