package identity

import (
	"crypto"
	"crypto/dsa"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"math/big"

	"filippo.io/edwards25519"
)

// SigType enumerates the closed set of signing algorithms this core
// supports: {DSA-SHA1, ECDSA-SHA256-P256, ECDSA-SHA384-P384,
// ECDSA-SHA512-P521, RSA-SHA{256,384,512}-{2048,3072,4096},
// EdDSA-SHA512-Ed25519}.
type SigType uint16

const (
	SigDSA          SigType = 0
	SigECDSAP256    SigType = 1
	SigECDSAP384    SigType = 2
	SigECDSAP521    SigType = 3
	SigRSA2048      SigType = 4
	SigRSA3072      SigType = 5
	SigRSA4096      SigType = 6
	SigEdDSA25519   SigType = 7
)

// SigLen returns the on-wire signature length for a SigType — the length
// a RouterInfo/LeaseSet's trailing signature field occupies.
func SigLen(t SigType) (int, error) {
	switch t {
	case SigDSA:
		return 40, nil
	case SigECDSAP256:
		return 64, nil
	case SigECDSAP384:
		return 96, nil
	case SigECDSAP521:
		return 132, nil
	case SigRSA2048:
		return 256, nil
	case SigRSA3072:
		return 384, nil
	case SigRSA4096:
		return 512, nil
	case SigEdDSA25519:
		return 64, nil
	default:
		return 0, fmt.Errorf("identity: unknown signature type %d", t)
	}
}

// Verifier verifies a signature over data given a public key blob in the
// wire encoding appropriate to the SigType (e.g. the 128-byte DSA-Y field,
// or a 32-byte Ed25519 point).
type Verifier interface {
	Verify(pubKey, data, sig []byte) error
}

// VerifierFor returns the Verifier implementation for a SigType.
func VerifierFor(t SigType) (Verifier, error) {
	switch t {
	case SigDSA:
		return dsaVerifier{}, nil
	case SigECDSAP256:
		return ecdsaVerifier{curve: elliptic.P256(), hash: crypto.SHA256}, nil
	case SigECDSAP384:
		return ecdsaVerifier{curve: elliptic.P384(), hash: crypto.SHA384}, nil
	case SigECDSAP521:
		return ecdsaVerifier{curve: elliptic.P521(), hash: crypto.SHA512}, nil
	case SigRSA2048, SigRSA3072, SigRSA4096:
		return rsaVerifier{sigType: t}, nil
	case SigEdDSA25519:
		return eddsaVerifier{}, nil
	default:
		return nil, fmt.Errorf("identity: unknown signature type %d", t)
	}
}

// --- DSA-SHA1 ---

// i2pDSAP, i2pDSAQ, i2pDSAG are the fixed 1024-bit DSA domain parameters
// I2P uses for every DSA-SHA1 identity (the same constant for every
// router, unlike generic DSA where P/Q/G vary per key).
var (
	i2pDSAP, _ = new(big.Int).SetString("9C05B2AA960D9B97B8931963C9CC9E8C3026E9B8ED92FAD0A69CC886D5BF8015FCADAE31A0AD18FAB3F01B00A358DE237655C4964AFAA2B337E96AD316B9FB1CC564B5AEC5B69A9FF6C3E4548707FEF8503D91DD8602E867E6D35D2235C1869CE2479C3B9D5401DE04E0727FB33D6511285D4CF29538D9E3B6051F5B22CC1C93", 16)
	i2pDSAQ, _ = new(big.Int).SetString("A5DFC28FEF4CA1E286744CD8EED9D29D684046B7", 16)
	i2pDSAG, _ = new(big.Int).SetString("C1F4D27D40093B429E962D7223824E0BBC47E7C832A39236FC683AF84889581075FF9082ED32353D4374D7301CDA1D23C431F4698599DDA02451824FF369752593647CC3DDC197DE985E43D136CDCFC6BD5809CAD9D5B11E3E1112A3B3AE9D97EDC88959B4772A4B19686FE14BC8D5C1B36FA9DE5B4DA16FDF7AD6E8D6E1B20", 16)
)

type dsaVerifier struct{}

func (dsaVerifier) Verify(pubKey, data, sig []byte) error {
	if len(pubKey) != SigPubKeyFieldLen {
		return fmt.Errorf("dsa: public key field must be %d bytes, got %d", SigPubKeyFieldLen, len(pubKey))
	}
	if len(sig) != 40 {
		return fmt.Errorf("dsa: signature must be 40 bytes, got %d", len(sig))
	}
	var pub dsa.PublicKey
	pub.P, pub.Q, pub.G = i2pDSAP, i2pDSAQ, i2pDSAG
	pub.Y = new(big.Int).SetBytes(pubKey)

	h := sha1.Sum(data)
	r := new(big.Int).SetBytes(sig[0:20])
	s := new(big.Int).SetBytes(sig[20:40])
	if !dsa.Verify(&pub, h[:], r, s) {
		return fmt.Errorf("dsa: signature verification failed")
	}
	return nil
}

// --- ECDSA ---

type ecdsaVerifier struct {
	curve elliptic.Curve
	hash  crypto.Hash
}

func (v ecdsaVerifier) Verify(pubKey, data, sig []byte) error {
	byteLen := (v.curve.Params().BitSize + 7) / 8
	if len(pubKey) != 2*byteLen {
		return fmt.Errorf("ecdsa: public key must be %d bytes, got %d", 2*byteLen, len(pubKey))
	}
	if len(sig) != 2*byteLen {
		return fmt.Errorf("ecdsa: signature must be %d bytes, got %d", 2*byteLen, len(sig))
	}
	x := new(big.Int).SetBytes(pubKey[:byteLen])
	y := new(big.Int).SetBytes(pubKey[byteLen:])
	pub := &ecdsa.PublicKey{Curve: v.curve, X: x, Y: y}

	digest := hashWith(v.hash, data)
	r := new(big.Int).SetBytes(sig[:byteLen])
	s := new(big.Int).SetBytes(sig[byteLen:])
	if !ecdsa.Verify(pub, digest, r, s) {
		return fmt.Errorf("ecdsa: signature verification failed")
	}
	return nil
}

func hashWith(h crypto.Hash, data []byte) []byte {
	switch h {
	case crypto.SHA256:
		d := sha256.Sum256(data)
		return d[:]
	case crypto.SHA384:
		d := sha512.Sum384(data)
		return d[:]
	case crypto.SHA512:
		d := sha512.Sum512(data)
		return d[:]
	default:
		d := sha256.Sum256(data)
		return d[:]
	}
}

// --- RSA ---

type rsaVerifier struct{ sigType SigType }

func (v rsaVerifier) Verify(pubKey, data, sig []byte) error {
	n := new(big.Int).SetBytes(pubKey)
	pub := &rsa.PublicKey{N: n, E: 65537}

	var hash crypto.Hash
	switch v.sigType {
	case SigRSA2048:
		hash = crypto.SHA256
	case SigRSA3072:
		hash = crypto.SHA384
	case SigRSA4096:
		hash = crypto.SHA512
	default:
		return fmt.Errorf("rsa: unsupported sig type %d", v.sigType)
	}
	digest := hashWith(hash, data)
	if err := rsa.VerifyPKCS1v15(pub, hash, digest, sig); err != nil {
		return fmt.Errorf("rsa: signature verification failed: %w", err)
	}
	return nil
}

// --- EdDSA-SHA512-Ed25519 ---

// eddsaVerifier verifies directly against edwards25519 scalar/point
// arithmetic rather than delegating to crypto/ed25519.Verify.
type eddsaVerifier struct{}

func (eddsaVerifier) Verify(pubKey, data, sig []byte) error {
	if len(pubKey) != 32 {
		return fmt.Errorf("eddsa: public key must be 32 bytes, got %d", len(pubKey))
	}
	if len(sig) != 64 {
		return fmt.Errorf("eddsa: signature must be 64 bytes, got %d", len(sig))
	}
	A, err := new(edwards25519.Point).SetBytes(pubKey)
	if err != nil {
		return fmt.Errorf("eddsa: invalid public key point: %w", err)
	}
	R, err := new(edwards25519.Point).SetBytes(sig[:32])
	if err != nil {
		return fmt.Errorf("eddsa: invalid R point: %w", err)
	}
	S, err := new(edwards25519.Scalar).SetCanonicalBytes(sig[32:64])
	if err != nil {
		return fmt.Errorf("eddsa: non-canonical S: %w", err)
	}

	h := sha512.New()
	h.Write(sig[:32])
	h.Write(pubKey)
	h.Write(data)
	kBytes := h.Sum(nil)
	k, err := new(edwards25519.Scalar).SetUniformBytes(kBytes)
	if err != nil {
		return fmt.Errorf("eddsa: derive challenge scalar: %w", err)
	}

	// Check [S]B == R + [k]A
	sB := new(edwards25519.Point).ScalarBaseMult(S)
	kA := new(edwards25519.Point).ScalarMult(k, A)
	rhs := new(edwards25519.Point).Add(R, kA)

	if string(sB.Bytes()) != string(rhs.Bytes()) {
		return fmt.Errorf("eddsa: signature verification failed")
	}
	return nil
}
