package tunnelcrypto

import (
	"bytes"
	"testing"

	"github.com/go-i2p/go-i2p-router/transport"
)

func TestElGamalEncryptDecryptRoundTrip(t *testing.T) {
	rnd := transport.CryptoRand{}
	kp, err := GenerateKeyPair(rnd)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	payload := []byte("layer-key + iv-key + reply material")
	ct, err := Encrypt(rnd, kp.Public, payload)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if len(ct) != ElGamalEncryptedLen {
		t.Fatalf("ciphertext length: got %d, want %d", len(ct), ElGamalEncryptedLen)
	}

	pt, err := Decrypt(kp.Private, ct)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	if !bytes.HasPrefix(pt, payload) {
		t.Fatalf("decrypted payload does not start with original payload")
	}
}

func TestElGamalDecryptRejectsWrongKey(t *testing.T) {
	rnd := transport.CryptoRand{}
	kp1, err := GenerateKeyPair(rnd)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	kp2, err := GenerateKeyPair(rnd)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}

	ct, err := Encrypt(rnd, kp1.Public, []byte("secret"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if _, err := Decrypt(kp2.Private, ct); err == nil {
		t.Fatalf("expected decrypt failure with wrong private key")
	}
}

func TestElGamalEncryptRejectsOversizedPayload(t *testing.T) {
	rnd := transport.CryptoRand{}
	kp, err := GenerateKeyPair(rnd)
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	if _, err := Encrypt(rnd, kp.Public, make([]byte, 300)); err == nil {
		t.Fatalf("expected overflow error")
	}
}
