package identity

import "fmt"

// parseKeyCert decodes a KeyCert certificate payload: signing key type (2
// bytes) and encryption key type (2 bytes). It returns the declared
// SigType/CryptoType and the number of extra signing-key bytes that
// overflow the fixed 128-byte SigningKeyField.
func parseKeyCert(payload []byte) (SigType, CryptoType, int, error) {
	if len(payload) < 4 {
		return 0, 0, 0, fmt.Errorf("keycert: payload too short: %d < 4", len(payload))
	}
	sigType := SigType(uint16(payload[0])<<8 | uint16(payload[1]))
	cryptoType := CryptoType(uint16(payload[2])<<8 | uint16(payload[3]))

	if cryptoType != CryptoElGamal {
		return 0, 0, 0, fmt.Errorf("keycert: unsupported encryption type %d", cryptoType)
	}

	pubLen, err := sigPubKeyLen(sigType)
	if err != nil {
		return 0, 0, 0, err
	}
	overflow := pubLen - SigPubKeyFieldLen
	if overflow < 0 {
		overflow = 0
	}
	return sigType, cryptoType, overflow, nil
}

// sigPubKeyLen returns the on-wire length of the public key for a SigType
// — distinct from SigLen, which is the signature length.
func sigPubKeyLen(t SigType) (int, error) {
	switch t {
	case SigDSA:
		return 128, nil
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
		return 32, nil
	default:
		return 0, fmt.Errorf("identity: unknown signature type %d", t)
	}
}

// SigningPublicKey extracts the effective signing public key bytes from
// the identity: the tail of SigningKeyField plus any ExtendedSigningKey,
// sized to the real public key length for id.SigType. For a plain
// (non-KeyCert) identity the full 128-byte field is the DSA Y value.
func (id *Identity) SigningPublicKey() ([]byte, error) {
	pubLen, err := sigPubKeyLen(id.SigType)
	if err != nil {
		return nil, err
	}
	if pubLen <= SigPubKeyFieldLen {
		// Real key material is right-aligned in the 128-byte field; the
		// leading bytes are padding.
		return append([]byte(nil), id.SigningKeyField[SigPubKeyFieldLen-pubLen:]...), nil
	}
	out := make([]byte, 0, pubLen)
	out = append(out, id.SigningKeyField[:]...)
	out = append(out, id.ExtendedSigningKey...)
	if len(out) != pubLen {
		return nil, fmt.Errorf("identity: signing key length mismatch: got %d, want %d", len(out), pubLen)
	}
	return out, nil
}
