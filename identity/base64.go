package identity

import (
	"encoding/base64"
	"fmt"
)

// b64Encoding is I2P's certificate/identity alphabet: standard base64
// with "-" and "~" in place of "+" and "/", unpadded.
var b64Encoding = base64.NewEncoding("ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-~").WithPadding(base64.NoPadding)

// ParseHashBase64 decodes a 32-byte identity hash from its I2P base64
// representation, as used in config options like explicit_peers.
func ParseHashBase64(s string) (Hash, error) {
	var h Hash
	raw, err := b64Encoding.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("identity.ParseHashBase64: %w", err)
	}
	if len(raw) != HashLen {
		return h, fmt.Errorf("identity.ParseHashBase64: decoded length %d, want %d", len(raw), HashLen)
	}
	copy(h[:], raw)
	return h, nil
}

// Base64 returns h's I2P base64 representation.
func (h Hash) Base64() string {
	return b64Encoding.EncodeToString(h[:])
}
