// Package tunnelcrypto implements the layered AES-CBC tunnel encryption and
// the ElGamal-over-2048-bit-prime build handshake used to install it.
package tunnelcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"github.com/go-i2p/go-i2p-router/routererr"
)

const (
	// LayerKeyLen and IVKeyLen are the AES-256 key sizes used for tunnel
	// body and IV re-encryption respectively.
	LayerKeyLen = 32
	IVKeyLen    = 32
	IVLen       = 16
	// TunnelBodyLen is the fixed encrypted body length of a tunnel data
	// message (excludes the 4-byte tunnelID and 16-byte IV).
	TunnelBodyLen = 1008
)

// encryptIV runs a single AES-ECB-equivalent block encryption of iv under
// ivKey: one CBC block with a zero IV degenerates to ECB for exactly one
// block, which is what the single-block IV re-keying operation requires.
func encryptIV(ivKey, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(ivKey)
	if err != nil {
		return nil, routererr.New(routererr.CryptoFailure, "tunnelcrypto.encryptIV", err)
	}
	var zero [IVLen]byte
	out := make([]byte, IVLen)
	cipher.NewCBCEncrypter(block, zero[:]).CryptBlocks(out, iv)
	return out, nil
}

func decryptIV(ivKey, iv []byte) ([]byte, error) {
	block, err := aes.NewCipher(ivKey)
	if err != nil {
		return nil, routererr.New(routererr.CryptoFailure, "tunnelcrypto.decryptIV", err)
	}
	var zero [IVLen]byte
	out := make([]byte, IVLen)
	cipher.NewCBCDecrypter(block, zero[:]).CryptBlocks(out, iv)
	return out, nil
}

// LayerEncrypt applies one hop's forward transformation to a tunnel data
// message body: encrypt the IV under ivKey, CBC-encrypt the body under
// layerKey using that new IV, then re-encrypt the IV under ivKey once more
// before shipping (spec §4.3).
func LayerEncrypt(layerKey, ivKey, iv, body []byte) (newIV, newBody []byte, err error) {
	if len(iv) != IVLen {
		return nil, nil, routererr.New(routererr.Malformed, "tunnelcrypto.LayerEncrypt", fmt.Errorf("iv must be %d bytes", IVLen))
	}
	if len(body) != TunnelBodyLen {
		return nil, nil, routererr.New(routererr.Malformed, "tunnelcrypto.LayerEncrypt", fmt.Errorf("body must be %d bytes", TunnelBodyLen))
	}

	stepIV, err := encryptIV(ivKey, iv)
	if err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(layerKey)
	if err != nil {
		return nil, nil, routererr.New(routererr.CryptoFailure, "tunnelcrypto.LayerEncrypt", err)
	}
	encBody := make([]byte, len(body))
	cipher.NewCBCEncrypter(block, stepIV).CryptBlocks(encBody, body)

	finalIV, err := encryptIV(ivKey, stepIV)
	if err != nil {
		return nil, nil, err
	}
	return finalIV, encBody, nil
}

// LayerDecrypt is the inverse of LayerEncrypt, applied by an endpoint or by
// a participant unwinding one layer as it peels towards plaintext.
func LayerDecrypt(layerKey, ivKey, iv, body []byte) (newIV, newBody []byte, err error) {
	if len(iv) != IVLen {
		return nil, nil, routererr.New(routererr.Malformed, "tunnelcrypto.LayerDecrypt", fmt.Errorf("iv must be %d bytes", IVLen))
	}
	if len(body) != TunnelBodyLen {
		return nil, nil, routererr.New(routererr.Malformed, "tunnelcrypto.LayerDecrypt", fmt.Errorf("body must be %d bytes", TunnelBodyLen))
	}

	stepIV, err := decryptIV(ivKey, iv)
	if err != nil {
		return nil, nil, err
	}

	block, err := aes.NewCipher(layerKey)
	if err != nil {
		return nil, nil, routererr.New(routererr.CryptoFailure, "tunnelcrypto.LayerDecrypt", err)
	}
	decBody := make([]byte, len(body))
	cipher.NewCBCDecrypter(block, stepIV).CryptBlocks(decBody, body)

	finalIV, err := decryptIV(ivKey, stepIV)
	if err != nil {
		return nil, nil, err
	}
	return finalIV, decBody, nil
}

// CBCEncrypt and CBCDecrypt are plain whole-buffer AES-CBC helpers used by
// the build-record onion wrapper and by garlic session encryption, where
// key and IV are independent 16/32-byte values rather than the paired
// layer/IV keys above.
func CBCEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, routererr.New(routererr.CryptoFailure, "tunnelcrypto.CBCEncrypt", err)
	}
	if len(plaintext)%aes.BlockSize != 0 {
		return nil, routererr.New(routererr.Malformed, "tunnelcrypto.CBCEncrypt",
			fmt.Errorf("plaintext length %d is not a multiple of the block size", len(plaintext)))
	}
	out := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, plaintext)
	return out, nil
}

func CBCDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, routererr.New(routererr.CryptoFailure, "tunnelcrypto.CBCDecrypt", err)
	}
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, routererr.New(routererr.Malformed, "tunnelcrypto.CBCDecrypt",
			fmt.Errorf("ciphertext length %d is not a multiple of the block size", len(ciphertext)))
	}
	out := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ciphertext)
	return out, nil
}
