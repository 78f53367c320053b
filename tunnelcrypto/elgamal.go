package tunnelcrypto

import (
	"crypto/sha256"
	"fmt"
	"math/big"

	"github.com/go-i2p/go-i2p-router/routererr"
	"github.com/go-i2p/go-i2p-router/transport"
)

// elgamalP is the fixed 2048-bit prime every ElGamal operation in the
// network uses; elgamalG is its generator.
var (
	elgamalP, _ = new(big.Int).SetString("FFFFFFFFFFFFFFFFC90FDAA22168C234C4C6628B80DC1CD129024E088A67CC7"+
		"4020BBEA63B139B22514A08798E3404DDEF9519B3CD3A431B302B0A6DF25F14374FE1356D6D51C245E485B576625E7EC6F"+
		"44C42E9A637ED6B0BFF5CB6F406B7EDEE386BFB5A899FA5AE9F24117C4B1FE649286651ECE45B3DC2007CB8A163BF0598D"+
		"A48361C55D39A69163FA8FD24CF5F83655D23DCA3AD961C62F356208552BB9ED529077096966D670C354E4ABC9804F1746"+
		"C08CA18217C32905E462E36CE3BE39E772C180E86039B2783A2EC07A28FB5C55DF06F4C52C9DE2BCBF6955817183995497"+
		"CEA956AE515D2261898FA051015728E5A8AACAA68FFFFFFFFFFFFFFFF", 16)
	elgamalG = big.NewInt(2)
)

const (
	// ElGamalKeyLen is the size of an ElGamal public or private key.
	ElGamalKeyLen = 256
	// ElGamalEncryptedLen is the length of a two-integer ElGamal ciphertext.
	ElGamalEncryptedLen = 512
	// ElGamalPayloadLen is the payload window carried inside one ElGamal
	// block after the leading zero byte and the 32-byte hash. Decrypt
	// returns the whole window, so a shorter payload comes back followed
	// by the random padding Encrypt filled the window with.
	ElGamalPayloadLen = 222
)

// KeyPair holds an ElGamal private/public exponent pair.
type KeyPair struct {
	Private *big.Int
	Public  *big.Int
}

// GenerateKeyPair produces a fresh ElGamal key pair using rnd for the
// private exponent.
func GenerateKeyPair(rnd transport.Rand) (*KeyPair, error) {
	priv, err := randBigInt(rnd, elgamalP)
	if err != nil {
		return nil, routererr.New(routererr.CryptoFailure, "tunnelcrypto.GenerateKeyPair", err)
	}
	pub := new(big.Int).Exp(elgamalG, priv, elgamalP)
	return &KeyPair{Private: priv, Public: pub}, nil
}

func randBigInt(rnd transport.Rand, max *big.Int) (*big.Int, error) {
	buf := make([]byte, (max.BitLen()+7)/8)
	for {
		if err := rnd.Bytes(buf); err != nil {
			return nil, err
		}
		n := new(big.Int).SetBytes(buf)
		if n.Sign() > 0 && n.Cmp(max) < 0 {
			return n, nil
		}
	}
}

// Encrypt produces a 512-byte ElGamal ciphertext (two 256-byte big-endian
// integers) encrypting payload (which must be ≤222 bytes) to pubKey. The
// 256-byte cleartext block is: one leading zero byte, a 32-byte SHA-256
// hash, then the 222-byte payload window (payload followed by random
// padding) and one final random byte. The hash covers the whole window.
func Encrypt(rnd transport.Rand, pubKey *big.Int, payload []byte) ([]byte, error) {
	if len(payload) > ElGamalPayloadLen {
		return nil, routererr.New(routererr.Overflow, "tunnelcrypto.Encrypt",
			fmt.Errorf("payload %d bytes exceeds max %d", len(payload), ElGamalPayloadLen))
	}

	cleartext := make([]byte, 256)
	cleartext[0] = 0
	copy(cleartext[33:33+len(payload)], payload)
	if err := rnd.Bytes(cleartext[33+len(payload):]); err != nil {
		return nil, routererr.New(routererr.CryptoFailure, "tunnelcrypto.Encrypt", err)
	}
	hash := sha256.Sum256(cleartext[33 : 33+ElGamalPayloadLen])
	copy(cleartext[1:33], hash[:])
	m := new(big.Int).SetBytes(cleartext)
	m.Mod(m, elgamalP)

	k, err := randBigInt(rnd, elgamalP)
	if err != nil {
		return nil, routererr.New(routererr.CryptoFailure, "tunnelcrypto.Encrypt", err)
	}
	a := new(big.Int).Exp(elgamalG, k, elgamalP)
	s := new(big.Int).Exp(pubKey, k, elgamalP)
	b := new(big.Int).Mod(new(big.Int).Mul(m, s), elgamalP)

	out := make([]byte, ElGamalEncryptedLen)
	a.FillBytes(out[:ElGamalKeyLen])
	b.FillBytes(out[ElGamalKeyLen:])
	return out, nil
}

// Decrypt reverses Encrypt given the 512-byte ciphertext and the private
// exponent, verifying the embedded SHA-256 hash against the recovered
// 222-byte payload window and returning that whole window.
func Decrypt(priv *big.Int, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) != ElGamalEncryptedLen {
		return nil, routererr.New(routererr.Malformed, "tunnelcrypto.Decrypt",
			fmt.Errorf("ciphertext must be %d bytes, got %d", ElGamalEncryptedLen, len(ciphertext)))
	}
	a := new(big.Int).SetBytes(ciphertext[:ElGamalKeyLen])
	b := new(big.Int).SetBytes(ciphertext[ElGamalKeyLen:])

	s := new(big.Int).Exp(a, priv, elgamalP)
	sInv := new(big.Int).ModInverse(s, elgamalP)
	if sInv == nil {
		return nil, routererr.New(routererr.CryptoFailure, "tunnelcrypto.Decrypt", fmt.Errorf("non-invertible shared secret"))
	}
	m := new(big.Int).Mod(new(big.Int).Mul(b, sInv), elgamalP)

	cleartext := m.FillBytes(make([]byte, 256))
	wantHash := cleartext[1:33]
	payload := cleartext[33 : 33+ElGamalPayloadLen]
	gotHash := sha256.Sum256(payload)
	if string(gotHash[:]) != string(wantHash) {
		return nil, routererr.New(routererr.CryptoFailure, "tunnelcrypto.Decrypt", fmt.Errorf("payload hash mismatch"))
	}
	return payload, nil
}
