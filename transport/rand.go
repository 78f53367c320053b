package transport

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

// CryptoRand is the production Rand backed by crypto/rand.
type CryptoRand struct{}

func (CryptoRand) Bytes(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

func (CryptoRand) IntRange(lo, hi int) (int, error) {
	if hi <= lo {
		return 0, fmt.Errorf("rand: invalid range [%d, %d)", lo, hi)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(hi-lo)))
	if err != nil {
		return 0, fmt.Errorf("crypto/rand: %w", err)
	}
	return lo + int(n.Int64()), nil
}
