package tunnelcrypto

import (
	"crypto/aes"
	"crypto/cipher"

	"github.com/go-i2p/go-i2p-router/routererr"
)

// HopReplyKey is the reply-key/reply-IV pair a build record carries so
// earlier hops can pre-decrypt records belonging to later hops before the
// message is ever sent (spec §4.3 build-record onion wrapping).
type HopReplyKey struct {
	ReplyKey [16]byte
	ReplyIV  [16]byte
}

// PreDecryptLaterRecords walks hop reply keys from the second-to-last real
// hop backwards, AES-CBC-decrypting every record slot positioned after that
// hop's own slot, using that hop's reply-key/reply-IV. This precomputes,
// before the message is sent, the same transformation each hop will apply
// live as the build message travels — so that by the time hop i processes
// the wire message, every later hop has already "seen" (via this
// pre-image) the decrypt it would itself apply.
//
// records is mutated in place. hopPositions gives the wire-slot index of
// each real hop in creation order; keys gives that hop's reply material in
// the same order.
func PreDecryptLaterRecords(records [][]byte, recordLen int, hopPositions []int, keys []HopReplyKey) error {
	if len(hopPositions) != len(keys) {
		return routererr.New(routererr.UnexpectedState, "tunnelcrypto.PreDecryptLaterRecords",
			errMismatchedLengths)
	}
	for i := len(hopPositions) - 2; i >= 0; i-- {
		hop := keys[i]
		block, err := aes.NewCipher(hop.ReplyKey[:])
		if err != nil {
			return routererr.New(routererr.CryptoFailure, "tunnelcrypto.PreDecryptLaterRecords", err)
		}
		dec := cipher.NewCBCDecrypter(block, hop.ReplyIV[:])
		for j := i + 1; j < len(hopPositions); j++ {
			pos := hopPositions[j]
			if len(records[pos]) != recordLen {
				return routererr.New(routererr.Malformed, "tunnelcrypto.PreDecryptLaterRecords", errBadRecordLen)
			}
			out := make([]byte, recordLen)
			dec.CryptBlocks(out, records[pos])
			records[pos] = out
			dec = cipher.NewCBCDecrypter(block, hop.ReplyIV[:]) // CBC state must restart per record
		}
	}
	return nil
}

// ForwardEncryptOtherRecords is applied live by a hop as it processes an
// incoming build message: after decrypting and replacing its own record,
// it AES-CBC-encrypts every other record slot with its reply-key/reply-IV,
// inverting the pre-image PreDecryptLaterRecords computed at creation time.
func ForwardEncryptOtherRecords(records [][]byte, recordLen int, ownPosition int, replyKey, replyIV [16]byte) error {
	block, err := aes.NewCipher(replyKey[:])
	if err != nil {
		return routererr.New(routererr.CryptoFailure, "tunnelcrypto.ForwardEncryptOtherRecords", err)
	}
	for i, rec := range records {
		if i == ownPosition {
			continue
		}
		if len(rec) != recordLen {
			return routererr.New(routererr.Malformed, "tunnelcrypto.ForwardEncryptOtherRecords", errBadRecordLen)
		}
		enc := cipher.NewCBCEncrypter(block, replyIV[:])
		out := make([]byte, recordLen)
		enc.CryptBlocks(out, rec)
		records[i] = out
	}
	return nil
}

var (
	errMismatchedLengths = simpleErr("hopPositions and keys length mismatch")
	errBadRecordLen      = simpleErr("record length mismatch")
)

type simpleErr string

func (e simpleErr) Error() string { return string(e) }
