package garlic

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"github.com/go-i2p/go-i2p-router/i2np"
	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/routererr"
	"github.com/go-i2p/go-i2p-router/transport"
	"github.com/go-i2p/go-i2p-router/tunnelcrypto"
)

// NewTagBatchSize is how many fresh session tags WrapMessage mints when a
// session needs replenishing.
const NewTagBatchSize = 40

// MessageExpiration bounds how long a garlic message remains valid after
// it is wrapped.
const MessageExpiration = time.Minute

// tagLen is a session tag's wire width: a 32-byte value used as an AES key
// lookup handle, distinct from the ordinary layer/IV key sizes.
const tagLen = 32

// WrapInput is everything WrapMessage needs beyond the session itself.
type WrapInput struct {
	Rnd           transport.Rand
	Now           time.Time
	MessageID     uint32 // identifies this garlic message; also keys tag confirmation
	CloveDelivery CloveDeliveryType
	Destination   *identity.Hash
	Payload       []byte // the embedded I2NP message bytes to deliver as the payload clove

	// DestPubKey is the recipient's long-term ElGamal public key, required
	// only when session has no live tag and must fall back to a fresh
	// handshake.
	DestPubKey *big.Int

	// LeaseSetMessage, if non-nil, is a serialized DatabaseStore I2NP
	// message carrying this router's current lease-set, bundled as a
	// Local clove when the session's peer needs it.
	LeaseSetMessage []byte
}

// WrapMessage implements the per-session message wrap: pop or mint
// session tags, prepend a DeliveryStatus clove when new tags need
// confirming, prepend a lease-set clove when the peer is out of date,
// append the caller's payload clove, then symmetrically or (on a fresh or
// drained session) ElGamal-encrypt the result.
func WrapMessage(s *Session, in WrapInput) (wire []byte, mintedTags [][32]byte, err error) {
	var cloves []*Clove
	exp := uint64(in.Now.Add(MessageExpiration).Unix())

	if s.needsReplenish(in.Now) {
		mintedTags = make([][32]byte, NewTagBatchSize)
		for i := range mintedTags {
			if err := in.Rnd.Bytes(mintedTags[i][:]); err != nil {
				return nil, nil, routererr.New(routererr.CryptoFailure, "garlic.WrapMessage", err)
			}
		}
		status, err := deliveryStatusMessage(in.Rnd, in.MessageID, in.Now)
		if err != nil {
			return nil, nil, err
		}
		cloves = append(cloves, &Clove{DeliveryType: CloveLocal, Message: status, CloveID: in.MessageID, Expiration: exp})
		s.trackUnconfirmed(in.MessageID, mintedTags, in.Now)
	}

	if s.LeaseSetUpdateStatus == LeaseSetUpdated && in.LeaseSetMessage != nil {
		cloves = append(cloves, &Clove{DeliveryType: CloveLocal, Message: in.LeaseSetMessage, CloveID: in.MessageID, Expiration: exp})
		s.LeaseSetUpdateStatus = LeaseSetSubmitted
		s.LeaseSetSubmittedAt = in.Now
	}

	cloves = append(cloves, &Clove{
		DeliveryType: in.CloveDelivery,
		Destination:  in.Destination,
		Message:      in.Payload,
		CloveID:      in.MessageID,
		Expiration:   exp,
	})

	var cloveBuf bytes.Buffer
	cloveBuf.WriteByte(byte(len(cloves)))
	for _, c := range cloves {
		cloveBuf.Write(c.Encode())
	}
	var tail [4 + 8]byte
	binary.BigEndian.PutUint32(tail[:4], in.MessageID)
	binary.BigEndian.PutUint64(tail[4:], exp)
	cloveBuf.Write(tail[:])

	plaintext := cloveBuf.Bytes()
	payloadHash := sha256.Sum256(plaintext)
	padded := padToBlock(plaintext)

	tag, haveTag := s.popLiveTag(in.Now)
	if !haveTag && in.DestPubKey == nil {
		return nil, nil, routererr.New(routererr.UnexpectedState, "garlic.WrapMessage",
			fmt.Errorf("session has no live tag and no destination public key was supplied for an ElGamal handshake"))
	}

	var iv [16]byte
	if err := in.Rnd.Bytes(iv[:]); err != nil {
		return nil, nil, routererr.New(routererr.CryptoFailure, "garlic.WrapMessage", err)
	}
	ciphertext, err := tunnelcrypto.CBCEncrypt(s.SessionKey[:], iv[:], padded)
	if err != nil {
		return nil, nil, err
	}

	var out bytes.Buffer
	if haveTag {
		out.Write(tag[:])
	} else {
		// The session key is zero-padded out to the full ElGamalPayloadLen
		// window; DecodeElGamalKeyed reads the first 32 bytes of the
		// window tunnelcrypto.Decrypt returns.
		elgPayload := make([]byte, tunnelcrypto.ElGamalPayloadLen)
		copy(elgPayload, s.SessionKey[:])
		eg, err := tunnelcrypto.Encrypt(in.Rnd, in.DestPubKey, elgPayload)
		if err != nil {
			return nil, nil, err
		}
		out.Write(eg)
	}
	out.Write(iv[:])

	var newTagCount [2]byte
	binary.BigEndian.PutUint16(newTagCount[:], uint16(len(mintedTags)))
	out.Write(newTagCount[:])
	for _, t := range mintedTags {
		out.Write(t[:])
	}
	var sizeBuf [4]byte
	binary.BigEndian.PutUint32(sizeBuf[:], uint32(len(plaintext)))
	out.Write(sizeBuf[:])
	out.Write(payloadHash[:])
	out.Write(ciphertext)

	if len(mintedTags) > 0 {
		s.addTags(mintedTags, in.Now)
	}
	return out.Bytes(), mintedTags, nil
}

func deliveryStatusMessage(rnd transport.Rand, messageID uint32, now time.Time) ([]byte, error) {
	var payload [12]byte
	binary.BigEndian.PutUint32(payload[:4], messageID)
	binary.BigEndian.PutUint64(payload[4:], uint64(now.UnixMilli()))
	m, err := i2np.Build(rnd, i2np.TypeDeliveryStatus, payload[:], &messageID)
	if err != nil {
		return nil, err
	}
	return m.Serialize()
}

func padToBlock(b []byte) []byte {
	const blockSize = 16
	rem := len(b) % blockSize
	if rem == 0 {
		return b
	}
	return append(b, make([]byte, blockSize-rem)...)
}

// ParsedGarlic is a demultiplexed, decrypted garlic message.
type ParsedGarlic struct {
	NewTags    [][32]byte
	Cloves     []*Clove
	MessageID  uint32
	Expiration time.Time
}

// decodeGarlicBody decodes the body shared by the ElGamal and tag-keyed
// decode paths once the symmetric key and IV have been resolved.
func decodeGarlicBody(plaintextPrefixLen int, buf []byte, sessionKey [32]byte) (*ParsedGarlic, error) {
	off := plaintextPrefixLen
	if len(buf) < off+16 {
		return nil, routererr.New(routererr.Malformed, "garlic.decodeGarlicBody", fmt.Errorf("truncated IV"))
	}
	iv := buf[off : off+16]
	off += 16

	if len(buf) < off+2 {
		return nil, routererr.New(routererr.Malformed, "garlic.decodeGarlicBody", fmt.Errorf("truncated tag count"))
	}
	newTagCount := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	tags := make([][32]byte, newTagCount)
	for i := 0; i < newTagCount; i++ {
		if len(buf) < off+tagLen {
			return nil, routererr.New(routererr.Malformed, "garlic.decodeGarlicBody", fmt.Errorf("truncated new tag"))
		}
		copy(tags[i][:], buf[off:off+tagLen])
		off += tagLen
	}

	if len(buf) < off+4 {
		return nil, routererr.New(routererr.Malformed, "garlic.decodeGarlicBody", fmt.Errorf("truncated payload size"))
	}
	plainSize := int(binary.BigEndian.Uint32(buf[off:]))
	off += 4

	if len(buf) < off+32 {
		return nil, routererr.New(routererr.Malformed, "garlic.decodeGarlicBody", fmt.Errorf("truncated payload hash"))
	}
	wantHash := buf[off : off+32]
	off += 32

	paddedLen := ((plainSize + 15) / 16) * 16
	if len(buf) < off+paddedLen {
		return nil, routererr.New(routererr.Malformed, "garlic.decodeGarlicBody", fmt.Errorf("truncated ciphertext"))
	}
	ciphertext := buf[off : off+paddedLen]

	padded, err := tunnelcrypto.CBCDecrypt(sessionKey[:], iv, ciphertext)
	if err != nil {
		return nil, err
	}
	plaintext := padded[:plainSize]
	gotHash := sha256.Sum256(plaintext)
	if !bytes.Equal(gotHash[:], wantHash) {
		return nil, routererr.New(routererr.Malformed, "garlic.decodeGarlicBody", fmt.Errorf("payload hash mismatch"))
	}

	numCloves := int(plaintext[0])
	var cloves []*Clove
	pos := 1
	for i := 0; i < numCloves; i++ {
		c, n, err := DecodeClove(plaintext[pos:])
		if err != nil {
			return nil, err
		}
		cloves = append(cloves, c)
		pos += n
	}

	result := &ParsedGarlic{NewTags: tags, Cloves: cloves}
	if len(plaintext) >= pos+4+8 {
		result.MessageID = binary.BigEndian.Uint32(plaintext[pos:])
		result.Expiration = time.Unix(int64(binary.BigEndian.Uint64(plaintext[pos+4:])), 0)
	}
	return result, nil
}

// DecodeTagKeyed parses an inbound garlic message that begins with a
// 32-byte session tag, using sessionKey as the AES key for the body that
// follows it.
func DecodeTagKeyed(buf []byte, sessionKey [32]byte) (*ParsedGarlic, error) {
	if len(buf) < tagLen {
		return nil, routererr.New(routererr.Malformed, "garlic.DecodeTagKeyed", fmt.Errorf("buffer shorter than a session tag"))
	}
	return decodeGarlicBody(tagLen, buf, sessionKey)
}

// DecodeElGamalKeyed parses an inbound garlic message that begins with a
// 512-byte ElGamal block encrypting a fresh session key under priv. It
// returns the parsed message and the session key the caller should install
// for subsequent tag-keyed traffic on this session.
func DecodeElGamalKeyed(buf []byte, priv *big.Int) (*ParsedGarlic, [32]byte, error) {
	var sessionKey [32]byte
	if len(buf) < tunnelcrypto.ElGamalEncryptedLen {
		return nil, sessionKey, routererr.New(routererr.Malformed, "garlic.DecodeElGamalKeyed", fmt.Errorf("buffer shorter than an ElGamal block"))
	}
	cleartext, err := tunnelcrypto.Decrypt(priv, buf[:tunnelcrypto.ElGamalEncryptedLen])
	if err != nil {
		return nil, sessionKey, err
	}
	if len(cleartext) < 32 {
		return nil, sessionKey, routererr.New(routererr.Malformed, "garlic.DecodeElGamalKeyed", fmt.Errorf("recovered session key too short"))
	}
	copy(sessionKey[:], cleartext[:32])
	parsed, err := decodeGarlicBody(tunnelcrypto.ElGamalEncryptedLen, buf, sessionKey)
	if err != nil {
		return nil, sessionKey, err
	}
	return parsed, sessionKey, nil
}
