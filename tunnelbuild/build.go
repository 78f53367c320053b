package tunnelbuild

import (
	"fmt"
	"math/big"
	"time"

	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/routererr"
	"github.com/go-i2p/go-i2p-router/transport"
	"github.com/go-i2p/go-i2p-router/tunnelcrypto"
)

// Role distinguishes an inbound from an outbound tunnel under construction.
type Role int

const (
	RoleOutbound Role = iota
	RoleInbound
)

// State is the build request's lifecycle.
type State int

const (
	StatePending State = iota
	StateBuildReplyReceived
	StateEstablished
	StateBuildFailed
)

// Timeout is the hard deadline after which a pending build fails.
const Timeout = 30 * time.Second

// HopSpec is what the caller (tunnelpool, via NetDB) supplies per hop: its
// identity hash and ElGamal public key, plus the tunnel IDs either side of
// it in the path.
type HopSpec struct {
	PeerHash      identity.Hash
	PublicKey     *big.Int
	ReceiveTunnel uint32
	NextTunnel    uint32
}

// HopKeys is the symmetric key material one hop contributes once a build
// succeeds, installed into the resulting Tunnel.
type HopKeys struct {
	PeerHash identity.Hash
	TunnelID uint32
	LayerKey [32]byte
	IVKey    [32]byte
}

// hopState is the build-time bookkeeping kept per hop: its spec, the
// symmetric material minted for it, and which wire slot it landed on.
type hopState struct {
	spec     HopSpec
	layerKey [32]byte
	ivKey    [32]byte
	replyKey [16]byte
	replyIV  [16]byte
	position int
}

// Request drives one in-flight tunnel build.
type Request struct {
	Role          Role
	SendMessageID uint32
	hops          []hopState
	createdAt     time.Time
	State         State
}

// BuildResult is returned once a reply is fully interpreted.
type BuildResult struct {
	Statuses []Status
	Hops     []HopKeys
}

// NewRequest prepares a build message for hops (ordered path, length 0..8),
// generating fresh per-hop symmetric material via rnd, and returns the
// in-flight Request plus the 8 onion-wrapped wire records ready to send.
func NewRequest(rnd transport.Rand, role Role, hops []HopSpec, now time.Time) (*Request, [][]byte, error) {
	if len(hops) > NumRecords {
		return nil, nil, routererr.New(routererr.Overflow, "tunnelbuild.NewRequest",
			fmt.Errorf("path length %d exceeds %d", len(hops), NumRecords))
	}

	var sendID [4]byte
	if err := fillRandom(rnd, sendID[:]); err != nil {
		return nil, nil, err
	}

	positions, err := shufflePositions(rnd, len(hops))
	if err != nil {
		return nil, nil, err
	}

	req := &Request{
		Role:          role,
		SendMessageID: beUint32(sendID[:]),
		createdAt:     now,
		State:         StatePending,
	}

	for i, spec := range hops {
		hs := hopState{spec: spec, position: positions[i]}
		if err := fillRandom(rnd, hs.layerKey[:]); err != nil {
			return nil, nil, err
		}
		if err := fillRandom(rnd, hs.ivKey[:]); err != nil {
			return nil, nil, err
		}
		if err := fillRandom(rnd, hs.replyKey[:]); err != nil {
			return nil, nil, err
		}
		if err := fillRandom(rnd, hs.replyIV[:]); err != nil {
			return nil, nil, err
		}
		req.hops = append(req.hops, hs)
	}

	records := make([][]byte, NumRecords)
	for i := range records {
		records[i] = make([]byte, RecordLen)
		if err := fillRandom(rnd, records[i]); err != nil {
			return nil, nil, err
		}
	}

	for i, hs := range req.hops {
		flags := byte(0)
		if hs.spec.NextTunnel == 0 && role == RoleOutbound && i == len(req.hops)-1 {
			flags |= flagOutboundEndpoint
		}
		if i == 0 && role == RoleInbound {
			flags |= flagInboundGateway
		}
		var nextIdent identity.Hash
		if i+1 < len(req.hops) {
			nextIdent = req.hops[i+1].spec.PeerHash
		}
		inner := &InnerPlaintext{
			ReceiveTunnel: hs.spec.ReceiveTunnel,
			LocalIdent:    hs.spec.PeerHash,
			NextTunnel:    hs.spec.NextTunnel,
			NextIdent:     nextIdent,
			LayerKey:      hs.layerKey,
			IVKey:         hs.ivKey,
			Flags:         flags,
			RequestTime:   RequestTimeHours(now),
			SendMessageID: req.SendMessageID,
		}
		copy(inner.ReplyKey[:16], hs.replyKey[:])
		inner.ReplyIV = hs.replyIV
		plaintext := inner.Encode()

		if hs.spec.PublicKey == nil {
			return nil, nil, routererr.New(routererr.Malformed, "tunnelbuild.NewRequest",
				fmt.Errorf("hop %d has no ElGamal public key", i))
		}
		elgamal, err := tunnelcrypto.Encrypt(rnd, hs.spec.PublicKey, plaintext)
		if err != nil {
			return nil, nil, err
		}

		record := make([]byte, RecordLen)
		copy(record[:16], hs.spec.PeerHash[:16])
		copy(record[16:], elgamal)
		records[hs.position] = record
	}

	hopPositions := make([]int, len(req.hops))
	keys := make([]tunnelcrypto.HopReplyKey, len(req.hops))
	for i, hs := range req.hops {
		hopPositions[i] = hs.position
		keys[i] = tunnelcrypto.HopReplyKey{ReplyKey: hs.replyKey, ReplyIV: hs.replyIV}
	}
	if err := tunnelcrypto.PreDecryptLaterRecords(records, RecordLen, hopPositions, keys); err != nil {
		return nil, nil, err
	}

	return req, records, nil
}

// Interpret peels the reply records using each hop's reply key/IV (in
// reverse creation order, undoing the forward re-encryption every hop on
// the path applied live) and extracts every hop's status byte.
func (r *Request) Interpret(records [][]byte) (*BuildResult, error) {
	if len(records) != NumRecords {
		return nil, routererr.New(routererr.Malformed, "tunnelbuild.Interpret",
			fmt.Errorf("expected %d reply records, got %d", NumRecords, len(records)))
	}
	work := make([][]byte, len(records))
	for i, rec := range records {
		if len(rec) != RecordLen {
			return nil, routererr.New(routererr.Malformed, "tunnelbuild.Interpret", fmt.Errorf("reply record %d has wrong length", i))
		}
		work[i] = append([]byte(nil), rec...)
	}

	for i := len(r.hops) - 1; i >= 0; i-- {
		hs := r.hops[i]
		for j := range work {
			if j == hs.position {
				continue
			}
			dec, err := tunnelcrypto.CBCDecrypt(hs.replyKey[:], hs.replyIV[:], work[j])
			if err != nil {
				return nil, err
			}
			work[j] = dec
		}
	}

	result := &BuildResult{}
	for _, hs := range r.hops {
		rec := work[hs.position]
		status := Status(rec[len(rec)-1])
		result.Statuses = append(result.Statuses, status)
		result.Hops = append(result.Hops, HopKeys{
			PeerHash: hs.spec.PeerHash,
			LayerKey: hs.layerKey,
			IVKey:    hs.ivKey,
		})
	}

	allAccepted := true
	for _, s := range result.Statuses {
		if !s.Accepted() {
			allAccepted = false
			break
		}
	}
	if allAccepted {
		r.State = StateEstablished
	} else {
		r.State = StateBuildFailed
	}
	return result, nil
}

// Expired reports whether this request has outlived Timeout as of now.
func (r *Request) Expired(now time.Time) bool {
	return now.Sub(r.createdAt) > Timeout
}

func fillRandom(rnd transport.Rand, buf []byte) error {
	if err := rnd.Bytes(buf); err != nil {
		return routererr.New(routererr.CryptoFailure, "tunnelbuild.fillRandom", err)
	}
	return nil
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

// shufflePositions returns n distinct slot indices in [0, NumRecords) in
// random order, using a Fisher-Yates shuffle driven by rnd.
func shufflePositions(rnd transport.Rand, n int) ([]int, error) {
	all := make([]int, NumRecords)
	for i := range all {
		all[i] = i
	}
	for i := NumRecords - 1; i > 0; i-- {
		j, err := rnd.IntRange(0, i+1)
		if err != nil {
			return nil, routererr.New(routererr.CryptoFailure, "tunnelbuild.shufflePositions", err)
		}
		all[i], all[j] = all[j], all[i]
	}
	return all[:n], nil
}
