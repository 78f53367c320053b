package tunnel

import (
	"time"

	"github.com/go-i2p/go-i2p-router/routererr"
	"github.com/go-i2p/go-i2p-router/transport"
)

// OutOfOrderTTL is how long a follow-on fragment may sit in the
// out-of-order side table before being dropped.
const OutOfOrderTTL = 10 * time.Second

// MessageBlock is what a local gateway caller hands to the fragmenter: a
// delivery instruction plus the I2NP payload to carry.
type MessageBlock struct {
	Delivery Instruction
	Payload  []byte
}

// FragmentForGateway splits one MessageBlock into one or more tunnel data
// payload buffers, each at most PayloadWindow bytes before layered
// encryption. A payload that fits alongside its instruction in one window
// produces a single first-and-last fragment.
func FragmentForGateway(rnd transport.Rand, mb *MessageBlock) ([][]byte, error) {
	first := mb.Delivery
	first.Fragmented = false
	instrBytes := first.Encode()

	if len(instrBytes)+len(mb.Payload)+2 <= PayloadWindow {
		out := encodeFirstFragment(instrBytes, mb.Payload, len(mb.Payload))
		return [][]byte{out}, nil
	}

	var midBuf [4]byte
	if err := rnd.Bytes(midBuf[:]); err != nil {
		return nil, routererr.New(routererr.CryptoFailure, "tunnel.FragmentForGateway", err)
	}
	messageID := beUint32(midBuf[:])

	fragmented := mb.Delivery
	fragmented.Fragmented = true
	fragmented.MessageID = messageID
	instrBytes = fragmented.Encode()

	firstCap := PayloadWindow - len(instrBytes) - 2
	if firstCap <= 0 {
		return nil, routererr.New(routererr.Overflow, "tunnel.FragmentForGateway", errInstrTooLarge)
	}
	var fragments [][]byte
	firstChunk := mb.Payload[:firstCap]
	fragments = append(fragments, encodeFirstFragment(instrBytes, firstChunk, len(firstChunk)))

	rest := mb.Payload[firstCap:]
	fragNum := byte(1)
	for len(rest) > 0 {
		const followOnHeaderLen = 7
		chunkCap := PayloadWindow - followOnHeaderLen
		chunk := rest
		last := true
		if len(chunk) > chunkCap {
			chunk = rest[:chunkCap]
			last = false
		}
		hdr := &FollowOnHeader{
			FragmentNum:  fragNum,
			LastFragment: last,
			MessageID:    messageID,
			Size:         uint16(len(chunk)),
		}
		buf := append(hdr.Encode(), chunk...)
		fragments = append(fragments, buf)
		rest = rest[len(chunk):]
		fragNum++
	}
	return fragments, nil
}

func encodeFirstFragment(instrBytes, payload []byte, size int) []byte {
	_ = size
	buf := make([]byte, 0, len(instrBytes)+len(payload)+2)
	buf = append(buf, instrBytes...)
	var sizeBuf [2]byte
	sizeBuf[0] = byte(len(payload) >> 8)
	sizeBuf[1] = byte(len(payload))
	buf = append(buf, sizeBuf[:]...)
	buf = append(buf, payload...)
	return buf
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

var errInstrTooLarge = simpleErr("delivery instruction leaves no room for any payload in one tunnel-data window")

type simpleErr string

func (e simpleErr) Error() string { return string(e) }

// IncompleteMessage accumulates follow-on fragments for one in-flight
// multi-fragment message at an endpoint.
type IncompleteMessage struct {
	MessageID    uint32
	Delivery     Instruction
	Parts        [][]byte // indexed by fragment number, 0 = first
	NextFragment byte
	LastSeen     time.Time
	outOfOrder   map[byte][]byte
}

// Reassembler tracks in-flight reassembly state for one tunnel endpoint.
type Reassembler struct {
	incomplete map[uint32]*IncompleteMessage
}

func NewReassembler() *Reassembler {
	return &Reassembler{incomplete: make(map[uint32]*IncompleteMessage)}
}

// AcceptFirst registers a first-of-many fragment, or returns the complete
// payload immediately for a first-only (unfragmented) message.
func (r *Reassembler) AcceptFirst(in *Instruction, payload []byte, now time.Time) (complete []byte, done bool) {
	if !in.Fragmented {
		return payload, true
	}
	im := &IncompleteMessage{
		MessageID:    in.MessageID,
		Delivery:     *in,
		Parts:        [][]byte{append([]byte(nil), payload...)},
		NextFragment: 1,
		LastSeen:     now,
		outOfOrder:   make(map[byte][]byte),
	}
	r.incomplete[in.MessageID] = im
	return nil, false
}

// AcceptFollowOn appends a follow-on fragment, draining the out-of-order
// side table as consecutive fragments become available. Returns the
// reassembled payload and its original delivery instruction once the last
// fragment arrives in order.
func (r *Reassembler) AcceptFollowOn(hdr *FollowOnHeader, payload []byte, now time.Time) (complete []byte, delivery Instruction, done bool) {
	im, ok := r.incomplete[hdr.MessageID]
	if !ok {
		return nil, Instruction{}, false // unknown messageID: drop, matches UnexpectedState policy upstream
	}
	im.LastSeen = now

	if hdr.FragmentNum != im.NextFragment {
		im.outOfOrder[hdr.FragmentNum] = append([]byte(nil), payload...)
		return nil, Instruction{}, false
	}

	im.Parts = append(im.Parts, payload)
	im.NextFragment++
	lastWasFinal := hdr.LastFragment

	for {
		buffered, ok := im.outOfOrder[im.NextFragment]
		if !ok {
			break
		}
		im.Parts = append(im.Parts, buffered)
		delete(im.outOfOrder, im.NextFragment)
		im.NextFragment++
	}

	if lastWasFinal && len(im.outOfOrder) == 0 {
		delivery = im.Delivery
		delete(r.incomplete, hdr.MessageID)
		total := 0
		for _, p := range im.Parts {
			total += len(p)
		}
		out := make([]byte, 0, total)
		for _, p := range im.Parts {
			out = append(out, p...)
		}
		return out, delivery, true
	}
	return nil, Instruction{}, false
}

// EvictStale drops any in-flight reassembly that hasn't progressed within
// OutOfOrderTTL.
func (r *Reassembler) EvictStale(now time.Time) {
	for id, im := range r.incomplete {
		if now.Sub(im.LastSeen) > OutOfOrderTTL {
			delete(r.incomplete, id)
		}
	}
}

// DeliveryFor returns the delivery instruction of the in-flight message id,
// if known — used to dispatch once reassembly completes.
func (r *Reassembler) DeliveryFor(messageID uint32) (Instruction, bool) {
	im, ok := r.incomplete[messageID]
	if !ok {
		return Instruction{}, false
	}
	return im.Delivery, true
}
