// Package garlic implements the session-tag-keyed encryption layer used
// to deliver bundles of I2NP messages ("cloves") end-to-end between
// destinations: session establishment via ElGamal fallback, symmetric
// continuation via pre-shared tags, and the local destination's inbound
// demultiplexer.
package garlic

import (
	"time"
)

// LeaseSetUpdateStatus tracks whether this session's peer needs our
// current lease-set.
type LeaseSetUpdateStatus int

const (
	LeaseSetDoNotSend LeaseSetUpdateStatus = iota
	LeaseSetUpdated
	LeaseSetSubmitted
	LeaseSetUpToDate
)

// OutgoingTagTTL and IncomingTagTTL bound how long an (unused) tag
// remains live before garbage collection discards it.
const (
	OutgoingTagTTL = 13 * time.Minute
	IncomingTagTTL = 15 * time.Minute
)

// ReplenishThreshold is the fraction of NumTags remaining at or below which a
// fresh batch of tags is minted and bundled into the next message.
const ReplenishThreshold = 2.0 / 3.0

// tagEntry is one outstanding session tag and when it was minted.
type tagEntry struct {
	tag     [32]byte
	created time.Time
}

// unconfirmedBundle is a batch of freshly minted tags awaiting
// confirmation via a DeliveryStatus ACK carrying the same message ID.
type unconfirmedBundle struct {
	tags   [][32]byte
	sentAt time.Time
}

// Session is one outbound session's encryption state, keyed by the
// session_key install event — either a fresh ElGamal handshake or a
// continuing symmetric session using pre-shared tags.
type Session struct {
	SessionKey           [32]byte
	NumTags              int
	LeaseSetUpdateStatus LeaseSetUpdateStatus
	LeaseSetSubmittedAt  time.Time

	tags        []tagEntry // FIFO, oldest first
	unconfirmed map[uint32]*unconfirmedBundle
}

// NewSession constructs a fresh session with no live tags: its first
// wrapped message always falls back to the ElGamal path.
func NewSession(sessionKey [32]byte, numTags int) *Session {
	return &Session{
		SessionKey:  sessionKey,
		NumTags:     numTags,
		unconfirmed: make(map[uint32]*unconfirmedBundle),
	}
}

// popLiveTag removes and returns the oldest tag younger than
// OutgoingTagTTL, discarding any older ones it encounters along the way.
func (s *Session) popLiveTag(now time.Time) (*[32]byte, bool) {
	for len(s.tags) > 0 {
		te := s.tags[0]
		s.tags = s.tags[1:]
		if now.Sub(te.created) <= OutgoingTagTTL {
			tag := te.tag
			return &tag, true
		}
	}
	return nil, false
}

// liveTagCount reports how many non-expired tags remain without removing
// them.
func (s *Session) liveTagCount(now time.Time) int {
	n := 0
	for _, te := range s.tags {
		if now.Sub(te.created) <= OutgoingTagTTL {
			n++
		}
	}
	return n
}

// needsReplenish reports whether live tags have fallen to or below
// ReplenishThreshold of NumTags.
func (s *Session) needsReplenish(now time.Time) bool {
	if s.NumTags == 0 {
		return false
	}
	return float64(s.liveTagCount(now)) <= ReplenishThreshold*float64(s.NumTags)
}

// addTags appends freshly minted tags to the live deque.
func (s *Session) addTags(tags [][32]byte, now time.Time) {
	for _, t := range tags {
		s.tags = append(s.tags, tagEntry{tag: t, created: now})
	}
}

// trackUnconfirmed records a freshly minted batch keyed by the
// DeliveryStatus message ID that will confirm it.
func (s *Session) trackUnconfirmed(messageID uint32, tags [][32]byte, now time.Time) {
	s.unconfirmed[messageID] = &unconfirmedBundle{tags: tags, sentAt: now}
}

// ConfirmTagBundle marks the unconfirmed tag batch keyed by messageID as
// installed by the peer and reports whether one was pending. A matching
// confirmation also advances a Submitted lease-set to UpToDate; the
// session keeps no separate message ID for the lease-set submission.
func (s *Session) ConfirmTagBundle(messageID uint32) bool {
	_, ok := s.unconfirmed[messageID]
	if ok {
		delete(s.unconfirmed, messageID)
		if s.LeaseSetUpdateStatus == LeaseSetSubmitted {
			s.LeaseSetUpdateStatus = LeaseSetUpToDate
		}
	}
	return ok
}

// GC drops expired outgoing tags and unconfirmed bundles sent more than
// OutgoingTagTTL ago. It reports whether the session is now empty — no
// live tags and no pending confirmations — the condition under which the
// caller should drop the Session entirely.
func (s *Session) GC(now time.Time) (empty bool) {
	live := s.tags[:0]
	for _, te := range s.tags {
		if now.Sub(te.created) <= OutgoingTagTTL {
			live = append(live, te)
		}
	}
	s.tags = live
	for id, b := range s.unconfirmed {
		if now.Sub(b.sentAt) > OutgoingTagTTL {
			delete(s.unconfirmed, id)
		}
	}
	return len(s.tags) == 0 && len(s.unconfirmed) == 0
}
