package netdb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/go-i2p/go-i2p-router/identity"
	"github.com/go-i2p/go-i2p-router/routererr"
)

// EncodeRouterInfo serializes a RouterInfo to its signed wire form:
// identity, published timestamp, address list, options map, signature.
func EncodeRouterInfo(r *RouterInfo) ([]byte, error) {
	var buf bytes.Buffer
	signed, err := encodeRouterInfoSignedPortion(r)
	if err != nil {
		return nil, err
	}
	buf.Write(signed)
	buf.Write(r.Signature)
	return buf.Bytes(), nil
}

func encodeRouterInfoSignedPortion(r *RouterInfo) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(r.Identity.Bytes())

	var tsBuf [8]byte
	binary.BigEndian.PutUint64(tsBuf[:], uint64(r.Published.Unix()))
	buf.Write(tsBuf[:])

	if len(r.Addresses) > 255 {
		return nil, routererr.New(routererr.Overflow, "netdb.EncodeRouterInfo", fmt.Errorf("too many addresses: %d", len(r.Addresses)))
	}
	buf.WriteByte(byte(len(r.Addresses)))
	for _, a := range r.Addresses {
		if err := encodeAddress(&buf, a); err != nil {
			return nil, err
		}
	}

	if err := encodeOptions(&buf, r.Options); err != nil {
		return nil, err
	}
	caps := capabilityString(r.Capabilities)
	if err := writeString(&buf, caps); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeAddress(buf *bytes.Buffer, a Address) error {
	if err := writeString(buf, a.Transport); err != nil {
		return err
	}
	if err := writeString(buf, a.Host); err != nil {
		return err
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], a.Port)
	buf.Write(portBuf[:])
	buf.WriteByte(a.Cost)

	if a.MTU != nil {
		buf.WriteByte(1)
		var mtuBuf [2]byte
		binary.BigEndian.PutUint16(mtuBuf[:], *a.MTU)
		buf.Write(mtuBuf[:])
	} else {
		buf.WriteByte(0)
	}

	if len(a.Introducers) > 255 {
		return routererr.New(routererr.Overflow, "netdb.encodeAddress", fmt.Errorf("too many introducers: %d", len(a.Introducers)))
	}
	buf.WriteByte(byte(len(a.Introducers)))
	for _, in := range a.Introducers {
		if err := writeString(buf, in.Host); err != nil {
			return err
		}
		var p [2]byte
		binary.BigEndian.PutUint16(p[:], in.Port)
		buf.Write(p[:])
		var tag [4]byte
		binary.BigEndian.PutUint32(tag[:], in.Tag)
		buf.Write(tag[:])
		var exp [8]byte
		binary.BigEndian.PutUint64(exp[:], uint64(in.ExpiresAt.Unix()))
		buf.Write(exp[:])
	}

	if a.IntroKey != nil {
		buf.WriteByte(1)
		buf.Write(a.IntroKey[:])
	} else {
		buf.WriteByte(0)
	}
	return nil
}

func encodeOptions(buf *bytes.Buffer, options map[string]string) error {
	if len(options) > 65535 {
		return routererr.New(routererr.Overflow, "netdb.encodeOptions", fmt.Errorf("too many options: %d", len(options)))
	}
	var countBuf [2]byte
	binary.BigEndian.PutUint16(countBuf[:], uint16(len(options)))
	buf.Write(countBuf[:])
	for k, v := range options {
		if err := writeString(buf, k); err != nil {
			return err
		}
		if err := writeString(buf, v); err != nil {
			return err
		}
	}
	return nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 255 {
		return routererr.New(routererr.Overflow, "netdb.writeString", fmt.Errorf("string exceeds 255 bytes: %d", len(s)))
	}
	buf.WriteByte(byte(len(s)))
	buf.WriteString(s)
	return nil
}

// DecodeRouterInfo parses a RouterInfo and returns it alongside the exact
// signed-over byte range, for the caller to pass to VerifyRouterInfo.
func DecodeRouterInfo(buf []byte) (*RouterInfo, []byte, error) {
	idLen, err := identity.Length(buf)
	if err != nil {
		return nil, nil, routererr.New(routererr.Malformed, "netdb.DecodeRouterInfo", err)
	}
	id, err := identity.Parse(buf[:idLen])
	if err != nil {
		return nil, nil, routererr.New(routererr.Malformed, "netdb.DecodeRouterInfo", err)
	}
	off := idLen
	if len(buf) < off+8 {
		return nil, nil, truncated("netdb.DecodeRouterInfo", "timestamp")
	}
	published := time.Unix(int64(binary.BigEndian.Uint64(buf[off:])), 0)
	off += 8

	if len(buf) < off+1 {
		return nil, nil, truncated("netdb.DecodeRouterInfo", "address count")
	}
	addrCount := int(buf[off])
	off++
	addrs := make([]Address, 0, addrCount)
	for i := 0; i < addrCount; i++ {
		a, n, err := decodeAddress(buf[off:])
		if err != nil {
			return nil, nil, err
		}
		addrs = append(addrs, a)
		off += n
	}

	options, n, err := decodeOptions(buf[off:])
	if err != nil {
		return nil, nil, err
	}
	off += n

	caps, n, err := readString(buf[off:], "netdb.DecodeRouterInfo")
	if err != nil {
		return nil, nil, err
	}
	off += n

	signedLen := off
	sigLen, err := identity.SigLen(id.SigType)
	if err != nil {
		return nil, nil, routererr.New(routererr.Malformed, "netdb.DecodeRouterInfo", err)
	}
	if len(buf) < off+sigLen {
		return nil, nil, truncated("netdb.DecodeRouterInfo", "signature")
	}
	sig := append([]byte(nil), buf[off:off+sigLen]...)

	info := &RouterInfo{
		Identity:     id,
		Published:    published,
		Addresses:    addrs,
		Options:      options,
		Signature:    sig,
		Capabilities: ParseCapabilities(caps),
	}
	return info, append([]byte(nil), buf[:signedLen]...), nil
}

func decodeAddress(buf []byte) (Address, int, error) {
	var a Address
	off := 0
	s, n, err := readString(buf[off:], "netdb.decodeAddress")
	if err != nil {
		return a, 0, err
	}
	a.Transport = s
	off += n

	s, n, err = readString(buf[off:], "netdb.decodeAddress")
	if err != nil {
		return a, 0, err
	}
	a.Host = s
	off += n

	if len(buf) < off+2+1+1 {
		return a, 0, truncated("netdb.decodeAddress", "port/cost/mtu flag")
	}
	a.Port = binary.BigEndian.Uint16(buf[off:])
	off += 2
	a.Cost = buf[off]
	off++
	hasMTU := buf[off]
	off++
	if hasMTU != 0 {
		if len(buf) < off+2 {
			return a, 0, truncated("netdb.decodeAddress", "mtu")
		}
		mtu := binary.BigEndian.Uint16(buf[off:])
		a.MTU = &mtu
		off += 2
	}

	if len(buf) < off+1 {
		return a, 0, truncated("netdb.decodeAddress", "introducer count")
	}
	introCount := int(buf[off])
	off++
	for i := 0; i < introCount; i++ {
		var in Introducer
		s, n, err := readString(buf[off:], "netdb.decodeAddress")
		if err != nil {
			return a, 0, err
		}
		in.Host = s
		off += n
		if len(buf) < off+2+4+8 {
			return a, 0, truncated("netdb.decodeAddress", "introducer fields")
		}
		in.Port = binary.BigEndian.Uint16(buf[off:])
		off += 2
		in.Tag = binary.BigEndian.Uint32(buf[off:])
		off += 4
		in.ExpiresAt = time.Unix(int64(binary.BigEndian.Uint64(buf[off:])), 0)
		off += 8
		a.Introducers = append(a.Introducers, in)
	}

	if len(buf) < off+1 {
		return a, 0, truncated("netdb.decodeAddress", "intro key flag")
	}
	hasIntroKey := buf[off]
	off++
	if hasIntroKey != 0 {
		if len(buf) < off+32 {
			return a, 0, truncated("netdb.decodeAddress", "intro key")
		}
		var k [32]byte
		copy(k[:], buf[off:off+32])
		a.IntroKey = &k
		off += 32
	}
	return a, off, nil
}

func decodeOptions(buf []byte) (map[string]string, int, error) {
	if len(buf) < 2 {
		return nil, 0, truncated("netdb.decodeOptions", "count")
	}
	count := int(binary.BigEndian.Uint16(buf))
	off := 2
	options := make(map[string]string, count)
	for i := 0; i < count; i++ {
		k, n, err := readString(buf[off:], "netdb.decodeOptions")
		if err != nil {
			return nil, 0, err
		}
		off += n
		v, n, err := readString(buf[off:], "netdb.decodeOptions")
		if err != nil {
			return nil, 0, err
		}
		off += n
		options[k] = v
	}
	return options, off, nil
}

func readString(buf []byte, op string) (string, int, error) {
	if len(buf) < 1 {
		return "", 0, truncated(op, "string length")
	}
	n := int(buf[0])
	if len(buf) < 1+n {
		return "", 0, truncated(op, "string body")
	}
	return string(buf[1 : 1+n]), 1 + n, nil
}

func truncated(op, field string) error {
	return routererr.New(routererr.Malformed, op, fmt.Errorf("truncated %s", field))
}

// capabilityString renders a Capability bitfield back to its ASCII form,
// the inverse of ParseCapabilities, so a locally originated RouterInfo
// round-trips through Encode/Decode unchanged.
func capabilityString(c Capability) string {
	var out []byte
	for ch, bit := range capabilityChars {
		if c&bit != 0 {
			out = append(out, ch)
		}
	}
	return string(out)
}

// VerifyRouterInfo checks signedPortion (as returned by DecodeRouterInfo)
// against info's trailing signature using info's declared signing
// algorithm.
func VerifyRouterInfo(info *RouterInfo, signedPortion []byte) error {
	pub, err := info.Identity.SigningPublicKey()
	if err != nil {
		return routererr.New(routererr.BadSignature, "netdb.VerifyRouterInfo", err)
	}
	v, err := identity.VerifierFor(info.Identity.SigType)
	if err != nil {
		return routererr.New(routererr.BadSignature, "netdb.VerifyRouterInfo", err)
	}
	if err := v.Verify(pub, signedPortion, info.Signature); err != nil {
		return routererr.New(routererr.BadSignature, "netdb.VerifyRouterInfo", err)
	}
	return nil
}

// EncodeLeaseSet serializes a LeaseSet to its signed wire form:
// destination identity, encryption key, lease count, leases, signature.
func EncodeLeaseSet(ls *LeaseSet) ([]byte, error) {
	var buf bytes.Buffer
	signed, err := encodeLeaseSetSignedPortion(ls)
	if err != nil {
		return nil, err
	}
	buf.Write(signed)
	buf.Write(ls.Signature)
	return buf.Bytes(), nil
}

func encodeLeaseSetSignedPortion(ls *LeaseSet) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(ls.Destination.Bytes())
	buf.Write(ls.EncryptionKey[:])
	if len(ls.Leases) > 255 {
		return nil, routererr.New(routererr.Overflow, "netdb.EncodeLeaseSet", fmt.Errorf("too many leases: %d", len(ls.Leases)))
	}
	buf.WriteByte(byte(len(ls.Leases)))
	for _, l := range ls.Leases {
		buf.Write(l.TunnelGateway[:])
		var tid [4]byte
		binary.BigEndian.PutUint32(tid[:], l.TunnelID)
		buf.Write(tid[:])
		var exp [8]byte
		binary.BigEndian.PutUint64(exp[:], uint64(l.Expiration.Unix()))
		buf.Write(exp[:])
	}
	return buf.Bytes(), nil
}

// DecodeLeaseSet parses a LeaseSet and returns it alongside its signed
// byte range, for the caller to pass to VerifyLeaseSet.
func DecodeLeaseSet(buf []byte) (*LeaseSet, []byte, error) {
	idLen, err := identity.Length(buf)
	if err != nil {
		return nil, nil, routererr.New(routererr.Malformed, "netdb.DecodeLeaseSet", err)
	}
	dest, err := identity.Parse(buf[:idLen])
	if err != nil {
		return nil, nil, routererr.New(routererr.Malformed, "netdb.DecodeLeaseSet", err)
	}
	off := idLen
	if len(buf) < off+identity.EncPubKeyLen+1 {
		return nil, nil, truncated("netdb.DecodeLeaseSet", "encryption key/lease count")
	}
	ls := &LeaseSet{Destination: dest}
	copy(ls.EncryptionKey[:], buf[off:off+identity.EncPubKeyLen])
	off += identity.EncPubKeyLen

	count := int(buf[off])
	off++
	for i := 0; i < count; i++ {
		if len(buf) < off+identity.HashLen+4+8 {
			return nil, nil, truncated("netdb.DecodeLeaseSet", "lease")
		}
		var l Lease
		copy(l.TunnelGateway[:], buf[off:off+identity.HashLen])
		off += identity.HashLen
		l.TunnelID = binary.BigEndian.Uint32(buf[off:])
		off += 4
		l.Expiration = time.Unix(int64(binary.BigEndian.Uint64(buf[off:])), 0)
		off += 8
		ls.Leases = append(ls.Leases, l)
	}

	signedLen := off
	sigLen, err := identity.SigLen(dest.SigType)
	if err != nil {
		return nil, nil, routererr.New(routererr.Malformed, "netdb.DecodeLeaseSet", err)
	}
	if len(buf) < off+sigLen {
		return nil, nil, truncated("netdb.DecodeLeaseSet", "signature")
	}
	ls.Signature = append([]byte(nil), buf[off:off+sigLen]...)
	return ls, append([]byte(nil), buf[:signedLen]...), nil
}

// VerifyLeaseSet checks signedPortion (as returned by DecodeLeaseSet)
// against ls's trailing signature using the destination's declared
// signing algorithm.
func VerifyLeaseSet(ls *LeaseSet, signedPortion []byte) error {
	pub, err := ls.Destination.SigningPublicKey()
	if err != nil {
		return routererr.New(routererr.BadSignature, "netdb.VerifyLeaseSet", err)
	}
	v, err := identity.VerifierFor(ls.Destination.SigType)
	if err != nil {
		return routererr.New(routererr.BadSignature, "netdb.VerifyLeaseSet", err)
	}
	if err := v.Verify(pub, signedPortion, ls.Signature); err != nil {
		return routererr.New(routererr.BadSignature, "netdb.VerifyLeaseSet", err)
	}
	return nil
}

// storeKind tags which descriptor type a DatabaseStore payload carries.
type storeKind byte

const (
	storeKindRouterInfo storeKind = 0
	storeKindLeaseSet   storeKind = 1
)

// DatabaseStoreMessage is the parsed payload of a DatabaseStore I2NP
// message: exactly one of RouterInfo or LeaseSet is set.
type DatabaseStoreMessage struct {
	Key        identity.Hash
	RouterInfo *RouterInfo
	LeaseSet   *LeaseSet
}

// EncodeDatabaseStore serializes a DatabaseStore payload: key hash, a
// one-byte kind tag, then the wire form of the named descriptor.
func EncodeDatabaseStore(m *DatabaseStoreMessage) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(m.Key[:])
	switch {
	case m.RouterInfo != nil:
		buf.WriteByte(byte(storeKindRouterInfo))
		body, err := EncodeRouterInfo(m.RouterInfo)
		if err != nil {
			return nil, err
		}
		buf.Write(body)
	case m.LeaseSet != nil:
		buf.WriteByte(byte(storeKindLeaseSet))
		body, err := EncodeLeaseSet(m.LeaseSet)
		if err != nil {
			return nil, err
		}
		buf.Write(body)
	default:
		return nil, routererr.New(routererr.Malformed, "netdb.EncodeDatabaseStore", fmt.Errorf("neither RouterInfo nor LeaseSet set"))
	}
	return buf.Bytes(), nil
}

// DecodeDatabaseStore parses a DatabaseStore payload and returns the
// descriptor's signed byte range alongside it, for the caller to verify
// before calling NetDB.AddPeer/AddLeaseSet.
func DecodeDatabaseStore(buf []byte) (*DatabaseStoreMessage, []byte, error) {
	if len(buf) < identity.HashLen+1 {
		return nil, nil, truncated("netdb.DecodeDatabaseStore", "header")
	}
	m := &DatabaseStoreMessage{}
	copy(m.Key[:], buf[:identity.HashLen])
	kind := storeKind(buf[identity.HashLen])
	body := buf[identity.HashLen+1:]

	switch kind {
	case storeKindRouterInfo:
		info, signed, err := DecodeRouterInfo(body)
		if err != nil {
			return nil, nil, err
		}
		m.RouterInfo = info
		return m, signed, nil
	case storeKindLeaseSet:
		ls, signed, err := DecodeLeaseSet(body)
		if err != nil {
			return nil, nil, err
		}
		m.LeaseSet = ls
		return m, signed, nil
	default:
		return nil, nil, routererr.New(routererr.Malformed, "netdb.DecodeDatabaseStore", fmt.Errorf("unknown store kind %d", kind))
	}
}

// DatabaseLookupMessage is the parsed payload of a DatabaseLookup I2NP
// message: "find this key, reply to this hash".
type DatabaseLookupMessage struct {
	Key      identity.Hash
	ReplyTo  identity.Hash
	Excluded []identity.Hash
}

// EncodeDatabaseLookup serializes a DatabaseLookup payload: target key,
// reply destination hash, and the requester's excluded-peer set.
func EncodeDatabaseLookup(m *DatabaseLookupMessage) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(m.Key[:])
	buf.Write(m.ReplyTo[:])
	if len(m.Excluded) > 65535 {
		return nil, routererr.New(routererr.Overflow, "netdb.EncodeDatabaseLookup", fmt.Errorf("too many excluded peers: %d", len(m.Excluded)))
	}
	var countBuf [2]byte
	binary.BigEndian.PutUint16(countBuf[:], uint16(len(m.Excluded)))
	buf.Write(countBuf[:])
	for _, h := range m.Excluded {
		buf.Write(h[:])
	}
	return buf.Bytes(), nil
}

// DecodeDatabaseLookup parses a DatabaseLookup payload.
func DecodeDatabaseLookup(buf []byte) (*DatabaseLookupMessage, error) {
	if len(buf) < 2*identity.HashLen+2 {
		return nil, truncated("netdb.DecodeDatabaseLookup", "header")
	}
	m := &DatabaseLookupMessage{}
	off := 0
	copy(m.Key[:], buf[off:off+identity.HashLen])
	off += identity.HashLen
	copy(m.ReplyTo[:], buf[off:off+identity.HashLen])
	off += identity.HashLen
	count := int(binary.BigEndian.Uint16(buf[off:]))
	off += 2
	if len(buf) < off+count*identity.HashLen {
		return nil, truncated("netdb.DecodeDatabaseLookup", "excluded list")
	}
	for i := 0; i < count; i++ {
		var h identity.Hash
		copy(h[:], buf[off:off+identity.HashLen])
		off += identity.HashLen
		m.Excluded = append(m.Excluded, h)
	}
	return m, nil
}

// searchReplyKind tags whether a DatabaseSearchReply payload carries a
// list of closer hashes or a directly embedded LeaseSet.
type searchReplyKind byte

const (
	searchReplyKindHashes   searchReplyKind = 0
	searchReplyKindLeaseSet searchReplyKind = 1
)

// EncodeDatabaseSearchReply serializes a DatabaseSearchReply payload.
func EncodeDatabaseSearchReply(r *DatabaseSearchReply) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(r.FromFloodfill[:])
	if r.LeaseSet != nil {
		buf.WriteByte(byte(searchReplyKindLeaseSet))
		body, err := EncodeLeaseSet(r.LeaseSet)
		if err != nil {
			return nil, err
		}
		buf.Write(body)
		return buf.Bytes(), nil
	}
	buf.WriteByte(byte(searchReplyKindHashes))
	if len(r.NextHashes) > 255 {
		return nil, routererr.New(routererr.Overflow, "netdb.EncodeDatabaseSearchReply", fmt.Errorf("too many next hashes: %d", len(r.NextHashes)))
	}
	buf.WriteByte(byte(len(r.NextHashes)))
	for _, h := range r.NextHashes {
		buf.Write(h[:])
	}
	return buf.Bytes(), nil
}

// DecodeDatabaseSearchReply parses a DatabaseSearchReply payload.
func DecodeDatabaseSearchReply(buf []byte) (*DatabaseSearchReply, error) {
	if len(buf) < identity.HashLen+1 {
		return nil, truncated("netdb.DecodeDatabaseSearchReply", "header")
	}
	r := &DatabaseSearchReply{}
	copy(r.FromFloodfill[:], buf[:identity.HashLen])
	kind := searchReplyKind(buf[identity.HashLen])
	rest := buf[identity.HashLen+1:]

	switch kind {
	case searchReplyKindLeaseSet:
		ls, _, err := DecodeLeaseSet(rest)
		if err != nil {
			return nil, err
		}
		r.LeaseSet = ls
		return r, nil
	case searchReplyKindHashes:
		if len(rest) < 1 {
			return nil, truncated("netdb.DecodeDatabaseSearchReply", "hash count")
		}
		count := int(rest[0])
		off := 1
		if len(rest) < off+count*identity.HashLen {
			return nil, truncated("netdb.DecodeDatabaseSearchReply", "hashes")
		}
		for i := 0; i < count; i++ {
			var h identity.Hash
			copy(h[:], rest[off:off+identity.HashLen])
			off += identity.HashLen
			r.NextHashes = append(r.NextHashes, h)
		}
		return r, nil
	default:
		return nil, routererr.New(routererr.Malformed, "netdb.DecodeDatabaseSearchReply", fmt.Errorf("unknown search reply kind %d", kind))
	}
}
