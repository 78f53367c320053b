package tunnelbuild

import (
	"fmt"

	"github.com/go-i2p/go-i2p-router/routererr"
)

// EncodeBuild serializes the fixed-form TunnelBuild/TunnelBuildReply
// payload: exactly NumRecords records of RecordLen bytes, back to back.
func EncodeBuild(records [][]byte) ([]byte, error) {
	if len(records) != NumRecords {
		return nil, routererr.New(routererr.Malformed, "tunnelbuild.EncodeBuild",
			fmt.Errorf("expected %d records, got %d", NumRecords, len(records)))
	}
	buf := make([]byte, 0, NumRecords*RecordLen)
	for i, r := range records {
		if len(r) != RecordLen {
			return nil, routererr.New(routererr.Malformed, "tunnelbuild.EncodeBuild",
				fmt.Errorf("record %d has length %d, want %d", i, len(r), RecordLen))
		}
		buf = append(buf, r...)
	}
	return buf, nil
}

// DecodeBuild splits a fixed-form TunnelBuild/TunnelBuildReply payload back
// into its NumRecords records.
func DecodeBuild(buf []byte) ([][]byte, error) {
	if len(buf) != NumRecords*RecordLen {
		return nil, routererr.New(routererr.Malformed, "tunnelbuild.DecodeBuild",
			fmt.Errorf("payload length %d, want %d", len(buf), NumRecords*RecordLen))
	}
	return splitRecords(buf, NumRecords), nil
}

// EncodeVariableBuild serializes the VariableTunnelBuild/Reply payload: a
// one-byte record count (1..NumRecords) followed by that many records,
// used for builds shorter than the full 8-record form.
func EncodeVariableBuild(records [][]byte) ([]byte, error) {
	if len(records) < 1 || len(records) > NumRecords {
		return nil, routererr.New(routererr.Malformed, "tunnelbuild.EncodeVariableBuild",
			fmt.Errorf("record count %d out of range [1,%d]", len(records), NumRecords))
	}
	buf := make([]byte, 0, 1+len(records)*RecordLen)
	buf = append(buf, byte(len(records)))
	for i, r := range records {
		if len(r) != RecordLen {
			return nil, routererr.New(routererr.Malformed, "tunnelbuild.EncodeVariableBuild",
				fmt.Errorf("record %d has length %d, want %d", i, len(r), RecordLen))
		}
		buf = append(buf, r...)
	}
	return buf, nil
}

// DecodeVariableBuild parses a VariableTunnelBuild/Reply payload.
func DecodeVariableBuild(buf []byte) ([][]byte, error) {
	if len(buf) < 1 {
		return nil, routererr.New(routererr.Malformed, "tunnelbuild.DecodeVariableBuild", fmt.Errorf("empty buffer"))
	}
	count := int(buf[0])
	if count < 1 || count > NumRecords {
		return nil, routererr.New(routererr.Malformed, "tunnelbuild.DecodeVariableBuild",
			fmt.Errorf("declared record count %d out of range [1,%d]", count, NumRecords))
	}
	want := 1 + count*RecordLen
	if len(buf) != want {
		return nil, routererr.New(routererr.Malformed, "tunnelbuild.DecodeVariableBuild",
			fmt.Errorf("payload length %d, want %d", len(buf), want))
	}
	return splitRecords(buf[1:], count), nil
}

func splitRecords(buf []byte, count int) [][]byte {
	out := make([][]byte, count)
	for i := 0; i < count; i++ {
		out[i] = append([]byte(nil), buf[i*RecordLen:(i+1)*RecordLen]...)
	}
	return out
}
