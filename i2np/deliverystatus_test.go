package i2np

import (
	"testing"
	"time"
)

func TestDeliveryStatusPayloadRoundTrip(t *testing.T) {
	want := &DeliveryStatusPayload{MessageID: 0xCAFEBABE, Timestamp: time.UnixMilli(1700000000123)}
	got, err := DecodeDeliveryStatusPayload(want.Encode())
	if err != nil {
		t.Fatalf("DecodeDeliveryStatusPayload: %v", err)
	}
	if got.MessageID != want.MessageID || !got.Timestamp.Equal(want.Timestamp) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, want)
	}
}

func TestDecodeDeliveryStatusPayloadRejectsTruncated(t *testing.T) {
	if _, err := DecodeDeliveryStatusPayload(make([]byte, 4)); err == nil {
		t.Fatalf("expected error for truncated buffer")
	}
}
