package std

import (
	"bytes"
	"testing"

	"github.com/golang/snappy"
)

func TestPayloadRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("compressed payload"),
		bytes.Repeat([]byte("abcd"), 300),
		{0x00},
		bytes.Repeat([]byte{0xff}, 1346),
	}

	for i, payload := range payloads {
		enc := CompressPayload(payload)
		dec, err := DecompressPayload(enc)
		if err != nil {
			t.Fatalf("DecompressPayload %d: %v", i, err)
		}
		if !bytes.Equal(dec, payload) {
			t.Fatalf("payload %d mismatch after round trip", i)
		}
	}
}

func TestDecompressGarbage(t *testing.T) {
	if _, err := DecompressPayload([]byte{0xff, 0xff, 0xff, 0xff}); err == nil {
		t.Fatalf("DecompressPayload expected error for garbage input")
	}
}

func TestMaxChunkFits(t *testing.T) {
	limits := []int{1346, 512, 64}
	for _, limit := range limits {
		n := MaxChunk(limit)
		if n <= 0 {
			t.Fatalf("MaxChunk(%d) = %d", limit, n)
		}
		if got := snappy.MaxEncodedLen(n); got > limit {
			t.Fatalf("MaxChunk(%d) = %d but MaxEncodedLen is %d", limit, n, got)
		}
		if got := snappy.MaxEncodedLen(n + 1); got <= limit {
			t.Fatalf("MaxChunk(%d) = %d is not maximal", limit, n)
		}

		// An incompressible chunk of that size must still seal into one frame.
		enc := CompressPayload(bytes.Repeat([]byte{0xa7}, n))
		if len(enc) > limit {
			t.Fatalf("encoded chunk is %d bytes, limit %d", len(enc), limit)
		}
	}
}
