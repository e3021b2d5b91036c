package relay

import (
	"bytes"
	"testing"

	"github.com/xtaci/sbus/frame"
	"github.com/xtaci/sbus/std"
)

// capture records every frame broadcast by the input pump.
type capture struct {
	raws     [][]byte
	excludes []string
}

func (c *capture) Broadcast(raw []byte, exclude string) {
	c.raws = append(c.raws, append([]byte(nil), raw...))
	c.excludes = append(c.excludes, exclude)
}

// decodeAll opens every captured frame with codec and returns the payloads.
func decodeAll(t *testing.T, codec *frame.Codec, raws [][]byte) [][]byte {
	t.Helper()
	var payloads [][]byte
	for i, raw := range raws {
		if len(raw) != frame.Size {
			t.Fatalf("frame %d is %d bytes, want %d", i, len(raw), frame.Size)
		}
		_, p, err := codec.Open(raw)
		if err != nil {
			t.Fatalf("Open frame %d: %v", i, err)
		}
		payloads = append(payloads, p)
	}
	return payloads
}

func TestInputChunksAndTerminates(t *testing.T) {
	key := testKey()
	codecA := newTestCodec(t, key)
	codecB := newTestCodec(t, key)

	sink := new(capture)
	in := NewInput(codecA, []Broadcaster{sink}, NoSentinel, false)

	data := bytes.Repeat([]byte{0x33}, 3000)
	if err := in.Run(bytes.NewReader(data)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	payloads := decodeAll(t, codecB, sink.raws)
	if len(payloads) != 4 { // 1346 + 1346 + 308 + end-of-turn
		t.Fatalf("got %d frames, want 4", len(payloads))
	}
	if len(payloads[len(payloads)-1]) != 0 {
		t.Fatalf("final frame is not empty")
	}

	var joined []byte
	for _, p := range payloads[:len(payloads)-1] {
		joined = append(joined, p...)
	}
	if !bytes.Equal(joined, data) {
		t.Fatalf("reassembled stream differs from input")
	}
	for _, e := range sink.excludes {
		if e != "" {
			t.Fatalf("local input must broadcast without exclusion, got %q", e)
		}
	}
}

func TestInputSentinelFlush(t *testing.T) {
	key := testKey()
	codecA := newTestCodec(t, key)
	codecB := newTestCodec(t, key)

	sink := new(capture)
	in := NewInput(codecA, []Broadcaster{sink}, '\n', false)

	if err := in.Run(bytes.NewReader([]byte("line\n"))); err != nil {
		t.Fatalf("Run: %v", err)
	}

	payloads := decodeAll(t, codecB, sink.raws)
	if len(payloads) != 3 { // payload, sentinel flush, EOF
		t.Fatalf("got %d frames, want 3", len(payloads))
	}
	if string(payloads[0]) != "line\n" {
		t.Fatalf("payload %q, want %q", payloads[0], "line\n")
	}
	if len(payloads[1]) != 0 || len(payloads[2]) != 0 {
		t.Fatalf("expected empty flush and EOF frames")
	}
}

func TestInputSentinelNotLastByte(t *testing.T) {
	key := testKey()
	codecA := newTestCodec(t, key)
	codecB := newTestCodec(t, key)

	sink := new(capture)
	in := NewInput(codecA, []Broadcaster{sink}, '\n', false)

	if err := in.Run(bytes.NewReader([]byte("no newline"))); err != nil {
		t.Fatalf("Run: %v", err)
	}

	payloads := decodeAll(t, codecB, sink.raws)
	if len(payloads) != 2 { // payload, EOF only
		t.Fatalf("got %d frames, want 2", len(payloads))
	}
}

func TestInputCompressed(t *testing.T) {
	key := testKey()
	codecA := newTestCodec(t, key)
	codecB := newTestCodec(t, key)

	sink := new(capture)
	in := NewInput(codecA, []Broadcaster{sink}, NoSentinel, true)

	data := bytes.Repeat([]byte("squeeze me "), 400) // larger than one chunk
	if err := in.Run(bytes.NewReader(data)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	payloads := decodeAll(t, codecB, sink.raws)
	if len(payloads) < 2 {
		t.Fatalf("got %d frames, want at least a payload and the EOF frame", len(payloads))
	}
	if len(payloads[len(payloads)-1]) != 0 {
		t.Fatalf("final frame is not empty")
	}

	var joined []byte
	for _, p := range payloads[:len(payloads)-1] {
		plain, err := std.DecompressPayload(p)
		if err != nil {
			t.Fatalf("DecompressPayload: %v", err)
		}
		joined = append(joined, plain...)
	}
	if !bytes.Equal(joined, data) {
		t.Fatalf("reassembled stream differs from input")
	}
}

func TestInputEmptyStream(t *testing.T) {
	key := testKey()
	codecA := newTestCodec(t, key)
	codecB := newTestCodec(t, key)

	sink := new(capture)
	in := NewInput(codecA, []Broadcaster{sink}, NoSentinel, false)

	if err := in.Run(bytes.NewReader(nil)); err != nil {
		t.Fatalf("Run: %v", err)
	}

	payloads := decodeAll(t, codecB, sink.raws)
	if len(payloads) != 1 || len(payloads[0]) != 0 {
		t.Fatalf("expected exactly one empty frame, got %d", len(payloads))
	}
}
