// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package frame implements the fixed-size authenticated record layer of the
// bus. Every record on the wire is exactly Size bytes: a random 96-bit nonce
// followed by a ChaCha20-Poly1305 sealed, zero-padded plaintext carrying the
// sender identity, a per-sender counter, a wall-clock timestamp and up to
// MaxPayload bytes of payload.
package frame

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// Size is the length of every wire frame. A reader must assemble
	// exactly this many bytes before attempting to open a frame.
	Size = 1400

	// IDSize is the length of a sender identity.
	IDSize = 12

	nonceSize  = chacha20poly1305.NonceSize
	tagSize    = chacha20poly1305.Overhead
	headerSize = IDSize + 4 + 8

	// paddedSize is the AEAD plaintext length after padding.
	paddedSize = Size - nonceSize - tagSize

	// MaxPayload is the largest payload Seal accepts: the padded record
	// minus the marker byte and the header.
	MaxPayload = paddedSize - 1 - headerSize

	// MaxClockSkew bounds |now - timestamp| on open; frames outside the
	// window are rejected as expired.
	MaxClockSkew = 10 * time.Second

	padMarker = 0x01
)

var (
	// ErrTooLarge reports a payload exceeding MaxPayload; callers treat it
	// as a programmer error.
	ErrTooLarge = errors.New("payload exceeds frame capacity")
	// ErrFrameSize reports a frame that is not exactly Size bytes.
	ErrFrameSize = errors.New("malformed frame length")
	// ErrAuthFail reports an AEAD authentication failure.
	ErrAuthFail = errors.New("frame authentication failed")
	// ErrPadding reports a padded record without a marker byte.
	ErrPadding = errors.New("padding marker not found")
	// ErrExpired reports a timestamp outside the freshness window.
	ErrExpired = errors.New("frame expired")
	// ErrReplay reports a stale timestamp from a known sender, including
	// loop-back of locally produced frames.
	ErrReplay = errors.New("frame replayed or reordered")
	// ErrCounterGap reports a counter that is not the successor of the
	// last one seen from that sender.
	ErrCounterGap = errors.New("sender counter gap")
)

// SenderID identifies one bus participant for the life of its process.
type SenderID [IDSize]byte

func (id SenderID) String() string {
	return hex.EncodeToString(id[:])
}

// Codec seals local payloads and opens peer frames under one pre-shared key.
// It is safe for concurrent use; the self clock/counter and the per-sender
// registry are serialized by a single mutex.
type Codec struct {
	aead cipher.AEAD
	id   SenderID

	mu      sync.Mutex
	selfClk uint64 // 0 means no frame sealed yet
	selfCtr uint32
	peers   map[SenderID]*senderState
}

// NewCodec creates a codec from a 32-byte pre-shared key and draws a fresh
// random sender identity.
func NewCodec(key []byte) (*Codec, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "chacha20poly1305.New()")
	}

	c := &Codec{aead: aead, peers: make(map[SenderID]*senderState)}
	if _, err := rand.Read(c.id[:]); err != nil {
		return nil, errors.Wrap(err, "rand.Read()")
	}
	return c, nil
}

// ID returns the local sender identity.
func (c *Codec) ID() SenderID { return c.id }

// Seal encrypts payload into a Size-byte frame. The timestamp is forced
// strictly above the previous one so receivers can order frames even when
// the wall clock stalls; the counter advances by one modulo 2^32. Seal is
// the only writer of the self state.
func (c *Codec) Seal(payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, errors.Wrapf(ErrTooLarge, "%d bytes", len(payload))
	}

	c.mu.Lock()
	clk := uint64(time.Now().UnixNano())
	if c.selfClk != 0 && clk <= c.selfClk {
		clk = c.selfClk + 1
	}
	c.selfClk = clk
	ctr := c.selfCtr
	c.selfCtr++
	c.mu.Unlock()

	return c.seal(payload, clk, ctr)
}

// seal assembles and encrypts a record with explicit header fields.
func (c *Codec) seal(payload []byte, clk uint64, ctr uint32) ([]byte, error) {
	record := make([]byte, headerSize+len(payload))
	copy(record, c.id[:])
	binary.BigEndian.PutUint32(record[IDSize:], ctr)
	binary.BigEndian.PutUint64(record[IDSize+4:], clk)
	copy(record[headerSize:], payload)

	frame := make([]byte, Size)
	nonce := frame[:nonceSize]
	if _, err := rand.Read(nonce); err != nil {
		return nil, errors.Wrap(err, "rand.Read()")
	}
	c.aead.Seal(frame[nonceSize:nonceSize], nonce, pad(record), nil)
	return frame, nil
}

// Open authenticates and decrypts a frame, enforces freshness and per-sender
// ordering, and returns the sender identity with the payload. The payload may
// be empty; an empty payload is the end-of-turn signal, not an error. Open
// never touches the self state: frames carrying the local identity are
// rejected as replays, which is also what terminates rebroadcast cycles in a
// mesh.
func (c *Codec) Open(frame []byte) (SenderID, []byte, error) {
	var sender SenderID
	if len(frame) != Size {
		return sender, nil, errors.Wrapf(ErrFrameSize, "%d bytes", len(frame))
	}

	padded, err := c.aead.Open(nil, frame[:nonceSize], frame[nonceSize:], nil)
	if err != nil {
		return sender, nil, ErrAuthFail
	}
	record, err := unpad(padded)
	if err != nil {
		return sender, nil, err
	}
	if len(record) < headerSize {
		return sender, nil, errors.Wrap(ErrPadding, "record shorter than header")
	}

	copy(sender[:], record[:IDSize])
	ctr := binary.BigEndian.Uint32(record[IDSize:])
	clk := binary.BigEndian.Uint64(record[IDSize+4:])
	payload := record[headerSize:]

	if sender == c.id {
		return sender, nil, errors.Wrap(ErrReplay, "loop-back")
	}

	now := uint64(time.Now().UnixNano())
	skew := now - clk
	if clk > now {
		skew = clk - now
	}
	if skew > uint64(MaxClockSkew) {
		return sender, nil, ErrExpired
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.admit(sender, clk, ctr); err != nil {
		return sender, nil, err
	}
	return sender, payload, nil
}

// pad prefixes the record with a marker byte and left-pads with zeros so the
// AEAD plaintext is always paddedSize bytes.
func pad(record []byte) []byte {
	padded := make([]byte, paddedSize)
	n := paddedSize - len(record) - 1
	padded[n] = padMarker
	copy(padded[n+1:], record)
	return padded
}

// unpad returns everything strictly after the first marker byte.
func unpad(padded []byte) ([]byte, error) {
	i := bytes.IndexByte(padded, padMarker)
	if i < 0 {
		return nil, ErrPadding
	}
	return padded[i+1:], nil
}
