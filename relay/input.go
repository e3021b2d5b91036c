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

package relay

import (
	"io"

	"github.com/pkg/errors"

	"github.com/xtaci/sbus/frame"
	"github.com/xtaci/sbus/std"
)

// NoSentinel disables sentinel flushing.
const NoSentinel = -1

// Input pumps the local byte stream into the bus: read a chunk, seal it,
// broadcast the frame on every link. It never touches the router lock.
type Input struct {
	codec    *frame.Codec
	links    []Broadcaster
	sentinel int
	comp     bool
	chunk    int
}

// NewInput builds the local-input pump. sentinel is a byte value in 0..255,
// or NoSentinel. With compression on, the chunk size shrinks so a worst-case
// encoding still fits one frame.
func NewInput(codec *frame.Codec, links []Broadcaster, sentinel int, comp bool) *Input {
	chunk := frame.MaxPayload - 1
	if comp {
		chunk = std.MaxChunk(chunk)
	}
	return &Input{
		codec:    codec,
		links:    links,
		sentinel: sentinel,
		comp:     comp,
		chunk:    chunk,
	}
}

// Run reads src until EOF. Each chunk becomes one frame; when the chunk ends
// in the sentinel byte an empty frame follows immediately so line-buffered
// producers yield the speaker floor without closing the stream. EOF emits a
// final empty frame, releasing any downstream arbiter holding our id, and
// returns nil.
func (in *Input) Run(src io.Reader) error {
	buf := make([]byte, in.chunk)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			payload := buf[:n]
			if in.comp {
				payload = std.CompressPayload(payload)
			}
			if err := in.send(payload); err != nil {
				return err
			}
			if in.sentinel >= 0 && buf[n-1] == byte(in.sentinel) {
				if err := in.send(nil); err != nil {
					return err
				}
			}
		}
		if err != nil {
			if err == io.EOF {
				return in.send(nil)
			}
			return errors.WithStack(err)
		}
	}
}

func (in *Input) send(payload []byte) error {
	raw, err := in.codec.Seal(payload)
	if err != nil {
		return err
	}
	for _, l := range in.links {
		l.Broadcast(raw, "")
	}
	return nil
}
