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

package std

import (
	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// Payloads are compressed one frame at a time with the snappy block format.
// A stream compressor would be tighter, but frames from different senders
// interleave on the bus so each record has to decode on its own.

// CompressPayload encodes p as a single snappy block.
func CompressPayload(p []byte) []byte {
	return snappy.Encode(nil, p)
}

// DecompressPayload decodes a snappy block produced by CompressPayload.
func DecompressPayload(p []byte) ([]byte, error) {
	out, err := snappy.Decode(nil, p)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return out, nil
}

// MaxChunk returns the largest n whose worst-case snappy encoding still fits
// in limit. Input chunkers use it so a compressed payload never overflows a
// frame.
func MaxChunk(limit int) int {
	for n := limit; n > 0; n-- {
		if snappy.MaxEncodedLen(n) <= limit {
			return n
		}
	}
	return 0
}
