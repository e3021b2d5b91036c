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
	"fmt"
	"io"
	"math/big"

	"github.com/xtaci/qpp"
)

const qppPower = 8

// ValidateQPPParams sanity checks the pad parameters against the seed and
// returns human readable warnings for weak choices.
func ValidateQPPParams(count int, seed []byte) ([]string, error) {
	if count <= 0 {
		return nil, fmt.Errorf("QPPCount must be greater than 0 when QPP is enabled")
	}

	var warnings []string

	minSeedLength := qpp.QPPMinimumSeedLength(qppPower)
	if len(seed) < minSeedLength {
		warnings = append(warnings, fmt.Sprintf("QPP Warning: seed has size of %d bytes, required %d bytes at least", len(seed), minSeedLength))
	}

	minPads := qpp.QPPMinimumPads(qppPower)
	if count < minPads {
		warnings = append(warnings, fmt.Sprintf("QPP Warning: QPPCount %d, required %d at least", count, minPads))
	}

	if new(big.Int).GCD(nil, nil, big.NewInt(int64(count)), big.NewInt(qppPower)).Int64() != 1 {
		warnings = append(warnings, fmt.Sprintf("QPP Warning: QPPCount %d, choose a prime number for security", count))
	}

	return warnings, nil
}

// QPPPort obfuscates a connection's byte stream with a quantum permutation
// pad. The transform is byte for byte, so the fixed frame size on the wire
// is preserved; both ends must share the pad and the seed.
type QPPPort struct {
	underlying io.ReadWriteCloser

	pad   *qpp.QuantumPermutationPad
	wprng *qpp.Rand
	rprng *qpp.Rand
}

// NewQPPPort wraps underlying with independent read and write pad streams
// derived from the same seed.
func NewQPPPort(underlying io.ReadWriteCloser, pad *qpp.QuantumPermutationPad, seed []byte) *QPPPort {
	wprng := pad.CreatePRNG(seed)
	rprng := pad.CreatePRNG(seed)
	return &QPPPort{underlying, pad, wprng, rprng}
}

func (r *QPPPort) Read(p []byte) (n int, err error) {
	n, err = r.underlying.Read(p)
	r.pad.DecryptWithPRNG(p[:n], r.rprng)
	return
}

func (r *QPPPort) Write(p []byte) (n int, err error) {
	// obfuscate a copy: the same frame is written to several connections
	buf := append([]byte(nil), p...)
	r.pad.EncryptWithPRNG(buf, r.wprng)
	return r.underlying.Write(buf)
}

func (r *QPPPort) Close() error {
	return r.underlying.Close()
}
