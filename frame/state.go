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

package frame

import "github.com/pkg/errors"

// senderState tracks the last accepted timestamp and counter for one remote
// sender. Entries are created on first successful open and never evicted;
// the freshness window bounds how far a stale entry can matter.
type senderState struct {
	lastClk uint64
	lastCtr uint32
}

// admit applies the per-sender acceptance rules. Caller holds c.mu.
//
// Known sender: the timestamp must advance strictly and the counter must be
// the successor modulo 2^32 of the last accepted one. Unknown sender: the
// first frame is accepted unconditionally and its header installs the state,
// so late joiners can sync to a sender mid-stream.
func (c *Codec) admit(sender SenderID, clk uint64, ctr uint32) error {
	st, ok := c.peers[sender]
	if !ok {
		c.peers[sender] = &senderState{lastClk: clk, lastCtr: ctr}
		return nil
	}
	if clk <= st.lastClk {
		return ErrReplay
	}
	if ctr != st.lastCtr+1 {
		return errors.Wrapf(ErrCounterGap, "sender %v: counter %d, expected %d", sender, ctr, st.lastCtr+1)
	}
	st.lastClk = clk
	st.lastCtr = ctr
	return nil
}
