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

// Package relay couples the bus links to the local process: it fans frames in
// from every connection, arbitrates which sender may write to the local
// output, parks deferred speakers in a backlog, and fans every received
// ciphertext back out to all other peers.
package relay

import (
	"io"
	"log"
	"sync"
	"sync/atomic"

	"github.com/xtaci/sbus/frame"
	"github.com/xtaci/sbus/std"
)

// Message is one decrypted inbound frame as handed to the router: the sender
// it authenticated as, the connection it arrived on, the plaintext payload
// and the raw ciphertext for rebroadcast.
type Message struct {
	Sender  frame.SenderID
	Addr    string
	Payload []byte
	Raw     []byte
}

// Broadcaster is the send half of a link: write raw to every live connection
// except the one identified by exclude.
type Broadcaster interface {
	Broadcast(raw []byte, exclude string)
}

// turnQueue holds the pending payloads of one deferred speaker. Queues keep
// the order their sender first spoke up in; the head of Router.backlog is the
// next speaker.
type turnQueue struct {
	id       frame.SenderID
	payloads [][]byte
}

// Router enforces at most one concurrent speaker on the local output and
// rebroadcasts every inbound frame verbatim to all other links. An encrypted
// frame with an empty payload is the end-of-turn marker: it releases the
// floor and promotes the longest-waiting deferred speaker.
type Router struct {
	out io.Writer

	mu       sync.Mutex
	links    []Broadcaster
	current  frame.SenderID
	speaking bool
	backlog  []*turnQueue
}

// NewRouter creates a router delivering payloads to out.
func NewRouter(out io.Writer) *Router {
	return &Router{out: out}
}

// AddLink registers a link for rebroadcast.
func (r *Router) AddLink(l Broadcaster) {
	r.mu.Lock()
	r.links = append(r.links, l)
	r.mu.Unlock()
}

// Serve consumes one link's inbound messages. It runs for the life of the
// process; links never close their channel.
func (r *Router) Serve(inbound <-chan Message) {
	for m := range inbound {
		r.route(m)
	}
}

// route applies the arbitration rules and rebroadcasts the raw frame, both
// under one lock so the state decision stays atomic with the fan-out that
// every other peer observes.
func (r *Router) route(m Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.speaking {
		r.current, r.speaking = m.Sender, true
	}
	switch {
	case r.current == m.Sender:
		if len(m.Payload) > 0 {
			r.deliver(m.Payload)
		} else {
			r.endTurn()
		}
	default:
		r.enqueue(m)
	}

	for _, l := range r.links {
		l.Broadcast(m.Raw, m.Addr)
	}
	atomic.AddUint64(&std.DefaultSnmp.FramesRelayed, 1)
}

// endTurn releases the floor and, if someone is waiting, drains the
// longest-waiting speaker's queue. That speaker keeps the floor unless its
// own end-of-turn marker was already queued, in which case the floor opens
// again.
func (r *Router) endTurn() {
	if len(r.backlog) == 0 {
		r.speaking = false
		return
	}

	next := r.backlog[0]
	r.backlog = r.backlog[1:]
	for _, p := range next.payloads {
		if len(p) > 0 {
			r.deliver(p)
		}
	}
	if last := next.payloads[len(next.payloads)-1]; len(last) == 0 {
		r.speaking = false
	} else {
		r.current, r.speaking = next.id, true
	}
}

// enqueue parks a payload for a sender who is not the current speaker,
// keeping first-spoke order across senders and arrival order within one.
func (r *Router) enqueue(m Message) {
	atomic.AddUint64(&std.DefaultSnmp.FramesDeferred, 1)
	for _, q := range r.backlog {
		if q.id == m.Sender {
			q.payloads = append(q.payloads, m.Payload)
			return
		}
	}
	r.backlog = append(r.backlog, &turnQueue{id: m.Sender, payloads: [][]byte{m.Payload}})
}

func (r *Router) deliver(p []byte) {
	if _, err := r.out.Write(p); err != nil {
		log.Println("output:", err)
		return
	}
	atomic.AddUint64(&std.DefaultSnmp.BytesDelivered, uint64(len(p)))
}
