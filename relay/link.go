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
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"sync/atomic"

	"github.com/xtaci/sbus/frame"
	"github.com/xtaci/sbus/std"
)

// Options configures a link. One Options value is typically shared by every
// link of a process.
type Options struct {
	// Router receives decrypted inbound frames. A nil router puts the
	// link in transmit-only mode: inbound frames are drained off the
	// socket and discarded without decryption.
	Router *Router
	Codec  *frame.Codec

	// Wrap optionally interposes a byte-preserving stream transform
	// (obfuscation) between the socket and the frame layer.
	Wrap func(net.Conn) io.ReadWriteCloser
	// Tune optionally adjusts transport knobs on every new connection.
	Tune func(net.Conn)

	// Comp enables per-frame snappy payload compression; every peer on
	// the bus must agree on it.
	Comp bool
	// Quiet suppresses per-connection open/close messages.
	Quiet bool
}

// Link is one configured endpoint of the bus: a listening endpoint holding
// any number of accepted connections, or a dialing endpoint holding one.
// Every connection runs a reader that assembles fixed-size frames, and
// Broadcast serializes writes per connection so frames never interleave.
type Link struct {
	opts    Options
	inbound chan Message

	mu    sync.Mutex
	conns map[string]*peerConn
	seq   uint64
}

// peerConn is one live connection with its write serialization.
type peerConn struct {
	addr string
	rw   io.ReadWriteCloser
	wmu  sync.Mutex
}

// NewLink creates a link and, when a router is configured, registers it for
// rebroadcast and starts its router consumer.
func NewLink(opts Options) *Link {
	l := &Link{
		opts:    opts,
		inbound: make(chan Message, 64),
		conns:   make(map[string]*peerConn),
	}
	if opts.Router != nil {
		opts.Router.AddLink(l)
		go opts.Router.Serve(l.inbound)
	}
	return l
}

// Serve accepts connections until the listener fails, spawning one reader
// per accepted connection.
func (l *Link) Serve(lis net.Listener) {
	for {
		conn, err := lis.Accept()
		if err != nil {
			log.Println("accept:", err)
			return
		}
		go l.Attach(conn)
	}
}

// Attach registers conn and runs its read loop until the connection closes.
func (l *Link) Attach(conn net.Conn) {
	if l.opts.Tune != nil {
		l.opts.Tune(conn)
	}
	var rw io.ReadWriteCloser = conn
	if l.opts.Wrap != nil {
		rw = l.opts.Wrap(conn)
	}

	pc := &peerConn{rw: rw}
	l.mu.Lock()
	l.seq++
	// the sequence suffix keeps addr ids unique even when the transport
	// reports identical remote addresses
	pc.addr = fmt.Sprintf("%v#%d", conn.RemoteAddr(), l.seq)
	l.conns[pc.addr] = pc
	l.mu.Unlock()

	atomic.AddUint64(&std.DefaultSnmp.PeersAccepted, 1)
	l.logln("peer connected:", pc.addr)
	l.readLoop(pc)
}

// readLoop assembles exactly frame.Size bytes per record. A partial frame at
// EOF is discarded; any read error terminates only this connection.
func (l *Link) readLoop(pc *peerConn) {
	defer l.drop(pc)

	buf := make([]byte, frame.Size)
	for {
		if _, err := io.ReadFull(pc.rw, buf); err != nil {
			if err != io.EOF {
				l.logln("read:", err, "peer:", pc.addr)
			}
			return
		}
		atomic.AddUint64(&std.DefaultSnmp.FramesReceived, 1)
		atomic.AddUint64(&std.DefaultSnmp.BytesReceived, frame.Size)

		if l.opts.Router == nil { // transmit-only mode
			continue
		}

		raw := append([]byte(nil), buf...)
		sender, payload, err := l.opts.Codec.Open(raw)
		if err != nil {
			l.count(err)
			continue
		}
		if l.opts.Comp && len(payload) > 0 {
			payload, err = std.DecompressPayload(payload)
			if err != nil {
				atomic.AddUint64(&std.DefaultSnmp.Corrupt, 1)
				continue
			}
		}
		l.inbound <- Message{Sender: sender, Addr: pc.addr, Payload: payload, Raw: raw}
	}
}

// count tallies a per-frame rejection. Counter gaps get a diagnostic; the
// rest are dropped silently, replays included, since every frame in a mesh
// legitimately arrives more than once.
func (l *Link) count(err error) {
	switch {
	case errors.Is(err, frame.ErrAuthFail):
		atomic.AddUint64(&std.DefaultSnmp.AuthFail, 1)
	case errors.Is(err, frame.ErrExpired):
		atomic.AddUint64(&std.DefaultSnmp.Expired, 1)
	case errors.Is(err, frame.ErrReplay):
		atomic.AddUint64(&std.DefaultSnmp.Replay, 1)
	case errors.Is(err, frame.ErrCounterGap):
		atomic.AddUint64(&std.DefaultSnmp.CounterGap, 1)
		log.Println("drop:", err)
	default:
		atomic.AddUint64(&std.DefaultSnmp.Corrupt, 1)
	}
}

// Broadcast writes raw to every live connection whose addr id differs from
// exclude. A failed write drops that connection and the rest still get the
// frame; no error escapes.
func (l *Link) Broadcast(raw []byte, exclude string) {
	l.mu.Lock()
	conns := make([]*peerConn, 0, len(l.conns))
	for addr, pc := range l.conns {
		if addr != exclude {
			conns = append(conns, pc)
		}
	}
	l.mu.Unlock()

	for _, pc := range conns {
		pc.wmu.Lock()
		_, err := pc.rw.Write(raw)
		pc.wmu.Unlock()
		if err != nil {
			l.logln("write:", err, "peer:", pc.addr)
			l.drop(pc)
			continue
		}
		atomic.AddUint64(&std.DefaultSnmp.FramesSent, 1)
		atomic.AddUint64(&std.DefaultSnmp.BytesSent, uint64(len(raw)))
	}
}

// drop removes pc from the connection set and closes it. Safe to call from
// both the read loop and Broadcast; only the first call counts.
func (l *Link) drop(pc *peerConn) {
	l.mu.Lock()
	_, live := l.conns[pc.addr]
	delete(l.conns, pc.addr)
	l.mu.Unlock()

	pc.rw.Close()
	if live {
		atomic.AddUint64(&std.DefaultSnmp.PeersDropped, 1)
		l.logln("peer disconnected:", pc.addr)
	}
}

func (l *Link) logln(v ...interface{}) {
	if !l.opts.Quiet {
		log.Println(v...)
	}
}
