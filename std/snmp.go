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
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"
)

// Snmp aggregates bus counters. Fields are updated with atomic adds from the
// link readers, writers and the router.
type Snmp struct {
	BytesSent      uint64 // ciphertext bytes written to peers
	BytesReceived  uint64 // ciphertext bytes read from peers
	BytesDelivered uint64 // plaintext bytes written to local output
	FramesSent     uint64 // frames written to peers, relays included
	FramesReceived uint64 // full frames assembled from peers
	FramesRelayed  uint64 // inbound frames rebroadcast to other peers
	FramesDeferred uint64 // payloads parked in the speaker backlog
	AuthFail       uint64 // frames dropped: AEAD authentication
	Expired        uint64 // frames dropped: outside freshness window
	Replay         uint64 // frames dropped: replayed or reordered
	CounterGap     uint64 // frames dropped: counter discontinuity
	Corrupt        uint64 // frames dropped: undecodable payload
	PeersAccepted  uint64 // connections attached over the lifetime
	PeersDropped   uint64 // connections pruned after errors or EOF
}

func newSnmp() *Snmp {
	return new(Snmp)
}

// Header returns the field names in ToSlice order.
func (s *Snmp) Header() []string {
	return []string{
		"BytesSent",
		"BytesReceived",
		"BytesDelivered",
		"FramesSent",
		"FramesReceived",
		"FramesRelayed",
		"FramesDeferred",
		"AuthFail",
		"Expired",
		"Replay",
		"CounterGap",
		"Corrupt",
		"PeersAccepted",
		"PeersDropped",
	}
}

// ToSlice returns the current values as strings, aligned with Header.
func (s *Snmp) ToSlice() []string {
	snmp := s.Copy()
	return []string{
		fmt.Sprint(snmp.BytesSent),
		fmt.Sprint(snmp.BytesReceived),
		fmt.Sprint(snmp.BytesDelivered),
		fmt.Sprint(snmp.FramesSent),
		fmt.Sprint(snmp.FramesReceived),
		fmt.Sprint(snmp.FramesRelayed),
		fmt.Sprint(snmp.FramesDeferred),
		fmt.Sprint(snmp.AuthFail),
		fmt.Sprint(snmp.Expired),
		fmt.Sprint(snmp.Replay),
		fmt.Sprint(snmp.CounterGap),
		fmt.Sprint(snmp.Corrupt),
		fmt.Sprint(snmp.PeersAccepted),
		fmt.Sprint(snmp.PeersDropped),
	}
}

// Copy makes a consistent-enough snapshot for logging.
func (s *Snmp) Copy() *Snmp {
	d := newSnmp()
	d.BytesSent = atomic.LoadUint64(&s.BytesSent)
	d.BytesReceived = atomic.LoadUint64(&s.BytesReceived)
	d.BytesDelivered = atomic.LoadUint64(&s.BytesDelivered)
	d.FramesSent = atomic.LoadUint64(&s.FramesSent)
	d.FramesReceived = atomic.LoadUint64(&s.FramesReceived)
	d.FramesRelayed = atomic.LoadUint64(&s.FramesRelayed)
	d.FramesDeferred = atomic.LoadUint64(&s.FramesDeferred)
	d.AuthFail = atomic.LoadUint64(&s.AuthFail)
	d.Expired = atomic.LoadUint64(&s.Expired)
	d.Replay = atomic.LoadUint64(&s.Replay)
	d.CounterGap = atomic.LoadUint64(&s.CounterGap)
	d.Corrupt = atomic.LoadUint64(&s.Corrupt)
	d.PeersAccepted = atomic.LoadUint64(&s.PeersAccepted)
	d.PeersDropped = atomic.LoadUint64(&s.PeersDropped)
	return d
}

// Reset zeroes all counters.
func (s *Snmp) Reset() {
	atomic.StoreUint64(&s.BytesSent, 0)
	atomic.StoreUint64(&s.BytesReceived, 0)
	atomic.StoreUint64(&s.BytesDelivered, 0)
	atomic.StoreUint64(&s.FramesSent, 0)
	atomic.StoreUint64(&s.FramesReceived, 0)
	atomic.StoreUint64(&s.FramesRelayed, 0)
	atomic.StoreUint64(&s.FramesDeferred, 0)
	atomic.StoreUint64(&s.AuthFail, 0)
	atomic.StoreUint64(&s.Expired, 0)
	atomic.StoreUint64(&s.Replay, 0)
	atomic.StoreUint64(&s.CounterGap, 0)
	atomic.StoreUint64(&s.Corrupt, 0)
	atomic.StoreUint64(&s.PeersAccepted, 0)
	atomic.StoreUint64(&s.PeersDropped, 0)
}

// DefaultSnmp is the global counter set.
var DefaultSnmp = newSnmp()

// SnmpLogger appends a CSV snapshot of DefaultSnmp every interval seconds.
// The filename part of path is run through time.Now().Format, so a path like
// ./snmp-20060102.log rotates daily: each formatted name starts a fresh file
// with its own header row.
func SnmpLogger(path string, interval int) {
	if path == "" || interval <= 0 {
		return
	}
	dir, name := filepath.Split(path)

	ticker := time.NewTicker(time.Duration(interval) * time.Second)
	defer ticker.Stop()
	for now := range ticker.C {
		if err := appendSnapshot(filepath.Join(dir, now.Format(name)), now); err != nil {
			log.Println("snmp:", err)
			return
		}
	}
}

// appendSnapshot adds one counter row to file, writing the header first when
// rotation has just rolled over to a new, empty file.
func appendSnapshot(file string, now time.Time) error {
	f, err := os.OpenFile(file, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if stat, err := f.Stat(); err == nil && stat.Size() == 0 {
		if err := w.Write(append([]string{"Unix"}, DefaultSnmp.Header()...)); err != nil {
			return err
		}
	}
	if err := w.Write(append([]string{fmt.Sprint(now.Unix())}, DefaultSnmp.ToSlice()...)); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}
