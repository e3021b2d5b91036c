package relay

import (
	"bytes"
	"sync"
	"testing"

	"github.com/xtaci/sbus/frame"
)

type cast struct {
	raw     []byte
	exclude string
}

type fakeLink struct {
	mu    sync.Mutex
	casts []cast
}

func (f *fakeLink) Broadcast(raw []byte, exclude string) {
	f.mu.Lock()
	f.casts = append(f.casts, cast{raw: append([]byte(nil), raw...), exclude: exclude})
	f.mu.Unlock()
}

func (f *fakeLink) snapshot() []cast {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]cast(nil), f.casts...)
}

func sid(b byte) frame.SenderID {
	var id frame.SenderID
	for i := range id {
		id[i] = b
	}
	return id
}

func msg(sender byte, addr, payload string) Message {
	return Message{
		Sender:  sid(sender),
		Addr:    addr,
		Payload: []byte(payload),
		Raw:     []byte("raw:" + payload),
	}
}

func TestRouterSingleSpeaker(t *testing.T) {
	var out bytes.Buffer
	r := NewRouter(&out)

	r.route(msg('a', "a1", "hello "))
	r.route(msg('a', "a1", "world"))

	if got := out.String(); got != "hello world" {
		t.Fatalf("output %q, want %q", got, "hello world")
	}
}

func TestRouterArbitration(t *testing.T) {
	var out bytes.Buffer
	r := NewRouter(&out)

	r.route(msg('a', "a1", "aaa"))
	r.route(msg('b', "b1", "bbb")) // deferred: a holds the floor

	if got := out.String(); got != "aaa" {
		t.Fatalf("output %q before end of turn, want %q", got, "aaa")
	}

	r.route(msg('a', "a1", "")) // a yields; b's backlog drains
	if got := out.String(); got != "aaabbb" {
		t.Fatalf("output %q after end of turn, want %q", got, "aaabbb")
	}

	// b holds the floor now, so its next payload goes straight through.
	r.route(msg('b', "b1", "!"))
	if got := out.String(); got != "aaabbb!" {
		t.Fatalf("output %q, want %q", got, "aaabbb!")
	}
}

func TestRouterBacklogServedInFirstSpokeOrder(t *testing.T) {
	var out bytes.Buffer
	r := NewRouter(&out)

	r.route(msg('a', "a1", "a1"))
	r.route(msg('b', "b1", "b1"))
	r.route(msg('c', "c1", "c1"))
	r.route(msg('b', "b1", "b2"))

	r.route(msg('a', "a1", "")) // b spoke up before c
	if got := out.String(); got != "a1b1b2" {
		t.Fatalf("output %q, want %q", got, "a1b1b2")
	}

	r.route(msg('b', "b1", ""))
	if got := out.String(); got != "a1b1b2c1" {
		t.Fatalf("output %q, want %q", got, "a1b1b2c1")
	}

	// c holds the floor after its drain.
	r.route(msg('c', "c1", "!"))
	if got := out.String(); got != "a1b1b2c1!" {
		t.Fatalf("output %q, want %q", got, "a1b1b2c1!")
	}
}

func TestRouterDrainedTurnAlreadyEnded(t *testing.T) {
	var out bytes.Buffer
	r := NewRouter(&out)

	r.route(msg('a', "a1", "a"))
	r.route(msg('b', "b1", "b"))
	r.route(msg('b', "b1", "")) // b queues its own end of turn while deferred

	r.route(msg('a', "a1", "")) // drain b: floor opens right back up
	if got := out.String(); got != "ab" {
		t.Fatalf("output %q, want %q", got, "ab")
	}

	// With the floor open, a new speaker is elected immediately.
	r.route(msg('c', "c1", "c"))
	if got := out.String(); got != "abc" {
		t.Fatalf("output %q, want %q", got, "abc")
	}
}

func TestRouterEmptyFirstFrame(t *testing.T) {
	var out bytes.Buffer
	r := NewRouter(&out)

	r.route(msg('a', "a1", "")) // a is elected and immediately yields
	if out.Len() != 0 {
		t.Fatalf("unexpected output %q", out.String())
	}

	r.route(msg('b', "b1", "x"))
	if got := out.String(); got != "x" {
		t.Fatalf("output %q, want %q", got, "x")
	}
}

func TestRouterRebroadcastsToAllLinksWithExclusion(t *testing.T) {
	var out bytes.Buffer
	r := NewRouter(&out)

	l1 := new(fakeLink)
	l2 := new(fakeLink)
	r.AddLink(l1)
	r.AddLink(l2)

	m := msg('a', "conn-1", "data")
	r.route(m)
	r.route(msg('b', "conn-2", "deferred")) // backlogged frames still relay

	for _, l := range []*fakeLink{l1, l2} {
		casts := l.snapshot()
		if len(casts) != 2 {
			t.Fatalf("link got %d casts, want 2", len(casts))
		}
		if !bytes.Equal(casts[0].raw, m.Raw) || casts[0].exclude != "conn-1" {
			t.Fatalf("unexpected first cast: %q exclude %q", casts[0].raw, casts[0].exclude)
		}
		if casts[1].exclude != "conn-2" {
			t.Fatalf("unexpected second exclude: %q", casts[1].exclude)
		}
	}
}
