// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package msgport

import (
	"testing"
)

// stepLoop is an EventLoop whose tasks are run one at a time by the test.
type stepLoop struct {
	tasks []func()
	refs  int
}

func (s *stepLoop) Schedule(task func()) { s.tasks = append(s.tasks, task) }
func (s *stepLoop) Ref()                 { s.refs++ }
func (s *stepLoop) Unref()               { s.refs-- }

// step runs the next task and reports whether there was one.
func (s *stepLoop) step() bool {
	if len(s.tasks) == 0 {
		return false
	}
	next := s.tasks[0]
	s.tasks = s.tasks[1:]
	next()
	return true
}

func (s *stepLoop) drain() {
	for s.step() {
	}
}

func TestTickBound(t *testing.T) {
	lp := new(stepLoop)
	port1, port2 := NewChannel(lp)

	var got []any
	port2.On(EventMessage, func(v any) {
		got = append(got, v)
		if v == "a" {
			port1.PostMessage("c", nil)
		}
	})
	port1.PostMessage("a", nil)
	port1.PostMessage("b", nil)
	if n := len(lp.tasks); n != 1 {
		t.Fatalf("Pending ticks: got %d, want 1", n)
	}

	// The first tick delivers only what was queued when it began.
	lp.step()
	if len(got) != 2 {
		t.Errorf("After one tick: got %v, want 2 messages", got)
	}
	if n := port2.queue.Len(); n != 1 {
		t.Errorf("Queue length: got %d, want 1", n)
	}
	if n := len(lp.tasks); n != 1 {
		t.Errorf("Pending ticks: got %d, want 1", n)
	}
	lp.step()
	if len(got) != 3 || got[2] != "c" {
		t.Errorf("After two ticks: got %v", got)
	}

	port1.Close(nil)
	lp.drain()
	if lp.refs != 0 {
		t.Errorf("Refs after close: got %d, want 0", lp.refs)
	}
}

func TestLinkTable(t *testing.T) {
	lp := new(stepLoop)
	port1, port2 := NewChannel(lp)
	port3, port4 := NewChannel(lp)
	k := port4.link

	if k.ports != [2]*Port{port3, port4} {
		t.Fatalf("Link: got %v, want [%v %v]", k.ports, port3, port4)
	}
	if err := port1.PostMessage(port4, []any{port4}); err != nil {
		t.Fatalf("PostMessage: unexpected error: %v", err)
	}

	// The link refers to the new handle, which is not yet bound to a loop.
	np := k.ports[1]
	if np == port4 || np == nil {
		t.Fatalf("Link after transfer: got %v", np)
	}
	if np.id != port4.id || np.loop != nil {
		t.Errorf("New handle: id=%q loop=%v", np.id, np.loop)
	}
	if got := k.peer(0); got != np {
		t.Errorf("Peer of port3: got %v, want %v", got, np)
	}

	// Delivery binds the handle to the receiver's loop.
	port2.On(EventMessage, func(any) {})
	lp.drain()
	if np.loop != lp {
		t.Errorf("Bound loop: got %v, want %v", np.loop, lp)
	}

	port3.Close(nil)
	if k.ports[0] != nil {
		t.Errorf("Link after close: got %v, want nil", k.ports[0])
	}
	lp.drain()
	if k.ports != [2]*Port{} {
		t.Errorf("Link after peer close: got %v, want empty", k.ports)
	}
	port1.Close(nil)
	lp.drain()
}

func TestPeerCloseInTransit(t *testing.T) {
	lp := new(stepLoop)
	port1, port2 := NewChannel(lp)
	port3, port4 := NewChannel(lp)

	if err := port1.PostMessage(port4, []any{port4}); err != nil {
		t.Fatalf("PostMessage: unexpected error: %v", err)
	}
	np := port4.link.ports[1]

	// Closing the peer while the handle is in transit is recorded, and the
	// handle closes once it is bound.
	port3.Close(nil)
	if !np.peerGone {
		t.Error("In-transit handle did not record peer close")
	}

	var received *Port
	port2.On(EventMessage, func(v any) { received = v.(*Port) })
	lp.drain()
	if received != np {
		t.Fatalf("Received %v, want %v", received, np)
	}
	if st := np.State(); st != Closed {
		t.Errorf("State of received port: got %v, want %v", st, Closed)
	}
	port1.Close(nil)
	lp.drain()
}

func TestDiscardClosesPorts(t *testing.T) {
	lp := new(stepLoop)
	port1, port2 := NewChannel(lp)
	_, port4 := NewChannel(lp)

	// A message dropped at close carries its ports with it.
	if err := port1.PostMessage(port4, []any{port4}); err != nil {
		t.Fatalf("PostMessage: unexpected error: %v", err)
	}
	np := port4.link.ports[1]
	port2.Close(nil)
	lp.drain()

	// The dropped handle has no loop, so its teardown completes elsewhere.
	if st := np.State(); st != Closing && st != Closed {
		t.Errorf("State of dropped port: got %v, want closed", st)
	}
	if st := port1.State(); st != Closed {
		t.Errorf("State of sender: got %v, want %v", st, Closed)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{Open, "OPEN"}, {Started, "STARTED"}, {Closing, "CLOSING"}, {Closed, "CLOSED"}, {State(9), "STATE:9"},
	}
	for _, tc := range tests {
		if got := tc.s.String(); got != tc.want {
			t.Errorf("String(%d): got %q, want %q", tc.s, got, tc.want)
		}
	}
}
