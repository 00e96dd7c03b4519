// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package msgport

import (
	"fmt"

	"github.com/creachadair/mds/value"
	"github.com/creachadair/msgport/clone"
)

// TransferOptions may be passed to [Port.PostMessage] in place of a transfer
// list.
type TransferOptions = clone.Options

// Message is a cloned payload in flight between two ports. A message owns its
// data: nothing reachable from Data is shared with the sender, except for the
// resources whose ownership was transferred.
type Message struct {
	Data        any                  // the cloned payload
	Transferred []clone.Transferable // resources moved with the payload
	Ports       []*Port              // the subset of Transferred that are ports
}

func newMessage(r *clone.Result) *Message {
	m := &Message{Data: r.Value, Transferred: r.Transferred}
	for _, t := range r.Transferred {
		if p, ok := t.(*Port); ok {
			m.Ports = append(m.Ports, p)
		}
	}
	return m
}

// discard releases the resources of a message that will not be delivered.
// Ports carried by the message are closed, since nothing else can reach them.
func (m *Message) discard() {
	rootMetrics.dropped.Add(1)
	for _, p := range m.Ports {
		p.Close(nil)
	}
}

// String returns a human-friendly rendering of the message. The payload is
// described by its type only, since it may be cyclic.
func (m *Message) String() string {
	return fmt.Sprintf("Message(%T, transferred=%d)", m.Data, len(m.Transferred))
}

// MessageEvent is the value passed to the primary message handler of a port
// (see [Port.SetOnMessage]).
type MessageEvent struct {
	Data   any     // the cloned payload
	Target *Port   // the port that received the message
	Ports  []*Port // ports transferred with the message, now owned by the receiver
}

// A MessageLogger logs a message exchanged by a port.
type MessageLogger func(MessageInfo)

// A MessageInfo combines a message with the port that handled it and a flag
// indicating whether the message was sent or delivered.
type MessageInfo struct {
	*Message       // the message being logged
	Port     *Port // the port that posted or received the message
	Sent     bool  // whether the message was posted (true) or delivered (false)
}

func (m MessageInfo) dir() string { return value.Cond(m.Sent, "send", "recv") }

func (m MessageInfo) String() string {
	return fmt.Sprintf("%v %v %v", m.dir(), m.Port, m.Message)
}

// State is the lifecycle state of a port.
type State byte

const (
	Open    State = iota // Created, not yet delivering messages
	Started              // Delivering messages to listeners
	Closing              // Closed, teardown not yet complete
	Closed               // Torn down; all further operations are no-ops
)

func (s State) String() string {
	switch s {
	case Open:
		return "OPEN"
	case Started:
		return "STARTED"
	case Closing:
		return "CLOSING"
	case Closed:
		return "CLOSED"
	default:
		return fmt.Sprintf("STATE:%d", byte(s))
	}
}
