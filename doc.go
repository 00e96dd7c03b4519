// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package msgport implements in-process message channels between event
// loops.
//
// A channel is a linked pair of [Port] values. A value posted on one port is
// deep-copied and delivered asynchronously to the listeners of the other,
// in the order it was posted. Each port belongs to an [EventLoop], which runs
// its listeners one at a time; the loop package provides an implementation.
//
// # Channels
//
// To create a channel whose ports both belong to the same loop:
//
//	lp := loop.New()
//	port1, port2 := msgport.NewChannel(lp)
//
// To receive messages, register a listener. Adding the first message listener
// starts the port, and any messages that arrived before then are delivered on
// a later tick of the loop:
//
//	port2.On(msgport.EventMessage, func(data any) {
//	   log.Printf("Received %v", data)
//	})
//	if err := port1.PostMessage(map[string]int{"a": 1}, nil); err != nil {
//	   log.Fatalf("Post failed: %v", err)
//	}
//
// Alternatively, [Port.SetOnMessage] installs a single primary handler that
// receives a [MessageEvent] describing the delivery.
//
// # Cloning
//
// Posted values are copied by the clone package. The copy preserves sharing
// and cycles within the value, and includes unexported struct fields.
// Functions, channels and unsafe pointers cannot be copied; posting a value
// that contains one reports an error of concrete type [*clone.Error], and no
// message is sent.
//
// # Transfer
//
// Resources implementing [clone.Transferable] may be moved to the receiver
// instead of copied, by naming them in the transfer list:
//
//	buf := msgport.NewBuffer(data)
//	port1.PostMessage(buf, []any{buf})  // buf is now detached
//
// Ports are transferable too, which allows a channel endpoint to be handed to
// another loop. A transferred port keeps its identifier and any messages
// buffered on it, and is bound to the loop of the port that receives it.
//
// # Lifecycle
//
// Calling [Port.Close] on either port closes both. Messages buffered on the
// closing port are discarded, while its peer first delivers what it has
// already received. Both ports emit an [EventClose] event when their teardown
// completes. Operations on a closed or transferred port are no-ops.
//
// # Metrics
//
// Ports maintain a collection of metrics shared globally among all ports. Use
// the [Port.Metrics] method to obtain an [expvar.Map] containing them:
//
//   - messages_posted: counter of messages accepted by PostMessage
//   - messages_delivered: counter of messages dispatched to listeners
//   - messages_dropped: counter of messages discarded without delivery
//   - clone_errors: counter of PostMessage calls that reported an error
//   - transfers: counter of resources transferred with messages
//   - ports_open: gauge of ports not yet closed
//   - ports_started: gauge of ports currently delivering messages
//   - ports_closed: counter of ports that completed teardown
package msgport
