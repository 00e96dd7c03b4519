// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package msgport

import "sync"

// A link is the table shared by the two ports of a channel. Ports refer to
// their peer only through the link, so that a port can be closed or handed to
// another context without either side owning the other.
//
// Lock order: the link lock is acquired before the lock of either port.
type link struct {
	μ     sync.Mutex
	ports [2]*Port // the current handle for each side, or nil once closed
}

// deliver enqueues m on the port at the given side. It reports false if that
// side is closed and the message was not accepted.
func (k *link) deliver(side int, m *Message) bool {
	k.μ.Lock()
	defer k.μ.Unlock()
	if p := k.ports[side]; p != nil {
		return p.enqueue(m)
	}
	return false
}

// peer returns the current handle on the opposite side from side, or nil.
func (k *link) peer(side int) *Port {
	k.μ.Lock()
	defer k.μ.Unlock()
	return k.ports[1-side]
}
