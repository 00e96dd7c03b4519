// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package msgport

// enqueue adds m to the queue of p and requests a delivery tick if p is
// started. It reports false if p no longer accepts messages.
func (p *Port) enqueue(m *Message) bool {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.detached || p.state >= Closing {
		return false
	}
	p.queue.Add(m)
	p.scheduleLocked()
	return true
}

// scheduleLocked requests a delivery tick on the loop of p, if p is started,
// has messages to deliver, and does not already have a tick pending.
func (p *Port) scheduleLocked() {
	if p.scheduled || p.loop == nil || p.state != Started || p.queue.Len() == 0 {
		return
	}
	p.scheduled = true
	p.loop.Schedule(p.deliver)
}

// deliver runs a delivery tick. A tick dispatches at most as many messages as
// were queued when it began; messages that arrive during the tick, or remain
// because a listener stopped the port, wait for a later tick.
func (p *Port) deliver() {
	p.μ.Lock()
	p.scheduled = false
	n := p.queue.Len()
	p.μ.Unlock()

	defer func() {
		p.μ.Lock()
		defer p.μ.Unlock()
		p.scheduleLocked()
	}()
	for range n {
		m, ls, loop, ok := p.next()
		if !ok {
			return
		}
		p.dispatch(m, ls, loop)
	}
}

// next removes the next message from the queue of p, along with a snapshot of
// the message listeners to receive it. It reports false if p is not started
// or has no messages.
func (p *Port) next() (*Message, []*Listener, EventLoop, bool) {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.detached || p.state != Started {
		return nil, nil, nil, false
	}
	m, ok := p.queue.Pop()
	if !ok {
		return nil, nil, nil, false
	}
	var ls []*Listener
	for _, l := range p.listeners {
		if l.event == EventMessage {
			ls = append(ls, l)
		}
	}
	return m, ls, p.loop, true
}

// dispatch calls each of ls with the contents of m. Ports carried by m are
// bound to loop before any listener runs.
func (p *Port) dispatch(m *Message, ls []*Listener, loop EventLoop) {
	if len(ls) == 0 {
		m.discard()
		return
	}
	for _, q := range m.Ports {
		q.bind(loop)
	}
	rootMetrics.delivered.Add(1)
	p.logMessage(m, false)

	for _, l := range ls {
		if l.onEvent != nil {
			l.onEvent(&MessageEvent{Data: m.Data, Target: p, Ports: m.Ports})
		} else {
			l.fn(m.Data)
		}
	}
}
