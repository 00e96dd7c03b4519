// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package msgport

import (
	"errors"
	"expvar"
	"slices"
	"sync"

	"github.com/creachadair/mds/queue"
	"github.com/creachadair/msgport/clone"
	"github.com/creachadair/taskgroup"
	"github.com/rs/xid"
)

// An EventLoop runs the tasks of a single execution context one at a time.
// Each port is owned by an event loop, which runs its message deliveries,
// close events and completion callbacks.
type EventLoop interface {
	// Schedule arranges for task to run on a future tick of the loop.  It must
	// be safe to call from any goroutine, and must not run task before it
	// returns.
	Schedule(task func())

	// Ref and Unref adjust the count of handles keeping the loop alive.
	Ref()
	Unref()
}

// Event names recognized by [Port.AddListener]. Other names are accepted, but
// listeners registered for them are never called.
const (
	EventMessage = "message" // a message was delivered; the listener receives its data
	EventClose   = "close"   // the port closed; the listener receives nil
)

// A Listener is a callback registered on a port. Listeners are compared by
// identity, so registering the same function twice yields two listeners that
// are each called once per event.
type Listener struct {
	event   string
	fn      func(any)
	onEvent func(*MessageEvent) // set only for the primary message handler
}

// Event reports the name of the event l was registered for.
func (l *Listener) Event() string { return l.event }

// NewChannel constructs a linked pair of ports both owned by loop. Messages
// posted on port1 are delivered to port2, and vice versa.
func NewChannel(loop EventLoop) (port1, port2 *Port) { return NewChannelBetween(loop, loop) }

// NewChannelBetween constructs a linked pair of ports, where port1 is owned by
// loop a and port2 is owned by loop b.
func NewChannelBetween(a, b EventLoop) (port1, port2 *Port) {
	if a == nil || b == nil {
		panic("msgport: nil event loop")
	}
	k := new(link)
	port1, port2 = newPort(k, 0, a), newPort(k, 1, b)
	k.ports = [2]*Port{port1, port2}
	return
}

func newPort(k *link, side int, loop EventLoop) *Port {
	rootMetrics.portsOpen.Add(1)
	return &Port{id: xid.New().String(), link: k, side: side, loop: loop, refs: true}
}

// A Port is one endpoint of a channel. Values posted on a port are cloned and
// delivered asynchronously, in order, to the listeners of its peer.
//
// A port is owned by the event loop it was created for: listeners, close
// events and completion callbacks run on that loop. The methods of a Port are
// safe for concurrent use, but callers should invoke them from the owning
// loop so that registration and delivery do not interleave unpredictably.
//
// Use AddListener (or On) to receive the data of each message, or SetOnMessage
// to install a primary handler that receives a [MessageEvent].  A port begins
// delivering when its first message listener is added, or when Start is
// called. Until then, incoming messages are buffered without limit.
type Port struct {
	id   string
	link *link
	side int // index of this port in link

	μ sync.Mutex

	loop      EventLoop             // the owning context; nil while in transit
	state     State                 // lifecycle state
	queue     queue.Queue[*Message] // messages awaiting delivery
	listeners []*Listener           // in registration order
	primary   *Listener             // the primary message handler, or nil
	scheduled bool                  // a delivery tick is pending on loop
	refs      bool                  // whether p may keep loop alive
	holding   bool                  // whether p holds a reference to loop
	detached  bool                  // p was transferred to another context
	peerGone  bool                  // the peer closed; close once the queue is delivered
	mlog      MessageLogger         // what it says on the tin
}

// ID returns the opaque identifier of p. A port transferred to another
// context keeps its identifier.
func (p *Port) ID() string { return p.id }

// String returns a human-friendly rendering of the port.
func (p *Port) String() string { return "Port(" + p.id + ")" }

// State reports the current lifecycle state of p. A detached port reports
// Closed.
func (p *Port) State() State {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.detached {
		return Closed
	}
	return p.state
}

// Detached reports whether p has been transferred to another context. All
// operations on a detached port are no-ops.
func (p *Port) Detached() bool {
	p.μ.Lock()
	defer p.μ.Unlock()
	return p.detached
}

// Metrics returns a metrics map for the port. By default, metrics are shared
// globally among all ports.
func (p *Port) Metrics() *expvar.Map { return rootMetrics.emap }

// LogMessages registers a callback that will be invoked for each message
// posted on p and each message delivered by p. Passing nil disables logging.
// The logger is invoked synchronously, before the message is enqueued or
// dispatched. LogMessages returns p to permit chaining.
func (p *Port) LogMessages(log MessageLogger) *Port {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.mlog = log
	return p
}

func (p *Port) logMessage(m *Message, sent bool) {
	p.μ.Lock()
	log := p.mlog
	p.μ.Unlock()
	if log != nil {
		log(MessageInfo{Message: m, Port: p, Sent: sent})
	}
}

// PostMessage clones value and delivers it to the peer of p.
//
// The transfer list may be nil, a slice or array of resources implementing
// [clone.Transferable], or a [clone.Options] value. The listed resources must
// be reachable from value; they are moved rather than copied, and the
// sender's handles to them are detached. Ports may be transferred, except p
// and its peer.
//
// PostMessage reports an error of concrete type *clone.Error if the transfer
// list is malformed or value cannot be cloned; in that case nothing is sent
// and nothing is detached. Otherwise delivery happens asynchronously on the
// peer's loop; if p or its peer is closed, the message is silently discarded.
func (p *Port) PostMessage(value, transferList any) error {
	list, err := clone.ValidateTransferList(transferList)
	if err != nil {
		rootMetrics.cloneErr.Add(1)
		return err
	}
	if p.inactive() {
		return nil
	}

	peer := p.link.peer(p.side)
	for _, x := range list {
		if q, ok := x.(*Port); ok && q != nil && (q == p || q == peer) {
			rootMetrics.cloneErr.Add(1)
			return clone.NewError(clone.InvalidTransfer, "transfer list contains the source or target port")
		}
	}
	r, err := clone.Clone(value, list)
	if err != nil {
		rootMetrics.cloneErr.Add(1)
		return err
	}

	m := newMessage(r)
	rootMetrics.posted.Add(1)
	rootMetrics.transfers.Add(int64(len(r.Transferred)))
	p.logMessage(m, true)
	if !p.link.deliver(1-p.side, m) {
		m.discard()
	}
	return nil
}

func (p *Port) inactive() bool {
	p.μ.Lock()
	defer p.μ.Unlock()
	return p.detached || p.state >= Closing
}

// On is a synonym for AddListener.
func (p *Port) On(event string, fn func(data any)) *Listener { return p.AddListener(event, fn) }

// AddListener registers fn to be called for each occurrence of event on p,
// and returns a handle that can be passed to RemoveListener. Listeners are
// called in registration order. For EventMessage the argument is the cloned
// payload; for EventClose it is nil.
//
// Adding the first message listener starts the port, delivering any buffered
// messages on a later tick.
func (p *Port) AddListener(event string, fn func(data any)) *Listener {
	if fn == nil {
		panic("msgport: nil listener")
	}
	l := &Listener{event: event, fn: fn}
	p.μ.Lock()
	defer p.μ.Unlock()
	p.addLocked(l)
	return l
}

// addLocked adds l to the registry. Listeners added after close are dropped,
// except close listeners added while teardown is pending.
func (p *Port) addLocked(l *Listener) {
	if p.detached || p.state == Closed || (p.state == Closing && l.event != EventClose) {
		return
	}
	p.listeners = append(p.listeners, l)
	if l.event == EventMessage && p.state == Open {
		p.startLocked()
	}
}

// RemoveListener removes l from p. It is a no-op if l is not registered.
// Removing the last message listener stops the port, so that messages arriving
// afterward are buffered until a listener is added again.
func (p *Port) RemoveListener(l *Listener) {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.dropLocked(l) {
		p.maybeStopLocked()
	}
}

// dropLocked removes l from the registry and reports whether it was present.
func (p *Port) dropLocked(l *Listener) bool {
	i := slices.Index(p.listeners, l)
	if i < 0 {
		return false
	}
	p.listeners = slices.Delete(p.listeners, i, i+1)
	if l == p.primary {
		p.primary = nil
	}
	return l.event == EventMessage
}

func (p *Port) maybeStopLocked() {
	if p.state == Started && p.countLocked(EventMessage) == 0 {
		p.stopLocked()
	}
}

// SetOnMessage installs fn as the primary message handler of p, replacing any
// previous primary handler. Passing nil removes the primary handler.
//
// The primary handler is an ordinary message listener that receives a
// *MessageEvent rather than the bare payload. It is independent of listeners
// added with AddListener: no de-duplication is performed between them.
func (p *Port) SetOnMessage(fn func(*MessageEvent)) {
	p.μ.Lock()
	defer p.μ.Unlock()
	var removed bool
	if p.primary != nil {
		removed = p.dropLocked(p.primary)
	}
	if fn != nil {
		l := &Listener{event: EventMessage, onEvent: fn}
		p.primary = l
		p.addLocked(l)
	}
	if removed {
		p.maybeStopLocked()
	}
}

// ListenerCount reports the number of listeners registered for event on p,
// including the primary handler for EventMessage.
func (p *Port) ListenerCount(event string) int {
	p.μ.Lock()
	defer p.μ.Unlock()
	return p.countLocked(event)
}

func (p *Port) countLocked(event string) (n int) {
	for _, l := range p.listeners {
		if l.event == event {
			n++
		}
	}
	return n
}

// Start starts delivery of messages on p, even if it has no listeners.
// Messages delivered while p has no message listeners are discarded.
// Start is a no-op if p is already started or closed.
func (p *Port) Start() {
	p.μ.Lock()
	defer p.μ.Unlock()
	if !p.detached && p.state == Open {
		p.startLocked()
	}
}

func (p *Port) startLocked() {
	p.state = Started
	rootMetrics.portsStarted.Add(1)
	p.updateRefLocked()
	p.scheduleLocked()
}

func (p *Port) stopLocked() {
	p.state = Open
	rootMetrics.portsStarted.Add(-1)
	p.updateRefLocked()
}

// Ref allows p to keep its event loop alive while it is started. This is the
// default for a new port.
func (p *Port) Ref() {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.refs = true
	p.updateRefLocked()
}

// Unref prevents p from keeping its event loop alive.
func (p *Port) Unref() {
	p.μ.Lock()
	defer p.μ.Unlock()
	p.refs = false
	p.updateRefLocked()
}

// HasRef reports whether p is currently keeping its event loop alive.
func (p *Port) HasRef() bool {
	p.μ.Lock()
	defer p.μ.Unlock()
	return p.holding
}

// updateRefLocked acquires or releases the reference p holds on its loop.
// A port holds a reference while it is started, referenced, and attached.
func (p *Port) updateRefLocked() {
	want := p.refs && p.state == Started && !p.detached && p.loop != nil
	if want == p.holding {
		return
	}
	p.holding = want
	if want {
		p.loop.Ref()
	} else {
		p.loop.Unref()
	}
}

// Close closes p and notifies its peer, which closes in turn once it has
// delivered the messages it already received. Messages buffered on p are
// discarded, and its message listeners are removed.
//
// If done != nil, it is called on the loop of p after teardown completes,
// never before Close returns. Close is idempotent: calling it on a port that
// is already closing or closed has no effect except to call done.
func (p *Port) Close(done func()) {
	k := p.link
	k.μ.Lock()
	p.μ.Lock()
	loop := p.loop
	if p.detached || p.state >= Closing {
		p.μ.Unlock()
		k.μ.Unlock()
		runLater(loop, done)
		return
	}

	if p.state == Started {
		rootMetrics.portsStarted.Add(-1)
	}
	p.state = Closing
	p.updateRefLocked()
	var dropped []*Message
	for m, ok := p.queue.Pop(); ok; m, ok = p.queue.Pop() {
		dropped = append(dropped, m)
	}
	p.listeners = slices.DeleteFunc(p.listeners, func(l *Listener) bool {
		return l.event != EventClose
	})
	p.primary = nil
	p.μ.Unlock()

	k.ports[p.side] = nil
	if peer := k.ports[1-p.side]; peer != nil {
		peer.peerClosed()
	}
	k.μ.Unlock()

	for _, m := range dropped {
		m.discard()
	}
	runLater(loop, func() { p.finishClose(done) })
}

// finishClose completes the teardown of p and emits its close event.
func (p *Port) finishClose(done func()) {
	p.μ.Lock()
	p.state = Closed
	ls := p.listeners
	p.listeners = nil
	p.μ.Unlock()

	rootMetrics.portsOpen.Add(-1)
	rootMetrics.portsClosed.Add(1)
	for _, l := range ls {
		if l.event == EventClose {
			l.fn(nil)
		}
	}
	if done != nil {
		done()
	}
}

// peerClosed records that the peer of p has closed.
// The caller must hold the link lock.
func (p *Port) peerClosed() {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.detached || p.state >= Closing || p.peerGone {
		return
	}
	p.peerGone = true
	if p.loop != nil {
		p.loop.Schedule(p.closeFromPeer)
	} // otherwise, bind will schedule it
}

// closeFromPeer delivers what remains in the queue of a started port, and
// then closes it.
func (p *Port) closeFromPeer() {
	for {
		m, ls, loop, ok := p.next()
		if !ok {
			break
		}
		p.dispatch(m, ls, loop)
	}
	p.Close(nil)
}

// runLater runs task on a later tick of loop, or on a separate goroutine if
// loop == nil.
func runLater(loop EventLoop, task func()) {
	if task == nil {
		return
	} else if loop != nil {
		loop.Schedule(task)
		return
	}
	taskgroup.Go(func() error { task(); return nil })
}

var (
	errPortDetached = errors.New("port is detached")
	errPortClosed   = errors.New("port is closed")
)

// PrepareTransfer implements the [clone.Transferable] interface.  The new
// handle takes over the messages buffered on p, but not its listeners; it is
// bound to the loop of the port that receives it.
func (p *Port) PrepareTransfer() (clone.Transferable, func(), error) {
	if p == nil {
		return nil, nil, errPortClosed
	}
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.detached {
		return nil, nil, errPortDetached
	} else if p.state >= Closing {
		return nil, nil, errPortClosed
	}
	np := &Port{id: p.id, link: p.link, side: p.side, refs: true}
	return np, func() { p.handOff(np) }, nil
}

// handOff detaches p and installs np as the handle for its side of the link.
func (p *Port) handOff(np *Port) {
	k := p.link
	k.μ.Lock()
	defer k.μ.Unlock()
	p.μ.Lock()
	defer p.μ.Unlock()

	if p.state == Started {
		rootMetrics.portsStarted.Add(-1)
	}
	p.detached = true
	p.updateRefLocked()
	for m, ok := p.queue.Pop(); ok; m, ok = p.queue.Pop() {
		np.queue.Add(m)
	}
	p.listeners, p.primary = nil, nil

	np.peerGone = p.peerGone
	if k.ports[p.side] == p {
		k.ports[p.side] = np
	} else {
		np.state = Closed
	}
}

// bind attaches a port received in transit to the loop of its new owner.
func (p *Port) bind(loop EventLoop) {
	p.μ.Lock()
	defer p.μ.Unlock()
	if p.detached || p.loop != nil {
		return
	}
	p.loop = loop
	if p.peerGone && p.state < Closing {
		loop.Schedule(p.closeFromPeer)
	}
	p.updateRefLocked()
	p.scheduleLocked()
}
