// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package stream provides helpers for consuming the messages delivered to a
// port as an iterator, from a goroutine outside its event loop.
package stream

import (
	"context"
	"iter"
	"sync"

	"github.com/creachadair/mds/queue"
	"github.com/creachadair/msgport"
)

// Messages yields the data of each message delivered to p, in order. The
// stream ends when p closes, or when ctx is canceled.
//
// The returned iterator yields zero or more (v, nil) values. If ctx ends
// before p closes, the iterator ends the stream with a final (nil, err) tuple.
//
// The event loop that owns p must be running in another goroutine, since the
// messages are delivered by listeners that Messages registers on p for the
// duration of the iteration.
func Messages(ctx context.Context, p *msgport.Port) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		if p.State() == msgport.Closed {
			return
		}

		// Listeners run on the loop of p, but we're in an iterator func that
		// must yield on its own goroutine. Buffer values between them, so that
		// a slow consumer never blocks the loop.
		var μ sync.Mutex
		var buf queue.Queue[any]
		var closed bool
		ready := make(chan struct{}, 1)
		signal := func() {
			select {
			case ready <- struct{}{}:
			default:
			}
		}

		ml := p.On(msgport.EventMessage, func(v any) {
			μ.Lock()
			defer μ.Unlock()
			buf.Add(v)
			signal()
		})
		defer p.RemoveListener(ml)
		cl := p.On(msgport.EventClose, func(any) {
			μ.Lock()
			defer μ.Unlock()
			closed = true
			signal()
		})
		defer p.RemoveListener(cl)
		if p.State() == msgport.Closed {
			return // closed before the listeners were registered
		}

		for {
			μ.Lock()
			v, ok := buf.Pop()
			done := closed
			μ.Unlock()

			if ok {
				if !yield(v, nil) {
					return
				}
				continue
			} else if done {
				return
			}

			select {
			case <-ready:
			case <-ctx.Done():
				yield(nil, ctx.Err())
				return
			}
		}
	}
}

// Post posts each value yielded by seq on p, in order, and reports the number
// of values posted. It stops at the first error from seq or from p.
func Post(p *msgport.Port, seq iter.Seq2[any, error]) (int, error) {
	var n int
	for v, err := range seq {
		if err != nil {
			return n, err
		}
		if err := p.PostMessage(v, nil); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
