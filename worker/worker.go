// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package worker runs code on a separate event loop, connected to its parent
// by a message channel.
package worker

import (
	"context"

	"github.com/creachadair/msgport"
	"github.com/creachadair/msgport/loop"
	"github.com/creachadair/taskgroup"
)

// A Worker is a running event loop with a channel to its parent.
type Worker struct {
	// Port is the parent's end of the channel. It is owned by the parent loop.
	Port *msgport.Port

	loop *loop.Loop
}

// Spawn starts a new event loop in a goroutine and calls main on that loop
// with the worker's end of a channel whose other end is owned by parent.
//
// The worker runs until its loop has no more work: typically, main registers
// a listener on its port, and the worker exits once that port is closed from
// either side. The worker also exits when ctx ends.
func Spawn(ctx context.Context, parent msgport.EventLoop, main func(*msgport.Port)) *Worker {
	wl := loop.New()
	pp, wp := msgport.NewChannelBetween(parent, wl)
	wl.Schedule(func() { main(wp) })
	wl.Start(ctx)
	return &Worker{Port: pp, loop: wl}
}

// Wait blocks until the worker has exited, and reports the error from its
// loop, if any.
func (w *Worker) Wait() error { return w.loop.Wait() }

// Terminate closes the parent's end of the channel and waits for the worker
// to exit. The worker's port delivers the messages it already received before
// it closes.
func (w *Worker) Terminate() error {
	w.Port.Close(nil)
	return w.Wait()
}

// WaitAll waits for all the given workers to exit, and reports the first
// error reported by any of them.
func WaitAll(ws ...*Worker) error {
	g := taskgroup.New(nil)
	for _, w := range ws {
		g.Go(w.Wait)
	}
	return g.Wait()
}
