// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package loop implements a single-threaded event loop for message ports.
//
// A [Loop] runs scheduled tasks one at a time, in the order they were
// scheduled, on the goroutine that calls [Loop.Run]. The loop stays alive
// while it has pending tasks or outstanding references; ports that are
// delivering messages hold a reference, so a loop with an active listener
// keeps running until the port is closed or unreferenced.
package loop

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/creachadair/mds/queue"
	"github.com/creachadair/taskgroup"
)

// A Loop is an event loop. A zero Loop is ready for use, but callers should
// use New to construct one.  It implements the msgport.EventLoop interface.
type Loop struct {
	μ       sync.Mutex
	tasks   queue.Queue[func()]
	refs    int
	running bool
	wake    chan struct{}
	group   *taskgroup.Group
	cancel  context.CancelFunc
}

// New constructs a new, idle loop.
func New() *Loop { return &Loop{wake: make(chan struct{}, 1)} }

// Schedule adds task to the end of the queue of l. Schedule does not run task,
// even when called from within a task on l. A nil task is ignored.
func (l *Loop) Schedule(task func()) {
	if task == nil {
		return
	}
	l.μ.Lock()
	defer l.μ.Unlock()
	l.tasks.Add(task)
	l.signalLocked()
}

// Ref adds a reference that keeps l running while it is otherwise idle.
func (l *Loop) Ref() {
	l.μ.Lock()
	defer l.μ.Unlock()
	l.refs++
}

// Unref releases a reference added by Ref. It panics if l has no references.
func (l *Loop) Unref() {
	l.μ.Lock()
	defer l.μ.Unlock()
	if l.refs == 0 {
		panic("loop: unbalanced Unref")
	}
	l.refs--
	if l.refs == 0 {
		l.signalLocked()
	}
}

// Refs reports the number of references currently held on l.
func (l *Loop) Refs() int {
	l.μ.Lock()
	defer l.μ.Unlock()
	return l.refs
}

// Pending reports the number of tasks waiting to run on l.
func (l *Loop) Pending() int {
	l.μ.Lock()
	defer l.μ.Unlock()
	return l.tasks.Len()
}

func (l *Loop) signalLocked() {
	if l.wake == nil {
		l.wake = make(chan struct{}, 1)
	}
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run runs tasks on l until it has neither pending tasks nor references, or
// until ctx ends. It reports nil when the loop drains, the error from ctx if
// it ended first, or an error if a task panicked. Tasks still pending when Run
// returns with an error remain queued, and a later call to Run will run them.
//
// Run panics if l is already running.
func (l *Loop) Run(ctx context.Context) error {
	l.μ.Lock()
	if l.running {
		l.μ.Unlock()
		panic("loop: already running")
	}
	l.running = true
	if l.wake == nil {
		l.wake = make(chan struct{}, 1)
	}
	wake := l.wake
	l.μ.Unlock()
	defer func() {
		l.μ.Lock()
		defer l.μ.Unlock()
		l.running = false
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		task, idle := l.next()
		if task != nil {
			if err := runTask(task); err != nil {
				return err
			}
			continue
		} else if idle {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-wake:
		}
	}
}

// next returns the next task to run, or reports whether l is idle with no
// references to keep it alive.
func (l *Loop) next() (func(), bool) {
	l.μ.Lock()
	defer l.μ.Unlock()
	if task, ok := l.tasks.Pop(); ok {
		return task, false
	}
	return nil, l.refs == 0
}

func runTask(task func()) (err error) {
	defer func() {
		if x := recover(); x != nil {
			err = fmt.Errorf("task panicked (recovered): %v", x)
		}
	}()
	task()
	return nil
}

// Start runs l in a goroutine, and returns l to permit chaining.
// Call Wait to wait for it to exit.
func (l *Loop) Start(ctx context.Context) *Loop {
	l.μ.Lock()
	defer l.μ.Unlock()
	if l.group != nil {
		panic("loop: already started")
	}
	ctx, l.cancel = context.WithCancel(ctx)
	l.group = taskgroup.New(nil)
	l.group.Go(func() error { return l.Run(ctx) })
	return l
}

// Stop stops a loop started by Start, without running its pending tasks,
// and waits for it to exit. It reports nil if the loop exited because of the
// stop, otherwise the error from Wait.
func (l *Loop) Stop() error {
	l.μ.Lock()
	cancel := l.cancel
	l.μ.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	if err := l.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Wait blocks until a loop started by Start has exited, and reports the error
// from its Run. It returns nil immediately if l was not started.
func (l *Loop) Wait() error {
	l.μ.Lock()
	g := l.group
	l.μ.Unlock()
	if g == nil {
		return nil
	}
	err := g.Wait()
	l.μ.Lock()
	defer l.μ.Unlock()
	if l.group == g {
		l.group = nil
		l.cancel()
		l.cancel = nil
	}
	return err
}
