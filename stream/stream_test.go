// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package stream_test

import (
	"context"
	"errors"
	"iter"
	"testing"
	"time"

	"github.com/creachadair/msgport"
	"github.com/creachadair/msgport/loop"
	"github.com/creachadair/msgport/stream"
	"github.com/fortytw2/leaktest"
	"github.com/google/go-cmp/cmp"
)

// startLoop starts a loop that stays alive until stop is called.
func startLoop(t *testing.T) (_ *loop.Loop, stop func()) {
	t.Helper()
	lp := loop.New()
	lp.Ref()
	lp.Start(context.Background())
	return lp, func() {
		lp.Schedule(lp.Unref)
		if err := lp.Wait(); err != nil {
			t.Errorf("Loop: unexpected error: %v", err)
		}
	}
}

func values(vs ...any) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for _, v := range vs {
			if !yield(v, nil) {
				return
			}
		}
	}
}

func TestMessages(t *testing.T) {
	defer leaktest.Check(t)()
	lp, stop := startLoop(t)
	defer stop()
	a, b := msgport.NewChannel(lp)

	if n, err := stream.Post(a, values("a", "b", "c", "d")); err != nil || n != 4 {
		t.Fatalf("Post: got (%d, %v), want (4, nil)", n, err)
	}

	var got []any
	for v, err := range stream.Messages(context.Background(), b) {
		if err != nil {
			t.Fatalf("Messages: unexpected error: %v", err)
		}
		got = append(got, v)
		if len(got) == 4 {
			lp.Schedule(func() { a.Close(nil) })
		}
	}
	if diff := cmp.Diff(got, []any{"a", "b", "c", "d"}); diff != "" {
		t.Errorf("Messages (-got, +want):\n%s", diff)
	}
	if n := b.ListenerCount(msgport.EventMessage); n != 0 {
		t.Errorf("Listeners after stream: got %d, want 0", n)
	}
}

func TestMessagesContext(t *testing.T) {
	defer leaktest.Check(t)()
	lp, stop := startLoop(t)
	defer stop()
	a, b := msgport.NewChannel(lp)
	defer a.Close(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	var gotErr error
	for _, err := range stream.Messages(ctx, b) {
		if err != nil {
			gotErr = err
		}
	}
	if !errors.Is(gotErr, context.DeadlineExceeded) {
		t.Errorf("Messages: got error %v, want %v", gotErr, context.DeadlineExceeded)
	}
}

func TestMessagesEarlyExit(t *testing.T) {
	defer leaktest.Check(t)()
	lp, stop := startLoop(t)
	defer stop()
	a, b := msgport.NewChannel(lp)
	defer a.Close(nil)

	stream.Post(a, values(1, 2, 3))
	for v := range stream.Messages(context.Background(), b) {
		if v != 1 {
			t.Errorf("First message: got %v, want 1", v)
		}
		break
	}

	// With its last listener gone, the port stops and buffers the rest.
	if st := b.State(); st != msgport.Open {
		t.Errorf("State: got %v, want %v", st, msgport.Open)
	}
}

func TestMessagesClosed(t *testing.T) {
	defer leaktest.Check(t)()
	lp, stop := startLoop(t)
	defer stop()
	_, b := msgport.NewChannel(lp)

	done := make(chan struct{})
	b.Close(func() { close(done) })
	<-done
	for v, err := range stream.Messages(context.Background(), b) {
		t.Errorf("Messages on closed port: got (%v, %v)", v, err)
	}
}

func TestPostError(t *testing.T) {
	lp := loop.New()
	a, _ := msgport.NewChannel(lp)

	bad := errors.New("bad")
	seq := func(yield func(any, error) bool) {
		if yield("ok", nil) {
			yield(nil, bad)
		}
	}
	if n, err := stream.Post(a, seq); n != 1 || !errors.Is(err, bad) {
		t.Errorf("Post: got (%d, %v), want (1, %v)", n, err, bad)
	}
	if n, err := stream.Post(a, values("ok", func() {})); n != 1 || err == nil {
		t.Errorf("Post: got (%d, %v), want (1, clone error)", n, err)
	}
}
