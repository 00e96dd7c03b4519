package main

import (
	"context"
	"testing"
	"time"

	"github.com/creachadair/msgport"
	"github.com/creachadair/msgport/loop"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestReply(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	log := zap.New(core)

	lp := loop.New()
	port1, port2 := msgport.NewChannel(lp)
	var got []any
	port2.On(msgport.EventMessage, func(v any) { got = append(got, v) })

	reply(log, port1, 9, nil)
	if port1.State() == msgport.Closed || logs.Len() != 0 {
		t.Fatalf("Successful reply: state %v, %d log entries", port1.State(), logs.Len())
	}

	// A failed reply is logged and closes the port.
	reply(log, port1, func() {}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := lp.Run(ctx); err != nil {
		t.Fatalf("Run: unexpected error: %v", err)
	}

	if diff := cmp.Diff(got, []any{9}); diff != "" {
		t.Errorf("Received (-got, +want):\n%s", diff)
	}
	if n := logs.FilterMessage("reply failed").Len(); n != 1 {
		t.Errorf("Logged failures: got %d, want 1", n)
	}
	if st := port1.State(); st != msgport.Closed {
		t.Errorf("State after failed reply: got %v, want %v", st, msgport.Closed)
	}
}
