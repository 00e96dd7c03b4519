// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package handler provides adapters from typed functions to message port
// listeners.
//
// A parameter of type P is obtained from the message data by type assertion.
// As a special case, if the data is a []byte, a string, or a *msgport.Buffer,
// and a *P implements encoding.BinaryUnmarshaler or encoding.TextUnmarshaler,
// the parameter is decoded from the contents of the data.  A nil message
// yields the zero value of P.
//
// Adapters that produce a result post it back on the port that received the
// message, so that it is delivered to the sender.
package handler

import (
	"encoding"
	"fmt"

	"github.com/creachadair/msgport"
)

// ErrorReply is the value posted in reply to a message whose handler reported
// an error (see [ParamResultError]).
type ErrorReply struct {
	Message string
}

// Error satisfies the error interface.
func (e ErrorReply) Error() string { return e.Message }

// Param adapts a function f that accepts parameters of type P to a message
// listener for [msgport.Port.AddListener]. The listener panics if the message
// data cannot be converted to P; the panic is reported by the event loop.
func Param[P any](f func(P)) func(any) {
	return func(data any) {
		var p P
		if err := unmarshal(data, &p); err != nil {
			panic(err)
		}
		f(p)
	}
}

// Filter adapts a function f that accepts parameters of type P to a message
// listener for [msgport.Port.AddListener]. Unlike [Param], the listener
// silently ignores messages that cannot be converted to P.
func Filter[P any](f func(P)) func(any) {
	return func(data any) {
		var p P
		if unmarshal(data, &p) == nil {
			f(p)
		}
	}
}

// Event adapts a function f that accepts parameters of type P and the message
// event to a primary handler for [msgport.Port.SetOnMessage]. The handler
// panics if the message data cannot be converted to P.
func Event[P any](f func(P, *msgport.MessageEvent)) func(*msgport.MessageEvent) {
	return func(e *msgport.MessageEvent) {
		var p P
		if err := unmarshal(e.Data, &p); err != nil {
			panic(err)
		}
		f(p, e)
	}
}

// ParamResult adapts a function f that accepts parameters of type P and
// returns a result of type R, to a primary handler that posts the result back
// to the sender.
func ParamResult[P, R any](f func(P) R) func(*msgport.MessageEvent) {
	return Event(func(p P, e *msgport.MessageEvent) { reply(e.Target, f(p)) })
}

// ParamResultError adapts a function f that accepts parameters of type P and
// returns a result of type R and an error, to a primary handler that posts
// the result back to the sender. If f reports an error, the handler posts an
// [ErrorReply] carrying its text instead.
func ParamResultError[P, R any](f func(P) (R, error)) func(*msgport.MessageEvent) {
	return Event(func(p P, e *msgport.MessageEvent) {
		r, err := f(p)
		if err != nil {
			reply(e.Target, ErrorReply{Message: err.Error()})
			return
		}
		reply(e.Target, r)
	})
}

func reply(port *msgport.Port, v any) {
	if err := port.PostMessage(v, nil); err != nil {
		panic(fmt.Errorf("post reply: %w", err))
	}
}

// unmarshal converts data into v, which must be a pointer. The concrete type
// of data must be assignable to *v, or data must be a []byte, string, or
// *msgport.Buffer and v must implement either the encoding.BinaryUnmarshaler
// or the encoding.TextUnmarshaler interface.  If v implements both,
// BinaryUnmarshaler is preferred.
func unmarshal[T any](data any, v *T) error {
	if data == nil {
		return nil // leave *v zero
	}
	if t, ok := data.(T); ok {
		*v = t
		return nil
	}

	var raw []byte
	switch t := data.(type) {
	case []byte:
		raw = t
	case string:
		raw = []byte(t)
	case *msgport.Buffer:
		raw = t.Bytes()
	default:
		return fmt.Errorf("cannot convert %T to %T", data, *v)
	}
	switch u := any(v).(type) {
	case encoding.BinaryUnmarshaler:
		return u.UnmarshalBinary(raw)
	case encoding.TextUnmarshaler:
		return u.UnmarshalText(raw)
	default:
		return fmt.Errorf("cannot unmarshal %T into %T", data, *v)
	}
}
