// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package msgport

import (
	"bytes"
	"errors"

	"github.com/creachadair/msgport/clone"
)

var errDetached = errors.New("buffer is detached")

// A Buffer is a byte buffer whose contents can be transferred between
// contexts without copying.
//
// A Buffer reachable from a posted value is copied like any other value unless
// it is named in the transfer list. A transferred buffer is detached: its
// length becomes zero and the receiver holds the only handle to its contents.
// The caller must not retain slices of a buffer's contents across a transfer.
type Buffer struct {
	data     []byte
	detached bool
}

// NewBuffer returns a buffer that takes ownership of data.
func NewBuffer(data []byte) *Buffer { return &Buffer{data: data} }

// Bytes returns the contents of b, or nil if b is detached.
func (b *Buffer) Bytes() []byte { return b.data }

// Len reports the length of b in bytes. A detached buffer has length 0.
func (b *Buffer) Len() int { return len(b.data) }

// Detached reports whether the contents of b have been transferred away.
func (b *Buffer) Detached() bool { return b.detached }

// PrepareTransfer implements the [clone.Transferable] interface.
func (b *Buffer) PrepareTransfer() (clone.Transferable, func(), error) {
	if b.detached {
		return nil, nil, errDetached
	}
	return &Buffer{data: b.data}, func() { b.data, b.detached = nil, true }, nil
}

// CopyValue implements the [clone.Copier] interface.
func (b *Buffer) CopyValue() (any, error) {
	if b.detached {
		return nil, errDetached
	}
	return &Buffer{data: bytes.Clone(b.data)}, nil
}
