// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package clone

import "fmt"

// Kind classifies the errors reported by this package.
type Kind byte

const (
	InvalidArgument Kind = 1 // The transfer list is not a sequence
	InvalidTransfer Kind = 2 // A transfer list entry cannot be transferred
	NotCloneable    Kind = 3 // The value contains something that cannot be cloned
)

func (k Kind) String() string {
	switch k {
	case InvalidArgument:
		return "InvalidArgument"
	case InvalidTransfer:
		return "InvalidTransfer"
	case NotCloneable:
		return "NotCloneable"
	default:
		return fmt.Sprintf("kind %d", byte(k))
	}
}

// code returns the stable machine-readable code for k.
func (k Kind) code() string {
	switch k {
	case InvalidArgument:
		return "ERR_INVALID_ARG_TYPE"
	case InvalidTransfer:
		return "ERR_INVALID_TRANSFER_OBJECT"
	case NotCloneable:
		return "ERR_DATA_CLONE"
	default:
		return "ERR_UNKNOWN"
	}
}

// Error is the concrete type of errors reported by this package.
type Error struct {
	Kind    Kind   // the classification of the error
	Code    string // a stable machine-readable code for Kind
	Message string // a human-readable description
}

// NewError constructs an *Error of the given kind with a formatted message.
func NewError(kind Kind, msg string, args ...any) *Error {
	if len(args) != 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	return &Error{Kind: kind, Code: kind.code(), Message: msg}
}

// Error satisfies the error interface.
func (e *Error) Error() string { return e.Message }

// Is reports whether target is an *Error with the same kind as e.  This allows
// a caller to write errors.Is(err, &clone.Error{Kind: clone.NotCloneable}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}
