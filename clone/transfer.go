// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

package clone

import "reflect"

// Options is a transfer set given as an options value rather than as a list.
// A zero Options is an empty transfer set.
type Options struct {
	Transfer []any // the resources to transfer
}

// errNotSequence is the message reported for a malformed transfer list.
const errNotSequence = "Optional transferList argument must be an array"

// ValidateTransferList checks whether x is acceptable as a transfer list, and
// if so returns its elements in order.
//
// The value nil is accepted as an empty list. Otherwise x must be a slice or
// an array of any element type, or an [Options] value or pointer. Any other
// value is rejected with an *Error of kind [InvalidArgument]. The elements
// themselves are not checked; that happens when they are used by [Clone].
func ValidateTransferList(x any) ([]any, error) {
	switch t := x.(type) {
	case nil:
		return nil, nil
	case []any:
		return t, nil
	case Options:
		return t.Transfer, nil
	case *Options:
		if t == nil {
			return nil, nil
		}
		return t.Transfer, nil
	}

	v := reflect.ValueOf(x)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		out := make([]any, v.Len())
		for i := range out {
			out[i] = v.Index(i).Interface()
		}
		return out, nil
	}
	return nil, NewError(InvalidArgument, errNotSequence)
}
