// Copyright (C) 2026 Michael J. Fromberger. All Rights Reserved.

// Package clone implements structured cloning of Go values.
//
// A clone is a deep copy of a value graph that shares no mutable memory with
// the original. Pointers, maps and slices referenced more than once in the
// source are referenced the same number of times in the clone, so shared and
// cyclic structure is preserved:
//
//	type node struct{ Next *node }
//	n := &node{}
//	n.Next = n
//	r, err := clone.Clone(n, nil)  // r.Value.(*node).Next == r.Value
//
// # Transfer
//
// Instead of being copied, a resource that implements [Transferable] may be
// moved into the clone by naming it in the transfer list. After a successful
// clone, the original handle to a transferred resource is detached and the
// clone holds the only live handle:
//
//	buf := msgport.NewBuffer(data)
//	r, err := clone.Clone(map[string]any{"buf": buf}, []any{buf})
//	// buf.Detached() == true
//
// Values that cannot be cloned (functions, channels, unsafe pointers, and
// transferables that are not listed) cause Clone to fail without side effects.
// Errors reported by this package have concrete type [*Error].
package clone

import (
	"reflect"
	"time"
	"unsafe"

	"github.com/creachadair/mds/mapset"
)

// A Transferable is a resource whose ownership can move from one value graph
// to another instead of being copied.
type Transferable interface {
	// PrepareTransfer returns a new handle for the resource, having the same
	// concrete type as the receiver, and a commit function that detaches the
	// receiver. PrepareTransfer must not modify the receiver; the commit is
	// called only if the enclosing clone succeeds. If the resource cannot be
	// transferred, PrepareTransfer reports an error.
	PrepareTransfer() (Transferable, func(), error)
}

// A Copier is a value that provides its own rule for being cloned.
type Copier interface {
	// CopyValue returns a copy of the receiver, having the same type.
	CopyValue() (any, error)
}

// Result is the product of a successful [Clone].
type Result struct {
	Value any // the cloned value

	// Transferred holds the new handles of the transferred resources, in the
	// order they appeared in the transfer list.
	Transferred []Transferable
}

// Clone returns a structured clone of value. The transfer list names
// resources reachable from value whose ownership should move into the clone.
// Each element must implement [Transferable]; use [ValidateTransferList] to
// obtain a transfer list from an unchecked argument.
//
// On failure, Clone reports an *Error and no resource is detached.
func Clone(value any, transfer []any) (*Result, error) {
	c, err := newCloner(transfer)
	if err != nil {
		return nil, err
	}
	out, err := c.root(value)
	if err != nil {
		return nil, err
	}
	for _, t := range c.order {
		if !c.reached.Has(t) {
			return nil, NewError(InvalidTransfer, "transfer list entry %T is not reachable from the value", t)
		}
	}

	// Reaching this point, the clone is complete; commit the transfers.
	res := &Result{Value: out}
	for i, t := range c.order {
		c.commits[i]()
		res.Transferred = append(res.Transferred, c.moved[t])
	}
	return res, nil
}

// visitKey identifies a reference-typed source value. The length
// distinguishes slices sharing a backing array.
type visitKey struct {
	typ reflect.Type
	ptr unsafe.Pointer
	n   int
}

type cloner struct {
	order   []Transferable                // transfer list, in order
	moved   map[Transferable]Transferable // original → new handle
	commits []func()                      // parallel to order
	reached mapset.Set[Transferable]      // transfer entries found in the graph
	seen    map[visitKey]reflect.Value    // source identity → clone
}

func newCloner(transfer []any) (*cloner, error) {
	c := &cloner{
		moved:   make(map[Transferable]Transferable),
		reached: mapset.New[Transferable](),
		seen:    make(map[visitKey]reflect.Value),
	}
	for i, x := range transfer {
		t, ok := x.(Transferable)
		if !ok || t == nil {
			return nil, NewError(InvalidTransfer, "transfer list entry %d (%T) is not transferable", i, x)
		} else if !reflect.ValueOf(t).Comparable() {
			return nil, NewError(InvalidTransfer, "transfer list entry %d (%T) is not comparable", i, x)
		} else if _, dup := c.moved[t]; dup {
			return nil, NewError(InvalidTransfer, "transfer list contains duplicate entry %T", x)
		}
		nt, commit, err := t.PrepareTransfer()
		if err != nil {
			return nil, NewError(InvalidTransfer, "cannot transfer %T: %v", x, err)
		} else if reflect.TypeOf(nt) != reflect.TypeOf(t) {
			return nil, NewError(InvalidTransfer, "transfer of %T produced %T", t, nt)
		}
		c.order = append(c.order, t)
		c.moved[t] = nt
		c.commits = append(c.commits, commit)
	}
	return c, nil
}

func (c *cloner) root(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	out, err := c.copy(reflect.ValueOf(v))
	if err != nil {
		return nil, err
	}
	return out.Interface(), nil
}

var timeType = reflect.TypeFor[time.Time]()

// copy returns a deep copy of src having the same type.
// The caller must ensure src is not a read-only value.
func (c *cloner) copy(src reflect.Value) (reflect.Value, error) {
	if out, ok, err := c.special(src); ok || err != nil {
		return out, err
	}

	t := src.Type()
	switch src.Kind() {
	case reflect.Bool, reflect.String, reflect.Uintptr,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return src, nil

	case reflect.Interface:
		if src.IsNil() {
			return reflect.Zero(t), nil
		}
		elem, err := c.copy(src.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out := reflect.New(t).Elem()
		out.Set(elem)
		return out, nil

	case reflect.Pointer:
		if src.IsNil() {
			return reflect.Zero(t), nil
		}
		key := visitKey{typ: t, ptr: src.UnsafePointer()}
		if out, ok := c.seen[key]; ok {
			return out, nil
		}
		out := reflect.New(t.Elem())
		c.seen[key] = out
		elem, err := c.copy(src.Elem())
		if err != nil {
			return reflect.Value{}, err
		}
		out.Elem().Set(elem)
		return out, nil

	case reflect.Map:
		if src.IsNil() {
			return reflect.Zero(t), nil
		}
		key := visitKey{typ: t, ptr: src.UnsafePointer()}
		if out, ok := c.seen[key]; ok {
			return out, nil
		}
		out := reflect.MakeMapWithSize(t, src.Len())
		c.seen[key] = out
		for it := src.MapRange(); it.Next(); {
			k, err := c.copy(it.Key())
			if err != nil {
				return reflect.Value{}, err
			}
			v, err := c.copy(it.Value())
			if err != nil {
				return reflect.Value{}, err
			}
			out.SetMapIndex(k, v)
		}
		return out, nil

	case reflect.Slice:
		if src.IsNil() {
			return reflect.Zero(t), nil
		}
		key := visitKey{typ: t, ptr: src.UnsafePointer(), n: src.Len()}
		if out, ok := c.seen[key]; ok {
			return out, nil
		}
		out := reflect.MakeSlice(t, src.Len(), src.Len())
		c.seen[key] = out
		if err := c.copyElems(out, src); err != nil {
			return reflect.Value{}, err
		}
		return out, nil

	case reflect.Array:
		out := reflect.New(t).Elem()
		if err := c.copyElems(out, src); err != nil {
			return reflect.Value{}, err
		}
		return out, nil

	case reflect.Struct:
		if t == timeType {
			return src, nil
		}
		if !src.CanAddr() {
			tmp := reflect.New(t).Elem()
			tmp.Set(src)
			src = tmp
		}
		out := reflect.New(t).Elem()
		for i := range t.NumField() {
			v, err := c.copy(field(src, i))
			if err != nil {
				return reflect.Value{}, err
			}
			field(out, i).Set(v)
		}
		return out, nil

	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		if src.IsNil() {
			return reflect.Zero(t), nil
		}
	}
	return reflect.Value{}, NewError(NotCloneable, "value of type %v could not be cloned", t)
}

func (c *cloner) copyElems(dst, src reflect.Value) error {
	for i := range src.Len() {
		v, err := c.copy(src.Index(i))
		if err != nil {
			return err
		}
		dst.Index(i).Set(v)
	}
	return nil
}

// special handles values whose types implement Transferable or Copier.
// It reports false if src should be copied according to its kind.
func (c *cloner) special(src reflect.Value) (reflect.Value, bool, error) {
	switch src.Kind() {
	case reflect.Interface, reflect.Invalid:
		return reflect.Value{}, false, nil
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func:
		if src.IsNil() {
			return reflect.Value{}, false, nil
		}
	}
	x := src.Interface()
	if t, ok := x.(Transferable); ok && src.Comparable() {
		if nt, ok := c.moved[t]; ok {
			c.reached.Add(t)
			return reflect.ValueOf(nt), true, nil
		}
	}
	if cp, ok := x.(Copier); ok {
		var key visitKey
		shared := src.Kind() == reflect.Pointer || src.Kind() == reflect.Map
		if shared {
			key = visitKey{typ: src.Type(), ptr: src.UnsafePointer()}
			if out, ok := c.seen[key]; ok {
				return out, true, nil
			}
		}
		v, err := cp.CopyValue()
		if err != nil {
			return reflect.Value{}, true, NewError(NotCloneable, "%T could not be cloned: %v", x, err)
		}
		out := reflect.ValueOf(v)
		if !out.IsValid() || !out.Type().AssignableTo(src.Type()) {
			return reflect.Value{}, true, NewError(NotCloneable, "copy of %T produced %T", x, v)
		}
		if shared {
			c.seen[key] = out
		}
		return out, true, nil
	}
	if _, ok := x.(Transferable); ok {
		return reflect.Value{}, true, NewError(NotCloneable, "%T was found in the value but not listed in the transfer list", x)
	}
	return reflect.Value{}, false, nil
}

// field returns the i'th field of the addressable struct v, with the
// read-only restriction on unexported fields lifted so they can be copied.
func field(v reflect.Value, i int) reflect.Value {
	f := v.Field(i)
	return reflect.NewAt(f.Type(), unsafe.Pointer(f.UnsafeAddr())).Elem()
}
