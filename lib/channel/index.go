// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"fmt"
	"iter"
)

// Loader produces the value for a channel slot on first access. A nil
// result leaves the slot empty.
type Loader[T any] func(ID) *T

// DefaultLoader allocates a zero T for every channel.
func DefaultLoader[T any](ID) *T { return new(T) }

// NullLoader never produces a value. Use it for indexes whose slots
// are filled explicitly with Set, where a channel may legitimately
// have nothing associated with it.
func NullLoader[T any](ID) *T { return nil }

// Option configures an Index.
type Option[T any] func(*Index[T])

// OnDestroy registers fn to be called once for every value the index
// drops: on Erase, on Set over an existing value, on Clear, and on
// CopyFrom over populated slots.
func OnDestroy[T any](fn func(ID, *T)) Option[T] {
	return func(x *Index[T]) { x.destroy = fn }
}

// Index maps each channel of a Descriptor to an owned, lazily created
// *T. The zero Index is not usable; construct with NewIndex.
//
// Index is not safe for concurrent use.
type Index[T any] struct {
	descriptor Descriptor
	slots      []*T
	loader     Loader[T]
	destroy    func(ID, *T)
}

// NewIndex returns an Index with one empty slot per channel of d.
func NewIndex[T any](d Descriptor, loader Loader[T], options ...Option[T]) *Index[T] {
	if loader == nil {
		loader = DefaultLoader[T]
	}
	x := &Index[T]{
		descriptor: d,
		slots:      make([]*T, d.Count()),
		loader:     loader,
	}
	for _, option := range options {
		option(x)
	}
	return x
}

// Descriptor returns the descriptor the index was built against.
func (x *Index[T]) Descriptor() Descriptor { return x.descriptor }

// Len returns the number of slots, populated or not.
func (x *Index[T]) Len() int { return len(x.slots) }

// Populated returns the number of non-empty slots.
func (x *Index[T]) Populated() int {
	n := 0
	for _, v := range x.slots {
		if v != nil {
			n++
		}
	}
	return n
}

// Get returns the value for id, creating it with the loader on first
// access. Repeated calls return the same pointer until the slot is
// erased or reassigned. With NullLoader an empty slot yields (nil, nil).
func (x *Index[T]) Get(id ID) (*T, error) {
	if err := x.descriptor.Check(id); err != nil {
		return nil, err
	}
	if v := x.slots[id]; v != nil {
		return v, nil
	}
	v := x.loader(id)
	x.slots[id] = v
	return v, nil
}

// Peek returns the value for id without creating it.
func (x *Index[T]) Peek(id ID) (*T, error) {
	if err := x.descriptor.Check(id); err != nil {
		return nil, err
	}
	return x.slots[id], nil
}

// Set stores v for id, destroying any previous value. Storing nil is
// equivalent to Erase.
func (x *Index[T]) Set(id ID, v *T) error {
	if err := x.descriptor.Check(id); err != nil {
		return err
	}
	if previous := x.slots[id]; previous != nil && previous != v {
		x.drop(id, previous)
	}
	x.slots[id] = v
	return nil
}

// Erase destroys the value for id and empties the slot.
func (x *Index[T]) Erase(id ID) error {
	if err := x.descriptor.Check(id); err != nil {
		return err
	}
	x.eraseSlot(int(id))
	return nil
}

// Clear destroys every populated slot.
func (x *Index[T]) Clear() {
	for i := range x.slots {
		x.eraseSlot(i)
	}
}

func (x *Index[T]) eraseSlot(i int) {
	if v := x.slots[i]; v != nil {
		x.slots[i] = nil
		x.drop(ID(i), v)
	}
}

func (x *Index[T]) drop(id ID, v *T) {
	if x.destroy != nil {
		x.destroy(id, v)
	}
}

// CopyFrom replaces the contents of x with a deep copy of src. Values
// are copied with their Clone method when *T has one (returning *T),
// otherwise by value. Both indexes must share a channel count.
func (x *Index[T]) CopyFrom(src *Index[T]) error {
	if src.Len() != x.Len() {
		return fmt.Errorf("%w: copying %d channels into %d", ErrNoSuchChannel, src.Len(), x.Len())
	}
	if src == x {
		return nil
	}
	x.Clear()
	for i, v := range src.slots {
		if v != nil {
			x.slots[i] = cloneValue(v)
		}
	}
	return nil
}

func cloneValue[T any](v *T) *T {
	if cloner, ok := any(v).(interface{ Clone() *T }); ok {
		return cloner.Clone()
	}
	duplicate := *v
	return &duplicate
}

// All yields the populated (id, value) pairs in ascending channel
// order. Slots populated or erased during iteration are observed if
// the scan has not yet passed them.
func (x *Index[T]) All() iter.Seq2[ID, *T] {
	return func(yield func(ID, *T) bool) {
		it := x.Iterator()
		for it.Next() {
			if !yield(it.ID(), it.Value()) {
				return
			}
		}
	}
}

// Iterator returns a resumable cursor positioned before the first
// populated slot.
func (x *Index[T]) Iterator() *Iterator[T] {
	return &Iterator[T]{index: x, position: -1}
}

// Iterator scans an Index, skipping empty slots.
//
//	for it := index.Iterator(); it.Next(); {
//	    if stale(it.Value()) {
//	        it.Erase()
//	    }
//	}
type Iterator[T any] struct {
	index    *Index[T]
	position int
}

// Next advances to the next populated slot and reports whether one
// was found.
func (it *Iterator[T]) Next() bool {
	for it.position+1 < len(it.index.slots) {
		it.position++
		if it.index.slots[it.position] != nil {
			return true
		}
	}
	it.position = len(it.index.slots)
	return false
}

// ID returns the channel at the cursor.
func (it *Iterator[T]) ID() ID { return ID(it.position) }

// Value returns the value at the cursor, or nil once it has been
// erased.
func (it *Iterator[T]) Value() *T {
	if it.position < 0 || it.position >= len(it.index.slots) {
		return nil
	}
	return it.index.slots[it.position]
}

// Erase destroys the value at the cursor. The cursor stays valid and
// the next call to Next continues with the following slot.
func (it *Iterator[T]) Erase() {
	if it.position >= 0 && it.position < len(it.index.slots) {
		it.index.eraseSlot(it.position)
	}
}
