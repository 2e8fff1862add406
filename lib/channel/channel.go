// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"errors"
	"fmt"
	"iter"
	"math"

	"github.com/bureau-foundation/overhang/lib/stream"
)

// ID identifies one terrain channel.
type ID uint16

// Invalid is the stream encoding of an empty Optional. It is never a
// legal ID: NewDescriptor rejects counts that would include it.
const Invalid ID = math.MaxUint16

// ErrNoSuchChannel is the range violation: an ID outside the
// descriptor's [0, Count()) range.
var ErrNoSuchChannel = errors.New("channel: no such channel")

// Descriptor is the immutable number of channels in use.
type Descriptor struct {
	count int
}

// NewDescriptor returns a descriptor for count channels.
func NewDescriptor(count int) (Descriptor, error) {
	if count <= 0 || count >= int(Invalid) {
		return Descriptor{}, fmt.Errorf("channel: count %d out of range [1, %d)", count, Invalid)
	}
	return Descriptor{count: count}, nil
}

// Count returns the number of channels.
func (d Descriptor) Count() int { return d.count }

// Contains reports whether id is a legal channel of d.
func (d Descriptor) Contains(id ID) bool { return int(id) < d.count }

// Check returns a wrapped ErrNoSuchChannel when id is out of range.
func (d Descriptor) Check(id ID) error {
	if !d.Contains(id) {
		return fmt.Errorf("%w: %d (count %d)", ErrNoSuchChannel, id, d.count)
	}
	return nil
}

// IDs yields every legal channel in ascending order.
func (d Descriptor) IDs() iter.Seq[ID] {
	return func(yield func(ID) bool) {
		for i := 0; i < d.count; i++ {
			if !yield(ID(i)) {
				return
			}
		}
	}
}

// Optional is an ID that may be absent.
type Optional struct {
	id    ID
	valid bool
}

// None returns the empty Optional.
func None() Optional { return Optional{} }

// Some returns an Optional holding id.
func Some(id ID) Optional { return Optional{id: id, valid: true} }

// Get returns the held ID and whether one is present.
func (o Optional) Get() (ID, bool) { return o.id, o.valid }

// IsNone reports whether o is empty.
func (o Optional) IsNone() bool { return !o.valid }

func (o Optional) String() string {
	if !o.valid {
		return "none"
	}
	return fmt.Sprintf("%d", o.id)
}

// WriteID writes id as a single 16-bit primitive.
func WriteID(w *stream.Writer, id ID) {
	w.Uint16(uint16(id))
}

// ReadID reads a channel ID written by WriteID and checks it against
// d.
func ReadID(r *stream.Reader, d Descriptor) (ID, error) {
	id := ID(r.Uint16())
	if err := r.Err(); err != nil {
		return 0, err
	}
	if err := d.Check(id); err != nil {
		return 0, err
	}
	return id, nil
}

// WriteOptional writes o, using Invalid for None.
func WriteOptional(w *stream.Writer, o Optional) {
	if id, ok := o.Get(); ok {
		WriteID(w, id)
		return
	}
	WriteID(w, Invalid)
}

// ReadOptional reads an Optional written by WriteOptional.
func ReadOptional(r *stream.Reader, d Descriptor) (Optional, error) {
	raw := ID(r.Uint16())
	if err := r.Err(); err != nil {
		return None(), err
	}
	if raw == Invalid {
		return None(), nil
	}
	if err := d.Check(raw); err != nil {
		return None(), err
	}
	return Some(raw), nil
}
