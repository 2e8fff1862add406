// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cube

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/overhang/lib/stream"
)

// ErrCorrupt is returned when a persisted region does not describe a
// valid cube.
var ErrCorrupt = errors.New("cube: corrupt region data")

// ErrFlagsMismatch is returned when compressed data and a bucket
// disagree on which arrays are present.
var ErrFlagsMismatch = errors.New("cube: flags mismatch")

type run[T comparable] struct {
	length uint32
	value  T
}

func encodeRuns[T comparable](values []T) []run[T] {
	var runs []run[T]
	for _, v := range values {
		if n := len(runs); n > 0 && runs[n-1].value == v {
			runs[n-1].length++
			continue
		}
		runs = append(runs, run[T]{length: 1, value: v})
	}
	return runs
}

func expandRuns[T comparable](runs []run[T], dst []T) {
	position := 0
	for _, r := range runs {
		end := position + int(r.length)
		for i := position; i < end; i++ {
			dst[i] = r.value
		}
		position = end
	}
}

func runTotal[T comparable](runs []run[T]) int {
	total := 0
	for _, r := range runs {
		total += int(r.length)
	}
	return total
}

// Compressed is the run-length encoded form of a bucket.
type Compressed struct {
	flags     Flags
	count     int
	values    []run[int8]
	gradients [3][]run[int8]
	colours   []run[Colour]
	texcoords []run[TexCoord]
}

// Compress encodes the contents of b.
func Compress(b *Bucket) *Compressed {
	c := &Compressed{
		flags:  b.flags,
		count:  b.Len(),
		values: encodeRuns(b.Values),
	}
	if b.flags.Has(Gradients) {
		c.gradients[0] = encodeRuns(b.GradientX)
		c.gradients[1] = encodeRuns(b.GradientY)
		c.gradients[2] = encodeRuns(b.GradientZ)
	}
	if b.flags.Has(Colours) {
		c.colours = encodeRuns(b.Colours)
	}
	if b.flags.Has(TexCoords) {
		c.texcoords = encodeRuns(b.TexCoords)
	}
	return c
}

// Uniform returns compressed data for count points all holding value,
// with every optional array zeroed.
func Uniform(flags Flags, count int, value int8) *Compressed {
	flags &= allFlags
	c := &Compressed{
		flags:  flags,
		count:  count,
		values: []run[int8]{{length: uint32(count), value: value}},
	}
	if flags.Has(Gradients) {
		for axis := range c.gradients {
			c.gradients[axis] = []run[int8]{{length: uint32(count)}}
		}
	}
	if flags.Has(Colours) {
		c.colours = []run[Colour]{{length: uint32(count)}}
	}
	if flags.Has(TexCoords) {
		c.texcoords = []run[TexCoord]{{length: uint32(count)}}
	}
	return c
}

// Flags returns the arrays the data carries.
func (c *Compressed) Flags() Flags { return c.flags }

// Len returns the number of grid points.
func (c *Compressed) Len() int { return c.count }

// Runs returns the number of field-strength runs, a cheap measure of
// how much surface detail the cube holds.
func (c *Compressed) Runs() int { return len(c.values) }

// ValueRange returns the smallest and largest field strength without
// expanding the data.
func (c *Compressed) ValueRange() (lowest, highest int8) {
	lowest, highest = MaxField, MinField
	for _, r := range c.values {
		lowest = min(lowest, r.value)
		highest = max(highest, r.value)
	}
	return lowest, highest
}

// EmptyStatus classifies the data without expanding it.
func (c *Compressed) EmptyStatus() EmptyStatus {
	lowest, highest := c.ValueRange()
	return classify(lowest, highest)
}

// Decompress expands the data into dst, which must have the same
// flags and length.
func (c *Compressed) Decompress(dst *Bucket) error {
	if dst.flags != c.flags {
		return fmt.Errorf("%w: compressed %s, bucket %s", ErrFlagsMismatch, c.flags, dst.flags)
	}
	if dst.Len() != c.count {
		return fmt.Errorf("%w: compressed %d points, bucket %d", ErrCorrupt, c.count, dst.Len())
	}
	c.expand(dst)
	return nil
}

func (c *Compressed) expand(dst *Bucket) {
	expandRuns(c.values, dst.Values)
	if c.flags.Has(Gradients) {
		expandRuns(c.gradients[0], dst.GradientX)
		expandRuns(c.gradients[1], dst.GradientY)
		expandRuns(c.gradients[2], dst.GradientZ)
	}
	if c.flags.Has(Colours) {
		expandRuns(c.colours, dst.Colours)
	}
	if c.flags.Has(TexCoords) {
		expandRuns(c.texcoords, dst.TexCoords)
	}
}

// WriteTo writes the runs to w.
func (c *Compressed) WriteTo(w *stream.Writer) {
	w.Uint8(uint8(c.flags))
	w.Uint32(uint32(c.count))
	writeRuns(w, c.values, w.Int8)
	if c.flags.Has(Gradients) {
		for axis := range c.gradients {
			writeRuns(w, c.gradients[axis], w.Int8)
		}
	}
	if c.flags.Has(Colours) {
		writeRuns(w, c.colours, func(v Colour) {
			w.Raw([]byte{v.R, v.G, v.B, v.A})
		})
	}
	if c.flags.Has(TexCoords) {
		writeRuns(w, c.texcoords, func(v TexCoord) {
			w.Float32(v.U)
			w.Float32(v.V)
		})
	}
}

// ReadCompressed reads data written by WriteTo and checks that every
// array covers exactly the declared number of points.
func ReadCompressed(r *stream.Reader) (*Compressed, error) {
	c := &Compressed{
		flags: Flags(r.Uint8()),
		count: int(r.Uint32()),
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if c.flags&^allFlags != 0 {
		return nil, fmt.Errorf("%w: unknown flags %#x", ErrCorrupt, uint8(c.flags))
	}
	if c.count > MaxDimension*MaxDimension*MaxDimension {
		return nil, fmt.Errorf("%w: %d grid points", ErrCorrupt, c.count)
	}

	var err error
	if c.values, err = readRuns(r, c.count, r.Int8); err != nil {
		return nil, fmt.Errorf("values: %w", err)
	}
	if c.flags.Has(Gradients) {
		for axis := range c.gradients {
			if c.gradients[axis], err = readRuns(r, c.count, r.Int8); err != nil {
				return nil, fmt.Errorf("gradient axis %d: %w", axis, err)
			}
		}
	}
	if c.flags.Has(Colours) {
		c.colours, err = readRuns(r, c.count, func() Colour {
			var rgba [4]byte
			r.Raw(rgba[:])
			return Colour{rgba[0], rgba[1], rgba[2], rgba[3]}
		})
		if err != nil {
			return nil, fmt.Errorf("colours: %w", err)
		}
	}
	if c.flags.Has(TexCoords) {
		c.texcoords, err = readRuns(r, c.count, func() TexCoord {
			return TexCoord{U: r.Float32(), V: r.Float32()}
		})
		if err != nil {
			return nil, fmt.Errorf("texcoords: %w", err)
		}
	}
	return c, nil
}

func writeRuns[T comparable](w *stream.Writer, runs []run[T], writeValue func(T)) {
	w.Uint32(uint32(len(runs)))
	for _, r := range runs {
		w.Uint32(r.length)
		writeValue(r.value)
	}
}

func readRuns[T comparable](r *stream.Reader, count int, readValue func() T) ([]run[T], error) {
	n := int(r.Uint32())
	if err := r.Err(); err != nil {
		return nil, err
	}
	if n > count {
		return nil, fmt.Errorf("%w: %d runs for %d points", ErrCorrupt, n, count)
	}
	runs := make([]run[T], n)
	for i := range runs {
		runs[i].length = r.Uint32()
		runs[i].value = readValue()
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	if total := runTotal(runs); total != count {
		return nil, fmt.Errorf("%w: runs cover %d points, want %d", ErrCorrupt, total, count)
	}
	return runs, nil
}
