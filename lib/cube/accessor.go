// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cube

import (
	"fmt"

	"github.com/bureau-foundation/overhang/lib/compress"
	"github.com/bureau-foundation/overhang/lib/stream"
)

// EmptyStatus classifies a field by the sign of its values.
type EmptyStatus uint8

const (
	// Mixed fields cross the isosurface somewhere.
	Mixed EmptyStatus = iota
	// Solid fields are negative everywhere.
	Solid
	// Open fields are zero or positive everywhere.
	Open
)

func (s EmptyStatus) String() string {
	switch s {
	case Mixed:
		return "mixed"
	case Solid:
		return "solid"
	case Open:
		return "open"
	default:
		return "unknown"
	}
}

// HasSurface reports whether an isosurface can pass through the field.
func (s EmptyStatus) HasSurface() bool { return s == Mixed }

func classify(lowest, highest int8) EmptyStatus {
	switch {
	case highest < 0:
		return Solid
	case lowest >= 0:
		return Open
	default:
		return Mixed
	}
}

func bucketStatus(b *Bucket) EmptyStatus {
	if len(b.Values) == 0 {
		return Open
	}
	lowest, highest := MaxField, MinField
	for _, v := range b.Values {
		lowest = min(lowest, v)
		highest = max(highest, v)
	}
	return classify(lowest, highest)
}

// ReadAccessor grants read access to a leased region's raw data. It
// holds the region lock until Release.
type ReadAccessor struct {
	region   *Region
	bucket   *Bucket
	released bool
}

func (a *ReadAccessor) check() {
	if a.released {
		panic("cube: use of released accessor")
	}
}

// Descriptor returns the region geometry.
func (a *ReadAccessor) Descriptor() *Descriptor { return a.region.descriptor }

// Flags returns the arrays the bucket carries.
func (a *ReadAccessor) Flags() Flags {
	a.check()
	return a.bucket.flags
}

// Value returns the field strength at index.
func (a *ReadAccessor) Value(index int) int8 {
	a.check()
	return a.bucket.Values[index]
}

// ValueAt returns the field strength at a grid coordinate.
func (a *ReadAccessor) ValueAt(x, y, z int) int8 {
	a.check()
	return a.bucket.Values[a.region.descriptor.Index(x, y, z)]
}

// Values returns the field strengths. The slice is only valid until
// Release and must not be modified.
func (a *ReadAccessor) Values() []int8 {
	a.check()
	return a.bucket.Values
}

// Gradient returns the gradient at index, or zero when the region
// carries no gradients.
func (a *ReadAccessor) Gradient(index int) (x, y, z int8) {
	a.check()
	if !a.bucket.flags.Has(Gradients) {
		return 0, 0, 0
	}
	return a.bucket.GradientX[index], a.bucket.GradientY[index], a.bucket.GradientZ[index]
}

// Colour returns the colour at index, or zero when the region carries
// no colours.
func (a *ReadAccessor) Colour(index int) Colour {
	a.check()
	if !a.bucket.flags.Has(Colours) {
		return Colour{}
	}
	return a.bucket.Colours[index]
}

// TexCoord returns the texture coordinate at index, or zero when the
// region carries none.
func (a *ReadAccessor) TexCoord(index int) TexCoord {
	a.check()
	if !a.bucket.flags.Has(TexCoords) {
		return TexCoord{}
	}
	return a.bucket.TexCoords[index]
}

// EmptyStatus scans the field for its extremes.
func (a *ReadAccessor) EmptyStatus() EmptyStatus {
	a.check()
	return bucketStatus(a.bucket)
}

// Nest returns a second read accessor on the same lease without
// touching the lock. Each accessor is released separately; the lock is
// dropped with the last one.
func (a *ReadAccessor) Nest() *ReadAccessor {
	a.check()
	a.region.nest()
	return &ReadAccessor{region: a.region, bucket: a.bucket}
}

// Released reports whether Release has been called on this accessor.
func (a *ReadAccessor) Released() bool { return a.released }

// WriteTo writes the region block from the leased data without
// compacting it, for callers that already hold a lease. See
// Region.WriteTo.
func (a *ReadAccessor) WriteTo(w *stream.Writer, tag compress.Tag) (Digest, error) {
	a.check()
	return a.region.writeBlock(w, tag, Compress(a.bucket))
}

// Release drops the lease. Calling Release again is a no-op, so it is
// safe to defer alongside an explicit early release.
func (a *ReadAccessor) Release() {
	if a.released {
		return
	}
	a.released = true
	a.bucket = nil
	a.region.release()
}

// Accessor grants read-write access to a leased region's raw data.
type Accessor struct {
	ReadAccessor
}

// Nest returns a second read-write accessor on the same lease.
func (a *Accessor) Nest() *Accessor {
	a.check()
	a.region.nest()
	return &Accessor{ReadAccessor{region: a.region, bucket: a.bucket}}
}

// MutableValues returns the field strengths for direct writing. The
// slice is only valid until Release.
func (a *Accessor) MutableValues() []int8 {
	a.check()
	return a.bucket.Values
}

// SetValue stores v at index.
func (a *Accessor) SetValue(index int, v int8) {
	a.check()
	a.bucket.Values[index] = v
}

// AddValueAt adds delta to the field strength at (x, y, z), saturating
// at MinField and MaxField. It panics when (x, y, z) is not a grid
// point.
func (a *Accessor) AddValueAt(delta int, x, y, z int) {
	a.check()
	if !a.region.descriptor.InBounds(x, y, z) {
		panic(fmt.Sprintf("cube: AddValueAt(%d, %d, %d) outside a %d³ grid",
			x, y, z, a.region.descriptor.dimension))
	}
	index := a.region.descriptor.Index(x, y, z)
	a.bucket.Values[index] = saturate(int(a.bucket.Values[index]) + delta)
}

// ReadFrom replaces the leased data and the region geometry with a
// block written by WriteTo. The block must carry the flags of the
// leased bucket. See Region.ReadFrom.
func (a *Accessor) ReadFrom(rd *stream.Reader) (Digest, error) {
	a.check()
	b, err := a.region.readBlock(rd)
	if err != nil {
		return Digest{}, err
	}
	if b.flags != a.bucket.flags {
		return Digest{}, fmt.Errorf("%w: block %s, leased bucket %s", ErrFlagsMismatch, b.flags, a.bucket.flags)
	}
	if err := b.data.Decompress(a.bucket); err != nil {
		return Digest{}, err
	}
	a.region.setGeometry(b.flags, b.box)
	return b.digest, nil
}

// SetColour stores c at index. Ignored when the region carries no
// colours.
func (a *Accessor) SetColour(index int, c Colour) {
	a.check()
	if a.bucket.flags.Has(Colours) {
		a.bucket.Colours[index] = c
	}
}

// SetTexCoord stores t at index. Ignored when the region carries no
// texture coordinates.
func (a *Accessor) SetTexCoord(index int, t TexCoord) {
	a.check()
	if a.bucket.flags.Has(TexCoords) {
		a.bucket.TexCoords[index] = t
	}
}

// Reset sets every field strength to zero, the baseline that
// contributions accumulate onto, and zeroes the optional arrays.
func (a *Accessor) Reset() {
	a.check()
	a.bucket.fill(0)
}

// Clear makes the whole cube open space.
func (a *Accessor) Clear() {
	a.check()
	a.bucket.fill(MaxField)
}

// UpdateGradients recomputes the gradient arrays from the field by
// central differences, one-sided at the grid faces. No-op when the
// region carries no gradients.
func (a *Accessor) UpdateGradients() {
	a.check()
	b := a.bucket
	if !b.flags.Has(Gradients) {
		return
	}
	d := a.region.descriptor
	n := d.dimension
	sample := func(x, y, z int) int {
		return int(b.Values[d.Index(x, y, z)])
	}
	difference := func(low, high, span int) int8 {
		return saturate((high - low) / span)
	}
	for z := 0; z < n; z++ {
		for y := 0; y < n; y++ {
			for x := 0; x < n; x++ {
				index := d.Index(x, y, z)
				x0, x1 := max(x-1, 0), min(x+1, n-1)
				y0, y1 := max(y-1, 0), min(y+1, n-1)
				z0, z1 := max(z-1, 0), min(z+1, n-1)
				b.GradientX[index] = difference(sample(x0, y, z), sample(x1, y, z), x1-x0)
				b.GradientY[index] = difference(sample(x, y0, z), sample(x, y1, z), y1-y0)
				b.GradientZ[index] = difference(sample(x, y, z0), sample(x, y, z1), z1-z0)
			}
		}
	}
}

// CompressedReader grants read access to a leased region's compressed
// form.
type CompressedReader struct {
	region   *Region
	released bool
}

// Data returns the compressed field. It must not be retained past
// Release.
func (a *CompressedReader) Data() *Compressed {
	if a.released {
		panic("cube: use of released accessor")
	}
	return a.region.compressed
}

// Nest returns a second compressed reader on the same lease without
// touching the lock.
func (a *CompressedReader) Nest() *CompressedReader {
	a.Data()
	a.region.nest()
	return &CompressedReader{region: a.region}
}

// WriteTo writes the region block from the leased compressed data.
// See Region.WriteTo.
func (a *CompressedReader) WriteTo(w *stream.Writer, tag compress.Tag) (Digest, error) {
	return a.region.writeBlock(w, tag, a.Data())
}

// Release drops the lease. Calling Release again is a no-op.
func (a *CompressedReader) Release() {
	if a.released {
		return
	}
	a.released = true
	a.region.release()
}

// CompressedAccessor grants read-write access to a leased region's
// compressed form.
type CompressedAccessor struct {
	CompressedReader
}

// Replace swaps in new compressed data. The flags and point count must
// match the region.
func (a *CompressedAccessor) Replace(data *Compressed) error {
	current := a.Data()
	if data.flags != current.flags {
		return ErrFlagsMismatch
	}
	if data.count != current.count {
		return ErrCorrupt
	}
	a.region.compressed = data
	return nil
}
