// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cube

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/overhang/lib/compress"
	"github.com/bureau-foundation/overhang/lib/stream"
)

// ErrOutsideGrid is returned when a box does not touch a region.
var ErrOutsideGrid = errors.New("cube: box lies outside the grid")

// ErrClosed is returned when restoring data into a closed region.
var ErrClosed = errors.New("cube: region is closed")

// Digest is a BLAKE3 checksum of a region's encoded payload.
type Digest [32]byte

// regionDomainKey separates region checksums from any other BLAKE3
// use. Changing it invalidates every stored region.
var regionDomainKey = [32]byte{
	'o', 'v', 'e', 'r', 'h', 'a', 'n', 'g', '.', 'c', 'u', 'b', 'e', '.',
	'r', 'e', 'g', 'i', 'o', 'n',
}

func checksum(payload []byte) Digest {
	hasher, err := blake3.NewKeyed(regionDomainKey[:])
	if err != nil {
		panic("cube: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	hasher.Write(payload)
	var digest Digest
	copy(digest[:], hasher.Sum(nil))
	return digest
}

// Region is one voxel cube. It owns either a bucket checked out of its
// pool or the compressed form of the data, never both.
type Region struct {
	descriptor *Descriptor
	pool       *Pool

	// geometry guards box and flags. It is separate from mu so that
	// MapRegion can be called while a lease is held.
	geometry sync.RWMutex
	box      Box
	flags    Flags

	mu          sync.Mutex
	depth       int
	bucket      *Bucket
	compressed  *Compressed
	autoCompact bool
	closed      bool
	releaseHook func()
}

// NewRegion returns a region whose minimum corner is at origin. The
// field starts uniformly at zero in compressed form; nothing is
// checked out of the pool until the first lease.
func NewRegion(pool *Pool, flags Flags, origin mgl32.Vec3) *Region {
	descriptor := pool.Descriptor()
	flags &= allFlags
	extent := descriptor.Extent()
	return &Region{
		descriptor: descriptor,
		pool:       pool,
		box:        Box{Min: origin, Max: origin.Add(mgl32.Vec3{extent, extent, extent})},
		flags:      flags,
		compressed: Uniform(flags, descriptor.GridPointCount(), 0),
	}
}

// Descriptor returns the shared geometry.
func (r *Region) Descriptor() *Descriptor { return r.descriptor }

// Box returns the world-space bounds of the grid.
func (r *Region) Box() Box {
	r.geometry.RLock()
	defer r.geometry.RUnlock()
	return r.box
}

// Flags returns the optional arrays the region carries.
func (r *Region) Flags() Flags {
	r.geometry.RLock()
	defer r.geometry.RUnlock()
	return r.flags
}

// SetAutoCompact controls whether the region compresses its data and
// returns its bucket to the pool each time the last lease is
// released. Idle regions should have it on.
func (r *Region) SetAutoCompact(enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.autoCompact = enabled
}

// SetReleaseHook registers fn to run, under the region lock, each time
// the outermost lease is released. fn must not lease the region.
func (r *Region) SetReleaseHook(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaseHook = fn
}

// MapRegion converts a world-space box into the inclusive range of
// grid points it touches, clamped to the grid. It reports false when
// the box lies entirely outside the region; the bounds are then
// meaningless.
func (r *Region) MapRegion(box Box) (GridBounds, bool) {
	bounds := r.Box()
	if !bounds.Intersects(box) {
		return GridBounds{}, false
	}
	scale := r.descriptor.scale
	last := r.descriptor.dimension - 1
	var g GridBounds
	for axis := 0; axis < 3; axis++ {
		low := math.Floor(float64((box.Min[axis] - bounds.Min[axis]) / scale))
		high := math.Ceil(float64((box.Max[axis] - bounds.Min[axis]) / scale))
		g.Min[axis] = clampIndex(low, last)
		g.Max[axis] = clampIndex(high, last)
	}
	return g, true
}

// clampIndex clamps before converting so that huge boxes cannot
// overflow int.
func clampIndex(v float64, last int) int {
	return int(max(0, min(v, float64(last))))
}

// Lease locks the region and returns a read-write accessor on its raw
// data, expanding the compressed form into a bucket from the pool if
// needed. Blocks while another goroutine holds a lease.
func (r *Region) Lease() *Accessor {
	bucket := r.acquire()
	return &Accessor{ReadAccessor{region: r, bucket: bucket}}
}

// LeaseReadOnly is Lease for callers that only read.
func (r *Region) LeaseReadOnly() *ReadAccessor {
	bucket := r.acquire()
	return &ReadAccessor{region: r, bucket: bucket}
}

// CLease locks the region and returns an accessor on its compressed
// form, compressing a checked-out bucket first.
func (r *Region) CLease() *CompressedAccessor {
	r.lock()
	r.compactLocked()
	return &CompressedAccessor{CompressedReader{region: r}}
}

// CLeaseReadOnly is CLease for callers that only read.
func (r *Region) CLeaseReadOnly() *CompressedReader {
	r.lock()
	r.compactLocked()
	return &CompressedReader{region: r}
}

func (r *Region) lock() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		panic("cube: lease on closed region")
	}
	r.depth = 1
}

func (r *Region) acquire() *Bucket {
	r.lock()
	r.materializeLocked()
	return r.bucket
}

func (r *Region) nest() {
	if r.depth <= 0 {
		panic("cube: nested lease without an outstanding lease")
	}
	r.depth++
}

// release drops one lease. The outermost release runs the release hook
// and unlocks.
func (r *Region) release() {
	r.depth--
	if r.depth > 0 {
		return
	}
	if r.autoCompact {
		r.compactLocked()
	}
	if r.releaseHook != nil {
		r.releaseHook()
	}
	r.mu.Unlock()
}

func (r *Region) materializeLocked() {
	if r.bucket != nil {
		return
	}
	bucket := r.pool.Checkout(r.flags)
	if r.compressed != nil {
		r.compressed.expand(bucket)
	} else {
		bucket.fill(0)
	}
	r.bucket = bucket
	r.compressed = nil
}

func (r *Region) compactLocked() {
	if r.bucket == nil {
		return
	}
	r.compressed = Compress(r.bucket)
	r.pool.Return(r.bucket)
	r.bucket = nil
}

// Compact compresses the data and returns the bucket to the pool.
// Blocks while a lease is outstanding.
func (r *Region) Compact() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.compactLocked()
}

// Materialized reports whether a raw bucket is checked out.
func (r *Region) Materialized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bucket != nil
}

// EmptyStatus classifies the field, reading the compressed form
// directly when the region is compacted.
func (r *Region) EmptyStatus() EmptyStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bucket != nil {
		return bucketStatus(r.bucket)
	}
	return r.compressed.EmptyStatus()
}

// Close returns any checked-out bucket and drops the data. Leasing a
// closed region panics.
func (r *Region) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.bucket != nil {
		r.pool.Return(r.bucket)
		r.bucket = nil
	}
	r.compressed = nil
	r.closed = true
}

// WriteTo writes the region block: flags, bounding box, then the
// compressed payload framed as codec tag, uncompressed length,
// checksum, and payload bytes. A checked-out bucket is compacted
// first. It returns the payload checksum. Blocks while a lease is
// outstanding; a holder of a lease writes through the accessor's
// WriteTo instead.
func (r *Region) WriteTo(w *stream.Writer, tag compress.Tag) (Digest, error) {
	accessor := r.CLeaseReadOnly()
	defer accessor.Release()
	return accessor.WriteTo(w, tag)
}

func (r *Region) writeBlock(w *stream.Writer, tag compress.Tag, data *Compressed) (Digest, error) {
	var encoded bytes.Buffer
	inner := stream.NewWriter(&encoded)
	data.WriteTo(inner)
	if err := inner.Err(); err != nil {
		return Digest{}, err
	}
	raw := encoded.Bytes()
	storedTag, payload, err := compress.CompressOrStore(raw, tag)
	if err != nil {
		return Digest{}, fmt.Errorf("cube: compressing region: %w", err)
	}
	digest := checksum(raw)

	box := r.Box()
	w.Uint8(uint8(r.Flags()))
	for _, corner := range []mgl32.Vec3{box.Min, box.Max} {
		w.Float32(corner[0])
		w.Float32(corner[1])
		w.Float32(corner[2])
	}
	w.Uint8(uint8(storedTag))
	w.Uint32(uint32(len(raw)))
	w.Raw(digest[:])
	w.Bytes(payload)
	return digest, w.Err()
}

// block is a decoded and verified region block.
type block struct {
	flags  Flags
	box    Box
	data   *Compressed
	digest Digest
}

func (r *Region) readBlock(rd *stream.Reader) (block, error) {
	flags := Flags(rd.Uint8())
	var corners [2]mgl32.Vec3
	for i := range corners {
		corners[i] = mgl32.Vec3{rd.Float32(), rd.Float32(), rd.Float32()}
	}
	tag := compress.Tag(rd.Uint8())
	size := int(rd.Uint32())
	var digest Digest
	rd.Raw(digest[:])
	payload := rd.Bytes()
	if err := rd.Err(); err != nil {
		return block{}, fmt.Errorf("cube: reading region: %w", err)
	}
	if flags&^allFlags != 0 {
		return block{}, fmt.Errorf("%w: unknown flags %#x", ErrCorrupt, uint8(flags))
	}

	raw, err := compress.Decompress(payload, tag, size)
	if err != nil {
		return block{}, fmt.Errorf("cube: decompressing region: %w", err)
	}
	if checksum(raw) != digest {
		return block{}, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	data, err := ReadCompressed(stream.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return block{}, err
	}
	if data.flags != flags {
		return block{}, fmt.Errorf("%w: block %s, payload %s", ErrFlagsMismatch, flags, data.flags)
	}
	if data.count != r.descriptor.GridPointCount() {
		return block{}, fmt.Errorf("%w: payload has %d points, descriptor %d",
			ErrCorrupt, data.count, r.descriptor.GridPointCount())
	}
	return block{flags: flags, box: NewBox(corners[0], corners[1]), data: data, digest: digest}, nil
}

func (r *Region) setGeometry(flags Flags, box Box) {
	r.geometry.Lock()
	defer r.geometry.Unlock()
	r.flags = flags
	r.box = box
}

// ReadFrom replaces the region's flags, bounding box, and data with a
// block written by WriteTo. Blocks while a lease is outstanding; a
// holder of a lease reads through Accessor.ReadFrom instead. A closed
// region returns ErrClosed.
func (r *Region) ReadFrom(rd *stream.Reader) (Digest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return Digest{}, ErrClosed
	}
	b, err := r.readBlock(rd)
	if err != nil {
		return Digest{}, err
	}
	if r.bucket != nil {
		r.pool.Return(r.bucket)
		r.bucket = nil
	}
	r.compressed = b.data
	r.setGeometry(b.flags, b.box)
	return b.digest, nil
}
