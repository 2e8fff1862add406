// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cube

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"github.com/bureau-foundation/overhang/lib/stream"
)

func TestNewDescriptorRejectsBadGeometry(t *testing.T) {
	tests := []struct {
		dimension int
		scale     float32
	}{
		{1, 1},
		{33, 1},
		{8, 0},
		{8, -2},
	}
	for _, test := range tests {
		if _, err := NewDescriptor(test.dimension, test.scale); err == nil {
			t.Errorf("NewDescriptor(%d, %v) succeeded", test.dimension, test.scale)
		}
	}
}

func TestDescriptorLookupTable(t *testing.T) {
	descriptor, err := NewDescriptor(4, 0.25)
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}
	if descriptor.GridPointCount() != 64 || descriptor.CellCount() != 27 {
		t.Fatalf("counts = %d points, %d cells", descriptor.GridPointCount(), descriptor.CellCount())
	}
	index := descriptor.Index(1, 2, 3)
	if got := descriptor.GridPoint(index); got != (GridPoint{1, 2, 3}) {
		t.Errorf("GridPoint(%d) = %v, want {1 2 3}", index, got)
	}
	offset := descriptor.Offset(index)
	if offset[0] != 0.25 || offset[1] != 0.5 || offset[2] != 0.75 {
		t.Errorf("Offset(%d) = %v, want [0.25 0.5 0.75]", index, offset)
	}
	corners := descriptor.CornerOffsets()
	if corners[7] != descriptor.Index(1, 1, 1) {
		t.Errorf("corner 7 offset = %d, want %d", corners[7], descriptor.Index(1, 1, 1))
	}
}

func TestPoolReusesByFlags(t *testing.T) {
	pool := testPool(t, 3, 1)

	plain := pool.Checkout(0)
	coloured := pool.Checkout(Colours)
	if coloured.Colours == nil || plain.Colours != nil {
		t.Fatal("bucket layout does not follow checkout flags")
	}
	pool.Return(plain)
	pool.Return(coloured)

	if again := pool.Checkout(Colours); again != coloured {
		t.Error("Checkout(Colours) did not reuse the idle coloured bucket")
	}
	stats := pool.Stats()
	if stats.Allocations != 2 || stats.Outstanding != 1 || stats.Idle != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestPoolMaxIdle(t *testing.T) {
	descriptor, _ := NewDescriptor(2, 1)
	pool, err := NewPool(PoolConfig{Descriptor: descriptor, MaxIdle: 1})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	a, b := pool.Checkout(0), pool.Checkout(0)
	pool.Return(a)
	pool.Return(b)
	if stats := pool.Stats(); stats.Idle != 1 || stats.Discards != 1 {
		t.Errorf("stats = %+v, want 1 idle and 1 discard", stats)
	}
}

func TestPoolDoubleReturnPanics(t *testing.T) {
	pool := testPool(t, 2, 1)
	bucket := pool.Checkout(0)
	pool.Return(bucket)
	defer func() {
		if recover() == nil {
			t.Error("second Return did not panic")
		}
	}()
	pool.Return(bucket)
}

func TestPoolConcurrentCheckout(t *testing.T) {
	pool := testPool(t, 4, 1)
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				pool.Return(pool.Checkout(Gradients))
			}
		}()
	}
	wg.Wait()
	stats := pool.Stats()
	if stats.Outstanding != 0 || stats.Checkouts != 1600 || stats.Returns != 1600 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestCompressRoundTrip(t *testing.T) {
	pool := testPool(t, 4, 1)
	source := pool.Checkout(Gradients | TexCoords)
	source.fill(3)
	source.Values[10] = -50
	source.GradientY[0] = 7
	source.TexCoords[63] = TexCoord{U: 0.5, V: 1}

	compressed := Compress(source)
	if got := compressed.Runs(); got != 3 {
		t.Errorf("Runs() = %d, want 3", got)
	}
	if lowest, highest := compressed.ValueRange(); lowest != -50 || highest != 3 {
		t.Errorf("ValueRange() = (%d, %d), want (-50, 3)", lowest, highest)
	}

	var buffer bytes.Buffer
	compressed.WriteTo(stream.NewWriter(&buffer))
	decoded, err := ReadCompressed(stream.NewReader(&buffer))
	if err != nil {
		t.Fatalf("ReadCompressed: %v", err)
	}

	target := pool.Checkout(Gradients | TexCoords)
	if err := decoded.Decompress(target); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if target.Values[10] != -50 || target.Values[11] != 3 {
		t.Errorf("Values[10..11] = %v", target.Values[10:12])
	}
	if target.GradientY[0] != 7 || target.TexCoords[63] != (TexCoord{U: 0.5, V: 1}) {
		t.Error("optional arrays did not survive the round trip")
	}

	if err := decoded.Decompress(pool.Checkout(0)); !errors.Is(err, ErrFlagsMismatch) {
		t.Errorf("Decompress into plain bucket: %v, want ErrFlagsMismatch", err)
	}
}

func TestReadCompressedRejectsShortRuns(t *testing.T) {
	var buffer bytes.Buffer
	w := stream.NewWriter(&buffer)
	w.Uint8(0)
	w.Uint32(8)
	w.Uint32(1)
	w.Uint32(5)
	w.Int8(0)

	if _, err := ReadCompressed(stream.NewReader(&buffer)); !errors.Is(err, ErrCorrupt) {
		t.Errorf("ReadCompressed: %v, want ErrCorrupt", err)
	}
}
