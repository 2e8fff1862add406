// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cube

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// MaxDimension is the largest number of grid points per axis.
const MaxDimension = 32

// GridPoint is a grid coordinate inside one cube.
type GridPoint struct {
	X, Y, Z uint8
}

// Descriptor is the shared geometry of every region built from one
// terrain configuration. It is immutable and safe for concurrent use.
type Descriptor struct {
	dimension int
	scale     float32

	// points is the dense index → coordinate table. Builders walk
	// the grid by index and place isovertices from it without
	// dividing.
	points []GridPoint

	// corners holds the index deltas from a cell's minimum corner to
	// its eight corners, in the usual marching-cubes corner order.
	corners [8]int
}

// NewDescriptor returns the geometry for cubes of dimension grid
// points per axis, spaced scale world units apart.
func NewDescriptor(dimension int, scale float32) (*Descriptor, error) {
	if dimension < 2 || dimension > MaxDimension {
		return nil, fmt.Errorf("cube: dimension %d out of range [2, %d]", dimension, MaxDimension)
	}
	if !(scale > 0) || math.IsInf(float64(scale), 0) {
		return nil, fmt.Errorf("cube: scale %v must be positive and finite", scale)
	}

	d := &Descriptor{
		dimension: dimension,
		scale:     scale,
		points:    make([]GridPoint, dimension*dimension*dimension),
	}
	for z := 0; z < dimension; z++ {
		for y := 0; y < dimension; y++ {
			for x := 0; x < dimension; x++ {
				d.points[d.Index(x, y, z)] = GridPoint{uint8(x), uint8(y), uint8(z)}
			}
		}
	}
	for corner := 0; corner < 8; corner++ {
		x, y, z := corner&1, (corner>>1)&1, (corner>>2)&1
		d.corners[corner] = d.Index(x, y, z)
	}
	return d, nil
}

// Dimension returns the number of grid points per axis.
func (d *Descriptor) Dimension() int { return d.dimension }

// GridPointCount returns Dimension³.
func (d *Descriptor) GridPointCount() int { return len(d.points) }

// CellCount returns the number of cells, (Dimension-1)³.
func (d *Descriptor) CellCount() int {
	cells := d.dimension - 1
	return cells * cells * cells
}

// Scale returns the world-space distance between adjacent grid points.
func (d *Descriptor) Scale() float32 { return d.scale }

// Extent returns the world-space edge length of one cube.
func (d *Descriptor) Extent() float32 { return float32(d.dimension-1) * d.scale }

// Index returns the linear index of (x, y, z). X varies fastest.
func (d *Descriptor) Index(x, y, z int) int {
	return x + d.dimension*(y+d.dimension*z)
}

// InBounds reports whether (x, y, z) is a grid point of the cube.
func (d *Descriptor) InBounds(x, y, z int) bool {
	return x >= 0 && y >= 0 && z >= 0 && x < d.dimension && y < d.dimension && z < d.dimension
}

// GridPoint returns the coordinates of the point at index.
func (d *Descriptor) GridPoint(index int) GridPoint { return d.points[index] }

// Offset returns the world-space position of the point at index
// relative to the region's minimum corner.
func (d *Descriptor) Offset(index int) mgl32.Vec3 {
	p := d.points[index]
	return mgl32.Vec3{float32(p.X), float32(p.Y), float32(p.Z)}.Mul(d.scale)
}

// CornerOffsets returns the index deltas of a cell's eight corners
// from its minimum corner. Corner i has x = i&1, y = (i>>1)&1,
// z = (i>>2)&1.
func (d *Descriptor) CornerOffsets() [8]int { return d.corners }

// Box is an axis-aligned world-space box with inclusive bounds.
type Box struct {
	Min, Max mgl32.Vec3
}

// NewBox returns the box spanning a and b in any order.
func NewBox(a, b mgl32.Vec3) Box {
	var box Box
	for i := 0; i < 3; i++ {
		box.Min[i] = min(a[i], b[i])
		box.Max[i] = max(a[i], b[i])
	}
	return box
}

// Intersects reports whether the boxes share at least one point.
func (b Box) Intersects(other Box) bool {
	for i := 0; i < 3; i++ {
		if b.Max[i] < other.Min[i] || other.Max[i] < b.Min[i] {
			return false
		}
	}
	return true
}

// Contains reports whether p lies inside b.
func (b Box) Contains(p mgl32.Vec3) bool {
	for i := 0; i < 3; i++ {
		if p[i] < b.Min[i] || p[i] > b.Max[i] {
			return false
		}
	}
	return true
}

// Union returns the smallest box containing both.
func (b Box) Union(other Box) Box {
	var union Box
	for i := 0; i < 3; i++ {
		union.Min[i] = min(b.Min[i], other.Min[i])
		union.Max[i] = max(b.Max[i], other.Max[i])
	}
	return union
}

// Size returns the edge lengths.
func (b Box) Size() mgl32.Vec3 { return b.Max.Sub(b.Min) }

// Center returns the midpoint.
func (b Box) Center() mgl32.Vec3 { return b.Min.Add(b.Max).Mul(0.5) }

// GridBounds is an inclusive range of grid coordinates.
type GridBounds struct {
	Min, Max [3]int
}

// Each calls fn for every grid point inside g, X fastest.
func (g GridBounds) Each(fn func(x, y, z int)) {
	for z := g.Min[2]; z <= g.Max[2]; z++ {
		for y := g.Min[1]; y <= g.Max[1]; y++ {
			for x := g.Min[0]; x <= g.Max[0]; x++ {
				fn(x, y, z)
			}
		}
	}
}
