// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package metaobj provides the procedural field sources that shape
// terrain fragments: metaballs (spheres of rock or of empty space) and
// heightmaps. Each implements fragment.MetaObject and touches only the
// grid points its bounds cover.
package metaobj

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/bureau-foundation/overhang/lib/cube"
)

// Metaball is a sphere of influence. A solid metaball pushes the field
// towards solid (negative) near its center; an excavating one pushes
// it towards open space.
type Metaball struct {
	Center mgl32.Vec3
	Radius float32
	// Excavating metaballs carve caves instead of adding rock.
	Excavating bool
	// Strength is the contribution at the center. Zero means
	// cube.MaxField.
	Strength float32
}

// Bounds returns the box enclosing the sphere.
func (m *Metaball) Bounds() cube.Box {
	r := mgl32.Vec3{m.Radius, m.Radius, m.Radius}
	return cube.Box{Min: m.Center.Sub(r), Max: m.Center.Add(r)}
}

// Contribute adds the falloff 1 - (d/r)² scaled by Strength to every
// grid point within the radius.
func (m *Metaball) Contribute(region *cube.Region, acc *cube.Accessor) {
	if m.Radius <= 0 {
		return
	}
	bounds, ok := region.MapRegion(m.Bounds())
	if !ok {
		return
	}
	strength := m.Strength
	if strength == 0 {
		strength = float32(cube.MaxField)
	}
	if !m.Excavating {
		strength = -strength
	}
	origin := region.Box().Min
	descriptor := acc.Descriptor()
	radiusSquared := m.Radius * m.Radius
	bounds.Each(func(x, y, z int) {
		index := descriptor.Index(x, y, z)
		position := origin.Add(descriptor.Offset(index))
		distanceSquared := position.Sub(m.Center).LenSqr()
		if distanceSquared >= radiusSquared {
			return
		}
		falloff := 1 - distanceSquared/radiusSquared
		acc.AddValueAt(round(strength*falloff), x, y, z)
	})
}

// HeightFunc returns the terrain height at a horizontal position.
type HeightFunc func(x, z float32) float32

// Heightmap is a terrain surface: grid points below the height are
// pushed towards solid in proportion to their depth, points above
// towards open space.
type Heightmap struct {
	Height HeightFunc
	// Strength is the field change per world unit of distance from
	// the surface. Zero means 32.
	Strength float32
	// Extent limits the heightmap to part of the world. The zero box
	// means everywhere.
	Extent cube.Box
}

var everywhere = cube.Box{
	Min: mgl32.Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	Max: mgl32.Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
}

// Bounds returns Extent, or an unbounded box.
func (h *Heightmap) Bounds() cube.Box {
	if h.Extent == (cube.Box{}) {
		return everywhere
	}
	return h.Extent
}

// Contribute adds (y - height) × Strength at every covered grid point.
func (h *Heightmap) Contribute(region *cube.Region, acc *cube.Accessor) {
	if h.Height == nil {
		return
	}
	bounds, ok := region.MapRegion(h.Bounds())
	if !ok {
		return
	}
	strength := h.Strength
	if strength == 0 {
		strength = 32
	}
	origin := region.Box().Min
	descriptor := acc.Descriptor()
	bounds.Each(func(x, y, z int) {
		index := descriptor.Index(x, y, z)
		position := origin.Add(descriptor.Offset(index))
		height := h.Height(position.X(), position.Z())
		acc.AddValueAt(round((position.Y()-height)*strength), x, y, z)
	})
}

// round converts to int, clamping far outside the field range so the
// conversion cannot overflow.
func round(v float32) int {
	const limit = 1 << 16
	return int(math.Round(float64(max(-limit, min(v, limit)))))
}
