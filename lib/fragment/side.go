// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fragment

import "strings"

// Side identifies one face of a fragment cube.
type Side uint8

const (
	West  Side = iota // -X
	East              // +X
	Down              // -Y
	Up                // +Y
	North             // -Z
	South             // +Z

	SideCount = 6
)

var sideNames = [SideCount]string{"west", "east", "down", "up", "north", "south"}

func (s Side) String() string {
	if s < SideCount {
		return sideNames[s]
	}
	return "invalid"
}

// Opposite returns the face on the other side of the cube.
func (s Side) Opposite() Side { return s ^ 1 }

// Stitch is a set of sides that need transition cells because the
// neighbor across them renders at a finer LOD.
type Stitch uint8

// StitchNone requests no transition cells.
const StitchNone Stitch = 0

// StitchOf returns the stitch set containing only side.
func StitchOf(side Side) Stitch { return 1 << side }

// Has reports whether side is in the set.
func (s Stitch) Has(side Side) bool { return s&StitchOf(side) != 0 }

func (s Stitch) String() string {
	if s == StitchNone {
		return "none"
	}
	var parts []string
	for side := Side(0); side < SideCount; side++ {
		if s.Has(side) {
			parts = append(parts, side.String())
		}
	}
	return strings.Join(parts, "+")
}

// Link makes a and b neighbors across side of a (and the opposite side
// of b). Any previous neighbors on those faces are unlinked first, so
// the relation stays symmetric.
//
// Link is not protected by the fragment lock: call it from the main
// goroutine, or during construction through a Builder.
func Link(a *Container, side Side, b *Container) {
	if a == nil || b == nil {
		panic("fragment: Link with nil fragment")
	}
	if a == b {
		panic("fragment: cannot link a fragment to itself")
	}
	Unlink(a, side)
	Unlink(b, side.Opposite())
	a.neighbors[side].Store(b)
	b.neighbors[side.Opposite()].Store(a)
}

// Unlink removes the neighbor across side of a, clearing both ends.
// It returns the former neighbor, or nil if there was none.
func Unlink(a *Container, side Side) *Container {
	b := a.neighbors[side].Swap(nil)
	if b != nil {
		b.neighbors[side.Opposite()].CompareAndSwap(a, nil)
	}
	return b
}
