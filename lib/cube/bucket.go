// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cube

import "strings"

// Field strength limits. Accumulation saturates at these bounds.
const (
	MinField int8 = -127
	MaxField int8 = 127
)

// Flags selects the optional per-point arrays a bucket carries.
type Flags uint8

const (
	Gradients Flags = 1 << iota
	Colours
	TexCoords

	allFlags = Gradients | Colours | TexCoords
)

// Has reports whether every flag in other is set.
func (f Flags) Has(other Flags) bool { return f&other == other }

func (f Flags) String() string {
	if f == 0 {
		return "values"
	}
	var parts []string
	if f.Has(Gradients) {
		parts = append(parts, "gradients")
	}
	if f.Has(Colours) {
		parts = append(parts, "colours")
	}
	if f.Has(TexCoords) {
		parts = append(parts, "texcoords")
	}
	return "values+" + strings.Join(parts, "+")
}

// Colour is an RGBA vertex colour.
type Colour struct {
	R, G, B, A uint8
}

// TexCoord is a texture coordinate pair.
type TexCoord struct {
	U, V float32
}

// Bucket is the raw per-point payload of one cube. The set of arrays
// present is fixed by the flags it was allocated with; absent arrays
// are nil.
type Bucket struct {
	flags Flags

	Values    []int8
	GradientX []int8
	GradientY []int8
	GradientZ []int8
	Colours   []Colour
	TexCoords []TexCoord
}

func newBucket(flags Flags, count int) *Bucket {
	b := &Bucket{flags: flags, Values: make([]int8, count)}
	if flags.Has(Gradients) {
		b.GradientX = make([]int8, count)
		b.GradientY = make([]int8, count)
		b.GradientZ = make([]int8, count)
	}
	if flags.Has(Colours) {
		b.Colours = make([]Colour, count)
	}
	if flags.Has(TexCoords) {
		b.TexCoords = make([]TexCoord, count)
	}
	return b
}

// Flags returns the arrays this bucket carries.
func (b *Bucket) Flags() Flags { return b.flags }

// Len returns the number of grid points.
func (b *Bucket) Len() int { return len(b.Values) }

// fill sets every value to v and zeroes every optional array.
func (b *Bucket) fill(v int8) {
	for i := range b.Values {
		b.Values[i] = v
	}
	clear(b.GradientX)
	clear(b.GradientY)
	clear(b.GradientZ)
	clear(b.Colours)
	clear(b.TexCoords)
}

func saturate(v int) int8 {
	if v > int(MaxField) {
		return MaxField
	}
	if v < int(MinField) {
		return MinField
	}
	return int8(v)
}
