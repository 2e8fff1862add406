// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fragment

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/overhang/lib/compress"
	"github.com/bureau-foundation/overhang/lib/cube"
	"github.com/bureau-foundation/overhang/lib/stream"
)

// ErrNoCustomData is returned by CustomData when none is attached.
var ErrNoCustomData = errors.New("fragment: no custom data")

// ErrYLevelMismatch is returned when a stored fragment belongs to a
// different level than the one it is being read into.
var ErrYLevelMismatch = errors.New("fragment: y-level mismatch")

// WriteTo writes the fragment block: y-level, material name and group,
// the custom data (presence flag, then the CBOR document), and the
// region block. It returns the region checksum.
func (r *reader) WriteTo(w *stream.Writer, tag compress.Tag) (cube.Digest, error) {
	c := r.container()
	w.Int16(int16(c.yLevel))
	w.String(c.material)
	w.String(c.group)
	w.Bool(c.customData != nil)
	if c.customData != nil {
		w.Bytes(c.customData)
	}
	if err := w.Err(); err != nil {
		return cube.Digest{}, fmt.Errorf("fragment: writing header: %w", err)
	}
	var digest cube.Digest
	var err error
	if held := r.heldLease(); held != nil {
		nested := held.Nest()
		digest, err = nested.WriteTo(w, tag)
		nested.Release()
	} else {
		digest, err = c.region.WriteTo(w, tag)
	}
	if err != nil {
		return cube.Digest{}, fmt.Errorf("fragment: writing region: %w", err)
	}
	return digest, nil
}

// ReadFrom restores a block written by WriteTo. The stored y-level must
// match the fragment's. The grid generation advances, so surfaces
// built from the previous data count as stale.
func (w *writer) ReadFrom(r *stream.Reader) (cube.Digest, error) {
	c := w.container()
	yLevel := int(r.Int16())
	material := r.String()
	group := r.String()
	var customData []byte
	if r.Bool() {
		customData = r.Bytes()
	}
	if err := r.Err(); err != nil {
		return cube.Digest{}, fmt.Errorf("fragment: reading header: %w", err)
	}
	if yLevel != c.yLevel {
		return cube.Digest{}, fmt.Errorf("%w: stored %d, fragment %d", ErrYLevelMismatch, yLevel, c.yLevel)
	}
	var digest cube.Digest
	var err error
	var status cube.EmptyStatus
	if held := w.heldWriteLease(); held != nil {
		nested := held.Nest()
		digest, err = nested.ReadFrom(r)
		status = nested.EmptyStatus()
		nested.Release()
	} else {
		digest, err = c.region.ReadFrom(r)
		status = c.region.EmptyStatus()
	}
	if err != nil {
		return cube.Digest{}, fmt.Errorf("fragment: reading region: %w", err)
	}

	c.material, c.group = material, group
	if c.IsInitialised() {
		c.renderable.SetMaterial(material, group)
	}
	c.customData = customData
	c.status = status
	c.generation.Add(1)
	c.cancelPending("fragment reloaded")
	return digest, nil
}
