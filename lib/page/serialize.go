// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package page

import (
	"errors"
	"fmt"

	"github.com/bureau-foundation/overhang/lib/channel"
	"github.com/bureau-foundation/overhang/lib/codec"
	"github.com/bureau-foundation/overhang/lib/compress"
	"github.com/bureau-foundation/overhang/lib/cube"
	"github.com/bureau-foundation/overhang/lib/stream"
)

// ErrManifestMismatch is returned when a stored page was written with
// a different layout than the page reading it.
var ErrManifestMismatch = errors.New("page: stored layout does not match")

// Manifest describes the layout a page was stored with.
type Manifest struct {
	X                  int32   `cbor:"x"`
	Y                  int32   `cbor:"y"`
	Channels           int     `cbor:"channels"`
	FragmentsPerColumn int     `cbor:"fragments_per_column"`
	Dimension          int     `cbor:"dimension"`
	Scale              float32 `cbor:"scale"`
}

// Manifest returns the page's layout.
func (p *Page) Manifest() Manifest {
	descriptor := p.config.Pool.Descriptor()
	return Manifest{
		X:                  p.config.X,
		Y:                  p.config.Y,
		Channels:           p.config.Channels.Count(),
		FragmentsPerColumn: p.config.FragmentsPerColumn,
		Dimension:          descriptor.Dimension(),
		Scale:              descriptor.Scale(),
	}
}

// Key identifies one fragment of a page.
type Key struct {
	Channel channel.ID
	YLevel  int
}

// Digests maps each stored fragment to its region checksum.
type Digests map[Key]cube.Digest

// WriteTo writes the page: the CBOR manifest, the number of
// materialized columns, then per column its channel ID, fragment count,
// and fragment blocks. Each fragment is written under its read lock.
func (p *Page) WriteTo(w *stream.Writer, tag compress.Tag) (Digests, error) {
	manifest, err := codec.Marshal(p.Manifest())
	if err != nil {
		return nil, fmt.Errorf("page: encoding manifest: %w", err)
	}
	w.Bytes(manifest)
	w.Uint16(uint16(p.columns.Populated()))

	digests := make(Digests)
	for id, column := range p.columns.All() {
		channel.WriteID(w, id)
		w.Uint16(uint16(len(column.Fragments)))
		for yLevel, f := range column.Fragments {
			shared := f.Shared()
			digest, err := shared.WriteTo(w, tag)
			shared.Release()
			if err != nil {
				return nil, fmt.Errorf("page: channel %d level %d: %w", id, yLevel, err)
			}
			digests[Key{Channel: id, YLevel: yLevel}] = digest
		}
	}
	if err := w.Err(); err != nil {
		return nil, fmt.Errorf("page: writing: %w", err)
	}
	return digests, nil
}

// ReadFrom restores a page written by WriteTo into this page's
// fragments, each under its write lock. The stored manifest must match
// the page's own.
func (p *Page) ReadFrom(r *stream.Reader) (Digests, error) {
	data := r.Bytes()
	columns := int(r.Uint16())
	if err := r.Err(); err != nil {
		return nil, fmt.Errorf("page: reading header: %w", err)
	}
	var stored Manifest
	if err := codec.Unmarshal(data, &stored); err != nil {
		return nil, fmt.Errorf("page: decoding manifest: %w", err)
	}
	if own := p.Manifest(); stored != own {
		return nil, fmt.Errorf("%w: stored %+v, page %+v", ErrManifestMismatch, stored, own)
	}

	digests := make(Digests)
	for range columns {
		id, err := channel.ReadID(r, p.config.Channels)
		if err != nil {
			return nil, fmt.Errorf("page: reading channel: %w", err)
		}
		count := int(r.Uint16())
		if err := r.Err(); err != nil {
			return nil, fmt.Errorf("page: reading channel %d: %w", id, err)
		}
		column, err := p.columns.Get(id)
		if err != nil {
			return nil, err
		}
		if count != len(column.Fragments) {
			return nil, fmt.Errorf("%w: channel %d has %d fragments, page %d",
				ErrManifestMismatch, id, count, len(column.Fragments))
		}
		for yLevel, f := range column.Fragments {
			unique := f.Unique()
			digest, err := unique.ReadFrom(r)
			unique.Release()
			if err != nil {
				return nil, fmt.Errorf("page: channel %d level %d: %w", id, yLevel, err)
			}
			digests[Key{Channel: id, YLevel: yLevel}] = digest
		}
	}
	return digests, nil
}
