// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package page holds one loaded terrain page: for every channel, a
// column of fragments stacked by Y-level. Columns are created lazily
// the first time a channel is touched.
//
// A Page is not safe for concurrent use. Its owner serializes access
// through the page's slot (see package slot): structural changes
// happen in Loading, Unloading, or from join tasks, which only run
// while no other work is in flight. The fragments themselves carry
// their own locks.
package page

import (
	"errors"
	"fmt"
	"iter"
	"log/slog"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/bureau-foundation/overhang/lib/channel"
	"github.com/bureau-foundation/overhang/lib/cube"
	"github.com/bureau-foundation/overhang/lib/fragment"
	"github.com/bureau-foundation/overhang/lib/slot"
)

var _ slot.Page = (*Page)(nil)

// ErrNoSuchFragment is returned for a Y-level outside the column.
var ErrNoSuchFragment = errors.New("page: no such fragment")

// Config holds the parameters for a Page.
type Config struct {
	// X and Y are the page coordinates. Page X runs along world X,
	// page Y along world Z.
	X, Y int32

	Channels channel.Descriptor

	// FragmentsPerColumn is the number of fragments stacked in each
	// column. Y-levels run from 0.
	FragmentsPerColumn int

	// Pool supplies the buckets of every fragment region. Required.
	Pool *cube.Pool

	// Flags selects the optional arrays each region carries.
	Flags cube.Flags

	// Factory and Builder are handed to every fragment. Required.
	Factory fragment.Factory
	Builder fragment.SurfaceBuilder

	// Logger receives debug messages. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// Column is the fragments of one channel, indexed by Y-level.
type Column struct {
	Fragments []*fragment.Container
}

// Page is one loaded terrain page.
type Page struct {
	config  Config
	logger  *slog.Logger
	columns *channel.Index[Column]
}

// New returns a page with no columns materialized.
func New(config Config) (*Page, error) {
	if config.Pool == nil || config.Factory == nil || config.Builder == nil {
		return nil, errors.New("page: config requires a pool, a factory, and a surface builder")
	}
	if config.Channels.Count() == 0 {
		return nil, errors.New("page: config requires at least one channel")
	}
	if config.FragmentsPerColumn <= 0 || config.FragmentsPerColumn > 1<<15 {
		return nil, fmt.Errorf("page: %d fragments per column out of range", config.FragmentsPerColumn)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	p := &Page{
		config: config,
		logger: logger.With("page_x", config.X, "page_y", config.Y),
	}
	p.columns = channel.NewIndex(config.Channels, p.newColumn,
		channel.OnDestroy(func(id channel.ID, column *Column) {
			for _, f := range column.Fragments {
				f.Builder().Destroy()
			}
		}),
	)
	return p, nil
}

// newColumn builds the fragments of one channel and links them
// vertically.
func (p *Page) newColumn(id channel.ID) *Column {
	extent := p.config.Pool.Descriptor().Extent()
	column := &Column{Fragments: make([]*fragment.Container, p.config.FragmentsPerColumn)}
	for yLevel := range column.Fragments {
		origin := mgl32.Vec3{
			float32(p.config.X) * extent,
			float32(yLevel) * extent,
			float32(p.config.Y) * extent,
		}
		f, err := fragment.New(fragment.Config{
			Tile:    fragment.Tile{X: p.config.X, Y: p.config.Y},
			Channel: id,
			YLevel:  yLevel,
			Region:  cube.NewRegion(p.config.Pool, p.config.Flags, origin),
			Factory: p.config.Factory,
			Builder: p.config.Builder,
			Logger:  p.logger,
		})
		if err != nil {
			// New validated everything fragment.New checks.
			panic("page: " + err.Error())
		}
		column.Fragments[yLevel] = f
		if yLevel > 0 {
			fragment.Link(column.Fragments[yLevel-1], fragment.Up, f)
		}
	}
	p.logger.Debug("column created", "channel", id, "fragments", len(column.Fragments))
	return column
}

// Position returns the page coordinates.
func (p *Page) Position() (x, y int32) { return p.config.X, p.config.Y }

// Channels returns the channel descriptor.
func (p *Page) Channels() channel.Descriptor { return p.config.Channels }

// Column returns the column for id, creating it on first access.
func (p *Page) Column(id channel.ID) (*Column, error) {
	return p.columns.Get(id)
}

// Fragment returns the fragment of channel id at yLevel.
func (p *Page) Fragment(id channel.ID, yLevel int) (*fragment.Container, error) {
	column, err := p.columns.Get(id)
	if err != nil {
		return nil, err
	}
	if yLevel < 0 || yLevel >= len(column.Fragments) {
		return nil, fmt.Errorf("%w: y-level %d of %d", ErrNoSuchFragment, yLevel, len(column.Fragments))
	}
	return column.Fragments[yLevel], nil
}

// Columns yields the materialized columns in channel order.
func (p *Page) Columns() iter.Seq2[channel.ID, *Column] { return p.columns.All() }

// Fragments yields every fragment of every materialized column.
func (p *Page) Fragments() iter.Seq[*fragment.Container] {
	return func(yield func(*fragment.Container) bool) {
		for _, column := range p.columns.All() {
			for _, f := range column.Fragments {
				if !yield(f) {
					return
				}
			}
		}
	}
}

// Initialise initialises every fragment and attaches it to node. Main
// goroutine only.
func (p *Page) Initialise(node fragment.SceneNode, material, group string) {
	for f := range p.Fragments() {
		if !f.IsInitialised() {
			f.Builder().Initialise(node, material, group)
		}
	}
}

// LinkNeighbor links this page's fragments to other's across side,
// matching channel and Y-level. Only horizontal sides are meaningful.
// Main goroutine only.
func (p *Page) LinkNeighbor(side fragment.Side, other *Page) error {
	if side == fragment.Up || side == fragment.Down {
		return fmt.Errorf("page: cannot link pages across %s", side)
	}
	for id, column := range p.columns.All() {
		otherColumn, err := other.columns.Get(id)
		if err != nil {
			return fmt.Errorf("page: linking channel %d: %w", id, err)
		}
		for yLevel, f := range column.Fragments {
			if yLevel < len(otherColumn.Fragments) {
				fragment.Link(f, side, otherColumn.Fragments[yLevel])
			}
		}
	}
	return nil
}

// SetMaterial applies a material to every fragment.
func (p *Page) SetMaterial(name, group string) {
	for f := range p.Fragments() {
		f.SetMaterial(name, group)
	}
}

// SetRenderQueue moves every fragment's renderable to queue.
func (p *Page) SetRenderQueue(queue uint8) {
	for f := range p.Fragments() {
		f.SetRenderQueue(queue)
	}
}

// Destroy destroys every fragment and drops the columns.
func (p *Page) Destroy() {
	p.columns.Clear()
	p.logger.Debug("page destroyed")
}
