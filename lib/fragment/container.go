// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fragment

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/bureau-foundation/overhang/lib/channel"
	"github.com/bureau-foundation/overhang/lib/codec"
	"github.com/bureau-foundation/overhang/lib/cube"
	"github.com/bureau-foundation/overhang/lib/rwupgrade"
)

// NoLOD is the render LOD of a fragment that is not displayed.
const NoLOD = -1

// Tile identifies the terrain page a fragment belongs to.
type Tile struct {
	X, Y int32
}

func (t Tile) String() string { return fmt.Sprintf("(%d, %d)", t.X, t.Y) }

// Config holds the parameters for a new fragment.
type Config struct {
	Tile    Tile
	Channel channel.ID
	// YLevel is the fragment's vertical position within its column.
	YLevel int

	// Region is the fragment's voxel cube. Required; the fragment
	// takes ownership and closes it on Destroy.
	Region *cube.Region

	// Factory creates the renderable at Initialise. Required.
	Factory Factory

	// Builder extracts surfaces. Required.
	Builder SurfaceBuilder

	// Logger receives debug messages. If nil, a no-op logger is used.
	Logger *slog.Logger
}

// post is the state that is fixed or main-goroutine owned once the
// fragment is initialised.
type post struct {
	region     *cube.Region
	yLevel     int
	renderable Renderable
	node       SceneNode

	// material and group are guarded by core.lock.
	material string
	group    string
	// customData is a CBOR document, guarded by core.lock.
	customData codec.RawMessage
}

// core is the lock-protected mutable state.
type core struct {
	lock rwupgrade.Mutex

	objects []MetaObject
	status  cube.EmptyStatus

	// requestMu guards pending. Build completions clear it from
	// worker goroutines without taking lock.
	requestMu sync.Mutex
	pending   *pendingRequest

	// generation counts grid rebuilds. Written under lock, read
	// lock-free on the main goroutine.
	generation atomic.Uint64

	neighbors [SideCount]atomic.Pointer[Container]
	renderLOD atomic.Int32
}

type pendingRequest struct {
	id     RequestID
	config Configuration
}

// Container is the handle other subsystems hold for a fragment.
type Container struct {
	tile    Tile
	channel channel.ID
	factory Factory
	builder SurfaceBuilder
	logger  *slog.Logger

	initialised atomic.Bool
	destroyed   atomic.Bool

	core
	post
}

// New returns an uninitialised fragment owning config.Region.
func New(config Config) (*Container, error) {
	if config.Region == nil {
		return nil, errors.New("fragment: config requires a region")
	}
	if config.Factory == nil || config.Builder == nil {
		return nil, errors.New("fragment: config requires a factory and a surface builder")
	}
	if config.YLevel < math.MinInt16 || config.YLevel > math.MaxInt16 {
		return nil, fmt.Errorf("fragment: y-level %d out of range", config.YLevel)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	c := &Container{
		tile:    config.Tile,
		channel: config.Channel,
		factory: config.Factory,
		builder: config.Builder,
		logger: logger.With(
			"tile", config.Tile,
			"channel", config.Channel,
			"y_level", config.YLevel,
		),
		post: post{
			region: config.Region,
			yLevel: config.YLevel,
		},
	}
	c.core.status = config.Region.EmptyStatus()
	c.renderLOD.Store(NoLOD)
	return c, nil
}

// Tile returns the owning page.
func (c *Container) Tile() Tile { return c.tile }

// Channel returns the terrain channel.
func (c *Container) Channel() channel.ID { return c.channel }

// YLevel returns the vertical position within the column.
func (c *Container) YLevel() int { return c.yLevel }

// Box returns the world-space bounds of the fragment's grid.
func (c *Container) Box() cube.Box { return c.region.Box() }

// Neighbor returns the fragment across side, or nil.
func (c *Container) Neighbor(side Side) *Container { return c.neighbors[side].Load() }

// IsInitialised reports whether Initialise has run.
func (c *Container) IsInitialised() bool { return c.initialised.Load() }

// Generation returns the number of grid rebuilds so far.
func (c *Container) Generation() uint64 { return c.generation.Load() }

// RenderLOD returns the LOD the fragment is currently displayed at,
// or NoLOD.
func (c *Container) RenderLOD() int { return int(c.renderLOD.Load()) }

// SetRenderLOD records the LOD chosen by the camera. Main goroutine
// only.
func (c *Container) SetRenderLOD(lod int) { c.renderLOD.Store(int32(lod)) }

// NeighborFlags returns the sides whose neighbor renders at a finer
// LOD than lod and so needs transition cells on this fragment. Main
// goroutine only.
func (c *Container) NeighborFlags(lod int) Stitch {
	var stitch Stitch
	for side := Side(0); side < SideCount; side++ {
		neighbor := c.Neighbor(side)
		if neighbor == nil {
			continue
		}
		if neighborLOD := neighbor.RenderLOD(); neighborLOD != NoLOD && neighborLOD < lod {
			stitch |= StitchOf(side)
		}
	}
	return stitch
}

// UpdateSurface shows the configuration for (lod, stitch) if it has
// been built from the current grid, and records lod as the render LOD.
// It reports false when the configuration is not available yet; the
// caller should request it and try again. Main goroutine only.
func (c *Container) UpdateSurface(lod int, stitch Stitch) bool {
	if !c.IsInitialised() {
		return false
	}
	config := Configuration{LOD: lod, Stitch: stitch}
	if !c.renderable.HasConfiguration(config, c.Generation()) {
		return false
	}
	if !c.renderable.Show(config) {
		return false
	}
	c.SetRenderLOD(lod)
	return true
}

// SetMaterial changes the material name and group, applying it to the
// renderable if there is one. Takes the write lock.
func (c *Container) SetMaterial(name, group string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.material, c.group = name, group
	if c.IsInitialised() {
		c.renderable.SetMaterial(name, group)
	}
}

// SetRenderQueue moves the renderable to another render queue. No-op
// before Initialise. Main goroutine only.
func (c *Container) SetRenderQueue(queue uint8) {
	if c.IsInitialised() {
		c.renderable.SetRenderQueue(queue)
	}
}

// configurationBuilt clears the pending request if it is id. Called
// by the surface builder on a worker goroutine.
func (c *Container) configurationBuilt(id RequestID, err error) {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()
	if c.pending == nil || c.pending.id != id {
		return
	}
	if err != nil {
		c.logger.Warn("surface build failed", "config", c.pending.config, "error", err)
	} else {
		c.logger.Debug("surface built", "config", c.pending.config)
	}
	c.pending = nil
}

// cancelPending abandons any outstanding build request.
func (c *Container) cancelPending(reason string) {
	c.requestMu.Lock()
	defer c.requestMu.Unlock()
	if c.pending == nil {
		return
	}
	c.builder.CancelBuild(c.pending.id)
	c.logger.Debug("surface request cancelled", "config", c.pending.config, "reason", reason)
	c.pending = nil
}
