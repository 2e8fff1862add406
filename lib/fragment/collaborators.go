// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fragment

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/bureau-foundation/overhang/lib/channel"
	"github.com/bureau-foundation/overhang/lib/cube"
)

// MetaObject is a procedural field source. A fragment rebuilds its
// grid by resetting the field and applying every meta-object in the
// order they were added.
type MetaObject interface {
	// Bounds returns the world-space box outside which the object
	// contributes nothing.
	Bounds() cube.Box

	// Contribute adds the object's field to the leased region data.
	// The caller owns acc and releases it.
	Contribute(region *cube.Region, acc *cube.Accessor)
}

// Configuration identifies one extracted surface of a fragment.
type Configuration struct {
	LOD    int
	Stitch Stitch
}

func (c Configuration) String() string {
	return fmt.Sprintf("lod %d stitch %s", c.LOD, c.Stitch)
}

// Renderable displays a fragment's surface. It stores configurations
// written by the surface builder on a worker goroutine and is shown on
// the main goroutine, so implementations must be safe for concurrent
// use.
type Renderable interface {
	// HasConfiguration reports whether config has been built from
	// grid generation.
	HasConfiguration(config Configuration, generation uint64) bool

	// Show switches the displayed surface to config. It reports
	// false if no surface has been built for config.
	Show(config Configuration) bool

	SetMaterial(name, group string)
	SetRenderQueue(queue uint8)
}

// SceneNode is the scene-graph node a fragment's renderable is
// attached to. Main goroutine only.
type SceneNode interface {
	Attach(r Renderable)
	Detach(r Renderable)
}

// Factory constructs renderables. Fragments never create one
// themselves.
type Factory interface {
	NewRenderable(fragment *Container) Renderable
}

// RequestID identifies a queued surface build.
type RequestID uint64

// BuildRequest describes one surface extraction.
type BuildRequest struct {
	Channel    channel.ID
	Region     *cube.Region
	Renderable Renderable
	Config     Configuration
	Generation uint64

	// Lease, when set, is a live lease the calling goroutine holds on
	// Region. Build nests inside it instead of leasing again.
	// RequestBuild ignores it.
	Lease *cube.ReadAccessor

	// Done, when set on an asynchronous request, is called on a
	// worker goroutine once the build finishes. It is not called for
	// cancelled builds, and never from inside RequestBuild or
	// CancelBuild.
	Done func(id RequestID, err error)
}

// Ray is a half-line in world space. Direction need not be normalized.
type Ray struct {
	Origin    mgl32.Vec3
	Direction mgl32.Vec3
}

// RayQuery describes an intersection test against one fragment.
type RayQuery struct {
	Channel channel.ID
	Region  *cube.Region
	Ray     Ray
	// Limit is the maximum distance along the ray to search.
	Limit float32
	// Shadow asks for any hit rather than the nearest.
	Shadow bool
	Config Configuration
	// Lease, when set, is a live lease the calling goroutine holds on
	// Region; the query nests inside it.
	Lease *cube.ReadAccessor
}

// SurfaceBuilder extracts isosurfaces. Builders lease regions
// themselves, read-only, or nest inside the lease a request carries.
type SurfaceBuilder interface {
	// Build extracts synchronously.
	Build(request BuildRequest) error

	// RequestBuild queues an extraction and returns immediately.
	RequestBuild(request BuildRequest) RequestID

	// CancelBuild abandons a queued extraction. Cancelling a build
	// that already finished is a no-op.
	CancelBuild(id RequestID)

	// RayQuery reports whether the ray hits the surface within the
	// limit, and at which distance.
	RayQuery(query RayQuery) (hit bool, distance float32)
}
