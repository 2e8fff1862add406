// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package surface

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/bureau-foundation/overhang/lib/fragment"
)

// Surface is one extracted configuration.
type Surface struct {
	Config     fragment.Configuration
	Generation uint64
	// Vertices are world-space surface points, one per crossing cell.
	Vertices []mgl32.Vec3
	// TransitionCells counts crossing cells on stitched faces.
	TransitionCells int
}

// Renderable stores a fragment's surfaces. It is safe for concurrent
// use.
type Renderable struct {
	mu       sync.Mutex
	surfaces map[fragment.Configuration]*Surface
	shown    *Surface
	material string
	group    string
	queue    uint8
}

// NewRenderable returns an empty renderable.
func NewRenderable() *Renderable {
	return &Renderable{surfaces: make(map[fragment.Configuration]*Surface)}
}

func (r *Renderable) store(surface *Surface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if previous, ok := r.surfaces[surface.Config]; ok && previous.Generation > surface.Generation {
		return
	}
	r.surfaces[surface.Config] = surface
}

// HasConfiguration reports whether config was built from generation.
func (r *Renderable) HasConfiguration(config fragment.Configuration, generation uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	surface, ok := r.surfaces[config]
	return ok && surface.Generation == generation
}

// Show selects config for display.
func (r *Renderable) Show(config fragment.Configuration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	surface, ok := r.surfaces[config]
	if !ok {
		return false
	}
	r.shown = surface
	return true
}

// Shown returns the displayed surface, or nil.
func (r *Renderable) Shown() *Surface {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.shown
}

// Surface returns the stored surface for config, or nil.
func (r *Renderable) Surface(config fragment.Configuration) *Surface {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.surfaces[config]
}

// SetMaterial records the material.
func (r *Renderable) SetMaterial(name, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.material, r.group = name, group
}

// Material returns the material name and group.
func (r *Renderable) Material() (name, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.material, r.group
}

// SetRenderQueue records the render queue.
func (r *Renderable) SetRenderQueue(queue uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = queue
}

// RenderQueue returns the render queue.
func (r *Renderable) RenderQueue() uint8 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.queue
}

// Factory creates Renderables for fragments.
type Factory struct{}

// NewRenderable implements fragment.Factory.
func (Factory) NewRenderable(*fragment.Container) fragment.Renderable {
	return NewRenderable()
}

// Node is a scene node. It is safe for concurrent use, though the
// fragment protocol only touches it from the main goroutine.
type Node struct {
	Name string

	mu       sync.Mutex
	attached []fragment.Renderable
}

// Attach adds r to the node.
func (n *Node) Attach(r fragment.Renderable) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.attached = append(n.attached, r)
}

// Detach removes r from the node.
func (n *Node) Detach(r fragment.Renderable) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i, attached := range n.attached {
		if attached == r {
			n.attached = append(n.attached[:i], n.attached[i+1:]...)
			return
		}
	}
}

// Len returns the number of attached renderables.
func (n *Node) Len() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.attached)
}
