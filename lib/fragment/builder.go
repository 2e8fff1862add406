// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fragment

// Builder is the construction and teardown facet. It takes no lock:
// the caller must own the fragment exclusively, meaning no background
// worker can reach it yet or any more.
type Builder struct {
	fragment *Container
}

// Builder returns the construction facet.
func (c *Container) Builder() *Builder { return &Builder{fragment: c} }

// Initialise creates the renderable through the factory, applies the
// material, and attaches it to node. Main goroutine only. Calling it
// twice panics.
func (b *Builder) Initialise(node SceneNode, material, group string) {
	c := b.fragment
	if c.destroyed.Load() {
		panic("fragment: Initialise on destroyed fragment")
	}
	if c.IsInitialised() {
		panic("fragment: Initialise called twice")
	}
	c.renderable = c.factory.NewRenderable(c)
	c.material, c.group = material, group
	c.renderable.SetMaterial(material, group)
	if node != nil {
		node.Attach(c.renderable)
		c.node = node
	}
	c.initialised.Store(true)
	c.logger.Debug("fragment initialised", "material", material)
}

// AddObject appends a meta-object without locking.
func (b *Builder) AddObject(object MetaObject) {
	b.fragment.objects = append(b.fragment.objects, object)
}

// LinkNeighbor links other across side. See Link.
func (b *Builder) LinkNeighbor(side Side, other *Container) {
	Link(b.fragment, side, other)
}

// SetMaterial changes the material without locking.
func (b *Builder) SetMaterial(name, group string) {
	c := b.fragment
	c.material, c.group = name, group
	if c.IsInitialised() {
		c.renderable.SetMaterial(name, group)
	}
}

// DetachFromScene detaches the renderable from its scene node. Main
// goroutine only.
func (b *Builder) DetachFromScene() {
	c := b.fragment
	if c.node != nil {
		c.node.Detach(c.renderable)
		c.node = nil
	}
}

// Destroy tears the fragment down: it cancels any outstanding build,
// detaches from the scene, unlinks every neighbor, drops the
// meta-objects, and closes the region. Calling it again is a no-op.
func (b *Builder) Destroy() {
	c := b.fragment
	if !c.destroyed.CompareAndSwap(false, true) {
		return
	}
	c.cancelPending("fragment destroyed")
	b.DetachFromScene()
	for side := Side(0); side < SideCount; side++ {
		Unlink(c, side)
	}
	c.objects = nil
	c.region.Close()
	c.logger.Debug("fragment destroyed")
}

// IsDestroyed reports whether Destroy has run.
func (c *Container) IsDestroyed() bool { return c.destroyed.Load() }
