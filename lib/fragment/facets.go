// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fragment

import (
	"iter"
	"slices"

	"github.com/bureau-foundation/overhang/lib/codec"
	"github.com/bureau-foundation/overhang/lib/cube"
)

// reader carries the operations available under a read lock.
type reader struct {
	fragment *Container
	released bool

	// leases are the accessors handed out through this facet.
	// Operations that touch the voxel field nest inside a live one
	// rather than leasing the region again.
	leases []*cube.ReadAccessor
}

// heldLease returns a live accessor handed out through the facet, or
// nil.
func (r *reader) heldLease() *cube.ReadAccessor {
	for _, lease := range r.leases {
		if !lease.Released() {
			return lease
		}
	}
	return nil
}

func (r *reader) remember(lease *cube.ReadAccessor) {
	r.leases = slices.DeleteFunc(r.leases, func(l *cube.ReadAccessor) bool { return l.Released() })
	r.leases = append(r.leases, lease)
}

func (r *reader) container() *Container {
	if r.released {
		panic("fragment: use of released facet")
	}
	return r.fragment
}

// Container returns the fragment the facet was taken on.
func (r *reader) Container() *Container { return r.container() }

// Objects yields the meta-objects in insertion order.
func (r *reader) Objects() iter.Seq[MetaObject] {
	c := r.container()
	return slices.Values(c.objects)
}

// ObjectCount returns the number of meta-objects.
func (r *reader) ObjectCount() int { return len(r.container().objects) }

// EmptyStatus returns the classification computed by the last grid
// rebuild.
func (r *reader) EmptyStatus() cube.EmptyStatus { return r.container().status }

// LeaseReadOnly leases the voxel field for reading. While an accessor
// from this facet is live, further leases nest inside it, so the
// holder may call any other facet method without deadlocking.
func (r *reader) LeaseReadOnly() *cube.ReadAccessor {
	c := r.container()
	var lease *cube.ReadAccessor
	if held := r.heldLease(); held != nil {
		lease = held.Nest()
	} else {
		lease = c.region.LeaseReadOnly()
	}
	r.remember(lease)
	return lease
}

// Material returns the material name and group.
func (r *reader) Material() (name, group string) {
	c := r.container()
	return c.material, c.group
}

// HasCustomData reports whether custom data is attached.
func (r *reader) HasCustomData() bool { return r.container().customData != nil }

// CustomData decodes the attached custom data into v. It returns
// ErrNoCustomData if none is attached.
func (r *reader) CustomData(v any) error {
	c := r.container()
	if c.customData == nil {
		return ErrNoCustomData
	}
	return codec.Unmarshal(c.customData, v)
}

// HasConfiguration reports whether the renderable holds a surface for
// (lod, stitch) built from the current grid.
func (r *reader) HasConfiguration(lod int, stitch Stitch) bool {
	c := r.container()
	if !c.IsInitialised() {
		return false
	}
	return c.renderable.HasConfiguration(Configuration{LOD: lod, Stitch: stitch}, c.Generation())
}

// PendingConfiguration returns the configuration of the outstanding
// background build, if any.
func (r *reader) PendingConfiguration() (Configuration, bool) {
	c := r.container()
	c.requestMu.Lock()
	defer c.requestMu.Unlock()
	if c.pending == nil {
		return Configuration{}, false
	}
	return c.pending.config, true
}

// RayQuery intersects ray with the fragment's surface at (lod, stitch),
// searching up to limit. With shadow set any hit will do.
func (r *reader) RayQuery(ray Ray, limit float32, shadow bool, lod int, stitch Stitch) (hit bool, distance float32) {
	c := r.container()
	return c.builder.RayQuery(RayQuery{
		Channel: c.channel,
		Region:  c.region,
		Ray:     ray,
		Limit:   limit,
		Shadow:  shadow,
		Config:  Configuration{LOD: lod, Stitch: stitch},
		Lease:   r.heldLease(),
	})
}

// writer adds the operations available under the write lock.
type writer struct {
	reader

	// writeLeases are the writable accessors handed out. Each is also
	// recorded in reader.leases as its read view.
	writeLeases []*cube.Accessor
}

func (w *writer) heldWriteLease() *cube.Accessor {
	for _, lease := range w.writeLeases {
		if !lease.Released() {
			return lease
		}
	}
	return nil
}

// writeLease nests inside a held writable accessor or leases the
// region. The result is not remembered; the caller releases it.
func (w *writer) writeLease() *cube.Accessor {
	if held := w.heldWriteLease(); held != nil {
		return held.Nest()
	}
	return w.container().region.Lease()
}

// AddObject appends a meta-object. Call UpdateGrid to apply it.
func (w *writer) AddObject(object MetaObject) {
	c := w.container()
	c.objects = append(c.objects, object)
}

// RemoveObject removes the first occurrence of object and reports
// whether it was present.
func (w *writer) RemoveObject(object MetaObject) bool {
	c := w.container()
	index := slices.Index(c.objects, object)
	if index < 0 {
		return false
	}
	c.objects = slices.Delete(c.objects, index, index+1)
	return true
}

// Lease leases the voxel field for writing. While an accessor from
// this facet is live, further leases nest inside it.
func (w *writer) Lease() *cube.Accessor {
	lease := w.writeLease()
	w.writeLeases = slices.DeleteFunc(w.writeLeases, func(l *cube.Accessor) bool { return l.Released() })
	w.writeLeases = append(w.writeLeases, lease)
	w.remember(&lease.ReadAccessor)
	return lease
}

// LeaseReadOnly leases the voxel field for reading. Under the write
// lock this is a read view of a writable lease, so Lease may follow
// it without deadlocking.
func (w *writer) LeaseReadOnly() *cube.ReadAccessor { return &w.Lease().ReadAccessor }

// SetCustomData encodes v and attaches it. A nil v detaches any
// custom data.
func (w *writer) SetCustomData(v any) error {
	c := w.container()
	if v == nil {
		c.customData = nil
		return nil
	}
	data, err := codec.Marshal(v)
	if err != nil {
		return err
	}
	c.customData = data
	return nil
}

// UpdateGrid rebuilds the voxel field from scratch: it resets the
// field, applies every meta-object whose bounds touch the fragment in
// insertion order, recomputes gradients when the region carries them,
// and starts a new generation so previously built surfaces count as
// stale. Any outstanding build request is cancelled. It returns the
// classification of the new field.
//
// Rebuilding resamples every grid point; run it on a background
// worker.
func (w *writer) UpdateGrid() cube.EmptyStatus {
	c := w.container()
	box := c.region.Box()

	acc := w.writeLease()
	defer acc.Release()
	acc.Reset()
	for _, object := range c.objects {
		if object.Bounds().Intersects(box) {
			object.Contribute(c.region, acc)
		}
	}
	if acc.Flags().Has(cube.Gradients) {
		acc.UpdateGradients()
	}
	c.status = acc.EmptyStatus()
	c.generation.Add(1)
	c.cancelPending("grid rebuilt")
	return c.status
}

// GenerateConfiguration builds the surface for (lod, stitch)
// synchronously unless it already exists. It always returns true:
// build failures are logged by the fragment and are the builder's
// concern.
func (w *writer) GenerateConfiguration(lod int, stitch Stitch) bool {
	c := w.container()
	c.mustBeInitialised("GenerateConfiguration")
	config := Configuration{LOD: lod, Stitch: stitch}
	generation := c.Generation()
	if c.renderable.HasConfiguration(config, generation) {
		return true
	}
	request := c.buildRequest(config, generation)
	request.Lease = w.heldLease()
	if err := c.builder.Build(request); err != nil {
		c.logger.Warn("surface build failed", "config", config, "error", err)
	}
	return true
}

// RequestConfiguration makes sure the surface for (lod, stitch) is
// available or being built. It returns true when the surface already
// exists or a build was queued now, and false when the same
// configuration is already in flight; poll again later. Requesting a
// different configuration cancels the outstanding one.
func (w *writer) RequestConfiguration(lod int, stitch Stitch) bool {
	c := w.container()
	c.mustBeInitialised("RequestConfiguration")
	config := Configuration{LOD: lod, Stitch: stitch}
	generation := c.Generation()
	if c.renderable.HasConfiguration(config, generation) {
		return true
	}

	c.requestMu.Lock()
	defer c.requestMu.Unlock()
	if c.pending != nil {
		if c.pending.config == config {
			return false
		}
		c.builder.CancelBuild(c.pending.id)
		c.logger.Debug("surface request superseded", "stale", c.pending.config, "config", config)
	}
	request := c.buildRequest(config, generation)
	request.Done = c.configurationBuilt
	c.pending = &pendingRequest{id: c.builder.RequestBuild(request), config: config}
	return true
}

// ConfigurationBuilt clears the outstanding request if it is id.
func (w *writer) ConfigurationBuilt(id RequestID) {
	w.container().configurationBuilt(id, nil)
}

// LinkNeighbor links other across side. See Link.
func (w *writer) LinkNeighbor(side Side, other *Container) {
	Link(w.container(), side, other)
}

// UnlinkNeighbor removes the neighbor across side from both ends.
func (w *writer) UnlinkNeighbor(side Side) *Container {
	return Unlink(w.container(), side)
}

func (c *Container) buildRequest(config Configuration, generation uint64) BuildRequest {
	return BuildRequest{
		Channel:    c.channel,
		Region:     c.region,
		Renderable: c.renderable,
		Config:     config,
		Generation: generation,
	}
}

func (c *Container) mustBeInitialised(operation string) {
	if !c.IsInitialised() {
		panic("fragment: " + operation + " before Initialise")
	}
}

// Shared is the read-lock facet.
type Shared struct{ reader }

// Release drops the read lock. Further calls are no-ops.
func (s *Shared) Release() {
	if s.released {
		return
	}
	s.released = true
	s.fragment.lock.RUnlock()
}

// Unique is the write-lock facet.
type Unique struct{ writer }

// Release drops the write lock. Further calls are no-ops.
func (u *Unique) Release() {
	if u.released {
		return
	}
	u.released = true
	u.fragment.lock.Unlock()
}

// Upgradable is a read facet that can be converted to Upgraded.
type Upgradable struct{ reader }

// Upgrade converts the facet to a write facet without releasing the
// lock, waiting for other readers to finish. The Upgradable facet is
// released; use and release the returned facet instead. Upgrading
// while an accessor from the facet is live panics: the wait for
// readers could never end if one of them needs the region.
func (u *Upgradable) Upgrade() *Upgraded {
	c := u.container()
	if u.heldLease() != nil {
		panic("fragment: Upgrade with an outstanding lease")
	}
	u.released = true
	c.lock.Upgrade()
	return &Upgraded{writer{reader: reader{fragment: c}}}
}

// Release drops the upgradable lock if it was not upgraded. Further
// calls are no-ops.
func (u *Upgradable) Release() {
	if u.released {
		return
	}
	u.released = true
	u.fragment.lock.UnlockUpgradable()
}

// Upgraded is the write facet obtained from Upgradable.Upgrade. It
// offers everything Unique does.
type Upgraded struct{ writer }

// Release drops the write lock. Further calls are no-ops.
func (u *Upgraded) Release() {
	if u.released {
		return
	}
	u.released = true
	u.fragment.lock.Unlock()
}

// Shared takes the read lock.
func (c *Container) Shared() *Shared {
	c.lock.RLock()
	return &Shared{reader{fragment: c}}
}

// TryShared takes the read lock if possible without blocking, or
// returns nil.
func (c *Container) TryShared() *Shared {
	if !c.lock.TryRLock() {
		return nil
	}
	return &Shared{reader{fragment: c}}
}

// Unique takes the write lock.
func (c *Container) Unique() *Unique {
	c.lock.Lock()
	return &Unique{writer{reader: reader{fragment: c}}}
}

// TryUnique takes the write lock if possible without blocking, or
// returns nil.
func (c *Container) TryUnique() *Unique {
	if !c.lock.TryLock() {
		return nil
	}
	return &Unique{writer{reader: reader{fragment: c}}}
}

// Upgradable takes the upgradable read lock.
func (c *Container) Upgradable() *Upgradable {
	c.lock.LockUpgradable()
	return &Upgradable{reader{fragment: c}}
}

// TryUpgradable takes the upgradable read lock if possible without
// blocking, or returns nil.
func (c *Container) TryUpgradable() *Upgradable {
	if !c.lock.TryLockUpgradable() {
		return nil
	}
	return &Upgradable{reader{fragment: c}}
}
