// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package fragment

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/bureau-foundation/overhang/lib/compress"
	"github.com/bureau-foundation/overhang/lib/cube"
	"github.com/bureau-foundation/overhang/lib/stream"
	"github.com/bureau-foundation/overhang/lib/testutil"
)

const (
	blockedWait = 50 * time.Millisecond
	timeout     = 5 * time.Second
)

type fakeRenderable struct {
	mu       sync.Mutex
	built    map[Configuration]uint64
	shown    Configuration
	material string
	queue    uint8
}

func (r *fakeRenderable) store(config Configuration, generation uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.built[config] = generation
}

func (r *fakeRenderable) HasConfiguration(config Configuration, generation uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	built, ok := r.built[config]
	return ok && built == generation
}

func (r *fakeRenderable) Show(config Configuration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.built[config]; !ok {
		return false
	}
	r.shown = config
	return true
}

func (r *fakeRenderable) SetMaterial(name, group string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.material = name
}

func (r *fakeRenderable) SetRenderQueue(queue uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queue = queue
}

type fakeFactory struct{}

func (fakeFactory) NewRenderable(*Container) Renderable {
	return &fakeRenderable{built: make(map[Configuration]uint64)}
}

type fakeBuilder struct {
	mu        sync.Mutex
	next      RequestID
	queued    map[RequestID]BuildRequest
	cancelled []RequestID
	builds    int
}

func newFakeBuilder() *fakeBuilder {
	return &fakeBuilder{queued: make(map[RequestID]BuildRequest)}
}

// read leases the region the way a real builder samples it.
func (b *fakeBuilder) read(region *cube.Region, held *cube.ReadAccessor) {
	var acc *cube.ReadAccessor
	if held != nil {
		acc = held.Nest()
	} else {
		acc = region.LeaseReadOnly()
	}
	acc.EmptyStatus()
	acc.Release()
}

func (b *fakeBuilder) Build(request BuildRequest) error {
	b.mu.Lock()
	b.builds++
	b.mu.Unlock()
	b.read(request.Region, request.Lease)
	request.Renderable.(*fakeRenderable).store(request.Config, request.Generation)
	return nil
}

func (b *fakeBuilder) RequestBuild(request BuildRequest) RequestID {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.queued[b.next] = request
	return b.next
}

func (b *fakeBuilder) CancelBuild(id RequestID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.queued, id)
	b.cancelled = append(b.cancelled, id)
}

func (b *fakeBuilder) RayQuery(query RayQuery) (bool, float32) {
	b.read(query.Region, query.Lease)
	return false, 0
}

// complete finishes a queued build the way a worker would.
func (b *fakeBuilder) complete(t *testing.T, id RequestID) {
	t.Helper()
	b.mu.Lock()
	request, ok := b.queued[id]
	delete(b.queued, id)
	b.mu.Unlock()
	if !ok {
		t.Fatalf("request %d is not queued", id)
	}
	request.Renderable.(*fakeRenderable).store(request.Config, request.Generation)
	request.Done(id, nil)
}

func (b *fakeBuilder) queuedCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queued)
}

type fakeNode struct {
	attached map[Renderable]bool
}

func (n *fakeNode) Attach(r Renderable) { n.attached[r] = true }
func (n *fakeNode) Detach(r Renderable) { delete(n.attached, r) }

// uniformShift adds delta at every grid point.
type uniformShift struct {
	delta int
}

func (u *uniformShift) Bounds() cube.Box {
	return cube.NewBox(mgl32.Vec3{-1e6, -1e6, -1e6}, mgl32.Vec3{1e6, 1e6, 1e6})
}

func (u *uniformShift) Contribute(region *cube.Region, acc *cube.Accessor) {
	n := acc.Descriptor().Dimension()
	for z := range n {
		for y := range n {
			for x := range n {
				acc.AddValueAt(u.delta, x, y, z)
			}
		}
	}
}

type fixture struct {
	pool    *cube.Pool
	builder *fakeBuilder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	descriptor, err := cube.NewDescriptor(4, 1)
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}
	pool, err := cube.NewPool(cube.PoolConfig{Descriptor: descriptor})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	return &fixture{pool: pool, builder: newFakeBuilder()}
}

func (f *fixture) fragment(t *testing.T, yLevel int, origin mgl32.Vec3) *Container {
	t.Helper()
	c, err := New(Config{
		Tile:    Tile{X: 1, Y: 2},
		YLevel:  yLevel,
		Region:  cube.NewRegion(f.pool, cube.Gradients, origin),
		Factory: fakeFactory{},
		Builder: f.builder,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func (f *fixture) initialised(t *testing.T) *Container {
	t.Helper()
	c := f.fragment(t, 0, mgl32.Vec3{})
	c.Builder().Initialise(nil, testutil.UniqueName("rock"), "terrain")
	return c
}

func TestSharedBlocksUnique(t *testing.T) {
	c := newFixture(t).fragment(t, 0, mgl32.Vec3{})

	first := c.Shared()
	second := c.TryShared()
	if second == nil {
		t.Fatal("TryShared failed beside another shared facet")
	}
	if c.TryUnique() != nil {
		t.Fatal("TryUnique succeeded while shared facets are held")
	}

	acquired := make(chan *Unique, 1)
	go func() { acquired <- c.Unique() }()
	testutil.RequireNoReceive(t, acquired, blockedWait, "Unique while shared")
	first.Release()
	testutil.RequireNoReceive(t, acquired, blockedWait, "Unique while one shared facet remains")
	second.Release()
	unique := testutil.RequireReceive(t, acquired, timeout, "Unique after shared released")

	if c.TryShared() != nil {
		t.Fatal("TryShared succeeded while a unique facet is held")
	}
	shared := make(chan *Shared, 1)
	go func() { shared <- c.Shared() }()
	testutil.RequireNoReceive(t, shared, blockedWait, "Shared while unique")
	unique.Release()
	testutil.RequireReceive(t, shared, timeout, "Shared after unique released").Release()
}

func TestUpgradeIsExclusive(t *testing.T) {
	c := newFixture(t).fragment(t, 0, mgl32.Vec3{})

	upgradable := c.Upgradable()
	if c.TryUpgradable() != nil {
		t.Fatal("second upgradable facet granted")
	}
	if c.TryUnique() != nil {
		t.Fatal("TryUnique succeeded beside an upgradable facet")
	}
	reader := c.TryShared()
	if reader == nil {
		t.Fatal("TryShared failed beside an upgradable facet")
	}

	upgraded := make(chan *Upgraded, 1)
	go func() { upgraded <- upgradable.Upgrade() }()
	testutil.RequireNoReceive(t, upgraded, blockedWait, "Upgrade while a reader holds the lock")

	competitor := make(chan *Upgraded, 1)
	go func() { competitor <- c.Upgradable().Upgrade() }()
	testutil.RequireNoReceive(t, competitor, blockedWait, "second upgrade while one is pending")

	reader.Release()
	writer := testutil.RequireReceive(t, upgraded, timeout, "Upgrade after reader released")
	if c.TryShared() != nil || c.TryUnique() != nil {
		t.Fatal("lock granted against an upgraded facet")
	}
	testutil.RequireNoReceive(t, competitor, blockedWait, "second upgrade against an upgraded facet")

	writer.AddObject(&uniformShift{delta: 1})
	writer.Release()
	testutil.RequireReceive(t, competitor, timeout, "second upgrade after release").Release()

	shared := c.Shared()
	defer shared.Release()
	if shared.ObjectCount() != 1 {
		t.Errorf("ObjectCount() = %d, want 1", shared.ObjectCount())
	}
}

func TestReleasedFacetPanics(t *testing.T) {
	c := newFixture(t).fragment(t, 0, mgl32.Vec3{})
	unique := c.Unique()
	unique.Release()
	unique.Release()

	defer func() {
		if recover() == nil {
			t.Error("AddObject on a released facet did not panic")
		}
	}()
	unique.AddObject(&uniformShift{})
}

func TestUpgradableReleasedAfterUpgrade(t *testing.T) {
	c := newFixture(t).fragment(t, 0, mgl32.Vec3{})
	upgradable := c.Upgradable()
	upgraded := upgradable.Upgrade()
	upgradable.Release()
	upgraded.Release()

	if unique := c.TryUnique(); unique == nil {
		t.Fatal("lock still held after releasing the upgraded facet")
	} else {
		unique.Release()
	}
}

func TestUpdateGridOrderAndGeneration(t *testing.T) {
	f := newFixture(t)

	forward := f.fragment(t, 0, mgl32.Vec3{})
	backward := f.fragment(t, 1, mgl32.Vec3{0, 3, 0})
	add, subtract := &uniformShift{delta: 200}, &uniformShift{delta: -100}

	unique := forward.Unique()
	unique.AddObject(add)
	unique.AddObject(subtract)
	if status := unique.UpdateGrid(); status != cube.Open {
		t.Errorf("forward UpdateGrid() = %v, want open", status)
	}
	acc := unique.LeaseReadOnly()
	// 200 saturates at 127 before the subtraction.
	if got := acc.Value(0); got != 27 {
		t.Errorf("forward value = %d, want 27", got)
	}
	acc.Release()
	unique.Release()

	unique = backward.Unique()
	unique.AddObject(subtract)
	unique.AddObject(add)
	unique.UpdateGrid()
	acc = unique.LeaseReadOnly()
	if got := acc.Value(0); got != 100 {
		t.Errorf("backward value = %d, want 100", got)
	}
	acc.Release()

	if !unique.RemoveObject(add) || unique.RemoveObject(add) {
		t.Error("RemoveObject did not remove exactly once")
	}
	if status := unique.UpdateGrid(); status != cube.Solid {
		t.Errorf("UpdateGrid() after removal = %v, want solid", status)
	}
	unique.Release()

	if got := backward.Generation(); got != 2 {
		t.Errorf("Generation() = %d, want 2", got)
	}
}

func TestGenerateConfiguration(t *testing.T) {
	f := newFixture(t)
	c := f.initialised(t)

	unique := c.Unique()
	defer unique.Release()
	if !unique.GenerateConfiguration(0, StitchNone) {
		t.Fatal("GenerateConfiguration returned false")
	}
	if !unique.GenerateConfiguration(0, StitchNone) {
		t.Fatal("second GenerateConfiguration returned false")
	}
	if f.builder.builds != 1 {
		t.Errorf("builds = %d, want 1", f.builder.builds)
	}
	if !unique.HasConfiguration(0, StitchNone) {
		t.Error("HasConfiguration false after GenerateConfiguration")
	}

	unique.UpdateGrid()
	if unique.HasConfiguration(0, StitchNone) {
		t.Error("configuration still current after UpdateGrid")
	}
	unique.GenerateConfiguration(0, StitchNone)
	if f.builder.builds != 2 {
		t.Errorf("builds = %d, want 2 after rebuild", f.builder.builds)
	}
}

func TestRequestConfigurationDeduplicates(t *testing.T) {
	f := newFixture(t)
	c := f.initialised(t)
	unique := c.Unique()
	defer unique.Release()

	if !unique.RequestConfiguration(1, StitchNone) {
		t.Fatal("first request returned false")
	}
	if unique.RequestConfiguration(1, StitchNone) {
		t.Fatal("duplicate request returned true")
	}
	if got := f.builder.queuedCount(); got != 1 {
		t.Fatalf("queued builds = %d, want 1", got)
	}

	if !unique.RequestConfiguration(0, StitchOf(East)) {
		t.Fatal("request for a different configuration returned false")
	}
	if len(f.builder.cancelled) != 1 || f.builder.cancelled[0] != 1 {
		t.Fatalf("cancelled = %v, want [1]", f.builder.cancelled)
	}
	pending, ok := unique.PendingConfiguration()
	if !ok || pending != (Configuration{LOD: 0, Stitch: StitchOf(East)}) {
		t.Fatalf("PendingConfiguration() = %v, %v", pending, ok)
	}

	f.builder.complete(t, 2)
	if _, ok := unique.PendingConfiguration(); ok {
		t.Error("request still pending after completion")
	}
	if !unique.RequestConfiguration(0, StitchOf(East)) {
		t.Error("request for a built configuration returned false")
	}
	if got := f.builder.queuedCount(); got != 0 {
		t.Errorf("queued builds = %d, want 0", got)
	}
}

func TestUpdateGridCancelsPendingRequest(t *testing.T) {
	f := newFixture(t)
	c := f.initialised(t)
	unique := c.Unique()
	defer unique.Release()

	unique.RequestConfiguration(0, StitchNone)
	unique.UpdateGrid()
	if _, ok := unique.PendingConfiguration(); ok {
		t.Error("request still pending after UpdateGrid")
	}
	if !unique.RequestConfiguration(0, StitchNone) {
		t.Error("request after UpdateGrid was not queued")
	}
}

func TestLinkIsSymmetric(t *testing.T) {
	f := newFixture(t)
	a := f.fragment(t, 0, mgl32.Vec3{})
	b := f.fragment(t, 1, mgl32.Vec3{0, 3, 0})
	other := f.fragment(t, 2, mgl32.Vec3{0, 6, 0})

	Link(a, Up, b)
	if b.Neighbor(Down) != a || a.Neighbor(Up) != b {
		t.Fatal("Link did not set both ends")
	}

	// Relinking b's Up face through a unique facet replaces nothing
	// on a.
	unique := b.Unique()
	unique.LinkNeighbor(Up, other)
	unique.Release()
	if other.Neighbor(Down) != b || a.Neighbor(Up) != b {
		t.Fatal("LinkNeighbor disturbed an unrelated link")
	}

	// Unlinking from the far side clears both ends.
	if former := Unlink(b, Down); former != a {
		t.Fatalf("Unlink returned %p, want %p", former, a)
	}
	if a.Neighbor(Up) != nil || b.Neighbor(Down) != nil {
		t.Fatal("Unlink left a one-sided link")
	}

	// Linking onto an occupied face unlinks the previous neighbor.
	Link(a, Up, other)
	if b.Neighbor(Up) != nil {
		t.Error("previous neighbor still linked to the replaced face")
	}
	if other.Neighbor(Down) != a {
		t.Error("new link not symmetric")
	}
}

func TestNeighborFlags(t *testing.T) {
	f := newFixture(t)
	center := f.fragment(t, 0, mgl32.Vec3{})
	finer := f.fragment(t, 0, mgl32.Vec3{3, 0, 0})
	coarser := f.fragment(t, 0, mgl32.Vec3{-3, 0, 0})
	hidden := f.fragment(t, 1, mgl32.Vec3{0, 3, 0})

	Link(center, East, finer)
	Link(center, West, coarser)
	Link(center, Up, hidden)
	finer.SetRenderLOD(0)
	coarser.SetRenderLOD(2)

	if got := center.NeighborFlags(1); got != StitchOf(East) {
		t.Errorf("NeighborFlags(1) = %v, want east", got)
	}
	if got := center.NeighborFlags(0); got != StitchNone {
		t.Errorf("NeighborFlags(0) = %v, want none", got)
	}
	if got := center.NeighborFlags(3); got != StitchOf(East)|StitchOf(West) {
		t.Errorf("NeighborFlags(3) = %v, want east+west", got)
	}
}

func TestUpdateSurface(t *testing.T) {
	f := newFixture(t)
	c := f.initialised(t)
	if c.UpdateSurface(0, StitchNone) {
		t.Fatal("UpdateSurface succeeded before any build")
	}
	unique := c.Unique()
	unique.GenerateConfiguration(0, StitchNone)
	unique.Release()

	if !c.UpdateSurface(0, StitchNone) {
		t.Fatal("UpdateSurface failed after GenerateConfiguration")
	}
	if c.RenderLOD() != 0 {
		t.Errorf("RenderLOD() = %d, want 0", c.RenderLOD())
	}
	if shown := c.renderable.(*fakeRenderable).shown; shown != (Configuration{}) {
		t.Errorf("shown = %v", shown)
	}
}

func TestInitialiseTwicePanics(t *testing.T) {
	c := newFixture(t).initialised(t)
	defer func() {
		if recover() == nil {
			t.Error("second Initialise did not panic")
		}
	}()
	c.Builder().Initialise(nil, "rock", "terrain")
}

func TestDestroy(t *testing.T) {
	f := newFixture(t)
	a := f.fragment(t, 0, mgl32.Vec3{})
	b := f.fragment(t, 1, mgl32.Vec3{0, 3, 0})
	node := &fakeNode{attached: make(map[Renderable]bool)}
	a.Builder().Initialise(node, "rock", "terrain")
	a.Builder().LinkNeighbor(Up, b)

	unique := a.Unique()
	unique.RequestConfiguration(0, StitchNone)
	unique.Release()

	a.Builder().Destroy()
	a.Builder().Destroy()
	if len(node.attached) != 0 {
		t.Error("renderable still attached after Destroy")
	}
	if b.Neighbor(Down) != nil {
		t.Error("neighbor still linked after Destroy")
	}
	if len(f.builder.cancelled) != 1 {
		t.Errorf("cancelled = %v, want the pending request", f.builder.cancelled)
	}
	if !a.IsDestroyed() {
		t.Error("IsDestroyed() = false")
	}
}

func TestSerializeRoundTrip(t *testing.T) {
	f := newFixture(t)
	source := f.initialised(t)
	source.SetMaterial("granite", "cliffs")

	type note struct {
		Author string `cbor:"author"`
		Depth  int    `cbor:"depth"`
	}
	unique := source.Unique()
	unique.AddObject(&uniformShift{delta: -30})
	unique.UpdateGrid()
	if err := unique.SetCustomData(note{Author: "survey", Depth: 12}); err != nil {
		t.Fatalf("SetCustomData: %v", err)
	}
	var buffer bytes.Buffer
	written, err := unique.WriteTo(stream.NewWriter(&buffer), compress.Zstd)
	if err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	unique.Release()

	target := f.fragment(t, 0, mgl32.Vec3{})
	unique = target.Unique()
	defer unique.Release()
	read, err := unique.ReadFrom(stream.NewReader(&buffer))
	if err != nil {
		t.Fatalf("ReadFrom: %v", err)
	}
	if read != written {
		t.Errorf("digest = %x, want %x", read, written)
	}
	if name, group := unique.Material(); name != "granite" || group != "cliffs" {
		t.Errorf("Material() = %q, %q", name, group)
	}
	var got note
	if err := unique.CustomData(&got); err != nil {
		t.Fatalf("CustomData: %v", err)
	}
	if got != (note{Author: "survey", Depth: 12}) {
		t.Errorf("CustomData = %+v", got)
	}
	if unique.EmptyStatus() != cube.Solid {
		t.Errorf("EmptyStatus() = %v, want solid", unique.EmptyStatus())
	}
}

func TestReadFromWrongLevel(t *testing.T) {
	f := newFixture(t)
	source := f.fragment(t, 3, mgl32.Vec3{})
	var buffer bytes.Buffer
	shared := source.Shared()
	if _, err := shared.WriteTo(stream.NewWriter(&buffer), compress.LZ4); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	shared.Release()

	target := f.fragment(t, 4, mgl32.Vec3{})
	unique := target.Unique()
	defer unique.Release()
	if _, err := unique.ReadFrom(stream.NewReader(&buffer)); !errors.Is(err, ErrYLevelMismatch) {
		t.Errorf("ReadFrom error = %v, want ErrYLevelMismatch", err)
	}
	if err := unique.CustomData(new(int)); !errors.Is(err, ErrNoCustomData) {
		t.Errorf("CustomData error = %v, want ErrNoCustomData", err)
	}
}

func TestFacetOperationsNestInHeldLease(t *testing.T) {
	f := newFixture(t)
	region := cube.NewRegion(f.pool, cube.Gradients, mgl32.Vec3{})
	var released atomic.Int32
	region.SetReleaseHook(func() { released.Add(1) })
	c, err := New(Config{Region: region, Factory: fakeFactory{}, Builder: f.builder})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	c.Builder().Initialise(nil, "rock", "terrain")
	c.Builder().AddObject(&uniformShift{delta: -5})
	down := Ray{Origin: mgl32.Vec3{1, 5, 1}, Direction: mgl32.Vec3{0, -1, 0}}

	errs := make(chan error, 1)
	go func() {
		errs <- func() error {
			unique := c.Unique()
			defer unique.Release()
			lease := unique.Lease()
			defer lease.Release()

			if status := unique.UpdateGrid(); status != cube.Solid {
				return fmt.Errorf("UpdateGrid() = %v, want solid", status)
			}
			unique.GenerateConfiguration(0, StitchNone)
			unique.RayQuery(down, 10, false, 0, StitchNone)
			var buffer bytes.Buffer
			if _, err := unique.WriteTo(stream.NewWriter(&buffer), compress.LZ4); err != nil {
				return err
			}
			if _, err := unique.ReadFrom(stream.NewReader(&buffer)); err != nil {
				return err
			}
			unique.LeaseReadOnly().Release()
			if got := lease.ValueAt(0, 0, 0); got != -5 {
				return fmt.Errorf("held lease sees %d, want -5", got)
			}
			return nil
		}()
	}()
	if err := testutil.RequireReceive(t, errs, timeout, "unique facet operations under a held lease"); err != nil {
		t.Fatal(err)
	}
	if got := released.Load(); got != 1 {
		t.Errorf("release hook ran %d times under the unique facet, want 1", got)
	}
	f.builder.mu.Lock()
	builds := f.builder.builds
	f.builder.mu.Unlock()
	if builds != 1 {
		t.Errorf("GenerateConfiguration under a held lease ran %d builds, want 1", builds)
	}

	go func() {
		errs <- func() error {
			shared := c.Shared()
			defer shared.Release()
			lease := shared.LeaseReadOnly()
			defer lease.Release()

			shared.RayQuery(down, 10, true, 0, StitchNone)
			if _, err := shared.WriteTo(stream.NewWriter(&bytes.Buffer{}), compress.None); err != nil {
				return err
			}
			shared.LeaseReadOnly().Release()
			return nil
		}()
	}()
	if err := testutil.RequireReceive(t, errs, timeout, "shared facet operations under a held lease"); err != nil {
		t.Fatal(err)
	}
	if got := released.Load(); got != 2 {
		t.Errorf("release hook ran %d times in total, want 2", got)
	}
}

func TestUpgradeWithHeldLeasePanics(t *testing.T) {
	c := newFixture(t).fragment(t, 0, mgl32.Vec3{})
	upgradable := c.Upgradable()
	lease := upgradable.LeaseReadOnly()
	defer func() {
		if recover() == nil {
			t.Error("Upgrade with a live lease did not panic")
		}
		lease.Release()
		upgradable.Release()
		if unique := c.TryUnique(); unique == nil {
			t.Error("lock still held after releasing the upgradable facet")
		} else {
			unique.Release()
		}
	}()
	upgradable.Upgrade()
}
