// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package surface

import (
	"errors"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/bureau-foundation/overhang/lib/cube"
	"github.com/bureau-foundation/overhang/lib/dispatch"
	"github.com/bureau-foundation/overhang/lib/fragment"
	"github.com/bureau-foundation/overhang/lib/metaobj"
	"github.com/bureau-foundation/overhang/lib/testutil"
)

// halfSolid returns a 9³ region whose lower half (world y < 4) is
// solid.
func halfSolid(t *testing.T) *cube.Region {
	t.Helper()
	descriptor, err := cube.NewDescriptor(9, 1)
	if err != nil {
		t.Fatalf("NewDescriptor: %v", err)
	}
	pool, err := cube.NewPool(cube.PoolConfig{Descriptor: descriptor})
	if err != nil {
		t.Fatalf("NewPool: %v", err)
	}
	region := cube.NewRegion(pool, 0, mgl32.Vec3{})
	acc := region.Lease()
	acc.Reset()
	ground := &metaobj.Heightmap{Height: func(x, z float32) float32 { return 3.5 }, Strength: 10}
	ground.Contribute(region, acc)
	acc.Release()
	return region
}

func newBuilder(t *testing.T) (*Builder, *dispatch.Queue) {
	t.Helper()
	queue := dispatch.New(dispatch.Config{Workers: 2})
	t.Cleanup(queue.StopAndWait)
	builder, err := NewBuilder(Config{Queue: queue})
	if err != nil {
		t.Fatalf("NewBuilder: %v", err)
	}
	return builder, queue
}

func TestBuildFlatSurface(t *testing.T) {
	builder, _ := newBuilder(t)
	region := halfSolid(t)
	renderable := NewRenderable()

	config := fragment.Configuration{LOD: 0}
	err := builder.Build(fragment.BuildRequest{Region: region, Renderable: renderable, Config: config, Generation: 3})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if !renderable.HasConfiguration(config, 3) || renderable.HasConfiguration(config, 2) {
		t.Fatal("HasConfiguration does not track the build generation")
	}
	surface := renderable.Surface(config)
	// One crossing cell per (x, z) column of the 8×8 cell grid.
	if len(surface.Vertices) != 64 {
		t.Fatalf("vertices = %d, want 64", len(surface.Vertices))
	}
	for _, vertex := range surface.Vertices {
		if vertex.Y() < 3.4 || vertex.Y() > 3.6 {
			t.Fatalf("vertex %v is off the surface at y = 3.5", vertex)
		}
	}
	if surface.TransitionCells != 0 {
		t.Errorf("TransitionCells = %d without stitching", surface.TransitionCells)
	}

	coarse := fragment.Configuration{LOD: 1, Stitch: fragment.StitchOf(fragment.East)}
	if err := builder.Build(fragment.BuildRequest{Region: region, Renderable: renderable, Config: coarse}); err != nil {
		t.Fatalf("Build: %v", err)
	}
	surface = renderable.Surface(coarse)
	if len(surface.Vertices) != 16 {
		t.Errorf("LOD 1 vertices = %d, want 16", len(surface.Vertices))
	}
	if surface.TransitionCells != 4 {
		t.Errorf("LOD 1 east transition cells = %d, want 4", surface.TransitionCells)
	}
	if builder.Builds() != 2 {
		t.Errorf("Builds() = %d, want 2", builder.Builds())
	}
}

func TestBuildForeignRenderable(t *testing.T) {
	builder, _ := newBuilder(t)
	err := builder.Build(fragment.BuildRequest{Region: halfSolid(t)})
	if !errors.Is(err, ErrForeignRenderable) {
		t.Errorf("Build error = %v, want ErrForeignRenderable", err)
	}
}

func TestRequestBuildCallsDone(t *testing.T) {
	builder, _ := newBuilder(t)
	renderable := NewRenderable()
	done := make(chan fragment.RequestID, 1)
	id := builder.RequestBuild(fragment.BuildRequest{
		Region:     halfSolid(t),
		Renderable: renderable,
		Config:     fragment.Configuration{LOD: 2},
		Done: func(id fragment.RequestID, err error) {
			if err != nil {
				t.Errorf("Done error: %v", err)
			}
			done <- id
		},
	})
	if got := testutil.RequireReceive(t, done, 5*time.Second, "build completion"); got != id {
		t.Errorf("Done id = %d, want %d", got, id)
	}
	if err := builder.Wait(); err != nil {
		t.Errorf("Wait: %v", err)
	}
	if builder.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", builder.Pending())
	}
}

func TestCancelledBuildDoesNotReport(t *testing.T) {
	builder, _ := newBuilder(t)
	region := halfSolid(t)

	// Hold the region so the build cannot start extracting.
	hold := region.LeaseReadOnly()
	done := make(chan fragment.RequestID, 1)
	id := builder.RequestBuild(fragment.BuildRequest{
		Region:     region,
		Renderable: NewRenderable(),
		Done:       func(id fragment.RequestID, err error) { done <- id },
	})
	builder.CancelBuild(id)
	hold.Release()

	testutil.RequireNoReceive(t, done, 100*time.Millisecond, "cancelled build")
	if builder.Pending() != 0 {
		t.Errorf("Pending() = %d after cancel, want 0", builder.Pending())
	}
}

func TestRayQuery(t *testing.T) {
	builder, _ := newBuilder(t)
	region := halfSolid(t)

	down := fragment.Ray{Origin: mgl32.Vec3{4, 8, 4}, Direction: mgl32.Vec3{0, -2, 0}}
	hit, distance := builder.RayQuery(fragment.RayQuery{Region: region, Ray: down, Limit: 20})
	if !hit {
		t.Fatal("downward ray missed the ground")
	}
	if distance < 4 || distance > 5 {
		t.Errorf("distance = %v, want between 4 and 5", distance)
	}

	up := fragment.Ray{Origin: mgl32.Vec3{4, 6, 4}, Direction: mgl32.Vec3{0, 1, 0}}
	if hit, _ := builder.RayQuery(fragment.RayQuery{Region: region, Ray: up, Limit: 20}); hit {
		t.Error("upward ray hit something")
	}
	if hit, _ := builder.RayQuery(fragment.RayQuery{Region: region, Ray: down, Limit: 2}); hit {
		t.Error("ray hit beyond its limit")
	}
}

func TestNodeAttachDetach(t *testing.T) {
	node := &Node{Name: "terrain"}
	a, b := NewRenderable(), NewRenderable()
	node.Attach(a)
	node.Attach(b)
	node.Detach(a)
	if node.Len() != 1 {
		t.Errorf("Len() = %d, want 1", node.Len())
	}
}

func TestFacetLeaseNestsIntoBuilder(t *testing.T) {
	builder, _ := newBuilder(t)
	c, err := fragment.New(fragment.Config{Region: halfSolid(t), Factory: Factory{}, Builder: builder})
	if err != nil {
		t.Fatalf("fragment.New: %v", err)
	}
	c.Builder().Initialise(&Node{Name: "terrain"}, "rock", "terrain")
	down := fragment.Ray{Origin: mgl32.Vec3{4, 8, 4}, Direction: mgl32.Vec3{0, -1, 0}}

	hits := make(chan bool, 1)
	go func() {
		shared := c.Shared()
		defer shared.Release()
		lease := shared.LeaseReadOnly()
		hit, _ := shared.RayQuery(down, 20, false, 0, fragment.StitchNone)
		lease.Release()
		hits <- hit
	}()
	if !testutil.RequireReceive(t, hits, 5*time.Second, "RayQuery under a held shared lease") {
		t.Error("downward ray missed the ground")
	}

	built := make(chan bool, 1)
	go func() {
		unique := c.Unique()
		defer unique.Release()
		lease := unique.Lease()
		unique.GenerateConfiguration(0, fragment.StitchNone)
		lease.Release()
		built <- unique.HasConfiguration(0, fragment.StitchNone)
	}()
	if !testutil.RequireReceive(t, built, 5*time.Second, "GenerateConfiguration under a held unique lease") {
		t.Error("no configuration built")
	}
	if got := builder.Builds(); got != 1 {
		t.Errorf("Builds() = %d, want 1", got)
	}
}
