// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"math"
	"math/bits"
	"math/rand/v2"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/bureau-foundation/overhang/lib/channel"
	"github.com/bureau-foundation/overhang/lib/compress"
	"github.com/bureau-foundation/overhang/lib/config"
	"github.com/bureau-foundation/overhang/lib/cube"
	"github.com/bureau-foundation/overhang/lib/dispatch"
	"github.com/bureau-foundation/overhang/lib/fragment"
	"github.com/bureau-foundation/overhang/lib/metaobj"
	"github.com/bureau-foundation/overhang/lib/page"
	"github.com/bureau-foundation/overhang/lib/slot"
	"github.com/bureau-foundation/overhang/lib/surface"
)

const (
	pageMaterial       = "rock"
	pageMaterialGroup  = "terrain"
	terrainRenderQueue = 50

	// maxBuildRounds bounds the request/show loop in buildSurfaces.
	// Stitching settles once every fragment shows its target LOD,
	// which takes three rounds on any grid.
	maxBuildRounds = 8

	metaballsPerPage = 3
)

type pageKey struct{ X, Y int32 }

// fragmentNote is the custom data attached to every sculpted fragment.
type fragmentNote struct {
	Seed    uint64 `cbor:"seed"`
	Objects int    `cbor:"objects"`
}

// terrain is one set of loaded pages and the slots that guard them.
type terrain struct {
	keys  []pageKey
	slots map[pageKey]*slot.Slot
	pages map[pageKey]*page.Page
}

func newTerrain() *terrain {
	return &terrain{
		slots: make(map[pageKey]*slot.Slot),
		pages: make(map[pageKey]*page.Page),
	}
}

func (t *terrain) add(key pageKey, s *slot.Slot, p *page.Page) {
	t.keys = append(t.keys, key)
	t.slots[key] = s
	t.pages[key] = p
}

// fragments yields every fragment of every page in load order.
func (t *terrain) fragments() iter.Seq[*fragment.Container] {
	return func(yield func(*fragment.Container) bool) {
		for _, key := range t.keys {
			for f := range t.pages[key].Fragments() {
				if !yield(f) {
					return
				}
			}
		}
	}
}

// each runs transition on every slot and returns the first error.
func (t *terrain) each(transition func(*slot.Slot) error) error {
	for _, key := range t.keys {
		if err := transition(t.slots[key]); err != nil {
			return fmt.Errorf("page (%d, %d): %w", key.X, key.Y, err)
		}
	}
	return nil
}

// destroy queues the destruction of every page on its slot. Pages
// already destroyed are skipped.
func (t *terrain) destroy() {
	for _, key := range t.keys {
		t.slots[key].Destroy()
	}
}

// world holds the shared machinery every page is built from.
type world struct {
	config   *config.Config
	logger   *slog.Logger
	seed     uint64
	channels channel.Descriptor
	pool     *cube.Pool
	flags    cube.Flags
	tag      compress.Tag
	maxLOD   int
	queue    *dispatch.Queue
	builder  *surface.Builder
	node     *surface.Node
}

func newWorld(cfg *config.Config, seed uint64, logger *slog.Logger) (*world, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	channels, err := channel.NewDescriptor(cfg.Channels)
	if err != nil {
		return nil, err
	}
	descriptor, err := cube.NewDescriptor(cfg.Cube.Dimension, cfg.Cube.Scale)
	if err != nil {
		return nil, err
	}
	pool, err := cube.NewPool(cube.PoolConfig{Descriptor: descriptor, Logger: logger})
	if err != nil {
		return nil, err
	}
	tag, err := compress.ParseTag(cfg.Storage.Compression)
	if err != nil {
		return nil, err
	}
	queue := dispatch.New(dispatch.Config{Workers: cfg.Workers, Logger: logger})
	builder, err := surface.NewBuilder(surface.Config{Queue: queue, Logger: logger})
	if err != nil {
		queue.StopAndWait()
		return nil, err
	}
	return &world{
		config:   cfg,
		logger:   logger,
		seed:     seed,
		channels: channels,
		pool:     pool,
		flags:    cubeFlags(cfg.Cube),
		tag:      tag,
		maxLOD:   bits.Len(uint(cfg.Cube.Dimension-1)) - 1,
		queue:    queue,
		builder:  builder,
		node:     &surface.Node{Name: "terrain"},
	}, nil
}

func cubeFlags(c config.CubeConfig) cube.Flags {
	var flags cube.Flags
	if c.Gradients {
		flags |= cube.Gradients
	}
	if c.Colours {
		flags |= cube.Colours
	}
	if c.TexCoords {
		flags |= cube.TexCoords
	}
	return flags
}

// close stops the background workers.
func (w *world) close() {
	w.queue.StopAndWait()
}

func (w *world) newPage(key pageKey) (*page.Page, error) {
	return page.New(page.Config{
		X:                  key.X,
		Y:                  key.Y,
		Channels:           w.channels,
		FragmentsPerColumn: w.config.Pages.FragmentsPerColumn,
		Pool:               w.pool,
		Flags:              w.flags,
		Factory:            surface.Factory{},
		Builder:            w.builder,
		Logger:             w.logger,
	})
}

// loadPage runs the slot through Loading for one page. fill populates
// the page while the slot is Loading; the material and render queue
// requested meanwhile are applied when loading completes.
func (w *world) loadPage(t *terrain, key pageKey, fill func(*page.Page) error) error {
	s := slot.New(slot.Config{X: key.X, Y: key.Y, Logger: w.logger})
	if err := s.Loading(); err != nil {
		return err
	}
	s.SetMaterial(pageMaterial, pageMaterialGroup)
	s.SetRenderQueue(terrainRenderQueue)

	p, err := w.newPage(key)
	if err != nil {
		return err
	}
	if err := fill(p); err != nil {
		p.Destroy()
		return fmt.Errorf("loading page (%d, %d): %w", key.X, key.Y, err)
	}
	p.Initialise(w.node, pageMaterial, pageMaterialGroup)
	if err := s.DoneLoading(p); err != nil {
		p.Destroy()
		return err
	}
	t.add(key, s, p)
	return nil
}

// generate loads a fresh page grid with every channel column
// materialized and links neighboring pages.
func (w *world) generate() (*terrain, error) {
	t := newTerrain()
	materialize := func(p *page.Page) error {
		for id := range w.channels.IDs() {
			if _, err := p.Column(id); err != nil {
				return err
			}
		}
		return nil
	}
	for y := range int32(w.config.Pages.Height) {
		for x := range int32(w.config.Pages.Width) {
			if err := w.loadPage(t, pageKey{x, y}, materialize); err != nil {
				t.destroy()
				return nil, err
			}
		}
	}
	for _, key := range t.keys {
		p := t.pages[key]
		if east, ok := t.pages[pageKey{key.X + 1, key.Y}]; ok {
			if err := p.LinkNeighbor(fragment.East, east); err != nil {
				t.destroy()
				return nil, err
			}
		}
		if south, ok := t.pages[pageKey{key.X, key.Y + 1}]; ok {
			if err := p.LinkNeighbor(fragment.South, south); err != nil {
				t.destroy()
				return nil, err
			}
		}
	}
	w.logger.Info("pages loaded", "pages", len(t.keys), "channels", w.channels.Count())
	return t, nil
}

// objects returns the meta-objects of each channel: rolling hills for
// every channel, lower for each successive one, and randomly placed
// rock and cave metaballs on channel 0.
func (w *world) objects() map[channel.ID][]fragment.MetaObject {
	extent := w.pool.Descriptor().Extent()
	columnHeight := extent * float32(w.config.Pages.FragmentsPerColumn)
	objects := make(map[channel.ID][]fragment.MetaObject)

	for id := range w.channels.IDs() {
		base := columnHeight * (0.5 - 0.1*float32(id%4))
		amplitude := extent / 2
		objects[id] = append(objects[id], &metaobj.Heightmap{
			Height: func(x, z float32) float32 {
				return base + amplitude*float32(math.Sin(float64(x)*0.15)*math.Cos(float64(z)*0.1))
			},
		})
	}

	random := rand.New(rand.NewPCG(w.seed, w.seed^0x9e3779b97f4a7c15))
	width := extent * float32(w.config.Pages.Width)
	depth := extent * float32(w.config.Pages.Height)
	for range w.config.Pages.Width * w.config.Pages.Height * metaballsPerPage {
		objects[0] = append(objects[0], &metaobj.Metaball{
			Center: mgl32.Vec3{
				random.Float32() * width,
				columnHeight * (0.3 + 0.4*random.Float32()),
				random.Float32() * depth,
			},
			Radius:     extent * (0.25 + 0.5*random.Float32()),
			Excavating: random.IntN(3) == 0,
		})
	}
	return objects
}

// mutate attaches the meta-objects to every fragment they touch and
// rebuilds every grid, with all slots held in Mutate.
func (w *world) mutate(ctx context.Context, t *terrain) (map[cube.EmptyStatus]int, error) {
	if err := t.each((*slot.Slot).Mutating); err != nil {
		return nil, err
	}
	statuses, err := w.sculpt(ctx, t)
	if doneErr := t.each((*slot.Slot).DoneMutating); err == nil {
		err = doneErr
	}
	return statuses, err
}

func (w *world) sculpt(ctx context.Context, t *terrain) (map[cube.EmptyStatus]int, error) {
	objects := w.objects()
	for f := range t.fragments() {
		box := f.Box()
		unique := f.Unique()
		for _, object := range objects[f.Channel()] {
			if object.Bounds().Intersects(box) {
				unique.AddObject(object)
			}
		}
		err := unique.SetCustomData(fragmentNote{Seed: w.seed, Objects: unique.ObjectCount()})
		unique.Release()
		if err != nil {
			return nil, fmt.Errorf("fragment %s channel %d: %w", f.Tile(), f.Channel(), err)
		}
	}
	return w.rebuildGrids(ctx, t)
}

type gridResult struct {
	status cube.EmptyStatus
	ok     bool
}

// rebuildGrids runs UpdateGrid for every fragment on the background
// workers. Each job reports back through the main queue, which this
// goroutine drains until every job has answered. Submitted jobs always
// run to completion; cancellation is reported once they have.
func (w *world) rebuildGrids(ctx context.Context, t *terrain) (map[cube.EmptyStatus]int, error) {
	submitted := 0
	var results []gridResult
	for f := range t.fragments() {
		submitted++
		w.queue.Background("update grid", func() error {
			var result gridResult
			defer func() {
				w.queue.Main(func() { results = append(results, result) })
			}()
			unique := f.Unique()
			defer unique.Release()
			result.status = unique.UpdateGrid()
			result.ok = true
			return nil
		})
	}

	for len(results) < submitted {
		if _, err := w.queue.WaitMain(context.Background()); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("grid updates: %w", err)
	}

	statuses := make(map[cube.EmptyStatus]int)
	failed := 0
	for _, result := range results {
		if !result.ok {
			failed++
			continue
		}
		statuses[result.status]++
	}
	if failed > 0 {
		return nil, fmt.Errorf("%d of %d grid updates failed", failed, submitted)
	}
	w.logger.Info("grids rebuilt",
		"fragments", submitted,
		"mixed", statuses[cube.Mixed],
		"solid", statuses[cube.Solid],
		"open", statuses[cube.Open],
	)
	return statuses, nil
}

// lodFor picks a page's target LOD by its distance from the page at
// the origin, where the camera sits.
func (w *world) lodFor(tile fragment.Tile) int {
	distance := max(abs(tile.X), abs(tile.Y))
	return min(int(distance), w.maxLOD)
}

func abs(v int32) int32 {
	if v < 0 {
		return -v
	}
	return v
}

// buildSurfaces shows every fragment at its target LOD, stitched
// against finer neighbors. Each round shows what is ready, requests
// what is missing, and waits for the builder; stitching depends on
// the LODs neighbors display, so a fragment shown early in one round
// may need a new configuration in the next.
func (w *world) buildSurfaces(ctx context.Context, t *terrain) error {
	for round := 1; round <= maxBuildRounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		requested := 0
		for f := range t.fragments() {
			lod := w.lodFor(f.Tile())
			stitch := f.NeighborFlags(lod)
			if f.UpdateSurface(lod, stitch) {
				continue
			}
			requested++
			upgradable := f.Upgradable()
			if pending, ok := upgradable.PendingConfiguration(); ok &&
				pending == (fragment.Configuration{LOD: lod, Stitch: stitch}) {
				upgradable.Release()
				continue
			}
			upgraded := upgradable.Upgrade()
			upgraded.RequestConfiguration(lod, stitch)
			upgraded.Release()
		}
		if requested == 0 {
			w.logger.Info("surfaces settled", "rounds", round, "builds", w.builder.Builds())
			return nil
		}
		w.logger.Debug("surface round", "round", round, "requested", requested)
		if err := w.builder.Wait(); err != nil {
			return err
		}
		w.queue.DrainMain()
	}
	return fmt.Errorf("surfaces did not settle after %d rounds", maxBuildRounds)
}

// probe casts a ray straight down through the centre of every page on
// channel 0 and counts the pages where it strikes rock.
func (w *world) probe(t *terrain) (int, error) {
	hits := 0
	for _, key := range t.keys {
		s := t.slots[key]
		if err := s.Querying(); err != nil {
			return hits, err
		}
		hit, height, err := w.castDown(t.pages[key])
		if doneErr := s.DoneQuerying(); err == nil {
			err = doneErr
		}
		if err != nil {
			return hits, err
		}
		if hit {
			hits++
			w.logger.Debug("ray hit", "page_x", key.X, "page_y", key.Y, "height", height)
		}
	}
	w.logger.Info("rays cast", "pages", len(t.keys), "hits", hits)
	return hits, nil
}

func (w *world) castDown(p *page.Page) (bool, float32, error) {
	column, err := p.Column(0)
	if err != nil {
		return false, 0, err
	}
	top := column.Fragments[len(column.Fragments)-1].Box()
	center := top.Center()
	ray := fragment.Ray{
		Origin:    mgl32.Vec3{center.X(), top.Max.Y(), center.Z()},
		Direction: mgl32.Vec3{0, -1, 0},
	}
	for i := len(column.Fragments) - 1; i >= 0; i-- {
		f := column.Fragments[i]
		limit := top.Max.Y() - f.Box().Min.Y()
		shared := f.Shared()
		hit, distance := shared.RayQuery(ray, limit, true, 0, fragment.StitchNone)
		shared.Release()
		if hit {
			return true, ray.Origin.Y() - distance, nil
		}
	}
	return false, 0, nil
}
