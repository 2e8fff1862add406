// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package surface

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/bureau-foundation/overhang/lib/cube"
	"github.com/bureau-foundation/overhang/lib/dispatch"
	"github.com/bureau-foundation/overhang/lib/fragment"
)

// ErrForeignRenderable is returned when a build request carries a
// renderable this package did not create.
var ErrForeignRenderable = errors.New("surface: renderable was not created by surface.Factory")

// Config holds the parameters for a Builder.
type Config struct {
	// Queue runs asynchronous builds. Required.
	Queue *dispatch.Queue

	// Logger receives debug messages. If nil, a no-op logger is used.
	Logger *slog.Logger
}

type job struct {
	cancelled atomic.Bool
	task      dispatch.Task
}

// Builder is the reference fragment.SurfaceBuilder.
type Builder struct {
	queue  *dispatch.Queue
	logger *slog.Logger
	builds atomic.Uint64

	mu       sync.Mutex
	next     fragment.RequestID
	inflight map[fragment.RequestID]*job
}

// NewBuilder returns a builder that runs requests on config.Queue.
func NewBuilder(config Config) (*Builder, error) {
	if config.Queue == nil {
		return nil, errors.New("surface: builder requires a dispatch queue")
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Builder{
		queue:    config.Queue,
		logger:   logger,
		inflight: make(map[fragment.RequestID]*job),
	}, nil
}

// Builds returns the number of extractions performed.
func (b *Builder) Builds() uint64 { return b.builds.Load() }

// Build extracts the requested surface and stores it in the
// renderable.
func (b *Builder) Build(request fragment.BuildRequest) error {
	renderable, ok := request.Renderable.(*Renderable)
	if !ok {
		return ErrForeignRenderable
	}
	if request.Config.LOD < 0 {
		return fmt.Errorf("surface: negative LOD %d", request.Config.LOD)
	}
	surface := extract(request.Region, request.Lease, request.Config, request.Generation)
	renderable.store(surface)
	b.builds.Add(1)
	b.logger.Debug("surface extracted",
		"channel", request.Channel,
		"config", request.Config,
		"vertices", len(surface.Vertices),
		"transition_cells", surface.TransitionCells,
	)
	return nil
}

// RequestBuild queues the extraction on a background worker.
func (b *Builder) RequestBuild(request fragment.BuildRequest) fragment.RequestID {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	id := b.next
	request.Lease = nil
	j := &job{}
	b.inflight[id] = j
	j.task = b.queue.Background("surface build", func() error {
		if j.cancelled.Load() {
			b.finish(id)
			return nil
		}
		err := b.Build(request)
		b.finish(id)
		if j.cancelled.Load() || request.Done == nil {
			return err
		}
		request.Done(id, err)
		return err
	})
	return id
}

func (b *Builder) finish(id fragment.RequestID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.inflight, id)
}

// CancelBuild marks a queued extraction as abandoned.
func (b *Builder) CancelBuild(id fragment.RequestID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j, ok := b.inflight[id]; ok {
		j.cancelled.Store(true)
		delete(b.inflight, id)
		b.logger.Debug("surface build cancelled", "request", id)
	}
}

// Pending returns the number of queued or running extractions that
// have not been cancelled.
func (b *Builder) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.inflight)
}

// Wait blocks until every extraction queued so far has finished and
// returns their errors joined.
func (b *Builder) Wait() error {
	b.mu.Lock()
	tasks := make([]dispatch.Task, 0, len(b.inflight))
	for _, j := range b.inflight {
		tasks = append(tasks, j.task)
	}
	b.mu.Unlock()

	var errs []error
	for _, task := range tasks {
		if err := task.Wait(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RayQuery marches along the ray in half-grid steps and reports the
// first solid grid point within the limit.
func (b *Builder) RayQuery(query fragment.RayQuery) (bool, float32) {
	direction := query.Ray.Direction
	if direction.Len() == 0 || query.Limit <= 0 {
		return false, 0
	}
	direction = direction.Normalize()

	acc := leaseFor(query.Region, query.Lease)
	defer acc.Release()
	descriptor := acc.Descriptor()
	box := query.Region.Box()
	scale := descriptor.Scale()
	step := scale / 2

	for distance := float32(0); distance <= query.Limit; distance += step {
		point := query.Ray.Origin.Add(direction.Mul(distance))
		if !box.Contains(point) {
			continue
		}
		grid := point.Sub(box.Min).Mul(1 / scale)
		x, y, z := nearest(grid[0]), nearest(grid[1]), nearest(grid[2])
		if !descriptor.InBounds(x, y, z) {
			continue
		}
		if acc.ValueAt(x, y, z) < 0 {
			return true, distance
		}
	}
	return false, 0
}

func nearest(v float32) int { return int(math.Round(float64(v))) }

// leaseFor nests inside held when the caller already leases region.
func leaseFor(region *cube.Region, held *cube.ReadAccessor) *cube.ReadAccessor {
	if held != nil {
		return held.Nest()
	}
	return region.LeaseReadOnly()
}

// extract runs the surface-nets pass described in the package comment.
func extract(region *cube.Region, held *cube.ReadAccessor, config fragment.Configuration, generation uint64) *Surface {
	acc := leaseFor(region, held)
	defer acc.Release()

	descriptor := acc.Descriptor()
	n := descriptor.Dimension()
	step := 1
	for lod := 0; lod < config.LOD && step*2 <= n-1; lod++ {
		step *= 2
	}
	origin := region.Box().Min
	scale := descriptor.Scale()
	surface := &Surface{Config: config, Generation: generation}

	var corners [8]float32
	for z := 0; z+step < n; z += step {
		for y := 0; y+step < n; y += step {
			for x := 0; x+step < n; x += step {
				negative := 0
				for i := range corners {
					cx, cy, cz := x+(i&1)*step, y+(i>>1&1)*step, z+(i>>2&1)*step
					corners[i] = float32(acc.ValueAt(cx, cy, cz))
					if corners[i] < 0 {
						negative++
					}
				}
				if negative == 0 || negative == 8 {
					continue
				}

				var sum mgl32.Vec3
				crossings := 0
				for i := range corners {
					for _, bit := range [3]int{1, 2, 4} {
						if i&bit != 0 {
							continue
						}
						a, b := corners[i], corners[i|bit]
						if (a < 0) == (b < 0) {
							continue
						}
						t := a / (a - b)
						start := cornerOffset(i)
						end := cornerOffset(i | bit)
						sum = sum.Add(start.Add(end.Sub(start).Mul(t)))
						crossings++
					}
				}
				local := sum.Mul(1 / float32(crossings)).Mul(float32(step))
				cell := mgl32.Vec3{float32(x), float32(y), float32(z)}
				surface.Vertices = append(surface.Vertices, origin.Add(cell.Add(local).Mul(scale)))

				if onStitchedFace(config.Stitch, x, y, z, step, n) {
					surface.TransitionCells++
				}
			}
		}
	}
	return surface
}

func cornerOffset(corner int) mgl32.Vec3 {
	return mgl32.Vec3{float32(corner & 1), float32(corner >> 1 & 1), float32(corner >> 2 & 1)}
}

func onStitchedFace(stitch fragment.Stitch, x, y, z, step, n int) bool {
	last := n - 1 - step
	checks := [fragment.SideCount]bool{
		fragment.West:  x == 0,
		fragment.East:  x >= last,
		fragment.Down:  y == 0,
		fragment.Up:    y >= last,
		fragment.North: z == 0,
		fragment.South: z >= last,
	}
	for side, touches := range checks {
		if touches && stitch.Has(fragment.Side(side)) {
			return true
		}
	}
	return false
}
