// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package fragment implements terrain fragments: one voxel cube
// (a [cube.Region]) together with the meta-objects that shape it, its
// links to the six face-adjacent fragments, and the renderable that
// displays its isosurface.
//
// # Facets
//
// A [Container] is the handle every other subsystem holds. It exposes
// only lock-free identity and neighbor information directly. Everything
// else is reached through a facet, a capability object returned by a
// lock acquisition method and valid until its Release:
//
//   - [Shared] (Container.Shared): read lock. Iterate meta-objects,
//     read the voxel field, run ray queries, serialize.
//   - [Unique] (Container.Unique): write lock. Add and remove
//     meta-objects, rebuild the grid, generate or request surface
//     configurations, restore from a stream.
//   - [Upgradable] (Container.Upgradable): read lock that can be
//     converted to an [Upgraded] write facet without releasing.
//     Only one upgradable facet exists at a time, so two upgrades never
//     race.
//   - [Builder] (Container.Builder): no lock. Used only while the
//     constructing goroutine owns the fragment exclusively, before any
//     background worker can reach it and after all have finished:
//     initialisation, neighbor linking during page construction,
//     teardown.
//
// Using a facet after Release panics. Try variants of the lock
// methods return nil instead of blocking; that is back-pressure, not
// an error.
//
// # Goroutines
//
// Grid rebuilds ([Unique.UpdateGrid]) are expensive and belong on
// background workers. The scene (renderables, scene nodes, render LOD)
// is owned by a single main goroutine and is not protected by the
// fragment lock: [Builder.Initialise], [Container.UpdateSurface],
// [Container.NeighborFlags], [Container.SetRenderLOD], and
// [Builder.DetachFromScene] must only be called from it.
//
// # Neighbors
//
// Adjacency is symmetric. [Link] and [Unlink] update both ends at
// once; there is no one-sided setter. Neighbor pointers are atomic so
// they can be read from any goroutine.
//
// # Surface configurations
//
// A configuration is a surface extracted at one (LOD, stitch) pair.
// [Unique.GenerateConfiguration] builds one synchronously.
// [Unique.RequestConfiguration] queues a background build and
// de-duplicates: asking again for the configuration already in
// flight returns false (poll later), asking for a different one
// cancels the stale request. Every grid rebuild starts a new
// generation; configurations built from an older generation no
// longer count as available.
package fragment
