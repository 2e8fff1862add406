// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package surface provides the reference isosurface collaborators for
// terrain fragments: a [Builder] that extracts surfaces from voxel
// regions, the [Renderable] that stores them per configuration, and a
// [Node] scene node to attach renderables to.
//
// The builder places one vertex in every cell whose corners change
// sign, at the mean of the interpolated edge crossings (a surface-nets
// style extraction). Coarser LODs sample every 2^lod grid points.
// Cells on stitched faces are counted as transition cells. This is
// enough for the terrain pipeline to be exercised end to end; a
// renderer substitutes its own Builder.
//
// Asynchronous builds run on a [dispatch.Queue]. Cancelled builds that
// have not started are skipped; a build that is already running
// completes but does not report back.
package surface
