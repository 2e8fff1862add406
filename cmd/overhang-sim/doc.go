// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// overhang-sim drives one complete terrain cycle headlessly: it loads
// a grid of pages through their slots, sculpts them with a heightmap
// and scattered metaballs, rebuilds every voxel grid on background
// workers, extracts surfaces until every fragment shows its target LOD
// with the right stitching, casts rays, saves the world, reloads it
// into fresh pages, and checks that every region checksum survived.
//
// Configuration comes from --config or OVERHANG_CONFIG (see package
// lib/config); flags override individual values. Without either, the
// built-in defaults are used.
//
// Exit status is 0 on success, 2 when the reloaded world does not
// match what was saved, and 1 for any other failure.
package main
