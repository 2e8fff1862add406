// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package cube stores the voxel field of one terrain fragment.
//
// The field is a cube of Dimension³ grid points. Each point carries a
// signed field strength (negative is solid, non-negative is open,
// saturating at ±127) and, depending on the region's Flags, a gradient,
// a colour, and texture coordinates. The pieces are:
//
//   - Descriptor: immutable geometry shared by every region of one
//     terrain configuration (dimension, scale, the dense grid-point
//     lookup table used for isovertex placement).
//   - Bucket: the raw per-point arrays. Buckets belong to a Pool and
//     are only borrowed by regions.
//   - Compressed: the run-length encoded form of a bucket, used at
//     rest and for compacting idle regions.
//   - Region: one cube. Exactly one of {checked-out bucket,
//     compressed form} exists at any time.
//   - Accessor, ReadAccessor, CompressedAccessor: scoped leases on a
//     region's data.
//
// # Leases
//
// Region.Lease locks the region, materializes a raw bucket (checking
// one out of the pool and expanding the compressed form into it), and
// returns an Accessor. Accessor.Release unlocks. Code that already
// holds a lease and calls into code that needs one passes the lease
// down; Nest returns a child lease on the same lock without blocking:
//
//	acc := region.Lease()
//	defer acc.Release()
//	contribute(acc.Nest())   // contribute releases its own lease
//
// Region.WriteTo and Region.ReadFrom take the lock themselves; a
// holder uses the accessor's WriteTo and ReadFrom instead.
//
// The region's release hook runs once, when the outermost lease and
// all nested leases have been released. With auto-compaction enabled
// the hook compresses the bucket and returns it to the pool.
//
// Leases are not safe for concurrent use by several goroutines; the
// region lock is what serializes goroutines.
package cube
