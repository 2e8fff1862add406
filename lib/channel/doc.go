// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package channel identifies independent terrain layers and keeps
// per-layer state without per-layer special cases.
//
// A channel is a small ordinal (ID) naming one terrain layer, for
// example the surface terrain and a separate cave system. The set of
// channels in use is fixed for the life of a terrain and described by
// a Descriptor: IDs in [0, Count()) are legal, everything else is a
// range violation reported as ErrNoSuchChannel.
//
// Index is the container every other package uses to hold "one T per
// channel". It is a fixed-size array of owned, nullable pointers that
// are populated lazily on first Get by a Loader:
//
//	regions := channel.NewIndex(descriptor, channel.DefaultLoader[Column])
//	column, err := regions.Get(caves)   // allocated on first touch
//
// Iteration (All, Iterator) visits only populated slots, in ascending
// channel order. Index does no locking; callers serialize access. In
// this module every Index lives under a slot or fragment lock.
//
// "No channel" is represented by Optional rather than by comparing
// against a magic ID. The all-ones value Invalid exists only as the
// on-stream encoding of an empty Optional.
package channel
