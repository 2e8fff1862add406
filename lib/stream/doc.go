// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream provides the binary read/write cursor used by every
// persisted terrain structure: channel identifiers, cube regions,
// fragments, and pages.
//
// A stream is a sequence of fixed-size little-endian primitives and
// length-prefixed bulk arrays. There is no self-description: the
// reader must know the layout the writer used. The layout of each
// block is owned by the package that writes it (cube.Region.WriteTo,
// fragment.Container.WriteTo, page.Page.WriteTo); this package only
// moves bytes.
//
// Both Writer and Reader keep the first error they encounter and turn
// every later call into a no-op, in the manner of bufio.Writer. A
// sequence of writes is therefore checked once:
//
//	w := stream.NewWriter(file)
//	w.Uint16(uint16(id))
//	w.String(material)
//	w.Int8s(values)
//	if err := w.Err(); err != nil {
//	    return err
//	}
//
// Readers reject length prefixes larger than MaxBulkLength so that a
// corrupt header cannot trigger an unbounded allocation.
package stream
