// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

// MaxBulkLength is the largest element count a Reader accepts in a
// length prefix. A 32³ cube with every optional field present is well
// under this.
const MaxBulkLength = 1 << 24

// ErrTooLarge is returned when a length prefix exceeds MaxBulkLength.
var ErrTooLarge = errors.New("stream: length prefix exceeds limit")

var order = binary.LittleEndian

// Writer writes fixed-size primitives and bulk arrays to an
// io.Writer. The first error is sticky.
type Writer struct {
	out     io.Writer
	scratch [8]byte
	written int64
	err     error
}

// NewWriter returns a Writer that writes to out. Wrap out in a
// bufio.Writer when it is a file or socket.
func NewWriter(out io.Writer) *Writer {
	return &Writer{out: out}
}

// Err returns the first error encountered by any write.
func (w *Writer) Err() error { return w.err }

// Written returns the number of bytes successfully written.
func (w *Writer) Written() int64 { return w.written }

func (w *Writer) write(p []byte) {
	if w.err != nil {
		return
	}
	n, err := w.out.Write(p)
	w.written += int64(n)
	if err != nil {
		w.err = fmt.Errorf("stream: write: %w", err)
	}
}

func (w *Writer) Uint8(v uint8) {
	w.scratch[0] = v
	w.write(w.scratch[:1])
}

func (w *Writer) Int8(v int8) { w.Uint8(uint8(v)) }

func (w *Writer) Bool(v bool) {
	if v {
		w.Uint8(1)
	} else {
		w.Uint8(0)
	}
}

func (w *Writer) Uint16(v uint16) {
	order.PutUint16(w.scratch[:2], v)
	w.write(w.scratch[:2])
}

func (w *Writer) Int16(v int16) { w.Uint16(uint16(v)) }

func (w *Writer) Uint32(v uint32) {
	order.PutUint32(w.scratch[:4], v)
	w.write(w.scratch[:4])
}

func (w *Writer) Int32(v int32) { w.Uint32(uint32(v)) }

func (w *Writer) Uint64(v uint64) {
	order.PutUint64(w.scratch[:8], v)
	w.write(w.scratch[:8])
}

func (w *Writer) Float32(v float32) { w.Uint32(math.Float32bits(v)) }

// Raw writes p with no length prefix. Used for fixed-size blocks such
// as digests whose length the reader already knows.
func (w *Writer) Raw(p []byte) { w.write(p) }

// Bytes writes a uint32 length prefix followed by p.
func (w *Writer) Bytes(p []byte) {
	w.Uint32(uint32(len(p)))
	w.write(p)
}

// String writes a uint32 length prefix followed by the bytes of s.
func (w *Writer) String(s string) {
	w.Uint32(uint32(len(s)))
	if w.err == nil && len(s) > 0 {
		w.write([]byte(s))
	}
}

// Int8s writes a uint32 element count followed by the values.
func (w *Writer) Int8s(values []int8) {
	w.Uint32(uint32(len(values)))
	if w.err != nil || len(values) == 0 {
		return
	}
	buffer := make([]byte, len(values))
	for i, v := range values {
		buffer[i] = byte(v)
	}
	w.write(buffer)
}

// Uint8s is Bytes under the name used alongside the other bulk arrays.
func (w *Writer) Uint8s(values []uint8) { w.Bytes(values) }

// Float32s writes a uint32 element count followed by the values.
func (w *Writer) Float32s(values []float32) {
	w.Uint32(uint32(len(values)))
	if w.err != nil || len(values) == 0 {
		return
	}
	buffer := make([]byte, 4*len(values))
	for i, v := range values {
		order.PutUint32(buffer[4*i:], math.Float32bits(v))
	}
	w.write(buffer)
}

// Reader reads fixed-size primitives and bulk arrays from an
// io.Reader. The first error is sticky; after it every read returns
// the zero value.
type Reader struct {
	in      io.Reader
	scratch [8]byte
	err     error
}

// NewReader returns a Reader that reads from in.
func NewReader(in io.Reader) *Reader {
	return &Reader{in: in}
}

// Err returns the first error encountered by any read. A stream that
// ends inside a primitive reports io.ErrUnexpectedEOF.
func (r *Reader) Err() error { return r.err }

func (r *Reader) read(p []byte) bool {
	if r.err != nil {
		return false
	}
	if _, err := io.ReadFull(r.in, p); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		r.err = fmt.Errorf("stream: read: %w", err)
		return false
	}
	return true
}

func (r *Reader) Uint8() uint8 {
	if !r.read(r.scratch[:1]) {
		return 0
	}
	return r.scratch[0]
}

func (r *Reader) Int8() int8 { return int8(r.Uint8()) }

func (r *Reader) Bool() bool { return r.Uint8() != 0 }

func (r *Reader) Uint16() uint16 {
	if !r.read(r.scratch[:2]) {
		return 0
	}
	return order.Uint16(r.scratch[:2])
}

func (r *Reader) Int16() int16 { return int16(r.Uint16()) }

func (r *Reader) Uint32() uint32 {
	if !r.read(r.scratch[:4]) {
		return 0
	}
	return order.Uint32(r.scratch[:4])
}

func (r *Reader) Int32() int32 { return int32(r.Uint32()) }

func (r *Reader) Uint64() uint64 {
	if !r.read(r.scratch[:8]) {
		return 0
	}
	return order.Uint64(r.scratch[:8])
}

func (r *Reader) Float32() float32 { return math.Float32frombits(r.Uint32()) }

// Raw fills p exactly.
func (r *Reader) Raw(p []byte) { r.read(p) }

func (r *Reader) length() (int, bool) {
	n := r.Uint32()
	if r.err != nil {
		return 0, false
	}
	if n > MaxBulkLength {
		r.err = fmt.Errorf("%w: %d", ErrTooLarge, n)
		return 0, false
	}
	return int(n), true
}

// Bytes reads a length-prefixed byte slice.
func (r *Reader) Bytes() []byte {
	n, ok := r.length()
	if !ok {
		return nil
	}
	buffer := make([]byte, n)
	if !r.read(buffer) {
		return nil
	}
	return buffer
}

// String reads a length-prefixed string.
func (r *Reader) String() string {
	return string(r.Bytes())
}

// Int8s reads a count-prefixed int8 array.
func (r *Reader) Int8s() []int8 {
	raw := r.Bytes()
	if raw == nil {
		return nil
	}
	values := make([]int8, len(raw))
	for i, b := range raw {
		values[i] = int8(b)
	}
	return values
}

// Uint8s reads a count-prefixed byte array.
func (r *Reader) Uint8s() []uint8 { return r.Bytes() }

// Float32s reads a count-prefixed float32 array.
func (r *Reader) Float32s() []float32 {
	n, ok := r.length()
	if !ok {
		return nil
	}
	buffer := make([]byte, 4*n)
	if !r.read(buffer) {
		return nil
	}
	values := make([]float32, n)
	for i := range values {
		values[i] = math.Float32frombits(order.Uint32(buffer[4*i:]))
	}
	return values
}
