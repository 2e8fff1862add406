// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress applies block compression to the at-rest form of
// voxel regions.
//
// A region's run-length encoded payload is usually dominated by long
// runs of fully solid or fully open samples, which the RLE already
// collapses; what remains (run headers, colour runs, texture
// coordinates) still compresses well with a general-purpose block
// codec. The codec used is recorded as a one-byte Tag next to the
// payload so readers never have to guess.
package compress

import (
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the block codec of a stored payload. Tags are
// persisted; their values must not change.
type Tag uint8

const (
	// None stores the payload as-is.
	None Tag = 0

	// LZ4 is LZ4 block compression. The default: regions are
	// decompressed on every lease of a compacted region, so decode
	// speed matters more than ratio.
	LZ4 Tag = 1

	// Zstd is zstd at the default level. Better ratio for pages
	// written once and read rarely.
	Zstd Tag = 2
)

// ErrIncompressible is returned by Compress when the output would not
// be smaller than the input.
var ErrIncompressible = errors.New("compress: data is incompressible")

func (tag Tag) String() string {
	switch tag {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", tag)
	}
}

// ParseTag parses the configuration spelling of a tag.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none":
		return None, nil
	case "lz4", "":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return 0, fmt.Errorf("compress: unknown tag %q", name)
	}
}

// Compress compresses data with tag. For None the input is returned
// without copying.
func Compress(data []byte, tag Tag) ([]byte, error) {
	switch tag {
	case None:
		return data, nil
	case LZ4:
		return compressLZ4(data)
	case Zstd:
		return compressZstd(data)
	default:
		return nil, fmt.Errorf("compress: unsupported tag %d", tag)
	}
}

// CompressOrStore compresses data with tag, falling back to None when
// the data is incompressible. The returned tag is the one to persist.
func CompressOrStore(data []byte, tag Tag) (Tag, []byte, error) {
	compressed, err := Compress(data, tag)
	if errors.Is(err, ErrIncompressible) {
		return None, data, nil
	}
	if err != nil {
		return 0, nil, err
	}
	return tag, compressed, nil
}

// Decompress reverses Compress. size must be the exact uncompressed
// length; a mismatch is an error.
func Decompress(compressed []byte, tag Tag, size int) ([]byte, error) {
	switch tag {
	case None:
		if len(compressed) != size {
			return nil, fmt.Errorf("compress: stored payload is %d bytes, expected %d", len(compressed), size)
		}
		return compressed, nil
	case LZ4:
		return decompressLZ4(compressed, size)
	case Zstd:
		return decompressZstd(compressed, size)
	default:
		return nil, fmt.Errorf("compress: unsupported tag %d", tag)
	}
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("compress: lz4: %w", err)
	}
	// CompressBlock reports 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, ErrIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("compress: lz4: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("compress: lz4 produced %d bytes, expected %d", read, size)
	}
	return destination, nil
}

// zstd.Encoder and zstd.Decoder are safe for concurrent use with
// EncodeAll/DecodeAll, so one of each serves every region.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, ErrIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("compress: zstd: %w", err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("compress: zstd produced %d bytes, expected %d", len(result), size)
	}
	return result, nil
}
