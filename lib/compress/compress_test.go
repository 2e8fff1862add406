// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package compress

import (
	"bytes"
	"errors"
	"testing"
)

func runHeavyPayload() []byte {
	// Shaped like an RLE stream of a half-solid cube: long identical
	// stretches with a few distinct bytes between them.
	var buffer bytes.Buffer
	for i := 0; i < 64; i++ {
		buffer.Write(bytes.Repeat([]byte{0x81}, 96))
		buffer.Write([]byte{byte(i), 0x10, 0x7f})
	}
	return buffer.Bytes()
}

func TestRoundTrip(t *testing.T) {
	payload := runHeavyPayload()
	for _, tag := range []Tag{None, LZ4, Zstd} {
		t.Run(tag.String(), func(t *testing.T) {
			compressed, err := Compress(payload, tag)
			if err != nil {
				t.Fatalf("Compress: %v", err)
			}
			if tag != None && len(compressed) >= len(payload) {
				t.Errorf("compressed %d bytes to %d", len(payload), len(compressed))
			}
			restored, err := Decompress(compressed, tag, len(payload))
			if err != nil {
				t.Fatalf("Decompress: %v", err)
			}
			if !bytes.Equal(restored, payload) {
				t.Error("round trip changed the payload")
			}
		})
	}
}

func TestDecompressSizeMismatch(t *testing.T) {
	payload := runHeavyPayload()
	for _, tag := range []Tag{None, LZ4, Zstd} {
		compressed, err := Compress(payload, tag)
		if err != nil {
			t.Fatalf("Compress(%s): %v", tag, err)
		}
		if _, err := Decompress(compressed, tag, len(payload)+1); err == nil {
			t.Errorf("Decompress(%s) with wrong size succeeded", tag)
		}
	}
}

func TestCompressOrStoreFallsBack(t *testing.T) {
	tiny := []byte{1, 2, 3}
	if _, err := Compress(tiny, LZ4); !errors.Is(err, ErrIncompressible) {
		t.Fatalf("Compress(tiny) error = %v, want ErrIncompressible", err)
	}
	tag, stored, err := CompressOrStore(tiny, LZ4)
	if err != nil {
		t.Fatalf("CompressOrStore: %v", err)
	}
	if tag != None || !bytes.Equal(stored, tiny) {
		t.Errorf("CompressOrStore = %s %v, want none %v", tag, stored, tiny)
	}
}

func TestParseTag(t *testing.T) {
	tests := []struct {
		name string
		want Tag
	}{
		{"none", None},
		{"lz4", LZ4},
		{"", LZ4},
		{"zstd", Zstd},
	}
	for _, test := range tests {
		got, err := ParseTag(test.name)
		if err != nil || got != test.want {
			t.Errorf("ParseTag(%q) = %s, %v; want %s", test.name, got, err, test.want)
		}
	}
	if _, err := ParseTag("brotli"); err == nil {
		t.Error("ParseTag(brotli) succeeded")
	}
	if got := Tag(9).String(); got != "unknown(9)" {
		t.Errorf("String() = %q", got)
	}
}
