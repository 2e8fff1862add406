// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration used for the free-form
// parts of persisted terrain: the custom-data block a fragment carries
// for its owner, and page manifests.
//
// Fixed layouts (channel IDs, region flags, voxel arrays) go through
// lib/stream. Anything whose shape belongs to a caller goes through
// this package, so every package encodes it the same way. Encoding
// uses Core Deterministic Encoding (RFC 8949 §4.2): the same logical
// value always produces the same bytes, which keeps region checksums
// stable across saves.
//
//	data, err := codec.Marshal(custom)
//	err = codec.Unmarshal(data, &custom)
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Custom data decoded into any must come back as string-keyed
		// maps, not map[interface{}]interface{}.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v deterministically.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v. Unknown fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// RawMessage is an encoded CBOR value whose decoding is deferred. A
// fragment keeps its custom data as a RawMessage until the owner asks
// for it typed.
type RawMessage = cbor.RawMessage
