// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"testing"
)

type tileNote struct {
	Biome    string  `cbor:"biome"`
	Moisture float32 `cbor:"moisture,omitempty"`
	Visits   int     `cbor:"visits"`
}

func TestRoundTrip(t *testing.T) {
	original := tileNote{Biome: "tundra", Moisture: 0.25, Visits: 3}
	data, err := Marshal(original)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded tileNote
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded != original {
		t.Errorf("got %+v, want %+v", decoded, original)
	}
}

func TestMapKeyOrderIsDeterministic(t *testing.T) {
	first, err := Marshal(map[string]int{"zeta": 1, "alpha": 2, "mid": 3})
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := Marshal(map[string]int{"mid": 3, "alpha": 2, "zeta": 1})
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("encoding %d differs: %x != %x", i, again, first)
		}
	}
}

func TestAnyDecodesStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"owner": "quarry", "depth": 12})
	if err != nil {
		t.Fatal(err)
	}
	var decoded any
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	asMap, ok := decoded.(map[string]any)
	if !ok {
		t.Fatalf("decoded %T, want map[string]any", decoded)
	}
	if asMap["owner"] != "quarry" {
		t.Errorf("owner = %v", asMap["owner"])
	}
}

func TestRawMessageDefersDecoding(t *testing.T) {
	type envelope struct {
		Kind string     `cbor:"kind"`
		Body RawMessage `cbor:"body"`
	}
	body, err := Marshal(tileNote{Biome: "marsh"})
	if err != nil {
		t.Fatal(err)
	}

	data, err := Marshal(envelope{Kind: "note", Body: body})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded envelope
	if err := Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	var note tileNote
	if err := Unmarshal(decoded.Body, &note); err != nil {
		t.Fatalf("Unmarshal body: %v", err)
	}
	if note.Biome != "marsh" {
		t.Errorf("Biome = %q, want marsh", note.Biome)
	}
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	var note tileNote
	if err := Unmarshal([]byte{0xFF, 0xFE, 0xFD}, &note); err == nil {
		t.Error("Unmarshal accepted invalid CBOR")
	}
}
