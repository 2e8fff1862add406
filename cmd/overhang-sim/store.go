// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/bureau-foundation/overhang/lib/page"
	"github.com/bureau-foundation/overhang/lib/stream"
	"github.com/bureau-foundation/overhang/lib/version"
)

// A world file is the magic, the storage format version, the page
// count, then per page its coordinates and its page block.
var worldMagic = [4]byte{'O', 'V', 'H', 'G'}

const maxWorldPages = 1 << 16

// errNotWorld is returned for files that do not start with a world
// header this build understands.
var errNotWorld = errors.New("not an overhang world file")

// verifyError lists the regions whose reloaded checksum differs from
// the one computed when they were saved.
type verifyError struct {
	Mismatches []string
}

func (e *verifyError) Error() string {
	shown := e.Mismatches
	if len(shown) > 5 {
		shown = shown[:5]
	}
	return fmt.Sprintf("%d regions did not survive the round trip: %s",
		len(e.Mismatches), strings.Join(shown, "; "))
}

// save writes every page to path, each under its slot's Saving state,
// and returns the region checksums and the number of bytes written.
func (w *world) save(t *terrain, path string) (map[pageKey]page.Digests, int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, 0, err
	}
	defer file.Close()

	buffered := bufio.NewWriter(file)
	out := stream.NewWriter(buffered)
	out.Raw(worldMagic[:])
	out.Uint16(version.StorageFormat)
	out.Uint32(uint32(len(t.keys)))

	digests := make(map[pageKey]page.Digests, len(t.keys))
	for _, key := range t.keys {
		s := t.slots[key]
		if err := s.Saving(); err != nil {
			return nil, 0, err
		}
		out.Int32(key.X)
		out.Int32(key.Y)
		written, err := t.pages[key].WriteTo(out, w.tag)
		if doneErr := s.DoneSaving(); err == nil {
			err = doneErr
		}
		if err != nil {
			return nil, 0, fmt.Errorf("saving page (%d, %d): %w", key.X, key.Y, err)
		}
		digests[key] = written
	}
	if err := out.Err(); err != nil {
		return nil, 0, err
	}
	if err := buffered.Flush(); err != nil {
		return nil, 0, err
	}
	if err := file.Close(); err != nil {
		return nil, 0, err
	}
	w.logger.Info("world saved", "path", path, "pages", len(t.keys), "bytes", out.Written(), "compression", w.tag)
	return digests, out.Written(), nil
}

// reload reads a world file into freshly loaded pages.
func (w *world) reload(path string) (*terrain, map[pageKey]page.Digests, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	in := stream.NewReader(bufio.NewReader(file))
	var magic [4]byte
	in.Raw(magic[:])
	format := in.Uint16()
	count := in.Uint32()
	if err := in.Err(); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errNotWorld, err)
	}
	if magic != worldMagic {
		return nil, nil, errNotWorld
	}
	if count > maxWorldPages {
		return nil, nil, fmt.Errorf("%w: %d pages", errNotWorld, count)
	}
	if format != version.StorageFormat {
		return nil, nil, fmt.Errorf("%w: storage format %d, this build reads %d",
			errNotWorld, format, version.StorageFormat)
	}

	t := newTerrain()
	digests := make(map[pageKey]page.Digests, count)
	for range count {
		key := pageKey{X: in.Int32(), Y: in.Int32()}
		if err := in.Err(); err != nil {
			t.destroy()
			return nil, nil, err
		}
		err := w.loadPage(t, key, func(p *page.Page) error {
			read, err := p.ReadFrom(in)
			digests[key] = read
			return err
		})
		if err != nil {
			t.destroy()
			return nil, nil, err
		}
	}
	w.logger.Info("world reloaded", "path", path, "pages", len(t.keys))
	return t, digests, nil
}

// verify compares the checksums computed while saving with those read
// back.
func verify(saved, loaded map[pageKey]page.Digests) error {
	var mismatches []string
	for key, pageDigests := range saved {
		reloaded, ok := loaded[key]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("page (%d, %d) missing", key.X, key.Y))
			continue
		}
		for fragmentKey, digest := range pageDigests {
			if reloaded[fragmentKey] != digest {
				mismatches = append(mismatches, fmt.Sprintf("page (%d, %d) channel %d y-level %d",
					key.X, key.Y, fragmentKey.Channel, fragmentKey.YLevel))
			}
		}
	}
	if len(mismatches) == 0 {
		return nil
	}
	slices.Sort(mismatches)
	return &verifyError{Mismatches: mismatches}
}

// unloadAll returns every slot to Empty through Unloading and destroys
// the pages.
func unloadAll(t *terrain) error {
	for _, key := range t.keys {
		s := t.slots[key]
		if err := s.Unloading(); err != nil {
			return fmt.Errorf("page (%d, %d): %w", key.X, key.Y, err)
		}
		t.pages[key].Destroy()
		if err := s.DoneUnloading(); err != nil {
			return err
		}
	}
	return nil
}
