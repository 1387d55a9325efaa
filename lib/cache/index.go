// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/loom-build/loom/lib/codec"
)

const (
	indexFileName = "index.cbor"
	indexVersion  = 1
)

// Entry records one stored archive. The index is the authority on
// what the store contains; archive files without an index entry are
// garbage and reclaimed by prune.
type Entry struct {
	// Archive is the file name under the cache directory.
	Archive string `cbor:"archive"`
	// Size is the archive file size in bytes, as written.
	Size int64 `cbor:"size"`
	// Compression is the codec recorded in the archive header.
	Compression Compression `cbor:"compression"`
	// Encrypted reports whether the payload is sealed.
	Encrypted bool `cbor:"encrypted"`
	// SavedAt is when the archive was last written.
	SavedAt time.Time `cbor:"saved_at"`
	// JobName and Document identify the writer, for cache stats.
	JobName  string `cbor:"job_name"`
	Document string `cbor:"document"`
}

type indexFile struct {
	Version int              `cbor:"version"`
	Entries map[string]Entry `cbor:"entries"`
}

// loadIndex reads the cache index. A missing file is an empty store,
// not an error.
func loadIndex(dir string) (map[string]Entry, error) {
	data, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return make(map[string]Entry), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read cache index: %w", err)
	}

	var file indexFile
	if err := codec.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode cache index: %w", err)
	}
	if file.Version != indexVersion {
		return nil, fmt.Errorf("unsupported cache index version %d", file.Version)
	}
	if file.Entries == nil {
		file.Entries = make(map[string]Entry)
	}
	return file.Entries, nil
}

// saveIndex rewrites the index atomically: write to a temp file in
// the same directory, fsync, then rename over the old index. A crash
// at any point leaves either the old or the new index, never a
// truncated one.
func saveIndex(dir string, entries map[string]Entry) error {
	data, err := codec.Marshal(indexFile{Version: indexVersion, Entries: entries})
	if err != nil {
		return fmt.Errorf("encode cache index: %w", err)
	}

	path := filepath.Join(dir, indexFileName)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create index temp file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			file.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("write index temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync index temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close index temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename index into place: %w", err)
	}
	success = true
	return nil
}
