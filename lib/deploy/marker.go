// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/loom-build/loom/lib/codec"
)

// MarkerFile is the marker filename within a run directory.
const MarkerFile = "deploy.marker"

// Marker is the durable record of a fired deploy gate, created before
// the deployment command starts.
type Marker struct {
	RunID  string    `cbor:"run_id"`
	Time   time.Time `cbor:"time"`
	Fired  bool      `cbor:"fired"`
	Reason string    `cbor:"reason"`
}

// claimMarker creates the marker file exclusively. Returns false with
// no error when a previous claim already holds the slot. A partially
// written marker from a crashed claim still blocks later ones, which
// errs on the side of never deploying twice.
func claimMarker(dir string, marker Marker) (bool, error) {
	path := filepath.Join(dir, MarkerFile)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if errors.Is(err, fs.ErrExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("creating %s: %w", path, err)
	}

	data, err := codec.Marshal(marker)
	if err != nil {
		file.Close()
		return false, fmt.Errorf("encoding marker: %w", err)
	}
	if _, err := file.Write(data); err != nil {
		file.Close()
		return false, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return false, fmt.Errorf("syncing %s: %w", path, err)
	}
	return true, file.Close()
}

// ReadMarker loads the marker from a run directory. A missing marker
// returns (nil, nil): the gate never fired for that run.
func ReadMarker(dir string) (*Marker, error) {
	data, err := os.ReadFile(filepath.Join(dir, MarkerFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading deploy marker: %w", err)
	}

	var marker Marker
	if err := codec.Unmarshal(data, &marker); err != nil {
		return nil, fmt.Errorf("decoding deploy marker: %w", err)
	}
	return &marker, nil
}
