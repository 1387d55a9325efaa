// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"archive/tar"
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/loom-build/loom/lib/codec"
)

func writeTestFile(t *testing.T, path, content string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("creating %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func readTestFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestArchiveHeaderRoundTrip(t *testing.T) {
	t.Parallel()

	original := archiveHeader{
		version:     archiveVersion,
		compression: CompressionZstd,
		encrypted:   true,
		payloadSize: 123456789,
	}
	encoded := original.encode()
	if len(encoded) != archiveHeaderSize {
		t.Fatalf("encoded header is %d bytes, want %d", len(encoded), archiveHeaderSize)
	}

	parsed, err := parseArchiveHeader(encoded)
	if err != nil {
		t.Fatalf("parseArchiveHeader failed: %v", err)
	}
	if parsed != original {
		t.Fatalf("header round trip: got %+v, want %+v", parsed, original)
	}
}

func TestParseArchiveHeaderRejects(t *testing.T) {
	t.Parallel()

	good := archiveHeader{version: archiveVersion, compression: CompressionNone, payloadSize: 10}.encode()

	if _, err := parseArchiveHeader(good[:5]); err == nil {
		t.Fatal("truncated header accepted")
	}

	badMagic := append([]byte(nil), good...)
	badMagic[0] = 'X'
	if _, err := parseArchiveHeader(badMagic); err == nil {
		t.Fatal("wrong magic accepted")
	}

	badVersion := append([]byte(nil), good...)
	badVersion[7] = 99
	if _, err := parseArchiveHeader(badVersion); err == nil {
		t.Fatal("unknown version accepted")
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cargoDir := filepath.Join(dir, "cargo")
	configFile := filepath.Join(dir, "config.toml")

	writeTestFile(t, filepath.Join(cargoDir, "registry", "index"), "index data", 0o644)
	writeTestFile(t, filepath.Join(cargoDir, "bin", "tool"), "#!/bin/sh\n", 0o755)
	writeTestFile(t, configFile, "[build]\n", 0o644)
	if err := os.Symlink("bin/tool", filepath.Join(cargoDir, "latest")); err != nil {
		t.Fatalf("creating symlink: %v", err)
	}

	paths := []string{cargoDir, configFile}
	payload, err := pack(paths)
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}

	// Packing is deterministic for an unchanged tree.
	again, err := pack(paths)
	if err != nil {
		t.Fatalf("second pack failed: %v", err)
	}
	if !bytes.Equal(payload, again) {
		t.Fatal("pack is not deterministic for an unchanged tree")
	}

	// Wipe everything and restore.
	if err := os.RemoveAll(cargoDir); err != nil {
		t.Fatalf("removing tree: %v", err)
	}
	if err := os.Remove(configFile); err != nil {
		t.Fatalf("removing file: %v", err)
	}

	if err := unpack(payload, paths); err != nil {
		t.Fatalf("unpack failed: %v", err)
	}

	if got := readTestFile(t, filepath.Join(cargoDir, "registry", "index")); got != "index data" {
		t.Fatalf("restored file content = %q, want %q", got, "index data")
	}
	if got := readTestFile(t, configFile); got != "[build]\n" {
		t.Fatalf("restored single-file path content = %q, want %q", got, "[build]\n")
	}

	info, err := os.Stat(filepath.Join(cargoDir, "bin", "tool"))
	if err != nil {
		t.Fatalf("stat restored tool: %v", err)
	}
	if info.Mode().Perm() != 0o755 {
		t.Fatalf("restored tool mode = %o, want 755", info.Mode().Perm())
	}

	target, err := os.Readlink(filepath.Join(cargoDir, "latest"))
	if err != nil {
		t.Fatalf("readlink restored symlink: %v", err)
	}
	if target != "bin/tool" {
		t.Fatalf("restored symlink target = %q, want %q", target, "bin/tool")
	}
}

func TestPackSkipsMissingPath(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	present := filepath.Join(dir, "present")
	missing := filepath.Join(dir, "never-created")
	writeTestFile(t, filepath.Join(present, "file"), "data", 0o644)

	paths := []string{present, missing}
	payload, err := pack(paths)
	if err != nil {
		t.Fatalf("pack with missing path failed: %v", err)
	}

	// A section absent from the archive leaves the destination alone.
	writeTestFile(t, filepath.Join(missing, "survivor"), "untouched", 0o644)
	if err := unpack(payload, paths); err != nil {
		t.Fatalf("unpack failed: %v", err)
	}
	if got := readTestFile(t, filepath.Join(missing, "survivor")); got != "untouched" {
		t.Fatalf("absent section clobbered destination: %q", got)
	}
}

func TestUnpackReplacesStaleContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	root := filepath.Join(dir, "target")
	writeTestFile(t, filepath.Join(root, "fresh"), "keep", 0o644)

	payload, err := pack([]string{root})
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}

	writeTestFile(t, filepath.Join(root, "stale"), "drop", 0o644)

	if err := unpack(payload, []string{root}); err != nil {
		t.Fatalf("unpack failed: %v", err)
	}
	if got := readTestFile(t, filepath.Join(root, "fresh")); got != "keep" {
		t.Fatalf("archived file lost: %q", got)
	}
	if _, err := os.Stat(filepath.Join(root, "stale")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("stale file survived restore")
	}
}

func TestUnpackPathMismatch(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	root := filepath.Join(dir, "cargo")
	writeTestFile(t, filepath.Join(root, "file"), "data", 0o644)

	payload, err := pack([]string{root})
	if err != nil {
		t.Fatalf("pack failed: %v", err)
	}

	err = unpack(payload, []string{root, filepath.Join(dir, "extra")})
	if !errors.Is(err, errPathMismatch) {
		t.Fatalf("unpack with changed path list: got %v, want errPathMismatch", err)
	}
}

func TestUnpackRejectsTraversal(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	root := filepath.Join(dir, "cache")

	var buffer bytes.Buffer
	writer := tar.NewWriter(&buffer)

	manifest, err := codec.Marshal(archiveManifest{Version: archiveVersion, Paths: []string{root}})
	if err != nil {
		t.Fatalf("encoding manifest: %v", err)
	}
	if err := writer.WriteHeader(&tar.Header{
		Name: manifestName, Mode: 0o644, Size: int64(len(manifest)), Typeflag: tar.TypeReg,
	}); err != nil {
		t.Fatalf("writing manifest header: %v", err)
	}
	if _, err := writer.Write(manifest); err != nil {
		t.Fatalf("writing manifest: %v", err)
	}

	evil := []byte("evil")
	if err := writer.WriteHeader(&tar.Header{
		Name: "0/../escape", Mode: 0o644, Size: int64(len(evil)), Typeflag: tar.TypeReg,
	}); err != nil {
		t.Fatalf("writing evil header: %v", err)
	}
	if _, err := writer.Write(evil); err != nil {
		t.Fatalf("writing evil content: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing tar: %v", err)
	}

	err = unpack(buffer.Bytes(), []string{root})
	if err == nil || !strings.Contains(err.Error(), "escapes") {
		t.Fatalf("traversal entry: got %v, want escape error", err)
	}
	if _, statErr := os.Stat(filepath.Join(dir, "escape")); !errors.Is(statErr, os.ErrNotExist) {
		t.Fatal("traversal entry was written outside the cache path")
	}
}
