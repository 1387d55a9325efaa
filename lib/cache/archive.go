// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"archive/tar"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/loom-build/loom/lib/codec"
)

// Archive layout:
//
//	[7]byte  magic "LOOMARC"
//	uint8    format version
//	uint8    compression tag
//	uint8    flags (bit 0: payload encrypted)
//	uint64   uncompressed payload size, little endian
//	...      payload
//
// The payload is a tar stream whose first entry is manifest.cbor,
// recording the path list the archive was packed from. Remaining
// entries are grouped into numbered sections, one per cached path.
const (
	archiveMagic   = "LOOMARC"
	archiveVersion = 1

	archiveHeaderSize = len(archiveMagic) + 3 + 8

	flagEncrypted = 1 << 0

	manifestName = "manifest.cbor"
)

// errPathMismatch reports that an archive was packed from a different
// path list than the one being restored. The manager treats it as a
// cache miss: the document's cache configuration changed.
var errPathMismatch = errors.New("archive path list does not match")

type archiveHeader struct {
	version     uint8
	compression Compression
	encrypted   bool
	payloadSize uint64
}

func (h archiveHeader) encode() []byte {
	buffer := make([]byte, archiveHeaderSize)
	copy(buffer, archiveMagic)
	buffer[7] = h.version
	buffer[8] = uint8(h.compression)
	if h.encrypted {
		buffer[9] = flagEncrypted
	}
	binary.LittleEndian.PutUint64(buffer[10:], h.payloadSize)
	return buffer
}

func parseArchiveHeader(data []byte) (archiveHeader, error) {
	if len(data) < archiveHeaderSize {
		return archiveHeader{}, fmt.Errorf("archive truncated: %d bytes", len(data))
	}
	if string(data[:len(archiveMagic)]) != archiveMagic {
		return archiveHeader{}, errors.New("not a loom cache archive")
	}
	header := archiveHeader{
		version:     data[7],
		compression: Compression(data[8]),
		encrypted:   data[9]&flagEncrypted != 0,
		payloadSize: binary.LittleEndian.Uint64(data[10:]),
	}
	if header.version != archiveVersion {
		return archiveHeader{}, fmt.Errorf("unsupported archive version %d", header.version)
	}
	return header, nil
}

// archiveManifest is the first tar entry of every archive.
type archiveManifest struct {
	Version int      `cbor:"version"`
	Paths   []string `cbor:"paths"`
}

// pack builds the tar payload for the given paths. Paths that do not
// exist on disk contribute nothing; a job that never populated a
// cached directory still archives cleanly.
func pack(paths []string) ([]byte, error) {
	var buffer bytes.Buffer
	writer := tar.NewWriter(&buffer)

	manifest, err := codec.Marshal(archiveManifest{Version: archiveVersion, Paths: paths})
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	header := &tar.Header{
		Name:     manifestName,
		Mode:     0o644,
		Size:     int64(len(manifest)),
		Typeflag: tar.TypeReg,
	}
	if err := writer.WriteHeader(header); err != nil {
		return nil, fmt.Errorf("write manifest header: %w", err)
	}
	if _, err := writer.Write(manifest); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	for i, root := range paths {
		if err := packTree(writer, strconv.Itoa(i), root); err != nil {
			return nil, fmt.Errorf("pack %q: %w", root, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	return buffer.Bytes(), nil
}

// packTree adds one cached path to the archive under the given
// section prefix. The root may be a directory tree or a single file.
func packTree(writer *tar.Writer, prefix, root string) error {
	if _, err := os.Lstat(root); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return err
	}

	return filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := entry.Info()
		if err != nil {
			return err
		}

		var link string
		switch {
		case info.Mode()&fs.ModeSymlink != 0:
			if link, err = os.Readlink(path); err != nil {
				return err
			}
		case !info.IsDir() && !info.Mode().IsRegular():
			// Sockets, devices, and fifos have no place in a cache.
			return nil
		}

		header, err := tar.FileInfoHeader(info, link)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		header.Name = prefix
		if rel != "." {
			header.Name = prefix + "/" + filepath.ToSlash(rel)
		}

		if err := writer.WriteHeader(header); err != nil {
			return err
		}
		if header.Typeflag != tar.TypeReg {
			return nil
		}
		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()
		if _, err := io.Copy(writer, file); err != nil {
			return err
		}
		return nil
	})
}

// unpack restores an archive payload onto the given paths. The
// manifest must list exactly these paths; anything else returns
// errPathMismatch. Sections present in the archive replace the
// corresponding path on disk, sections absent from the archive leave
// the path untouched.
func unpack(payload []byte, paths []string) error {
	reader := tar.NewReader(bytes.NewReader(payload))

	first, err := reader.Next()
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	if first.Name != manifestName {
		return fmt.Errorf("first entry is %q, want %q", first.Name, manifestName)
	}
	manifestData, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("read manifest: %w", err)
	}
	var manifest archiveManifest
	if err := codec.Unmarshal(manifestData, &manifest); err != nil {
		return fmt.Errorf("decode manifest: %w", err)
	}
	if manifest.Version != archiveVersion {
		return fmt.Errorf("unsupported manifest version %d", manifest.Version)
	}
	if !slices.Equal(manifest.Paths, paths) {
		return errPathMismatch
	}

	cleaned := make(map[int]bool, len(paths))
	for {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read archive: %w", err)
		}
		if err := restoreEntry(header, reader, paths, cleaned); err != nil {
			return fmt.Errorf("restore %q: %w", header.Name, err)
		}
	}
}

// splitEntryName separates an entry name into its section index and
// the path relative to that section's root.
func splitEntryName(name string) (int, string, error) {
	section, rel, _ := strings.Cut(name, "/")
	index, err := strconv.Atoi(section)
	if err != nil {
		return 0, "", fmt.Errorf("malformed entry name %q", name)
	}
	return index, rel, nil
}

func restoreEntry(header *tar.Header, reader io.Reader, roots []string, cleaned map[int]bool) error {
	index, rel, err := splitEntryName(header.Name)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(roots) {
		return fmt.Errorf("section %d out of range", index)
	}
	root := roots[index]

	dest := root
	if rel != "" {
		dest = filepath.Join(root, filepath.FromSlash(rel))
		// Join cleans the path; Rel answers whether it stayed inside
		// the root, whatever form the root was written in.
		back, err := filepath.Rel(root, dest)
		if err != nil || back == ".." || strings.HasPrefix(back, ".."+string(os.PathSeparator)) {
			return fmt.Errorf("entry escapes cache path")
		}
	}

	// Replace stale content the first time this section appears.
	if !cleaned[index] {
		cleaned[index] = true
		if err := os.RemoveAll(root); err != nil {
			return err
		}
	}

	perm := header.FileInfo().Mode().Perm()
	switch header.Typeflag {
	case tar.TypeDir:
		return os.MkdirAll(dest, perm)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		file, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
		if err != nil {
			return err
		}
		if _, err := io.Copy(file, reader); err != nil {
			file.Close()
			return err
		}
		return file.Close()
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := os.Remove(dest); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return os.Symlink(header.Linkname, dest)
	default:
		return nil
	}
}
