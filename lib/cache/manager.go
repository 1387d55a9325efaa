// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/loom-build/loom/lib/clock"
	"github.com/loom-build/loom/lib/secret"
)

// Job identifies the owner of a lease. The cache key derives from
// Document and ID; Name only labels log lines and index entries.
type Job struct {
	Document string
	ID       string
	Name     string
}

// Options configures a Manager.
type Options struct {
	// Dir is the archive store directory. Required; created if absent.
	Dir string

	// EncryptionKey, when set, seals every archive written and is
	// needed to restore sealed archives. The Manager takes ownership
	// and releases the key on Close.
	EncryptionKey *secret.Buffer

	// Logger receives cache activity (restores, misses, writes).
	// If nil, a no-op logger is used.
	Logger *slog.Logger

	// Clock supplies archive timestamps. If nil, the real clock is
	// used.
	Clock clock.Clock
}

// Manager owns one archive store directory. Cache keys derive from
// job identity, so only identical duplicate jobs can share a slot, and
// archive writes go through an atomic temp+rename (last writer wins).
// The index is the only other shared state, guarded by the mutex.
//
// Manager is safe for concurrent use.
type Manager struct {
	dir    string
	logger *slog.Logger
	clk    clock.Clock
	key    *secret.Buffer

	mu      sync.Mutex
	entries map[string]Entry
}

// NewManager opens the archive store at Options.Dir, creating it and
// an empty index if this is the first run.
func NewManager(opts Options) (*Manager, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("cache: Dir is required")
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}

	entries, err := loadIndex(opts.Dir)
	if err != nil {
		return nil, err
	}

	return &Manager{
		dir:     opts.Dir,
		logger:  logger,
		clk:     clk,
		key:     opts.EncryptionKey,
		entries: entries,
	}, nil
}

// Close releases the encryption key, if any. The Manager must not be
// used after Close.
func (m *Manager) Close() error {
	if m.key != nil {
		return m.key.Close()
	}
	return nil
}

// Lease is one job's hold on its cache slot. Acquire it before the
// install phase; Release it exactly once when the job finishes,
// regardless of outcome.
type Lease struct {
	manager  *Manager
	job      Job
	key      string
	paths    []string
	restored bool
	warning  string
	released atomic.Bool
}

// Key returns the archive key this lease reads and writes.
func (l *Lease) Key() string { return l.key }

// Restored reports whether Acquire materialized a cached archive
// onto the job's paths.
func (l *Lease) Restored() bool { return l.restored }

// Warning returns a description of any non-fatal problem hit while
// restoring, or "" when the acquire was clean. A warning always
// means the job starts from empty paths, never from partial state.
func (l *Lease) Warning() string { return l.warning }

// Acquire restores the cached archive for job onto paths and returns
// the lease. A missing archive is a normal first-run miss: the lease
// comes back with Restored() == false and the paths untouched.
//
// Unreadable or mismatched archives are downgraded to misses with a
// Warning, never to errors: a corrupt cache must not be able to fail
// a build. Acquire errors only on unusable arguments.
func (m *Manager) Acquire(ctx context.Context, job Job, paths []string) (*Lease, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("cache: no paths to cache")
	}

	lease := &Lease{
		manager: m,
		job:     job,
		key:     Key(job.Document, job.ID, paths),
		paths:   slices.Clone(paths),
	}

	m.mu.Lock()
	entry, exists := m.entries[lease.key]
	m.mu.Unlock()
	if !exists {
		m.logger.Debug("cache miss", "job", job.Name, "key", lease.key)
		return lease, nil
	}

	payload, err := m.readArchive(entry, lease.key)
	if err != nil {
		lease.warning = fmt.Sprintf("cache archive unreadable: %v", err)
		m.logger.Warn("cache archive unreadable, treating as miss",
			"job", job.Name, "key", lease.key, "error", err)
		return lease, nil
	}

	if err := unpack(payload, lease.paths); err != nil {
		if errors.Is(err, errPathMismatch) {
			m.logger.Info("cache path list changed, treating as miss",
				"job", job.Name, "key", lease.key)
		} else {
			lease.warning = fmt.Sprintf("cache restore failed: %v", err)
			m.logger.Warn("cache restore failed, treating as miss",
				"job", job.Name, "key", lease.key, "error", err)
		}
		return lease, nil
	}

	lease.restored = true
	m.logger.Info("cache restored",
		"job", job.Name, "key", lease.key, "bytes", entry.Size)
	return lease, nil
}

// Release prunes, re-archives, and persists the cached paths, then
// updates the index. It runs the same way for succeeded and failed
// jobs, and a second call is a no-op returning nil.
//
// Cancellation of ctx is deliberately not honored: an aborted run
// still persists whatever the job downloaded before the abort.
func (l *Lease) Release(ctx context.Context, prune []string) error {
	if !l.released.CompareAndSwap(false, true) {
		return nil
	}
	return l.manager.release(l, prune)
}

func (m *Manager) release(lease *Lease, prune []string) error {
	var problems []error

	// Prune before packing so pruned subtrees never enter the
	// archive. A prune path outside every cached path is refused.
	for _, path := range prune {
		if !underAny(path, lease.paths) {
			problems = append(problems, fmt.Errorf("prune path %q is outside every cached path", path))
			continue
		}
		if err := os.RemoveAll(path); err != nil {
			problems = append(problems, fmt.Errorf("prune %q: %w", path, err))
		}
	}

	payload, err := pack(lease.paths)
	if err != nil {
		problems = append(problems, fmt.Errorf("pack cache archive: %w", err))
		return errors.Join(problems...)
	}
	uncompressedSize := uint64(len(payload))

	body, compression, err := compressAuto(payload)
	if err != nil {
		problems = append(problems, fmt.Errorf("compress cache archive: %w", err))
		return errors.Join(problems...)
	}

	header := archiveHeader{
		version:     archiveVersion,
		compression: compression,
		encrypted:   m.key != nil,
		payloadSize: uncompressedSize,
	}
	headerBytes := header.encode()

	if m.key != nil {
		body, err = encryptPayload(m.key, lease.key, headerBytes, body)
		if err != nil {
			problems = append(problems, err)
			return errors.Join(problems...)
		}
	}

	archiveName := lease.key + ".arc"
	if err := m.writeArchiveFile(archiveName, headerBytes, body); err != nil {
		problems = append(problems, err)
		return errors.Join(problems...)
	}

	entry := Entry{
		Archive:     archiveName,
		Size:        int64(len(headerBytes) + len(body)),
		Compression: compression,
		Encrypted:   m.key != nil,
		SavedAt:     m.clk.Now().UTC(),
		JobName:     lease.job.Name,
		Document:    lease.job.Document,
	}

	m.mu.Lock()
	m.entries[lease.key] = entry
	err = saveIndex(m.dir, m.entries)
	m.mu.Unlock()
	if err != nil {
		problems = append(problems, err)
	} else {
		m.logger.Info("cache saved",
			"job", lease.job.Name, "key", lease.key,
			"bytes", entry.Size, "compression", compression.String())
	}
	return errors.Join(problems...)
}

// readArchive loads, unseals, and decompresses one archive file into
// the raw tar payload.
func (m *Manager) readArchive(entry Entry, cacheKey string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, entry.Archive))
	if err != nil {
		return nil, err
	}

	header, err := parseArchiveHeader(data)
	if err != nil {
		return nil, err
	}
	body := data[archiveHeaderSize:]

	if header.encrypted {
		if m.key == nil {
			return nil, errors.New("archive is encrypted and no cache encryption key is configured")
		}
		body, err = decryptPayload(m.key, cacheKey, data[:archiveHeaderSize], body)
		if err != nil {
			return nil, err
		}
	}

	return decompress(body, header.compression, int(header.payloadSize))
}

// writeArchiveFile writes header+body to a temp file in the store
// directory and renames it into place, so readers never observe a
// partially written archive.
func (m *Manager) writeArchiveFile(name string, header, body []byte) error {
	path := filepath.Join(m.dir, name)
	tempPath := path + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create archive temp file: %w", err)
	}
	success := false
	defer func() {
		if !success {
			file.Close()
			os.Remove(tempPath)
		}
	}()

	if _, err := file.Write(header); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if _, err := file.Write(body); err != nil {
		return fmt.Errorf("write archive: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync archive: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close archive: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename archive into place: %w", err)
	}
	success = true
	return nil
}

// underAny reports whether path equals one of roots or falls inside
// one. Both sides are cleaned first, so the check is textual and
// never follows symlinks.
func underAny(path string, roots []string) bool {
	cleaned := filepath.Clean(path)
	for _, root := range roots {
		rootCleaned := filepath.Clean(root)
		if cleaned == rootCleaned || strings.HasPrefix(cleaned, rootCleaned+string(os.PathSeparator)) {
			return true
		}
	}
	return false
}

// Stats summarizes the archive store.
type Stats struct {
	// Dir is the store directory.
	Dir string
	// ArchiveCount is the number of indexed archives.
	ArchiveCount int
	// TotalBytes is the sum of indexed archive sizes.
	TotalBytes int64
	// Oldest and Newest are the save times bounding the index. Zero
	// when the store is empty.
	Oldest time.Time
	Newest time.Time
	// FreeBytes is the space available on the store's filesystem.
	FreeBytes uint64
}

// Stats reports the current store contents and free disk space.
func (m *Manager) Stats() (Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{Dir: m.dir, ArchiveCount: len(m.entries)}
	for _, entry := range m.entries {
		stats.TotalBytes += entry.Size
		if stats.Oldest.IsZero() || entry.SavedAt.Before(stats.Oldest) {
			stats.Oldest = entry.SavedAt
		}
		if entry.SavedAt.After(stats.Newest) {
			stats.Newest = entry.SavedAt
		}
	}

	var fsStat unix.Statfs_t
	if err := unix.Statfs(m.dir, &fsStat); err != nil {
		return Stats{}, fmt.Errorf("statfs %s: %w", m.dir, err)
	}
	stats.FreeBytes = fsStat.Bavail * uint64(fsStat.Bsize)

	return stats, nil
}

// Entries returns a copy of the index, keyed by cache key.
func (m *Manager) Entries() map[string]Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := make(map[string]Entry, len(m.entries))
	for key, entry := range m.entries {
		entries[key] = entry
	}
	return entries
}

// PruneResult reports what PruneArchives removed.
type PruneResult struct {
	Removed    int
	FreedBytes int64
}

// PruneArchives evicts archives older than maxAge, then evicts
// oldest-first until the store fits under maxTotalBytes. A zero
// maxAge or maxTotalBytes disables that criterion. Orphaned archive
// files with no index entry are removed as well.
func (m *Manager) PruneArchives(maxAge time.Duration, maxTotalBytes int64) (PruneResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var result PruneResult
	var problems []error
	now := m.clk.Now()

	evict := func(key string) {
		entry := m.entries[key]
		if err := os.Remove(filepath.Join(m.dir, entry.Archive)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			problems = append(problems, fmt.Errorf("remove %s: %w", entry.Archive, err))
			return
		}
		delete(m.entries, key)
		result.Removed++
		result.FreedBytes += entry.Size
		m.logger.Info("cache archive evicted",
			"key", key, "job", entry.JobName, "bytes", entry.Size,
			"age", now.Sub(entry.SavedAt).Round(time.Second).String())
	}

	if maxAge > 0 {
		cutoff := now.Add(-maxAge)
		for _, key := range sortedKeys(m.entries) {
			if m.entries[key].SavedAt.Before(cutoff) {
				evict(key)
			}
		}
	}

	if maxTotalBytes > 0 {
		var total int64
		for _, entry := range m.entries {
			total += entry.Size
		}
		// Oldest first, key as tiebreaker for determinism.
		keys := sortedKeys(m.entries)
		slices.SortStableFunc(keys, func(a, b string) int {
			return m.entries[a].SavedAt.Compare(m.entries[b].SavedAt)
		})
		for _, key := range keys {
			if total <= maxTotalBytes {
				break
			}
			size := m.entries[key].Size
			before := result.Removed
			evict(key)
			if result.Removed > before {
				total -= size
			}
		}
	}

	if err := m.removeOrphansLocked(); err != nil {
		problems = append(problems, err)
	}

	if result.Removed > 0 {
		if err := saveIndex(m.dir, m.entries); err != nil {
			problems = append(problems, err)
		}
	}
	return result, errors.Join(problems...)
}

// removeOrphansLocked deletes *.arc files the index does not know
// about, including temp files left by a crashed writer.
func (m *Manager) removeOrphansLocked() error {
	indexed := make(map[string]bool, len(m.entries))
	for _, entry := range m.entries {
		indexed[entry.Archive] = true
	}

	dirEntries, err := os.ReadDir(m.dir)
	if err != nil {
		return fmt.Errorf("scan cache directory: %w", err)
	}

	var problems []error
	for _, dirEntry := range dirEntries {
		name := dirEntry.Name()
		if dirEntry.IsDir() {
			continue
		}
		orphanArchive := strings.HasSuffix(name, ".arc") && !indexed[name]
		staleTemp := strings.HasSuffix(name, ".tmp")
		if !orphanArchive && !staleTemp {
			continue
		}
		if err := os.Remove(filepath.Join(m.dir, name)); err != nil {
			problems = append(problems, fmt.Errorf("remove orphan %s: %w", name, err))
			continue
		}
		m.logger.Info("cache orphan removed", "file", name)
	}
	return errors.Join(problems...)
}

func sortedKeys(entries map[string]Entry) []string {
	keys := make([]string, 0, len(entries))
	for key := range entries {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
