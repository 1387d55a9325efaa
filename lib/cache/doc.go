// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package cache persists job workspace directories between runs.
//
// Each job acquires a [Lease] before its install phase. The lease
// restores the job's cached paths from the archive store when a
// matching archive exists, and writes them back on release. Release
// is unconditional: it runs whether the job succeeded or failed, so
// a broken build still saves its dependency downloads. Configured
// prune paths are deleted before the archive is written.
//
// Archives are tar streams, compressed when the content warrants it
// and encrypted when the manager holds a key. A CBOR index file maps
// cache keys to archive metadata and is rewritten atomically on every
// mutation.
package cache
