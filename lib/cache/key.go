// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"encoding/binary"
	"encoding/hex"
	"slices"

	"github.com/zeebo/blake3"
)

// keyDomain separates cache keys from every other keyed hash in loom.
// ASCII bytes of the domain string, zero-padded to the 32 bytes the
// keyed hasher requires.
var keyDomain = func() [32]byte {
	var key [32]byte
	copy(key[:], "loom.cache.key")
	return key
}()

// Key derives the archive key for one job's cached paths. Keyed
// BLAKE3 over the document name, the job identity, and the sorted
// expanded path list, each field length-prefixed so no two field
// sequences collide. Two jobs share an archive only when all three
// inputs match.
func Key(document, jobID string, paths []string) string {
	hasher, err := blake3.NewKeyed(keyDomain[:])
	if err != nil {
		// NewKeyed fails only on wrong key length, which is fixed here.
		panic("cache: keyed hasher: " + err.Error())
	}

	writeField(hasher, document)
	writeField(hasher, jobID)

	sorted := slices.Clone(paths)
	slices.Sort(sorted)
	for _, path := range sorted {
		writeField(hasher, path)
	}

	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:16])
}

// writeField writes a length-prefixed field into the hasher. The
// prefix prevents ambiguity between ("ab","c") and ("a","bc").
func writeField(hasher *blake3.Hasher, field string) {
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(field)))
	hasher.Write(length[:])
	hasher.Write([]byte(field))
}
