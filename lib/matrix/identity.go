// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"encoding/binary"
	"encoding/hex"
	"sort"

	"github.com/zeebo/blake3"
)

// jobDomainKey is the BLAKE3 keyed-hash domain for job identities.
// Domain separation keeps job IDs from colliding with cache keys
// computed over overlapping inputs. The byte values are the ASCII
// encoding of the domain name, zero-padded to 32 bytes, so the key is
// inspectable in hex dumps without losing any cryptographic property.
var jobDomainKey = [32]byte{
	'l', 'o', 'o', 'm', '.', 'm', 'a', 't', 'r', 'i', 'x', '.', 'j', 'o', 'b', 0,
	0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0,
}

// identity computes a job's short stable ID: a keyed BLAKE3 digest
// over the resolved axis values (in axis-declaration order) and the
// entry's environment overrides (sorted by key), truncated to 12 hex
// characters. Two jobs share an ID exactly when they are the same
// combination with the same overrides.
func identity(axisNames []string, axes map[string]string, overrides map[string]string) string {
	hasher, err := blake3.NewKeyed(jobDomainKey[:])
	if err != nil {
		panic("matrix: BLAKE3 keyed hash initialization failed: " + err.Error())
	}

	for _, name := range axisNames {
		writeField(hasher, axes[name])
	}

	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		writeField(hasher, key)
		writeField(hasher, overrides[key])
	}

	digest := hasher.Sum(nil)
	return hex.EncodeToString(digest[:6])
}

// writeField writes a length-prefixed string to the hasher so that
// adjacent fields cannot be reinterpreted across their boundary.
func writeField(hasher *blake3.Hasher, field string) {
	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(len(field)))
	hasher.Write(length[:])
	hasher.Write([]byte(field))
}
