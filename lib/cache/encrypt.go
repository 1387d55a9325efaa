// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package cache

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/loom-build/loom/lib/secret"
)

// hkdfInfoArchive is the derivation context for per-archive keys.
// Bump the suffix if the archive format ever changes incompatibly,
// so old archives fail to decrypt rather than misparse.
const hkdfInfoArchive = "loom.cache.archive.v1"

// deriveArchiveKey derives the XChaCha20-Poly1305 key for one cache
// key from the master encryption key. Per-archive derivation means a
// leaked archive key exposes exactly one archive.
func deriveArchiveKey(master *secret.Buffer, cacheKey string) (*secret.Buffer, error) {
	info := []byte(hkdfInfoArchive + "." + cacheKey)
	reader := hkdf.New(sha256.New, master.Bytes(), nil, info)

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("derive archive key: %w", err)
	}
	// NewFromBytes zeroes the intermediate copy.
	return secret.NewFromBytes(key)
}

// encryptPayload seals payload with a key derived for cacheKey.
// Output layout: [24-byte nonce][ciphertext+tag]. The additional
// data binds the ciphertext to both the archive header and the cache
// key, so a valid archive cannot be replayed under another key or
// with altered header fields.
func encryptPayload(master *secret.Buffer, cacheKey string, header, payload []byte) ([]byte, error) {
	key, err := deriveArchiveKey(master, cacheKey)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	out := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(payload)+aead.Overhead())
	if _, err := rand.Read(out); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	aad := append(append([]byte{}, header...), cacheKey...)
	return aead.Seal(out, out[:chacha20poly1305.NonceSizeX], payload, aad), nil
}

// decryptPayload opens a sealed payload produced by encryptPayload.
// header and cacheKey must match the values used at seal time.
func decryptPayload(master *secret.Buffer, cacheKey string, header, sealed []byte) ([]byte, error) {
	key, err := deriveArchiveKey(master, cacheKey)
	if err != nil {
		return nil, err
	}
	defer key.Close()

	aead, err := chacha20poly1305.NewX(key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}

	if len(sealed) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, fmt.Errorf("sealed payload truncated: %d bytes", len(sealed))
	}
	nonce := sealed[:chacha20poly1305.NonceSizeX]
	ciphertext := sealed[chacha20poly1305.NonceSizeX:]

	aad := append(append([]byte{}, header...), cacheKey...)
	payload, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypt archive: %w", err)
	}
	return payload, nil
}
