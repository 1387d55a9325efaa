// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package sealed wraps filippo.io/age for loom's deploy-token
// handling: generate keypairs, seal a token to one or more recipients,
// and unseal a token file with an identity file.
//
// Token files may be binary age output or ASCII-armored ("age -a");
// Unseal detects the armor header. Decrypted plaintext and private
// keys are returned as *secret.Buffer values (mmap-backed, locked
// against swap, zeroed on close) so token material never lingers on
// the Go heap.
package sealed

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"

	"filippo.io/age"
	"filippo.io/age/armor"

	"github.com/loom-build/loom/lib/secret"
)

// Keypair holds an age x25519 keypair. The private key lives in a
// secret.Buffer; the public key is a plain string, safe to publish.
//
// The caller must Close the keypair when it is no longer needed.
type Keypair struct {
	// PrivateKey is the AGE-SECRET-KEY-1... identity line. Never log
	// it or pass it on a command line.
	PrivateKey *secret.Buffer

	// PublicKey is the corresponding age1... recipient string.
	PublicKey string
}

// Close releases the private key memory. Idempotent.
func (k *Keypair) Close() error {
	if k.PrivateKey != nil {
		return k.PrivateKey.Close()
	}
	return nil
}

// GenerateKeypair generates a new age x25519 keypair with the private
// key in protected memory.
func GenerateKeypair() (*Keypair, error) {
	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating age keypair: %w", err)
	}

	// Move the identity string into mmap-backed memory immediately.
	// The heap string age hands us is unavoidable and will be GC'd;
	// the buffer is the durable copy.
	privateKey, err := secret.NewFromBytes([]byte(identity.String()))
	if err != nil {
		return nil, fmt.Errorf("protecting private key: %w", err)
	}

	return &Keypair{
		PrivateKey: privateKey,
		PublicKey:  identity.Recipient().String(),
	}, nil
}

// Seal encrypts plaintext to one or more age recipient public keys
// (age1... format) and returns the binary age ciphertext. At least one
// recipient is required.
func Seal(plaintext []byte, recipientKeys []string) ([]byte, error) {
	if len(recipientKeys) == 0 {
		return nil, fmt.Errorf("at least one recipient is required")
	}

	recipients := make([]age.Recipient, 0, len(recipientKeys))
	for _, key := range recipientKeys {
		recipient, err := age.ParseX25519Recipient(key)
		if err != nil {
			return nil, fmt.Errorf("parsing recipient key %q: %w", key, err)
		}
		recipients = append(recipients, recipient)
	}

	var ciphertext bytes.Buffer
	writer, err := age.Encrypt(&ciphertext, recipients...)
	if err != nil {
		return nil, fmt.Errorf("creating age encryptor: %w", err)
	}
	if _, err := writer.Write(plaintext); err != nil {
		return nil, fmt.Errorf("writing plaintext to age encryptor: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("finalizing age encryption: %w", err)
	}

	return ciphertext.Bytes(), nil
}

// Unseal decrypts age ciphertext (binary or ASCII-armored) using the
// identities in identityFile. identityFile follows age's identity file
// format: one AGE-SECRET-KEY-1... line, comments starting with #.
//
// The caller must Close the returned buffer.
func Unseal(ciphertext []byte, identityFile *secret.Buffer) (*secret.Buffer, error) {
	identities, err := parseIdentities(identityFile)
	if err != nil {
		return nil, err
	}

	var reader io.Reader = bytes.NewReader(ciphertext)
	if bytes.HasPrefix(ciphertext, []byte(armor.Header)) {
		reader = armor.NewReader(reader)
	}

	decryptor, err := age.Decrypt(reader, identities...)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", err)
	}

	plaintext, err := io.ReadAll(decryptor)
	if err != nil {
		return nil, fmt.Errorf("reading decrypted plaintext: %w", err)
	}
	if len(plaintext) == 0 {
		return nil, fmt.Errorf("decrypted plaintext is empty")
	}

	buffer, err := secret.NewFromBytes(plaintext)
	if err != nil {
		secret.Zero(plaintext)
		return nil, fmt.Errorf("protecting decrypted plaintext: %w", err)
	}
	return buffer, nil
}

// IsSealed reports whether data begins like age output, binary or
// ASCII-armored. Token files without an .age suffix are sniffed with
// this before being treated as plaintext.
func IsSealed(data []byte) bool {
	return bytes.HasPrefix(data, []byte("age-encryption.org/v1")) ||
		bytes.HasPrefix(data, []byte(armor.Header))
}

// UnsealFile reads an age-encrypted file and decrypts it with the
// identity file at identityPath.
func UnsealFile(path string, identityPath string) (*secret.Buffer, error) {
	ciphertext, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sealed file: %w", err)
	}

	identityFile, err := secret.ReadFromPath(identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	defer identityFile.Close()

	return Unseal(ciphertext, identityFile)
}

// parseIdentities parses age identities from identity file content.
// The string copy handed to age is request-scoped; age keeps its own
// parsed scalar internally.
func parseIdentities(identityFile *secret.Buffer) ([]age.Identity, error) {
	identities, err := age.ParseIdentities(strings.NewReader(identityFile.String()))
	if err != nil {
		return nil, fmt.Errorf("parsing identity file: %w", err)
	}
	return identities, nil
}
