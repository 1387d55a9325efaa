// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"filippo.io/age/armor"

	"github.com/loom-build/loom/lib/secret"
)

func TestSealUnsealRoundTrip(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}
	defer keypair.Close()

	ciphertext, err := Seal([]byte("ghp_deploytoken"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	plaintext, err := Unseal(ciphertext, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Unseal failed: %v", err)
	}
	defer plaintext.Close()

	if got := plaintext.String(); got != "ghp_deploytoken" {
		t.Errorf("round trip produced %q", got)
	}
}

func TestSealRequiresRecipients(t *testing.T) {
	if _, err := Seal([]byte("x"), nil); err == nil {
		t.Fatal("Seal with no recipients should fail")
	}
}

func TestSealRejectsBadRecipient(t *testing.T) {
	if _, err := Seal([]byte("x"), []string{"not-an-age-key"}); err == nil {
		t.Fatal("Seal with a malformed recipient should fail")
	}
}

func TestUnsealWrongIdentity(t *testing.T) {
	owner, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}
	defer owner.Close()

	other, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}
	defer other.Close()

	ciphertext, err := Seal([]byte("x"), []string{owner.PublicKey})
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if _, err := Unseal(ciphertext, other.PrivateKey); err == nil {
		t.Fatal("Unseal with the wrong identity should fail")
	}
}

func TestUnsealIdentityFileWithComments(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}
	defer keypair.Close()

	// age identity files carry comment lines; parsing must skip them.
	content := "# created: 2026-08-01\n# public key: " + keypair.PublicKey + "\n" + keypair.PrivateKey.String() + "\n"
	identityFile, err := secret.NewFromBytes([]byte(content))
	if err != nil {
		t.Fatalf("building identity file buffer: %v", err)
	}
	defer identityFile.Close()

	ciphertext, err := Seal([]byte("token"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	plaintext, err := Unseal(ciphertext, identityFile)
	if err != nil {
		t.Fatalf("Unseal with commented identity file failed: %v", err)
	}
	defer plaintext.Close()

	if got := plaintext.String(); got != "token" {
		t.Errorf("Unseal produced %q, want %q", got, "token")
	}
}

func TestUnsealFile(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}
	defer keypair.Close()

	directory := t.TempDir()

	ciphertext, err := Seal([]byte("file-token"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	sealedPath := filepath.Join(directory, "token.age")
	if err := os.WriteFile(sealedPath, ciphertext, 0o600); err != nil {
		t.Fatalf("writing sealed file: %v", err)
	}

	identityPath := filepath.Join(directory, "identity.txt")
	if err := os.WriteFile(identityPath, []byte(keypair.PrivateKey.String()+"\n"), 0o600); err != nil {
		t.Fatalf("writing identity file: %v", err)
	}

	plaintext, err := UnsealFile(sealedPath, identityPath)
	if err != nil {
		t.Fatalf("UnsealFile failed: %v", err)
	}
	defer plaintext.Close()

	if got := plaintext.String(); got != "file-token" {
		t.Errorf("UnsealFile produced %q, want %q", got, "file-token")
	}
}

func TestIsSealed(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}
	defer keypair.Close()

	ciphertext, err := Seal([]byte("x"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}

	if !IsSealed(ciphertext) {
		t.Error("IsSealed missed binary age output")
	}
	if !IsSealed([]byte("-----BEGIN AGE ENCRYPTED FILE-----\nabc")) {
		t.Error("IsSealed missed armored age output")
	}
	if IsSealed([]byte("ghp_plaintexttoken\n")) {
		t.Error("IsSealed flagged a plaintext token")
	}
	if IsSealed(nil) {
		t.Error("IsSealed flagged empty data")
	}
}

func TestUnsealArmored(t *testing.T) {
	keypair, err := GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair failed: %v", err)
	}
	defer keypair.Close()

	ciphertext, err := Seal([]byte("armored-token"), []string{keypair.PublicKey})
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	armored := armorEncode(t, ciphertext)

	plaintext, err := Unseal(armored, keypair.PrivateKey)
	if err != nil {
		t.Fatalf("Unseal of armored ciphertext failed: %v", err)
	}
	defer plaintext.Close()

	if got := plaintext.String(); got != "armored-token" {
		t.Errorf("Unseal produced %q, want %q", got, "armored-token")
	}
}

// armorEncode wraps binary age output in ASCII armor, the "age -a"
// form.
func armorEncode(t *testing.T, ciphertext []byte) []byte {
	t.Helper()
	var buffer strings.Builder
	writer := armor.NewWriter(&buffer)
	if _, err := writer.Write(ciphertext); err != nil {
		t.Fatalf("armoring ciphertext: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("closing armor writer: %v", err)
	}
	return []byte(buffer.String())
}
