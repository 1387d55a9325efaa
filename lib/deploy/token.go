// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package deploy

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/loom-build/loom/lib/matrix"
	"github.com/loom-build/loom/lib/sealed"
	"github.com/loom-build/loom/lib/secret"
)

// loadToken resolves the deploy token into guarded memory. A token
// file ending in .age, or whose content carries an age header, is
// decrypted with the configured identity file; anything else is used
// verbatim with trailing newlines trimmed.
func loadToken(section *matrix.DeploySection) (*secret.Buffer, error) {
	path, err := expandHome(section.TokenFile)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(path, ".age") {
		return unsealToken(path, section.IdentityFile)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	if sealed.IsSealed(data) {
		return unsealToken(path, section.IdentityFile)
	}

	token := bytes.TrimRight(data, "\n")
	if len(token) == 0 {
		return nil, fmt.Errorf("token file %s is empty", path)
	}
	buffer, err := secret.NewFromBytes(token)
	if err != nil {
		return nil, fmt.Errorf("protecting token: %w", err)
	}
	return buffer, nil
}

func unsealToken(path string, identityFile string) (*secret.Buffer, error) {
	if identityFile == "" {
		return nil, fmt.Errorf("token file %s is age-encrypted but the deploy section has no identity_file", path)
	}
	identityPath, err := expandHome(identityFile)
	if err != nil {
		return nil, err
	}
	buffer, err := sealed.UnsealFile(path, identityPath)
	if err != nil {
		return nil, fmt.Errorf("unsealing token file %s: %w", path, err)
	}
	return buffer, nil
}

// expandHome resolves a leading ~/ against the current home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
