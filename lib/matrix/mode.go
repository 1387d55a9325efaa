// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"fmt"
	"strings"
)

// Mode identifies which steps block a job runs. A job's mode is
// derived from its merged environment during expansion, never at run
// time, so flag conflicts are caught before any job starts.
type Mode string

const (
	// ModeFormatCheck runs the formatting check sequence
	// (FORMAT_CHECK flag).
	ModeFormatCheck Mode = "format-check"

	// ModeCoverage runs the coverage sequence (COVERAGE flag).
	ModeCoverage Mode = "coverage"

	// ModeDocBuild runs the documentation build sequence (DOC_BUILD
	// flag).
	ModeDocBuild Mode = "doc-build"

	// ModeCrossTarget runs the cross-compilation sequence. The
	// CROSS_TARGET flag's value is the target platform identifier,
	// available to steps as an ordinary environment variable.
	ModeCrossTarget Mode = "cross-target"

	// ModeDefault is the fallback when no recognized flag is set.
	ModeDefault Mode = "default"
)

// modeFlags lists the flag recognized for each non-default mode, in
// priority order. The order is fixed: changing it changes which mode
// wins, so treat it as part of the document format.
var modeFlags = []struct {
	flag string
	mode Mode
}{
	{"FORMAT_CHECK", ModeFormatCheck},
	{"COVERAGE", ModeCoverage},
	{"DOC_BUILD", ModeDocBuild},
	{"CROSS_TARGET", ModeCrossTarget},
}

// Modes returns every recognized mode, priority order first, default
// last.
func Modes() []Mode {
	modes := make([]Mode, 0, len(modeFlags)+1)
	for _, candidate := range modeFlags {
		modes = append(modes, candidate.mode)
	}
	return append(modes, ModeDefault)
}

// ParseMode parses a mode name as it appears in a document's steps
// keys or deploy trigger.
func ParseMode(name string) (Mode, error) {
	for _, mode := range Modes() {
		if name == string(mode) {
			return mode, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q (recognized: %s)", name, modeNames())
}

// DeriveMode resolves a job's mode from its merged environment. The
// recognized flags are scanned in priority order; exactly one may be
// set. Two or more set flags is an error, which the caller reports as
// a configuration issue at expansion time.
func DeriveMode(env map[string]string) (Mode, error) {
	mode := ModeDefault
	var set []string

	for _, candidate := range modeFlags {
		if flagSet(env[candidate.flag]) {
			if mode == ModeDefault {
				mode = candidate.mode
			}
			set = append(set, candidate.flag)
		}
	}

	if len(set) > 1 {
		return ModeDefault, fmt.Errorf("conflicting mode flags: %s (set exactly one)", strings.Join(set, ", "))
	}
	return mode, nil
}

// flagSet reports whether an environment value counts as "set": any
// non-empty value other than "0" and "false" (case-insensitive).
func flagSet(value string) bool {
	switch strings.ToLower(value) {
	case "", "0", "false":
		return false
	}
	return true
}

func modeNames() string {
	names := make([]string, 0, len(modeFlags)+1)
	for _, mode := range Modes() {
		names = append(names, string(mode))
	}
	return strings.Join(names, ", ")
}
