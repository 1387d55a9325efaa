// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package matrix

import (
	"strings"
	"testing"
)

func TestDeriveMode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		env     map[string]string
		want    Mode
		wantErr string
	}{
		{
			name: "empty environment",
			env:  nil,
			want: ModeDefault,
		},
		{
			name: "unrelated variables only",
			env:  map[string]string{"CARGO_INCREMENTAL": "0", "LOOM_RUST": "stable"},
			want: ModeDefault,
		},
		{
			name: "format check",
			env:  map[string]string{"FORMAT_CHECK": "1"},
			want: ModeFormatCheck,
		},
		{
			name: "coverage",
			env:  map[string]string{"COVERAGE": "true"},
			want: ModeCoverage,
		},
		{
			name: "doc build",
			env:  map[string]string{"DOC_BUILD": "yes"},
			want: ModeDocBuild,
		},
		{
			name: "cross target carries the platform identifier",
			env:  map[string]string{"CROSS_TARGET": "aarch64-unknown-linux-gnu"},
			want: ModeCrossTarget,
		},
		{
			name: "zero string does not count as set",
			env:  map[string]string{"FORMAT_CHECK": "0"},
			want: ModeDefault,
		},
		{
			name: "false does not count as set",
			env:  map[string]string{"FORMAT_CHECK": "false"},
			want: ModeDefault,
		},
		{
			name: "FALSE is case-insensitive",
			env:  map[string]string{"DOC_BUILD": "FALSE"},
			want: ModeDefault,
		},
		{
			name: "disabled flag does not conflict",
			env:  map[string]string{"FORMAT_CHECK": "0", "COVERAGE": "1"},
			want: ModeCoverage,
		},
		{
			name:    "two flags set",
			env:     map[string]string{"FORMAT_CHECK": "1", "COVERAGE": "1"},
			wantErr: "conflicting mode flags: FORMAT_CHECK, COVERAGE",
		},
		{
			name:    "three flags set",
			env:     map[string]string{"FORMAT_CHECK": "1", "DOC_BUILD": "1", "CROSS_TARGET": "armv7"},
			wantErr: "conflicting mode flags: FORMAT_CHECK, DOC_BUILD, CROSS_TARGET",
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			mode, err := DeriveMode(testCase.env)
			if testCase.wantErr != "" {
				if err == nil {
					t.Fatalf("got mode %q, want error containing %q", mode, testCase.wantErr)
				}
				if !strings.Contains(err.Error(), testCase.wantErr) {
					t.Fatalf("error = %v, want substring %q", err, testCase.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("DeriveMode: %v", err)
			}
			if mode != testCase.want {
				t.Errorf("mode = %q, want %q", mode, testCase.want)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	t.Parallel()

	for _, mode := range Modes() {
		parsed, err := ParseMode(string(mode))
		if err != nil {
			t.Errorf("ParseMode(%q): %v", mode, err)
		}
		if parsed != mode {
			t.Errorf("ParseMode(%q) = %q", mode, parsed)
		}
	}

	if _, err := ParseMode("benchmark"); err == nil {
		t.Error("expected error for unknown mode name")
	}
}

func TestModesOrder(t *testing.T) {
	t.Parallel()

	modes := Modes()
	if len(modes) != 5 {
		t.Fatalf("got %d modes, want 5", len(modes))
	}
	if modes[len(modes)-1] != ModeDefault {
		t.Errorf("last mode = %q, want default as the fallback", modes[len(modes)-1])
	}
	if modes[0] != ModeFormatCheck {
		t.Errorf("first mode = %q, want format-check (highest priority)", modes[0])
	}
}
