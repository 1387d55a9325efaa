// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import "testing"

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{5 << 20, "5.0 MB"},
		{3 << 30, "3.0 GB"},
	}

	for _, test := range tests {
		t.Run(test.want, func(t *testing.T) {
			got := formatBytes(test.bytes)
			if got != test.want {
				t.Errorf("formatBytes(%d) = %q, want %q", test.bytes, got, test.want)
			}
		})
	}
}
