// Copyright 2026 The Loom Authors
// SPDX-License-Identifier: Apache-2.0

// Package cli provides the command framework for the loom binary:
// a declarative command tree with pflag flag sets, structured help
// output, typo suggestions for unknown commands and flags, and the
// ExitError type that carries process exit codes from command
// handlers to main.
//
// Commands are plain values; nothing here touches global state. The
// commands package builds the tree, main executes it:
//
//	err := commands.Root().Execute(os.Args[1:])
package cli
