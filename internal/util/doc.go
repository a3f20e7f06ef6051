// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the domainchat packages.
//
// # Key Functions
//
// String Utilities (display width aware, via go-runewidth):
//   - TruncateRunes: UTF-8 safe truncation with ellipsis
//   - TruncateWidth: truncation to a terminal column width
//   - PadWidth: right-pad to a column width
//   - WrapWidth: word wrap to a column width
//
// File Operations:
//   - AtomicWriteFile: crash-safe file writing with fsync, creating the
//     parent directory owner-only
//
// # Usage
//
//	// Keep a long file name inside its column
//	name := util.PadWidth(util.TruncateWidth(att.Name, 32), 32)
//
//	// Write chat history so a crash never leaves it half written
//	err := util.AtomicWriteFile(path, data, 0600)
package util
