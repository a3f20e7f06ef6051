// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared by the config layer and the CLI.
package util

import (
	"strings"

	"github.com/mattn/go-runewidth"
)

// UNICODE: truncation and width are measured in runes and terminal columns,
// never bytes, so multi-byte file names are never split mid-character.

// TruncateRunes truncates a string to a maximum number of runes.
// If the string is truncated, "..." is appended.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// TruncateWidth truncates a string to a maximum display width. Wide
// characters (CJK, most emoji) count as two columns.
func TruncateWidth(s string, maxWidth int) string {
	if maxWidth <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= maxWidth {
		return s
	}
	if maxWidth <= 3 {
		return runewidth.Truncate(s, maxWidth, "")
	}
	return runewidth.Truncate(s, maxWidth, "...")
}

// PadWidth right-pads s with spaces to exactly width columns, truncating
// first when it is wider.
func PadWidth(s string, width int) string {
	s = TruncateWidth(s, width)
	return runewidth.FillRight(s, width)
}

// StringWidth returns the display width of a string in terminal columns.
func StringWidth(s string) int {
	return runewidth.StringWidth(s)
}

// WrapWidth wraps text on word boundaries so no line exceeds width columns.
// Existing newlines are kept; a single word wider than width stays whole.
func WrapWidth(text string, width int) string {
	if width <= 0 {
		return text
	}

	var b strings.Builder
	for i, line := range strings.Split(text, "\n") {
		if i > 0 {
			b.WriteByte('\n')
		}
		if runewidth.StringWidth(line) <= width {
			b.WriteString(line)
			continue
		}

		words := strings.Fields(line)
		if len(words) == 0 {
			continue
		}
		cur := words[0]
		curWidth := runewidth.StringWidth(cur)
		for _, w := range words[1:] {
			ww := runewidth.StringWidth(w)
			if curWidth+1+ww <= width {
				cur += " " + w
				curWidth += 1 + ww
				continue
			}
			b.WriteString(cur)
			b.WriteByte('\n')
			cur, curWidth = w, ww
		}
		b.WriteString(cur)
	}
	return b.String()
}
