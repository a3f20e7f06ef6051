// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ananddd06/domainchat/internal/model"
)

func fileAttachment(t *testing.T, name, mime string, data []byte) model.Attachment {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return model.Attachment{
		ID:        "att-" + name,
		Name:      name,
		MimeType:  mime,
		SizeBytes: int64(len(data)),
		Content:   model.ContentRef{Path: path},
	}
}

func newComposer() *Composer {
	return NewComposer(zerolog.Nop())
}

// =============================================================================
// COMPOSE TESTS
// =============================================================================

func TestCompose_InlinesTextFile(t *testing.T) {
	att := fileAttachment(t, "notes.txt", "text/plain", []byte("hello world"))

	got := newComposer().Compose("Summarize this file", []model.Attachment{att})

	want := "Summarize this file\n\n---\nFile: notes.txt\nType: text/plain\nSize: 11 bytes\nContent:\nhello world\n---"
	assert.Equal(t, want, got.Text)
	require.Len(t, got.Blocks, 1)
	assert.Equal(t, Inlined, got.Blocks[0].Disposition)
	assert.Greater(t, got.Tokens, 0)
}

func TestCompose_NoAttachments(t *testing.T) {
	got := newComposer().Compose("just text", nil)
	assert.Equal(t, "just text", got.Text)
	assert.Empty(t, got.Blocks)
}

func TestCompose_TooLarge(t *testing.T) {
	att := model.Attachment{
		ID:        "big",
		Name:      "big.txt",
		MimeType:  "text/plain",
		SizeBytes: 1101005, // 1.05 MiB
		Content:   model.ContentRef{Path: "/does/not/matter"},
	}

	got := newComposer().Compose("q", []model.Attachment{att})
	assert.Equal(t, "q\n\n[File too large: big.txt (1.05 MiB) - Please use smaller files]", got.Text)
	assert.Equal(t, TooLarge, got.Blocks[0].Disposition)
}

func TestCompose_ExactlyOneMiBIsTooLarge(t *testing.T) {
	att := model.Attachment{Name: "edge.md", MimeType: "text/markdown", SizeBytes: InlineLimit, Content: model.ContentRef{Path: "/x"}}
	got := newComposer().Compose("", []model.Attachment{att})
	assert.Contains(t, got.Text, "[File too large: edge.md (1.00 MiB)")
}

func TestCompose_Binary(t *testing.T) {
	att := fileAttachment(t, "photo.png", "image/png", []byte{0x89, 'P', 'N', 'G'})
	got := newComposer().Compose("look", []model.Attachment{att})
	assert.Equal(t, "look\n\n[Attached file: photo.png (image/png) - Binary file not processed]", got.Text)
	assert.NotContains(t, got.Text, "PNG")
}

func TestCompose_RemoteOnly(t *testing.T) {
	att := model.Attachment{
		ID:        "r",
		Name:      "report.pdf",
		MimeType:  "application/pdf",
		SizeBytes: 500,
		Content:   model.ContentRef{URL: "https://example.com/report.pdf"},
	}
	got := newComposer().Compose("see", []model.Attachment{att})
	assert.Equal(t, "see\n\n[Attached file: report.pdf - https://example.com/report.pdf]", got.Text)
	assert.Equal(t, Remote, got.Blocks[0].Disposition)
}

func TestCompose_Unreadable(t *testing.T) {
	att := model.Attachment{
		Name:      "gone.txt",
		MimeType:  "text/plain",
		SizeBytes: 10,
		Content:   model.ContentRef{Path: filepath.Join(t.TempDir(), "gone.txt")},
	}
	got := newComposer().Compose("q", []model.Attachment{att})
	assert.Equal(t, "q\n\n[Could not read file: gone.txt]", got.Text)
	assert.Equal(t, Unreadable, got.Blocks[0].Disposition)
}

func TestCompose_FileChangedSizeIsUnreadable(t *testing.T) {
	grown := fileAttachment(t, "grown.txt", "text/plain", []byte("0123456789"))
	grown.SizeBytes = 4
	shrunk := fileAttachment(t, "shrunk.txt", "text/plain", []byte("abc"))
	shrunk.SizeBytes = 8

	got := newComposer().Compose("q", []model.Attachment{grown, shrunk})

	assert.Equal(t, "q\n\n[Could not read file: grown.txt]\n\n[Could not read file: shrunk.txt]", got.Text)
	require.Len(t, got.Blocks, 2)
	assert.Equal(t, Unreadable, got.Blocks[0].Disposition)
	assert.Equal(t, Unreadable, got.Blocks[1].Disposition)
	assert.NotContains(t, got.Text, "0123")
}

func TestCompose_ExtensionMakesTextLike(t *testing.T) {
	att := fileAttachment(t, "main.go", "application/octet-stream", []byte("package main\n"))
	got := newComposer().Compose("", []model.Attachment{att})
	assert.Contains(t, got.Text, "Content:\npackage main\n\n---")
}

func TestCompose_PreservesOrderAndPrefix(t *testing.T) {
	a := fileAttachment(t, "a.txt", "text/plain", []byte("AAA"))
	b := model.Attachment{Name: "b.bin", MimeType: "application/octet-stream", SizeBytes: 3, Content: model.ContentRef{Path: "/x"}}
	c := fileAttachment(t, "c.csv", "text/csv", []byte("1,2"))

	userText := "Compare  these\n"
	got := newComposer().Compose(userText, []model.Attachment{a, b, c})

	require.True(t, strings.HasPrefix(got.Text, userText))
	ia := strings.Index(got.Text, "File: a.txt")
	ib := strings.Index(got.Text, "[Attached file: b.bin")
	ic := strings.Index(got.Text, "File: c.csv")
	assert.True(t, ia < ib && ib < ic, "blocks out of order: %d %d %d", ia, ib, ic)
	require.Len(t, got.Blocks, 3)
}

func TestCompose_ByteForByteUTF8(t *testing.T) {
	content := "naïve café ✓\r\n\ttabs and CRLF"
	att := fileAttachment(t, "u.txt", "text/plain", []byte(content))
	got := newComposer().Compose("", []model.Attachment{att})
	assert.Contains(t, got.Text, "Content:\n"+content+"\n---")
}

func TestCompose_InlineLimitOverride(t *testing.T) {
	att := fileAttachment(t, "s.txt", "text/plain", []byte("0123456789"))
	got := newComposer().WithInlineLimit(5).Compose("", []model.Attachment{att})
	assert.Equal(t, TooLarge, got.Blocks[0].Disposition)
}

// =============================================================================
// DECODE TESTS
// =============================================================================

func TestDecodeText(t *testing.T) {
	t.Run("utf8 unchanged", func(t *testing.T) {
		out, err := decodeText([]byte("plain"))
		require.NoError(t, err)
		assert.Equal(t, "plain", out)
	})

	t.Run("utf16 little endian with bom", func(t *testing.T) {
		out, err := decodeText([]byte{0xFF, 0xFE, 'h', 0, 'i', 0})
		require.NoError(t, err)
		assert.Equal(t, "hi", out)
	})

	t.Run("windows-1252 fallback", func(t *testing.T) {
		out, err := decodeText([]byte{'c', 'a', 'f', 0xE9})
		require.NoError(t, err)
		assert.Equal(t, "café", out)
	})
}
