// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"errors"
	"io"
	"os"
)

// ErrNoLocalContent is returned by Attachment.Open when only a URL is known.
var ErrNoLocalContent = errors.New("attachment has no local content")

// ContentRef points at the bytes behind an attachment. Path is a locally
// readable file; URL is a remote reference the client cannot read.
type ContentRef struct {
	Path string `json:"-"`
	URL  string `json:"url,omitempty"`

	// Spooled marks a Path owned by the loader that must be released.
	Spooled bool `json:"-"`
}

// Attachment is a user-supplied file. It is never mutated after creation.
type Attachment struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	MimeType  string     `json:"mime_type"`
	SizeBytes int64      `json:"size_bytes"`
	Content   ContentRef `json:"content"`
}

// Readable reports whether the attachment has locally readable content.
func (a Attachment) Readable() bool {
	return a.Content.Path != ""
}

// Open opens the local content for reading.
func (a Attachment) Open() (io.ReadCloser, error) {
	if !a.Readable() {
		return nil, ErrNoLocalContent
	}
	return os.Open(a.Content.Path)
}

// SizeMiB returns the size in mebibytes.
func (a Attachment) SizeMiB() float64 {
	return float64(a.SizeBytes) / (1024 * 1024)
}
