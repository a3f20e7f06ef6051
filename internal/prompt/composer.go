// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt builds the single user turn sent to the model from the
// user's text and an ordered list of attachments.
package prompt

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/Ananddd06/domainchat/internal/attachment"
	"github.com/Ananddd06/domainchat/internal/model"
	"github.com/Ananddd06/domainchat/internal/tokens"
)

// InlineLimit is the size at which attachments stop being inlined (1 MiB).
const InlineLimit int64 = 1 << 20

// Disposition records what the composer did with one attachment.
type Disposition string

const (
	Inlined    Disposition = "inlined"
	TooLarge   Disposition = "too_large"
	Binary     Disposition = "binary"
	Remote     Disposition = "remote"
	Unreadable Disposition = "unreadable"
)

// Block is the prompt fragment produced for one attachment.
type Block struct {
	AttachmentID string
	Name         string
	Disposition  Disposition
	Text         string
}

// Composed is the result of composing a prompt.
type Composed struct {
	Text   string
	Tokens int
	Blocks []Block
}

// =============================================================================
// COMPOSER
// =============================================================================

// Composer turns user text plus attachments into one prompt string. It reads
// attachment bytes but holds no state between calls.
type Composer struct {
	inlineLimit int64
	logger      zerolog.Logger
}

// NewComposer creates a composer with the 1 MiB inline limit.
func NewComposer(logger zerolog.Logger) *Composer {
	return &Composer{inlineLimit: InlineLimit, logger: logger}
}

// WithInlineLimit returns a copy of the composer using a different limit.
func (c *Composer) WithInlineLimit(n int64) *Composer {
	cp := *c
	if n > 0 {
		cp.inlineLimit = n
	}
	return &cp
}

// Compose returns userText followed by one block per attachment, in order.
func (c *Composer) Compose(userText string, atts []model.Attachment) Composed {
	var sb strings.Builder
	sb.WriteString(userText)

	blocks := make([]Block, 0, len(atts))
	for _, att := range atts {
		b := c.block(att)
		sb.WriteString(b.Text)
		blocks = append(blocks, b)
	}

	text := sb.String()
	return Composed{
		Text:   text,
		Tokens: tokens.Estimate(text),
		Blocks: blocks,
	}
}

// block renders one attachment.
func (c *Composer) block(att model.Attachment) Block {
	b := Block{AttachmentID: att.ID, Name: att.Name}

	switch {
	case !att.Readable():
		b.Disposition = Remote
		b.Text = placeholder("[Attached file: %s - %s]", att.Name, att.Content.URL)

	case attachment.IsTextLike(att.MimeType, att.Name) && att.SizeBytes < c.inlineLimit:
		content, err := c.readText(att)
		if err != nil {
			c.logger.Warn().Err(err).Str("name", att.Name).Msg("could not read attachment")
			b.Disposition = Unreadable
			b.Text = placeholder("[Could not read file: %s]", att.Name)
			break
		}
		b.Disposition = Inlined
		b.Text = fmt.Sprintf("\n\n---\nFile: %s\nType: %s\nSize: %d bytes\nContent:\n%s\n---",
			att.Name, att.MimeType, att.SizeBytes, content)

	case att.SizeBytes >= c.inlineLimit:
		b.Disposition = TooLarge
		b.Text = placeholder("[File too large: %s (%.2f MiB) - Please use smaller files]", att.Name, att.SizeMiB())

	default:
		b.Disposition = Binary
		b.Text = placeholder("[Attached file: %s (%s) - Binary file not processed]", att.Name, att.MimeType)
	}

	c.logger.Debug().
		Str("attachment_id", att.ID).
		Str("disposition", string(b.Disposition)).
		Msg("attachment composed")
	return b
}

// readText reads the whole attachment, which must still be exactly
// SizeBytes long. Valid UTF-8 is returned unchanged; UTF-16 with a BOM is
// transcoded; anything else is read as Windows-1252.
func (c *Composer) readText(att model.Attachment) (string, error) {
	rc, err := att.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, att.SizeBytes+1))
	if err != nil {
		return "", err
	}
	if int64(len(data)) != att.SizeBytes {
		return "", fmt.Errorf("%s changed size since it was attached: expected %d bytes", att.Name, att.SizeBytes)
	}
	return decodeText(data)
}

func decodeText(data []byte) (string, error) {
	if bytes.HasPrefix(data, []byte{0xFF, 0xFE}) || bytes.HasPrefix(data, []byte{0xFE, 0xFF}) {
		dec := unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder()
		out, _, err := transform.Bytes(unicode.BOMOverride(dec), data)
		return string(out), err
	}
	if utf8.Valid(data) {
		return string(data), nil
	}
	out, _, err := transform.Bytes(charmap.Windows1252.NewDecoder(), data)
	return string(out), err
}

func placeholder(format string, args ...any) string {
	return "\n\n" + fmt.Sprintf(format, args...)
}
