// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cloud

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
)

// =============================================================================
// STREAMING CONSTANTS
// =============================================================================

// MaxLineSize is the longest SSE line accepted (1 MiB).
const MaxLineSize = 1 << 20

// doneSentinel terminates an OpenRouter stream.
const doneSentinel = "[DONE]"

var dataPrefix = []byte("data:")

// ErrLineTooLong is returned when a single SSE line exceeds MaxLineSize.
var ErrLineTooLong = errors.New("stream line too long")

// =============================================================================
// STREAMING TYPES
// =============================================================================

// StreamChunk is one decoded data frame.
type StreamChunk struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Role    string `json:"role,omitempty"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

// GetContent returns the content from the first choice's delta.
func (c *StreamChunk) GetContent() string {
	if len(c.Choices) > 0 {
		return c.Choices[0].Delta.Content
	}
	return ""
}

// GetFinishReason returns the finish reason, if the frame carries one.
func (c *StreamChunk) GetFinishReason() string {
	if len(c.Choices) > 0 && c.Choices[0].FinishReason != nil {
		return *c.Choices[0].FinishReason
	}
	return ""
}

// StreamState is the decoder's lifecycle state.
type StreamState int

const (
	// StreamOpen means more frames may arrive.
	StreamOpen StreamState = iota
	// StreamDone means the sentinel was received.
	StreamDone
	// StreamClosed means the transport ended without a sentinel.
	StreamClosed
	// StreamFailed means reading the transport failed.
	StreamFailed
)

// String returns the state name.
func (s StreamState) String() string {
	switch s {
	case StreamOpen:
		return "open"
	case StreamDone:
		return "done"
	case StreamClosed:
		return "closed"
	case StreamFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns an SSE body into content deltas. Usage mirrors
// bufio.Scanner:
//
//	dec := cloud.NewDecoder(resp.Body)
//	defer dec.Close()
//	for dec.Next() {
//	    fmt.Print(dec.Delta())
//	}
//	if err := dec.Err(); err != nil { ... }
//
// The decoder closes the body once the stream ends or fails; Close may be
// called any number of times.
type Decoder struct {
	body   io.ReadCloser
	reader *bufio.Reader

	state        StreamState
	delta        string
	err          error
	content      strings.Builder
	deltas       int
	skipped      int
	finishReason string
	model        string

	closeOnce sync.Once
	closeErr  error
}

// NewDecoder wraps an SSE response body.
func NewDecoder(body io.ReadCloser) *Decoder {
	return &Decoder{
		body:   body,
		reader: bufio.NewReaderSize(body, 32*1024),
	}
}

// Next advances to the next non-empty delta. It returns false when the
// stream has ended; State and Err then describe why.
func (d *Decoder) Next() bool {
	d.delta = ""
	for d.state == StreamOpen {
		line, err := d.readLine()
		if len(line) > 0 {
			if delta, ok := d.handleLine(line); ok {
				d.delta = delta
				d.deltas++
				d.content.WriteString(delta)
				return true
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				d.finish(StreamClosed, nil)
			} else {
				d.finish(StreamFailed, err)
			}
		}
	}
	return false
}

// readLine returns one line without its terminator.
func (d *Decoder) readLine() ([]byte, error) {
	var line []byte
	for {
		frag, err := d.reader.ReadSlice('\n')
		line = append(line, frag...)
		if len(line) > MaxLineSize {
			return nil, ErrLineTooLong
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimRight(line, "\r\n"), err
	}
}

// handleLine processes one line and returns a delta to emit, if any.
func (d *Decoder) handleLine(line []byte) (string, bool) {
	if !bytes.HasPrefix(line, dataPrefix) {
		return "", false
	}
	payload := bytes.TrimPrefix(line[len(dataPrefix):], []byte(" "))

	if string(bytes.TrimSpace(payload)) == doneSentinel {
		d.finish(StreamDone, nil)
		return "", false
	}

	var chunk StreamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		d.skipped++
		return "", false
	}
	if chunk.Model != "" {
		d.model = chunk.Model
	}
	if reason := chunk.GetFinishReason(); reason != "" {
		d.finishReason = reason
	}

	delta := chunk.GetContent()
	return delta, delta != ""
}

// finish moves to a terminal state and releases the body.
func (d *Decoder) finish(state StreamState, err error) {
	if d.state != StreamOpen {
		return
	}
	d.state = state
	d.err = err
	d.Close()
}

// Delta returns the delta produced by the last successful Next.
func (d *Decoder) Delta() string {
	return d.delta
}

// Err returns the read error that ended the stream, if any.
func (d *Decoder) Err() error {
	return d.err
}

// State returns the current lifecycle state.
func (d *Decoder) State() StreamState {
	return d.state
}

// Content returns every delta so far, concatenated in order.
func (d *Decoder) Content() string {
	return d.content.String()
}

// Deltas returns how many deltas were emitted.
func (d *Decoder) Deltas() int {
	return d.deltas
}

// Skipped returns how many malformed frames were ignored.
func (d *Decoder) Skipped() int {
	return d.skipped
}

// FinishReason returns the last finish_reason seen.
func (d *Decoder) FinishReason() string {
	return d.finishReason
}

// Model returns the model reported by the stream.
func (d *Decoder) Model() string {
	return d.model
}

// Close releases the underlying body. It is safe to call repeatedly.
func (d *Decoder) Close() error {
	d.closeOnce.Do(func() {
		d.closeErr = d.body.Close()
	})
	return d.closeErr
}
