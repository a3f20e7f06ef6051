// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tokens estimates prompt sizes in model tokens.
package tokens

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

var (
	codec     tokenizer.Codec
	codecOnce sync.Once
	codecErr  error
)

// getCodec returns the shared cl100k_base codec.
func getCodec() (tokenizer.Codec, error) {
	codecOnce.Do(func() {
		codec, codecErr = tokenizer.Get(tokenizer.Cl100kBase)
	})
	return codec, codecErr
}

// Count returns the cl100k_base token count for text.
func Count(text string) (int, error) {
	if text == "" {
		return 0, nil
	}
	c, err := getCodec()
	if err != nil {
		return 0, err
	}
	ids, _, err := c.Encode(text)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Estimate returns the token count, falling back to a 4-chars-per-token
// approximation when the codec is unavailable.
func Estimate(text string) int {
	n, err := Count(text)
	if err != nil {
		return (len(text) + 3) / 4
	}
	return n
}
