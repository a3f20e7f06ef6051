// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cloud implements the OpenRouter chat completions client.
//
// A Client builds the fixed request payload (system instruction, one user
// turn, generation parameters) and sets the OpenRouter headers. Requests are
// sent through one of two Sender strategies that share payload construction
// and error mapping:
//
//   - Buffered: one request, 60 second timeout, validated JSON answer
//   - Streaming: one request with incremental SSE delivery via Decoder
//
// Every send performs exactly one HTTP call. Nothing is retried.
//
// # Usage
//
//	client := cloud.NewClient(cloud.DefaultConfig(), cloud.StaticCredential(key))
//	res, err := client.Sender(cloud.ModeStreaming).Send(ctx, prompt, func(delta string) {
//	    fmt.Print(delta)
//	})
//
// Failures are returned as typed errors (ErrMissingCredential,
// *OpenRouterError, *TransportError, ErrMalformedResponse, ErrEmptyAnswer)
// for the failure package to classify.
package cloud
