// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ping.go - Connection test command.
//
// Command: ping
// Short:   Check that OpenRouter is reachable and the key is accepted
//
// Examples:
//   domainchat ping
//   domainchat ping --json
//   domainchat ping --timeout 5s

package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/Ananddd06/domainchat/internal/failure"
)

const defaultPingTimeout = 15 * time.Second

// PingResult is the JSON form of a ping.
type PingResult struct {
	OK        bool   `json:"ok"`
	Model     string `json:"model"`
	Key       string `json:"key"`
	LatencyMs int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// HandlePingCommand lists models with the configured key.
func HandlePingCommand(args Args) error {
	p := args.Parser()
	timeout := defaultPingTimeout
	if v := p.Flag("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return NewValidationErrorWithExample("timeout", v, "must be a positive duration", "domainchat ping --timeout 5s")
		}
		timeout = d
	}

	a, err := newApp(args)
	if err != nil {
		return err
	}
	defer a.Close()

	client := a.svc.Client()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	pingErr := a.svc.Ping(ctx)
	result := PingResult{
		OK:        pingErr == nil,
		Model:     client.Model(),
		Key:       client.KeyMasked(),
		LatencyMs: time.Since(start).Milliseconds(),
	}

	var f *failure.Failure
	if pingErr != nil {
		f = failure.Classify(pingErr, nil)
		result.Error = f.Text
		a.logger.Debug().Err(pingErr).Str("kind", f.Kind.String()).Msg("ping failed")
	}

	if args.JSON {
		if err := outputJSON(result); err != nil {
			return err
		}
		if f != nil {
			return &AnswerFailedError{Kind: f.Kind, Text: f.Text}
		}
		return nil
	}

	fmt.Println(TitleStyle.Render("OpenRouter"))
	fmt.Printf("  %s%s\n", RenderLabel("Model:", 10), ValueStyle.Render(result.Model))
	fmt.Printf("  %s%s\n", RenderLabel("Key:", 10), ValueStyle.Render(result.Key))
	if f != nil {
		fmt.Printf("  %s%s\n", RenderLabel("Status:", 10), RenderStatus("fail")+" "+f.Text)
		return &AnswerFailedError{Kind: f.Kind, Text: f.Text}
	}
	fmt.Printf("  %s%s\n", RenderLabel("Status:", 10),
		RenderStatus("ok")+" reachable in "+formatDurationShort(time.Since(start)))
	return nil
}
