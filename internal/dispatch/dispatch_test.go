// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ananddd06/domainchat/internal/attachment"
	"github.com/Ananddd06/domainchat/internal/cloud"
	"github.com/Ananddd06/domainchat/internal/config"
	"github.com/Ananddd06/domainchat/internal/model"
	"github.com/Ananddd06/domainchat/internal/telemetry"
)

const testKey = "sk-or-v1-test"

func newService(t *testing.T, url, key string, opts ...Option) *Service {
	t.Helper()
	cfg := cloud.DefaultConfig()
	cfg.BaseURL = url
	cfg.Timeout = 2 * time.Second
	return New(cloud.NewClient(cfg, cloud.StaticCredential(key)), opts...)
}

func buffered(content string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}],"usage":{"prompt_tokens":7,"completion_tokens":3}}`, content)
	}
}

func textAttachment(t *testing.T, name, content string) model.Attachment {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return model.Attachment{
		ID:        "att-1",
		Name:      name,
		MimeType:  "text/plain",
		SizeBytes: int64(len(content)),
		Content:   model.ContentRef{Path: path},
	}
}

func TestComposeAndSend_SendsComposedPrompt(t *testing.T) {
	var got cloud.ChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		buffered("It says hello.")(w, r)
	}))
	defer server.Close()

	svc := newService(t, server.URL, testKey)
	att := textAttachment(t, "notes.txt", "hello world")

	msg := svc.ComposeAndSend(context.Background(), "Summarize this file", []model.Attachment{att}, cloud.ModeBuffered, nil)

	assert.False(t, msg.Failed)
	assert.Equal(t, model.RoleAssistant, msg.Role)
	assert.Equal(t, "It says hello.", msg.Content)

	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
	assert.Equal(t,
		"Summarize this file\n\n---\nFile: notes.txt\nType: text/plain\nSize: 11 bytes\nContent:\nhello world\n---",
		got.Messages[1].Content)
	assert.False(t, got.Stream)
}

func TestComposeAndSend_RateLimitedIgnoresBody(t *testing.T) {
	for _, body := range []string{`{"error":{"message":"slow down"}}`, `<html>nope</html>`, ``} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(body))
		}))

		for _, mode := range []cloud.Mode{cloud.ModeBuffered, cloud.ModeStreaming} {
			msg := newService(t, server.URL, testKey).ComposeAndSend(context.Background(), "hi", nil, mode, nil)
			assert.True(t, msg.Failed)
			assert.Equal(t, model.FailurePrefix+"Rate limit exceeded: Too many requests. Please wait a moment and try again.", msg.Content)
		}
		server.Close()
	}
}

func TestComposeAndSend_StreamsDeltasInOrder(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hi\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\" there\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)
	svc := newService(t, server.URL, testKey, WithMetrics(metrics))

	var deltas []string
	msg := svc.ComposeAndSend(context.Background(), "hello", nil, cloud.ModeStreaming, func(d string) {
		deltas = append(deltas, d)
	})

	assert.Equal(t, []string{"Hi", " there"}, deltas)
	assert.Equal(t, "Hi there", msg.Content)
	assert.False(t, msg.Failed)
	assert.False(t, msg.Incomplete)

	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.StreamDeltas))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.SendsTotal.WithLabelValues("streaming", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.SendsInFlight))
}

func TestComposeAndSend_MissingCredentialMakesNoCall(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	for _, mode := range []cloud.Mode{cloud.ModeBuffered, cloud.ModeStreaming} {
		msg := newService(t, server.URL, "", WithMetrics(metrics)).
			ComposeAndSend(context.Background(), "hi", nil, mode, nil)
		assert.True(t, msg.Failed)
		assert.True(t, strings.HasPrefix(msg.Content, model.FailurePrefix+"API key error"))
	}
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.FailuresTotal.WithLabelValues("missing_credential")))
}

func TestComposeAndSend_IncompleteStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n")
	}))
	defer server.Close()

	msg := newService(t, server.URL, testKey).ComposeAndSend(context.Background(), "x", nil, cloud.ModeStreaming, nil)
	assert.Equal(t, "partial", msg.Content)
	assert.True(t, msg.Incomplete)
	assert.False(t, msg.Failed)
}

func TestComposeAndSend_NetworkFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	msg := newService(t, url, testKey).ComposeAndSend(context.Background(), "x", nil, cloud.ModeBuffered, nil)
	assert.True(t, msg.Failed)
	assert.Contains(t, msg.Content, "Network error")
}

func TestComposeAndSend_RecordsLedger(t *testing.T) {
	server := httptest.NewServer(buffered("answer"))
	defer server.Close()

	ledger, err := telemetry.OpenLedger(filepath.Join(t.TempDir(), "usage.db"))
	require.NoError(t, err)
	defer ledger.Close()

	svc := newService(t, server.URL, testKey, WithLedger(ledger))
	msg := svc.ComposeAndSend(context.Background(), "q", nil, cloud.ModeBuffered, nil)
	require.False(t, msg.Failed)

	failed := newService(t, server.URL, "", WithLedger(ledger)).
		ComposeAndSend(context.Background(), "q", nil, cloud.ModeBuffered, nil)
	require.True(t, failed.Failed)

	rows, err := ledger.Recent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	byID := map[string]telemetry.Usage{}
	for _, r := range rows {
		byID[r.MessageID] = r
	}
	ok := byID[msg.ID]
	assert.Equal(t, "ok", ok.Outcome)
	assert.Equal(t, "buffered", ok.Mode)
	assert.Equal(t, 7, ok.PromptTokens)
	assert.Equal(t, 3, ok.CompletionTokens)
	assert.Equal(t, len("answer"), ok.ResponseChars)
	assert.Equal(t, "missing_credential", byID[failed.ID].Outcome)
}

func TestComposeAndSend_CallerCancel(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(50*time.Millisecond, cancel)

	msg := newService(t, server.URL, testKey).ComposeAndSend(ctx, "x", nil, cloud.ModeBuffered, nil)
	assert.True(t, msg.Failed)
	assert.Contains(t, msg.Content, "Network error")
}

func TestClassifyFailure(t *testing.T) {
	assert.Contains(t, ClassifyFailure(cloud.ErrMissingCredential, nil), "API key error")
	assert.Contains(t, ClassifyFailure(errors.New("boom"), &http.Response{StatusCode: 503, Status: "503 Service Unavailable"}), "Service unavailable")
	assert.Equal(t, "File too large: big.bin is 12.00MB. Maximum size is 10MB.",
		ClassifyFailure(&attachment.TooLargeError{Name: "big.bin", Size: 12 << 20, Limit: 10 << 20}, nil))

	msg := FailureMessage(cloud.ErrEmptyAnswer)
	assert.True(t, msg.Failed)
	assert.True(t, strings.HasPrefix(msg.Content, model.FailurePrefix))
}

func TestNewFromStore_ReadsKeyPerSend(t *testing.T) {
	var auth atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		buffered("ok")(w, r)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.API.BaseURL = server.URL
	store := config.NewStaticStore(cfg)
	svc := NewFromStore(store, zerolog.Nop())

	msg := svc.ComposeAndSend(context.Background(), "x", nil, cloud.ModeBuffered, nil)
	require.True(t, msg.Failed)

	require.NoError(t, store.Update(func(c *config.Config) error {
		c.API.Key = testKey
		return nil
	}))
	msg = svc.ComposeAndSend(context.Background(), "x", nil, cloud.ModeBuffered, nil)
	require.False(t, msg.Failed)
	assert.Equal(t, "Bearer "+testKey, auth.Load())
}

func TestClientConfig(t *testing.T) {
	cfg := config.Default()
	cfg.API.TimeoutSecs = 5
	cfg.API.PresencePenalty = 0.5
	cc := ClientConfig(cfg)
	assert.Equal(t, 5*time.Second, cc.Timeout)
	assert.Equal(t, 0.5, cc.PresencePenalty)
	assert.Equal(t, cfg.Prompt.SystemPrompt, cc.SystemPrompt)
}
