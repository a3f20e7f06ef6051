// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"bytes"
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

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ananddd06/domainchat/internal/attachment"
	"github.com/Ananddd06/domainchat/internal/cloud"
	"github.com/Ananddd06/domainchat/internal/config"
	"github.com/Ananddd06/domainchat/internal/dispatch"
	"github.com/Ananddd06/domainchat/internal/failure"
	"github.com/Ananddd06/domainchat/internal/model"
)

// =============================================================================
// ARG PARSER TESTS (args.go)
// =============================================================================

func TestArgParser_BasicParsing(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		bools    []string
		wantSub  string
		validate func(*testing.T, *ArgParser)
	}{
		{
			name:    "simple subcommand",
			args:    []string{"show"},
			wantSub: "show",
		},
		{
			name:    "flag with space value",
			args:    []string{"set", "--limit", "20"},
			wantSub: "set",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, "20", p.Flag("limit"))
				assert.Equal(t, 20, p.FlagIntOrDefault("limit", 5))
			},
		},
		{
			name: "flag with equals value",
			args: []string{"--since=7d"},
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, "7d", p.Flag("since"))
				assert.Equal(t, 0, p.PositionalCount())
			},
		},
		{
			name: "equals true becomes boolean",
			args: []string{"--stream=true", "--raw=false"},
			validate: func(t *testing.T, p *ArgParser) {
				assert.True(t, p.BoolFlag("stream"))
				assert.False(t, p.BoolFlag("raw"))
				assert.True(t, p.HasFlag("raw"))
			},
		},
		{
			name: "repeated flags keep order",
			args: []string{"review", "-f", "a.go", "--file", "b.go", "-f", "c.go"},
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, []string{"a.go", "c.go"}, p.FlagAll("f"))
				assert.Equal(t, []string{"a.go", "c.go", "b.go"}, p.FlagAll("f", "file"))
				assert.Equal(t, "c.go", p.Flag("file", "f"))
			},
			wantSub: "review",
		},
		{
			name:    "known boolean does not consume value",
			args:    []string{"--stream", "hello", "world"},
			bools:   []string{"stream"},
			wantSub: "hello",
			validate: func(t *testing.T, p *ArgParser) {
				assert.True(t, p.BoolFlag("stream"))
				assert.Equal(t, []string{"hello", "world"}, p.PositionalFrom(0))
			},
		},
		{
			name:    "unknown flag consumes value",
			args:    []string{"--stream", "hello"},
			wantSub: "",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, "hello", p.Flag("stream"))
				assert.False(t, p.BoolFlag("stream"))
			},
		},
		{
			name:    "double dash ends flags",
			args:    []string{"ask", "--", "--not-a-flag", "-f"},
			wantSub: "ask",
			validate: func(t *testing.T, p *ArgParser) {
				assert.Equal(t, []string{"ask", "--not-a-flag", "-f"}, p.PositionalFrom(0))
				assert.False(t, p.HasFlag("not-a-flag"))
			},
		},
		{
			name:    "single dash is positional",
			args:    []string{"-"},
			wantSub: "-",
		},
		{
			name: "trailing flag is boolean",
			args: []string{"show", "--json"},
			validate: func(t *testing.T, p *ArgParser) {
				assert.True(t, p.BoolFlag("json"))
			},
			wantSub: "show",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewArgParser(tt.args, tt.bools...)
			assert.Equal(t, tt.wantSub, p.Subcommand())
			assert.Equal(t, tt.args, p.Raw())
			if tt.validate != nil {
				tt.validate(t, p)
			}
		})
	}
}

func TestArgParser_Accessors(t *testing.T) {
	p := NewArgParser([]string{"set", "api.model", "openai/gpt-4o-mini", "--limit", "abc"})

	assert.Equal(t, "api.model", p.Positional(1))
	assert.Equal(t, "", p.Positional(10))
	assert.Equal(t, "", p.Positional(-1))
	assert.Equal(t, []string{}, p.PositionalFrom(5))
	assert.Equal(t, 3, p.PositionalCount())

	_, err := p.FlagInt("limit")
	assert.Error(t, err)
	assert.Equal(t, 7, p.FlagIntOrDefault("limit", 7))
	assert.Equal(t, 7, p.FlagIntOrDefault("missing", 7))
	assert.Equal(t, "fallback", p.FlagOrDefault("missing", "fallback"))
}

func TestParseBoolString(t *testing.T) {
	for _, v := range []string{"on", "true", "yes", "1", "ON"} {
		b, err := ParseBoolString(v)
		require.NoError(t, err, v)
		assert.True(t, b, v)
	}
	for _, v := range []string{"off", "false", "no", "0"} {
		b, err := ParseBoolString(v)
		require.NoError(t, err, v)
		assert.False(t, b, v)
	}
	_, err := ParseBoolString("maybe")
	assert.Error(t, err)
}

// =============================================================================
// COMMAND PARSING TESTS (cli.go)
// =============================================================================

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name    string
		argv    []string
		wantCmd Command
		wantRaw []string
		check   func(*testing.T, Args)
	}{
		{name: "no args starts chat", argv: nil, wantCmd: CmdChat},
		{name: "chat alias", argv: []string{"c"}, wantCmd: CmdChat, wantRaw: []string{}},
		{name: "ask", argv: []string{"ask", "hello"}, wantCmd: CmdAsk, wantRaw: []string{"hello"}},
		{name: "ask alias", argv: []string{"a", "hello"}, wantCmd: CmdAsk, wantRaw: []string{"hello"}},
		{name: "serve", argv: []string{"serve", "--addr", ":9000"}, wantCmd: CmdServe, wantRaw: []string{"--addr", ":9000"}},
		{name: "ping", argv: []string{"ping"}, wantCmd: CmdPing, wantRaw: []string{}},
		{name: "usage alias", argv: []string{"stats"}, wantCmd: CmdUsage, wantRaw: []string{}},
		{name: "config", argv: []string{"config", "path"}, wantCmd: CmdConfig, wantRaw: []string{"path"}},
		{name: "version", argv: []string{"version"}, wantCmd: CmdVersion, wantRaw: []string{}},
		{name: "help", argv: []string{"help"}, wantCmd: CmdHelp, wantRaw: []string{}},
		{
			name:    "bare question",
			argv:    []string{"what", "is", "2+2"},
			wantCmd: CmdAsk,
			wantRaw: []string{"what", "is", "2+2"},
		},
		{
			name:    "global flags are removed",
			argv:    []string{"--model", "openai/gpt-4o", "-q", "ask", "hi", "--json"},
			wantCmd: CmdAsk,
			wantRaw: []string{"hi"},
			check: func(t *testing.T, a Args) {
				assert.Equal(t, "openai/gpt-4o", a.Model)
				assert.True(t, a.Quiet)
				assert.True(t, a.JSON)
			},
		},
		{
			name:    "config flag equals form",
			argv:    []string{"--config=/tmp/x.toml", "--no-color", "ping"},
			wantCmd: CmdPing,
			wantRaw: []string{},
			check: func(t *testing.T, a Args) {
				assert.Equal(t, "/tmp/x.toml", a.Config)
				assert.True(t, a.NoColor)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, args := ParseArgs(tt.argv)
			assert.Equal(t, tt.wantCmd, cmd)
			if tt.wantRaw != nil {
				assert.Equal(t, len(tt.wantRaw), len(args.Raw))
				for i := range tt.wantRaw {
					assert.Equal(t, tt.wantRaw[i], args.Raw[i])
				}
			}
			if tt.check != nil {
				tt.check(t, args)
			}
		})
	}
}

func TestCommandString(t *testing.T) {
	assert.Equal(t, "chat", CmdChat.String())
	assert.Equal(t, "serve", CmdServe.String())
	assert.Equal(t, "usage", CmdUsage.String())
}

// =============================================================================
// ASK OPTION TESTS (ask.go)
// =============================================================================

func TestParseAskOptions(t *testing.T) {
	t.Run("question and files", func(t *testing.T) {
		opts, err := parseAskOptions(Args{Raw: []string{"review", "this", "-f", "a.go", "-f", "b.go"}}, cloud.ModeBuffered)
		require.NoError(t, err)
		assert.Equal(t, "review this", opts.question)
		assert.Equal(t, []string{"a.go", "b.go"}, opts.files)
		assert.Equal(t, cloud.ModeBuffered, opts.mode)
	})

	t.Run("stream flag keeps following text", func(t *testing.T) {
		opts, err := parseAskOptions(Args{Raw: []string{"--stream", "write", "a", "haiku"}}, cloud.ModeBuffered)
		require.NoError(t, err)
		assert.Equal(t, "write a haiku", opts.question)
		assert.Equal(t, cloud.ModeStreaming, opts.mode)
	})

	t.Run("buffered flag overrides default", func(t *testing.T) {
		opts, err := parseAskOptions(Args{Raw: []string{"--buffered", "--raw", "hi"}}, cloud.ModeStreaming)
		require.NoError(t, err)
		assert.Equal(t, cloud.ModeBuffered, opts.mode)
		assert.True(t, opts.raw)
	})

	t.Run("mode flag", func(t *testing.T) {
		opts, err := parseAskOptions(Args{Raw: []string{"--mode", "streaming", "hi"}}, cloud.ModeBuffered)
		require.NoError(t, err)
		assert.Equal(t, cloud.ModeStreaming, opts.mode)
	})

	t.Run("bad mode", func(t *testing.T) {
		_, err := parseAskOptions(Args{Raw: []string{"--mode", "turbo", "hi"}}, cloud.ModeBuffered)
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "mode", verr.Field)
	})

	t.Run("files without question", func(t *testing.T) {
		opts, err := parseAskOptions(Args{Raw: []string{"-f", "notes.md"}}, cloud.ModeBuffered)
		require.NoError(t, err)
		assert.Empty(t, opts.question)
	})

	t.Run("nothing to send", func(t *testing.T) {
		_, err := parseAskOptions(Args{}, cloud.ModeBuffered)
		assert.Error(t, err)
		assert.Equal(t, ExitUsageError, GetExitCode(err))
	})
}

// =============================================================================
// EXIT CODE TESTS (errors.go)
// =============================================================================

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"plain", errors.New("boom"), ExitGeneralError},
		{"validation", NewValidationError("mode", "x", "bad"), ExitUsageError},
		{"missing file", fmt.Errorf("open: %w", os.ErrNotExist), ExitNotFoundError},
		{"unreadable", fmt.Errorf("%w: denied", attachment.ErrUnreadable), ExitNotFoundError},
		{"too large", &attachment.TooLargeError{Name: "big.bin", Size: 20 << 20, Limit: 10 << 20}, ExitUsageError},
		{"answer auth", &AnswerFailedError{Kind: failure.AuthFailure}, ExitAuthError},
		{"answer missing key", &AnswerFailedError{Kind: failure.MissingCredential}, ExitAuthError},
		{"answer network", &AnswerFailedError{Kind: failure.NetworkFailure}, ExitNetworkError},
		{"answer rate limited", &AnswerFailedError{Kind: failure.RateLimited}, ExitNetworkError},
		{"classified missing key", failure.Classify(cloud.ErrMissingCredential, nil), ExitAuthError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestValidationErrorMessage(t *testing.T) {
	err := NewValidationErrorWithExample("since", "yesterday", "must be a duration", "domainchat usage --since 7d")
	assert.Contains(t, err.Error(), "invalid since: must be a duration")
	assert.Contains(t, err.Error(), "(got: yesterday)")
	assert.Contains(t, err.Error(), "Example: domainchat usage --since 7d")
}

// =============================================================================
// CHAT SESSION TESTS (chat.go)
// =============================================================================

// fakeUpstream answers every chat completion with content and counts calls.
func fakeUpstream(t *testing.T, content string) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var req cloud.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", content)
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"choices":[{"message":{"role":"assistant","content":%q}}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`, content)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newTestSession(t *testing.T, url, key string) (*ChatSession, *bytes.Buffer) {
	t.Helper()
	cfg := cloud.DefaultConfig()
	cfg.BaseURL = url
	cfg.Timeout = 2 * time.Second
	svc := dispatch.New(cloud.NewClient(cfg, cloud.StaticCredential(key)))
	loader := attachment.NewLoader(attachment.WithSpoolDir(t.TempDir()))
	out := &bytes.Buffer{}
	return NewChatSession(svc, loader, cloud.ModeBuffered, out), out
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestChatSession_SendAppendsUserAndAssistant(t *testing.T) {
	srv, calls := fakeUpstream(t, "Paris.")
	s, out := newTestSession(t, srv.URL, "sk-or-test")

	reply := s.Send(context.Background(), "Capital of France?")

	assert.False(t, reply.Failed)
	assert.Equal(t, "Paris.", reply.Content)
	assert.EqualValues(t, 1, atomic.LoadInt32(calls))

	msgs := s.Conversation().Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Capital of France?", msgs[0].Content)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Contains(t, out.String(), "Paris.")
}

func TestChatSession_MissingKeyProducesFailure(t *testing.T) {
	srv, calls := fakeUpstream(t, "unused")
	s, out := newTestSession(t, srv.URL, "")

	reply := s.Send(context.Background(), "hello")

	assert.True(t, reply.Failed)
	assert.True(t, strings.HasPrefix(reply.Content, model.FailurePrefix))
	kind, ok := failure.KindOf(reply)
	require.True(t, ok)
	assert.Equal(t, failure.MissingCredential, kind)
	assert.EqualValues(t, 0, atomic.LoadInt32(calls))
	assert.Equal(t, 2, s.Conversation().Len())
	assert.Contains(t, out.String(), "API key error")
}

func TestChatSession_AttachFilesDetach(t *testing.T) {
	srv, _ := fakeUpstream(t, "ok")
	s, out := newTestSession(t, srv.URL, "sk-or-test")
	ctx := context.Background()

	a := writeTemp(t, "a.txt", "alpha")
	b := writeTemp(t, "b.md", "# beta")

	assert.True(t, s.Execute(ctx, "/attach "+a+" "+b))
	require.Len(t, s.Pending(), 2)
	assert.Equal(t, "a.txt", s.Pending()[0].Name)
	assert.Contains(t, out.String(), "a.txt")

	out.Reset()
	assert.True(t, s.Execute(ctx, "/files"))
	assert.Contains(t, out.String(), "1. a.txt")
	assert.Contains(t, out.String(), "2. b.md")

	out.Reset()
	assert.True(t, s.Execute(ctx, "/detach 1"))
	require.Len(t, s.Pending(), 1)
	assert.Equal(t, "b.md", s.Pending()[0].Name)

	out.Reset()
	assert.True(t, s.Execute(ctx, "/detach 5"))
	assert.Len(t, s.Pending(), 1)
	assert.Contains(t, out.String(), "must be between 1 and 1")

	assert.True(t, s.Execute(ctx, "what is this?"))
	assert.Empty(t, s.Pending())
	msgs := s.Conversation().Messages()
	require.Len(t, msgs, 2)
	require.Len(t, msgs[0].Attachments, 1)
	assert.Equal(t, "b.md", msgs[0].Attachments[0].Name)
}

func TestChatSession_AttachMissingFileReportsFailure(t *testing.T) {
	srv, _ := fakeUpstream(t, "ok")
	s, out := newTestSession(t, srv.URL, "sk-or-test")

	assert.True(t, s.Execute(context.Background(), "/attach "+filepath.Join(t.TempDir(), "nope.txt")))
	assert.Empty(t, s.Pending())
	assert.Contains(t, out.String(), model.FailurePrefix)
}

func TestChatSession_URLAttachment(t *testing.T) {
	srv, _ := fakeUpstream(t, "ok")
	s, out := newTestSession(t, srv.URL, "sk-or-test")

	assert.True(t, s.Execute(context.Background(), "/url report.pdf https://example.com/report.pdf"))
	require.Len(t, s.Pending(), 1)
	att := s.Pending()[0]
	assert.Equal(t, "report.pdf", att.Name)
	assert.Equal(t, "https://example.com/report.pdf", att.Content.URL)
	assert.False(t, att.Readable())
	assert.Contains(t, out.String(), "report.pdf")

	out.Reset()
	assert.True(t, s.Execute(context.Background(), "/url onlyname"))
	assert.Contains(t, out.String(), "[Error]")
}

func TestChatSession_ModeAndClear(t *testing.T) {
	srv, _ := fakeUpstream(t, "ok")
	s, out := newTestSession(t, srv.URL, "sk-or-test")
	ctx := context.Background()

	assert.True(t, s.Execute(ctx, "/mode streaming"))
	assert.Equal(t, cloud.ModeStreaming, s.Mode())

	out.Reset()
	assert.True(t, s.Execute(ctx, "/mode nope"))
	assert.Equal(t, cloud.ModeStreaming, s.Mode())
	assert.Contains(t, out.String(), "[Error]")

	s.Send(ctx, "hi")
	require.Equal(t, 2, s.Conversation().Len())

	assert.True(t, s.Execute(ctx, "/clear"))
	assert.Equal(t, 0, s.Conversation().Len())
}

func TestChatSession_StatusShowsLastMessage(t *testing.T) {
	srv, _ := fakeUpstream(t, "ok")
	s, out := newTestSession(t, srv.URL, "sk-or-test")
	ctx := context.Background()

	assert.True(t, s.Execute(ctx, "/status"))
	assert.NotContains(t, out.String(), "Last message:")

	s.Send(ctx, "hi")
	out.Reset()
	assert.True(t, s.Execute(ctx, "/status"))
	assert.Contains(t, out.String(), "Last message:")
	assert.Contains(t, out.String(), "now")
}

func TestChatSession_QuitAndBlankInput(t *testing.T) {
	srv, calls := fakeUpstream(t, "ok")
	s, _ := newTestSession(t, srv.URL, "sk-or-test")
	ctx := context.Background()

	assert.True(t, s.Execute(ctx, "   "))
	assert.EqualValues(t, 0, atomic.LoadInt32(calls))
	assert.True(t, s.Execute(ctx, "/unknown"))
	assert.False(t, s.Execute(ctx, "/quit"))
	assert.False(t, s.Execute(ctx, "exit"))
	assert.False(t, s.Cancel())
}

func TestCompleteSlashCommand(t *testing.T) {
	assert.Nil(t, completeSlashCommand("hello"))
	assert.Equal(t, []string{"/detach "}, completeSlashCommand("/de"))
	assert.Len(t, completeSlashCommand("/"), len(slashCommands))
}

// =============================================================================
// CONFIG COMMAND TESTS (config.go)
// =============================================================================

func TestConfigShow_MasksKey(t *testing.T) {
	cfg := config.Default()
	cfg.API.Key = "sk-or-v1-secretsecret"

	var buf bytes.Buffer
	require.NoError(t, configShow(&buf, cfg, "/tmp/config.toml", false))
	assert.NotContains(t, buf.String(), "secretsecret")
	assert.Contains(t, buf.String(), "fingerprint "+cloud.Fingerprint(cfg.API.Key))
	assert.Contains(t, buf.String(), "[api]")

	buf.Reset()
	require.NoError(t, configShow(&buf, cfg, "/tmp/config.toml", true))
	assert.NotContains(t, buf.String(), "secretsecret")
	assert.Contains(t, buf.String(), `"path": "/tmp/config.toml"`)
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "[not set]", maskKey(""))
	assert.True(t, strings.HasPrefix(maskKey("sk-or-abc"), "[set, fingerprint "))
}

func TestConfigSet_WritesFile(t *testing.T) {
	t.Setenv("OPENROUTER_API_KEY", "")
	t.Setenv("DOMAINCHAT_API_KEY", "")
	t.Setenv("DOMAINCHAT_MODEL", "")

	path := filepath.Join(t.TempDir(), "config.toml")
	store, err := config.NewStore(path)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, configSet(&buf, store, "api.model", "openai/gpt-4o-mini"))
	assert.Contains(t, buf.String(), "api.model = openai/gpt-4o-mini")

	onDisk, err := config.LoadFromPath(path)
	require.NoError(t, err)
	assert.Equal(t, "openai/gpt-4o-mini", onDisk.API.Model)

	buf.Reset()
	require.NoError(t, configSet(&buf, store, "api.key", "not-a-key"))
	assert.NotContains(t, buf.String(), "not-a-key")
	assert.Contains(t, buf.String(), "sk-")

	assert.Error(t, configSet(&buf, store, "api.nonexistent", "x"))
}

// =============================================================================
// USAGE HELPER TESTS (usage.go)
// =============================================================================

func TestParseAge(t *testing.T) {
	d, err := parseAge("", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, time.Hour, d)

	d, err = parseAge("7d", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 7*24*time.Hour, d)

	d, err = parseAge("36h", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 36*time.Hour, d)

	for _, bad := range []string{"0d", "-1h", "xd", "soon"} {
		_, err := parseAge(bad, time.Hour)
		assert.Error(t, err, bad)
	}
}

// =============================================================================
// HELPER TESTS (helpers.go)
// =============================================================================

func TestFormatHelpers(t *testing.T) {
	assert.Equal(t, "45s", formatDuration(45*time.Second))
	assert.Equal(t, "3h", formatDuration(3*time.Hour))
	assert.Equal(t, "2d", formatDuration(49*time.Hour))
	assert.Equal(t, "250ms", formatDurationShort(250*time.Millisecond))
	assert.Equal(t, "1.5s", formatDurationShort(1500*time.Millisecond))
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "1.0 MiB", formatBytes(1<<20))
	assert.Equal(t, "0 B", formatBytes(-1))
	assert.Equal(t, "now", formatAgo(time.Now()))
}
