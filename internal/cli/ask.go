// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ask.go - Single question command handler.
//
// Command: ask [question]
// Short:   Ask a single question, optionally with attached files
//
// Examples:
//   domainchat ask "What is the capital of France?"
//   domainchat ask "Review this code" -f main.go -f main_test.go
//   domainchat ask --stream "Write a haiku about Go"
//   domainchat ask --json "Summarize" -f notes.md
//
// Flags:
//   -f, --file PATH     Attach a file (repeatable)
//   --stream            Print the answer as it arrives
//   --buffered          Wait for the full answer (default unless configured)
//   --raw               Never render markdown
//   --json              Print the resulting message as JSON

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"

	"github.com/Ananddd06/domainchat/internal/cloud"
	"github.com/Ananddd06/domainchat/internal/dispatch"
	"github.com/Ananddd06/domainchat/internal/failure"
	"github.com/Ananddd06/domainchat/internal/model"
)

// askBoolFlags never take a value, so "--stream hello" keeps "hello" as text.
var askBoolFlags = []string{"stream", "s", "buffered", "b", "raw", "r"}

// =============================================================================
// MARKDOWN RENDERING
// =============================================================================

// markdownRenderer renders final answers for the terminal. It is a pure
// transform on finished message content; nothing is rendered mid-stream.
type markdownRenderer struct {
	tr *glamour.TermRenderer
}

// newMarkdownRenderer returns nil when rendering is off, stdout is not a
// terminal or glamour cannot initialise.
func newMarkdownRenderer(enabled bool, wordWrap int) *markdownRenderer {
	if !enabled || !IsStdoutTTY() {
		return nil
	}
	if wordWrap <= 0 {
		wordWrap = GetTerminalWidth()
	}

	style := glamour.WithAutoStyle()
	if !ColorsEnabled() {
		style = glamour.WithStandardStyle("notty")
	}
	tr, err := glamour.NewTermRenderer(style, glamour.WithWordWrap(wordWrap))
	if err != nil {
		return nil
	}
	return &markdownRenderer{tr: tr}
}

// Render returns content rendered as markdown, or content unchanged.
func (r *markdownRenderer) Render(content string) string {
	if r == nil {
		return content
	}
	out, err := r.tr.Render(content)
	if err != nil {
		return content
	}
	return out
}

// =============================================================================
// DISPLAY
// =============================================================================

// displayMessage prints an assistant message. Streamed answers were already
// printed delta by delta; only a failure or incomplete marker follows them.
func displayMessage(w io.Writer, msg model.Message, streamed bool, r *markdownRenderer) {
	switch {
	case msg.Failed:
		if streamed {
			fmt.Fprintln(w)
		}
		fmt.Fprintln(w, ErrorStyle.Render(msg.Content))
	case streamed:
		fmt.Fprintln(w)
	case r != nil:
		fmt.Fprint(w, r.Render(msg.Content))
	default:
		fmt.Fprintln(w, msg.Content)
	}
	if msg.Incomplete {
		fmt.Fprintln(w, WarningStyle.Render("[answer may be incomplete: the stream ended early]"))
	}
}

// =============================================================================
// COMMAND HANDLER
// =============================================================================

// askOptions is the parsed form of the ask arguments.
type askOptions struct {
	question string
	files    []string
	mode     cloud.Mode
	raw      bool
}

func parseAskOptions(args Args, defaultMode cloud.Mode) (askOptions, error) {
	p := args.Parser(askBoolFlags...)
	opts := askOptions{
		question: strings.TrimSpace(JoinPositionalArgs(p, 0)),
		files:    p.FlagAll("file", "f"),
		mode:     defaultMode,
		raw:      p.BoolFlag("raw", "r"),
	}
	switch {
	case p.BoolFlag("stream", "s"):
		opts.mode = cloud.ModeStreaming
	case p.BoolFlag("buffered", "b"):
		opts.mode = cloud.ModeBuffered
	}
	if m := p.Flag("mode"); m != "" {
		mode, err := cloud.ParseMode(m)
		if err != nil {
			return opts, NewValidationErrorWithExample("mode", m, "must be buffered or streaming", "domainchat ask --mode buffered \"hello\"")
		}
		opts.mode = mode
	}

	if opts.question == "" && len(opts.files) == 0 {
		return opts, ErrMissingArgument("question", `domainchat ask "What is the capital of France?"`)
	}
	return opts, nil
}

// HandleAskCommand sends one question and prints the answer.
func HandleAskCommand(args Args) error {
	a, err := newApp(args)
	if err != nil {
		return err
	}
	defer a.Close()

	opts, err := parseAskOptions(args, a.defaultMode())
	if err != nil {
		return err
	}
	// JSON output needs the whole message at once.
	if args.JSON {
		opts.mode = cloud.ModeBuffered
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	msg := runAsk(ctx, a, opts, os.Stdout)
	if msg.Failed {
		kind, _ := failure.KindOf(msg)
		return &AnswerFailedError{Kind: kind, Text: msg.Content}
	}
	return nil
}

// runAsk loads the attachments, sends and prints the result to w. Load
// failures are reported as failure messages.
func runAsk(ctx context.Context, a *app, opts askOptions, w io.Writer) model.Message {
	atts, err := a.loader.LoadAll(ctx, opts.files)
	if err != nil {
		msg := dispatch.FailureMessage(err)
		printAskResult(w, a, msg, false, opts.raw)
		return msg
	}
	defer func() {
		if err := a.loader.ReleaseAll(atts); err != nil {
			a.logger.Warn().Err(err).Msg("releasing attachments")
		}
	}()

	var onDelta cloud.DeltaFunc
	streamed := false
	if opts.mode == cloud.ModeStreaming && !a.args.JSON {
		onDelta = func(delta string) {
			streamed = true
			fmt.Fprint(w, delta)
		}
	}

	msg := a.svc.ComposeAndSend(ctx, opts.question, atts, opts.mode, onDelta)
	printAskResult(w, a, msg, streamed, opts.raw)
	return msg
}

func printAskResult(w io.Writer, a *app, msg model.Message, streamed, raw bool) {
	if a.args.JSON {
		_ = writeJSON(w, msg)
		return
	}
	var r *markdownRenderer
	if !raw {
		r = newMarkdownRenderer(a.cfg.UI.Markdown, a.cfg.UI.WordWrap)
	}
	displayMessage(w, msg, streamed, r)
}
