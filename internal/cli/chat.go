// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// chat.go - Interactive chat command handler.
//
// Command: chat (default when no command is given)
// Short:   Start an interactive chat session
//
// Examples:
//   domainchat
//   domainchat chat --model openai/gpt-4o-mini
//
// Interactive Commands (during chat):
//   /attach PATH...     Attach files to the next message
//   /url NAME URL       Attach a remote file by URL (described, never fetched)
//   /files              List pending attachments
//   /detach N           Remove pending attachment N
//   /mode [MODE]        Show or switch buffered/streaming
//   /clear, /c          Start a new conversation
//   /help, /h           Show available commands
//   /quit, /q           Exit chat
//   Ctrl+C              Cancel the current answer
//   Ctrl+D              Exit chat

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/peterh/liner"

	"github.com/Ananddd06/domainchat/internal/attachment"
	"github.com/Ananddd06/domainchat/internal/cloud"
	"github.com/Ananddd06/domainchat/internal/config"
	"github.com/Ananddd06/domainchat/internal/dispatch"
	"github.com/Ananddd06/domainchat/internal/model"
	"github.com/Ananddd06/domainchat/internal/util"
)

// nameColumn is the display width of the file name column in /files.
const nameColumn = 32

// =============================================================================
// INPUT HISTORY
// =============================================================================

// ChatCLI provides line editing and persistent input history.
type ChatCLI struct {
	line        *liner.State
	historyFile string
}

// NewChatCLI creates a ChatCLI whose history lives next to the config file.
func NewChatCLI() *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completeSlashCommand)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}

	cli := &ChatCLI{
		line:        line,
		historyFile: filepath.Join(configDir, "chat_history"),
	}
	cli.LoadHistory()
	return cli
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadInput reads a line of input with the given prompt.
func (c *ChatCLI) ReadInput(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// SaveHistory persists command history owner-only.
func (c *ChatCLI) SaveHistory() {
	var buf bytes.Buffer
	if _, err := c.line.WriteHistory(&buf); err != nil {
		return
	}
	_ = util.AtomicWriteFile(c.historyFile, buf.Bytes(), 0600)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() {
	c.SaveHistory()
	c.line.Close()
}

var slashCommands = []string{
	"/attach ", "/url ", "/files", "/detach ", "/mode ", "/clear", "/help", "/quit",
}

func completeSlashCommand(line string) []string {
	if !strings.HasPrefix(line, "/") {
		return nil
	}
	var out []string
	for _, c := range slashCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}
	return out
}

// =============================================================================
// SESSION STATE
// =============================================================================

// ChatSession owns one conversation and the attachments queued for the next
// message. It is driven by a single goroutine; only Cancel may be called
// from another.
type ChatSession struct {
	svc    *dispatch.Service
	loader *attachment.Loader
	conv   *model.Conversation
	out    io.Writer

	mode     cloud.Mode
	pending  []model.Attachment
	renderer *markdownRenderer
	quiet    bool

	started  time.Time
	sends    int
	failures int

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewChatSession creates a session writing to out.
func NewChatSession(svc *dispatch.Service, loader *attachment.Loader, mode cloud.Mode, out io.Writer) *ChatSession {
	return &ChatSession{
		svc:     svc,
		loader:  loader,
		conv:    model.NewConversation(),
		out:     out,
		mode:    mode,
		started: time.Now(),
	}
}

// Conversation returns the session's conversation.
func (s *ChatSession) Conversation() *model.Conversation {
	return s.conv
}

// Pending returns the attachments queued for the next message.
func (s *ChatSession) Pending() []model.Attachment {
	return append([]model.Attachment(nil), s.pending...)
}

// Mode returns the current send mode.
func (s *ChatSession) Mode() cloud.Mode {
	return s.mode
}

// Cancel aborts the answer in progress, if any. It reports whether there
// was one.
func (s *ChatSession) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel == nil {
		return false
	}
	s.cancel()
	s.cancel = nil
	return true
}

// Execute handles one line of input. It returns false when the session
// should end.
func (s *ChatSession) Execute(ctx context.Context, input string) bool {
	input = strings.TrimSpace(input)
	switch {
	case input == "" && len(s.pending) == 0:
		return true
	case strings.HasPrefix(input, "/"):
		cont, err := s.handleSlashCommand(input)
		if err != nil {
			fmt.Fprintf(s.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
		}
		return cont
	case strings.EqualFold(input, "exit") || strings.EqualFold(input, "quit"):
		return false
	}

	s.Send(ctx, input)
	return true
}

// =============================================================================
// SENDING
// =============================================================================

// Send appends a user message with the pending attachments, asks the model
// and appends exactly one assistant message, which it returns.
func (s *ChatSession) Send(ctx context.Context, text string) model.Message {
	atts := s.pending
	s.pending = nil
	defer func() {
		if err := s.loader.ReleaseAll(atts); err != nil {
			fmt.Fprintf(s.out, "%s %v\n", WarningStyle.Render("[Warning]"), err)
		}
	}()

	user := model.NewUserMessage(text, atts)
	if err := s.conv.Append(user); err != nil {
		fmt.Fprintf(s.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.cancel = nil
		s.mu.Unlock()
		cancel()
	}()

	streamed := false
	var onDelta cloud.DeltaFunc
	if s.mode == cloud.ModeStreaming {
		onDelta = func(delta string) {
			if !streamed {
				fmt.Fprintln(s.out)
			}
			streamed = true
			fmt.Fprint(s.out, delta)
		}
	}

	reply := s.svc.ComposeAndSend(ctx, text, atts, s.mode, onDelta)
	if err := s.conv.Append(reply); err != nil {
		fmt.Fprintf(s.out, "%s %v\n", ErrorStyle.Render("[Error]"), err)
	}

	s.sends++
	if reply.Failed {
		s.failures++
	}
	if !streamed {
		fmt.Fprintln(s.out)
	}
	displayMessage(s.out, reply, streamed, s.renderer)
	fmt.Fprintln(s.out)
	return reply
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleSlashCommand runs a /command. It returns false to end the session.
func (s *ChatSession) handleSlashCommand(input string) (bool, error) {
	fields := strings.Fields(input)
	cmd := strings.ToLower(fields[0])
	rest := fields[1:]

	switch cmd {
	case "/quit", "/q", "/exit":
		return false, nil

	case "/help", "/h", "/?":
		s.printHelp()

	case "/clear", "/c":
		s.releasePending()
		s.conv = model.NewConversation()
		fmt.Fprintln(s.out, InfoStyle.Render("Started a new conversation."))

	case "/attach", "/a":
		if len(rest) == 0 {
			return true, ErrMissingArgument("path", "/attach notes.md main.go")
		}
		atts, err := s.loader.LoadAll(context.Background(), rest)
		if err != nil {
			fmt.Fprintln(s.out, ErrorStyle.Render(dispatch.FailureMessage(err).Content))
			return true, nil
		}
		s.pending = append(s.pending, atts...)
		for _, att := range atts {
			fmt.Fprintf(s.out, "%s %s (%s, %s)\n", attachmentStyle.Render("+"), att.Name, att.MimeType, formatBytes(att.SizeBytes))
		}

	case "/url":
		if len(rest) < 2 {
			return true, ErrMissingArgument("name and url", "/url report.pdf https://example.com/report.pdf")
		}
		att, err := s.loader.LoadURL(rest[0], "", rest[1], 0)
		if err != nil {
			fmt.Fprintln(s.out, ErrorStyle.Render(dispatch.FailureMessage(err).Content))
			return true, nil
		}
		s.pending = append(s.pending, att)
		fmt.Fprintf(s.out, "%s %s (%s)\n", attachmentStyle.Render("+"), att.Name, att.Content.URL)

	case "/files", "/f":
		s.printPending()

	case "/detach", "/d":
		if len(rest) != 1 {
			return true, ErrMissingArgument("N", "/detach 1")
		}
		n, err := strconv.Atoi(rest[0])
		if err != nil || n < 1 || n > len(s.pending) {
			return true, NewValidationError("attachment number", rest[0], fmt.Sprintf("must be between 1 and %d", len(s.pending)))
		}
		att := s.pending[n-1]
		s.pending = append(s.pending[:n-1], s.pending[n:]...)
		if err := s.loader.Release(att); err != nil {
			return true, err
		}
		fmt.Fprintf(s.out, "%s %s\n", attachmentStyle.Render("-"), att.Name)

	case "/mode", "/m":
		if len(rest) == 0 {
			fmt.Fprintf(s.out, "Mode: %s\n", s.mode)
			return true, nil
		}
		mode, err := cloud.ParseMode(rest[0])
		if err != nil {
			return true, NewValidationError("mode", rest[0], "must be buffered or streaming")
		}
		s.mode = mode
		fmt.Fprintf(s.out, "Mode: %s\n", s.mode)

	case "/status", "/s":
		s.printStatus()

	default:
		return true, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return true, nil
}

func (s *ChatSession) releasePending() {
	if err := s.loader.ReleaseAll(s.pending); err != nil {
		fmt.Fprintf(s.out, "%s %v\n", WarningStyle.Render("[Warning]"), err)
	}
	s.pending = nil
}

// =============================================================================
// OUTPUT
// =============================================================================

func (s *ChatSession) printWelcome() {
	fmt.Fprintln(s.out, welcomeStyle.Render("domainchat"))
	fmt.Fprintf(s.out, "%s %s  %s %s\n",
		DimStyle.Render("model:"), s.svc.Client().Model(),
		DimStyle.Render("mode:"), s.mode)
	if !s.svc.Client().IsConfigured() {
		fmt.Fprintln(s.out, WarningStyle.Render(WrapText("No API key configured. Set OPENROUTER_API_KEY or run: domainchat config set api.key sk-or-...", 0)))
	}
	fmt.Fprintln(s.out, DimStyle.Render("Type /help for commands, Ctrl+D to exit."))
	fmt.Fprintln(s.out)
}

func (s *ChatSession) printHelp() {
	help := []struct{ cmd, desc string }{
		{"/attach PATH...", "Attach files to the next message"},
		{"/url NAME URL", "Attach a remote file by URL"},
		{"/files", "List pending attachments"},
		{"/detach N", "Remove pending attachment N"},
		{"/mode [MODE]", "Show or switch buffered/streaming"},
		{"/status", "Show session statistics"},
		{"/clear", "Start a new conversation"},
		{"/quit", "Exit"},
	}
	for _, h := range help {
		fmt.Fprintf(s.out, "  %s %s\n", commandStyle.Render(util.PadWidth(h.cmd, 18)), h.desc)
	}
}

func (s *ChatSession) printPending() {
	if len(s.pending) == 0 {
		fmt.Fprintln(s.out, DimStyle.Render("No pending attachments."))
		return
	}
	for i, att := range s.pending {
		size := formatBytes(att.SizeBytes)
		if !att.Readable() {
			size = "remote"
		}
		fmt.Fprintf(s.out, "  %d. %s %s %s\n", i+1,
			util.PadWidth(att.Name, nameColumn), DimStyle.Render(att.MimeType), size)
	}
}

func (s *ChatSession) printStatus() {
	fmt.Fprintf(s.out, "%s%d\n", RenderLabel("Messages:"), s.conv.Len())
	if s.conv.Len() > 0 {
		fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Last message:"), formatAgo(s.conv.UpdatedAt()))
	}
	fmt.Fprintf(s.out, "%s%d\n", RenderLabel("Sends:"), s.sends)
	fmt.Fprintf(s.out, "%s%d\n", RenderLabel("Failures:"), s.failures)
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Mode:"), s.mode)
	fmt.Fprintf(s.out, "%s%s\n", RenderLabel("Session:"), formatDuration(time.Since(s.started)))
}

func (s *ChatSession) printExitSummary() {
	if s.sends == 0 {
		return
	}
	fmt.Fprintf(s.out, "%s %d sent, %d failed, %s\n",
		DimStyle.Render("Session:"), s.sends, s.failures, formatDuration(time.Since(s.started)))
}

// =============================================================================
// CHAT HANDLER
// =============================================================================

// HandleChatCommand runs the interactive chat loop.
func HandleChatCommand(args Args) error {
	a, err := newApp(args)
	if err != nil {
		return err
	}
	defer a.Close()

	if !IsTTY() {
		return errors.New("chat needs an interactive terminal; use: domainchat ask \"question\"")
	}

	session := NewChatSession(a.svc, a.loader, a.defaultMode(), os.Stdout)
	session.renderer = newMarkdownRenderer(a.cfg.UI.Markdown, a.cfg.UI.WordWrap)
	session.quiet = args.Quiet
	defer session.releasePending()

	if !session.quiet {
		session.printWelcome()
	}

	input := NewChatCLI()
	defer input.Close()

	// Ctrl+C during an answer cancels it; at the prompt liner sees it instead.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if session.Cancel() {
				fmt.Fprintln(os.Stderr, "\n"+WarningStyle.Render("[Cancelled]"))
			}
		}
	}()

	ctx := context.Background()
	for {
		line, err := input.ReadInput(promptStyle.Render("you> "))
		if err != nil {
			// Ctrl+C at the prompt, Ctrl+D or a closed stdin all end the session.
			fmt.Fprintln(os.Stdout)
			break
		}
		if !session.Execute(ctx, line) {
			break
		}
	}

	if !session.quiet {
		session.printExitSummary()
	}
	return nil
}
