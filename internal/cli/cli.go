// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// cli.go - Command parsing and top-level handlers for domainchat.

package cli

import (
	"fmt"
	"os"
	"runtime"
	"strings"
)

// Version information (can be overridden at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Command represents the CLI command to execute.
type Command int

const (
	CmdChat Command = iota
	CmdAsk
	CmdServe
	CmdPing
	CmdUsage
	CmdConfig
	CmdVersion
	CmdHelp
)

// String returns the command name as typed on the command line.
func (c Command) String() string {
	switch c {
	case CmdChat:
		return "chat"
	case CmdAsk:
		return "ask"
	case CmdServe:
		return "serve"
	case CmdPing:
		return "ping"
	case CmdUsage:
		return "usage"
	case CmdConfig:
		return "config"
	case CmdVersion:
		return "version"
	default:
		return "help"
	}
}

// Args holds parsed CLI arguments.
type Args struct {
	// Global flags
	Quiet   bool
	Verbose bool
	Model   string
	JSON    bool
	NoColor bool
	Config  string // Config file path (default ~/.domainchat/config.toml)

	// Raw holds the arguments after the command name, with global flags removed.
	Raw []string
}

// Parser returns an ArgParser over the command arguments. boolNames lists
// flags that never take a value.
func (a Args) Parser(boolNames ...string) *ArgParser {
	return NewArgParser(a.Raw, boolNames...)
}

const usageText = `domainchat - chat with an OpenRouter model from the terminal

Attach local files to a question; text files are inlined into the prompt,
everything else is described by name, type and size.

Usage:
  domainchat                          Interactive chat (default)
  domainchat chat                     Interactive chat
  domainchat ask "question" [flags]   Ask a single question
  domainchat serve [--addr HOST:PORT] Run the local HTTP bridge
  domainchat ping                     Test the API key and connection
  domainchat usage [--since 24h]      Show recorded usage
  domainchat usage prune [--older-than 30d]
  domainchat config [show|set|path]   Show or change configuration
  domainchat version                  Show version
  domainchat help                     Show this help

Ask flags:
  -f, --file PATH      Attach a file (repeatable)
  --stream             Print the answer as it arrives
  --raw                Print the answer without markdown rendering

Global flags:
  -q, --quiet          Minimal output
  -v, --verbose        Debug logging to stderr
  --model NAME         Override the configured model
  --config PATH        Use a different config file
  --json               JSON output (ask, ping, usage, config, version)
  --no-color           Disable colors

Chat commands:
  /attach PATH...      Attach files to the next message
  /url NAME URL        Attach a remote file by URL
  /files               List pending attachments
  /detach N            Remove pending attachment N
  /mode [buffered|streaming]
  /clear               Start a new conversation
  /help                Show chat commands
  /quit                Exit

Environment:
  OPENROUTER_API_KEY, DOMAINCHAT_API_KEY, DOMAINCHAT_MODEL,
  DOMAINCHAT_BASE_URL, DOMAINCHAT_LOG_LEVEL, DOMAINCHAT_ADDR, NO_COLOR

Version: %s
`

// PrintUsage prints the usage/help text.
func PrintUsage() {
	fmt.Printf(usageText, Version)
}

// PrintVersion prints version information.
func PrintVersion() {
	fmt.Printf("domainchat version %s\n", Version)
	fmt.Printf("  Git commit: %s\n", GitCommit)
	fmt.Printf("  Build date: %s\n", BuildDate)
}

// Parse parses os.Args and returns the command and args.
func Parse() (Command, Args) {
	return ParseArgs(os.Args[1:])
}

// ParseArgs parses argv (without the program name).
func ParseArgs(argv []string) (Command, Args) {
	remaining, parsedArgs := parseGlobalFlags(argv)

	if len(remaining) == 0 {
		return CmdChat, parsedArgs
	}

	cmd := strings.ToLower(remaining[0])
	parsedArgs.Raw = remaining[1:]

	switch cmd {
	case "chat", "c":
		return CmdChat, parsedArgs
	case "ask", "a":
		return CmdAsk, parsedArgs
	case "serve", "server":
		return CmdServe, parsedArgs
	case "ping", "test":
		return CmdPing, parsedArgs
	case "usage", "stats":
		return CmdUsage, parsedArgs
	case "config", "cfg":
		return CmdConfig, parsedArgs
	case "version", "--version":
		return CmdVersion, parsedArgs
	case "help", "-h", "--help":
		return CmdHelp, parsedArgs
	default:
		// Anything else is a question: domainchat "what is 2+2"
		parsedArgs.Raw = remaining
		return CmdAsk, parsedArgs
	}
}

// parseGlobalFlags extracts global flags from args and returns remaining args.
func parseGlobalFlags(args []string) ([]string, Args) {
	var remaining []string
	var parsedArgs Args

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-q", "--quiet":
			parsedArgs.Quiet = true
		case "-v", "--verbose":
			parsedArgs.Verbose = true
		case "--json":
			parsedArgs.JSON = true
		case "--no-color":
			parsedArgs.NoColor = true
		case "--model", "--config":
			if i+1 < len(args) {
				i++
				if arg == "--model" {
					parsedArgs.Model = args[i]
				} else {
					parsedArgs.Config = args[i]
				}
			}
		default:
			switch {
			case strings.HasPrefix(arg, "--model="):
				parsedArgs.Model = strings.TrimPrefix(arg, "--model=")
			case strings.HasPrefix(arg, "--config="):
				parsedArgs.Config = strings.TrimPrefix(arg, "--config=")
			default:
				remaining = append(remaining, arg)
			}
		}
	}

	return remaining, parsedArgs
}

// =============================================================================
// COMMAND HANDLERS
// =============================================================================

// Run executes cmd and returns the process exit code.
func Run(cmd Command, args Args) int {
	if args.NoColor {
		ForceColorsEnabled(false)
	}

	var err error
	switch cmd {
	case CmdChat:
		err = HandleChatCommand(args)
	case CmdAsk:
		err = HandleAskCommand(args)
	case CmdServe:
		err = HandleServeCommand(args)
	case CmdPing:
		err = HandlePingCommand(args)
	case CmdUsage:
		err = HandleUsageCommand(args)
	case CmdConfig:
		err = HandleConfigCommand(args)
	case CmdVersion:
		HandleVersion(args)
	default:
		PrintUsage()
	}

	if err != nil {
		DisplayError(err, args.JSON)
		return GetExitCode(err)
	}
	return ExitSuccess
}

// VersionData is the JSON shape of "version --json".
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// HandleVersion handles the "version" command.
func HandleVersion(args Args) {
	if args.JSON {
		_ = outputJSON(VersionData{
			Version:   Version,
			GitCommit: GitCommit,
			BuildDate: BuildDate,
			GoVersion: runtime.Version(),
		})
		return
	}
	PrintVersion()
}
