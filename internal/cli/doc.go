// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli provides command-line parsing and the command handlers for
// domainchat.
//
// Every handler builds the same pipeline through newApp: the config store,
// the zerolog logger, the attachment loader, the optional usage ledger and
// the dispatch service. Handlers return errors; Run displays them once and
// maps them to an exit code.
//
// # Key Types
//
//   - Command: enumeration of the available commands
//   - Args: global flags plus the raw arguments for the command
//   - ArgParser: flag and positional parsing for command arguments
//   - ChatSession: one interactive conversation with pending attachments
//
// # Usage
//
//	cmd, args := cli.Parse()
//	os.Exit(cli.Run(cmd, args))
//
// # Commands
//
//   - chat: interactive session with /attach, /url, /files, /detach, /mode
//   - ask: single question, with -f files and --stream
//   - serve: HTTP bridge exposing /v1/send and /v1/classify
//   - ping: check the endpoint and key
//   - usage: local send history (summary and prune)
//   - config: show, set, reset or locate the config file
//   - version, help
//
// # Exit Codes
//
//	0  success
//	1  general error
//	2  usage error or attachment too large
//	3  configuration error
//	4  missing or rejected API key, or quota exceeded
//	5  network or upstream failure
//	7  file not found or unreadable
package cli
