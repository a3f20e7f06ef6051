// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// args.go - Argument parsing shared by every domainchat command.

package cli

import (
	"fmt"
	"strconv"
	"strings"
)

// =============================================================================
// ARG PARSER
// =============================================================================

// ArgParser parses the arguments that follow a command name.
// It understands:
//   - Long flags: --flag value or --flag=value
//   - Short flags: -f value
//   - Boolean flags: --flag (no value needed)
//   - Repeated flags: -f a.txt -f b.txt
//   - Positional arguments: anything that is not a flag
type ArgParser struct {
	subcommand string              // First positional arg (e.g. "show", "set")
	flags      map[string][]string // Value flags, in the order given
	boolFlags  map[string]bool     // Boolean flags (--stream)
	known      map[string]bool     // Names that never take a value
	positional []string            // All positional arguments including subcommand
	raw        []string            // Original raw arguments
}

// NewArgParser parses raw. Names listed in boolNames are always treated as
// boolean flags, so "--stream hello" keeps "hello" positional.
//
// Example:
//
//	args := NewArgParser([]string{"explain", "-f", "a.go", "-f", "b.go", "--stream"}, "stream")
//	args.Subcommand()      // "explain"
//	args.FlagAll("f")      // []string{"a.go", "b.go"}
//	args.BoolFlag("stream") // true
func NewArgParser(raw []string, boolNames ...string) *ArgParser {
	parser := &ArgParser{
		flags:      make(map[string][]string),
		boolFlags:  make(map[string]bool),
		known:      make(map[string]bool, len(boolNames)),
		positional: make([]string, 0),
		raw:        raw,
	}
	for _, name := range boolNames {
		parser.known[strings.TrimLeft(name, "-")] = true
	}

	i := 0
	for i < len(raw) {
		arg := raw[i]

		// "--" ends flag parsing; everything after it is positional.
		if arg == "--" {
			parser.positional = append(parser.positional, raw[i+1:]...)
			break
		}

		if !strings.HasPrefix(arg, "-") || arg == "-" {
			parser.positional = append(parser.positional, arg)
			i++
			continue
		}

		if strings.Contains(arg, "=") {
			parts := strings.SplitN(arg, "=", 2)
			flagName := strings.TrimLeft(parts[0], "-")
			flagValue := parts[1]

			if flagValue == "true" || flagValue == "false" {
				parser.boolFlags[flagName] = flagValue == "true"
			} else {
				parser.flags[flagName] = append(parser.flags[flagName], flagValue)
			}
			i++
			continue
		}

		flagName := strings.TrimLeft(arg, "-")
		if !parser.known[flagName] && i+1 < len(raw) && !strings.HasPrefix(raw[i+1], "-") {
			parser.flags[flagName] = append(parser.flags[flagName], raw[i+1])
			i += 2
			continue
		}
		parser.boolFlags[flagName] = true
		i++
	}

	if len(parser.positional) > 0 {
		parser.subcommand = parser.positional[0]
	}

	return parser
}

// Subcommand returns the first positional argument, or "".
func (p *ArgParser) Subcommand() string {
	return p.subcommand
}

// Flag returns the last value given for a flag, or "".
// Aliases are tried in order, so Flag("file", "f") accepts --file and -f.
func (p *ArgParser) Flag(names ...string) string {
	vals := p.FlagAll(names...)
	if len(vals) == 0 {
		return ""
	}
	return vals[len(vals)-1]
}

// FlagAll returns every value given for a flag and its aliases.
func (p *ArgParser) FlagAll(names ...string) []string {
	var out []string
	for _, name := range names {
		out = append(out, p.flags[strings.TrimLeft(name, "-")]...)
	}
	return out
}

// FlagOrDefault returns the flag value or a default if not found.
func (p *ArgParser) FlagOrDefault(name, defaultValue string) string {
	if val := p.Flag(name); val != "" {
		return val
	}
	return defaultValue
}

// FlagInt returns the flag value as an integer.
func (p *ArgParser) FlagInt(name string) (int, error) {
	val := p.Flag(name)
	if val == "" {
		return 0, fmt.Errorf("flag %s not found", name)
	}
	return strconv.Atoi(val)
}

// FlagIntOrDefault returns the flag value as an integer or a default.
func (p *ArgParser) FlagIntOrDefault(name string, defaultValue int) int {
	val, err := p.FlagInt(name)
	if err != nil {
		return defaultValue
	}
	return val
}

// BoolFlag reports whether any of the named boolean flags was set.
func (p *ArgParser) BoolFlag(names ...string) bool {
	for _, name := range names {
		if p.boolFlags[strings.TrimLeft(name, "-")] {
			return true
		}
	}
	return false
}

// Positional returns the positional argument at index, or "".
// Index 0 is the subcommand.
func (p *ArgParser) Positional(index int) string {
	if index < 0 || index >= len(p.positional) {
		return ""
	}
	return p.positional[index]
}

// PositionalFrom returns all positional arguments starting from index.
func (p *ArgParser) PositionalFrom(index int) []string {
	if index < 0 || index >= len(p.positional) {
		return []string{}
	}
	return p.positional[index:]
}

// PositionalCount returns the number of positional arguments.
func (p *ArgParser) PositionalCount() int {
	return len(p.positional)
}

// HasFlag returns true if the flag exists (either as value or bool flag).
func (p *ArgParser) HasFlag(name string) bool {
	name = strings.TrimLeft(name, "-")
	_, hasString := p.flags[name]
	_, hasBool := p.boolFlags[name]
	return hasString || hasBool
}

// Raw returns the original raw arguments.
func (p *ArgParser) Raw() []string {
	return p.raw
}

// =============================================================================
// HELPERS
// =============================================================================

// ParseBoolString parses a boolean from various string representations.
// Accepts: true/false, yes/no, y/n, 1/0, on/off (case-insensitive)
func ParseBoolString(s string) (bool, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	switch s {
	case "true", "yes", "y", "1", "on":
		return true, nil
	case "false", "no", "n", "0", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value: %s", s)
	}
}

// JoinPositionalArgs joins positional arguments from startIndex into one string.
//
// Example: ask what is this file -> "what is this file"
func JoinPositionalArgs(parser *ArgParser, startIndex int) string {
	return strings.Join(parser.PositionalFrom(startIndex), " ")
}
