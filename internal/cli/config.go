// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// config.go - Config command implementation.
//
// Command: config [subcommand]
// Short:   View and modify configuration
//
// Subcommands:
//   show (default)      Display the effective configuration
//   set <key> <value>   Set a value in the config file
//   reset               Reset the config file to defaults
//   path                Show configuration file path
//
// Examples:
//   domainchat config
//   domainchat config set api.key sk-or-v1-...
//   domainchat config set api.model openai/gpt-4o-mini
//   domainchat config set prompt.default_mode buffered
//   domainchat config set server.allowed_origins http://localhost:5173,http://127.0.0.1:5173
//   domainchat config show --json
//
// Values from OPENROUTER_API_KEY and DOMAINCHAT_* environment variables are
// shown but never written to the file.

package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/Ananddd06/domainchat/internal/cloud"
	"github.com/Ananddd06/domainchat/internal/config"
	"github.com/Ananddd06/domainchat/internal/util"
)

// valueColumn caps long values such as the system prompt in "config show".
const valueColumn = 60

// HandleConfigCommand handles the "config" command.
func HandleConfigCommand(args Args) error {
	p := args.Parser()

	store, err := config.NewStore(configPath(args))
	if err != nil {
		return err
	}

	switch p.Subcommand() {
	case "", "show":
		return configShow(os.Stdout, store.Get(), store.Path(), args.JSON)

	case "set":
		key, value := p.Positional(1), strings.Join(p.PositionalFrom(2), " ")
		if key == "" || p.PositionalCount() < 3 {
			return ErrMissingArgument("key and value", "domainchat config set api.model openai/gpt-4o-mini")
		}
		return configSet(os.Stdout, store, key, value)

	case "reset":
		if err := config.SaveTOML(config.Default(), store.Path()); err != nil {
			return err
		}
		fmt.Println(SuccessStyle.Render("Configuration reset to defaults."))
		return nil

	case "path":
		if args.JSON {
			return outputJSON(map[string]string{"path": store.Path()})
		}
		fmt.Println(store.Path())
		return nil

	default:
		return NewValidationError("subcommand", p.Subcommand(), "must be show, set, reset or path")
	}
}

// configValues returns every key with a display value. The API key is
// never shown.
func configValues(cfg *config.Config) map[string]string {
	out := make(map[string]string)
	for _, key := range config.Keys() {
		v, err := cfg.Get(key)
		if err != nil {
			continue
		}
		var s string
		switch val := v.(type) {
		case []string:
			s = strings.Join(val, ",")
		default:
			s = fmt.Sprint(val)
		}
		if key == "api.key" {
			s = maskKey(cfg.API.Key)
		}
		out[key] = s
	}
	return out
}

func maskKey(key string) string {
	if key == "" {
		return "[not set]"
	}
	return fmt.Sprintf("[set, fingerprint %s]", cloud.Fingerprint(key))
}

func configShow(w io.Writer, cfg *config.Config, path string, jsonMode bool) error {
	values := configValues(cfg)
	if jsonMode {
		return writeJSON(w, map[string]interface{}{
			"path":   path,
			"values": values,
		})
	}

	fmt.Fprintln(w, TitleStyle.Render("Configuration"))
	section := ""
	for _, key := range config.Keys() {
		if s, _, _ := strings.Cut(key, "."); s != section {
			section = s
			fmt.Fprintf(w, "\n[%s]\n", section)
		}
		val := strings.Join(strings.Fields(values[key]), " ")
		fmt.Fprintf(w, "  %s%s\n", RenderLabel(key, 30), ValueStyle.Render(util.TruncateRunes(val, valueColumn)))
	}
	fmt.Fprintf(w, "\n%s %s\n", DimStyle.Render("File:"), path)
	return nil
}

// configSet writes key=value to the config file through the store, which
// validates before saving.
func configSet(w io.Writer, store *config.Store, key, value string) error {
	err := store.Update(func(c *config.Config) error {
		return c.Set(key, value)
	})
	if err != nil {
		return fmt.Errorf("config set %s: %w", key, err)
	}

	shown := value
	if key == "api.key" {
		shown = maskKey(value)
		if !strings.HasPrefix(value, "sk-") {
			fmt.Fprintln(w, WarningStyle.Render("OpenRouter keys usually start with \"sk-\"; saved anyway."))
		}
	}
	fmt.Fprintf(w, "%s %s = %s\n", SuccessStyle.Render("Set"), key, shown)
	return nil
}
