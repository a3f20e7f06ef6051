// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Ananddd06/domainchat/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete domainchat configuration.
type Config struct {
	API       APIConfig       `toml:"api"`
	Prompt    PromptConfig    `toml:"prompt"`
	Server    ServerConfig    `toml:"server"`
	Telemetry TelemetryConfig `toml:"telemetry"`
	UI        UIConfig        `toml:"ui"`
	Log       LogConfig       `toml:"log"`
}

// APIConfig contains OpenRouter settings.
type APIConfig struct {
	Key              string  `toml:"key"`
	BaseURL          string  `toml:"base_url"`
	Model            string  `toml:"model"`
	SiteURL          string  `toml:"site_url"`
	SiteTitle        string  `toml:"site_title"`
	TimeoutSecs      int     `toml:"timeout_secs"`
	MaxTokens        int     `toml:"max_tokens"`
	Temperature      float64 `toml:"temperature"`
	TopP             float64 `toml:"top_p"`
	FrequencyPenalty float64 `toml:"frequency_penalty"`
	PresencePenalty  float64 `toml:"presence_penalty"`
}

// PromptConfig contains prompt composition settings.
type PromptConfig struct {
	SystemPrompt       string `toml:"system_prompt"`
	InlineLimitBytes   int64  `toml:"inline_limit_bytes"`
	MaxAttachmentBytes int64  `toml:"max_attachment_bytes"`
	DefaultMode        string `toml:"default_mode"` // buffered or streaming
}

// ServerConfig contains settings for the local HTTP bridge.
type ServerConfig struct {
	Addr           string   `toml:"addr"`
	AllowedOrigins []string `toml:"allowed_origins"`
	RateLimit      float64  `toml:"rate_limit"` // requests per second per client
	RateBurst      int      `toml:"rate_burst"`
}

// TelemetryConfig controls the usage ledger.
type TelemetryConfig struct {
	Enabled    bool   `toml:"enabled"`
	LedgerPath string `toml:"ledger_path"`
}

// UIConfig contains terminal output settings.
type UIConfig struct {
	Markdown bool `toml:"markdown"`
	WordWrap int  `toml:"word_wrap"`
	Color    bool `toml:"color"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `toml:"level"`
	Pretty bool   `toml:"pretty"`
}

// Default returns a configuration with built-in defaults.
func Default() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:     "https://openrouter.ai/api/v1",
			Model:       "meta-llama/llama-3.3-70b-instruct:free",
			SiteURL:     "http://localhost:5173",
			SiteTitle:   "AI Chat Assistant",
			TimeoutSecs: 60,
			MaxTokens:   2000,
			Temperature: 0.7,
			TopP:        1,
		},
		Prompt: PromptConfig{
			SystemPrompt:       "You are a helpful AI assistant specialized in AI/ML and file content analysis. Provide clear, accurate, and helpful responses.",
			InlineLimitBytes:   1 << 20,
			MaxAttachmentBytes: 10 << 20,
			DefaultMode:        "streaming",
		},
		Server: ServerConfig{
			Addr:           "127.0.0.1:8787",
			AllowedOrigins: []string{"http://localhost:5173"},
			RateLimit:      2,
			RateBurst:      5,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
		UI: UIConfig{
			Markdown: true,
			WordWrap: 80,
			Color:    true,
		},
		Log: LogConfig{
			Level: "warn",
		},
	}
}

// Timeout returns the API timeout as a duration.
func (c *Config) Timeout() time.Duration {
	return time.Duration(c.API.TimeoutSecs) * time.Second
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the domainchat configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".domainchat"), nil
}

// ConfigPath returns the path to the TOML config file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// ensureSecurePermissions tightens config files to 0600; they hold the API key.
func ensureSecurePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if mode := info.Mode().Perm(); mode != 0600 {
		if err := os.Chmod(path, 0600); err != nil {
			return fmt.Errorf("failed to fix insecure permissions (was %o): %w", mode, err)
		}
	}
	return nil
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// LoadFromPath loads configuration from path. A missing file yields defaults.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if err := decodeFile(path, cfg); err != nil {
		return nil, err
	}

	cfg.ApplyEnvOverrides()
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// decodeFile decodes the TOML file at path into cfg. A missing file is not an error.
func decodeFile(path string, cfg *Config) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := ensureSecurePermissions(path); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not ensure secure permissions on %s: %v\n", path, err)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("failed to decode TOML file: %w", err)
	}
	return nil
}

// =============================================================================
// SAVE FUNCTIONS
// =============================================================================

// SaveTOML writes the configuration atomically with 0600 permissions.
func SaveTOML(cfg *Config, path string) error {
	var buf bytes.Buffer
	buf.WriteString("# domainchat configuration file\n")
	buf.WriteString("# Environment variables override these values; see `domainchat help`.\n\n")

	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := util.AtomicWriteFile(path, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Validate checks the configuration and returns every problem found.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if u, err := url.Parse(c.API.BaseURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, ValidationError{"api.base_url", "must be an http(s) URL"})
	}
	if strings.TrimSpace(c.API.Model) == "" {
		errs = append(errs, ValidationError{"api.model", "must not be empty"})
	}
	if c.API.TimeoutSecs < 1 || c.API.TimeoutSecs > 600 {
		errs = append(errs, ValidationError{"api.timeout_secs", "must be between 1 and 600"})
	}
	if c.API.MaxTokens < 1 {
		errs = append(errs, ValidationError{"api.max_tokens", "must be positive"})
	}
	if c.API.Temperature < 0 || c.API.Temperature > 2 {
		errs = append(errs, ValidationError{"api.temperature", "must be between 0 and 2"})
	}
	if c.API.TopP < 0 || c.API.TopP > 1 {
		errs = append(errs, ValidationError{"api.top_p", "must be between 0 and 1"})
	}
	if c.API.FrequencyPenalty < -2 || c.API.FrequencyPenalty > 2 {
		errs = append(errs, ValidationError{"api.frequency_penalty", "must be between -2 and 2"})
	}
	if c.API.PresencePenalty < -2 || c.API.PresencePenalty > 2 {
		errs = append(errs, ValidationError{"api.presence_penalty", "must be between -2 and 2"})
	}

	if c.Prompt.InlineLimitBytes < 1 {
		errs = append(errs, ValidationError{"prompt.inline_limit_bytes", "must be positive"})
	}
	if c.Prompt.MaxAttachmentBytes < c.Prompt.InlineLimitBytes {
		errs = append(errs, ValidationError{"prompt.max_attachment_bytes", "must be at least prompt.inline_limit_bytes"})
	}
	switch c.Prompt.DefaultMode {
	case "buffered", "streaming":
	default:
		errs = append(errs, ValidationError{"prompt.default_mode", "must be buffered or streaming"})
	}

	if c.Server.RateLimit < 0 {
		errs = append(errs, ValidationError{"server.rate_limit", "must not be negative"})
	}
	if c.Server.RateBurst < 0 {
		errs = append(errs, ValidationError{"server.rate_burst", "must not be negative"})
	}
	if c.UI.WordWrap < 0 {
		errs = append(errs, ValidationError{"ui.word_wrap", "must not be negative"})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// SetDefaults fills zero values that have no meaningful zero.
func (c *Config) SetDefaults() {
	def := Default()
	if c.API.BaseURL == "" {
		c.API.BaseURL = def.API.BaseURL
	}
	c.API.BaseURL = strings.TrimSuffix(c.API.BaseURL, "/")
	if c.API.Model == "" {
		c.API.Model = def.API.Model
	}
	if c.API.TimeoutSecs == 0 {
		c.API.TimeoutSecs = def.API.TimeoutSecs
	}
	if c.API.MaxTokens == 0 {
		c.API.MaxTokens = def.API.MaxTokens
	}
	if c.Prompt.SystemPrompt == "" {
		c.Prompt.SystemPrompt = def.Prompt.SystemPrompt
	}
	if c.Prompt.InlineLimitBytes == 0 {
		c.Prompt.InlineLimitBytes = def.Prompt.InlineLimitBytes
	}
	if c.Prompt.MaxAttachmentBytes == 0 {
		c.Prompt.MaxAttachmentBytes = def.Prompt.MaxAttachmentBytes
	}
	if c.Prompt.DefaultMode == "" {
		c.Prompt.DefaultMode = def.Prompt.DefaultMode
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

// =============================================================================
// ENVIRONMENT OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if key := os.Getenv("OPENROUTER_API_KEY"); key != "" {
		c.API.Key = key
	}
	if key := os.Getenv("DOMAINCHAT_API_KEY"); key != "" {
		c.API.Key = key
	}
	if model := os.Getenv("DOMAINCHAT_MODEL"); model != "" {
		c.API.Model = model
	}
	if base := os.Getenv("DOMAINCHAT_BASE_URL"); base != "" {
		c.API.BaseURL = base
	}
	if level := os.Getenv("DOMAINCHAT_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if addr := os.Getenv("DOMAINCHAT_ADDR"); addr != "" {
		c.Server.Addr = addr
	}
}

// =============================================================================
// GET/SET HELPERS (DOT NOTATION)
// =============================================================================

// Get retrieves a configuration value using dot notation (e.g., "api.model").
func (c *Config) Get(key string) (interface{}, error) {
	field, err := c.lookup(key)
	if err != nil {
		return nil, err
	}
	return field.Interface(), nil
}

// Set sets a configuration value using dot notation (e.g., "api.model").
func (c *Config) Set(key string, value interface{}) error {
	field, err := c.lookup(key)
	if err != nil {
		return err
	}
	if !field.CanSet() {
		return fmt.Errorf("cannot set field: %s", key)
	}
	return setFieldValue(field, value)
}

// lookup walks a dotted key to its struct field.
func (c *Config) lookup(key string) (reflect.Value, error) {
	parts := strings.Split(key, ".")
	if key == "" || len(parts) == 0 {
		return reflect.Value{}, errors.New("empty key")
	}

	v := reflect.ValueOf(c).Elem()
	for i, part := range parts {
		fieldName := normalizeFieldName(part)
		field := v.FieldByNameFunc(func(name string) bool {
			return strings.EqualFold(name, fieldName)
		})
		if !field.IsValid() {
			return reflect.Value{}, fmt.Errorf("unknown field: %s", strings.Join(parts[:i+1], "."))
		}
		if i == len(parts)-1 {
			return field, nil
		}
		if field.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field '%s' is not a struct", strings.Join(parts[:i+1], "."))
		}
		v = field
	}
	return reflect.Value{}, fmt.Errorf("invalid key: %s", key)
}

// normalizeFieldName converts a snake_case or kebab-case name to its Go field equivalent.
func normalizeFieldName(name string) string {
	parts := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-'
	})

	var result strings.Builder
	for _, part := range parts {
		if len(part) > 0 {
			result.WriteString(strings.ToUpper(string(part[0])))
			result.WriteString(strings.ToLower(part[1:]))
		}
	}
	return result.String()
}

// setFieldValue sets a reflect.Value from an interface{} value with type conversion.
func setFieldValue(field reflect.Value, value interface{}) error {
	if strVal, ok := value.(string); ok {
		switch field.Kind() {
		case reflect.String:
			field.SetString(strVal)
			return nil
		case reflect.Int, reflect.Int64:
			intVal, err := strconv.ParseInt(strVal, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid integer value: %v", err)
			}
			field.SetInt(intVal)
			return nil
		case reflect.Float64:
			floatVal, err := strconv.ParseFloat(strVal, 64)
			if err != nil {
				return fmt.Errorf("invalid float value: %v", err)
			}
			field.SetFloat(floatVal)
			return nil
		case reflect.Bool:
			lower := strings.ToLower(strVal)
			field.SetBool(lower == "1" || lower == "true" || lower == "yes")
			return nil
		case reflect.Slice:
			if field.Type().Elem().Kind() == reflect.String {
				var items []string
				for _, s := range strings.Split(strVal, ",") {
					if s = strings.TrimSpace(s); s != "" {
						items = append(items, s)
					}
				}
				field.Set(reflect.ValueOf(items))
				return nil
			}
		}
	}

	val := reflect.ValueOf(value)
	if !val.IsValid() {
		return fmt.Errorf("cannot assign nil to %s", field.Type())
	}
	if val.Type().AssignableTo(field.Type()) {
		field.Set(val)
		return nil
	}
	if val.Type().ConvertibleTo(field.Type()) {
		field.Set(val.Convert(field.Type()))
		return nil
	}
	return fmt.Errorf("cannot assign %T to %s", value, field.Type())
}

// Keys returns all configuration keys in dot notation.
func Keys() []string {
	var keys []string
	t := reflect.TypeOf(Config{})
	for i := 0; i < t.NumField(); i++ {
		section := t.Field(i)
		prefix := section.Tag.Get("toml")
		for j := 0; j < section.Type.NumField(); j++ {
			keys = append(keys, prefix+"."+section.Type.Field(j).Tag.Get("toml"))
		}
	}
	return keys
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return &cp
}

// String returns the configuration as TOML with the API key redacted.
func (c *Config) String() string {
	cp := c.Clone()
	if cp.API.Key != "" {
		cp.API.Key = "[REDACTED]"
	}
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cp); err != nil {
		return fmt.Sprintf("<config: %v>", err)
	}
	return buf.String()
}
