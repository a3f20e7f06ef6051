// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// app.go - Wiring shared by the chat, ask, serve, ping and usage commands.

package cli

import (
	"os"

	"github.com/rs/zerolog"

	"github.com/Ananddd06/domainchat/internal/attachment"
	"github.com/Ananddd06/domainchat/internal/cloud"
	"github.com/Ananddd06/domainchat/internal/config"
	"github.com/Ananddd06/domainchat/internal/dispatch"
	"github.com/Ananddd06/domainchat/internal/logging"
	"github.com/Ananddd06/domainchat/internal/telemetry"
)

// app holds everything a command needs to send a message.
type app struct {
	args   Args
	store  *config.Store
	cfg    *config.Config
	logger zerolog.Logger
	loader *attachment.Loader
	ledger *telemetry.Ledger
	svc    *dispatch.Service
}

// newApp loads configuration, sets up logging and builds the dispatch
// service. opts are passed to the service, after the ledger option.
func newApp(args Args, opts ...dispatch.Option) (*app, error) {
	// First pass only to pick the log level; the store reloads the file.
	early, err := config.LoadFromPath(configPath(args))
	if err != nil {
		return nil, WrapError(err, "load config")
	}
	logger := logging.Init(logConfig(args, early))

	store, err := config.NewStore(configPath(args),
		config.WithStoreLogger(logging.Component(logger, "config")))
	if err != nil {
		return nil, err
	}
	if args.Model != "" {
		model := args.Model
		store.Override(func(c *config.Config) { c.API.Model = model })
	}
	cfg := store.Get()

	if !cfg.UI.Color {
		ForceColorsEnabled(false)
	}
	if cfg.API.Key == "" {
		logger.Debug().Str("config", store.Path()).Msg("no API key configured")
	}

	a := &app{
		args:   args,
		store:  store,
		cfg:    cfg,
		logger: logger,
		loader: attachment.NewLoader(
			attachment.WithMaxSize(cfg.Prompt.MaxAttachmentBytes),
			attachment.WithLogger(logging.Component(logger, "attachment")),
		),
	}

	var svcOpts []dispatch.Option
	if cfg.Telemetry.Enabled {
		ledger, err := telemetry.OpenLedger(cfg.Telemetry.LedgerPath)
		if err != nil {
			// Usage history is optional for sending.
			logger.Warn().Err(err).Msg("usage ledger unavailable")
		} else {
			a.ledger = ledger
			svcOpts = append(svcOpts, dispatch.WithLedger(ledger))
		}
	}
	svcOpts = append(svcOpts, opts...)
	a.svc = dispatch.NewFromStore(store, logger, svcOpts...)
	return a, nil
}

// defaultMode returns the configured send mode.
func (a *app) defaultMode() cloud.Mode {
	mode, err := cloud.ParseMode(a.cfg.Prompt.DefaultMode)
	if err != nil {
		return cloud.ModeStreaming
	}
	return mode
}

// Close closes the usage ledger and logs how many attachments are still
// spooled. Callers release their own attachments.
func (a *app) Close() {
	if n := a.loader.Outstanding(); n > 0 {
		a.logger.Debug().Int("spooled", n).Msg("attachments still spooled at exit")
	}
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn().Err(err).Msg("closing usage ledger")
		}
	}
}

func configPath(args Args) string {
	if args.Config != "" {
		return args.Config
	}
	p, err := config.ConfigPath()
	if err != nil {
		return ""
	}
	return p
}

// logConfig maps flags and the [log] section onto the logger settings.
// Logs go to stderr so answers on stdout stay clean.
func logConfig(args Args, cfg *config.Config) logging.Config {
	level := cfg.Log.Level
	switch {
	case args.Verbose:
		level = "debug"
	case args.Quiet:
		level = "error"
	}
	return logging.Config{
		Level:  level,
		Pretty: cfg.Log.Pretty || IsStderrTTY(),
		Output: os.Stderr,
	}
}
