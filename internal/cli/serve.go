// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// serve.go - Local HTTP bridge command.
//
// Command: serve
// Short:   Serve the send/classify API for a browser front end
//
// Examples:
//   domainchat serve
//   domainchat serve --addr 127.0.0.1:9000
//   domainchat serve --watch off
//
// Flags:
//   --addr HOST:PORT    Listen address (default server.addr)
//   --watch on|off      Reload the config file when it changes (default on)

package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"

	"github.com/Ananddd06/domainchat/internal/config"
	"github.com/Ananddd06/domainchat/internal/dispatch"
	"github.com/Ananddd06/domainchat/internal/logging"
	"github.com/Ananddd06/domainchat/internal/server"
	"github.com/Ananddd06/domainchat/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// HandleServeCommand runs the HTTP bridge until interrupted.
func HandleServeCommand(args Args) error {
	p := args.Parser()

	watch := true
	if v := p.Flag("watch"); v != "" {
		b, err := ParseBoolString(v)
		if err != nil {
			return NewValidationError("watch", v, "must be on or off")
		}
		watch = b
	} else if p.HasFlag("watch") {
		watch = p.BoolFlag("watch")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewMetrics(reg)

	a, err := newApp(args, dispatch.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer a.Close()

	addr := p.FlagOrDefault("addr", a.cfg.Server.Addr)
	logger := logging.Component(a.logger, "server")

	cors := server.DefaultCORSConfig()
	if len(a.cfg.Server.AllowedOrigins) > 0 {
		cors.AllowedOrigins = a.cfg.Server.AllowedOrigins
	}

	srv := server.NewServer(addr, a.svc, a.loader).
		WithLogger(logger).
		WithGatherer(reg).
		WithCORS(cors).
		WithDefaultMode(a.defaultMode())
	if a.cfg.Server.RateLimit > 0 {
		srv.WithRateLimiter(server.NewRateLimiter(a.cfg.Server.RateLimit, a.cfg.Server.RateBurst, 0))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if watch {
		startConfigWatch(ctx, a, logger)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return &CommandError{Command: "serve", Action: "listen", Reason: addr, Err: err}
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	if !args.Quiet {
		fmt.Fprintf(os.Stderr, "%s listening on http://%s (model %s)\n",
			SuccessStyle.Render("domainchat"), ln.Addr(), a.svc.Client().Model())
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := srv.Shutdown(shutdownCtx)
	// Closing the listener also stops a Serve that had not yet registered
	// with the server when Shutdown ran.
	ln.Close()
	<-errCh
	if shutdownErr != nil && !errors.Is(shutdownErr, context.DeadlineExceeded) {
		return shutdownErr
	}
	return nil
}

// startConfigWatch reloads the store on file changes. The API key is read
// per request, so a new key applies at once; other API settings are fixed
// when the client is built.
func startConfigWatch(ctx context.Context, a *app, logger zerolog.Logger) {
	if err := os.MkdirAll(filepath.Dir(a.store.Path()), 0700); err != nil {
		logger.Warn().Err(err).Msg("config watch disabled")
		return
	}

	initial := dispatch.ClientConfig(a.cfg)
	a.store.OnReload(func(cfg *config.Config) {
		if dispatch.ClientConfig(cfg) != initial {
			logger.Warn().Msg("API settings changed; restart serve to apply them (the API key applies immediately)")
		}
	})

	go func() {
		if err := a.store.Watch(ctx); err != nil {
			logger.Warn().Err(err).Msg("config watch stopped")
		}
	}()
}
