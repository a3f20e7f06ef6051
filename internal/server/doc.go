// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides the local HTTP bridge used by a browser UI.
//
// # Endpoints
//
//   - POST /v1/send     - multipart send: text, mode, file parts, url parts
//   - POST /v1/classify - turn a client-side failure into user-facing text
//   - GET  /health      - health check (no upstream call)
//   - GET  /metrics     - Prometheus metrics
//
// A buffered send answers with one JSON message. A streaming send answers
// with SSE frames:
//
//	data: {"delta":"Hi"}
//	data: {"delta":" there"}
//	data: {"message":{...}}
//	data: [DONE]
//
// Every request passes through Recovery, SecurityHeaders, CORS, request
// logging and, when configured, a per-client token bucket.
//
// # Usage
//
//	srv := server.NewServer(cfg.Server.Addr, svc, loader).
//		WithLogger(logger).
//		WithGatherer(registry)
//	ln, _ := net.Listen("tcp", cfg.Server.Addr)
//	go srv.Serve(ln)
//	defer srv.Shutdown(ctx)
package server
