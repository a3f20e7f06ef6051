// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and stores domainchat configuration.
//
// Configuration lives in ~/.domainchat/config.toml. Missing keys take
// built-in defaults, and environment variables override the file:
//
//	OPENROUTER_API_KEY     API key (DOMAINCHAT_API_KEY takes precedence)
//	DOMAINCHAT_MODEL       model identifier
//	DOMAINCHAT_BASE_URL    API base URL
//	DOMAINCHAT_LOG_LEVEL   debug, info, warn, error
//	DOMAINCHAT_ADDR        listen address for serve
//
// A Store holds the live configuration. Store.Watch reloads it when the
// file changes so a key added while running is used by the next send:
//
//	store, _ := config.NewStore("")
//	go store.Watch(ctx)
//	client := cloud.NewClient(cfg, store.APIKey)
package config
