// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the data structures exchanged by the dispatch
// pipeline: messages, attachments, and the append-only conversation owned
// by the outer surfaces.
//
// # Key Types
//
//   - Message: Immutable chat message with role, content, timestamp and attachments
//   - Attachment: Metadata plus a content reference for a user-supplied file
//   - ContentRef: Local path or remote URL backing an attachment
//   - Conversation: Ordered, append-only message list with unique IDs
//   - Role: Message role enumeration (user, assistant, system)
//
// # Usage
//
//	conv := model.NewConversation()
//	msg := model.NewUserMessage("Summarize this", atts)
//	if err := conv.Append(msg); err != nil {
//	    // duplicate message ID
//	}
//
// Message IDs are UUIDv7 values, so they sort by creation time.
package model
