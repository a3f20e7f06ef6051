// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package attachment turns user-supplied files into model.Attachment values.
//
// A Loader enforces the upload size cap, allocates attachment IDs, detects
// MIME types, and owns any temporary spool files it creates for streamed
// uploads. Spooled content stays readable until the caller releases it:
//
//	loader := attachment.NewLoader()
//	att, err := loader.Load("report.csv", "", r)
//	if err != nil {
//	    // errors.Is(err, attachment.ErrTooLarge)
//	}
//	defer loader.Release(att)
package attachment
