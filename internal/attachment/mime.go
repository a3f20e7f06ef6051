// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attachment

import (
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// sniffLen is how many bytes http.DetectContentType considers.
const sniffLen = 512

// textMimeTypes are non-text/* types whose content is plain text.
var textMimeTypes = map[string]bool{
	"application/json":       true,
	"application/xml":        true,
	"application/javascript": true,
	"application/x-yaml":     true,
	"application/yaml":       true,
	"application/toml":       true,
	"application/sql":        true,
	"application/x-sh":       true,
}

// textExtensions are file extensions treated as text regardless of MIME type.
var textExtensions = map[string]bool{
	".txt": true, ".md": true, ".log": true, ".csv": true,
	".json": true, ".xml": true, ".yaml": true, ".yml": true, ".toml": true, ".ini": true,
	".html": true, ".css": true, ".js": true, ".jsx": true, ".ts": true, ".tsx": true,
	".py": true, ".go": true, ".rs": true, ".java": true, ".c": true, ".h": true, ".cpp": true,
	".rb": true, ".sh": true, ".sql": true,
}

// DetectName guesses a MIME type from the file extension alone.
func DetectName(name string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return baseType(t)
	}
	return DefaultMimeType
}

// DetectFile guesses a MIME type from the extension, falling back to
// sniffing the first bytes of the file at path.
func DetectFile(name, path string) string {
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return baseType(t)
	}

	f, err := os.Open(path)
	if err != nil {
		return DefaultMimeType
	}
	defer f.Close()

	buf := make([]byte, sniffLen)
	n, _ := f.Read(buf)
	if n == 0 {
		return DefaultMimeType
	}
	return baseType(http.DetectContentType(buf[:n]))
}

// IsTextLike reports whether an attachment with this MIME type and name
// should be inlined as text.
func IsTextLike(mimeType, name string) bool {
	t := baseType(mimeType)
	if strings.HasPrefix(t, "text/") || textMimeTypes[t] {
		return true
	}
	return textExtensions[strings.ToLower(filepath.Ext(name))]
}

// baseType strips parameters such as "; charset=utf-8".
func baseType(t string) string {
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return strings.ToLower(strings.TrimSpace(t))
}
