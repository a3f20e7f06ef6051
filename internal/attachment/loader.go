// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attachment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Ananddd06/domainchat/internal/model"
)

// MaxSize is the largest accepted attachment (10 MiB).
const MaxSize int64 = 10 << 20

// DefaultMimeType is used when no type can be determined.
const DefaultMimeType = "application/octet-stream"

// maxConcurrentLoads bounds LoadAll fan-out.
const maxConcurrentLoads = 4

var (
	// ErrTooLarge is returned when an attachment exceeds the size cap.
	ErrTooLarge = errors.New("attachment too large")

	// ErrUnreadable is returned when attachment content cannot be read.
	ErrUnreadable = errors.New("attachment unreadable")
)

// TooLargeError carries the offending attachment's name and size.
type TooLargeError struct {
	Name  string
	Size  int64
	Limit int64
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("attachment %q is %d bytes, limit is %d", e.Name, e.Size, e.Limit)
}

// Is matches ErrTooLarge.
func (e *TooLargeError) Is(target error) bool {
	return target == ErrTooLarge
}

// =============================================================================
// LOADER
// =============================================================================

// Loader creates attachments and tracks the spool files it owns.
type Loader struct {
	maxSize  int64
	spoolDir string
	logger   zerolog.Logger

	mu      sync.Mutex
	spooled map[string]string // attachment ID -> spool path
}

// Option configures a Loader.
type Option func(*Loader)

// WithMaxSize overrides the size cap.
func WithMaxSize(n int64) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxSize = n
		}
	}
}

// WithSpoolDir sets the directory for temporary spool files.
func WithSpoolDir(dir string) Option {
	return func(l *Loader) { l.spoolDir = dir }
}

// WithLogger sets the loader's logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader creates a Loader with the default 10 MiB cap.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		maxSize: MaxSize,
		logger:  zerolog.Nop(),
		spooled: make(map[string]string),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// MaxSize returns the configured size cap.
func (l *Loader) MaxSize() int64 {
	return l.maxSize
}

// LoadFile creates an attachment backed by an existing local file.
func (l *Loader) LoadFile(path string) (model.Attachment, error) {
	info, err := os.Stat(path)
	if err != nil {
		return model.Attachment{}, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	if info.IsDir() {
		return model.Attachment{}, fmt.Errorf("%w: %s is a directory", ErrUnreadable, path)
	}

	name := filepath.Base(path)
	if info.Size() > l.maxSize {
		return model.Attachment{}, &TooLargeError{Name: name, Size: info.Size(), Limit: l.maxSize}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	att := model.Attachment{
		ID:        uuid.NewString(),
		Name:      name,
		MimeType:  DetectFile(name, abs),
		SizeBytes: info.Size(),
		Content:   model.ContentRef{Path: abs},
	}
	l.logger.Debug().
		Str("attachment_id", att.ID).
		Str("name", att.Name).
		Str("mime", att.MimeType).
		Int64("size", att.SizeBytes).
		Msg("attachment loaded")
	return att, nil
}

// Load spools r into a temporary file and creates an attachment backed by
// it. The spool file lives until Release is called.
func (l *Loader) Load(name, mimeType string, r io.Reader) (model.Attachment, error) {
	f, err := os.CreateTemp(l.spoolDir, "domainchat-upload-*")
	if err != nil {
		return model.Attachment{}, fmt.Errorf("create spool file: %w", err)
	}
	path := f.Name()

	// Read one byte past the cap so oversize input is detected without
	// copying all of it.
	n, copyErr := io.Copy(f, io.LimitReader(r, l.maxSize+1))
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil || n > l.maxSize {
		os.Remove(path)
		switch {
		case copyErr != nil:
			return model.Attachment{}, fmt.Errorf("%w: %v", ErrUnreadable, copyErr)
		case closeErr != nil:
			return model.Attachment{}, fmt.Errorf("close spool file: %w", closeErr)
		default:
			return model.Attachment{}, &TooLargeError{Name: name, Size: n, Limit: l.maxSize}
		}
	}

	if mimeType == "" {
		mimeType = DetectFile(name, path)
	}

	att := model.Attachment{
		ID:        uuid.NewString(),
		Name:      name,
		MimeType:  mimeType,
		SizeBytes: n,
		Content:   model.ContentRef{Path: path, Spooled: true},
	}

	l.mu.Lock()
	l.spooled[att.ID] = path
	l.mu.Unlock()

	l.logger.Debug().
		Str("attachment_id", att.ID).
		Str("name", att.Name).
		Int64("size", n).
		Msg("attachment spooled")
	return att, nil
}

// LoadURL creates a remote-only attachment. size is the declared size and
// is checked against the cap like any other upload.
func (l *Loader) LoadURL(name, mimeType, url string, size int64) (model.Attachment, error) {
	if size > l.maxSize {
		return model.Attachment{}, &TooLargeError{Name: name, Size: size, Limit: l.maxSize}
	}
	if mimeType == "" {
		mimeType = DetectName(name)
	}
	return model.Attachment{
		ID:        uuid.NewString(),
		Name:      name,
		MimeType:  mimeType,
		SizeBytes: size,
		Content:   model.ContentRef{URL: url},
	}, nil
}

// LoadAll loads the given paths concurrently. The result preserves input
// order; the first error aborts the batch.
func (l *Loader) LoadAll(ctx context.Context, paths []string) ([]model.Attachment, error) {
	out := make([]model.Attachment, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentLoads)

	for i, p := range paths {
		i, p := i, p
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			att, err := l.LoadFile(p)
			if err != nil {
				return err
			}
			out[i] = att
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// =============================================================================
// RELEASE
// =============================================================================

// Release revokes the local reference of a spooled attachment. It is a
// no-op for file- and URL-backed attachments.
func (l *Loader) Release(att model.Attachment) error {
	l.mu.Lock()
	path, ok := l.spooled[att.ID]
	delete(l.spooled, att.ID)
	l.mu.Unlock()

	if !ok {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ReleaseAll releases every attachment, returning the joined errors.
func (l *Loader) ReleaseAll(atts []model.Attachment) error {
	var errs []error
	for _, att := range atts {
		if err := l.Release(att); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Outstanding returns the number of spool files not yet released.
func (l *Loader) Outstanding() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.spooled)
}
