// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// privateDirPerm is used for parent directories created on demand; the
// config file, chat history and usage ledger all live under ~/.domainchat.
const privateDirPerm os.FileMode = 0700

// AtomicWriteFile writes data to path so that readers see either the old
// file or the complete new one, never a partial write. Missing parent
// directories are created owner-only.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	return AtomicWriteFileWithDir(path, data, perm, privateDirPerm)
}

// AtomicWriteFileWithDir is AtomicWriteFile with an explicit permission for
// newly created parent directories.
//
// The data goes to a hidden temp file next to path (".NAME.*.tmp"), which
// gets its final mode before any byte is written, is fsynced and renamed
// over path. The directory is synced afterwards where the platform allows.
func AtomicWriteFileWithDir(path string, data []byte, filePerm, dirPerm os.FileMode) (err error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", path, err)
	}

	dir, base := filepath.Split(absPath)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	f, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", base, err)
	}
	tmp := f.Name()
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	// Mode before content.
	if err = f.Chmod(filePerm); err != nil && runtime.GOOS != "windows" {
		return fmt.Errorf("chmod temp file for %s: %w", base, err)
	}
	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", base, err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", base, err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", base, err)
	}
	if err = os.Rename(tmp, absPath); err != nil {
		return fmt.Errorf("replace %s: %w", base, err)
	}

	syncDir(dir)
	return nil
}

// syncDir flushes the directory entry for a rename. Errors are ignored:
// not every filesystem supports it and the data itself is already synced.
func syncDir(dir string) {
	if runtime.GOOS == "windows" {
		return
	}
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	d.Close()
}
