// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const tempMarker = ".tmp-"

// WriteFileAtomic replaces path with data durably.
//
// Description:
//
//	Writes to a temp file in the same directory, syncs it, renames it over
//	path and syncs the directory so the rename itself survives a crash.
//	Readers observe either the previous content or data.
//
// Outputs:
//
//	error - *IOError on any failure. The temp file is removed on failure.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+tempMarker+"*")
	if err != nil {
		return &IOError{Op: "create temp", Path: path, Err: err}
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return &IOError{Op: "write", Path: tmpPath, Err: err}
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return &IOError{Op: "chmod", Path: tmpPath, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return &IOError{Op: "sync", Path: tmpPath, Err: err}
	}
	if err := tmp.Close(); err != nil {
		return &IOError{Op: "close", Path: tmpPath, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return &IOError{Op: "rename", Path: path, Err: err}
	}
	if err := syncDir(dir); err != nil {
		return &IOError{Op: "sync dir", Path: dir, Err: err}
	}

	success = true
	return nil
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("fsync: %w", err)
	}
	return nil
}

// IsTemp reports whether name is a leftover from an interrupted atomic write.
func IsTemp(name string) bool {
	return strings.HasPrefix(name, ".") && strings.Contains(name, tempMarker)
}
