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
	"context"
	"errors"
	"io/fs"
	"os"
)

// FileStore keeps the checkpoint in a single JSON file.
//
// Thread Safety: Not safe for concurrent Save calls.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. The parent directory must exist.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load(ctx context.Context) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoCheckpoint
	}
	if err != nil {
		return nil, &IOError{Op: "read", Path: s.path, Err: err}
	}
	cp, err := decode(data)
	if err != nil {
		return nil, &IOError{Op: "decode", Path: s.path, Err: err}
	}
	return cp, nil
}

func (s *FileStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(cp)
	if err != nil {
		return &IOError{Op: "encode", Path: s.path, Err: err}
	}
	return WriteFileAtomic(s.path, data, 0o644)
}

func (s *FileStore) Close() error { return nil }
