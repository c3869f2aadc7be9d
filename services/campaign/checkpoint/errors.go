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
	"errors"
	"fmt"
)

var (
	// ErrNoCheckpoint indicates that no checkpoint has been saved yet.
	ErrNoCheckpoint = errors.New("no checkpoint")

	// ErrCorrupt indicates a checkpoint or marker that fails verification.
	ErrCorrupt = errors.New("checkpoint corrupt")

	// ErrVersionMismatch indicates an incompatible checkpoint format.
	ErrVersionMismatch = errors.New("checkpoint version mismatch")

	// ErrNotDone indicates the done marker is absent.
	ErrNotDone = errors.New("campaign not done")

	// ErrArtifactMissing indicates an artifact file that does not exist.
	ErrArtifactMissing = errors.New("artifact missing")

	// ErrArtifactMismatch indicates an artifact whose checksum differs from the record.
	ErrArtifactMismatch = errors.New("artifact checksum mismatch")

	// ErrUnknownBackend indicates an unsupported store backend name.
	ErrUnknownBackend = errors.New("unknown checkpoint backend")
)

// IOError reports a failure to read or durably write campaign state.
// It is fatal to the campaign.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }
