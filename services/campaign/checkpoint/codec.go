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
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"golang.org/x/mod/semver"
)

// envelope is the serialized form shared by every backend.
type envelope struct {
	Version    string          `json:"version"`
	Checksum   string          `json:"checksum"`
	Checkpoint json.RawMessage `json:"checkpoint"`
}

func checksum(compact []byte) string {
	sum := sha256.Sum256(compact)
	return hex.EncodeToString(sum[:])
}

// encode serializes cp with a checksum over its compact JSON.
func encode(cp *Checkpoint) ([]byte, error) {
	body, err := json.Marshal(cp)
	if err != nil {
		return nil, fmt.Errorf("marshal checkpoint: %w", err)
	}
	return json.MarshalIndent(envelope{
		Version:    Version,
		Checksum:   checksum(body),
		Checkpoint: body,
	}, "", "  ")
}

// decode parses and verifies an envelope.
func decode(data []byte) (*Checkpoint, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var env envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	v := "v" + env.Version
	if !semver.IsValid(v) || semver.Major(v) != semver.Major("v"+Version) {
		return nil, fmt.Errorf("%w: got %q, want %s", ErrVersionMismatch, env.Version, semver.Major("v"+Version))
	}

	var compact bytes.Buffer
	if err := json.Compact(&compact, env.Checkpoint); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if checksum(compact.Bytes()) != env.Checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}

	var cp Checkpoint
	if err := json.Unmarshal(compact.Bytes(), &cp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return &cp, nil
}
