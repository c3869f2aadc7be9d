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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"time"
)

// Output directory entries.
const (
	ConfigFile     = "configuration.yaml"
	CheckpointFile = "checkpoint.json"
	BadgerDir      = "checkpoint.db"
	ArtifactsDir   = "artifacts"
	DoneFile       = "done"
	ArtifactSuffix = ".predictor"
)

// Store backends.
const (
	BackendFile   = "file"
	BackendBadger = "badger"
)

// Done is the content of the done marker.
type Done struct {
	CampaignID  string    `json:"campaign_id"`
	CompletedAt time.Time `json:"completed_at"`
}

// Layout resolves paths inside a campaign output directory.
type Layout struct {
	Root string
}

// Path returns the absolute path of a slash-separated entry under Root.
func (l Layout) Path(rel string) string {
	return filepath.Join(l.Root, filepath.FromSlash(rel))
}

// ArtifactRel returns the slash-separated artifact path for technique.
func (l Layout) ArtifactRel(technique string) string {
	return path.Join(ArtifactsDir, technique+ArtifactSuffix)
}

// Known reports whether name is an entry the campaign may own at Root.
func (l Layout) Known(name string) bool {
	switch name {
	case ConfigFile, CheckpointFile, BadgerDir, ArtifactsDir, DoneFile:
		return true
	}
	return IsTemp(name)
}

// WriteArtifact durably writes the artifact for technique.
//
// Outputs:
//
//	rel - Slash-separated path relative to Root.
//	sum - Hex SHA-256 of data.
//	error - *IOError on failure.
func (l Layout) WriteArtifact(technique string, data []byte) (rel, sum string, err error) {
	dir := l.Path(ArtifactsDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", &IOError{Op: "mkdir", Path: dir, Err: err}
	}
	if err := syncDir(l.Root); err != nil {
		return "", "", &IOError{Op: "sync dir", Path: l.Root, Err: err}
	}
	rel = l.ArtifactRel(technique)
	if err := WriteFileAtomic(l.Path(rel), data, 0o644); err != nil {
		return "", "", err
	}
	h := sha256.Sum256(data)
	return rel, hex.EncodeToString(h[:]), nil
}

// VerifyArtifact checks that rel exists and hashes to sum.
func (l Layout) VerifyArtifact(rel, sum string) error {
	data, err := os.ReadFile(l.Path(rel))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrArtifactMissing, rel)
	}
	if err != nil {
		return &IOError{Op: "read", Path: l.Path(rel), Err: err}
	}
	h := sha256.Sum256(data)
	if hex.EncodeToString(h[:]) != sum {
		return fmt.Errorf("%w: %s", ErrArtifactMismatch, rel)
	}
	return nil
}

// WriteDone durably writes the done marker.
func (l Layout) WriteDone(d Done) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return &IOError{Op: "encode", Path: l.Path(DoneFile), Err: err}
	}
	return WriteFileAtomic(l.Path(DoneFile), data, 0o644)
}

// ReadDone returns the done marker, or ErrNotDone.
func (l Layout) ReadDone() (*Done, error) {
	p := l.Path(DoneFile)
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotDone
	}
	if err != nil {
		return nil, &IOError{Op: "read", Path: p, Err: err}
	}
	var d Done
	if err := json.Unmarshal(data, &d); err != nil || d.CampaignID == "" {
		return nil, &IOError{Op: "decode", Path: p, Err: fmt.Errorf("%w: invalid done marker", ErrCorrupt)}
	}
	return &d, nil
}

// Backend returns the backend whose state exists under Root, or "" if none.
func (l Layout) Backend() string {
	if _, err := os.Stat(l.Path(BadgerDir)); err == nil {
		return BackendBadger
	}
	if _, err := os.Stat(l.Path(CheckpointFile)); err == nil {
		return BackendFile
	}
	return ""
}

// OpenStore opens the store for backend under Root.
func (l Layout) OpenStore(backend string, logger *slog.Logger) (Store, error) {
	switch backend {
	case BackendFile, "":
		return NewFileStore(l.Path(CheckpointFile)), nil
	case BackendBadger:
		cfg := DefaultBadgerConfig(l.Path(BadgerDir))
		cfg.Logger = logger
		return OpenBadger(cfg)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

// OpenStoreReadOnly opens the existing store of backend for inspection.
// Nothing under Root is created or modified.
func (l Layout) OpenStoreReadOnly(backend string, logger *slog.Logger) (Store, error) {
	if backend != BackendBadger {
		return l.OpenStore(backend, logger)
	}
	cfg := DefaultBadgerConfig(l.Path(BadgerDir))
	cfg.ReadOnly = true
	cfg.Logger = logger
	return OpenBadger(cfg)
}
