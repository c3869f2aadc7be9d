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
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/regsearch/services/campaign/estimator"
)

func sampleCheckpoint() *Checkpoint {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	cp := New("abc123", []Unit{
		{ID: "LRRidge", Technique: "LRRidge", Seed: 1<<63 + 7},
		{ID: "DecisionTree", Technique: "DecisionTree", Seed: 2},
	}, now)
	test := 0.25
	cp.Units[0].Status = StatusComplete
	cp.Units[0].Artifact = "artifacts/LRRidge.predictor"
	cp.Units[0].Result = &Result{
		Metric:          "mape",
		Hyperparameters: estimator.Assignment{{Name: "alpha", Value: estimator.Number(0.1)}},
		Features:        []string{"x1", "x2"},
		ValidationError: 0.1,
		TrainError:      0.05,
		TestError:       &test,
	}
	cp.Units[1].Progress = json.RawMessage(`{"evaluations":3}`)
	cp.Attempts = []Attempt{{ID: "a1", StartedAt: now}}
	return cp
}

func TestNew(t *testing.T) {
	cp := sampleCheckpoint()
	assert.Equal(t, StatusPending, cp.Units[1].Status)
	assert.NotNil(t, cp.Unit("DecisionTree"))
	assert.Nil(t, cp.Unit("nope"))
	assert.False(t, cp.Complete())

	cp.Units[1].Status = StatusComplete
	assert.True(t, cp.Complete())
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), CheckpointFile))

	_, err := s.Load(ctx)
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	want := sampleCheckpoint()
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, want.CampaignID, got.CampaignID)
	assert.Equal(t, want.Units[0].Seed, got.Units[0].Seed)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.Equal(t, *want.Units[0].Result.TestError, *got.Units[0].Result.TestError)
	assert.JSONEq(t, string(want.Units[1].Progress), string(got.Units[1].Progress))
	require.NoError(t, s.Close())
}

func TestFileStore_DetectsTampering(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), CheckpointFile)
	s := NewFileStore(path)
	require.NoError(t, s.Save(ctx, sampleCheckpoint()))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"pending"`, `"complete"`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o644))

	_, err = s.Load(ctx)
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestFileStore_VersionMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), CheckpointFile)
	data, err := encode(sampleCheckpoint())
	require.NoError(t, err)
	data = []byte(strings.Replace(string(data), `"version": "1.0.0"`, `"version": "2.0.0"`, 1))
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = NewFileStore(path).Load(context.Background())
	assert.ErrorIs(t, err, ErrVersionMismatch)
}

func TestFileStore_MinorVersionCompatible(t *testing.T) {
	path := filepath.Join(t.TempDir(), CheckpointFile)
	data, err := encode(sampleCheckpoint())
	require.NoError(t, err)
	data = []byte(strings.Replace(string(data), `"version": "1.0.0"`, `"version": "1.3.0"`, 1))
	require.NoError(t, os.WriteFile(path, data, 0o644))

	_, err = NewFileStore(path).Load(context.Background())
	assert.NoError(t, err)
}

// A crash in the middle of an atomic write leaves a partial temp file next
// to the previous checkpoint. The previous state must still load.
func TestFileStore_InterruptedWriteKeepsPreviousState(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, CheckpointFile)
	s := NewFileStore(path)

	before := sampleCheckpoint()
	require.NoError(t, s.Save(ctx, before))

	next := sampleCheckpoint()
	next.Units[1].Status = StatusComplete
	data, err := encode(next)
	require.NoError(t, err)
	partial := filepath.Join(dir, "."+CheckpointFile+tempMarker+"123")
	require.NoError(t, os.WriteFile(partial, data[:len(data)/2], 0o644))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Units[1].Status)
	assert.True(t, IsTemp(filepath.Base(partial)))
	assert.True(t, Layout{Root: dir}.Known(filepath.Base(partial)))
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f")
	require.NoError(t, WriteFileAtomic(path, []byte("one"), 0o600))
	require.NoError(t, WriteFileAtomic(path, []byte("two"), 0o600))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	err = WriteFileAtomic(filepath.Join(dir, "missing", "f"), []byte("x"), 0o600)
	var ioErr *IOError
	assert.ErrorAs(t, err, &ioErr)
}

func TestBadgerStore_InMemory(t *testing.T) {
	ctx := context.Background()
	s, err := OpenBadger(BadgerConfig{InMemory: true})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load(ctx)
	assert.ErrorIs(t, err, ErrNoCheckpoint)

	want := sampleCheckpoint()
	require.NoError(t, s.Save(ctx, want))
	want.Units[1].Status = StatusInProgress
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusInProgress, got.Units[1].Status)
}

func TestBadgerStore_Persistent(t *testing.T) {
	ctx := context.Background()
	layout := Layout{Root: t.TempDir()}

	s, err := layout.OpenStore(BackendBadger, nil)
	require.NoError(t, err)
	require.NoError(t, s.Save(ctx, sampleCheckpoint()))
	require.NoError(t, s.Close())
	assert.Equal(t, BackendBadger, layout.Backend())

	s, err = layout.OpenStore(BackendBadger, nil)
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.CampaignID)
}

func TestBadgerStore_ReadOnly(t *testing.T) {
	ctx := context.Background()
	layout := Layout{Root: t.TempDir()}

	_, err := layout.OpenStoreReadOnly(BackendBadger, nil)
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.NoDirExists(t, layout.Path(BadgerDir))

	w, err := layout.OpenStore(BackendBadger, nil)
	require.NoError(t, err)
	require.NoError(t, w.Save(ctx, sampleCheckpoint()))

	r, err := layout.OpenStoreReadOnly(BackendBadger, nil)
	require.NoError(t, err)
	got, err := r.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "abc123", got.CampaignID)
	require.ErrorAs(t, r.Save(ctx, sampleCheckpoint()), &ioErr)
	require.NoError(t, r.Close())
	require.NoError(t, w.Close())
}

func TestLayout_Artifacts(t *testing.T) {
	l := Layout{Root: t.TempDir()}
	rel, sum, err := l.WriteArtifact("LRRidge", []byte("model"))
	require.NoError(t, err)
	assert.Equal(t, "artifacts/LRRidge.predictor", rel)
	require.NoError(t, l.VerifyArtifact(rel, sum))

	require.NoError(t, os.WriteFile(l.Path(rel), []byte("other"), 0o644))
	assert.ErrorIs(t, l.VerifyArtifact(rel, sum), ErrArtifactMismatch)

	require.NoError(t, os.Remove(l.Path(rel)))
	assert.ErrorIs(t, l.VerifyArtifact(rel, sum), ErrArtifactMissing)
}

func TestLayout_Done(t *testing.T) {
	l := Layout{Root: t.TempDir()}
	_, err := l.ReadDone()
	assert.ErrorIs(t, err, ErrNotDone)

	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, l.WriteDone(Done{CampaignID: "abc", CompletedAt: now}))
	d, err := l.ReadDone()
	require.NoError(t, err)
	assert.Equal(t, "abc", d.CampaignID)

	require.NoError(t, os.WriteFile(l.Path(DoneFile), []byte("garbage"), 0o644))
	_, err = l.ReadDone()
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestLayout_Known(t *testing.T) {
	l := Layout{Root: "/out"}
	for _, name := range []string{ConfigFile, CheckpointFile, BadgerDir, ArtifactsDir, DoneFile} {
		assert.True(t, l.Known(name), name)
	}
	assert.False(t, l.Known("notes.txt"))

	_, err := l.OpenStore("sqlite", nil)
	assert.ErrorIs(t, err, ErrUnknownBackend)
}
