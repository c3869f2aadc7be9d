// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/regsearch/services/campaign/checkpoint"
)

func TestInspect_EmptyDirectory(t *testing.T) {
	_, err := Inspect(context.Background(), t.TempDir(), quietLogger())
	assert.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)
}

func TestInspect_BadgerWhileRunnerHoldsStore(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	cfg := ridgeConfig(t, writeData(t, 30))
	cfg.Checkpoint.Backend = checkpoint.BackendBadger

	var inspected *Status
	hook := WithHook(func(p Point, _ string) error {
		if p != PointCheckpointSaved || inspected != nil {
			return nil
		}
		st, err := Inspect(context.Background(), out, quietLogger())
		if err != nil {
			return err
		}
		inspected = st
		return nil
	})
	_, err := newRunner(t, cfg, out, hook).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, inspected)
	assert.Equal(t, cfg.CampaignID(), inspected.CampaignID)
	assert.False(t, inspected.Done)
}

func TestInspect_BadgerLeavesDirectoryUnchanged(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	cfg := ridgeConfig(t, writeData(t, 30))
	cfg.Checkpoint.Backend = checkpoint.BackendBadger
	_, err := newRunner(t, cfg, out).Run(context.Background())
	require.NoError(t, err)

	before := snapshotTree(t, out)
	_, err = Inspect(context.Background(), out, quietLogger())
	require.NoError(t, err)
	assert.Equal(t, before, snapshotTree(t, out))
}

func snapshotTree(t *testing.T, root string) map[string]int64 {
	t.Helper()
	files := map[string]int64{}
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		files[path] = info.Size()
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestFollow_DoneCampaignReportsOnce(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	_, err := newRunner(t, ridgeConfig(t, writeData(t, 30)), out).Run(context.Background())
	require.NoError(t, err)

	var seen []*Status
	err = Follow(context.Background(), out, quietLogger(), func(st *Status) error {
		seen = append(seen, st)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.True(t, seen[0].Done)
}

func TestFollow_WatchesRunToCompletion(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	cfg := ridgeConfig(t, writeData(t, 40))

	stopEarly := WithHook(func(p Point, _ string) error {
		if p == PointCheckpointSaved {
			return errCrash
		}
		return nil
	})
	_, err := newRunner(t, cfg, out, stopEarly).Run(context.Background())
	require.ErrorIs(t, err, errCrash)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var (
		mu   sync.Mutex
		seen []*Status
	)
	followed := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		followed <- Follow(ctx, out, quietLogger(), func(st *Status) error {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, st)
			if len(seen) == 1 {
				close(started)
			}
			return nil
		})
	}()

	select {
	case <-started:
	case <-ctx.Done():
		t.Fatal("follow never reported the initial state")
	}
	_, err = newRunner(t, cfg, out).Run(context.Background())
	require.NoError(t, err)

	require.NoError(t, <-followed)
	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(seen), 2)
	assert.False(t, seen[0].Done)
	assert.True(t, seen[len(seen)-1].Done)
}

func TestFollow_CallbackErrorStops(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out")
	cfg := ridgeConfig(t, writeData(t, 30))
	stopEarly := WithHook(func(p Point, _ string) error {
		if p == PointCheckpointSaved {
			return errCrash
		}
		return nil
	})
	_, err := newRunner(t, cfg, out, stopEarly).Run(context.Background())
	require.ErrorIs(t, err, errCrash)

	errStop := errors.New("stop")
	err = Follow(context.Background(), out, quietLogger(), func(*Status) error { return errStop })
	assert.ErrorIs(t, err, errStop)
}
