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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/AleutianAI/regsearch/services/campaign/checkpoint"
)

// Status is a read-only view of a campaign output directory.
type Status struct {
	Output      string
	CampaignID  string
	Backend     string
	Done        bool
	CompletedAt time.Time
	Attempts    int
	Units       []checkpoint.Unit
}

// Counts returns the number of units per status.
func (s *Status) Counts() map[checkpoint.Status]int {
	out := make(map[checkpoint.Status]int)
	for _, u := range s.Units {
		out[u.Status]++
	}
	return out
}

func (s *Status) fingerprint() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s|%t|%d", s.CampaignID, s.Done, s.Attempts)
	for _, u := range s.Units {
		fmt.Fprintf(&b, "|%s:%s:%d:%s", u.ID, u.Status, u.Attempts, u.UpdatedAt.Format(time.RFC3339Nano))
	}
	return b.String()
}

// Inspect reads the state of the campaign in dir.
//
// Description:
//
//	Reads the done marker and the checkpoint without modifying anything.
//	A badger checkpoint is opened read-only, so Inspect also works while a
//	runner holds the database.
//
// Outputs:
//
//	*Status - The campaign state.
//	error - checkpoint.ErrNoCheckpoint if dir holds no campaign state,
//	        *checkpoint.IOError on read failures.
func Inspect(ctx context.Context, dir string, logger *slog.Logger) (*Status, error) {
	if logger == nil {
		logger = slog.Default()
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	layout := checkpoint.Layout{Root: root}
	st := &Status{Output: root}

	done, err := layout.ReadDone()
	switch {
	case err == nil:
		st.Done = true
		st.CampaignID = done.CampaignID
		st.CompletedAt = done.CompletedAt
	case !errors.Is(err, checkpoint.ErrNotDone):
		return nil, err
	}

	st.Backend = layout.Backend()
	if st.Backend == "" {
		if st.Done {
			return st, nil
		}
		return nil, fmt.Errorf("%w in %s", checkpoint.ErrNoCheckpoint, root)
	}
	store, err := layout.OpenStoreReadOnly(st.Backend, logger)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	cp, err := store.Load(ctx)
	if err != nil {
		return nil, err
	}
	st.CampaignID = cp.CampaignID
	st.Attempts = len(cp.Attempts)
	st.Units = cp.Units
	return st, nil
}

// Follow reports the campaign state in dir each time it changes, until the
// done marker appears, fn returns an error, or ctx ends.
//
// Description:
//
//	Watches the output directory with fsnotify. Temp files are ignored, so
//	fn only sees states that were durably committed. States that cannot be
//	read yet, for example before the first checkpoint save, are skipped.
//
// Inputs:
//
//	ctx - Cancellation ends the watch with ctx.Err().
//	dir - An existing campaign output directory.
//	logger - Logger for watcher errors. Nil uses slog.Default().
//	fn - Called with each new state. A non-nil error ends the watch.
//
// Outputs:
//
//	error - nil once the campaign is done.
func Follow(ctx context.Context, dir string, logger *slog.Logger, fn func(*Status) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	badgerDir := filepath.Join(dir, checkpoint.BadgerDir)
	watchingBadger := false

	last := ""
	report := func() (bool, error) {
		if !watchingBadger {
			if info, err := os.Stat(badgerDir); err == nil && info.IsDir() {
				watchingBadger = watcher.Add(badgerDir) == nil
			}
		}
		st, err := Inspect(ctx, dir, logger)
		if err != nil {
			logger.Debug("campaign state not readable yet", slog.String("error", err.Error()))
			return false, nil
		}
		if fp := st.fingerprint(); fp != last {
			last = fp
			if err := fn(st); err != nil {
				return false, err
			}
		}
		return st.Done, nil
	}

	if done, err := report(); err != nil || done {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if checkpoint.IsTemp(filepath.Base(ev.Name)) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			done, err := report()
			if err != nil || done {
				return err
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}
