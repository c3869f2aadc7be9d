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
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

var checkpointKey = []byte("campaign/checkpoint")

// BadgerConfig configures a BadgerDB-backed store.
type BadgerConfig struct {
	// Path is the database directory. Ignored when InMemory is true.
	Path string

	// InMemory keeps the database in memory. Useful for testing.
	InMemory bool

	// SyncWrites makes every Save durable before it returns.
	SyncWrites bool

	// ReadOnly opens an existing database for reading only. The directory
	// lock is bypassed so that a database held by a running campaign can
	// be inspected; Load relies on the checkpoint checksum to reject a
	// torn read.
	ReadOnly bool

	// Logger receives BadgerDB's internal logs. If nil, they are discarded.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns a durable configuration for path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// BadgerStore keeps the checkpoint under a single key in BadgerDB. Each
// Save is one transaction.
//
// Thread Safety: Safe for concurrent use.
type BadgerStore struct {
	db       *badger.DB
	path     string
	inMemory bool
	readOnly bool
	logger   *slog.Logger
}

// OpenBadger opens or creates a BadgerDB store.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*BadgerStore - The store. Caller must Close it.
//	error - *IOError if the database cannot be opened.
func OpenBadger(cfg BadgerConfig) (*BadgerStore, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, &IOError{Op: "open", Err: errors.New("path is required for persistent database")}
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else if cfg.ReadOnly {
		if _, err := os.Stat(cfg.Path); err != nil {
			return nil, &IOError{Op: "open", Path: cfg.Path, Err: err}
		}
		opts = badger.DefaultOptions(cfg.Path).WithReadOnly(true).WithBypassLockGuard(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, &IOError{Op: "mkdir", Path: cfg.Path, Err: err}
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &IOError{Op: "open", Path: cfg.Path, Err: err}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &BadgerStore{db: db, path: cfg.Path, inMemory: cfg.InMemory, readOnly: cfg.ReadOnly, logger: logger}, nil
}

func (s *BadgerStore) Load(ctx context.Context) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checkpointKey)
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
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

func (s *BadgerStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.readOnly {
		return &IOError{Op: "write", Path: s.path, Err: badger.ErrReadOnlyTxn}
	}
	data, err := encode(cp)
	if err != nil {
		return &IOError{Op: "encode", Path: s.path, Err: err}
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(checkpointKey, data)
	}); err != nil {
		return &IOError{Op: "write", Path: s.path, Err: err}
	}
	return nil
}

// Close runs one value log GC pass, unless read-only, and closes the
// database.
func (s *BadgerStore) Close() error {
	if s.inMemory || s.readOnly {
		return s.db.Close()
	}
	if err := s.db.RunValueLogGC(0.5); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		s.logger.Debug("badger value log GC skipped", slog.String("error", err.Error()))
	}
	if err := s.db.Close(); err != nil {
		return &IOError{Op: "close", Path: s.path, Err: err}
	}
	return nil
}
