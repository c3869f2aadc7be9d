// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package checkpoint persists campaign progress and owns the layout of the
// output directory.
//
// # Protocol
//
// Every unit moves pending -> in_progress -> complete (or failed). A unit
// is marked in_progress and saved before work starts. Its artifact is
// written and synced before the unit is marked complete. The done marker
// is written last, after every unit is complete. All writes are atomic
// (temp file, fsync, rename, directory fsync), so a crash at any instant
// leaves either the old or the new state on disk, never a mix.
package checkpoint

import (
	"context"
	"encoding/json"
	"time"

	"github.com/AleutianAI/regsearch/services/campaign/estimator"
)

// Version is the current checkpoint format version (semver). Checkpoints
// with the same major version are readable.
const Version = "1.0.0"

// Status is a unit's position in the protocol.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Result is the recorded outcome of a complete unit.
type Result struct {
	Metric          string               `json:"metric"`
	Hyperparameters estimator.Assignment `json:"hyperparameters"`
	Features        []string             `json:"features"`
	ValidationError float64              `json:"validation_error"`
	TrainError      float64              `json:"train_error"`
	TestError       *float64             `json:"test_error,omitempty"`
}

// Unit is one technique's search within a campaign.
type Unit struct {
	ID             string          `json:"id"`
	Technique      string          `json:"technique"`
	Seed           uint64          `json:"seed"`
	Status         Status          `json:"status"`
	Attempts       int             `json:"attempts"`
	Artifact       string          `json:"artifact,omitempty"`
	ArtifactSHA256 string          `json:"artifact_sha256,omitempty"`
	Result         *Result         `json:"result,omitempty"`
	Progress       json.RawMessage `json:"progress,omitempty"`
	Error          string          `json:"error,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Attempt records one invocation of the campaign.
type Attempt struct {
	ID        string    `json:"id"`
	StartedAt time.Time `json:"started_at"`
}

// Checkpoint is the durable campaign state.
type Checkpoint struct {
	CampaignID string    `json:"campaign_id"`
	CreatedAt  time.Time `json:"created_at"`
	Units      []Unit    `json:"units"`
	Attempts   []Attempt `json:"attempts"`
}

// New returns a checkpoint with every unit pending.
func New(campaignID string, units []Unit, now time.Time) *Checkpoint {
	cp := &Checkpoint{CampaignID: campaignID, CreatedAt: now, Units: make([]Unit, len(units))}
	copy(cp.Units, units)
	for i := range cp.Units {
		cp.Units[i].Status = StatusPending
		cp.Units[i].UpdatedAt = now
	}
	return cp
}

// Unit returns the unit with id, or nil.
func (c *Checkpoint) Unit(id string) *Unit {
	for i := range c.Units {
		if c.Units[i].ID == id {
			return &c.Units[i]
		}
	}
	return nil
}

// Complete reports whether every unit is complete.
func (c *Checkpoint) Complete() bool {
	for _, u := range c.Units {
		if u.Status != StatusComplete {
			return false
		}
	}
	return true
}

// Store persists checkpoints.
//
// Save must be durable when it returns. Load returns ErrNoCheckpoint when
// nothing was saved. Every other failure is an *IOError.
type Store interface {
	Load(ctx context.Context) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
	Close() error
}
