// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package predictor defines the serialized predictor artifact and applies
// it to new data.
//
// An artifact bundles the fitted model with everything needed to reproduce
// the training-time preparation: the recipe (with frozen normalization
// scales), the ordered feature list and the target name. Artifacts are gob
// encoded from map-free structures so identical campaigns produce
// byte-identical files.
package predictor

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"

	"github.com/AleutianAI/regsearch/services/campaign/estimator"
	"github.com/AleutianAI/regsearch/services/campaign/prep"
	"github.com/AleutianAI/regsearch/services/campaign/table"
)

// FormatVersion is the artifact format written by this package.
const FormatVersion = 1

var (
	// ErrFormat indicates an artifact written in an unsupported format.
	ErrFormat = errors.New("unsupported artifact format")

	// ErrMissingFeature indicates input data without a required feature.
	ErrMissingFeature = errors.New("input is missing a model feature")
)

// Artifact is the persisted result of one unit.
type Artifact struct {
	FormatVersion   int
	CampaignID      string
	Technique       string
	Target          string
	Features        []string
	Hyperparameters estimator.Assignment
	Metric          string
	ValidationError float64
	TrainError      float64
	TestError       float64
	HasTest         bool
	Recipe          prep.Recipe
	Model           []byte
}

// Encode serializes the artifact.
func (a *Artifact) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		return nil, fmt.Errorf("encode artifact: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses an artifact produced by Encode.
func Decode(data []byte) (*Artifact, error) {
	var a Artifact
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&a); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if a.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: version %d", ErrFormat, a.FormatVersion)
	}
	return &a, nil
}

// Load reads an artifact file.
func Load(path string) (*Artifact, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return Decode(data)
}

// Predictor applies a decoded artifact.
//
// Thread Safety: Safe for concurrent use.
type Predictor struct {
	artifact *Artifact
	model    estimator.Model
	logger   *slog.Logger
}

// New restores the artifact's model from registry.
func New(a *Artifact, registry *estimator.Registry, logger *slog.Logger) (*Predictor, error) {
	if registry == nil {
		registry = estimator.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	est, err := registry.Lookup(a.Technique)
	if err != nil {
		return nil, err
	}
	model, err := est.Decode(a.Model)
	if err != nil {
		return nil, err
	}
	return &Predictor{artifact: a, model: model, logger: logger}, nil
}

// Open loads an artifact file and restores its model.
func Open(path string, registry *estimator.Registry, logger *slog.Logger) (*Predictor, error) {
	a, err := Load(path)
	if err != nil {
		return nil, err
	}
	return New(a, registry, logger)
}

// Artifact returns the underlying artifact.
func (p *Predictor) Artifact() *Artifact { return p.artifact }

// Result holds predictions for every input row.
type Result struct {
	Index       []int
	Predictions []float64

	// Actual, Error and R2 are set when the input carries the target column.
	Actual    []float64
	HasTarget bool
	Metric    estimator.Metric
	Error     float64
	R2        float64
}

// PredictFile prepares a CSV file with the artifact's recipe and predicts it.
func (p *Predictor) PredictFile(ctx context.Context, path string) (*Result, error) {
	steps := prep.Build(prep.Load{Path: path}, p.artifact.Recipe, true)
	tbl, err := prep.Run(ctx, steps, p.logger)
	if err != nil {
		return nil, err
	}
	return p.PredictTable(tbl)
}

// PredictTable predicts an already prepared table.
func (p *Predictor) PredictTable(tbl *table.Table) (*Result, error) {
	index := tbl.Index()
	X := make([][]float64, len(index))
	for i := range X {
		X[i] = make([]float64, len(p.artifact.Features))
	}
	for j, f := range p.artifact.Features {
		col, ok := tbl.Column(f)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrMissingFeature, f)
		}
		for i, v := range col {
			X[i][j] = v
		}
	}

	res := &Result{Index: index, Predictions: p.model.Predict(X), Metric: estimator.Metric(p.artifact.Metric)}
	if actual, ok := tbl.Column(p.artifact.Target); ok {
		res.Actual, res.HasTarget = actual, true
		res.Error = res.Metric.Compute(actual, res.Predictions)
		res.R2 = estimator.R2(actual, res.Predictions)
	}
	p.logger.Debug("prediction complete",
		slog.String("technique", p.artifact.Technique),
		slog.Int("rows", len(index)),
		slog.Bool("has_target", res.HasTarget),
	)
	return res, nil
}

// WriteCSV writes one line per row: row identity, prediction and, when
// known, the actual value.
func WriteCSV(w io.Writer, res *Result) error {
	cw := csv.NewWriter(w)
	header := []string{"row", "prediction"}
	if res.HasTarget {
		header = append(header, "actual")
	}
	if err := cw.Write(header); err != nil {
		return err
	}
	for i, id := range res.Index {
		rec := []string{strconv.Itoa(id), strconv.FormatFloat(res.Predictions[i], 'g', -1, 64)}
		if res.HasTarget {
			rec = append(rec, strconv.FormatFloat(res.Actual[i], 'g', -1, 64))
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
