// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package search

import (
	"math"

	"github.com/AleutianAI/regsearch/services/campaign/dataset"
	"github.com/AleutianAI/regsearch/services/campaign/estimator"
)

// Fit reports the errors of a final model.
type Fit struct {
	Model      estimator.Model
	TrainError float64
	TestError  float64
	HasTest    bool
}

// Train fits c on every training row and scores it on the train and test
// sets with metric.
func (e *Engine) Train(in *dataset.RegressionInputs, c *Candidate, metric estimator.Metric) (*Fit, error) {
	est, err := e.registry.Lookup(c.Technique)
	if err != nil {
		return nil, err
	}
	train := in.Train()
	X, err := in.X(train, c.Features)
	if err != nil {
		return nil, err
	}
	y, err := in.Y(train)
	if err != nil {
		return nil, err
	}
	model, err := est.Fit(X, y, c.Hyperparameters)
	if err != nil {
		return nil, &EstimatorError{Technique: c.Technique, Hyperparameters: c.Hyperparameters, Err: err}
	}

	out := &Fit{Model: model, TrainError: estimator.Score(model, X, y, metric)}
	if test := in.Test(); len(test) > 0 {
		tx, err := in.X(test, c.Features)
		if err != nil {
			return nil, err
		}
		ty, err := in.Y(test)
		if err != nil {
			return nil, err
		}
		out.TestError, out.HasTest = estimator.Score(model, tx, ty, metric), true
	}
	if !finite(out.TrainError) || (out.HasTest && !finite(out.TestError)) {
		return nil, &EstimatorError{Technique: c.Technique, Hyperparameters: c.Hyperparameters, Err: ErrNonFinite}
	}
	return out, nil
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
