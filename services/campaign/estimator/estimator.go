// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package estimator defines the fit/predict/score contract for regression
// techniques and ships the built-in techniques.
//
// Techniques:
//
//   - LRRidge: L2-regularized linear regression (alpha).
//   - DecisionTree: CART regression tree.
//   - RandomForest: bagged CART regression trees.
//
// Fitted models serialize with MarshalBinary and are restored with the
// owning Estimator's Decode.
package estimator

import (
	"errors"
	"fmt"
	"slices"
)

var (
	// ErrUnknownTechnique indicates a technique name with no estimator.
	ErrUnknownTechnique = errors.New("unknown technique")

	// ErrUnknownHyperparameter indicates a hyperparameter the technique does not accept.
	ErrUnknownHyperparameter = errors.New("unknown hyperparameter")

	// ErrInvalidHyperparameter indicates an out-of-range or mistyped value.
	ErrInvalidHyperparameter = errors.New("invalid hyperparameter")

	// ErrEmptyData indicates a fit with no rows or no columns.
	ErrEmptyData = errors.New("no training data")

	// ErrShape indicates mismatched matrix dimensions.
	ErrShape = errors.New("dimension mismatch")

	// ErrSingular indicates a system that could not be solved.
	ErrSingular = errors.New("singular system")
)

// Estimator fits models of one technique.
type Estimator interface {
	// Name is the technique name used in configuration.
	Name() string

	// Defaults lists every accepted hyperparameter with its default value.
	Defaults() Assignment

	// Fit trains a model. Hyperparameters absent from hp take their defaults.
	Fit(X [][]float64, y []float64, hp Assignment) (Model, error)

	// Decode restores a model produced by Model.MarshalBinary.
	Decode(data []byte) (Model, error)
}

// Model is a fitted predictor.
type Model interface {
	Predict(X [][]float64) []float64
	MarshalBinary() ([]byte, error)
}

// Importancer is implemented by models that expose per-feature importance.
type Importancer interface {
	Importances() []float64
}

// Resolve validates hp against the estimator's accepted names and overlays
// it on the defaults.
func Resolve(e Estimator, hp Assignment) (Assignment, error) {
	defaults := e.Defaults()
	for _, p := range hp {
		if _, ok := defaults.Get(p.Name); !ok {
			return nil, fmt.Errorf("%w: %s does not accept %q", ErrUnknownHyperparameter, e.Name(), p.Name)
		}
	}
	return defaults.Merge(hp), nil
}

// Complexity counts the hyperparameters in hp that differ from defaults.
func Complexity(e Estimator, hp Assignment) int {
	defaults := e.Defaults()
	n := 0
	for _, p := range hp {
		d, ok := defaults.Get(p.Name)
		if !ok || !d.Equal(p.Value) {
			n++
		}
	}
	return n
}

func checkShape(X [][]float64, y []float64) (rows, cols int, err error) {
	if len(X) == 0 || len(X[0]) == 0 {
		return 0, 0, ErrEmptyData
	}
	if len(X) != len(y) {
		return 0, 0, fmt.Errorf("%w: %d rows, %d targets", ErrShape, len(X), len(y))
	}
	cols = len(X[0])
	for i, row := range X {
		if len(row) != cols {
			return 0, 0, fmt.Errorf("%w: row %d has %d columns, want %d", ErrShape, i, len(row), cols)
		}
	}
	return len(X), cols, nil
}

// Registry maps technique names to estimators.
//
// Thread Safety: Immutable after construction.
type Registry struct {
	byName map[string]Estimator
}

// NewRegistry builds a registry. Later estimators replace earlier ones of
// the same name.
func NewRegistry(es ...Estimator) *Registry {
	r := &Registry{byName: make(map[string]Estimator, len(es))}
	for _, e := range es {
		r.byName[e.Name()] = e
	}
	return r
}

// DefaultRegistry returns a registry with the built-in techniques.
func DefaultRegistry() *Registry {
	return NewRegistry(Ridge{}, DecisionTree{}, RandomForest{})
}

// Lookup returns the estimator for name.
func (r *Registry) Lookup(name string) (Estimator, error) {
	e, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTechnique, name)
	}
	return e, nil
}

// Names returns the registered technique names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}
