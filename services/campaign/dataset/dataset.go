// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package dataset assembles validated regression inputs from a prepared
// table.
package dataset

import (
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/AleutianAI/regsearch/services/campaign/table"
)

// SchemaError reports a RegressionInputs invariant violation.
type SchemaError struct {
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema: %s: %s", e.Field, e.Reason)
}

// Spec describes how to carve regression inputs out of a table.
type Spec struct {
	Train    []int
	Test     []int
	Features []string
	Target   string

	// AllowOverlap permits shared train and test rows. The caller sets it
	// only for hold-out validation with overlap explicitly enabled.
	AllowOverlap bool
}

// RegressionInputs is the immutable, validated input to model search.
//
// Thread Safety:
//
//	Safe for concurrent use. Accessors return copies.
type RegressionInputs struct {
	table    *table.Table
	train    []int
	test     []int
	features []string
	target   string
}

// Assemble validates spec against tbl and returns the regression inputs.
//
// Description:
//
//	Checks that the target exists and is not a feature, that the feature
//	list is non-empty, unique and present in the table, that the training
//	set is non-empty, that every index is a row identity of the table, and
//	that train and test do not overlap unless AllowOverlap is set.
//
// Outputs:
//
//	*RegressionInputs - The assembled inputs.
//	error - *SchemaError on any violation.
func Assemble(tbl *table.Table, spec Spec) (*RegressionInputs, error) {
	if tbl == nil {
		return nil, &SchemaError{Field: "table", Reason: "no prepared table"}
	}
	if spec.Target == "" {
		return nil, &SchemaError{Field: "target", Reason: "empty target name"}
	}
	if !tbl.Has(spec.Target) {
		return nil, &SchemaError{Field: "target", Reason: fmt.Sprintf("column %q not in table", spec.Target)}
	}
	if len(spec.Features) == 0 {
		return nil, &SchemaError{Field: "features", Reason: "feature list is empty"}
	}
	seen := make(map[string]bool, len(spec.Features))
	for _, f := range spec.Features {
		switch {
		case f == spec.Target:
			return nil, &SchemaError{Field: "features", Reason: fmt.Sprintf("target %q listed as a feature", f)}
		case seen[f]:
			return nil, &SchemaError{Field: "features", Reason: fmt.Sprintf("feature %q listed twice", f)}
		case !tbl.Has(f):
			return nil, &SchemaError{Field: "features", Reason: fmt.Sprintf("column %q not in table", f)}
		}
		seen[f] = true
	}
	if len(spec.Train) == 0 {
		return nil, &SchemaError{Field: "train", Reason: "training set is empty"}
	}
	if err := checkIndex(tbl, "train", spec.Train); err != nil {
		return nil, err
	}
	if err := checkIndex(tbl, "test", spec.Test); err != nil {
		return nil, err
	}
	if !spec.AllowOverlap {
		train := make(map[int]bool, len(spec.Train))
		for _, id := range spec.Train {
			train[id] = true
		}
		for _, id := range spec.Test {
			if train[id] {
				return nil, &SchemaError{Field: "test", Reason: fmt.Sprintf("row %d is also in the training set", id)}
			}
		}
	}

	return &RegressionInputs{
		table:    tbl,
		train:    slices.Clone(spec.Train),
		test:     slices.Clone(spec.Test),
		features: slices.Clone(spec.Features),
		target:   spec.Target,
	}, nil
}

func checkIndex(tbl *table.Table, field string, ids []int) error {
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if !tbl.Contains(id) {
			return &SchemaError{Field: field, Reason: fmt.Sprintf("row %d not in table", id)}
		}
		if seen[id] {
			return &SchemaError{Field: field, Reason: fmt.Sprintf("row %d listed twice", id)}
		}
		seen[id] = true
	}
	return nil
}

// Table returns the prepared table.
func (in *RegressionInputs) Table() *table.Table { return in.table }

// Train returns the training row identities.
func (in *RegressionInputs) Train() []int { return slices.Clone(in.train) }

// Test returns the test row identities.
func (in *RegressionInputs) Test() []int { return slices.Clone(in.test) }

// Features returns the ordered feature names.
func (in *RegressionInputs) Features() []string { return slices.Clone(in.features) }

// Target returns the target column name.
func (in *RegressionInputs) Target() string { return in.target }

// X materializes a row-major design matrix.
func (in *RegressionInputs) X(rows []int, features []string) ([][]float64, error) {
	cols := make([][]float64, len(features))
	for j, f := range features {
		col, ok := in.table.Column(f)
		if !ok {
			return nil, fmt.Errorf("%w: %s", table.ErrUnknownColumn, f)
		}
		cols[j] = col
	}
	index := in.table.Index()
	pos := make(map[int]int, len(index))
	for p, id := range index {
		pos[id] = p
	}
	out := make([][]float64, len(rows))
	for i, id := range rows {
		p, ok := pos[id]
		if !ok {
			return nil, fmt.Errorf("row %d not in table", id)
		}
		row := make([]float64, len(features))
		for j := range features {
			row[j] = cols[j][p]
		}
		out[i] = row
	}
	return out, nil
}

// Y returns target values for rows.
func (in *RegressionInputs) Y(rows []int) ([]float64, error) {
	out := make([]float64, len(rows))
	for i, id := range rows {
		v, err := in.table.At(in.target, id)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// Partition splits row identities into train and test sets.
//
// Description:
//
//	With testOnTrain, both sets are the full index (the caller must allow
//	overlap). Otherwise round(n*testRatio) rows, chosen by a shuffle from r,
//	form the test set and the rest form the training set. Both sets keep
//	the index order.
func Partition(index []int, testRatio float64, testOnTrain bool, r *rand.Rand) (train, test []int) {
	if testOnTrain {
		return slices.Clone(index), slices.Clone(index)
	}
	nTest := int(math.Round(float64(len(index)) * testRatio))
	if nTest <= 0 {
		return slices.Clone(index), nil
	}
	if nTest >= len(index) {
		nTest = len(index) - 1
	}
	perm := r.Perm(len(index))
	inTest := make(map[int]bool, nTest)
	for _, p := range perm[:nTest] {
		inTest[p] = true
	}
	for p, id := range index {
		if inTest[p] {
			test = append(test, id)
		} else {
			train = append(train, id)
		}
	}
	return train, test
}
