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
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/AleutianAI/regsearch/services/campaign/dataset"
)

// design holds the training rows in memory, addressed by position in the
// training set.
type design struct {
	features []string
	cols     map[string][]float64
	y        []float64
}

func newDesign(in *dataset.RegressionInputs) (*design, error) {
	train := in.Train()
	features := in.Features()
	X, err := in.X(train, features)
	if err != nil {
		return nil, err
	}
	y, err := in.Y(train)
	if err != nil {
		return nil, err
	}
	d := &design{features: features, cols: make(map[string][]float64, len(features)), y: y}
	for j, f := range features {
		col := make([]float64, len(train))
		for i := range train {
			col[i] = X[i][j]
		}
		d.cols[f] = col
	}
	return d, nil
}

func (d *design) rows() int { return len(d.y) }

func (d *design) x(pos []int, features []string) [][]float64 {
	out := make([][]float64, len(pos))
	for i, p := range pos {
		row := make([]float64, len(features))
		for j, f := range features {
			row[j] = d.cols[f][p]
		}
		out[i] = row
	}
	return out
}

func (d *design) target(pos []int) []float64 {
	out := make([]float64, len(pos))
	for i, p := range pos {
		out[i] = d.y[p]
	}
	return out
}

func (d *design) all() []int {
	out := make([]int, d.rows())
	for i := range out {
		out[i] = i
	}
	return out
}

// fold is one fit/score split over training positions.
type fold struct {
	fit   []int
	score []int
}

// splitFolds builds the validation folds for n training rows.
//
// k-fold without shuffle uses contiguous blocks, the first n%k blocks one
// row longer. With shuffle, positions are permuted and position i of the
// permutation goes to fold i%k. Hold-out scores the last round(n*ratio)
// rows of the (optionally shuffled) order, keeping at least one row on
// each side.
func splitFolds(n int, v Validation, r *rand.Rand) ([]fold, error) {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	if v.Shuffle {
		order = r.Perm(n)
	}

	switch v.Scheme {
	case SchemeKFold:
		k := v.Folds
		if k < 2 {
			return nil, fmt.Errorf("%w: k-fold needs at least 2 folds, got %d", ErrInvalidSpec, k)
		}
		if n < k {
			return nil, fmt.Errorf("%w: %d rows for %d folds", ErrTooFewRows, n, k)
		}
		member := make([]int, n)
		if v.Shuffle {
			for i, p := range order {
				member[p] = i % k
			}
		} else {
			size, extra := n/k, n%k
			p := 0
			for f := 0; f < k; f++ {
				m := size
				if f < extra {
					m++
				}
				for j := 0; j < m; j++ {
					member[p] = f
					p++
				}
			}
		}
		folds := make([]fold, k)
		for p := 0; p < n; p++ {
			for f := range folds {
				if member[p] == f {
					folds[f].score = append(folds[f].score, p)
				} else {
					folds[f].fit = append(folds[f].fit, p)
				}
			}
		}
		return folds, nil

	case SchemeHoldOut:
		if n < 2 {
			return nil, fmt.Errorf("%w: hold-out needs at least 2 rows, got %d", ErrTooFewRows, n)
		}
		if v.HoldOutRatio <= 0 || v.HoldOutRatio >= 1 {
			return nil, fmt.Errorf("%w: hold_out_ratio %v outside (0,1)", ErrInvalidSpec, v.HoldOutRatio)
		}
		nScore := int(math.Round(float64(n) * v.HoldOutRatio))
		nScore = min(max(nScore, 1), n-1)
		return []fold{{fit: order[:n-nScore], score: order[n-nScore:]}}, nil

	default:
		return nil, fmt.Errorf("%w: unknown validation scheme %q", ErrInvalidSpec, v.Scheme)
	}
}
