// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package estimator

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Ridge is L2-regularized least squares with an unpenalized intercept.
type Ridge struct{}

func (Ridge) Name() string { return "LRRidge" }

func (Ridge) Defaults() Assignment {
	return Assignment{{Name: "alpha", Value: Number(1)}}
}

// Fit solves (XcᵀXc + αI)w = Xcᵀyc on centered data.
func (e Ridge) Fit(X [][]float64, y []float64, hp Assignment) (Model, error) {
	n, p, err := checkShape(X, y)
	if err != nil {
		return nil, err
	}
	hp, err = Resolve(e, hp)
	if err != nil {
		return nil, err
	}
	alpha, err := hp.number("alpha")
	if err != nil {
		return nil, err
	}
	if alpha < 0 {
		return nil, fmt.Errorf("%w: alpha=%v must be non-negative", ErrInvalidHyperparameter, alpha)
	}

	xMean := make([]float64, p)
	var yMean float64
	for i, row := range X {
		for j, v := range row {
			xMean[j] += v
		}
		yMean += y[i]
	}
	for j := range xMean {
		xMean[j] /= float64(n)
	}
	yMean /= float64(n)

	xc := mat.NewDense(n, p, nil)
	yc := mat.NewVecDense(n, nil)
	for i, row := range X {
		for j, v := range row {
			xc.Set(i, j, v-xMean[j])
		}
		yc.SetVec(i, y[i]-yMean)
	}

	var gram mat.SymDense
	gram.SymOuterK(1, xc.T())
	for j := 0; j < p; j++ {
		gram.SetSym(j, j, gram.At(j, j)+alpha)
	}
	var rhs mat.VecDense
	rhs.MulVec(xc.T(), yc)

	var chol mat.Cholesky
	if ok := chol.Factorize(&gram); !ok {
		return nil, fmt.Errorf("%w: gram matrix is not positive definite (alpha=%v)", ErrSingular, alpha)
	}
	var w mat.VecDense
	if err := chol.SolveVecTo(&w, &rhs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSingular, err)
	}

	m := &LinearModel{Coef: make([]float64, p), Intercept: yMean}
	for j := 0; j < p; j++ {
		m.Coef[j] = w.AtVec(j)
		m.Intercept -= m.Coef[j] * xMean[j]
	}
	return m, nil
}

func (Ridge) Decode(data []byte) (Model, error) {
	var m LinearModel
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode linear model: %w", err)
	}
	return &m, nil
}

// LinearModel is a fitted linear predictor.
type LinearModel struct {
	Coef      []float64
	Intercept float64
}

// linearState has LinearModel's fields without its methods, so gob encodes
// the fields instead of recursing into MarshalBinary.
type linearState LinearModel

func (m *LinearModel) Predict(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		v := m.Intercept
		for j, c := range m.Coef {
			v += c * row[j]
		}
		out[i] = v
	}
	return out
}

func (m *LinearModel) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode((*linearState)(m)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *LinearModel) UnmarshalBinary(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode((*linearState)(m))
}
