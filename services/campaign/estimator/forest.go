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
	"strconv"

	"github.com/AleutianAI/regsearch/services/campaign/rng"
)

// RandomForest averages CART trees grown on bootstrap samples.
type RandomForest struct{}

func (RandomForest) Name() string { return "RandomForest" }

func (RandomForest) Defaults() Assignment {
	return Assignment{
		{Name: "bootstrap", Value: Text("true")},
		{Name: "criterion", Value: Text("mse")},
		{Name: "max_depth", Value: Number(0)},
		{Name: "max_features", Value: Text("auto")},
		{Name: "min_samples_leaf", Value: Number(1)},
		{Name: "min_samples_split", Value: Number(2)},
		{Name: "n_estimators", Value: Number(10)},
		{Name: "random_state", Value: Number(0)},
	}
}

func (e RandomForest) Fit(X [][]float64, y []float64, hp Assignment) (Model, error) {
	n, p, err := checkShape(X, y)
	if err != nil {
		return nil, err
	}
	hp, err = Resolve(e, hp)
	if err != nil {
		return nil, err
	}
	params, err := parseTreeParams(hp, n, p)
	if err != nil {
		return nil, err
	}
	count, err := hp.number("n_estimators")
	if err != nil {
		return nil, err
	}
	if count < 1 {
		return nil, fmt.Errorf("%w: n_estimators=%v", ErrInvalidHyperparameter, count)
	}
	bootstrap, err := hp.text("bootstrap")
	if err != nil {
		return nil, err
	}
	sample, err := strconv.ParseBool(bootstrap)
	if err != nil {
		return nil, fmt.Errorf("%w: bootstrap=%q", ErrInvalidHyperparameter, bootstrap)
	}

	m := &ForestModel{Importance: make([]float64, p)}
	for t := 0; t < int(count); t++ {
		r := rng.Stream(params.seed, "forest", strconv.Itoa(t))
		rows := make([]int, n)
		for i := range rows {
			if sample {
				rows[i] = r.IntN(n)
			} else {
				rows[i] = i
			}
		}
		tree := growTree(X, y, rows, params, r)
		m.Trees = append(m.Trees, *tree)
		for j, v := range tree.Importance {
			m.Importance[j] += v / count
		}
	}
	return m, nil
}

func (RandomForest) Decode(data []byte) (Model, error) {
	var m ForestModel
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode forest model: %w", err)
	}
	return &m, nil
}

// ForestModel is a fitted random forest.
type ForestModel struct {
	Trees      []TreeModel
	Importance []float64
}

type forestState ForestModel

func (m *ForestModel) Predict(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		var sum float64
		for k := range m.Trees {
			sum += m.Trees[k].predictRow(row)
		}
		out[i] = sum / float64(len(m.Trees))
	}
	return out
}

func (m *ForestModel) Importances() []float64 {
	out := make([]float64, len(m.Importance))
	copy(out, m.Importance)
	return out
}

func (m *ForestModel) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode((*forestState)(m)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *ForestModel) UnmarshalBinary(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode((*forestState)(m))
}
