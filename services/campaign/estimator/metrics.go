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
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"
)

// Metric names an error measure. Lower is better for every selection metric.
type Metric string

const (
	MAPE Metric = "mape"
	RMSE Metric = "rmse"
	MSE  Metric = "mse"
	MAE  Metric = "mae"
)

// mapeFloor keeps MAPE finite on zero targets.
const mapeFloor = 2.220446049250313e-16

// ParseMetric validates a metric name.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(s); m {
	case MAPE, RMSE, MSE, MAE:
		return m, nil
	}
	return "", fmt.Errorf("unknown metric %q", s)
}

// Compute returns the metric of pred against y.
func (m Metric) Compute(y, pred []float64) float64 {
	if len(y) == 0 || len(y) != len(pred) {
		return math.NaN()
	}
	var acc float64
	for i := range y {
		d := y[i] - pred[i]
		switch m {
		case MAPE:
			acc += math.Abs(d) / math.Max(math.Abs(y[i]), mapeFloor)
		case MAE:
			acc += math.Abs(d)
		default:
			acc += d * d
		}
	}
	mean := acc / float64(len(y))
	if m == RMSE {
		return math.Sqrt(mean)
	}
	if m != MAPE && m != MAE && m != MSE {
		return math.NaN()
	}
	return mean
}

// Score predicts X with model and returns the metric against y.
func Score(model Model, X [][]float64, y []float64, m Metric) float64 {
	return m.Compute(y, model.Predict(X))
}

// R2 returns the coefficient of determination of pred against y. It is
// NaN for empty or mismatched input and when y is constant.
func R2(y, pred []float64) float64 {
	if len(y) == 0 || len(y) != len(pred) || stat.Variance(y, nil) == 0 {
		return math.NaN()
	}
	return stat.RSquaredFrom(pred, y, nil)
}
