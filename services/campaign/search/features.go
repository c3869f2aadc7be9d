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
	"slices"

	"github.com/AleutianAI/regsearch/services/campaign/estimator"
)

// selectFeatures returns the feature subset for hp, in input order.
func (ev *evaluator) selectFeatures(hp estimator.Assignment) ([]string, error) {
	switch ev.spec.FeatureSelection.Method {
	case MethodNone, "":
		return slices.Clone(ev.d.features), nil
	case MethodSFS:
		return ev.forwardSelect(hp)
	case MethodImportance:
		return ev.importancePrune(hp)
	default:
		return nil, fmt.Errorf("%w: unknown feature selection %q", ErrInvalidSpec, ev.spec.FeatureSelection.Method)
	}
}

// forwardSelect adds, one at a time, the feature whose inclusion gives the
// lowest k-fold error, until MaxFeatures is reached or no feature strictly
// improves the error. Ties go to the earlier feature.
func (ev *evaluator) forwardSelect(hp estimator.Assignment) ([]string, error) {
	limit := ev.spec.FeatureSelection.MaxFeatures
	if limit <= 0 || limit > len(ev.d.features) {
		limit = len(ev.d.features)
	}
	chosen := make(map[string]bool, limit)
	var selected []string
	bestErr := math.Inf(1)

	for len(selected) < limit {
		pick := ""
		pickErr := bestErr
		for _, f := range ev.d.features {
			if chosen[f] {
				continue
			}
			trial := ev.inInputOrder(append(slices.Clone(selected), f))
			score, err := ev.crossValidate(ev.sfsFolds, trial, hp)
			if err != nil {
				return nil, err
			}
			if score < pickErr {
				pick, pickErr = f, score
			}
		}
		if pick == "" {
			break
		}
		chosen[pick] = true
		selected = ev.inInputOrder(append(selected, pick))
		bestErr = pickErr
	}
	if len(selected) == 0 {
		return nil, &EstimatorError{Technique: ev.spec.Technique, Hyperparameters: hp, Err: ErrNonFinite}
	}
	return selected, nil
}

// importancePrune keeps features whose normalized importance reaches the
// tolerance, capped at MaxFeatures, and always at least the most important.
func (ev *evaluator) importancePrune(hp estimator.Assignment) ([]string, error) {
	imp, err := ev.importances(hp)
	if err != nil {
		return nil, err
	}
	var total float64
	for _, v := range imp {
		total += v
	}
	norm := make([]float64, len(imp))
	for i, v := range imp {
		if total > 0 {
			norm[i] = v / total
		}
	}

	order := make([]int, len(norm))
	for i := range order {
		order[i] = i
	}
	slices.SortStableFunc(order, func(a, b int) int {
		switch {
		case norm[a] > norm[b]:
			return -1
		case norm[a] < norm[b]:
			return 1
		}
		return 0
	})

	limit := ev.spec.FeatureSelection.MaxFeatures
	if limit <= 0 {
		limit = len(order)
	}
	keep := make(map[int]bool)
	for _, i := range order {
		if len(keep) >= limit {
			break
		}
		if norm[i] >= ev.spec.FeatureSelection.Tolerance {
			keep[i] = true
		}
	}
	if len(keep) == 0 {
		keep[order[0]] = true
	}

	var out []string
	for i, f := range ev.d.features {
		if keep[i] {
			out = append(out, f)
		}
	}
	return out, nil
}

// importances fits on every training row with every feature. The searched
// technique is used when its models report importances; otherwise the
// configured importance technique is fitted once with its defaults.
func (ev *evaluator) importances(hp estimator.Assignment) ([]float64, error) {
	all := ev.d.all()
	X, y := ev.d.x(all, ev.d.features), ev.d.target(all)

	model, err := ev.est.Fit(X, y, hp)
	if err != nil {
		return nil, &EstimatorError{Technique: ev.spec.Technique, Hyperparameters: hp, Err: err}
	}
	if imp, ok := model.(estimator.Importancer); ok {
		return imp.Importances(), nil
	}

	ev.importanceOnce.Do(func() {
		name := ev.spec.FeatureSelection.ImportanceTechnique
		if name == "" {
			name = "DecisionTree"
		}
		est, err := ev.engine.registry.Lookup(name)
		if err != nil {
			ev.importanceErr = err
			return
		}
		m, err := est.Fit(X, y, nil)
		if err != nil {
			ev.importanceErr = &EstimatorError{Technique: name, Err: err}
			return
		}
		imp, ok := m.(estimator.Importancer)
		if !ok {
			ev.importanceErr = fmt.Errorf("%w: %s does not report feature importances", ErrInvalidSpec, name)
			return
		}
		ev.importance = imp.Importances()
	})
	return ev.importance, ev.importanceErr
}

func (ev *evaluator) inInputOrder(subset []string) []string {
	set := make(map[string]bool, len(subset))
	for _, f := range subset {
		set[f] = true
	}
	out := make([]string, 0, len(subset))
	for _, f := range ev.d.features {
		if set[f] {
			out = append(out, f)
		}
	}
	return out
}
