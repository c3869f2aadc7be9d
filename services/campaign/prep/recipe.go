// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prep

import (
	"slices"
	"strings"

	"github.com/AleutianAI/regsearch/services/campaign/table"
)

// Recipe is the resolved, serializable description of a preparation.
//
// A Recipe carries no maps so that its encoding is byte-stable. It is
// stored inside every predictor artifact so inference can rebuild the
// same steps, with Scales frozen to the values seen in training.
type Recipe struct {
	Target           string
	Renames          []ColumnRename
	Inverse          []string
	Ernest           bool
	ProductDegree    int
	InteractionsOnly bool
	Normalize        bool
	Scales           []table.Scale
}

// NewRecipe builds a Recipe with renames sorted by source column.
func NewRecipe(target string, renames map[string]string, inverse []string) Recipe {
	r := Recipe{Target: target, Inverse: slices.Clone(inverse)}
	for from, to := range renames {
		r.Renames = append(r.Renames, ColumnRename{From: from, To: to})
	}
	slices.SortFunc(r.Renames, func(a, b ColumnRename) int {
		return strings.Compare(a.From, b.From)
	})
	return r
}

// WithScales returns a copy of r with normalization frozen to scales.
func (r Recipe) WithScales(scales []table.Scale) Recipe {
	r.Renames = slices.Clone(r.Renames)
	r.Inverse = slices.Clone(r.Inverse)
	r.Scales = slices.Clone(scales)
	return r
}

// Build returns the ordered step list for r, with load first.
//
// Description:
//
//	Order is load, rename, ernest, inversion, product, normalization.
//	Steps that the recipe does not enable are omitted. With inference set,
//	steps tolerate columns that are absent from the input so that data
//	without the target column can be prepared.
//
// Inputs:
//
//	load - The loading step.
//	r - The preparation recipe.
//	inference - True when preparing data for prediction.
//
// Outputs:
//
//	[]Step - A new slice owned by the caller.
func Build(load Step, r Recipe, inference bool) []Step {
	steps := []Step{load}
	if len(r.Renames) > 0 {
		steps = append(steps, Rename{Pairs: slices.Clone(r.Renames), IgnoreMissing: inference})
	}
	if r.Ernest {
		steps = append(steps, Ernest{})
	}
	if len(r.Inverse) > 0 {
		steps = append(steps, Invert{Columns: slices.Clone(r.Inverse), IgnoreMissing: inference})
	}
	if r.ProductDegree >= 2 {
		steps = append(steps, Product{MaxDegree: r.ProductDegree, InteractionsOnly: r.InteractionsOnly, Target: r.Target})
	}
	if r.Normalize {
		steps = append(steps, Normalize{Target: r.Target, Scales: slices.Clone(r.Scales), IgnoreMissing: inference})
	}
	return steps
}

// Names returns the step names in order.
func Names(steps []Step) []string {
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.Name()
	}
	return out
}
