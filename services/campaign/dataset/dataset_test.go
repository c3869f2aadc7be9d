// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package dataset

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/regsearch/services/campaign/rng"
	"github.com/AleutianAI/regsearch/services/campaign/table"
)

func newTable(t *testing.T) *table.Table {
	t.Helper()
	tbl, err := table.New(
		[]string{"x1", "x2", "y"},
		[][]float64{{1, 2, 3, 4}, {10, 20, 30, 40}, {5, 6, 7, 8}},
	)
	require.NoError(t, err)
	return tbl
}

func TestAssemble(t *testing.T) {
	tbl := newTable(t)
	in, err := Assemble(tbl, Spec{
		Train:    []int{0, 1, 2},
		Test:     []int{3},
		Features: []string{"x2", "x1"},
		Target:   "y",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"x2", "x1"}, in.Features())
	assert.Equal(t, "y", in.Target())

	x, err := in.X([]int{1, 3}, in.Features())
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{20, 2}, {40, 4}}, x)

	y, err := in.Y(in.Test())
	require.NoError(t, err)
	assert.Equal(t, []float64{8}, y)
}

func TestAssemble_SchemaViolations(t *testing.T) {
	tbl := newTable(t)
	base := Spec{Train: []int{0, 1}, Test: []int{2}, Features: []string{"x1"}, Target: "y"}

	tests := []struct {
		name  string
		mut   func(s *Spec)
		field string
	}{
		{"missing target", func(s *Spec) { s.Target = "z" }, "target"},
		{"empty target", func(s *Spec) { s.Target = "" }, "target"},
		{"target as feature", func(s *Spec) { s.Features = []string{"x1", "y"} }, "features"},
		{"no features", func(s *Spec) { s.Features = nil }, "features"},
		{"unknown feature", func(s *Spec) { s.Features = []string{"nope"} }, "features"},
		{"duplicate feature", func(s *Spec) { s.Features = []string{"x1", "x1"} }, "features"},
		{"empty train", func(s *Spec) { s.Train = nil }, "train"},
		{"train index out of table", func(s *Spec) { s.Train = []int{0, 9} }, "train"},
		{"test index out of table", func(s *Spec) { s.Test = []int{-1} }, "test"},
		{"overlap", func(s *Spec) { s.Test = []int{1} }, "test"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec := base
			tt.mut(&spec)
			_, err := Assemble(tbl, spec)
			var schemaErr *SchemaError
			require.ErrorAs(t, err, &schemaErr)
			assert.Equal(t, tt.field, schemaErr.Field)
		})
	}

	_, err := Assemble(nil, base)
	assert.Error(t, err)
}

func TestAssemble_AllowOverlap(t *testing.T) {
	tbl := newTable(t)
	in, err := Assemble(tbl, Spec{
		Train: []int{0, 1, 2, 3}, Test: []int{0, 1, 2, 3},
		Features: []string{"x1"}, Target: "y", AllowOverlap: true,
	})
	require.NoError(t, err)
	assert.Len(t, in.Test(), 4)
}

func TestAssemble_CopiesInput(t *testing.T) {
	tbl := newTable(t)
	features := []string{"x1"}
	train := []int{0, 1}
	in, err := Assemble(tbl, Spec{Train: train, Features: features, Target: "y"})
	require.NoError(t, err)

	features[0] = "x2"
	train[0] = 3
	assert.Equal(t, []string{"x1"}, in.Features())
	assert.Equal(t, []int{0, 1}, in.Train())
}

func TestPartition(t *testing.T) {
	index := []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}

	train, test := Partition(index, 0, false, rng.New(1))
	assert.Equal(t, index, train)
	assert.Empty(t, test)

	train, test = Partition(index, 0.3, false, rng.New(1))
	assert.Len(t, test, 3)
	assert.Len(t, train, 7)
	assert.IsIncreasing(t, test)
	assert.IsIncreasing(t, train)

	train2, test2 := Partition(index, 0.3, false, rng.New(1))
	assert.Equal(t, train, train2)
	assert.Equal(t, test, test2)

	train, test = Partition(index, 0.5, true, rng.New(1))
	assert.Equal(t, index, train)
	assert.Equal(t, index, test)
}
