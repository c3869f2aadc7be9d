// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package table

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sample(t *testing.T) *Table {
	t.Helper()
	tbl, err := New([]string{"a", "b"}, [][]float64{{1, 2, 3}, {4, 5, 6}})
	require.NoError(t, err)
	return tbl
}

func TestNew(t *testing.T) {
	tbl := sample(t)
	assert.Equal(t, []string{"a", "b"}, tbl.Columns())
	assert.Equal(t, 3, tbl.Len())
	assert.Equal(t, []int{0, 1, 2}, tbl.Index())

	_, err := New([]string{"a", "a"}, [][]float64{{1}, {2}})
	assert.ErrorIs(t, err, ErrColumnExists)

	_, err = New([]string{"a", "b"}, [][]float64{{1}, {2, 3}})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestWithColumn_DoesNotMutateSource(t *testing.T) {
	tbl := sample(t)
	out, err := tbl.WithColumn("c", []float64{7, 8, 9})
	require.NoError(t, err)

	assert.False(t, tbl.Has("c"))
	assert.True(t, out.Has("c"))
	assert.Equal(t, []string{"a", "b", "c"}, out.Columns())

	_, err = out.WithColumn("c", []float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrColumnExists)
	_, err = out.WithColumn("d", []float64{1})
	assert.ErrorIs(t, err, ErrLengthMismatch)
}

func TestColumn_ReturnsCopy(t *testing.T) {
	tbl := sample(t)
	col, ok := tbl.Column("a")
	require.True(t, ok)
	col[0] = 100

	again, _ := tbl.Column("a")
	assert.Equal(t, 1.0, again[0])
}

func TestRenamed(t *testing.T) {
	tbl := sample(t)
	out, err := tbl.Renamed("a", "x")
	require.NoError(t, err)
	assert.Equal(t, []string{"x", "b"}, out.Columns())
	assert.Equal(t, []string{"a", "b"}, tbl.Columns())

	_, err = tbl.Renamed("missing", "y")
	assert.ErrorIs(t, err, ErrUnknownColumn)
	_, err = tbl.Renamed("a", "b")
	assert.ErrorIs(t, err, ErrColumnExists)
}

func TestAt(t *testing.T) {
	tbl := sample(t)
	v, err := tbl.At("b", 2)
	require.NoError(t, err)
	assert.Equal(t, 6.0, v)

	_, err = tbl.At("b", 9)
	assert.Error(t, err)
	_, err = tbl.At("z", 0)
	assert.ErrorIs(t, err, ErrUnknownColumn)
}

func TestWithScales(t *testing.T) {
	tbl := sample(t).WithScales([]Scale{{Column: "a", Mean: 2, Std: 1}})
	out, err := tbl.Renamed("a", "x")
	require.NoError(t, err)
	assert.Equal(t, "x", out.Scales()[0].Column)
	assert.Equal(t, "a", tbl.Scales()[0].Column)
}
