// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package table provides the immutable column store that flows through the
// data preparation pipeline.
//
// A Table never changes after construction. Every transformation returns a
// new Table that shares unchanged column slices with its source, so steps
// can be chained without copying the whole dataset.
package table

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownColumn indicates a column name that is not in the table.
	ErrUnknownColumn = errors.New("unknown column")

	// ErrColumnExists indicates an attempt to add a column that already exists.
	ErrColumnExists = errors.New("column already exists")

	// ErrLengthMismatch indicates a column whose length differs from the row count.
	ErrLengthMismatch = errors.New("column length does not match row count")
)

// Scale records the z-score parameters applied to one column.
type Scale struct {
	Column string
	Mean   float64
	Std    float64
}

// Table is an ordered set of float64 columns over a fixed set of rows.
//
// Rows are identified by a stable integer identity. Identities are assigned
// once when the data is loaded and survive every transformation.
//
// Thread Safety:
//
//	Table is immutable and safe for concurrent use.
type Table struct {
	columns []string
	data    map[string][]float64
	index   []int
	pos     map[int]int
	scales  []Scale
}

// New builds a table from column names and column-major data.
//
// Inputs:
//
//	columns - Column names in order. Must be unique.
//	data - One slice per column, all of equal length.
//
// Outputs:
//
//	*Table - Table with row identities 0..n-1.
//	error - Non-nil if names repeat or lengths differ.
func New(columns []string, data [][]float64) (*Table, error) {
	if len(columns) != len(data) {
		return nil, fmt.Errorf("%w: %d names for %d columns", ErrLengthMismatch, len(columns), len(data))
	}
	n := 0
	if len(data) > 0 {
		n = len(data[0])
	}
	t := &Table{
		columns: make([]string, 0, len(columns)),
		data:    make(map[string][]float64, len(columns)),
	}
	for i, name := range columns {
		if _, ok := t.data[name]; ok {
			return nil, fmt.Errorf("%w: %s", ErrColumnExists, name)
		}
		if len(data[i]) != n {
			return nil, fmt.Errorf("%w: %s has %d values, want %d", ErrLengthMismatch, name, len(data[i]), n)
		}
		col := make([]float64, n)
		copy(col, data[i])
		t.columns = append(t.columns, name)
		t.data[name] = col
	}
	t.index = make([]int, n)
	t.pos = make(map[int]int, n)
	for i := range t.index {
		t.index[i] = i
		t.pos[i] = i
	}
	return t, nil
}

// Columns returns the column names in order.
func (t *Table) Columns() []string {
	out := make([]string, len(t.columns))
	copy(out, t.columns)
	return out
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.index) }

// Has reports whether the table has the named column.
func (t *Table) Has(name string) bool {
	_, ok := t.data[name]
	return ok
}

// Column returns a copy of the named column.
func (t *Table) Column(name string) ([]float64, bool) {
	col, ok := t.data[name]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(col))
	copy(out, col)
	return out, true
}

// At returns the value of column name at row identity id.
func (t *Table) At(name string, id int) (float64, error) {
	col, ok := t.data[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	p, ok := t.pos[id]
	if !ok {
		return 0, fmt.Errorf("row %d not in table", id)
	}
	return col[p], nil
}

// Index returns the row identities in row order.
func (t *Table) Index() []int {
	out := make([]int, len(t.index))
	copy(out, t.index)
	return out
}

// Contains reports whether id is a row identity of the table.
func (t *Table) Contains(id int) bool {
	_, ok := t.pos[id]
	return ok
}

// Scales returns the normalization parameters recorded on the table.
func (t *Table) Scales() []Scale {
	out := make([]Scale, len(t.scales))
	copy(out, t.scales)
	return out
}

// WithColumn returns a table with name appended.
func (t *Table) WithColumn(name string, values []float64) (*Table, error) {
	if t.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrColumnExists, name)
	}
	if len(values) != t.Len() {
		return nil, fmt.Errorf("%w: %s has %d values, want %d", ErrLengthMismatch, name, len(values), t.Len())
	}
	out := t.clone()
	col := make([]float64, len(values))
	copy(col, values)
	out.columns = append(out.columns, name)
	out.data[name] = col
	return out, nil
}

// Replaced returns a table with the values of an existing column swapped.
func (t *Table) Replaced(name string, values []float64) (*Table, error) {
	if !t.Has(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, name)
	}
	if len(values) != t.Len() {
		return nil, fmt.Errorf("%w: %s has %d values, want %d", ErrLengthMismatch, name, len(values), t.Len())
	}
	out := t.clone()
	col := make([]float64, len(values))
	copy(col, values)
	out.data[name] = col
	return out, nil
}

// Renamed returns a table with column from renamed to to, keeping its position.
func (t *Table) Renamed(from, to string) (*Table, error) {
	if !t.Has(from) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownColumn, from)
	}
	if from == to {
		return t, nil
	}
	if t.Has(to) {
		return nil, fmt.Errorf("%w: %s", ErrColumnExists, to)
	}
	out := t.clone()
	for i, c := range out.columns {
		if c == from {
			out.columns[i] = to
		}
	}
	out.data[to] = out.data[from]
	delete(out.data, from)
	for i := range out.scales {
		if out.scales[i].Column == from {
			out.scales[i].Column = to
		}
	}
	return out, nil
}

// WithScales returns a table carrying the given normalization record.
func (t *Table) WithScales(scales []Scale) *Table {
	out := t.clone()
	out.scales = make([]Scale, len(scales))
	copy(out.scales, scales)
	return out
}

// clone copies the table header. Column slices are shared and never written.
func (t *Table) clone() *Table {
	out := &Table{
		columns: make([]string, len(t.columns)),
		data:    make(map[string][]float64, len(t.data)+1),
		index:   t.index,
		pos:     t.pos,
		scales:  make([]Scale, len(t.scales)),
	}
	copy(out.columns, t.columns)
	copy(out.scales, t.scales)
	for k, v := range t.data {
		out.data[k] = v
	}
	return out
}
