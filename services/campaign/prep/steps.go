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
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/stat"

	"github.com/AleutianAI/regsearch/services/campaign/table"
)

// Load reads a CSV file with a header row into a table.
//
// Every column not listed in Skip must be numeric.
type Load struct {
	Path string
	Skip []string
}

func (Load) Name() string { return "load" }

func (l Load) Process(_ context.Context, in *table.Table) (*table.Table, error) {
	if in != nil {
		return nil, ErrNotFirst
	}
	f, err := os.Open(l.Path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", l.Path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("%s: %w", l.Path, ErrEmptyInput)
	}

	header := records[0]
	var names []string
	var keep []int
	for i, h := range header {
		h = strings.TrimSpace(h)
		if slices.Contains(l.Skip, h) {
			continue
		}
		names = append(names, h)
		keep = append(keep, i)
	}

	data := make([][]float64, len(keep))
	for c := range data {
		data[c] = make([]float64, len(records)-1)
	}
	for r, rec := range records[1:] {
		for c, src := range keep {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[src]), 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d column %q: %w", l.Path, r+2, names[c], err)
			}
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("%s line %d column %q: %w: %s", l.Path, r+2, names[c], ErrNonFinite, rec[src])
			}
			data[c][r] = v
		}
	}
	return table.New(names, data)
}

// ColumnRename maps one source column to a new name.
type ColumnRename struct {
	From string
	To   string
}

// Rename renames columns.
//
// With IgnoreMissing set, absent source columns are skipped. Inference uses
// this for the target column, which is usually not in the input.
type Rename struct {
	Pairs         []ColumnRename
	IgnoreMissing bool
}

func (Rename) Name() string { return "rename" }

func (s Rename) Process(_ context.Context, in *table.Table) (*table.Table, error) {
	if in == nil {
		return nil, ErrNoTable
	}
	out := in
	for _, p := range s.Pairs {
		if !out.Has(p.From) && s.IgnoreMissing {
			continue
		}
		next, err := out.Renamed(p.From, p.To)
		if err != nil {
			return nil, err
		}
		out = next
	}
	return out, nil
}

// Invert adds inverse_<col> = 1/col for every listed column.
type Invert struct {
	Columns       []string
	IgnoreMissing bool
}

func (Invert) Name() string { return "inversion" }

func (s Invert) Process(_ context.Context, in *table.Table) (*table.Table, error) {
	if in == nil {
		return nil, ErrNoTable
	}
	out := in
	for _, name := range s.Columns {
		col, ok := in.Column(name)
		if !ok {
			if s.IgnoreMissing {
				continue
			}
			return nil, fmt.Errorf("%w: %s", table.ErrUnknownColumn, name)
		}
		for i, v := range col {
			if v == 0 {
				return nil, fmt.Errorf("%s row %d: %w", name, i, ErrDivideByZero)
			}
			col[i] = 1 / v
		}
		next, err := out.WithColumn("inverse_"+name, col)
		if err != nil {
			return nil, err
		}
		out = next
	}
	return out, nil
}

// Ernest column names.
const (
	ErnestCores    = "cores"
	ErnestDatasize = "datasize"
)

// Ernest adds the features of the Ernest performance model: datasize per
// core and the logarithm of the core count.
type Ernest struct{}

func (Ernest) Name() string { return "ernest" }

func (Ernest) Process(_ context.Context, in *table.Table) (*table.Table, error) {
	if in == nil {
		return nil, ErrNoTable
	}
	cores, ok := in.Column(ErnestCores)
	if !ok {
		return nil, fmt.Errorf("%w: %s", table.ErrUnknownColumn, ErnestCores)
	}
	size, ok := in.Column(ErnestDatasize)
	if !ok {
		return nil, fmt.Errorf("%w: %s", table.ErrUnknownColumn, ErnestDatasize)
	}
	perCore := make([]float64, len(cores))
	logCores := make([]float64, len(cores))
	for i, c := range cores {
		if c <= 0 {
			return nil, fmt.Errorf("%s row %d: non-positive core count %v", ErnestCores, i, c)
		}
		perCore[i] = size[i] / c
		logCores[i] = math.Log(c)
	}
	out, err := in.WithColumn("ernest_datasize_per_core", perCore)
	if err != nil {
		return nil, err
	}
	return out.WithColumn("ernest_log_cores", logCores)
}

// Product adds every product of degree 2..MaxDegree over the non-target
// columns. With InteractionsOnly, a column never multiplies itself.
type Product struct {
	MaxDegree        int
	InteractionsOnly bool
	Target           string
}

func (Product) Name() string { return "product" }

func (s Product) Process(_ context.Context, in *table.Table) (*table.Table, error) {
	if in == nil {
		return nil, ErrNoTable
	}
	var base []string
	for _, c := range in.Columns() {
		if c != s.Target {
			base = append(base, c)
		}
	}
	cols := make([][]float64, len(base))
	for i, c := range base {
		cols[i], _ = in.Column(c)
	}

	out := in
	for degree := 2; degree <= s.MaxDegree; degree++ {
		for _, combo := range combinations(len(base), degree, !s.InteractionsOnly) {
			names := make([]string, len(combo))
			values := make([]float64, in.Len())
			for r := range values {
				values[r] = 1
			}
			for k, idx := range combo {
				names[k] = base[idx]
				for r := range values {
					values[r] *= cols[idx][r]
				}
			}
			next, err := out.WithColumn(strings.Join(names, "*"), values)
			if err != nil {
				return nil, err
			}
			out = next
		}
	}
	return out, nil
}

// combinations returns the non-decreasing (or strictly increasing) index
// tuples of length k over n items, in lexicographic order.
func combinations(n, k int, repeat bool) [][]int {
	var out [][]int
	cur := make([]int, 0, k)
	var rec func(start int)
	rec = func(start int) {
		if len(cur) == k {
			out = append(out, slices.Clone(cur))
			return
		}
		for i := start; i < n; i++ {
			cur = append(cur, i)
			if repeat {
				rec(i)
			} else {
				rec(i + 1)
			}
			cur = cur[:len(cur)-1]
		}
	}
	rec(0)
	return out
}

// Normalize z-scores every non-target column.
//
// When Scales is empty the mean and standard deviation are computed from the
// table and recorded on the output. Otherwise the given scales are applied
// unchanged, which is how inference reproduces the training transform.
// A zero standard deviation maps the column to zero.
type Normalize struct {
	Target        string
	Scales        []table.Scale
	IgnoreMissing bool
}

func (Normalize) Name() string { return "normalization" }

func (s Normalize) Process(_ context.Context, in *table.Table) (*table.Table, error) {
	if in == nil {
		return nil, ErrNoTable
	}
	scales := s.Scales
	if len(scales) == 0 {
		for _, c := range in.Columns() {
			if c == s.Target {
				continue
			}
			col, _ := in.Column(c)
			mean, std := meanStd(col)
			scales = append(scales, table.Scale{Column: c, Mean: mean, Std: std})
		}
	}

	out := in
	var applied []table.Scale
	for _, sc := range scales {
		col, ok := in.Column(sc.Column)
		if !ok {
			if s.IgnoreMissing {
				continue
			}
			return nil, fmt.Errorf("%w: %s", table.ErrUnknownColumn, sc.Column)
		}
		for i, v := range col {
			if sc.Std == 0 {
				col[i] = 0
			} else {
				col[i] = (v - sc.Mean) / sc.Std
			}
		}
		next, err := out.Replaced(sc.Column, col)
		if err != nil {
			return nil, err
		}
		out = next
		applied = append(applied, sc)
	}
	return out.WithScales(applied), nil
}

// meanStd returns the mean and population standard deviation.
func meanStd(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	return stat.PopMeanStdDev(xs, nil)
}
