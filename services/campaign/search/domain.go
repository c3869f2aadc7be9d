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
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/AleutianAI/regsearch/services/campaign/estimator"
)

// Distribution kinds.
const (
	Uniform    = "uniform"
	LogUniform = "loguniform"
	QUniform   = "quniform"
	RandInt    = "randint"
)

// maxRandInt bounds randint arguments to integers exactly representable
// as float64.
const maxRandInt = 1 << 53

var distPattern = regexp.MustCompile(`^\s*(uniform|loguniform|quniform|randint)\s*\((.*)\)\s*$`)

// Distribution is a parametric hyperparameter range.
//
//	uniform(a,b)      real in [a,b)
//	loguniform(a,b)   real in [a,b) with uniform logarithm, a > 0
//	quniform(a,b,q)   uniform(a,b) rounded to a multiple of q
//	randint(a,b)      integer in [a,b)
type Distribution struct {
	Kind string
	Low  float64
	High float64
	Q    float64
}

func (d Distribution) String() string {
	if d.Kind == QUniform {
		return fmt.Sprintf("%s(%g,%g,%g)", d.Kind, d.Low, d.High, d.Q)
	}
	return fmt.Sprintf("%s(%g,%g)", d.Kind, d.Low, d.High)
}

// ParseDistribution parses a distribution expression. ok is false when s
// does not use distribution syntax at all.
func ParseDistribution(s string) (d Distribution, ok bool, err error) {
	m := distPattern.FindStringSubmatch(s)
	if m == nil {
		return d, false, nil
	}
	d.Kind = m[1]
	var args []float64
	for _, a := range strings.Split(m[2], ",") {
		f, err := strconv.ParseFloat(strings.TrimSpace(a), 64)
		if err != nil {
			return d, true, fmt.Errorf("%w: %q: %v", ErrInvalidDistribution, s, err)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return d, true, fmt.Errorf("%w: %q: arguments must be finite", ErrInvalidDistribution, s)
		}
		args = append(args, f)
	}
	want := 2
	if d.Kind == QUniform {
		want = 3
	}
	if len(args) != want {
		return d, true, fmt.Errorf("%w: %q takes %d arguments", ErrInvalidDistribution, s, want)
	}
	d.Low, d.High = args[0], args[1]
	if want == 3 {
		d.Q = args[2]
	}
	switch {
	case d.Low >= d.High:
		return d, true, fmt.Errorf("%w: %q: low must be below high", ErrInvalidDistribution, s)
	case math.IsInf(d.High-d.Low, 0):
		return d, true, fmt.Errorf("%w: %q: range is too wide", ErrInvalidDistribution, s)
	case d.Kind == LogUniform && d.Low <= 0:
		return d, true, fmt.Errorf("%w: %q: bounds must be positive", ErrInvalidDistribution, s)
	case d.Kind == QUniform && d.Q <= 0:
		return d, true, fmt.Errorf("%w: %q: q must be positive", ErrInvalidDistribution, s)
	case d.Kind == RandInt && (d.Low != math.Trunc(d.Low) || d.High != math.Trunc(d.High)):
		return d, true, fmt.Errorf("%w: %q: bounds must be integers", ErrInvalidDistribution, s)
	case d.Kind == RandInt && (math.Abs(d.Low) > maxRandInt || math.Abs(d.High) > maxRandInt):
		return d, true, fmt.Errorf("%w: %q: bounds must be within ±2^53", ErrInvalidDistribution, s)
	}
	return d, true, nil
}

func (d Distribution) draw(r *rand.Rand) float64 {
	switch d.Kind {
	case LogUniform:
		lo, hi := math.Log(d.Low), math.Log(d.High)
		return math.Exp(lo + r.Float64()*(hi-lo))
	case QUniform:
		v := d.Low + r.Float64()*(d.High-d.Low)
		return math.Round(v/d.Q) * d.Q
	case RandInt:
		return d.Low + float64(r.Int64N(int64(d.High-d.Low)))
	default:
		return d.Low + r.Float64()*(d.High-d.Low)
	}
}

// Dimension is one hyperparameter's search range: either an enumerated
// value list or a single distribution.
type Dimension struct {
	Name   string
	Values []estimator.Value
	Dist   *Distribution
}

// Domain is the set of dimensions, sorted by name.
type Domain []Dimension

// NewDomain builds a domain from configured value lists.
//
// A list holding exactly one distribution expression becomes a sampled
// dimension. Distributions mixed with other values are rejected.
func NewDomain(raw map[string][]estimator.Value) (Domain, error) {
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	slices.Sort(names)

	d := make(Domain, 0, len(names))
	for _, name := range names {
		values := raw[name]
		dim := Dimension{Name: name}
		for _, v := range values {
			if !v.IsStr {
				continue
			}
			dist, ok, err := ParseDistribution(v.Str)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			if ok {
				if len(values) != 1 {
					return nil, fmt.Errorf("%s: %w: a distribution must be the only value", name, ErrInvalidDistribution)
				}
				dim.Dist = &dist
			}
		}
		if dim.Dist == nil {
			dim.Values = slices.Clone(values)
		}
		d = append(d, dim)
	}
	return d, nil
}

// Enumerable reports whether every dimension is a value list.
func (d Domain) Enumerable() bool {
	for _, dim := range d {
		if dim.Dist != nil {
			return false
		}
	}
	return true
}

func (d Domain) checkEmpty(technique string) error {
	if len(d) == 0 {
		return &EmptyDomainError{Technique: technique, Reason: "no hyperparameters configured"}
	}
	for _, dim := range d {
		if dim.Dist == nil && len(dim.Values) == 0 {
			return &EmptyDomainError{Technique: technique, Reason: fmt.Sprintf("%s has no values", dim.Name)}
		}
	}
	return nil
}

// Grid enumerates the Cartesian product of the value lists. The last
// dimension varies fastest.
func (d Domain) Grid(technique string) ([]estimator.Assignment, error) {
	if err := d.checkEmpty(technique); err != nil {
		return nil, err
	}
	if !d.Enumerable() {
		return nil, ErrNotEnumerable
	}
	out := []estimator.Assignment{{}}
	for _, dim := range d {
		next := make([]estimator.Assignment, 0, len(out)*len(dim.Values))
		for _, prefix := range out {
			for _, v := range dim.Values {
				a := append(prefix.Clone(), estimator.Param{Name: dim.Name, Value: v})
				next = append(next, a)
			}
		}
		out = next
	}
	return out, nil
}

// Sample draws n assignments from r. Enumerated dimensions are drawn
// uniformly from their values.
func (d Domain) Sample(technique string, r *rand.Rand, n int) ([]estimator.Assignment, error) {
	if err := d.checkEmpty(technique); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, &EmptyDomainError{Technique: technique, Reason: "max_evals is zero"}
	}
	out := make([]estimator.Assignment, n)
	for i := range out {
		a := make(estimator.Assignment, len(d))
		for j, dim := range d {
			var v estimator.Value
			if dim.Dist != nil {
				v = estimator.Number(dim.Dist.draw(r))
			} else {
				v = dim.Values[r.IntN(len(dim.Values))]
			}
			a[j] = estimator.Param{Name: dim.Name, Value: v}
		}
		out[i] = a
	}
	return out, nil
}
