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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/regsearch/services/campaign/estimator"
	"github.com/AleutianAI/regsearch/services/campaign/rng"
)

func TestParseDistribution(t *testing.T) {
	tests := []struct {
		in      string
		ok      bool
		wantErr bool
		want    Distribution
	}{
		{in: "uniform(0, 1)", ok: true, want: Distribution{Kind: Uniform, Low: 0, High: 1}},
		{in: "loguniform(0.01,1)", ok: true, want: Distribution{Kind: LogUniform, Low: 0.01, High: 1}},
		{in: "quniform(1,10,2)", ok: true, want: Distribution{Kind: QUniform, Low: 1, High: 10, Q: 2}},
		{in: "randint(1,5)", ok: true, want: Distribution{Kind: RandInt, Low: 1, High: 5}},
		{in: "auto", ok: false},
		{in: "normal(0,1)", ok: false},
		{in: "uniform(1)", ok: true, wantErr: true},
		{in: "uniform(2,1)", ok: true, wantErr: true},
		{in: "loguniform(0,1)", ok: true, wantErr: true},
		{in: "quniform(0,1,0)", ok: true, wantErr: true},
		{in: "randint(0.5,3)", ok: true, wantErr: true},
		{in: "uniform(a,b)", ok: true, wantErr: true},
		{in: "uniform(NaN,1)", ok: true, wantErr: true},
		{in: "uniform(0,NaN)", ok: true, wantErr: true},
		{in: "loguniform(1,Inf)", ok: true, wantErr: true},
		{in: "quniform(0,1,NaN)", ok: true, wantErr: true},
		{in: "uniform(-1e308,1e308)", ok: true, wantErr: true},
		{in: "randint(0,1e30)", ok: true, wantErr: true},
		{in: "randint(-1e16,0)", ok: true, wantErr: true},
		{in: "randint(0,9007199254740992)", ok: true, want: Distribution{Kind: RandInt, Low: 0, High: 1 << 53}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			d, ok, err := ParseDistribution(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidDistribution)
				return
			}
			require.NoError(t, err)
			if ok {
				assert.Equal(t, tt.want, d)
			}
		})
	}
}

func TestNewDomain(t *testing.T) {
	d, err := NewDomain(map[string][]estimator.Value{
		"max_features": {estimator.Text("auto"), estimator.Text("sqrt")},
		"alpha":        {estimator.Text("loguniform(0.01,1)")},
	})
	require.NoError(t, err)
	require.Len(t, d, 2)
	assert.Equal(t, "alpha", d[0].Name)
	assert.NotNil(t, d[0].Dist)
	assert.Equal(t, "max_features", d[1].Name)
	assert.Len(t, d[1].Values, 2)
	assert.False(t, d.Enumerable())

	_, err = NewDomain(map[string][]estimator.Value{
		"alpha": {estimator.Text("uniform(0,1)"), estimator.Number(2)},
	})
	assert.ErrorIs(t, err, ErrInvalidDistribution)
}

func TestDomain_Grid(t *testing.T) {
	d, err := NewDomain(map[string][]estimator.Value{
		"b": values(1, 2),
		"a": {estimator.Text("x"), estimator.Text("y")},
	})
	require.NoError(t, err)
	grid, err := d.Grid("T")
	require.NoError(t, err)

	var got []string
	for _, a := range grid {
		got = append(got, a.String())
	}
	assert.Equal(t, []string{"a=x,b=1", "a=x,b=2", "a=y,b=1", "a=y,b=2"}, got)
}

func TestDomain_Sample(t *testing.T) {
	d, err := NewDomain(map[string][]estimator.Value{
		"alpha": {estimator.Text("loguniform(0.01,1)")},
		"depth": {estimator.Text("randint(2,4)")},
		"q":     {estimator.Text("quniform(0,10,5)")},
	})
	require.NoError(t, err)

	s1, err := d.Sample("T", rng.New(11), 50)
	require.NoError(t, err)
	s2, err := d.Sample("T", rng.New(11), 50)
	require.NoError(t, err)
	assert.Equal(t, s1, s2)

	for _, a := range s1 {
		alpha, _ := a.Get("alpha")
		assert.GreaterOrEqual(t, alpha.Num, 0.01)
		assert.Less(t, alpha.Num, 1.0)
		depth, _ := a.Get("depth")
		assert.Contains(t, []float64{2, 3}, depth.Num)
		q, _ := a.Get("q")
		assert.Contains(t, []float64{0, 5, 10}, q.Num)
	}

	_, err = d.Sample("T", rng.New(1), 0)
	var empty *EmptyDomainError
	assert.ErrorAs(t, err, &empty)
}

func TestDomain_SampleWidestRandInt(t *testing.T) {
	d, err := NewDomain(map[string][]estimator.Value{
		"n": {estimator.Text("randint(-9007199254740992,9007199254740992)")},
	})
	require.NoError(t, err)

	var s []estimator.Assignment
	require.NotPanics(t, func() {
		s, err = d.Sample("T", rng.New(3), 20)
	})
	require.NoError(t, err)
	for _, a := range s {
		n, _ := a.Get("n")
		assert.Equal(t, n.Num, float64(int64(n.Num)))
		assert.Less(t, n.Num, float64(1<<53))
		assert.GreaterOrEqual(t, n.Num, -float64(1<<53))
	}
}
