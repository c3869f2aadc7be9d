// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package predictor

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/regsearch/services/campaign/estimator"
	"github.com/AleutianAI/regsearch/services/campaign/prep"
	"github.com/AleutianAI/regsearch/services/campaign/table"
)

// fitArtifact trains y = 2*x on normalized data, as the runner would.
func fitArtifact(t *testing.T) *Artifact {
	t.Helper()
	recipe := prep.NewRecipe("y", map[string]string{"raw": "x"}, nil)
	recipe.Normalize = true

	tbl, err := table.New([]string{"raw", "y"}, [][]float64{{1, 2, 3, 4, 5}, {2, 4, 6, 8, 10}})
	require.NoError(t, err)
	steps := prep.Build(stepFunc{tbl}, recipe, false)
	prepared, err := prep.Run(context.Background(), steps, nil)
	require.NoError(t, err)

	x, _ := prepared.Column("x")
	y, _ := prepared.Column("y")
	X := make([][]float64, len(x))
	for i, v := range x {
		X[i] = []float64{v}
	}
	hp := estimator.Assignment{{Name: "alpha", Value: estimator.Number(1e-12)}}
	model, err := estimator.Ridge{}.Fit(X, y, hp)
	require.NoError(t, err)
	blob, err := model.MarshalBinary()
	require.NoError(t, err)

	return &Artifact{
		FormatVersion:   FormatVersion,
		CampaignID:      "c1",
		Technique:       "LRRidge",
		Target:          "y",
		Features:        []string{"x"},
		Hyperparameters: hp,
		Metric:          string(estimator.MAPE),
		Recipe:          recipe.WithScales(prepared.Scales()),
		Model:           blob,
	}
}

type stepFunc struct{ tbl *table.Table }

func (stepFunc) Name() string { return "load" }
func (s stepFunc) Process(context.Context, *table.Table) (*table.Table, error) {
	return s.tbl, nil
}

func TestArtifact_EncodeIsDeterministic(t *testing.T) {
	a := fitArtifact(t)
	b1, err := a.Encode()
	require.NoError(t, err)
	b2, err := fitArtifact(t).Encode()
	require.NoError(t, err)
	assert.Equal(t, b1, b2)

	back, err := Decode(b1)
	require.NoError(t, err)
	assert.Equal(t, a, back)
}

func TestDecode_RejectsOtherFormat(t *testing.T) {
	a := fitArtifact(t)
	a.FormatVersion = 99
	data, err := a.Encode()
	require.NoError(t, err)
	_, err = Decode(data)
	assert.ErrorIs(t, err, ErrFormat)
}

func TestPredictFile(t *testing.T) {
	a := fitArtifact(t)
	dir := t.TempDir()
	data, err := a.Encode()
	require.NoError(t, err)
	artifactPath := filepath.Join(dir, "LRRidge.predictor")
	require.NoError(t, os.WriteFile(artifactPath, data, 0o644))

	p, err := Open(artifactPath, nil, nil)
	require.NoError(t, err)

	// without ground truth
	input := filepath.Join(dir, "new.csv")
	require.NoError(t, os.WriteFile(input, []byte("raw\n10\n6\n"), 0o644))
	res, err := p.PredictFile(context.Background(), input)
	require.NoError(t, err)
	assert.False(t, res.HasTarget)
	require.Len(t, res.Predictions, 2)
	assert.InDelta(t, 20, res.Predictions[0], 1e-6)
	assert.InDelta(t, 12, res.Predictions[1], 1e-6)

	// with ground truth
	require.NoError(t, os.WriteFile(input, []byte("raw,y\n10,20\n6,12\n"), 0o644))
	res, err = p.PredictFile(context.Background(), input)
	require.NoError(t, err)
	assert.True(t, res.HasTarget)
	assert.InDelta(t, 0, res.Error, 1e-6)
	assert.InDelta(t, 1, res.R2, 1e-6)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, res))
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, "row,prediction,actual", lines[0])
	assert.Len(t, lines, 3)
}

func TestPredictTable_MissingFeature(t *testing.T) {
	p, err := New(fitArtifact(t), nil, nil)
	require.NoError(t, err)
	tbl, err := table.New([]string{"other"}, [][]float64{{1}})
	require.NoError(t, err)
	_, err = p.PredictTable(tbl)
	assert.ErrorIs(t, err, ErrMissingFeature)
}
