// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.


package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/regsearch/services/campaign/checkpoint"
	"github.com/AleutianAI/regsearch/services/campaign/publish"
	"github.com/AleutianAI/regsearch/services/campaign/runner"
)

type cliResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, setup func(*app), args ...string) cliResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr)
	if setup != nil {
		setup(a)
	}
	code := execute(context.Background(), args, a)
	return cliResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

// writeCampaign writes y = 3*x1 + 2*x2 + 5 and a configuration that
// searches LRRidge on it. extra is appended to the general section.
func writeCampaign(t *testing.T, extra string) string {
	t.Helper()
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString("x1,x2,y\n")
	for i := 0; i < 60; i++ {
		x1, x2 := float64(i), float64((i*7)%13)
		fmt.Fprintf(&b, "%g,%g,%g\n", x1, x2, 3*x1+2*x2+5)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "data.csv"), []byte(b.String()), 0o600))

	cfg := fmt.Sprintf(`general:
  seed: 3
  y: y
  techniques: [LRRidge]
  validation: {scheme: holdout, hold_out_ratio: 0.2}
%s
data_preparation:
  input_path: data.csv
techniques:
  LRRidge: {alpha: [0.01, 1]}
logging: {level: warn}
`, extra)
	path := filepath.Join(dir, "campaign.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0o600))
	return path
}

func TestRun_CompletesThenNoop(t *testing.T) {
	cfg := writeCampaign(t, "")
	out := filepath.Join(t.TempDir(), "out")

	res := runCLI(t, nil, "run", "-c", cfg, "-o", out)
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "LRRidge")
	assert.Contains(t, res.stdout, "campaign complete")
	assert.FileExists(t, filepath.Join(out, checkpoint.DoneFile))
	assert.FileExists(t, filepath.Join(out, checkpoint.ArtifactsDir, "LRRidge"+checkpoint.ArtifactSuffix))

	res = runCLI(t, nil, "run", "-c", cfg, "-o", out)
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "already complete")
}

func TestRun_RejectsRunNumBeforeOutput(t *testing.T) {
	cfg := writeCampaign(t, "  run_num: 2")
	out := filepath.Join(t.TempDir(), "out")

	res := runCLI(t, nil, "run", "-c", cfg, "-o", out)

	assert.Equal(t, ExitConfig, res.code)
	assert.Contains(t, res.stderr, "run_num")
	assert.NoDirExists(t, out)
}

func TestRun_SeedOverrideChangesCampaign(t *testing.T) {
	cfg := writeCampaign(t, "")
	out := filepath.Join(t.TempDir(), "out")

	require.Equal(t, ExitOK, runCLI(t, nil, "run", "-c", cfg, "-o", out).code)

	res := runCLI(t, nil, "run", "-c", cfg, "-o", out, "--seed", "99")
	assert.Equal(t, ExitConflict, res.code)
}

func TestRun_UnknownEntryIsConflict(t *testing.T) {
	cfg := writeCampaign(t, "")
	out := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(out, "notes.txt"), []byte("mine"), 0o600))

	res := runCLI(t, nil, "run", "-c", cfg, "-o", out)

	assert.Equal(t, ExitConflict, res.code)
	assert.NoFileExists(t, filepath.Join(out, checkpoint.ConfigFile))
}

func TestRun_MissingInputIsDataError(t *testing.T) {
	cfg := writeCampaign(t, "")
	require.NoError(t, os.Remove(filepath.Join(filepath.Dir(cfg), "data.csv")))
	out := filepath.Join(t.TempDir(), "out")

	res := runCLI(t, nil, "run", "-c", cfg, "-o", out)

	assert.Equal(t, ExitData, res.code)
	assert.NoDirExists(t, out)
}

func TestRun_InterruptedThenResumed(t *testing.T) {
	cfg := writeCampaign(t, "")
	out := filepath.Join(t.TempDir(), "out")
	crash := errors.New("simulated crash")

	res := runCLI(t, func(a *app) {
		a.runOptions = []runner.Option{runner.WithHook(func(p runner.Point, unit string) error {
			if p == runner.PointArtifactWritten {
				return crash
			}
			return nil
		})}
	}, "run", "-c", cfg, "-o", out)
	assert.Equal(t, ExitUnexpected, res.code)
	assert.NoFileExists(t, filepath.Join(out, checkpoint.DoneFile))

	res = runCLI(t, nil, "status", "-o", out)
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "in_progress")
	assert.Contains(t, res.stdout, "running or interrupted")

	res = runCLI(t, nil, "run", "-c", cfg, "-o", out)
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.FileExists(t, filepath.Join(out, checkpoint.DoneFile))
}

func TestValidate(t *testing.T) {
	res := runCLI(t, nil, "validate", "-c", writeCampaign(t, ""))
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "configuration valid")
	assert.Contains(t, res.stdout, "LRRidge")

	res = runCLI(t, nil, "validate", "-c", writeCampaign(t, "  metric: r2"))
	assert.Equal(t, ExitConfig, res.code)
	assert.Contains(t, res.stderr, "metric")
}

func TestValidate_MissingFile(t *testing.T) {
	res := runCLI(t, nil, "validate", "-c", filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Equal(t, ExitConfig, res.code)
}

func TestStatus(t *testing.T) {
	cfg := writeCampaign(t, "")
	out := filepath.Join(t.TempDir(), "out")
	require.Equal(t, ExitOK, runCLI(t, nil, "run", "-c", cfg, "-o", out).code)

	res := runCLI(t, nil, "status", "-o", out)
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "complete")
	assert.Contains(t, res.stdout, "LRRidge")
	assert.Contains(t, res.stdout, "1/1")
	assert.Contains(t, res.stdout, "done ")

	res = runCLI(t, nil, "status", "-o", out, "--follow", "--timeout", "5s")
	assert.Equal(t, ExitOK, res.code, res.stderr)
}

func TestStatus_NoCampaign(t *testing.T) {
	res := runCLI(t, nil, "status", "-o", t.TempDir())
	assert.Equal(t, ExitUnexpected, res.code)
	assert.Contains(t, res.stderr, checkpoint.ErrNoCheckpoint.Error())
}

func TestPredict(t *testing.T) {
	cfg := writeCampaign(t, "")
	out := filepath.Join(t.TempDir(), "out")
	require.Equal(t, ExitOK, runCLI(t, nil, "run", "-c", cfg, "-o", out).code)

	predDir := filepath.Join(t.TempDir(), "pred")
	artifact := filepath.Join(out, checkpoint.ArtifactsDir, "LRRidge"+checkpoint.ArtifactSuffix)
	input := filepath.Join(filepath.Dir(cfg), "data.csv")

	res := runCLI(t, nil, "predict", "-a", artifact, "-i", input, "-o", predDir)
	require.Equal(t, ExitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "wrote 60 predictions")
	assert.Contains(t, res.stdout, "mape")
	assert.Contains(t, res.stdout, "r2:")

	data, err := os.ReadFile(filepath.Join(predDir, PredictionsFile))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 61)
	assert.Equal(t, "row,prediction,actual", lines[0])
	assert.FileExists(t, filepath.Join(predDir, "mape.txt"))
}

func TestPredict_MissingFeature(t *testing.T) {
	cfg := writeCampaign(t, "")
	out := filepath.Join(t.TempDir(), "out")
	require.Equal(t, ExitOK, runCLI(t, nil, "run", "-c", cfg, "-o", out).code)

	input := filepath.Join(t.TempDir(), "partial.csv")
	require.NoError(t, os.WriteFile(input, []byte("x1\n1\n2\n"), 0o600))
	artifact := filepath.Join(out, checkpoint.ArtifactsDir, "LRRidge"+checkpoint.ArtifactSuffix)

	res := runCLI(t, nil, "predict", "-a", artifact, "-i", input, "-o", t.TempDir())
	assert.Equal(t, ExitData, res.code)
}

type memBucket struct {
	objects []string
	closed  bool
}

func (b *memBucket) Upload(_ context.Context, object string, r io.Reader) error {
	if _, err := io.Copy(io.Discard, r); err != nil {
		return err
	}
	b.objects = append(b.objects, object)
	return nil
}

func (b *memBucket) Close() error {
	b.closed = true
	return nil
}

func withBucket(b *memBucket) func(*app) {
	return func(a *app) {
		a.openBucket = func(context.Context, string, string) (publish.Bucket, io.Closer, error) {
			return b, b, nil
		}
	}
}

func TestPublish(t *testing.T) {
	cfg := writeCampaign(t, "")
	out := filepath.Join(t.TempDir(), "out")
	require.Equal(t, ExitOK, runCLI(t, nil, "run", "-c", cfg, "-o", out).code)

	bucket := &memBucket{}
	res := runCLI(t, withBucket(bucket), "publish", "-o", out, "--bucket", "models", "--prefix", "nightly")
	require.Equal(t, ExitOK, res.code, res.stderr)

	require.NotEmpty(t, bucket.objects)
	assert.Equal(t, "nightly/done", bucket.objects[len(bucket.objects)-1])
	assert.Contains(t, bucket.objects, "nightly/artifacts/LRRidge.predictor")
	assert.True(t, bucket.closed)
	assert.Contains(t, res.stdout, "gs://models/nightly")
}

func TestPublish_RequiresDone(t *testing.T) {
	bucket := &memBucket{}
	res := runCLI(t, withBucket(bucket), "publish", "-o", t.TempDir(), "--bucket", "models")

	assert.Equal(t, ExitUnexpected, res.code)
	assert.Empty(t, bucket.objects)
	assert.Contains(t, res.stderr, checkpoint.ErrNotDone.Error())
}

func TestMissingRequiredFlag(t *testing.T) {
	res := runCLI(t, nil, "run", "-c", "campaign.yaml")
	assert.Equal(t, ExitUnexpected, res.code)
	assert.Contains(t, res.stderr, "output")
}
