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
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/AleutianAI/regsearch/services/campaign/checkpoint"
	"github.com/AleutianAI/regsearch/services/campaign/config"
	"github.com/AleutianAI/regsearch/services/campaign/dataset"
	"github.com/AleutianAI/regsearch/services/campaign/predictor"
	"github.com/AleutianAI/regsearch/services/campaign/prep"
	"github.com/AleutianAI/regsearch/services/campaign/runner"
)

func TestExitCodeFor(t *testing.T) {
	cfgErr := &config.ConfigurationError{Field: "general.metric", Reason: "unknown"}
	conflictErr := &config.ConfigurationError{Field: "output", Reason: "other campaign", Err: runner.ErrOutputConflict}

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"unexpected", errors.New("boom"), ExitUnexpected},
		{"configuration", cfgErr, ExitConfig},
		{"wrapped configuration", fmt.Errorf("load: %w", cfgErr), ExitConfig},
		{"output conflict", conflictErr, ExitConflict},
		{"unit failures", &runner.UnitFailuresError{Failures: []runner.UnitFailure{{Unit: "LRRidge", Err: cfgErr}}}, ExitUnitsFailed},
		{"step error", &prep.StepError{Step: "load", Err: errors.New("no such file")}, ExitData},
		{"schema error", &dataset.SchemaError{Field: "target", Reason: "missing"}, ExitData},
		{"missing feature", fmt.Errorf("%w: x1", predictor.ErrMissingFeature), ExitData},
		{"checkpoint io", fmt.Errorf("save: %w", &checkpoint.IOError{Op: "write", Path: "checkpoint.json", Err: errors.New("disk full")}), ExitCheckpoint},
		{"checkpoint corrupt", fmt.Errorf("%w: checksum mismatch", checkpoint.ErrCorrupt), ExitCheckpoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCodeFor(tt.err))
		})
	}
}
