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

	"github.com/AleutianAI/regsearch/services/campaign/checkpoint"
	"github.com/AleutianAI/regsearch/services/campaign/config"
	"github.com/AleutianAI/regsearch/services/campaign/dataset"
	"github.com/AleutianAI/regsearch/services/campaign/predictor"
	"github.com/AleutianAI/regsearch/services/campaign/prep"
	"github.com/AleutianAI/regsearch/services/campaign/runner"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitUnexpected  = 1
	ExitConfig      = 2
	ExitConflict    = 3
	ExitUnitsFailed = 4
	ExitData        = 5
	ExitCheckpoint  = 6
)

// exitCodeFor maps an error returned by a command to the process exit code.
//
// # Description
//
// Unit failures are checked first because their causes are unwrapped
// alongside them. Output conflicts are configuration errors and are
// checked before the generic configuration case.
//
// # Inputs
//
//   - err: The command error, possibly nil.
//
// # Outputs
//
//   - int: One of the Exit* constants.
func exitCodeFor(err error) int {
	if err == nil {
		return ExitOK
	}

	var unitsErr *runner.UnitFailuresError
	if errors.As(err, &unitsErr) {
		return ExitUnitsFailed
	}
	if errors.Is(err, runner.ErrOutputConflict) {
		return ExitConflict
	}
	var cfgErr *config.ConfigurationError
	if errors.As(err, &cfgErr) {
		return ExitConfig
	}

	var stepErr *prep.StepError
	var schemaErr *dataset.SchemaError
	if errors.As(err, &stepErr) || errors.As(err, &schemaErr) || errors.Is(err, predictor.ErrMissingFeature) {
		return ExitData
	}

	var ioErr *checkpoint.IOError
	if errors.As(err, &ioErr) || errors.Is(err, checkpoint.ErrCorrupt) {
		return ExitCheckpoint
	}
	return ExitUnexpected
}
