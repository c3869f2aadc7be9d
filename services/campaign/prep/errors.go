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
	"errors"
	"fmt"
)

var (
	// ErrNoSteps indicates an empty pipeline.
	ErrNoSteps = errors.New("pipeline has no steps")

	// ErrNilTable indicates a step that returned no table.
	ErrNilTable = errors.New("step returned nil table")

	// ErrRowCountChanged indicates a step that added or removed rows.
	ErrRowCountChanged = errors.New("step changed the row count")

	// ErrEmptyInput indicates an input file without data rows.
	ErrEmptyInput = errors.New("input has no data rows")

	// ErrNotFirst indicates a loading step that received a table.
	ErrNotFirst = errors.New("load must be the first step")

	// ErrNoTable indicates a transforming step that ran before any load.
	ErrNoTable = errors.New("step requires a loaded table")

	// ErrDivideByZero indicates a zero value in a column being inverted.
	ErrDivideByZero = errors.New("division by zero")

	// ErrNonFinite indicates a NaN or infinite input cell.
	ErrNonFinite = errors.New("value is not finite")
)

// StepError reports the pipeline step that failed.
//
// A StepError aborts the campaign before any unit is marked complete.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("data preparation step %q: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
