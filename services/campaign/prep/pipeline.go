// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package prep implements the sequential data preparation pipeline.
//
// A pipeline is an ordered list of Steps. The first step loads the raw
// input and every later step derives a new table from its predecessor.
// Steps never mutate their input and never change the number of rows.
package prep

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/regsearch/services/campaign/table"
)

// Step is one stage of the data preparation pipeline.
//
// Process receives nil when the step is first in the pipeline.
type Step interface {
	Name() string
	Process(ctx context.Context, in *table.Table) (*table.Table, error)
}

// Run executes steps strictly in order.
//
// Description:
//
//	Feeds the output of each step to the next. The first failure aborts the
//	pipeline and is returned as a *StepError naming the step. A step that
//	returns no table or changes the row count is also a *StepError.
//
// Inputs:
//
//	ctx - Checked between steps for cancellation.
//	steps - Ordered steps, normally produced by Build.
//	logger - Logger for step progress. If nil, uses slog.Default().
//
// Outputs:
//
//	*table.Table - The prepared table.
//	error - *StepError, ErrNoSteps, or the context error.
func Run(ctx context.Context, steps []Step, logger *slog.Logger) (*table.Table, error) {
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}
	if logger == nil {
		logger = slog.Default()
	}

	var tbl *table.Table
	rows := -1
	for _, s := range steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out, err := s.Process(ctx, tbl)
		if err != nil {
			return nil, &StepError{Step: s.Name(), Err: err}
		}
		if out == nil {
			return nil, &StepError{Step: s.Name(), Err: ErrNilTable}
		}
		if rows >= 0 && out.Len() != rows {
			return nil, &StepError{
				Step: s.Name(),
				Err:  fmt.Errorf("%w: %d -> %d", ErrRowCountChanged, rows, out.Len()),
			}
		}
		rows = out.Len()
		tbl = out

		logger.Debug("preparation step complete",
			slog.String("step", s.Name()),
			slog.Int("rows", out.Len()),
			slog.Int("columns", len(out.Columns())),
		)
	}
	return tbl, nil
}
