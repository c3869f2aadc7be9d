// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"errors"
	"fmt"
	"strings"

	"github.com/AleutianAI/regsearch/services/campaign/config"
)

var (
	// ErrOutputConflict indicates an output directory that belongs to a
	// different campaign or holds entries the campaign does not own.
	ErrOutputConflict = errors.New("output location conflict")
)

// UnitFailure is one unit that ended FAILED in this invocation.
type UnitFailure struct {
	Unit string
	Err  error
}

// UnitFailuresError reports units that failed. The campaign is not done;
// running it again retries them.
type UnitFailuresError struct {
	Failures []UnitFailure
}

func (e *UnitFailuresError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = fmt.Sprintf("%s: %v", f.Unit, f.Err)
	}
	return fmt.Sprintf("%d unit(s) failed: %s", len(e.Failures), strings.Join(parts, "; "))
}

// Unwrap returns the unit causes.
func (e *UnitFailuresError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}

// abortError marks an error that must stop the campaign immediately,
// as opposed to failing only the current unit.
type abortError struct {
	err error
}

func (e *abortError) Error() string { return e.err.Error() }
func (e *abortError) Unwrap() error { return e.err }

func abort(err error) error {
	if err == nil {
		return nil
	}
	return &abortError{err: err}
}

// conflict reports an output conflict as a configuration error on the
// output field.
func conflict(format string, args ...any) error {
	return &config.ConfigurationError{
		Field:  "output",
		Reason: fmt.Sprintf(format, args...),
		Err:    ErrOutputConflict,
	}
}
