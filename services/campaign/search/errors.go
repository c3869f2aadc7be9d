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
	"errors"
	"fmt"

	"github.com/AleutianAI/regsearch/services/campaign/estimator"
)

var (
	// ErrNotEnumerable indicates exhaustive tuning over a distribution.
	ErrNotEnumerable = errors.New("domain contains a distribution and cannot be enumerated")

	// ErrTooFewRows indicates a training set too small for the validation scheme.
	ErrTooFewRows = errors.New("too few training rows for validation")

	// ErrNonFinite indicates a NaN or infinite validation score.
	ErrNonFinite = errors.New("non-finite validation score")

	// ErrInvalidSpec indicates an inconsistent search specification.
	ErrInvalidSpec = errors.New("invalid search specification")

	// ErrInvalidDistribution indicates a malformed distribution expression.
	ErrInvalidDistribution = errors.New("invalid distribution")
)

// EstimatorError reports a fit failure or unusable score for one
// hyperparameter assignment. The unit that raised it is marked failed.
type EstimatorError struct {
	Technique       string
	Hyperparameters estimator.Assignment
	Err             error
}

func (e *EstimatorError) Error() string {
	return fmt.Sprintf("estimator %s [%s]: %v", e.Technique, e.Hyperparameters, e.Err)
}

func (e *EstimatorError) Unwrap() error { return e.Err }

// EmptyDomainError reports a search with nothing to evaluate.
type EmptyDomainError struct {
	Technique string
	Reason    string
}

func (e *EmptyDomainError) Error() string {
	return fmt.Sprintf("empty search domain for %s: %s", e.Technique, e.Reason)
}
