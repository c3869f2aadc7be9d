// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package search implements the model search engine: feature selection,
// hyperparameter tuning and validation for one technique.
//
// # Determinism
//
// All randomness derives from Spec.Seed. Assignments are generated before
// any evaluation and results are reduced in evaluation order, so the
// selected candidate does not depend on Parallelism or scheduling.
//
// # Selection
//
// Candidates are ordered by validation error, then number of selected
// features, then number of hyperparameters away from their defaults, then
// evaluation order. The first candidate in that order wins.
package search

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/regsearch/services/campaign/dataset"
	"github.com/AleutianAI/regsearch/services/campaign/estimator"
	"github.com/AleutianAI/regsearch/services/campaign/rng"
)

var (
	tracer = otel.Tracer("regsearch.search")
	meter  = otel.Meter("regsearch.search")
)

// Feature selection methods.
const (
	MethodNone       = "none"
	MethodSFS        = "sfs"
	MethodImportance = "importance"
)

// Validation schemes.
const (
	SchemeKFold   = "kfold"
	SchemeHoldOut = "holdout"
)

// Tuning modes.
const (
	ModeExhaustive = "exhaustive"
	ModeBounded    = "bounded"
)

// FeatureSelection configures the per-assignment feature subset search.
type FeatureSelection struct {
	Method string

	// MaxFeatures caps the selected subset. Zero means no cap.
	MaxFeatures int

	// Folds is the k-fold count used to score SFS steps.
	Folds int

	// Tolerance is the minimum normalized importance kept by importance pruning.
	Tolerance float64

	// ImportanceTechnique fits importances when the searched technique's
	// models do not report them.
	ImportanceTechnique string
}

// Validation configures how a candidate's error is measured.
type Validation struct {
	Scheme       string
	Folds        int
	HoldOutRatio float64
	Shuffle      bool
}

// Tuning configures hyperparameter search.
type Tuning struct {
	Mode string

	// MaxEvals is the number of sampled assignments in bounded mode.
	MaxEvals int

	// SaveInterval, in bounded mode, batches evaluations and reports
	// progress after each batch. Zero evaluates everything in one batch.
	SaveInterval int
}

// Spec is the complete search configuration for one technique.
type Spec struct {
	Technique        string
	Domain           Domain
	FeatureSelection FeatureSelection
	Validation       Validation
	Tuning           Tuning
	Metric           estimator.Metric
	Seed             uint64

	// Parallelism bounds concurrent evaluations. Zero uses GOMAXPROCS.
	// It never changes the result.
	Parallelism int
}

// Candidate is an evaluated (assignment, feature subset) pair.
type Candidate struct {
	Technique       string               `json:"technique"`
	Hyperparameters estimator.Assignment `json:"hyperparameters"`
	Features        []string             `json:"features"`
	Error           float64              `json:"validation_error"`
	Complexity      int                  `json:"complexity"`
	Evaluation      int                  `json:"evaluation"`
}

// better reports whether a ranks before b.
func better(a, b *Candidate) bool {
	if b == nil {
		return true
	}
	switch {
	case a.Error != b.Error:
		return a.Error < b.Error
	case len(a.Features) != len(b.Features):
		return len(a.Features) < len(b.Features)
	case a.Complexity != b.Complexity:
		return a.Complexity < b.Complexity
	}
	return a.Evaluation < b.Evaluation
}

// Progress is the resumable state of a bounded search.
type Progress struct {
	Evaluations int        `json:"evaluations"`
	Best        *Candidate `json:"best,omitempty"`
}

// ProgressFunc receives progress after each completed batch. A non-nil
// error aborts the search and is returned unchanged.
type ProgressFunc func(ctx context.Context, p Progress) error

type options struct {
	progress ProgressFunc
	resume   *Progress
}

// Option configures a single Search call.
type Option func(*options)

// WithProgress registers a batch progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

// WithResume continues a search from saved progress.
func WithResume(p *Progress) Option {
	return func(o *options) { o.resume = p }
}

// Engine runs searches against an estimator registry.
//
// Thread Safety:
//
//	Engine is safe for concurrent use.
type Engine struct {
	registry *estimator.Registry
	logger   *slog.Logger

	metricsOnce  sync.Once
	evalLatency  metric.Float64Histogram
	evalTotal    metric.Int64Counter
	evalFailures metric.Int64Counter
}

// NewEngine creates a search engine.
//
// Inputs:
//
//	registry - Estimators by technique name. If nil, uses DefaultRegistry().
//	logger - Logger for search progress. If nil, uses slog.Default().
func NewEngine(registry *estimator.Registry, logger *slog.Logger) *Engine {
	if registry == nil {
		registry = estimator.DefaultRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{registry: registry, logger: logger}
}

func (e *Engine) initMetrics() {
	e.metricsOnce.Do(func() {
		var initErrors []string
		var err error
		e.evalLatency, err = meter.Float64Histogram("regsearch_evaluation_duration_seconds",
			metric.WithDescription("Time spent evaluating one hyperparameter assignment"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "evaluation_latency: "+err.Error())
		}
		e.evalTotal, err = meter.Int64Counter("regsearch_evaluations_total",
			metric.WithDescription("Number of evaluated hyperparameter assignments"),
		)
		if err != nil {
			initErrors = append(initErrors, "evaluations: "+err.Error())
		}
		e.evalFailures, err = meter.Int64Counter("regsearch_evaluation_failures_total",
			metric.WithDescription("Number of assignments whose fit or score failed"),
		)
		if err != nil {
			initErrors = append(initErrors, "evaluation_failures: "+err.Error())
		}
		if len(initErrors) > 0 {
			e.logger.Error("failed to initialize some search metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Search finds the best candidate for spec.Technique.
//
// Description:
//
//	Generates the assignment list (grid or seeded draws), then evaluates
//	assignments in batches. Each evaluation selects features for the
//	assignment and measures its validation error. After each batch the
//	best candidate so far is passed to the progress callback.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	in - Assembled regression inputs.
//	spec - Search configuration.
//	opts - WithProgress, WithResume.
//
// Outputs:
//
//	*Candidate - The selected candidate.
//	error - *EstimatorError, *EmptyDomainError, ErrNotEnumerable,
//	        ErrTooFewRows, ErrInvalidSpec, a progress callback error,
//	        or the context error.
func (e *Engine) Search(ctx context.Context, in *dataset.RegressionInputs, spec Spec, opts ...Option) (*Candidate, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	e.initMetrics()

	ctx, span := tracer.Start(ctx, "search.Search",
		trace.WithAttributes(
			attribute.String("search.technique", spec.Technique),
			attribute.String("search.tuning", spec.Tuning.Mode),
			attribute.String("search.validation", spec.Validation.Scheme),
		),
	)
	defer span.End()

	best, err := e.search(ctx, in, spec, o)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Float64("search.best_error", best.Error))
	return best, nil
}

func (e *Engine) search(ctx context.Context, in *dataset.RegressionInputs, spec Spec, o options) (*Candidate, error) {
	est, err := e.registry.Lookup(spec.Technique)
	if err != nil {
		return nil, err
	}
	if _, err := estimator.ParseMetric(string(spec.Metric)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSpec, err)
	}

	assignments, err := e.assignments(spec)
	if err != nil {
		return nil, err
	}

	d, err := newDesign(in)
	if err != nil {
		return nil, err
	}
	ev := &evaluator{engine: e, est: est, d: d, spec: spec}
	ev.folds, err = splitFolds(d.rows(), spec.Validation, rng.Stream(spec.Seed, spec.Technique, "validation"))
	if err != nil {
		return nil, err
	}
	if spec.FeatureSelection.Method == MethodSFS {
		sfsFolds := spec.FeatureSelection.Folds
		if sfsFolds == 0 {
			sfsFolds = 3
		}
		ev.sfsFolds, err = splitFolds(d.rows(), Validation{
			Scheme:  SchemeKFold,
			Folds:   sfsFolds,
			Shuffle: spec.Validation.Shuffle,
		}, rng.Stream(spec.Seed, spec.Technique, "sfs"))
		if err != nil {
			return nil, err
		}
	}

	batch := len(assignments)
	if spec.Tuning.Mode == ModeBounded && spec.Tuning.SaveInterval > 0 {
		batch = spec.Tuning.SaveInterval
	}
	start, best := 0, (*Candidate)(nil)
	if r := o.resume; r != nil {
		if r.Evaluations > len(assignments) || (r.Evaluations%batch != 0 && r.Evaluations != len(assignments)) || (r.Evaluations > 0 && r.Best == nil) {
			e.logger.Warn("ignoring inconsistent search progress",
				slog.String("technique", spec.Technique),
				slog.Int("evaluations", r.Evaluations),
				slog.Int("assignments", len(assignments)),
			)
		} else {
			start, best = r.Evaluations, r.Best
		}
	}

	parallelism := spec.Parallelism
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}
	progressLog := rate.Sometimes{Interval: 10 * time.Second}

	e.logger.Info("search started",
		slog.String("technique", spec.Technique),
		slog.Int("assignments", len(assignments)),
		slog.Int("resumed_at", start),
		slog.Int("features", len(d.features)),
		slog.Int("train_rows", d.rows()),
	)

	for lo := start; lo < len(assignments); lo += batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hi := min(lo+batch, len(assignments))
		results := make([]*Candidate, hi-lo)
		errs := make([]error, hi-lo)

		var g errgroup.Group
		g.SetLimit(parallelism)
		for i := lo; i < hi; i++ {
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					errs[i-lo] = err
					return nil
				}
				results[i-lo], errs[i-lo] = ev.evaluate(ctx, assignments[i], i)
				return nil
			})
		}
		_ = g.Wait()

		for i := range results {
			if errs[i] != nil {
				return nil, errs[i]
			}
			if better(results[i], best) {
				best = results[i]
			}
		}

		progressLog.Do(func() {
			e.logger.Info("search progress",
				slog.String("technique", spec.Technique),
				slog.Int("evaluated", hi),
				slog.Int("total", len(assignments)),
				slog.Float64("best_error", best.Error),
			)
		})
		if o.progress != nil {
			if err := o.progress(ctx, Progress{Evaluations: hi, Best: best}); err != nil {
				return nil, err
			}
		}
	}

	if best == nil {
		return nil, &EmptyDomainError{Technique: spec.Technique, Reason: "no assignment evaluated"}
	}
	e.logger.Info("search complete",
		slog.String("technique", spec.Technique),
		slog.String("hyperparameters", best.Hyperparameters.String()),
		slog.Any("features", best.Features),
		slog.Float64("validation_error", best.Error),
	)
	return best, nil
}

func (e *Engine) assignments(spec Spec) ([]estimator.Assignment, error) {
	switch spec.Tuning.Mode {
	case ModeExhaustive, "":
		return spec.Domain.Grid(spec.Technique)
	case ModeBounded:
		return spec.Domain.Sample(spec.Technique, rng.Stream(spec.Seed, spec.Technique, "tuning"), spec.Tuning.MaxEvals)
	default:
		return nil, fmt.Errorf("%w: unknown tuning mode %q", ErrInvalidSpec, spec.Tuning.Mode)
	}
}

// evaluator scores assignments against fixed folds.
type evaluator struct {
	engine   *Engine
	est      estimator.Estimator
	d        *design
	spec     Spec
	folds    []fold
	sfsFolds []fold

	importanceOnce sync.Once
	importance     []float64
	importanceErr  error
}

func (ev *evaluator) evaluate(ctx context.Context, hp estimator.Assignment, index int) (*Candidate, error) {
	start := time.Now()
	attrs := metric.WithAttributes(attribute.String("technique", ev.spec.Technique))

	features, err := ev.selectFeatures(hp)
	var score float64
	if err == nil {
		score, err = ev.crossValidate(ev.folds, features, hp)
	}
	ev.engine.evalTotal.Add(ctx, 1, attrs)
	ev.engine.evalLatency.Record(ctx, time.Since(start).Seconds(), attrs)
	if err != nil {
		ev.engine.evalFailures.Add(ctx, 1, attrs)
		return nil, err
	}

	return &Candidate{
		Technique:       ev.spec.Technique,
		Hyperparameters: hp.Clone(),
		Features:        features,
		Error:           score,
		Complexity:      estimator.Complexity(ev.est, hp),
		Evaluation:      index,
	}, nil
}

// crossValidate returns the mean fold error.
func (ev *evaluator) crossValidate(folds []fold, features []string, hp estimator.Assignment) (float64, error) {
	var total float64
	for _, f := range folds {
		model, err := ev.est.Fit(ev.d.x(f.fit, features), ev.d.target(f.fit), hp)
		if err != nil {
			return 0, &EstimatorError{Technique: ev.spec.Technique, Hyperparameters: hp, Err: err}
		}
		score := estimator.Score(model, ev.d.x(f.score, features), ev.d.target(f.score), ev.spec.Metric)
		if !finite(score) {
			return 0, &EstimatorError{Technique: ev.spec.Technique, Hyperparameters: hp, Err: ErrNonFinite}
		}
		total += score
	}
	return total / float64(len(folds)), nil
}
