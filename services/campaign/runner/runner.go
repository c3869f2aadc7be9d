// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner executes a campaign against an output directory.
//
// # Protocol
//
// A campaign has one unit per configured technique. Each unit moves
// PENDING -> IN_PROGRESS -> COMPLETE (or FAILED). The runner records every
// transition in the checkpoint store before moving on, writes a unit's
// predictor artifact before marking it COMPLETE, and writes the done
// marker only after every unit is COMPLETE. All writes are atomic, so the
// process may be killed at any instant and rerun with the same arguments:
// completed units are skipped and an interrupted bounded search resumes
// from its last saved batch. A rerun of a done campaign returns
// immediately without writing anything.
//
// # Failures
//
// A unit whose search or fit fails is recorded FAILED and the runner
// continues with the next unit; the run then ends with *UnitFailuresError
// and no done marker. Data preparation errors, output conflicts and
// checkpoint I/O errors abort the run.
//
// # Concurrency
//
// Units run sequentially. One runner per output directory is assumed and
// not enforced.
package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/regsearch/services/campaign/checkpoint"
	"github.com/AleutianAI/regsearch/services/campaign/config"
	"github.com/AleutianAI/regsearch/services/campaign/dataset"
	"github.com/AleutianAI/regsearch/services/campaign/estimator"
	"github.com/AleutianAI/regsearch/services/campaign/predictor"
	"github.com/AleutianAI/regsearch/services/campaign/prep"
	"github.com/AleutianAI/regsearch/services/campaign/rng"
	"github.com/AleutianAI/regsearch/services/campaign/search"
	"github.com/AleutianAI/regsearch/services/campaign/telemetry"
)

var (
	tracer = otel.Tracer("regsearch.runner")
	meter  = otel.Meter("regsearch.runner")
)

// Point names a durable-write boundary. Hooks run right after the write
// that the point names, or right before the done marker.
type Point string

const (
	PointConfigWritten   Point = "config_written"
	PointCheckpointSaved Point = "checkpoint_saved"
	PointUnitStarted     Point = "unit_started"
	PointProgressSaved   Point = "progress_saved"
	PointArtifactWritten Point = "artifact_written"
	PointUnitComplete    Point = "unit_complete"
	PointUnitFailed      Point = "unit_failed"
	PointBeforeDone      Point = "before_done"
)

// Hook observes durable-write boundaries. A non-nil error stops the run
// at once, without further writes, as if the process had been killed.
type Hook func(p Point, unit string) error

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistry sets the estimator registry. Default: estimator.DefaultRegistry().
func WithRegistry(registry *estimator.Registry) Option {
	return func(r *Runner) {
		if registry != nil {
			r.registry = registry
		}
	}
}

// WithHook installs a boundary hook.
func WithHook(h Hook) Option {
	return func(r *Runner) { r.hook = h }
}

// WithClock overrides the wall clock used for checkpoint timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		if now != nil {
			r.now = now
		}
	}
}

// UnitReport summarizes one unit after a run.
type UnitReport struct {
	ID        string
	Technique string
	Status    checkpoint.Status
	Artifact  string
	Result    *checkpoint.Result
	Error     string

	// Skipped is true when the unit was already complete.
	Skipped bool
}

// Report summarizes a run.
type Report struct {
	CampaignID      string
	Output          string
	AlreadyComplete bool
	Units           []UnitReport
}

// Runner drives one campaign.
//
// Thread Safety: A Runner must not be used by more than one goroutine,
// and at most one Runner may use an output directory at a time.
type Runner struct {
	cfg        *config.Config
	layout     checkpoint.Layout
	campaignID string
	registry   *estimator.Registry
	engine     *search.Engine
	logger     *slog.Logger
	hook       Hook
	now        func() time.Time

	metricsOnce  sync.Once
	unitDuration metric.Float64Histogram
	unitsTotal   metric.Int64Counter
	saves        metric.Int64Counter
}

// New validates cfg and creates a runner for outputDir.
//
// Description:
//
//	Validation happens here, so an invalid configuration, including a
//	run_num other than 1, is rejected before the output directory is
//	created or read.
//
// Inputs:
//
//	cfg - The campaign configuration.
//	outputDir - Output directory. It may not exist yet.
//	opts - WithLogger, WithRegistry, WithHook, WithClock.
//
// Outputs:
//
//	*Runner - Ready to Run.
//	error - *config.ConfigurationError if cfg is invalid.
func New(cfg *config.Config, outputDir string, opts ...Option) (*Runner, error) {
	if cfg == nil {
		return nil, &config.ConfigurationError{Reason: "no configuration"}
	}
	r := &Runner{
		cfg:      cfg,
		registry: estimator.DefaultRegistry(),
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := cfg.Validate(r.registry); err != nil {
		return nil, err
	}
	if outputDir == "" {
		return nil, &config.ConfigurationError{Field: "output", Reason: "empty path"}
	}
	root, err := filepath.Abs(outputDir)
	if err != nil {
		return nil, &config.ConfigurationError{Field: "output", Err: err}
	}

	r.layout = checkpoint.Layout{Root: root}
	r.campaignID = cfg.CampaignID()
	r.logger = r.logger.With(slog.String("campaign_id", r.campaignID))
	r.engine = search.NewEngine(r.registry, r.logger)
	return r, nil
}

// CampaignID returns the identifier of the configured campaign.
func (r *Runner) CampaignID() string { return r.campaignID }

// Output returns the absolute output directory.
func (r *Runner) Output() string { return r.layout.Root }

func (r *Runner) initMetrics() {
	r.metricsOnce.Do(func() {
		var initErrors []string
		var err error
		r.unitDuration, err = meter.Float64Histogram("regsearch_unit_duration_seconds",
			metric.WithDescription("Time spent searching and fitting one unit"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "unit_duration: "+err.Error())
		}
		r.unitsTotal, err = meter.Int64Counter("regsearch_units_total",
			metric.WithDescription("Number of units finished, by status"),
		)
		if err != nil {
			initErrors = append(initErrors, "units: "+err.Error())
		}
		r.saves, err = meter.Int64Counter("regsearch_checkpoint_saves_total",
			metric.WithDescription("Number of durable checkpoint saves"),
		)
		if err != nil {
			initErrors = append(initErrors, "checkpoint_saves: "+err.Error())
		}
		if len(initErrors) > 0 {
			r.logger.Error("failed to initialize some runner metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// Run executes or resumes the campaign.
//
// Description:
//
//	Returns immediately when the done marker names this campaign. Otherwise
//	prepares the inputs, claims the output directory, loads or creates the
//	checkpoint and runs every unit that is not verifiably complete. Writes
//	the done marker when all units are complete.
//
// Inputs:
//
//	ctx - Cancellation stops the run between durable writes.
//
// Outputs:
//
//	*Report - Per-unit outcome. Non-nil with *UnitFailuresError.
//	error - *config.ConfigurationError wrapping ErrOutputConflict,
//	        *prep.StepError, *dataset.SchemaError, *checkpoint.IOError,
//	        *UnitFailuresError, a hook error, or ctx.Err().
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	r.initMetrics()
	ctx, span := tracer.Start(ctx, "runner.Run",
		trace.WithAttributes(
			attribute.String("campaign.id", r.campaignID),
			attribute.String("campaign.output", r.layout.Root),
		),
	)
	defer span.End()

	report, err := r.run(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return report, err
	}
	span.SetAttributes(attribute.Bool("campaign.already_complete", report.AlreadyComplete))
	return report, nil
}

func (r *Runner) run(ctx context.Context) (*Report, error) {
	report := &Report{CampaignID: r.campaignID, Output: r.layout.Root}

	done, err := r.layout.ReadDone()
	switch {
	case err == nil:
		if done.CampaignID != r.campaignID {
			return nil, conflict("%s is done for campaign %s", r.layout.Root, done.CampaignID)
		}
		r.logger.Info("campaign already complete",
			slog.String("output", r.layout.Root),
			slog.Time("completed_at", done.CompletedAt),
		)
		report.AlreadyComplete = true
		return report, nil
	case !errors.Is(err, checkpoint.ErrNotDone):
		return nil, err
	}

	in, recipe, err := r.prepareInputs(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.prepareOutput(); err != nil {
		return nil, err
	}

	store, err := r.openStore()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := store.Close(); err != nil {
			r.logger.Warn("closing checkpoint store failed", slog.String("error", err.Error()))
		}
	}()

	cp, err := r.loadOrInit(ctx, store)
	if err != nil {
		return nil, err
	}

	var failures []UnitFailure
	for i := range cp.Units {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		u := &cp.Units[i]
		skipped, err := r.runUnit(ctx, store, cp, u, in, recipe)
		if err != nil {
			var ab *abortError
			if errors.As(err, &ab) {
				return nil, ab.err
			}
			r.logger.Error("unit failed",
				slog.String("unit", u.ID),
				slog.String("error", err.Error()),
			)
			failures = append(failures, UnitFailure{Unit: u.ID, Err: err})
			if err := r.markFailed(ctx, store, cp, u, err); err != nil {
				return nil, err
			}
		}
		report.Units = append(report.Units, unitReport(u, skipped))
	}

	if len(failures) > 0 {
		return report, &UnitFailuresError{Failures: failures}
	}

	if err := r.fire(PointBeforeDone, ""); err != nil {
		return nil, err
	}
	if err := r.layout.WriteDone(checkpoint.Done{CampaignID: r.campaignID, CompletedAt: r.now().UTC()}); err != nil {
		return nil, err
	}
	r.logger.Info("campaign complete",
		slog.String("output", r.layout.Root),
		slog.Int("units", len(cp.Units)),
	)
	return report, nil
}

// prepareInputs runs the preparation pipeline and assembles the
// regression inputs. It does not touch the output directory.
func (r *Runner) prepareInputs(ctx context.Context) (*dataset.RegressionInputs, prep.Recipe, error) {
	ctx, span := tracer.Start(ctx, "runner.prepareInputs")
	defer span.End()

	recipe := r.cfg.Recipe()
	steps := prep.Build(r.cfg.LoadStep(), recipe, false)
	tbl, err := prep.Run(ctx, steps, r.logger)
	if err != nil {
		span.RecordError(err)
		return nil, recipe, err
	}
	recipe = recipe.WithScales(tbl.Scales())

	g := r.cfg.General
	train, test := dataset.Partition(tbl.Index(), g.TestRatio, g.TestOnTrain, rng.Stream(uint64(g.Seed), "partition"))
	features := r.cfg.DataPreparation.Features
	if len(features) == 0 {
		for _, c := range tbl.Columns() {
			if c != g.Target {
				features = append(features, c)
			}
		}
	}
	in, err := dataset.Assemble(tbl, dataset.Spec{
		Train:        train,
		Test:         test,
		Features:     features,
		Target:       g.Target,
		AllowOverlap: g.Validation.AllowOverlap,
	})
	if err != nil {
		span.RecordError(err)
		return nil, recipe, err
	}

	r.logger.Info("inputs prepared",
		slog.Any("steps", prep.Names(steps)),
		slog.Int("rows", tbl.Len()),
		slog.Int("train_rows", len(train)),
		slog.Int("test_rows", len(test)),
		slog.Any("features", features),
	)
	return in, recipe, nil
}

// prepareOutput claims the output directory and writes the configuration
// copy.
func (r *Runner) prepareOutput() error {
	root := r.layout.Root
	entries, err := os.ReadDir(root)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(root, 0o755); err != nil {
			return &checkpoint.IOError{Op: "mkdir", Path: root, Err: err}
		}
	case err != nil:
		return &checkpoint.IOError{Op: "read dir", Path: root, Err: err}
	}
	for _, e := range entries {
		if !r.layout.Known(e.Name()) {
			return conflict("unexpected entry %q in %s", e.Name(), root)
		}
	}
	r.removeStaleTemps(root)
	r.removeStaleTemps(r.layout.Path(checkpoint.ArtifactsDir))

	path := r.layout.Path(checkpoint.ConfigFile)
	data, err := r.cfg.Marshal()
	if err != nil {
		return err
	}
	existing, err := os.ReadFile(path)
	switch {
	case err == nil:
		prev, perr := config.Parse(existing, "")
		if perr != nil {
			return conflict("unreadable %s: %v", checkpoint.ConfigFile, perr)
		}
		if id := prev.CampaignID(); id != r.campaignID {
			return conflict("%s belongs to campaign %s", root, id)
		}
		if bytes.Equal(existing, data) {
			return nil
		}
	case !errors.Is(err, fs.ErrNotExist):
		return &checkpoint.IOError{Op: "read", Path: path, Err: err}
	}

	if err := checkpoint.WriteFileAtomic(path, data, 0o644); err != nil {
		return err
	}
	return r.fire(PointConfigWritten, "")
}

// removeStaleTemps deletes temp files left by an interrupted write.
func (r *Runner) removeStaleTemps(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if !checkpoint.IsTemp(e.Name()) {
			continue
		}
		p := filepath.Join(dir, e.Name())
		if err := os.Remove(p); err != nil {
			r.logger.Warn("cannot remove stale temp file", slog.String("path", p), slog.String("error", err.Error()))
			continue
		}
		r.logger.Debug("removed stale temp file", slog.String("path", p))
	}
}

func (r *Runner) openStore() (checkpoint.Store, error) {
	backend := r.cfg.Checkpoint.Backend
	if existing := r.layout.Backend(); existing != "" && existing != backend {
		r.logger.Warn("using the existing checkpoint backend",
			slog.String("configured", backend),
			slog.String("existing", existing),
		)
		backend = existing
	}
	return r.layout.OpenStore(backend, r.logger)
}

func (r *Runner) units() []checkpoint.Unit {
	seed := uint64(r.cfg.General.Seed)
	units := make([]checkpoint.Unit, len(r.cfg.General.Techniques))
	for i, t := range r.cfg.General.Techniques {
		units[i] = checkpoint.Unit{ID: t, Technique: t, Seed: rng.Derive(seed, "unit", t)}
	}
	return units
}

func (r *Runner) loadOrInit(ctx context.Context, store checkpoint.Store) (*checkpoint.Checkpoint, error) {
	want := r.units()
	cp, err := store.Load(ctx)
	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		cp = checkpoint.New(r.campaignID, want, r.now().UTC())
		r.logger.Info("campaign started", slog.String("output", r.layout.Root), slog.Int("units", len(want)))
	case err != nil:
		return nil, err
	default:
		if cp.CampaignID != r.campaignID {
			return nil, conflict("checkpoint belongs to campaign %s", cp.CampaignID)
		}
		if !sameUnits(cp.Units, want) {
			return nil, conflict("checkpoint units do not match the configured techniques")
		}
		complete := 0
		for _, u := range cp.Units {
			if u.Status == checkpoint.StatusComplete {
				complete++
			}
		}
		r.logger.Info("campaign resumed",
			slog.String("output", r.layout.Root),
			slog.Int("previous_attempts", len(cp.Attempts)),
			slog.Int("complete_units", complete),
			slog.Int("units", len(cp.Units)),
		)
	}

	cp.Attempts = append(cp.Attempts, checkpoint.Attempt{ID: uuid.NewString(), StartedAt: r.now().UTC()})
	if err := r.save(ctx, store, cp, PointCheckpointSaved, ""); err != nil {
		return nil, err
	}
	return cp, nil
}

func sameUnits(have, want []checkpoint.Unit) bool {
	if len(have) != len(want) {
		return false
	}
	for i := range have {
		if have[i].ID != want[i].ID || have[i].Technique != want[i].Technique || have[i].Seed != want[i].Seed {
			return false
		}
	}
	return true
}

// save persists cp and fires the hook for p.
func (r *Runner) save(ctx context.Context, store checkpoint.Store, cp *checkpoint.Checkpoint, p Point, unit string) error {
	if err := store.Save(ctx, cp); err != nil {
		return err
	}
	if r.saves != nil {
		r.saves.Add(ctx, 1)
	}
	return r.fire(p, unit)
}

func (r *Runner) fire(p Point, unit string) error {
	if r.hook == nil {
		return nil
	}
	return r.hook(p, unit)
}

func (r *Runner) markFailed(ctx context.Context, store checkpoint.Store, cp *checkpoint.Checkpoint, u *checkpoint.Unit, cause error) error {
	u.Status = checkpoint.StatusFailed
	u.Error = cause.Error()
	u.Progress = nil
	u.UpdatedAt = r.now().UTC()
	if r.unitsTotal != nil {
		r.unitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(checkpoint.StatusFailed))))
	}
	return r.save(ctx, store, cp, PointUnitFailed, u.ID)
}

func unitReport(u *checkpoint.Unit, skipped bool) UnitReport {
	return UnitReport{
		ID:        u.ID,
		Technique: u.Technique,
		Status:    u.Status,
		Artifact:  u.Artifact,
		Result:    u.Result,
		Error:     u.Error,
		Skipped:   skipped,
	}
}

// runUnit brings u to COMPLETE.
//
// Errors wrapped by abort stop the campaign; any other error fails only
// this unit.
func (r *Runner) runUnit(
	ctx context.Context,
	store checkpoint.Store,
	cp *checkpoint.Checkpoint,
	u *checkpoint.Unit,
	in *dataset.RegressionInputs,
	recipe prep.Recipe,
) (skipped bool, err error) {
	logger := r.logger.With(slog.String("unit", u.ID))

	switch u.Status {
	case checkpoint.StatusComplete:
		verr := r.layout.VerifyArtifact(u.Artifact, u.ArtifactSHA256)
		if verr == nil {
			logger.Info("unit already complete", slog.String("artifact", u.Artifact))
			return true, nil
		}
		if !errors.Is(verr, checkpoint.ErrArtifactMissing) && !errors.Is(verr, checkpoint.ErrArtifactMismatch) {
			return false, abort(verr)
		}
		logger.Warn("complete unit has an invalid artifact, recomputing", slog.String("error", verr.Error()))
		u.Progress = nil
	case checkpoint.StatusFailed:
		logger.Info("retrying failed unit", slog.String("previous_error", u.Error))
		u.Progress = nil
	case checkpoint.StatusPending:
		u.Progress = nil
	}

	ctx, span := tracer.Start(ctx, "runner.Unit",
		trace.WithAttributes(
			attribute.String("unit.id", u.ID),
			attribute.String("unit.technique", u.Technique),
		),
	)
	defer span.End()
	logger = telemetry.LoggerWithTrace(ctx, logger)
	start := time.Now()

	u.Status = checkpoint.StatusInProgress
	u.Attempts++
	u.Error = ""
	u.Result = nil
	u.Artifact, u.ArtifactSHA256 = "", ""
	u.UpdatedAt = r.now().UTC()
	if err := r.save(ctx, store, cp, PointUnitStarted, u.ID); err != nil {
		return false, abort(err)
	}

	spec, err := r.cfg.SearchSpec(u.Technique, u.Seed)
	if err != nil {
		return false, err
	}
	opts := []search.Option{
		search.WithProgress(func(ctx context.Context, p search.Progress) error {
			data, err := json.Marshal(p)
			if err != nil {
				return abort(fmt.Errorf("encode search progress: %w", err))
			}
			u.Progress = data
			u.UpdatedAt = r.now().UTC()
			return abort(r.save(ctx, store, cp, PointProgressSaved, u.ID))
		}),
	}
	if resume := decodeProgress(u.Progress, logger); resume != nil {
		logger.Info("resuming search", slog.Int("evaluations", resume.Evaluations))
		opts = append(opts, search.WithResume(resume))
	}

	best, err := r.engine.Search(ctx, in, spec, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, classify(err)
	}
	fit, err := r.engine.Train(in, best, spec.Metric)
	if err != nil {
		span.RecordError(err)
		return false, classify(err)
	}
	blob, err := fit.Model.MarshalBinary()
	if err != nil {
		return false, fmt.Errorf("encode model: %w", err)
	}
	artifact := &predictor.Artifact{
		FormatVersion:   predictor.FormatVersion,
		CampaignID:      r.campaignID,
		Technique:       u.Technique,
		Target:          in.Target(),
		Features:        best.Features,
		Hyperparameters: best.Hyperparameters,
		Metric:          string(spec.Metric),
		ValidationError: best.Error,
		TrainError:      fit.TrainError,
		TestError:       fit.TestError,
		HasTest:         fit.HasTest,
		Recipe:          recipe,
		Model:           blob,
	}
	data, err := artifact.Encode()
	if err != nil {
		return false, err
	}
	rel, sum, err := r.layout.WriteArtifact(u.Technique, data)
	if err != nil {
		return false, abort(err)
	}
	if err := r.fire(PointArtifactWritten, u.ID); err != nil {
		return false, abort(err)
	}

	result := &checkpoint.Result{
		Metric:          string(spec.Metric),
		Hyperparameters: best.Hyperparameters,
		Features:        best.Features,
		ValidationError: best.Error,
		TrainError:      fit.TrainError,
	}
	if fit.HasTest {
		testErr := fit.TestError
		result.TestError = &testErr
	}
	u.Status = checkpoint.StatusComplete
	u.Artifact, u.ArtifactSHA256 = rel, sum
	u.Result = result
	u.Progress = nil
	u.UpdatedAt = r.now().UTC()
	if err := r.save(ctx, store, cp, PointUnitComplete, u.ID); err != nil {
		return false, abort(err)
	}

	if r.unitsTotal != nil {
		r.unitsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(checkpoint.StatusComplete))))
	}
	if r.unitDuration != nil {
		r.unitDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("technique", u.Technique)))
	}
	logger.Info("unit complete",
		slog.String("hyperparameters", best.Hyperparameters.String()),
		slog.Any("features", best.Features),
		slog.Float64("validation_error", best.Error),
		slog.Float64("train_error", fit.TrainError),
		slog.String("artifact", rel),
		slog.Duration("duration", time.Since(start)),
	)
	return false, nil
}

// classify turns cancellation into an abort. Aborts raised by the
// progress callback pass through unchanged.
func classify(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return abort(err)
	}
	return err
}

func decodeProgress(raw json.RawMessage, logger *slog.Logger) *search.Progress {
	if len(raw) == 0 {
		return nil
	}
	var p search.Progress
	if err := json.Unmarshal(raw, &p); err != nil {
		logger.Warn("discarding unreadable search progress", slog.String("error", err.Error()))
		return nil
	}
	return &p
}
