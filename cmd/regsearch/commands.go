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
	"context"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/regsearch/pkg/logging"
	"github.com/AleutianAI/regsearch/pkg/ux"
	"github.com/AleutianAI/regsearch/services/campaign/config"
	"github.com/AleutianAI/regsearch/services/campaign/estimator"
	"github.com/AleutianAI/regsearch/services/campaign/publish"
	"github.com/AleutianAI/regsearch/services/campaign/runner"
	"github.com/AleutianAI/regsearch/services/campaign/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

// app holds the process-wide dependencies of every command.
type app struct {
	stdout io.Writer
	stderr io.Writer

	registry   *estimator.Registry
	openBucket func(ctx context.Context, name, credentials string) (publish.Bucket, io.Closer, error)

	// runOptions are appended to the runner options of the run command.
	runOptions []runner.Option

	debug bool
}

func newApp(stdout, stderr io.Writer) *app {
	return &app{
		stdout:     stdout,
		stderr:     stderr,
		registry:   estimator.DefaultRegistry(),
		openBucket: openGCSBucket,
	}
}

func openGCSBucket(ctx context.Context, name, credentials string) (publish.Bucket, io.Closer, error) {
	b, err := publish.NewGCSBucket(ctx, name, credentials)
	if err != nil {
		return nil, nil, err
	}
	return b, b, nil
}

// execute runs the command line and returns the process exit code.
func execute(ctx context.Context, args []string, a *app) int {
	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	err := root.ExecuteContext(ctx)
	if err != nil {
		ux.NewPrinter(a.stderr, ux.DetectMode(a.stderr)).Error(err.Error())
	}
	return exitCodeFor(err)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "regsearch",
		Short: "Resumable regression model search campaigns",
		Long: `regsearch prepares a tabular dataset, searches hyperparameters for each
configured regression technique and writes one trained predictor per
technique. A campaign may be interrupted at any point and resumed by
running the same command again.`,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().BoolVar(&a.debug, "debug", false, "Log at debug level")

	root.AddCommand(
		a.newRunCmd(),
		a.newValidateCmd(),
		a.newStatusCmd(),
		a.newPredictCmd(),
		a.newPublishCmd(),
	)
	return root
}

func (a *app) stdoutPrinter() *ux.Printer {
	return ux.NewPrinter(a.stdout, ux.DetectMode(a.stdout))
}

// newLogger builds the command logger. The run command passes the
// campaign's logging section; the other commands log warnings only.
func (a *app) newLogger(cfg *config.Logging) (*logging.Logger, error) {
	lc := logging.Config{
		Level:   logging.LevelWarn,
		Format:  logging.FormatAuto,
		Service: "regsearch",
		Output:  a.stderr,
	}
	if cfg != nil {
		level, err := logging.ParseLevel(cfg.Level)
		if err != nil {
			return nil, &config.ConfigurationError{Field: "logging.level", Err: err}
		}
		lc.Level = level
		lc.Format = logging.Format(cfg.Format)
		lc.LogDir = cfg.LogDir
	}
	if a.debug {
		lc.Level = logging.LevelDebug
	}
	return logging.New(lc), nil
}

func (a *app) telemetryConfig(cfg config.Telemetry) telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.TraceExporter = cfg.TraceExporter
	tc.MetricExporter = cfg.MetricExporter
	tc.OTLPEndpoint = cfg.OTLPEndpoint
	tc.OTLPInsecure = cfg.OTLPInsecure
	tc.PrometheusPort = cfg.PrometheusPort
	tc.MetricsTextfile = cfg.MetricsTextfile
	tc.Writer = a.stderr
	return tc
}
