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
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/regsearch/pkg/ux"
	"github.com/AleutianAI/regsearch/services/campaign/checkpoint"
	"github.com/AleutianAI/regsearch/services/campaign/config"
	"github.com/AleutianAI/regsearch/services/campaign/runner"
	"github.com/AleutianAI/regsearch/services/campaign/telemetry"
)

type runOptions struct {
	config string
	output string
	seed   int64
}

func (a *app) newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run or resume a campaign",
		Long: `Runs the campaign described by the configuration file into the output
directory. Running the same command again after an interruption resumes
the campaign; running it after completion does nothing.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("seed") {
				return a.runCampaign(cmd.Context(), opts, &opts.seed)
			}
			return a.runCampaign(cmd.Context(), opts, nil)
		},
	}
	cmd.Flags().StringVarP(&opts.config, "config", "c", "", "Campaign configuration file (YAML)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Output directory")
	cmd.Flags().Int64Var(&opts.seed, "seed", 0, "Override general.seed")
	_ = cmd.MarkFlagRequired("config")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (a *app) runCampaign(ctx context.Context, opts runOptions, seed *int64) error {
	cfg, err := config.Load(opts.config)
	if err != nil {
		return err
	}
	if seed != nil {
		cfg.General.Seed = *seed
	}

	logger, err := a.newLogger(&cfg.Logging)
	if err != nil {
		return err
	}
	defer logger.Close()

	r, err := runner.New(cfg, opts.output,
		append([]runner.Option{runner.WithLogger(logger.Slog()), runner.WithRegistry(a.registry)}, a.runOptions...)...)
	if err != nil {
		return err
	}

	shutdown, err := telemetry.Init(ctx, a.telemetryConfig(cfg.Telemetry), logger.Slog())
	if err != nil {
		return fmt.Errorf("initialize telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryShutdownTimeout)
		defer cancel()
		if serr := shutdown(sctx); serr != nil {
			logger.Warn("telemetry shutdown failed", slog.String("error", serr.Error()))
		}
	}()

	report, err := r.Run(ctx)
	if report != nil {
		printReport(a.stdoutPrinter(), report)
	}
	return err
}

func printReport(p *ux.Printer, rep *runner.Report) {
	if rep.AlreadyComplete {
		p.Success(fmt.Sprintf("campaign %s already complete in %s", rep.CampaignID, rep.Output))
		return
	}
	p.Title("Campaign " + rep.CampaignID)
	p.KeyValue("output", rep.Output)

	rows := make([][]string, 0, len(rep.Units))
	failed := 0
	for _, u := range rep.Units {
		detail := u.Artifact
		switch {
		case u.Status == checkpoint.StatusFailed:
			failed++
			detail = u.Error
		case u.Skipped:
			detail += " (kept)"
		}
		rows = append(rows, []string{statusCell(p, u.Status), u.ID, resultCell(u.Result), detail})
	}
	p.Table([]string{"status", "unit", "validation", "detail"}, rows)

	if failed > 0 {
		p.Warning(fmt.Sprintf("%d unit(s) failed; run the same command again to retry", failed))
		return
	}
	p.Success("campaign complete")
}

func statusCell(p *ux.Printer, s checkpoint.Status) string {
	var icon ux.Icon
	switch s {
	case checkpoint.StatusComplete:
		icon = ux.IconSuccess
	case checkpoint.StatusInProgress:
		icon = ux.IconProgress
	case checkpoint.StatusFailed:
		icon = ux.IconError
	default:
		icon = ux.IconPending
	}
	if p.Mode() == ux.ModeMachine {
		return string(s)
	}
	return p.Icon(icon) + " " + string(s)
}

func resultCell(res *checkpoint.Result) string {
	if res == nil {
		return "-"
	}
	return res.Metric + "=" + formatFloat(res.ValidationError)
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 6, 64)
}

func (a *app) newValidateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a campaign configuration without running it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if err := cfg.Validate(a.registry); err != nil {
				return err
			}
			p := a.stdoutPrinter()
			p.Success("configuration valid")
			p.KeyValue("campaign", cfg.CampaignID())
			p.KeyValue("input", cfg.DataPreparation.InputPath)
			p.KeyValue("target", cfg.General.Target)
			p.KeyValue("techniques", strings.Join(cfg.General.Techniques, ", "))
			p.KeyValue("metric", cfg.General.Metric)
			p.KeyValue("validation", cfg.General.Validation.Scheme)
			p.KeyValue("tuning", cfg.General.Tuning.Mode)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "Campaign configuration file (YAML)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}
