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
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/regsearch/pkg/ux"
	"github.com/AleutianAI/regsearch/services/campaign/checkpoint"
	"github.com/AleutianAI/regsearch/services/campaign/runner"
)

const progressBarWidth = 20

type statusOptions struct {
	output  string
	follow  bool
	timeout time.Duration
}

func (a *app) newStatusCmd() *cobra.Command {
	var opts statusOptions
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a campaign",
		Long: `Shows the state of the campaign in the output directory. With --follow
the state is printed again whenever it changes, until the campaign is done
or the timeout expires.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.showStatus(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Campaign output directory")
	cmd.Flags().BoolVar(&opts.follow, "follow", false, "Watch until the campaign is done")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "Stop following after this long (0 waits forever)")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}

func (a *app) showStatus(ctx context.Context, opts statusOptions) error {
	logger, err := a.newLogger(nil)
	if err != nil {
		return err
	}
	defer logger.Close()
	p := a.stdoutPrinter()

	if !opts.follow {
		st, err := runner.Inspect(ctx, opts.output, logger.Slog())
		if err != nil {
			return err
		}
		renderStatus(p, st)
		return nil
	}

	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}
	err = runner.Follow(ctx, opts.output, logger.Slog(), func(st *runner.Status) error {
		renderStatus(p, st)
		return nil
	})
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("campaign in %s not done after %s: %w", opts.output, opts.timeout, err)
	}
	return err
}

func renderStatus(p *ux.Printer, st *runner.Status) {
	counts := st.Counts()
	complete := counts[checkpoint.StatusComplete]

	p.Title("Campaign " + st.CampaignID)
	p.KeyValue("output", st.Output)
	p.KeyValue("backend", st.Backend)
	p.KeyValue("attempts", strconv.Itoa(st.Attempts))
	if st.Done {
		p.KeyValue("state", "done "+st.CompletedAt.UTC().Format(time.RFC3339))
	} else {
		p.KeyValue("state", "running or interrupted")
	}
	p.KeyValue("progress", p.ProgressBar(complete, len(st.Units), progressBarWidth))

	rows := make([][]string, 0, len(st.Units))
	for _, u := range st.Units {
		test := "-"
		if u.Result != nil && u.Result.TestError != nil {
			test = formatFloat(*u.Result.TestError)
		}
		rows = append(rows, []string{
			statusCell(p, u.Status),
			u.ID,
			strconv.Itoa(u.Attempts),
			resultCell(u.Result),
			test,
			u.Error,
		})
	}
	p.Table([]string{"status", "unit", "attempts", "validation", "test", "error"}, rows)
}
