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
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/regsearch/services/campaign/checkpoint"
	"github.com/AleutianAI/regsearch/services/campaign/predictor"
)

// PredictionsFile is written by the predict command.
const PredictionsFile = "predictions.csv"

type predictOptions struct {
	artifact string
	input    string
	output   string
}

func (a *app) newPredictCmd() *cobra.Command {
	var opts predictOptions
	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Apply a trained predictor to a CSV file",
		Long: `Prepares the input with the preparation recorded in the artifact and
writes predictions.csv to the output directory. When the input carries
the target column the error is printed and written to <metric>.txt.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := a.newLogger(nil)
			if err != nil {
				return err
			}
			defer logger.Close()

			pred, err := predictor.Open(opts.artifact, a.registry, logger.Slog())
			if err != nil {
				return err
			}
			res, err := pred.PredictFile(cmd.Context(), opts.input)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(opts.output, 0o750); err != nil {
				return fmt.Errorf("create output directory: %w", err)
			}
			var buf bytes.Buffer
			if err := predictor.WriteCSV(&buf, res); err != nil {
				return fmt.Errorf("encode predictions: %w", err)
			}
			path := filepath.Join(opts.output, PredictionsFile)
			if err := checkpoint.WriteFileAtomic(path, buf.Bytes(), 0o644); err != nil {
				return err
			}

			p := a.stdoutPrinter()
			p.Success(fmt.Sprintf("wrote %d predictions to %s", len(res.Predictions), path))
			if res.HasTarget {
				value := strconv.FormatFloat(res.Error, 'g', -1, 64)
				metricPath := filepath.Join(opts.output, string(res.Metric)+".txt")
				if err := checkpoint.WriteFileAtomic(metricPath, []byte(value+"\n"), 0o644); err != nil {
					return err
				}
				p.KeyValue(string(res.Metric), value)
				p.KeyValue("r2", formatFloat(res.R2))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.artifact, "artifact", "a", "", "Predictor artifact file")
	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "Input CSV file")
	cmd.Flags().StringVarP(&opts.output, "output", "o", ".", "Directory for predictions.csv")
	_ = cmd.MarkFlagRequired("artifact")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}
