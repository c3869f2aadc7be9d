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
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/regsearch/services/campaign/publish"
)

type publishOptions struct {
	output      string
	bucket      string
	prefix      string
	credentials string
}

func (a *app) newPublishCmd() *cobra.Command {
	var opts publishOptions
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Upload a completed campaign to Google Cloud Storage",
		Long: `Uploads every file of a done campaign to the bucket under the prefix
(default: the campaign ID). The done marker is uploaded last.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := a.newLogger(nil)
			if err != nil {
				return err
			}
			defer logger.Close()

			bucket, closer, err := a.openBucket(cmd.Context(), opts.bucket, opts.credentials)
			if err != nil {
				return fmt.Errorf("open bucket %s: %w", opts.bucket, err)
			}
			defer func() {
				if cerr := closer.Close(); cerr != nil {
					logger.Warn("close bucket client", slog.String("error", cerr.Error()))
				}
			}()

			sum, err := publish.Campaign(cmd.Context(), bucket, opts.output, opts.prefix, logger.Slog())
			if err != nil {
				return err
			}
			prefix := opts.prefix
			if prefix == "" {
				prefix = sum.CampaignID
			}
			a.stdoutPrinter().Success(fmt.Sprintf("published %d objects (%d bytes) to gs://%s/%s",
				len(sum.Objects), sum.Bytes, opts.bucket, prefix))
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.output, "output", "o", "", "Campaign output directory")
	cmd.Flags().StringVar(&opts.bucket, "bucket", "", "Destination bucket")
	cmd.Flags().StringVar(&opts.prefix, "prefix", "", "Object name prefix (default: campaign ID)")
	cmd.Flags().StringVar(&opts.credentials, "credentials", "", "Service account key file (default: application default credentials)")
	_ = cmd.MarkFlagRequired("output")
	_ = cmd.MarkFlagRequired("bucket")
	return cmd
}
