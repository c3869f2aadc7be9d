// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package publish uploads completed campaign output directories to object
// storage.
package publish

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/AleutianAI/regsearch/services/campaign/checkpoint"
)

// Bucket receives uploaded objects.
type Bucket interface {
	Upload(ctx context.Context, object string, r io.Reader) error
}

// GCSBucket is a Google Cloud Storage bucket.
type GCSBucket struct {
	client *storage.Client
	name   string
}

// NewGCSBucket connects to bucket. An empty credentialsFile uses
// application default credentials.
func NewGCSBucket(ctx context.Context, bucket, credentialsFile string) (*GCSBucket, error) {
	if bucket == "" {
		return nil, errors.New("bucket name is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("service account key not accessible at %s: %w", credentialsFile, err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSBucket{client: client, name: bucket}, nil
}

// Name returns the bucket name.
func (b *GCSBucket) Name() string { return b.name }

// Upload writes r to object.
func (b *GCSBucket) Upload(ctx context.Context, object string, r io.Reader) error {
	w := b.client.Bucket(b.name).Object(object).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	w.CacheControl = "no-cache, no-store, must-revalidate"
	if _, err := io.Copy(w, r); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to copy to gs://%s/%s: %w", b.name, object, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close GCS writer for gs://%s/%s: %w", b.name, object, err)
	}
	return nil
}

// Close releases the client.
func (b *GCSBucket) Close() error { return b.client.Close() }

// Summary lists what Campaign uploaded.
type Summary struct {
	CampaignID string
	Objects    []string
	Bytes      int64
}

// Campaign uploads the completed campaign in dir under prefix.
//
// Description:
//
//	Only done campaigns are published. Every file except temp files is
//	uploaded under prefix (default: the campaign ID) with its relative
//	slash-separated path, and the done marker is uploaded last so that a
//	reader that sees it can rely on the rest being present.
//
// Inputs:
//
//	ctx - Context for cancellation.
//	bucket - Upload destination.
//	dir - Campaign output directory.
//	prefix - Object name prefix. Empty uses the campaign ID.
//	logger - Nil uses slog.Default().
//
// Outputs:
//
//	*Summary - The uploaded objects in upload order.
//	error - checkpoint.ErrNotDone if the campaign is not done, or the
//	        first upload failure.
func Campaign(ctx context.Context, bucket Bucket, dir, prefix string, logger *slog.Logger) (*Summary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	layout := checkpoint.Layout{Root: dir}
	done, err := layout.ReadDone()
	if err != nil {
		return nil, fmt.Errorf("publish %s: %w", dir, err)
	}
	if prefix == "" {
		prefix = done.CampaignID
	}

	var files []string
	err = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || checkpoint.IsTemp(d.Name()) {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		if rel == checkpoint.DoneFile {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	files = append(files, checkpoint.DoneFile)

	summary := &Summary{CampaignID: done.CampaignID}
	for _, rel := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		object := path.Join(prefix, rel)
		n, err := uploadFile(ctx, bucket, layout.Path(rel), object)
		if err != nil {
			return summary, err
		}
		summary.Objects = append(summary.Objects, object)
		summary.Bytes += n
		logger.Debug("uploaded", slog.String("object", object), slog.Int64("bytes", n))
	}
	logger.Info("campaign published",
		slog.String("campaign_id", done.CampaignID),
		slog.String("prefix", prefix),
		slog.Int("objects", len(summary.Objects)),
		slog.Int64("bytes", summary.Bytes),
	)
	return summary, nil
}

func uploadFile(ctx context.Context, bucket Bucket, local, object string) (int64, error) {
	f, err := os.Open(local)
	if err != nil {
		return 0, fmt.Errorf("failed to open the local file %s: %w", local, err)
	}
	defer f.Close()
	cr := &countingReader{r: f}
	if err := bucket.Upload(ctx, object, cr); err != nil {
		return cr.n, err
	}
	return cr.n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
