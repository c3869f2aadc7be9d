// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Level Tests
// =============================================================================

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.String())
		})
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    Level
		wantErr bool
	}{
		{"debug", LevelDebug, false},
		{"INFO", LevelInfo, false},
		{"", LevelInfo, false},
		{"warning", LevelWarn, false},
		{" error ", LevelError, false},
		{"verbose", LevelInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseLevel(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

// =============================================================================
// Logger Tests
// =============================================================================

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: FormatText, Service: "regsearch", Output: &buf})
	defer logger.Close()

	logger.Info("unit complete", "unit", "LRRidge")

	out := buf.String()
	assert.Contains(t, out, "msg=\"unit complete\"")
	assert.Contains(t, out, "unit=LRRidge")
	assert.Contains(t, out, "service=regsearch")
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: FormatJSON, Output: &buf})
	defer logger.Close()

	logger.Warn("retrying", "attempt", 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "retrying", rec["msg"])
	assert.EqualValues(t, 2, rec["attempt"])
}

func TestNew_AutoFormatNonFileIsText(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: FormatAuto, Output: &buf})
	logger.Info("hello")
	assert.True(t, strings.HasPrefix(buf.String(), "time="))
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Level: LevelWarn, Format: FormatText, Output: &buf})

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn message")
	logger.Error("error message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
	assert.Contains(t, out, "error message")
}

func TestNew_QuietMode(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Quiet: true, Output: &buf})
	logger.Error("should not appear")
	assert.Empty(t, buf.String())
	assert.NoError(t, logger.Close())
}

func TestNew_WithLogDir(t *testing.T) {
	dir := t.TempDir()
	var buf bytes.Buffer
	logger := New(Config{LogDir: dir, Service: "campaign", Format: FormatText, Output: &buf})

	logger.Info("to both sinks", "k", "v")
	require.NoError(t, logger.Close())

	matches, err := filepath.Glob(filepath.Join(dir, "campaign_*.log"))
	require.NoError(t, err)
	require.Len(t, matches, 1)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "to both sinks", rec["msg"])
	assert.Equal(t, "campaign", rec["service"])
	assert.Contains(t, buf.String(), "to both sinks")
}

func TestNew_WithLogDir_InvalidPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	var buf bytes.Buffer
	logger := New(Config{LogDir: filepath.Join(blocker, "logs"), Format: FormatText, Output: &buf})
	logger.Info("still works")

	assert.Contains(t, buf.String(), "file sink disabled")
	assert.Contains(t, buf.String(), "still works")
	assert.NoError(t, logger.Close())
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: FormatText, Output: &buf})
	child := logger.With("campaign_id", "abc")

	child.Info("child message")
	assert.Contains(t, buf.String(), "campaign_id=abc")
}

func TestLogger_Slog(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Config{Format: FormatText, Output: &buf})
	logger.Slog().Info("via slog", slog.Int("n", 3))
	assert.Contains(t, buf.String(), "n=3")
}

func TestLogger_CloseTwice(t *testing.T) {
	logger := New(Config{LogDir: t.TempDir(), Quiet: true})
	require.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestLogger_ConcurrentUse(t *testing.T) {
	var buf safeBuffer
	logger := New(Config{Format: FormatJSON, Output: &buf})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				logger.Info("tick", "worker", i, "n", j)
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 400)
}

// =============================================================================
// multiHandler Tests
// =============================================================================

func TestMultiHandler_FansOut(t *testing.T) {
	var a, b bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{
		slog.NewTextHandler(&a, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&b, &slog.HandlerOptions{Level: slog.LevelError}),
	}}
	logger := slog.New(h.WithAttrs([]slog.Attr{slog.String("svc", "x")}))

	assert.True(t, h.Enabled(context.Background(), slog.LevelDebug))
	logger.Info("info only to a")
	logger.Error("error to both")

	assert.Contains(t, a.String(), "info only to a")
	assert.Contains(t, a.String(), "svc=x")
	assert.NotContains(t, b.String(), "info only to a")
	assert.Contains(t, b.String(), "error to both")
}

func TestMultiHandler_WithGroup(t *testing.T) {
	var a bytes.Buffer
	h := &multiHandler{handlers: []slog.Handler{slog.NewTextHandler(&a, nil)}}
	slog.New(h.WithGroup("unit")).Info("grouped", "id", "LRRidge")
	assert.Contains(t, a.String(), "unit.id=LRRidge")
}

func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "logs"), expandPath("~/logs"))
	assert.Equal(t, "/var/log", expandPath("/var/log"))
	assert.Equal(t, "", expandPath(""))
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
