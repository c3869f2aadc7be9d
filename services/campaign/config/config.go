// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads and validates campaign configuration files.
//
// A configuration is a YAML document with the sections general,
// data_preparation, feature_selection, techniques, checkpoint, logging and
// telemetry. Decoding is strict: unknown keys and wrong types are errors.
// Every failure is reported as a *ConfigurationError before any output is
// written.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is a complete campaign configuration.
type Config struct {
	General          General                    `yaml:"general"`
	DataPreparation  DataPreparation            `yaml:"data_preparation"`
	FeatureSelection FeatureSelection           `yaml:"feature_selection"`
	Techniques       map[string]Hyperparameters `yaml:"techniques"`
	Checkpoint       Checkpoint                 `yaml:"checkpoint"`
	Logging          Logging                    `yaml:"logging"`
	Telemetry        Telemetry                  `yaml:"telemetry"`
}

// General holds campaign-wide settings.
type General struct {
	RunNum      int        `yaml:"run_num" json:"run_num"`
	Seed        int64      `yaml:"seed" json:"seed"`
	Target      string     `yaml:"y" json:"y" validate:"required"`
	Techniques  []string   `yaml:"techniques" json:"techniques" validate:"required,min=1,unique,dive,required"`
	Metric      string     `yaml:"metric" json:"metric" validate:"oneof=mape rmse mse mae"`
	TestRatio   float64    `yaml:"test_ratio" json:"test_ratio" validate:"gte=0,lt=1"`
	TestOnTrain bool       `yaml:"test_on_train" json:"test_on_train"`
	Parallelism int        `yaml:"parallelism" json:"-" validate:"gte=0"`
	Validation  Validation `yaml:"validation" json:"validation"`
	Tuning      Tuning     `yaml:"tuning" json:"tuning"`
}

// Validation selects how candidates are scored.
type Validation struct {
	Scheme       string  `yaml:"scheme" json:"scheme" validate:"oneof=kfold holdout"`
	HoldOutRatio float64 `yaml:"hold_out_ratio" json:"hold_out_ratio" validate:"gt=0,lt=1"`
	Folds        int     `yaml:"folds" json:"folds"`
	Shuffle      bool    `yaml:"shuffle" json:"shuffle"`
	AllowOverlap bool    `yaml:"allow_overlap" json:"allow_overlap"`
}

// Tuning selects exhaustive grid search or bounded sampling.
type Tuning struct {
	Mode         string `yaml:"mode" json:"mode" validate:"oneof=exhaustive bounded"`
	MaxEvals     int    `yaml:"max_evals" json:"max_evals" validate:"gte=0"`
	SaveInterval int    `yaml:"save_interval" json:"save_interval" validate:"gte=0"`
}

// DataPreparation configures the preparation pipeline.
type DataPreparation struct {
	InputPath               string            `yaml:"input_path" json:"input_path" validate:"required"`
	SkipColumns             []string          `yaml:"skip_columns,omitempty" json:"skip_columns" validate:"unique"`
	RenameColumns           map[string]string `yaml:"rename_columns,omitempty" json:"rename_columns" validate:"dive,keys,required,endkeys,required"`
	Inverse                 []string          `yaml:"inverse,omitempty" json:"inverse" validate:"unique,dive,required"`
	Ernest                  bool              `yaml:"ernest" json:"ernest"`
	ProductMaxDegree        int               `yaml:"product_max_degree" json:"product_max_degree" validate:"gte=0"`
	ProductInteractionsOnly bool              `yaml:"product_interactions_only" json:"product_interactions_only"`
	Normalize               bool              `yaml:"normalize" json:"normalize"`
	Features                []string          `yaml:"features,omitempty" json:"features" validate:"unique,dive,required"`
}

// FeatureSelection configures per-assignment feature subset search.
type FeatureSelection struct {
	Method              string  `yaml:"method" json:"method" validate:"oneof=none sfs importance"`
	MaxFeatures         int     `yaml:"max_features" json:"max_features" validate:"gte=0"`
	Folds               int     `yaml:"folds" json:"folds" validate:"gte=2"`
	Tolerance           float64 `yaml:"tolerance" json:"tolerance" validate:"gte=0,lte=1"`
	ImportanceTechnique string  `yaml:"importance_technique" json:"importance_technique" validate:"required"`
}

// Hyperparameters maps hyperparameter names to candidate values.
type Hyperparameters map[string]Values

// Checkpoint selects the checkpoint store backend.
type Checkpoint struct {
	Backend string `yaml:"backend" validate:"oneof=file badger"`
}

// Logging configures the process logger.
type Logging struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=auto text json"`
	LogDir string `yaml:"log_dir"`
}

// Telemetry configures trace and metric export.
type Telemetry struct {
	TraceExporter   string `yaml:"trace_exporter" validate:"oneof=none stdout otlp"`
	MetricExporter  string `yaml:"metric_exporter" validate:"oneof=none stdout prometheus"`
	OTLPEndpoint    string `yaml:"otlp_endpoint" validate:"required_if=TraceExporter otlp"`
	OTLPInsecure    bool   `yaml:"otlp_insecure"`
	MetricsTextfile string `yaml:"metrics_textfile"`
	PrometheusPort  int    `yaml:"prometheus_port" validate:"gte=0,lte=65535"`
}

// Default returns a configuration with every optional field set.
func Default() Config {
	return Config{
		General: General{
			RunNum: 1,
			Metric: "mape",
			Validation: Validation{
				Scheme:       "holdout",
				HoldOutRatio: 0.2,
				Folds:        5,
				Shuffle:      true,
			},
			Tuning: Tuning{Mode: "exhaustive"},
		},
		FeatureSelection: FeatureSelection{
			Method:              "none",
			Folds:               3,
			ImportanceTechnique: "DecisionTree",
		},
		Checkpoint: Checkpoint{Backend: "file"},
		Logging:    Logging{Level: "info", Format: "auto"},
		Telemetry: Telemetry{
			TraceExporter:  "none",
			MetricExporter: "none",
			OTLPEndpoint:   "localhost:4317",
		},
	}
}

// Load reads and decodes the configuration file at path.
//
// Description:
//
//	Decodes strictly over Default(), then resolves a relative
//	data_preparation.input_path against the directory holding path.
//	Load does not validate; call Validate before use.
//
// Inputs:
//
//	path - Configuration file path.
//
// Outputs:
//
//	*Config - The decoded configuration.
//	error - *ConfigurationError on read or decode failure.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigurationError{Reason: "cannot read configuration file", Err: err}
	}
	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, &ConfigurationError{Reason: "cannot resolve configuration directory", Err: err}
	}
	return Parse(data, abs)
}

// Parse decodes a configuration document.
//
// A relative input path is joined to baseDir.
func Parse(data []byte, baseDir string) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, &ConfigurationError{Err: ErrEmpty}
		}
		return nil, &ConfigurationError{Reason: "cannot decode YAML", Err: err}
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, &ConfigurationError{Reason: "expected a single YAML document"}
	}

	if p := cfg.DataPreparation.InputPath; p != "" && !filepath.IsAbs(p) && baseDir != "" {
		cfg.DataPreparation.InputPath = filepath.Join(baseDir, p)
	}
	return &cfg, nil
}

// Marshal encodes c as YAML. The result decodes back to an equal Config.
func (c *Config) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(c); err != nil {
		return nil, fmt.Errorf("encode configuration: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode configuration: %w", err)
	}
	return buf.Bytes(), nil
}
