// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/AleutianAI/regsearch/services/campaign/estimator"
	"github.com/AleutianAI/regsearch/services/campaign/prep"
	"github.com/AleutianAI/regsearch/services/campaign/search"
)

// identity is the result-affecting part of a configuration. Parallelism,
// logging, telemetry and the checkpoint backend are excluded because they
// never change what a campaign produces.
type identity struct {
	General          General                    `json:"general"`
	DataPreparation  DataPreparation            `json:"data_preparation"`
	FeatureSelection FeatureSelection           `json:"feature_selection"`
	Techniques       map[string]Hyperparameters `json:"techniques"`
}

// CampaignID returns a stable identifier for the campaign c describes.
//
// It is the hex sha256 of the canonical JSON encoding of the
// result-affecting settings. encoding/json sorts map keys, so the ID does
// not depend on YAML key order.
func (c *Config) CampaignID() string {
	data, err := json.Marshal(identity{
		General:          c.General,
		DataPreparation:  c.DataPreparation,
		FeatureSelection: c.FeatureSelection,
		Techniques:       c.Techniques,
	})
	if err != nil {
		// Every field is a plain value; Marshal cannot fail.
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16])
}

// Domain builds the search domain of technique.
func (c *Config) Domain(technique string) (search.Domain, error) {
	section := c.Techniques[technique]
	raw := make(map[string][]estimator.Value, len(section))
	for name, values := range section {
		raw[name] = values
	}
	return search.NewDomain(raw)
}

// Recipe returns the preparation recipe, without fitted scales.
func (c *Config) Recipe() prep.Recipe {
	dp := c.DataPreparation
	r := prep.NewRecipe(c.General.Target, dp.RenameColumns, dp.Inverse)
	r.Ernest = dp.Ernest
	r.ProductDegree = dp.ProductMaxDegree
	r.InteractionsOnly = dp.ProductInteractionsOnly
	r.Normalize = dp.Normalize
	return r
}

// LoadStep returns the CSV loading step for the configured input.
func (c *Config) LoadStep() prep.Load {
	return prep.Load{Path: c.DataPreparation.InputPath, Skip: c.DataPreparation.SkipColumns}
}

// SearchSpec returns the search specification for technique, seeded with
// the unit seed.
func (c *Config) SearchSpec(technique string, seed uint64) (search.Spec, error) {
	domain, err := c.Domain(technique)
	if err != nil {
		return search.Spec{}, err
	}
	metric, err := estimator.ParseMetric(c.General.Metric)
	if err != nil {
		return search.Spec{}, err
	}
	g, fs := c.General, c.FeatureSelection
	return search.Spec{
		Technique: technique,
		Domain:    domain,
		FeatureSelection: search.FeatureSelection{
			Method:              fs.Method,
			MaxFeatures:         fs.MaxFeatures,
			Folds:               fs.Folds,
			Tolerance:           fs.Tolerance,
			ImportanceTechnique: fs.ImportanceTechnique,
		},
		Validation: search.Validation{
			Scheme:       g.Validation.Scheme,
			Folds:        g.Validation.Folds,
			HoldOutRatio: g.Validation.HoldOutRatio,
			Shuffle:      g.Validation.Shuffle,
		},
		Tuning: search.Tuning{
			Mode:         g.Tuning.Mode,
			MaxEvals:     g.Tuning.MaxEvals,
			SaveInterval: g.Tuning.SaveInterval,
		},
		Metric:      metric,
		Seed:        seed,
		Parallelism: g.Parallelism,
	}, nil
}
