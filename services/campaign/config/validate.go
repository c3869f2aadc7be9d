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
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/regsearch/services/campaign/estimator"
	"github.com/AleutianAI/regsearch/services/campaign/search"
)

// configValidate checks struct tags. Field names are reported by their
// YAML keys.
var configValidate *validator.Validate

func init() {
	configValidate = validator.New(validator.WithRequiredStructEnabled())
	configValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
}

// Validate checks c against the techniques in registry.
//
// Description:
//
//	Runs struct tag validation, then the cross-field rules: run_num must
//	be 1, every listed technique must be registered and have a
//	techniques section with accepted hyperparameter names, distributions
//	must parse and are only allowed in bounded tuning, save_interval
//	requires bounded tuning, and k-fold needs at least two folds.
//
// Inputs:
//
//	registry - Known estimators. Nil uses estimator.DefaultRegistry().
//
// Outputs:
//
//	error - *ConfigurationError describing the first violation, or nil.
func (c *Config) Validate(registry *estimator.Registry) error {
	if registry == nil {
		registry = estimator.DefaultRegistry()
	}
	// run_num is checked first so that a rerun request is always reported
	// as such, whatever else is wrong.
	if c.General.RunNum != 1 {
		return fieldError("general.run_num", "must be 1, got %d", c.General.RunNum)
	}
	if err := configValidate.Struct(c); err != nil {
		return tagError(err)
	}

	g := c.General
	if g.Validation.Scheme == search.SchemeKFold && g.Validation.Folds < 2 {
		return fieldError("general.validation.folds", "k-fold needs at least 2 folds, got %d", g.Validation.Folds)
	}
	if g.Validation.AllowOverlap && g.Validation.Scheme != search.SchemeHoldOut {
		return fieldError("general.validation.allow_overlap", "only allowed with the holdout scheme")
	}
	if g.TestOnTrain && !g.Validation.AllowOverlap {
		return fieldError("general.test_on_train", "requires general.validation.allow_overlap")
	}
	if g.TestOnTrain && g.TestRatio > 0 {
		return fieldError("general.test_on_train", "cannot be combined with test_ratio")
	}
	if g.Tuning.Mode == search.ModeBounded && g.Tuning.MaxEvals < 1 {
		return fieldError("general.tuning.max_evals", "bounded tuning needs max_evals >= 1")
	}
	if g.Tuning.SaveInterval > 0 && g.Tuning.Mode != search.ModeBounded {
		return fieldError("general.tuning.save_interval", "only allowed with bounded tuning")
	}
	if slices.Contains(c.DataPreparation.Features, g.Target) {
		return fieldError("data_preparation.features", "target %q listed as a feature", g.Target)
	}

	for _, name := range g.Techniques {
		if err := c.validateTechnique(registry, name); err != nil {
			return err
		}
	}
	for name := range c.Techniques {
		if !slices.Contains(g.Techniques, name) {
			return fieldError("techniques."+name, "section for a technique not listed in general.techniques")
		}
	}

	if c.FeatureSelection.Method == search.MethodImportance {
		if _, err := registry.Lookup(c.FeatureSelection.ImportanceTechnique); err != nil {
			return &ConfigurationError{Field: "feature_selection.importance_technique", Err: err}
		}
	}
	return nil
}

func (c *Config) validateTechnique(registry *estimator.Registry, name string) error {
	field := "techniques." + name
	est, err := registry.Lookup(name)
	if err != nil {
		return &ConfigurationError{Field: "general.techniques", Err: err}
	}
	section, ok := c.Techniques[name]
	if !ok {
		return fieldError(field, "missing section")
	}
	if len(section) == 0 {
		return fieldError(field, "no hyperparameters configured")
	}
	defaults := est.Defaults()
	for hp, values := range section {
		if _, ok := defaults.Get(hp); !ok {
			return &ConfigurationError{
				Field: field + "." + hp,
				Err:   fmt.Errorf("%w: %s does not accept it", estimator.ErrUnknownHyperparameter, name),
			}
		}
		if len(values) == 0 {
			return fieldError(field+"."+hp, "empty value list")
		}
	}
	domain, err := c.Domain(name)
	if err != nil {
		return &ConfigurationError{Field: field, Err: err}
	}
	if c.General.Tuning.Mode == search.ModeExhaustive && !domain.Enumerable() {
		return &ConfigurationError{
			Field: field,
			Err:   fmt.Errorf("%w: distributions require bounded tuning", search.ErrNotEnumerable),
		}
	}
	return nil
}

// tagError converts the first validator failure to a ConfigurationError.
func tagError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return &ConfigurationError{Err: err}
	}
	fe := verrs[0]
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	reason := fmt.Sprintf("failed %q validation", fe.Tag())
	if fe.Param() != "" {
		reason = fmt.Sprintf("failed %q validation (%s)", fe.Tag(), fe.Param())
	}
	return &ConfigurationError{Field: field, Reason: reason}
}
