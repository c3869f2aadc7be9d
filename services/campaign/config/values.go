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
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/regsearch/services/campaign/estimator"
)

// Values is a hyperparameter's candidate list.
//
// In YAML it is either a scalar or a sequence of scalars. Integers and
// floats decode as numbers; everything else, including distribution
// expressions such as "loguniform(0.01,1)", decodes as text.
type Values []estimator.Value

// UnmarshalYAML implements yaml.Unmarshaler.
func (v *Values) UnmarshalYAML(node *yaml.Node) error {
	items := []*yaml.Node{node}
	switch node.Kind {
	case yaml.ScalarNode:
	case yaml.SequenceNode:
		items = node.Content
	default:
		return fmt.Errorf("line %d: hyperparameter values must be a scalar or a list", node.Line)
	}

	out := make(Values, 0, len(items))
	for _, n := range items {
		if n.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: hyperparameter value must be a scalar", n.Line)
		}
		switch n.ShortTag() {
		case "!!int", "!!float":
			f, err := strconv.ParseFloat(n.Value, 64)
			if err != nil {
				var i int64
				if decErr := n.Decode(&i); decErr != nil {
					return fmt.Errorf("line %d: invalid number %q", n.Line, n.Value)
				}
				f = float64(i)
			}
			out = append(out, estimator.Number(f))
		case "!!null":
			return fmt.Errorf("line %d: null hyperparameter value", n.Line)
		default:
			out = append(out, estimator.Text(n.Value))
		}
	}
	*v = out
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (v Values) MarshalYAML() (any, error) {
	out := make([]any, len(v))
	for i, x := range v {
		if x.IsStr {
			out[i] = x.Str
		} else {
			out[i] = x.Num
		}
	}
	return out, nil
}
