// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package estimator

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Value is a hyperparameter value: a number or a categorical string.
type Value struct {
	Num   float64
	Str   string
	IsStr bool
}

// Number returns a numeric Value.
func Number(f float64) Value { return Value{Num: f} }

// Text returns a categorical Value.
func Text(s string) Value { return Value{Str: s, IsStr: true} }

func (v Value) String() string {
	if v.IsStr {
		return v.Str
	}
	return strconv.FormatFloat(v.Num, 'g', -1, 64)
}

// Equal reports whether v and o hold the same value.
func (v Value) Equal(o Value) bool {
	if v.IsStr != o.IsStr {
		return false
	}
	if v.IsStr {
		return v.Str == o.Str
	}
	return v.Num == o.Num
}

// MarshalJSON encodes numbers as JSON numbers and text as JSON strings.
func (v Value) MarshalJSON() ([]byte, error) {
	if v.IsStr {
		return json.Marshal(v.Str)
	}
	return json.Marshal(v.Num)
}

// UnmarshalJSON accepts a JSON number or string.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = Text(s)
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("hyperparameter value: %w", err)
	}
	*v = Number(f)
	return nil
}

// Param is one named hyperparameter value.
type Param struct {
	Name  string `json:"name"`
	Value Value  `json:"value"`
}

// Assignment is a set of hyperparameter values sorted by name.
//
// The sorted form makes the JSON and gob encodings canonical.
type Assignment []Param

// NewAssignment builds a sorted assignment from a map.
func NewAssignment(m map[string]Value) Assignment {
	a := make(Assignment, 0, len(m))
	for k, v := range m {
		a = append(a, Param{Name: k, Value: v})
	}
	a.sort()
	return a
}

func (a Assignment) sort() {
	slices.SortFunc(a, func(x, y Param) int { return strings.Compare(x.Name, y.Name) })
}

// Get returns the named value.
func (a Assignment) Get(name string) (Value, bool) {
	for _, p := range a {
		if p.Name == name {
			return p.Value, true
		}
	}
	return Value{}, false
}

// Merge returns a sorted assignment of a overlaid with over.
func (a Assignment) Merge(over Assignment) Assignment {
	m := make(map[string]Value, len(a)+len(over))
	for _, p := range a {
		m[p.Name] = p.Value
	}
	for _, p := range over {
		m[p.Name] = p.Value
	}
	return NewAssignment(m)
}

// Clone returns a copy of a.
func (a Assignment) Clone() Assignment { return slices.Clone(a) }

// Equal reports element-wise equality.
func (a Assignment) Equal(b Assignment) bool {
	return slices.EqualFunc(a, b, func(x, y Param) bool {
		return x.Name == y.Name && x.Value.Equal(y.Value)
	})
}

func (a Assignment) String() string {
	parts := make([]string, len(a))
	for i, p := range a {
		parts[i] = p.Name + "=" + p.Value.String()
	}
	return strings.Join(parts, ",")
}

// number reads a numeric hyperparameter.
func (a Assignment) number(name string) (float64, error) {
	v, ok := a.Get(name)
	if !ok {
		return 0, fmt.Errorf("%w: %s missing", ErrInvalidHyperparameter, name)
	}
	if v.IsStr {
		f, err := strconv.ParseFloat(v.Str, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q is not numeric", ErrInvalidHyperparameter, name, v.Str)
		}
		return f, nil
	}
	return v.Num, nil
}

// text reads a categorical hyperparameter.
func (a Assignment) text(name string) (string, error) {
	v, ok := a.Get(name)
	if !ok {
		return "", fmt.Errorf("%w: %s missing", ErrInvalidHyperparameter, name)
	}
	return v.String(), nil
}
