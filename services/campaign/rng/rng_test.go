// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package rng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDerive_Stable(t *testing.T) {
	a := Derive(42, "LRRidge", "tuning")
	b := Derive(42, "LRRidge", "tuning")
	assert.Equal(t, a, b)
}

func TestDerive_LabelsSeparateStreams(t *testing.T) {
	assert.NotEqual(t, Derive(42, "a"), Derive(42, "b"))
	assert.NotEqual(t, Derive(42, "ab"), Derive(42, "a", "b"))
	assert.NotEqual(t, Derive(1, "a"), Derive(2, "a"))
}

func TestStream_Reproducible(t *testing.T) {
	r1 := Stream(7, "partition")
	r2 := Stream(7, "partition")
	for i := 0; i < 16; i++ {
		assert.Equal(t, r1.Uint64(), r2.Uint64())
	}
}
