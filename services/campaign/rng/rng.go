// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package rng derives independent, reproducible random streams from a
// campaign seed.
//
// Every consumer of randomness (partitioning, fold assignment, tuning draws,
// tree bootstrapping) gets its own stream keyed by a label path, so adding a
// consumer never shifts the values another consumer sees.
package rng

import (
	"crypto/sha256"
	"encoding/binary"
	"math/rand/v2"
)

// Derive returns the sub-seed for the stream identified by labels.
//
// The result depends only on seed and the exact label sequence.
func Derive(seed uint64, labels ...string) uint64 {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seed)
	h.Write(buf[:])
	for _, l := range labels {
		h.Write([]byte{0})
		h.Write([]byte(l))
	}
	sum := h.Sum(nil)
	return binary.BigEndian.Uint64(sum[:8])
}

// New returns a PCG-backed generator for seed.
func New(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
}

// Stream is shorthand for New(Derive(seed, labels...)).
func Stream(seed uint64, labels ...string) *rand.Rand {
	return New(Derive(seed, labels...))
}
