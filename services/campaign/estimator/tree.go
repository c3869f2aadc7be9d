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
	"encoding/gob"
	"fmt"
	"math"
	"math/rand/v2"
	"slices"

	"github.com/AleutianAI/regsearch/services/campaign/rng"
)

// DecisionTree is a CART regression tree with squared-error splits.
//
// min_samples_split and min_samples_leaf below 1 are fractions of the
// training rows. max_features is auto, sqrt, log2, a fraction (<= 1) or a
// count.
type DecisionTree struct{}

func (DecisionTree) Name() string { return "DecisionTree" }

func (DecisionTree) Defaults() Assignment {
	return Assignment{
		{Name: "criterion", Value: Text("mse")},
		{Name: "max_depth", Value: Number(0)},
		{Name: "max_features", Value: Text("auto")},
		{Name: "min_samples_leaf", Value: Number(1)},
		{Name: "min_samples_split", Value: Number(2)},
		{Name: "random_state", Value: Number(0)},
	}
}

func (e DecisionTree) Fit(X [][]float64, y []float64, hp Assignment) (Model, error) {
	n, p, err := checkShape(X, y)
	if err != nil {
		return nil, err
	}
	hp, err = Resolve(e, hp)
	if err != nil {
		return nil, err
	}
	params, err := parseTreeParams(hp, n, p)
	if err != nil {
		return nil, err
	}
	rows := make([]int, n)
	for i := range rows {
		rows[i] = i
	}
	return growTree(X, y, rows, params, rng.Stream(params.seed, "tree")), nil
}

func (DecisionTree) Decode(data []byte) (Model, error) {
	var m TreeModel
	if err := m.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("decode tree model: %w", err)
	}
	return &m, nil
}

type treeParams struct {
	maxDepth    int
	minSplit    int
	minLeaf     int
	maxFeatures int
	seed        uint64
}

func parseTreeParams(hp Assignment, n, p int) (treeParams, error) {
	var tp treeParams

	criterion, err := hp.text("criterion")
	if err != nil {
		return tp, err
	}
	switch criterion {
	case "mse", "squared_error", "friedman_mse":
	default:
		return tp, fmt.Errorf("%w: criterion=%q", ErrInvalidHyperparameter, criterion)
	}

	depth, err := hp.number("max_depth")
	if err != nil {
		return tp, err
	}
	if depth < 0 {
		return tp, fmt.Errorf("%w: max_depth=%v", ErrInvalidHyperparameter, depth)
	}
	tp.maxDepth = int(depth)

	split, err := hp.number("min_samples_split")
	if err != nil {
		return tp, err
	}
	tp.minSplit, err = sampleCount("min_samples_split", split, n)
	if err != nil {
		return tp, err
	}
	tp.minSplit = max(tp.minSplit, 2)

	leaf, err := hp.number("min_samples_leaf")
	if err != nil {
		return tp, err
	}
	tp.minLeaf, err = sampleCount("min_samples_leaf", leaf, n)
	if err != nil {
		return tp, err
	}

	tp.maxFeatures, err = featureCount(hp, p)
	if err != nil {
		return tp, err
	}

	seed, err := hp.number("random_state")
	if err != nil {
		return tp, err
	}
	tp.seed = uint64(int64(seed))
	return tp, nil
}

// sampleCount converts a fraction (< 1) or count (>= 1) to a row count.
func sampleCount(name string, v float64, n int) (int, error) {
	switch {
	case v <= 0:
		return 0, fmt.Errorf("%w: %s=%v must be positive", ErrInvalidHyperparameter, name, v)
	case v < 1:
		return max(1, int(math.Ceil(v*float64(n)))), nil
	default:
		return int(v), nil
	}
}

func featureCount(hp Assignment, p int) (int, error) {
	v, _ := hp.Get("max_features")
	if v.IsStr {
		switch v.Str {
		case "auto", "none", "":
			return p, nil
		case "sqrt":
			return max(1, int(math.Sqrt(float64(p)))), nil
		case "log2":
			return max(1, int(math.Log2(float64(p)))), nil
		default:
			return 0, fmt.Errorf("%w: max_features=%q", ErrInvalidHyperparameter, v.Str)
		}
	}
	switch {
	case v.Num <= 0:
		return 0, fmt.Errorf("%w: max_features=%v", ErrInvalidHyperparameter, v.Num)
	case v.Num <= 1:
		return max(1, int(math.Ceil(v.Num*float64(p)))), nil
	default:
		return min(p, int(v.Num)), nil
	}
}

// TreeNode is one node of a flattened tree. Leaves carry Value; internal
// nodes send rows with X[Feature] <= Threshold to Left.
type TreeNode struct {
	Feature   int
	Threshold float64
	Left      int
	Right     int
	Value     float64
	Leaf      bool
}

// TreeModel is a fitted regression tree.
type TreeModel struct {
	Nodes      []TreeNode
	Importance []float64
}

type treeState TreeModel

func (m *TreeModel) Predict(X [][]float64) []float64 {
	out := make([]float64, len(X))
	for i, row := range X {
		out[i] = m.predictRow(row)
	}
	return out
}

func (m *TreeModel) predictRow(row []float64) float64 {
	k := 0
	for !m.Nodes[k].Leaf {
		nd := m.Nodes[k]
		if row[nd.Feature] <= nd.Threshold {
			k = nd.Left
		} else {
			k = nd.Right
		}
	}
	return m.Nodes[k].Value
}

// Importances returns the normalized impurity decrease per feature.
func (m *TreeModel) Importances() []float64 { return slices.Clone(m.Importance) }

func (m *TreeModel) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode((*treeState)(m)); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type treeBuilder struct {
	X      [][]float64
	y      []float64
	p      treeParams
	r      *rand.Rand
	nodes  []TreeNode
	gain   []float64
	nFeats int
}

// growTree fits a tree on the given rows. Rows may repeat (bootstrap).
func growTree(X [][]float64, y []float64, rows []int, p treeParams, r *rand.Rand) *TreeModel {
	b := &treeBuilder{X: X, y: y, p: p, r: r, nFeats: len(X[0])}
	b.gain = make([]float64, b.nFeats)
	b.build(rows, 0)

	var total float64
	for _, g := range b.gain {
		total += g
	}
	if total > 0 {
		for i := range b.gain {
			b.gain[i] /= total
		}
	}
	return &TreeModel{Nodes: b.nodes, Importance: b.gain}
}

func (b *treeBuilder) build(rows []int, depth int) int {
	var sum, sumSq float64
	for _, r := range rows {
		sum += b.y[r]
		sumSq += b.y[r] * b.y[r]
	}
	n := float64(len(rows))
	idx := len(b.nodes)
	b.nodes = append(b.nodes, TreeNode{Leaf: true, Value: sum / n})

	if b.p.maxDepth > 0 && depth >= b.p.maxDepth {
		return idx
	}
	if len(rows) < b.p.minSplit || len(rows) < 2*b.p.minLeaf {
		return idx
	}
	parentSSE := sumSq - sum*sum/n
	if parentSSE <= 1e-12 {
		return idx
	}

	feature, threshold, gain, ok := b.bestSplit(rows, parentSSE)
	if !ok {
		return idx
	}
	b.gain[feature] += gain

	var left, right []int
	for _, r := range rows {
		if b.X[r][feature] <= threshold {
			left = append(left, r)
		} else {
			right = append(right, r)
		}
	}
	l := b.build(left, depth+1)
	rt := b.build(right, depth+1)
	b.nodes[idx] = TreeNode{Feature: feature, Threshold: threshold, Left: l, Right: rt}
	return idx
}

// bestSplit scans candidate features for the split with the largest SSE
// reduction. Ties keep the first split found.
func (b *treeBuilder) bestSplit(rows []int, parentSSE float64) (feature int, threshold, gain float64, ok bool) {
	features := make([]int, b.nFeats)
	for i := range features {
		features[i] = i
	}
	if b.p.maxFeatures < b.nFeats {
		perm := b.r.Perm(b.nFeats)
		features = perm[:b.p.maxFeatures]
		slices.Sort(features)
	}

	sorted := make([]int, len(rows))
	n := len(rows)
	for _, f := range features {
		copy(sorted, rows)
		slices.SortStableFunc(sorted, func(a, c int) int {
			switch {
			case b.X[a][f] < b.X[c][f]:
				return -1
			case b.X[a][f] > b.X[c][f]:
				return 1
			}
			return 0
		})

		var totSum, totSq float64
		for _, r := range sorted {
			totSum += b.y[r]
			totSq += b.y[r] * b.y[r]
		}
		var lSum, lSq float64
		for i := 0; i < n-1; i++ {
			v := b.y[sorted[i]]
			lSum += v
			lSq += v * v
			nl := i + 1
			nr := n - nl
			if nl < b.p.minLeaf || nr < b.p.minLeaf {
				continue
			}
			lo, hi := b.X[sorted[i]][f], b.X[sorted[i+1]][f]
			if lo == hi {
				continue
			}
			rSum, rSq := totSum-lSum, totSq-lSq
			sse := (lSq - lSum*lSum/float64(nl)) + (rSq - rSum*rSum/float64(nr))
			g := parentSSE - sse
			if g > gain+1e-12 {
				feature, gain, ok = f, g, true
				threshold = lo + (hi-lo)/2
				if threshold >= hi {
					threshold = lo
				}
			}
		}
	}
	return feature, threshold, gain, ok
}

func (m *TreeModel) UnmarshalBinary(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode((*treeState)(m))
}
