// Copyright © 2013 the InMAP authors.
// This file is part of InMAP.
//
// InMAP is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// InMAP is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with InMAP.  If not, see <http://www.gnu.org/licenses/>.

// Package riskindex computes the percentile-clipped normalization and
// convex-combination flood-risk index described in the domain spec's risk
// section.
//
// Grounded on InMAP's science package convention of small, pure
// functions over *sparse.DenseArray fields; uses gonum.org/v1/gonum/stat for
// the percentile/quantile computation rather than hand-rolling one, the way
// the pack's gonum-dependent repos lean on gonum/stat for summary
// statistics.
package riskindex

import (
	"math"
	"sort"

	"github.com/ctessum/sparse"
	"gonum.org/v1/gonum/stat"
)

// Normalize performs percentile-clipped min-max normalization of field over
// the active mask: values at or below the pLow percentile map to 0, values
// at or above pHigh map to 1, and values between are linearly scaled. pLow
// and pHigh are in [0,100]. Per §4.6, inactive cells are always NaN; if the
// clip bounds collapse (hi<=lo) or either is non-finite, active cells are 0
// rather than NaN.
func Normalize(field, active *sparse.DenseArray, pLow, pHigh float64) *sparse.DenseArray {
	var vals []float64
	for i, v := range field.Elements {
		if active.Elements[i] != 0 {
			vals = append(vals, v)
		}
	}
	out := sparse.ZerosDense(field.Shape...)
	for i := range out.Elements {
		out.Elements[i] = math.NaN()
	}
	if len(vals) == 0 {
		return out
	}
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)

	lo := stat.Quantile(pLow/100, stat.LinInterp, sorted, nil)
	hi := stat.Quantile(pHigh/100, stat.LinInterp, sorted, nil)

	degenerate := math.IsNaN(lo) || math.IsNaN(hi) || math.IsInf(lo, 0) || math.IsInf(hi, 0) || hi <= lo
	span := hi - lo
	for i, v := range field.Elements {
		if active.Elements[i] == 0 {
			continue
		}
		var n float64
		switch {
		case degenerate:
			n = 0
		case v <= lo:
			n = 0
		case v >= hi:
			n = 1
		default:
			n = (v - lo) / span
		}
		out.Elements[i] = n
	}
	return out
}

// Index combines two normalized fields into the convex-combination risk
// index R = balance*normQ + (1-balance)*normA, restricted to the active
// mask. balance must already be clamped to [0,1] by the caller (Config
// validation does this). Per §4.6, R is NaN outside the active mask.
func Index(normQ, normA, active *sparse.DenseArray, balance float64) *sparse.DenseArray {
	out := sparse.ZerosDense(normQ.Shape...)
	for i := range out.Elements {
		if active.Elements[i] == 0 {
			out.Elements[i] = math.NaN()
			continue
		}
		out.Elements[i] = balance*normQ.Elements[i] + (1-balance)*normA.Elements[i]
	}
	return out
}
