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

package flowterra

import (
	"math"

	"github.com/ctessum/sparse"
)

// RainfallMode names how a source's raw value is interpreted (§6.2).
type RainfallMode string

const (
	ModeIntensityMMPH  RainfallMode = "intensity_mmph"
	ModeDepthMMPerStep RainfallMode = "depth_mm_per_step"
)

// RainfallSampler is the capability named in §9 "polymorphism over rainfall
// source": a tagged variant {Scalar, Gridded} sharing one sample signature.
// Concrete implementations live in gridio (ScalarSource backed by a literal
// value, GriddedSource backed by cdf.File), mirroring the root-package
// interface / leaf-subpackage implementation split used for RunoffModel and
// RiskModel.
type RainfallSampler interface {
	// Sample returns the H×W raw field for the given step index / simulation
	// time, in this source's native mode.
	Sample(stepIdx int, simTimeS float64) (*sparse.DenseArray, error)
	Weight() float64
	Mode() RainfallMode
}

// AcquireRainfall implements the blended-sum half of §4.7 step 1 and §6.2:
// for each source, sample its raw field, convert to mm/step, clamp
// non-finite and negative values to 0, then take the weighted sum across
// sources. dtS is the step length, used to convert intensity (mm/h) to
// depth (mm/step).
func AcquireRainfall(sources []RainfallSampler, stepIdx int, simTimeS, dtS float64, h, w int) (*sparse.DenseArray, error) {
	total := sparse.ZerosDense(h, w)
	for _, src := range sources {
		field, err := src.Sample(stepIdx, simTimeS)
		if err != nil {
			return nil, err
		}
		weight := src.Weight()
		factor := 1.0
		if src.Mode() == ModeIntensityMMPH {
			factor = dtS / 3600
		}
		for i, v := range field.Elements {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			if v < 0 {
				v = 0
			}
			total.Elements[i] += weight * v * factor
		}
	}
	return total, nil
}

// IntegrateRainfall implements §4.7 step 2: P_mm += rain_step_mm, restricted
// to active cells.
func IntegrateRainfall(P, rainStepMM, active *sparse.DenseArray) {
	for i, v := range rainStepMM.Elements {
		if active.Elements[i] == 0 {
			continue
		}
		P.Elements[i] += v
	}
}
