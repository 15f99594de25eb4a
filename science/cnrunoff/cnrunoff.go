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

// Package cnrunoff implements the SCS curve-number runoff law used to
// convert cumulative precipitation into cumulative direct runoff.
//
// Grounded on the small, single-purpose science function pattern in the
// InMAP's science/chem package (e.g. simplechem.go), where each
// atmospheric-chemistry law is a standalone function of its inputs with no
// hidden state, composed into the larger model by the caller.
package cnrunoff

import (
	"math"

	"github.com/ctessum/sparse"
)

// Model implements the SCS curve-number law (§4.3):
//
//	S  = 25400/CN - 254     (potential maximum retention, mm)
//	Ia = lambda * S         (initial abstraction, mm)
//	Q  = (P-Ia)^2 / (P-Ia+S)   if P > Ia
//	Q  = 0                     otherwise
//
// Lambda is the initial-abstraction ratio, conventionally 0.2 but
// configurable (§4.3, §2 Config.SCS.IaRatio).
type Model struct {
	Lambda float64
}

// New returns a Model with the given initial-abstraction ratio.
func New(lambda float64) *Model {
	return &Model{Lambda: lambda}
}

// Runoff computes cumulative runoff Q_mm cell-wise from cumulative
// precipitation P_mm and curve number CN, restricted to the active mask.
// Inactive cells are left at zero.
func (m *Model) Runoff(P, CN, active *sparse.DenseArray) *sparse.DenseArray {
	Q := sparse.ZerosDense(P.Shape...)
	for i, p := range P.Elements {
		if active.Elements[i] == 0 {
			continue
		}
		Q.Elements[i] = CellRunoff(p, CN.Elements[i], m.Lambda)
	}
	return Q
}

// CellRunoff evaluates the SCS-CN law for a single cell. cn must be in
// (0, 100]; a cn of 100 corresponds to S=0 (fully impervious, Q=P whenever
// P>0). An invalid cn (outside (0,100]) or a non-finite cn/pMM yields Q=0,
// never NaN, per §4.3/§7 and the mask (CNv>0) & (CNv<=100) &
// isfinite(CNv) & isfinite(P) applied upstream of the runoff law.
func CellRunoff(pMM, cn, lambda float64) float64 {
	if cn <= 0 || cn > 100 || math.IsNaN(cn) || math.IsInf(cn, 0) ||
		math.IsNaN(pMM) || math.IsInf(pMM, 0) {
		return 0
	}
	s := 25400/cn - 254
	if s < 0 {
		s = 0
	}
	ia := lambda * s
	if pMM <= ia {
		return 0
	}
	num := pMM - ia
	return num * num / (num + s)
}
