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

import "github.com/ctessum/sparse"

// RunoffModel converts cumulative precipitation to cumulative runoff,
// cell-wise, over the active mask (§4.3). The SCS curve-number law lives in
// science/cnrunoff; this interface is the seam InMAP's
// science/chem/simplechem.Mechanism pattern suggests for swapping the law
// without touching the particle engine.
type RunoffModel interface {
	// Runoff returns cumulative runoff Q_mm given cumulative precipitation
	// P_mm, the curve-number raster CN, and the active mask.
	Runoff(P, CN, active *sparse.DenseArray) (Q *sparse.DenseArray)
}

// UpdateRunoff advances Q_mm given the latest P_mm, returning the
// incremental runoff ΔQ_mm = max(0, Q_new - Q_mm) and leaving Q_mm updated
// in place (§4.7 step 3). Both P and Q must be zero on inactive cells,
// maintained by the caller per the invariant in §3.
func UpdateRunoff(model RunoffModel, P, Q, CN, active *sparse.DenseArray) (deltaQ *sparse.DenseArray) {
	Qnew := model.Runoff(P, CN, active)
	deltaQ = sparse.ZerosDense(Qnew.Shape...)
	for i, qn := range Qnew.Elements {
		d := qn - Q.Elements[i]
		if d > 0 {
			deltaQ.Elements[i] = d
		}
		Q.Elements[i] = qn
	}
	return deltaQ
}

// RunoffVolumeM3 converts an incremental runoff depth field (mm) to a
// volume field (m³), multiplying by cell area and the mm-to-m factor 1e-3
// (§4.3).
func RunoffVolumeM3(g *Grid, deltaQmm *sparse.DenseArray) *sparse.DenseArray {
	vol := sparse.ZerosDense(deltaQmm.Shape...)
	for r := 0; r < g.H; r++ {
		area := g.CellArea(r, 0)
		for c := 0; c < g.W; c++ {
			if g.Geographic {
				area = g.CellArea(r, c)
			}
			vol.Set(deltaQmm.Get(r, c)*area*1e-3, r, c)
		}
	}
	return vol
}
