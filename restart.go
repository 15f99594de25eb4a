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

// SchemaVersion is bumped whenever RestartState's shape changes in a way
// that breaks gob-decoding an older checkpoint.
const SchemaVersion = 1

// RestartState is the self-sufficient checkpoint bundle of §6.3: gathered
// (rank-0, whole-grid) P/Q fields, the full gathered particle population,
// the driver's global accumulators, and a provenance stamp. gridio owns the
// gob encode/decode (save.go's pattern); this struct is the pure data the
// core hands to gridio and receives back on restore.
type RestartState struct {
	SchemaVersion int
	ConfigHash    string // sha256 over canonicalized config, set by gridio

	PMM *FieldSnapshot
	QMM *FieldSnapshot

	Row []int32
	Col []int32
	Vol []float64
	Tau []float64

	StepIdx        int
	ElapsedS       float64
	CumRainVolM3   float64
	CumRunoffVolM3 float64
	CumOutflowVolM3 float64
}

// FieldSnapshot is a gob-friendly flattened H×W float64 field (sparse's
// DenseArray gob-encodes fine on its own, but a small explicit type keeps
// the restart bundle's shape self-describing without depending on sparse's
// internal layout staying stable across versions).
type FieldSnapshot struct {
	H, W     int
	Elements []float64
}

// NewRestartState captures a driver's current state into a restart bundle.
func NewRestartState(d *StepDriver) *RestartState {
	p := d.Particles
	return &RestartState{
		SchemaVersion:   SchemaVersion,
		PMM:             snapshotField(d.PMM),
		QMM:             snapshotField(d.QMM),
		Row:             append([]int32(nil), p.Row...),
		Col:             append([]int32(nil), p.Col...),
		Vol:             append([]float64(nil), p.Vol...),
		Tau:             append([]float64(nil), p.Tau...),
		StepIdx:         d.StepIdx,
		ElapsedS:        d.ElapsedS,
		CumRainVolM3:    d.CumRainVolM3,
		CumRunoffVolM3:  d.CumRunoffVolM3,
		CumOutflowVolM3: d.CumOutflowVolM3,
	}
}

// Restore applies a restart bundle onto a driver that has already completed
// domain load, broadcast, direction-graph build, and slab decomposition
// (i.e. is in the READY state), satisfying Testable Property 5.
func (rs *RestartState) Restore(d *StepDriver) {
	d.PMM = rs.PMM.toField()
	d.QMM = rs.QMM.toField()
	d.Particles = &Particles{
		Row: append([]int32(nil), rs.Row...),
		Col: append([]int32(nil), rs.Col...),
		Vol: append([]float64(nil), rs.Vol...),
		Tau: append([]float64(nil), rs.Tau...),
	}
	d.StepIdx = rs.StepIdx
	d.ElapsedS = rs.ElapsedS
	d.CumRainVolM3 = rs.CumRainVolM3
	d.CumRunoffVolM3 = rs.CumRunoffVolM3
	d.CumOutflowVolM3 = rs.CumOutflowVolM3
}

func snapshotField(f *sparse.DenseArray) *FieldSnapshot {
	return &FieldSnapshot{H: f.Shape[0], W: f.Shape[1], Elements: append([]float64(nil), f.Elements...)}
}

func (s *FieldSnapshot) toField() *sparse.DenseArray {
	f := sparse.ZerosDense(s.H, s.W)
	copy(f.Elements, s.Elements)
	return f
}
