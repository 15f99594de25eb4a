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

// Particles is the mandated structure-of-arrays particle container (§3,
// §9 "Polymorphism over particle storage"). Pack and UnpackParticles
// convert a whole container to and from the (k,4) wire buffer.
type Particles struct {
	Row []int32
	Col []int32
	Vol []float64
	Tau []float64
}

// Particle is a single particle tuple, the contents of one row of the
// WireParticles buffer. The functions in this file work on Particles
// containers and neither produce nor consume a Particle.
type Particle struct {
	Row, Col int32
	Vol, Tau float64
}

// NewParticles returns an empty container.
func NewParticles() *Particles { return &Particles{} }

// Len returns the number of particles.
func (p *Particles) Len() int { return len(p.Row) }

// Append adds one particle in place.
func (p *Particles) Append(row, col int32, vol, tau float64) {
	p.Row = append(p.Row, row)
	p.Col = append(p.Col, col)
	p.Vol = append(p.Vol, vol)
	p.Tau = append(p.Tau, tau)
}

// AppendAll concatenates other onto p in place, the "local_kept ⧺ received"
// rebuild named in §4.4.3.
func (p *Particles) AppendAll(other *Particles) {
	if other == nil {
		return
	}
	p.Row = append(p.Row, other.Row...)
	p.Col = append(p.Col, other.Col...)
	p.Vol = append(p.Vol, other.Vol...)
	p.Tau = append(p.Tau, other.Tau...)
}

// TotalVol sums the volume of every particle in the container.
func (p *Particles) TotalVol() float64 {
	var sum float64
	for _, v := range p.Vol {
		sum += v
	}
	return sum
}

// WireParticles is the packed (k,4) numeric buffer used for migration
// exchange (§5 "packed into a single homogeneous numeric buffer of shape
// (k,4)"), columns {row, col, vol, tau}.
type WireParticles = *sparse.DenseArray

// Pack coerces p into the wire buffer format.
func (p *Particles) Pack() WireParticles {
	k := p.Len()
	buf := sparse.ZerosDense(k, 4)
	for i := 0; i < k; i++ {
		buf.Set(float64(p.Row[i]), i, 0)
		buf.Set(float64(p.Col[i]), i, 1)
		buf.Set(p.Vol[i], i, 2)
		buf.Set(p.Tau[i], i, 3)
	}
	return buf
}

// UnpackParticles reverses Pack. buf's second dimension must be 4; the
// caller is expected to have validated this at the collective boundary
// (ErrKindMigration, per §7 "Migration payload corruption").
func UnpackParticles(buf WireParticles) *Particles {
	if buf == nil || buf.Shape[0] == 0 {
		return NewParticles()
	}
	k := buf.Shape[0]
	p := &Particles{
		Row: make([]int32, k),
		Col: make([]int32, k),
		Vol: make([]float64, k),
		Tau: make([]float64, k),
	}
	for i := 0; i < k; i++ {
		p.Row[i] = int32(buf.Get(i, 0))
		p.Col[i] = int32(buf.Get(i, 1))
		p.Vol[i] = buf.Get(i, 2)
		p.Tau[i] = buf.Get(i, 3)
	}
	return p
}

// ValidateWireShape checks the per-particle tuple width, the fatal
// migration-protocol-bug check named in §7.
func ValidateWireShape(buf WireParticles) error {
	const op = "flowterra.ValidateWireShape"
	if buf == nil {
		return nil
	}
	if len(buf.Shape) != 2 || buf.Shape[1] != 4 {
		return wrapErr(ErrKindMigration, op, migrationShapeErr{shape: buf.Shape})
	}
	return nil
}

type migrationShapeErr struct{ shape []int }

func (e migrationShapeErr) Error() string {
	return "migration buffer is not shaped (k,4)"
}

// SpawnParticles implements §4.4.1. volM3 is the per-cell spawned volume for
// this step (ΔQ·area·1e-3, already computed by RunoffVolumeM3), restricted
// to the caller's local slab; active marks eligible cells. targetVolM3 is
// v*. Returns the newly spawned particles and their total volume, used for
// the mass-balance diagnostic in §4.7.
//
// Adapted from the per-cell loop of InMAP's Calculations in run.go,
// restricted to this slab's local rows; unlike that loop it runs
// sequentially on the calling goroutine.
func SpawnParticles(slab Slab, volM3, active *sparse.DenseArray, targetVolM3 float64) (spawned *Particles, totalVolM3 float64) {
	spawned = NewParticles()
	w := volM3.Shape[1]
	for r := slab.R0; r < slab.R1; r++ {
		for c := 0; c < w; c++ {
			if active.Get(r, c) == 0 {
				continue
			}
			V := volM3.Get(r, c)
			if V <= 0 {
				continue
			}
			n := int(math.Round(V / targetVolM3))
			if n < 1 {
				n = 1
			}
			perParticle := V / float64(n)
			for i := 0; i < n; i++ {
				spawned.Append(int32(r), int32(c), perParticle, 0)
			}
			totalVolM3 += V
		}
	}
	return spawned, totalVolM3
}

// AdvectResult reports the outcome of one Advect call.
type AdvectResult struct {
	OutflowVolM3 float64
	NumHops      int
}

// Advect implements §4.4.2: decrements tau, moves every particle whose tau
// has reached zero one hop downstream (or, under the outflow-sink policy,
// removes it at a terminal cell), and returns the surviving particles in a
// new container (p is left untouched; callers overwrite their local
// container with the result, matching InMAP's convention of never
// mutating input slices that may still be read by a caller this tick).
//
// §9's open question on hopping onto an inactive cell is resolved as (b): a
// downstream neighbor that is itself inactive is treated identically to a
// terminal cell.
func Advect(p *Particles, dg *DirectionGraph, active, channelMask *sparse.DenseArray, dtS, travelOverlandS, travelChannelS float64, outflowSink bool) (*Particles, AdvectResult) {
	out := NewParticles()
	var res AdvectResult
	for i := 0; i < p.Len(); i++ {
		row, col, vol, tau := p.Row[i], p.Col[i], p.Vol[i], p.Tau[i]
		tau -= dtS
		if tau > 0 {
			out.Append(row, col, vol, tau)
			continue
		}
		hasDown := dg.HasDownstream(int(row), int(col))
		var nr, nc int
		if hasDown {
			nr, nc = dg.Downstream(int(row), int(col))
			if active != nil && active.Get(nr, nc) == 0 {
				hasDown = false
			}
		}
		if !hasDown {
			if outflowSink {
				res.OutflowVolM3 += vol
				res.NumHops++
				continue
			}
			out.Append(row, col, vol, tau)
			continue
		}
		cooldown := travelOverlandS
		if channelMask != nil && channelMask.Get(nr, nc) != 0 {
			cooldown = travelChannelS
		}
		out.Append(int32(nr), int32(nc), vol, tau+cooldown)
		res.NumHops++
	}
	return out, res
}

// Migrate implements §4.4.3's local half: it partitions particles into
// those that remain in mySlab and those that must be sent elsewhere,
// bucketed by destination rank via RankOfRow. The actual all-to-all
// exchange is the collective layer's job (collective.Group.
// AllToAllParticles); Migrate only computes the send buckets and the
// kept remainder so that it is independently testable without a Group.
func Migrate(p *Particles, mySlab Slab, slabs []Slab) (kept *Particles, send map[int]*Particles) {
	kept = NewParticles()
	send = make(map[int]*Particles)
	for i := 0; i < p.Len(); i++ {
		row := p.Row[i]
		if mySlab.Contains(int(row)) {
			kept.Append(row, p.Col[i], p.Vol[i], p.Tau[i])
			continue
		}
		dst := RankOfRow(slabs, int(row))
		b, ok := send[dst]
		if !ok {
			b = NewParticles()
			send[dst] = b
		}
		b.Append(row, p.Col[i], p.Vol[i], p.Tau[i])
	}
	return kept, send
}

// Deposit implements §4.4.4: scatter-adds each local particle's volume into
// a (slab.Rows())×W grid indexed by (row-r0, col). Dividing by cell area
// (left to the caller, since area may vary by row on geographic grids)
// yields the flood-depth snapshot.
func Deposit(p *Particles, slab Slab, w int) *sparse.DenseArray {
	dep := sparse.ZerosDense(slab.Rows(), w)
	for i := 0; i < p.Len(); i++ {
		r := int(p.Row[i]) - slab.R0
		c := int(p.Col[i])
		dep.Set(dep.Get(r, c)+p.Vol[i], r, c)
	}
	return dep
}
