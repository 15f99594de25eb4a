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

import "sort"

// Slab is one worker's contiguous row range [R0, R1) (§3, §4.2).
type Slab struct {
	R0, R1 int
}

// Rows returns the number of rows in the slab.
func (s Slab) Rows() int { return s.R1 - s.R0 }

// Contains reports whether row r belongs to this slab.
func (s Slab) Contains(r int) bool { return r >= s.R0 && r < s.R1 }

// Slabs deterministically partitions H rows across N workers: floor
// division plus remainder-to-low-ranks, per §4.2. The first H mod N
// workers receive ⌈H/N⌉ rows; the rest receive ⌊H/N⌋ rows. This is the
// same partition used whether the group is a LocalGroup, an RPCGroup, or a
// GRPCGroup, so N=1 and N>1 runs are structurally identical except for the
// collective transport (Testable Property 6).
//
// Grounded on InMAP's run.go Calculations worker pool, which strides
// cell indices across nprocs goroutines; generalized here from a
// round-robin stride (fine for embarrassingly-parallel per-cell math) to a
// contiguous row-band partition, since particle migration needs contiguous
// row ownership to know which neighbor rank a particle crossed into.
func Slabs(h, n int) []Slab {
	if n <= 0 {
		n = 1
	}
	base := h / n
	rem := h % n
	slabs := make([]Slab, n)
	r0 := 0
	for i := 0; i < n; i++ {
		rows := base
		if i < rem {
			rows++
		}
		slabs[i] = Slab{R0: r0, R1: r0 + rows}
		r0 += rows
	}
	return slabs
}

// RankOfRow maps row r to its owning rank via binary search over the
// cumulative slab ends (§4.2). slabs must be the same value on every
// worker (deterministic from (H, N)) so this is bit-identical everywhere.
func RankOfRow(slabs []Slab, r int) int {
	return sort.Search(len(slabs), func(i int) bool { return slabs[i].R1 > r })
}
