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

// FlowAccumulate computes upstream contributing area A (in cell counts, or
// weighted by weight if non-nil) over the direction graph using Kahn's
// topological sweep (§7). Traversal order is fixed for reproducibility: seed
// cells with zero in-degree are discovered in row-major order and pushed
// onto a stack, which is popped LIFO.
//
// Cycles are tolerated, not fatal (§7, §9): any cell whose in-degree never
// reaches zero is left with whatever partial accumulation it received
// before the sweep drained, and is reported back via the returned
// unresolved slice so the caller can log it. This mirrors InMAP's
// habit (run.go SteadyStateConvergenceCheck) of treating non-convergence as
// a logged condition rather than a panic.
//
// Grounded on no single InMAP file (InMAP has no topological-sort code to
// adapt), but implemented in InMAP's idiom: flat DenseArray fields,
// explicit error-free degenerate-input handling, and a *Grid/*DirectionGraph
// pair passed by pointer rather than boxed in an interface.
func FlowAccumulate(dg *DirectionGraph, active *sparse.DenseArray, weight *sparse.DenseArray) (accum *sparse.DenseArray, unresolved []int) {
	n := dg.H * dg.W
	indeg := make([]int, n)
	for r := 0; r < dg.H; r++ {
		for c := 0; c < dg.W; c++ {
			if active.Get(r, c) == 0 || !dg.HasDownstream(r, c) {
				continue
			}
			nr, nc := dg.Downstream(r, c)
			if active.Get(nr, nc) == 0 {
				continue
			}
			indeg[dg.idx(nr, nc)]++
		}
	}

	accum = sparse.ZerosDense(dg.H, dg.W)
	for i := range accum.Elements {
		if weight != nil {
			accum.Elements[i] = weight.Elements[i]
		} else {
			accum.Elements[i] = 1
		}
	}
	// inactive cells carry no area
	for r := 0; r < dg.H; r++ {
		for c := 0; c < dg.W; c++ {
			if active.Get(r, c) == 0 {
				accum.Set(0, r, c)
			}
		}
	}

	// Seed the stack in row-major order, so that with a LIFO pop the
	// traversal order is deterministic given (H, W, direction graph): the
	// last-discovered seed (bottom-right-most zero-indegree cell) is visited
	// first among seeds, then its descendants, before backtracking to
	// earlier seeds.
	var stack []int
	for r := 0; r < dg.H; r++ {
		for c := 0; c < dg.W; c++ {
			if active.Get(r, c) == 0 {
				continue
			}
			i := dg.idx(r, c)
			if indeg[i] == 0 {
				stack = append(stack, i)
			}
		}
	}

	visited := make([]bool, n)
	for len(stack) > 0 {
		i := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[i] {
			continue
		}
		visited[i] = true
		r, c := i/dg.W, i%dg.W
		if !dg.HasDownstream(r, c) {
			continue
		}
		nr, nc := dg.Downstream(r, c)
		if active.Get(nr, nc) == 0 {
			continue
		}
		ni := dg.idx(nr, nc)
		accum.Elements[ni] += accum.Elements[i]
		indeg[ni]--
		if indeg[ni] == 0 {
			stack = append(stack, ni)
		}
	}

	for r := 0; r < dg.H; r++ {
		for c := 0; c < dg.W; c++ {
			if active.Get(r, c) == 0 {
				continue
			}
			i := dg.idx(r, c)
			if !visited[i] && indeg[i] > 0 {
				unresolved = append(unresolved, i)
			}
		}
	}
	return accum, unresolved
}
