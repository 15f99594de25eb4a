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

// Encoding names a D8 direction-code scheme (§4.1).
type Encoding string

const (
	EncodingESRI  Encoding = "esri"
	EncodingCW07  Encoding = "cw0_7"
)

// dRow, dCol give the row/column offset of the neighbor in direction i,
// indexed clockwise starting at east: east, southeast, south, southwest,
// west, northwest, north, northeast. Row 0 is geographic top (§3), so
// "south" is +1 row.
var dRow = [8]int{0, 1, 1, 1, 0, -1, -1, -1}
var dCol = [8]int{1, 1, 0, -1, -1, -1, 0, 1}

// esriCodeToDir maps an ESRI power-of-two D8 code to an index into dRow/dCol.
var esriCodeToDir = map[int]int{
	1: 0, 2: 1, 4: 2, 8: 3, 16: 4, 32: 5, 64: 6, 128: 7,
}

// cw07CodeToDir maps a clockwise-from-east 0..7 code to an index into
// dRow/dCol (code 0 = east, code 2 = south, etc.), the same ordering as
// dRow/dCol itself, so the map is the identity.
var cw07CodeToDir = map[int]int{
	0: 0, 1: 1, 2: 2, 3: 3, 4: 4, 5: 5, 6: 6, 7: 7,
}

// DirectionGraph is the derived routing structure built once from the
// direction raster and held immutable for the life of the simulation (§3).
type DirectionGraph struct {
	H, W     int
	HasDown  *sparse.DenseArray // 0/1
	DownRow  []int              // H*W, row-major, -1 where HasDown is false
	DownCol  []int              // H*W, row-major, -1 where HasDown is false
}

func (dg *DirectionGraph) idx(r, c int) int { return r*dg.W + c }

// HasDownstream reports whether (r,c) has an in-bounds downstream neighbor.
func (dg *DirectionGraph) HasDownstream(r, c int) bool {
	return dg.HasDown.Get(r, c) != 0
}

// Downstream returns the downstream neighbor of (r,c). The caller must
// check HasDownstream first; on a terminal cell Downstream returns (-1,-1),
// which panics as an out-of-range index if the caller goes on to use it.
func (dg *DirectionGraph) Downstream(r, c int) (int, int) {
	i := dg.idx(r, c)
	return dg.DownRow[i], dg.DownCol[i]
}

// BuildDirectionGraph derives (has_down, down_row, down_col) from a raw
// direction raster, per §4.1. raster is H x W of direction codes
// interpreted according to enc. Cells whose code is unrecognized, or whose
// computed neighbor falls outside the grid, are terminal.
//
// Grounded on InMAP's neighbors.go traversal, which likewise derives
// per-cell neighbor references from raw geometry once at init and never
// again; adapted here from an R-tree polygon search to fixed D8 offsets
// since our grid is a regular raster.
func BuildDirectionGraph(h, w int, raster *sparse.DenseArray, enc Encoding) (*DirectionGraph, error) {
	const op = "flowterra.BuildDirectionGraph"
	var codeToDir map[int]int
	switch enc {
	case EncodingESRI:
		codeToDir = esriCodeToDir
	case EncodingCW07:
		codeToDir = cw07CodeToDir
	default:
		return nil, wrapErr(ErrKindConfig, op, errInvalidEncoding(string(enc)))
	}

	dg := &DirectionGraph{
		H:       h,
		W:       w,
		HasDown: sparse.ZerosDense(h, w),
		DownRow: make([]int, h*w),
		DownCol: make([]int, h*w),
	}
	for i := range dg.DownRow {
		dg.DownRow[i] = -1
		dg.DownCol[i] = -1
	}

	for r := 0; r < h; r++ {
		for c := 0; c < w; c++ {
			code := int(raster.Get(r, c))
			dir, ok := codeToDir[code]
			if !ok {
				continue // terminal: unrecognized code
			}
			nr, nc := r+dRow[dir], c+dCol[dir]
			if nr < 0 || nr >= h || nc < 0 || nc >= w {
				continue // terminal: neighbor out of bounds
			}
			i := dg.idx(r, c)
			dg.DownRow[i] = nr
			dg.DownCol[i] = nc
			dg.HasDown.Set(1, r, c)
		}
	}
	return dg, nil
}

// CheckAcyclic walks the direction graph from every cell and reports the
// first cycle found, if any (§9's optional pre-flight acyclicity check).
// It is not run automatically — flow accumulation tolerates cycles per §7 —
// but the `flowterra preproc` command calls it to report a cycle early
// rather than discovering the problem only via the post-sweep in-degree
// check.
func (dg *DirectionGraph) CheckAcyclic(active *sparse.DenseArray) (cyclic bool, atRow, atCol int) {
	visiting := make([]bool, dg.H*dg.W)
	done := make([]bool, dg.H*dg.W)
	for r := 0; r < dg.H; r++ {
		for c := 0; c < dg.W; c++ {
			if active.Get(r, c) == 0 {
				continue
			}
			if cyc, cr, cc := dg.walk(r, c, visiting, done); cyc {
				return true, cr, cc
			}
		}
	}
	return false, 0, 0
}

func (dg *DirectionGraph) walk(r, c int, visiting, done []bool) (bool, int, int) {
	i := dg.idx(r, c)
	if done[i] {
		return false, 0, 0
	}
	if visiting[i] {
		return true, r, c
	}
	if !dg.HasDownstream(r, c) {
		done[i] = true
		return false, 0, 0
	}
	visiting[i] = true
	nr, nc := dg.Downstream(r, c)
	cyc, cr, cc := dg.walk(nr, nc, visiting, done)
	visiting[i] = false
	done[i] = true
	return cyc, cr, cc
}
