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

// earthRadiusM is the mean Earth radius used for the ellipsoidal cell-area
// approximation on geographic grids.
const earthRadiusM = 6371000.0

// Grid holds the immutable geometry of the simulation domain: shape,
// active mask, and cell area. Unlike InMAP's CTMData (an
// arbitrary-polygon R-tree grid, since InMAP supports variable resolution),
// Grid is a fixed regular raster, so cell geometry reduces to (H, W) plus
// either a scalar area or a per-row area vector.
type Grid struct {
	H, W int

	// Active is true where the corresponding elevation is finite (§3
	// "Active mask").
	Active *sparse.DenseArray // H x W, values 0 or 1

	// Geographic is true if the grid is in geographic (lon/lat) coordinates,
	// in which case AreaPerRow holds one ellipsoidal-cap cell area per row.
	// If false, AreaScalar holds the (identical) projected cell area for
	// every cell.
	Geographic bool
	AreaScalar float64
	AreaPerRow []float64

	// Coordinate vectors and CRS metadata; the core never interprets or
	// reprojects them. gridio.LoadDomain sets only Lat (geographic grids),
	// and gridio.WriteOutput does not write these fields.
	Lon, Lat []float64 // lengths W and H respectively, or X/Y for projected grids
	CRS      string
}

// NewProjectedGrid builds a Grid with a single projected cell area (m²).
func NewProjectedGrid(h, w int, elevation *sparse.DenseArray, areaM2 float64) *Grid {
	g := &Grid{H: h, W: w, AreaScalar: areaM2}
	g.Active = activeMaskFrom(elevation, h, w)
	return g
}

// NewGeographicGrid builds a Grid whose cell area varies by row, computed
// from the per-row latitude span of one cell using the standard spherical
// ellipsoidal-cap cell-area formula (area of a latitude band times the
// row's longitude fraction). dLonDeg and dLatDeg are the cell's angular
// extents in degrees; lat gives the center latitude of each row, in
// degrees, row 0 at the geographic top (§3).
func NewGeographicGrid(h, w int, elevation *sparse.DenseArray, lat []float64, dLonDeg, dLatDeg float64) *Grid {
	g := &Grid{H: h, W: w, Geographic: true, Lat: lat}
	g.Active = activeMaskFrom(elevation, h, w)
	g.AreaPerRow = make([]float64, h)
	for r, latDeg := range lat {
		g.AreaPerRow[r] = ellipsoidalCellArea(latDeg, dLonDeg, dLatDeg)
	}
	return g
}

// ellipsoidalCellArea approximates the area, in m², of one grid cell of
// angular size dLonDeg x dLatDeg centered at latitude latDeg, treating the
// Earth as a sphere of radius earthRadiusM. This is a closed-form formula;
// no third-party geodesy library in the example pack offers anything more
// specific to a regular lon/lat raster than this.
func ellipsoidalCellArea(latDeg, dLonDeg, dLatDeg float64) float64 {
	const deg2rad = math.Pi / 180
	latRad := latDeg * deg2rad
	halfDLat := dLatDeg * deg2rad / 2
	dLonRad := dLonDeg * deg2rad
	// Area of a latitude band of angular half-height halfDLat, full
	// longitude span dLonRad, on a sphere of radius R:
	//   R^2 * dLon * (sin(lat+halfDLat) - sin(lat-halfDLat))
	return earthRadiusM * earthRadiusM * dLonRad *
		(math.Sin(latRad+halfDLat) - math.Sin(latRad-halfDLat))
}

func activeMaskFrom(elevation *sparse.DenseArray, h, w int) *sparse.DenseArray {
	mask := sparse.ZerosDense(h, w)
	if elevation == nil {
		for i := range mask.Elements {
			mask.Elements[i] = 1
		}
		return mask
	}
	for i, v := range elevation.Elements {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			mask.Elements[i] = 1
		}
	}
	return mask
}

// IsActive reports whether cell (r,c) is active.
func (g *Grid) IsActive(r, c int) bool {
	return g.Active.Get(r, c) != 0
}

// CellArea returns the area, in m², of cell (r,c).
func (g *Grid) CellArea(r, c int) float64 {
	if g.Geographic {
		return g.AreaPerRow[r]
	}
	return g.AreaScalar
}

// InBounds reports whether (r,c) addresses a cell of the grid.
func (g *Grid) InBounds(r, c int) bool {
	return r >= 0 && r < g.H && c >= 0 && c < g.W
}

// NewField allocates a zeroed H x W field.
func (g *Grid) NewField() *sparse.DenseArray {
	return sparse.ZerosDense(g.H, g.W)
}

// DepthFromVolume converts a per-cell volume field (m³, e.g. the particle
// engine's deposition grid from Deposit, §4.4.4) to a depth field (m) by
// dividing every cell by its area. This is the "divide by cell area to
// convert to depth" step §4.4.4 names and the flood_depth field §6.4
// requires at output time.
func (g *Grid) DepthFromVolume(volM3 *sparse.DenseArray) *sparse.DenseArray {
	depth := sparse.ZerosDense(g.H, g.W)
	for r := 0; r < g.H; r++ {
		area := g.CellArea(r, 0)
		for c := 0; c < g.W; c++ {
			if g.Geographic {
				area = g.CellArea(r, c)
			}
			depth.Set(volM3.Get(r, c)/area, r, c)
		}
	}
	return depth
}
