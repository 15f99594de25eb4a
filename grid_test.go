package flowterra

import (
	"math"
	"testing"

	"github.com/ctessum/sparse"
)

func TestActiveMaskFromElevation(t *testing.T) {
	elev := sparse.ZerosDense(1, 3)
	elev.Set(100, 0, 0)
	elev.Set(math.NaN(), 0, 1)
	elev.Set(50, 0, 2)

	g := NewProjectedGrid(1, 3, elev, 10)
	if !g.IsActive(0, 0) || !g.IsActive(0, 2) {
		t.Error("finite-elevation cells should be active")
	}
	if g.IsActive(0, 1) {
		t.Error("NaN-elevation cell should be inactive")
	}
}

func TestNewProjectedGridNilElevationAllActive(t *testing.T) {
	g := NewProjectedGrid(2, 2, nil, 10)
	for r := 0; r < 2; r++ {
		for c := 0; c < 2; c++ {
			if !g.IsActive(r, c) {
				t.Errorf("(%d,%d) should be active when no elevation given", r, c)
			}
		}
	}
}

func TestGeographicGridAreaVariesByLatitude(t *testing.T) {
	lat := []float64{60, 0, -60}
	g := NewGeographicGrid(3, 4, nil, lat, 0.1, 0.1)
	equatorArea := g.CellArea(1, 0)
	polarArea := g.CellArea(0, 0)
	if polarArea >= equatorArea {
		t.Errorf("cell area near the pole (%v) should be smaller than at the equator (%v)", polarArea, equatorArea)
	}
}

func TestInBounds(t *testing.T) {
	g := NewProjectedGrid(3, 4, nil, 1)
	if !g.InBounds(0, 0) || !g.InBounds(2, 3) {
		t.Error("corner cells should be in bounds")
	}
	if g.InBounds(3, 0) || g.InBounds(0, 4) || g.InBounds(-1, 0) {
		t.Error("out-of-range cells should not be in bounds")
	}
}
