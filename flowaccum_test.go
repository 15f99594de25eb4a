package flowterra

import (
	"testing"

	"github.com/ctessum/sparse"
)

// TestFlowAccumulateLine is seed case S2: a 1x10 row where every cell
// drains east, all active, scalar area 1 m^2. Expect A = [1..10].
func TestFlowAccumulateLine(t *testing.T) {
	const n = 10
	raster := sparse.ZerosDense(1, n)
	for c := 0; c < n-1; c++ {
		raster.Set(1, 0, c) // ESRI east
	}
	dg, err := BuildDirectionGraph(1, n, raster, EncodingESRI)
	if err != nil {
		t.Fatal(err)
	}
	active := sparse.ZerosDense(1, n)
	for i := range active.Elements {
		active.Elements[i] = 1
	}

	accum, unresolved := FlowAccumulate(dg, active, nil)
	if len(unresolved) != 0 {
		t.Fatalf("unexpected unresolved cells: %v", unresolved)
	}
	for c := 0; c < n; c++ {
		want := float64(c + 1)
		got := accum.Get(0, c)
		if got != want {
			t.Errorf("A[0,%d] = %v, want %v", c, got, want)
		}
	}
}

func TestFlowAccumulateCycleIsNonFatal(t *testing.T) {
	raster := sparse.ZerosDense(1, 2)
	raster.Set(1, 0, 0)  // east
	raster.Set(16, 0, 1) // west
	dg, err := BuildDirectionGraph(1, 2, raster, EncodingESRI)
	if err != nil {
		t.Fatal(err)
	}
	active := sparse.ZerosDense(1, 2)
	active.Elements[0], active.Elements[1] = 1, 1

	accum, unresolved := FlowAccumulate(dg, active, nil)
	if len(unresolved) == 0 {
		t.Fatal("expected the mutual-cycle cells to be reported unresolved")
	}
	if accum == nil {
		t.Fatal("expected a partial accumulation result, not a panic")
	}
}

func TestFlowAccumulateInactiveCellsExcluded(t *testing.T) {
	raster := sparse.ZerosDense(1, 2)
	raster.Set(1, 0, 0)
	active := sparse.ZerosDense(1, 2)
	active.Elements[0] = 1 // (0,1) inactive

	dg, err := BuildDirectionGraph(1, 2, raster, EncodingESRI)
	if err != nil {
		t.Fatal(err)
	}
	accum, _ := FlowAccumulate(dg, active, nil)
	if accum.Get(0, 1) != 0 {
		t.Errorf("inactive cell should carry zero accumulation, got %v", accum.Get(0, 1))
	}
}
