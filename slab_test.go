package flowterra

import "testing"

func TestSlabsCoversWithoutOverlap(t *testing.T) {
	slabs := Slabs(17, 5)
	if len(slabs) != 5 {
		t.Fatalf("got %d slabs, want 5", len(slabs))
	}
	if slabs[0].R0 != 0 {
		t.Errorf("first slab should start at 0, got %d", slabs[0].R0)
	}
	if slabs[len(slabs)-1].R1 != 17 {
		t.Errorf("last slab should end at 17, got %d", slabs[len(slabs)-1].R1)
	}
	for i := 1; i < len(slabs); i++ {
		if slabs[i].R0 != slabs[i-1].R1 {
			t.Errorf("slab %d does not abut slab %d: %v vs %v", i, i-1, slabs[i], slabs[i-1])
		}
	}
}

func TestSlabsRemainderToLowRanks(t *testing.T) {
	slabs := Slabs(7, 3) // 7 mod 3 = 1, so rank 0 gets ceil(7/3)=3, others floor=2
	if slabs[0].Rows() != 3 {
		t.Errorf("rank 0 rows = %d, want 3", slabs[0].Rows())
	}
	if slabs[1].Rows() != 2 || slabs[2].Rows() != 2 {
		t.Errorf("ranks 1,2 rows = %d,%d, want 2,2", slabs[1].Rows(), slabs[2].Rows())
	}
}

func TestRankOfRowMatchesSlab(t *testing.T) {
	slabs := Slabs(20, 4)
	for r := 0; r < 20; r++ {
		rank := RankOfRow(slabs, r)
		if !slabs[rank].Contains(r) {
			t.Errorf("RankOfRow(%d) = %d but slab %v does not contain it", r, rank, slabs[rank])
		}
	}
}

func TestSlabsSingleWorker(t *testing.T) {
	slabs := Slabs(10, 1)
	if len(slabs) != 1 || slabs[0].R0 != 0 || slabs[0].R1 != 10 {
		t.Errorf("Slabs(10,1) = %v, want single [0,10)", slabs)
	}
}
