package collective

import (
	"sync"
	"testing"

	"github.com/ctessum/sparse"

	"github.com/flowterra/flowterra"
)

func TestLocalGroupBarrierReleasesAllMembers(t *testing.T) {
	const n = 4
	hub := NewLocalHub(n)
	var wg sync.WaitGroup
	wg.Add(n)
	for r := 0; r < n; r++ {
		go func(rank int) {
			defer wg.Done()
			g := NewLocalGroup(hub, rank)
			if err := g.Barrier(); err != nil {
				t.Errorf("rank %d: %v", rank, err)
			}
		}(r)
	}
	wg.Wait()
}

func TestLocalGroupBroadcastFloat64(t *testing.T) {
	const n = 3
	hub := NewLocalHub(n)
	var wg sync.WaitGroup
	wg.Add(n)
	results := make([]*sparse.DenseArray, n)
	for r := 0; r < n; r++ {
		go func(rank int) {
			defer wg.Done()
			g := NewLocalGroup(hub, rank)
			buf := sparse.ZerosDense(1, 2)
			if rank == 0 {
				buf.Set(42, 0, 0)
				buf.Set(7, 0, 1)
			}
			if err := g.BroadcastFloat64(0, buf); err != nil {
				t.Errorf("rank %d: %v", rank, err)
				return
			}
			results[rank] = buf
		}(r)
	}
	wg.Wait()
	for r := 0; r < n; r++ {
		if results[r].Get(0, 0) != 42 || results[r].Get(0, 1) != 7 {
			t.Errorf("rank %d did not receive broadcast: %v", r, results[r].Elements)
		}
	}
}

func TestLocalGroupAllToAllParticles(t *testing.T) {
	const n = 3
	hub := NewLocalHub(n)
	var wg sync.WaitGroup
	wg.Add(n)
	recvCounts := make([]int, n)
	for r := 0; r < n; r++ {
		go func(rank int) {
			defer wg.Done()
			g := NewLocalGroup(hub, rank)
			send := make(map[int]*flowterra.Particles)
			dst := (rank + 1) % n
			p := flowterra.NewParticles()
			p.Append(int32(rank), 0, 1.0, 0)
			send[dst] = p
			recv, err := g.AllToAllParticles(send)
			if err != nil {
				t.Errorf("rank %d: %v", rank, err)
				return
			}
			recvCounts[rank] = recv.Len()
		}(r)
	}
	wg.Wait()
	for r := 0; r < n; r++ {
		if recvCounts[r] != 1 {
			t.Errorf("rank %d received %d particles, want 1", r, recvCounts[r])
		}
	}
}

func TestLocalGroupAbortUnblocksWaiters(t *testing.T) {
	const n = 3
	hub := NewLocalHub(n)
	var wg sync.WaitGroup
	wg.Add(n - 1)
	errs := make([]error, n-1)
	for r := 0; r < n-1; r++ {
		go func(rank int) {
			defer wg.Done()
			g := NewLocalGroup(hub, rank)
			errs[rank] = g.Barrier()
		}(r)
	}
	// Abort instead of completing the barrier with the third member. The
	// waiters may or may not have entered Barrier yet; either way they must
	// return the abort error.
	g2 := NewLocalGroup(hub, n-1)
	g2.Abort(errAbortTest)
	wg.Wait()
	for r := 0; r < n-1; r++ {
		if errs[r] == nil {
			t.Errorf("rank %d: expected abort error, got nil", r)
		}
	}
}

var errAbortTest = sentinelErr("test abort")

type sentinelErr string

func (e sentinelErr) Error() string { return string(e) }
