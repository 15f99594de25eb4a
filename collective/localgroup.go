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

package collective

import (
	"fmt"
	"sync"

	"github.com/ctessum/sparse"

	"github.com/flowterra/flowterra"
)

// LocalHub is the shared rendezvous state behind every LocalGroup member.
// It is grounded in InMAP's Calculations function in run.go, which
// runs a goroutine-per-worker pool synchronized by a sync.WaitGroup; here
// the pool persists across the whole run instead of being rebuilt every
// call, and the WaitGroup is replaced by a reusable sense-reversing
// barrier since the same N goroutines rendezvous many times per step.
type LocalHub struct {
	n int

	mu        sync.Mutex
	arrived   int
	barrierCh chan struct{}

	bcastFloat *sparse.DenseArray
	bcastBytes *[]byte

	a2aSend map[[2]int]*flowterra.Particles // keyed by (senderRank, destRank)

	abortCh  chan struct{}
	abortErr error
	closed   bool
}

// NewLocalHub creates the shared state for an n-member LocalGroup. Call
// NewLocalHub once per simulation run and hand each rank its own
// *LocalGroup via NewLocalGroup.
func NewLocalHub(n int) *LocalHub {
	return &LocalHub{
		n:         n,
		barrierCh: make(chan struct{}),
		abortCh:   make(chan struct{}),
		a2aSend:   make(map[[2]int]*flowterra.Particles),
	}
}

// LocalGroup is an in-process Group implementation: N goroutines in one
// process rendezvous via channels, with no serialization of payloads. This
// is the default transport for tests and single-machine runs, and is what
// gives N=1 and N>1 runs structural parity (Testable Property 6).
type LocalGroup struct {
	rank int
	hub  *LocalHub
}

// NewLocalGroup returns the Group handle for one rank of hub.
func NewLocalGroup(hub *LocalHub, rank int) *LocalGroup {
	return &LocalGroup{rank: rank, hub: hub}
}

func (g *LocalGroup) Rank() int { return g.rank }
func (g *LocalGroup) Size() int { return g.hub.n }

// Barrier implements a reusable sense-reversing barrier: the last arrival
// closes the current generation's channel (waking every other waiter) and
// installs a fresh channel for the next generation.
func (g *LocalGroup) Barrier() error {
	h := g.hub
	h.mu.Lock()
	if h.closed {
		err := h.abortErr
		h.mu.Unlock()
		return err
	}
	h.arrived++
	if h.arrived == h.n {
		h.arrived = 0
		ch := h.barrierCh
		h.barrierCh = make(chan struct{})
		h.mu.Unlock()
		close(ch)
		return nil
	}
	ch := h.barrierCh
	h.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-h.abortCh:
		h.mu.Lock()
		err := h.abortErr
		h.mu.Unlock()
		return err
	}
}

// BroadcastFloat64 implements Group.BroadcastFloat64. The data path is:
// root publishes its buf under the hub lock, a barrier makes the
// publication visible to every member, followers copy it into their own
// buf, and a second barrier prevents the slot from being overwritten by a
// subsequent broadcast before every follower has read it.
func (g *LocalGroup) BroadcastFloat64(root int, buf *sparse.DenseArray) error {
	h := g.hub
	if g.rank == root {
		h.mu.Lock()
		h.bcastFloat = buf
		h.mu.Unlock()
	}
	if err := g.Barrier(); err != nil {
		return err
	}
	if g.rank != root {
		h.mu.Lock()
		src := h.bcastFloat
		h.mu.Unlock()
		*buf = *copyDenseArray(src)
	}
	return g.Barrier()
}

// BroadcastBytes implements Group.BroadcastBytes analogously.
func (g *LocalGroup) BroadcastBytes(root int, buf *[]byte) error {
	h := g.hub
	if g.rank == root {
		h.mu.Lock()
		h.bcastBytes = buf
		h.mu.Unlock()
	}
	if err := g.Barrier(); err != nil {
		return err
	}
	if g.rank != root {
		h.mu.Lock()
		src := *h.bcastBytes
		h.mu.Unlock()
		*buf = append([]byte(nil), src...)
	}
	return g.Barrier()
}

// AllToAllParticles implements Group.AllToAllParticles. Every rank
// publishes its send buckets, a barrier makes all of them visible, then
// every rank gathers the buckets addressed to it from every sender.
func (g *LocalGroup) AllToAllParticles(send map[int]*flowterra.Particles) (*flowterra.Particles, error) {
	h := g.hub
	h.mu.Lock()
	for dst, batch := range send {
		h.a2aSend[[2]int{g.rank, dst}] = batch
	}
	h.mu.Unlock()

	if err := g.Barrier(); err != nil {
		return nil, err
	}

	recv := flowterra.NewParticles()
	h.mu.Lock()
	for src := 0; src < h.n; src++ {
		if batch, ok := h.a2aSend[[2]int{src, g.rank}]; ok {
			recv.AppendAll(batch)
		}
	}
	h.mu.Unlock()

	if err := g.Barrier(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	for dst := range send {
		delete(h.a2aSend, [2]int{g.rank, dst})
	}
	h.mu.Unlock()
	return recv, nil
}

// Abort implements Group.Abort: it unblocks every member currently parked
// in Barrier (directly or via a Broadcast/AllToAll call built on it) with
// err, per §7's group-wide-abort propagation policy.
func (g *LocalGroup) Abort(err error) {
	h := g.hub
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	h.abortErr = fmt.Errorf("group abort from rank %d: %w", g.rank, err)
	close(h.abortCh)
}

func copyDenseArray(src *sparse.DenseArray) *sparse.DenseArray {
	dst := sparse.ZerosDense(src.Shape...)
	copy(dst.Elements, src.Elements)
	return dst
}
