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
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/rpc"
	"sync"

	"github.com/ctessum/sparse"

	"github.com/flowterra/flowterra"
)

// RPCPort is the default port RPCGroup workers listen on, following the
// InMAP's sr.RPCPort convention in sr/distributed.go.
var RPCPort = "6061"

// BroadcastArgs, A2AArgs and friends are the net/rpc request/response
// payloads. net/rpc requires exported request/response struct types with
// exported fields, the same constraint sr/distributed.go's IOData meets.
type BroadcastArgs struct {
	Shape []int
	Data  []float64
}

type BytesArgs struct {
	Data []byte
}

type A2AArgs struct {
	Row []int32
	Col []int32
	Vol []float64
	Tau []float64
}

type Empty struct{}

// RPCWorker is the server side every rank runs (see Listen); the other
// ranks' RPCGroups call its methods. It is the direct generalization of
// sr/distributed.go's Worker: there, the coordinator calls
// Worker.Calculate once per work unit; here peers call its push/pull,
// Ping and Abort methods once per collective per step.
type RPCWorker struct {
	Rank int

	mu       sync.Mutex
	pmmBuf   *sparse.DenseArray
	bytesBuf []byte
	a2aRecv  *flowterra.Particles
	abortBuf []byte
}

// NewRPCWorker constructs the server-side handle for one worker process.
func NewRPCWorker(rank int) *RPCWorker {
	return &RPCWorker{Rank: rank}
}

// Listen registers w and serves RPC requests on addr, following
// sr/distributed.go's WorkerListen top-level-function convention (kept
// top-level there, and as a method here, to avoid RPC registration
// surprises either way — rpc.Register only needs a value with exported
// methods, which RPCWorker already is).
func (w *RPCWorker) Listen(addr string) error {
	server := rpc.NewServer()
	if err := server.Register(w); err != nil {
		return err
	}
	server.HandleHTTP(rpc.DefaultRPCPath+fmt.Sprint(w.Rank), rpc.DefaultDebugPath+fmt.Sprint(w.Rank))
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	log.Printf("rpc worker rank %d listening on %s", w.Rank, addr)
	return http.Serve(l, nil)
}

// PushBroadcast delivers a broadcast payload to this worker. Meets net/rpc's
// method-signature requirement (func(args, *reply) error).
func (w *RPCWorker) PushBroadcast(args *BroadcastArgs, _ *Empty) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	buf := sparse.ZerosDense(args.Shape...)
	copy(buf.Elements, args.Data)
	w.pmmBuf = buf
	return nil
}

// PullBroadcast returns the last payload pushed to this worker.
func (w *RPCWorker) PullBroadcast(_ *Empty, reply *BroadcastArgs) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.pmmBuf == nil {
		return errors.New("collective: no broadcast payload available")
	}
	reply.Shape = append([]int(nil), w.pmmBuf.Shape...)
	reply.Data = append([]float64(nil), w.pmmBuf.Elements...)
	return nil
}

// PushBytes delivers a broadcast []byte payload to this worker, the bytes
// counterpart of PushBroadcast.
func (w *RPCWorker) PushBytes(args *BytesArgs, _ *Empty) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.bytesBuf = append([]byte(nil), args.Data...)
	return nil
}

// PullBytes returns the last []byte payload pushed to this worker.
func (w *RPCWorker) PullBytes(_ *Empty, reply *BytesArgs) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	reply.Data = append([]byte(nil), w.bytesBuf...)
	return nil
}

// PushA2A delivers this worker's share of an all-to-all exchange.
func (w *RPCWorker) PushA2A(args *A2AArgs, _ *Empty) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.a2aRecv == nil {
		w.a2aRecv = flowterra.NewParticles()
	}
	w.a2aRecv.Row = append(w.a2aRecv.Row, args.Row...)
	w.a2aRecv.Col = append(w.a2aRecv.Col, args.Col...)
	w.a2aRecv.Vol = append(w.a2aRecv.Vol, args.Vol...)
	w.a2aRecv.Tau = append(w.a2aRecv.Tau, args.Tau...)
	return nil
}

// PullA2A drains and returns this worker's accumulated all-to-all receive
// buffer, resetting it for the next exchange.
func (w *RPCWorker) PullA2A(_ *Empty, reply *A2AArgs) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.a2aRecv == nil {
		w.a2aRecv = flowterra.NewParticles()
	}
	reply.Row = w.a2aRecv.Row
	reply.Col = w.a2aRecv.Col
	reply.Vol = w.a2aRecv.Vol
	reply.Tau = w.a2aRecv.Tau
	w.a2aRecv = nil
	return nil
}

// Ping is a liveness check used by the coordinator's Barrier implementation:
// a synchronous round-trip call to every worker stands in for a true
// barrier, since net/rpc has no native collective primitive (§9 "a native
// variable-count all-to-all primitive... emulating it with a two-phase
// count-then-payload exchange is acceptable").
func (w *RPCWorker) Ping(_ *Empty, _ *Empty) error { return nil }

// Abort tells this worker process that the group is aborting, so any
// caller polling it can propagate the error.
func (w *RPCWorker) Abort(args *BytesArgs, _ *Empty) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.abortBuf = args.Data
	return nil
}

// RPCGroup is the net/rpc-backed Group, one handle per rank, dialed as a
// full mesh: every rank holds an *rpc.Client for every other rank (its own
// slot is nil), generalizing sr/distributed.go and sr/rpc.go's
// client-calls-Worker-methods pattern from a single master to a
// rank-symmetric SPMD membership — every rank runs both its own RPCWorker
// server (receiving pushes addressed to it) and its own RPCGroup client
// (driving broadcasts it originates, or pulling ones it doesn't).
type RPCGroup struct {
	rank    int
	clients []*rpc.Client // indexed by rank; clients[rank] is nil
}

// NewRPCGroupMember dials every peer address except addrs[rank] and returns
// the handle for that rank. addrs[i] is rank i's "host:port"; rank's own
// RPCWorker must already be listening on addrs[rank] before any peer's
// NewRPCGroupMember call tries to dial it, so callers typically start the
// local RPCWorker.Listen goroutine first and retry the dial a few times
// while peers come up.
func NewRPCGroupMember(rank int, addrs []string) (*RPCGroup, error) {
	g := &RPCGroup{rank: rank, clients: make([]*rpc.Client, len(addrs))}
	for i, addr := range addrs {
		if i == rank {
			continue
		}
		c, err := rpc.DialHTTPPath("tcp", addr, rpc.DefaultRPCPath+fmt.Sprint(i))
		if err != nil {
			return nil, fmt.Errorf("collective: dialing rank %d at %s: %w", i, addr, err)
		}
		g.clients[i] = c
	}
	return g, nil
}

// NewRPCGroupCoordinator is NewRPCGroupMember(0, addrs), kept as a named
// entry point for the common case where rank 0 is the only caller that
// needs naming (the process launching a run and gathering its output).
func NewRPCGroupCoordinator(addrs []string) (*RPCGroup, error) {
	return NewRPCGroupMember(0, addrs)
}

func (g *RPCGroup) Rank() int { return g.rank }
func (g *RPCGroup) Size() int { return len(g.clients) }

// BroadcastFloat64 pushes buf to every other rank when g.rank == root, or
// pulls root's pushed value into buf otherwise. Every rank in the group
// calls this with the same root; which branch runs depends on g.rank.
func (g *RPCGroup) BroadcastFloat64(root int, buf *sparse.DenseArray) error {
	if g.rank == root {
		args := &BroadcastArgs{Shape: append([]int(nil), buf.Shape...), Data: append([]float64(nil), buf.Elements...)}
		for i, c := range g.clients {
			if i == root || c == nil {
				continue
			}
			if err := c.Call("RPCWorker.PushBroadcast", args, &Empty{}); err != nil {
				return fmt.Errorf("collective: broadcasting to rank %d: %w", i, err)
			}
		}
		return nil
	}
	c := g.clients[root]
	if c == nil {
		return fmt.Errorf("collective: no client for root rank %d", root)
	}
	var reply BroadcastArgs
	if err := c.Call("RPCWorker.PullBroadcast", &Empty{}, &reply); err != nil {
		return fmt.Errorf("collective: pulling broadcast from rank %d: %w", root, err)
	}
	copy(buf.Elements, reply.Data)
	return nil
}

// BroadcastBytes is BroadcastFloat64's byte-slice counterpart (used for the
// gob-encoded domain and restart-provenance payloads).
func (g *RPCGroup) BroadcastBytes(root int, buf *[]byte) error {
	if g.rank == root {
		args := &BytesArgs{Data: append([]byte(nil), *buf...)}
		for i, c := range g.clients {
			if i == root || c == nil {
				continue
			}
			if err := c.Call("RPCWorker.PushBytes", args, &Empty{}); err != nil {
				return fmt.Errorf("collective: broadcasting bytes to rank %d: %w", i, err)
			}
		}
		return nil
	}
	c := g.clients[root]
	if c == nil {
		return fmt.Errorf("collective: no client for root rank %d", root)
	}
	var reply BytesArgs
	if err := c.Call("RPCWorker.PullBytes", &Empty{}, &reply); err != nil {
		return fmt.Errorf("collective: pulling bytes from rank %d: %w", root, err)
	}
	*buf = reply.Data
	return nil
}

func (g *RPCGroup) AllToAllParticles(send map[int]*flowterra.Particles) (*flowterra.Particles, error) {
	for dst, batch := range send {
		if dst == g.rank {
			continue
		}
		c := g.clients[dst]
		if c == nil {
			return nil, fmt.Errorf("collective: no client for rank %d", dst)
		}
		args := &A2AArgs{Row: batch.Row, Col: batch.Col, Vol: batch.Vol, Tau: batch.Tau}
		if err := c.Call("RPCWorker.PushA2A", args, &Empty{}); err != nil {
			return nil, fmt.Errorf("collective: sending particles to rank %d: %w", dst, err)
		}
	}
	recv := flowterra.NewParticles()
	if batch, ok := send[g.rank]; ok {
		recv.AppendAll(batch)
	}
	for i, c := range g.clients {
		if i == g.rank || c == nil {
			continue
		}
		var reply A2AArgs
		if err := c.Call("RPCWorker.PullA2A", &Empty{}, &reply); err != nil {
			return nil, fmt.Errorf("collective: pulling particles from rank %d: %w", i, err)
		}
		recv.Row = append(recv.Row, reply.Row...)
		recv.Col = append(recv.Col, reply.Col...)
		recv.Vol = append(recv.Vol, reply.Vol...)
		recv.Tau = append(recv.Tau, reply.Tau...)
	}
	return recv, nil
}

// Barrier emulates a collective barrier by having this rank Ping every
// peer in turn (§9's documented two-phase emulation).
func (g *RPCGroup) Barrier() error {
	for i, c := range g.clients {
		if i == g.rank || c == nil {
			continue
		}
		if err := c.Call("RPCWorker.Ping", &Empty{}, &Empty{}); err != nil {
			return fmt.Errorf("collective: barrier ping to rank %d: %w", i, err)
		}
	}
	return nil
}

func (g *RPCGroup) Abort(err error) {
	args := &BytesArgs{Data: []byte(err.Error())}
	for i, c := range g.clients {
		if i == g.rank || c == nil {
			continue
		}
		_ = c.Call("RPCWorker.Abort", args, &Empty{})
	}
}
