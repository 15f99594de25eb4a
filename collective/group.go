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

// Package collective implements the SPMD message-passing collective
// primitive that the driver suspends on: broadcast, all-to-all particle
// exchange, and barrier. Three transports share one interface: an
// in-process LocalGroup (goroutines and channels), a net/rpc RPCGroup, and
// a grpc-based GRPCGroup for multi-host production deployment.
package collective

import (
	"github.com/ctessum/sparse"

	"github.com/flowterra/flowterra"
)

// Group is the collective primitive every worker suspends on at a phase
// boundary (§5). Every method except Abort is synchronous: it does not
// return on any worker until every worker in the group has made the
// matching call.
type Group interface {
	Rank() int
	Size() int

	// BroadcastFloat64 sends buf from root to every member. Every member,
	// including root, must call this with a buf of the same shape; on
	// return, non-root members' buf holds root's data.
	BroadcastFloat64(root int, buf *sparse.DenseArray) error

	// BroadcastBytes sends *buf from root to every member.
	BroadcastBytes(root int, buf *[]byte) error

	// AllToAllParticles exchanges particle batches: send maps destination
	// rank to the batch this member is sending it. The returned container
	// concatenates every batch addressed to this member, from every sender.
	// Batches are passed as Particles containers, not as the packed (k,4)
	// WireParticles buffer.
	AllToAllParticles(send map[int]*flowterra.Particles) (*flowterra.Particles, error)

	// Barrier blocks until every member has called it.
	Barrier() error

	// Abort signals every member of the group to unblock any pending
	// collective call with err, per §7 "any error crossing a collective
	// boundary must be converted to a group-wide abort."
	Abort(err error)
}
