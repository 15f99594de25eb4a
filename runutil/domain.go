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

// Package runutil wires flowterra's pieces together into the end-to-end
// run a worker process actually executes: load or receive the domain,
// decompose it into slabs, drive the step loop to completion across a
// collective.Group, checkpoint, and write output. Grounded on
// inmaputil/inmap.go's Run, the single function that owns InMAP's
// whole run lifecycle (grid build, pipeline assembly, convergence loop,
// output write).
package runutil

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/ctessum/sparse"

	"github.com/flowterra/flowterra"
	"github.com/flowterra/flowterra/collective"
	"github.com/flowterra/flowterra/gridio"
)

// wireDomain is the gob envelope rank 0 broadcasts to every other rank, the
// distributed counterpart of gridio.LoadDomain: only rank 0 touches the
// filesystem (mirroring sr/distributed.go's master-reads/workers-receive
// asymmetry), and every rank reconstructs an identical *flowterra.Grid and
// *flowterra.DirectionGraph from the same bytes.
type wireDomain struct {
	H, W int

	Active      *sparse.DenseArray
	CN          *sparse.DenseArray
	ChannelMask *sparse.DenseArray
	HasDown     *sparse.DenseArray
	DownRow     []int
	DownCol     []int

	Geographic bool
	AreaScalar float64
	AreaPerRow []float64

	Lon, Lat []float64
	CRS      string
}

func packDomain(dom *gridio.Domain) *wireDomain {
	g := dom.Grid
	return &wireDomain{
		H: g.H, W: g.W,
		Active:      g.Active,
		CN:          dom.CN,
		ChannelMask: dom.ChannelMask,
		HasDown:     dom.DG.HasDown,
		DownRow:     dom.DG.DownRow,
		DownCol:     dom.DG.DownCol,
		Geographic:  g.Geographic,
		AreaScalar:  g.AreaScalar,
		AreaPerRow:  g.AreaPerRow,
		Lon:         g.Lon,
		Lat:         g.Lat,
		CRS:         g.CRS,
	}
}

// unpackDomain rebuilds a Grid and DirectionGraph from a decoded wireDomain.
// Every *sparse.DenseArray field must have Fix() called after gob-decoding,
// since DenseArray's ndims/arrsize bookkeeping fields are unexported and so
// never travel over gob — exactly the situation sparse.DenseArray.Fix's doc
// comment names ("re-initializes the unexported fields, for example after
// transmitting via rpc").
func unpackDomain(wd *wireDomain) (*flowterra.Grid, *flowterra.DirectionGraph) {
	wd.Active.Fix()
	wd.CN.Fix()
	wd.ChannelMask.Fix()
	wd.HasDown.Fix()

	g := &flowterra.Grid{
		H: wd.H, W: wd.W,
		Active:     wd.Active,
		Geographic: wd.Geographic,
		AreaScalar: wd.AreaScalar,
		AreaPerRow: wd.AreaPerRow,
		Lon:        wd.Lon,
		Lat:        wd.Lat,
		CRS:        wd.CRS,
	}
	dg := &flowterra.DirectionGraph{
		H: wd.H, W: wd.W,
		HasDown: wd.HasDown,
		DownRow: wd.DownRow,
		DownCol: wd.DownCol,
	}
	return g, dg
}

// broadcastDomain has rank 0 load domainPath and send it to every other
// rank; every rank, including rank 0, returns the reconstructed Grid,
// DirectionGraph, CN and channel mask. Non-root ranks never touch
// domainPath.
func broadcastDomain(group collective.Group, domainPath string) (*flowterra.Grid, *flowterra.DirectionGraph, *sparse.DenseArray, *sparse.DenseArray, error) {
	const op = "runutil.broadcastDomain"
	var payload []byte

	if group.Rank() == 0 {
		dom, err := gridio.LoadDomain(domainPath)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("%s: %w", op, err)
		}
		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(packDomain(dom)); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("%s: encoding domain: %w", op, err)
		}
		payload = buf.Bytes()
	}

	if err := group.BroadcastBytes(0, &payload); err != nil {
		group.Abort(err)
		return nil, nil, nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	var wd wireDomain
	if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&wd); err != nil {
		group.Abort(err)
		return nil, nil, nil, nil, fmt.Errorf("%s: decoding domain: %w", op, err)
	}
	g, dg := unpackDomain(&wd)
	return g, dg, wd.CN, wd.ChannelMask, nil
}
