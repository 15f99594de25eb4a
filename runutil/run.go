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

package runutil

import (
	"fmt"
	"os"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"

	"github.com/ctessum/sparse"

	"github.com/flowterra/flowterra"
	"github.com/flowterra/flowterra/collective"
	"github.com/flowterra/flowterra/gridio"
	"github.com/flowterra/flowterra/monitor"
	"github.com/flowterra/flowterra/science/cnrunoff"
)

// RunOptions bundles everything one worker needs to drive a run to
// completion, the distributed counterpart of inmaputil/inmap.go's Run
// argument list (there, a cobra command plus output file names; here, the
// config/domain/group the driver itself is agnostic to).
type RunOptions struct {
	Config       *flowterra.Config
	DomainPath   string
	RestartPath  string // if non-empty and present, resume from this checkpoint instead of a cold start
	OutputPath   string // written by rank 0 only, once the run finishes
	RainSources  []flowterra.RainfallSampler
	Group        collective.Group
	Logger       *logrus.Logger

	// Monitor, if non-nil, receives a Snapshot after every step, for a live
	// dashboard watching the run alongside the structured step log.
	Monitor monitor.Publisher
}

// Result is what Run returns to the caller once every rank has reached
// FINAL.
type Result struct {
	StepCount int
	ElapsedS  float64
}

// Run drives one worker's StepDriver from domain load through checkpointed
// stepping to final output, the single function that owns the whole run
// lifecycle the way inmaputil/inmap.go's Run owns InMAP's grid
// build / pipeline assembly / convergence loop / output write. Every rank
// in opts.Group must call Run; it returns once every rank has reached the
// FINAL state.
func Run(opts RunOptions) (*Result, error) {
	const op = "runutil.Run"
	group := opts.Group
	cfg := opts.Config

	g, dg, cn, channelMask, err := broadcastDomain(group, opts.DomainPath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	slabs := flowterra.Slabs(g.H, group.Size())
	runoff := cnrunoff.New(cfg.SCS.IaRatio)

	d := &flowterra.StepDriver{}
	if err := d.Initialize(cfg, g, dg, cn, channelMask, group.Rank(), slabs, runoff); err != nil {
		group.Abort(err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if _, statErr := os.Stat(opts.RestartPath); opts.RestartPath != "" && statErr == nil {
		rs, err := gridio.LoadRestart(opts.RestartPath, cfg)
		if err != nil {
			group.Abort(err)
			return nil, fmt.Errorf("%s: loading restart: %w", op, err)
		}
		rs.Restore(d)
	}

	if err := d.Start(); err != nil {
		group.Abort(err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	logger := flowterra.NewStepLogger(opts.Logger, group.Rank())

	lastCheckpointStep := d.StepIdx
	lastCheckpointElapsedS := d.ElapsedS

	for !d.Done() {
		rainStepMM, err := flowterra.AcquireRainfall(opts.RainSources, d.StepIdx, d.ElapsedS, cfg.DtS, g.H, g.W)
		if err != nil {
			group.Abort(err)
			return nil, fmt.Errorf("%s: acquiring rainfall: %w", op, err)
		}

		send, err := d.StepOnce(rainStepMM)
		if err != nil {
			group.Abort(err)
			return nil, fmt.Errorf("%s: step %d: %w", op, d.StepIdx, err)
		}

		received, err := group.AllToAllParticles(send)
		if err != nil {
			group.Abort(err)
			return nil, fmt.Errorf("%s: migrating step %d: %w", op, d.StepIdx, err)
		}
		d.FinishMigration(received)

		logger.LogStep(d.StepIdx, d.ElapsedS, d.Particles.Len(), d.LastOutflowVolM3())
		if opts.Monitor != nil {
			opts.Monitor.Publish(monitor.Snapshot{
				Rank:         group.Rank(),
				StepIdx:      d.StepIdx,
				ElapsedS:     d.ElapsedS,
				NParticles:   d.Particles.Len(),
				OutflowVolM3: d.LastOutflowVolM3(),
			})
		}

		if d.ShouldCheckpoint(lastCheckpointStep, lastCheckpointElapsedS) {
			if err := checkpoint(group, d, cfg, opts.RestartPath); err != nil {
				group.Abort(err)
				return nil, fmt.Errorf("%s: checkpointing at step %d: %w", op, d.StepIdx, err)
			}
			lastCheckpointStep = d.StepIdx
			lastCheckpointElapsedS = d.ElapsedS
		}
	}

	if err := d.Finish(); err != nil {
		group.Abort(err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := writeFinalOutput(group, d, opts.OutputPath); err != nil {
		group.Abort(err)
		return nil, fmt.Errorf("%s: writing output: %w", op, err)
	}

	return &Result{StepCount: d.StepIdx, ElapsedS: d.ElapsedS}, nil
}

// checkpoint moves the driver through CHECKPOINTING -> RUNNING, writing a
// restart bundle if restartPath is set. Only rank 0 touches the
// filesystem; every other rank waits at the barrier that follows so that a
// resume always finds a checkpoint taken with every rank already past its
// BeginCheckpoint transition.
func checkpoint(group collective.Group, d *flowterra.StepDriver, cfg *flowterra.Config, restartPath string) error {
	if err := d.BeginCheckpoint(); err != nil {
		return err
	}

	if restartPath != "" && group.Rank() == 0 {
		rs := flowterra.NewRestartState(d)
		gridio.StampConfigHash(rs, cfg)
		op := func() error { return gridio.SaveRestart(restartPath, rs) }
		bo := backoff.NewExponentialBackOff()
		bo.MaxElapsedTime = 30 * time.Second
		if err := backoff.Retry(op, bo); err != nil {
			return fmt.Errorf("saving checkpoint after retries: %w", err)
		}
	}

	if err := group.Barrier(); err != nil {
		return err
	}

	return d.EndCheckpoint()
}

// writeFinalOutput gathers every rank's slab deposition field to rank 0
// and writes it alongside the risk index to outputPath. Flow
// accumulation and the risk index need no gather: every rank already holds
// an identical whole-grid DG, Grid.Active, and QMM (every rank samples the
// same rainfall sources itself, and P/Q integration is duplicated, not
// partitioned, across ranks, unlike
// particle state), so every rank computes the same field independently.
// Only the deposition grid is genuinely slab-local and needs assembling.
func writeFinalOutput(group collective.Group, d *flowterra.StepDriver, outputPath string) error {
	area := d.Grid.NewField()
	for r := 0; r < d.Grid.H; r++ {
		for c := 0; c < d.Grid.W; c++ {
			area.Set(d.Grid.CellArea(r, c), r, c)
		}
	}
	accum, unresolved := flowterra.FlowAccumulate(d.DG, d.Grid.Active, area)
	if len(unresolved) > 0 && group.Rank() == 0 {
		logrus.WithField("n_unresolved", len(unresolved)).Warn("flow accumulation left unresolved cells (cycle in direction graph)")
	}
	riskIndex := flowterra.RiskIndex(d.Config, d.QMM, accum, d.Grid.Active)

	depositionWhole := gatherField(group, d.LastDepositGrid(), d.Grid.H, d.Grid.W, d.Slabs[group.Rank()])
	floodDepthM := d.Grid.DepthFromVolume(depositionWhole)

	if group.Rank() != 0 {
		return nil
	}
	if outputPath == "" {
		return nil
	}
	return gridio.WriteOutput(outputPath, d.Grid, riskIndex, floodDepthM)
}

// gatherField collects a per-rank H x W field (valid only within mySlab's
// row range on each rank) into a whole-grid field on rank 0, via
// BroadcastFloat64 from each rank in turn. This is O(N) broadcasts rather
// than a dedicated gather primitive, since collective.Group names no
// gather method (§5 specifies broadcast, all-to-all, and barrier only);
// correctness, not asymptotic elegance, is what a once-per-run call at
// final output needs.
func gatherField(group collective.Group, local *sparse.DenseArray, h, w int, mySlab flowterra.Slab) *sparse.DenseArray {
	whole := sparse.ZerosDense(h, w)
	for root := 0; root < group.Size(); root++ {
		buf := sparse.ZerosDense(h, w)
		if group.Rank() == root {
			for r := mySlab.R0; r < mySlab.R1; r++ {
				for c := 0; c < w; c++ {
					buf.Set(local.Get(r-mySlab.R0, c), r, c)
				}
			}
		}
		if err := group.BroadcastFloat64(root, buf); err != nil {
			group.Abort(err)
			return whole
		}
		if group.Rank() == 0 {
			for i, v := range buf.Elements {
				if v != 0 {
					whole.Elements[i] = v
				}
			}
		}
	}
	return whole
}
