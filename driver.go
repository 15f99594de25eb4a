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

import "github.com/ctessum/sparse"

// driverState names a node in the §4.7 state machine.
type driverState int

const (
	StateUninitialized driverState = iota
	StateReady
	StateRunning
	StateCheckpointing
	StateFinal
)

func (s driverState) String() string {
	switch s {
	case StateUninitialized:
		return "UNINITIALIZED"
	case StateReady:
		return "READY"
	case StateRunning:
		return "RUNNING"
	case StateCheckpointing:
		return "CHECKPOINTING"
	case StateFinal:
		return "FINAL"
	default:
		return "UNKNOWN"
	}
}

// legalTransitions enumerates the edges of the §4.7 state diagram.
var legalTransitions = map[driverState]map[driverState]bool{
	StateUninitialized: {StateReady: true},
	StateReady:          {StateRunning: true},
	StateRunning:        {StateCheckpointing: true, StateFinal: true},
	StateCheckpointing:  {StateRunning: true},
	StateFinal:          {},
}

// Phase is one named stage of the per-step pipeline, directly grounded in
// InMAP's DomainManipulator pipeline (RunFuncs []DomainManipulator
// executed in sequence each tick in run.go / inmaputil/inmap.go).
type Phase func(*StepDriver) error

// StepDriver is the state machine and per-worker local state that §4.7
// describes. One StepDriver exists per worker (per collective.Group rank);
// rank 0 additionally owns bulk I/O.
type StepDriver struct {
	Config *Config
	Grid   *Grid
	DG     *DirectionGraph
	Runoff RunoffModel

	Rank  int
	Slabs []Slab

	CN          *sparse.DenseArray
	ChannelMask *sparse.DenseArray

	PMM       *sparse.DenseArray
	QMM       *sparse.DenseArray
	Particles *Particles

	ElapsedS        float64
	CumRainVolM3    float64
	CumRunoffVolM3  float64
	CumOutflowVolM3 float64

	StepIdx int

	state driverState

	// Phases is an exported phase list that Initialize sets to empty and
	// that nothing in the driver runs: the per-step sequence is fixed in
	// StepOnce and FinishMigration, and rainfall acquisition and
	// checkpointing are driven by runutil.
	Phases []Phase

	lastOutflowVolM3   float64
	lastDepositGrid    *sparse.DenseArray
	lastRiskIndexField *sparse.DenseArray
}

func (d *StepDriver) State() driverState { return d.state }

// transition enforces the state diagram, rejecting illegal moves such as
// CHECKPOINTING -> FINAL. This generalizes InMAP's single Done bool
// flag (sufficient for its non-distributed steady-state loop) to a richer
// enum needed once a distributed checkpoint phase exists.
func (d *StepDriver) transition(to driverState) error {
	const op = "flowterra.StepDriver.transition"
	if !legalTransitions[d.state][to] {
		return wrapErr(ErrKindDomain, op, illegalTransitionErr{from: d.state, to: to})
	}
	d.state = to
	return nil
}

type illegalTransitionErr struct{ from, to driverState }

func (e illegalTransitionErr) Error() string {
	return "illegal state transition " + e.from.String() + " -> " + e.to.String()
}

// Initialize moves UNINITIALIZED -> READY: it is called once domain load,
// broadcast, direction-graph build, and slab decomposition have completed
// (those steps live in runutil, since they touch gridio/collective). g, dg
// and the CN/channel rasters must already be the broadcast, rank-owned
// copies; cfg must already be Validate()d.
func (d *StepDriver) Initialize(cfg *Config, g *Grid, dg *DirectionGraph, cn, channelMask *sparse.DenseArray, rank int, slabs []Slab, runoff RunoffModel) error {
	d.Config = cfg
	d.Grid = g
	d.DG = dg
	d.CN = cn
	d.ChannelMask = channelMask
	d.Rank = rank
	d.Slabs = slabs
	d.Runoff = runoff
	d.PMM = g.NewField()
	d.QMM = g.NewField()
	d.Particles = NewParticles()
	d.Phases = []Phase{}
	return d.transition(StateReady)
}

// Start moves READY -> RUNNING, at the first step (§4.7).
func (d *StepDriver) Start() error {
	return d.transition(StateRunning)
}

// BeginCheckpoint moves RUNNING -> CHECKPOINTING.
func (d *StepDriver) BeginCheckpoint() error {
	return d.transition(StateCheckpointing)
}

// EndCheckpoint moves CHECKPOINTING -> RUNNING, after the gather + write
// completes.
func (d *StepDriver) EndCheckpoint() error {
	return d.transition(StateRunning)
}

// Finish moves RUNNING -> FINAL.
func (d *StepDriver) Finish() error {
	return d.transition(StateFinal)
}

// ShouldCheckpoint reports whether a step-count or wall-clock checkpoint
// boundary (§4.7 "RUNNING -> CHECKPOINTING: whenever a step count or
// wall-clock boundary is crossed") has been crossed.
func (d *StepDriver) ShouldCheckpoint(lastCheckpointStep int, lastCheckpointElapsedS float64) bool {
	if d.Config.Checkpoint.EverySteps > 0 && d.StepIdx-lastCheckpointStep >= d.Config.Checkpoint.EverySteps {
		return true
	}
	if d.Config.Checkpoint.EveryS > 0 && d.ElapsedS-lastCheckpointElapsedS >= d.Config.Checkpoint.EveryS {
		return true
	}
	return false
}

// Done reports whether the simulation has reached its configured duration
// (§4.7 "RUNNING -> FINAL: when elapsed_s >= sim_duration_s").
func (d *StepDriver) Done() bool {
	return d.ElapsedS >= d.Config.DurationS
}

// StepOnce runs the in-process part of one step (§4.7): it integrates
// rainStepMM (this step's rainfall in mm, already blended by the caller)
// into P, updates Q and the cumulative volumes, spawns particles on this
// rank's slab, advects them, and partitions them with Migrate. Migration
// counterparts (send buckets that must cross a collective.Group boundary)
// are returned to the caller rather than exchanged here, keeping
// StepDriver collective-transport-agnostic, exactly as the particle engine
// (§4.4) is specified independently of §5's transport; deposition happens
// in FinishMigration once the exchange is done.
func (d *StepDriver) StepOnce(rainStepMM *sparse.DenseArray) (send map[int]*Particles, err error) {
	const op = "flowterra.StepDriver.StepOnce"
	if d.state != StateRunning {
		return nil, wrapErr(ErrKindDomain, op, illegalTransitionErr{from: d.state, to: StateRunning})
	}

	IntegrateRainfall(d.PMM, rainStepMM, d.Grid.Active)
	for i, v := range rainStepMM.Elements {
		if d.Grid.Active.Elements[i] == 0 {
			continue
		}
		d.CumRainVolM3 += v * d.Grid.CellArea(i/d.Grid.W, i%d.Grid.W) * 1e-3
	}

	deltaQ := UpdateRunoff(d.Runoff, d.PMM, d.QMM, d.CN, d.Grid.Active)
	volM3 := RunoffVolumeM3(d.Grid, deltaQ)

	mySlab := d.Slabs[d.Rank]
	spawned, spawnedVol := SpawnParticles(mySlab, volM3, d.Grid.Active, d.Config.Particle.TargetVolumeM3)
	d.CumRunoffVolM3 += spawnedVol
	d.Particles.AppendAll(spawned)

	advected, res := Advect(d.Particles, d.DG, d.Grid.Active, d.ChannelMask, d.Config.DtS,
		d.Config.Particle.TravelTimeOverlandS, d.Config.Particle.TravelTimeChannelS, d.Config.Particle.OutflowSink)
	d.CumOutflowVolM3 += res.OutflowVolM3
	d.lastOutflowVolM3 = res.OutflowVolM3

	kept, send := Migrate(advected, mySlab, d.Slabs)
	d.Particles = kept

	d.ElapsedS += d.Config.DtS
	d.StepIdx++
	return send, nil
}

// FinishMigration rebuilds the local particle container after the
// collective layer has exchanged the send buckets StepOnce returned
// (§4.4.3 "rebuild the local container as local_kept ⧺ received"), and
// refreshes the deposition snapshot (§4.4.4).
func (d *StepDriver) FinishMigration(received *Particles) {
	d.Particles.AppendAll(received)
	mySlab := d.Slabs[d.Rank]
	d.lastDepositGrid = Deposit(d.Particles, mySlab, d.Grid.W)
}

// LastOutflowVolM3 returns the outflow volume recorded by the most recent
// StepOnce call, for driver-level logging.
func (d *StepDriver) LastOutflowVolM3() float64 { return d.lastOutflowVolM3 }

// LastDepositGrid returns the local slab's flood-depth-precursor deposition
// snapshot built by the most recent FinishMigration call.
func (d *StepDriver) LastDepositGrid() *sparse.DenseArray { return d.lastDepositGrid }
