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

package gridio

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"

	"github.com/flowterra/flowterra"
)

// ScalarSource is a flowterra.RainfallSampler backed by a single literal
// value broadcast across every active cell every step, for the common case
// of a uniform design-storm hyetograph (§9 "polymorphism over rainfall
// source", the Scalar variant).
type ScalarSource struct {
	H, W       int
	ValueMM    float64
	SourceMode flowterra.RainfallMode
	SourceWt   float64
}

// NewScalarSource constructs a ScalarSource of weight 1.
func NewScalarSource(h, w int, valueMM float64, mode flowterra.RainfallMode) *ScalarSource {
	return &ScalarSource{H: h, W: w, ValueMM: valueMM, SourceMode: mode, SourceWt: 1}
}

func (s *ScalarSource) Sample(stepIdx int, simTimeS float64) (*sparse.DenseArray, error) {
	field := sparse.ZerosDense(s.H, s.W)
	for i := range field.Elements {
		field.Elements[i] = s.ValueMM
	}
	return field, nil
}

func (s *ScalarSource) Weight() float64             { return s.SourceWt }
func (s *ScalarSource) Mode() flowterra.RainfallMode { return s.SourceMode }

// GriddedSource is a flowterra.RainfallSampler backed by a netCDF file of
// one or more per-step H×W rainfall frames, the Gridded variant of §9's
// polymorphism, grounded on vargrid.go's CTMData variable-reading
// convention (each step is a separate float32 variable "rain_%04d").
type GriddedSource struct {
	file       *cdf.File
	closer     *os.File
	h, w       int
	numFrames  int
	SourceMode flowterra.RainfallMode
	SourceWt   float64
}

// OpenGriddedSource opens a time-varying rainfall file at path. Frames are
// named "rain_0000", "rain_0001", ... with attribute "num_frames" giving
// the total count; a step index beyond the last frame clamps to it (a
// constant tail, matching a design storm with a recession held flat).
func OpenGriddedSource(path string, mode flowterra.RainfallMode, weight float64) (*GriddedSource, error) {
	const op = "gridio.OpenGriddedSource"
	rw, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	f, err := cdf.Open(rw)
	if err != nil {
		rw.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	numFrames, _ := f.Header.GetAttribute("", "num_frames").([]int32)
	if len(numFrames) != 1 {
		rw.Close()
		return nil, fmt.Errorf("%s: missing num_frames attribute", op)
	}
	dims := f.Header.Lengths("rain_0000")
	if len(dims) != 2 {
		rw.Close()
		return nil, fmt.Errorf("%s: rain_0000 must be a 2-D (H,W) variable", op)
	}
	return &GriddedSource{
		file: f, closer: rw, h: dims[0], w: dims[1],
		numFrames: int(numFrames[0]), SourceMode: mode, SourceWt: weight,
	}, nil
}

// Close releases the underlying file handle.
func (s *GriddedSource) Close() error { return s.closer.Close() }

func (s *GriddedSource) Sample(stepIdx int, simTimeS float64) (*sparse.DenseArray, error) {
	frame := stepIdx
	if frame >= s.numFrames {
		frame = s.numFrames - 1
	}
	if frame < 0 {
		frame = 0
	}
	return readVariable(s.file, fmt.Sprintf("rain_%04d", frame))
}

func (s *GriddedSource) Weight() float64             { return s.SourceWt }
func (s *GriddedSource) Mode() flowterra.RainfallMode { return s.SourceMode }

// rainSourceFile is the on-disk shape of a §6.2 rainfall source list: a
// TOML array of tables, one per source, named analogously to
// ReadConfigFile's flowterra.Config but kept in its own file since §6.5
// doesn't fold the rain source list into the recognized configuration
// surface (a run's rainfall sequence is a separate input, the same way
// LoadDomain and LoadRestart are separate from ReadConfigFile).
type rainSourceFile struct {
	Source []rainSourceSpec `toml:"source"`
}

type rainSourceSpec struct {
	Name   string  `toml:"name"`
	Kind   string  `toml:"kind"` // "scalar" | "gridded"
	Weight float64 `toml:"weight"`
	Mode   string  `toml:"mode"` // "intensity_mmph" | "depth_mm_per_step"

	// Scalar-only.
	ValueMM float64 `toml:"value_mm"`

	// Gridded-only.
	Path string `toml:"path"`
}

// ReadRainConfig parses a §6.2 rainfall source list from a TOML file and
// builds the concrete flowterra.RainfallSampler for each entry (ScalarSource
// for "scalar", GriddedSource for "gridded"). h and w size ScalarSource
// fields; GriddedSource reads its own shape from the netCDF file. The
// returned closers must be closed by the caller once the run finishes, one
// per opened GriddedSource.
func ReadRainConfig(filename string, h, w int) ([]flowterra.RainfallSampler, []*GriddedSource, error) {
	const op = "gridio.ReadRainConfig"
	var rf rainSourceFile
	if _, err := toml.DecodeFile(filename, &rf); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	var sources []flowterra.RainfallSampler
	var opened []*GriddedSource
	for _, spec := range rf.Source {
		mode := flowterra.RainfallMode(spec.Mode)
		switch mode {
		case flowterra.ModeIntensityMMPH, flowterra.ModeDepthMMPerStep:
		default:
			return nil, nil, fmt.Errorf("%s: source %q: unrecognized mode %q", op, spec.Name, spec.Mode)
		}
		weight := spec.Weight
		if weight == 0 {
			weight = 1
		}
		switch spec.Kind {
		case "scalar":
			s := NewScalarSource(h, w, spec.ValueMM, mode)
			s.SourceWt = weight
			sources = append(sources, s)
		case "gridded":
			g, err := OpenGriddedSource(spec.Path, mode, weight)
			if err != nil {
				for _, o := range opened {
					o.Close()
				}
				return nil, nil, fmt.Errorf("%s: source %q: %w", op, spec.Name, err)
			}
			sources = append(sources, g)
			opened = append(opened, g)
		default:
			return nil, nil, fmt.Errorf("%s: source %q: unrecognized kind %q, want \"scalar\" or \"gridded\"", op, spec.Name, spec.Kind)
		}
	}
	return sources, opened, nil
}
