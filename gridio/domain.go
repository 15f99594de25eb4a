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

// Package gridio is the one place this module touches a filesystem: domain
// rasters, rainfall sources, restart checkpoints, run output, and the TOML
// configuration file. The core flowterra package stays I/O-free so the
// driver can be driven identically from a test, a single-process CLI run,
// or a distributed worker (§6, §9).
package gridio

import (
	"fmt"
	"os"
	"sort"

	"github.com/ctessum/cdf"
	"github.com/ctessum/sparse"

	"github.com/flowterra/flowterra"
)

// DomainFileVersion is stamped into every domain netCDF file's "data_version"
// attribute, the direct analogue of InMAP's InMAPDataVersion check in
// vargrid.go's LoadCTMData: a structural-compatibility guard independent of
// the checkpoint schema version in restart.go.
const DomainFileVersion = "1.0.0"

// Domain bundles everything LoadDomain reads out of one netCDF file: the
// grid geometry, the derived direction graph, and the two remaining
// per-cell rasters the driver needs (curve number, channel mask).
type Domain struct {
	Grid        *flowterra.Grid
	DG          *flowterra.DirectionGraph
	CN          *sparse.DenseArray
	ChannelMask *sparse.DenseArray
}

// LoadDomain reads a domain bundle from path, a netCDF file with variables
// "elevation", "direction", "cn", and optionally "channel_mask", plus
// attributes "d8_encoding" ("esri" or "cw0_7"), "geographic" (int32 0/1),
// and either "area_m2" (scalar grids) or "lat"/"dlon_deg"/"dlat_deg"
// (geographic grids). Grounded directly on vargrid.go's LoadCTMData: open,
// read global attributes, read every named variable as float32 and widen
// to float64.
func LoadDomain(path string) (*Domain, error) {
	const op = "gridio.LoadDomain"
	rw, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rw.Close()

	f, err := cdf.Open(rw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if v, ok := f.Header.GetAttribute("", "data_version").(string); ok && v != DomainFileVersion {
		return nil, fmt.Errorf("%s: domain file version %s is incompatible with required version %s", op, v, DomainFileVersion)
	}

	elevation, err := readVariable(f, "elevation")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	h, w := elevation.Shape[0], elevation.Shape[1]

	direction, err := readVariable(f, "direction")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cn, err := readVariable(f, "cn")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var channelMask *sparse.DenseArray
	if hasVariable(f, "channel_mask") {
		channelMask, err = readVariable(f, "channel_mask")
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	} else {
		channelMask = sparse.ZerosDense(h, w)
	}

	encStr, _ := f.Header.GetAttribute("", "d8_encoding").(string)
	enc := flowterra.Encoding(encStr)

	var grid *flowterra.Grid
	geographic, _ := f.Header.GetAttribute("", "geographic").([]int32)
	if len(geographic) > 0 && geographic[0] != 0 {
		lat, _ := f.Header.GetAttribute("", "lat").([]float64)
		dLon, _ := f.Header.GetAttribute("", "dlon_deg").([]float64)
		dLat, _ := f.Header.GetAttribute("", "dlat_deg").([]float64)
		if len(lat) != h || len(dLon) != 1 || len(dLat) != 1 {
			return nil, fmt.Errorf("%s: geographic domain missing lat/dlon_deg/dlat_deg attributes", op)
		}
		grid = flowterra.NewGeographicGrid(h, w, elevation, lat, dLon[0], dLat[0])
	} else {
		area, _ := f.Header.GetAttribute("", "area_m2").([]float64)
		if len(area) != 1 {
			return nil, fmt.Errorf("%s: projected domain missing area_m2 attribute", op)
		}
		grid = flowterra.NewProjectedGrid(h, w, elevation, area[0])
	}

	dg, err := flowterra.BuildDirectionGraph(h, w, direction, enc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Domain{Grid: grid, DG: dg, CN: cn, ChannelMask: channelMask}, nil
}

func hasVariable(f *cdf.File, name string) bool {
	for _, v := range f.Header.Variables() {
		if v == name {
			return true
		}
	}
	return false
}

// readVariable reads one netCDF variable into a float64 DenseArray, per the
// float32-on-disk/float64-in-memory convention vargrid.go's LoadCTMData
// uses throughout.
func readVariable(f *cdf.File, name string) (*sparse.DenseArray, error) {
	dims := f.Header.Lengths(name)
	data := sparse.ZerosDense(dims...)
	tmp := make([]float32, len(data.Elements))
	r := f.Reader(name, nil, nil)
	if _, err := r.Read(tmp); err != nil {
		return nil, fmt.Errorf("reading variable %s: %w", name, err)
	}
	for i, v := range tmp {
		data.Elements[i] = float64(v)
	}
	return data, nil
}

// WriteOutput writes the final per-rank-gathered risk index and flood-depth
// fields to a netCDF file at path, grounded on vargrid.go's Write /
// writeNCF pair. floodDepthM is the gathered deposition grid already
// converted from volume (m³) to depth (m) via Grid.DepthFromVolume, per
// §6.4's "flood_depth (m, float32)" output requirement.
func WriteOutput(path string, grid *flowterra.Grid, riskIndex, floodDepthM *sparse.DenseArray) error {
	const op = "gridio.WriteOutput"
	fields := map[string]*sparse.DenseArray{
		"risk_index":  riskIndex,
		"flood_depth": floodDepthM,
	}
	names := make([]string, 0, len(fields))
	for n := range fields {
		names = append(names, n)
	}
	sort.Strings(names)

	h := cdf.NewHeader([]string{"y", "x"}, []int{grid.H, grid.W})
	h.AddAttribute("", "comment", "flowterra surface-runoff routing output")
	h.AddAttribute("", "data_version", DomainFileVersion)
	for _, name := range names {
		h.AddVariable(name, []string{"y", "x"}, []float32{0})
	}
	h.Define()

	w, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer w.Close()

	f, err := cdf.Create(w, h)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	for _, name := range names {
		if err := writeVariable(f, name, fields[name]); err != nil {
			return fmt.Errorf("%s: writing %s: %w", op, name, err)
		}
	}
	return cdf.UpdateNumRecs(w)
}

func writeVariable(f *cdf.File, name string, data *sparse.DenseArray) error {
	data32 := make([]float32, len(data.Elements))
	for i, v := range data.Elements {
		data32[i] = float32(v)
	}
	end := f.Header.Lengths(name)
	start := make([]int, len(end))
	w := f.Writer(name, start, end)
	_, err := w.Write(data32)
	return err
}
