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
	"crypto/sha256"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/flowterra/flowterra"
)

// ConfigHash returns a hex sha256 digest over the fields of cfg that, if
// changed between a checkpoint and a restore, would make resuming unsafe
// (everything except StartTimeISO, which legitimately varies run to run,
// and the Checkpoint cadence settings).
// Stamped into RestartState.ConfigHash at save time and compared at load
// time (§6.3 "self-sufficient... restart requires no other file").
func ConfigHash(cfg *flowterra.Config) string {
	h := sha256.New()
	fmt.Fprintf(h, "%g|%g|%s|%g|%g|%g|%g|%t|%g|%g|%g",
		cfg.DtS, cfg.DurationS, cfg.D8Encoding, cfg.SCS.IaRatio,
		cfg.Particle.TargetVolumeM3, cfg.Particle.TravelTimeOverlandS, cfg.Particle.TravelTimeChannelS,
		cfg.Particle.OutflowSink, cfg.Risk.Balance, cfg.Risk.PLow, cfg.Risk.PHigh)
	return fmt.Sprintf("%x", h.Sum(nil))
}

// SaveRestart gob-encodes rs to path, the direct generalization of
// save.go's Save(w io.Writer) DomainManipulator (there, a DomainManipulator
// closure writing a versionCells{DataVersion, Cells} envelope; here, a
// plain function since the driver has no manipulator-pipeline stage that
// itself performs I/O).
func SaveRestart(path string, rs *flowterra.RestartState) error {
	const op = "gridio.SaveRestart"
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer f.Close()
	if err := gob.NewEncoder(f).Encode(rs); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// LoadRestart gob-decodes a restart bundle from path and checks its schema
// version and config hash against cfg, the load-side counterpart of
// save.go's Load(r io.Reader, ...) DomainManipulator.
func LoadRestart(path string, cfg *flowterra.Config) (*flowterra.RestartState, error) {
	const op = "gridio.LoadRestart"
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer f.Close()

	var rs flowterra.RestartState
	if err := gob.NewDecoder(f).Decode(&rs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if rs.SchemaVersion != flowterra.SchemaVersion {
		return nil, fmt.Errorf("%s: restart schema version %d is incompatible with required version %d",
			op, rs.SchemaVersion, flowterra.SchemaVersion)
	}
	if want := ConfigHash(cfg); rs.ConfigHash != want {
		return nil, fmt.Errorf("%s: restart was taken with a different configuration (hash %s, want %s)",
			op, rs.ConfigHash, want)
	}
	return &rs, nil
}

// StampConfigHash sets rs.ConfigHash from cfg, since flowterra.NewRestartState
// builds the rest of the bundle without knowing about gridio's hash
// convention. Callers should call this immediately after NewRestartState,
// before SaveRestart.
func StampConfigHash(rs *flowterra.RestartState, cfg *flowterra.Config) {
	rs.ConfigHash = ConfigHash(cfg)
}
