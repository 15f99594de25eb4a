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

import (
	"time"

	"github.com/sirupsen/logrus"
)

// StepLogger replaces InMAP's run.go Log(io.Writer) DomainManipulator,
// which printed a plain fmt.Fprintf status line every iteration. Here the
// same per-step status is emitted as structured logrus fields so that
// runutil can ship it to whatever logrus hook the deployment wants
// (stdout, a file, an aggregator) without the driver caring.
type StepLogger struct {
	log       *logrus.Entry
	startTime time.Time
	lastTime  time.Time
}

// NewStepLogger wraps l (nil means logrus.StandardLogger()) with the fields
// used by every step log line.
func NewStepLogger(l *logrus.Logger, rank int) *StepLogger {
	if l == nil {
		l = logrus.StandardLogger()
	}
	now := time.Now()
	return &StepLogger{
		log:       l.WithField("rank", rank),
		startTime: now,
		lastTime:  now,
	}
}

// LogStep emits one structured status line for the step just completed.
func (s *StepLogger) LogStep(step int, elapsedS float64, nParticles int, outflowVolM3 float64) {
	now := time.Now()
	s.log.WithFields(logrus.Fields{
		"step":            step,
		"elapsed_s":       elapsedS,
		"n_particles":     nParticles,
		"outflow_vol_m3":  outflowVolM3,
		"walltime_total":  now.Sub(s.startTime).Seconds(),
		"walltime_step":   now.Sub(s.lastTime).Seconds(),
	}).Info("step complete")
	s.lastTime = now
}
