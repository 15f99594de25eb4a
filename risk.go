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
	"github.com/ctessum/sparse"

	"github.com/flowterra/flowterra/science/riskindex"
)

// RiskIndex computes the percentile-normalized, convex-combined flood-risk
// index from cumulative runoff Q and upstream contributing area A (§7, §8).
// cfg.Risk.PLow/PHigh and cfg.Risk.Balance drive the underlying normalize/
// combine calls in science/riskindex.
func RiskIndex(cfg *Config, Q, A, active *sparse.DenseArray) *sparse.DenseArray {
	normQ := riskindex.Normalize(Q, active, cfg.Risk.PLow, cfg.Risk.PHigh)
	normA := riskindex.Normalize(A, active, cfg.Risk.PLow, cfg.Risk.PHigh)
	return riskindex.Index(normQ, normA, active, cfg.Risk.Balance)
}
