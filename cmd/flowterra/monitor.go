/*
Copyright © 2018 the InMAP authors.
This file is part of InMAP.

InMAP is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

InMAP is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with InMAP.  If not, see <http://www.gnu.org/licenses/>.
*/

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/flowterra/flowterra/monitor"
)

var monitorAddr string

func init() {
	monitorCmd.Flags().StringVar(&monitorAddr, "addr", ":8090", "address to serve the dashboard feed on")
}

// monitorCmd starts the live dashboard server that run/worker processes
// publish step snapshots to via --monitor-url, and that a browser or other
// websocket client watches at /ws.
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Serve a live websocket feed of simulation progress.",
	Long: `monitor starts an HTTP server exposing a websocket feed at /ws and a
publish endpoint at /publish. Point a running simulation's --monitor-url
flag at this server's address to stream its per-step progress here.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("serving dashboard feed on %s (ws: /ws, publish: /publish)\n", monitorAddr)
		return monitor.Serve(monitorAddr, monitor.NewHub())
	},
	DisableAutoGenTag: true,
}
