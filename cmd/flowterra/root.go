/*
Copyright © 2017 the InMAP authors.
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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/flowterra/flowterra"
)

const year = "2026"

// configFile specifies the location of the configuration file, the
// generalization of internal/cmd.cmd.go's identically-named flag from a
// single-file VarGridConfig to flowterra's Config (§6.5).
var configFile string

// logLevel controls the verbosity of the shared logrus logger every
// subcommand hands to runutil.Run.
var logLevel string

func init() {
	Root.AddCommand(versionCmd)
	Root.AddCommand(runCmd)
	runCmd.AddCommand(runLocalCmd)
	runCmd.AddCommand(runWorkerCmd)
	Root.AddCommand(preprocCmd)
	Root.AddCommand(deployCmd)
	Root.AddCommand(monitorCmd)

	Root.PersistentFlags().StringVar(&configFile, "config", "./flowterra.toml", "configuration file location")
	Root.PersistentFlags().StringVar(&logLevel, "log-level", "info", "logrus level: debug, info, warn, error")
}

// Root is the main command.
var Root = &cobra.Command{
	Use:   "flowterra",
	Short: "A distributed Lagrangian-particle surface-runoff and flood-risk router.",
	Long: `flowterra routes surface runoff across a D8 direction graph using a swarm
of Lagrangian particles, partitioned across workers by row-band slab and
kept in step by a small set of collective operations (broadcast, all-to-all,
barrier). Use the subcommands below to run a simulation, preprocess a
domain file, launch a cluster deployment, or watch a live dashboard.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		fmt.Printf(`
  ------------------------------------------------
                    flowterra
          surface runoff & flood risk router
                  version %s
               Copyright 2013-%s
                the InMAP Authors
  ------------------------------------------------
`, flowterra.Version, year)
	},
	DisableAutoGenTag: true,
}

func newLogger() *logrus.Logger {
	l := logrus.New()
	lvl, err := logrus.ParseLevel(logLevel)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.JSONFormatter{})
	return l
}
