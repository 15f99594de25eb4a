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
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	"github.com/flowterra/flowterra"
	"github.com/flowterra/flowterra/collective"
	"github.com/flowterra/flowterra/gridio"
	"github.com/flowterra/flowterra/monitor"
	"github.com/flowterra/flowterra/runutil"
)

// Flags shared by both run subcommands.
var (
	domainPath  string
	restartPath string
	outputPath  string
	rainPath    string
	monitorURL  string
)

// run local flags.
var localN int

// run worker flags.
var (
	workerRank      int
	workerAddrsCSV  string
	workerListen    string
	workerTransport string
)

func init() {
	runLocalCmd.Flags().IntVar(&localN, "n", 1, "number of in-process workers")
	for _, c := range []*cobra.Command{runLocalCmd, runWorkerCmd} {
		c.Flags().StringVar(&domainPath, "domain", "", "domain netCDF file (required)")
		c.Flags().StringVar(&restartPath, "restart", "", "restart checkpoint path (resumed from if present, written to on checkpoint)")
		c.Flags().StringVar(&outputPath, "output", "", "final output netCDF path")
		c.Flags().StringVar(&rainPath, "rain", "", "rainfall source list TOML file")
		c.Flags().StringVar(&monitorURL, "monitor-url", "", "base URL of a running 'flowterra monitor' dashboard to publish step snapshots to")
	}

	runWorkerCmd.Flags().IntVar(&workerRank, "rank", 0, "this process's rank within the group")
	runWorkerCmd.Flags().StringVar(&workerAddrsCSV, "addrs", "", "comma-separated host:port for every rank, in rank order")
	runWorkerCmd.Flags().StringVar(&workerListen, "listen", "", "address this rank listens on (default: its own entry in --addrs)")
	runWorkerCmd.Flags().StringVar(&workerTransport, "transport", "grpc", `collective transport: "rpc" or "grpc"`)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation.",
	Long: `run drives a flowterra simulation to completion. Use the subcommands below
to choose whether the group's workers run as goroutines in this process
("local") or as separate processes coordinated over the network ("worker").`,
	DisableAutoGenTag: true,
}

// runLocalCmd runs the whole group in-process, one goroutine per rank,
// wired together by a collective.LocalHub. This is the default path for
// single-machine runs, and LocalGroup is the transport runutil's own tests
// drive (Testable Property 6: N=1 and N>1 produce structurally identical
// output).
var runLocalCmd = &cobra.Command{
	Use:   "local",
	Short: "Run the whole group as in-process goroutines.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := gridio.ReadConfigFile(configFile)
		if err != nil {
			return err
		}
		rainSources, opened, err := loadRainSources(domainPath, rainPath)
		if err != nil {
			return err
		}
		defer closeAll(opened)

		hub := collective.NewLocalHub(localN)
		logger := newLogger()
		pub := newMonitorPublisher()

		var wg sync.WaitGroup
		errs := make([]error, localN)
		for rank := 0; rank < localN; rank++ {
			wg.Add(1)
			go func(rank int) {
				defer wg.Done()
				group := collective.NewLocalGroup(hub, rank)
				_, err := runutil.Run(runutil.RunOptions{
					Config:      cfg,
					DomainPath:  domainPath,
					RestartPath: restartPath,
					OutputPath:  outputPath,
					RainSources: rainSources,
					Group:       group,
					Logger:      logger,
					Monitor:     pub,
				})
				errs[rank] = err
			}(rank)
		}
		wg.Wait()

		for rank, err := range errs {
			if err != nil {
				return fmt.Errorf("rank %d: %w", rank, err)
			}
		}
		return nil
	},
	DisableAutoGenTag: true,
}

// runWorkerCmd runs a single rank of a multi-process group, dialing its
// peers over net/rpc or grpc. Every rank, including rank 0, runs this same
// command: the full-mesh RPCGroup/GRPCGroup design (§5, §9) makes every
// rank symmetric, unlike InMAP's sr.WorkerListen/master split where
// only the master drives the RPC calls and workers merely answer them.
var runWorkerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run one rank of a distributed group, dialing peers over the network.",
	Long: `worker starts this rank's own collective server, dials every peer named in
--addrs, and drives the simulation once the whole group is connected.
Every rank in the group — including rank 0 — runs this same command.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := gridio.ReadConfigFile(configFile)
		if err != nil {
			return err
		}
		rainSources, opened, err := loadRainSources(domainPath, rainPath)
		if err != nil {
			return err
		}
		defer closeAll(opened)

		addrs := strings.Split(workerAddrsCSV, ",")
		if workerRank < 0 || workerRank >= len(addrs) {
			return fmt.Errorf("rank %d out of range for %d addresses", workerRank, len(addrs))
		}
		listenAddr := workerListen
		if listenAddr == "" {
			listenAddr = addrs[workerRank]
		}

		group, err := startGroup(context.Background(), workerTransport, workerRank, listenAddr, addrs)
		if err != nil {
			return err
		}

		logger := newLogger()
		_, err = runutil.Run(runutil.RunOptions{
			Config:      cfg,
			DomainPath:  domainPath,
			RestartPath: restartPath,
			OutputPath:  outputPath,
			RainSources: rainSources,
			Group:       group,
			Logger:      logger,
			Monitor:     newMonitorPublisher(),
		})
		return err
	},
	DisableAutoGenTag: true,
}

// loadRainSources opens the domain once just to learn its shape (every
// rank builds its own identical rainfall samplers rather than having them
// gathered or broadcast, mirroring writeFinalOutput's observation that
// rainfall-derived fields are duplicated, not partitioned, across ranks),
// then builds the configured rainfall sources from rainPath, if any.
func loadRainSources(domainPath, rainPath string) ([]flowterra.RainfallSampler, []*gridio.GriddedSource, error) {
	if rainPath == "" {
		return nil, nil, nil
	}
	dom, err := gridio.LoadDomain(domainPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading domain to size rainfall sources: %w", err)
	}
	return gridio.ReadRainConfig(rainPath, dom.Grid.H, dom.Grid.W)
}

func closeAll(sources []*gridio.GriddedSource) {
	for _, s := range sources {
		s.Close()
	}
}

// startGroup starts this rank's own collective server in the background,
// then dials every peer with a retrying backoff (§9: peers come up at
// independent times, and the only way to find out a peer's RPCWorker is
// listening yet is to try and fail).
func startGroup(ctx context.Context, transport string, rank int, listenAddr string, addrs []string) (collective.Group, error) {
	switch transport {
	case "rpc":
		worker := collective.NewRPCWorker(rank)
		go func() {
			_ = worker.Listen(listenAddr)
		}()
		var group *collective.RPCGroup
		err := retryWithBackoff(func() error {
			g, err := collective.NewRPCGroupMember(rank, addrs)
			if err != nil {
				return err
			}
			group = g
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("dialing rpc group: %w", err)
		}
		return group, nil
	case "grpc":
		worker := collective.NewRPCWorker(rank)
		lis, err := net.Listen("tcp", listenAddr)
		if err != nil {
			return nil, fmt.Errorf("listening on %s: %w", listenAddr, err)
		}
		server := grpc.NewServer()
		collective.RegisterFlowGroupServer(server, worker)
		go func() {
			_ = server.Serve(lis)
		}()
		var group *collective.GRPCGroup
		err = retryWithBackoff(func() error {
			g, err := collective.NewGRPCGroupMember(ctx, rank, addrs)
			if err != nil {
				return err
			}
			group = g
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("dialing grpc group: %w", err)
		}
		return group, nil
	default:
		return nil, fmt.Errorf(`unrecognized transport %q, want "rpc" or "grpc"`, transport)
	}
}

// newMonitorPublisher returns an HTTPPublisher pointed at --monitor-url, or
// nil if the flag was left empty; runutil.Run treats a nil Monitor as "no
// dashboard", skipping the publish call entirely.
func newMonitorPublisher() monitor.Publisher {
	if monitorURL == "" {
		return nil
	}
	return monitor.HTTPPublisher{BaseURL: monitorURL}
}

func retryWithBackoff(op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 60 * time.Second
	return backoff.Retry(op, bo)
}
