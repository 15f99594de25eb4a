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
	"strings"

	"github.com/spf13/cobra"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"

	"github.com/flowterra/flowterra/deploy"
)

var (
	deployName      string
	deployNamespace string
	deployImage     string
	deployN         int
	deployAddrsCSV  string
	deployTransport string
	deployConfig    string
	deployDomain    string
	deployRestart   string
	deployOutput    string
	deployRain      string
	deployMemoryGB  int64
)

func init() {
	deployCmd.Flags().StringVar(&deployName, "name", "", "group name (required)")
	deployCmd.Flags().StringVar(&deployNamespace, "namespace", "flowterra", "Kubernetes namespace")
	deployCmd.Flags().StringVar(&deployImage, "image", "flowterra/flowterra:latest", "container image")
	deployCmd.Flags().IntVar(&deployN, "n", 1, "number of ranks")
	deployCmd.Flags().StringVar(&deployAddrsCSV, "addrs", "", "comma-separated in-cluster host:port for every rank")
	deployCmd.Flags().StringVar(&deployTransport, "transport", "grpc", `collective transport: "rpc" or "grpc"`)
	deployCmd.Flags().StringVar(&deployConfig, "run-config", "", "config file path or blob URL passed to each worker")
	deployCmd.Flags().StringVar(&deployDomain, "run-domain", "", "domain file path or blob URL passed to each worker")
	deployCmd.Flags().StringVar(&deployRestart, "run-restart", "", "restart checkpoint path or blob URL passed to each worker")
	deployCmd.Flags().StringVar(&deployOutput, "run-output", "", "output path or blob URL passed to each worker")
	deployCmd.Flags().StringVar(&deployRain, "run-rain", "", "rainfall source list path or blob URL passed to each worker")
	deployCmd.Flags().Int64Var(&deployMemoryGB, "memory-gb", 2, "memory request per rank, in GiB")
}

// deployCmd launches a group of N Kubernetes Jobs, one per rank, that dial
// each other over the collective transport once running. It assumes the
// cluster's in-cluster addresses (--addrs) are already reachable, e.g. via
// a headless Service per rank created outside this tool; deploy only
// creates the Jobs themselves, mirroring cloud.Client.RunJob's scope (which
// likewise assumes the Kubernetes cluster and bucket already exist).
var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Launch a flowterra group onto a Kubernetes cluster.",
	Long: `deploy creates one Kubernetes Job per rank of a distributed flowterra run.
It must be run from inside a cluster, since it uses the in-cluster config; it
does not provision the cluster, a bucket, or the per-rank Services that
--addrs refers to.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if deployName == "" {
			return fmt.Errorf("--name is required")
		}
		addrs := strings.Split(deployAddrsCSV, ",")
		if len(addrs) != deployN {
			return fmt.Errorf("--addrs lists %d addresses but --n is %d", len(addrs), deployN)
		}

		cfg, err := rest.InClusterConfig()
		if err != nil {
			return fmt.Errorf("deploy: building in-cluster config: %w", err)
		}
		k, err := kubernetes.NewForConfig(cfg)
		if err != nil {
			return fmt.Errorf("deploy: building clientset: %w", err)
		}

		client := deploy.NewClient(k, deployNamespace)
		jobs, err := client.LaunchGroup(deploy.GroupOptions{
			Name:        deployName,
			Namespace:   deployNamespace,
			Image:       deployImage,
			N:           deployN,
			Addrs:       addrs,
			Transport:   deployTransport,
			ConfigPath:  deployConfig,
			DomainPath:  deployDomain,
			RestartPath: deployRestart,
			OutputPath:  deployOutput,
			RainPath:    deployRain,
			MemoryGB:    deployMemoryGB,
		})
		if err != nil {
			return err
		}
		for _, job := range jobs {
			fmt.Println("launched", job.Name)
		}
		return nil
	},
	DisableAutoGenTag: true,
}
