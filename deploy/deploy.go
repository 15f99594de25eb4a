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

// Package deploy launches a flowterra group onto a Kubernetes cluster, one
// Job per rank, and stages the domain/config/restart/output files those
// Jobs need through object storage. It is grounded on InMAP's cloud
// package, generalized from a single-job SR-matrix work unit (one
// InMAP steady-state run per Kubernetes Job) to an N-rank group launched as
// N Jobs that dial each other over the collective transport once running.
package deploy

import (
	"fmt"
	"strings"

	batch "k8s.io/api/batch/v1"
	core "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	meta "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
)

// GroupOptions describes one flowterra run to launch as a Kubernetes Job
// per rank, the multi-rank generalization of InMAP's single
// cloudrpc.JobSpec (cloud/jobspec.go).
type GroupOptions struct {
	Name      string
	Namespace string
	Image     string

	// N is the number of ranks (and Jobs) to launch.
	N int
	// Addrs holds one in-cluster host:port per rank, e.g. the DNS name of a
	// headless Service fronting each Job's pod. Addrs[i] is dialed by every
	// other rank and listened on by rank i itself.
	Addrs     []string
	Transport string // "rpc" or "grpc"

	ConfigPath  string
	DomainPath  string
	RestartPath string
	OutputPath  string
	RainPath    string

	MemoryGB int64
	Volumes  []core.Volume
}

// Client launches and tracks flowterra groups on a Kubernetes cluster. It
// is the generalization of InMAP's cloud.Client stripped of the
// gRPC-web front end and viper-backed flag plumbing (§9 [EXPANSION]): the
// caller already has a fully-populated GroupOptions rather than a cobra
// root command to introspect.
type Client struct {
	k         kubernetes.Interface
	namespace string
}

// NewClient wraps a Kubernetes client for launching flowterra groups into
// namespace.
func NewClient(k kubernetes.Interface, namespace string) *Client {
	return &Client{k: k, namespace: namespace}
}

// LaunchGroup creates one Kubernetes Job per rank in opts, each running
// "flowterra run worker" with that rank's --rank/--addrs/--listen flags
// set. It does not wait for the Jobs to complete; callers poll Status or
// watch the Jobs directly.
func (c *Client) LaunchGroup(opts GroupOptions) ([]*batch.Job, error) {
	const op = "deploy.Client.LaunchGroup"
	if len(opts.Addrs) != opts.N {
		return nil, fmt.Errorf("%s: %d addrs for %d ranks", op, len(opts.Addrs), opts.N)
	}
	jobControl := c.k.BatchV1().Jobs(c.namespace)

	jobs := make([]*batch.Job, opts.N)
	for rank := 0; rank < opts.N; rank++ {
		name := fmt.Sprintf("%s-rank-%d", opts.Name, rank)
		job := newJob(name, opts.Name, []string{"flowterra"}, rankArgs(opts, rank), opts.Image,
			core.ResourceList{core.ResourceMemory: resource.MustParse(fmt.Sprintf("%dGi", opts.MemoryGB))},
			opts.Volumes)
		created, err := jobControl.Create(job)
		if err != nil {
			return nil, fmt.Errorf("%s: creating job for rank %d: %w", op, rank, err)
		}
		jobs[rank] = created
	}
	return jobs, nil
}

// Status reports whether every rank's Job in group has completed, the
// generalization of cloud/client.go's Status across N Jobs instead of one.
func (c *Client) Status(group string) (complete, failed bool, err error) {
	jobList, err := c.k.BatchV1().Jobs(c.namespace).List(meta.ListOptions{LabelSelector: "group=" + group})
	if err != nil {
		return false, false, fmt.Errorf("deploy.Client.Status: %w", err)
	}
	if len(jobList.Items) == 0 {
		return false, false, fmt.Errorf("deploy.Client.Status: no jobs found for group %s", group)
	}
	allComplete := true
	for _, job := range jobList.Items {
		ok := false
		for _, cond := range job.Status.Conditions {
			if cond.Type == batch.JobFailed && cond.Status == core.ConditionTrue {
				return false, true, nil
			}
			if cond.Type == batch.JobComplete && cond.Status == core.ConditionTrue {
				ok = true
			}
		}
		if !ok {
			allComplete = false
		}
	}
	return allComplete, false, nil
}

// rankArgs builds the "flowterra run worker" argument list for one rank.
func rankArgs(opts GroupOptions, rank int) []string {
	args := []string{
		"run", "worker",
		"--config", opts.ConfigPath,
		"--domain", opts.DomainPath,
		"--output", opts.OutputPath,
		"--rank", fmt.Sprint(rank),
		"--addrs", strings.Join(opts.Addrs, ","),
		"--listen", opts.Addrs[rank],
		"--transport", opts.Transport,
	}
	if opts.RestartPath != "" {
		args = append(args, "--restart", opts.RestartPath)
	}
	if opts.RainPath != "" {
		args = append(args, "--rain", opts.RainPath)
	}
	return args
}

// newJob builds a Kubernetes Job specification. Grounded directly on
// cloud/client.go's createJob: same Container/PodTemplateSpec/VolumeMount
// shape, labeled by group name and rank instead of InMAP's single
// static "app": "inmap-distributed" label, since a flowterra deployment
// lists Jobs by group membership (Status above).
func newJob(name, group string, command, args []string, image string, resources core.ResourceList, volumes []core.Volume) *batch.Job {
	volumeMounts := make([]core.VolumeMount, len(volumes))
	for i, v := range volumes {
		volumeMounts[i] = core.VolumeMount{
			Name:      v.Name,
			ReadOnly:  true,
			MountPath: "/data/" + v.Name,
		}
	}
	labels := map[string]string{"app": "flowterra", "group": group}
	return &batch.Job{
		TypeMeta: meta.TypeMeta{
			Kind:       "Job",
			APIVersion: "batch/v1",
		},
		ObjectMeta: meta.ObjectMeta{
			Name:   name,
			Labels: labels,
		},
		Spec: batch.JobSpec{
			Template: core.PodTemplateSpec{
				ObjectMeta: meta.ObjectMeta{
					Name:   name + "-pod",
					Labels: labels,
				},
				Spec: core.PodSpec{
					Containers: []core.Container{
						{
							Name:    "flowterra-container",
							Image:   image,
							Command: command,
							Args:    args,
							Resources: core.ResourceRequirements{
								Requests: resources,
							},
							VolumeMounts: volumeMounts,
						},
					},
					Volumes:       volumes,
					RestartPolicy: core.RestartPolicyOnFailure,
				},
			},
		},
	}
}
