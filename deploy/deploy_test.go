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

package deploy

import (
	"strconv"
	"strings"
	"testing"

	batch "k8s.io/api/batch/v1"
	core "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/client-go/kubernetes/fake"
	k8stesting "k8s.io/client-go/testing"
)

// capturingClientset records every Job the Create reactor observes, the
// same interception pattern cloud/fakerunner.go's NewFakeClient /
// PrependReactor("create", "jobs", ...) uses, without actually executing
// a binary (unlike InMAP's fakeRun, which shells out to a compiled
// inmap).
func capturingClientset(t *testing.T) (*fake.Clientset, *[]*batch.Job) {
	k := fake.NewSimpleClientset()
	var created []*batch.Job
	k.Fake.PrependReactor("create", "jobs", func(action k8stesting.Action) (bool, runtime.Object, error) {
		job := action.(k8stesting.CreateAction).GetObject().(*batch.Job)
		created = append(created, job)
		return false, job, nil
	})
	return k, &created
}

func TestLaunchGroupCreatesOneJobPerRank(t *testing.T) {
	k, created := capturingClientset(t)
	c := NewClient(k, "flowterra")

	opts := GroupOptions{
		Name:       "s1",
		Image:      "flowterra/flowterra:latest",
		N:          3,
		Addrs:      []string{"s1-rank-0:8080", "s1-rank-1:8080", "s1-rank-2:8080"},
		Transport:  "grpc",
		ConfigPath: "gs://bucket/s1/flowterra.toml",
		DomainPath: "gs://bucket/s1/domain.nc",
		OutputPath: "gs://bucket/s1/output.nc",
		MemoryGB:   2,
	}
	jobs, err := c.LaunchGroup(opts)
	if err != nil {
		t.Fatalf("LaunchGroup: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 jobs, got %d", len(jobs))
	}
	if len(*created) != 3 {
		t.Fatalf("expected 3 jobs created, got %d", len(*created))
	}

	for rank, job := range *created {
		args := job.Spec.Template.Spec.Containers[0].Args
		joined := strings.Join(args, " ")
		if !strings.Contains(joined, "--rank "+strconv.Itoa(rank)) {
			t.Errorf("rank %d: args missing --rank %d: %v", rank, rank, args)
		}
		if !strings.Contains(joined, "--addrs "+strings.Join(opts.Addrs, ",")) {
			t.Errorf("rank %d: args missing --addrs: %v", rank, args)
		}
		if !strings.Contains(joined, "--listen "+opts.Addrs[rank]) {
			t.Errorf("rank %d: args missing --listen %s: %v", rank, opts.Addrs[rank], args)
		}
		if job.Labels["group"] != "s1" {
			t.Errorf("rank %d: job label group = %q, want s1", rank, job.Labels["group"])
		}
		if job.Spec.Template.Spec.RestartPolicy != core.RestartPolicyOnFailure {
			t.Errorf("rank %d: restart policy = %v, want OnFailure", rank, job.Spec.Template.Spec.RestartPolicy)
		}
	}
}

func TestLaunchGroupRejectsMismatchedAddrCount(t *testing.T) {
	k, _ := capturingClientset(t)
	c := NewClient(k, "flowterra")
	_, err := c.LaunchGroup(GroupOptions{Name: "bad", N: 2, Addrs: []string{"only-one:8080"}})
	if err == nil {
		t.Error("expected error for mismatched addrs/N")
	}
}
