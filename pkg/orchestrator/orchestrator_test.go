/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package orchestrator

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gotest.tools/assert"

	"github.com/AMD-AIG-AIMA/GHX/pkg/benchmark"
	"github.com/AMD-AIG-AIMA/GHX/pkg/common"
	"github.com/AMD-AIG-AIMA/GHX/pkg/engine"
	"github.com/AMD-AIG-AIMA/GHX/pkg/errors"
	"github.com/AMD-AIG-AIMA/GHX/pkg/sshexec"
)

type fakeResponse struct {
	match  string
	result *sshexec.Result
}

type fakeSession struct {
	responses []fakeResponse
	// blockOn suspends matching commands until release is closed
	blockOn string
	release chan struct{}
}

func (f *fakeSession) Run(command string, _ time.Duration, _ bool) (*sshexec.Result, error) {
	if f.blockOn != "" && strings.Contains(command, f.blockOn) {
		<-f.release
	}
	for _, r := range f.responses {
		if strings.Contains(command, r.match) {
			res := *r.result
			res.Command = command
			return &res, nil
		}
	}
	return &sshexec.Result{Command: command, ExitCode: 0}, nil
}

func (f *fakeSession) Upload(string, string, bool) error  { return nil }
func (f *fakeSession) UploadDir(string, string) error     { return nil }
func (f *fakeSession) Close() error                       { return nil }

func testAssets(t *testing.T) engine.Assets {
	t.Helper()
	dir := t.TempDir()
	assets := engine.Assets{
		Nvbandwidth:      filepath.Join(dir, "nvbandwidth"),
		P2PTest:          filepath.Join(dir, "p2pBandwidthLatencyTest"),
		NcclTestsArchive: filepath.Join(dir, "nccl-tests.tgz"),
		IBCheckScript:    filepath.Join(dir, "ib_health_check.sh"),
	}
	for _, path := range []string{assets.Nvbandwidth, assets.P2PTest, assets.NcclTestsArchive, assets.IBCheckScript} {
		assert.NilError(t, os.WriteFile(path, []byte("stub"), 0o755))
	}
	return assets
}

func h100Catalog() *benchmark.Catalog {
	return benchmark.NewCatalog(map[string]benchmark.Thresholds{
		"H100": {"bw": 40, "p2p": 700, "nccl": 139},
	})
}

const gpuListing = "GPU 0: NVIDIA H100 80GB HBM3 (UUID: GPU-aaaa)\n"

func passingResponses(ncclBandwidth string) []fakeResponse {
	return []fakeResponse{
		{match: "nvidia-smi -L", result: &sshexec.Result{Stdout: gpuListing}},
		{match: "host_to_device", result: &sshexec.Result{Stdout: " 0  55.20\n"}},
		{match: "device_to_host", result: &sshexec.Result{Stdout: " 0  54.80\n"}},
		{match: "p2pBandwidthLatencyTest", result: &sshexec.Result{Stdout: "Bidirectional P2P=Enabled Bandwidth Matrix\n 0 900.0 720.0\n 1 725.0 900.0\n"}},
		{match: "all_reduce_perf", result: &sshexec.Result{Stdout: "# Avg bus bandwidth : " + ncclBandwidth + "\n"}},
	}
}

func newOrchestrator(t *testing.T, dial engine.DialFunc) *Orchestrator {
	t.Helper()
	runner := engine.NewRunnerWithDial(h100Catalog(), testAssets(t), dial)
	return New(runner, nil)
}

func submitRequest(hosts ...string) SubmitRequest {
	req := SubmitRequest{
		Tests:     []string{common.TestNvbandwidth, common.TestP2P, common.TestNccl},
		DcgmLevel: 2,
	}
	for _, host := range hosts {
		req.Nodes = append(req.Nodes, NodeSubmission{
			Host:     host,
			Username: "root",
			Auth:     sshexec.Auth{Type: sshexec.AuthTypePassword, Value: "secret-password"},
		})
	}
	return req
}

func waitForJobStatus(t *testing.T, o *Orchestrator, jobID, status string) *JobView {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		view, err := o.Get(jobID)
		assert.NilError(t, err)
		if view.Status == status {
			return view
		}
		time.Sleep(10 * time.Millisecond)
	}
	view, _ := o.Get(jobID)
	t.Fatalf("job %s never reached %s, last status %s", jobID, status, view.Status)
	return nil
}

func TestSubmitValidation(t *testing.T) {
	o := newOrchestrator(t, func(sshexec.Connection) (engine.Session, error) {
		return &fakeSession{}, nil
	})

	_, err := o.Submit(SubmitRequest{Tests: []string{"nccl"}})
	assert.Assert(t, errors.IsBadRequest(err))

	_, err = o.Submit(SubmitRequest{Nodes: []NodeSubmission{{Host: "h", Username: "u", Auth: sshexec.Auth{Type: "password"}}}})
	assert.Assert(t, errors.IsBadRequest(err))

	req := submitRequest("h1")
	req.Tests = []string{"warp-speed"}
	_, err = o.Submit(req)
	assert.Assert(t, errors.IsBadRequest(err))

	req = submitRequest("h1")
	req.DcgmLevel = 9
	_, err = o.Submit(req)
	assert.Assert(t, errors.IsBadRequest(err))

	req = submitRequest("h1")
	req.Nodes[0].Auth.Type = ""
	_, err = o.Submit(req)
	assert.Assert(t, errors.IsBadRequest(err))
}

func TestSubmitDuplicateJobName(t *testing.T) {
	o := newOrchestrator(t, func(sshexec.Connection) (engine.Session, error) {
		return &fakeSession{responses: passingResponses("145.3")}, nil
	})
	req := submitRequest("h1")
	req.JobName = "nightly-sweep"
	_, err := o.Submit(req)
	assert.NilError(t, err)
	_, err = o.Submit(req)
	assert.ErrorContains(t, err, "already registered")
}

func TestJobHappyPath(t *testing.T) {
	o := newOrchestrator(t, func(sshexec.Connection) (engine.Session, error) {
		return &fakeSession{responses: passingResponses("145.3")}, nil
	})
	jobID, err := o.Submit(submitRequest("10.0.0.1"))
	assert.NilError(t, err)

	view := waitForJobStatus(t, o, jobID, JobCompleted)
	assert.Equal(t, len(view.Nodes), 1)
	node := view.Nodes[0]
	assert.Equal(t, node.Status, NodePassed)
	assert.Equal(t, node.GpuType, "H100")
	assert.Equal(t, len(node.Results), 3)
	for kind, result := range node.Results {
		assert.Equal(t, result.Status, engine.StatusPassed, "kind=%s", kind)
	}
}

func TestJobPerformanceShortfall(t *testing.T) {
	o := newOrchestrator(t, func(sshexec.Connection) (engine.Session, error) {
		return &fakeSession{responses: passingResponses("100.0")}, nil
	})
	jobID, err := o.Submit(submitRequest("10.0.0.1"))
	assert.NilError(t, err)

	view := waitForJobStatus(t, o, jobID, JobFailed)
	node := view.Nodes[0]
	assert.Equal(t, node.Status, NodeFailed)
	assert.Equal(t, node.Results[common.TestNccl].Status, engine.StatusFailed)
	assert.Equal(t, node.Results[common.TestNvbandwidth].Status, engine.StatusPassed)
}

func TestMidJobCancellation(t *testing.T) {
	release := make(chan struct{})
	o := newOrchestrator(t, func(conn sshexec.Connection) (engine.Session, error) {
		sess := &fakeSession{responses: passingResponses("145.3")}
		if conn.Host == "10.0.0.2" {
			sess.blockOn = "p2pBandwidthLatencyTest"
			sess.release = release
		}
		return sess, nil
	})

	req := submitRequest("10.0.0.1", "10.0.0.2")
	req.Tests = []string{common.TestP2P, common.TestNccl}
	jobID, err := o.Submit(req)
	assert.NilError(t, err)

	// wait for node 1 to finish its run while node 2 is stuck in p2p
	deadline := time.Now().Add(5 * time.Second)
	for {
		view, err := o.Get(jobID)
		assert.NilError(t, err)
		if view.Nodes[0].Status == NodePassed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("node 1 never finished, status %s", view.Nodes[0].Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	assert.NilError(t, o.Stop(jobID))
	close(release)

	view := waitForJobStatus(t, o, jobID, JobCancelled)
	assert.Assert(t, view.Cancelled)
	assert.Equal(t, view.Nodes[0].Status, NodePassed)
	assert.Equal(t, view.Nodes[1].Status, NodeCancelled)
	// node 1 keeps its completed results
	assert.Equal(t, view.Nodes[0].Results[common.TestP2P].Status, engine.StatusPassed)
}

func TestStopTerminalJobIsRejected(t *testing.T) {
	o := newOrchestrator(t, func(sshexec.Connection) (engine.Session, error) {
		return &fakeSession{responses: passingResponses("145.3")}, nil
	})
	jobID, err := o.Submit(submitRequest("10.0.0.1"))
	assert.NilError(t, err)
	waitForJobStatus(t, o, jobID, JobCompleted)

	err = o.Stop(jobID)
	assert.ErrorContains(t, err, "cannot be stopped")
	view, err := o.Get(jobID)
	assert.NilError(t, err)
	assert.Equal(t, view.Status, JobCompleted)
}

func TestStopUnknownJob(t *testing.T) {
	o := newOrchestrator(t, func(sshexec.Connection) (engine.Session, error) {
		return &fakeSession{}, nil
	})
	assert.Assert(t, errors.IsNotFound(o.Stop("missing")))
	_, err := o.Get("missing")
	assert.Assert(t, errors.IsNotFound(err))
}

func TestSanitizedViewCarriesNoSecrets(t *testing.T) {
	o := newOrchestrator(t, func(sshexec.Connection) (engine.Session, error) {
		return &fakeSession{responses: passingResponses("145.3")}, nil
	})
	jobID, err := o.Submit(submitRequest("10.0.0.1"))
	assert.NilError(t, err)
	view := waitForJobStatus(t, o, jobID, JobCompleted)

	data, err := json.Marshal(view)
	assert.NilError(t, err)
	serialized := string(data)
	assert.Assert(t, !strings.Contains(serialized, "_connection"))
	assert.Assert(t, !strings.Contains(serialized, "secret-password"))
	assert.Assert(t, !strings.Contains(serialized, "sudoPassword"))
}
