/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package engine

import (
	"fmt"
	"strings"

	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/GHX/pkg/benchmark"
	"github.com/AMD-AIG-AIMA/GHX/pkg/common"
	"github.com/AMD-AIG-AIMA/GHX/pkg/sshexec"
	"github.com/AMD-AIG-AIMA/GHX/pkg/utils/channel"
)

// NodeRequest describes one target host and the tests to run on it.
type NodeRequest struct {
	Alias      string
	Connection sshexec.Connection
	Tests      []string
	DcgmLevel  int
}

// NodeOutcome is the full result of one node run.
type NodeOutcome struct {
	Status       Status
	Results      map[string]*TestResult
	ExecutionLog string
	GpuType      string
	GpuList      []string
}

// DialFunc opens a session to a target host. Swapped for a fake in tests.
type DialFunc func(conn sshexec.Connection) (Session, error)

// Runner executes the selected tests on one node, observing the job's
// cancellation latch at every step boundary. It never panics outward.
type Runner struct {
	catalog *benchmark.Catalog
	assets  Assets
	dial    DialFunc
}

func NewRunner(catalog *benchmark.Catalog, assets Assets) *Runner {
	return &Runner{
		catalog: catalog,
		assets:  assets,
		dial: func(conn sshexec.Connection) (Session, error) {
			return sshexec.Open(conn)
		},
	}
}

// NewRunnerWithDial is used by tests to inject a fake session.
func NewRunnerWithDial(catalog *benchmark.Catalog, assets Assets, dial DialFunc) *Runner {
	return &Runner{catalog: catalog, assets: assets, dial: dial}
}

// RunNode runs the requested tests in order. The cancelled latch is a
// close-once channel; a raised latch short-circuits without further remote
// I/O, retaining any results already produced.
func (r *Runner) RunNode(req NodeRequest, cancelled chan struct{}) (outcome NodeOutcome) {
	trail := NewTrail(req.Alias)
	results := make(map[string]*TestResult)
	gpuType := "Unknown"
	var gpuList []string

	finish := func(status Status) NodeOutcome {
		return NodeOutcome{
			Status:       status,
			Results:      results,
			ExecutionLog: trail.String(),
			GpuType:      gpuType,
			GpuList:      gpuList,
		}
	}
	defer func() {
		if rec := recover(); rec != nil {
			klog.Errorf("node %s runner panicked: %v", req.Alias, rec)
			trail.Logf("unexpected failure: %v", rec)
			outcome = finish(StatusFailed)
		}
	}()

	if channel.IsChannelClosed(cancelled) {
		trail.Logf("job cancelled, stopping")
		return finish(StatusCancelled)
	}

	session, err := r.dial(req.Connection)
	if err != nil {
		trail.Logf("ssh connect failed: %v", err)
		return finish(StatusError)
	}
	defer session.Close()
	trail.Logf("ssh connection established")

	if channel.IsChannelClosed(cancelled) {
		trail.Logf("job cancelled, stopping")
		return finish(StatusCancelled)
	}

	if _, err = session.Run(fmt.Sprintf("mkdir -p %s", common.RemoteScratchDir), 0, false); err != nil {
		trail.Logf("failed to create scratch directory: %v", err)
		return finish(StatusFailed)
	}

	gpuType, gpuList, err = r.discoverGPUs(session, trail)
	if err != nil {
		trail.Logf("gpu discovery failed: %v", err)
		return finish(StatusFailed)
	}

	if channel.IsChannelClosed(cancelled) {
		trail.Logf("job cancelled, stopping")
		return finish(StatusCancelled)
	}

	eng := New(session, r.catalog, r.assets, trail)
	eng.SetGPUInventory(gpuType, len(gpuList))

	for _, kind := range req.Tests {
		if channel.IsChannelClosed(cancelled) {
			trail.Logf("job cancelled, stopping before %s test", kind)
			return finish(StatusCancelled)
		}
		var result *TestResult
		switch kind {
		case common.TestNvbandwidth:
			result = eng.RunBandwidth()
		case common.TestP2P:
			result = eng.RunP2P()
		case common.TestNccl:
			result = eng.RunNccl()
		case common.TestDcgm:
			result = eng.RunDcgm(req.DcgmLevel)
		case common.TestIB:
			result = eng.RunIB()
		default:
			klog.Warningf("node %s: ignoring unknown test kind %q", req.Alias, kind)
			continue
		}
		results[kind] = result
		if result.RawOutput != "" {
			trail.Logf("%s command output:\n%s", kind, result.RawOutput)
		}
	}

	if channel.IsChannelClosed(cancelled) {
		trail.Logf("job cancelled")
		return finish(StatusCancelled)
	}

	overall := StatusPassed
	for _, result := range results {
		if result.Status != StatusPassed && result.Status != StatusSkipped {
			overall = StatusFailed
			break
		}
	}
	return finish(overall)
}

func (r *Runner) discoverGPUs(session Session, trail *Trail) (string, []string, error) {
	result, err := session.Run("nvidia-smi -L || true", 0, false)
	if err != nil {
		return "Unknown", nil, err
	}
	var gpuList []string
	for _, line := range strings.Split(result.Stdout, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			gpuList = append(gpuList, line)
		}
	}
	primary := "Unknown"
	if len(gpuList) > 0 {
		primary = gpuList[0]
	}
	shortName := r.catalog.NormalizeModel(primary)
	trail.Logf("detected GPU: %s", shortName)
	return shortName, gpuList, nil
}
