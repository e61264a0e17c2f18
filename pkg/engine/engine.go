/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package engine runs the per-node GPU diagnostic tests: it stages the tool,
// executes it over the remote session, parses the output and gates the
// measurement against the benchmark catalog. Tool and transport failures are
// captured into the TestResult and never propagate outward.
package engine

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/AMD-AIG-AIMA/GHX/pkg/benchmark"
	"github.com/AMD-AIG-AIMA/GHX/pkg/common"
	"github.com/AMD-AIG-AIMA/GHX/pkg/parser"
)

// Engine executes the diagnostic tests on one node through an open session.
type Engine struct {
	session Session
	catalog *benchmark.Catalog
	assets  Assets
	trail   *Trail

	gpuType  string
	gpuCount int
}

func New(session Session, catalog *benchmark.Catalog, assets Assets, trail *Trail) *Engine {
	return &Engine{
		session: session,
		catalog: catalog,
		assets:  assets,
		trail:   trail,
	}
}

// SetGPUInventory records the discovered GPU model and count, used for
// benchmark lookup and NCCL sizing.
func (e *Engine) SetGPUInventory(gpuType string, gpuCount int) {
	e.gpuType = gpuType
	e.gpuCount = gpuCount
}

func (e *Engine) thresholdFor(metric string) *float64 {
	if e.gpuType == "" {
		return nil
	}
	val, ok := e.catalog.Threshold(e.gpuType, metric)
	if !ok {
		return nil
	}
	return &val
}

func errorResult(trail *Trail, kind, format string, args ...interface{}) *TestResult {
	message := fmt.Sprintf(format, args...)
	trail.Logf("%s test failed: %s", kind, message)
	return &TestResult{Status: StatusError, Message: message}
}

// uploadAsset stages one local artifact into the remote scratch directory.
func (e *Engine) uploadAsset(localPath, remoteName string, executable bool) (string, error) {
	if _, err := os.Stat(localPath); err != nil {
		return "", fmt.Errorf("missing asset %s: %v", localPath, err)
	}
	remotePath := path.Join(common.RemoteScratchDir, remoteName)
	if err := e.session.Upload(localPath, remotePath, executable); err != nil {
		return "", err
	}
	e.trail.Logf("uploaded asset %s -> %s", localPath, remotePath)
	return remotePath, nil
}

// RunBandwidth measures host<->device copy bandwidth with nvbandwidth in
// both directions and reports the lower of the two minima.
func (e *Engine) RunBandwidth() *TestResult {
	remoteBin, err := e.uploadAsset(e.assets.Nvbandwidth, "nvbandwidth", true)
	if err != nil {
		return errorResult(e.trail, "nvbandwidth", "%v", err)
	}
	h2d, err := e.session.Run(
		fmt.Sprintf("cd %s && %s -t host_to_device_memcpy_ce", common.RemoteScratchDir, remoteBin),
		common.NvbandwidthTimeout, true)
	if err != nil {
		return errorResult(e.trail, "nvbandwidth", "%v", err)
	}
	d2h, err := e.session.Run(
		fmt.Sprintf("cd %s && %s -t device_to_host_memcpy_ce", common.RemoteScratchDir, remoteBin),
		common.NvbandwidthTimeout, true)
	if err != nil {
		return errorResult(e.trail, "nvbandwidth", "%v", err)
	}
	if h2d.ExitCode != 0 || d2h.ExitCode != 0 {
		return errorResult(e.trail, "nvbandwidth",
			"nvbandwidth command failed: H2D=%d, D2H=%d", h2d.ExitCode, d2h.ExitCode)
	}
	h2dValue := parser.ParseNvbandwidth(h2d.Stdout)
	d2hValue := parser.ParseNvbandwidth(d2h.Stdout)
	value := 0.0
	for _, v := range []float64{h2dValue, d2hValue} {
		if v > 0 && (value == 0 || v < value) {
			value = v
		}
	}
	if value <= 0 {
		return errorResult(e.trail, "nvbandwidth", "no usable value parsed from nvbandwidth output")
	}
	threshold := e.thresholdFor(common.MetricBandwidth)
	passed := threshold == nil || value >= *threshold
	e.trail.Logf("nvbandwidth test finished: %.1f GB/s", value)
	return &TestResult{
		Status:    verdict(passed),
		Passed:    passed,
		Value:     value,
		Unit:      "GB/s",
		Benchmark: threshold,
		Details:   map[string]float64{"h2d": h2dValue, "d2h": d2hValue},
		RawOutput: h2d.Stdout + "\n" + d2h.Stdout,
	}
}

// RunP2P measures the worst-case bidirectional peer-to-peer bandwidth.
func (e *Engine) RunP2P() *TestResult {
	remoteBin, err := e.uploadAsset(e.assets.P2PTest, "p2pBandwidthLatencyTest", true)
	if err != nil {
		return errorResult(e.trail, "p2p", "%v", err)
	}
	result, err := e.session.Run(
		fmt.Sprintf("cd %s && %s", common.RemoteScratchDir, remoteBin),
		common.P2PTimeout, true)
	if err != nil {
		return errorResult(e.trail, "p2p", "%v", err)
	}
	if result.ExitCode != 0 {
		message := result.Stderr
		if message == "" {
			message = "p2pBandwidthLatencyTest failed"
		}
		return errorResult(e.trail, "p2p", "%s", message)
	}
	value := parser.ParseP2P(result.Stdout)
	if value <= 0 {
		return errorResult(e.trail, "p2p", "no usable bandwidth parsed from p2p output")
	}
	threshold := e.thresholdFor(common.MetricP2P)
	passed := threshold == nil || value >= *threshold
	e.trail.Logf("p2p test finished: %.1f GB/s", value)
	return &TestResult{
		Status:    verdict(passed),
		Passed:    passed,
		Value:     value,
		Unit:      "GB/s",
		Benchmark: threshold,
		RawOutput: result.Stdout,
	}
}

// RunNccl stages the nccl-tests archive and runs the single-node all-reduce
// benchmark across every discovered GPU.
func (e *Engine) RunNccl() *TestResult {
	if e.gpuCount == 0 {
		return errorResult(e.trail, "nccl", "no GPU detected, cannot run nccl test")
	}
	if _, err := os.Stat(e.assets.NcclTestsArchive); err != nil {
		return errorResult(e.trail, "nccl", "missing asset %s: %v", e.assets.NcclTestsArchive, err)
	}
	remoteTgz := path.Join(common.RemoteScratchDir, "nccl-tests.tgz")
	remoteDir := path.Join(common.RemoteScratchDir, "nccl-tests")

	e.trail.Logf("uploading nccl-tests.tgz to remote node")
	if err := e.session.Upload(e.assets.NcclTestsArchive, remoteTgz, false); err != nil {
		return errorResult(e.trail, "nccl", "%v", err)
	}

	e.trail.Logf("extracting nccl-tests.tgz on remote node")
	extract := strings.Join([]string{
		fmt.Sprintf("rm -rf %s", remoteDir),
		fmt.Sprintf("tar -xzf %s -C %s", remoteTgz, common.RemoteScratchDir),
		fmt.Sprintf("rm -f %s", remoteTgz),
	}, "\n")
	extractResult, err := e.session.Run(extract, common.NcclExtractTimeout, false)
	if err != nil {
		return errorResult(e.trail, "nccl", "%v", err)
	}
	if extractResult.ExitCode != 0 {
		return errorResult(e.trail, "nccl", "extract failed: %s", extractResult.Stderr)
	}

	perfBin := path.Join(remoteDir, "build", "all_reduce_perf")
	script := strings.Join([]string{
		fmt.Sprintf("if [ -f %s ]; then chmod +x %s; fi", perfBin, perfBin),
		fmt.Sprintf("if [ ! -f %s ]; then echo \"missing %s\"; exit 1; fi", perfBin, perfBin),
		fmt.Sprintf("%s -b 1024 -e 1G -f 2 -g %d", perfBin, e.gpuCount),
	}, "\n")
	result, err := e.session.Run(script, common.NcclRunTimeout, true)
	if err != nil {
		return errorResult(e.trail, "nccl", "%v", err)
	}
	if result.ExitCode != 0 {
		message := result.Stderr
		if message == "" {
			message = "nccl-tests failed"
		}
		return errorResult(e.trail, "nccl", "%s", message)
	}
	value := parser.ParseNccl(result.Stdout)
	if value <= 0 {
		return errorResult(e.trail, "nccl", "no usable value parsed from nccl output")
	}
	threshold := e.thresholdFor(common.MetricNccl)
	passed := threshold == nil || value >= *threshold
	e.trail.Logf("nccl test finished: %.1f GB/s", value)
	return &TestResult{
		Status:    verdict(passed),
		Passed:    passed,
		Value:     value,
		Unit:      "GB/s",
		Benchmark: threshold,
		RawOutput: result.Stdout,
	}
}

// RunDcgm runs the vendor diagnostic at the requested level. The exit code
// is the whole verdict.
func (e *Engine) RunDcgm(level int) *TestResult {
	result, err := e.session.Run(
		fmt.Sprintf("dcgmi diag -r %d", level), common.DcgmTimeout, true)
	if err != nil {
		return errorResult(e.trail, "dcgm", "%v", err)
	}
	passed := parser.ParseDcgm(result.ExitCode)
	e.trail.Logf("dcgm diag finished, status: %s", verdict(passed))
	raw := result.Stdout
	if raw == "" {
		raw = result.Stderr
	}
	return &TestResult{
		Status:    verdict(passed),
		Passed:    passed,
		Level:     level,
		RawOutput: raw,
	}
}

// RunIB stages and runs the IB health-check script. The pass sentinel in the
// combined output dominates the exit code.
func (e *Engine) RunIB() *TestResult {
	remoteScript, err := e.uploadAsset(e.assets.IBCheckScript, "ib_health_check.sh", true)
	if err != nil {
		return errorResult(e.trail, "ib", "%v", err)
	}
	cmd := fmt.Sprintf(
		"cd %s && export TERM=xterm; "+
			`export PATH="/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin:/opt/ib_health_check:$PATH"; `+
			"%s", common.RemoteScratchDir, remoteScript)
	result, err := e.session.Run(cmd, common.IBTimeout, true)
	if err != nil {
		return errorResult(e.trail, "ib", "%v", err)
	}
	output := result.Stdout + result.Stderr
	passed := parser.ParseIB(output, result.ExitCode)
	e.trail.Logf("ib check finished, status: %s", verdict(passed))
	raw := strings.TrimSpace(output)
	if raw == "" {
		raw = result.Stderr
	}
	if raw == "" {
		raw = result.Stdout
	}
	return &TestResult{
		Status:    verdict(passed),
		Passed:    passed,
		RawOutput: raw,
	}
}

func verdict(passed bool) Status {
	if passed {
		return StatusPassed
	}
	return StatusFailed
}
