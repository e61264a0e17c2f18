/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package engine

import (
	"strings"
	"testing"

	"gotest.tools/assert"

	"github.com/AMD-AIG-AIMA/GHX/pkg/sshexec"
)

func TestComposeMpirunCommandInlineHosts(t *testing.T) {
	cmd := ComposeMpirunCommand([]string{"10.0.0.1", "10.0.0.2"}, false, MpiParams{GpuPerNode: 8})
	assert.Assert(t, strings.Contains(cmd, "-np 2"))
	assert.Assert(t, strings.Contains(cmd, "--allow-run-as-root"))
	assert.Assert(t, strings.Contains(cmd, "-N 1"))
	assert.Assert(t, strings.Contains(cmd, "-host 10.0.0.1,10.0.0.2"))
	assert.Assert(t, !strings.Contains(cmd, "-hostfile"))
	assert.Assert(t, strings.Contains(cmd, "all_reduce_perf -b 128M -e 16G -f 2 -g 8"))
}

func TestComposeMpirunCommandHostfileAndFlags(t *testing.T) {
	pxn := "1"
	params := MpiParams{
		BtlTcpIf:             "eth0",
		NcclSocketIfname:     "eth0",
		NcclIbHca:            "mlx5",
		NcclPxnDisable:       &pxn,
		SharpRelaxedOrdering: true,
		Extra:                "--mca pml ucx",
		GpuPerNode:           4,
	}
	cmd := ComposeMpirunCommand([]string{"n1", "n2", "n3"}, true, params)
	assert.Assert(t, strings.Contains(cmd, "-hostfile /tmp/ghx/hostfile"))
	assert.Assert(t, strings.Contains(cmd, "--mca btl_tcp_if_include eth0"))
	assert.Assert(t, strings.Contains(cmd, "--mca oob_tcp_if_include eth0"))
	assert.Assert(t, strings.Contains(cmd, "-x NCCL_SOCKET_IFNAME=eth0"))
	assert.Assert(t, strings.Contains(cmd, "-x NCCL_IB_HCA=mlx5"))
	assert.Assert(t, strings.Contains(cmd, "-x NCCL_PXN_DISABLE=1"))
	assert.Assert(t, strings.Contains(cmd, "-x SHARP_COLL_ENABLE_PCI_RELAXED_ORDERING=1"))
	assert.Assert(t, strings.Contains(cmd, "--mca pml ucx"))
	assert.Assert(t, strings.Contains(cmd, "-g 4"))
	// unset knobs stay out of the command line
	assert.Assert(t, !strings.Contains(cmd, "UCX_NET_DEVICES"))
	assert.Assert(t, !strings.Contains(cmd, "NCCL_NVLS_ENABLE"))
}

func TestRunMultiNodeNcclStagesHostfile(t *testing.T) {
	sess := &fakeSession{responses: []fakeResponse{
		{match: "echo OK || echo MISSING", result: &sshexec.Result{Stdout: "OK\n"}},
		{match: "mpirun", result: &sshexec.Result{Stdout: "# Avg bus bandwidth : 180.5\n"}},
	}}
	result, err := RunMultiNodeNccl(sess, testAssets(t), []string{"n1", "n2"}, "n1\nn2", MpiParams{})
	assert.NilError(t, err)
	assert.Equal(t, result.NodeCount, 2)
	assert.Assert(t, result.Passed)
	assert.Equal(t, *result.Bandwidth, 180.5)

	wroteHostfile := false
	for _, cmd := range sess.commands {
		if strings.Contains(cmd, "cat > /tmp/ghx/hostfile") {
			wroteHostfile = true
		}
	}
	assert.Assert(t, wroteHostfile)
}

func TestRunMultiNodeNcclStagesArchiveWhenMissing(t *testing.T) {
	sess := &fakeSession{responses: []fakeResponse{
		{match: "echo OK || echo MISSING", result: &sshexec.Result{Stdout: "MISSING\n"}},
		{match: "mpirun", result: &sshexec.Result{ExitCode: 1, Stderr: "nccl failure"}},
	}}
	// the second OK-probe after extraction still reports MISSING, so staging fails
	_, err := RunMultiNodeNccl(sess, testAssets(t), []string{"n1", "n2"}, "", MpiParams{})
	assert.ErrorContains(t, err, "all_reduce_perf still missing")
	assert.Assert(t, len(sess.uploads) == 1)
}
