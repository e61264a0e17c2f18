/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package engine

import (
	"fmt"
	"os"
	"path"
	"strings"

	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/GHX/pkg/common"
	"github.com/AMD-AIG-AIMA/GHX/pkg/errors"
	"github.com/AMD-AIG-AIMA/GHX/pkg/parser"
)

// MpiParams are the optional mpirun/NCCL tuning knobs for the multi-node
// test. A flag is emitted only when its field is set.
type MpiParams struct {
	BtlTcpIf             string  `json:"btl_tcp_if,omitempty"`
	NcclSocketIfname     string  `json:"nccl_socket_ifname,omitempty"`
	NcclIbHca            string  `json:"nccl_ib_hca,omitempty"`
	UcxNetDevices        string  `json:"ucx_net_devices,omitempty"`
	NcclIbQps            string  `json:"nccl_ib_qps,omitempty"`
	NcclPxnDisable       *string `json:"nccl_pxn_disable,omitempty"`
	NcclMinNchannels     string  `json:"nccl_min_nchannels,omitempty"`
	NcclNvlsEnable       *string `json:"nccl_nvls_enable,omitempty"`
	SharpRelaxedOrdering bool    `json:"sharp_relaxed_ordering,omitempty"`
	Extra                string  `json:"extra,omitempty"`
	GpuPerNode           int     `json:"gpuPerNode,omitempty"`
}

// MultiNodeNcclResult carries the raw outcome of one mpirun sweep.
type MultiNodeNcclResult struct {
	Command   string   `json:"command"`
	Hosts     []string `json:"hosts"`
	NodeCount int      `json:"nodeCount"`
	ExitCode  int      `json:"exitCode"`
	Stdout    string   `json:"stdout"`
	Stderr    string   `json:"stderr"`
	Bandwidth *float64 `json:"bandwidth"`
	Passed    bool     `json:"passed"`
}

const remoteHostfilePath = common.RemoteScratchDir + "/hostfile"

// ComposeMpirunCommand builds the multi-node all-reduce command line. Hosts
// are addressed either by an uploaded hostfile or inline via -host.
func ComposeMpirunCommand(hosts []string, useHostfile bool, params MpiParams) string {
	parts := []string{
		"mpirun",
		fmt.Sprintf("-np %d", len(hosts)),
		"--allow-run-as-root",
		"-N 1",
	}
	if useHostfile {
		parts = append(parts, fmt.Sprintf("-hostfile %s", remoteHostfilePath))
	} else {
		parts = append(parts, fmt.Sprintf("-host %s", strings.Join(hosts, ",")))
	}
	if params.BtlTcpIf != "" {
		parts = append(parts,
			fmt.Sprintf("--mca btl_tcp_if_include %s", params.BtlTcpIf),
			fmt.Sprintf("--mca oob_tcp_if_include %s", params.BtlTcpIf))
	}
	if params.NcclSocketIfname != "" {
		parts = append(parts, fmt.Sprintf("-x NCCL_SOCKET_IFNAME=%s", params.NcclSocketIfname))
	}
	if params.NcclIbHca != "" {
		parts = append(parts, fmt.Sprintf("-x NCCL_IB_HCA=%s", params.NcclIbHca))
	}
	if params.UcxNetDevices != "" {
		parts = append(parts, fmt.Sprintf("-x UCX_NET_DEVICES=%s", params.UcxNetDevices))
	}
	if params.NcclIbQps != "" {
		parts = append(parts, fmt.Sprintf("-x NCCL_IB_QPS_PER_CONNECTION=%s", params.NcclIbQps))
	}
	if params.NcclPxnDisable != nil {
		parts = append(parts, fmt.Sprintf("-x NCCL_PXN_DISABLE=%s", *params.NcclPxnDisable))
	}
	if params.NcclMinNchannels != "" {
		parts = append(parts, fmt.Sprintf("-x NCCL_MIN_NCHANNELS=%s", params.NcclMinNchannels))
	}
	if params.NcclNvlsEnable != nil {
		parts = append(parts, fmt.Sprintf("-x NCCL_NVLS_ENABLE=%s", *params.NcclNvlsEnable))
	}
	if params.SharpRelaxedOrdering {
		parts = append(parts, "-x SHARP_COLL_ENABLE_PCI_RELAXED_ORDERING=1")
	}
	if params.Extra != "" {
		parts = append(parts, params.Extra)
	}
	gpuPerNode := params.GpuPerNode
	if gpuPerNode == 0 {
		gpuPerNode = 8
	}
	parts = append(parts, fmt.Sprintf(
		"%s/nccl-tests/build/all_reduce_perf -b 128M -e 16G -f 2 -g %d",
		common.RemoteScratchDir, gpuPerNode))
	return strings.Join(parts, " \\\n")
}

// RunMultiNodeNccl stages the hostfile and nccl-tests on the head node when
// needed, then runs the mpirun sweep from it.
func RunMultiNodeNccl(session Session, assets Assets, hosts []string, hostfileContent string, params MpiParams) (*MultiNodeNcclResult, error) {
	useHostfile := hostfileContent != ""
	command := ComposeMpirunCommand(hosts, useHostfile, params)

	if _, err := session.Run(fmt.Sprintf("mkdir -p %s", common.RemoteScratchDir), 0, false); err != nil {
		return nil, err
	}
	if useHostfile {
		writeCmd := fmt.Sprintf("cat > %s << 'EOF'\n%s\nEOF", remoteHostfilePath, hostfileContent)
		if _, err := session.Run(writeCmd, 0, false); err != nil {
			return nil, err
		}
	}
	if err := ensureNcclTests(session, assets); err != nil {
		return nil, err
	}

	klog.Infof("running multi-node nccl test over %d hosts", len(hosts))
	result, err := session.Run(command, common.MultiNcclRunTimeout, true)
	if err != nil {
		return nil, err
	}
	out := &MultiNodeNcclResult{
		Command:   command,
		Hosts:     hosts,
		NodeCount: len(hosts),
		ExitCode:  result.ExitCode,
		Stdout:    result.Stdout,
		Stderr:    result.Stderr,
		Passed:    result.ExitCode == 0,
	}
	if value := parser.ParseNccl(result.Stdout); value > 0 {
		out.Bandwidth = &value
	}
	return out, nil
}

func ensureNcclTests(session Session, assets Assets) error {
	perfBin := path.Join(common.RemoteScratchDir, "nccl-tests", "build", "all_reduce_perf")
	probe := fmt.Sprintf("[ -f %s ] && echo OK || echo MISSING", perfBin)
	check, err := session.Run(probe, 0, false)
	if err != nil {
		return err
	}
	if strings.TrimSpace(check.Stdout) == "OK" {
		return nil
	}

	klog.Infof("nccl-tests missing on head node, staging archive")
	if _, err = os.Stat(assets.NcclTestsArchive); err != nil {
		return errors.NewToolMissing(fmt.Sprintf("nccl-tests archive not found: %v", err))
	}
	remoteTgz := path.Join(common.RemoteScratchDir, "nccl-tests.tgz")
	if err = session.Upload(assets.NcclTestsArchive, remoteTgz, false); err != nil {
		return err
	}
	extract, err := session.Run(
		fmt.Sprintf("tar -xzf %s -C %s && rm -f %s", remoteTgz, common.RemoteScratchDir, remoteTgz),
		common.NcclExtractTimeout, false)
	if err != nil {
		return err
	}
	if extract.ExitCode != 0 {
		return errors.NewToolMissing(fmt.Sprintf("failed to extract nccl-tests: %s", extract.Stderr))
	}
	check, err = session.Run(probe, 0, false)
	if err != nil {
		return err
	}
	if strings.TrimSpace(check.Stdout) != "OK" {
		return errors.NewToolMissing("all_reduce_perf still missing after extracting nccl-tests")
	}
	return nil
}
