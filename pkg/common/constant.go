/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package common

import "time"

const (
	// RemoteScratchDir is the staging directory created on every target host.
	RemoteScratchDir = "/tmp/ghx"

	// ManualNamespace is the namespace holding cluster-mode inspection workloads.
	ManualNamespace = "gpu-health-expert"

	// ManualLabelSelector selects the inspection pods owned by this service.
	ManualLabelSelector = "app=ghx-manual,job-type=manual"

	ManualJobPrefix = "ghx-manual-job"

	JobTypeManual = "manual"
	JobTypeCron   = "cron"
)

// Test kinds, in the canonical catalog order.
const (
	TestNvbandwidth = "nvbandwidth"
	TestP2P         = "p2p"
	TestNccl        = "nccl"
	TestDcgm        = "dcgm"
	TestIB          = "ib"
)

// AllTests lists every supported test kind.
var AllTests = []string{TestNvbandwidth, TestP2P, TestNccl, TestDcgm, TestIB}

// IsKnownTest reports whether kind names a supported test.
func IsKnownTest(kind string) bool {
	for _, t := range AllTests {
		if t == kind {
			return true
		}
	}
	return false
}

// Benchmark metric names.
const (
	MetricBandwidth = "bw"
	MetricP2P       = "p2p"
	MetricNccl      = "nccl"
)

// Per-command deadlines, selected by test kind.
const (
	NvbandwidthTimeout  = 600 * time.Second
	P2PTimeout          = 900 * time.Second
	NcclExtractTimeout  = 120 * time.Second
	NcclRunTimeout      = 600 * time.Second
	MultiNcclRunTimeout = 1800 * time.Second
	DcgmTimeout         = 1800 * time.Second
	IBTimeout           = 900 * time.Second
	DefaultExecTimeout  = 300 * time.Second
)

const (
	DefaultQPS   = 50
	DefaultBurst = 100
)
