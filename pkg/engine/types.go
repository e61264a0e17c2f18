/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package engine

import (
	"path/filepath"
	"time"

	"github.com/AMD-AIG-AIMA/GHX/pkg/config"
	"github.com/AMD-AIG-AIMA/GHX/pkg/sshexec"
)

// Status is the verdict of one test or of a whole node.
type Status string

const (
	StatusPassed    Status = "passed"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// TestResult is produced once per test kind and immutable afterwards.
type TestResult struct {
	Status    Status             `json:"status"`
	Passed    bool               `json:"passed"`
	Value     float64            `json:"value,omitempty"`
	Unit      string             `json:"unit,omitempty"`
	Benchmark *float64           `json:"benchmark,omitempty"`
	Details   map[string]float64 `json:"details,omitempty"`
	Level     int                `json:"level,omitempty"`
	RawOutput string             `json:"rawOutput,omitempty"`
	Message   string             `json:"message,omitempty"`
}

// Session is the remote control channel the engine drives. Implemented by
// sshexec.Session; faked in tests.
type Session interface {
	Run(command string, timeout time.Duration, requireRoot bool) (*sshexec.Result, error)
	Upload(localPath, remotePath string, executable bool) error
	UploadDir(localDir, remoteDir string) error
	Close() error
}

// Assets holds the local paths of the uploadable test artifacts.
type Assets struct {
	Nvbandwidth      string
	P2PTest          string
	NcclTestsArchive string
	IBCheckScript    string
}

// DefaultAssets resolves the artifact paths under the configured asset
// directory.
func DefaultAssets() Assets {
	dir := config.GetAssetDir()
	return Assets{
		Nvbandwidth:      filepath.Join(dir, "nvbandwidth"),
		P2PTest:          filepath.Join(dir, "p2pBandwidthLatencyTest"),
		NcclTestsArchive: filepath.Join(dir, "nccl-tests.tgz"),
		IBCheckScript:    filepath.Join(dir, "ib_health_check.sh"),
	}
}
