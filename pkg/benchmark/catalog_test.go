/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package benchmark

import (
	"os"
	"path/filepath"
	"testing"

	"gotest.tools/assert"

	"github.com/AMD-AIG-AIMA/GHX/pkg/config"
)

func TestNormalizeModel(t *testing.T) {
	c := NewCatalog(fallback)
	testCases := []struct {
		raw      string
		expected string
	}{
		{"NVIDIA H100 80GB HBM3", "H100"},
		{"NVIDIA A100-SXM4-80GB", "A100"},
		{"NVIDIA GeForce RTX 4090", "RTX 4090"},
		{"nvidia h200 141gb", "H200"},
		{"AMD Instinct MI300X", "AMD Instinct MI300X"},
		{"", "Unknown"},
		{"   ", "Unknown"},
	}
	for _, tc := range testCases {
		assert.Equal(t, c.NormalizeModel(tc.raw), tc.expected, "raw=%q", tc.raw)
	}
}

func TestThreshold(t *testing.T) {
	c := NewCatalog(fallback)

	val, ok := c.Threshold("NVIDIA H100 80GB HBM3", "nccl")
	assert.Assert(t, ok)
	assert.Equal(t, val, float64(139))

	val, ok = c.Threshold("NVIDIA H100 80GB HBM3", "bw")
	assert.Assert(t, ok)
	assert.Equal(t, val, float64(40))

	// unknown model carries no gate
	_, ok = c.Threshold("Imaginary GPU 9000", "bw")
	assert.Assert(t, !ok)

	// known model, unknown metric
	_, ok = c.Threshold("H100", "latency")
	assert.Assert(t, !ok)
}

func TestLoadFallback(t *testing.T) {
	t.Setenv(config.EnvBenchmarkFile, "/nonexistent/gpu-benchmarks.json")
	c := Load()
	_, ok := c.Threshold("H100", "bw")
	assert.Assert(t, ok)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gpu-benchmarks.json")
	content := `{"MI300X": {"bw": 48, "p2p": 600, "nccl": 120}}`
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o644))
	t.Setenv(config.EnvBenchmarkFile, path)

	c := Load()
	val, ok := c.Threshold("AMD Instinct MI300X OAM", "nccl")
	assert.Assert(t, ok)
	assert.Equal(t, val, float64(120))

	// fallback entries are not merged in
	_, ok = c.Threshold("H100", "bw")
	assert.Assert(t, !ok)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "gpu-benchmarks.json")
	assert.NilError(t, os.WriteFile(path, []byte("{not json"), 0o644))
	t.Setenv(config.EnvBenchmarkFile, path)

	c := Load()
	_, ok := c.Threshold("H100", "bw")
	assert.Assert(t, ok)
}
