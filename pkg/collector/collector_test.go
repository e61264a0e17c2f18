/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package collector

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"gotest.tools/assert"

	dbclient "github.com/AMD-AIG-AIMA/GHX/pkg/database/client"
)

type fakeStore struct {
	results       map[string]*dbclient.DiagnosticResult
	nodesWithRows map[string]bool
	inspections   map[string]*dbclient.GpuInspection
	completedJobs []string
	deletedCalls  int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		results:       make(map[string]*dbclient.DiagnosticResult),
		nodesWithRows: make(map[string]bool),
		inspections:   make(map[string]*dbclient.GpuInspection),
	}
}

func (f *fakeStore) UpsertDiagnosticResult(_ context.Context, result *dbclient.DiagnosticResult) error {
	f.results[result.JobId+"/"+result.NodeName] = result
	f.nodesWithRows[result.NodeName] = true
	return nil
}

func (f *fakeStore) HasResultForNode(_ context.Context, nodeName string) (bool, error) {
	return f.nodesWithRows[nodeName], nil
}

func (f *fakeStore) GetDiagnosticResult(_ context.Context, jobId, nodeName string) (*dbclient.DiagnosticResult, error) {
	if result, ok := f.results[jobId+"/"+nodeName]; ok {
		return result, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) CompleteDiagnosticJob(_ context.Context, jobId string) error {
	f.completedJobs = append(f.completedJobs, jobId)
	return nil
}

func (f *fakeStore) InsertGpuInspection(_ context.Context, inspection *dbclient.GpuInspection) error {
	if _, ok := f.inspections[inspection.FilePath]; ok {
		return nil
	}
	f.inspections[inspection.FilePath] = inspection
	return nil
}

func (f *fakeStore) HasGpuInspectionForFile(_ context.Context, filePath string) (bool, error) {
	_, ok := f.inspections[filePath]
	return ok, nil
}

func (f *fakeStore) DeleteExpiredDiagnosticJobs(context.Context, time.Time) (int64, error) {
	f.deletedCalls++
	return 0, nil
}

func (f *fakeStore) DeleteExpiredDiagnosticResults(context.Context, time.Time) (int64, error) {
	f.deletedCalls++
	return 0, nil
}

func (f *fakeStore) DeleteExpiredGpuInspections(context.Context, time.Time) (int64, error) {
	f.deletedCalls++
	return 0, nil
}

func writeArtifact(t *testing.T, dir, subdir, name, content string) string {
	t.Helper()
	assert.NilError(t, os.MkdirAll(filepath.Join(dir, subdir), 0o755))
	path := filepath.Join(dir, subdir, name)
	assert.NilError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const passingArtifact = `{
	"job_id": "manual-1756721527-21039310",
	"node_name": "gpu-node-1",
	"gpu_type": "H100",
	"enabled_tests": ["bandwidth", "nccl", "dcgm"],
	"dcgm_level": 2,
	"test_results": {"bandwidth": {"value": 52.1}, "nccl": {"value": 145.3}, "dcgm": "Pass"},
	"performance_pass": true,
	"execution_time": "312s",
	"execution_log": "log body"
}`

func TestCollectManualIngestsArtifact(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, manualSubdir, "manual-1756721527-21039310_gpu-node-1.json", passingArtifact)

	store := newFakeStore()
	c := New(store, nil, dir, 7)
	processed, total, err := c.CollectManual(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, processed, 1)
	assert.Equal(t, total, 1)

	row := store.results["manual-1756721527-21039310/gpu-node-1"]
	assert.Assert(t, row != nil)
	assert.Equal(t, row.JobType, "manual")
	assert.Equal(t, row.GpuType.String, "H100")
	assert.Equal(t, row.PerformancePass, true)
	// ib absent counts as skipped, dcgm passed
	assert.Equal(t, row.HealthPass, true)
	assert.Equal(t, row.InspectionResult.String, "Pass")
	assert.Assert(t, row.ExpiresAt.Valid)
	assert.DeepEqual(t, store.completedJobs, []string{"manual-1756721527-21039310"})
}

func TestCollectManualHealthFailure(t *testing.T) {
	dir := t.TempDir()
	artifact := `{
		"job_id": "manual-1-a", "node_name": "n1", "gpu_type": "H100",
		"test_results": {"dcgm": "Fail"},
		"performance_pass": true
	}`
	writeArtifact(t, dir, manualSubdir, "manual-1-a_n1.json", artifact)

	store := newFakeStore()
	c := New(store, nil, dir, 7)
	_, _, err := c.CollectManual(context.Background())
	assert.NilError(t, err)

	row := store.results["manual-1-a/n1"]
	assert.Assert(t, row != nil)
	assert.Equal(t, row.HealthPass, false)
	assert.Equal(t, row.InspectionResult.String, "No Pass")
}

func TestCollectManualSkipsInvalidArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, manualSubdir, "broken.json", "{not json")
	writeArtifact(t, dir, manualSubdir, "incomplete.json", `{"job_id": "manual-2-b"}`)

	store := newFakeStore()
	c := New(store, nil, dir, 7)
	processed, total, err := c.CollectManual(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, processed, 0)
	assert.Equal(t, total, 2)
	assert.Equal(t, len(store.results), 0)
}

func TestLatestPointerDedupIsLenient(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, manualSubdir, "gpu-node-1_latest.json", passingArtifact)

	store := newFakeStore()
	store.nodesWithRows["gpu-node-1"] = true
	c := New(store, nil, dir, 7)
	processed, _, err := c.CollectManual(context.Background())
	assert.NilError(t, err)
	// any existing row for the node makes the latest pointer a no-op
	assert.Equal(t, processed, 0)
	assert.Equal(t, len(store.results), 0)
}

func TestTimestampedArtifactDedupByJobAndNode(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir, manualSubdir, "manual-1756721527-21039310_gpu-node-1.json", passingArtifact)

	store := newFakeStore()
	c := New(store, nil, dir, 7)
	_, _, err := c.CollectManual(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, len(store.completedJobs), 1)

	// second scan sees the (job, node) row and does not re-ingest
	processed, _, err := c.CollectManual(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, processed, 0)
	assert.Equal(t, len(store.completedJobs), 1)
}

func TestCollectCronDedupByFilePath(t *testing.T) {
	dir := t.TempDir()
	artifact := `{
		"hostname": "host-1", "node_name": "n1", "gpu_type": "H100",
		"test_results": {"dcgm": "Pass", "ib": "Pass"},
		"performance_pass": true,
		"created_at": "2026-08-24T08:00:00Z"
	}`
	writeArtifact(t, dir, cronSubdir, "n1_20260824-080000.json", artifact)

	store := newFakeStore()
	c := New(store, nil, dir, 7)
	processed, _, err := c.CollectCron(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, processed, 1)

	processed, _, err = c.CollectCron(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, processed, 0)
	assert.Equal(t, len(store.inspections), 1)
	for _, row := range store.inspections {
		assert.Equal(t, row.InspectionResult.String, "Pass")
	}
}

func TestCronArtifactRequiresTimestamp(t *testing.T) {
	dir := t.TempDir()
	artifact := `{"hostname": "host-1", "test_results": {}}`
	writeArtifact(t, dir, cronSubdir, "host-1.json", artifact)

	store := newFakeStore()
	c := New(store, nil, dir, 7)
	processed, total, err := c.CollectCron(context.Background())
	assert.NilError(t, err)
	assert.Equal(t, processed, 0)
	assert.Equal(t, total, 1)
}

func TestCleanupRemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	old := writeArtifact(t, dir, manualSubdir, "old.json", "{}")
	fresh := writeArtifact(t, dir, cronSubdir, "fresh.json", "{}")
	stale := time.Now().Add(-10 * 24 * time.Hour)
	assert.NilError(t, os.Chtimes(old, stale, stale))

	store := newFakeStore()
	c := New(store, nil, dir, 7)
	c.Cleanup(context.Background())

	_, err := os.Stat(old)
	assert.Assert(t, os.IsNotExist(err))
	_, err = os.Stat(fresh)
	assert.NilError(t, err)
	assert.Equal(t, store.deletedCalls, 3)
}
