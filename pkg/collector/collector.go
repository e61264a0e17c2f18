/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package collector ingests result artifacts dropped on the shared volume
// by inspection pods and manual runners. Manual artifacts upsert
// diagnostic_results rows; scheduled artifacts append to the gpu_inspections
// history. A cron schedule drives periodic collection and retention
// cleanup.
package collector

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/GHX/pkg/common"
	dbclient "github.com/AMD-AIG-AIMA/GHX/pkg/database/client"
	"github.com/AMD-AIG-AIMA/GHX/pkg/database/utils"
	"github.com/AMD-AIG-AIMA/GHX/pkg/events"
	"github.com/AMD-AIG-AIMA/GHX/pkg/utils/jsonutil"
)

const (
	manualSubdir = "manual"
	cronSubdir   = "cron"

	latestSuffix = "_latest.json"

	collectSchedule = "@every 10m"
	cleanupSchedule = "@daily"
)

// Store is the slice of the database surface the collector needs.
type Store interface {
	UpsertDiagnosticResult(ctx context.Context, result *dbclient.DiagnosticResult) error
	HasResultForNode(ctx context.Context, nodeName string) (bool, error)
	GetDiagnosticResult(ctx context.Context, jobId, nodeName string) (*dbclient.DiagnosticResult, error)
	CompleteDiagnosticJob(ctx context.Context, jobId string) error
	InsertGpuInspection(ctx context.Context, inspection *dbclient.GpuInspection) error
	HasGpuInspectionForFile(ctx context.Context, filePath string) (bool, error)
	DeleteExpiredDiagnosticJobs(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredDiagnosticResults(ctx context.Context, now time.Time) (int64, error)
	DeleteExpiredGpuInspections(ctx context.Context, now time.Time) (int64, error)
}

var _ Store = dbclient.Interface(nil)

// Artifact is the JSON document a runner writes to the shared volume.
// test_results carries per-test values; dcgm and ib are bare status
// strings.
type Artifact struct {
	JobID           string                 `json:"job_id"`
	NodeName        string                 `json:"node_name"`
	Hostname        string                 `json:"hostname"`
	GpuType         string                 `json:"gpu_type"`
	EnabledTests    []string               `json:"enabled_tests"`
	DcgmLevel       int                    `json:"dcgm_level"`
	TestResults     map[string]interface{} `json:"test_results"`
	PerformancePass bool                   `json:"performance_pass"`
	ExecutionTime   string                 `json:"execution_time"`
	ExecutionLog    string                 `json:"execution_log"`
	Benchmark       map[string]interface{} `json:"benchmark"`
	CreatedAt       string                 `json:"created_at"`
}

// Collector scans the shared results volume and feeds the database.
type Collector struct {
	store         Store
	bus           *events.Bus
	sharedRoot    string
	retentionDays int
	cron          *cron.Cron
}

func New(store Store, bus *events.Bus, sharedRoot string, retentionDays int) *Collector {
	return &Collector{
		store:         store,
		bus:           bus,
		sharedRoot:    sharedRoot,
		retentionDays: retentionDays,
	}
}

// Start schedules periodic collection and retention cleanup.
func (c *Collector) Start() error {
	c.cron = cron.New()
	if _, err := c.cron.AddFunc(collectSchedule, func() {
		ctx := context.Background()
		if _, _, err := c.CollectManual(ctx); err != nil {
			klog.ErrorS(err, "scheduled manual collection failed")
		}
		if _, _, err := c.CollectCron(ctx); err != nil {
			klog.ErrorS(err, "scheduled cron collection failed")
		}
	}); err != nil {
		return err
	}
	if _, err := c.cron.AddFunc(cleanupSchedule, func() {
		c.Cleanup(context.Background())
	}); err != nil {
		return err
	}
	c.cron.Start()
	klog.Infof("collector started: root %s, retention %d days", c.sharedRoot, c.retentionDays)
	return nil
}

// Stop halts the schedule. In-flight runs finish.
func (c *Collector) Stop() {
	if c.cron != nil {
		c.cron.Stop()
	}
}

// CollectManual scans <shared>/manual/*.json and upserts one
// diagnostic_results row per valid artifact. Returns processed and total
// file counts.
func (c *Collector) CollectManual(ctx context.Context) (int, int, error) {
	files, err := filepath.Glob(filepath.Join(c.sharedRoot, manualSubdir, "*.json"))
	if err != nil {
		return 0, 0, err
	}
	processed := 0
	for _, path := range files {
		ok, err := c.ingestManualFile(ctx, path)
		if err != nil {
			klog.ErrorS(err, "failed to ingest manual artifact", "path", path)
			continue
		}
		if ok {
			processed++
		}
	}
	if processed > 0 && c.bus != nil {
		c.bus.PublishResultsUpdated()
	}
	klog.Infof("manual collection done: %d/%d artifacts ingested", processed, len(files))
	return processed, len(files), nil
}

func (c *Collector) ingestManualFile(ctx context.Context, path string) (bool, error) {
	done, err := c.isManualFileProcessed(ctx, path)
	if err != nil {
		return false, err
	}
	if done {
		klog.V(4).Infof("manual artifact %s already ingested, skipping", path)
		return false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		klog.Warningf("malformed manual artifact %s, skipping: %v", path, err)
		return false, nil
	}
	if artifact.JobID == "" || artifact.NodeName == "" || artifact.GpuType == "" || artifact.TestResults == nil {
		klog.Warningf("manual artifact %s misses required fields, skipping", path)
		return false, nil
	}

	healthPass := deriveHealthPass(artifact.TestResults)
	inspection := "No Pass"
	if artifact.PerformancePass && healthPass {
		inspection = "Pass"
	}

	now := time.Now().UTC()
	dcgmLevel := artifact.DcgmLevel
	if dcgmLevel == 0 {
		dcgmLevel = 1
	}
	row := &dbclient.DiagnosticResult{
		JobId:            artifact.JobID,
		NodeName:         artifact.NodeName,
		JobType:          common.JobTypeManual,
		GpuType:          utils.NullString(artifact.GpuType),
		EnabledTests:     utils.NullString(string(jsonutil.MarshalSilently(artifact.EnabledTests))),
		DcgmLevel:        dcgmLevel,
		InspectionResult: utils.NullString(inspection),
		PerformancePass:  artifact.PerformancePass,
		HealthPass:       healthPass,
		ExecutionTime:    utils.NullString(artifact.ExecutionTime),
		ExecutionLog:     utils.NullString(artifact.ExecutionLog),
		BenchmarkData:    utils.NullString(string(jsonutil.MarshalSilently(artifact.Benchmark))),
		TestResults:      utils.NullString(string(jsonutil.MarshalSilently(artifact.TestResults))),
		FilePath:         utils.NullString(path),
		CreatedAt:        utils.NullTime(now),
		UpdatedAt:        utils.NullTime(now),
		ExpiresAt:        utils.NullTime(now.AddDate(0, 0, c.retentionDays)),
	}
	if err := c.store.UpsertDiagnosticResult(ctx, row); err != nil {
		return false, err
	}
	if err := c.store.CompleteDiagnosticJob(ctx, artifact.JobID); err != nil {
		klog.ErrorS(err, "failed to mark job completed", "jobId", artifact.JobID)
	}
	if c.bus != nil {
		c.bus.PublishJobStatusChange(artifact.JobID, "completed", artifact.NodeName)
	}
	klog.Infof("ingested manual artifact %s for job %s node %s", path, artifact.JobID, artifact.NodeName)
	return true, nil
}

// isManualFileProcessed decides whether an artifact was already ingested.
// Latest pointers (<node>_latest.json) count as processed once any row for
// the node exists; timestamped files are checked against their (job, node)
// row.
func (c *Collector) isManualFileProcessed(ctx context.Context, path string) (bool, error) {
	name := filepath.Base(path)
	if strings.HasSuffix(name, latestSuffix) {
		node := strings.TrimSuffix(name, latestSuffix)
		return c.store.HasResultForNode(ctx, node)
	}
	jobID, node := splitArtifactName(name)
	if jobID == "" {
		return false, nil
	}
	if _, err := c.store.GetDiagnosticResult(ctx, jobID, node); err == nil {
		return true, nil
	}
	return false, nil
}

// splitArtifactName parses "<jobID>_<node>.json" where jobID is the
// "manual-<stamp>-<rand>" form.
func splitArtifactName(name string) (string, string) {
	base := strings.TrimSuffix(name, ".json")
	parts := strings.SplitN(base, "_", 2)
	if len(parts) != 2 {
		return "", ""
	}
	return parts[0], parts[1]
}

// CollectCron scans <shared>/cron/*.json into the append-only history,
// deduplicated by file path.
func (c *Collector) CollectCron(ctx context.Context) (int, int, error) {
	files, err := filepath.Glob(filepath.Join(c.sharedRoot, cronSubdir, "*.json"))
	if err != nil {
		return 0, 0, err
	}
	processed := 0
	for _, path := range files {
		ok, err := c.ingestCronFile(ctx, path)
		if err != nil {
			klog.ErrorS(err, "failed to ingest cron artifact", "path", path)
			continue
		}
		if ok {
			processed++
		}
	}
	if processed > 0 && c.bus != nil {
		c.bus.PublishResultsUpdated()
	}
	return processed, len(files), nil
}

func (c *Collector) ingestCronFile(ctx context.Context, path string) (bool, error) {
	done, err := c.store.HasGpuInspectionForFile(ctx, path)
	if err != nil {
		return false, err
	}
	if done {
		return false, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	var artifact Artifact
	if err := json.Unmarshal(data, &artifact); err != nil {
		klog.Warningf("malformed cron artifact %s, skipping: %v", path, err)
		return false, nil
	}
	if artifact.Hostname == "" || artifact.TestResults == nil || artifact.CreatedAt == "" {
		klog.Warningf("cron artifact %s misses required fields, skipping", path)
		return false, nil
	}
	node := artifact.NodeName
	if node == "" {
		node = artifact.Hostname
	}

	healthPass := deriveHealthPass(artifact.TestResults)
	inspection := "No Pass"
	if artifact.PerformancePass && healthPass {
		inspection = "Pass"
	}

	now := time.Now().UTC()
	row := &dbclient.GpuInspection{
		NodeName:         node,
		GpuType:          utils.NullString(artifact.GpuType),
		InspectionResult: utils.NullString(inspection),
		PerformancePass:  artifact.PerformancePass,
		HealthPass:       healthPass,
		ExecutionTime:    utils.NullString(artifact.ExecutionTime),
		TestResults:      utils.NullString(string(jsonutil.MarshalSilently(artifact.TestResults))),
		FilePath:         path,
		CreatedAt:        utils.NullTime(now),
		ExpiresAt:        utils.NullTime(now.AddDate(0, 0, c.retentionDays)),
	}
	if err := c.store.InsertGpuInspection(ctx, row); err != nil {
		return false, err
	}
	klog.Infof("ingested cron artifact %s for node %s", path, node)
	return true, nil
}

// deriveHealthPass follows the artifact convention that dcgm and ib appear
// as bare status strings. A missing entry means the test was skipped.
func deriveHealthPass(testResults map[string]interface{}) bool {
	dcgm := statusString(testResults, common.TestDcgm)
	ib := statusString(testResults, common.TestIB)
	return (dcgm == "Pass" || dcgm == "Skipped") && (ib == "Pass" || ib == "Skipped")
}

func statusString(testResults map[string]interface{}, key string) string {
	value, ok := testResults[key]
	if !ok {
		return "Skipped"
	}
	status, ok := value.(string)
	if !ok {
		return ""
	}
	return status
}

// Cleanup removes shared-volume JSON older than the retention window and
// drops expired database rows.
func (c *Collector) Cleanup(ctx context.Context) {
	cutoff := time.Now().Add(-time.Duration(c.retentionDays) * 24 * time.Hour)
	removed := 0
	for _, subdir := range []string{manualSubdir, cronSubdir} {
		files, err := filepath.Glob(filepath.Join(c.sharedRoot, subdir, "*.json"))
		if err != nil {
			klog.ErrorS(err, "failed to list artifacts for cleanup", "subdir", subdir)
			continue
		}
		for _, path := range files {
			info, err := os.Stat(path)
			if err != nil {
				continue
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(path); err != nil {
					klog.ErrorS(err, "failed to remove expired artifact", "path", path)
					continue
				}
				removed++
			}
		}
	}

	now := time.Now().UTC()
	var expired int64
	for _, del := range []func(context.Context, time.Time) (int64, error){
		c.store.DeleteExpiredDiagnosticJobs,
		c.store.DeleteExpiredDiagnosticResults,
		c.store.DeleteExpiredGpuInspections,
	} {
		n, err := del(ctx, now)
		if err != nil {
			klog.ErrorS(err, "failed to delete expired rows")
			continue
		}
		expired += n
	}
	klog.Infof("retention cleanup done: %d files removed, %d rows deleted", removed, expired)
}
