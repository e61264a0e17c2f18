/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package cluster drives cluster-mode inspections: one Kubernetes Job per
// selected node, rendered from a manifest template. The watcher mirrors the
// resulting pod phases back into the job table.
package cluster

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	batchv1 "k8s.io/api/batch/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"
	"k8s.io/utils/ptr"
	"sigs.k8s.io/yaml"

	"github.com/AMD-AIG-AIMA/GHX/pkg/common"
	dbclient "github.com/AMD-AIG-AIMA/GHX/pkg/database/client"
	"github.com/AMD-AIG-AIMA/GHX/pkg/database/utils"
	"github.com/AMD-AIG-AIMA/GHX/pkg/errors"
	"github.com/AMD-AIG-AIMA/GHX/pkg/events"
	"github.com/AMD-AIG-AIMA/GHX/pkg/utils/jsonutil"
)

const defaultGpuResource = "nvidia.com/gpu"

// Store is the slice of the database surface the manager needs.
type Store interface {
	GetDiagnosticJob(ctx context.Context, jobId string) (*dbclient.DiagnosticJob, error)
	UpsertDiagnosticJob(ctx context.Context, job *dbclient.DiagnosticJob) error
	UpdateDiagnosticJobStatus(ctx context.Context, jobId, status string) error
	DeleteExpiredDiagnosticJobs(ctx context.Context, now time.Time) (int64, error)
}

// CreateRequest asks for one cluster-mode inspection across a node set.
type CreateRequest struct {
	SelectedNodes []string `json:"selectedNodes"`
	EnabledTests  []string `json:"enabledTests"`
	DcgmLevel     int      `json:"dcgmLevel,omitempty"`
}

// Manager creates and tears down the per-node inspection Jobs.
type Manager struct {
	client        kubernetes.Interface
	store         Store
	bus           *events.Bus
	namespace     string
	templatePath  string
	retentionDays int
}

func New(client kubernetes.Interface, store Store, bus *events.Bus, namespace, templatePath string, retentionDays int) *Manager {
	return &Manager{
		client:        client,
		store:         store,
		bus:           bus,
		namespace:     namespace,
		templatePath:  templatePath,
		retentionDays: retentionDays,
	}
}

func validateCreate(req *CreateRequest) error {
	if len(req.SelectedNodes) == 0 {
		return errors.NewBadRequest("selectedNodes must not be empty")
	}
	if len(req.EnabledTests) == 0 {
		return errors.NewBadRequest("enabledTests must not be empty")
	}
	for _, kind := range req.EnabledTests {
		if !common.IsKnownTest(kind) {
			return errors.NewBadRequest(fmt.Sprintf("unknown test kind %q", kind))
		}
	}
	if req.DcgmLevel == 0 {
		req.DcgmLevel = 2
	}
	if req.DcgmLevel < 1 || req.DcgmLevel > 4 {
		return errors.NewBadRequest(fmt.Sprintf("dcgmLevel must be 1..4, got %d", req.DcgmLevel))
	}
	return nil
}

// CreateJob renders and creates one Kubernetes Job per selected node and
// registers the pending job row. Returns the job id and the created Job
// names.
func (m *Manager) CreateJob(ctx context.Context, req CreateRequest) (string, []string, error) {
	if err := validateCreate(&req); err != nil {
		return "", nil, err
	}
	if m.client == nil {
		return "", nil, errors.NewInternalError("kubernetes client unavailable")
	}

	template, err := os.ReadFile(m.templatePath)
	if err != nil {
		return "", nil, errors.NewInternalError(fmt.Sprintf("job template unreadable: %v", err))
	}

	jobID := fmt.Sprintf("manual-%d-%s", time.Now().Unix(), uuid.NewString()[:8])
	var created []string
	for _, node := range req.SelectedNodes {
		manifest := renderTemplate(string(template), jobID, node, &req)
		job := &batchv1.Job{}
		if err := yaml.Unmarshal([]byte(manifest), job); err != nil {
			return "", created, errors.NewInternalError(
				fmt.Sprintf("job template for node %s does not render to a Job: %v", node, err))
		}
		if _, err := m.client.BatchV1().Jobs(m.namespace).Create(ctx, job, metav1.CreateOptions{}); err != nil {
			return "", created, errors.NewInternalError(
				fmt.Sprintf("failed to create job for node %s: %v", node, err))
		}
		created = append(created, job.Name)
		klog.Infof("created inspection job %s for node %s", job.Name, node)
	}

	now := time.Now().UTC()
	row := &dbclient.DiagnosticJob{
		JobId:         jobID,
		JobName:       utils.NullString(fmt.Sprintf("%s-%s", common.ManualJobPrefix, jobID)),
		JobType:       common.JobTypeManual,
		SelectedNodes: utils.NullString(string(jsonutil.MarshalSilently(req.SelectedNodes))),
		EnabledTests:  utils.NullString(string(jsonutil.MarshalSilently(req.EnabledTests))),
		DcgmLevel:     req.DcgmLevel,
		Status:        "pending",
		CreatedAt:     utils.NullTime(now),
		UpdatedAt:     utils.NullTime(now),
		ExpiresAt:     utils.NullTime(now.AddDate(0, 0, m.retentionDays)),
	}
	if err := m.store.UpsertDiagnosticJob(ctx, row); err != nil {
		klog.ErrorS(err, "failed to persist job row", "jobId", jobID)
	}
	if m.bus != nil {
		m.bus.PublishJobStatusChange(jobID, "pending", "")
	}
	return jobID, created, nil
}

// renderTemplate substitutes the manifest placeholders for one node. The
// Job name token is replaced first so the later generic token pass cannot
// clobber it.
func renderTemplate(template, jobID, node string, req *CreateRequest) string {
	manifest := strings.ReplaceAll(template,
		"ghx-manual-job-{JOB_ID}", fmt.Sprintf("%s-%s-%s", common.ManualJobPrefix, jobID, node))
	manifest = strings.ReplaceAll(manifest, "{ENABLED_TESTS}", strings.Join(req.EnabledTests, ","))
	manifest = strings.ReplaceAll(manifest, "{DCGM_LEVEL}", fmt.Sprintf("%d", req.DcgmLevel))
	manifest = strings.ReplaceAll(manifest, "{SELECTED_NODES}", strings.Join(req.SelectedNodes, ","))
	manifest = strings.ReplaceAll(manifest, "{GPU_RESOURCE_NAME}", defaultGpuResource)
	manifest = strings.ReplaceAll(manifest, "{BASE_JOB_ID}", jobID)
	manifest = strings.ReplaceAll(manifest, "{JOB_ID}", fmt.Sprintf("%s-%s", jobID, node))
	manifest = strings.ReplaceAll(manifest, "{NODE_NAME}", node)
	return manifest
}

// StopJob deletes every Kubernetes Job and pod belonging to the inspection
// and immediately marks the job cancelled. Pods already running on nodes
// are killed with grace 0.
func (m *Manager) StopJob(ctx context.Context, jobID string) error {
	if m.client == nil {
		return errors.NewInternalError("kubernetes client unavailable")
	}
	jobs, err := m.client.BatchV1().Jobs(m.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("job-id=%s", jobID),
	})
	if err != nil {
		return errors.NewInternalError(fmt.Sprintf("failed to list jobs: %v", err))
	}
	if len(jobs.Items) == 0 {
		return errors.NewNotFound("job", jobID)
	}

	propagation := metav1.DeletePropagationBackground
	for i := range jobs.Items {
		job := &jobs.Items[i]
		err := m.client.BatchV1().Jobs(m.namespace).Delete(ctx, job.Name, metav1.DeleteOptions{
			GracePeriodSeconds: ptr.To(int64(0)),
			PropagationPolicy:  &propagation,
		})
		if err != nil {
			klog.ErrorS(err, "failed to delete job", "name", job.Name)
			continue
		}
		klog.Infof("deleted inspection job %s", job.Name)
		m.deletePodsOf(ctx, job.Name)
	}

	if err := m.store.UpdateDiagnosticJobStatus(ctx, jobID, "cancelled"); err != nil {
		klog.ErrorS(err, "failed to mark job cancelled", "jobId", jobID)
	}
	if m.bus != nil {
		m.bus.PublishJobStatusChange(jobID, "cancelled", "")
	}
	return nil
}

func (m *Manager) deletePodsOf(ctx context.Context, jobName string) {
	pods, err := m.client.CoreV1().Pods(m.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: fmt.Sprintf("job-name=%s", jobName),
	})
	if err != nil {
		klog.ErrorS(err, "failed to list pods of job", "job", jobName)
		return
	}
	for i := range pods.Items {
		pod := &pods.Items[i]
		err := m.client.CoreV1().Pods(m.namespace).Delete(ctx, pod.Name, metav1.DeleteOptions{
			GracePeriodSeconds: ptr.To(int64(0)),
		})
		if err != nil {
			klog.ErrorS(err, "failed to delete pod", "name", pod.Name)
			continue
		}
		klog.Infof("deleted inspection pod %s", pod.Name)
	}
}

// ReapExpired drops job rows past their expiry.
func (m *Manager) ReapExpired(ctx context.Context) (int64, error) {
	return m.store.DeleteExpiredDiagnosticJobs(ctx, time.Now().UTC())
}
