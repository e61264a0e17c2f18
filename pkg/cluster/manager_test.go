/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package cluster

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gotest.tools/assert"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	dbclient "github.com/AMD-AIG-AIMA/GHX/pkg/database/client"
	"github.com/AMD-AIG-AIMA/GHX/pkg/errors"
)

const jobTemplate = `apiVersion: batch/v1
kind: Job
metadata:
  name: ghx-manual-job-{JOB_ID}
  labels:
    app: ghx-manual
    job-type: manual
    job-id: "{BASE_JOB_ID}"
spec:
  template:
    metadata:
      labels:
        app: ghx-manual
        job-type: manual
    spec:
      nodeName: "{NODE_NAME}"
      restartPolicy: Never
      containers:
      - name: inspector
        image: ghx/inspector:latest
        env:
        - name: JOB_ID
          value: "{JOB_ID}"
        - name: ENABLED_TESTS
          value: "{ENABLED_TESTS}"
        - name: DCGM_LEVEL
          value: "{DCGM_LEVEL}"
        resources:
          limits:
            {GPU_RESOURCE_NAME}: 8
`

type fakeStore struct {
	jobs    map[string]*dbclient.DiagnosticJob
	updates []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{jobs: make(map[string]*dbclient.DiagnosticJob)}
}

func (f *fakeStore) GetDiagnosticJob(_ context.Context, jobId string) (*dbclient.DiagnosticJob, error) {
	if job, ok := f.jobs[jobId]; ok {
		return job, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) UpsertDiagnosticJob(_ context.Context, job *dbclient.DiagnosticJob) error {
	f.jobs[job.JobId] = job
	return nil
}

func (f *fakeStore) UpdateDiagnosticJobStatus(_ context.Context, jobId, status string) error {
	f.updates = append(f.updates, jobId+"="+status)
	return nil
}

func (f *fakeStore) DeleteExpiredDiagnosticJobs(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func writeTemplate(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "job-template.yaml")
	assert.NilError(t, os.WriteFile(path, []byte(jobTemplate), 0o644))
	return path
}

func TestCreateJobPerNode(t *testing.T) {
	client := fake.NewSimpleClientset()
	store := newFakeStore()
	m := New(client, store, nil, "gpu-health-expert", writeTemplate(t), 7)

	jobID, created, err := m.CreateJob(context.Background(), CreateRequest{
		SelectedNodes: []string{"node-a", "node-b"},
		EnabledTests:  []string{"nccl", "dcgm"},
		DcgmLevel:     2,
	})
	assert.NilError(t, err)
	assert.Assert(t, strings.HasPrefix(jobID, "manual-"))
	assert.Equal(t, len(created), 2)
	assert.Assert(t, strings.HasSuffix(created[0], "-node-a"))
	assert.Assert(t, strings.HasSuffix(created[1], "-node-b"))

	list, err := client.BatchV1().Jobs("gpu-health-expert").List(context.Background(), metav1.ListOptions{})
	assert.NilError(t, err)
	assert.Equal(t, len(list.Items), 2)
	for _, job := range list.Items {
		assert.Equal(t, job.Labels["job-id"], jobID)
	}

	row := store.jobs[jobID]
	assert.Assert(t, row != nil)
	assert.Equal(t, row.Status, "pending")
	assert.Assert(t, strings.Contains(row.SelectedNodes.String, "node-a"))
	assert.Assert(t, row.ExpiresAt.Valid)
}

func TestCreateJobValidation(t *testing.T) {
	m := New(fake.NewSimpleClientset(), newFakeStore(), nil, "ns", writeTemplate(t), 7)

	_, _, err := m.CreateJob(context.Background(), CreateRequest{EnabledTests: []string{"nccl"}})
	assert.Assert(t, errors.IsBadRequest(err))

	_, _, err = m.CreateJob(context.Background(), CreateRequest{
		SelectedNodes: []string{"n1"}, EnabledTests: []string{"warp-speed"},
	})
	assert.Assert(t, errors.IsBadRequest(err))

	_, _, err = m.CreateJob(context.Background(), CreateRequest{
		SelectedNodes: []string{"n1"}, EnabledTests: []string{"nccl"}, DcgmLevel: 7,
	})
	assert.Assert(t, errors.IsBadRequest(err))
}

func TestRenderTemplateSubstitution(t *testing.T) {
	req := &CreateRequest{
		SelectedNodes: []string{"n1", "n2"},
		EnabledTests:  []string{"bandwidth", "nccl"},
		DcgmLevel:     3,
	}
	manifest := renderTemplate(jobTemplate, "manual-1-abc", "n1", req)

	assert.Assert(t, strings.Contains(manifest, "name: ghx-manual-job-manual-1-abc-n1"))
	assert.Assert(t, strings.Contains(manifest, `job-id: "manual-1-abc"`))
	assert.Assert(t, strings.Contains(manifest, `value: "manual-1-abc-n1"`))
	assert.Assert(t, strings.Contains(manifest, `value: "bandwidth,nccl"`))
	assert.Assert(t, strings.Contains(manifest, `value: "3"`))
	assert.Assert(t, strings.Contains(manifest, `nodeName: "n1"`))
	assert.Assert(t, strings.Contains(manifest, "nvidia.com/gpu: 8"))
	assert.Assert(t, !strings.Contains(manifest, "{"))
}

func TestStopJobDeletesAndCancels(t *testing.T) {
	client := fake.NewSimpleClientset(
		&batchv1.Job{ObjectMeta: metav1.ObjectMeta{
			Name:      "ghx-manual-job-manual-1-abc-n1",
			Namespace: "gpu-health-expert",
			Labels:    map[string]string{"job-id": "manual-1-abc"},
		}},
		&corev1.Pod{ObjectMeta: metav1.ObjectMeta{
			Name:      "ghx-manual-job-manual-1-abc-n1-xyz",
			Namespace: "gpu-health-expert",
			Labels:    map[string]string{"job-name": "ghx-manual-job-manual-1-abc-n1"},
		}},
	)
	store := newFakeStore()
	m := New(client, store, nil, "gpu-health-expert", "", 7)

	assert.NilError(t, m.StopJob(context.Background(), "manual-1-abc"))

	jobs, err := client.BatchV1().Jobs("gpu-health-expert").List(context.Background(), metav1.ListOptions{})
	assert.NilError(t, err)
	assert.Equal(t, len(jobs.Items), 0)
	pods, err := client.CoreV1().Pods("gpu-health-expert").List(context.Background(), metav1.ListOptions{})
	assert.NilError(t, err)
	assert.Equal(t, len(pods.Items), 0)
	assert.DeepEqual(t, store.updates, []string{"manual-1-abc=cancelled"})
}

func TestStopJobUnknownIsNotFound(t *testing.T) {
	m := New(fake.NewSimpleClientset(), newFakeStore(), nil, "gpu-health-expert", "", 7)
	err := m.StopJob(context.Background(), "missing")
	assert.Assert(t, errors.IsNotFound(err))
}
