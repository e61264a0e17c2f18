/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package watcher

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"gotest.tools/assert"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	dbclient "github.com/AMD-AIG-AIMA/GHX/pkg/database/client"
)

const podName = "ghx-manual-job-manual-1756721527-21039310-hd03-gpu2-0062-mdtlt"

type fakeStore struct {
	jobs    map[string]*dbclient.DiagnosticJob
	updates []string
}

func (f *fakeStore) GetDiagnosticJob(_ context.Context, jobId string) (*dbclient.DiagnosticJob, error) {
	if job, ok := f.jobs[jobId]; ok {
		return job, nil
	}
	return nil, sql.ErrNoRows
}

func (f *fakeStore) UpdateDiagnosticJobStatus(_ context.Context, jobId, status string) error {
	f.updates = append(f.updates, jobId+"="+status)
	f.jobs[jobId].Status = status
	return nil
}

type fakeIngester struct {
	calls int
}

func (f *fakeIngester) CollectManual(context.Context) (int, int, error) {
	f.calls++
	return 1, 1, nil
}

func inspectionPod(name string, phase corev1.PodPhase, ready bool) *corev1.Pod {
	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: "gpu-health-expert",
			Labels:    map[string]string{"app": "ghx-manual", "job-type": "manual"},
		},
		Status: corev1.PodStatus{
			Phase: phase,
			ContainerStatuses: []corev1.ContainerStatus{
				{Ready: ready},
			},
		},
	}
}

func TestMapPodStatus(t *testing.T) {
	cases := []struct {
		phase, ready, want string
	}{
		{"Pending", "0/1", "Pending"},
		{"Running", "1/1", "Running"},
		{"Running", "0/1", "Running"},
		{"Succeeded", "0/1", "Completed"},
		{"Completed", "0/1", "Completed"},
		{"Failed", "0/1", "Failed"},
		{"Error", "0/1", "Failed"},
		{"CrashLoopBackOff", "0/1", "Failed"},
		{"Unknown", "0/1", "Unknown"},
		{"ContainerCreating", "0/1", "ContainerCreating"},
	}
	for _, tc := range cases {
		assert.Equal(t, MapPodStatus(tc.phase, tc.ready), tc.want, "phase=%s", tc.phase)
	}
}

func TestJobIDFromPodName(t *testing.T) {
	assert.Equal(t, JobIDFromPodName(podName), "manual-1756721527-21039310")
	assert.Equal(t, JobIDFromPodName("ghx-manual-job"), "")
	assert.Equal(t, JobIDFromPodName(""), "")
}

func TestParseKubectlLine(t *testing.T) {
	name, phase, ready, ok := parseKubectlLine(podName + "   0/1   Pending   0   5s")
	assert.Assert(t, ok)
	assert.Equal(t, name, podName)
	assert.Equal(t, phase, "Pending")
	assert.Equal(t, ready, "0/1")

	_, _, _, ok = parseKubectlLine("short line")
	assert.Assert(t, !ok)
}

func newWatcher(t *testing.T, store *fakeStore, ingester *fakeIngester, pods ...*corev1.Pod) *Watcher {
	t.Helper()
	client := fake.NewSimpleClientset()
	for _, pod := range pods {
		_, err := client.CoreV1().Pods(pod.Namespace).Create(context.Background(), pod, metav1.CreateOptions{})
		assert.NilError(t, err)
	}
	w := New(client, store, nil, ingester, "gpu-health-expert", 5*time.Minute)
	t.Cleanup(w.Stop)
	return w
}

func TestSyncOnceUpdatesJobStatus(t *testing.T) {
	store := &fakeStore{jobs: map[string]*dbclient.DiagnosticJob{
		"manual-1756721527-21039310": {JobId: "manual-1756721527-21039310", Status: "Pending"},
	}}
	w := newWatcher(t, store, nil, inspectionPod(podName, corev1.PodRunning, true))

	assert.NilError(t, w.syncOnce(context.Background()))
	assert.DeepEqual(t, store.updates, []string{"manual-1756721527-21039310=Running"})
}

func TestTerminalPhaseTriggersIngestion(t *testing.T) {
	store := &fakeStore{jobs: map[string]*dbclient.DiagnosticJob{
		"manual-1756721527-21039310": {JobId: "manual-1756721527-21039310", Status: "Running"},
	}}
	ingester := &fakeIngester{}
	w := newWatcher(t, store, ingester, inspectionPod(podName, corev1.PodSucceeded, false))

	assert.NilError(t, w.syncOnce(context.Background()))
	assert.DeepEqual(t, store.updates, []string{"manual-1756721527-21039310=Completed"})
	assert.Equal(t, ingester.calls, 1)
}

func TestUnregisteredJobIsIgnored(t *testing.T) {
	store := &fakeStore{jobs: map[string]*dbclient.DiagnosticJob{}}
	w := newWatcher(t, store, nil, inspectionPod(podName, corev1.PodRunning, true))

	assert.NilError(t, w.syncOnce(context.Background()))
	assert.Equal(t, len(store.updates), 0)
}

func TestUnchangedStatusIsNotRewritten(t *testing.T) {
	store := &fakeStore{jobs: map[string]*dbclient.DiagnosticJob{
		"manual-1756721527-21039310": {JobId: "manual-1756721527-21039310", Status: "running"},
	}}
	w := newWatcher(t, store, nil, inspectionPod(podName, corev1.PodRunning, true))

	// comparison is case-insensitive, lowercase db status matches
	assert.NilError(t, w.syncOnce(context.Background()))
	assert.Equal(t, len(store.updates), 0)
}
