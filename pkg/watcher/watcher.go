/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package watcher tracks the inspection pods that cluster-mode jobs create
// and mirrors their phases into the job table. It degrades through three
// strategies: an API watch with resourceVersion resume, a kubectl watch
// subprocess, and plain polling.
package watcher

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	apiwatch "k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/GHX/pkg/common"
	dbclient "github.com/AMD-AIG-AIMA/GHX/pkg/database/client"
	"github.com/AMD-AIG-AIMA/GHX/pkg/events"
)

const (
	watchBackoffBase = time.Second
	watchBackoffCap  = 30 * time.Second
	maxWatchFailures = 10

	restartDelay       = 5 * time.Second
	activePollInterval = 10 * time.Second
	idlePollInterval   = 30 * time.Second
)

// Store is the slice of the database surface the watcher needs.
type Store interface {
	GetDiagnosticJob(ctx context.Context, jobId string) (*dbclient.DiagnosticJob, error)
	UpdateDiagnosticJobStatus(ctx context.Context, jobId, status string) error
}

// Ingester collects result artifacts once a job reaches a terminal phase.
type Ingester interface {
	CollectManual(ctx context.Context) (int, int, error)
}

// Watcher mirrors inspection pod phases into the job table.
type Watcher struct {
	client    kubernetes.Interface
	store     Store
	bus       *events.Bus
	ingester  Ingester
	namespace string
	resync    time.Duration

	mu                  sync.Mutex
	lastResourceVersion string

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

func New(client kubernetes.Interface, store Store, bus *events.Bus, ingester Ingester, namespace string, resync time.Duration) *Watcher {
	ctx, cancel := context.WithCancel(context.Background())
	return &Watcher{
		client:    client,
		store:     store,
		bus:       bus,
		ingester:  ingester,
		namespace: namespace,
		resync:    resync,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs the strategy chain in the background.
func (w *Watcher) Start() {
	go w.run()
}

// Stop terminates whichever strategy is active.
func (w *Watcher) Stop() {
	w.stopOnce.Do(w.cancel)
}

func (w *Watcher) run() {
	if err := w.watchKubernetes(); err != nil {
		klog.ErrorS(err, "api watch exhausted, falling back to kubectl watch")
	} else {
		return
	}
	if err := w.watchKubectl(); err != nil {
		klog.ErrorS(err, "kubectl watch exhausted, falling back to polling")
	} else {
		return
	}
	w.poll()
}

// MapPodStatus translates a pod phase and kubectl READY column into the job
// status vocabulary.
func MapPodStatus(phase, ready string) string {
	status := strings.ToLower(phase)
	if strings.Contains(ready, "/") {
		parts := strings.SplitN(ready, "/", 2)
		readyCount, err1 := strconv.Atoi(parts[0])
		_, err2 := strconv.Atoi(parts[1])
		if err1 == nil && err2 == nil && readyCount > 0 && status == "running" {
			return "Running"
		}
	}
	switch status {
	case "pending":
		return "Pending"
	case "running":
		return "Running"
	case "succeeded", "completed":
		return "Completed"
	case "failed", "error", "crashloopbackoff":
		return "Failed"
	case "unknown":
		return "Unknown"
	}
	return phase
}

// JobIDFromPodName extracts the job id from an inspection pod name of the
// form ghx-manual-job-<jobID>-<node>-<suffix>, where the job id itself is
// manual-<stamp>-<rand>.
func JobIDFromPodName(podName string) string {
	parts := strings.Split(podName, "-")
	if len(parts) < 7 {
		return ""
	}
	return strings.Join(parts[3:6], "-")
}

func isTerminalStatus(status string) bool {
	switch status {
	case "Completed", "Succeeded", "Failed":
		return true
	}
	return false
}

// handlePod reconciles one observed pod against the job table. No-ops for
// pods without a registered job or without a status change.
func (w *Watcher) handlePod(ctx context.Context, podName, phase, ready string) {
	jobID := JobIDFromPodName(podName)
	if jobID == "" {
		klog.V(4).Infof("pod %s carries no job id, skipping", podName)
		return
	}
	job, err := w.store.GetDiagnosticJob(ctx, jobID)
	if err != nil {
		klog.V(4).Infof("job %s not registered, skipping pod %s", jobID, podName)
		return
	}
	status := MapPodStatus(phase, ready)
	if strings.EqualFold(status, job.Status) {
		return
	}
	klog.Infof("pod %s moved job %s from %s to %s", podName, jobID, job.Status, status)
	if err := w.store.UpdateDiagnosticJobStatus(ctx, jobID, status); err != nil {
		klog.ErrorS(err, "failed to update job status", "jobId", jobID, "status", status)
		return
	}
	if w.bus != nil {
		w.bus.PublishJobStatusChange(jobID, status, "")
	}
	if isTerminalStatus(status) && w.ingester != nil {
		if _, _, err := w.ingester.CollectManual(ctx); err != nil {
			klog.ErrorS(err, "post-completion collection failed", "jobId", jobID)
		}
	}
}

func podReadyColumn(pod *corev1.Pod) string {
	ready := 0
	total := len(pod.Status.ContainerStatuses)
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.Ready {
			ready++
		}
	}
	if total == 0 {
		total = 1
	}
	return fmt.Sprintf("%d/%d", ready, total)
}

// syncOnce lists the inspection pods, reconciles each and records the list
// resourceVersion as the watch resume point.
func (w *Watcher) syncOnce(ctx context.Context) error {
	list, err := w.client.CoreV1().Pods(w.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: common.ManualLabelSelector,
	})
	if err != nil {
		return err
	}
	for i := range list.Items {
		pod := &list.Items[i]
		w.handlePod(ctx, pod.Name, string(pod.Status.Phase), podReadyColumn(pod))
	}
	w.mu.Lock()
	w.lastResourceVersion = list.ResourceVersion
	w.mu.Unlock()
	klog.V(4).Infof("pod sync done: %d pods", len(list.Items))
	return nil
}

func (w *Watcher) resumeVersion() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastResourceVersion
}

// watchKubernetes is the primary strategy: full sync, then an API watch
// resumed from the recorded resourceVersion, re-synced on an interval.
// Returns an error once consecutive failures exhaust the retry budget; nil
// means the watcher was stopped.
func (w *Watcher) watchKubernetes() error {
	if w.client == nil {
		return fmt.Errorf("kubernetes client unavailable")
	}
	failures := 0
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = watchBackoffBase
	expo.MaxInterval = watchBackoffCap
	expo.MaxElapsedTime = 0

	for {
		select {
		case <-w.ctx.Done():
			return nil
		default:
		}

		if err := w.syncOnce(w.ctx); err != nil {
			failures++
			klog.ErrorS(err, "pod sync failed", "failures", failures)
			if failures >= maxWatchFailures {
				return err
			}
			if !w.sleep(expo.NextBackOff()) {
				return nil
			}
			continue
		}

		stream, err := w.client.CoreV1().Pods(w.namespace).Watch(w.ctx, metav1.ListOptions{
			LabelSelector:   common.ManualLabelSelector,
			ResourceVersion: w.resumeVersion(),
		})
		if err != nil {
			failures++
			klog.ErrorS(err, "pod watch failed", "failures", failures)
			if failures >= maxWatchFailures {
				return err
			}
			if !w.sleep(expo.NextBackOff()) {
				return nil
			}
			continue
		}

		failures = 0
		expo.Reset()
		w.consume(stream)

		select {
		case <-w.ctx.Done():
			return nil
		default:
		}
		klog.Infof("pod watch stream ended, restarting in %s", restartDelay)
		if !w.sleep(restartDelay) {
			return nil
		}
	}
}

// consume drains one watch stream until it closes, the resync interval
// elapses or the watcher stops.
func (w *Watcher) consume(stream apiwatch.Interface) {
	defer stream.Stop()
	resync := time.NewTimer(w.resync)
	defer resync.Stop()
	for {
		select {
		case <-w.ctx.Done():
			return
		case <-resync.C:
			klog.V(4).Infof("resync interval elapsed, relisting pods")
			return
		case event, ok := <-stream.ResultChan():
			if !ok {
				return
			}
			pod, ok := event.Object.(*corev1.Pod)
			if !ok {
				continue
			}
			w.mu.Lock()
			w.lastResourceVersion = pod.ResourceVersion
			w.mu.Unlock()
			switch event.Type {
			case apiwatch.Added, apiwatch.Modified:
				w.handlePod(w.ctx, pod.Name, string(pod.Status.Phase), podReadyColumn(pod))
			case apiwatch.Deleted:
				klog.V(4).Infof("pod %s deleted", pod.Name)
			}
		}
	}
}

// watchKubectl shells out to kubectl when the API watch keeps failing.
func (w *Watcher) watchKubectl() error {
	failures := 0
	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = watchBackoffBase
	expo.MaxInterval = watchBackoffCap
	expo.MaxElapsedTime = 0

	for {
		select {
		case <-w.ctx.Done():
			return nil
		default:
		}

		cmd := exec.CommandContext(w.ctx, "kubectl", "get", "pods",
			"-n", w.namespace,
			"-l", common.ManualLabelSelector,
			"--no-headers", "--watch")
		stdout, err := cmd.StdoutPipe()
		if err == nil {
			err = cmd.Start()
		}
		if err != nil {
			failures++
			klog.ErrorS(err, "kubectl watch failed to start", "failures", failures)
			if failures >= maxWatchFailures {
				return err
			}
			if !w.sleep(expo.NextBackOff()) {
				return nil
			}
			continue
		}

		lines := 0
		scanner := bufio.NewScanner(stdout)
		for scanner.Scan() {
			name, phase, ready, ok := parseKubectlLine(scanner.Text())
			if !ok {
				continue
			}
			lines++
			w.handlePod(w.ctx, name, phase, ready)
		}
		_ = cmd.Wait()
		if lines > 0 {
			failures = 0
			expo.Reset()
		}

		select {
		case <-w.ctx.Done():
			return nil
		default:
		}
		klog.Infof("kubectl watch ended, restarting in %s", restartDelay)
		if !w.sleep(restartDelay) {
			return nil
		}
	}
}

// parseKubectlLine splits one "NAME READY STATUS RESTARTS AGE" line.
func parseKubectlLine(line string) (name, phase, ready string, ok bool) {
	fields := strings.Fields(line)
	if len(fields) < 4 {
		return "", "", "", false
	}
	return fields[0], fields[2], fields[1], true
}

// poll is the last-resort strategy: list on a timer, faster while any pod
// is still in flight.
func (w *Watcher) poll() {
	if w.client == nil {
		klog.Warningf("no kubernetes client, polling unavailable")
		return
	}
	for {
		interval := idlePollInterval
		if w.pollOnce(w.ctx) > 0 {
			interval = activePollInterval
		}
		if !w.sleep(interval) {
			return
		}
	}
}

func (w *Watcher) pollOnce(ctx context.Context) int {
	list, err := w.client.CoreV1().Pods(w.namespace).List(ctx, metav1.ListOptions{
		LabelSelector: common.ManualLabelSelector,
	})
	if err != nil {
		klog.ErrorS(err, "pod poll failed")
		return 0
	}
	active := 0
	for i := range list.Items {
		pod := &list.Items[i]
		status := MapPodStatus(string(pod.Status.Phase), podReadyColumn(pod))
		if !isTerminalStatus(status) {
			active++
		}
		w.handlePod(ctx, pod.Name, string(pod.Status.Phase), podReadyColumn(pod))
	}
	return active
}

func (w *Watcher) sleep(d time.Duration) bool {
	select {
	case <-w.ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
