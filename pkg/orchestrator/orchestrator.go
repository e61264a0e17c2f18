/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package orchestrator owns the in-memory job registry and drives the
// per-node runners. The jobs map is the only shared mutable state; a single
// mutex guards it and is never held across remote I/O.
package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/GHX/pkg/common"
	"github.com/AMD-AIG-AIMA/GHX/pkg/engine"
	"github.com/AMD-AIG-AIMA/GHX/pkg/errors"
	"github.com/AMD-AIG-AIMA/GHX/pkg/events"
	"github.com/AMD-AIG-AIMA/GHX/pkg/sshexec"
	"github.com/AMD-AIG-AIMA/GHX/pkg/utils/channel"
	"github.com/AMD-AIG-AIMA/GHX/pkg/utils/timeutil"
)

// maxNodeFanout bounds how many node runners execute concurrently per job.
const maxNodeFanout = 10

type Orchestrator struct {
	mu     sync.Mutex
	jobs   map[string]*Job
	runner *engine.Runner
	bus    *events.Bus
}

func New(runner *engine.Runner, bus *events.Bus) *Orchestrator {
	return &Orchestrator{
		jobs:   make(map[string]*Job),
		runner: runner,
		bus:    bus,
	}
}

func utcNow() string {
	now := time.Now().UTC()
	return timeutil.FormatRFC3339(&now)
}

func validateSubmit(req *SubmitRequest) error {
	if len(req.Nodes) == 0 {
		return errors.NewBadRequest("nodes must not be empty")
	}
	if len(req.Tests) == 0 {
		return errors.NewBadRequest("tests must not be empty")
	}
	for _, kind := range req.Tests {
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
	for _, node := range req.Nodes {
		if node.Host == "" || node.Username == "" || node.Auth.Type == "" {
			return errors.NewBadRequest(
				fmt.Sprintf("node %q must carry host, username and auth", node.Host))
		}
	}
	return nil
}

// Submit validates the request, registers the job and spawns its worker.
func (o *Orchestrator) Submit(req SubmitRequest) (string, error) {
	if err := validateSubmit(&req); err != nil {
		return "", err
	}

	jobID := req.JobName
	if jobID == "" {
		jobID = fmt.Sprintf("manual-%s", uuid.NewString()[:8])
	}
	jobName := req.JobName
	if jobName == "" {
		jobName = jobID
	}

	now := utcNow()
	job := &Job{
		JobID:     jobID,
		JobName:   jobName,
		CreatedAt: now,
		UpdatedAt: now,
		Status:    JobPending,
		Tests:     req.Tests,
		DcgmLevel: req.DcgmLevel,
		cancelled: make(chan struct{}),
	}
	for _, sub := range req.Nodes {
		port := sub.Port
		if port == 0 {
			port = 22
		}
		alias := sub.Alias
		if alias == "" {
			alias = sub.Host
		}
		job.Nodes = append(job.Nodes, &Node{
			NodeID:   uuid.NewString(),
			Alias:    alias,
			Host:     sub.Host,
			Port:     port,
			Username: sub.Username,
			Status:   NodePending,
			connection: sshexec.Connection{
				Host:         sub.Host,
				Port:         port,
				Username:     sub.Username,
				Auth:         sub.Auth,
				SudoPassword: sub.SudoPassword,
			},
		})
	}

	o.mu.Lock()
	if _, exists := o.jobs[jobID]; exists {
		o.mu.Unlock()
		return "", errors.NewAlreadyExist(fmt.Sprintf("job %s is already registered", jobID))
	}
	o.jobs[jobID] = job
	o.mu.Unlock()

	go o.runJob(jobID)
	klog.Infof("job %s submitted: %d nodes, tests %v", jobID, len(job.Nodes), job.Tests)
	return jobID, nil
}

// Get returns the sanitized view of one job.
func (o *Orchestrator) Get(jobID string) (*JobView, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok {
		return nil, errors.NewNotFound("job", jobID)
	}
	view := sanitize(job)
	return &view, nil
}

// List returns sanitized views of every registered job.
func (o *Orchestrator) List() []JobView {
	o.mu.Lock()
	defer o.mu.Unlock()
	views := make([]JobView, 0, len(o.jobs))
	for _, job := range o.jobs {
		views = append(views, sanitize(job))
	}
	return views
}

// Stop raises the cancel latch and eagerly transitions the job and its
// non-terminal nodes to cancelled. In-flight remote commands are not
// interrupted; their runners observe the latch at the next step boundary.
func (o *Orchestrator) Stop(jobID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	job, ok := o.jobs[jobID]
	if !ok {
		return errors.NewNotFound("job", jobID)
	}
	switch job.Status {
	case JobPending, JobRunning, JobCancelling:
	default:
		return errors.NewJobNotCancelable(
			fmt.Sprintf("job %s is %s and cannot be stopped", jobID, job.Status))
	}

	job.raiseCancel()
	job.Status = JobCancelled
	job.UpdatedAt = utcNow()
	for _, node := range job.Nodes {
		switch node.Status {
		case NodePending, NodeRunning:
			node.Status = NodeCancelled
			if node.CompletedAt == nil {
				now := time.Now().UTC()
				node.CompletedAt = &now
			}
		}
	}
	klog.Infof("job %s marked cancelled", jobID)
	if o.bus != nil {
		o.bus.PublishJobStatusChange(jobID, JobCancelled, "")
	}
	return nil
}

// runJob is the worker that owns one job for its whole lifetime.
func (o *Orchestrator) runJob(jobID string) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return
	}
	if channel.IsChannelClosed(job.cancelled) {
		o.mu.Unlock()
		return
	}
	job.Status = JobRunning
	job.UpdatedAt = utcNow()
	nodes := job.Nodes
	tests := job.Tests
	dcgmLevel := job.DcgmLevel
	cancelled := job.cancelled
	o.mu.Unlock()

	if o.bus != nil {
		o.bus.PublishJobStatusChange(jobID, JobRunning, "")
	}

	fanout := len(nodes)
	if fanout > maxNodeFanout {
		fanout = maxNodeFanout
	}
	sem := make(chan struct{}, fanout)
	done := make(chan struct{}, len(nodes))

	for _, node := range nodes {
		go func(node *Node) {
			defer func() { done <- struct{}{} }()
			sem <- struct{}{}
			defer func() { <-sem }()
			o.runNode(jobID, node, tests, dcgmLevel, cancelled)
		}(node)
	}

	for range nodes {
		<-done
		if channel.IsChannelClosed(cancelled) {
			klog.Infof("job %s cancelled, not awaiting remaining runners", jobID)
			o.finalizeCancelled(jobID)
			return
		}
	}

	o.mu.Lock()
	job, ok = o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return
	}
	job.UpdatedAt = utcNow()
	if channel.IsChannelClosed(cancelled) {
		o.mu.Unlock()
		o.finalizeCancelled(jobID)
		return
	}
	status := JobCompleted
	for _, node := range job.Nodes {
		if node.Status != NodePassed {
			status = JobFailed
			break
		}
	}
	job.Status = status
	o.mu.Unlock()

	klog.Infof("job %s finished with status %s", jobID, status)
	if o.bus != nil {
		o.bus.PublishJobStatusChange(jobID, status, "")
	}
}

// runNode runs one node through the engine and merges the outcome back into
// the job record.
func (o *Orchestrator) runNode(jobID string, node *Node, tests []string, dcgmLevel int, cancelled chan struct{}) {
	o.mu.Lock()
	node.Status = NodeRunning
	now := time.Now().UTC()
	node.StartedAt = &now
	conn := node.connection
	alias := node.Alias
	o.mu.Unlock()

	outcome := o.runner.RunNode(engine.NodeRequest{
		Alias:      alias,
		Connection: conn,
		Tests:      tests,
		DcgmLevel:  dcgmLevel,
	}, cancelled)

	o.mu.Lock()
	defer o.mu.Unlock()
	node.Results = outcome.Results
	node.GpuType = outcome.GpuType
	node.GpuList = outcome.GpuList
	node.ExecutionLog = outcome.ExecutionLog
	// the cancellation path may have already finalized this node
	if node.Status == NodeRunning {
		node.Status = string(outcome.Status)
	}
	if node.CompletedAt == nil {
		completed := time.Now().UTC()
		node.CompletedAt = &completed
	}
	klog.Infof("job %s node %s finished with status %s", jobID, alias, node.Status)
}

func (o *Orchestrator) finalizeCancelled(jobID string) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	if !ok {
		o.mu.Unlock()
		return
	}
	job.Status = JobCancelled
	job.UpdatedAt = utcNow()
	for _, node := range job.Nodes {
		switch node.Status {
		case NodePending, NodeRunning:
			node.Status = NodeCancelled
			if node.CompletedAt == nil {
				now := time.Now().UTC()
				node.CompletedAt = &now
			}
		}
	}
	o.mu.Unlock()
	if o.bus != nil {
		o.bus.PublishJobStatusChange(jobID, JobCancelled, "")
	}
}

func sanitize(job *Job) JobView {
	view := JobView{
		JobID:     job.JobID,
		JobName:   job.JobName,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
		Status:    job.Status,
		Tests:     append([]string(nil), job.Tests...),
		DcgmLevel: job.DcgmLevel,
		Cancelled: channel.IsChannelClosed(job.cancelled),
	}
	for _, node := range job.Nodes {
		view.Nodes = append(view.Nodes, NodeView{
			NodeID:       node.NodeID,
			Alias:        node.Alias,
			Host:         node.Host,
			Port:         node.Port,
			Username:     node.Username,
			Status:       node.Status,
			StartedAt:    node.StartedAt,
			CompletedAt:  node.CompletedAt,
			GpuType:      node.GpuType,
			GpuList:      append([]string(nil), node.GpuList...),
			Results:      node.Results,
			ExecutionLog: node.ExecutionLog,
		})
	}
	return view
}
