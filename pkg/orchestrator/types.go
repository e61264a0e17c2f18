/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package orchestrator

import (
	"sync"
	"time"

	"github.com/AMD-AIG-AIMA/GHX/pkg/engine"
	"github.com/AMD-AIG-AIMA/GHX/pkg/sshexec"
)

// Job statuses.
const (
	JobPending    = "pending"
	JobRunning    = "running"
	JobCancelling = "cancelling"
	JobCancelled  = "cancelled"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Node statuses.
const (
	NodePending   = "pending"
	NodeRunning   = "running"
	NodePassed    = "passed"
	NodeFailed    = "failed"
	NodeCancelled = "cancelled"
	NodeError     = "error"
)

// Node is the in-job record of one target host. The connection (with its
// secrets) is unexported and never serialized.
type Node struct {
	NodeID       string                        `json:"nodeId"`
	Alias        string                        `json:"alias"`
	Host         string                        `json:"host"`
	Port         int                           `json:"port"`
	Username     string                        `json:"username"`
	Status       string                        `json:"status"`
	StartedAt    *time.Time                    `json:"startedAt,omitempty"`
	CompletedAt  *time.Time                    `json:"completedAt,omitempty"`
	GpuType      string                        `json:"gpuType,omitempty"`
	GpuList      []string                      `json:"gpuList,omitempty"`
	Results      map[string]*engine.TestResult `json:"results,omitempty"`
	ExecutionLog string                        `json:"executionLog,omitempty"`

	connection sshexec.Connection
}

// Job is the mutable record of one inspection run. It is owned by its
// worker; all mutation happens under the orchestrator mutex.
type Job struct {
	JobID     string  `json:"jobId"`
	JobName   string  `json:"jobName"`
	CreatedAt string  `json:"createdAt"`
	UpdatedAt string  `json:"updatedAt"`
	Status    string  `json:"status"`
	Tests     []string `json:"tests"`
	DcgmLevel int      `json:"dcgmLevel"`
	Nodes     []*Node  `json:"nodes"`

	cancelled  chan struct{}
	cancelOnce sync.Once
}

// raiseCancel is a one-way latch; raising it twice is harmless.
func (j *Job) raiseCancel() {
	j.cancelOnce.Do(func() { close(j.cancelled) })
}

// NodeSubmission is one target host in a submit request.
type NodeSubmission struct {
	Host         string      `json:"host"`
	Port         int         `json:"port,omitempty"`
	Username     string      `json:"username"`
	Auth         sshexec.Auth `json:"auth"`
	SudoPassword string      `json:"sudoPassword,omitempty"`
	Alias        string      `json:"alias,omitempty"`
}

// SubmitRequest creates a new job.
type SubmitRequest struct {
	JobName   string           `json:"jobName,omitempty"`
	Nodes     []NodeSubmission `json:"nodes"`
	Tests     []string         `json:"tests"`
	DcgmLevel int              `json:"dcgmLevel,omitempty"`
}

// NodeView is the sanitized externally visible form of a Node.
type NodeView struct {
	NodeID       string                        `json:"nodeId"`
	Alias        string                        `json:"alias"`
	Host         string                        `json:"host"`
	Port         int                           `json:"port"`
	Username     string                        `json:"username"`
	Status       string                        `json:"status"`
	StartedAt    *time.Time                    `json:"startedAt,omitempty"`
	CompletedAt  *time.Time                    `json:"completedAt,omitempty"`
	GpuType      string                        `json:"gpuType,omitempty"`
	GpuList      []string                      `json:"gpuList,omitempty"`
	Results      map[string]*engine.TestResult `json:"results,omitempty"`
	ExecutionLog string                        `json:"executionLog,omitempty"`
}

// JobView is the sanitized externally visible form of a Job. The cancel
// latch is rendered as a boolean; auth secrets are elided entirely.
type JobView struct {
	JobID     string     `json:"jobId"`
	JobName   string     `json:"jobName"`
	CreatedAt string     `json:"createdAt"`
	UpdatedAt string     `json:"updatedAt"`
	Status    string     `json:"status"`
	Tests     []string   `json:"tests"`
	DcgmLevel int        `json:"dcgmLevel"`
	Cancelled bool       `json:"cancelled"`
	Nodes     []NodeView `json:"nodes"`
}
