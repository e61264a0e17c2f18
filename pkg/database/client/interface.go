/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"time"

	sqrl "github.com/Masterminds/squirrel"
)

// DiagnosticJobInterface covers the diagnostic_jobs table.
type DiagnosticJobInterface interface {
	GetDiagnosticJob(ctx context.Context, jobId string) (*DiagnosticJob, error)
	UpsertDiagnosticJob(ctx context.Context, job *DiagnosticJob) error
	UpdateDiagnosticJobStatus(ctx context.Context, jobId, status string) error
	CompleteDiagnosticJob(ctx context.Context, jobId string) error
	SelectDiagnosticJobs(ctx context.Context, query sqrl.Sqlizer, sortBy, order string, limit, offset int) ([]*DiagnosticJob, error)
	CountDiagnosticJobs(ctx context.Context, query sqrl.Sqlizer) (int, error)
	DeleteExpiredDiagnosticJobs(ctx context.Context, now time.Time) (int64, error)
}

// DiagnosticResultInterface covers the diagnostic_results table.
type DiagnosticResultInterface interface {
	GetDiagnosticResult(ctx context.Context, jobId, nodeName string) (*DiagnosticResult, error)
	HasResultForNode(ctx context.Context, nodeName string) (bool, error)
	UpsertDiagnosticResult(ctx context.Context, result *DiagnosticResult) error
	SelectDiagnosticResults(ctx context.Context, query sqrl.Sqlizer, sortBy, order string, limit, offset int) ([]*DiagnosticResult, error)
	CountDiagnosticResults(ctx context.Context, query sqrl.Sqlizer) (int, error)
	DeleteExpiredDiagnosticResults(ctx context.Context, now time.Time) (int64, error)
}

// GpuInspectionInterface covers the gpu_inspections history table.
type GpuInspectionInterface interface {
	HasGpuInspectionForFile(ctx context.Context, filePath string) (bool, error)
	InsertGpuInspection(ctx context.Context, inspection *GpuInspection) error
	SelectGpuInspections(ctx context.Context, query sqrl.Sqlizer, sortBy, order string, limit, offset int) ([]*GpuInspection, error)
	CountGpuInspections(ctx context.Context, query sqrl.Sqlizer) (int, error)
	DeleteExpiredGpuInspections(ctx context.Context, now time.Time) (int64, error)
}

// Interface is the full database surface the rest of the service depends
// on.
type Interface interface {
	DiagnosticJobInterface
	DiagnosticResultInterface
	GpuInspectionInterface
	Close()
}

var _ Interface = &Client{}
