/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"context"
	"fmt"
	"time"

	sqrl "github.com/Masterminds/squirrel"
	"k8s.io/klog/v2"

	ghxerrors "github.com/AMD-AIG-AIMA/GHX/pkg/errors"
)

const (
	TDiagnosticJob = "diagnostic_jobs"
)

var (
	getDiagnosticJobCmd       = fmt.Sprintf(`SELECT * FROM %s WHERE job_id = $1 LIMIT 1`, TDiagnosticJob)
	insertDiagnosticJobFormat = `INSERT INTO ` + TDiagnosticJob + ` (%s) VALUES (%s)`
	updateDiagnosticJobCmd    = fmt.Sprintf(`UPDATE %s
		SET job_name = :job_name,
		    job_type = :job_type,
		    selected_nodes = :selected_nodes,
		    enabled_tests = :enabled_tests,
		    dcgm_level = :dcgm_level,
		    status = :status,
		    error_message = :error_message,
		    started_at = :started_at,
		    completed_at = :completed_at,
		    updated_at = :updated_at,
		    expires_at = :expires_at
		WHERE job_id = :job_id`, TDiagnosticJob)
	updateDiagnosticJobStatusCmd = fmt.Sprintf(`UPDATE %s
		SET status = $2,
		    updated_at = $3
		WHERE job_id = $1`, TDiagnosticJob)
	completeDiagnosticJobCmd = fmt.Sprintf(`UPDATE %s
		SET status = 'completed',
		    completed_at = $2,
		    updated_at = $2
		WHERE job_id = $1`, TDiagnosticJob)
	deleteExpiredDiagnosticJobsCmd = fmt.Sprintf(
		`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at < $1`, TDiagnosticJob)
)

// GetDiagnosticJob performs the GetDiagnosticJob operation.
func (c *Client) GetDiagnosticJob(ctx context.Context, jobId string) (*DiagnosticJob, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	job := &DiagnosticJob{}
	err = db.GetContext(ctx, job, getDiagnosticJobCmd, jobId)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// UpsertDiagnosticJob performs the UpsertDiagnosticJob operation. An update
// keeps the row's original created_at.
func (c *Client) UpsertDiagnosticJob(ctx context.Context, job *DiagnosticJob) error {
	if job == nil {
		return ghxerrors.NewBadRequest("input is empty")
	}
	db, err := c.getDB()
	if err != nil {
		return err
	}
	if _, err = c.GetDiagnosticJob(ctx, job.JobId); err == nil {
		if _, err = db.NamedExecContext(ctx, updateDiagnosticJobCmd, job); err != nil {
			klog.ErrorS(err, "failed to upsert diagnostic job db")
			return err
		}
	} else {
		_, err = db.NamedExecContext(ctx, genInsertCommand(*job, insertDiagnosticJobFormat, "id"), job)
		if err != nil {
			klog.ErrorS(err, "failed to insert diagnostic job db")
			return err
		}
	}
	return nil
}

// UpdateDiagnosticJobStatus moves one job to a new status without touching
// the rest of the row.
func (c *Client) UpdateDiagnosticJobStatus(ctx context.Context, jobId, status string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, updateDiagnosticJobStatusCmd, jobId, status, time.Now().UTC())
	if err != nil {
		klog.ErrorS(err, "failed to update diagnostic job status", "jobId", jobId, "status", status)
	}
	return err
}

// CompleteDiagnosticJob marks one job completed and stamps completed_at.
func (c *Client) CompleteDiagnosticJob(ctx context.Context, jobId string) error {
	db, err := c.getDB()
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, completeDiagnosticJobCmd, jobId, time.Now().UTC())
	if err != nil {
		klog.ErrorS(err, "failed to complete diagnostic job", "jobId", jobId)
	}
	return err
}

// SelectDiagnosticJobs performs the SelectDiagnosticJobs operation.
func (c *Client) SelectDiagnosticJobs(ctx context.Context, query sqrl.Sqlizer, sortBy, order string, limit, offset int) ([]*DiagnosticJob, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	orderBy := func() []string {
		var results []string
		if sortBy == "" || order == "" {
			return results
		}
		if order == DESC {
			results = append(results, fmt.Sprintf("%s desc", sortBy))
		} else {
			results = append(results, fmt.Sprintf("%s asc", sortBy))
		}
		return results
	}()
	sql, args, err := sqrl.Select("*").PlaceholderFormat(sqrl.Dollar).
		From(TDiagnosticJob).
		Where(query).
		OrderBy(orderBy...).
		Limit(uint64(limit)).
		Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, err
	}

	var jobs []*DiagnosticJob
	if c.RequestTimeout > 0 {
		ctx2, cancel := context.WithTimeout(ctx, c.RequestTimeout)
		defer cancel()
		err = db.SelectContext(ctx2, &jobs, sql, args...)
	} else {
		err = db.SelectContext(ctx, &jobs, sql, args...)
	}
	return jobs, err
}

// CountDiagnosticJobs returns the count of resources.
func (c *Client) CountDiagnosticJobs(ctx context.Context, query sqrl.Sqlizer) (int, error) {
	db, err := c.getDB()
	if err != nil {
		return 0, err
	}
	sql, args, err := sqrl.Select("COUNT(*)").PlaceholderFormat(sqrl.Dollar).From(TDiagnosticJob).Where(query).ToSql()
	if err != nil {
		return 0, err
	}
	var cnt int
	err = db.GetContext(ctx, &cnt, sql, args...)
	return cnt, err
}

// DeleteExpiredDiagnosticJobs removes rows whose expires_at is in the past.
func (c *Client) DeleteExpiredDiagnosticJobs(ctx context.Context, now time.Time) (int64, error) {
	db, err := c.getDB()
	if err != nil {
		return 0, err
	}
	result, err := db.ExecContext(ctx, deleteExpiredDiagnosticJobsCmd, now)
	if err != nil {
		klog.ErrorS(err, "failed to delete expired diagnostic jobs")
		return 0, err
	}
	return result.RowsAffected()
}
