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
	TDiagnosticResult = "diagnostic_results"
)

var (
	getDiagnosticResultCmd = fmt.Sprintf(
		`SELECT * FROM %s WHERE job_id = $1 AND node_name = $2 LIMIT 1`, TDiagnosticResult)
	countResultsForNodeCmd = fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE node_name = $1`, TDiagnosticResult)
	insertDiagnosticResultFormat = `INSERT INTO ` + TDiagnosticResult + ` (%s) VALUES (%s)`
	// created_at is deliberately absent so updates keep the original value.
	updateDiagnosticResultCmd = fmt.Sprintf(`UPDATE %s
		SET job_type = :job_type,
		    gpu_type = :gpu_type,
		    enabled_tests = :enabled_tests,
		    dcgm_level = :dcgm_level,
		    inspection_result = :inspection_result,
		    performance_pass = :performance_pass,
		    health_pass = :health_pass,
		    execution_time = :execution_time,
		    execution_log = :execution_log,
		    benchmark_data = :benchmark_data,
		    test_results = :test_results,
		    file_path = :file_path,
		    updated_at = :updated_at,
		    expires_at = :expires_at
		WHERE job_id = :job_id AND node_name = :node_name`, TDiagnosticResult)
	deleteExpiredDiagnosticResultsCmd = fmt.Sprintf(
		`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at < $1`, TDiagnosticResult)
)

// GetDiagnosticResult performs the GetDiagnosticResult operation.
func (c *Client) GetDiagnosticResult(ctx context.Context, jobId, nodeName string) (*DiagnosticResult, error) {
	db, err := c.getDB()
	if err != nil {
		return nil, err
	}
	result := &DiagnosticResult{}
	err = db.GetContext(ctx, result, getDiagnosticResultCmd, jobId, nodeName)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// HasResultForNode reports whether any row exists for the node, regardless
// of which job produced it.
func (c *Client) HasResultForNode(ctx context.Context, nodeName string) (bool, error) {
	db, err := c.getDB()
	if err != nil {
		return false, err
	}
	var cnt int
	if err = db.GetContext(ctx, &cnt, countResultsForNodeCmd, nodeName); err != nil {
		return false, err
	}
	return cnt > 0, nil
}

// UpsertDiagnosticResult performs the UpsertDiagnosticResult operation. The
// row is keyed by (job_id, node_name); an update keeps the row's original
// created_at.
func (c *Client) UpsertDiagnosticResult(ctx context.Context, result *DiagnosticResult) error {
	if result == nil {
		return ghxerrors.NewBadRequest("input is empty")
	}
	db, err := c.getDB()
	if err != nil {
		return err
	}
	if _, err = c.GetDiagnosticResult(ctx, result.JobId, result.NodeName); err == nil {
		if _, err = db.NamedExecContext(ctx, updateDiagnosticResultCmd, result); err != nil {
			klog.ErrorS(err, "failed to upsert diagnostic result db")
			return err
		}
	} else {
		_, err = db.NamedExecContext(ctx, genInsertCommand(*result, insertDiagnosticResultFormat, "id"), result)
		if err != nil {
			klog.ErrorS(err, "failed to insert diagnostic result db")
			return err
		}
	}
	return nil
}

// SelectDiagnosticResults performs the SelectDiagnosticResults operation.
func (c *Client) SelectDiagnosticResults(ctx context.Context, query sqrl.Sqlizer, sortBy, order string, limit, offset int) ([]*DiagnosticResult, error) {
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
		From(TDiagnosticResult).
		Where(query).
		OrderBy(orderBy...).
		Limit(uint64(limit)).
		Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, err
	}

	var results []*DiagnosticResult
	if c.RequestTimeout > 0 {
		ctx2, cancel := context.WithTimeout(ctx, c.RequestTimeout)
		defer cancel()
		err = db.SelectContext(ctx2, &results, sql, args...)
	} else {
		err = db.SelectContext(ctx, &results, sql, args...)
	}
	return results, err
}

// CountDiagnosticResults returns the count of resources.
func (c *Client) CountDiagnosticResults(ctx context.Context, query sqrl.Sqlizer) (int, error) {
	db, err := c.getDB()
	if err != nil {
		return 0, err
	}
	sql, args, err := sqrl.Select("COUNT(*)").PlaceholderFormat(sqrl.Dollar).From(TDiagnosticResult).Where(query).ToSql()
	if err != nil {
		return 0, err
	}
	var cnt int
	err = db.GetContext(ctx, &cnt, sql, args...)
	return cnt, err
}

// DeleteExpiredDiagnosticResults removes rows whose expires_at is in the
// past.
func (c *Client) DeleteExpiredDiagnosticResults(ctx context.Context, now time.Time) (int64, error) {
	db, err := c.getDB()
	if err != nil {
		return 0, err
	}
	result, err := db.ExecContext(ctx, deleteExpiredDiagnosticResultsCmd, now)
	if err != nil {
		klog.ErrorS(err, "failed to delete expired diagnostic results")
		return 0, err
	}
	return result.RowsAffected()
}
