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
	TGpuInspection = "gpu_inspections"
)

var (
	countInspectionByFileCmd = fmt.Sprintf(
		`SELECT COUNT(*) FROM %s WHERE file_path = $1`, TGpuInspection)
	insertGpuInspectionFormat = `INSERT INTO ` + TGpuInspection + ` (%s) VALUES (%s)`
	deleteExpiredGpuInspectionsCmd = fmt.Sprintf(
		`DELETE FROM %s WHERE expires_at IS NOT NULL AND expires_at < $1`, TGpuInspection)
)

// HasGpuInspectionForFile reports whether the artifact at the given path was
// already ingested.
func (c *Client) HasGpuInspectionForFile(ctx context.Context, filePath string) (bool, error) {
	db, err := c.getDB()
	if err != nil {
		return false, err
	}
	var cnt int
	if err = db.GetContext(ctx, &cnt, countInspectionByFileCmd, filePath); err != nil {
		return false, err
	}
	return cnt > 0, nil
}

// InsertGpuInspection appends one history row. Artifacts already ingested,
// identified by file_path, are skipped.
func (c *Client) InsertGpuInspection(ctx context.Context, inspection *GpuInspection) error {
	if inspection == nil {
		return ghxerrors.NewBadRequest("input is empty")
	}
	db, err := c.getDB()
	if err != nil {
		return err
	}
	exists, err := c.HasGpuInspectionForFile(ctx, inspection.FilePath)
	if err != nil {
		return err
	}
	if exists {
		klog.V(4).Infof("gpu inspection %s already ingested, skipping", inspection.FilePath)
		return nil
	}
	_, err = db.NamedExecContext(ctx, genInsertCommand(*inspection, insertGpuInspectionFormat, "id"), inspection)
	if err != nil {
		klog.ErrorS(err, "failed to insert gpu inspection db")
		return err
	}
	return nil
}

// SelectGpuInspections performs the SelectGpuInspections operation.
func (c *Client) SelectGpuInspections(ctx context.Context, query sqrl.Sqlizer, sortBy, order string, limit, offset int) ([]*GpuInspection, error) {
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
		From(TGpuInspection).
		Where(query).
		OrderBy(orderBy...).
		Limit(uint64(limit)).
		Offset(uint64(offset)).ToSql()
	if err != nil {
		return nil, err
	}

	var inspections []*GpuInspection
	if c.RequestTimeout > 0 {
		ctx2, cancel := context.WithTimeout(ctx, c.RequestTimeout)
		defer cancel()
		err = db.SelectContext(ctx2, &inspections, sql, args...)
	} else {
		err = db.SelectContext(ctx, &inspections, sql, args...)
	}
	return inspections, err
}

// CountGpuInspections returns the count of resources.
func (c *Client) CountGpuInspections(ctx context.Context, query sqrl.Sqlizer) (int, error) {
	db, err := c.getDB()
	if err != nil {
		return 0, err
	}
	sql, args, err := sqrl.Select("COUNT(*)").PlaceholderFormat(sqrl.Dollar).From(TGpuInspection).Where(query).ToSql()
	if err != nil {
		return 0, err
	}
	var cnt int
	err = db.GetContext(ctx, &cnt, sql, args...)
	return cnt, err
}

// DeleteExpiredGpuInspections removes rows whose expires_at is in the past.
func (c *Client) DeleteExpiredGpuInspections(ctx context.Context, now time.Time) (int64, error) {
	db, err := c.getDB()
	if err != nil {
		return 0, err
	}
	result, err := db.ExecContext(ctx, deleteExpiredGpuInspectionsCmd, now)
	if err != nil {
		klog.ErrorS(err, "failed to delete expired gpu inspections")
		return 0, err
	}
	return result.RowsAffected()
}
