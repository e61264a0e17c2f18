/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package client

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"

	"github.com/lib/pq"
)

const (
	DESC = "desc"
	ASC  = "asc"

	CreatedTime = "created_at"
)

// DiagnosticJob is the persisted record of one inspection job, manual or
// cluster-launched. selected_nodes, enabled_tests and error details are
// stored as JSON text.
type DiagnosticJob struct {
	Id            int64          `db:"id"`
	JobId         string         `db:"job_id"`
	JobName       sql.NullString `db:"job_name"`
	JobType       string         `db:"job_type"`
	SelectedNodes sql.NullString `db:"selected_nodes"`
	EnabledTests  sql.NullString `db:"enabled_tests"`
	DcgmLevel     int            `db:"dcgm_level"`
	Status        string         `db:"status"`
	ErrorMessage  sql.NullString `db:"error_message"`
	CreatedAt     pq.NullTime    `db:"created_at"`
	StartedAt     pq.NullTime    `db:"started_at"`
	CompletedAt   pq.NullTime    `db:"completed_at"`
	UpdatedAt     pq.NullTime    `db:"updated_at"`
	ExpiresAt     pq.NullTime    `db:"expires_at"`
}

// GetDiagnosticJobFieldTags returns the DiagnosticJobFieldTags value.
func GetDiagnosticJobFieldTags() map[string]string {
	j := DiagnosticJob{}
	return getFieldTags(j)
}

// DiagnosticResult is one node's outcome within a job. There is at most one
// row per (job_id, node_name); re-ingesting an artifact updates the row in
// place.
type DiagnosticResult struct {
	Id               int64          `db:"id"`
	JobId            string         `db:"job_id"`
	NodeName         string         `db:"node_name"`
	JobType          string         `db:"job_type"`
	GpuType          sql.NullString `db:"gpu_type"`
	EnabledTests     sql.NullString `db:"enabled_tests"`
	DcgmLevel        int            `db:"dcgm_level"`
	InspectionResult sql.NullString `db:"inspection_result"`
	PerformancePass  bool           `db:"performance_pass"`
	HealthPass       bool           `db:"health_pass"`
	ExecutionTime    sql.NullString `db:"execution_time"`
	ExecutionLog     sql.NullString `db:"execution_log"`
	BenchmarkData    sql.NullString `db:"benchmark_data"`
	TestResults      sql.NullString `db:"test_results"`
	FilePath         sql.NullString `db:"file_path"`
	CreatedAt        pq.NullTime    `db:"created_at"`
	UpdatedAt        pq.NullTime    `db:"updated_at"`
	ExpiresAt        pq.NullTime    `db:"expires_at"`
}

// GetDiagnosticResultFieldTags returns the DiagnosticResultFieldTags value.
func GetDiagnosticResultFieldTags() map[string]string {
	r := DiagnosticResult{}
	return getFieldTags(r)
}

// GpuInspection is one append-only entry of the scheduled inspection
// history. Rows are deduplicated by the artifact file path.
type GpuInspection struct {
	Id               int64          `db:"id"`
	NodeName         string         `db:"node_name"`
	GpuType          sql.NullString `db:"gpu_type"`
	InspectionResult sql.NullString `db:"inspection_result"`
	PerformancePass  bool           `db:"performance_pass"`
	HealthPass       bool           `db:"health_pass"`
	ExecutionTime    sql.NullString `db:"execution_time"`
	TestResults      sql.NullString `db:"test_results"`
	FilePath         string         `db:"file_path"`
	CreatedAt        pq.NullTime    `db:"created_at"`
	ExpiresAt        pq.NullTime    `db:"expires_at"`
}

// GetGpuInspectionFieldTags returns the GpuInspectionFieldTags value.
func GetGpuInspectionFieldTags() map[string]string {
	i := GpuInspection{}
	return getFieldTags(i)
}

// getFieldTags retrieves FieldTags for internal use.
func getFieldTags(obj interface{}) map[string]string {
	result := make(map[string]string)
	t := reflect.TypeOf(obj)
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		result[strings.ToLower(field.Name)] = field.Tag.Get("db")
	}
	return result
}

// genInsertCommand generates SQL command string using reflection
// Iterates through struct fields and builds column and value lists
// Skips fields with specified ignoreTag
// Returns formatted SQL command with columns and values
func genInsertCommand(obj interface{}, format, ignoreTag string) string {
	t := reflect.TypeOf(obj)
	columns := make([]string, 0, t.NumField())
	values := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := field.Tag.Get("db")
		if tag == ignoreTag {
			continue
		}
		columns = append(columns, tag)
		values = append(values, fmt.Sprintf(":%s", tag))
	}
	cmd := fmt.Sprintf(format, strings.Join(columns, ", "), strings.Join(values, ", "))
	return cmd
}

// GetFieldTag returns the FieldTag value.
func GetFieldTag(tags map[string]string, name string) string {
	name = strings.ToLower(name)
	return tags[name]
}
