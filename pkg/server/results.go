/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"encoding/json"
	"strings"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"

	dbclient "github.com/AMD-AIG-AIMA/GHX/pkg/database/client"
	dbutils "github.com/AMD-AIG-AIMA/GHX/pkg/database/utils"
	ghxerrors "github.com/AMD-AIG-AIMA/GHX/pkg/errors"
)

type resultResponseItem struct {
	JobId            string          `json:"jobId"`
	NodeName         string          `json:"nodeName"`
	JobType          string          `json:"jobType"`
	GpuType          string          `json:"gpuType,omitempty"`
	EnabledTests     json.RawMessage `json:"enabledTests,omitempty"`
	DcgmLevel        int             `json:"dcgmLevel"`
	InspectionResult string          `json:"inspectionResult,omitempty"`
	PerformancePass  bool            `json:"performancePass"`
	HealthPass       bool            `json:"healthPass"`
	ExecutionTime    string          `json:"executionTime,omitempty"`
	ExecutionLog     string          `json:"executionLog,omitempty"`
	BenchmarkData    json.RawMessage `json:"benchmarkData,omitempty"`
	TestResults      json.RawMessage `json:"testResults,omitempty"`
	CreatedAt        string          `json:"createdAt,omitempty"`
	UpdatedAt        string          `json:"updatedAt,omitempty"`
}

type listResultsQuery struct {
	JobId    string `form:"jobId"`
	NodeName string `form:"nodeName"`
	Result   string `form:"result"`
	SortBy   string `form:"sortBy"`
	Order    string `form:"order"`
	Limit    int    `form:"limit"`
	Offset   int    `form:"offset"`
}

type listResultsResponse struct {
	Items      []*resultResponseItem `json:"items"`
	TotalCount int                   `json:"totalCount"`
}

func (h *Handler) ListResults(c *gin.Context) {
	handle(c, h.listResults)
}

func (h *Handler) listResults(c *gin.Context) (interface{}, error) {
	if h.dbClient == nil {
		return nil, ghxerrors.NewInternalError("the database function is not enabled")
	}
	query, err := parseListQuery(c)
	if err != nil {
		return nil, err
	}

	dbTags := dbclient.GetDiagnosticResultFieldTags()
	dbSql := sqrl.And{}
	if jobId := strings.TrimSpace(query.JobId); jobId != "" {
		dbSql = append(dbSql, sqrl.Eq{dbclient.GetFieldTag(dbTags, "JobId"): jobId})
	}
	if node := strings.TrimSpace(query.NodeName); node != "" {
		dbSql = append(dbSql, sqrl.Eq{dbclient.GetFieldTag(dbTags, "NodeName"): node})
	}
	if result := strings.TrimSpace(query.Result); result != "" {
		dbSql = append(dbSql, sqrl.Eq{dbclient.GetFieldTag(dbTags, "InspectionResult"): result})
	}

	ctx := c.Request.Context()
	rows, err := h.dbClient.SelectDiagnosticResults(ctx, dbSql, query.SortBy, query.Order, query.Limit, query.Offset)
	if err != nil {
		return nil, err
	}
	count, err := h.dbClient.CountDiagnosticResults(ctx, dbSql)
	if err != nil {
		return nil, err
	}
	rsp := &listResultsResponse{Items: []*resultResponseItem{}, TotalCount: count}
	for _, row := range rows {
		rsp.Items = append(rsp.Items, cvtToResultResponse(row))
	}
	return rsp, nil
}

type inspectionResponseItem struct {
	NodeName         string          `json:"nodeName"`
	GpuType          string          `json:"gpuType,omitempty"`
	InspectionResult string          `json:"inspectionResult,omitempty"`
	PerformancePass  bool            `json:"performancePass"`
	HealthPass       bool            `json:"healthPass"`
	ExecutionTime    string          `json:"executionTime,omitempty"`
	TestResults      json.RawMessage `json:"testResults,omitempty"`
	FilePath         string          `json:"filePath"`
	CreatedAt        string          `json:"createdAt,omitempty"`
}

type listInspectionsResponse struct {
	Items      []*inspectionResponseItem `json:"items"`
	TotalCount int                       `json:"totalCount"`
}

func (h *Handler) ListInspections(c *gin.Context) {
	handle(c, h.listInspections)
}

func (h *Handler) listInspections(c *gin.Context) (interface{}, error) {
	if h.dbClient == nil {
		return nil, ghxerrors.NewInternalError("the database function is not enabled")
	}
	query, err := parseListQuery(c)
	if err != nil {
		return nil, err
	}

	dbTags := dbclient.GetGpuInspectionFieldTags()
	dbSql := sqrl.And{}
	if node := strings.TrimSpace(query.NodeName); node != "" {
		dbSql = append(dbSql, sqrl.Eq{dbclient.GetFieldTag(dbTags, "NodeName"): node})
	}
	if result := strings.TrimSpace(query.Result); result != "" {
		dbSql = append(dbSql, sqrl.Eq{dbclient.GetFieldTag(dbTags, "InspectionResult"): result})
	}

	ctx := c.Request.Context()
	rows, err := h.dbClient.SelectGpuInspections(ctx, dbSql, query.SortBy, query.Order, query.Limit, query.Offset)
	if err != nil {
		return nil, err
	}
	count, err := h.dbClient.CountGpuInspections(ctx, dbSql)
	if err != nil {
		return nil, err
	}
	rsp := &listInspectionsResponse{Items: []*inspectionResponseItem{}, TotalCount: count}
	for _, row := range rows {
		rsp.Items = append(rsp.Items, &inspectionResponseItem{
			NodeName:         row.NodeName,
			GpuType:          dbutils.ParseNullString(row.GpuType),
			InspectionResult: dbutils.ParseNullString(row.InspectionResult),
			PerformancePass:  row.PerformancePass,
			HealthPass:       row.HealthPass,
			ExecutionTime:    dbutils.ParseNullString(row.ExecutionTime),
			TestResults:      rawJSON(row.TestResults),
			FilePath:         row.FilePath,
			CreatedAt:        dbutils.ParseNullTimeToString(row.CreatedAt),
		})
	}
	return rsp, nil
}

func parseListQuery(c *gin.Context) (*listResultsQuery, error) {
	query := &listResultsQuery{}
	if err := c.ShouldBindWith(query, binding.Query); err != nil {
		return nil, ghxerrors.NewBadRequest("invalid query: " + err.Error())
	}
	if query.Limit <= 0 {
		query.Limit = defaultQueryLimit
	}
	if query.Order == "" {
		query.Order = dbclient.DESC
	}
	if query.SortBy == "" {
		query.SortBy = dbclient.CreatedTime
	}
	return query, nil
}

func cvtToResultResponse(row *dbclient.DiagnosticResult) *resultResponseItem {
	return &resultResponseItem{
		JobId:            row.JobId,
		NodeName:         row.NodeName,
		JobType:          row.JobType,
		GpuType:          dbutils.ParseNullString(row.GpuType),
		EnabledTests:     rawJSON(row.EnabledTests),
		DcgmLevel:        row.DcgmLevel,
		InspectionResult: dbutils.ParseNullString(row.InspectionResult),
		PerformancePass:  row.PerformancePass,
		HealthPass:       row.HealthPass,
		ExecutionTime:    dbutils.ParseNullString(row.ExecutionTime),
		ExecutionLog:     dbutils.ParseNullString(row.ExecutionLog),
		BenchmarkData:    rawJSON(row.BenchmarkData),
		TestResults:      rawJSON(row.TestResults),
		CreatedAt:        dbutils.ParseNullTimeToString(row.CreatedAt),
		UpdatedAt:        dbutils.ParseNullTimeToString(row.UpdatedAt),
	}
}
