/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strings"

	sqrl "github.com/Masterminds/squirrel"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/GHX/pkg/cluster"
	dbclient "github.com/AMD-AIG-AIMA/GHX/pkg/database/client"
	dbutils "github.com/AMD-AIG-AIMA/GHX/pkg/database/utils"
	ghxerrors "github.com/AMD-AIG-AIMA/GHX/pkg/errors"
	"github.com/AMD-AIG-AIMA/GHX/pkg/orchestrator"
)

const defaultQueryLimit = 50

// createJobRequest covers both execution modes. selectedNodes targets
// cluster nodes by name; nodes carries SSH connections for direct runs.
type createJobRequest struct {
	JobName       string                        `json:"jobName,omitempty"`
	SelectedNodes []string                      `json:"selectedNodes,omitempty"`
	Nodes         []orchestrator.NodeSubmission `json:"nodes,omitempty"`
	EnabledTests  []string                      `json:"enabledTests"`
	DcgmLevel     int                           `json:"dcgmLevel,omitempty"`
}

type createJobResponse struct {
	JobId       string   `json:"jobId"`
	Mode        string   `json:"mode"`
	CreatedJobs []string `json:"createdJobs,omitempty"`
}

func (h *Handler) CreateJob(c *gin.Context) {
	handle(c, h.createJob)
}

func (h *Handler) createJob(c *gin.Context) (interface{}, error) {
	req := createJobRequest{}
	if _, err := ParseRequestBody(c.Request, &req); err != nil {
		return nil, err
	}
	switch {
	case len(req.SelectedNodes) > 0 && len(req.Nodes) > 0:
		return nil, ghxerrors.NewBadRequest("selectedNodes and nodes are mutually exclusive")
	case len(req.SelectedNodes) > 0:
		if h.clusterMgr == nil {
			return nil, ghxerrors.NewNotImplemented("cluster mode is not available on this deployment")
		}
		jobID, created, err := h.clusterMgr.CreateJob(c.Request.Context(), cluster.CreateRequest{
			SelectedNodes: req.SelectedNodes,
			EnabledTests:  req.EnabledTests,
			DcgmLevel:     req.DcgmLevel,
		})
		if err != nil {
			return nil, err
		}
		return &createJobResponse{JobId: jobID, Mode: "cluster", CreatedJobs: created}, nil
	case len(req.Nodes) > 0:
		jobID, err := h.orchestrator.Submit(orchestrator.SubmitRequest{
			JobName:   req.JobName,
			Nodes:     req.Nodes,
			Tests:     req.EnabledTests,
			DcgmLevel: req.DcgmLevel,
		})
		if err != nil {
			return nil, err
		}
		return &createJobResponse{JobId: jobID, Mode: "ssh"}, nil
	default:
		return nil, ghxerrors.NewBadRequest("either selectedNodes or nodes must be provided")
	}
}

type jobResponseItem struct {
	JobId         string          `json:"jobId"`
	JobName       string          `json:"jobName,omitempty"`
	JobType       string          `json:"jobType"`
	SelectedNodes json.RawMessage `json:"selectedNodes,omitempty"`
	EnabledTests  json.RawMessage `json:"enabledTests,omitempty"`
	DcgmLevel     int             `json:"dcgmLevel"`
	Status        string          `json:"status"`
	ErrorMessage  string          `json:"errorMessage,omitempty"`
	CreatedAt     string          `json:"createdAt,omitempty"`
	StartedAt     string          `json:"startedAt,omitempty"`
	CompletedAt   string          `json:"completedAt,omitempty"`
	UpdatedAt     string          `json:"updatedAt,omitempty"`
}

type getJobResponse struct {
	Job     *jobResponseItem      `json:"job"`
	Results []*resultResponseItem `json:"results,omitempty"`
}

func (h *Handler) GetJob(c *gin.Context) {
	handle(c, h.getJob)
}

func (h *Handler) getJob(c *gin.Context) (interface{}, error) {
	jobID := c.Param(jobIdParam)
	if view, err := h.orchestrator.Get(jobID); err == nil {
		return view, nil
	}
	if h.dbClient == nil {
		return nil, ghxerrors.NewNotFound("job", jobID)
	}
	ctx := c.Request.Context()
	job, err := h.dbClient.GetDiagnosticJob(ctx, jobID)
	if err != nil {
		if stderrors.Is(err, sql.ErrNoRows) {
			return nil, ghxerrors.NewNotFound("job", jobID)
		}
		return nil, err
	}
	dbTags := dbclient.GetDiagnosticResultFieldTags()
	results, err := h.dbClient.SelectDiagnosticResults(ctx,
		sqrl.Eq{dbclient.GetFieldTag(dbTags, "JobId"): jobID},
		dbclient.CreatedTime, dbclient.DESC, defaultQueryLimit, 0)
	if err != nil {
		return nil, err
	}
	rsp := &getJobResponse{Job: cvtToJobResponse(job)}
	for _, result := range results {
		rsp.Results = append(rsp.Results, cvtToResultResponse(result))
	}
	return rsp, nil
}

type listJobsQuery struct {
	JobType string `form:"jobType"`
	Status  string `form:"status"`
	SortBy  string `form:"sortBy"`
	Order   string `form:"order"`
	Limit   int    `form:"limit"`
	Offset  int    `form:"offset"`
}

type listJobsResponse struct {
	Items      []*jobResponseItem     `json:"items"`
	TotalCount int                    `json:"totalCount"`
	SshJobs    []orchestrator.JobView `json:"sshJobs,omitempty"`
}

func (h *Handler) ListJobs(c *gin.Context) {
	handle(c, h.listJobs)
}

func (h *Handler) listJobs(c *gin.Context) (interface{}, error) {
	query := listJobsQuery{}
	if err := c.ShouldBindWith(&query, binding.Query); err != nil {
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

	result := &listJobsResponse{
		Items:   []*jobResponseItem{},
		SshJobs: h.orchestrator.List(),
	}
	if h.dbClient == nil {
		return result, nil
	}

	dbTags := dbclient.GetDiagnosticJobFieldTags()
	dbSql := sqrl.And{}
	if jobType := strings.TrimSpace(query.JobType); jobType != "" {
		dbSql = append(dbSql, sqrl.Eq{dbclient.GetFieldTag(dbTags, "JobType"): jobType})
	}
	if status := strings.TrimSpace(query.Status); status != "" {
		dbSql = append(dbSql, sqrl.Eq{dbclient.GetFieldTag(dbTags, "Status"): status})
	}

	ctx := c.Request.Context()
	jobs, err := h.dbClient.SelectDiagnosticJobs(ctx, dbSql, query.SortBy, query.Order, query.Limit, query.Offset)
	if err != nil {
		return nil, err
	}
	count, err := h.dbClient.CountDiagnosticJobs(ctx, dbSql)
	if err != nil {
		return nil, err
	}
	for _, job := range jobs {
		result.Items = append(result.Items, cvtToJobResponse(job))
	}
	result.TotalCount = count
	return result, nil
}

func (h *Handler) StopJob(c *gin.Context) {
	handle(c, h.stopJob)
}

func (h *Handler) stopJob(c *gin.Context) (interface{}, error) {
	jobID := c.Param(jobIdParam)
	err := h.orchestrator.Stop(jobID)
	if err == nil {
		return gin.H{"jobId": jobID, "status": orchestrator.JobCancelled}, nil
	}
	if !ghxerrors.IsNotFound(err) {
		return nil, err
	}
	if h.clusterMgr == nil {
		return nil, err
	}
	klog.V(2).Infof("job %s not registered in ssh mode, trying cluster mode", jobID)
	if err = h.clusterMgr.StopJob(c.Request.Context(), jobID); err != nil {
		return nil, err
	}
	return gin.H{"jobId": jobID, "status": "cancelled"}, nil
}

func cvtToJobResponse(job *dbclient.DiagnosticJob) *jobResponseItem {
	return &jobResponseItem{
		JobId:         job.JobId,
		JobName:       dbutils.ParseNullString(job.JobName),
		JobType:       job.JobType,
		SelectedNodes: rawJSON(job.SelectedNodes),
		EnabledTests:  rawJSON(job.EnabledTests),
		DcgmLevel:     job.DcgmLevel,
		Status:        job.Status,
		ErrorMessage:  dbutils.ParseNullString(job.ErrorMessage),
		CreatedAt:     dbutils.ParseNullTimeToString(job.CreatedAt),
		StartedAt:     dbutils.ParseNullTimeToString(job.StartedAt),
		CompletedAt:   dbutils.ParseNullTimeToString(job.CompletedAt),
		UpdatedAt:     dbutils.ParseNullTimeToString(job.UpdatedAt),
	}
}

// rawJSON passes stored JSON text through untouched; non-JSON text is
// re-marshaled as a plain string.
func rawJSON(value sql.NullString) json.RawMessage {
	if !value.Valid || value.String == "" {
		return nil
	}
	if json.Valid([]byte(value.String)) {
		return json.RawMessage(value.String)
	}
	data, err := json.Marshal(value.String)
	if err != nil {
		return nil
	}
	return data
}
