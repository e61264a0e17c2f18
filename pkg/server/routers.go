/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"fmt"

	"github.com/gin-gonic/gin"
)

const jobIdParam = "jobId"

func InitRouters(e *gin.Engine, h *Handler) {
	e.GET("/healthz", h.Healthz)

	ssh := e.Group("/api/ssh")
	{
		ssh.POST("test-connection", h.TestConnection)
		ssh.POST("check-commands", h.CheckCommands)
	}

	cfg := e.Group("/api/config")
	{
		cfg.GET("gpu-benchmarks", h.GetGpuBenchmarks)
	}

	inspection := e.Group("/api/gpu-inspection")
	{
		inspection.POST("create-job", h.CreateJob)
		inspection.GET("jobs", h.ListJobs)
		inspection.GET(fmt.Sprintf("job/:%s", jobIdParam), h.GetJob)
		inspection.POST(fmt.Sprintf("stop-job/:%s", jobIdParam), h.StopJob)
		inspection.GET("results", h.ListResults)
		inspection.GET("history", h.ListInspections)
		inspection.POST("setup-ssh-trust", h.SetupSSHTrust)
		inspection.POST("multi-node-nccl", h.MultiNodeNccl)
		inspection.GET("stream", h.Stream)
	}
}

func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}
