/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"github.com/gin-gonic/gin"

	"github.com/AMD-AIG-AIMA/GHX/pkg/config"
)

func (h *Handler) GetGpuBenchmarks(c *gin.Context) {
	handle(c, h.getGpuBenchmarks)
}

func (h *Handler) getGpuBenchmarks(_ *gin.Context) (interface{}, error) {
	return gin.H{
		"benchmarks": h.catalog.View(),
		"source":     config.GetBenchmarkFile(),
	}, nil
}
