/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package server is the HTTP surface of the inspection service: gin routes
// over the orchestrator (SSH mode), the cluster job manager (Kubernetes
// mode), the database store and the event stream.
package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AMD-AIG-AIMA/GHX/pkg/benchmark"
	"github.com/AMD-AIG-AIMA/GHX/pkg/cluster"
	dbclient "github.com/AMD-AIG-AIMA/GHX/pkg/database/client"
	"github.com/AMD-AIG-AIMA/GHX/pkg/engine"
	"github.com/AMD-AIG-AIMA/GHX/pkg/events"
	"github.com/AMD-AIG-AIMA/GHX/pkg/orchestrator"
	"github.com/AMD-AIG-AIMA/GHX/pkg/probe"
	"github.com/AMD-AIG-AIMA/GHX/pkg/sshexec"
)

var jsonContentType = "application/json; charset=utf-8"

type Handler struct {
	orchestrator *orchestrator.Orchestrator
	clusterMgr   *cluster.Manager
	dbClient     dbclient.Interface
	catalog      *benchmark.Catalog
	bus          *events.Bus
	assets       engine.Assets

	// session factories, swapped out by tests
	probeDial  probe.DialFunc
	engineDial func(conn sshexec.Connection) (engine.Session, error)
}

func NewHandler(orc *orchestrator.Orchestrator, clusterMgr *cluster.Manager,
	dbClient dbclient.Interface, catalog *benchmark.Catalog, bus *events.Bus,
	assets engine.Assets) *Handler {
	return &Handler{
		orchestrator: orc,
		clusterMgr:   clusterMgr,
		dbClient:     dbClient,
		catalog:      catalog,
		bus:          bus,
		assets:       assets,
		probeDial:    probe.Dial,
		engineDial: func(conn sshexec.Connection) (engine.Session, error) {
			return sshexec.Open(conn)
		},
	}
}

type handleFunc func(*gin.Context) (interface{}, error)

func handle(c *gin.Context, fn handleFunc) {
	rsp, err := fn(c)
	if err != nil {
		AbortWithApiError(c, err)
		return
	}
	code := http.StatusOK
	// If a status was previously set, use that status in the response.
	if c.Writer.Status() > 0 {
		code = c.Writer.Status()
	}
	switch rspType := rsp.(type) {
	case []byte:
		c.Data(code, jsonContentType, rspType)
	case string:
		c.Data(code, jsonContentType, []byte(rspType))
	default:
		c.JSON(code, rspType)
	}
}
