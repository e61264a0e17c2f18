/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/GHX/pkg/engine"
	ghxerrors "github.com/AMD-AIG-AIMA/GHX/pkg/errors"
	"github.com/AMD-AIG-AIMA/GHX/pkg/probe"
	"github.com/AMD-AIG-AIMA/GHX/pkg/sshexec"
)

func (h *Handler) TestConnection(c *gin.Context) {
	handle(c, h.testConnection)
}

func (h *Handler) testConnection(c *gin.Context) (interface{}, error) {
	conn := sshexec.Connection{}
	if _, err := ParseRequestBody(c.Request, &conn); err != nil {
		return nil, err
	}
	if err := validateConnection(&conn); err != nil {
		return nil, err
	}
	sess, err := h.probeDial(conn)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return probe.TestConnection(sess, h.catalog)
}

type checkCommandsRequest struct {
	sshexec.Connection
	Commands []string `json:"commands"`
}

func (h *Handler) CheckCommands(c *gin.Context) {
	handle(c, h.checkCommands)
}

func (h *Handler) checkCommands(c *gin.Context) (interface{}, error) {
	req := checkCommandsRequest{}
	if _, err := ParseRequestBody(c.Request, &req); err != nil {
		return nil, err
	}
	if err := validateConnection(&req.Connection); err != nil {
		return nil, err
	}
	if len(req.Commands) == 0 {
		return nil, ghxerrors.NewBadRequest("commands must not be empty")
	}
	sess, err := h.probeDial(req.Connection)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return probe.CheckCommands(sess, req.Commands)
}

type setupSSHTrustRequest struct {
	Nodes []sshexec.Connection `json:"nodes"`
}

func (h *Handler) SetupSSHTrust(c *gin.Context) {
	handle(c, h.setupSSHTrust)
}

func (h *Handler) setupSSHTrust(c *gin.Context) (interface{}, error) {
	req := setupSSHTrustRequest{}
	if _, err := ParseRequestBody(c.Request, &req); err != nil {
		return nil, err
	}
	for i := range req.Nodes {
		if err := validateConnection(&req.Nodes[i]); err != nil {
			return nil, err
		}
	}
	report, err := probe.SetupSSHTrust(h.probeDial, req.Nodes)
	if err != nil {
		// a partial report still carries the per-node statuses
		if report != nil {
			handleErrors(c, err)
			rsp := cvtToErrResponse(err)
			c.Status(rsp.HttpCode)
			return gin.H{
				"errorCode":    rsp.ErrorCode,
				"errorMessage": rsp.ErrorMessage,
				"report":       report,
			}, nil
		}
		return nil, err
	}
	return report, nil
}

type multiNodeNcclRequest struct {
	HeadNode        sshexec.Connection `json:"headNode"`
	Hosts           []string           `json:"hosts"`
	HostfileContent string             `json:"hostfileContent,omitempty"`
	MpiParams       engine.MpiParams   `json:"mpiParams,omitempty"`
}

func (h *Handler) MultiNodeNccl(c *gin.Context) {
	handle(c, h.multiNodeNccl)
}

func (h *Handler) multiNodeNccl(c *gin.Context) (interface{}, error) {
	req := multiNodeNcclRequest{}
	if _, err := ParseRequestBody(c.Request, &req); err != nil {
		return nil, err
	}
	if err := validateConnection(&req.HeadNode); err != nil {
		return nil, err
	}
	if len(req.Hosts) < 2 {
		return nil, ghxerrors.NewBadRequest(
			fmt.Sprintf("multi-node nccl requires at least 2 hosts, got %d", len(req.Hosts)))
	}
	sess, err := h.engineDial(req.HeadNode)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	klog.Infof("multi-node nccl requested from head node %s over hosts %v", req.HeadNode.Host, req.Hosts)
	return engine.RunMultiNodeNccl(sess, h.assets, req.Hosts, req.HostfileContent, req.MpiParams)
}

func validateConnection(conn *sshexec.Connection) error {
	if conn.Host == "" || conn.Username == "" || conn.Auth.Type == "" {
		return ghxerrors.NewBadRequest("host, username and auth are required")
	}
	return nil
}
