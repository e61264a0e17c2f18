/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"fmt"
	"io"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	ghxerrors "github.com/AMD-AIG-AIMA/GHX/pkg/errors"
)

// Stream is the server-sent-event feed of job status changes and result
// updates. The subscription lives as long as the client connection.
func (h *Handler) Stream(c *gin.Context) {
	if h.bus == nil {
		AbortWithApiError(c, ghxerrors.NewInternalError("the event bus is not available"))
		return
	}
	ch := h.bus.Subscribe()
	defer h.bus.Unsubscribe(ch)

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case data, ok := <-ch:
			if !ok {
				return false
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				klog.V(4).Infof("event stream write failed: %v", err)
				return false
			}
			return true
		}
	})
}
