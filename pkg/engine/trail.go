/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package engine

import (
	"fmt"
	"strings"
	"time"

	"k8s.io/klog/v2"
)

// Trail accumulates the timestamped execution log of one node run. It is
// written by the owning runner only and needs no locking.
type Trail struct {
	alias string
	lines []string
}

func NewTrail(alias string) *Trail {
	return &Trail{alias: alias}
}

func (t *Trail) Logf(format string, args ...interface{}) {
	message := fmt.Sprintf(format, args...)
	timestamp := time.Now().UTC().Format("2006-01-02 15:04:05")
	t.lines = append(t.lines, fmt.Sprintf("%s - %s", timestamp, message))
	klog.Infof("[%s] %s", t.alias, message)
}

func (t *Trail) String() string {
	return strings.Join(t.lines, "\n")
}
