/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package parser extracts scalar verdicts from the raw output of the GPU
// diagnostic tools. All functions are pure and never fail; an output that
// carries no usable measurement yields the zero value.
package parser

import (
	"strconv"
	"strings"
	"unicode"
)

// IBPassSentinel is printed by the IB health-check script when all of its
// sub-modules pass. Its presence dominates the script's exit code, which can
// be nonzero on advisory warnings.
const IBPassSentinel = "通过模块: 10/10"

const (
	p2pMatrixBegin = "Bidirectional P2P=Enabled Bandwidth Matrix"
	p2pMatrixEnd   = "P2P=Disabled Latency Matrix"

	ncclAvgBandwidth = "Avg bus bandwidth"
)

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// ParseNvbandwidth scans the nvbandwidth matrix output and returns the
// minimum plausible bandwidth value, or 0 when none is found. Only lines
// starting with a digit are considered; the first token of such a line is a
// row index. Values outside [10, 1200] GB/s are measurement noise and are
// skipped; a token that is not a number ends the line.
func ParseNvbandwidth(output string) float64 {
	var values []float64
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !unicode.IsDigit(rune(line[0])) {
			continue
		}
		parts := strings.Fields(line)
		for _, chunk := range parts[1:] {
			value, err := strconv.ParseFloat(chunk, 64)
			if err != nil {
				break
			}
			if value >= 10 && value <= 1200 {
				values = append(values, value)
			}
		}
	}
	return minOrZero(values)
}

// ParseP2P extracts the minimum off-diagonal value of the bidirectional
// P2P-enabled bandwidth matrix. Collection starts at the matrix header and
// the whole scan terminates at the disabled-latency header. Rows are counted
// positionally; the diagonal (self-to-self copy) is skipped.
func ParseP2P(output string) float64 {
	collecting := false
	rowCount := 0
	var values []float64
	for _, line := range strings.Split(output, "\n") {
		if strings.Contains(line, p2pMatrixBegin) {
			collecting = true
			rowCount = 0
			continue
		}
		if strings.Contains(line, p2pMatrixEnd) {
			break
		}
		if !collecting {
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		parts := strings.Fields(line)
		// column header rows ("D\D 0 1 2 ...") have a non-numeric first token
		if !isAllDigits(parts[0]) {
			continue
		}
		rowIdx := rowCount
		rowCount++
		if len(parts) <= 1 {
			continue
		}
		for colIdx, valueStr := range parts[1:] {
			value, err := strconv.ParseFloat(valueStr, 64)
			if err != nil {
				continue
			}
			if value > 0 && rowIdx != colIdx {
				values = append(values, value)
			}
		}
	}
	return minOrZero(values)
}

// ParseNccl returns the average bus bandwidth reported by the nccl-tests
// summary line, or 0 when the line is absent or carries no number.
func ParseNccl(output string) float64 {
	for _, line := range strings.Split(output, "\n") {
		if !strings.Contains(line, ncclAvgBandwidth) {
			continue
		}
		for _, chunk := range strings.Fields(line) {
			if value, err := strconv.ParseFloat(chunk, 64); err == nil {
				return value
			}
		}
	}
	return 0
}

// ParseDcgm reports whether a dcgmi diag run passed.
func ParseDcgm(exitCode int) bool {
	return exitCode == 0
}

// ParseIB reports whether the IB health-check passed. The pass sentinel in
// the combined output dominates the exit code: the script can exit nonzero
// on advisory warnings, and a clean exit without the sentinel means the
// check never completed its module sweep.
func ParseIB(output string, exitCode int) bool {
	return strings.Contains(output, IBPassSentinel)
}

func minOrZero(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}
