/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package benchmark

import (
	"encoding/json"
	"os"
	"sort"
	"strings"

	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/GHX/pkg/config"
)

// Thresholds maps a metric name (bw, p2p, nccl) to its reference value.
type Thresholds map[string]float64

// Catalog resolves GPU model names to performance thresholds. A nil or
// missing threshold means "do not gate on performance".
type Catalog struct {
	entries map[string]Thresholds
	// keys are kept sorted so normalization is deterministic.
	keys []string
}

// fallback is used when the catalog file is absent or unreadable.
var fallback = map[string]Thresholds{
	"RTX 3090": {"p2p": 18, "nccl": 7, "bw": 20},
	"L40S":     {"p2p": 28, "nccl": 9, "bw": 20},
	"RTX 4090": {"p2p": 18, "nccl": 7, "bw": 20},
	"A100":     {"p2p": 420, "nccl": 70, "bw": 20},
	"A800":     {"p2p": 340, "nccl": 55, "bw": 20},
	"H100":     {"p2p": 700, "nccl": 139, "bw": 40},
	"H800":     {"p2p": 340, "nccl": 65, "bw": 47},
	"H200":     {"p2p": 730, "nccl": 145, "bw": 54},
}

// Load reads the benchmark catalog from the configured file path. It never
// fails: on any read or decode error the built-in fallback table is used.
func Load() *Catalog {
	path := config.GetBenchmarkFile()
	data, err := os.ReadFile(path)
	if err != nil {
		klog.Warningf("benchmark file %s not readable, using fallback defaults: %v", path, err)
		return NewCatalog(fallback)
	}
	var entries map[string]Thresholds
	if err = json.Unmarshal(data, &entries); err != nil || len(entries) == 0 {
		klog.Warningf("failed to decode benchmark file %s, using fallback defaults: %v", path, err)
		return NewCatalog(fallback)
	}
	klog.Infof("loaded %d gpu benchmark entries from %s", len(entries), path)
	return NewCatalog(entries)
}

func NewCatalog(entries map[string]Thresholds) *Catalog {
	c := &Catalog{entries: make(map[string]Thresholds, len(entries))}
	for key, val := range entries {
		c.entries[key] = val
		c.keys = append(c.keys, key)
	}
	sort.Strings(c.keys)
	return c
}

func compact(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", ""))
}

// NormalizeModel maps a raw GPU identity string (as printed by nvidia-smi -L)
// to a catalog key. The first key whose compacted form is a substring of the
// compacted raw string wins. Unknown models pass through unchanged.
func (c *Catalog) NormalizeModel(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return "Unknown"
	}
	cleaned := strings.TrimSpace(raw)
	needle := compact(cleaned)
	for _, key := range c.keys {
		if strings.Contains(needle, compact(key)) {
			return key
		}
	}
	return cleaned
}

// Threshold returns the reference value for the given model and metric.
// The second return is false when the model or metric has no entry, which
// callers must treat as "no performance gate".
func (c *Catalog) Threshold(model, metric string) (float64, bool) {
	thresholds, ok := c.entries[c.NormalizeModel(model)]
	if !ok {
		return 0, false
	}
	val, ok := thresholds[metric]
	return val, ok
}

// View returns a copy of the catalog for read-only serialization.
func (c *Catalog) View() map[string]Thresholds {
	out := make(map[string]Thresholds, len(c.entries))
	for key, val := range c.entries {
		t := make(Thresholds, len(val))
		for m, v := range val {
			t[m] = v
		}
		out[key] = t
	}
	return out
}
