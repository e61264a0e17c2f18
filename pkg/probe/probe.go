/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

// Package probe answers environment questions about a target host over an
// existing SSH session: command presence, kernel module state, CUDA/NCCL
// version agreement, and basic connectivity facts.
package probe

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/GHX/pkg/benchmark"
	"github.com/AMD-AIG-AIMA/GHX/pkg/common"
	"github.com/AMD-AIG-AIMA/GHX/pkg/sshexec"
)

// Session is the remote execution surface the probes need.
type Session interface {
	Run(command string, timeout time.Duration, requireRoot bool) (*sshexec.Result, error)
	Close() error
}

// DialFunc opens a session to one host.
type DialFunc func(conn sshexec.Connection) (Session, error)

// Dial is the production DialFunc.
func Dial(conn sshexec.Connection) (Session, error) {
	return sshexec.Open(conn)
}

// internalIPCommand resolves the address the default route leaves from.
const internalIPCommand = `ip route get 1.1.1.1 2>/dev/null | grep -oP 'src \K[0-9.]+' | head -n 1 || hostname -I | awk '{print $1}'`

var (
	cudaReleasePattern = regexp.MustCompile(`release\s+(\d+\.\d+)`)
	cudaShortPattern   = regexp.MustCompile(`V(\d+\.\d+)`)
	ncclVersionPattern = regexp.MustCompile(`(\d+\.\d+\.\d+)-\d+\+cuda(\d+\.\d+)`)
)

// ExtractCudaVersion pulls the CUDA release out of nvcc --version output.
func ExtractCudaVersion(nvccOutput string) string {
	if match := cudaReleasePattern.FindStringSubmatch(nvccOutput); match != nil {
		return match[1]
	}
	if match := cudaShortPattern.FindStringSubmatch(nvccOutput); match != nil {
		return match[1]
	}
	return ""
}

// ExtractNcclVersion pulls the cuda suffix of an installed NCCL package out
// of apt list output. Lines look like
// "libnccl2/unknown,now 2.28.9-1+cuda13.0 amd64 [installed]".
func ExtractNcclVersion(aptOutput, packageName string) string {
	for _, line := range strings.Split(aptOutput, "\n") {
		if !strings.Contains(line, packageName) || !strings.Contains(line, "[installed]") {
			continue
		}
		if match := ncclVersionPattern.FindStringSubmatch(line); match != nil {
			return match[2]
		}
	}
	return ""
}

// Versions reports the CUDA toolchain versions seen on the host and whether
// they agree.
type Versions struct {
	Nvcc         string `json:"nvcc"`
	Libnccl2     string `json:"libnccl2"`
	LibncclDev   string `json:"libncclDev"`
	VersionMatch bool   `json:"versionMatch"`
}

// CheckReport is the outcome of one check-commands probe run.
type CheckReport struct {
	Commands map[string]bool `json:"commands"`
	Versions Versions        `json:"versions"`
}

// CheckCommands runs the closed probe menu against one session. Named
// probes cover packages, kernel modules, ACS state, the fabric manager and
// ulimits; anything else is treated as an executable lookup.
func CheckCommands(sess Session, commands []string) (*CheckReport, error) {
	report := &CheckReport{Commands: make(map[string]bool)}
	for _, cmd := range commands {
		passed, err := checkOne(sess, cmd)
		if err != nil {
			return nil, err
		}
		report.Commands[cmd] = passed
	}

	nvccRes, err := sess.Run("/usr/local/cuda/bin/nvcc --version 2>/dev/null || true", common.DefaultExecTimeout, false)
	if err != nil {
		return nil, err
	}
	aptRes, err := sess.Run("apt list --installed 2>/dev/null | grep -E '^libnccl' || true", common.DefaultExecTimeout, false)
	if err != nil {
		return nil, err
	}

	nvcc := ExtractCudaVersion(nvccRes.Stdout)
	libnccl2 := ExtractNcclVersion(aptRes.Stdout, "libnccl2")
	libncclDev := ExtractNcclVersion(aptRes.Stdout, "libnccl-dev")
	report.Versions = Versions{
		Nvcc:       nvcc,
		Libnccl2:   libnccl2,
		LibncclDev: libncclDev,
		VersionMatch: nvcc != "" && libnccl2 != "" && libncclDev != "" &&
			nvcc == libnccl2 && libnccl2 == libncclDev,
	}
	return report, nil
}

func checkOne(sess Session, cmd string) (bool, error) {
	switch {
	case cmd == "libnccl2" || cmd == "libnccl-dev":
		res, err := sess.Run(
			fmt.Sprintf(`apt list --installed 2>/dev/null | grep -E '^%s/' | grep '\[installed\]'`, cmd),
			common.DefaultExecTimeout, false)
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(res.Stdout) != "", nil

	case cmd == "nvidia_peermem":
		res, err := sess.Run("lsmod | grep nvidia_peermem", common.DefaultExecTimeout, false)
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(res.Stdout) != "", nil

	case cmd == "nouveau_unloaded":
		res, err := sess.Run("lsmod | grep nouveau", common.DefaultExecTimeout, false)
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(res.Stdout) == "", nil

	case cmd == "acsctl_disabled":
		// any '+' flag in the ACSCtl lines means ACS is still on; no
		// output means the devices do not support ACS at all
		res, err := sess.Run(
			"sudo lspci -vvv 2>/dev/null | grep -i acsctl || lspci -vvv 2>/dev/null | grep -i acsctl",
			common.DefaultExecTimeout, true)
		if err != nil {
			return false, err
		}
		output := strings.TrimSpace(res.Stdout)
		if output == "" {
			return true, nil
		}
		return !strings.Contains(output, "+"), nil

	case cmd == "nvidia_fabricmanager_active":
		res, err := sess.Run(
			"systemctl is-active nvidia-fabricmanager.service 2>/dev/null || echo inactive",
			common.DefaultExecTimeout, false)
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(res.Stdout) == "active", nil

	case cmd == "ulimit_max_locked_memory":
		return checkUlimit(sess, "max locked memory")

	case cmd == "ulimit_max_memory_size":
		return checkUlimit(sess, "max memory size")

	case strings.Contains(cmd, "/"):
		res, err := sess.Run(
			fmt.Sprintf("[ -x %s ] && echo OK || echo MISSING", cmd),
			common.DefaultExecTimeout, false)
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(res.Stdout) == "OK", nil

	default:
		res, err := sess.Run(
			fmt.Sprintf("command -v %s >/dev/null 2>&1 && echo OK || echo MISSING", cmd),
			common.DefaultExecTimeout, false)
		if err != nil {
			return false, err
		}
		return strings.TrimSpace(res.Stdout) == "OK", nil
	}
}

// checkUlimit reads ulimit -a as root, since the inspections themselves run
// as root, and requires the named limit to be unlimited.
func checkUlimit(sess Session, limitName string) (bool, error) {
	res, err := sess.Run("ulimit -a 2>/dev/null", common.DefaultExecTimeout, true)
	if err != nil {
		return false, err
	}
	for _, line := range strings.Split(res.Stdout, "\n") {
		if !strings.Contains(strings.ToLower(line), limitName) {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			return false, nil
		}
		value := strings.ToLower(fields[len(fields)-1])
		klog.V(4).Infof("ulimit probe %q: line %q, value %q", limitName, line, value)
		return value == "unlimited", nil
	}
	return false, nil
}

// ConnectionInfo is the compact diagnostic blob returned by a connection
// test.
type ConnectionInfo struct {
	Hostname      string   `json:"hostname"`
	Gpus          []string `json:"gpus"`
	GpuModel      string   `json:"gpuModel"`
	GpuCount      int      `json:"gpuCount"`
	DriverVersion string   `json:"driverVersion"`
	InternalIp    string   `json:"internalIp,omitempty"`
}

// TestConnection gathers host identity, GPU inventory, driver version and
// the internal address over one session.
func TestConnection(sess Session, catalog *benchmark.Catalog) (*ConnectionInfo, error) {
	hostnameRes, err := sess.Run("hostname", common.DefaultExecTimeout, false)
	if err != nil {
		return nil, err
	}
	gpuRes, err := sess.Run("nvidia-smi -L || true", common.DefaultExecTimeout, false)
	if err != nil {
		return nil, err
	}
	driverRes, err := sess.Run(
		"nvidia-smi --query-gpu=driver_version --format=csv,noheader | head -n 1 || true",
		common.DefaultExecTimeout, false)
	if err != nil {
		return nil, err
	}
	ipRes, err := sess.Run(internalIPCommand, common.DefaultExecTimeout, false)
	if err != nil {
		return nil, err
	}

	var gpus []string
	for _, line := range strings.Split(gpuRes.Stdout, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			gpus = append(gpus, trimmed)
		}
	}
	model := "Unknown"
	if len(gpus) > 0 {
		model = catalog.NormalizeModel(gpus[0])
	}
	info := &ConnectionInfo{
		Hostname:      strings.TrimSpace(hostnameRes.Stdout),
		Gpus:          gpus,
		GpuModel:      model,
		GpuCount:      len(gpus),
		DriverVersion: strings.TrimSpace(driverRes.Stdout),
		InternalIp:    strings.TrimSpace(ipRes.Stdout),
	}
	klog.Infof("connection test succeeded: %s, internal ip %s", info.Hostname, info.InternalIp)
	return info, nil
}
