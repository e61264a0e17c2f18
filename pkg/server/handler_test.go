/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/AMD-AIG-AIMA/GHX/pkg/benchmark"
	"github.com/AMD-AIG-AIMA/GHX/pkg/engine"
	ghxerrors "github.com/AMD-AIG-AIMA/GHX/pkg/errors"
	"github.com/AMD-AIG-AIMA/GHX/pkg/orchestrator"
	"github.com/AMD-AIG-AIMA/GHX/pkg/probe"
	"github.com/AMD-AIG-AIMA/GHX/pkg/sshexec"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type cannedResponse struct {
	match  string
	stdout string
}

// responses are matched in order so specific patterns can shadow generic
// ones (the internal-ip command also mentions hostname).
type fakeProbeSession struct {
	responses []cannedResponse
}

func (f *fakeProbeSession) Run(command string, _ time.Duration, _ bool) (*sshexec.Result, error) {
	for _, r := range f.responses {
		if strings.Contains(command, r.match) {
			return &sshexec.Result{Command: command, Stdout: r.stdout}, nil
		}
	}
	return &sshexec.Result{Command: command}, nil
}

func (f *fakeProbeSession) Close() error { return nil }

func testCatalog() *benchmark.Catalog {
	return benchmark.NewCatalog(map[string]benchmark.Thresholds{
		"H100": {"bw": 40, "p2p": 700, "nccl": 139},
	})
}

func newTestHandler() *Handler {
	catalog := testCatalog()
	runner := engine.NewRunnerWithDial(catalog, engine.Assets{},
		func(conn sshexec.Connection) (engine.Session, error) {
			return nil, ghxerrors.NewSSHConnectFailed("no live hosts in tests")
		})
	return NewHandler(orchestrator.New(runner, nil), nil, nil, catalog, nil, engine.Assets{})
}

func newTestRouter(h *Handler) *gin.Engine {
	e := gin.New()
	e.NoRoute(func(c *gin.Context) {
		AbortWithApiError(c, ghxerrors.NewNotFoundWithMessage(c.Request.RequestURI+" not found"))
	})
	InitRouters(e, h)
	return e
}

func doRequest(t *testing.T, e *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := doRequest(t, newTestRouter(newTestHandler()), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestNoRouteIsCodedNotFound(t *testing.T) {
	rec := doRequest(t, newTestRouter(newTestHandler()), http.MethodGet, "/api/nope", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	apiErr := GhxApiError{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	require.Equal(t, ghxerrors.NotFound, apiErr.ErrorCode)
}

func TestGetGpuBenchmarks(t *testing.T) {
	rec := doRequest(t, newTestRouter(newTestHandler()), http.MethodGet, "/api/config/gpu-benchmarks", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rsp := struct {
		Benchmarks map[string]map[string]float64 `json:"benchmarks"`
		Source     string                        `json:"source"`
	}{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rsp))
	require.Equal(t, float64(40), rsp.Benchmarks["H100"]["bw"])
	require.NotEmpty(t, rsp.Source)
}

func TestCreateJobValidation(t *testing.T) {
	e := newTestRouter(newTestHandler())

	rec := doRequest(t, e, http.MethodPost, "/api/gpu-inspection/create-job", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// both execution modes in one request
	body := `{"selectedNodes":["n1"],"nodes":[{"host":"h1","username":"root","auth":{"type":"password","value":"x"}}],"enabledTests":["nccl"]}`
	rec = doRequest(t, e, http.MethodPost, "/api/gpu-inspection/create-job", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateJobClusterModeUnavailable(t *testing.T) {
	body := `{"selectedNodes":["n1"],"enabledTests":["nccl"]}`
	rec := doRequest(t, newTestRouter(newTestHandler()), http.MethodPost, "/api/gpu-inspection/create-job", body)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestCreateJobSshMode(t *testing.T) {
	e := newTestRouter(newTestHandler())
	body := `{"nodes":[{"host":"h1","username":"root","auth":{"type":"password","value":"x"}}],"enabledTests":["nccl"],"dcgmLevel":1}`
	rec := doRequest(t, e, http.MethodPost, "/api/gpu-inspection/create-job", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rsp := createJobResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rsp))
	require.Equal(t, "ssh", rsp.Mode)
	require.True(t, strings.HasPrefix(rsp.JobId, "manual-"))

	rec = doRequest(t, e, http.MethodGet, fmt.Sprintf("/api/gpu-inspection/job/%s", rsp.JobId), "")
	require.Equal(t, http.StatusOK, rec.Code)
	view := orchestrator.JobView{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.Equal(t, rsp.JobId, view.JobID)
}

func TestGetJobUnknownIsNotFound(t *testing.T) {
	rec := doRequest(t, newTestRouter(newTestHandler()), http.MethodGet, "/api/gpu-inspection/job/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStopJobUnknownIsNotFound(t *testing.T) {
	rec := doRequest(t, newTestRouter(newTestHandler()), http.MethodPost, "/api/gpu-inspection/stop-job/missing", "")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsWithoutDatabase(t *testing.T) {
	rec := doRequest(t, newTestRouter(newTestHandler()), http.MethodGet, "/api/gpu-inspection/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rsp := listJobsResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rsp))
	require.Equal(t, 0, rsp.TotalCount)
}

func TestListResultsWithoutDatabase(t *testing.T) {
	rec := doRequest(t, newTestRouter(newTestHandler()), http.MethodGet, "/api/gpu-inspection/results", "")
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTestConnectionEndpoint(t *testing.T) {
	h := newTestHandler()
	h.probeDial = func(conn sshexec.Connection) (probe.Session, error) {
		return &fakeProbeSession{responses: []cannedResponse{
			{match: "ip route get", stdout: "10.0.0.9\n"},
			{match: "nvidia-smi -L", stdout: "GPU 0: NVIDIA H100 80GB HBM3 (UUID: GPU-1)\n"},
			{match: "driver", stdout: "550.54.15\n"},
			{match: "hostname", stdout: "node-9\n"},
		}}, nil
	}
	body := `{"host":"10.0.0.9","username":"root","auth":{"type":"password","value":"x"}}`
	rec := doRequest(t, newTestRouter(h), http.MethodPost, "/api/ssh/test-connection", body)
	require.Equal(t, http.StatusOK, rec.Code)

	info := probe.ConnectionInfo{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.Equal(t, "H100", info.GpuModel)
	require.Equal(t, 1, info.GpuCount)
}

func TestTestConnectionRequiresAuth(t *testing.T) {
	rec := doRequest(t, newTestRouter(newTestHandler()), http.MethodPost, "/api/ssh/test-connection", `{"host":"h1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckCommandsRequiresCommands(t *testing.T) {
	body := `{"host":"h1","username":"root","auth":{"type":"password","value":"x"},"commands":[]}`
	rec := doRequest(t, newTestRouter(newTestHandler()), http.MethodPost, "/api/ssh/check-commands", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSetupSSHTrustTooFewNodes(t *testing.T) {
	body := `{"nodes":[{"host":"h1","username":"root","auth":{"type":"password","value":"x"}}]}`
	rec := doRequest(t, newTestRouter(newTestHandler()), http.MethodPost, "/api/gpu-inspection/setup-ssh-trust", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMultiNodeNcclRequiresTwoHosts(t *testing.T) {
	body := `{"headNode":{"host":"h1","username":"root","auth":{"type":"password","value":"x"}},"hosts":["h1"]}`
	rec := doRequest(t, newTestRouter(newTestHandler()), http.MethodPost, "/api/gpu-inspection/multi-node-nccl", body)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
