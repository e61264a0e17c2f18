/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/AMD-AIG-AIMA/GHX/pkg/benchmark"
	"github.com/AMD-AIG-AIMA/GHX/pkg/cluster"
	"github.com/AMD-AIG-AIMA/GHX/pkg/collector"
	"github.com/AMD-AIG-AIMA/GHX/pkg/config"
	dbclient "github.com/AMD-AIG-AIMA/GHX/pkg/database/client"
	"github.com/AMD-AIG-AIMA/GHX/pkg/engine"
	ghxerrors "github.com/AMD-AIG-AIMA/GHX/pkg/errors"
	"github.com/AMD-AIG-AIMA/GHX/pkg/events"
	"github.com/AMD-AIG-AIMA/GHX/pkg/k8sclient"
	"github.com/AMD-AIG-AIMA/GHX/pkg/orchestrator"
	"github.com/AMD-AIG-AIMA/GHX/pkg/watcher"
)

const shutdownTimeout = 10 * time.Second

// Server wires the inspection service together: config, database, ingestion,
// the pod watcher, both job execution modes and the HTTP surface.
type Server struct {
	httpServer *http.Server
	dbClient   *dbclient.Client
	bus        *events.Bus
	collector  *collector.Collector
	watcher    *watcher.Watcher
	ctx        context.Context
	cancel     context.CancelFunc
	isInited   bool
}

// NewServer creates and returns a new Server instance. configPath may be
// empty, in which case defaults and environment keys apply.
func NewServer(configPath string) (*Server, error) {
	s := &Server{}
	s.ctx, s.cancel = signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	if err := s.init(configPath); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) init(configPath string) error {
	gin.SetMode(gin.ReleaseMode)
	if configPath != "" {
		fullPath, err := filepath.Abs(configPath)
		if err != nil {
			return err
		}
		if err = config.LoadConfig(fullPath); err != nil {
			return fmt.Errorf("config path: %s, err: %v", fullPath, err)
		}
	}
	if config.GetServerPort() <= 0 {
		return fmt.Errorf("the server port is not defined")
	}

	catalog := benchmark.Load()
	s.bus = events.NewBus()

	if config.IsDBEnable() {
		if s.dbClient = dbclient.NewClient(); s.dbClient == nil {
			return fmt.Errorf("failed to new db client")
		}
		s.collector = collector.New(s.dbClient, s.bus,
			config.GetSharedResultsRoot(), config.GetRetentionDays())
	} else {
		klog.Warning("the database function is disabled, ingestion and history are off")
	}

	var clusterMgr *cluster.Manager
	if s.dbClient != nil {
		clientSet, _, err := k8sclient.NewClientSet()
		if err != nil {
			klog.Warningf("kubernetes unavailable, cluster mode disabled: %v", err)
		} else {
			namespace := config.GetWatchNamespace()
			clusterMgr = cluster.New(clientSet, s.dbClient, s.bus,
				namespace, config.GetJobTemplatePath(), config.GetRetentionDays())
			resync := time.Duration(config.GetWatcherSyncIntervalSecond()) * time.Second
			s.watcher = watcher.New(clientSet, s.dbClient, s.bus, s.collector, namespace, resync)
		}
	}

	runner := engine.NewRunner(catalog, engine.DefaultAssets())
	orc := orchestrator.New(runner, s.bus)

	var dbIface dbclient.Interface
	if s.dbClient != nil {
		dbIface = s.dbClient
	}
	handler := NewHandler(orc, clusterMgr, dbIface, catalog, s.bus, engine.DefaultAssets())

	e := gin.New()
	e.Use(Logger(), gin.Recovery(), Cors())
	e.NoRoute(func(c *gin.Context) {
		AbortWithApiError(c, ghxerrors.NewNotFoundWithMessage(c.Request.RequestURI+" not found"))
	})
	InitRouters(e, handler)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", config.GetServerPort()),
		Handler: e,
	}
	s.isInited = true
	return nil
}

// Start runs the background workers and the HTTP server, then blocks until
// a stop signal arrives.
func (s *Server) Start() {
	if !s.isInited {
		klog.Errorf("please init the server first")
		return
	}
	gin.EnableJsonDecoderDisallowUnknownFields()

	klog.Infof("starting ghx server")
	if s.collector != nil {
		if err := s.collector.Start(); err != nil {
			klog.ErrorS(err, "failed to start artifact collector")
			os.Exit(-1)
		}
	}
	if s.watcher != nil {
		s.watcher.Start()
	}
	go func() {
		klog.Infof("http-server listen addr: %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			klog.ErrorS(err, "failed to start http server")
			os.Exit(-1)
		}
	}()

	<-s.ctx.Done()
	s.Stop()
}

// Stop gracefully shuts everything down in reverse start order.
func (s *Server) Stop() {
	klog.Info("shutting down http server...")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(ctx); err != nil {
		klog.ErrorS(err, "failed to shutdown http server")
	}
	if s.watcher != nil {
		s.watcher.Stop()
	}
	if s.collector != nil {
		s.collector.Stop()
	}
	if s.bus != nil {
		s.bus.Close()
	}
	if s.dbClient != nil {
		s.dbClient.Close()
	}
	s.cancel()
	klog.Info("ghx server is stopped")
	klog.Flush()
}
