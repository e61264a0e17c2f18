/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

const (
	// global
	globalPrefix      = "global."
	benchmarkFile     = globalPrefix + "benchmark_file"
	assetDir          = globalPrefix + "asset_dir"
	retentionDays     = globalPrefix + "result_retention_days"
	corsOrigins       = globalPrefix + "cors_origins"
	sharedResultsRoot = globalPrefix + "shared_results_root"

	// server
	serverPrefix = "server."
	serverPort   = serverPrefix + "port"

	// database
	databasePrefix           = "database."
	databaseHost             = databasePrefix + "host"
	databasePort             = databasePrefix + "port"
	databaseName             = databasePrefix + "name"
	databaseUser             = databasePrefix + "user"
	databasePasswdPath       = databasePrefix + "passwd_path"
	databaseSSLMode          = databasePrefix + "ssl_mode"
	databaseRequestTimeout   = databasePrefix + "request_timeout_second"
	databaseMaxOpenConns     = databasePrefix + "max_open_conns"
	databaseMaxIdleConns     = databasePrefix + "max_idle_conns"
	databaseEnable           = databasePrefix + "enable"
	databaseMaxIdleTimeConns = databasePrefix + "max_idle_time_second"

	// watcher
	watcherPrefix       = "watcher."
	watcherNamespace    = watcherPrefix + "namespace"
	watcherJobTemplate  = watcherPrefix + "job_template_path"
	watcherSyncInterval = watcherPrefix + "sync_interval_second"
)

// Environment keys recognized independently of the config file.
const (
	EnvBenchmarkFile = "GPU_BENCHMARK_FILE"
	EnvAssetDir      = "GHX_ASSET_DIR"
	EnvRetentionDays = "GPU_RESULT_RETENTION_DAYS"
	EnvCorsOrigins   = "CORS_ORIGINS"
)
