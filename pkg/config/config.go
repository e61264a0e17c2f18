/*
 * Copyright (c) 2025, Advanced Micro Devices, Inc. All rights reserved.
 * See LICENSE for license information.
 */

package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

func SetValue(key, value string) {
	viper.Set(key, value)
}

func LoadConfig(path string) error {
	viper.SetConfigFile(path)
	viper.SetConfigType("yaml")
	return viper.ReadInConfig()
}

func getString(key, defaultValue string) string {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetString(key)
}

func getBool(key string, defaultValue bool) bool {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetBool(key)
}

func getInt(key string, defaultValue int) int {
	if !viper.IsSet(key) {
		return defaultValue
	}
	return viper.GetInt(key)
}

func getStrings(key string) []string {
	val := viper.GetString(key)
	return removeBlank(strings.Split(val, ","))
}

func removeBlank(slice []string) []string {
	var result []string
	for _, val := range slice {
		if trim := strings.TrimSpace(val); trim != "" {
			result = append(result, trim)
		}
	}
	return result
}

func getFromFile(pathKey, name string) string {
	dir := getString(pathKey, "")
	if dir == "" {
		return ""
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}

// GetBenchmarkFile returns the path of the GPU benchmark catalog.
// The environment key takes precedence over the config file.
func GetBenchmarkFile() string {
	if v := os.Getenv(EnvBenchmarkFile); v != "" {
		return v
	}
	return getString(benchmarkFile, "/app/gpu-benchmarks.json")
}

// GetAssetDir returns the base directory holding uploadable test artifacts.
func GetAssetDir() string {
	if v := os.Getenv(EnvAssetDir); v != "" {
		return v
	}
	return getString(assetDir, "/app/assets")
}

// GetRetentionDays returns how long shared-volume artifacts and history
// rows are kept.
func GetRetentionDays() int {
	if v := os.Getenv(EnvRetentionDays); v != "" {
		if days, err := strconv.Atoi(v); err == nil && days > 0 {
			return days
		}
	}
	return getInt(retentionDays, 7)
}

// GetCorsOrigins returns the additional allowed CORS origins.
func GetCorsOrigins() []string {
	if v := os.Getenv(EnvCorsOrigins); v != "" {
		return removeBlank(strings.Split(v, ","))
	}
	return getStrings(corsOrigins)
}

// GetSharedResultsRoot returns the shared volume root holding result
// artifacts (manual/ and cron/ live underneath).
func GetSharedResultsRoot() string {
	return getString(sharedResultsRoot, "/shared/gpu-inspection-results")
}

func GetServerPort() int {
	return getInt(serverPort, 5000)
}

func IsDBEnable() bool {
	return getBool(databaseEnable, true)
}

func GetDBHost() string {
	return getString(databaseHost, "localhost")
}

func GetDBPort() int {
	return getInt(databasePort, 5432)
}

func GetDBName() string {
	return getString(databaseName, "ghx")
}

func GetDBUser() string {
	return getString(databaseUser, "ghx")
}

func GetDBPasswd() string {
	return getFromFile(databasePasswdPath, "password")
}

func GetDBSSLMode() string {
	return getString(databaseSSLMode, "disable")
}

func GetDBRequestTimeoutSecond() int {
	return getInt(databaseRequestTimeout, 20)
}

func GetDBMaxOpenConns() int {
	return getInt(databaseMaxOpenConns, 10)
}

func GetDBMaxIdleConns() int {
	return getInt(databaseMaxIdleConns, 5)
}

func GetWatchNamespace() string {
	return getString(watcherNamespace, "gpu-health-expert")
}

func GetJobTemplatePath() string {
	return getString(watcherJobTemplate, "/app/job-template.yaml")
}

func GetWatcherSyncIntervalSecond() int {
	return getInt(watcherSyncInterval, 300)
}
