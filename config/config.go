// Package config exposes build metadata and environment-driven settings
// for the xsell provisioning engine.
package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

//go:embed version
var version string

//go:embed name
var name string

type LogLevel string

const (
	Debug  LogLevel = "debug"
	Info   LogLevel = "info"
	Notice LogLevel = "notice"
	Warn   LogLevel = "warn"
	Error  LogLevel = "error"
)

func GetVersion() string {
	return strings.TrimSpace(version)
}

func GetName() string {
	return strings.TrimSpace(name)
}

func GetLogLevel() LogLevel {
	if IsDebug() {
		return Debug
	}
	logLevel := os.Getenv("XSELL_LOG_LEVEL")
	if logLevel == "" {
		return Info
	}
	return LogLevel(logLevel)
}

func IsDebug() bool {
	return os.Getenv("XSELL_DEBUG") == "true"
}

func GetDBFolderPath() string {
	dbFolderPath := os.Getenv("XSELL_DB_FOLDER")
	if dbFolderPath == "" {
		dbFolderPath = "/etc/xsell"
	}
	return dbFolderPath
}

func GetDBPath() string {
	return fmt.Sprintf("%s/%s.db", GetDBFolderPath(), GetName())
}

func GetLogFolder() string {
	logFolderPath := os.Getenv("XSELL_LOG_FOLDER")
	if logFolderPath == "" {
		logFolderPath = "/var/log"
	}
	return logFolderPath
}

// GetPlanCatalogPath returns the path of the TOML plan catalog.
func GetPlanCatalogPath() string {
	p := os.Getenv("XSELL_PLANS_FILE")
	if p == "" {
		p = fmt.Sprintf("%s/plans.toml", GetDBFolderPath())
	}
	return p
}

// GetAPIListenAddr returns the listen address of the intake/ops HTTP API.
func GetAPIListenAddr() string {
	addr := os.Getenv("XSELL_API_LISTEN")
	if addr == "" {
		addr = ":8080"
	}
	return addr
}

// GetAPITokenHash returns the bcrypt hash the intake API compares bearer
// tokens against. Empty disables authentication (debug only).
func GetAPITokenHash() string {
	return os.Getenv("XSELL_API_TOKEN_HASH")
}

func GetTgBotToken() string {
	return os.Getenv("XSELL_TG_TOKEN")
}

func IsTgBotEnabled() bool {
	return GetTgBotToken() != ""
}

// GetWorkerCount returns how many queue workers run concurrently.
func GetWorkerCount() int {
	return getEnvInt("XSELL_WORKERS", 4)
}

// GetTaskMaxRetries returns the total attempt budget per task.
func GetTaskMaxRetries() int {
	return getEnvInt("XSELL_TASK_MAX_RETRIES", 3)
}

// GetInboundCapacity returns the client capacity assumed for inbounds
// discovered by sync. Capacity is a local planning target, not a remote
// limit.
func GetInboundCapacity() int {
	return getEnvInt("XSELL_INBOUND_CAPACITY", 100)
}

// GetPanelTimeout returns the per-call HTTP timeout against remote panels.
func GetPanelTimeout() time.Duration {
	return time.Duration(getEnvInt("XSELL_PANEL_TIMEOUT_SEC", 15)) * time.Second
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
