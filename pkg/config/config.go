// Package config loads, defaults and validates the Vixy configuration.
// The topology it describes is frozen at startup; nothing in this package
// is mutated after Load returns.
package config

import (
	"time"

	"github.com/chainbound/vixy/pkg/node"
)

// Config is the root configuration structure for Vixy.
type Config struct {
	// Global contains proxy-wide tunables: listen address, health
	// thresholds, timeouts and retry budget.
	Global GlobalConfig `toml:"global" yaml:"global"`

	// Log configures structured logging.
	Log LogConfig `toml:"log" yaml:"log"`

	// Metrics configures the Prometheus exposition endpoint.
	Metrics MetricsConfig `toml:"metrics" yaml:"metrics"`

	// Report configures the periodic health-summary log job.
	Report ReportConfig `toml:"report" yaml:"report"`

	// EL declares the Execution Layer upstreams, primaries and backups.
	EL ELConfig `toml:"el" yaml:"el"`

	// CL declares the Consensus Layer upstreams. All CL nodes are primary.
	CL []CLNodeConfig `toml:"cl" yaml:"cl"`
}

// GlobalConfig contains proxy-wide settings. Durations are expressed in
// milliseconds to keep the file format flat.
type GlobalConfig struct {
	// ListenAddress is the host:port the proxy serves on.
	// Default: "127.0.0.1:8545"
	ListenAddress string `toml:"listen_address" yaml:"listen_address"`

	// MaxELLagBlocks is the block lag beyond which an EL node is
	// considered unhealthy. Default: 5
	MaxELLagBlocks uint64 `toml:"max_el_lag_blocks" yaml:"max_el_lag_blocks"`

	// MaxCLLagSlots is the slot lag beyond which a CL node is considered
	// unhealthy. Default: 3
	MaxCLLagSlots uint64 `toml:"max_cl_lag_slots" yaml:"max_cl_lag_slots"`

	// HealthCheckIntervalMs is the health-monitor cycle period.
	// Default: 1000
	HealthCheckIntervalMs int64 `toml:"health_check_interval_ms" yaml:"health_check_interval_ms"`

	// HealthCheckTimeoutMs bounds each individual probe. Default: 5000
	HealthCheckTimeoutMs int64 `toml:"health_check_timeout_ms" yaml:"health_check_timeout_ms"`

	// HealthCheckMaxFailures is the consecutive probe-failure count at
	// which a node is marked unhealthy. Default: 3
	HealthCheckMaxFailures uint32 `toml:"health_check_max_failures" yaml:"health_check_max_failures"`

	// ProxyTimeoutMs bounds each proxied HTTP request. Default: 30000
	ProxyTimeoutMs int64 `toml:"proxy_timeout_ms" yaml:"proxy_timeout_ms"`

	// MaxRetries is the number of additional upstream attempts for a
	// failed HTTP proxy request. Default: 2
	MaxRetries int `toml:"max_retries" yaml:"max_retries"`

	// WSQueueSize bounds the per-connection queue of client frames held
	// during a WebSocket reconnection. Default: 1024
	WSQueueSize int `toml:"ws_queue_size" yaml:"ws_queue_size"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is the minimum log level: debug, info, warn or error.
	Level string `toml:"level" yaml:"level"`

	// Format is json or text.
	Format string `toml:"format" yaml:"format"`
}

// MetricsConfig configures Prometheus metrics exposure.
type MetricsConfig struct {
	// Enabled controls whether metrics are collected and served. The
	// example configs enable it; it is off unless set.
	Enabled bool `toml:"enabled" yaml:"enabled"`

	// ListenAddress optionally serves /metrics on a separate listener.
	// Empty serves it on the main listener.
	ListenAddress string `toml:"listen_address" yaml:"listen_address"`
}

// ReportConfig configures the periodic health-summary log job.
type ReportConfig struct {
	// Schedule is a cron expression (robfig/cron syntax, @every accepted).
	// Empty disables the job.
	Schedule string `toml:"schedule" yaml:"schedule"`
}

// ELConfig declares EL upstreams by tier.
type ELConfig struct {
	Primary []ELNodeConfig `toml:"primary" yaml:"primary"`
	Backup  []ELNodeConfig `toml:"backup" yaml:"backup"`
}

// ELNodeConfig declares one EL upstream.
type ELNodeConfig struct {
	// Name uniquely identifies the node in logs, metrics and selection.
	Name string `toml:"name" yaml:"name"`

	// HTTPURL is the JSON-RPC endpoint (http or https).
	HTTPURL string `toml:"http_url" yaml:"http_url"`

	// WSURL is the optional WebSocket endpoint (ws or wss). Nodes without
	// one are skipped by WebSocket selection.
	WSURL string `toml:"ws_url" yaml:"ws_url"`
}

// CLNodeConfig declares one CL upstream.
type CLNodeConfig struct {
	Name string `toml:"name" yaml:"name"`

	// URL is the Beacon REST base URL (http or https).
	URL string `toml:"url" yaml:"url"`
}

// HealthCheckInterval returns the monitor cycle period as a duration.
func (g *GlobalConfig) HealthCheckInterval() time.Duration {
	return time.Duration(g.HealthCheckIntervalMs) * time.Millisecond
}

// HealthCheckTimeout returns the per-probe timeout as a duration.
func (g *GlobalConfig) HealthCheckTimeout() time.Duration {
	return time.Duration(g.HealthCheckTimeoutMs) * time.Millisecond
}

// ProxyTimeout returns the per-request proxy timeout as a duration.
func (g *GlobalConfig) ProxyTimeout() time.Duration {
	return time.Duration(g.ProxyTimeoutMs) * time.Millisecond
}

// Topology freezes the configured upstreams into the runtime topology.
// EL primaries precede backups, each tier in declaration order.
func (c *Config) Topology() *node.Topology {
	topo := &node.Topology{}
	for _, n := range c.EL.Primary {
		topo.EL = append(topo.EL, node.Upstream{
			Name: n.Name, Kind: node.KindEL, Role: node.RolePrimary,
			HTTPURL: n.HTTPURL, WSURL: n.WSURL,
		})
	}
	for _, n := range c.EL.Backup {
		topo.EL = append(topo.EL, node.Upstream{
			Name: n.Name, Kind: node.KindEL, Role: node.RoleBackup,
			HTTPURL: n.HTTPURL, WSURL: n.WSURL,
		})
	}
	for _, n := range c.CL {
		topo.CL = append(topo.CL, node.Upstream{
			Name: n.Name, Kind: node.KindCL, Role: node.RolePrimary,
			HTTPURL: n.URL,
		})
	}
	return topo
}

// Limits freezes the configured health thresholds.
func (c *Config) Limits() node.Limits {
	return node.Limits{
		MaxELLag:               c.Global.MaxELLagBlocks,
		MaxCLLag:               c.Global.MaxCLLagSlots,
		MaxConsecutiveFailures: c.Global.HealthCheckMaxFailures,
	}
}
