package config

// Default values for configuration fields.
const (
	DefaultListenAddress          = "127.0.0.1:8545"
	DefaultMaxELLagBlocks         = uint64(5)
	DefaultMaxCLLagSlots          = uint64(3)
	DefaultHealthCheckIntervalMs  = int64(1000)
	DefaultHealthCheckTimeoutMs   = int64(5000)
	DefaultHealthCheckMaxFailures = uint32(3)
	DefaultProxyTimeoutMs         = int64(30000)
	DefaultMaxRetries             = 2
	DefaultWSQueueSize            = 1024

	DefaultLogLevel  = "info"
	DefaultLogFormat = "json"

	DefaultMetricsEnabled = true

	DefaultReportSchedule = "@every 1m"
)

// ApplyDefaults fills zero-valued fields with their defaults. Declared
// upstream lists are left untouched; validation rejects missing ones.
func ApplyDefaults(cfg *Config) {
	if cfg.Global.ListenAddress == "" {
		cfg.Global.ListenAddress = DefaultListenAddress
	}
	if cfg.Global.MaxELLagBlocks == 0 {
		cfg.Global.MaxELLagBlocks = DefaultMaxELLagBlocks
	}
	if cfg.Global.MaxCLLagSlots == 0 {
		cfg.Global.MaxCLLagSlots = DefaultMaxCLLagSlots
	}
	if cfg.Global.HealthCheckIntervalMs == 0 {
		cfg.Global.HealthCheckIntervalMs = DefaultHealthCheckIntervalMs
	}
	if cfg.Global.HealthCheckTimeoutMs == 0 {
		cfg.Global.HealthCheckTimeoutMs = DefaultHealthCheckTimeoutMs
	}
	if cfg.Global.HealthCheckMaxFailures == 0 {
		cfg.Global.HealthCheckMaxFailures = DefaultHealthCheckMaxFailures
	}
	if cfg.Global.ProxyTimeoutMs == 0 {
		cfg.Global.ProxyTimeoutMs = DefaultProxyTimeoutMs
	}
	if cfg.Global.MaxRetries == 0 {
		cfg.Global.MaxRetries = DefaultMaxRetries
	}
	if cfg.Global.WSQueueSize == 0 {
		cfg.Global.WSQueueSize = DefaultWSQueueSize
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
	if cfg.Report.Schedule == "" {
		cfg.Report.Schedule = DefaultReportSchedule
	}
}

// MinimalConfig returns a valid configuration with one EL primary and one
// CL node, used by tests.
func MinimalConfig() *Config {
	cfg := &Config{
		EL: ELConfig{
			Primary: []ELNodeConfig{
				{Name: "geth-1", HTTPURL: "http://127.0.0.1:8545", WSURL: "ws://127.0.0.1:8546"},
			},
		},
		CL: []CLNodeConfig{
			{Name: "lighthouse-1", URL: "http://127.0.0.1:5052"},
		},
	}
	ApplyDefaults(cfg)
	cfg.Metrics.Enabled = DefaultMetricsEnabled
	return cfg
}
