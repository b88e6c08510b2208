package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/xspvault/xspcore/internal/objstore/folders"
)

// Configuration is the complete configuration for a host embedding xspcore.
type Configuration struct {
	Global     GlobalConfig     `yaml:"global"`
	Store      StoreConfig      `yaml:"store"`
	GC         GCConfig         `yaml:"gc"`
	Upsync     UpsyncConfig     `yaml:"upsync"`
	IPC        IPCConfig        `yaml:"ipc"`
	Network    NetworkConfig    `yaml:"network"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// GlobalConfig holds process-wide settings.
type GlobalConfig struct {
	LogLevel       string `yaml:"log_level"`
	LogFile        string `yaml:"log_file"`
	MetricsPort    int    `yaml:"metrics_port"`
	HealthPort     int    `yaml:"health_port"`
	DiagnosticPort int    `yaml:"diagnostic_port"`
}

// StoreConfig describes where object namespaces live on disk and the
// default sharding/generation layout new namespaces are created with.
type StoreConfig struct {
	Roots           []string       `yaml:"roots"`
	DefaultFolders  folders.Config `yaml:"default_folders"`
	IdleEvictionTTL time.Duration  `yaml:"idle_eviction_ttl"`
}

// GCConfig controls the background garbage collector (spec §4.F).
type GCConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

// UpsyncConfig controls the persisted sync-task queue (spec §4.G).
type UpsyncConfig struct {
	FlushInterval time.Duration `yaml:"flush_interval"`
	MaxRetries    int           `yaml:"max_retries"`
}

// IPCConfig controls the capability connector (spec §4.H–§4.K).
type IPCConfig struct {
	CallTimeout         time.Duration `yaml:"call_timeout"`
	MaxDuplicateRetries int           `yaml:"max_duplicate_retries"`
}

// NetworkConfig controls calls out to the out-of-scope remote-storage
// service (spec §1 External collaborators).
type NetworkConfig struct {
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// RetryConfig configures pkg/retry.Retryer.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
}

// CircuitBreakerConfig configures internal/circuit.Breaker.
type CircuitBreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// MonitoringConfig controls the ambient observability stack.
type MonitoringConfig struct {
	Metrics      MetricsConfig      `yaml:"metrics"`
	HealthChecks HealthChecksConfig `yaml:"health_checks"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// MetricsConfig controls pkg/metrics.
type MetricsConfig struct {
	Enabled      bool              `yaml:"enabled"`
	Prometheus   bool              `yaml:"prometheus"`
	CustomLabels map[string]string `yaml:"custom_labels"`
}

// HealthChecksConfig controls pkg/health.
type HealthChecksConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
}

// LoggingConfig controls pkg/logging.
type LoggingConfig struct {
	Structured bool   `yaml:"structured"`
	Format     string `yaml:"format"`
}

// NewDefault returns a configuration with sensible defaults.
func NewDefault() *Configuration {
	return &Configuration{
		Global: GlobalConfig{
			LogLevel:       "INFO",
			LogFile:        "",
			MetricsPort:    9090,
			HealthPort:     9091,
			DiagnosticPort: 9092,
		},
		Store: StoreConfig{
			Roots: []string{"/var/lib/xspcore"},
			DefaultFolders: folders.Config{
				NumOfSplits:  2,
				CharsInSplit: 2,
				NonceByteLen: 24,
			},
			IdleEvictionTTL: 5 * time.Minute,
		},
		GC: GCConfig{
			Enabled:  true,
			Interval: 30 * time.Second,
		},
		Upsync: UpsyncConfig{
			FlushInterval: 10 * time.Second,
			MaxRetries:    5,
		},
		IPC: IPCConfig{
			CallTimeout:         30 * time.Second,
			MaxDuplicateRetries: 100,
		},
		Network: NetworkConfig{
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   1 * time.Second,
				MaxDelay:    30 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{
				Enabled:          true,
				FailureThreshold: 5,
				ResetTimeout:     60 * time.Second,
			},
		},
		Monitoring: MonitoringConfig{
			Metrics: MetricsConfig{
				Enabled:    true,
				Prometheus: true,
				CustomLabels: map[string]string{
					"service": "xspcore",
				},
			},
			HealthChecks: HealthChecksConfig{
				Enabled:  true,
				Interval: 30 * time.Second,
				Timeout:  5 * time.Second,
			},
			Logging: LoggingConfig{
				Structured: true,
				Format:     "json",
			},
		},
	}
}

// LoadFromFile loads configuration from a YAML file.
func (c *Configuration) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// LoadFromEnv loads configuration from environment variables, overriding
// any values already set by LoadFromFile.
func (c *Configuration) LoadFromEnv() error {
	if val := os.Getenv("XSPCORE_LOG_LEVEL"); val != "" {
		c.Global.LogLevel = val
	}
	if val := os.Getenv("XSPCORE_LOG_FILE"); val != "" {
		c.Global.LogFile = val
	}
	if val := os.Getenv("XSPCORE_METRICS_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.MetricsPort = port
		}
	}
	if val := os.Getenv("XSPCORE_HEALTH_PORT"); val != "" {
		if port, err := strconv.Atoi(val); err == nil {
			c.Global.HealthPort = port
		}
	}
	if val := os.Getenv("XSPCORE_STORE_ROOTS"); val != "" {
		c.Store.Roots = strings.Split(val, ",")
	}
	if val := os.Getenv("XSPCORE_GC_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.GC.Interval = d
		}
	}
	if val := os.Getenv("XSPCORE_GC_ENABLED"); val != "" {
		c.GC.Enabled = strings.ToLower(val) == "true"
	}
	if val := os.Getenv("XSPCORE_UPSYNC_FLUSH_INTERVAL"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.Upsync.FlushInterval = d
		}
	}
	if val := os.Getenv("XSPCORE_IPC_CALL_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			c.IPC.CallTimeout = d
		}
	}
	if val := os.Getenv("XSPCORE_CIRCUIT_BREAKER_ENABLED"); val != "" {
		c.Network.CircuitBreaker.Enabled = strings.ToLower(val) == "true"
	}

	return nil
}

// SaveToFile saves the configuration to a YAML file.
func (c *Configuration) SaveToFile(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0750); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(filename, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration.
func (c *Configuration) Validate() error {
	if len(c.Store.Roots) == 0 {
		return fmt.Errorf("store.roots must name at least one namespace root")
	}
	if err := c.Store.DefaultFolders.Validate(); err != nil {
		return fmt.Errorf("store.default_folders: %w", err)
	}
	if c.Global.MetricsPort == c.Global.HealthPort {
		return fmt.Errorf("metrics_port and health_port cannot be the same")
	}
	if c.Global.MetricsPort == c.Global.DiagnosticPort || c.Global.HealthPort == c.Global.DiagnosticPort {
		return fmt.Errorf("diagnostic_port must differ from metrics_port and health_port")
	}
	if c.IPC.MaxDuplicateRetries <= 0 {
		return fmt.Errorf("ipc.max_duplicate_retries must be greater than 0")
	}
	if c.Network.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("network.retry.max_attempts must be greater than 0")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	logLevelValid := false
	for _, level := range validLogLevels {
		if c.Global.LogLevel == level {
			logLevelValid = true
			break
		}
	}
	if !logLevelValid {
		return fmt.Errorf("invalid log_level: %s (must be one of: %s)",
			c.Global.LogLevel, strings.Join(validLogLevels, ", "))
	}

	return nil
}
