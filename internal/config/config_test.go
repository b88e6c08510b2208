package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNewDefault(t *testing.T) {
	cfg := NewDefault()

	if cfg.Global.LogLevel != "INFO" {
		t.Errorf("Expected LogLevel to be INFO, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9090 {
		t.Errorf("Expected MetricsPort to be 9090, got %d", cfg.Global.MetricsPort)
	}
	if cfg.Global.HealthPort != 9091 {
		t.Errorf("Expected HealthPort to be 9091, got %d", cfg.Global.HealthPort)
	}

	if len(cfg.Store.Roots) != 1 {
		t.Fatalf("expected one default root, got %d", len(cfg.Store.Roots))
	}
	if cfg.Store.DefaultFolders.NumOfSplits != 2 || cfg.Store.DefaultFolders.CharsInSplit != 2 {
		t.Errorf("unexpected default folders config: %+v", cfg.Store.DefaultFolders)
	}

	if !cfg.GC.Enabled {
		t.Error("Expected GC to be enabled by default")
	}
	if cfg.IPC.MaxDuplicateRetries != 100 {
		t.Errorf("Expected MaxDuplicateRetries to be 100, got %d", cfg.IPC.MaxDuplicateRetries)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default configuration should validate, got: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  func() *Configuration
		wantErr bool
	}{
		{
			name:    "valid config",
			config:  func() *Configuration { return NewDefault() },
			wantErr: false,
		},
		{
			name: "empty store roots",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Store.Roots = nil
				return cfg
			},
			wantErr: true,
		},
		{
			name: "same metrics and health ports",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.HealthPort = cfg.Global.MetricsPort
				return cfg
			},
			wantErr: true,
		},
		{
			name: "oversized sharding",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Store.DefaultFolders.NumOfSplits = 100
				cfg.Store.DefaultFolders.CharsInSplit = 100
				return cfg
			},
			wantErr: true,
		},
		{
			name: "invalid log level",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.Global.LogLevel = "INVALID"
				return cfg
			},
			wantErr: true,
		},
		{
			name: "zero duplicate retry budget",
			config: func() *Configuration {
				cfg := NewDefault()
				cfg.IPC.MaxDuplicateRetries = 0
				return cfg
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config().Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "config.yaml")

	configContent := `
global:
  log_level: DEBUG
  metrics_port: 9190
  health_port: 9191

store:
  roots:
    - /data/one
    - /data/two

gc:
  enabled: false
`

	if err := os.WriteFile(configFile, []byte(configContent), 0600); err != nil {
		t.Fatalf("Failed to write test config file: %v", err)
	}

	cfg := NewDefault()
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9190 {
		t.Errorf("Expected MetricsPort to be 9190, got %d", cfg.Global.MetricsPort)
	}
	if len(cfg.Store.Roots) != 2 || cfg.Store.Roots[1] != "/data/two" {
		t.Errorf("unexpected roots: %+v", cfg.Store.Roots)
	}
	if cfg.GC.Enabled {
		t.Error("Expected GC to be disabled")
	}
}

func TestLoadFromFileNonExistent(t *testing.T) {
	cfg := NewDefault()
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error when loading non-existent config file")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("XSPCORE_LOG_LEVEL", "ERROR")
	t.Setenv("XSPCORE_METRICS_PORT", "9290")
	t.Setenv("XSPCORE_STORE_ROOTS", "/data/a,/data/b,/data/c")
	t.Setenv("XSPCORE_GC_INTERVAL", "2m")
	t.Setenv("XSPCORE_GC_ENABLED", "false")
	t.Setenv("XSPCORE_IPC_CALL_TIMEOUT", "5s")
	t.Setenv("XSPCORE_CIRCUIT_BREAKER_ENABLED", "false")

	cfg := NewDefault()
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if cfg.Global.LogLevel != "ERROR" {
		t.Errorf("Expected LogLevel to be ERROR, got %s", cfg.Global.LogLevel)
	}
	if cfg.Global.MetricsPort != 9290 {
		t.Errorf("Expected MetricsPort to be 9290, got %d", cfg.Global.MetricsPort)
	}
	if len(cfg.Store.Roots) != 3 {
		t.Errorf("Expected 3 roots, got %d", len(cfg.Store.Roots))
	}
	if cfg.GC.Interval != 2*time.Minute {
		t.Errorf("Expected 2m, got %v", cfg.GC.Interval)
	}
	if cfg.GC.Enabled {
		t.Error("Expected GC to be disabled via environment variable")
	}
	if cfg.IPC.CallTimeout != 5*time.Second {
		t.Errorf("Expected 5s, got %v", cfg.IPC.CallTimeout)
	}
	if cfg.Network.CircuitBreaker.Enabled {
		t.Error("Expected circuit breaker to be disabled via environment variable")
	}
}

func TestSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "saved_config.yaml")

	cfg := NewDefault()
	cfg.Global.LogLevel = "DEBUG"
	cfg.Store.Roots = []string{"/data/custom"}

	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}

	newCfg := NewDefault()
	if err := newCfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("Failed to load saved config: %v", err)
	}
	if newCfg.Global.LogLevel != "DEBUG" {
		t.Errorf("Expected LogLevel to be DEBUG, got %s", newCfg.Global.LogLevel)
	}
	if len(newCfg.Store.Roots) != 1 || newCfg.Store.Roots[0] != "/data/custom" {
		t.Errorf("unexpected roots: %+v", newCfg.Store.Roots)
	}
}

func TestSaveToFileCreateDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	configFile := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := NewDefault()
	if err := cfg.SaveToFile(configFile); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		t.Error("Config file was not created")
	}
	if _, err := os.Stat(filepath.Dir(configFile)); os.IsNotExist(err) {
		t.Error("Config directory was not created")
	}
}
