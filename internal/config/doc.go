/*
Package config provides configuration management for a host embedding
xspcore, with multi-source support.

This package implements a hierarchical configuration system that supports
YAML files, environment variables, and validation for every ambient and
domain component named in SPEC_FULL.md: object store roots and default
sharding/generation layout, the garbage collector, the upsync task queue,
the IPC capability connector, and the network resilience (retry/circuit
breaker) settings guarding calls into the out-of-scope remote-storage
service.

# Configuration Architecture

Two-source configuration hierarchy with precedence:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│            (XSPCORE_*)                      │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File                  │
	│            (YAML format)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	│        (Compiled-in defaults)               │
	└─────────────────────────────────────────────┘

# Configuration Structure

Global Settings:
  - Logging configuration (level, file)
  - Service ports (metrics, health, diagnostics)

Store Settings:
  - Namespace roots
  - Default sharded-folder layout for newly created namespaces
  - Idle-eviction TTL for the open-handle cache (spec §4.E)

GC/Upsync Settings:
  - Garbage-collector pass interval
  - Upsync queue flush interval and retry budget

IPC Settings:
  - Call timeout and duplicate-fn_call_num retry cap (spec §4.J)

Network Settings:
  - Retry policy and circuit-breaker parameters for the out-of-scope
    remote-storage capability exposer (spec §1 External collaborators)

Monitoring Settings:
  - Metrics collection settings
  - Health check parameters
  - Logging configuration

# Usage Examples

	cfg := config.NewDefault()

	if err := cfg.LoadFromFile("/etc/xspcore/config.yaml"); err != nil {
		log.Fatal(err)
	}
	if err := cfg.LoadFromEnv(); err != nil {
		log.Fatal(err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}

Configuration file format:

	global:
	  log_level: INFO
	  metrics_port: 9090
	  health_port: 9091

	store:
	  roots:
	    - /var/lib/xspcore
	  default_folders:
	    numofsplits: 2
	    charsinsplit: 2

	gc:
	  enabled: true
	  interval: 30s

Environment variable mapping:

	XSPCORE_LOG_LEVEL="DEBUG"
	XSPCORE_METRICS_PORT="9100"
	XSPCORE_STORE_ROOTS="/data/a,/data/b"
	XSPCORE_GC_INTERVAL="1m"
	XSPCORE_IPC_CALL_TIMEOUT="15s"
	XSPCORE_CIRCUIT_BREAKER_ENABLED="false"
*/
package config
