package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines server configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Transport  TransportConfig  `yaml:"transport"`
	DB         DBConfig         `yaml:"db"`
	Log        LogConfig        `yaml:"log"`
	Capture    CaptureConfig    `yaml:"capture"`
	Gate       GateConfig       `yaml:"gate"`
	Clustering ClusteringConfig `yaml:"clustering"`
	LLM        LLMConfig        `yaml:"llm"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// TransportConfig selects how the MCP server is exposed.
type TransportConfig struct {
	Mode string `yaml:"mode"` // "stdio" or "http"
}

type DBConfig struct {
	Path string `yaml:"path"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// CaptureConfig tunes admission and batching.
type CaptureConfig struct {
	MinBatchSize   int `yaml:"min_batch_size"`
	FlushTimeoutMs int `yaml:"flush_timeout_ms"`
	// DuplicateThresholds maps a backpressure level name (normal,
	// elevated, high) to a max fingerprint distance.
	DuplicateThresholds map[string]int `yaml:"duplicate_thresholds"`
	PopularApps         []string       `yaml:"popular_apps"`
}

// GateConfig tunes per-capability call admission.
type GateConfig struct {
	DefaultCapacity      int            `yaml:"default_capacity"`
	DefaultCallTimeoutMs int            `yaml:"default_call_timeout_ms"`
	Capacities           map[string]int `yaml:"capacities"`
	CallTimeoutsMs       map[string]int `yaml:"call_timeouts_ms"`
	FailureThreshold     int            `yaml:"failure_threshold"`
	FailureWindowMs      int            `yaml:"failure_window_ms"`
}

// ClusteringConfig bounds the thread assignment payload.
type ClusteringConfig struct {
	MaxActiveThreads      int `yaml:"max_active_threads"`
	FallbackRecentThreads int `yaml:"fallback_recent_threads"`
	RecentNodesPerThread  int `yaml:"recent_nodes_per_thread"`
}

// LLMConfig names the reasoning model and its credentials.
type LLMConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// FlushTimeout returns the batch flush timeout as a duration.
func (c CaptureConfig) FlushTimeout() time.Duration {
	return time.Duration(c.FlushTimeoutMs) * time.Millisecond
}

// CallTimeouts returns the per-capability timeouts as durations.
func (c GateConfig) CallTimeouts() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.CallTimeoutsMs))
	for capability, ms := range c.CallTimeoutsMs {
		out[capability] = time.Duration(ms) * time.Millisecond
	}
	return out
}

// DefaultCallTimeout returns the fallback call timeout as a duration.
func (c GateConfig) DefaultCallTimeout() time.Duration {
	return time.Duration(c.DefaultCallTimeoutMs) * time.Millisecond
}

// FailureWindow returns the breaker window as a duration.
func (c GateConfig) FailureWindow() time.Duration {
	return time.Duration(c.FailureWindowMs) * time.Millisecond
}

// Load reads configuration from an optional YAML file and environment variables.
func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Transport: TransportConfig{
			Mode: "stdio",
		},
		DB: DBConfig{
			Path: "mnemora.db",
		},
		Log: LogConfig{
			Level: "info",
		},
		Capture: CaptureConfig{
			MinBatchSize:   5,
			FlushTimeoutMs: 90_000,
			DuplicateThresholds: map[string]int{
				"normal":   6,
				"elevated": 10,
				"high":     16,
			},
		},
		Gate: GateConfig{
			DefaultCapacity:      2,
			DefaultCallTimeoutMs: 60_000,
			Capacities: map[string]int{
				"text":      2,
				"vision":    1,
				"embedding": 4,
			},
			CallTimeoutsMs: map[string]int{
				"text":      60_000,
				"vision":    90_000,
				"embedding": 30_000,
			},
			FailureThreshold: 5,
			FailureWindowMs:  120_000,
		},
		Clustering: ClusteringConfig{
			MaxActiveThreads:      8,
			FallbackRecentThreads: 5,
			RecentNodesPerThread:  6,
		},
		LLM: LLMConfig{
			Model: "gemini-2.5-flash",
		},
	}

	if path := os.Getenv("MNEMORA_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if mode := os.Getenv("MNEMORA_TRANSPORT"); mode != "" {
		cfg.Transport.Mode = mode
	}
	if dbPath := os.Getenv("MNEMORA_DB_PATH"); dbPath != "" {
		cfg.DB.Path = dbPath
	}
	if level := os.Getenv("MNEMORA_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		cfg.LLM.APIKey = key
	}
	if model := os.Getenv("MNEMORA_LLM_MODEL"); model != "" {
		cfg.LLM.Model = model
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
