package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the remediation service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	LLM       LLMConfig       `yaml:"llm"`
	Runtime   RuntimeConfig   `yaml:"runtime"`
	Verify    VerifyConfig    `yaml:"verify"`
	Runbook   RunbookConfig   `yaml:"runbook"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Hints     HintsConfig     `yaml:"hints"`
	Slack     SlackConfig     `yaml:"slack"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	StatsInterval   time.Duration `yaml:"statsInterval"`
}

// EndpointConfig identifies one OpenAI-compatible chat backend.
type EndpointConfig struct {
	BaseURL string `yaml:"baseURL"`
	APIKey  string `yaml:"apiKey"`
	Model   string `yaml:"model"`
}

// LLMConfig groups the primary and fallback model backends.
type LLMConfig struct {
	Primary          EndpointConfig `yaml:"primary"`
	Fallback         EndpointConfig `yaml:"fallback"`
	Timeout          time.Duration  `yaml:"timeout"`
	Temperature      float32        `yaml:"temperature"`
	LogTruncateChars int            `yaml:"logTruncateChars"`
}

// RuntimeConfig configures access to the container runtime and load balancer.
type RuntimeConfig struct {
	Host            string        `yaml:"host"`
	TargetContainer string        `yaml:"targetContainer"`
	MaxReplicas     int           `yaml:"maxReplicas"`
	Network         string        `yaml:"network"`
	LBContainer     string        `yaml:"lbContainer"`
	AppPort         int           `yaml:"appPort"`
	Timeout         time.Duration `yaml:"timeout"`
}

// VerifyConfig controls the post-action health verification loop.
type VerifyConfig struct {
	HealthURL string        `yaml:"healthURL"`
	Retries   int           `yaml:"retries"`
	Delay     time.Duration `yaml:"delay"`
	Timeout   time.Duration `yaml:"timeout"`
}

// RunbookConfig locates the persisted precedent corpus.
type RunbookConfig struct {
	Path string `yaml:"path"`
}

// RetrievalConfig tunes precedent similarity search.
type RetrievalConfig struct {
	TopK          int     `yaml:"topK"`
	MinSimilarity float64 `yaml:"minSimilarity"`
	MaxFeatures   int     `yaml:"maxFeatures"`
}

// HintsConfig locates the optional diagnosis hint pack.
type HintsConfig struct {
	Path string `yaml:"path"`
}

// SlackConfig controls outbound notifications.
type SlackConfig struct {
	WebhookURL string `yaml:"webhookURL"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_REMEDIATE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)

	if cfg.Runtime.MaxReplicas <= 0 {
		cfg.Runtime.MaxReplicas = 5
	}
	if cfg.Retrieval.TopK <= 0 {
		cfg.Retrieval.TopK = 2
	}
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8001",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
			StatsInterval:   3 * time.Second,
		},
		LLM: LLMConfig{
			Primary: EndpointConfig{
				BaseURL: "https://go.fastrouter.ai/api/v1",
				Model:   "anthropic/claude-sonnet-4-20250514",
			},
			Fallback: EndpointConfig{
				BaseURL: "http://localhost:11434/v1",
				APIKey:  "ollama",
				Model:   "llama3.2:latest",
			},
			Timeout:          60 * time.Second,
			Temperature:      0.2,
			LogTruncateChars: 2000,
		},
		Runtime: RuntimeConfig{
			Host:            "unix:///var/run/docker.sock",
			TargetContainer: "buggy-app-v2",
			MaxReplicas:     5,
			Network:         "aegis-network",
			LBContainer:     "aegis-lb",
			AppPort:         8000,
			Timeout:         30 * time.Second,
		},
		Verify: VerifyConfig{
			HealthURL: "http://buggy-app-v2:8000/health",
			Retries:   3,
			Delay:     5 * time.Second,
			Timeout:   5 * time.Second,
		},
		Runbook: RunbookConfig{Path: "data/runbook.json"},
		Retrieval: RetrievalConfig{
			TopK:          2,
			MinSimilarity: 0.05,
			MaxFeatures:   5000,
		},
		Hints:   HintsConfig{Path: "configs/hints/default.yaml"},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_REMEDIATE_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_STATS_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.StatsInterval = d
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_LLM_BASE_URL"); v != "" {
		cfg.LLM.Primary.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_LLM_API_KEY"); v != "" {
		cfg.LLM.Primary.APIKey = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_LLM_MODEL"); v != "" {
		cfg.LLM.Primary.Model = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_LLM_FALLBACK_URL"); v != "" {
		cfg.LLM.Fallback.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_LLM_FALLBACK_MODEL"); v != "" {
		cfg.LLM.Fallback.Model = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_LLM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.LLM.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_LOG_TRUNCATE_CHARS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.LLM.LogTruncateChars = n
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_RUNTIME_HOST"); v != "" {
		cfg.Runtime.Host = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_TARGET_CONTAINER"); v != "" {
		cfg.Runtime.TargetContainer = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_MAX_REPLICAS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runtime.MaxReplicas = n
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_NETWORK"); v != "" {
		cfg.Runtime.Network = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_LB_CONTAINER"); v != "" {
		cfg.Runtime.LBContainer = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_APP_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runtime.AppPort = n
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_HEALTH_URL"); v != "" {
		cfg.Verify.HealthURL = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_VERIFY_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Verify.Retries = n
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_VERIFY_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Verify.Delay = d
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_HEALTH_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Verify.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_RUNBOOK_PATH"); v != "" {
		cfg.Runbook.Path = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_HINTS_PATH"); v != "" {
		cfg.Hints.Path = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_RETRIEVAL_TOP_K"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Retrieval.TopK = n
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_RETRIEVAL_MIN_SIMILARITY"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Retrieval.MinSimilarity = f
		}
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		cfg.Slack.WebhookURL = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_LOG_FORMAT"); strings.EqualFold(v, "json") {
		cfg.Logging.JSON = true
	}
}
