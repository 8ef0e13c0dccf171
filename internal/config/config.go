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

// Config captures the settings required to boot the healing engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Detector  DetectorConfig  `yaml:"detector"`
	Policies  PoliciesConfig  `yaml:"policies"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	Billing   BillingConfig   `yaml:"billing"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Store     StoreConfig     `yaml:"store"`
	Simulator SimulatorConfig `yaml:"simulator"`
}

// ServerConfig controls the HTTP listener behaviour.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DetectorConfig tunes the anomaly classifier.
type DetectorConfig struct {
	SLAThresholdMs     map[string]int `yaml:"slaThresholdMs"`
	DefaultThresholdMs int            `yaml:"defaultThresholdMs"`
	NoiseProbability   float64        `yaml:"noiseProbability"`
}

// PoliciesConfig controls policy-pack loading for the resolver.
type PoliciesConfig struct {
	Path string `yaml:"path"`
}

// ReasoningConfig configures the external action-suggestion collaborator.
type ReasoningConfig struct {
	Enabled bool          `yaml:"enabled"`
	BaseURL string        `yaml:"baseURL"`
	APIKey  string        `yaml:"apiKey"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// BillingConfig configures the monetization collaborator.
type BillingConfig struct {
	BaseURL   string        `yaml:"baseURL"`
	APIKey    string        `yaml:"apiKey"`
	UserID    string        `yaml:"userID"`
	BasePrice float64       `yaml:"basePrice"`
	Timeout   time.Duration `yaml:"timeout"`
}

// WebhookConfig configures the outbound notification target.
type WebhookConfig struct {
	URL     string        `yaml:"url"`
	Timeout time.Duration `yaml:"timeout"`
}

// StoreConfig locates the durable healing logs.
type StoreConfig struct {
	DataDir string `yaml:"dataDir"`
}

// SimulatorConfig tunes the background healing loop.
type SimulatorConfig struct {
	Workflows    []string      `yaml:"workflows"`
	MinInterval  time.Duration `yaml:"minInterval"`
	MaxInterval  time.Duration `yaml:"maxInterval"`
	ErrorBackoff time.Duration `yaml:"errorBackoff"`
	MinLatencyMs int           `yaml:"minLatencyMs"`
	MaxLatencyMs int           `yaml:"maxLatencyMs"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("OPSMEND_HEAL_CONFIG")
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
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Address:         ":8080",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Detector: DetectorConfig{
			SLAThresholdMs: map[string]int{
				"order_processing": 5500,
				"customer_support": 3500,
				"invoice_approval": 4200,
			},
			DefaultThresholdMs: 4000,
			NoiseProbability:   0.07,
		},
		Policies: PoliciesConfig{Path: "configs/policies/default.yaml"},
		Reasoning: ReasoningConfig{
			Model:   "llama-3.1-70b-versatile",
			Timeout: 6 * time.Second,
		},
		Billing: BillingConfig{
			UserID:    "demo_client",
			BasePrice: 0.05,
			Timeout:   10 * time.Second,
		},
		Webhook: WebhookConfig{Timeout: 8 * time.Second},
		Store:   StoreConfig{DataDir: "data"},
		Simulator: SimulatorConfig{
			Workflows:    []string{"invoice_processing", "order_processing", "customer_support"},
			MinInterval:  5 * time.Second,
			MaxInterval:  10 * time.Second,
			ErrorBackoff: 3 * time.Second,
			MinLatencyMs: 2000,
			MaxLatencyMs: 15000,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("OPSMEND_HEAL_SERVER_ADDRESS"); v != "" {
		cfg.Server.Address = v
	}
	if v := os.Getenv("OPSMEND_HEAL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("OPSMEND_HEAL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("OPSMEND_HEAL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("OPSMEND_HEAL_POLICIES_PATH"); v != "" {
		cfg.Policies.Path = v
	}
	if v := os.Getenv("OPSMEND_HEAL_DATA_DIR"); v != "" {
		cfg.Store.DataDir = v
	}
	if v := os.Getenv("OPSMEND_HEAL_NOISE_PROBABILITY"); v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Detector.NoiseProbability = p
		}
	}
	if v := os.Getenv("OPSMEND_HEAL_REASONING_BASE_URL"); v != "" {
		cfg.Reasoning.BaseURL = v
	}
	if v := os.Getenv("OPSMEND_HEAL_REASONING_API_KEY"); v != "" {
		cfg.Reasoning.APIKey = v
		cfg.Reasoning.Enabled = true
	}
	if v := os.Getenv("OPSMEND_HEAL_REASONING_MODEL"); v != "" {
		cfg.Reasoning.Model = v
	}
	if v := os.Getenv("OPSMEND_HEAL_REASONING_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Reasoning.Timeout = d
		}
	}
	if v := os.Getenv("OPSMEND_HEAL_BILLING_BASE_URL"); v != "" {
		cfg.Billing.BaseURL = v
	}
	if v := os.Getenv("OPSMEND_HEAL_BILLING_API_KEY"); v != "" {
		cfg.Billing.APIKey = v
	}
	if v := os.Getenv("OPSMEND_HEAL_BILLING_USER_ID"); v != "" {
		cfg.Billing.UserID = v
	}
	if v := os.Getenv("OPSMEND_HEAL_BILLING_BASE_PRICE"); v != "" {
		if p, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Billing.BasePrice = p
		}
	}
	if v := os.Getenv("OPSMEND_HEAL_WEBHOOK_URL"); v != "" {
		cfg.Webhook.URL = v
	}
	if v := os.Getenv("OPSMEND_HEAL_WEBHOOK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Webhook.Timeout = d
		}
	}
	if v := os.Getenv("OPSMEND_HEAL_SIM_MIN_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Simulator.MinInterval = d
		}
	}
	if v := os.Getenv("OPSMEND_HEAL_SIM_MAX_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Simulator.MaxInterval = d
		}
	}
	if v := os.Getenv("OPSMEND_HEAL_SIM_WORKFLOWS"); v != "" {
		parts := strings.Split(v, ",")
		workflows := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				workflows = append(workflows, trimmed)
			}
		}
		if len(workflows) > 0 {
			cfg.Simulator.Workflows = workflows
		}
	}
}
