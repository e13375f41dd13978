// Package config loads server configuration from the environment and an
// optional symphony.yaml file. Environment variables win over YAML; YAML
// wins over defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/loopsymphony/symphony/pkg/models"
)

// Defaults applied when neither the environment nor YAML sets a value.
const (
	DefaultHost                 = "0.0.0.0"
	DefaultPort                 = 8700
	DefaultModel                = "claude-sonnet-4-20250514"
	DefaultResearchIterations   = 5
	DefaultConfidenceThreshold  = 0.8
	DefaultConfidenceDelta      = 0.05
	DefaultHeartbeatTick        = 60 * time.Second
	DefaultHealthInterval       = 30 * time.Second
	DefaultTaskRetention        = 24 * time.Hour
	DefaultSearchBaseURL        = "https://api.tavily.com/search"
	DefaultApprovalTTL          = time.Hour
	DefaultRoomHeartbeatTimeout = 120 * time.Second
)

// Config is the fully resolved server configuration.
type Config struct {
	Host  string
	Port  int
	Debug bool

	AnthropicAPIKey string
	Model           string
	TavilyAPIKey    string
	SearchBaseURL   string

	// StoreURL empty selects the in-memory store.
	StoreURL string

	ResearchMaxIterations       int
	ResearchConfidenceThreshold float64
	ResearchConfidenceDelta     float64

	HeartbeatTick  time.Duration
	HealthInterval time.Duration
	TaskRetention  time.Duration

	PrivacyStrict bool
	PolicyRules   []models.PolicyRule
}

// yamlConfig is the symphony.yaml shape. All fields are optional.
type yamlConfig struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`
	Model    string `yaml:"model"`
	Research struct {
		MaxIterations       int     `yaml:"max_iterations"`
		ConfidenceThreshold float64 `yaml:"confidence_threshold"`
		ConfidenceDelta     float64 `yaml:"confidence_delta"`
	} `yaml:"research"`
	Privacy struct {
		Strict bool `yaml:"strict"`
	} `yaml:"privacy"`
	Heartbeat struct {
		TickSeconds int `yaml:"tick_seconds"`
	} `yaml:"heartbeat"`
	PolicyRules []models.PolicyRule `yaml:"policy_rules"`
}

// Stats summarizes a loaded configuration for the startup log.
type Stats struct {
	Model         string
	StoreBackend  string
	SearchEnabled bool
	PolicyRules   int
}

// Initialize loads, merges, and validates configuration.
//
// Steps performed:
//  1. Load .env if present (never overrides existing environment)
//  2. Load symphony.yaml from configDir if present
//  3. Apply environment overrides
//  4. Apply defaults
//  5. Validate
func Initialize(configDir string) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Host:                        DefaultHost,
		Port:                        DefaultPort,
		Model:                       DefaultModel,
		SearchBaseURL:               DefaultSearchBaseURL,
		ResearchMaxIterations:       DefaultResearchIterations,
		ResearchConfidenceThreshold: DefaultConfidenceThreshold,
		ResearchConfidenceDelta:     DefaultConfidenceDelta,
		HeartbeatTick:               DefaultHeartbeatTick,
		HealthInterval:              DefaultHealthInterval,
		TaskRetention:               DefaultTaskRetention,
	}

	if err := cfg.applyYAML(filepath.Join(configDir, "symphony.yaml")); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyYAML(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	if y.Server.Host != "" {
		c.Host = y.Server.Host
	}
	if y.Server.Port != 0 {
		c.Port = y.Server.Port
	}
	if y.Model != "" {
		c.Model = y.Model
	}
	if y.Research.MaxIterations != 0 {
		c.ResearchMaxIterations = y.Research.MaxIterations
	}
	if y.Research.ConfidenceThreshold != 0 {
		c.ResearchConfidenceThreshold = y.Research.ConfidenceThreshold
	}
	if y.Research.ConfidenceDelta != 0 {
		c.ResearchConfidenceDelta = y.Research.ConfidenceDelta
	}
	if y.Heartbeat.TickSeconds != 0 {
		c.HeartbeatTick = time.Duration(y.Heartbeat.TickSeconds) * time.Second
	}
	c.PrivacyStrict = c.PrivacyStrict || y.Privacy.Strict
	c.PolicyRules = append(c.PolicyRules, y.PolicyRules...)
	return nil
}

func (c *Config) applyEnv() error {
	c.AnthropicAPIKey = getenv("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.TavilyAPIKey = getenv("TAVILY_API_KEY", c.TavilyAPIKey)
	c.StoreURL = getenv("STORE_URL", c.StoreURL)
	c.Model = getenv("SYMPHONY_MODEL", c.Model)
	c.Host = getenv("SYMPHONY_HOST", c.Host)
	c.SearchBaseURL = getenv("SEARCH_BASE_URL", c.SearchBaseURL)

	var err error
	if c.Port, err = intEnv("SYMPHONY_PORT", c.Port); err != nil {
		return err
	}
	if c.ResearchMaxIterations, err = intEnv("RESEARCH_MAX_ITERATIONS", c.ResearchMaxIterations); err != nil {
		return err
	}
	if c.ResearchConfidenceThreshold, err = floatEnv("RESEARCH_CONFIDENCE_THRESHOLD", c.ResearchConfidenceThreshold); err != nil {
		return err
	}
	if c.ResearchConfidenceDelta, err = floatEnv("RESEARCH_CONFIDENCE_DELTA_THRESHOLD", c.ResearchConfidenceDelta); err != nil {
		return err
	}
	if c.HeartbeatTick, err = durationEnv("AUTONOMIC_HEARTBEAT_INTERVAL", c.HeartbeatTick); err != nil {
		return err
	}
	if c.HealthInterval, err = durationEnv("AUTONOMIC_HEALTH_INTERVAL", c.HealthInterval); err != nil {
		return err
	}
	if v := os.Getenv("PRIVACY_STRICT"); v != "" {
		strict, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("PRIVACY_STRICT: %w", err)
		}
		c.PrivacyStrict = strict
	}
	if v := os.Getenv("SYMPHONY_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("SYMPHONY_DEBUG: %w", err)
		}
		c.Debug = debug
	}
	return nil
}

func (c *Config) validate() error {
	if c.AnthropicAPIKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.ResearchMaxIterations < 1 || c.ResearchMaxIterations > 50 {
		return fmt.Errorf("research max iterations %d out of range [1,50]", c.ResearchMaxIterations)
	}
	if c.ResearchConfidenceThreshold <= 0 || c.ResearchConfidenceThreshold > 1 {
		return fmt.Errorf("confidence threshold %.2f out of range (0,1]", c.ResearchConfidenceThreshold)
	}
	if c.ResearchConfidenceDelta <= 0 || c.ResearchConfidenceDelta >= 1 {
		return fmt.Errorf("confidence delta %.3f out of range (0,1)", c.ResearchConfidenceDelta)
	}
	for _, rule := range c.PolicyRules {
		if rule.Name == "" {
			return fmt.Errorf("policy rule with empty name")
		}
		switch rule.Action {
		case models.PolicyAllow, models.PolicyDeny, models.PolicyRequireApproval:
		default:
			return fmt.Errorf("policy rule %q has unknown action %q", rule.Name, rule.Action)
		}
	}
	return nil
}

// Stats returns the startup-log summary.
func (c *Config) Stats() Stats {
	backend := "memory"
	if c.StoreURL != "" {
		backend = "postgres"
	}
	return Stats{
		Model:         c.Model,
		StoreBackend:  backend,
		SearchEnabled: c.TavilyAPIKey != "",
		PolicyRules:   len(c.PolicyRules),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func floatEnv(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return f, nil
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	// Accept bare seconds or Go duration syntax.
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
