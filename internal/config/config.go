package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Supported values for the enumerated settings.
const (
	ModeStdin  = "stdin"
	ModeStream = "stream"

	GroundingFlag   = "flag"
	GroundingReject = "reject"
)

// LLMConfig selects and tunes the LLM backend.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`    // ollama, openai, anthropic or gemini (LLM_PROVIDER)
	BaseURL     string        `yaml:"base_url"`    // LLM_BASE_URL
	Model       string        `yaml:"model"`       // LLM_MODEL
	APIKey      string        `yaml:"api_key"`     // LLM_API_KEY
	MaxTokens   int           `yaml:"max_tokens"`  // Response budget (LLM_MAX_TOKENS)
	Temperature float64       `yaml:"temperature"` // LLM_TEMPERATURE
	Timeout     time.Duration `yaml:"timeout"`     // Per request (LLM_TIMEOUT, seconds)
	MaxRetries  int           `yaml:"max_retries"`
}

// GraphConfig points at the external graph service.
type GraphConfig struct {
	URL      string        `yaml:"url"` // Empty disables graph lookups (ATLAS_GRAPH_URL)
	MaxDepth int           `yaml:"max_depth"`
	MaxItems int           `yaml:"max_items"`
	Timeout  time.Duration `yaml:"timeout"`
}

// ConsumerConfig tunes the inbound stream consumer.
type ConsumerConfig struct {
	Name            string        `yaml:"name"`        // ATLAS_AI_CONSUMER
	Concurrency     int           `yaml:"concurrency"` // ATLAS_AI_CONCURRENCY
	ReadCount       int64         `yaml:"read_count"`
	Block           time.Duration `yaml:"block"`
	ReclaimInterval time.Duration `yaml:"reclaim_interval"`
	MinIdle         time.Duration `yaml:"min_idle"`
	MaxDeliveries   int64         `yaml:"max_deliveries"`
}

// PublisherConfig bounds outbound retention.
type PublisherConfig struct {
	StreamMaxLen int64         `yaml:"stream_max_len"`
	ArtifactTTL  time.Duration `yaml:"artifact_ttl"`
}

// LogConfig controls the zap logger.
type LogConfig struct {
	Level  string `yaml:"level"`  // ATLAS_AI_LOG_LEVEL
	Format string `yaml:"format"` // json or console (ATLAS_AI_LOG_FORMAT)
}

// Config is the complete runtime configuration. Values come from built-in
// defaults, then an optional YAML file, then environment variables.
type Config struct {
	Mode         string          `yaml:"mode"` // ATLAS_AI_MODE
	RedisURL     string          `yaml:"redis_url"`
	PromptBudget int             `yaml:"prompt_budget"` // Prompt token ceiling (ATLAS_AI_PROMPT_BUDGET)
	CacheTTL     time.Duration   `yaml:"cache_ttl"`     // ATLAS_AI_CACHE_TTL
	Grounding    string          `yaml:"grounding"`     // flag or reject (ATLAS_AI_GROUNDING)
	HealthAddr   string          `yaml:"health_addr"`   // ATLAS_AI_HEALTH_ADDR
	LLM          LLMConfig       `yaml:"llm"`
	Graph        GraphConfig     `yaml:"graph"`
	Consumer     ConsumerConfig  `yaml:"consumer"`
	Publisher    PublisherConfig `yaml:"publisher"`
	Log          LogConfig       `yaml:"log"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Mode:         ModeStdin,
		RedisURL:     "redis://localhost:6379",
		PromptBudget: 6000,
		CacheTTL:     24 * time.Hour,
		Grounding:    GroundingFlag,
		HealthAddr:   ":8080",
		LLM: LLMConfig{
			Provider:    "ollama",
			BaseURL:     "http://localhost:11434",
			Model:       "mistral",
			MaxTokens:   2048,
			Temperature: 0.3,
			Timeout:     120 * time.Second,
			MaxRetries:  3,
		},
		Graph: GraphConfig{
			MaxDepth: 2,
			MaxItems: 50,
			Timeout:  10 * time.Second,
		},
		Consumer: ConsumerConfig{
			Name:            "atlas-ai-1",
			Concurrency:     4,
			ReadCount:       1,
			Block:           5 * time.Second,
			ReclaimInterval: 30 * time.Second,
			MinIdle:         10 * time.Minute,
			MaxDeliveries:   5,
		},
		Publisher: PublisherConfig{
			StreamMaxLen: 10000,
			ArtifactTTL:  7 * 24 * time.Hour,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load builds the configuration from defaults, the YAML file named by
// ATLAS_AI_CONFIG (if set) and the environment, applies overrides in order,
// then validates the result.
func Load(overrides ...func(*Config)) (*Config, error) {
	return LoadFrom(os.Getenv("ATLAS_AI_CONFIG"), overrides...)
}

// LoadFrom is Load with an explicit YAML path. An empty path skips the file.
func LoadFrom(path string, overrides ...func(*Config)) (*Config, error) {
	cfg, err := Resolve(path, overrides...)
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Resolve is LoadFrom without validation, for reporting what is configured.
func Resolve(path string, overrides ...func(*Config)) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}

	for _, override := range overrides {
		override(cfg)
	}

	return cfg, nil
}

// LoadFile overlays the YAML file at path onto c. Keys absent from the file
// keep their current values.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}

	return nil
}

// ApplyEnv overlays every set environment variable onto c.
func (c *Config) ApplyEnv() error {
	setString(&c.Mode, "ATLAS_AI_MODE")
	setString(&c.RedisURL, "ATLAS_REDIS_URL")
	setString(&c.Grounding, "ATLAS_AI_GROUNDING")
	setString(&c.HealthAddr, "ATLAS_AI_HEALTH_ADDR")
	setString(&c.Graph.URL, "ATLAS_GRAPH_URL")
	setString(&c.Consumer.Name, "ATLAS_AI_CONSUMER")
	setString(&c.Log.Level, "ATLAS_AI_LOG_LEVEL")
	setString(&c.Log.Format, "ATLAS_AI_LOG_FORMAT")

	setString(&c.LLM.Provider, "LLM_PROVIDER")
	setString(&c.LLM.BaseURL, "LLM_BASE_URL")
	setString(&c.LLM.Model, "LLM_MODEL")
	setString(&c.LLM.APIKey, "LLM_API_KEY")

	if err := setInt(&c.LLM.MaxTokens, "LLM_MAX_TOKENS"); err != nil {
		return err
	}
	if err := setInt(&c.Consumer.Concurrency, "ATLAS_AI_CONCURRENCY"); err != nil {
		return err
	}
	if err := setInt(&c.PromptBudget, "ATLAS_AI_PROMPT_BUDGET"); err != nil {
		return err
	}

	if v := os.Getenv("LLM_TEMPERATURE"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("LLM_TEMPERATURE must be a number: %w", err)
		}
		c.LLM.Temperature = f
	}

	if v := os.Getenv("LLM_TIMEOUT"); v != "" {
		secs, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("LLM_TIMEOUT must be a whole number of seconds: %w", err)
		}
		c.LLM.Timeout = time.Duration(secs) * time.Second
	}

	if v := os.Getenv("ATLAS_AI_CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("ATLAS_AI_CACHE_TTL must be a duration: %w", err)
		}
		c.CacheTTL = d
	}

	return nil
}

// Validate checks that all settings are present and within range.
// Returns the first validation error encountered.
func (c *Config) Validate() error {
	if c.Mode != ModeStdin && c.Mode != ModeStream {
		return fmt.Errorf("mode must be %q or %q, got %q", ModeStdin, ModeStream, c.Mode)
	}

	switch c.LLM.Provider {
	case "ollama", "openai":
	case "anthropic", "gemini":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("LLM_API_KEY environment variable is required for provider %s", c.LLM.Provider)
		}
	default:
		return fmt.Errorf("unknown LLM provider: %s", c.LLM.Provider)
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("LLM_MODEL environment variable is required")
	}

	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be > 0, got %d", c.LLM.MaxTokens)
	}

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("temperature must be within [0, 2], got %g", c.LLM.Temperature)
	}

	if c.LLM.Timeout <= 0 {
		return fmt.Errorf("LLM timeout must be > 0")
	}

	if c.PromptBudget <= 0 {
		return fmt.Errorf("prompt_budget must be > 0, got %d", c.PromptBudget)
	}

	if c.Grounding != GroundingFlag && c.Grounding != GroundingReject {
		return fmt.Errorf("grounding must be %q or %q, got %q", GroundingFlag, GroundingReject, c.Grounding)
	}

	if c.Mode == ModeStream {
		if c.RedisURL == "" {
			return fmt.Errorf("ATLAS_REDIS_URL environment variable is required in stream mode")
		}
		if c.Consumer.Name == "" {
			return fmt.Errorf("ATLAS_AI_CONSUMER cannot be empty")
		}
		if c.Consumer.Concurrency < 1 {
			return fmt.Errorf("concurrency must be >= 1, got %d", c.Consumer.Concurrency)
		}
		if c.Consumer.ReadCount < 1 {
			return fmt.Errorf("read_count must be >= 1, got %d", c.Consumer.ReadCount)
		}
		if c.Consumer.MaxDeliveries < 1 {
			return fmt.Errorf("max_deliveries must be >= 1, got %d", c.Consumer.MaxDeliveries)
		}
		// An entry must not look idle while its generation is still retrying.
		if worst := c.LLM.Timeout * time.Duration(c.LLM.MaxRetries+1); c.Consumer.MinIdle <= worst {
			return fmt.Errorf("min_idle must exceed the LLM timeout times attempts (%s), got %s", worst, c.Consumer.MinIdle)
		}
	}

	if c.Graph.MaxDepth < 0 || c.Graph.MaxItems < 0 {
		return fmt.Errorf("graph max_depth and max_items must be >= 0")
	}

	if c.Log.Format != "json" && c.Log.Format != "console" {
		return fmt.Errorf("log format must be json or console, got %q", c.Log.Format)
	}

	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s must be an integer: %w", key, err)
	}
	*dst = n
	return nil
}
