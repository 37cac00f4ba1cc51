package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"voicebridge/internal/domain"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Appliance ApplianceConfig `yaml:"appliance"`
	Relay     RelayConfig     `yaml:"relay"`
	Resolver  ResolverConfig  `yaml:"resolver"`
	Log       LogConfig       `yaml:"log"`
}

type ServerConfig struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
}

type GeminiConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

type ApplianceConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

type RelayConfig struct {
	AudioQueueSize int    `yaml:"audio_queue_size"`
	InitTimeout    string `yaml:"init_timeout"`
}

type ResolverConfig struct {
	MinScore         float64 `yaml:"min_score"`
	AmbiguityBand    float64 `yaml:"ambiguity_band"`
	AmbiguityFloor   float64 `yaml:"ambiguity_floor"`
	ContainmentBonus float64 `yaml:"containment_bonus"`
	MaxOptions       int     `yaml:"max_options"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.setDefaults()

	return &cfg, nil
}

func (c *Config) setDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Gemini.Model == "" {
		c.Gemini.Model = "gemini-2.5-flash-native-audio-preview-12-2025"
	}
	if c.Appliance.BaseURL == "" {
		c.Appliance.BaseURL = "http://localhost:4040"
	}
	if c.Appliance.Timeout == "" {
		c.Appliance.Timeout = "10s"
	}
	if c.Relay.AudioQueueSize == 0 {
		c.Relay.AudioQueueSize = 20
	}
	if c.Relay.InitTimeout == "" {
		c.Relay.InitTimeout = "5s"
	}

	defaults := domain.DefaultResolverParams()
	if c.Resolver.MinScore == 0 {
		c.Resolver.MinScore = defaults.MinScore
	}
	if c.Resolver.AmbiguityBand == 0 {
		c.Resolver.AmbiguityBand = defaults.AmbiguityBand
	}
	if c.Resolver.AmbiguityFloor == 0 {
		c.Resolver.AmbiguityFloor = defaults.AmbiguityFloor
	}
	if c.Resolver.ContainmentBonus == 0 {
		c.Resolver.ContainmentBonus = defaults.ContainmentBonus
	}
	if c.Resolver.MaxOptions == 0 {
		c.Resolver.MaxOptions = defaults.MaxOptions
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// ApplianceTimeout parses the configured appliance HTTP timeout.
func (c *Config) ApplianceTimeout() time.Duration {
	d, err := time.ParseDuration(c.Appliance.Timeout)
	if err != nil || d <= 0 {
		return 10 * time.Second
	}
	return d
}

// InitTimeout parses the configured relay handshake timeout.
func (c *Config) InitTimeout() time.Duration {
	d, err := time.ParseDuration(c.Relay.InitTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// ResolverParams converts the resolver section into domain parameters.
func (c *Config) ResolverParams() domain.ResolverParams {
	return domain.ResolverParams{
		MinScore:         c.Resolver.MinScore,
		AmbiguityBand:    c.Resolver.AmbiguityBand,
		AmbiguityFloor:   c.Resolver.AmbiguityFloor,
		ContainmentBonus: c.Resolver.ContainmentBonus,
		MaxOptions:       c.Resolver.MaxOptions,
	}
}
