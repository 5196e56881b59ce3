package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Relay struct {
		URL             string        `yaml:"url"`
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		UploadDir       string        `yaml:"upload_dir"`
	} `yaml:"relay"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
	} `yaml:"webrtc"`

	Audio struct {
		SampleRate        int           `yaml:"sample_rate"`
		Channels          int           `yaml:"channels"`
		FrameSize         int           `yaml:"frame_size"`
		Format            string        `yaml:"format"` // "wav" or "opus"
		OutputDir         string        `yaml:"output_dir"`
		MuteRecoveryDelay time.Duration `yaml:"mute_recovery_delay"`
	} `yaml:"audio"`

	Upload struct {
		Enabled bool   `yaml:"enabled"`
		URL     string `yaml:"url"`
	} `yaml:"upload"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		PrometheusPort    int    `yaml:"prometheus_port"`
		TracingEnabled    bool   `yaml:"tracing_enabled"`
		JaegerEndpoint    string `yaml:"jaeger_endpoint"`
	} `yaml:"monitoring"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		Enabled   bool   `yaml:"enabled"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled             bool    `yaml:"enabled"`
		MessagesPerSecond   float64 `yaml:"messages_per_second"`
		Burst               int     `yaml:"burst"`
		MaxMessageSizeBytes int64   `yaml:"max_message_size_bytes"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Relay.URL == "" && c.Relay.Address == "" {
		return fmt.Errorf("one of relay.url or relay.address must be set")
	}
	if c.Relay.PingInterval <= 0 {
		return fmt.Errorf("relay.ping_interval must be > 0")
	}
	if c.Relay.PongTimeout <= 0 {
		return fmt.Errorf("relay.pong_timeout must be > 0")
	}
	if c.Relay.ShutdownTimeout <= 0 {
		return fmt.Errorf("relay.shutdown_timeout must be > 0")
	}

	switch c.Audio.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		return fmt.Errorf("audio.sample_rate must be one of 8000, 12000, 16000, 24000, 48000")
	}
	if c.Audio.Channels != 1 && c.Audio.Channels != 2 {
		return fmt.Errorf("audio.channels must be 1 or 2")
	}
	if c.Audio.FrameSize <= 0 {
		return fmt.Errorf("audio.frame_size must be > 0")
	}
	if c.Audio.Format != "wav" && c.Audio.Format != "opus" {
		return fmt.Errorf("audio.format must be \"wav\" or \"opus\"")
	}
	if c.Audio.MuteRecoveryDelay <= 0 {
		return fmt.Errorf("audio.mute_recovery_delay must be > 0")
	}

	if c.Upload.Enabled && c.Upload.URL == "" {
		return fmt.Errorf("upload.url must not be empty when upload.enabled=true")
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort <= 0 {
		return fmt.Errorf("monitoring.prometheus_port must be > 0 when prometheus_enabled=true")
	}
	if c.Monitoring.TracingEnabled && c.Monitoring.JaegerEndpoint == "" {
		return fmt.Errorf("monitoring.jaeger_endpoint must not be empty when tracing_enabled=true")
	}

	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret must not be empty when auth.enabled=true")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.MaxMessageSizeBytes < 0 {
			return fmt.Errorf("rate_limiting.max_message_size_bytes must be >= 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Relay.URL = "ws://localhost:8081/ws"
	cfg.Relay.Address = ":8081"
	cfg.Relay.PingInterval = 30 * time.Second
	cfg.Relay.PongTimeout = 60 * time.Second
	cfg.Relay.ShutdownTimeout = 30 * time.Second
	cfg.Relay.UploadDir = "uploads"

	cfg.WebRTC.ICEServers = []struct {
		URLs       []string `yaml:"urls"`
		Username   string   `yaml:"username,omitempty"`
		Credential string   `yaml:"credential,omitempty"`
	}{
		{URLs: []string{"stun:stun.l.google.com:19302"}},
	}

	cfg.Audio.SampleRate = 48000
	cfg.Audio.Channels = 2
	cfg.Audio.FrameSize = 960 // 20ms at 48kHz
	cfg.Audio.Format = "wav"
	cfg.Audio.OutputDir = "."
	cfg.Audio.MuteRecoveryDelay = 2 * time.Second

	cfg.Upload.Enabled = false
	cfg.Upload.URL = "http://localhost:8081/api/v1/upload"

	cfg.Monitoring.PrometheusEnabled = false
	cfg.Monitoring.PrometheusPort = 9090
	cfg.Monitoring.TracingEnabled = false
	cfg.Monitoring.JaegerEndpoint = "http://localhost:14268/api/traces"

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.DB = 0
	cfg.Redis.PoolSize = 10

	cfg.Auth.Enabled = false
	cfg.Auth.JWTSecret = ""

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.MessagesPerSecond = 100
	cfg.RateLimiting.Burst = 200
	cfg.RateLimiting.MaxMessageSizeBytes = 64 * 1024

	return cfg
}

func (c *Config) applyEnvOverrides() {
	// Apply environment variable overrides
	if url := os.Getenv("RECORDING_RELAY_URL"); url != "" {
		c.Relay.URL = url
	}
	if addr := os.Getenv("RECORDING_RELAY_ADDRESS"); addr != "" {
		c.Relay.Address = addr
	}
	if level := os.Getenv("RECORDING_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if secret := os.Getenv("RECORDING_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if dir := os.Getenv("RECORDING_OUTPUT_DIR"); dir != "" {
		c.Audio.OutputDir = dir
	}
}
