package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Signal struct {
		Address         string        `yaml:"address"`
		PingInterval    time.Duration `yaml:"ping_interval"`
		PongTimeout     time.Duration `yaml:"pong_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"signal"`

	WebRTC struct {
		ICEServers []struct {
			URLs       []string `yaml:"urls"`
			Username   string   `yaml:"username,omitempty"`
			Credential string   `yaml:"credential,omitempty"`
		} `yaml:"ice_servers"`
		PortRange struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
	} `yaml:"webrtc"`

	Call struct {
		RingingTimeout time.Duration `yaml:"ringing_timeout"`
		AnswerTimeout  time.Duration `yaml:"answer_timeout"`
		StatsInterval  time.Duration `yaml:"stats_interval"`
	} `yaml:"call"`

	Audio struct {
		ClipLevel       float64       `yaml:"clip_level"`
		SmoothingFactor float64       `yaml:"smoothing_factor"`
		ClipLag         time.Duration `yaml:"clip_lag"`
		ReportLag       time.Duration `yaml:"report_lag"`
		SampleRate      int           `yaml:"sample_rate"`
	} `yaml:"audio"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
	} `yaml:"redis"`

	Auth struct {
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled           bool    `yaml:"enabled"`
		MessagesPerSecond float64 `yaml:"messages_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"rate_limiting"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration usable without a config file.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.Signal.Address = ":8081"
	cfg.Signal.PingInterval = 30 * time.Second
	cfg.Signal.PongTimeout = 60 * time.Second
	cfg.Signal.ShutdownTimeout = 10 * time.Second
	cfg.Call.RingingTimeout = 30 * time.Second
	cfg.Call.AnswerTimeout = 30 * time.Second
	cfg.Call.StatsInterval = time.Second
	cfg.Audio.ClipLevel = 0.98
	cfg.Audio.SmoothingFactor = 0.95
	cfg.Audio.ClipLag = 750 * time.Millisecond
	cfg.Audio.ReportLag = 25 * time.Millisecond
	cfg.Audio.SampleRate = 48000
	cfg.Auth.TokenTTL = 24 * time.Hour
	cfg.RateLimiting.MessagesPerSecond = 50
	cfg.RateLimiting.Burst = 100
	cfg.Logging.Level = "info"
	return cfg
}

// Load reads and validates a YAML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Signal.Address == "" {
		return fmt.Errorf("signal.address must not be empty")
	}
	if c.Signal.PingInterval <= 0 {
		return fmt.Errorf("signal.ping_interval must be > 0")
	}
	if c.Signal.PongTimeout <= 0 {
		return fmt.Errorf("signal.pong_timeout must be > 0")
	}

	if c.Call.RingingTimeout <= 0 {
		return fmt.Errorf("call.ringing_timeout must be > 0")
	}
	if c.Call.AnswerTimeout <= 0 {
		return fmt.Errorf("call.answer_timeout must be > 0")
	}
	if c.Call.StatsInterval < time.Second {
		return fmt.Errorf("call.stats_interval must be >= 1s")
	}

	if c.Audio.ClipLevel <= 0 || c.Audio.ClipLevel > 1 {
		return fmt.Errorf("audio.clip_level must be in (0,1]")
	}
	if c.Audio.SmoothingFactor < 0 || c.Audio.SmoothingFactor >= 1 {
		return fmt.Errorf("audio.smoothing_factor must be in [0,1)")
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be > 0")
	}

	if c.WebRTC.PortRange.Min > c.WebRTC.PortRange.Max {
		return fmt.Errorf("webrtc.port_range.min must be <= max")
	}

	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address must not be empty when redis is enabled")
	}

	if c.RateLimiting.Enabled {
		if c.RateLimiting.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.messages_per_second must be > 0")
		}
		if c.RateLimiting.Burst <= 0 {
			return fmt.Errorf("rate_limiting.burst must be > 0")
		}
	}

	return nil
}
