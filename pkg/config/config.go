package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Host struct {
		ID   string `yaml:"id"`
		Name string `yaml:"name"`
	} `yaml:"host"`

	Sessions struct {
		MaxConcurrent       int           `yaml:"max_concurrent"`
		DefaultFPS          int           `yaml:"default_fps"`
		DefaultQuality      int           `yaml:"default_quality"`
		StartAckTimeout     time.Duration `yaml:"start_ack_timeout"`
		DrainTimeout        time.Duration `yaml:"drain_timeout"`
		MaxCompressFailures int           `yaml:"max_compress_failures"`

		Adaptive struct {
			Enabled       bool          `yaml:"enabled"`
			Window        time.Duration `yaml:"window"`
			BusyThreshold float64       `yaml:"busy_threshold"`
			StableWindows int           `yaml:"stable_windows"`
		} `yaml:"adaptive"`
	} `yaml:"sessions"`

	Pairing struct {
		Timeout           time.Duration `yaml:"timeout"`
		HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
		HeartbeatTimeout  time.Duration `yaml:"heartbeat_timeout"`
		ConnectAttempts   int           `yaml:"connect_attempts"`
		ConnectBackoff    time.Duration `yaml:"connect_backoff"`
		AutoConnect       bool          `yaml:"auto_connect"`
	} `yaml:"pairing"`

	Transport struct {
		WriteTimeout time.Duration `yaml:"write_timeout"`
		InboxSize    int           `yaml:"inbox_size"`

		USB struct {
			DialTimeout time.Duration `yaml:"dial_timeout"`
		} `yaml:"usb"`

		WebSocket struct {
			ListenPath          string        `yaml:"listen_path"`
			DevicePath          string        `yaml:"device_path"`
			DialTimeout         time.Duration `yaml:"dial_timeout"`
			PingInterval        time.Duration `yaml:"ping_interval"`
			PongTimeout         time.Duration `yaml:"pong_timeout"`
			MaxMessageSizeBytes int64         `yaml:"max_message_size_bytes"`
		} `yaml:"websocket"`
	} `yaml:"transport"`

	Capture struct {
		Synthetic bool `yaml:"synthetic"`
		Sources   []struct {
			ID          string `yaml:"id"`
			X           int    `yaml:"x"`
			Y           int    `yaml:"y"`
			Width       int    `yaml:"width"`
			Height      int    `yaml:"height"`
			RefreshHint int    `yaml:"refresh_hint"`
		} `yaml:"sources"`
	} `yaml:"capture"`

	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"server"`

	Monitoring struct {
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled    bool    `yaml:"enabled"`
		JaegerURL  string  `yaml:"jaeger_url"`
		SampleRate float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Storage struct {
		Driver     string        `yaml:"driver"` // memory, redis or sqlite
		SQLitePath string        `yaml:"sqlite_path"`
		CacheTTL   time.Duration `yaml:"cache_ttl"` // 0 disables the trust read cache
	} `yaml:"storage"`

	Backup struct {
		Enabled       bool          `yaml:"enabled"`
		Directory     string        `yaml:"directory"`
		Interval      time.Duration `yaml:"interval"`
		RetentionDays int           `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address       string `yaml:"address"`
		Password      string `yaml:"password"`
		DB            int    `yaml:"db"`
		PoolSize      int    `yaml:"pool_size"`
		EventChannel  string `yaml:"event_channel"`
		PublishEvents bool   `yaml:"publish_events"`
	} `yaml:"redis"`

	Auth struct {
		Enabled   bool          `yaml:"enabled"`
		JWTSecret string        `yaml:"jwt_secret"`
		TokenTTL  time.Duration `yaml:"token_ttl"`
	} `yaml:"auth"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"http"`

		Input struct {
			EventsPerSecond float64 `yaml:"events_per_second"`
			Burst           int     `yaml:"burst"`
		} `yaml:"input"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Sessions
	if c.Sessions.MaxConcurrent <= 0 {
		return fmt.Errorf("sessions.max_concurrent must be > 0")
	}
	if c.Sessions.DefaultFPS < 1 || c.Sessions.DefaultFPS > 120 {
		return fmt.Errorf("sessions.default_fps must be in [1,120]")
	}
	if c.Sessions.DefaultQuality < 1 || c.Sessions.DefaultQuality > 100 {
		return fmt.Errorf("sessions.default_quality must be in [1,100]")
	}
	if c.Sessions.StartAckTimeout <= 0 {
		return fmt.Errorf("sessions.start_ack_timeout must be > 0")
	}
	if c.Sessions.DrainTimeout <= 0 {
		return fmt.Errorf("sessions.drain_timeout must be > 0")
	}
	if c.Sessions.MaxCompressFailures <= 0 {
		return fmt.Errorf("sessions.max_compress_failures must be > 0")
	}
	if c.Sessions.Adaptive.Enabled {
		if c.Sessions.Adaptive.Window <= 0 {
			return fmt.Errorf("sessions.adaptive.window must be > 0 when adaptive is enabled")
		}
		if c.Sessions.Adaptive.BusyThreshold <= 0 || c.Sessions.Adaptive.BusyThreshold >= 1 {
			return fmt.Errorf("sessions.adaptive.busy_threshold must be in (0,1)")
		}
		if c.Sessions.Adaptive.StableWindows <= 0 {
			return fmt.Errorf("sessions.adaptive.stable_windows must be > 0")
		}
	}

	// Pairing
	if c.Pairing.Timeout <= 0 {
		return fmt.Errorf("pairing.timeout must be > 0")
	}
	if c.Pairing.HeartbeatInterval <= 0 {
		return fmt.Errorf("pairing.heartbeat_interval must be > 0")
	}
	if c.Pairing.HeartbeatTimeout <= c.Pairing.HeartbeatInterval {
		return fmt.Errorf("pairing.heartbeat_timeout must be > pairing.heartbeat_interval")
	}
	if c.Pairing.ConnectAttempts < 0 {
		return fmt.Errorf("pairing.connect_attempts must be >= 0")
	}

	// Transport
	if c.Transport.WriteTimeout <= 0 {
		return fmt.Errorf("transport.write_timeout must be > 0")
	}
	if c.Transport.InboxSize <= 0 {
		return fmt.Errorf("transport.inbox_size must be > 0")
	}
	if c.Transport.WebSocket.MaxMessageSizeBytes <= 0 {
		return fmt.Errorf("transport.websocket.max_message_size_bytes must be > 0")
	}
	if c.Transport.WebSocket.PingInterval <= 0 || c.Transport.WebSocket.PongTimeout <= c.Transport.WebSocket.PingInterval {
		return fmt.Errorf("transport.websocket.pong_timeout must be > ping_interval > 0")
	}

	// Capture
	for i, s := range c.Capture.Sources {
		if s.ID == "" {
			return fmt.Errorf("capture.sources[%d].id must not be empty", i)
		}
		if s.Width <= 0 || s.Height <= 0 {
			return fmt.Errorf("capture.sources[%d] must have positive width and height", i)
		}
	}

	// Server
	if c.Server.Address == "" {
		return fmt.Errorf("server.address must not be empty")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be > 0")
	}

	// Tracing
	if c.Tracing.Enabled && (c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be in (0,1]")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Storage
	switch c.Storage.Driver {
	case "memory":
	case "redis":
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when storage.driver=redis")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when storage.driver=redis")
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path must not be empty when storage.driver=sqlite")
		}
	default:
		return fmt.Errorf("storage.driver must be one of memory, redis, sqlite")
	}
	if c.Storage.CacheTTL < 0 {
		return fmt.Errorf("storage.cache_ttl must be >= 0")
	}
	if c.Redis.PublishEvents && c.Redis.Address == "" {
		return fmt.Errorf("redis.address must not be empty when redis.publish_events=true")
	}

	// Backup
	if c.Backup.Enabled {
		if c.Backup.Directory == "" {
			return fmt.Errorf("backup.directory is required when backups are enabled")
		}
		if c.Backup.Interval < time.Minute {
			return fmt.Errorf("backup.interval must be at least 1m")
		}
		if c.Backup.RetentionDays < 0 {
			return fmt.Errorf("backup.retention_days must be >= 0")
		}
	}

	// Auth
	if c.Auth.Enabled {
		if len(c.Auth.JWTSecret) < 16 {
			return fmt.Errorf("auth.jwt_secret must be at least 16 characters when auth is enabled")
		}
		if c.Auth.TokenTTL <= 0 {
			return fmt.Errorf("auth.token_ttl must be > 0")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 || c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http requests_per_second and burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.Input.EventsPerSecond <= 0 || c.RateLimiting.Input.Burst <= 0 {
			return fmt.Errorf("rate_limiting.input events_per_second and burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid configuration: %w", err)
		}
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

	hostname, _ := os.Hostname()
	cfg.Host.Name = hostname

	cfg.Sessions.MaxConcurrent = 4
	cfg.Sessions.DefaultFPS = 30
	cfg.Sessions.DefaultQuality = 80
	cfg.Sessions.StartAckTimeout = 10 * time.Second
	cfg.Sessions.DrainTimeout = 2 * time.Second
	cfg.Sessions.MaxCompressFailures = 3
	cfg.Sessions.Adaptive.Enabled = true
	cfg.Sessions.Adaptive.Window = 2 * time.Second
	cfg.Sessions.Adaptive.BusyThreshold = 0.2
	cfg.Sessions.Adaptive.StableWindows = 3

	cfg.Pairing.Timeout = 30 * time.Second
	cfg.Pairing.HeartbeatInterval = 5 * time.Second
	cfg.Pairing.HeartbeatTimeout = 15 * time.Second
	cfg.Pairing.ConnectAttempts = 2
	cfg.Pairing.ConnectBackoff = 250 * time.Millisecond
	cfg.Pairing.AutoConnect = true

	cfg.Transport.WriteTimeout = 2 * time.Second
	cfg.Transport.InboxSize = 64
	cfg.Transport.USB.DialTimeout = 5 * time.Second
	cfg.Transport.WebSocket.ListenPath = "/devices/connect"
	cfg.Transport.WebSocket.DevicePath = "/display"
	cfg.Transport.WebSocket.DialTimeout = 5 * time.Second
	cfg.Transport.WebSocket.PingInterval = 10 * time.Second
	cfg.Transport.WebSocket.PongTimeout = 30 * time.Second
	cfg.Transport.WebSocket.MaxMessageSizeBytes = 1 << 20

	cfg.Capture.Synthetic = true

	cfg.Server.Address = "127.0.0.1:7420"
	cfg.Server.ReadTimeout = 15 * time.Second
	cfg.Server.WriteTimeout = 15 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second

	cfg.Monitoring.PrometheusEnabled = true

	cfg.Tracing.Enabled = false
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Storage.Driver = "memory"
	cfg.Storage.SQLitePath = "sidescreen.db"
	cfg.Storage.CacheTTL = 30 * time.Second

	cfg.Backup.Enabled = false
	cfg.Backup.Directory = "backups"
	cfg.Backup.Interval = 24 * time.Hour
	cfg.Backup.RetentionDays = 30

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.EventChannel = "sidescreen:events"

	cfg.Auth.Enabled = false
	cfg.Auth.TokenTTL = 24 * time.Hour

	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 20
	cfg.RateLimiting.HTTP.Burst = 40
	cfg.RateLimiting.Input.EventsPerSecond = 500
	cfg.RateLimiting.Input.Burst = 100

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("SIDESCREEN_SERVER_ADDRESS"); addr != "" {
		c.Server.Address = addr
	}
	if level := os.Getenv("SIDESCREEN_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if driver := os.Getenv("SIDESCREEN_STORAGE_DRIVER"); driver != "" {
		c.Storage.Driver = driver
	}
	if addr := os.Getenv("SIDESCREEN_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if secret := os.Getenv("SIDESCREEN_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
		c.Auth.Enabled = true
	}
	if v := os.Getenv("SIDESCREEN_MAX_SESSIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Sessions.MaxConcurrent = n
		}
	}
}
