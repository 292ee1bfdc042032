package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DebugMode enables verbose per-update logging. Set by Load.
var DebugMode = false

const DefaultPath = "config.yml"

type Config struct {
	Debug     bool            `yaml:"debug"`
	Logging   LoggingConfig   `yaml:"logging"`
	Server    ServerConfig    `yaml:"server"`
	Session   SessionConfig   `yaml:"session"`
	Transport TransportConfig `yaml:"transport"`
	Providers ProvidersConfig `yaml:"providers"`
	Console   ConsoleConfig   `yaml:"console"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

type ServerConfig struct {
	GRPCAddr    string `yaml:"grpc_addr"`
	MetricsAddr string `yaml:"metrics_addr"`
}

type SessionConfig struct {
	RefreshInterval     time.Duration `yaml:"refresh_interval"`
	Depth               int           `yaml:"depth"`
	PruneTarget         int           `yaml:"prune_target"`
	SnapshotRetryDelay  time.Duration `yaml:"snapshot_retry_delay"`
	DiscoveryRetryDelay time.Duration `yaml:"discovery_retry_delay"`
	SubscriberBuffer    int           `yaml:"subscriber_buffer"`
}

type TransportConfig struct {
	HandshakeTimeout time.Duration   `yaml:"handshake_timeout"`
	WriteTimeout     time.Duration   `yaml:"write_timeout"`
	Reconnect        ReconnectConfig `yaml:"reconnect"`
}

type ReconnectConfig struct {
	// fixed | exponential
	Policy      string        `yaml:"policy"`
	MaxAttempts int           `yaml:"max_attempts"`
	Delay       time.Duration `yaml:"delay"`
	MaxDelay    time.Duration `yaml:"max_delay"`
	Factor      float64       `yaml:"factor"`
}

type ProvidersConfig struct {
	Available []string        `yaml:"available"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	BurstSize         int     `yaml:"burst_size"`
}

type ConsoleConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Provider string `yaml:"provider"`
	Symbol   string `yaml:"symbol"`
	Tick     string `yaml:"tick"`
}

func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
		Server: ServerConfig{
			GRPCAddr:    ":50051",
			MetricsAddr: ":8080",
		},
		Session: SessionConfig{
			RefreshInterval:     16 * time.Millisecond,
			Depth:               50,
			PruneTarget:         2000,
			SnapshotRetryDelay:  2 * time.Second,
			DiscoveryRetryDelay: 2 * time.Second,
			SubscriberBuffer:    1,
		},
		Transport: TransportConfig{
			HandshakeTimeout: 5 * time.Second,
			WriteTimeout:     5 * time.Second,
			Reconnect: ReconnectConfig{
				Policy:      "fixed",
				MaxAttempts: 10,
				Delay:       3 * time.Second,
				MaxDelay:    30 * time.Second,
				Factor:      2,
			},
		},
		Providers: ProvidersConfig{
			Available: []string{"binance", "okx", "kucoin", "upbit", "bybit", "coinbase", "bithumb"},
			RateLimit: RateLimitConfig{RequestsPerSecond: 5, BurstSize: 5},
		},
		Console: ConsoleConfig{Provider: "binance", Symbol: "btc_usdt"},
	}
}

// Load reads .env (if present), then the YAML file at path over the defaults, then
// OB_* environment overrides. A missing file at the default path is not an error.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := Default()

	if path == "" {
		path = DefaultPath
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	case errors.Is(err, os.ErrNotExist) && path == DefaultPath:
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	DebugMode = cfg.Debug
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("OB_GRPC_ADDR")); v != "" {
		cfg.Server.GRPCAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("OB_METRICS_ADDR")); v != "" {
		cfg.Server.MetricsAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("OB_PROVIDERS")); v != "" {
		var providers []string
		for _, p := range strings.Split(v, ",") {
			if p = strings.ToLower(strings.TrimSpace(p)); p != "" {
				providers = append(providers, p)
			}
		}
		cfg.Providers.Available = providers
	}
	if v := strings.TrimSpace(os.Getenv("OB_CONSOLE_PROVIDER")); v != "" {
		cfg.Console.Provider = v
		cfg.Console.Enabled = true
	}
	if v := strings.TrimSpace(os.Getenv("OB_CONSOLE_SYMBOL")); v != "" {
		cfg.Console.Symbol = v
	}
	if v, err := strconv.ParseBool(os.Getenv("OB_DEBUG")); err == nil {
		cfg.Debug = v
	}
}

func validate(cfg *Config) error {
	if cfg.Session.RefreshInterval <= 0 {
		return fmt.Errorf("session.refresh_interval must be greater than 0")
	}
	if cfg.Session.Depth <= 0 {
		return fmt.Errorf("session.depth must be greater than 0")
	}
	if cfg.Session.PruneTarget <= 0 {
		return fmt.Errorf("session.prune_target must be greater than 0")
	}
	if cfg.Session.SubscriberBuffer <= 0 {
		return fmt.Errorf("session.subscriber_buffer must be greater than 0")
	}

	switch cfg.Transport.Reconnect.Policy {
	case "fixed", "exponential":
	default:
		return fmt.Errorf("transport.reconnect.policy must be fixed or exponential, got %q", cfg.Transport.Reconnect.Policy)
	}
	if cfg.Transport.Reconnect.MaxAttempts < 0 {
		return fmt.Errorf("transport.reconnect.max_attempts must not be negative")
	}
	if cfg.Transport.Reconnect.Delay <= 0 {
		return fmt.Errorf("transport.reconnect.delay must be greater than 0")
	}

	if len(cfg.Providers.Available) == 0 {
		return fmt.Errorf("providers.available must not be empty")
	}
	if cfg.Providers.RateLimit.RequestsPerSecond <= 0 || cfg.Providers.RateLimit.BurstSize <= 0 {
		return fmt.Errorf("providers.rate_limit must be positive")
	}

	if cfg.Console.Enabled && (cfg.Console.Provider == "" || cfg.Console.Symbol == "") {
		return fmt.Errorf("console.provider and console.symbol are required when console is enabled")
	}
	return nil
}
