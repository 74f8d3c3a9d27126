package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode     string        `mapstructure:"mode"`
	Port     int           `mapstructure:"port"`
	Secret   string        `mapstructure:"secret"`
	Log      LogConfig     `mapstructure:"log"`
	Auth     AuthConfig    `mapstructure:"auth"`
	Gateway  GatewayConfig `mapstructure:"gateway"`
	Relay    RelayConfig   `mapstructure:"relay"`
	Storage  StorageConfig `mapstructure:"storage"`
	Shutdown time.Duration `mapstructure:"shutdown_timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
	// File enables a rotating JSON log next to the console output.
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

type AuthConfig struct {
	// JWTSecret empty disables authentication; connections become guests.
	JWTSecret string `mapstructure:"jwt_secret"`
	CacheSize int    `mapstructure:"cache_size"`
}

type GatewayConfig struct {
	ReadLimit     int64         `mapstructure:"read_limit"`
	PingPeriod    time.Duration `mapstructure:"ping_period"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	SendQueue     int           `mapstructure:"send_queue"`
	ActionLimit   int           `mapstructure:"action_limit"`
	ActionWindow  time.Duration `mapstructure:"action_window"`
	Backpressure  string        `mapstructure:"backpressure"`
	AllowedOrigin []string      `mapstructure:"allowed_origins"`
}

type RelayConfig struct {
	DeltaFrame string `mapstructure:"delta_frame"`
}

type StorageConfig struct {
	// Path of the sqlite database; empty keeps trees in memory only.
	Path string `mapstructure:"path"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("secret", "change-me")
	v.SetDefault("shutdown_timeout", "5s")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.cache_size", 1024)
	v.SetDefault("gateway.read_limit", 1<<20)
	v.SetDefault("gateway.ping_period", "54s")
	v.SetDefault("gateway.write_timeout", "5s")
	v.SetDefault("gateway.send_queue", 256)
	v.SetDefault("gateway.action_limit", 20)
	v.SetDefault("gateway.action_window", "1s")
	v.SetDefault("gateway.backpressure", "kick")
	v.SetDefault("gateway.allowed_origins", []string{})
	v.SetDefault("relay.delta_frame", "binary")
	v.SetDefault("storage.path", "")
}

// Load reads config/config.<CONFIG_ENV>.yaml, or file when it is not empty.
// A missing file is not an error: defaults and COLLAB_* variables apply.
func Load(file string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	if file == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		file = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(file)

	v.SetEnvPrefix("COLLAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", file)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", file)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Gateway.PingPeriod <= 0 || cfg.Gateway.SendQueue <= 0 {
		return nil, fmt.Errorf("invalid gateway config: ping_period=%s send_queue=%d", cfg.Gateway.PingPeriod, cfg.Gateway.SendQueue)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Storage: %q\n", cfg.Mode, cfg.Port, cfg.Storage.Path)
	return &cfg, nil
}
