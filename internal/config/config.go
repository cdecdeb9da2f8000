package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "DOORSTEP"

type Config struct {
	Port             string          `mapstructure:"port"`
	DBPath           string          `mapstructure:"db_path"`
	Log              LogConfig       `mapstructure:"log"`
	SweepInterval    time.Duration   `mapstructure:"sweep_interval"`
	TokenTTL         time.Duration   `mapstructure:"token_ttl"`
	AchievementsFile string          `mapstructure:"achievements_file"`
	AllowedOrigins   []string        `mapstructure:"allowed_origins"`
	RateLimit        RateLimitConfig `mapstructure:"rate_limit"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type RateLimitConfig struct {
	// DoorsPerMinute caps door records per user. Zero disables the limit.
	DoorsPerMinute int `mapstructure:"doors_per_minute"`
}

// flagKeys maps command-line flag names onto config keys.
var flagKeys = map[string]string{
	"port":      "port",
	"db":        "db_path",
	"log-level": "log.level",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("port", "8080")
	v.SetDefault("db_path", "doorstep.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("sweep_interval", "60s")
	v.SetDefault("token_ttl", "2160h")
	v.SetDefault("achievements_file", "")
	v.SetDefault("allowed_origins", []string{})
	v.SetDefault("rate_limit.doors_per_minute", 120)
}

// Load reads configuration with precedence flags > DOORSTEP_* environment >
// config file > defaults. A .env file in the working directory is loaded
// into the environment first. An empty configFile searches for doorstep.yaml
// in the working directory and tolerates its absence.
func Load(configFile string, flags *pflag.FlagSet) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("doorstep")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Port) == "" {
		return errors.New("port is required")
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return errors.New("db_path is required")
	}
	if c.SweepInterval <= 0 {
		return errors.New("sweep_interval must be positive")
	}
	if c.TokenTTL <= 0 {
		return errors.New("token_ttl must be positive")
	}
	if c.RateLimit.DoorsPerMinute < 0 {
		return errors.New("rate_limit.doors_per_minute must not be negative")
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be text or json, got %q", c.Log.Format)
	}
	return nil
}
