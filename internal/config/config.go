package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds the application configuration loaded from flags, environment variables and .env files.
type Config struct {
	AppName        string `mapstructure:"app_name"`
	Env            string `mapstructure:"app_env"`
	LogLevel       string `mapstructure:"log_level"`
	SourcesFile    string `mapstructure:"sources_file"`
	PublishersFile string `mapstructure:"publishers_file"`
	RunOnce        bool   `mapstructure:"run_once"`

	StorageType string `mapstructure:"storage_type"`
	BBoltPath   string `mapstructure:"bbolt_path"`

	WorkerCount            int           `mapstructure:"worker_count"`
	TickSeconds            int64         `mapstructure:"tick_seconds"`
	ShutdownTimeoutSeconds int64         `mapstructure:"shutdown_timeout_seconds"`
	Tick                   time.Duration `mapstructure:"-"`
	ShutdownTimeout        time.Duration `mapstructure:"-"`
}

var storageTypes = map[string]struct{}{
	"json":  {},
	"bbolt": {},
	"none":  {},
}

// Load reads configuration from command-line args, environment variables and configs/.env.
func Load(args []string) (*Config, error) {
	_ = godotenv.Load("configs/.env")

	v := viper.New()

	v.SetDefault("app_name", "samvad-feed-mailer")
	v.SetDefault("app_env", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("sources_file", "./configs/sources.yaml")
	v.SetDefault("publishers_file", "")
	v.SetDefault("run_once", false)
	v.SetDefault("storage_type", "json")
	v.SetDefault("bbolt_path", "./data/identifiers.db")
	v.SetDefault("worker_count", 5)
	v.SetDefault("tick_seconds", 10)
	v.SetDefault("shutdown_timeout_seconds", 60)

	v.AutomaticEnv()

	fs := newFlagSet()
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parse flags: %w", err)
	}
	for key, name := range flagKeys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return nil, fmt.Errorf("bind flag %s: %w", name, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// flagKeys maps viper keys to their command-line flag names.
var flagKeys = map[string]string{
	"sources_file": "sources",
	"run_once":     "once",
	"log_level":    "log-level",
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("feedmailer", pflag.ContinueOnError)
	fs.StringP("sources", "c", "", "path to the sources file (YAML or JSON)")
	fs.Bool("once", false, "poll every source once and exit")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	return fs
}

func (c *Config) normalize() error {
	c.StorageType = strings.ToLower(strings.TrimSpace(c.StorageType))
	c.SourcesFile = strings.TrimSpace(c.SourcesFile)

	if c.SourcesFile == "" {
		return errors.New("sources_file must not be empty")
	}
	if _, ok := storageTypes[c.StorageType]; !ok {
		return fmt.Errorf("invalid storage_type %q (expected json, bbolt or none)", c.StorageType)
	}
	if c.StorageType == "bbolt" && strings.TrimSpace(c.BBoltPath) == "" {
		return errors.New("bbolt_path is required when storage_type is bbolt")
	}
	if c.WorkerCount <= 0 {
		return fmt.Errorf("invalid worker_count %d (must be positive)", c.WorkerCount)
	}
	if c.TickSeconds <= 0 {
		return fmt.Errorf("invalid tick_seconds (must be positive seconds)")
	}
	if c.ShutdownTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid shutdown_timeout_seconds (must be positive seconds)")
	}
	c.Tick = time.Duration(c.TickSeconds) * time.Second
	c.ShutdownTimeout = time.Duration(c.ShutdownTimeoutSeconds) * time.Second
	return nil
}
