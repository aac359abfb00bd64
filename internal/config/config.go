package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Discord   DiscordConfig   `mapstructure:"discord"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Data      DataConfig      `mapstructure:"data"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
}

type DiscordConfig struct {
	Token string `mapstructure:"token"`
}

type StorageConfig struct {
	Driver   string `mapstructure:"driver"`
	FilePath string `mapstructure:"file_path"`
}

type DataConfig struct {
	EntitiesPath string `mapstructure:"entities_path"`
	GuildsPath   string `mapstructure:"guilds_path"`
}

type SchedulerConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	Retention       time.Duration `mapstructure:"retention"`
	Timezone        string        `mapstructure:"timezone"`
}

type ServerConfig struct {
	Port  string `mapstructure:"port"`
	Token string `mapstructure:"token"`
}

// Location resolves the configured timezone, defaulting to the host zone.
func (s SchedulerConfig) Location() (*time.Location, error) {
	if s.Timezone == "" || s.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", s.Timezone, err)
	}
	return loc, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("discord.token", "")
	v.SetDefault("storage.driver", "json")
	v.SetDefault("storage.file_path", "data/reminders.json")
	v.SetDefault("data.entities_path", "data/homework.json")
	v.SetDefault("data.guilds_path", "data/guilds.json")
	v.SetDefault("scheduler.poll_interval", "30s")
	v.SetDefault("scheduler.cleanup_interval", "6h")
	v.SetDefault("scheduler.retention", "720h")
	v.SetDefault("scheduler.timezone", "Local")
	v.SetDefault("server.port", "127.0.0.1:8080")
	v.SetDefault("server.token", "")
}

// LoadConfig reads the YAML file at path, if present, on top of the
// defaults. Environment variables prefixed with BOT_ override file values
// (BOT_STORAGE_DRIVER for storage.driver); DISCORD_TOKEN sets the bot token.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("discord.token", "BOT_DISCORD_TOKEN", "DISCORD_TOKEN"); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		// A missing file is fine; defaults and the environment still apply.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "json", "bolt":
	default:
		return fmt.Errorf("storage.driver must be json or bolt, got %q", c.Storage.Driver)
	}
	if c.Scheduler.PollInterval <= 0 {
		return fmt.Errorf("scheduler.poll_interval must be positive")
	}
	if _, err := c.Scheduler.Location(); err != nil {
		return err
	}
	if c.Server.Token == "" && !loopback(c.Server.Port) {
		return fmt.Errorf("server.token is required when the admin API listens on %q", c.Server.Port)
	}
	return nil
}

// loopback reports whether addr only accepts local connections. An empty
// host listens on every interface.
func loopback(addr string) bool {
	host, _, err := net.SplitHostPort(addr)
	if err != nil || host == "" {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
