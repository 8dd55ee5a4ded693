// Package config provides YAML-based configuration loading for the OPAL client.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load-error policies for conversation loads.
const (
	LoadErrorLog     = "log"
	LoadErrorSurface = "surface"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

// Config is the top-level client configuration, loaded from opal.yaml.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Chat      ChatConfig      `yaml:"chat"`
	Store     StoreConfig     `yaml:"store"`
	Dashboard DashboardConfig `yaml:"dashboard"`
	Telegraph TelegraphConfig `yaml:"telegraph"`
	Ingest    IngestConfig    `yaml:"ingest"`
}

// APIConfig describes how to reach the OPAL backend.
type APIConfig struct {
	// Origin is the web origin serving config.json; relative base URLs are
	// joined onto it.
	Origin            string        `yaml:"origin"`
	BaseURL           string        `yaml:"base_url"`
	RuntimeConfigPath string        `yaml:"runtime_config_path"`
	Timeout           time.Duration `yaml:"timeout"`
	CacheSize         int           `yaml:"cache_size"`
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

// ChatConfig holds job polling and conversation settings.
type ChatConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`
	MaxWait         time.Duration `yaml:"max_wait"`
	WelcomeMessage  string        `yaml:"welcome_message"`
	LoadErrorPolicy string        `yaml:"load_error_policy"`
}

// StoreConfig selects the local history database.
type StoreConfig struct {
	Driver string `yaml:"driver"`
	Path   string `yaml:"path"` // sqlite file
	DSN    string `yaml:"dsn"`  // mysql DSN
}

// DashboardConfig holds settings for the local web dashboard.
type DashboardConfig struct {
	Port int `yaml:"port"`
}

// TelegraphConfig configures the chat-platform bridge.
type TelegraphConfig struct {
	Platform  string        `yaml:"platform"` // slack or discord
	ChannelID string        `yaml:"channel_id"`
	Slack     SlackConfig   `yaml:"slack"`
	Discord   DiscordConfig `yaml:"discord"`

	// ThreadIdleTTL and MaxThreads bound the per-thread conversations the
	// bridge keeps in memory. Zero uses the bridge defaults.
	ThreadIdleTTL time.Duration `yaml:"thread_idle_ttl"`
	MaxThreads    int           `yaml:"max_threads"`
}

// SlackConfig holds Slack Socket Mode credentials.
type SlackConfig struct {
	AppToken string `yaml:"app_token"`
	BotToken string `yaml:"bot_token"`
}

// DiscordConfig holds Discord gateway credentials.
type DiscordConfig struct {
	BotToken string `yaml:"bot_token"`
}

// IngestConfig configures the drop-folder watcher and URL schedules.
type IngestConfig struct {
	WatchDir   string           `yaml:"watch_dir"`
	Extensions []string         `yaml:"extensions"`
	Schedules  []ScheduleConfig `yaml:"schedules"`
}

// ScheduleConfig re-ingests a URL on a 5-field cron schedule.
type ScheduleConfig struct {
	Name        string `yaml:"name"`
	Cron        string `yaml:"cron"`
	URL         string `yaml:"url"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
}

// DefaultWelcomeMessage is the first assistant message of every new conversation.
const DefaultWelcomeMessage = "Hello! I'm the OPAL research assistant. Describe your research goal and I'll put together a plan using capabilities across OPAL labs."

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Parse(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config. Environment
// overrides (including a .env file in the working directory) are applied
// before defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	_ = godotenv.Load()
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overlays credentials and the API URL from the environment.
func (c *Config) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("OPAL_API_URL")); v != "" {
		c.API.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("OPAL_API_ORIGIN")); v != "" {
		c.API.Origin = v
	}
	if v := strings.TrimSpace(os.Getenv("OPAL_SLACK_APP_TOKEN")); v != "" {
		c.Telegraph.Slack.AppToken = v
	}
	if v := strings.TrimSpace(os.Getenv("OPAL_SLACK_BOT_TOKEN")); v != "" {
		c.Telegraph.Slack.BotToken = v
	}
	if v := strings.TrimSpace(os.Getenv("OPAL_DISCORD_BOT_TOKEN")); v != "" {
		c.Telegraph.Discord.BotToken = v
	}
	if v := strings.TrimSpace(os.Getenv("OPAL_STORE_DSN")); v != "" {
		c.Store.DSN = v
	}
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.API.Origin == "" {
		c.API.Origin = "http://localhost:3000"
	}
	c.API.Origin = strings.TrimRight(c.API.Origin, "/")
	if c.API.RuntimeConfigPath == "" {
		c.API.RuntimeConfigPath = "/config.json"
	}
	if c.API.Timeout == 0 {
		c.API.Timeout = 30 * time.Second
	}
	if c.API.CacheSize == 0 {
		c.API.CacheSize = 256
	}
	if c.API.CacheTTL == 0 {
		c.API.CacheTTL = 5 * time.Minute
	}
	if c.Chat.PollInterval == 0 {
		c.Chat.PollInterval = 5 * time.Second
	}
	if c.Chat.MaxWait == 0 {
		c.Chat.MaxWait = 10 * time.Minute
	}
	if c.Chat.WelcomeMessage == "" {
		c.Chat.WelcomeMessage = DefaultWelcomeMessage
	}
	if c.Chat.LoadErrorPolicy == "" {
		c.Chat.LoadErrorPolicy = LoadErrorLog
	}
	if c.Store.Driver == "" {
		c.Store.Driver = DriverSQLite
	}
	if c.Store.Driver == DriverSQLite && c.Store.Path == "" {
		c.Store.Path = "opal.db"
	}
	if c.Dashboard.Port == 0 {
		c.Dashboard.Port = 8080
	}
	if len(c.Ingest.Extensions) == 0 {
		c.Ingest.Extensions = []string{".pdf", ".yaml", ".yml"}
	}
}

// validate checks that all fields are consistent.
func (c *Config) validate() error {
	var errs []string
	if !strings.HasPrefix(c.API.Origin, "http://") && !strings.HasPrefix(c.API.Origin, "https://") {
		errs = append(errs, "api.origin must be an http(s) URL")
	}
	if c.Chat.PollInterval < 0 {
		errs = append(errs, "chat.poll_interval must be positive")
	}
	if c.Chat.MaxWait < 0 {
		errs = append(errs, "chat.max_wait must be positive")
	}
	switch c.Chat.LoadErrorPolicy {
	case LoadErrorLog, LoadErrorSurface:
	default:
		errs = append(errs, fmt.Sprintf("chat.load_error_policy %q must be %q or %q", c.Chat.LoadErrorPolicy, LoadErrorLog, LoadErrorSurface))
	}
	switch c.Store.Driver {
	case DriverSQLite:
	case DriverMySQL:
		if c.Store.DSN == "" {
			errs = append(errs, "store.dsn is required for the mysql driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q must be %q or %q", c.Store.Driver, DriverSQLite, DriverMySQL))
	}
	switch c.Telegraph.Platform {
	case "", "slack", "discord":
	default:
		errs = append(errs, fmt.Sprintf("telegraph.platform %q must be slack or discord", c.Telegraph.Platform))
	}
	for i, s := range c.Ingest.Schedules {
		if s.Cron == "" {
			errs = append(errs, fmt.Sprintf("ingest.schedules[%d].cron is required", i))
		}
		if s.URL == "" {
			errs = append(errs, fmt.Sprintf("ingest.schedules[%d].url is required", i))
		}
		if s.Title == "" {
			errs = append(errs, fmt.Sprintf("ingest.schedules[%d].title is required", i))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
