package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

const (
	yamlName = "reminder.yml"
	tomlName = "reminder.toml"
)

// Config models reminder.yml (or reminder.toml).
type Config struct {
	Scheduler struct {
		MaxDelay       Duration `yaml:"max_delay" toml:"max_delay"`
		ResyncInterval Duration `yaml:"resync_interval" toml:"resync_interval"`
	} `yaml:"scheduler" toml:"scheduler"`
	Alarms struct {
		RejectPastDatetime bool `yaml:"reject_past_datetime" toml:"reject_past_datetime"`
	} `yaml:"alarms" toml:"alarms"`
	Countdown struct {
		Interval Duration `yaml:"interval" toml:"interval"`
	} `yaml:"countdown" toml:"countdown"`
	Notify struct {
		Title    string    `yaml:"title" toml:"title"`
		Command  []string  `yaml:"command" toml:"command"`
		Webhooks []Webhook `yaml:"webhooks" toml:"webhooks"`
	} `yaml:"notify" toml:"notify"`
	Server struct {
		Addr        string `yaml:"addr" toml:"addr"`
		BasePath    string `yaml:"base_path" toml:"base_path"`
		JWTSecret   string `yaml:"jwt_secret" toml:"jwt_secret"`
		RequireAuth bool   `yaml:"require_auth" toml:"require_auth"`
	} `yaml:"server" toml:"server"`
	Log struct {
		Level  string `yaml:"level" toml:"level"`
		Format string `yaml:"format" toml:"format"`
	} `yaml:"log" toml:"log"`
}

type Webhook struct {
	URL     string   `yaml:"url" toml:"url"`
	Secret  string   `yaml:"secret" toml:"secret"`
	Enabled *bool    `yaml:"enabled" toml:"enabled"`
	Timeout Duration `yaml:"timeout" toml:"timeout"`
}

// Active reports whether the webhook should receive notifications.
// Webhooks are enabled unless switched off explicitly.
func (w Webhook) Active() bool {
	return w.Enabled == nil || *w.Enabled
}

// Duration is a time.Duration written as "1s", "24h" in config files.
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "" {
		*d = 0
		return nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	cfg.Scheduler.ResyncInterval = Duration(5 * time.Second)
	cfg.Countdown.Interval = Duration(time.Second)
	cfg.Notify.Title = "Task Reminder"
	cfg.Server.Addr = "127.0.0.1:8080"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return &cfg
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Scheduler.MaxDelay < 0 {
		return fmt.Errorf("config.scheduler.max_delay must not be negative")
	}
	if c.Scheduler.ResyncInterval <= 0 {
		return fmt.Errorf("config.scheduler.resync_interval must be positive")
	}
	if c.Countdown.Interval <= 0 {
		return fmt.Errorf("config.countdown.interval must be positive")
	}
	for i, w := range c.Notify.Webhooks {
		u, err := url.Parse(w.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url must be an http(s) URL", i)
		}
		if w.Timeout < 0 {
			return fmt.Errorf("config.notify.webhooks[%d].timeout must not be negative", i)
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.RequireAuth && c.Server.JWTSecret == "" {
		return fmt.Errorf("config.server.jwt_secret is required when require_auth is set")
	}
	return nil
}

// Path returns the YAML config path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, yamlName)
}

// TOMLPath returns the TOML config path for a workspace.
func TOMLPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, tomlName)
}

// Load reads reminder.yml, falling back to reminder.toml, and overlays it on
// Default. A workspace without either file yields the defaults.
func Load(fs afero.Fs, workspace string) (*Config, error) {
	data, err := afero.ReadFile(fs, Path(workspace))
	if err == nil {
		return FromYAML(data)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	data, err = afero.ReadFile(fs, TOMLPath(workspace))
	if err == nil {
		return FromTOML(data)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return Default(), nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromTOML parses and validates config from raw TOML bytes.
func FromTOML(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads config from the given path; a .toml extension selects TOML.
func FromFile(fs afero.Fs, path string) (*Config, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FromTOML(data)
	}
	return FromYAML(data)
}

// YAML renders cfg as YAML.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// WriteDefault writes the default template to the workspace unless a config
// already exists.
func WriteDefault(fs afero.Fs, workspace string) (string, error) {
	path := Path(workspace)
	for _, p := range []string{path, TOMLPath(workspace)} {
		if ok, err := afero.Exists(fs, p); err != nil {
			return "", err
		} else if ok {
			return "", fmt.Errorf("config %s already exists", p)
		}
	}
	if err := afero.WriteFile(fs, path, []byte(GenerateDefault()), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `scheduler:
  # longest single timer; longer waits are re-armed in chunks (0 = platform maximum)
  max_delay: 0s
  # how often serve/watch pick up alarms changed by other processes
  resync_interval: 5s

alarms:
  reject_past_datetime: false

countdown:
  interval: 1s

notify:
  title: Task Reminder
  # desktop notification command; {app}, {title}, {message} and {task_id} are substituted
  # command: ["notify-send", "--app-name={app}", "{title}", "{message}"]
  # webhooks:
  #   - url: https://hooks.example.com/reminder
  #     secret: ""
  #     timeout: 5s

server:
  addr: 127.0.0.1:8080
  base_path: ""
  jwt_secret: ""
  require_auth: false

log:
  level: info
  format: text
`
