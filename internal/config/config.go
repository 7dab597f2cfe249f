// Package config loads agentrelay's settings from a JSON file, defaults and
// the environment.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "AGENTRELAY"

type Config struct {
	DataDir      string `json:"data_dir" mapstructure:"data_dir"`
	LogLevel     string `json:"log_level" mapstructure:"log_level"`
	LogFile      string `json:"log_file" mapstructure:"log_file"`
	WakeUpPrompt string `json:"wake_up_prompt" mapstructure:"wake_up_prompt"`
	Agent        struct {
		Binary         string   `json:"binary" mapstructure:"binary"`
		WorkDir        string   `json:"work_dir" mapstructure:"work_dir"`
		Model          string   `json:"model" mapstructure:"model"`
		MaxTurns       int      `json:"max_turns" mapstructure:"max_turns"`
		AllowedTools   []string `json:"allowed_tools" mapstructure:"allowed_tools"`
		ExtraArgs      []string `json:"extra_args" mapstructure:"extra_args"`
		TimeoutSeconds int      `json:"timeout_seconds" mapstructure:"timeout_seconds"`
		GraceSeconds   int      `json:"grace_seconds" mapstructure:"grace_seconds"`
	} `json:"agent" mapstructure:"agent"`
	Idle struct {
		Enabled         bool   `json:"enabled" mapstructure:"enabled"`
		IntervalSeconds int    `json:"interval_seconds" mapstructure:"interval_seconds"`
		Prompt          string `json:"prompt" mapstructure:"prompt"`
	} `json:"idle" mapstructure:"idle"`
	Relay struct {
		IntervalMS int `json:"interval_ms" mapstructure:"interval_ms"`
	} `json:"relay" mapstructure:"relay"`
	Registry struct {
		RetentionSeconds int `json:"retention_seconds" mapstructure:"retention_seconds"`
	} `json:"registry" mapstructure:"registry"`
	Delivery struct {
		MaxAttempts    int `json:"max_attempts" mapstructure:"max_attempts"`
		InitialDelayMS int `json:"initial_delay_ms" mapstructure:"initial_delay_ms"`
	} `json:"delivery" mapstructure:"delivery"`
	Telegram struct {
		Token        string  `json:"token" mapstructure:"token"`
		AllowedUsers []int64 `json:"allowed_users" mapstructure:"allowed_users"`
	} `json:"telegram" mapstructure:"telegram"`
	HTTP struct {
		Enabled bool   `json:"enabled" mapstructure:"enabled"`
		Listen  string `json:"listen" mapstructure:"listen"`
	} `json:"http" mapstructure:"http"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	home, _ := os.UserHomeDir()
	cfg := &Config{
		DataDir:      filepath.Join(home, ".agentrelay"),
		LogLevel:     "info",
		WakeUpPrompt: "You wake up from a restful sleep. The user is here.",
	}
	cfg.Agent.Binary = "claude"
	cfg.Agent.WorkDir = filepath.Join(home, ".agentrelay", "workspace")
	cfg.Agent.MaxTurns = 50
	cfg.Agent.AllowedTools = []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep", "Task", "WebFetch", "WebSearch", "TodoWrite"}
	cfg.Agent.ExtraArgs = []string{}
	cfg.Agent.TimeoutSeconds = 900
	cfg.Agent.GraceSeconds = 5
	cfg.Idle.Enabled = false
	cfg.Idle.IntervalSeconds = 300
	cfg.Idle.Prompt = "Nothing has happened recently. You may choose to do nothing, or act on your own initiative."
	cfg.Relay.IntervalMS = 1000
	cfg.Registry.RetentionSeconds = 60
	cfg.Delivery.MaxAttempts = 3
	cfg.Delivery.InitialDelayMS = 1000
	cfg.Telegram.AllowedUsers = []int64{}
	cfg.HTTP.Enabled = true
	cfg.HTTP.Listen = "127.0.0.1:8484"
	return cfg
}

// Load reads path, writing the defaults there first if it does not exist.
// Environment variables take precedence over the file: AGENTRELAY_ plus the
// key with dots as underscores (AGENTRELAY_AGENT_MODEL), and the bare
// TELEGRAM_BOT_TOKEN and CLAUDE_BINARY.
func Load(path string) (*Config, error) {
	defaults := Default()
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeDefaults(path, defaults); err != nil {
			return nil, err
		}
	}

	v := viper.New()
	defaultMap, err := ToMap(defaults)
	if err != nil {
		return nil, err
	}
	for k, val := range Flatten(defaultMap) {
		v.SetDefault(k, val)
	}

	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("telegram.token", envPrefix+"_TELEGRAM_TOKEN", "TELEGRAM_BOT_TOKEN"); err != nil {
		return nil, err
	}
	if err := v.BindEnv("agent.binary", envPrefix+"_AGENT_BINARY", "CLAUDE_BINARY"); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	cfg.Agent.WorkDir = expandHome(cfg.Agent.WorkDir)
	cfg.LogFile = expandHome(cfg.LogFile)
	return cfg, nil
}

// Validate reports settings serve cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.DataDir == "" {
		errs = append(errs, errors.New("data_dir is required"))
	}
	if c.Agent.Binary == "" {
		errs = append(errs, errors.New("agent.binary is required"))
	}
	if c.Agent.TimeoutSeconds <= 0 {
		errs = append(errs, errors.New("agent.timeout_seconds must be positive"))
	}
	if c.Idle.Enabled && c.Idle.IntervalSeconds <= 0 {
		errs = append(errs, errors.New("idle.interval_seconds must be positive when idle is enabled"))
	}
	if c.Relay.IntervalMS <= 0 {
		errs = append(errs, errors.New("relay.interval_ms must be positive"))
	}
	return errors.Join(errs...)
}

func (c *Config) AgentTimeout() time.Duration {
	return time.Duration(c.Agent.TimeoutSeconds) * time.Second
}

func (c *Config) AgentGrace() time.Duration {
	return time.Duration(c.Agent.GraceSeconds) * time.Second
}

func (c *Config) IdleInterval() time.Duration {
	return time.Duration(c.Idle.IntervalSeconds) * time.Second
}

func (c *Config) RelayInterval() time.Duration {
	return time.Duration(c.Relay.IntervalMS) * time.Millisecond
}

func (c *Config) Retention() time.Duration {
	return time.Duration(c.Registry.RetentionSeconds) * time.Second
}

func (c *Config) DeliveryDelay() time.Duration {
	return time.Duration(c.Delivery.InitialDelayMS) * time.Millisecond
}

// JournalPath is the SQLite journal inside the data directory.
func (c *Config) JournalPath() string { return filepath.Join(c.DataDir, "journal.db") }

// TasksPath is the task store inside the data directory.
func (c *Config) TasksPath() string { return filepath.Join(c.DataDir, "tasks.json") }

// MediaDir is where downloaded chat attachments are saved for the agent.
func (c *Config) MediaDir() string { return filepath.Join(c.Agent.WorkDir, "tmp") }

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func writeDefaults(path string, cfg *Config) error {
	if err := Save(path, cfg); err != nil {
		return fmt.Errorf("write default config: %w", err)
	}
	return nil
}

// Save writes cfg to path atomically.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data = append(data, '\n')
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// ToMap converts cfg to a nested map using its JSON field names.
func ToMap(cfg *Config) (map[string]any, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return m, nil
}

// ListValues flattens cfg to dot-separated keys, masking secrets if asked.
func ListValues(cfg *Config, mask bool) (map[string]any, error) {
	m, err := ToMap(cfg)
	if err != nil {
		return nil, err
	}
	flat := Flatten(m)
	if mask {
		flat = MaskSecrets(flat)
	}
	return flat, nil
}

func readRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return m, nil
}

// GetValue returns the value stored in the file at path under key. A
// missing file is created with the defaults first.
func GetValue(path, key string) (any, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := writeDefaults(path, Default()); err != nil {
			return nil, err
		}
	}
	m, err := readRaw(path)
	if err != nil {
		return nil, err
	}
	v, ok := Flatten(m)[key]
	if !ok {
		return nil, fmt.Errorf("unknown config key: %s", key)
	}
	return v, nil
}

// SetValue stores value under key in the file at path. value is parsed as
// JSON when it can be (numbers, booleans, arrays) and kept as a string
// otherwise.
func SetValue(path, key, value string) error {
	m, err := readRaw(path)
	if err != nil {
		return err
	}
	var parsed any
	if err := json.Unmarshal([]byte(value), &parsed); err != nil {
		parsed = value
	}
	flat := Flatten(m)
	flat[key] = parsed
	data, err := json.MarshalIndent(Unflatten(flat), "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return writeFile(path, data)
}
