package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Config represents the main xuigram configuration
type Config struct {
	// Telegram bot credentials
	Telegram TelegramConfig `json:"telegram" mapstructure:"telegram"`

	// Panel connection and auth
	Panel PanelConfig `json:"panel" mapstructure:"panel"`

	// Public server endpoint embedded in connection links
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Quota and validity amounts for new and renewed accounts
	Provision ProvisionConfig `json:"provision" mapstructure:"provision"`

	// Dispatch loop tuning
	Dispatch DispatchConfig `json:"dispatch" mapstructure:"dispatch"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory (record store, cursor file, logs)
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken string `json:"bot_token" mapstructure:"bot_token"`
	BotName  string `json:"bot_name" mapstructure:"bot_name"`
}

// PanelConfig holds 3x-ui panel connection configuration
type PanelConfig struct {
	Protocol           string `json:"protocol" mapstructure:"protocol"` // http, https
	Host               string `json:"host" mapstructure:"host"`
	Port               int    `json:"port" mapstructure:"port"`
	WebBasePath        string `json:"web_base_path" mapstructure:"web_base_path"` // may be empty
	Username           string `json:"username" mapstructure:"username"`
	Password           string `json:"password" mapstructure:"password"`
	InboundRemark      string `json:"inbound_remark" mapstructure:"inbound_remark"`
	InsecureSkipVerify bool   `json:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
	TimeoutSeconds     int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// ServerConfig holds the public endpoint clients connect to
type ServerConfig struct {
	Address string `json:"address" mapstructure:"address"` // IP or domain for connection links
}

// ProvisionConfig holds account quota and validity amounts
type ProvisionConfig struct {
	InitialGB    float64 `json:"initial_gb" mapstructure:"initial_gb"`
	InitialDays  float64 `json:"initial_days" mapstructure:"initial_days"`
	RenewalGB    float64 `json:"renewal_gb" mapstructure:"renewal_gb"`
	RenewalDays  float64 `json:"renewal_days" mapstructure:"renewal_days"`
	ReminderDays int     `json:"reminder_days" mapstructure:"reminder_days"`
}

// DispatchConfig holds event loop tuning
type DispatchConfig struct {
	PollTimeoutSeconds int    `json:"poll_timeout_seconds" mapstructure:"poll_timeout_seconds"`
	BackoffSeconds     int    `json:"backoff_seconds" mapstructure:"backoff_seconds"`
	CursorFile         string `json:"cursor_file" mapstructure:"cursor_file"` // empty = in-memory cursor
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	MaxSizeMB int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxAge    int    `json:"max_age" mapstructure:"max_age"` // days to keep rotated files
	Compress  bool   `json:"compress" mapstructure:"compress"`
}

// MetricsConfig holds the optional Prometheus listener
type MetricsConfig struct {
	Listen string `json:"listen" mapstructure:"listen"` // empty = disabled
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Panel: PanelConfig{
			Protocol:       "https",
			TimeoutSeconds: 5,
		},
		Provision: ProvisionConfig{
			ReminderDays: 3,
		},
		Dispatch: DispatchConfig{
			PollTimeoutSeconds: 30,
			BackoffSeconds:     10,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
			MaxSizeMB: 100,
			MaxAge:    7,
			Compress:  true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks that every required value is present. The process must
// not start with a partial configuration, so the first missing key aborts.
func (c *Config) Validate() error {
	required := []struct {
		key string
		ok  bool
	}{
		{"telegram.bot_token", c.Telegram.BotToken != ""},
		{"telegram.bot_name", c.Telegram.BotName != ""},
		{"panel.protocol", c.Panel.Protocol != ""},
		{"panel.host", c.Panel.Host != ""},
		{"panel.port", c.Panel.Port != 0},
		{"panel.username", c.Panel.Username != ""},
		{"panel.password", c.Panel.Password != ""},
		{"panel.inbound_remark", c.Panel.InboundRemark != ""},
		{"server.address", c.Server.Address != ""},
		{"provision.initial_gb", c.Provision.InitialGB != 0},
		{"provision.initial_days", c.Provision.InitialDays != 0},
		{"provision.renewal_gb", c.Provision.RenewalGB != 0},
		{"provision.renewal_days", c.Provision.RenewalDays != 0},
	}
	for _, r := range required {
		if !r.ok {
			return fmt.Errorf("required configuration value %s is not set", r.key)
		}
	}

	if c.Panel.Protocol != "http" && c.Panel.Protocol != "https" {
		return fmt.Errorf("panel.protocol must be http or https, got %q", c.Panel.Protocol)
	}
	if c.Panel.Port < 1 || c.Panel.Port > 65535 {
		return fmt.Errorf("panel.port %d is out of range", c.Panel.Port)
	}
	if c.Provision.InitialGB < 0 || c.Provision.RenewalGB < 0 {
		return fmt.Errorf("provision quota amounts must not be negative")
	}
	if c.Provision.InitialDays < 0 || c.Provision.RenewalDays < 0 {
		return fmt.Errorf("provision validity amounts must not be negative")
	}
	return nil
}

// PanelBaseURL builds the panel root URL including the optional web base path.
func (c *Config) PanelBaseURL() string {
	base := strings.Trim(c.Panel.WebBasePath, "/")
	url := fmt.Sprintf("%s://%s:%d", c.Panel.Protocol, c.Panel.Host, c.Panel.Port)
	if base != "" {
		url += "/" + base
	}
	return url
}
