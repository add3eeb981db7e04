package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Telegram.BotToken = "123456:test-token"
	cfg.Telegram.BotName = "testbot"
	cfg.Panel.Host = "panel.example.com"
	cfg.Panel.Port = 2053
	cfg.Panel.Username = "admin"
	cfg.Panel.Password = "secret"
	cfg.Panel.InboundRemark = "main"
	cfg.Server.Address = "vpn.example.com"
	cfg.Provision.InitialGB = 10
	cfg.Provision.InitialDays = 7
	cfg.Provision.RenewalGB = 5
	cfg.Provision.RenewalDays = 30
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "https", cfg.Panel.Protocol)
	assert.Equal(t, 5, cfg.Panel.TimeoutSeconds)
	assert.Equal(t, 30, cfg.Dispatch.PollTimeoutSeconds)
	assert.Equal(t, 10, cfg.Dispatch.BackoffSeconds)
	assert.Equal(t, 3, cfg.Provision.ReminderDays)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.True(t, cfg.Logging.Redaction)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing bot token", func(t *testing.T) {
		cfg := validConfig()
		cfg.Telegram.BotToken = ""

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "telegram.bot_token")
	})

	t.Run("missing panel password", func(t *testing.T) {
		cfg := validConfig()
		cfg.Panel.Password = ""

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "panel.password")
	})

	t.Run("missing inbound remark", func(t *testing.T) {
		cfg := validConfig()
		cfg.Panel.InboundRemark = ""

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "panel.inbound_remark")
	})

	t.Run("missing renewal amounts", func(t *testing.T) {
		cfg := validConfig()
		cfg.Provision.RenewalGB = 0

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "provision.renewal_gb")
	})

	t.Run("invalid protocol", func(t *testing.T) {
		cfg := validConfig()
		cfg.Panel.Protocol = "ftp"

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "protocol")
	})

	t.Run("port out of range", func(t *testing.T) {
		cfg := validConfig()
		cfg.Panel.Port = 70000

		err := cfg.Validate()
		assert.Error(t, err)
	})

	t.Run("negative quota", func(t *testing.T) {
		cfg := validConfig()
		cfg.Provision.RenewalGB = -1

		err := cfg.Validate()
		assert.Error(t, err)
	})
}

func TestPanelBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		basePath string
		want     string
	}{
		{"no base path", "", "https://panel.example.com:2053"},
		{"plain base path", "xui", "https://panel.example.com:2053/xui"},
		{"slashed base path", "/xui/", "https://panel.example.com:2053/xui"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			cfg.Panel.WebBasePath = tt.basePath
			assert.Equal(t, tt.want, cfg.PanelBaseURL())
		})
	}
}
