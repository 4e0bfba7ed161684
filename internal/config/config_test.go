// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "nox", cfg.Logger().ServiceName)
	assert.False(t, cfg.Browser().Headless)
	assert.Equal(t, 60.0, cfg.Browser().FrameRate)
	assert.Equal(t, 30*time.Second, cfg.Browser().LaunchTimeout)
	assert.Zero(t, cfg.Autofill().FieldTimeout, "field waits are unbounded by default")
	assert.Equal(t, 16*time.Millisecond, cfg.Autofill().FrameInterval)
	assert.Equal(t, StoreDriverFile, cfg.Store().Driver)
	assert.Equal(t, "profiles.json", filepath.Base(cfg.Store().Path))
	assert.False(t, cfg.Proxy().Enabled)
	require.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate())

		negative := *cfg
		negative.AutofillCfg.FieldTimeout = -time.Second
		err := negative.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "autofill.field_timeout must not be negative")

		noFrames := *cfg
		noFrames.BrowserCfg.FrameRate = 0
		err = noFrames.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "browser.frame_rate must be positive")
	})

	t.Run("Store Validation", func(t *testing.T) {
		assert.NoError(t, (&StoreConfig{Driver: "file", Path: "/tmp/p.json"}).Validate())
		assert.Error(t, (&StoreConfig{Driver: "file"}).Validate())
		assert.NoError(t, (&StoreConfig{Driver: "postgres", DSN: "postgres://localhost/nox"}).Validate())

		err := (&StoreConfig{Driver: "postgres"}).Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "NOX_STORE_DSN")

		assert.Error(t, (&StoreConfig{Driver: "redis"}).Validate())
	})

	t.Run("Proxy Validation", func(t *testing.T) {
		assert.NoError(t, (&ProxyConfig{}).Validate(), "disabled proxy needs nothing")

		valid := ProxyConfig{Enabled: true, ListenAddr: "127.0.0.1:0", Upstream: "http://proxy.example:8080"}
		assert.NoError(t, valid.Validate())

		noUpstream := valid
		noUpstream.Upstream = ""
		assert.Error(t, noUpstream.Validate())

		badUpstream := valid
		badUpstream.Upstream = "not a url"
		assert.Error(t, badUpstream.Validate())

		noListen := valid
		noListen.ListenAddr = ""
		assert.Error(t, noListen.Validate())
	})
}

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
browser:
  headless: true
  args: ["window-size=1280,800"]
autofill:
  field_timeout: 45s
  scripts_dir: /etc/nox/sites
store:
  driver: file
  path: /var/lib/nox/profiles.json
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)

		assert.True(t, cfg.Browser().Headless)
		assert.Equal(t, []string{"window-size=1280,800"}, cfg.Browser().Args)
		assert.Equal(t, 45*time.Second, cfg.Autofill().FieldTimeout)
		assert.Equal(t, "/etc/nox/sites", cfg.Autofill().ScriptsDir)
		assert.Equal(t, "/var/lib/nox/profiles.json", cfg.Store().Path)
		// Defaults survive alongside file values.
		assert.Equal(t, "info", cfg.Logger().Level)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("store.driver", "postgres")

		t.Setenv("NOX_STORE_DSN", "")
		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "dsn is required")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("store.driver", "postgres")
		v.Set("proxy.enabled", true)
		v.Set("proxy.upstream", "http://gate.example:7777")
		v.Set("proxy.username", "nox")

		t.Setenv("NOX_STORE_DSN", "postgres://env/nox")
		t.Setenv("NOX_PROXY_PASSWORD", "hunter2")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "postgres://env/nox", cfg.Store().DSN)
		assert.Equal(t, "hunter2", cfg.Proxy().Password)
	})
}

func TestSetters(t *testing.T) {
	var cfg Interface = NewDefaultConfig()
	cfg.SetBrowserHeadless(true)
	cfg.SetBrowserExecPath("/opt/chrome/chrome")
	cfg.SetAutofillFieldTimeout(time.Minute)

	assert.True(t, cfg.Browser().Headless)
	assert.Equal(t, "/opt/chrome/chrome", cfg.Browser().ExecPath)
	assert.Equal(t, time.Minute, cfg.Autofill().FieldTimeout)
}

func TestSearchPaths(t *testing.T) {
	paths := SearchPaths()
	require.NotEmpty(t, paths)
	assert.Equal(t, ".", paths[0])
}
