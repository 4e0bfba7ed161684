// File: internal/config/config.go
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Browser() BrowserConfig
	Autofill() AutofillConfig
	Store() StoreConfig
	Proxy() ProxyConfig

	// Browser Setters
	SetBrowserHeadless(bool)
	SetBrowserExecPath(string)

	// Autofill Setters
	SetAutofillFieldTimeout(time.Duration)
}

// Config holds the entire application configuration. Sections are exported
// so viper can populate them; callers read them through Interface.
type Config struct {
	LoggerCfg   LoggerConfig   `mapstructure:"logger" yaml:"logger"`
	BrowserCfg  BrowserConfig  `mapstructure:"browser" yaml:"browser"`
	AutofillCfg AutofillConfig `mapstructure:"autofill" yaml:"autofill"`
	StoreCfg    StoreConfig    `mapstructure:"store" yaml:"store"`
	ProxyCfg    ProxyConfig    `mapstructure:"proxy" yaml:"proxy"`
}

var _ Interface = (*Config)(nil)

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig     { return c.LoggerCfg }
func (c *Config) Browser() BrowserConfig   { return c.BrowserCfg }
func (c *Config) Autofill() AutofillConfig { return c.AutofillCfg }
func (c *Config) Store() StoreConfig       { return c.StoreCfg }
func (c *Config) Proxy() ProxyConfig       { return c.ProxyCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetBrowserHeadless(b bool)               { c.BrowserCfg.Headless = b }
func (c *Config) SetBrowserExecPath(p string)             { c.BrowserCfg.ExecPath = p }
func (c *Config) SetAutofillFieldTimeout(d time.Duration) { c.AutofillCfg.FieldTimeout = d }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// BrowserConfig holds settings for the Chrome instance site scripts run in.
type BrowserConfig struct {
	Headless          bool          `mapstructure:"headless" yaml:"headless"`
	ExecPath          string        `mapstructure:"exec_path" yaml:"exec_path"`
	IgnoreTLSErrors   bool          `mapstructure:"ignore_tls_errors" yaml:"ignore_tls_errors"`
	UserAgent         string        `mapstructure:"user_agent" yaml:"user_agent"`
	Args              []string      `mapstructure:"args" yaml:"args"`
	LaunchTimeout     time.Duration `mapstructure:"launch_timeout" yaml:"launch_timeout"`
	NavigationTimeout time.Duration `mapstructure:"navigation_timeout" yaml:"navigation_timeout"`
	// Locale, Timezone and Languages override what each tab reports. Empty
	// values keep the browser's own.
	Locale    string   `mapstructure:"locale" yaml:"locale"`
	Timezone  string   `mapstructure:"timezone" yaml:"timezone"`
	Languages []string `mapstructure:"languages" yaml:"languages"`
	// FrameRate caps how often visibility-gated waits re-check, per second.
	FrameRate float64 `mapstructure:"frame_rate" yaml:"frame_rate"`
}

// AutofillConfig tunes the autofill engine and site script runs.
type AutofillConfig struct {
	// FieldTimeout bounds each field wait in CLI runs. Zero waits forever.
	FieldTimeout time.Duration `mapstructure:"field_timeout" yaml:"field_timeout"`
	// FrameInterval is the animation-frame period of offline (memdom) runs.
	FrameInterval time.Duration `mapstructure:"frame_interval" yaml:"frame_interval"`
	DispatchKeys  bool          `mapstructure:"dispatch_keys" yaml:"dispatch_keys"`
	ScriptsDir    string        `mapstructure:"scripts_dir" yaml:"scripts_dir"`
}

// StoreConfig selects where profiles and settings live.
type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	Path   string `mapstructure:"path" yaml:"path"`
	DSN    string `mapstructure:"dsn" yaml:"-"`
}

// ProxyConfig defines the local proxy that forwards browser traffic to an
// authenticated upstream.
type ProxyConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	ListenAddr string `mapstructure:"listen_addr" yaml:"listen_addr"`
	Upstream   string `mapstructure:"upstream" yaml:"upstream"`
	Username   string `mapstructure:"username" yaml:"username"`
	Password   string `mapstructure:"password" yaml:"-"`
}

// Store drivers.
const (
	StoreDriverFile     = "file"
	StoreDriverPostgres = "postgres"
)

// NewDefaultConfig returns a Config populated only with defaults.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// Defaults are static; failing here is a programming error.
		panic(fmt.Sprintf("config: defaults do not unmarshal: %v", err))
	}
	return &cfg
}

// SetDefaults registers every default value on v.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "nox")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.compress", true)

	// -- Browser --
	v.SetDefault("browser.headless", false)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.launch_timeout", "30s")
	v.SetDefault("browser.navigation_timeout", "60s")
	v.SetDefault("browser.frame_rate", 60.0)

	// -- Autofill --
	v.SetDefault("autofill.field_timeout", "0s")
	v.SetDefault("autofill.frame_interval", "16ms")
	v.SetDefault("autofill.dispatch_keys", false)
	v.SetDefault("autofill.scripts_dir", "sites")

	// -- Store --
	v.SetDefault("store.driver", StoreDriverFile)
	v.SetDefault("store.path", DefaultStorePath())

	// -- Proxy --
	v.SetDefault("proxy.enabled", false)
	v.SetDefault("proxy.listen_addr", "127.0.0.1:0")
}

// DefaultStorePath is ~/.nox/profiles.json, or a relative path when the home
// directory cannot be resolved.
func DefaultStorePath() string {
	home, err := homedir.Dir()
	if err != nil {
		return filepath.Join(".nox", "profiles.json")
	}
	return filepath.Join(home, ".nox", "profiles.json")
}

// SearchPaths lists the directories searched for config.yaml.
func SearchPaths() []string {
	paths := []string{"."}
	if home, err := homedir.Dir(); err == nil {
		paths = append(paths, filepath.Join(home, ".nox"))
	}
	return paths
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	v.BindEnv("store.dsn", "NOX_STORE_DSN")
	v.BindEnv("proxy.password", "NOX_PROXY_PASSWORD")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Expand ~ in user-supplied paths.
	if p, err := homedir.Expand(cfg.StoreCfg.Path); err == nil {
		cfg.StoreCfg.Path = p
	}
	if p, err := homedir.Expand(cfg.AutofillCfg.ScriptsDir); err == nil {
		cfg.AutofillCfg.ScriptsDir = p
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.AutofillCfg.FieldTimeout < 0 {
		return fmt.Errorf("autofill.field_timeout must not be negative")
	}
	if c.AutofillCfg.FrameInterval <= 0 {
		return fmt.Errorf("autofill.frame_interval must be a positive duration")
	}
	if c.BrowserCfg.FrameRate <= 0 {
		return fmt.Errorf("browser.frame_rate must be positive")
	}
	if err := c.StoreCfg.Validate(); err != nil {
		return fmt.Errorf("store configuration invalid: %w", err)
	}
	if err := c.ProxyCfg.Validate(); err != nil {
		return fmt.Errorf("proxy configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the store settings for the selected driver.
func (s *StoreConfig) Validate() error {
	switch strings.ToLower(s.Driver) {
	case StoreDriverFile:
		if s.Path == "" {
			return fmt.Errorf("path is required for the file driver")
		}
	case StoreDriverPostgres:
		if s.DSN == "" {
			return fmt.Errorf("dsn is required for the postgres driver. Ensure NOX_STORE_DSN is set")
		}
	default:
		return fmt.Errorf("unknown driver %q", s.Driver)
	}
	return nil
}

// Validate checks the proxy settings.
func (p *ProxyConfig) Validate() error {
	if !p.Enabled {
		return nil
	}
	if p.Upstream == "" {
		return fmt.Errorf("upstream is required when the proxy is enabled")
	}
	u, err := url.Parse(p.Upstream)
	if err != nil || u.Host == "" {
		return fmt.Errorf("upstream %q is not a valid URL", p.Upstream)
	}
	if p.ListenAddr == "" {
		return fmt.Errorf("listen_addr is required when the proxy is enabled")
	}
	return nil
}
