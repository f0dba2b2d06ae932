package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"shopharness/pkg/model"
)

// EnvPrefix 环境变量前缀
const EnvPrefix = "SHOPCHECK"

// 浏览器驱动
const (
	DriverStatic     = "static"
	DriverCDP        = "cdp"
	DriverPlaywright = "playwright"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version" ignored:"true"`
	BaseURL string `yaml:"baseURL" envconfig:"BASE_URL"`

	Browser struct {
		Driver      string   `yaml:"driver"`
		ExecPath    string   `yaml:"execPath" split_words:"true"`
		DevToolsURL string   `yaml:"devToolsURL" envconfig:"DEVTOOLS_URL"`
		Headless    bool     `yaml:"headless"`
		Args        []string `yaml:"args"`
	} `yaml:"browser"`

	Session struct {
		Viewport    model.Viewport    `yaml:"viewport" ignored:"true"`
		Locale      string            `yaml:"locale"`
		ColorScheme model.ColorScheme `yaml:"colorScheme" split_words:"true"`
		UserAgent   string            `yaml:"userAgent" split_words:"true"`
	} `yaml:"session"`

	Timeouts struct {
		Navigation time.Duration `yaml:"navigation"`
		Action     time.Duration `yaml:"action"`
		Assertion  time.Duration `yaml:"assertion"`
		Poll       time.Duration `yaml:"poll"`
		Settle     time.Duration `yaml:"settle"`
		Snapshot   time.Duration `yaml:"snapshot"`
	} `yaml:"timeouts"`

	Viewports []model.Viewport `yaml:"viewports" ignored:"true"`
	Parallel  int              `yaml:"parallel"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.Browser.Driver = DriverStatic
	c.Browser.Headless = true
	c.Session.Viewport = model.DefaultViewport()
	c.Session.Locale = "en-US"
	c.Session.ColorScheme = model.ColorSchemeLight
	c.Timeouts.Navigation = 30 * time.Second
	c.Timeouts.Action = 5 * time.Second
	c.Timeouts.Assertion = 5 * time.Second
	c.Timeouts.Poll = 100 * time.Millisecond
	c.Timeouts.Settle = 500 * time.Millisecond
	c.Timeouts.Snapshot = 10 * time.Second
	c.Viewports = model.DefaultViewports()
	c.Parallel = 1
	c.Sqlite.Dsn = "shopcheck.sqlite3"
	c.Sqlite.Prefix = "shopcheck_"
	c.Log.Level = "info"
	c.Log.Writer = []string{"console"}
	c.Log.File = "logs/shopcheck.log"
	return c
}

// Load 依次应用默认值、配置文件、.env 与环境变量，path 为空时跳过配置文件
func Load(path string) (*Config, error) {
	c := NewConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	if err := envconfig.Process(EnvPrefix, c); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	var errs []error
	switch c.Browser.Driver {
	case DriverStatic, DriverCDP, DriverPlaywright:
	default:
		errs = append(errs, fmt.Errorf("unknown browser driver %q", c.Browser.Driver))
	}
	if c.BaseURL != "" {
		u, err := url.Parse(c.BaseURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("baseURL: %w", err))
		case u.Scheme != "http" && u.Scheme != "https":
			errs = append(errs, fmt.Errorf("baseURL %q: scheme must be http or https", c.BaseURL))
		}
	}
	if err := c.Session.Viewport.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("session: %w", err))
	}
	for _, vp := range c.Viewports {
		if err := vp.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("viewports: %w", err))
		}
	}
	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"navigation", c.Timeouts.Navigation},
		{"action", c.Timeouts.Action},
		{"assertion", c.Timeouts.Assertion},
		{"poll", c.Timeouts.Poll},
		{"snapshot", c.Timeouts.Snapshot},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			errs = append(errs, fmt.Errorf("timeouts.%s must be positive", t.name))
		}
	}
	if c.Timeouts.Settle < 0 {
		errs = append(errs, errors.New("timeouts.settle must not be negative"))
	}
	if c.Parallel < 1 {
		errs = append(errs, errors.New("parallel must be at least 1"))
	}
	return errors.Join(errs...)
}

// SessionConfig 由配置生成会话默认值
func (c *Config) SessionConfig() model.SessionConfig {
	return model.SessionConfig{
		BaseURL:     c.BaseURL,
		Viewport:    c.Session.Viewport,
		Locale:      c.Session.Locale,
		ColorScheme: c.Session.ColorScheme,
		UserAgent:   c.Session.UserAgent,
		Headless:    c.Browser.Headless,
		NavTimeout:  c.Timeouts.Navigation,
	}
}
