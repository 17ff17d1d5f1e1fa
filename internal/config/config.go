// The application's root configuration.
package config

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
	loadErr  error
	mu       sync.RWMutex
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Control   ControlConfig   `mapstructure:"control"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Generator GeneratorConfig `mapstructure:"generator"`
	Store     StoreConfig     `mapstructure:"store"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
// This is the single source of truth for this struct.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// EngineConfig holds settings for the orchestration runtime.
type EngineConfig struct {
	// QueueSize bounds the number of pending boot/regenerate/profile jobs.
	QueueSize int `mapstructure:"queue_size"`
	// ResolveConcurrency bounds parallel module resolution. Zero means unbounded.
	ResolveConcurrency int           `mapstructure:"resolve_concurrency"`
	BootTimeout        time.Duration `mapstructure:"boot_timeout"`
	AutoRotate         bool          `mapstructure:"auto_rotate"`
	RotateInterval     time.Duration `mapstructure:"rotate_interval"`
	// DisabledInterceptors lists surface interceptors left out of the module set.
	DisabledInterceptors []string `mapstructure:"disabled_interceptors"`
}

// ControlConfig holds settings for the control channel server.
type ControlConfig struct {
	Listen         string        `mapstructure:"listen"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// BrowserConfig holds settings for the Chrome target.
type BrowserConfig struct {
	Headless bool     `mapstructure:"headless"`
	Args     []string `mapstructure:"args"`
	// ModuleBaseURL prefixes the source URL of every page-side module
	// script. Frames from URLs without the code marker stay visible to the
	// page.
	ModuleBaseURL string `mapstructure:"module_base_url"`
	StartURL      string `mapstructure:"start_url"`
}

// GeneratorConfig holds settings for the default profile generator.
type GeneratorConfig struct {
	// Archetypes restricts generation to the named archetypes. Empty means all.
	Archetypes []string `mapstructure:"archetypes"`
}

// StoreConfig selects the settings and statistics backend.
type StoreConfig struct {
	Driver      string `mapstructure:"driver"` // "sqlite" or "postgres"
	PostgresURL string `mapstructure:"postgres_url"`
	SQLitePath  string `mapstructure:"sqlite_path"`
}

// SetDefaults registers the defaults so the app can run with a minimal config.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "chameleon")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 28)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	v.SetDefault("engine.queue_size", 64)
	v.SetDefault("engine.resolve_concurrency", 4)
	v.SetDefault("engine.boot_timeout", 30*time.Second)
	v.SetDefault("engine.auto_rotate", false)
	v.SetDefault("engine.rotate_interval", time.Hour)

	v.SetDefault("control.listen", "127.0.0.1:7725")
	v.SetDefault("control.allowed_origins", []string{"chrome-extension://*", "moz-extension://*", "http://127.0.0.1:*", "http://localhost:*"})
	v.SetDefault("control.request_timeout", 5*time.Second)

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.module_base_url", "chameleon://modules/")
	v.SetDefault("browser.start_url", "about:blank")

	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "chameleon.db")
}

// Validate checks the configuration for values the runtime cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Engine.QueueSize <= 0 {
		errs = append(errs, errors.New("engine.queue_size must be a positive integer"))
	}
	if c.Engine.ResolveConcurrency < 0 {
		errs = append(errs, errors.New("engine.resolve_concurrency must not be negative"))
	}
	if c.Engine.AutoRotate && c.Engine.RotateInterval <= 0 {
		errs = append(errs, errors.New("engine.rotate_interval must be positive when auto_rotate is enabled"))
	}
	if c.Control.RequestTimeout <= 0 {
		errs = append(errs, errors.New("control.request_timeout must be positive"))
	}
	switch c.Store.Driver {
	case "sqlite":
		if c.Store.SQLitePath == "" {
			errs = append(errs, errors.New("store.sqlite_path is required for the sqlite driver"))
		}
	case "postgres":
		if c.Store.PostgresURL == "" {
			errs = append(errs, errors.New("store.postgres_url is required for the postgres driver"))
		}
	case "":
		// Store disabled.
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}
	return errors.Join(errs...)
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	once.Do(func() {
		var cfg Config
		if err := v.Unmarshal(&cfg); err != nil {
			loadErr = fmt.Errorf("error unmarshaling config: %w", err)
			return
		}
		mu.Lock()
		instance = &cfg
		mu.Unlock()
	})
	return loadErr
}

// Set replaces the global configuration instance.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}
