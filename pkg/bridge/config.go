package bridge

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/harunnryd/siprtc-bridge/pkg/configutil"
	"github.com/harunnryd/siprtc-bridge/pkg/transports/mediastream"
	"github.com/spf13/viper"
)

type Config struct {
	Environment  string                    `mapstructure:"environment"`
	LogLevel     string                    `mapstructure:"log_level"`
	LogFormat    string                    `mapstructure:"log_format"`
	DrainTimeout time.Duration             `mapstructure:"drain_timeout"`
	Server       mediastream.Config        `mapstructure:"server"`
	Session      SessionConfig             `mapstructure:"session"`
	Providers    map[string]ProviderConfig `mapstructure:"providers"`
	Privacy      PrivacyConfig             `mapstructure:"privacy"`
	Metrics      MetricsConfig             `mapstructure:"metrics"`
	Events       EventsConfig              `mapstructure:"events"`
}

// ProviderConfig holds free-form adapter settings. Each adapter validates its
// own keys when the registry builds it.
type ProviderConfig struct {
	Settings map[string]any `mapstructure:"settings"`
}

type SessionConfig struct {
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

type PrivacyConfig struct {
	RedactPII bool `mapstructure:"redact_pii"`
}

type MetricsConfig struct {
	Prometheus  bool    `mapstructure:"prometheus"`
	Namespace   string  `mapstructure:"namespace"`
	LogEvents   bool    `mapstructure:"log_events"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	AsyncBuffer int     `mapstructure:"async_buffer"`
}

type EventsConfig struct {
	Log   bool        `mapstructure:"log"`
	Redis RedisConfig `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// LoadConfig reads a YAML config file, applies defaults and SIPRTC_* env
// overrides, and expands ${VAR} references in every string value.
func LoadConfig(path string) (Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	return decodeConfig(v)
}

// DefaultConfig is the configuration used when no file is given.
func DefaultConfig() (Config, error) {
	return decodeConfig(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("SIPRTC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("drain_timeout", "10s")
	v.SetDefault("server.server_addr", ":8080")
	v.SetDefault("server.ws_path", "/")
	v.SetDefault("server.default_provider", "microsoft")
	v.SetDefault("server.greeting", mediastream.DefaultGreeting)
	v.SetDefault("server.voice_path", "/voice")
	v.SetDefault("server.metrics_path", "/metrics")
	v.SetDefault("server.allow_any_origin", true)
	v.SetDefault("session.publish_timeout", "2s")
	v.SetDefault("privacy.redact_pii", true)
	v.SetDefault("metrics.prometheus", true)
	v.SetDefault("metrics.namespace", "siprtc")
	v.SetDefault("metrics.log_events", false)
	v.SetDefault("metrics.sample_rate", 0.01)
	v.SetDefault("metrics.async_buffer", 2048)
	v.SetDefault("events.log", true)
	v.SetDefault("events.redis.channel", "")
	return v
}

func decodeConfig(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal: %w", err)
	}
	expandEnvStrings(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := configutil.RequireString(c.Server.ServerAddr, "server.server_addr"); err != nil {
		return err
	}
	if err := configutil.RequireString(c.Server.DefaultProvider, "server.default_provider"); err != nil {
		return err
	}
	if c.Metrics.SampleRate < 0 || c.Metrics.SampleRate > 1 {
		return fmt.Errorf("metrics.sample_rate must be between 0 and 1, got %v", c.Metrics.SampleRate)
	}
	if c.DrainTimeout < 0 {
		return fmt.Errorf("drain_timeout must not be negative")
	}
	return nil
}

// ProviderSettings returns the settings map for a provider key, or nil.
func (c Config) ProviderSettings(name string) map[string]any {
	for k, p := range c.Providers {
		if strings.EqualFold(strings.TrimSpace(k), name) {
			return p.Settings
		}
	}
	return nil
}

func expandEnvStrings(cfg *Config) {
	expandValue(reflect.ValueOf(cfg))
	for name, p := range cfg.Providers {
		p.Settings = configutil.ExpandSettings(p.Settings)
		cfg.Providers[name] = p
	}
}

func expandValue(v reflect.Value) {
	if !v.IsValid() {
		return
	}
	switch v.Kind() {
	case reflect.Pointer:
		if !v.IsNil() {
			expandValue(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			expandValue(v.Field(i))
		}
	case reflect.String:
		if v.CanSet() {
			v.SetString(os.ExpandEnv(v.String()))
		}
	case reflect.Slice:
		for i := 0; i < v.Len(); i++ {
			expandValue(v.Index(i))
		}
	}
}
