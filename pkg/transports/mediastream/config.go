package mediastream

import "strings"

const DefaultGreeting = "Ready for SipRTC Media Stream"

type Config struct {
	ServerAddr      string   `mapstructure:"server_addr"`
	WebsocketPath   string   `mapstructure:"ws_path"`
	DefaultProvider string   `mapstructure:"default_provider"`
	Greeting        string   `mapstructure:"greeting"`
	ReadLimit       int64    `mapstructure:"read_limit"`
	AllowAnyOrigin  bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	VoicePath       string   `mapstructure:"voice_path"`
	PublicURL       string   `mapstructure:"public_url"`
	AccountSID      string   `mapstructure:"account_sid"`
	AuthToken       string   `mapstructure:"auth_token"`
	MetricsPath     string   `mapstructure:"metrics_path"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/"
	}
	if !strings.HasPrefix(c.WebsocketPath, "/") {
		c.WebsocketPath = "/" + c.WebsocketPath
	}
	if c.DefaultProvider == "" {
		c.DefaultProvider = "microsoft"
	}
	if c.Greeting == "" {
		c.Greeting = DefaultGreeting
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = 1 << 20
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.MetricsPath == "" {
		c.MetricsPath = "/metrics"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// voiceWebhookURL is the public URL of the TwiML endpoint.
func (c Config) voiceWebhookURL() string {
	if c.PublicURL != "" {
		return "https://" + normalizePublicURL(c.PublicURL) + c.VoicePath
	}
	addr := c.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + c.VoicePath
}

func normalizePublicURL(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	return strings.TrimRight(v, "/")
}
