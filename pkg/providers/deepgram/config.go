package deepgram

import (
	"os"
	"strings"
	"time"
)

const (
	EnvAPIKey = "DEEPGRAM_API_KEY"

	DefaultModel    = "nova-3"
	DefaultLanguage = "en-US"
)

type Params struct {
	UtteranceEndMS int  `mapstructure:"utterance_end_ms"`
	VADEvents      bool `mapstructure:"vad_events"`
}

type Config struct {
	APIKey      string `mapstructure:"api_key"`
	Model       string `mapstructure:"model"`
	Language    string `mapstructure:"language"`
	SmartFormat *bool  `mapstructure:"smart_format"`
	Interim     bool   `mapstructure:"interim"`
	// FinishTimeout bounds how long Close waits for the backend to flush.
	FinishTimeout time.Duration `mapstructure:"finish_timeout"`
	EventBuffer   int           `mapstructure:"event_buffer"`
	Params        Params        `mapstructure:"params"`
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.APIKey) == "" {
		c.APIKey = os.Getenv(EnvAPIKey)
	}
	c.APIKey = strings.TrimSpace(c.APIKey)
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.SmartFormat == nil {
		v := true
		c.SmartFormat = &v
	}
	if c.FinishTimeout <= 0 {
		c.FinishTimeout = 3 * time.Second
	}
	return c
}
