package bridge

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/harunnryd/siprtc-bridge/pkg/adapters/stt"
	"github.com/harunnryd/siprtc-bridge/pkg/audio"
	"github.com/harunnryd/siprtc-bridge/pkg/configutil"
	"github.com/harunnryd/siprtc-bridge/pkg/errorsx"
	"github.com/harunnryd/siprtc-bridge/pkg/providers/deepgram"
	"github.com/harunnryd/siprtc-bridge/pkg/providers/microsoft"
	"github.com/harunnryd/siprtc-bridge/pkg/providers/mock"
)

// ProviderFactory builds a provider and its session audio format from the
// settings under providers.<name>.settings.
type ProviderFactory func(settings map[string]any) (stt.Provider, audio.Format, error)

type builtProvider struct {
	provider stt.Provider
	format   audio.Format
}

// ProviderRegistry resolves provider keys to configured adapters. Each
// provider is built once and shared by every session selecting it.
type ProviderRegistry struct {
	mu        sync.Mutex
	factories map[string]ProviderFactory
	settings  map[string]map[string]any
	built     map[string]builtProvider
}

func NewProviderRegistry() *ProviderRegistry {
	return &ProviderRegistry{
		factories: make(map[string]ProviderFactory),
		settings:  make(map[string]map[string]any),
		built:     make(map[string]builtProvider),
	}
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (r *ProviderRegistry) Register(name string, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := normalizeName(name)
	r.factories[key] = factory
	delete(r.built, key)
}

// Configure replaces the settings used for name and drops any built instance.
func (r *ProviderRegistry) Configure(name string, settings map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := normalizeName(name)
	r.settings[key] = settings
	delete(r.built, key)
}

// Names lists registered provider keys in sorted order.
func (r *ProviderRegistry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Resolve implements mediastream.ProviderResolver.
func (r *ProviderRegistry) Resolve(name string) (stt.Provider, audio.Format, error) {
	key := normalizeName(name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.built[key]; ok {
		return b.provider, b.format, nil
	}
	factory := r.factories[key]
	if factory == nil {
		return nil, audio.Format{}, errorsx.Newf(errorsx.ReasonUnsupportedProvider, "unsupported provider: %s", name)
	}
	p, format, err := factory(r.settings[key])
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("providers.%s.settings: %w", key, err)
	}
	r.built[key] = builtProvider{provider: p, format: format}
	return p, format, nil
}

// Validate builds every configured provider so bad settings fail at startup
// rather than on the first call.
func (r *ProviderRegistry) Validate() error {
	for _, name := range r.Names() {
		if _, _, err := r.Resolve(name); err != nil {
			return err
		}
	}
	return nil
}

type formatSettings struct {
	SampleRate int    `mapstructure:"sample_rate"`
	Encoding   string `mapstructure:"encoding"`
	Channels   int    `mapstructure:"channels"`
}

var formatKeys = []string{"sample_rate", "encoding", "channels"}

// sessionFormat applies sample_rate/encoding/channels overrides to def.
func sessionFormat(settings map[string]any, def audio.Format) (audio.Format, error) {
	var fs formatSettings
	if err := configutil.DecodeSettings(settings, &fs); err != nil {
		return audio.Format{}, err
	}
	f := def
	if fs.Encoding != "" {
		enc, err := audio.ParseEncoding(fs.Encoding)
		if err != nil {
			return audio.Format{}, err
		}
		if enc != f.Encoding {
			if enc == audio.EncodingMulaw {
				f = audio.Mulaw(f.SampleRate)
			} else {
				f = audio.PCM16(f.SampleRate)
			}
		}
	}
	if fs.SampleRate > 0 {
		f.SampleRate = fs.SampleRate
	}
	if fs.Channels > 0 {
		f.Channels = fs.Channels
	}
	if err := f.Validate(); err != nil {
		return audio.Format{}, err
	}
	return f, nil
}

func validateSettings(input map[string]any, schema configutil.Schema) error {
	schema.Optional = append(schema.Optional, formatKeys...)
	return configutil.ValidateSettings(input, schema)
}

// RegisterBuiltins adds the microsoft, deepgram and mock adapters.
func RegisterBuiltins(reg *ProviderRegistry) {
	reg.Register("microsoft", func(settings map[string]any) (stt.Provider, audio.Format, error) {
		if err := validateSettings(settings, configutil.Schema{
			Optional: []string{"key", "region", "language", "endpoint", "interim", "dial_retries", "dial_backoff", "stop_timeout", "handshake_timeout", "event_buffer"},
		}); err != nil {
			return nil, audio.Format{}, err
		}
		var cfg microsoft.Config
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, audio.Format{}, err
		}
		format, err := sessionFormat(settings, microsoft.DefaultFormat())
		if err != nil {
			return nil, audio.Format{}, err
		}
		return microsoft.New(cfg), format, nil
	})

	reg.Register("deepgram", func(settings map[string]any) (stt.Provider, audio.Format, error) {
		if err := validateSettings(settings, configutil.Schema{
			Optional: []string{"api_key", "model", "language", "smart_format", "interim", "finish_timeout", "event_buffer", "params"},
		}); err != nil {
			return nil, audio.Format{}, err
		}
		var cfg deepgram.Config
		if err := configutil.DecodeSettings(settings, &cfg); err != nil {
			return nil, audio.Format{}, err
		}
		if cfg.Params.UtteranceEndMS < 0 || cfg.Params.UtteranceEndMS > 5000 {
			return nil, audio.Format{}, fmt.Errorf("params.utterance_end_ms must be between 0 and 5000, got %d", cfg.Params.UtteranceEndMS)
		}
		format, err := sessionFormat(settings, deepgram.DefaultFormat())
		if err != nil {
			return nil, audio.Format{}, err
		}
		return deepgram.New(cfg), format, nil
	})

	reg.Register("mock", func(settings map[string]any) (stt.Provider, audio.Format, error) {
		if err := validateSettings(settings, configutil.Schema{
			Optional: []string{"transcript", "skip_ready", "event_buffer"},
		}); err != nil {
			return nil, audio.Format{}, err
		}
		var s struct {
			Transcript  string `mapstructure:"transcript"`
			SkipReady   bool   `mapstructure:"skip_ready"`
			EventBuffer int    `mapstructure:"event_buffer"`
		}
		if err := configutil.DecodeSettings(settings, &s); err != nil {
			return nil, audio.Format{}, err
		}
		format, err := sessionFormat(settings, audio.PCM16(8000))
		if err != nil {
			return nil, audio.Format{}, err
		}
		return mock.New(mock.Config{
			Transcript:  s.Transcript,
			SkipReady:   s.SkipReady,
			EventBuffer: s.EventBuffer,
		}), format, nil
	})
}
