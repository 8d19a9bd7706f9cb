package configutil

import (
	"errors"
	"testing"
	"time"
)

func TestValidateSettingsReportsMissingAndUnknown(t *testing.T) {
	err := ValidateSettings(map[string]any{
		"api_key": "  ",
		"colour":  "blue",
	}, Schema{Required: []string{"api_key", "model"}, Optional: []string{"language"}})
	var se *SettingsError
	if !errors.As(err, &se) {
		t.Fatalf("expected SettingsError, got %v", err)
	}
	if len(se.Missing) != 2 || se.Missing[0] != "api_key" || se.Missing[1] != "model" {
		t.Fatalf("unexpected missing %v", se.Missing)
	}
	if len(se.Unknown) != 1 || se.Unknown[0] != "colour" {
		t.Fatalf("unexpected unknown %v", se.Unknown)
	}
	if se.Error() != "missing: api_key, model; unknown: colour" {
		t.Fatalf("unexpected message %q", se.Error())
	}
}

func TestValidateSettingsNormalizesKeys(t *testing.T) {
	err := ValidateSettings(map[string]any{"API-Key": "x", "smartFormat": true}, Schema{
		Required: []string{"api_key"},
		Optional: []string{"smart_format"},
	})
	if err != nil {
		t.Fatalf("expected valid settings, got %v", err)
	}
}

func TestDecodeSettingsWithDurationsAndWeakTypes(t *testing.T) {
	var out struct {
		Language    string        `mapstructure:"language"`
		StopTimeout time.Duration `mapstructure:"stop_timeout"`
		Interim     bool          `mapstructure:"interim"`
		Retries     int           `mapstructure:"dial_retries"`
	}
	err := DecodeSettings(map[string]any{
		"Language":     "en-IN",
		"stop-timeout": "750ms",
		"interim":      "true",
		"dialRetries":  "3",
	}, &out)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Language != "en-IN" || out.StopTimeout != 750*time.Millisecond || !out.Interim || out.Retries != 3 {
		t.Fatalf("unexpected decode %+v", out)
	}
}

func TestExpandSettings(t *testing.T) {
	t.Setenv("MS_SPEECH_KEY", "secret-key")
	t.Setenv("MS_SPEECH_REGION", "eastus")
	in := map[string]any{
		"key":    "${MS_SPEECH_KEY}",
		"region": "$MS_SPEECH_REGION",
		"nested": map[string]any{"url": "wss://${MS_SPEECH_REGION}.example"},
		"list":   []any{"${MS_SPEECH_KEY}", 3},
		"count":  2,
	}
	out := ExpandSettings(in)
	if out["key"] != "secret-key" || out["region"] != "eastus" {
		t.Fatalf("unexpected expansion %v", out)
	}
	if out["nested"].(map[string]any)["url"] != "wss://eastus.example" {
		t.Fatalf("nested map not expanded: %v", out["nested"])
	}
	if out["list"].([]any)[0] != "secret-key" || out["list"].([]any)[1] != 3 {
		t.Fatalf("list not expanded: %v", out["list"])
	}
	if in["key"] != "${MS_SPEECH_KEY}" {
		t.Fatalf("input must not be mutated")
	}
}

func TestExpandEnvUnsetIsEmpty(t *testing.T) {
	t.Setenv("SIPRTC_UNSET_FOR_TEST", "")
	if got := ExpandEnv("${SIPRTC_UNSET_FOR_TEST}"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
}
