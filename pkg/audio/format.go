// Package audio holds the audio descriptors and the push-style sink shared by
// every speech-to-text adapter. Audio bytes are forwarded opaquely; nothing in
// this package transcodes or inspects samples.
package audio

import (
	"fmt"
	"strings"
)

type Encoding string

const (
	EncodingLinear16 Encoding = "linear16"
	EncodingMulaw    Encoding = "mulaw"
)

// ParseEncoding accepts the spellings used by gateways and vendors.
func ParseEncoding(v string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "linear16", "pcm", "pcm16", "s16le":
		return EncodingLinear16, nil
	case "mulaw", "ulaw", "mu-law", "pcmu":
		return EncodingMulaw, nil
	default:
		return "", fmt.Errorf("unsupported audio encoding %q", v)
	}
}

// Format describes the audio a provider stream is opened with.
type Format struct {
	SampleRate int
	BitDepth   int
	Channels   int
	Encoding   Encoding
}

// PCM16 returns signed 16-bit little-endian mono audio at rate.
func PCM16(rate int) Format {
	return Format{SampleRate: rate, BitDepth: 16, Channels: 1, Encoding: EncodingLinear16}
}

// Mulaw returns 8-bit G.711 mu-law mono audio at rate.
func Mulaw(rate int) Format {
	return Format{SampleRate: rate, BitDepth: 8, Channels: 1, Encoding: EncodingMulaw}
}

func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", f.SampleRate)
	}
	if f.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", f.Channels)
	}
	switch f.Encoding {
	case EncodingLinear16:
		if f.BitDepth != 16 {
			return fmt.Errorf("linear16 requires 16-bit samples, got %d", f.BitDepth)
		}
	case EncodingMulaw:
		if f.BitDepth != 8 {
			return fmt.Errorf("mulaw requires 8-bit samples, got %d", f.BitDepth)
		}
	default:
		return fmt.Errorf("unsupported audio encoding %q", f.Encoding)
	}
	return nil
}

// ByteRate is the number of bytes per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.Channels * f.BitDepth / 8
}

// String renders the format the way it is logged, e.g. "mulaw_8000_1ch_8bit".
func (f Format) String() string {
	return fmt.Sprintf("%s_%d_%dch_%dbit", f.Encoding, f.SampleRate, f.Channels, f.BitDepth)
}
