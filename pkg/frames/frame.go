// Package frames decodes the media-stream envelope a SIP/telephony gateway
// sends over the bridge WebSocket:
//
//	{ "event": "start" }
//	{ "event": "media", "media": { "payload": "<base64 audio>" } }
//	{ "event": "stop" }
//
// Parsing is pure and never fails across the package boundary: anything that
// cannot be used is returned as a KindMalformed frame carrying the cause.
package frames

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/harunnryd/siprtc-bridge/pkg/errorsx"
)

type Kind string

const (
	KindStart     Kind = "start"
	KindMedia     Kind = "media"
	KindStop      Kind = "stop"
	KindMalformed Kind = "malformed"
	// KindIgnored marks well-formed gateway events the bridge has no use for
	// (connected, mark, dtmf).
	KindIgnored Kind = "ignored"
)

// Frame is one parsed inbound message.
type Frame struct {
	Kind    Kind
	Event   string
	Payload []byte
	Meta    Meta
	Err     error
}

// Meta carries optional gateway identifiers, used for logging only.
type Meta struct {
	StreamSID   string
	CallSID     string
	Sequence    string
	Encoding    string
	SampleRate  int
	Channels    int
	StopReason  string
	PayloadSize int
}

type mediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

type startBody struct {
	StreamSID   string       `json:"streamSid"`
	CallSID     string       `json:"callSid"`
	MediaFormat *mediaFormat `json:"mediaFormat,omitempty"`
}

type mediaBody struct {
	Payload string `json:"payload"`
	Track   string `json:"track,omitempty"`
}

type stopBody struct {
	CallSID string `json:"callSid"`
	Reason  string `json:"reason"`
}

type envelope struct {
	Event     string     `json:"event"`
	StreamSID string     `json:"streamSid,omitempty"`
	Sequence  string     `json:"sequenceNumber,omitempty"`
	Start     *startBody `json:"start,omitempty"`
	Media     *mediaBody `json:"media,omitempty"`
	Stop      *stopBody  `json:"stop,omitempty"`
}

// Parse decodes one transport message.
func Parse(raw []byte) Frame {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return malformed("", fmt.Errorf("decode envelope: %w", err))
	}
	event := env.Event
	meta := Meta{StreamSID: env.StreamSID, Sequence: env.Sequence}

	switch event {
	case "":
		return malformed("", errorsx.New(errorsx.ReasonMalformedFrame, "missing event field"))
	case "start":
		if env.Start != nil {
			if env.Start.StreamSID != "" {
				meta.StreamSID = env.Start.StreamSID
			}
			meta.CallSID = env.Start.CallSID
			if mf := env.Start.MediaFormat; mf != nil {
				meta.Encoding = mf.Encoding
				meta.SampleRate = mf.SampleRate
				meta.Channels = mf.Channels
			}
		}
		return Frame{Kind: KindStart, Event: event, Meta: meta}
	case "media":
		if env.Media == nil || env.Media.Payload == "" {
			return malformed(event, errorsx.New(errorsx.ReasonMalformedFrame, "media frame without payload"))
		}
		payload, err := base64.StdEncoding.DecodeString(env.Media.Payload)
		if err != nil {
			return malformed(event, fmt.Errorf("decode media payload: %w", err))
		}
		meta.PayloadSize = len(payload)
		return Frame{Kind: KindMedia, Event: event, Payload: payload, Meta: meta}
	case "stop":
		if env.Stop != nil {
			meta.CallSID = env.Stop.CallSID
			meta.StopReason = env.Stop.Reason
		}
		return Frame{Kind: KindStop, Event: event, Meta: meta}
	case "connected", "mark", "dtmf":
		return Frame{Kind: KindIgnored, Event: event, Meta: meta}
	default:
		return malformed(event, errorsx.New(errorsx.ReasonMalformedFrame, "unrecognized event "+event))
	}
}

func malformed(event string, err error) Frame {
	return Frame{Kind: KindMalformed, Event: event, Err: errorsx.Wrap(err, errorsx.ReasonMalformedFrame)}
}
