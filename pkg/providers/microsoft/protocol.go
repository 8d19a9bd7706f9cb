package microsoft

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"runtime"
	"strings"
	"time"
)

// Speech service WebSocket message paths.
const (
	pathSpeechConfig = "speech.config"
	pathAudio        = "audio"
	pathTurnStart    = "turn.start"
	pathTurnEnd      = "turn.end"
	pathHypothesis   = "speech.hypothesis"
	pathPhrase       = "speech.phrase"
	pathStartDetect  = "speech.startDetected"
	pathEndDetect    = "speech.endDetected"
)

const (
	statusSuccess = "Success"
	statusError   = "Error"
)

type phraseResult struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
	Offset            int64  `json:"Offset"`
	Duration          int64  `json:"Duration"`
}

type hypothesisResult struct {
	Text     string `json:"Text"`
	Offset   int64  `json:"Offset"`
	Duration int64  `json:"Duration"`
}

type turnStartResult struct {
	Context struct {
		ServiceTag string `json:"serviceTag"`
	} `json:"context"`
}

// inbound is a decoded text message from the service.
type inbound struct {
	Path    string
	Headers map[string]string
	Body    []byte
}

func timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

func textHeaders(path, requestID, contentType string) string {
	var b strings.Builder
	b.WriteString("Path: " + path + "\r\n")
	b.WriteString("X-RequestId: " + requestID + "\r\n")
	b.WriteString("X-Timestamp: " + timestamp() + "\r\n")
	if contentType != "" {
		b.WriteString("Content-Type: " + contentType + "\r\n")
	}
	return b.String()
}

// speechConfigMessage is the first text frame of a connection.
func speechConfigMessage(requestID string) []byte {
	payload := map[string]any{
		"context": map[string]any{
			"system": map[string]any{"version": "1.0.00000"},
			"os": map[string]any{
				"platform": runtime.GOOS,
				"name":     "siprtc-bridge",
				"version":  runtime.Version(),
			},
			"audio": map[string]any{
				"source": map[string]any{
					"connectivity": "Unknown",
					"manufacturer": "SipRTC",
					"model":        "media-stream",
					"type":         "Stream",
				},
			},
		},
	}
	body, _ := json.Marshal(payload)
	return []byte(textHeaders(pathSpeechConfig, requestID, "application/json; charset=utf-8") + "\r\n" + string(body))
}

// audioMessage frames one binary audio message: a big-endian uint16 header
// length, the ASCII headers, then the payload. An empty payload marks the end
// of the audio stream.
func audioMessage(requestID string, payload []byte) ([]byte, error) {
	headers := textHeaders(pathAudio, requestID, "audio/x-wav")
	if len(headers) > 0xFFFF {
		return nil, fmt.Errorf("audio headers too long: %d", len(headers))
	}
	var buf bytes.Buffer
	buf.Grow(2 + len(headers) + len(payload))
	_ = binary.Write(&buf, binary.BigEndian, uint16(len(headers)))
	buf.WriteString(headers)
	buf.Write(payload)
	return buf.Bytes(), nil
}

// parseAudioMessage splits a binary audio message. Used by tests and the
// loopback server.
func parseAudioMessage(msg []byte) (map[string]string, []byte, error) {
	if len(msg) < 2 {
		return nil, nil, fmt.Errorf("audio message too short")
	}
	n := int(binary.BigEndian.Uint16(msg[:2]))
	if len(msg) < 2+n {
		return nil, nil, fmt.Errorf("audio header length %d exceeds message", n)
	}
	return parseHeaders(string(msg[2 : 2+n])), msg[2+n:], nil
}

// parseTextMessage splits a service text frame into headers and body.
func parseTextMessage(msg []byte) (inbound, error) {
	idx := bytes.Index(msg, []byte("\r\n\r\n"))
	if idx < 0 {
		return inbound{}, fmt.Errorf("text message without header separator")
	}
	headers := parseHeaders(string(msg[:idx]))
	path := headers["path"]
	if path == "" {
		return inbound{}, fmt.Errorf("text message without Path header")
	}
	return inbound{Path: path, Headers: headers, Body: msg[idx+4:]}, nil
}

func parseHeaders(block string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(block, "\r\n") {
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		out[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
	}
	return out
}
