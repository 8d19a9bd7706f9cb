package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harunnryd/siprtc-bridge/pkg/adapters/stt"
	"github.com/harunnryd/siprtc-bridge/pkg/audio"
	"github.com/harunnryd/siprtc-bridge/pkg/errorsx"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
)

type fakeClient struct {
	cb        msginterfaces.LiveMessageCallback
	connectOK bool
	flushText string
	silent    bool

	mu       sync.Mutex
	streamed bytes.Buffer
	controls []any
	stops    int
	tOpts    *interfaces.LiveTranscriptionOptions
}

func (f *fakeClient) Connect() bool {
	if f.connectOK {
		_ = f.cb.Open(&msginterfaces.OpenResponse{})
	}
	return f.connectOK
}

func (f *fakeClient) Stream(r io.Reader) error {
	buf := make([]byte, 64)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			f.mu.Lock()
			f.streamed.Write(buf[:n])
			f.mu.Unlock()
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (f *fakeClient) WriteJSON(payload any) error {
	f.mu.Lock()
	f.controls = append(f.controls, payload)
	f.mu.Unlock()
	if f.silent {
		return nil
	}
	if f.flushText != "" {
		_ = f.cb.Message(message(f.flushText, true))
	}
	_ = f.cb.Close(&msginterfaces.CloseResponse{})
	return nil
}

func (f *fakeClient) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func message(text string, final bool) *msginterfaces.MessageResponse {
	raw := `{"type":"Results","is_final":` + map[bool]string{true: "true", false: "false"}[final] +
		`,"channel":{"alternatives":[{"transcript":"` + text + `","confidence":0.9}]}}`
	var mr msginterfaces.MessageResponse
	if err := json.Unmarshal([]byte(raw), &mr); err != nil {
		panic(err)
	}
	return &mr
}

func awaitReady(t *testing.T, s stt.Stream) {
	t.Helper()
	select {
	case evt := <-s.Events():
		if evt.Kind != stt.EventReady {
			t.Fatalf("expected ready first, got %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("no ready event")
	}
}

func newTestProvider(cfg Config, fc *fakeClient) *Provider {
	p := New(cfg)
	p.dial = func(ctx context.Context, apiKey string, cOpts *interfaces.ClientOptions, tOpts *interfaces.LiveTranscriptionOptions, cb msginterfaces.LiveMessageCallback) (liveClient, error) {
		fc.cb = cb
		fc.tOpts = tOpts
		return fc, nil
	}
	return p
}

func drainEvents(t *testing.T, s stt.Stream) []stt.Event {
	t.Helper()
	var out []stt.Event
	timeout := time.After(3 * time.Second)
	for {
		select {
		case evt, ok := <-s.Events():
			if !ok {
				return out
			}
			out = append(out, evt)
		case <-timeout:
			t.Fatalf("events channel not closed, got %v", out)
		}
	}
}

func TestOpenWithoutAPIKey(t *testing.T) {
	t.Setenv(EnvAPIKey, "")
	p := New(Config{})
	_, err := p.Open(context.Background(), DefaultFormat())
	if !stt.IsMissingCredentials(err) {
		t.Fatalf("expected missing credentials, got %v", err)
	}
	if !errorsx.HasReason(err, errorsx.ReasonMissingCredentials) {
		t.Fatalf("expected missing_credentials reason, got %s", errorsx.Reason(err))
	}
}

func TestDefaultsAndTranscriptionOptions(t *testing.T) {
	fc := &fakeClient{connectOK: true}
	p := newTestProvider(Config{APIKey: "dg", Interim: true}, fc)
	s, err := p.Open(context.Background(), DefaultFormat())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if fc.tOpts.Model != "nova-3" || fc.tOpts.Language != "en-US" || !fc.tOpts.SmartFormat {
		t.Fatalf("unexpected options %+v", fc.tOpts)
	}
	if fc.tOpts.Encoding != "mulaw" || fc.tOpts.SampleRate != 8000 || !fc.tOpts.InterimResults {
		t.Fatalf("unexpected audio options %+v", fc.tOpts)
	}
}

func TestStreamForwardsAudioAndFlushesOnClose(t *testing.T) {
	fc := &fakeClient{connectOK: true, flushText: "trailing words"}
	p := newTestProvider(Config{APIKey: "dg", FinishTimeout: time.Second}, fc)
	s, err := p.Open(context.Background(), audio.Mulaw(8000))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, chunk := range [][]byte{{0x00, 0x00}, {0x00, 0x01}, {0x00, 0x02}} {
		if err := s.PushAudio(chunk); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	awaitReady(t, s)
	// Partial and empty results from the live connection.
	_ = fc.cb.Message(message("trail", false))
	_ = fc.cb.Message(message("", true))

	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = s.Close()

	evts := drainEvents(t, s)
	var kinds []string
	for _, e := range evts {
		kinds = append(kinds, string(e.Kind))
	}
	if got := strings.Join(kinds, ","); got != "transcript,transcript,closed" {
		t.Fatalf("unexpected events %s", got)
	}
	if evts[0].Final || evts[0].Text != "trail" {
		t.Fatalf("expected partial transcript, got %+v", evts[0])
	}
	if !evts[1].Final || evts[1].Text != "trailing words" {
		t.Fatalf("expected flushed final transcript, got %+v", evts[1])
	}

	fc.mu.Lock()
	defer fc.mu.Unlock()
	if !bytes.Equal(fc.streamed.Bytes(), []byte{0x00, 0x00, 0x00, 0x01, 0x00, 0x02}) {
		t.Fatalf("unexpected streamed bytes %v", fc.streamed.Bytes())
	}
	if len(fc.controls) != 1 || fc.controls[0].(map[string]string)["type"] != "CloseStream" {
		t.Fatalf("expected one CloseStream control, got %v", fc.controls)
	}
	if fc.stops != 1 {
		t.Fatalf("expected one Stop, got %d", fc.stops)
	}
	if err := s.PushAudio([]byte{1}); !errors.Is(err, stt.ErrStreamClosed) {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}
}

func TestCloseGivesUpAfterFinishTimeout(t *testing.T) {
	fc := &fakeClient{connectOK: true, silent: true}
	p := newTestProvider(Config{APIKey: "dg", FinishTimeout: 50 * time.Millisecond}, fc)
	s, _ := p.Open(context.Background(), DefaultFormat())

	start := time.Now()
	_ = s.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("close took too long: %s", elapsed)
	}
	evts := drainEvents(t, s)
	if last := evts[len(evts)-1]; last.Kind != stt.EventClosed {
		t.Fatalf("expected closed last, got %+v", last)
	}
}

func TestConnectFailureEmitsErrorThenClosed(t *testing.T) {
	fc := &fakeClient{connectOK: false}
	p := newTestProvider(Config{APIKey: "dg", FinishTimeout: 100 * time.Millisecond}, fc)
	s, err := p.Open(context.Background(), DefaultFormat())
	if err != nil {
		t.Fatalf("open must not connect synchronously: %v", err)
	}
	evts := drainEvents(t, s)
	if len(evts) != 2 || evts[0].Kind != stt.EventError || evts[1].Kind != stt.EventClosed {
		t.Fatalf("unexpected events %+v", evts)
	}
	_ = s.Close()
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if len(fc.controls) != 0 {
		t.Fatalf("CloseStream must not be sent on an unconnected client")
	}
}

func TestRemoteCloseAndErrorCallbacks(t *testing.T) {
	fc := &fakeClient{connectOK: true}
	p := newTestProvider(Config{APIKey: "dg"}, fc)
	s, _ := p.Open(context.Background(), DefaultFormat())
	awaitReady(t, s)

	_ = fc.cb.Error(&msginterfaces.ErrorResponse{ErrCode: "NET-0001", ErrMsg: "socket reset"})
	_ = fc.cb.Close(&msginterfaces.CloseResponse{})
	_ = fc.cb.Close(&msginterfaces.CloseResponse{})

	evts := drainEvents(t, s)
	if len(evts) != 2 || evts[0].Kind != stt.EventError || !strings.Contains(evts[0].Detail, "socket reset") {
		t.Fatalf("unexpected events %+v", evts)
	}
	if evts[1].Kind != stt.EventClosed {
		t.Fatalf("expected closed, got %+v", evts[1])
	}
	_ = s.Close()
}
