package microsoft

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/siprtc-bridge/pkg/adapters/stt"
	"github.com/harunnryd/siprtc-bridge/pkg/audio"
	"github.com/harunnryd/siprtc-bridge/pkg/errorsx"
)

// fakeService speaks just enough of the Speech service protocol for tests.
type fakeService struct {
	mu        sync.Mutex
	key       string
	language  string
	configs   int
	payloads  [][]byte
	endSeen   bool
	phraseFor string
	status    string
	// endFirstTurn makes the service close the first turn on its own after
	// the first audio message.
	endFirstTurn bool
	turnEnds     int
}

func (f *fakeService) handler(t *testing.T) http.HandlerFunc {
	upgrader := websocket.Upgrader{}
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.key = r.Header.Get("Ocp-Apim-Subscription-Key")
		f.language = r.URL.Query().Get("language")
		f.mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		send := func(path, body string) {
			msg := "X-RequestId:abc\r\nContent-Type:application/json\r\nPath:" + path + "\r\n\r\n" + body
			_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		}
		started := false
		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if mt == websocket.TextMessage {
				if in, err := parseTextMessage(data); err == nil && in.Path == pathSpeechConfig {
					f.mu.Lock()
					f.configs++
					f.mu.Unlock()
				}
				continue
			}
			_, payload, err := parseAudioMessage(data)
			if err != nil {
				t.Errorf("bad audio message: %v", err)
				return
			}
			if len(payload) == 0 {
				f.mu.Lock()
				f.endSeen = true
				status, text := f.status, f.phraseFor
				f.mu.Unlock()
				if status == "" {
					status = statusSuccess
				}
				send(pathPhrase, `{"RecognitionStatus":"`+status+`","DisplayText":"`+text+`","Offset":0,"Duration":100}`)
				send(pathTurnEnd, `{}`)
				continue
			}
			f.mu.Lock()
			f.payloads = append(f.payloads, payload)
			endTurn := f.endFirstTurn && f.turnEnds == 0
			if endTurn {
				f.turnEnds++
			}
			f.mu.Unlock()
			if endTurn {
				send(pathTurnEnd, `{}`)
			}
			if !started {
				started = true
				send(pathTurnStart, `{"context":{"serviceTag":"tag"}}`)
				send(pathHypothesis, `{"Text":"hel","Offset":0,"Duration":10}`)
			}
		}
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func collect(t *testing.T, s stt.Stream) []stt.Event {
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

func TestOpenWithoutCredentialsFailsFast(t *testing.T) {
	t.Setenv(EnvKey, "")
	t.Setenv(EnvRegion, "")
	p := New(Config{})
	_, err := p.Open(context.Background(), DefaultFormat())
	if err == nil {
		t.Fatalf("expected error")
	}
	if !strings.Contains(err.Error(), "Missing Microsoft Speech credentials") {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if !strings.Contains(err.Error(), EnvKey) || !strings.Contains(err.Error(), EnvRegion) {
		t.Fatalf("expected both variables named, got %q", err.Error())
	}
	if !errorsx.HasReason(err, errorsx.ReasonMissingCredentials) || !stt.IsMissingCredentials(err) {
		t.Fatalf("expected missing_credentials, got %s", errorsx.Reason(err))
	}
}

func TestCredentialsFallBackToEnvironment(t *testing.T) {
	t.Setenv(EnvKey, "env-key")
	t.Setenv(EnvRegion, "eastus")
	p := New(Config{})
	if p.cfg.Key != "env-key" || p.cfg.Region != "eastus" || p.cfg.Language != DefaultLanguage {
		t.Fatalf("unexpected config %+v", p.cfg)
	}
	u, err := p.cfg.url()
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	if !strings.HasPrefix(u, "wss://eastus.stt.speech.microsoft.com/speech/recognition/conversation/cognitiveservices/v1?") {
		t.Fatalf("unexpected url %s", u)
	}
	if !strings.Contains(u, "language=en-IN") {
		t.Fatalf("expected language in url %s", u)
	}
}

func TestStreamsAudioAndNormalizesResults(t *testing.T) {
	svc := &fakeService{phraseFor: "hello world"}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	p := New(Config{Key: "test-key", Endpoint: wsURL(srv), Interim: true, StopTimeout: 2 * time.Second})
	s, err := p.Open(context.Background(), DefaultFormat())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	for _, chunk := range [][]byte{{0x00, 0x00}, {0x00, 0x01}, {0x00, 0x02}} {
		if err := s.PushAudio(chunk); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	_ = s.Close()
	if err := s.PushAudio([]byte{1}); err != stt.ErrStreamClosed {
		t.Fatalf("expected ErrStreamClosed, got %v", err)
	}

	evts := collect(t, s)
	var kinds []string
	for _, e := range evts {
		kinds = append(kinds, string(e.Kind))
	}
	if got := strings.Join(kinds, ","); got != "ready,transcript,transcript,closed" {
		t.Fatalf("unexpected events %s", got)
	}
	if evts[1].Final || evts[1].Text != "hel" {
		t.Fatalf("expected partial hypothesis, got %+v", evts[1])
	}
	if !evts[2].Final || evts[2].Text != "hello world" {
		t.Fatalf("expected final phrase, got %+v", evts[2])
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.key != "test-key" || svc.language != "en-IN" || svc.configs != 1 || !svc.endSeen {
		t.Fatalf("unexpected service view %+v", svc)
	}
	header, _ := audio.WAVHeader(DefaultFormat())
	var got []byte
	for _, p := range svc.payloads {
		got = append(got, p...)
	}
	want := append(append([]byte(nil), header...), 0x00, 0x00, 0x00, 0x01, 0x00, 0x02)
	if !bytes.Equal(got, want) {
		t.Fatalf("unexpected audio bytes\n got %v\nwant %v", got, want)
	}
	if !bytes.HasPrefix(svc.payloads[0], []byte("RIFF")) {
		t.Fatalf("first audio message must carry the WAV header")
	}
}

func TestServiceTurnEndMidStreamStartsNewTurn(t *testing.T) {
	svc := &fakeService{phraseFor: "still listening", endFirstTurn: true}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	p := New(Config{Key: "k", Endpoint: wsURL(srv), StopTimeout: 2 * time.Second})
	st, err := p.Open(context.Background(), DefaultFormat())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	s := st.(*Stream)
	if err := s.PushAudio([]byte{0x00, 0x01}); err != nil {
		t.Fatalf("push: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for len(s.restart) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(s.restart) == 0 {
		t.Fatalf("service turn.end was not observed")
	}
	if err := s.PushAudio([]byte{0x00, 0x02}); err != nil {
		t.Fatalf("push after service turn.end: %v", err)
	}
	_ = s.Close()

	evts := collect(t, s)
	var kinds []string
	for _, e := range evts {
		kinds = append(kinds, string(e.Kind))
	}
	if got := strings.Join(kinds, ","); got != "ready,transcript,closed" {
		t.Fatalf("unexpected events %s", got)
	}
	if evts[1].Text != "still listening" || !evts[1].Final {
		t.Fatalf("unexpected transcript %+v", evts[1])
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.configs != 2 || !svc.endSeen || len(svc.payloads) != 2 {
		t.Fatalf("expected a second turn, got configs=%d payloads=%d end=%v", svc.configs, len(svc.payloads), svc.endSeen)
	}
	for i, want := range [][]byte{{0x00, 0x01}, {0x00, 0x02}} {
		if !bytes.HasPrefix(svc.payloads[i], []byte("RIFF")) || !bytes.HasSuffix(svc.payloads[i], want) {
			t.Fatalf("payload %d must be a fresh WAV turn ending in %v, got %v", i, want, svc.payloads[i])
		}
	}
}

func TestHypothesesSuppressedWithoutInterim(t *testing.T) {
	svc := &fakeService{phraseFor: "final only"}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	p := New(Config{Key: "k", Endpoint: wsURL(srv)})
	s, err := p.Open(context.Background(), DefaultFormat())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = s.PushAudio([]byte{0x01, 0x02})
	_ = s.Close()
	for _, e := range collect(t, s) {
		if e.Kind == stt.EventTranscript && !e.Final {
			t.Fatalf("unexpected partial transcript %+v", e)
		}
	}
}

func TestRecognitionErrorStatusEmitsError(t *testing.T) {
	svc := &fakeService{status: statusError}
	srv := httptest.NewServer(svc.handler(t))
	defer srv.Close()

	p := New(Config{Key: "k", Endpoint: wsURL(srv)})
	s, _ := p.Open(context.Background(), DefaultFormat())
	_ = s.PushAudio([]byte{0x01})
	_ = s.Close()
	var sawError bool
	for _, e := range collect(t, s) {
		if e.Kind == stt.EventError && strings.Contains(e.Detail, "recognition canceled") {
			sawError = true
		}
	}
	if !sawError {
		t.Fatalf("expected error event")
	}
}

func TestDialFailureEmitsErrorThenClosed(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := wsURL(srv)
	srv.Close()

	p := New(Config{Key: "k", Endpoint: endpoint, DialRetries: 1, DialBackoff: time.Millisecond})
	s, err := p.Open(context.Background(), DefaultFormat())
	if err != nil {
		t.Fatalf("open must not dial synchronously: %v", err)
	}
	evts := collect(t, s)
	if len(evts) != 2 || evts[0].Kind != stt.EventError || evts[1].Kind != stt.EventClosed {
		t.Fatalf("unexpected events %+v", evts)
	}
	if err := s.PushAudio([]byte{1}); err != stt.ErrStreamClosed {
		t.Fatalf("expected ErrStreamClosed after failed connect, got %v", err)
	}
	_ = s.Close()
}

func TestAudioMessageFraming(t *testing.T) {
	msg, err := audioMessage("req1", []byte{9, 8, 7})
	if err != nil {
		t.Fatalf("frame: %v", err)
	}
	headers, payload, err := parseAudioMessage(msg)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if headers["path"] != "audio" || headers["x-requestid"] != "req1" || headers["content-type"] != "audio/x-wav" {
		t.Fatalf("unexpected headers %v", headers)
	}
	if !bytes.Equal(payload, []byte{9, 8, 7}) {
		t.Fatalf("unexpected payload %v", payload)
	}
	if _, _, err := parseAudioMessage([]byte{0x00}); err == nil {
		t.Fatalf("expected short message error")
	}
}

func TestParseTextMessage(t *testing.T) {
	in, err := parseTextMessage([]byte("X-RequestId:1\r\nPath: speech.phrase\r\n\r\n{\"DisplayText\":\"x\"}"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if in.Path != pathPhrase || string(in.Body) != `{"DisplayText":"x"}` {
		t.Fatalf("unexpected message %+v", in)
	}
	if _, err := parseTextMessage([]byte("Path: turn.end")); err == nil {
		t.Fatalf("expected missing separator error")
	}
	if _, err := parseTextMessage([]byte("X-RequestId:1\r\n\r\n{}")); err == nil {
		t.Fatalf("expected missing path error")
	}
}
