package events

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/harunnryd/siprtc-bridge/pkg/adapters/stt"
	"github.com/harunnryd/siprtc-bridge/pkg/errorsx"
	"github.com/harunnryd/siprtc-bridge/pkg/redact"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return client, mr
}

func TestRedisSinkPublishesJSON(t *testing.T) {
	client, _ := newTestRedis(t)
	sink := NewRedisSink(client, "")

	ctx := context.Background()
	sub := client.Subscribe(ctx, sink.Channel("sess-1"))
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	rec := FromEvent("sess-1", "deepgram", stt.Event{Kind: stt.EventTranscript, Text: "hello world", Final: true, Time: time.Now()})
	if err := sink.Publish(ctx, rec); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-sub.Channel():
		if msg.Channel != "siprtc:session:sess-1:events" {
			t.Fatalf("unexpected channel %s", msg.Channel)
		}
		var got Record
		if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Kind != "transcript" || got.Text != "hello world" || !got.Final || got.Provider != "deepgram" {
			t.Fatalf("unexpected record %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for message")
	}
}

func TestRedisSinkPublishFailureIsReasoned(t *testing.T) {
	client, mr := newTestRedis(t)
	sink := NewRedisSink(client, "transcripts")
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := sink.Publish(ctx, Record{SessionID: "s", Kind: "ready"})
	if err == nil {
		t.Fatalf("expected publish error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonEventsPublish) {
		t.Fatalf("expected events_publish reason, got %s", errorsx.Reason(err))
	}
	if sink.Channel("s") != "transcripts" {
		t.Fatalf("static channel must not be formatted")
	}
}

func TestLogSinkRedactsTranscripts(t *testing.T) {
	redact.SetEnabled(true)
	defer redact.SetEnabled(false)

	var buf bytes.Buffer
	sink := NewLogSink(slog.New(slog.NewTextHandler(&buf, nil)))
	_ = sink.Publish(context.Background(), Record{SessionID: "s", Provider: "microsoft", Kind: "transcript", Text: "mail me at a@b.com", Final: true})
	out := buf.String()
	if strings.Contains(out, "a@b.com") || !strings.Contains(out, "[email]") {
		t.Fatalf("expected redacted transcript, got %q", out)
	}
	if !strings.Contains(out, "msg=transcript") {
		t.Fatalf("expected transcript log, got %q", out)
	}
}

type failingSink struct{ err error }

func (f failingSink) Publish(context.Context, Record) error { return f.err }

type countingSink struct{ n int }

func (c *countingSink) Publish(context.Context, Record) error {
	c.n++
	return nil
}

func TestMultiSinkContinuesPastErrors(t *testing.T) {
	boom := errors.New("boom")
	counter := &countingSink{}
	m := NewMultiSink(failingSink{err: boom}, nil, counter, NewLogSink(slog.New(slog.NewTextHandler(io.Discard, nil))))
	err := m.Publish(context.Background(), Record{Kind: "ready"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if counter.n != 1 {
		t.Fatalf("expected later sinks to still run")
	}
}
