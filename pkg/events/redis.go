package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/harunnryd/siprtc-bridge/pkg/errorsx"
	"github.com/harunnryd/siprtc-bridge/pkg/redact"
	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel template; %s is the session ID.
const DefaultChannel = "siprtc:session:%s:events"

// RedisSink publishes every record as JSON on a per-session channel.
type RedisSink struct {
	client  *redis.Client
	channel string
}

func NewRedisSink(client *redis.Client, channel string) *RedisSink {
	if strings.TrimSpace(channel) == "" {
		channel = DefaultChannel
	}
	return &RedisSink{client: client, channel: channel}
}

// Channel returns the channel name used for a session.
func (s *RedisSink) Channel(sessionID string) string {
	if !strings.Contains(s.channel, "%s") {
		return s.channel
	}
	return fmt.Sprintf(s.channel, sessionID)
}

func (s *RedisSink) Publish(ctx context.Context, rec Record) error {
	rec.Text = redact.Text(rec.Text)
	data, err := json.Marshal(rec)
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("marshal event: %w", err), errorsx.ReasonEventsPublish)
	}
	if err := s.client.Publish(ctx, s.Channel(rec.SessionID), data).Err(); err != nil {
		return errorsx.Wrap(fmt.Errorf("publish event: %w", err), errorsx.ReasonEventsPublish)
	}
	return nil
}

// Ping checks the connection to the server.
func (s *RedisSink) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errorsx.Wrap(fmt.Errorf("redis ping: %w", err), errorsx.ReasonEventsPublish)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}
